package api

import (
	"fmt"
	"sync"
	"time"

	"github.com/cdduran/percepsim/internal/slogging"
)

// Session tracks one live WebSocket connection and its identity.
type Session struct {
	// Transport-level connection identifier, unique while the session lives
	ID string
	// Server-assigned identifier for the connection
	UserID string
	// Client-announced identity; empty until the announce message arrives
	CustomID string
	// Free-form descriptive fields supplied by the client
	ClientInfo map[string]any
	// Connection metadata captured at upgrade time
	RemoteAddr string
	UserAgent  string
	// Immutable once set
	ConnectedAt time.Time
	// Updated on every inbound event
	LastSeenAt time.Time
}

// DisplayID returns the identity shown to other users, abbreviated to eight
// characters the way the rest of the UI expects it.
func (s *Session) DisplayID() string {
	id := s.CustomID
	if id == "" {
		id = s.UserID
	}
	return abbreviateID(id)
}

// abbreviateID truncates an identity to eight characters. Identities are
// client-supplied, so the cut has to land on a rune boundary.
func abbreviateID(id string) string {
	runes := []rune(id)
	if len(runes) > 8 {
		return string(runes[:8])
	}
	return id
}

// PresenceEntry is one row of a presence snapshot.
type PresenceEntry struct {
	ID          string    `json:"id"`
	ConnectTime time.Time `json:"connectTime"`
}

// throttleKey composes the per-session, per-kind rate limiter key.
type throttleKey struct {
	sessionID string
	kind      string
}

// SessionRegistry is the authoritative in-memory record of live connections.
// The throttle table lives behind the same mutex so that deregistering a
// session and dropping its throttle keys is one atomic step.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	// Insertion order of live session IDs; snapshots preserve it
	order    []string
	lastEmit map[throttleKey]time.Time

	// Injectable clock for tests
	now func() time.Time
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		lastEmit: make(map[throttleKey]time.Time),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register inserts a new session. A duplicate session ID is a programming
// error in the transport layer, not a runtime condition to recover from.
func (r *SessionRegistry) Register(sessionID, userID, remoteAddr, userAgent string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; ok {
		return nil, fmt.Errorf("session %s already registered", sessionID)
	}

	now := r.now()
	session := &Session{
		ID:          sessionID,
		UserID:      userID,
		RemoteAddr:  remoteAddr,
		UserAgent:   userAgent,
		ConnectedAt: now,
		LastSeenAt:  now,
	}
	r.sessions[sessionID] = session
	r.order = append(r.order, sessionID)

	return session, nil
}

// Touch updates the session's last-seen timestamp. Events can legitimately
// arrive for a session that was just evicted, so an unknown ID only warns.
func (r *SessionRegistry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		slogging.Get().Warn("Touch for unknown session %s (evicted before event arrived?)", sessionID)
		return
	}
	session.LastSeenAt = r.now()
}

// Annotate merges the client-announced identity and metadata into an existing
// session. Late or duplicate announce messages for a gone session are
// tolerated silently.
func (r *SessionRegistry) Annotate(sessionID, customID string, clientInfo map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	if customID != "" {
		session.CustomID = customID
	}
	if clientInfo != nil {
		if session.ClientInfo == nil {
			session.ClientInfo = make(map[string]any, len(clientInfo))
		}
		for k, v := range clientInfo {
			session.ClientInfo[k] = v
		}
	}
	session.LastSeenAt = r.now()
}

// Deregister removes and returns the session along with every throttle key it
// owned. Deregistering an absent session is a no-op.
func (r *SessionRegistry) Deregister(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	delete(r.sessions, sessionID)

	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	// Throttle keys must not outlive their session
	for key := range r.lastEmit {
		if key.sessionID == sessionID {
			delete(r.lastEmit, key)
		}
	}

	return session, true
}

// Get returns the session for an ID, or nil.
func (r *SessionRegistry) Get(sessionID string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the presence list in registration order. The result is a
// fresh copy; callers never see internal state.
func (r *SessionRegistry) Snapshot() []PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]PresenceEntry, 0, len(r.order))
	for _, id := range r.order {
		session, ok := r.sessions[id]
		if !ok {
			continue
		}
		entries = append(entries, PresenceEntry{
			ID:          session.DisplayID(),
			ConnectTime: session.ConnectedAt,
		})
	}
	return entries
}

// Staleness returns each live session's ID and last-seen timestamp, for the
// reconciliation sweep.
func (r *SessionRegistry) Staleness() map[string]time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]time.Time, len(r.sessions))
	for id, session := range r.sessions {
		seen[id] = session.LastSeenAt
	}
	return seen
}

// ShouldAdmit decides whether a (session, kind) event may pass given the
// minimum interval between admissions. The first event for a key is always
// admitted; an admission records the new timestamp. Events for a session no
// longer in the registry are dropped without recording anything, so a late
// frame racing an eviction cannot recreate a throttle key for a dead session.
func (r *SessionRegistry) ShouldAdmit(sessionID, kind string, minInterval time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return false
	}

	key := throttleKey{sessionID: sessionID, kind: kind}
	now := r.now()

	if last, ok := r.lastEmit[key]; ok && now.Sub(last) < minInterval {
		return false
	}
	r.lastEmit[key] = now
	return true
}

// ThrottleKeyCount reports the number of live throttle keys for a session.
func (r *SessionRegistry) ThrottleKeyCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for key := range r.lastEmit {
		if key.sessionID == sessionID {
			n++
		}
	}
	return n
}
