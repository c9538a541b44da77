package api

import (
	"encoding/json"
	"time"

	"github.com/cdduran/percepsim/internal/slogging"
)

// RecipientScope selects who receives an outbound message.
type RecipientScope int

const (
	// ScopeAll delivers to every live session
	ScopeAll RecipientScope = iota
	// ScopeOthers delivers to every live session except the origin
	ScopeOthers
	// ScopeOrigin delivers to the originating session only
	ScopeOrigin
)

// Outbound pairs a wire message with its recipient set. Delivery order per
// recipient follows the order outbounds are returned.
type Outbound struct {
	Scope   RecipientScope
	Origin  string
	Message Envelope
}

// RouterConfig holds the throttle intervals applied to continuous input.
type RouterConfig struct {
	// Gate between raw slider events and local processing
	SliderAdmitInterval time.Duration
	// Coarser gate between admitted slider events and the activity broadcast
	ActivityBroadcastInterval time.Duration
	// Coarsest gate for the state-update broadcast
	StateBroadcastInterval time.Duration
}

// DefaultRouterConfig mirrors the intervals the browser client was tuned for.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		SliderAdmitInterval:       300 * time.Millisecond,
		ActivityBroadcastInterval: 1 * time.Second,
		StateBroadcastInterval:    2 * time.Second,
	}
}

// BroadcastRouter translates inbound session events into registry mutations
// and an explicit list of outbound messages. It owns no transport; the hub
// performs delivery.
type BroadcastRouter struct {
	registry *SessionRegistry
	activity *ActivityLog
	stats    *StatsTracker
	cfg      RouterConfig

	now func() time.Time
}

// NewBroadcastRouter wires a router over the shared registry, activity feed
// and stats tracker.
func NewBroadcastRouter(registry *SessionRegistry, activity *ActivityLog, stats *StatsTracker, cfg RouterConfig) *BroadcastRouter {
	if cfg.SliderAdmitInterval <= 0 {
		cfg = DefaultRouterConfig()
	}
	return &BroadcastRouter{
		registry: registry,
		activity: activity,
		stats:    stats,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleConnect produces the fan-out for a freshly registered session: the
// private acknowledgment, the presence refresh for everyone, and the initial
// stats for the new client.
func (br *BroadcastRouter) HandleConnect(session *Session) []Outbound {
	br.stats.RecordConnect(session.UserID)
	metricLiveSessions.Set(float64(br.registry.Count()))

	br.activity.Append(ActivityRecord{
		Type:      "connect",
		UserID:    session.DisplayID(),
		Time:      session.ConnectedAt.Format("15:04"),
		Timestamp: session.ConnectedAt,
	})

	history := br.stats.UpdateHistory(br.registry.Count())

	outs := []Outbound{
		{
			Scope:  ScopeOrigin,
			Origin: session.ID,
			Message: Envelope{Event: EventConnectionStatus, Data: ConnectionStatusData{
				Connected: true,
				SocketID:  session.ID,
				UserID:    session.UserID,
			}},
		},
	}
	outs = append(outs, br.presenceOutbounds()...)
	outs = append(outs,
		Outbound{Scope: ScopeOrigin, Origin: session.ID, Message: Envelope{Event: EventUserStats, Data: br.statsData()}},
		Outbound{Scope: ScopeAll, Message: Envelope{Event: EventUserHistory, Data: history}},
	)
	return outs
}

// Dispatch routes one decoded inbound event. Unknown events and malformed
// payloads are dropped with a debug log; they never disturb the registry.
func (br *BroadcastRouter) Dispatch(ev InboundEvent) []Outbound {
	br.registry.Touch(ev.SessionID)

	switch ev.Kind {
	case EventAnnounce:
		return br.handleAnnounce(ev)
	case EventUserAction:
		return br.handleUserAction(ev)
	case EventSliderSync:
		return br.handleSliderSync(ev)
	case EventPing:
		return []Outbound{{
			Scope:  ScopeOrigin,
			Origin: ev.SessionID,
			Message: Envelope{Event: EventPong, Data: PongData{
				Timestamp:   br.now(),
				ActiveUsers: br.registry.Count(),
			}},
		}}
	case EventRequestUserStats:
		return []Outbound{
			{Scope: ScopeOrigin, Origin: ev.SessionID, Message: Envelope{Event: EventUserStats, Data: br.statsData()}},
			{Scope: ScopeOrigin, Origin: ev.SessionID, Message: Envelope{Event: EventActiveUsers, Data: br.registry.Snapshot()}},
		}
	case EventRequestActiveUsers:
		return []Outbound{
			{Scope: ScopeOrigin, Origin: ev.SessionID, Message: Envelope{Event: EventActiveUsers, Data: br.registry.Snapshot()}},
		}
	case EventRequestHistory:
		return []Outbound{
			{Scope: ScopeOrigin, Origin: ev.SessionID, Message: Envelope{Event: EventUserHistory, Data: br.stats.History()}},
		}
	case EventUserLeaving:
		var payload LeavingPayload
		_ = json.Unmarshal(ev.Payload, &payload)
		slogging.Get().Info("Session %s announced it is leaving (user %s)", ev.SessionID, payload.UserID)
		return nil
	default:
		slogging.Get().Debug("Dropping unknown event %q from session %s", ev.Kind, ev.SessionID)
		return nil
	}
}

// HandleDisconnect removes the session, drops its throttle keys, records the
// disconnect and refreshes presence for everyone left.
func (br *BroadcastRouter) HandleDisconnect(sessionID, reason string) []Outbound {
	session, ok := br.registry.Deregister(sessionID)
	if !ok {
		// Already evicted; nothing to announce
		return nil
	}
	metricLiveSessions.Set(float64(br.registry.Count()))

	now := br.now()
	br.activity.Append(ActivityRecord{
		Type:      "disconnect",
		UserID:    session.DisplayID(),
		Time:      now.Format("15:04"),
		Timestamp: now,
		Reason:    reason,
	})

	history := br.stats.UpdateHistory(br.registry.Count())

	outs := br.presenceOutbounds()
	outs = append(outs, Outbound{Scope: ScopeAll, Message: Envelope{Event: EventUserHistory, Data: history}})
	return outs
}

// PresenceRefresh re-broadcasts the authoritative count and snapshot. The
// reconciler uses it on its refresh cadence.
func (br *BroadcastRouter) PresenceRefresh() []Outbound {
	return br.presenceOutbounds()
}

func (br *BroadcastRouter) handleAnnounce(ev InboundEvent) []Outbound {
	var payload AnnouncePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		slogging.Get().Debug("Malformed announce from session %s: %v", ev.SessionID, err)
		return nil
	}
	if payload.UserID == "" {
		return nil
	}

	br.registry.Annotate(ev.SessionID, payload.UserID, payload.ClientInfo)

	// Labels changed; everyone gets the fresh snapshot
	return []Outbound{
		{Scope: ScopeAll, Message: Envelope{Event: EventActiveUsers, Data: br.registry.Snapshot()}},
	}
}

func (br *BroadcastRouter) handleUserAction(ev InboundEvent) []Outbound {
	var payload UserActionPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		slogging.Get().Debug("Malformed user action from session %s: %v", ev.SessionID, err)
		return nil
	}
	if payload.Type == "" {
		payload.Type = "action"
	}

	continuous := payload.Type == ActionSlider
	if continuous && !br.registry.ShouldAdmit(ev.SessionID, throttleKindSliderAdmit, br.cfg.SliderAdmitInterval) {
		metricEventsThrottled.Inc()
		return nil
	}
	metricEventsAdmitted.Inc()

	actor := payload.UserID
	if actor == "" {
		if session := br.registry.Get(ev.SessionID); session != nil {
			actor = session.DisplayID()
		}
	} else {
		actor = abbreviateID(actor)
	}

	now := br.now()
	record := ActivityRecord{
		Type:      payload.Type,
		UserID:    actor,
		Time:      payload.Time,
		Timestamp: now,
		Data:      payload.Payload,
	}
	if record.Time == "" {
		record.Time = now.Format("15:04")
	}
	br.activity.Append(record)

	var outs []Outbound

	// Continuous input is rebroadcast on a coarser cadence and never echoed
	// back to its origin; discrete actions always go out to everyone.
	if continuous {
		if br.registry.ShouldAdmit(ev.SessionID, throttleKindSliderBroadcast, br.cfg.ActivityBroadcastInterval) {
			outs = append(outs, Outbound{Scope: ScopeOthers, Origin: ev.SessionID, Message: Envelope{Event: EventUserActivity, Data: record}})
		}
		if br.registry.ShouldAdmit(ev.SessionID, throttleKindStateUpdate, br.cfg.StateBroadcastInterval) {
			outs = append(outs, Outbound{Scope: ScopeOthers, Origin: ev.SessionID, Message: Envelope{Event: EventStateUpdate, Data: StateUpdateData{
				Type:      "userAction",
				Data:      record,
				Timestamp: now,
			}}})
		}
	} else {
		outs = append(outs,
			Outbound{Scope: ScopeAll, Message: Envelope{Event: EventUserActivity, Data: record}},
			Outbound{Scope: ScopeAll, Message: Envelope{Event: EventStateUpdate, Data: StateUpdateData{
				Type:      "userAction",
				Data:      record,
				Timestamp: now,
			}}},
		)
	}
	return outs
}

// handleSliderSync treats the full-state drag synchronization stream exactly
// like a slider user action but with the simulation values attached.
func (br *BroadcastRouter) handleSliderSync(ev InboundEvent) []Outbound {
	var payload SliderSyncPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		slogging.Get().Debug("Malformed slider sync from session %s: %v", ev.SessionID, err)
		return nil
	}

	if !br.registry.ShouldAdmit(ev.SessionID, throttleKindSliderAdmit, br.cfg.SliderAdmitInterval) {
		metricEventsThrottled.Inc()
		return nil
	}
	metricEventsAdmitted.Inc()

	actor := payload.UserID
	if actor == "" {
		if session := br.registry.Get(ev.SessionID); session != nil {
			actor = session.DisplayID()
		}
	} else {
		actor = abbreviateID(actor)
	}

	now := br.now()
	data := map[string]any{"perception": payload.Perception}
	for k, v := range payload.Actions {
		data[k] = v
	}
	record := ActivityRecord{
		Type:      ActionSlider,
		UserID:    actor,
		Time:      now.Format("15:04"),
		Timestamp: now,
		Data:      data,
	}
	br.activity.Append(record)

	if !br.registry.ShouldAdmit(ev.SessionID, throttleKindSliderBroadcast, br.cfg.ActivityBroadcastInterval) {
		return nil
	}
	return []Outbound{
		{Scope: ScopeOthers, Origin: ev.SessionID, Message: Envelope{Event: EventUserActivity, Data: record}},
	}
}

func (br *BroadcastRouter) presenceOutbounds() []Outbound {
	return []Outbound{
		{Scope: ScopeAll, Message: Envelope{Event: EventUserCount, Data: br.registry.Count()}},
		{Scope: ScopeAll, Message: Envelope{Event: EventActiveUsers, Data: br.registry.Snapshot()}},
	}
}

func (br *BroadcastRouter) statsData() UserStatsData {
	return UserStatsData{
		Current:  br.registry.Count(),
		Today:    br.stats.Today(),
		Total:    br.stats.TotalUnique(),
		History:  br.stats.History(),
		Activity: br.activity.Recent(),
	}
}
