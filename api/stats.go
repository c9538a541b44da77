package api

import (
	"sync"
	"time"
)

// historySize bounds the connection-count history to roughly a day of
// per-bucket samples.
const historySize = 24

// HistoryPoint is one sample of the live connection count.
type HistoryPoint struct {
	Time      string    `json:"time"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// UserStatsData is the stats payload sent to clients.
type UserStatsData struct {
	Current  int              `json:"current"`
	Today    int              `json:"today"`
	Total    int              `json:"total"`
	History  []HistoryPoint   `json:"history"`
	Activity []ActivityRecord `json:"activity"`
}

// StatsTracker accumulates connection statistics for the process lifetime.
type StatsTracker struct {
	mu         sync.Mutex
	todayCount int
	todayDate  string
	uniqueIDs  map[string]struct{}
	history    []HistoryPoint

	now func() time.Time
}

// NewStatsTracker creates an empty tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{
		uniqueIDs: make(map[string]struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RecordConnect counts a new connection for today's total and the unique set.
func (t *StatsTracker) RecordConnect(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	day := t.now().Format("2006-01-02")
	if day != t.todayDate {
		t.todayDate = day
		t.todayCount = 0
	}
	t.todayCount++
	t.uniqueIDs[userID] = struct{}{}
}

// UpdateHistory records the current live count under a minute-resolution
// label, replacing the sample for the same label if one exists.
func (t *StatsTracker) UpdateHistory(current int) []HistoryPoint {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	label := now.Format("15:04")

	for i := range t.history {
		if t.history[i].Time == label {
			t.history[i].Count = current
			return t.copyHistoryLocked()
		}
	}

	t.history = append(t.history, HistoryPoint{
		Time:      label,
		Count:     current,
		Timestamp: now,
	})
	if len(t.history) > historySize {
		t.history = t.history[len(t.history)-historySize:]
	}
	return t.copyHistoryLocked()
}

// History returns a copy of the samples.
func (t *StatsTracker) History() []HistoryPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.copyHistoryLocked()
}

func (t *StatsTracker) copyHistoryLocked() []HistoryPoint {
	out := make([]HistoryPoint, len(t.history))
	copy(out, t.history)
	return out
}

// Today returns the number of connections seen today.
func (t *StatsTracker) Today() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.todayCount
}

// TotalUnique returns the number of distinct user IDs seen since start.
func (t *StatsTracker) TotalUnique() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.uniqueIDs)
}
