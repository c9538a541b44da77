package api

import (
	"sync"
	"time"
)

// ActivityRecord is one entry of the recent-actions feed. Records outlive the
// session that produced them.
type ActivityRecord struct {
	Type      string         `json:"type"`
	UserID    string         `json:"userId"`
	Time      string         `json:"time,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Reason    string         `json:"reason,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ActivityLog is a bounded ring of recent user actions, newest first.
type ActivityLog struct {
	mu       sync.RWMutex
	records  []ActivityRecord
	capacity int
}

// NewActivityLog creates an activity log holding at most capacity records.
func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = 50
	}
	return &ActivityLog{
		records:  make([]ActivityRecord, 0, capacity),
		capacity: capacity,
	}
}

// Append prepends a record, evicting the oldest when the ring is full.
func (l *ActivityLog) Append(record ActivityRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append([]ActivityRecord{record}, l.records...)
	if len(l.records) > l.capacity {
		l.records = l.records[:l.capacity]
	}
}

// Recent returns a copy of the feed, newest first.
func (l *ActivityLog) Recent() []ActivityRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ActivityRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of retained records.
func (l *ActivityLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Capacity returns the configured ring size.
func (l *ActivityLog) Capacity() int {
	return l.capacity
}
