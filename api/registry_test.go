package api

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance registry time deterministically.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestRegistry(clock *fakeClock) *SessionRegistry {
	r := NewSessionRegistry()
	r.now = clock.Now
	return r
}

func TestSessionRegistry_Register(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)

	t.Run("Success", func(t *testing.T) {
		session, err := r.Register("s1", "u1", "10.0.0.1", "test-agent")
		require.NoError(t, err)
		assert.Equal(t, "s1", session.ID)
		assert.Equal(t, "u1", session.UserID)
		assert.Equal(t, clock.Now(), session.ConnectedAt)
		assert.Equal(t, 1, r.Count())
	})

	t.Run("DuplicateID", func(t *testing.T) {
		_, err := r.Register("s1", "u2", "10.0.0.2", "test-agent")
		assert.Error(t, err)
		assert.Equal(t, 1, r.Count())
	})
}

func TestSessionRegistry_SnapshotOrder(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)

	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := r.Register(id, "user-"+id, "", "")
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "user-s1", snapshot[0].ID)
	assert.Equal(t, "user-s2", snapshot[1].ID)
	assert.Equal(t, "user-s3", snapshot[2].ID)

	// Removal keeps the relative order of the survivors
	_, ok := r.Deregister("s2")
	require.True(t, ok)
	snapshot = r.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "user-s1", snapshot[0].ID)
	assert.Equal(t, "user-s3", snapshot[1].ID)
}

func TestSessionRegistry_Annotate(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)

	_, err := r.Register("s1", "0123456789abcdef", "", "")
	require.NoError(t, err)

	t.Run("ServerIDAbbreviatedBeforeAnnounce", func(t *testing.T) {
		assert.Equal(t, "01234567", r.Get("s1").DisplayID())
	})

	t.Run("AnnouncedIdentityWins", func(t *testing.T) {
		r.Annotate("s1", "ada", map[string]any{"room": "lab-2"})
		session := r.Get("s1")
		assert.Equal(t, "ada", session.DisplayID())
		assert.Equal(t, "lab-2", session.ClientInfo["room"])
	})

	t.Run("LongAnnouncedIdentityAbbreviated", func(t *testing.T) {
		r.Annotate("s1", "a-very-long-handle", nil)
		assert.Equal(t, "a-very-l", r.Get("s1").DisplayID())
	})

	t.Run("MultiByteIdentityAbbreviatedOnRuneBoundary", func(t *testing.T) {
		r.Annotate("s1", "参加者その一番目です", nil)
		display := r.Get("s1").DisplayID()
		assert.Equal(t, "参加者その一番目", display)
		assert.True(t, utf8.ValidString(display))
	})

	t.Run("UnknownSessionIgnored", func(t *testing.T) {
		r.Annotate("ghost", "x", nil)
		assert.Equal(t, 1, r.Count())
	})
}

func TestSessionRegistry_Touch(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)

	_, err := r.Register("s1", "u1", "", "")
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	r.Touch("s1")

	assert.Equal(t, clock.Now(), r.Staleness()["s1"])

	// Touching an evicted session must not resurrect it
	r.Touch("gone")
	assert.Equal(t, 1, r.Count())
}

func TestSessionRegistry_ShouldAdmit(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)

	_, err := r.Register("s1", "u1", "", "")
	require.NoError(t, err)

	interval := 300 * time.Millisecond

	t.Run("FirstEventAlwaysAdmitted", func(t *testing.T) {
		assert.True(t, r.ShouldAdmit("s1", throttleKindSliderAdmit, interval))
	})

	t.Run("WithinIntervalDenied", func(t *testing.T) {
		clock.Advance(100 * time.Millisecond)
		assert.False(t, r.ShouldAdmit("s1", throttleKindSliderAdmit, interval))
		clock.Advance(100 * time.Millisecond)
		assert.False(t, r.ShouldAdmit("s1", throttleKindSliderAdmit, interval))
	})

	t.Run("AfterIntervalAdmitted", func(t *testing.T) {
		clock.Advance(interval)
		assert.True(t, r.ShouldAdmit("s1", throttleKindSliderAdmit, interval))
	})

	t.Run("KindsAreIndependent", func(t *testing.T) {
		assert.True(t, r.ShouldAdmit("s1", throttleKindStateUpdate, 2*time.Second))
	})

	t.Run("SessionsAreIndependent", func(t *testing.T) {
		_, err := r.Register("s2", "u2", "", "")
		require.NoError(t, err)
		assert.True(t, r.ShouldAdmit("s2", throttleKindSliderAdmit, interval))
	})

	t.Run("DenialDoesNotResetWindow", func(t *testing.T) {
		clock.Advance(interval)
		assert.True(t, r.ShouldAdmit("s1", throttleKindSliderAdmit, interval))
		clock.Advance(200 * time.Millisecond)
		assert.False(t, r.ShouldAdmit("s1", throttleKindSliderAdmit, interval))
		clock.Advance(100 * time.Millisecond)
		assert.True(t, r.ShouldAdmit("s1", throttleKindSliderAdmit, interval))
	})
}

func TestSessionRegistry_DeregisterDropsThrottleKeys(t *testing.T) {
	clock := newFakeClock()
	r := newTestRegistry(clock)

	_, err := r.Register("s1", "u1", "", "")
	require.NoError(t, err)
	_, err = r.Register("s2", "u2", "", "")
	require.NoError(t, err)

	r.ShouldAdmit("s1", throttleKindSliderAdmit, time.Second)
	r.ShouldAdmit("s1", throttleKindSliderBroadcast, time.Second)
	r.ShouldAdmit("s1", throttleKindStateUpdate, time.Second)
	r.ShouldAdmit("s2", throttleKindSliderAdmit, time.Second)

	require.Equal(t, 3, r.ThrottleKeyCount("s1"))

	session, ok := r.Deregister("s1")
	require.True(t, ok)
	assert.Equal(t, "u1", session.UserID)

	// No key may outlive its session; the neighbor keeps its own
	assert.Equal(t, 0, r.ThrottleKeyCount("s1"))
	assert.Equal(t, 1, r.ThrottleKeyCount("s2"))

	t.Run("Idempotent", func(t *testing.T) {
		_, ok := r.Deregister("s1")
		assert.False(t, ok)
		assert.Equal(t, 1, r.Count())
	})

	t.Run("LateEventCannotRecreateKeys", func(t *testing.T) {
		// A frame racing the eviction must be dropped without leaving a
		// throttle key behind for the dead session
		assert.False(t, r.ShouldAdmit("s1", throttleKindSliderAdmit, time.Second))
		assert.Equal(t, 0, r.ThrottleKeyCount("s1"))

		_, ok := r.Deregister("s1")
		assert.False(t, ok)
		assert.Equal(t, 0, r.ThrottleKeyCount("s1"))
	})

	t.Run("ReRegisterStartsFresh", func(t *testing.T) {
		_, err := r.Register("s1", "u1", "", "")
		require.NoError(t, err)
		// A fresh session begins with an open throttle window
		assert.True(t, r.ShouldAdmit("s1", throttleKindSliderAdmit, time.Hour))
	})
}
