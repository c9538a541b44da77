package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transportState struct {
	present   bool
	connected bool
}

type fakeProbe struct {
	states map[string]transportState
}

func (p *fakeProbe) Probe(sessionID string) (bool, bool) {
	state, ok := p.states[sessionID]
	if !ok {
		return false, false
	}
	return state.present, state.connected
}

type recordingSink struct {
	delivered  []Outbound
	broadcasts []Envelope
	dropped    []string
}

func (s *recordingSink) Deliver(outs []Outbound) {
	s.delivered = append(s.delivered, outs...)
}

func (s *recordingSink) BroadcastAll(msg Envelope) {
	s.broadcasts = append(s.broadcasts, msg)
}

func (s *recordingSink) DropConnection(sessionID string) {
	s.dropped = append(s.dropped, sessionID)
}

type reconcilerEnv struct {
	clock    *fakeClock
	registry *SessionRegistry
	router   *BroadcastRouter
	probe    *fakeProbe
	sink     *recordingSink
	rec      *Reconciler
}

func newReconcilerEnv(t *testing.T) *reconcilerEnv {
	t.Helper()

	clock := newFakeClock()
	registry := newTestRegistry(clock)
	router := NewBroadcastRouter(registry, NewActivityLog(50), newTestStatsTracker(clock), DefaultRouterConfig())
	router.now = clock.Now

	probe := &fakeProbe{states: make(map[string]transportState)}
	sink := &recordingSink{}

	rec := NewReconciler(registry, router, probe, sink)
	rec.now = clock.Now

	return &reconcilerEnv{
		clock:    clock,
		registry: registry,
		router:   router,
		probe:    probe,
		sink:     sink,
		rec:      rec,
	}
}

func (e *reconcilerEnv) addSession(t *testing.T, id string, state transportState) {
	t.Helper()
	_, err := e.registry.Register(id, "user-"+id, "", "")
	require.NoError(t, err)
	e.probe.states[id] = state
}

func TestReconciler_Sweep(t *testing.T) {
	t.Run("StaleDisconnectedSessionEvicted", func(t *testing.T) {
		env := newReconcilerEnv(t)
		env.addSession(t, "ghost", transportState{present: true, connected: false})

		env.clock.Advance(3 * time.Minute)
		evicted := env.rec.Sweep()

		assert.Equal(t, 1, evicted)
		assert.Equal(t, 0, env.registry.Count())
		assert.Equal(t, []string{"ghost"}, env.sink.dropped)
		assert.NotEmpty(t, env.sink.delivered)
	})

	t.Run("RecentSessionWithTransportNeverEvicted", func(t *testing.T) {
		env := newReconcilerEnv(t)
		env.addSession(t, "fresh", transportState{present: true, connected: true})
		env.addSession(t, "quiet", transportState{present: true, connected: false})

		// Both well inside the staleness threshold
		env.clock.Advance(30 * time.Second)
		evicted := env.rec.Sweep()

		assert.Equal(t, 0, evicted)
		assert.Equal(t, 2, env.registry.Count())
		assert.Empty(t, env.sink.dropped)
	})

	t.Run("StaleButConnectedSessionKept", func(t *testing.T) {
		env := newReconcilerEnv(t)
		env.addSession(t, "idle", transportState{present: true, connected: true})

		env.clock.Advance(time.Hour)
		evicted := env.rec.Sweep()

		assert.Equal(t, 0, evicted)
		assert.Equal(t, 1, env.registry.Count())
	})

	t.Run("UntrackedTransportEvictedRegardlessOfRecency", func(t *testing.T) {
		env := newReconcilerEnv(t)
		_, err := env.registry.Register("orphan", "u1", "", "")
		require.NoError(t, err)
		// No probe state: the hub lost this transport entirely

		evicted := env.rec.Sweep()

		assert.Equal(t, 1, evicted)
		assert.Equal(t, 0, env.registry.Count())
		// Nothing to drop when the transport is already gone
		assert.Empty(t, env.sink.dropped)
	})

	t.Run("HeartbeatEmittedEveryCycle", func(t *testing.T) {
		env := newReconcilerEnv(t)

		env.rec.Sweep()
		env.rec.Sweep()

		require.Len(t, env.sink.broadcasts, 2)
		for _, msg := range env.sink.broadcasts {
			assert.Equal(t, EventServerPing, msg.Event)
		}
	})

	t.Run("EvictionCleansThrottleState", func(t *testing.T) {
		env := newReconcilerEnv(t)
		env.addSession(t, "ghost", transportState{present: true, connected: false})
		env.registry.ShouldAdmit("ghost", throttleKindSliderAdmit, time.Second)

		env.clock.Advance(3 * time.Minute)
		env.rec.Sweep()

		assert.Zero(t, env.registry.ThrottleKeyCount("ghost"))
	})
}

func TestReconciler_RefreshPresence(t *testing.T) {
	t.Run("SkippedWhenEmpty", func(t *testing.T) {
		env := newReconcilerEnv(t)
		env.rec.RefreshPresence()
		assert.Empty(t, env.sink.delivered)
	})

	t.Run("BroadcastsCountAndSnapshot", func(t *testing.T) {
		env := newReconcilerEnv(t)
		env.addSession(t, "s1", transportState{present: true, connected: true})

		env.rec.RefreshPresence()

		require.Len(t, env.sink.delivered, 2)
		assert.Equal(t, EventUserCount, env.sink.delivered[0].Message.Event)
		assert.Equal(t, EventActiveUsers, env.sink.delivered[1].Message.Event)
	})
}
