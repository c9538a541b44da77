package api

import (
	"context"
	"time"

	"github.com/cdduran/percepsim/internal/slogging"
)

// ConnectionProbe reports the transport state of a session: whether the
// transport is still tracked at all, and whether it is believed connected.
type ConnectionProbe interface {
	Probe(sessionID string) (present, connected bool)
}

// DeliverySink is the slice of the hub the reconciler needs to announce
// evictions and heartbeats.
type DeliverySink interface {
	Deliver(outs []Outbound)
	BroadcastAll(msg Envelope)
	DropConnection(sessionID string)
}

// Reconciler periodically sweeps the registry for ghost sessions, re-broadcasts
// authoritative presence, and emits keep-alive pings so clients can detect
// silent network loss.
type Reconciler struct {
	registry *SessionRegistry
	router   *BroadcastRouter
	probe    ConnectionProbe
	sink     DeliverySink

	// Cadence of the ghost sweep
	Interval time.Duration
	// Cadence of the unconditional presence refresh
	RefreshInterval time.Duration
	// Idle time after which a not-connected session is a ghost
	StaleAfter time.Duration

	now func() time.Time
}

// NewReconciler builds a reconciler with the default cadences.
func NewReconciler(registry *SessionRegistry, router *BroadcastRouter, probe ConnectionProbe, sink DeliverySink) *Reconciler {
	return &Reconciler{
		registry:        registry,
		router:          router,
		probe:           probe,
		sink:            sink,
		Interval:        time.Minute,
		RefreshInterval: 15 * time.Second,
		StaleAfter:      2 * time.Minute,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Run drives both tickers until the context is cancelled. Cancellation stops
// scheduling immediately; an in-flight sweep finishes its fan-out.
func (r *Reconciler) Run(ctx context.Context) {
	sweep := time.NewTicker(r.Interval)
	refresh := time.NewTicker(r.RefreshInterval)
	defer sweep.Stop()
	defer refresh.Stop()

	for {
		select {
		case <-sweep.C:
			r.Sweep()
		case <-refresh.C:
			r.RefreshPresence()
		case <-ctx.Done():
			slogging.Get().Info("Reconciler stopped")
			return
		}
	}
}

// Sweep evicts ghost sessions and emits the heartbeat. A session is a ghost
// when its transport is gone entirely, or when it has been idle past the
// staleness threshold while its transport reports not-connected. A recently
// active session is never evicted while its transport is still tracked.
func (r *Reconciler) Sweep() int {
	logger := slogging.Get()
	now := r.now()
	evicted := 0

	for sessionID, lastSeen := range r.registry.Staleness() {
		present, connected := r.probe.Probe(sessionID)

		ghost := !present || (now.Sub(lastSeen) > r.StaleAfter && !connected)
		if !ghost {
			continue
		}

		if present {
			r.sink.DropConnection(sessionID)
		}
		outs := r.router.HandleDisconnect(sessionID, "reconciler eviction")
		r.sink.Deliver(outs)

		metricGhostEvictions.Inc()
		evicted++
		logger.Info("Evicted ghost session %s (idle %s, present=%t connected=%t)",
			sessionID, now.Sub(lastSeen).Truncate(time.Second), present, connected)
	}

	// Keep-alive goes out every cycle regardless of evictions
	r.sink.BroadcastAll(Envelope{Event: EventServerPing, Data: map[string]any{
		"timestamp": now,
	}})

	logger.Debug("Reconciler sweep complete: %d live sessions, %d evicted", r.registry.Count(), evicted)
	return evicted
}

// RefreshPresence re-broadcasts the authoritative presence state while anyone
// is connected, bounding snapshot drift between sweeps.
func (r *Reconciler) RefreshPresence() {
	if r.registry.Count() == 0 {
		return
	}
	r.sink.Deliver(r.router.PresenceRefresh())
}
