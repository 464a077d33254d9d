package tracker

import (
	"log/slog"
	"time"

	"github.com/withregard/regard-go/pkg/consent"
	"github.com/withregard/regard-go/pkg/freezer"
)

// Thresholds control when the cache is frozen to the store and when it is
// flushed to the transport.
type Thresholds struct {
	// FreezeEvents freezes once this many events were recorded since the last
	// freeze.
	FreezeEvents int
	// FreezeAge freezes once the last freeze is at least this old. Recording
	// below both thresholds schedules a freeze after FreezeAge.
	FreezeAge time.Duration
	// FlushEvents flushes once the cache holds this many events.
	FlushEvents int
	// FlushAge flushes once the oldest cached event is at least this old.
	FlushAge time.Duration
}

// DefaultThresholds are used unless WithThresholds is given.
var DefaultThresholds = Thresholds{
	FreezeEvents: 20,
	FreezeAge:    5 * time.Second,
	FlushEvents:  100,
	FlushAge:     5 * time.Minute,
}

// DefaultFlushInterval is how often a tracker checks whether its cache is
// old enough to flush.
const DefaultFlushInterval = time.Minute

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore sets where the cache is frozen. Defaults to an in-memory store.
func WithStore(store freezer.Store) Option {
	return func(t *Tracker) {
		t.store = store
	}
}

// WithTransport sets how batches are delivered. Without a transport, sends
// fail and events stay cached.
func WithTransport(transport Transport) Option {
	return func(t *Tracker) {
		t.transport = transport
	}
}

// WithIdentity sets the source of user and session IDs.
func WithIdentity(identity Identity) Option {
	return func(t *Tracker) {
		t.identity = identity
	}
}

// WithGate sets the consent gate. Defaults to an in-memory gate in the Unset
// state.
func WithGate(gate *consent.Gate) Option {
	return func(t *Tracker) {
		t.gate = gate
	}
}

// WithThresholds overrides the freeze and flush thresholds. Zero fields keep
// their defaults.
func WithThresholds(th Thresholds) Option {
	return func(t *Tracker) {
		if th.FreezeEvents > 0 {
			t.thresholds.FreezeEvents = th.FreezeEvents
		}
		if th.FreezeAge > 0 {
			t.thresholds.FreezeAge = th.FreezeAge
		}
		if th.FlushEvents > 0 {
			t.thresholds.FlushEvents = th.FlushEvents
		}
		if th.FlushAge > 0 {
			t.thresholds.FlushAge = th.FlushAge
		}
	}
}

// WithFlushInterval sets the period of the background flush check. Zero
// disables it.
func WithFlushInterval(d time.Duration) Option {
	return func(t *Tracker) {
		t.flushInterval = d
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.baseLogger = logger
	}
}

// WithDisabled turns the tracker into a no-op regardless of consent.
func WithDisabled() Option {
	return func(t *Tracker) {
		t.disabled = true
	}
}
