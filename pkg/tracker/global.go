package tracker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/withregard/regard-go/pkg/userconfig"
)

var (
	defaultMu      sync.Mutex
	defaultTracker *Tracker
)

// Default returns the process-wide tracker, building it from the user
// configuration on first use. If the configuration is missing or invalid, the
// returned tracker is disabled and records nothing.
func Default() *Tracker {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultTracker == nil {
		defaultTracker = newDefault()
	}
	return defaultTracker
}

// SetDefault replaces the process-wide tracker and returns the previous one,
// which may be nil. The caller owns the previous tracker.
func SetDefault(t *Tracker) *Tracker {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	prev := defaultTracker
	defaultTracker = t
	return prev
}

func newDefault() *Tracker {
	ctx := context.Background()

	cfg, err := userconfig.Load()
	if err == nil {
		var t *Tracker
		if t, err = FromConfig(ctx, cfg); err == nil {
			return t
		}
	}

	slog.Warn("[Regard] Tracking disabled", "error", err)
	t, err := New(ctx, "unconfigured", "unconfigured", WithDisabled())
	if err != nil {
		panic(err)
	}
	return t
}

// Track records an event on the default tracker.
func Track(name string, props map[string]any) {
	Default().Track(name, props)
}

// Flush sends the default tracker's cached events.
func Flush(ctx context.Context) error {
	return Default().Flush(ctx)
}

// OptIn opts in on the default tracker.
func OptIn() bool {
	return Default().OptIn()
}

// OptOut opts out on the default tracker.
func OptOut() bool {
	return Default().OptOut()
}

// OptInByDefault opts in on the default tracker unless the user already chose.
func OptInByDefault() bool {
	return Default().OptInByDefault()
}
