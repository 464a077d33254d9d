package tracker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/withregard/regard-go/pkg/consent"
	"github.com/withregard/regard-go/pkg/event"
	"github.com/withregard/regard-go/pkg/freezer"
	"github.com/withregard/regard-go/pkg/identity"
	"github.com/withregard/regard-go/pkg/transport"
	"github.com/withregard/regard-go/pkg/userconfig"
)

// FromConfig builds a tracker from user configuration: a store of the
// configured kind, an HTTP transport, a consent gate persisted next to the
// config file and a persisted user ID. Explicit opts are applied last.
func FromConfig(ctx context.Context, cfg *userconfig.Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.Default()
	if !cfg.IsEnabled() {
		return New(ctx, cfg.Product, cfg.Organization, append([]Option{WithDisabled()}, opts...)...)
	}

	store, closer, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	gate, err := consent.NewFileGate(userconfig.ConsentPath())
	if err != nil {
		logger.Warn("[Regard] Failed to read consent, treating it as unset", "error", err)
		gate = consent.NewGate()
	}

	header := cfg.APIKeyHeader
	if header == "" {
		header = transport.DefaultAPIKeyHeader
	}
	key := event.Key{Product: cfg.Product, Organization: cfg.Organization}
	tr, err := transport.New(cfg.Endpoint, key, transport.WithAPIKey(header, cfg.APIKey))
	if err != nil {
		closeQuietly(closer)
		return nil, err
	}

	base := []Option{
		WithStore(store),
		WithTransport(tr),
		WithGate(gate),
		WithIdentity(identity.NewProvider(userconfig.UserIDPath())),
	}

	freezeAge, flushAge, err := cfg.ThresholdDurations()
	if err != nil {
		closeQuietly(closer)
		return nil, err
	}
	if cfg.Thresholds != nil {
		base = append(base, WithThresholds(Thresholds{
			FreezeEvents: cfg.Thresholds.FreezeEvents,
			FreezeAge:    freezeAge,
			FlushEvents:  cfg.Thresholds.FlushEvents,
			FlushAge:     flushAge,
		}))
	}
	if cfg.FlushInterval != "" {
		interval, err := cfg.FlushIntervalDuration()
		if err != nil {
			closeQuietly(closer)
			return nil, err
		}
		base = append(base, WithFlushInterval(interval))
	}

	t, err := New(ctx, cfg.Product, cfg.Organization, append(base, opts...)...)
	if err != nil {
		closeQuietly(closer)
		return nil, err
	}
	if closer != nil {
		t.closers = append(t.closers, closer)
	}
	gate.SetLogger(t.baseLogger)
	// Choices made by other processes, such as `regard opt-out`, apply to
	// this tracker while it runs.
	if gate.Path() != "" {
		if err := gate.Watch(t.ctx); err != nil {
			t.logger.Debug("Not watching consent file", "path", gate.Path(), "error", err)
		}
	}
	return t, nil
}

func openStore(cfg *userconfig.Config) (freezer.Store, io.Closer, error) {
	switch cfg.StoreKind() {
	case userconfig.StoreMemory:
		return freezer.NewMemoryStore(), nil, nil
	case userconfig.StoreSQLite:
		s, err := freezer.OpenSQLiteStore(userconfig.DatabasePath())
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		s, err := freezer.NewFileStore(userconfig.FrozenDir())
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
