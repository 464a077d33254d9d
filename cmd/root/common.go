package root

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/withregard/regard-go/pkg/cli"
	"github.com/withregard/regard-go/pkg/tracker"
	"github.com/withregard/regard-go/pkg/transport"
	"github.com/withregard/regard-go/pkg/userconfig"
)

const closeTimeout = 10 * time.Second

func (f *rootFlags) loadConfig() (*userconfig.Config, error) {
	if f.configPath != "" {
		return userconfig.LoadFile(f.configPath)
	}
	return userconfig.Load()
}

func (f *rootFlags) configFile() string {
	return cmp.Or(f.configPath, userconfig.Path())
}

// openTracker builds a tracker for a single command. The background flush is
// disabled because the process exits right after the command.
func (f *rootFlags) openTracker(ctx context.Context) (*tracker.Tracker, *userconfig.Config, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Organization == "" || cfg.Product == "" {
		return nil, nil, fmt.Errorf("no product configured in %s, run `regard init` first", f.configFile())
	}

	t, err := tracker.FromConfig(ctx, cfg, tracker.WithFlushInterval(0), tracker.WithLogger(slog.Default()))
	if err != nil {
		return nil, nil, err
	}
	return t, cfg, nil
}

// withTracker runs fn with a tracker and closes it afterwards, which freezes
// whatever is still pending.
func (f *rootFlags) withTracker(cmd *cobra.Command, fn func(ctx context.Context, t *tracker.Tracker, cfg *userconfig.Config, out *cli.Printer) error) error {
	ctx := cmd.Context()
	out := cli.NewPrinter(cmd.OutOrStdout())

	t, cfg, err := f.openTracker(ctx)
	if err != nil {
		out.PrintError(err)
		return RuntimeError{Err: err}
	}

	runErr := fn(ctx, t, cfg, out)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := t.Close(closeCtx); err != nil {
		slog.Warn("Failed to close tracker", "error", err)
	}

	if runErr != nil {
		out.PrintError(runErr)
		return RuntimeError{Err: runErr}
	}
	return nil
}

func endpointOf(cfg *userconfig.Config, t *tracker.Tracker) string {
	if !cfg.IsEnabled() {
		return ""
	}
	return transport.EventsURL(cmp.Or(cfg.Endpoint, transport.DefaultBaseURL), t.Key())
}
