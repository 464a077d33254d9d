package root

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/withregard/regard-go/pkg/cli"
	"github.com/withregard/regard-go/pkg/consent"
	"github.com/withregard/regard-go/pkg/tracker"
	"github.com/withregard/regard-go/pkg/userconfig"
)

func newFlushCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "flush",
		Short:   "Send pending events",
		Long:    "Send every pending event to the collection service as one batch. Events stay pending if delivery fails.",
		GroupID: "tracking",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withTracker(cmd, runFlush)
		},
	}
}

func runFlush(ctx context.Context, t *tracker.Tracker, _ *userconfig.Config, out *cli.Printer) error {
	if t.Consent() != consent.OptedIn {
		out.Printf("Nothing sent: consent is %s\n", t.Consent())
		return nil
	}

	before := t.Stats().Pending
	if err := t.Flush(ctx); err != nil {
		return err
	}
	sent := before - t.Stats().Pending
	if sent < 0 {
		sent = 0
	}
	out.Printf("Sent %d events\n", sent)
	return nil
}

func newStatusCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show consent and pending events",
		GroupID: "tracking",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withTracker(cmd, func(_ context.Context, t *tracker.Tracker, cfg *userconfig.Config, out *cli.Printer) error {
				out.PrintStatus(t.Stats(), endpointOf(cfg, t))
				return nil
			})
		},
	}
}
