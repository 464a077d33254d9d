package root

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/withregard/regard-go/pkg/cli"
	"github.com/withregard/regard-go/pkg/tracker"
	"github.com/withregard/regard-go/pkg/userconfig"
)

func newOptInCmd(root *rootFlags) *cobra.Command {
	return newConsentChangeCmd(root, "opt-in", "Allow events to be recorded and sent", (*tracker.Tracker).OptIn)
}

func newOptOutCmd(root *rootFlags) *cobra.Command {
	return newConsentChangeCmd(root, "opt-out", "Stop recording and discard pending events", (*tracker.Tracker).OptOut)
}

func newOptInByDefaultCmd(root *rootFlags) *cobra.Command {
	cmd := newConsentChangeCmd(root, "opt-in-by-default", "Opt in unless a choice was already made", (*tracker.Tracker).OptInByDefault)
	cmd.Long = "Opt in if consent was never given nor refused. An earlier opt-out is kept."
	return cmd
}

func newConsentChangeCmd(root *rootFlags, use, short string, change func(*tracker.Tracker) bool) *cobra.Command {
	return &cobra.Command{
		Use:     use,
		Short:   short,
		GroupID: "consent",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withTracker(cmd, func(_ context.Context, t *tracker.Tracker, _ *userconfig.Config, out *cli.Printer) error {
				changed := change(t)
				out.PrintConsent(t.Consent(), changed)
				return nil
			})
		},
	}
}

func newConsentCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "consent",
		Short:   "Ask whether usage data may be collected",
		GroupID: "consent",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withTracker(cmd, func(ctx context.Context, t *tracker.Tracker, _ *userconfig.Config, out *cli.Printer) error {
				var changed bool
				switch out.PromptConsent(ctx, t.Key().Product, cmd.InOrStdin()) {
				case cli.ConsentYes:
					changed = t.OptIn()
				case cli.ConsentNo:
					changed = t.OptOut()
				}
				out.PrintConsent(t.Consent(), changed)
				return nil
			})
		},
	}
}

func newForgetCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "forget",
		Short:   "Drop the anonymous user ID",
		Long:    "Drop the anonymous user ID. A new one is created for the next recorded event.",
		GroupID: "consent",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withTracker(cmd, func(_ context.Context, t *tracker.Tracker, _ *userconfig.Config, out *cli.Printer) error {
				if err := t.ForgetUserID(); err != nil {
					return err
				}
				out.Println("Forgot the user ID")
				return nil
			})
		},
	}
}
