package root

import (
	"cmp"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/withregard/regard-go/pkg/cli"
	"github.com/withregard/regard-go/pkg/collector"
	"github.com/withregard/regard-go/pkg/event"
	"github.com/withregard/regard-go/pkg/transport"
)

type collectFlags struct {
	listenAddr   string
	apiKey       string
	apiKeyHeader string
}

func newCollectCmd(root *rootFlags) *cobra.Command {
	var flags collectFlags

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Run a local collection service",
		Long:  "Run a collection service that accepts batches and prints every received event. Point `regard init --endpoint` at it to inspect what a product sends.",
		Example: `  regard collect
  regard collect --listen unix:///tmp/regard.sock
  regard collect --api-key secret`,
		GroupID: "server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runCollect(cmd, &flags)
		},
	}

	cmd.Flags().StringVarP(&flags.listenAddr, "listen", "l", "127.0.0.1:8080", "Address to listen on (host:port, unix://, npipe:// or fd://)")
	cmd.Flags().StringVar(&flags.apiKey, "api-key", "", "Reject batches without this API key")
	cmd.Flags().StringVar(&flags.apiKeyHeader, "api-key-header", transport.DefaultAPIKeyHeader, "Header carrying the API key")

	return cmd
}

func (f *rootFlags) runCollect(cmd *cobra.Command, flags *collectFlags) error {
	ctx := cmd.Context()
	out := cli.NewPrinter(cmd.OutOrStdout())

	var printMu sync.Mutex
	opts := []collector.Option{
		collector.WithReceiver(func(key event.Key, accepted []event.Event) {
			printMu.Lock()
			defer printMu.Unlock()
			out.PrintEvents(key, accepted)
		}),
	}
	if flags.apiKey != "" {
		opts = append(opts, collector.WithAPIKey(cmp.Or(flags.apiKeyHeader, transport.DefaultAPIKeyHeader), flags.apiKey))
	}
	if f.debugMode {
		opts = append(opts, collector.WithRequestLogging())
	}

	ln, err := collector.Listen(ctx, flags.listenAddr)
	if err != nil {
		out.PrintError(err)
		return RuntimeError{Err: err}
	}
	defer func() {
		_ = ln.Close()
	}()

	out.Println("Listening on " + ln.Addr().String())
	slog.Debug("Collector started", "addr", ln.Addr().String(), "pid", os.Getpid())

	if err := collector.New(opts...).Serve(ctx, ln); err != nil {
		out.PrintError(err)
		return RuntimeError{Err: err}
	}
	return nil
}
