package root

import (
	"github.com/spf13/cobra"

	"github.com/withregard/regard-go/pkg/cli"
	"github.com/withregard/regard-go/pkg/useragent"
	"github.com/withregard/regard-go/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  `Display the version, commit hash and the User-Agent sent to the collector`,
		Args:  cobra.NoArgs,
		Run:   runVersionCommand,
	}
}

func runVersionCommand(cmd *cobra.Command, _ []string) {
	out := cli.NewPrinter(cmd.OutOrStdout())

	out.Printf("regard version %s\n", version.Version)
	out.Printf("Commit: %s\n", version.Commit)
	out.Printf("User-Agent: %s\n", useragent.Header)
}
