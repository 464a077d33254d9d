package root

import (
	"github.com/spf13/cobra"

	"github.com/withregard/regard-go/pkg/cli"
	"github.com/withregard/regard-go/pkg/userconfig"
)

type initFlags struct {
	organization string
	product      string
	endpoint     string
	apiKey       string
	store        string
}

func newInitCmd(root *rootFlags) *cobra.Command {
	var flags initFlags

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the config file",
		Long:  "Write the product, organization and endpoint to the config file. Flags that are not given keep their current value.",
		Example: `  regard init --organization my-company --product my-app
  regard init --endpoint http://localhost:8080 --store sqlite`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runInit(cmd, &flags)
		},
	}

	cmd.Flags().StringVar(&flags.organization, "organization", "", "Organization the product belongs to")
	cmd.Flags().StringVar(&flags.product, "product", "", "Product to track")
	cmd.Flags().StringVar(&flags.endpoint, "endpoint", "", "Base URL of the collection service")
	cmd.Flags().StringVar(&flags.apiKey, "api-key", "", "API key sent with every batch")
	cmd.Flags().StringVar(&flags.store, "store", "", "Local store: file, sqlite or memory")
	_ = cmd.RegisterFlagCompletionFunc("store", completeStore)

	return cmd
}

func (f *rootFlags) runInit(cmd *cobra.Command, flags *initFlags) error {
	out := cli.NewPrinter(cmd.OutOrStdout())
	path := f.configFile()

	cfg, err := userconfig.LoadFile(path)
	if err != nil {
		out.PrintError(err)
		return RuntimeError{Err: err}
	}

	set := func(name string, dst *string, value string) {
		if cmd.Flags().Changed(name) {
			*dst = value
		}
	}
	set("organization", &cfg.Organization, flags.organization)
	set("product", &cfg.Product, flags.product)
	set("endpoint", &cfg.Endpoint, flags.endpoint)
	set("api-key", &cfg.APIKey, flags.apiKey)
	set("store", &cfg.Store, flags.store)

	if err := cfg.Validate(); err != nil {
		out.PrintError(err)
		return RuntimeError{Err: err}
	}
	if err := cfg.SaveTo(path); err != nil {
		out.PrintError(err)
		return RuntimeError{Err: err}
	}

	out.Printf("Wrote %s for %s/%s\n", path, cfg.Organization, cfg.Product)
	return nil
}
