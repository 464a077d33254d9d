package root

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/withregard/regard-go/pkg/userconfig"
)

func completeStore(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var out []string
	for _, kind := range []string{
		userconfig.StoreFile + "\tone JSON file per product",
		userconfig.StoreSQLite + "\tsingle SQLite database",
		userconfig.StoreMemory + "\tkeep nothing across restarts",
	} {
		if strings.HasPrefix(kind, toComplete) {
			out = append(out, kind)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func completeConfigFile(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return completeConfigFilename(toComplete)
}

func completeConfigFilename(toComplete string) ([]string, cobra.ShellCompDirective) {
	dirPrefix, base := filepath.Split(toComplete)

	dirToRead := dirPrefix
	if dirToRead == "" {
		dirToRead = "."
	}

	entries, err := os.ReadDir(dirToRead)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, base) {
			continue
		}

		switch {
		case e.IsDir():
			out = append(out, dirPrefix+name+string(filepath.Separator))
		case strings.EqualFold(filepath.Ext(name), ".yaml"), strings.EqualFold(filepath.Ext(name), ".yml"):
			out = append(out, dirPrefix+name)
		}
	}

	// Don't add space after single directory completion
	if len(out) == 1 && strings.HasSuffix(out[0], string(filepath.Separator)) {
		return out, cobra.ShellCompDirectiveNoFileComp | cobra.ShellCompDirectiveNoSpace
	}

	return out, cobra.ShellCompDirectiveNoFileComp
}
