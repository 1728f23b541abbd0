package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/vinoscan/internal/catalog"
	"github.com/spf13/cobra"
)

// catalogCmd groups catalog maintenance commands.
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the wine catalog",
	Long: `Inspect and populate the local wine catalog.

Examples:
  vinoscan catalog import wines.yaml
  vinoscan catalog stats`,
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <seed.yaml>",
	Short: "Import wines, aliases and reviews from a YAML seed file",
	Long: `Import a YAML seed document into the catalog. Wines are upserted by name;
aliases and reviews already present are skipped.

Seed format:
  wines:
    - name: Caymus Cabernet Sauvignon
      rating: 4.5
      region: Napa Valley
      aliases: [caymus cab]
      reviews: ["Dark fruit, velvety finish."]`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := catalog.Open(GetConfig().Catalog.DSN)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		res, err := store.ImportFile(cmdContext(cmd), args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d wines, %d aliases, %d reviews (%d skipped)\n",
			res.Wines, res.Aliases, res.Reviews, res.Skipped)
		return err
	},
}

var catalogStatsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Show catalog row counts",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := catalog.Open(GetConfig().Catalog.DSN)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		st, err := store.Stats(cmdContext(cmd))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogStatsCmd)
}
