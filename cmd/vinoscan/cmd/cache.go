package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/vinoscan/internal/catalog"
	"github.com/MeKo-Tech/vinoscan/internal/llmcache"
	"github.com/spf13/cobra"
)

// cacheCmd groups LLM cache commands.
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the persisted LLM rating cache",
}

var cachePromotionsCmd = &cobra.Command{
	Use:   "promotions",
	Short: "List (and optionally promote) frequently requested LLM estimates",
	Long: `List LLM estimates whose hit count reached the promotion threshold.
With --apply each candidate is added to the catalog as a canonical wine.

Examples:
  vinoscan cache promotions
  vinoscan cache promotions --min-hits 5 --apply`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		ctx := cmdContext(cmd)

		store, err := catalog.Open(cfg.Catalog.DSN)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		cache := llmcache.New(
			llmcache.WithPersister(store),
			llmcache.WithPromotionThreshold(cfg.LLMCache.PromotionThreshold),
		)
		if _, err := cache.Warm(ctx); err != nil {
			return err
		}

		minHits, _ := cmd.Flags().GetInt64("min-hits")
		if minHits <= 0 {
			minHits = cache.PromotionThreshold()
		}
		candidates := cache.PromotionCandidates(minHits)
		if candidates == nil {
			candidates = []llmcache.Entry{}
		}

		apply, _ := cmd.Flags().GetBool("apply")
		if !apply {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(candidates)
		}

		promoted := 0
		for _, e := range candidates {
			w, err := store.Promote(ctx, e)
			if err != nil {
				return fmt.Errorf("promote %q: %w", e.Name, err)
			}
			slog.Info("Promoted estimate to catalog", "name", w.Name, "id", w.ID, "hits", e.HitCount)
			promoted++
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Promoted %d of %d candidates\n", promoted, len(candidates))
		return err
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cachePromotionsCmd)
	cachePromotionsCmd.Flags().Int64("min-hits", 0, "minimum hit count (0 = configured promotion threshold)")
	cachePromotionsCmd.Flags().Bool("apply", false, "add the candidates to the catalog")
}
