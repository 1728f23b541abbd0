package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/catalog"
	"github.com/MeKo-Tech/vinoscan/internal/llmcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRoot executes the root command against a catalog at dsn and returns stdout.
func runRoot(t *testing.T, dsn string, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(append(args, "--catalog", dsn))
	t.Cleanup(func() { _ = rootCmd.PersistentFlags().Set("catalog", "") })
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCatalogImportAndStats(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "catalog.db")
	seed := filepath.Join(dir, "wines.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(seedYAML), 0o600))

	out, err := runRoot(t, dsn, "catalog", "import", seed)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 wines, 1 aliases")

	out, err = runRoot(t, dsn, "catalog", "stats")
	require.NoError(t, err)
	var st catalog.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, int64(2), st.Wines)
	assert.Equal(t, int64(1), st.Aliases)
}

func TestCatalogImportMissingFile(t *testing.T) {
	_, err := runRoot(t, filepath.Join(t.TempDir(), "catalog.db"), "catalog", "import", "does-not-exist.yaml")
	assert.ErrorContains(t, err, "open seed file")
}

func TestCachePromotions(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "catalog.db")

	store, err := catalog.Open(dsn)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, store.SaveLLMEntry(ctx, llmcache.Entry{
		Name: "chateau mystery red", DisplayName: "Chateau Mystery Red", Rating: 4.1,
		Provider: "static", Blurb: "Dark fruit and cedar.", HitCount: 5, CreatedAt: now, LastAccessedAt: now,
	}))
	require.NoError(t, store.SaveLLMEntry(ctx, llmcache.Entry{
		Name: "rare find", DisplayName: "Rare Find", Rating: 3.2, Provider: "static", HitCount: 1,
		CreatedAt: now, LastAccessedAt: now,
	}))
	require.NoError(t, store.Close())

	out, err := runRoot(t, dsn, "cache", "promotions")
	require.NoError(t, err)
	var listed []llmcache.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1, "only entries at the promotion threshold are listed")
	assert.Equal(t, "chateau mystery red", listed[0].Name)

	out, err = runRoot(t, dsn, "cache", "promotions", "--apply")
	t.Cleanup(func() { _ = cachePromotionsCmd.Flags().Set("apply", "false") })
	require.NoError(t, err)
	assert.Contains(t, out, "Promoted 1 of 1 candidates")

	store, err = catalog.Open(dsn)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	w, found, err := store.FindByName(ctx, "Chateau Mystery Red")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Dark fruit and cedar.", w.Description)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vinoscan.yaml")
	out, err := runRoot(t, filepath.Join(t.TempDir(), "catalog.db"), "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pipeline:")
}
