package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	return path
}

func TestDiscoverShelfImages(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, filepath.Join(dir, "aisle1.JPG"))
	b := touch(t, filepath.Join(dir, "aisle2.png"))
	touch(t, filepath.Join(dir, "notes.txt"))
	nested := touch(t, filepath.Join(dir, "store2", "aisle3.webp"))

	t.Run("directory", func(t *testing.T) {
		files, err := discoverShelfImages([]string{dir}, false, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{a, b}, files)
	})
	t.Run("recursive", func(t *testing.T) {
		files, err := discoverShelfImages([]string{dir}, true, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{a, b, nested}, files)
	})
	t.Run("include and exclude", func(t *testing.T) {
		files, err := discoverShelfImages([]string{dir}, true, []string{"aisle*"}, []string{"*.png"})
		require.NoError(t, err)
		assert.Equal(t, []string{a, nested}, files)
	})
	t.Run("explicit file bypasses include", func(t *testing.T) {
		notes := filepath.Join(dir, "notes.txt")
		files, err := discoverShelfImages([]string{notes}, false, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{notes}, files)
	})
	t.Run("missing path", func(t *testing.T) {
		_, err := discoverShelfImages([]string{filepath.Join(dir, "nope")}, false, nil, nil)
		assert.ErrorContains(t, err, "cannot access")
	})
	t.Run("nothing found", func(t *testing.T) {
		_, err := discoverShelfImages([]string{t.TempDir()}, false, nil, nil)
		assert.ErrorContains(t, err, "no shelf images found")
	})
}
