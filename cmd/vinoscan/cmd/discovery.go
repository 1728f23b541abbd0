package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// defaultImagePatterns are the shelf photo formats the decoder accepts.
var defaultImagePatterns = []string{
	"*.jpg", "*.jpeg", "*.png", "*.webp", "*.bmp", "*.tif", "*.tiff",
}

// discoverShelfImages expands the scan arguments into image paths. Files are
// taken as given unless excluded; directories contribute the files matching
// include (default: known image extensions). Directory results are sorted.
func discoverShelfImages(args []string, recursive bool, include, exclude []string) ([]string, error) {
	if len(include) == 0 {
		include = defaultImagePatterns
	}
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			if !matchesAny(arg, exclude) {
				out = append(out, arg)
			}
			continue
		}
		found, err := walkShelfDir(arg, recursive, include, exclude)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	if len(out) == 0 {
		return nil, errors.New("no shelf images found")
	}
	return out, nil
}

func walkShelfDir(root string, recursive bool, include, exclude []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if matchesAny(path, include) && !matchesAny(path, exclude) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	slices.Sort(files)
	return files, nil
}

// matchesAny matches the base name case-insensitively against glob patterns.
func matchesAny(path string, patterns []string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, p := range patterns {
		if ok, _ := filepath.Match(strings.ToLower(p), base); ok {
			return true
		}
	}
	return false
}
