package vision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FixtureAdapter replays recorded analyses from disk. It looks for
// <dir>/<content-hash>.json first and falls back to the default file.
// It is used for offline scans, demos and integration tests.
type FixtureAdapter struct {
	Dir         string
	DefaultPath string
}

// NewFixtureAdapter creates a replay adapter. At least one of dir or defaultPath is required.
func NewFixtureAdapter(dir, defaultPath string) (*FixtureAdapter, error) {
	if dir == "" && defaultPath == "" {
		return nil, errors.New("vision: fixture adapter needs a directory or default file")
	}
	return &FixtureAdapter{Dir: dir, DefaultPath: defaultPath}, nil
}

// Analyze returns the recorded analysis for the image.
func (f *FixtureAdapter) Analyze(ctx context.Context, img []byte) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Op: "fixture", Err: err}
	}
	var candidates []string
	if f.Dir != "" {
		candidates = append(candidates, filepath.Join(f.Dir, ContentHash(img)+".json"))
	}
	if f.DefaultPath != "" {
		candidates = append(candidates, f.DefaultPath)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path) //nolint:gosec // G304: fixture paths come from operator configuration
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, &TransportError{Op: "fixture", Err: err}
		}
		a, err := Decode(data)
		if err != nil {
			return nil, &TransportError{Op: "fixture", Err: err}
		}
		if a.Provider == "" {
			a.Provider = "fixture"
		}
		a.Sanitize()
		return a, nil
	}
	return nil, &TransportError{Op: "fixture", Err: fmt.Errorf("no recorded analysis for image %s", ContentHash(img)[:12])}
}
