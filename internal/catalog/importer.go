package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedWine is one wine in a catalog import file.
type SeedWine struct {
	Name        string   `yaml:"name"`
	Rating      *float64 `yaml:"rating,omitempty"`
	Type        string   `yaml:"type,omitempty"`
	Region      string   `yaml:"region,omitempty"`
	Varietal    string   `yaml:"varietal,omitempty"`
	Brand       string   `yaml:"brand,omitempty"`
	Description string   `yaml:"description,omitempty"`
	Aliases     []string `yaml:"aliases,omitempty"`
	Reviews     []string `yaml:"reviews,omitempty"`
}

// SeedFile is the catalog import document.
type SeedFile struct {
	Wines []SeedWine `yaml:"wines"`
}

// ImportResult summarizes an import.
type ImportResult struct {
	Wines   int `json:"wines"`
	Aliases int `json:"aliases"`
	Reviews int `json:"reviews"`
	Skipped int `json:"skipped"`
}

// ImportFile imports a YAML seed file.
func (s *Store) ImportFile(ctx context.Context, path string) (ImportResult, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is an operator-supplied seed file
	if err != nil {
		return ImportResult{}, fmt.Errorf("open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return s.Import(ctx, f)
}

// Import reads a YAML seed document and upserts its wines, aliases and reviews.
func (s *Store) Import(ctx context.Context, r io.Reader) (ImportResult, error) {
	var doc SeedFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return ImportResult{}, nil
		}
		return ImportResult{}, fmt.Errorf("decode seed file: %w", err)
	}

	var res ImportResult
	for _, sw := range doc.Wines {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if sw.Rating != nil && (*sw.Rating < 1 || *sw.Rating > 5) {
			return res, fmt.Errorf("wine %q: rating %.2f outside 1.0-5.0", sw.Name, *sw.Rating)
		}
		w := &Wine{
			Name:     sw.Name,
			Rating:   sw.Rating,
			WineType: sw.Type,
			Region:   sw.Region,
			Varietal: sw.Varietal,
			Brand:    sw.Brand,
			Source:   "import",
		}
		if err := s.UpsertWine(ctx, w); err != nil {
			res.Skipped++
			continue
		}
		res.Wines++
		if sw.Description != "" && w.Description != sw.Description {
			if err := s.UpdateDescription(ctx, w.ID, sw.Description); err != nil {
				return res, err
			}
		}
		for _, a := range sw.Aliases {
			if err := s.AddAlias(ctx, a, w.ID); err != nil {
				return res, err
			}
			res.Aliases++
		}
		for _, text := range sw.Reviews {
			created, err := s.AddReview(ctx, w.ID, text, "import")
			if err != nil {
				return res, err
			}
			if created {
				res.Reviews++
			}
		}
	}
	return res, nil
}
