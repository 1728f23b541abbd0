package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/vinoscan/internal/geometry"
	"github.com/MeKo-Tech/vinoscan/internal/pipeline"
	"github.com/MeKo-Tech/vinoscan/internal/vision"
	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"
)

const (
	outputFormatJSON = "json"
	outputFormatText = "text"
)

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan <image|dir>...",
	Short: "Recognize the wines on shelf photos",
	Long: `Scan one or more shelf photos and report each recognized wine with its
rating, confidence and position.

Supported formats: JPEG, PNG, WebP, BMP, TIFF

Examples:
  vinoscan scan shelf.jpg
  vinoscan scan *.jpg --format text --workers 2
  vinoscan scan photos/ --recursive --exclude "*_thumb.jpg"
  vinoscan scan shelf.jpg --mode catalog_only --crops-dir crops/`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format != outputFormatJSON && format != outputFormatText {
			return fmt.Errorf("invalid output format: %s (must be one of: %s, %s)", format, outputFormatJSON, outputFormatText)
		}

		cfg := GetConfig()
		if cmd.Flags().Changed("mode") {
			cfg.Pipeline.Mode, _ = cmd.Flags().GetString("mode")
		}
		if w, _ := cmd.Flags().GetInt("workers"); w > 0 {
			cfg.Pipeline.BatchWorkers = w
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		recursive, _ := cmd.Flags().GetBool("recursive")
		include, _ := cmd.Flags().GetStringSlice("include")
		exclude, _ := cmd.Flags().GetStringSlice("exclude")
		files, err := discoverShelfImages(args, recursive, include, exclude)
		if err != nil {
			return err
		}

		images := make([][]byte, len(files))
		for i, path := range files {
			data, err := os.ReadFile(path) //nolint:gosec // G304: user-supplied input image
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			images[i] = data
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := buildApp(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		defer func() { _ = a.Close() }()

		opts := a.pipeline.DefaultOptions()
		opts.Debug, _ = cmd.Flags().GetBool("debug")
		if d, _ := cmd.Flags().GetDuration("deadline"); d > 0 {
			opts.Deadline = d
		}

		results, failures, scanErr := scanImages(ctx, a.pipeline, images, opts, cfg.Pipeline.BatchWorkers, cmd.ErrOrStderr())
		// Catalog write-back finishes before the process exits.
		a.pipeline.WaitForSync()

		if cropsDir, _ := cmd.Flags().GetString("crops-dir"); cropsDir != "" {
			if err := writeCrops(cropsDir, files, images, results); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if outputFile, _ := cmd.Flags().GetString("output"); outputFile != "" {
			f, err := os.Create(outputFile) //nolint:gosec // G304: user-chosen output path
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}
			defer func() { _ = f.Close() }()
			out = f
		}

		switch format {
		case outputFormatText:
			err = writeText(out, files, results, failures)
		default:
			err = writeJSON(out, files, results, failures)
		}
		if err != nil {
			return err
		}
		return scanErr
	},
}

// scanImages returns results and per-image failures in input order.
func scanImages(ctx context.Context, p *pipeline.Pipeline, images [][]byte, opts pipeline.Options,
	workers int, progress io.Writer,
) ([]*pipeline.ScanResult, []error, error) {
	failures := make([]error, len(images))
	if len(images) == 1 {
		r, err := p.Recognize(ctx, images[0], opts)
		failures[0] = err
		return []*pipeline.ScanResult{r}, failures, err
	}
	cfg := pipeline.BatchConfig{
		MaxWorkers:       workers,
		ProgressCallback: pipeline.NewConsoleProgressCallback(progress, "Scanning"),
		ErrorHandler: func(index int, err error) {
			failures[index] = err
		},
	}
	results, err := p.RecognizeBatch(ctx, images, opts, cfg)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%d of %d images failed: %w", countErrors(failures), len(images), err)
	}
	return results, failures, err
}

func countErrors(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}

func failureText(failures []error, i int) string {
	if i < len(failures) && failures[i] != nil {
		return failures[i].Error()
	}
	return "scan did not complete"
}

type scanOutput struct {
	File   string               `json:"file"`
	Result *pipeline.ScanResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

func writeJSON(w io.Writer, files []string, results []*pipeline.ScanResult, failures []error) error {
	out := make([]scanOutput, len(files))
	for i, f := range files {
		out[i].File = f
		if i < len(results) && results[i] != nil {
			out[i].Result = results[i]
		} else {
			out[i].Error = failureText(failures, i)
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if len(out) == 1 {
		return enc.Encode(out[0])
	}
	return enc.Encode(out)
}

func writeText(w io.Writer, files []string, results []*pipeline.ScanResult, failures []error) error {
	var b strings.Builder
	for i, f := range files {
		fmt.Fprintf(&b, "== %s\n", f)
		if i >= len(results) || results[i] == nil {
			fmt.Fprintf(&b, "  error: %s\n", failureText(failures, i))
			continue
		}
		r := results[i]
		fmt.Fprintf(&b, "  scan %s  mode=%s  wines=%d", r.ScanID, r.Mode, r.WineCount())
		if r.CacheHit {
			b.WriteString("  (vision cache hit)")
		}
		if r.Degraded {
			b.WriteString("  (degraded)")
		}
		b.WriteString("\n")
		for _, wr := range r.Results {
			fmt.Fprintf(&b, "  #%d %-40s %s  conf=%.2f  %s/%s\n",
				wr.BottleIndex, wr.Name, formatRating(wr.Rating), wr.Confidence, wr.Source, wr.MatchType)
		}
		for _, fb := range r.Fallback {
			fmt.Fprintf(&b, "  -  %-40s %s  conf=%.2f  (%s)\n",
				fb.Name, formatRating(fb.Rating), fb.Confidence, fb.Reason)
		}
		if len(r.TopThree) > 0 {
			names := make([]string, len(r.TopThree))
			for j, t := range r.TopThree {
				names[j] = t.Name
			}
			fmt.Fprintf(&b, "  top: %s\n", strings.Join(names, ", "))
		}
		for _, warn := range r.Warnings {
			fmt.Fprintf(&b, "  warning: %s\n", warn)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func formatRating(r *float64) string {
	if r == nil {
		return "  - "
	}
	return fmt.Sprintf("%.1f", *r)
}

// writeCrops saves one PNG per overlay result, named after the source image
// and the bottle index.
func writeCrops(dir string, files []string, images [][]byte, results []*pipeline.ScanResult) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create crops dir: %w", err)
	}
	for i, r := range results {
		if r == nil || len(r.Results) == 0 {
			continue
		}
		img, _, err := vision.Inspect(images[i])
		if err != nil {
			return fmt.Errorf("decode %s: %w", files[i], err)
		}
		base := strings.TrimSuffix(filepath.Base(files[i]), filepath.Ext(files[i]))
		for _, wr := range r.Results {
			crop := geometry.Crop(img, wr.Box)
			if crop.Bounds().Empty() {
				continue
			}
			name := filepath.Join(dir, fmt.Sprintf("%s_bottle%02d.png", base, wr.BottleIndex))
			if err := imaging.Save(crop, name); err != nil {
				return fmt.Errorf("save crop: %w", err)
			}
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().String("mode", "full", "pipeline mode: full, catalog_only or no_cache")
	scanCmd.Flags().Bool("debug", false, "include intermediate stage data in the result")
	scanCmd.Flags().Duration("deadline", 0, "rating resolution deadline (0 = configured default)")
	scanCmd.Flags().StringP("format", "f", outputFormatJSON, "output format: json or text")
	scanCmd.Flags().StringP("output", "o", "", "write results to a file instead of stdout")
	scanCmd.Flags().String("crops-dir", "", "write a PNG crop of every overlay bottle to this directory")
	scanCmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories of directory arguments")
	scanCmd.Flags().StringSlice("include", nil, "glob patterns for files taken from directories (default: image extensions)")
	scanCmd.Flags().StringSlice("exclude", nil, "glob patterns for files to skip")
	scanCmd.Flags().Int("workers", 0, "concurrent scans for multiple images (0 = configured default)")
}
