package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// BatchConfig controls RecognizeBatch.
type BatchConfig struct {
	MaxWorkers       int                        // Number of concurrent scans (0 = runtime.NumCPU())
	ProgressCallback ProgressCallback           // Optional progress reporting
	ErrorHandler     func(index int, err error) // Optional per-image error handler
}

// DefaultBatchConfig returns defaults for batch scanning.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{MaxWorkers: runtime.NumCPU()}
}

type scanJob struct {
	index int
	image []byte
}

type scanOutcome struct {
	index  int
	result *ScanResult
	err    error
}

// RecognizeBatch scans several images concurrently. Results come back in
// input order; a failed image leaves a nil slot and the first error is
// returned alongside the partial results.
func (p *Pipeline) RecognizeBatch(ctx context.Context, images [][]byte, opts Options, cfg BatchConfig) ([]*ScanResult, error) {
	if len(images) == 0 {
		return nil, errors.New("no images provided")
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	if cfg.ProgressCallback != nil {
		cfg.ProgressCallback.OnStart(len(images))
		defer cfg.ProgressCallback.OnComplete()
	}

	jobs := make(chan scanJob, len(images))
	results := make(chan scanOutcome, len(images))

	var wg sync.WaitGroup
	for range min(cfg.MaxWorkers, len(images)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					return
				}
				r, err := p.Recognize(ctx, job.image, opts)
				results <- scanOutcome{index: job.index, result: r, err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, img := range images {
			select {
			case jobs <- scanJob{index: i, image: img}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]*ScanResult, len(images))
	errs := make([]error, len(images))
	done := 0
	for r := range results {
		ordered[r.index] = r.result
		errs[r.index] = r.err
		done++
		if cfg.ProgressCallback != nil {
			if r.err != nil {
				cfg.ProgressCallback.OnError(r.index, r.err)
			}
			cfg.ProgressCallback.OnProgress(done, len(images))
		}
	}

	if err := ctx.Err(); err != nil {
		return ordered, err
	}

	var firstErr error
	for i, err := range errs {
		if err == nil {
			continue
		}
		if cfg.ErrorHandler != nil {
			cfg.ErrorHandler(i, err)
		}
		if firstErr == nil {
			firstErr = fmt.Errorf("image %d: %w", i, err)
		}
	}
	return ordered, firstErr
}
