// Package catalogsync writes enrichment discovered during scans back onto
// catalog records. Writes are idempotent and serialized per wine name.
package catalogsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/catalog"
	"github.com/MeKo-Tech/vinoscan/internal/textnorm"
)

// Catalog is the persistence surface the syncer needs.
type Catalog interface {
	FindByName(ctx context.Context, name string) (*catalog.Wine, bool, error)
	UpdateDescription(ctx context.Context, id uint, text string) error
	AddReview(ctx context.Context, wineID uint, text, source string) (bool, error)
}

// Enrichment is text observed for one wine during a scan.
type Enrichment struct {
	Name        string
	Description string
	Reviews     []string
	Source      string
}

// Empty reports whether there is nothing to write.
func (e Enrichment) Empty() bool {
	if strings.TrimSpace(e.Description) != "" {
		return false
	}
	for _, r := range e.Reviews {
		if strings.TrimSpace(r) != "" {
			return false
		}
	}
	return true
}

// Result counts writes made by a sync.
type Result struct {
	Wines               int
	DescriptionsWritten int
	ReviewsAdded        int
}

func (r *Result) add(o Result) {
	r.Wines += o.Wines
	r.DescriptionsWritten += o.DescriptionsWritten
	r.ReviewsAdded += o.ReviewsAdded
}

// Syncer applies enrichment to the catalog.
type Syncer struct {
	catalog Catalog
	timeout time.Duration
	locks   *keyedMutex
	wg      sync.WaitGroup
	onDone  func(Result, error)
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithTimeout bounds each detached sync run.
func WithTimeout(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCompletionHook is called after every detached run.
func WithCompletionHook(fn func(Result, error)) Option {
	return func(s *Syncer) { s.onDone = fn }
}

// New creates a syncer over c.
func New(c Catalog, opts ...Option) *Syncer {
	s := &Syncer{catalog: c, timeout: 10 * time.Second, locks: newKeyedMutex()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync writes e onto the catalog record of the same name. A description is
// written only when the record has none; reviews already present are skipped.
// Unknown wines and empty enrichment produce no writes.
func (s *Syncer) Sync(ctx context.Context, e Enrichment) (Result, error) {
	if e.Empty() {
		return Result{}, nil
	}
	key := textnorm.Key(e.Name)
	if key == "" {
		return Result{}, nil
	}
	unlock := s.locks.lock(key)
	defer unlock()

	w, found, err := s.catalog.FindByName(ctx, e.Name)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return Result{}, nil
	}

	res := Result{Wines: 1}
	desc := strings.TrimSpace(e.Description)
	if desc != "" && strings.TrimSpace(w.Description) == "" {
		if err := s.catalog.UpdateDescription(ctx, w.ID, desc); err != nil {
			return res, err
		}
		res.DescriptionsWritten++
	}

	source := e.Source
	if source == "" {
		source = "scan"
	}
	for _, text := range e.Reviews {
		created, err := s.catalog.AddReview(ctx, w.ID, text, source)
		if err != nil {
			return res, err
		}
		if created {
			res.ReviewsAdded++
		}
	}
	return res, nil
}

// SyncAll syncs every item, continuing past failures. The first error is returned.
func (s *Syncer) SyncAll(ctx context.Context, items []Enrichment) (Result, error) {
	var total Result
	var firstErr error
	for _, it := range items {
		r, err := s.Sync(ctx, it)
		total.add(r)
		if err != nil {
			slog.Warn("Catalog sync failed", "name", it.Name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("sync %q: %w", it.Name, err)
			}
		}
	}
	return total, firstErr
}

// Dispatch runs SyncAll in the background. The caller never waits for it;
// failures are only logged.
func (s *Syncer) Dispatch(items []Enrichment) {
	pending := make([]Enrichment, 0, len(items))
	for _, it := range items {
		if !it.Empty() {
			pending = append(pending, it)
		}
	}
	if len(pending) == 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		res, err := s.SyncAll(ctx, pending)
		slog.Debug("Catalog sync finished",
			"wines", res.Wines, "descriptions", res.DescriptionsWritten, "reviews", res.ReviewsAdded)
		if s.onDone != nil {
			s.onDone(res, err)
		}
	}()
}

// Wait blocks until every dispatched run has finished.
func (s *Syncer) Wait() { s.wg.Wait() }

// keyedMutex hands out one mutex per key, dropping it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex { return &keyedMutex{locks: make(map[string]*refMutex)} }

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
