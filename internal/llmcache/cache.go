// Package llmcache remembers language-model rating estimates by normalized
// wine name and tracks how often each name is requested.
package llmcache

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/textnorm"
)

const shardCount = 16

// Entry is one cached estimate.
type Entry struct {
	Name           string    `json:"name" yaml:"name"`
	DisplayName    string    `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Rating         float64   `json:"rating" yaml:"rating"`
	Confidence     float64   `json:"confidence" yaml:"confidence"`
	Provider       string    `json:"provider" yaml:"provider"`
	WineType       string    `json:"wine_type,omitempty" yaml:"wine_type,omitempty"`
	Region         string    `json:"region,omitempty" yaml:"region,omitempty"`
	Varietal       string    `json:"varietal,omitempty" yaml:"varietal,omitempty"`
	Brand          string    `json:"brand,omitempty" yaml:"brand,omitempty"`
	Blurb          string    `json:"blurb,omitempty" yaml:"blurb,omitempty"`
	ReviewSnippets []string  `json:"review_snippets,omitempty" yaml:"review_snippets,omitempty"`
	HitCount       int64     `json:"hit_count" yaml:"hit_count"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at" yaml:"last_accessed_at"`
}

func (e Entry) clone() Entry {
	e.ReviewSnippets = slices.Clone(e.ReviewSnippets)
	return e
}

// Stats is a read-only aggregate over the cache.
type Stats struct {
	TotalEntries            int   `json:"total_entries"`
	TotalHits               int64 `json:"total_hits"`
	PromotionCandidateCount int   `json:"promotion_candidate_count"`
	PromotionThreshold      int64 `json:"promotion_threshold"`
}

// Persister stores entries durably. Implementations must upsert by Name and
// never lower a stored hit count.
type Persister interface {
	SaveLLMEntry(ctx context.Context, e Entry) error
	LoadLLMEntries(ctx context.Context) ([]Entry, error)
}

// PromotionFunc is invoked once when an entry's hit count reaches the
// promotion threshold.
type PromotionFunc func(Entry)

// Option configures a Cache.
type Option func(*Cache)

// WithPersister enables write-through persistence.
func WithPersister(p Persister) Option { return func(c *Cache) { c.persister = p } }

// WithPromotionThreshold sets the hit count at which entries become promotion candidates.
func WithPromotionThreshold(n int64) Option {
	return func(c *Cache) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// WithPromotionHook registers fn to be called when an entry reaches the threshold.
func WithPromotionHook(fn PromotionFunc) Option { return func(c *Cache) { c.onPromote = fn } }

// WithPersistTimeout bounds each persistence call.
func WithPersistTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.persistTimeout = d
		}
	}
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// Cache is safe for concurrent use. Mutations on one key are atomic; keys in
// different shards never contend.
type Cache struct {
	shards         [shardCount]shard
	now            func() time.Time
	persister      Persister
	persistTimeout time.Duration
	threshold      int64
	onPromote      PromotionFunc
}

// DefaultPromotionThreshold is the hit count that marks a promotion candidate.
const DefaultPromotionThreshold = 3

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		now:            time.Now,
		threshold:      DefaultPromotionThreshold,
		persistTimeout: 2 * time.Second,
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]*Entry)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache key for name.
func Key(name string) string { return textnorm.Key(name) }

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.shards[h.Sum32()%shardCount]
}

// PromotionThreshold returns the configured threshold.
func (c *Cache) PromotionThreshold() int64 { return c.threshold }

// Get returns the entry for name, incrementing its hit count and access time.
func (c *Cache) Get(name string) (Entry, bool) {
	key := Key(name)
	if key == "" {
		return Entry{}, false
	}
	s := c.shardFor(key)
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return Entry{}, false
	}
	e.HitCount++
	e.LastAccessedAt = c.now()
	snapshot := e.clone()
	s.mu.Unlock()

	if snapshot.HitCount == c.threshold && c.onPromote != nil {
		c.onPromote(snapshot)
	}
	c.persist(snapshot)
	return snapshot, true
}

// Peek returns the entry without counting a hit.
func (c *Cache) Peek(name string) (Entry, bool) {
	key := Key(name)
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Set creates or overwrites the entry for name. An existing hit count and
// creation time are preserved; a new entry starts at zero hits.
func (c *Cache) Set(name string, e Entry) (Entry, error) {
	key := Key(name)
	if key == "" {
		return Entry{}, fmt.Errorf("empty wine name")
	}
	e = e.clone()
	e.Name = key
	if e.DisplayName == "" {
		e.DisplayName = strings.TrimSpace(name)
	}
	now := c.now()

	s := c.shardFor(key)
	s.mu.Lock()
	if prev, ok := s.entries[key]; ok {
		e.HitCount = prev.HitCount
		e.CreatedAt = prev.CreatedAt
		e.LastAccessedAt = prev.LastAccessedAt
	} else {
		e.HitCount = 0
		e.CreatedAt = now
		e.LastAccessedAt = now
	}
	stored := e
	s.entries[key] = &stored
	snapshot := stored.clone()
	s.mu.Unlock()

	c.persist(snapshot)
	return snapshot, nil
}

// PromotionCandidates returns entries with at least minHits hits, most hit
// first. Equal counts sort by name.
func (c *Cache) PromotionCandidates(minHits int64) []Entry {
	var out []Entry
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for _, e := range s.entries {
			if e.HitCount >= minHits {
				out = append(out, e.clone())
			}
		}
		s.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if a.HitCount != b.HitCount {
			if a.HitCount > b.HitCount {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Stats returns aggregate counters.
func (c *Cache) Stats() Stats {
	st := Stats{PromotionThreshold: c.threshold}
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for _, e := range s.entries {
			st.TotalEntries++
			st.TotalHits += e.HitCount
			if e.HitCount >= c.threshold {
				st.PromotionCandidateCount++
			}
		}
		s.mu.Unlock()
	}
	return st
}

// Warm loads persisted entries. Entries already in memory keep the larger hit count.
func (c *Cache) Warm(ctx context.Context) (int, error) {
	if c.persister == nil {
		return 0, nil
	}
	entries, err := c.persister.LoadLLMEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("load llm cache entries: %w", err)
	}
	loaded := 0
	for _, e := range entries {
		key := Key(e.Name)
		if key == "" {
			continue
		}
		e = e.clone()
		e.Name = key
		s := c.shardFor(key)
		s.mu.Lock()
		if prev, ok := s.entries[key]; !ok || prev.HitCount < e.HitCount {
			s.entries[key] = &e
			loaded++
		}
		s.mu.Unlock()
	}
	return loaded, nil
}

func (c *Cache) persist(e Entry) {
	if c.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.persistTimeout)
	defer cancel()
	if err := c.persister.SaveLLMEntry(ctx, e); err != nil {
		slog.Warn("Failed to persist llm cache entry", "name", e.Name, "error", err)
	}
}
