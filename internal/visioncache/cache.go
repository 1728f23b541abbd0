// Package visioncache keeps recent vision analyses keyed by image content hash.
//
// Entries expire after a TTL and the cache is bounded both by entry count and
// by the total encoded size of stored analyses. When a bound is exceeded,
// expired entries go first, then the least recently used ones.
package visioncache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/vision"
	"github.com/hashicorp/golang-lru/simplelru"
)

// Config controls cache bounds.
type Config struct {
	TTL           time.Duration
	MaxEntries    int
	MaxBytes      int64
	SweepInterval time.Duration
}

// DefaultConfig returns the production bounds.
func DefaultConfig() Config {
	return Config{
		TTL:           7 * 24 * time.Hour,
		MaxEntries:    1000,
		MaxBytes:      256 << 20,
		SweepInterval: 5 * time.Minute,
	}
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
}

type entry struct {
	payload    []byte
	imageBytes int64
	createdAt  time.Time
	lastAccess time.Time
	// expiresAt is zero for entries that never expire.
	expiresAt time.Time
	hitCount  int64
}

// EntryInfo describes one stored entry without its payload.
type EntryInfo struct {
	Hash           string     `json:"hash"`
	ImageBytes     int64      `json:"image_bytes"`
	ResponseBytes  int64      `json:"response_bytes"`
	HitCount       int64      `json:"hit_count"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// PutOption sets per-entry metadata on Put.
type PutOption func(*putOptions)

type putOptions struct {
	ttl        time.Duration
	imageBytes int64
}

// WithTTL overrides the configured TTL for one entry. A negative ttl stores
// an entry that never expires; zero keeps the configured default.
func WithTTL(ttl time.Duration) PutOption {
	return func(o *putOptions) { o.ttl = ttl }
}

// WithImageBytes records the size of the analyzed image.
func WithImageBytes(n int64) PutOption {
	return func(o *putOptions) { o.imageBytes = n }
}

// Cache is safe for concurrent use.
type Cache struct {
	cfg    Config
	now    func() time.Time
	decode func([]byte) (*vision.Analysis, error)

	mu       sync.Mutex
	lru      *simplelru.LRU
	bytes    int64
	hits     int64
	misses   int64
	evicted  int64
	expired  int64
	expiring bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a cache. Zero fields in cfg take their defaults.
func New(cfg Config) (*Cache, error) {
	def := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	c := &Cache{cfg: cfg, now: time.Now, decode: vision.Decode}
	l, err := simplelru.NewLRU(cfg.MaxEntries, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c.lru = l
	return c, nil
}

// onEvict runs under c.mu for every removal, including capacity evictions
// performed inside lru.Add.
func (c *Cache) onEvict(_, value interface{}) {
	e, ok := value.(*entry)
	if !ok {
		return
	}
	c.bytes -= int64(len(e.payload))
	if c.expiring {
		c.expired++
	} else {
		c.evicted++
	}
}

func (c *Cache) isExpired(e *entry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (c *Cache) expiry(now time.Time, ttl time.Duration) time.Time {
	switch {
	case ttl < 0:
		return time.Time{}
	case ttl == 0:
		ttl = c.cfg.TTL
	}
	return now.Add(ttl)
}

// Get returns the cached analysis for hash. Expired entries are reported as
// misses. A hit bumps the entry's hit count and access time atomically.
func (c *Cache) Get(hash string) (*vision.Analysis, bool) {
	c.mu.Lock()
	now := c.now()
	v, ok := c.lru.Peek(hash)
	if !ok {
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	e := v.(*entry) //nolint:forcetypeassert // only *entry is stored
	if c.isExpired(e, now) {
		c.misses++
		c.mu.Unlock()
		return nil, false
	}
	c.lru.Get(hash)
	e.hitCount++
	e.lastAccess = now
	c.hits++
	payload := e.payload
	c.mu.Unlock()

	a, err := c.decode(payload)
	if err != nil {
		slog.Warn("Dropping undecodable vision cache entry", "hash", hash, "error", err)
		c.mu.Lock()
		// A concurrent Put may have replaced the entry while it was decoded.
		if cur, ok := c.lru.Peek(hash); ok && cur == v {
			c.lru.Remove(hash)
		}
		c.mu.Unlock()
		return nil, false
	}
	return a, true
}

// Put stores analysis under hash, replacing any existing entry. A
// replacement keeps the entry's hit count and restarts its TTL.
func (c *Cache) Put(hash string, analysis *vision.Analysis, opts ...PutOption) error {
	if hash == "" {
		return fmt.Errorf("empty image hash")
	}
	payload, err := vision.Encode(analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	size := int64(len(payload))
	if size > c.cfg.MaxBytes {
		return fmt.Errorf("analysis of %d bytes exceeds cache budget of %d", size, c.cfg.MaxBytes)
	}

	var o putOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	fresh := &entry{
		payload:    payload,
		imageBytes: o.imageBytes,
		createdAt:  now,
		lastAccess: now,
		expiresAt:  c.expiry(now, o.ttl),
	}

	if v, ok := c.lru.Peek(hash); ok {
		old := v.(*entry) //nolint:forcetypeassert // only *entry is stored
		fresh.hitCount = old.hitCount
		if fresh.imageBytes == 0 {
			fresh.imageBytes = old.imageBytes
		}
		c.bytes += size - int64(len(old.payload))
		// Add on a present key swaps the value in place without an eviction callback.
		c.lru.Add(hash, fresh)
		c.shrinkLocked(now, hash)
		return nil
	}

	if c.lru.Len() >= c.cfg.MaxEntries || c.bytes+size > c.cfg.MaxBytes {
		c.dropExpiredLocked(now)
	}
	c.lru.Add(hash, fresh)
	c.bytes += size
	c.shrinkLocked(now, hash)
	return nil
}

// shrinkLocked evicts until the byte budget holds, never evicting keep.
func (c *Cache) shrinkLocked(now time.Time, keep string) {
	if c.bytes <= c.cfg.MaxBytes {
		return
	}
	c.dropExpiredLocked(now)
	for c.bytes > c.cfg.MaxBytes && c.lru.Len() > 1 {
		k, _, ok := c.lru.GetOldest()
		if !ok || k == keep {
			return
		}
		c.lru.RemoveOldest()
	}
}

func (c *Cache) dropExpiredLocked(now time.Time) int {
	c.expiring = true
	defer func() { c.expiring = false }()
	removed := 0
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		if c.isExpired(v.(*entry), now) { //nolint:forcetypeassert // only *entry is stored
			c.lru.Remove(k)
			removed++
		}
	}
	return removed
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropExpiredLocked(c.now())
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// HitCount returns the hit count of an entry without touching its recency.
func (c *Cache) HitCount(hash string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Peek(hash)
	if !ok {
		return 0, false
	}
	return v.(*entry).hitCount, true //nolint:forcetypeassert // only *entry is stored
}

// Entry returns the metadata of a stored entry without touching its recency
// or hit count. Expired entries awaiting the sweeper are still reported.
func (c *Cache) Entry(hash string) (EntryInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Peek(hash)
	if !ok {
		return EntryInfo{}, false
	}
	e := v.(*entry) //nolint:forcetypeassert // only *entry is stored
	info := EntryInfo{
		Hash:           hash,
		ImageBytes:     e.imageBytes,
		ResponseBytes:  int64(len(e.payload)),
		HitCount:       e.hitCount,
		CreatedAt:      e.createdAt,
		LastAccessedAt: e.lastAccess,
	}
	if !e.expiresAt.IsZero() {
		exp := e.expiresAt
		info.ExpiresAt = &exp
	}
	return info, true
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.lru.Len(),
		Bytes:     c.bytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evicted,
		Expired:   c.expired,
	}
}

// Start launches the periodic sweeper. It stops when ctx is done or Stop is called.
func (c *Cache) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					slog.Debug("Swept expired vision cache entries", "removed", n)
				}
			}
		}
	}()
}

// Stop halts the sweeper and waits for it to exit.
func (c *Cache) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}
