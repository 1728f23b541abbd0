package llmcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPersister struct {
	mu      sync.Mutex
	saved   map[string]Entry
	saves   int
	loadErr error
}

func newMemPersister() *memPersister { return &memPersister{saved: map[string]Entry{}} }

func (m *memPersister) SaveLLMEntry(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if prev, ok := m.saved[e.Name]; ok && prev.HitCount > e.HitCount {
		e.HitCount = prev.HitCount
	}
	m.saved[e.Name] = e
	return nil
}

func (m *memPersister) LoadLLMEntries(context.Context) ([]Entry, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.saved))
	for _, e := range m.saved {
		out = append(out, e)
	}
	return out, nil
}

func estimate(rating float64) Entry {
	return Entry{Rating: rating, Confidence: 0.8, Provider: "static", Blurb: "Fine."}
}

func TestGetMiss(t *testing.T) {
	c := New()
	_, ok := c.Get("Unknown Wine")
	assert.False(t, ok)
	_, ok = c.Get("")
	assert.False(t, ok)
}

func TestSetAndGetNormalizeKeys(t *testing.T) {
	c := New()
	stored, err := c.Set("  Mystery   RED blend ", estimate(3.9))
	require.NoError(t, err)
	assert.Equal(t, "mystery red blend", stored.Name)
	assert.Equal(t, "Mystery   RED blend", stored.DisplayName)
	assert.Equal(t, int64(0), stored.HitCount)

	got, ok := c.Get("mystery red blend")
	require.True(t, ok)
	assert.InDelta(t, 3.9, got.Rating, 1e-9)
	assert.Equal(t, int64(1), got.HitCount)
}

func TestSetPreservesHitCount(t *testing.T) {
	c := New()
	_, err := c.Set("Mystery Red", estimate(3.9))
	require.NoError(t, err)
	c.Get("Mystery Red")
	c.Get("Mystery Red")

	updated, err := c.Set("mystery red", estimate(4.1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.HitCount)
	assert.InDelta(t, 4.1, updated.Rating, 1e-9)
	assert.Equal(t, 1, c.Stats().TotalEntries)
}

func TestSetRejectsEmptyName(t *testing.T) {
	_, err := New().Set(" ", estimate(3))
	assert.Error(t, err)
}

func TestPromotionCandidatesAtThreshold(t *testing.T) {
	c := New(WithPromotionThreshold(3))
	_, err := c.Set("Alpha", estimate(4))
	require.NoError(t, err)

	for i := 1; i <= 2; i++ {
		c.Get("Alpha")
	}
	assert.Empty(t, c.PromotionCandidates(3))

	c.Get("Alpha")
	candidates := c.PromotionCandidates(3)
	require.Len(t, candidates, 1)
	assert.Equal(t, "alpha", candidates[0].Name)
	assert.Equal(t, int64(3), candidates[0].HitCount)
}

func TestPromotionCandidatesSorted(t *testing.T) {
	c := New()
	hits := map[string]int{"Bravo": 5, "Alpha": 3, "Charlie": 7, "Delta": 1, "Echo": 3}
	for name, n := range hits {
		_, err := c.Set(name, estimate(4))
		require.NoError(t, err)
		for range n {
			c.Get(name)
		}
	}

	got := c.PromotionCandidates(3)
	names := make([]string, len(got))
	for i, e := range got {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"charlie", "bravo", "alpha", "echo"}, names)

	stats := c.Stats()
	assert.Equal(t, 5, stats.TotalEntries)
	assert.Equal(t, int64(19), stats.TotalHits)
	assert.Equal(t, 4, stats.PromotionCandidateCount)
}

func TestPromotionHookFiresOnce(t *testing.T) {
	var fired atomic.Int32
	c := New(WithPromotionThreshold(3), WithPromotionHook(func(e Entry) {
		assert.Equal(t, int64(3), e.HitCount)
		fired.Add(1)
	}))
	_, err := c.Set("Alpha", estimate(4))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				c.Get("alpha")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fired.Load())
	got, ok := c.Peek("alpha")
	require.True(t, ok)
	assert.Equal(t, int64(200), got.HitCount)
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	c := New()
	e := estimate(4)
	e.ReviewSnippets = []string{"one"}
	_, err := c.Set("Alpha", e)
	require.NoError(t, err)

	got, _ := c.Get("alpha")
	got.ReviewSnippets[0] = "changed"
	again, _ := c.Peek("alpha")
	assert.Equal(t, "one", again.ReviewSnippets[0])
}

func TestWriteThroughAndWarm(t *testing.T) {
	p := newMemPersister()
	c := New(WithPersister(p))
	_, err := c.Set("Alpha", estimate(4))
	require.NoError(t, err)
	c.Get("alpha")
	c.Get("alpha")

	assert.Equal(t, 3, p.saves)
	assert.Equal(t, int64(2), p.saved["alpha"].HitCount)

	restored := New(WithPersister(p))
	n, err := restored.Warm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, ok := restored.Peek("Alpha")
	require.True(t, ok)
	assert.Equal(t, int64(2), got.HitCount)
}

func TestWarmWithoutPersister(t *testing.T) {
	n, err := New().Warm(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWarmError(t *testing.T) {
	p := newMemPersister()
	p.loadErr = errors.New("db down")
	_, err := New(WithPersister(p)).Warm(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestEntriesSpreadAcrossShards(t *testing.T) {
	c := New()
	for i := range 200 {
		_, err := c.Set(fmt.Sprintf("wine %d", i), estimate(3))
		require.NoError(t, err)
	}
	used := 0
	for i := range c.shards {
		if len(c.shards[i].entries) > 0 {
			used++
		}
	}
	assert.Greater(t, used, 1)
	assert.Equal(t, 200, c.Stats().TotalEntries)
}

func TestGetUpdatesAccessTime(t *testing.T) {
	c := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	_, err := c.Set("Alpha", estimate(4))
	require.NoError(t, err)

	c.now = func() time.Time { return base.Add(time.Hour) }
	got, ok := c.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, base, got.CreatedAt)
	assert.Equal(t, base.Add(time.Hour), got.LastAccessedAt)
}
