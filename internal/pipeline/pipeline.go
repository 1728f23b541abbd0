// Package pipeline turns a shelf photograph into rated wine results.
//
// A scan moves through fixed stages: the image is resolved to detections and
// text (through the vision cache when enabled), text is grouped per bottle,
// names are matched against the catalog, unresolved names are rated through
// the LLM cache and language model, and the merged results are partitioned
// into overlay and fallback lists. Enrichment is written back to the catalog
// after the result has been returned.
package pipeline

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/catalogsync"
	"github.com/MeKo-Tech/vinoscan/internal/events"
	"github.com/MeKo-Tech/vinoscan/internal/llm"
	"github.com/MeKo-Tech/vinoscan/internal/llmcache"
	"github.com/MeKo-Tech/vinoscan/internal/matcher"
	"github.com/MeKo-Tech/vinoscan/internal/ocrgroup"
	"github.com/MeKo-Tech/vinoscan/internal/vision"
	"github.com/MeKo-Tech/vinoscan/internal/visioncache"
	"golang.org/x/sync/singleflight"
)

// ErrVisionUnavailable wraps any failure of the vision service. Scans that hit
// it fail; nothing can be reported without detections.
var ErrVisionUnavailable = errors.New("vision service unavailable")

// Band maps a confidence floor to a rendering hint.
type Band struct {
	Min      float64 `mapstructure:"min" yaml:"min" json:"min"`
	Opacity  float64 `mapstructure:"opacity" yaml:"opacity" json:"opacity"`
	Tappable bool    `mapstructure:"tappable" yaml:"tappable" json:"tappable"`
}

// DefaultBands returns the overlay bands, highest floor first.
func DefaultBands() []Band {
	return []Band{
		{Min: 0.85, Opacity: 1.0, Tappable: true},
		{Min: 0.65, Opacity: 0.75, Tappable: true},
		{Min: 0.45, Opacity: 0.5, Tappable: false},
	}
}

// Config holds orchestrator tuning.
type Config struct {
	Mode            Mode
	RatingWorkers   int
	RequestDeadline time.Duration
	// LLMFallbackBelow triggers the language model for catalog matches under it.
	LLMFallbackBelow float64
	// LLMPreferenceMargin is how much an estimate must beat the catalog by to win.
	LLMPreferenceMargin float64
	// VisibilityFloor is the minimum confidence for overlay placement.
	VisibilityFloor float64
	// OrphanMinConfidence is the catalog confidence an orphan needs to be reported.
	OrphanMinConfidence float64
	TopN                int
	Bands               []Band
	Grouping            ocrgroup.Config
	Matcher             matcher.Config
}

// DefaultConfig returns orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                ModeFull,
		RatingWorkers:       4,
		RequestDeadline:     20 * time.Second,
		LLMFallbackBelow:    0.7,
		LLMPreferenceMargin: 0.15,
		VisibilityFloor:     0.45,
		OrphanMinConfidence: 0.8,
		TopN:                3,
		Bands:               DefaultBands(),
		Grouping:            ocrgroup.DefaultConfig(),
		Matcher:             matcher.DefaultConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.RatingWorkers <= 0 {
		return fmt.Errorf("rating workers must be positive, got %d", c.RatingWorkers)
	}
	if c.RequestDeadline <= 0 {
		return fmt.Errorf("request deadline must be positive, got %v", c.RequestDeadline)
	}
	if c.VisibilityFloor < 0 || c.VisibilityFloor > 1 {
		return fmt.Errorf("visibility floor must be in [0,1], got %v", c.VisibilityFloor)
	}
	if len(c.Bands) == 0 {
		return errors.New("at least one confidence band is required")
	}
	for i := 1; i < len(c.Bands); i++ {
		if c.Bands[i].Min >= c.Bands[i-1].Min {
			return errors.New("confidence bands must be ordered by descending floor")
		}
	}
	if c.TopN < 0 {
		return fmt.Errorf("top-n must not be negative, got %d", c.TopN)
	}
	return nil
}

// Pipeline runs scans. It is safe for concurrent use; the caches and the
// matcher are shared by every scan.
type Pipeline struct {
	cfg         Config
	vision      vision.Adapter
	matcher     atomic.Pointer[matcher.Matcher]
	visionCache *visioncache.Cache
	estimator   llm.Estimator
	llmCache    *llmcache.Cache
	syncer      *catalogsync.Syncer
	publisher   events.Publisher
	flights     singleflight.Group
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	p Pipeline
}

// NewBuilder creates a builder with default configuration.
func NewBuilder() *Builder {
	b := &Builder{}
	b.p.cfg = DefaultConfig()
	return b
}

// WithConfig replaces the orchestrator configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.p.cfg = cfg
	return b
}

// WithVision sets the vision adapter. It is required.
func (b *Builder) WithVision(a vision.Adapter) *Builder {
	b.p.vision = a
	return b
}

// WithMatcher sets the catalog matcher.
func (b *Builder) WithMatcher(m *matcher.Matcher) *Builder {
	b.p.matcher.Store(m)
	return b
}

// WithVisionCache enables the vision response cache.
func (b *Builder) WithVisionCache(c *visioncache.Cache) *Builder {
	b.p.visionCache = c
	return b
}

// WithEstimator sets the language-model estimator.
func (b *Builder) WithEstimator(e llm.Estimator) *Builder {
	b.p.estimator = e
	return b
}

// WithLLMCache enables the rating cache.
func (b *Builder) WithLLMCache(c *llmcache.Cache) *Builder {
	b.p.llmCache = c
	return b
}

// WithSyncer enables catalog write-back.
func (b *Builder) WithSyncer(s *catalogsync.Syncer) *Builder {
	b.p.syncer = s
	return b
}

// WithPublisher sets the event publisher.
func (b *Builder) WithPublisher(p events.Publisher) *Builder {
	b.p.publisher = p
	return b
}

// Build validates the configuration and returns the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if b.p.vision == nil {
		return nil, errors.New("pipeline requires a vision adapter")
	}
	if err := b.p.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	p := &Pipeline{
		cfg:         b.p.cfg,
		vision:      b.p.vision,
		visionCache: b.p.visionCache,
		estimator:   b.p.estimator,
		llmCache:    b.p.llmCache,
		syncer:      b.p.syncer,
		publisher:   b.p.publisher,
	}
	m := b.p.matcher.Load()
	if m == nil {
		m = matcher.New(nil, nil, b.p.cfg.Matcher)
	}
	p.matcher.Store(m)
	if p.publisher == nil {
		p.publisher = events.Noop{}
	}
	return p, nil
}

// Config returns the orchestrator configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Matcher returns the current catalog matcher.
func (p *Pipeline) Matcher() *matcher.Matcher { return p.matcher.Load() }

// SetMatcher swaps in a rebuilt matcher. Scans already running keep the old one.
func (p *Pipeline) SetMatcher(m *matcher.Matcher) {
	if m != nil {
		p.matcher.Store(m)
	}
}

// VisionCache returns the vision cache, or nil when disabled.
func (p *Pipeline) VisionCache() *visioncache.Cache { return p.visionCache }

// LLMCache returns the rating cache, or nil when disabled.
func (p *Pipeline) LLMCache() *llmcache.Cache { return p.llmCache }

// DefaultOptions returns the options for the configured mode.
func (p *Pipeline) DefaultOptions() Options { return OptionsFor(p.cfg.Mode) }

// WaitForSync blocks until detached catalog writes have finished.
func (p *Pipeline) WaitForSync() {
	if p.syncer != nil {
		p.syncer.Wait()
	}
}

// Close waits for background work and closes the publisher.
func (p *Pipeline) Close() error {
	p.WaitForSync()
	return p.publisher.Close()
}
