package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/MeKo-Tech/vinoscan/internal/catalog"
	"github.com/MeKo-Tech/vinoscan/internal/catalogsync"
	"github.com/MeKo-Tech/vinoscan/internal/config"
	"github.com/MeKo-Tech/vinoscan/internal/events"
	"github.com/MeKo-Tech/vinoscan/internal/llm"
	"github.com/MeKo-Tech/vinoscan/internal/llmcache"
	"github.com/MeKo-Tech/vinoscan/internal/pipeline"
	"github.com/MeKo-Tech/vinoscan/internal/vision"
	"github.com/MeKo-Tech/vinoscan/internal/visioncache"
	"gopkg.in/yaml.v3"
)

// app owns everything a scan needs and releases it in reverse order.
type app struct {
	cfg         *config.Config
	store       *catalog.Store
	pipeline    *pipeline.Pipeline
	visionCache *visioncache.Cache
	llmCache    *llmcache.Cache
	publisher   events.Publisher

	closeOnce sync.Once
	closeErr  error
}

// buildApp opens the catalog and wires the pipeline described by cfg.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	store, err := catalog.Open(cfg.Catalog.DSN)
	if err != nil {
		return nil, err
	}
	a.store = store

	if cfg.Catalog.SeedFile != "" {
		res, err := store.ImportFile(ctx, cfg.Catalog.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("seed catalog: %w", err)
		}
		slog.Info("Seeded catalog", "file", cfg.Catalog.SeedFile,
			"wines", res.Wines, "aliases", res.Aliases, "reviews", res.Reviews, "skipped", res.Skipped)
	}

	m, err := store.LoadMatcher(ctx, cfg.ToMatcherConfig())
	if err != nil {
		return nil, err
	}
	slog.Debug("Loaded catalog matcher", "wines", m.Len(), "aliases", m.AliasCount())

	adapter, err := newVisionAdapter(cfg)
	if err != nil {
		return nil, err
	}

	a.publisher, err = newPublisher(cfg)
	if err != nil {
		return nil, err
	}

	b := pipeline.NewBuilder().
		WithConfig(cfg.ToPipelineConfig()).
		WithVision(adapter).
		WithMatcher(m).
		WithPublisher(a.publisher).
		WithSyncer(catalogsync.New(store,
			catalogsync.WithTimeout(cfg.Catalog.SyncTimeout),
			catalogsync.WithCompletionHook(pipeline.RecordSync)))

	if cfg.VisionCache.Enabled {
		a.visionCache, err = visioncache.New(cfg.ToVisionCacheConfig())
		if err != nil {
			return nil, err
		}
		a.visionCache.Start(ctx)
		b = b.WithVisionCache(a.visionCache)
	}

	estimator, err := newEstimator(cfg)
	if err != nil {
		return nil, err
	}
	if estimator != nil {
		b = b.WithEstimator(estimator)
	}

	if cfg.LLMCache.Enabled {
		a.llmCache = newLLMCache(cfg, store, a.publisher)
		n, err := a.llmCache.Warm(ctx)
		if err != nil {
			slog.Warn("Failed to warm llm cache", "error", err)
		} else if n > 0 {
			slog.Debug("Warmed llm cache", "entries", n)
		}
		b = b.WithLLMCache(a.llmCache)
	}

	a.pipeline, err = b.Build()
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

// Close waits for catalog writes and releases resources. Later calls are no-ops.
func (a *app) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.pipeline != nil {
			errs = append(errs, a.pipeline.Close())
		} else if a.publisher != nil {
			errs = append(errs, a.publisher.Close())
		}
		if a.visionCache != nil {
			a.visionCache.Stop()
		}
		if a.store != nil {
			errs = append(errs, a.store.Close())
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func newVisionAdapter(cfg *config.Config) (vision.Adapter, error) {
	switch cfg.Vision.Provider {
	case config.VisionFixture:
		return vision.NewFixtureAdapter(cfg.Vision.FixtureDir, cfg.Vision.FixturePath)
	default:
		gc := cfg.ToGoogleConfig()
		return vision.NewGoogleAdapter(gc, &http.Client{Timeout: gc.Timeout})
	}
}

// newEstimator returns nil when no language model is configured.
func newEstimator(cfg *config.Config) (llm.Estimator, error) {
	switch cfg.LLM.Provider {
	case config.LLMNone:
		return nil, nil
	case config.LLMStatic:
		return loadStaticEstimator(cfg.LLM.StaticFile)
	default:
		if cfg.LLM.APIKey == "" {
			slog.Warn("No llm api key configured, rating estimates disabled")
			return nil, nil
		}
		return llm.NewOpenAIEstimator(cfg.ToOpenAIConfig())
	}
}

type staticEstimate struct {
	Name           string   `yaml:"name"`
	CanonicalName  string   `yaml:"canonical_name"`
	Rating         *float64 `yaml:"rating"`
	Confidence     float64  `yaml:"confidence"`
	WineType       string   `yaml:"wine_type"`
	Region         string   `yaml:"region"`
	Varietal       string   `yaml:"varietal"`
	Brand          string   `yaml:"brand"`
	Blurb          string   `yaml:"blurb"`
	ReviewSnippets []string `yaml:"review_snippets"`
}

type staticFile struct {
	Provider  string           `yaml:"provider"`
	Estimates []staticEstimate `yaml:"estimates"`
}

// loadStaticEstimator reads a YAML table of canned estimates.
func loadStaticEstimator(path string) (*llm.StaticEstimator, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied estimate table
	if err != nil {
		return nil, fmt.Errorf("read static estimates: %w", err)
	}
	var doc staticFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode static estimates %s: %w", path, err)
	}
	if doc.Provider == "" {
		doc.Provider = config.LLMStatic
	}
	table := make(map[string]llm.Estimate, len(doc.Estimates))
	for _, se := range doc.Estimates {
		if se.Name == "" {
			continue
		}
		canonical := se.CanonicalName
		if canonical == "" {
			canonical = se.Name
		}
		table[se.Name] = llm.Estimate{
			CanonicalName:  canonical,
			Rating:         se.Rating,
			Confidence:     se.Confidence,
			WineType:       se.WineType,
			Region:         se.Region,
			Varietal:       se.Varietal,
			Brand:          se.Brand,
			Blurb:          se.Blurb,
			ReviewSnippets: se.ReviewSnippets,
		}
	}
	return llm.NewStaticEstimator(doc.Provider, table), nil
}

func newLLMCache(cfg *config.Config, store *catalog.Store, pub events.Publisher) *llmcache.Cache {
	opts := []llmcache.Option{
		llmcache.WithPromotionThreshold(cfg.LLMCache.PromotionThreshold),
		llmcache.WithPromotionHook(promotionPublisher(pub)),
	}
	if cfg.LLMCache.Persist {
		opts = append(opts, llmcache.WithPersister(store))
	}
	return llmcache.New(opts...)
}

// promotionPublisher announces entries that crossed the promotion threshold.
func promotionPublisher(pub events.Publisher) llmcache.PromotionFunc {
	return func(e llmcache.Entry) {
		slog.Info("LLM estimate reached promotion threshold", "name", e.Name, "hits", e.HitCount)
		ev, err := events.New(events.KindPromotionCandidate, e.Name, events.PromotionCandidate{
			Name:        e.Name,
			DisplayName: e.DisplayName,
			HitCount:    e.HitCount,
			Rating:      e.Rating,
			Provider:    e.Provider,
		})
		if err != nil {
			slog.Warn("Failed to build promotion event", "name", e.Name, "error", err)
			return
		}
		if err := pub.Publish(context.Background(), ev); err != nil {
			slog.Warn("Failed to publish promotion event", "name", e.Name, "error", err)
		}
	}
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	if !cfg.Events.Enabled {
		return events.Noop{}, nil
	}
	return events.NewKafkaPublisher(cfg.ToKafkaConfig())
}
