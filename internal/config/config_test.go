package config

import (
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/pipeline"
)

const (
	infoLevel  = "info"
	debugLevel = "debug"
)

// TestDefaultConfig verifies that DefaultConfig returns expected values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogLevel != infoLevel {
		t.Errorf("Expected log_level '%s', got %s", infoLevel, cfg.LogLevel)
	}
	if cfg.Verbose {
		t.Error("Expected verbose to be false")
	}

	if cfg.Server.Host != "localhost" {
		t.Errorf("Expected server host 'localhost', got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected server port 8080, got %d", cfg.Server.Port)
	}

	if cfg.Pipeline.Mode != string(pipeline.ModeFull) {
		t.Errorf("Expected pipeline mode %q, got %q", pipeline.ModeFull, cfg.Pipeline.Mode)
	}
	if cfg.Pipeline.RatingWorkers != 4 {
		t.Errorf("Expected rating workers 4, got %d", cfg.Pipeline.RatingWorkers)
	}
	if cfg.Pipeline.RequestDeadline != 20*time.Second {
		t.Errorf("Expected request deadline 20s, got %v", cfg.Pipeline.RequestDeadline)
	}
	if cfg.Pipeline.VisibilityFloor != 0.45 {
		t.Errorf("Expected visibility floor 0.45, got %f", cfg.Pipeline.VisibilityFloor)
	}
	if cfg.Pipeline.Matcher.Threshold != 0.72 {
		t.Errorf("Expected matcher threshold 0.72, got %f", cfg.Pipeline.Matcher.Threshold)
	}

	if cfg.VisionCache.TTL != 7*24*time.Hour {
		t.Errorf("Expected vision cache TTL 168h, got %v", cfg.VisionCache.TTL)
	}
	if cfg.VisionCache.MaxEntries != 1000 {
		t.Errorf("Expected vision cache max entries 1000, got %d", cfg.VisionCache.MaxEntries)
	}
	if cfg.VisionCache.MaxBytesMB != 256 {
		t.Errorf("Expected vision cache 256 MB, got %d", cfg.VisionCache.MaxBytesMB)
	}
	if cfg.LLMCache.PromotionThreshold != 3 {
		t.Errorf("Expected promotion threshold 3, got %d", cfg.LLMCache.PromotionThreshold)
	}
	if cfg.Events.Enabled {
		t.Error("Expected events to be disabled by default")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

// TestValidate covers every rejected field.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"upload size", func(c *Config) { c.Server.MaxUploadMB = 0 }, "invalid max upload size"},
		{"timeout", func(c *Config) { c.Server.TimeoutSec = -1 }, "invalid timeout"},
		{"mode", func(c *Config) { c.Pipeline.Mode = "turbo" }, "turbo"},
		{"visibility floor", func(c *Config) { c.Pipeline.VisibilityFloor = 1.5 }, "pipeline.visibility_floor"},
		{"matcher threshold", func(c *Config) { c.Pipeline.Matcher.Threshold = -0.1 }, "pipeline.matcher.threshold"},
		{"distinctive floor", func(c *Config) { c.Pipeline.Matcher.DistinctiveFloor = 1.2 }, "pipeline.matcher.distinctive_floor"},
		{"generic token count", func(c *Config) { c.Pipeline.Matcher.GenericTokenMinWines = -1 }, "invalid generic token min wines"},
		{"containment", func(c *Config) { c.Pipeline.Grouping.ContainmentThreshold = 2 }, "pipeline.grouping.containment_threshold"},
		{"rating workers", func(c *Config) { c.Pipeline.RatingWorkers = 0 }, "invalid rating workers"},
		{"batch workers", func(c *Config) { c.Pipeline.BatchWorkers = 0 }, "invalid batch workers"},
		{"deadline", func(c *Config) { c.Pipeline.RequestDeadline = 0 }, "invalid request deadline"},
		{"vision provider", func(c *Config) { c.Vision.Provider = "aws" }, "invalid vision provider"},
		{"fixture without path", func(c *Config) { c.Vision.Provider = VisionFixture }, "fixture_dir"},
		{"llm provider", func(c *Config) { c.LLM.Provider = "gemini" }, "invalid llm provider"},
		{"static without file", func(c *Config) { c.LLM.Provider = LLMStatic }, "static_file"},
		{"cache entries", func(c *Config) { c.VisionCache.MaxEntries = 0 }, "vision cache max entries"},
		{"cache ttl", func(c *Config) { c.VisionCache.TTL = 0 }, "vision cache ttl"},
		{"promotion", func(c *Config) { c.LLMCache.PromotionThreshold = 0 }, "promotion threshold"},
		{"catalog dsn", func(c *Config) { c.Catalog.DSN = "  " }, "catalog dsn"},
		{"events without brokers", func(c *Config) { c.Events.Enabled = true }, "events.brokers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

// TestValidateAcceptsAlternateProviders checks the non-default providers.
func TestValidateAcceptsAlternateProviders(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vision.Provider = VisionFixture
	cfg.Vision.FixtureDir = "testdata"
	cfg.LLM.Provider = LLMStatic
	cfg.LLM.StaticFile = "ratings.yaml"
	cfg.VisionCache.Enabled = false
	cfg.VisionCache.MaxEntries = 0
	cfg.Events.Enabled = true
	cfg.Events.Brokers = "localhost:9092"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidateThreshold(t *testing.T) {
	tests := []struct {
		value   float64
		wantErr bool
	}{
		{0.0, false},
		{0.5, false},
		{1.0, false},
		{-0.01, true},
		{1.01, true},
	}
	for _, tt := range tests {
		err := validateThreshold(tt.value, "x")
		if (err != nil) != tt.wantErr {
			t.Errorf("validateThreshold(%f) error = %v, wantErr %v", tt.value, err, tt.wantErr)
		}
	}
}

// TestToPipelineConfig verifies the pipeline conversion.
func TestToPipelineConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.Mode = "catalog_only"
	cfg.Pipeline.RatingWorkers = 8
	cfg.Pipeline.TopN = 5
	cfg.Pipeline.Grouping.MaxProximity = 0.2
	cfg.Pipeline.Matcher.Threshold = 0.8

	pc := cfg.ToPipelineConfig()
	if pc.Mode != pipeline.ModeCatalogOnly {
		t.Errorf("Expected catalog-only mode, got %q", pc.Mode)
	}
	if pc.RatingWorkers != 8 {
		t.Errorf("Expected 8 rating workers, got %d", pc.RatingWorkers)
	}
	if pc.TopN != 5 {
		t.Errorf("Expected TopN 5, got %d", pc.TopN)
	}
	if pc.Grouping.MaxProximity != 0.2 {
		t.Errorf("Expected max proximity 0.2, got %f", pc.Grouping.MaxProximity)
	}
	if pc.Matcher.Threshold != 0.8 {
		t.Errorf("Expected matcher threshold 0.8, got %f", pc.Matcher.Threshold)
	}
	if len(pc.Bands) == 0 {
		t.Error("Expected default bands to be kept")
	}
	if err := pc.Validate(); err != nil {
		t.Errorf("Converted pipeline config should validate, got %v", err)
	}
}

// TestServiceConversions checks the adapter configs.
func TestServiceConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Vision.APIKey = "vision-key"
	cfg.Vision.Labels = []string{"Bottle"}
	cfg.LLM.APIKey = "llm-key"
	cfg.LLM.Model = "gpt-4o"
	cfg.VisionCache.MaxBytesMB = 2
	cfg.Events.Brokers = "b1:9092,b2:9092"

	gc := cfg.ToGoogleConfig()
	if gc.APIKey != "vision-key" || len(gc.Labels) != 1 {
		t.Errorf("Unexpected google config %+v", gc)
	}
	oc := cfg.ToOpenAIConfig()
	if oc.APIKey != "llm-key" || oc.Model != "gpt-4o" {
		t.Errorf("Unexpected openai config %+v", oc)
	}
	vc := cfg.ToVisionCacheConfig()
	if vc.MaxBytes != 2<<20 {
		t.Errorf("Expected 2 MiB, got %d", vc.MaxBytes)
	}
	kc := cfg.ToKafkaConfig()
	if kc.Brokers != "b1:9092,b2:9092" || kc.Topic != "vinoscan.events" {
		t.Errorf("Unexpected kafka config %+v", kc)
	}
	mc := cfg.ToMatcherConfig()
	if mc.Threshold != cfg.Pipeline.Matcher.Threshold {
		t.Errorf("Expected matcher threshold %f, got %f", cfg.Pipeline.Matcher.Threshold, mc.Threshold)
	}
	if mc.DistinctiveFloor != 0.75 || mc.GenericTokenMinWines != 50 {
		t.Errorf("Expected default distinctive gate 0.75/50, got %f/%d", mc.DistinctiveFloor, mc.GenericTokenMinWines)
	}
}
