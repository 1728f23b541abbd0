package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/events"
	"github.com/MeKo-Tech/vinoscan/internal/llm"
	"github.com/MeKo-Tech/vinoscan/internal/llmcache"
	"github.com/MeKo-Tech/vinoscan/internal/matcher"
	"github.com/MeKo-Tech/vinoscan/internal/ocrgroup"
	"github.com/MeKo-Tech/vinoscan/internal/pipeline"
	"github.com/MeKo-Tech/vinoscan/internal/vision"
	"github.com/MeKo-Tech/vinoscan/internal/visioncache"
)

// Provider names.
const (
	VisionGoogle  = "google"
	VisionFixture = "fixture"

	LLMOpenAI = "openai"
	LLMStatic = "static"
	LLMNone   = "none"
)

// DefaultConfig returns a configuration with default values.
func DefaultConfig() Config {
	pc := pipeline.DefaultConfig()
	gc := vision.DefaultGoogleConfig()
	oc := llm.DefaultOpenAIConfig()
	vc := visioncache.DefaultConfig()

	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     20,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 30,
				RequestsPerHour:   600,
			},
		},
		Pipeline: PipelineConfig{
			Mode:                string(pc.Mode),
			RatingWorkers:       pc.RatingWorkers,
			BatchWorkers:        4,
			RequestDeadline:     pc.RequestDeadline,
			LLMFallbackBelow:    pc.LLMFallbackBelow,
			LLMPreferenceMargin: pc.LLMPreferenceMargin,
			VisibilityFloor:     pc.VisibilityFloor,
			OrphanMinConfidence: pc.OrphanMinConfidence,
			TopN:                pc.TopN,
			Grouping: GroupingConfig{
				ContainmentThreshold: pc.Grouping.ContainmentThreshold,
				MaxProximity:         pc.Grouping.MaxProximity,
				MinTextConfidence:    pc.Grouping.MinTextConfidence,
			},
			Matcher: MatcherConfig{
				Threshold:            pc.Matcher.Threshold,
				MaxFuzzyConfidence:   pc.Matcher.MaxFuzzyConfidence,
				JaroWinklerWeight:    pc.Matcher.JaroWinklerWeight,
				TokenFloor:           pc.Matcher.TokenFloor,
				DistinctiveFloor:     pc.Matcher.DistinctiveFloor,
				GenericTokenMinWines: pc.Matcher.GenericTokenMinWines,
				MaxCandidates:        pc.Matcher.MaxCandidates,
			},
		},
		Vision: VisionConfig{
			Provider:   VisionGoogle,
			Endpoint:   gc.Endpoint,
			Timeout:    gc.Timeout,
			MaxObjects: gc.MaxObjects,
			Labels:     gc.Labels,
		},
		LLM: LLMConfig{
			Provider:    LLMOpenAI,
			Model:       oc.Model,
			Timeout:     oc.Timeout,
			Temperature: oc.Temperature,
			MaxRetries:  oc.MaxRetries,
		},
		VisionCache: VisionCacheConfig{
			Enabled:       true,
			TTL:           vc.TTL,
			MaxEntries:    vc.MaxEntries,
			MaxBytesMB:    int(vc.MaxBytes >> 20),
			SweepInterval: vc.SweepInterval,
		},
		LLMCache: LLMCacheConfig{
			Enabled:            true,
			PromotionThreshold: llmcache.DefaultPromotionThreshold,
			Persist:            true,
		},
		Catalog: CatalogConfig{
			DSN:         "vinoscan.db",
			SyncTimeout: 10 * time.Second,
		},
		Events: EventsConfig{
			Topic:        "vinoscan.events",
			ClientID:     "vinoscan",
			FlushTimeout: 5 * time.Second,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}

	if _, err := pipeline.ParseMode(c.Pipeline.Mode); err != nil {
		return err
	}
	thresholds := map[string]float64{
		"pipeline.llm_fallback_below":             c.Pipeline.LLMFallbackBelow,
		"pipeline.llm_preference_margin":          c.Pipeline.LLMPreferenceMargin,
		"pipeline.visibility_floor":               c.Pipeline.VisibilityFloor,
		"pipeline.orphan_min_confidence":          c.Pipeline.OrphanMinConfidence,
		"pipeline.grouping.containment_threshold": c.Pipeline.Grouping.ContainmentThreshold,
		"pipeline.grouping.max_proximity":         c.Pipeline.Grouping.MaxProximity,
		"pipeline.grouping.min_text_confidence":   c.Pipeline.Grouping.MinTextConfidence,
		"pipeline.matcher.threshold":              c.Pipeline.Matcher.Threshold,
		"pipeline.matcher.max_fuzzy_confidence":   c.Pipeline.Matcher.MaxFuzzyConfidence,
		"pipeline.matcher.jaro_winkler_weight":    c.Pipeline.Matcher.JaroWinklerWeight,
		"pipeline.matcher.token_floor":            c.Pipeline.Matcher.TokenFloor,
		"pipeline.matcher.distinctive_floor":      c.Pipeline.Matcher.DistinctiveFloor,
	}
	for _, name := range sortedKeys(thresholds) {
		if err := validateThreshold(thresholds[name], name); err != nil {
			return err
		}
	}
	if c.Pipeline.Matcher.GenericTokenMinWines < 0 {
		return fmt.Errorf("invalid generic token min wines: %d (must not be negative)", c.Pipeline.Matcher.GenericTokenMinWines)
	}
	if c.Pipeline.RatingWorkers <= 0 {
		return fmt.Errorf("invalid rating workers: %d (must be positive)", c.Pipeline.RatingWorkers)
	}
	if c.Pipeline.BatchWorkers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Pipeline.BatchWorkers)
	}
	if c.Pipeline.RequestDeadline <= 0 {
		return fmt.Errorf("invalid request deadline: %v (must be positive)", c.Pipeline.RequestDeadline)
	}

	switch c.Vision.Provider {
	case VisionGoogle:
	case VisionFixture:
		if c.Vision.FixtureDir == "" && c.Vision.FixturePath == "" {
			return errors.New("vision provider fixture needs vision.fixture_dir or vision.fixture_path")
		}
	default:
		return fmt.Errorf("invalid vision provider: %s (must be one of: %s, %s)", c.Vision.Provider, VisionGoogle, VisionFixture)
	}

	switch c.LLM.Provider {
	case LLMOpenAI, LLMNone:
	case LLMStatic:
		if c.LLM.StaticFile == "" {
			return errors.New("llm provider static needs llm.static_file")
		}
	default:
		return fmt.Errorf("invalid llm provider: %s (must be one of: %s, %s, %s)", c.LLM.Provider, LLMOpenAI, LLMStatic, LLMNone)
	}

	if c.VisionCache.Enabled {
		if c.VisionCache.MaxEntries <= 0 {
			return fmt.Errorf("invalid vision cache max entries: %d (must be positive)", c.VisionCache.MaxEntries)
		}
		if c.VisionCache.TTL <= 0 {
			return fmt.Errorf("invalid vision cache ttl: %v (must be positive)", c.VisionCache.TTL)
		}
	}
	if c.LLMCache.PromotionThreshold <= 0 {
		return fmt.Errorf("invalid promotion threshold: %d (must be positive)", c.LLMCache.PromotionThreshold)
	}

	if strings.TrimSpace(c.Catalog.DSN) == "" {
		return errors.New("catalog dsn is required")
	}

	if c.Events.Enabled && (c.Events.Brokers == "" || c.Events.Topic == "") {
		return errors.New("events enabled but events.brokers or events.topic is empty")
	}
	return nil
}

// ToPipelineConfig converts to pipeline.Config.
func (c *Config) ToPipelineConfig() pipeline.Config {
	pc := pipeline.DefaultConfig()
	if m, err := pipeline.ParseMode(c.Pipeline.Mode); err == nil {
		pc.Mode = m
	}
	pc.RatingWorkers = c.Pipeline.RatingWorkers
	pc.RequestDeadline = c.Pipeline.RequestDeadline
	pc.LLMFallbackBelow = c.Pipeline.LLMFallbackBelow
	pc.LLMPreferenceMargin = c.Pipeline.LLMPreferenceMargin
	pc.VisibilityFloor = c.Pipeline.VisibilityFloor
	pc.OrphanMinConfidence = c.Pipeline.OrphanMinConfidence
	pc.TopN = c.Pipeline.TopN
	pc.Grouping = ocrgroup.Config{
		ContainmentThreshold: c.Pipeline.Grouping.ContainmentThreshold,
		MaxProximity:         c.Pipeline.Grouping.MaxProximity,
		MinTextConfidence:    c.Pipeline.Grouping.MinTextConfidence,
	}
	pc.Matcher = c.ToMatcherConfig()
	return pc
}

// ToMatcherConfig converts to matcher.Config.
func (c *Config) ToMatcherConfig() matcher.Config {
	return matcher.Config{
		Threshold:            c.Pipeline.Matcher.Threshold,
		MaxFuzzyConfidence:   c.Pipeline.Matcher.MaxFuzzyConfidence,
		JaroWinklerWeight:    c.Pipeline.Matcher.JaroWinklerWeight,
		TokenFloor:           c.Pipeline.Matcher.TokenFloor,
		DistinctiveFloor:     c.Pipeline.Matcher.DistinctiveFloor,
		GenericTokenMinWines: c.Pipeline.Matcher.GenericTokenMinWines,
		MaxCandidates:        c.Pipeline.Matcher.MaxCandidates,
	}
}

// ToGoogleConfig converts to vision.GoogleConfig.
func (c *Config) ToGoogleConfig() vision.GoogleConfig {
	return vision.GoogleConfig{
		Endpoint:   c.Vision.Endpoint,
		APIKey:     c.Vision.APIKey,
		Timeout:    c.Vision.Timeout,
		MaxObjects: c.Vision.MaxObjects,
		Labels:     c.Vision.Labels,
	}
}

// ToOpenAIConfig converts to llm.OpenAIConfig.
func (c *Config) ToOpenAIConfig() llm.OpenAIConfig {
	return llm.OpenAIConfig{
		APIKey:      c.LLM.APIKey,
		BaseURL:     c.LLM.BaseURL,
		Model:       c.LLM.Model,
		Timeout:     c.LLM.Timeout,
		Temperature: c.LLM.Temperature,
		MaxRetries:  c.LLM.MaxRetries,
	}
}

// ToVisionCacheConfig converts to visioncache.Config.
func (c *Config) ToVisionCacheConfig() visioncache.Config {
	return visioncache.Config{
		TTL:           c.VisionCache.TTL,
		MaxEntries:    c.VisionCache.MaxEntries,
		MaxBytes:      int64(c.VisionCache.MaxBytesMB) << 20,
		SweepInterval: c.VisionCache.SweepInterval,
	}
}

// ToKafkaConfig converts to events.KafkaConfig.
func (c *Config) ToKafkaConfig() events.KafkaConfig {
	return events.KafkaConfig{
		Brokers:          c.Events.Brokers,
		Topic:            c.Events.Topic,
		ClientID:         c.Events.ClientID,
		SecurityProtocol: c.Events.SecurityProtocol,
		SASLMechanism:    c.Events.SASLMechanism,
		SASLUsername:     c.Events.SASLUsername,
		SASLPassword:     c.Events.SASLPassword,
		FlushTimeout:     c.Events.FlushTimeout,
	}
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
