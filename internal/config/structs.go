//nolint:lll
package config

import "time"

// Config represents the complete configuration for vinoscan.
// It covers every command (serve, scan, catalog, cache) and is loaded from
// configuration files, environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Recognition pipeline
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`

	// External services
	Vision VisionConfig `mapstructure:"vision" yaml:"vision" json:"vision"`
	LLM    LLMConfig    `mapstructure:"llm" yaml:"llm" json:"llm"`

	// Caches
	VisionCache VisionCacheConfig `mapstructure:"vision_cache" yaml:"vision_cache" json:"vision_cache"`
	LLMCache    LLMCacheConfig    `mapstructure:"llm_cache" yaml:"llm_cache" json:"llm_cache"`

	// Storage and events
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog" json:"catalog"`
	Events  EventsConfig  `mapstructure:"events" yaml:"events" json:"events"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int  `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int  `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int  `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// PipelineConfig contains orchestrator settings.
type PipelineConfig struct {
	Mode                string         `mapstructure:"mode" yaml:"mode" json:"mode"`
	RatingWorkers       int            `mapstructure:"rating_workers" yaml:"rating_workers" json:"rating_workers"`
	BatchWorkers        int            `mapstructure:"batch_workers" yaml:"batch_workers" json:"batch_workers"`
	RequestDeadline     time.Duration  `mapstructure:"request_deadline" yaml:"request_deadline" json:"request_deadline"`
	LLMFallbackBelow    float64        `mapstructure:"llm_fallback_below" yaml:"llm_fallback_below" json:"llm_fallback_below"`
	LLMPreferenceMargin float64        `mapstructure:"llm_preference_margin" yaml:"llm_preference_margin" json:"llm_preference_margin"`
	VisibilityFloor     float64        `mapstructure:"visibility_floor" yaml:"visibility_floor" json:"visibility_floor"`
	OrphanMinConfidence float64        `mapstructure:"orphan_min_confidence" yaml:"orphan_min_confidence" json:"orphan_min_confidence"`
	TopN                int            `mapstructure:"top_n" yaml:"top_n" json:"top_n"`
	Grouping            GroupingConfig `mapstructure:"grouping" yaml:"grouping" json:"grouping"`
	Matcher             MatcherConfig  `mapstructure:"matcher" yaml:"matcher" json:"matcher"`
}

// GroupingConfig contains OCR grouping settings.
type GroupingConfig struct {
	ContainmentThreshold float64 `mapstructure:"containment_threshold" yaml:"containment_threshold" json:"containment_threshold"`
	MaxProximity         float64 `mapstructure:"max_proximity" yaml:"max_proximity" json:"max_proximity"`
	MinTextConfidence    float64 `mapstructure:"min_text_confidence" yaml:"min_text_confidence" json:"min_text_confidence"`
}

// MatcherConfig contains fuzzy matching settings.
type MatcherConfig struct {
	Threshold            float64 `mapstructure:"threshold" yaml:"threshold" json:"threshold"`
	MaxFuzzyConfidence   float64 `mapstructure:"max_fuzzy_confidence" yaml:"max_fuzzy_confidence" json:"max_fuzzy_confidence"`
	JaroWinklerWeight    float64 `mapstructure:"jaro_winkler_weight" yaml:"jaro_winkler_weight" json:"jaro_winkler_weight"`
	TokenFloor           float64 `mapstructure:"token_floor" yaml:"token_floor" json:"token_floor"`
	DistinctiveFloor     float64 `mapstructure:"distinctive_floor" yaml:"distinctive_floor" json:"distinctive_floor"`
	GenericTokenMinWines int     `mapstructure:"generic_token_min_wines" yaml:"generic_token_min_wines" json:"generic_token_min_wines"`
	MaxCandidates        int     `mapstructure:"max_candidates" yaml:"max_candidates" json:"max_candidates"`
}

// VisionConfig selects and configures the detection/OCR service.
type VisionConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider" json:"provider"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key" json:"-"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	MaxObjects  int           `mapstructure:"max_objects" yaml:"max_objects" json:"max_objects"`
	Labels      []string      `mapstructure:"labels" yaml:"labels" json:"labels"`
	FixtureDir  string        `mapstructure:"fixture_dir" yaml:"fixture_dir" json:"fixture_dir"`
	FixturePath string        `mapstructure:"fixture_path" yaml:"fixture_path" json:"fixture_path"`
}

// LLMConfig selects and configures the rating estimator.
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider" json:"provider"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Model       string        `mapstructure:"model" yaml:"model" json:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key" json:"-"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature" json:"temperature"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	StaticFile  string        `mapstructure:"static_file" yaml:"static_file" json:"static_file"`
}

// VisionCacheConfig bounds the vision response cache.
type VisionCacheConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	TTL           time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
	MaxEntries    int           `mapstructure:"max_entries" yaml:"max_entries" json:"max_entries"`
	MaxBytesMB    int           `mapstructure:"max_bytes_mb" yaml:"max_bytes_mb" json:"max_bytes_mb"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" json:"sweep_interval"`
}

// LLMCacheConfig configures the rating cache.
type LLMCacheConfig struct {
	Enabled            bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	PromotionThreshold int64 `mapstructure:"promotion_threshold" yaml:"promotion_threshold" json:"promotion_threshold"`
	Persist            bool  `mapstructure:"persist" yaml:"persist" json:"persist"`
}

// CatalogConfig locates the wine catalog database.
type CatalogConfig struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	SeedFile string `mapstructure:"seed_file" yaml:"seed_file" json:"seed_file"`
	// SyncTimeout bounds one background catalog write-back.
	SyncTimeout time.Duration `mapstructure:"sync_timeout" yaml:"sync_timeout" json:"sync_timeout"`
}

// EventsConfig configures the Kafka event publisher.
type EventsConfig struct {
	Enabled          bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Brokers          string        `mapstructure:"brokers" yaml:"brokers" json:"brokers"`
	Topic            string        `mapstructure:"topic" yaml:"topic" json:"topic"`
	ClientID         string        `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	SecurityProtocol string        `mapstructure:"security_protocol" yaml:"security_protocol" json:"security_protocol"`
	SASLMechanism    string        `mapstructure:"sasl_mechanism" yaml:"sasl_mechanism" json:"sasl_mechanism"`
	SASLUsername     string        `mapstructure:"sasl_username" yaml:"sasl_username" json:"sasl_username"`
	SASLPassword     string        `mapstructure:"sasl_password" yaml:"sasl_password" json:"-"`
	FlushTimeout     time.Duration `mapstructure:"flush_timeout" yaml:"flush_timeout" json:"flush_timeout"`
}
