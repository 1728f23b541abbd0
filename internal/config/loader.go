package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "vinoscan"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "VINOSCAN"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	// Use the global viper instance to ensure flag bindings work
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on an isolated viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load loads configuration from files, environment variables, and sets defaults.
// It returns the loaded configuration and any error encountered.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.LoadWithoutValidation()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithoutValidation loads configuration without validating it.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars still apply.
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal()
}

// LoadWithFile loads configuration from a specific file path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	if configFile == "" {
		return l.Load()
	}
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation loads configuration from a specific file path without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile == "" {
		return l.LoadWithoutValidation()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}

	l.v.SetConfigFile(configFile)
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
// VINOSCAN_LLM_API_KEY maps to llm.api_key and so on.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options.
// Every key must be registered here for AutomaticEnv to reach Unmarshal.
func (l *Loader) setDefaults() {
	defaults := DefaultConfig()

	// Global settings
	l.v.SetDefault("log_level", defaults.LogLevel)
	l.v.SetDefault("verbose", defaults.Verbose)

	// Server defaults
	l.v.SetDefault("server.host", defaults.Server.Host)
	l.v.SetDefault("server.port", defaults.Server.Port)
	l.v.SetDefault("server.cors_origin", defaults.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", defaults.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", defaults.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	l.v.SetDefault("server.rate_limit.enabled", defaults.Server.RateLimit.Enabled)
	l.v.SetDefault("server.rate_limit.requests_per_minute", defaults.Server.RateLimit.RequestsPerMinute)
	l.v.SetDefault("server.rate_limit.requests_per_hour", defaults.Server.RateLimit.RequestsPerHour)
	l.v.SetDefault("server.rate_limit.max_requests_per_day", defaults.Server.RateLimit.MaxRequestsPerDay)
	l.v.SetDefault("server.rate_limit.max_data_per_day_mb", defaults.Server.RateLimit.MaxDataPerDayMB)

	// Pipeline defaults
	l.v.SetDefault("pipeline.mode", defaults.Pipeline.Mode)
	l.v.SetDefault("pipeline.rating_workers", defaults.Pipeline.RatingWorkers)
	l.v.SetDefault("pipeline.batch_workers", defaults.Pipeline.BatchWorkers)
	l.v.SetDefault("pipeline.request_deadline", defaults.Pipeline.RequestDeadline)
	l.v.SetDefault("pipeline.llm_fallback_below", defaults.Pipeline.LLMFallbackBelow)
	l.v.SetDefault("pipeline.llm_preference_margin", defaults.Pipeline.LLMPreferenceMargin)
	l.v.SetDefault("pipeline.visibility_floor", defaults.Pipeline.VisibilityFloor)
	l.v.SetDefault("pipeline.orphan_min_confidence", defaults.Pipeline.OrphanMinConfidence)
	l.v.SetDefault("pipeline.top_n", defaults.Pipeline.TopN)
	l.v.SetDefault("pipeline.grouping.containment_threshold", defaults.Pipeline.Grouping.ContainmentThreshold)
	l.v.SetDefault("pipeline.grouping.max_proximity", defaults.Pipeline.Grouping.MaxProximity)
	l.v.SetDefault("pipeline.grouping.min_text_confidence", defaults.Pipeline.Grouping.MinTextConfidence)
	l.v.SetDefault("pipeline.matcher.threshold", defaults.Pipeline.Matcher.Threshold)
	l.v.SetDefault("pipeline.matcher.max_fuzzy_confidence", defaults.Pipeline.Matcher.MaxFuzzyConfidence)
	l.v.SetDefault("pipeline.matcher.jaro_winkler_weight", defaults.Pipeline.Matcher.JaroWinklerWeight)
	l.v.SetDefault("pipeline.matcher.token_floor", defaults.Pipeline.Matcher.TokenFloor)
	l.v.SetDefault("pipeline.matcher.distinctive_floor", defaults.Pipeline.Matcher.DistinctiveFloor)
	l.v.SetDefault("pipeline.matcher.generic_token_min_wines", defaults.Pipeline.Matcher.GenericTokenMinWines)
	l.v.SetDefault("pipeline.matcher.max_candidates", defaults.Pipeline.Matcher.MaxCandidates)

	// Vision defaults
	l.v.SetDefault("vision.provider", defaults.Vision.Provider)
	l.v.SetDefault("vision.endpoint", defaults.Vision.Endpoint)
	l.v.SetDefault("vision.api_key", defaults.Vision.APIKey)
	l.v.SetDefault("vision.timeout", defaults.Vision.Timeout)
	l.v.SetDefault("vision.max_objects", defaults.Vision.MaxObjects)
	l.v.SetDefault("vision.labels", defaults.Vision.Labels)
	l.v.SetDefault("vision.fixture_dir", defaults.Vision.FixtureDir)
	l.v.SetDefault("vision.fixture_path", defaults.Vision.FixturePath)

	// LLM defaults
	l.v.SetDefault("llm.provider", defaults.LLM.Provider)
	l.v.SetDefault("llm.base_url", defaults.LLM.BaseURL)
	l.v.SetDefault("llm.model", defaults.LLM.Model)
	l.v.SetDefault("llm.api_key", defaults.LLM.APIKey)
	l.v.SetDefault("llm.timeout", defaults.LLM.Timeout)
	l.v.SetDefault("llm.temperature", defaults.LLM.Temperature)
	l.v.SetDefault("llm.max_retries", defaults.LLM.MaxRetries)
	l.v.SetDefault("llm.static_file", defaults.LLM.StaticFile)

	// Cache defaults
	l.v.SetDefault("vision_cache.enabled", defaults.VisionCache.Enabled)
	l.v.SetDefault("vision_cache.ttl", defaults.VisionCache.TTL)
	l.v.SetDefault("vision_cache.max_entries", defaults.VisionCache.MaxEntries)
	l.v.SetDefault("vision_cache.max_bytes_mb", defaults.VisionCache.MaxBytesMB)
	l.v.SetDefault("vision_cache.sweep_interval", defaults.VisionCache.SweepInterval)
	l.v.SetDefault("llm_cache.enabled", defaults.LLMCache.Enabled)
	l.v.SetDefault("llm_cache.promotion_threshold", defaults.LLMCache.PromotionThreshold)
	l.v.SetDefault("llm_cache.persist", defaults.LLMCache.Persist)

	// Catalog defaults
	l.v.SetDefault("catalog.dsn", defaults.Catalog.DSN)
	l.v.SetDefault("catalog.seed_file", defaults.Catalog.SeedFile)
	l.v.SetDefault("catalog.sync_timeout", defaults.Catalog.SyncTimeout)

	// Event defaults
	l.v.SetDefault("events.enabled", defaults.Events.Enabled)
	l.v.SetDefault("events.brokers", defaults.Events.Brokers)
	l.v.SetDefault("events.topic", defaults.Events.Topic)
	l.v.SetDefault("events.client_id", defaults.Events.ClientID)
	l.v.SetDefault("events.security_protocol", defaults.Events.SecurityProtocol)
	l.v.SetDefault("events.sasl_mechanism", defaults.Events.SASLMechanism)
	l.v.SetDefault("events.sasl_username", defaults.Events.SASLUsername)
	l.v.SetDefault("events.sasl_password", defaults.Events.SASLPassword)
	l.v.SetDefault("events.flush_timeout", defaults.Events.FlushTimeout)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile generates a default configuration file.
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()

	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	if configDir, exists := os.LookupEnv("XDG_CONFIG_HOME"); exists {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}

	return append(paths, "/etc/"+ConfigFileName)
}

// PrintConfigInfo prints information about configuration loading for debugging.
func (l *Loader) PrintConfigInfo(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Configuration file used: %s\n", l.GetConfigFileUsed())
	_, _ = fmt.Fprintf(w, "Configuration search paths: %v\n", GetConfigSearchPaths())
	_, _ = fmt.Fprintf(w, "Environment prefix: %s\n", EnvPrefix)
}
