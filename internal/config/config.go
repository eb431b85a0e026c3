// Package config defines the application's root configuration: logging,
// persistence, the extraction pipeline tunables, and the optional LLM-backed
// extraction path.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Feedback  FeedbackConfig  `mapstructure:"feedback"`
	Engine    EngineConfig    `mapstructure:"engine"`
	AI        AIConfig        `mapstructure:"ai"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// PostgresConfig holds settings for the graph persistence database. The store
// is optional; an empty URL disables persistence entirely.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// ExtractorConfig holds the tunables of the pattern extraction pipeline.
type ExtractorConfig struct {
	// ConfidenceThreshold is the starting value for the feedback-adjusted
	// filter threshold. Must be within [0.5, 0.99].
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	// ProximityWindow is the maximum gap (in code points) between two entity
	// mentions for a typed proximity relation to be considered.
	ProximityWindow int `mapstructure:"proximity_window"`
	// MaxFallbackEntities bounds the generic capitalized-token fallback.
	MaxFallbackEntities int `mapstructure:"max_fallback_entities"`
	// MaxFallbackRelations bounds the chained related_to fallback edges.
	MaxFallbackRelations int `mapstructure:"max_fallback_relations"`
	// MinRelations is the count below which the fallback chaining kicks in.
	MinRelations int `mapstructure:"min_relations"`
}

// FeedbackConfig controls where the correction history lives between runs.
// An empty HistoryFile keeps feedback in memory for the current process only.
type FeedbackConfig struct {
	HistoryFile string `mapstructure:"history_file"`
}

// EngineConfig holds settings for the batch document engine.
type EngineConfig struct {
	WorkerConcurrency  int           `mapstructure:"worker_concurrency"`
	DefaultTaskTimeout time.Duration `mapstructure:"default_task_timeout"`
}

// AIProvider defines the supported LLM providers for the optional AI
// extraction path.
type AIProvider string

const (
	ProviderOpenAI    AIProvider = "openai"
	ProviderAnthropic AIProvider = "anthropic"
	// ProviderOllama is for connecting to a local, self-hosted LLM instance.
	ProviderOllama AIProvider = "ollama"
)

// AIConfig holds settings for the LLM-backed triple extraction path. When
// Enabled is false, the pipeline uses pattern extraction only.
type AIConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Provider    AIProvider    `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	Endpoint    string        `mapstructure:"endpoint"` // Optional endpoint override
	APITimeout  time.Duration `mapstructure:"api_timeout"`
	Temperature float64       `mapstructure:"temperature"`
}

// SetDefaults registers sane defaults so the app can run with no config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "cygraph")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("extractor.confidence_threshold", 0.85)
	v.SetDefault("extractor.proximity_window", 100)
	v.SetDefault("extractor.max_fallback_entities", 10)
	v.SetDefault("extractor.max_fallback_relations", 5)
	v.SetDefault("extractor.min_relations", 3)

	v.SetDefault("feedback.history_file", "")

	v.SetDefault("engine.worker_concurrency", 4)
	v.SetDefault("engine.default_task_timeout", time.Minute)

	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.temperature", 0.3)
	v.SetDefault("ai.api_timeout", 60*time.Second)
}

// Validate checks invariants the rest of the code relies on.
func (c *Config) Validate() error {
	if c.Extractor.ConfidenceThreshold < 0.5 || c.Extractor.ConfidenceThreshold > 0.99 {
		return fmt.Errorf("extractor.confidence_threshold must be within [0.5, 0.99], got %v", c.Extractor.ConfidenceThreshold)
	}
	if c.Extractor.ProximityWindow <= 0 {
		return fmt.Errorf("extractor.proximity_window must be positive, got %d", c.Extractor.ProximityWindow)
	}
	if c.AI.Enabled && c.AI.Model == "" {
		return fmt.Errorf("ai.model is required when the AI extraction path is enabled")
	}
	return nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	var loadErr error
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		if err := cfg.Validate(); err != nil {
			loadErr = err
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}

// Set stores a configuration instance directly. Intended for tests.
func Set(cfg *Config) {
	instance = cfg
}
