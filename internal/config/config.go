// Package config provides the configuration schema and loader for the
// Echoline synchronization engine.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Echoline.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	App       AppConfig       `yaml:"app"`
	Providers ProvidersConfig `yaml:"providers"`
	Store     StoreConfig     `yaml:"store"`
	Sync      SyncConfig      `yaml:"sync"`
}

// AppConfig holds logging and observability settings.
type AppConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the Prometheus /metrics endpoint
	// listens on (e.g. ":9464"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProvidersConfig declares which implementation to use for each external
// collaborator.
type ProvidersConfig struct {
	Transcription ProviderEntry `yaml:"transcription"`
	Summary       ProviderEntry `yaml:"summary"`
	Embeddings    ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g. "openai", "whisper",
	// "ollama", "anthropic").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g. "whisper-1", "all-minilm", "gpt-4o-mini").
	Model string `yaml:"model"`

	// ModelPath is the local model file path for on-device providers
	// (whisper.cpp). Ignored by hosted providers.
	ModelPath string `yaml:"model_path"`

	// Language is a BCP-47 language hint for transcription.
	Language string `yaml:"language"`
}

// StoreConfig holds settings for the remote pattern store.
type StoreConfig struct {
	// PostgresDSN is the PostgreSQL connection string for the pgvector
	// pattern store. Empty runs the engine in local-only mode: playback
	// correction still works, long-term learning is disabled.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions is the vector dimension of the embedding columns.
	// Must match the configured embeddings provider. Default: 384.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`

	// RetentionDays is how long raw word observations are kept before the
	// daily pruning pass removes them. Default: 30.
	RetentionDays int `yaml:"retention_days"`

	// HistoryDays bounds how far back historical rehydration reaches.
	// Default: 30.
	HistoryDays int `yaml:"history_days"`
}

// SyncConfig holds the tuning knobs of the synchronization estimator.
//
// LearningRate and ConfidenceThreshold are starting points only: the
// estimator's real-time monitor retunes both at runtime, bounded to
// [0.05, 0.3] and [0.3, 0.7] respectively.
type SyncConfig struct {
	// BufferSize is the interaction ring buffer capacity. Default: 50.
	BufferSize int `yaml:"buffer_size"`

	// LearningRate is the initial base learning rate. Default: 0.1.
	LearningRate float64 `yaml:"learning_rate"`

	// ConfidenceThreshold is the initial confidence required before the
	// advanced correction path engages. Default: 0.7.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// InitialAudioLatencyMs seeds the hardware latency estimate. Default: 100.
	InitialAudioLatencyMs float64 `yaml:"initial_audio_latency_ms"`

	// RecencyWeight is the blend factor for per-word pattern updates.
	// Default: 0.7.
	RecencyWeight float64 `yaml:"recency_weight"`

	// MinWordSamples is the observation count a word pattern needs before
	// its compensation is trusted. Default: 5.
	MinWordSamples int `yaml:"min_word_samples"`

	// LearningCycleInterval is how often the pattern aggregator runs its
	// optimization pass. Default: 15m.
	LearningCycleInterval time.Duration `yaml:"learning_cycle_interval"`
}

// withDefaults returns cfg with zero values replaced by defaults.
func (c SyncConfig) withDefaults() SyncConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 50
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.InitialAudioLatencyMs == 0 {
		c.InitialAudioLatencyMs = 100
	}
	if c.RecencyWeight <= 0 {
		c.RecencyWeight = 0.7
	}
	if c.MinWordSamples <= 0 {
		c.MinWordSamples = 5
	}
	if c.LearningCycleInterval <= 0 {
		c.LearningCycleInterval = 15 * time.Minute
	}
	return c
}

// withDefaults returns cfg with zero values replaced by defaults.
func (c StoreConfig) withDefaults() StoreConfig {
	if c.EmbeddingDimensions <= 0 {
		c.EmbeddingDimensions = 384
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	if c.HistoryDays <= 0 {
		c.HistoryDays = 30
	}
	return c
}
