package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcription": {"openai", "whisper"},
	"summary":       {"openai", "anthropic", "gemini", "ollama", "mistral", "groq"},
	"embeddings":    {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, validates the result, and
// applies defaults. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	cfg.Sync = cfg.Sync.withDefaults()
	cfg.Store = cfg.Store.withDefaults()
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.App.LogLevel != "" && !cfg.App.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("app.log_level %q is invalid; valid values: debug, info, warn, error", cfg.App.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("transcription", cfg.Providers.Transcription.Name)
	validateProviderName("summary", cfg.Providers.Summary.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.Transcription.Name == "whisper" && cfg.Providers.Transcription.ModelPath == "" {
		errs = append(errs, errors.New("providers.transcription: whisper requires model_path"))
	}

	// Tuning bounds. Zero means "use default", so only explicit bad values fail.
	if cfg.Sync.LearningRate < 0 || cfg.Sync.LearningRate > 1 {
		errs = append(errs, fmt.Errorf("sync.learning_rate %v out of range (0, 1]", cfg.Sync.LearningRate))
	}
	if cfg.Sync.ConfidenceThreshold < 0 || cfg.Sync.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("sync.confidence_threshold %v out of range (0, 1]", cfg.Sync.ConfidenceThreshold))
	}
	if cfg.Sync.RecencyWeight < 0 || cfg.Sync.RecencyWeight > 1 {
		errs = append(errs, fmt.Errorf("sync.recency_weight %v out of range (0, 1]", cfg.Sync.RecencyWeight))
	}

	// Store availability.
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is not set; running local-only, long-term learning disabled")
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Store.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but store.embedding_dimensions is not set; defaulting to 384")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning when name is set but not recognised
// for the given provider kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if !slices.Contains(ValidProviderNames[kind], name) {
		slog.Warn("unrecognised provider name",
			"kind", kind,
			"name", name,
			"known", ValidProviderNames[kind])
	}
}
