// Command echoline runs the Echoline synchronization engine: audio
// transcription with word timestamps, adaptive playback-correction learning,
// and long-term pattern persistence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arthurnavah/echoline/internal/app"
	"github.com/arthurnavah/echoline/internal/config"
	"github.com/arthurnavah/echoline/internal/metricstore"
	"github.com/arthurnavah/echoline/internal/observe"
	"github.com/arthurnavah/echoline/pkg/patternstore/postgres"
	"github.com/arthurnavah/echoline/pkg/provider/embeddings"
	ollamaembed "github.com/arthurnavah/echoline/pkg/provider/embeddings/ollama"
	oaiembed "github.com/arthurnavah/echoline/pkg/provider/embeddings/openai"
	"github.com/arthurnavah/echoline/pkg/provider/summary"
	"github.com/arthurnavah/echoline/pkg/provider/summary/anyllm"
	"github.com/arthurnavah/echoline/pkg/provider/transcription"
	oaitranscribe "github.com/arthurnavah/echoline/pkg/provider/transcription/openai"
	"github.com/arthurnavah/echoline/pkg/provider/transcription/whisper"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "echoline: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "echoline: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.App.LogLevel)
	slog.SetDefault(logger)

	slog.Info("echoline starting",
		"config", *configPath,
		"log_level", cfg.App.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "echoline",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	if cfg.App.MetricsAddr != "" {
		go serveMetrics(cfg.App.MetricsAddr)
	}

	// ── Pattern store (optional) ──────────────────────────────────────────────
	var storeClient *metricstore.Client
	if cfg.Store.PostgresDSN != "" {
		embedder, err := buildEmbeddings(cfg)
		if err != nil {
			slog.Error("failed to build embeddings provider", "err", err)
			return 1
		}

		pg, err := postgres.NewStore(ctx, cfg.Store.PostgresDSN, cfg.Store.EmbeddingDimensions)
		if err != nil {
			slog.Error("failed to connect to pattern store", "err", err)
			return 1
		}
		defer pg.Close()

		storeClient = metricstore.New(pg, embedder, metricstore.Config{
			RecencyWeight: cfg.Sync.RecencyWeight,
			RetentionDays: cfg.Store.RetentionDays,
			Logger:        logger,
		})
		slog.Info("pattern store connected",
			"embedding_dimensions", cfg.Store.EmbeddingDimensions,
			"embedding_model", embedder.ModelID())
	} else {
		slog.Warn("no pattern store configured — running local-only, long-term learning disabled")
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	transcriber, err := buildTranscription(cfg)
	if err != nil {
		slog.Error("failed to build transcription provider", "err", err)
		return 1
	}
	summarizer, err := buildSummary(cfg)
	if err != nil {
		slog.Error("failed to build summary provider", "err", err)
		return 1
	}

	printStartupSummary(cfg, storeClient != nil)

	// ── Engine ────────────────────────────────────────────────────────────────
	engine := app.New(*cfg, app.Deps{
		Store:       storeClient,
		Transcriber: transcriber,
		Summarizer:  summarizer,
		Logger:      logger,
	})
	engine.Start(ctx)

	slog.Info("engine ready — press Ctrl+C to shut down")
	<-ctx.Done()

	slog.Info("shutdown signal received, stopping…")
	engine.Stop()
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func buildTranscription(cfg *config.Config) (transcription.Provider, error) {
	entry := cfg.Providers.Transcription
	switch entry.Name {
	case "":
		// Playback correction of existing transcripts works without one.
		return nil, nil
	case "openai":
		var opts []oaitranscribe.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitranscribe.WithBaseURL(entry.BaseURL))
		}
		return oaitranscribe.New(entry.APIKey, entry.Model, opts...)
	case "whisper":
		var opts []whisper.Option
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		return whisper.New(entry.ModelPath, opts...)
	default:
		return nil, fmt.Errorf("unknown transcription provider %q", entry.Name)
	}
}

func buildSummary(cfg *config.Config) (summary.Provider, error) {
	entry := cfg.Providers.Summary
	if entry.Name == "" {
		return nil, nil
	}
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

func buildEmbeddings(cfg *config.Config) (embeddings.Provider, error) {
	entry := cfg.Providers.Embeddings
	dims := cfg.Store.EmbeddingDimensions
	switch entry.Name {
	case "openai":
		opts := []oaiembed.Option{oaiembed.WithDimensions(dims)}
		if entry.BaseURL != "" {
			opts = append(opts, oaiembed.WithBaseURL(entry.BaseURL))
		}
		return oaiembed.New(entry.APIKey, entry.Model, opts...)
	case "ollama":
		return ollamaembed.New(entry.BaseURL, entry.Model, ollamaembed.WithDimensions(dims))
	case "":
		return nil, errors.New("a pattern store requires an embeddings provider")
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}
}

// serveMetrics exposes the Prometheus scrape endpoint.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics endpoint failed", "err", err)
	}
}

// ── Startup summary ─────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, storeConnected bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Echoline — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Transcription", cfg.Providers.Transcription.Name, cfg.Providers.Transcription.Model)
	printProvider("Summary", cfg.Providers.Summary.Name, cfg.Providers.Summary.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	if storeConnected {
		fmt.Printf("║  Pattern store   : %-19s ║\n", "connected")
	} else {
		fmt.Printf("║  Pattern store   : %-19s ║\n", "(local-only)")
	}
	fmt.Printf("║  Buffer size     : %-19d ║\n", cfg.Sync.BufferSize)
	fmt.Printf("║  Learning rate   : %-19.2f ║\n", cfg.Sync.LearningRate)
	if cfg.App.MetricsAddr != "" {
		fmt.Printf("║  Metrics addr    : %-19s ║\n", cfg.App.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Printf("║  %-15s : %-19s ║\n", kind, value)
}

// ── Logger ──────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
