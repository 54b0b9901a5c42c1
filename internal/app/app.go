// Package app wires the synchronization engine together: estimator, word
// pattern aggregator, prediction blender, metric store client, and the
// ingestion pipeline, plus the transcription entry point the desktop shell
// calls.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/arthurnavah/echoline/internal/blend"
	"github.com/arthurnavah/echoline/internal/config"
	"github.com/arthurnavah/echoline/internal/estimator"
	"github.com/arthurnavah/echoline/internal/ingest"
	"github.com/arthurnavah/echoline/internal/metricstore"
	"github.com/arthurnavah/echoline/internal/wordpattern"
	"github.com/arthurnavah/echoline/pkg/patternstore"
	"github.com/arthurnavah/echoline/pkg/provider/summary"
	"github.com/arthurnavah/echoline/pkg/provider/transcription"
	"github.com/arthurnavah/echoline/pkg/types"
)

// Deps carries the external collaborators the engine is built on. Store,
// Transcriber, and Summarizer may be nil: a nil store runs the engine in
// local-only mode (no long-term learning), a nil summarizer skips summaries,
// and a nil transcriber makes Transcribe return an error.
type Deps struct {
	Store       *metricstore.Client
	Transcriber transcription.Provider
	Summarizer  summary.Provider
	Logger      *slog.Logger
}

// Engine is the synchronization engine facade consumed by the application
// shell. Safe for concurrent use.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	estimator  *estimator.Estimator
	aggregator *wordpattern.Aggregator
	blender    *blend.Blender
	store      *metricstore.Client
	pipeline   *ingest.Pipeline
	queue      *ingest.Queue

	transcriber transcription.Provider
	summarizer  summary.Provider
}

// New assembles an engine from configuration and collaborators.
func New(cfg config.Config, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:         cfg,
		logger:      logger.With("component", "engine"),
		store:       deps.Store,
		transcriber: deps.Transcriber,
		summarizer:  deps.Summarizer,
	}

	e.estimator = estimator.New(estimator.Config{
		BufferSize:            cfg.Sync.BufferSize,
		LearningRate:          cfg.Sync.LearningRate,
		ConfidenceThreshold:   cfg.Sync.ConfidenceThreshold,
		InitialAudioLatencyMs: cfg.Sync.InitialAudioLatencyMs,
		Logger:                logger,
	})

	var persister wordpattern.Persister
	var history wordpattern.HistorySource
	if deps.Store != nil {
		e.queue = ingest.NewQueue(ingest.QueueConfig{Logger: logger})
		e.pipeline = ingest.NewPipeline(deps.Store, ingest.PipelineConfig{Logger: logger})
		persister = &queuePersister{queue: e.queue, store: deps.Store, logger: e.logger}
		history = deps.Store
	}

	e.aggregator = wordpattern.New(wordpattern.Config{
		RecencyWeight: cfg.Sync.RecencyWeight,
		MinSamples:    cfg.Sync.MinWordSamples,
		CycleInterval: cfg.Sync.LearningCycleInterval,
		HistoryDays:   cfg.Store.HistoryDays,
		Logger:        logger,
	}, persister, history)

	e.blender = blend.New(e.aggregator, deps.Store, e.estimator, logger)
	e.estimator.SetPredictor(e.blender)

	return e
}

// queuePersister forwards finished aggregates into the task queue as
// high-priority writes.
type queuePersister struct {
	queue  *ingest.Queue
	store  *metricstore.Client
	logger *slog.Logger
}

func (p *queuePersister) PersistAggregate(word string, compensationMs float64, wordContext string, accuracy float64) {
	err := p.queue.Submit(ingest.Task{
		Name:     "persist-aggregate",
		Priority: ingest.PriorityHigh,
		Fn: func(ctx context.Context) error {
			return p.store.UpsertLearningRecord(ctx, word, compensationMs, wordContext, accuracy)
		},
	})
	if err != nil {
		p.logger.Debug("aggregate persistence skipped", "word", word, "error", err)
	}
}

// Start launches the periodic machinery: the real-time monitor, the learning
// cycle, the ingestion pipeline, the task queue, retention pruning, and a
// background rehydration of historical patterns.
func (e *Engine) Start(ctx context.Context) {
	e.estimator.StartMonitoring(ctx)
	e.aggregator.StartLearningCycle(ctx)

	if e.store != nil {
		e.queue.Start(ctx)
		e.pipeline.Start(ctx)
		e.store.StartPruning(ctx)
		go e.aggregator.Rehydrate(ctx)
	}

	e.logger.Info("synchronization engine started",
		"local_only", e.store == nil,
		"buffer_size", e.cfg.Sync.BufferSize,
		"initial_audio_latency_ms", e.cfg.Sync.InitialAudioLatencyMs)
}

// Stop halts periodic work and drains pending writes. In-flight remote calls
// run to completion; nothing new is scheduled afterwards.
func (e *Engine) Stop() {
	e.estimator.Stop()
	e.aggregator.Stop()
	if e.pipeline != nil {
		e.pipeline.Stop()
	}
	if e.queue != nil {
		e.queue.Stop()
	}
	if e.store != nil {
		e.store.Stop()
	}
	e.logger.Info("synchronization engine stopped")
}

// RegisterInteraction records one observed word alignment: the estimator
// updates its global model synchronously, and the observation is forwarded
// to the word pattern aggregator and the write-back pipeline.
//
// word may be empty when the interaction carries no word identity (e.g. a
// raw seek); the global model still learns from it.
func (e *Engine) RegisterInteraction(expected, actual time.Duration, word, wordContext string, playbackRate float64) {
	e.estimator.RegisterInteraction(expected, actual)

	word = strings.TrimSpace(word)
	if word == "" {
		return
	}
	compensationMs := float64(actual-expected) / float64(time.Millisecond)
	accuracy := e.estimator.Metrics().Confidence

	e.aggregator.AnalyzeRecord(word, compensationMs, wordContext, playbackRate, accuracy)

	if e.pipeline != nil {
		e.pipeline.Enqueue(patternstore.WordObservation{
			Word:           strings.ToLower(word),
			Start:          expected,
			End:            actual,
			CompensationMs: compensationMs,
			PlaybackRate:   playbackRate,
			Context:        wordContext,
		})
	}
}

// CorrectTimestamps returns the display-corrected transcript for the current
// playback position.
func (e *Engine) CorrectTimestamps(words []types.WordTimestamp, playhead time.Duration) []types.WordTimestamp {
	return e.estimator.CorrectTimestamps(words, playhead)
}

// ComputeCompensation returns the compensation in milliseconds for the word
// about to be highlighted.
func (e *Engine) ComputeCompensation(ctx context.Context, playhead time.Duration, word string) float64 {
	return e.estimator.ComputeCompensation(ctx, playhead, word)
}

// Metrics returns the estimator's current snapshot.
func (e *Engine) Metrics() types.SyncSnapshot {
	return e.estimator.Metrics()
}

// ResetPatterns discards the estimator's learned state. Word patterns and
// remote aggregates are kept; they decay through their own optimization.
func (e *Engine) ResetPatterns() {
	e.estimator.ResetPatterns()
}

// LearningStats is the diagnostic view shown in the application shell.
type LearningStats struct {
	Sync     types.SyncSnapshot
	Analysis estimator.Analysis
	Patterns wordpattern.Stats

	// PendingObservations is the write-back buffer occupancy.
	PendingObservations int

	// QueuedTasks is the undispatched task queue depth.
	QueuedTasks int
}

// LearningStats collects the current state of every learning component.
func (e *Engine) LearningStats() LearningStats {
	s := LearningStats{
		Sync:     e.estimator.Metrics(),
		Analysis: e.estimator.LastAnalysis(),
		Patterns: e.aggregator.Stats(),
	}
	if e.pipeline != nil {
		s.PendingObservations = e.pipeline.Pending()
	}
	if e.queue != nil {
		s.QueuedTasks = e.queue.Depth()
	}
	return s
}

// Ping verifies pattern store connectivity. Local-only engines always
// succeed.
func (e *Engine) Ping(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	return e.store.Ping(ctx)
}

// Transcribe runs one full transcription: speech-to-text with word
// timestamps, an optional summary, and asynchronous persistence of the raw
// word timestamps and the transcript record. The transcription result is
// returned as soon as it is available; summary and persistence failures
// never fail the call.
func (e *Engine) Transcribe(ctx context.Context, r io.Reader, opts transcription.Options) (*types.TranscriptionResult, error) {
	if e.transcriber == nil {
		return nil, fmt.Errorf("app: no transcription provider configured")
	}

	result, err := e.transcriber.Transcribe(ctx, r, opts)
	if err != nil {
		return nil, fmt.Errorf("app: transcribe: %w", err)
	}
	e.logger.Info("transcription complete",
		"words", len(result.Words),
		"language", result.Language,
		"duration", result.Duration)

	if e.pipeline != nil {
		for _, w := range result.Words {
			e.pipeline.Enqueue(patternstore.WordObservation{
				Word:         strings.ToLower(strings.TrimSpace(w.Word)),
				Start:        w.Start,
				End:          w.End,
				PlaybackRate: 1,
			})
		}
	}

	if e.store != nil && result.Text != "" {
		text := result.Text
		if err := e.queue.Submit(ingest.Task{
			Name:     "persist-transcript",
			Priority: ingest.PriorityLow,
			Fn: func(ctx context.Context) error {
				return e.store.InsertTranscript(ctx, text, e.summarize(ctx, text))
			},
		}); err != nil {
			e.logger.Debug("transcript persistence skipped", "error", err)
		}
	}

	return result, nil
}

// summarize produces the optional transcript summary, degrading to empty on
// failure or when no summarizer is configured.
func (e *Engine) summarize(ctx context.Context, text string) string {
	if e.summarizer == nil {
		return ""
	}
	s, err := e.summarizer.Summarize(ctx, text)
	if err != nil {
		e.logger.Warn("summarization failed, storing transcript without summary", "error", err)
		return ""
	}
	return s
}
