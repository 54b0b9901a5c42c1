package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arthurnavah/echoline/internal/sched"
	"github.com/arthurnavah/echoline/pkg/patternstore"
)

// Pipeline defaults.
const (
	defaultBufferCap     = 10
	defaultFlushInterval = 5 * time.Second
	flushConcurrency     = 3
)

// Sink receives flushed observations. Implemented by the metric store client.
type Sink interface {
	InsertWordObservation(ctx context.Context, obs patternstore.WordObservation) error
}

// PipelineConfig tunes a [Pipeline]. Zero-value fields fall back to defaults.
type PipelineConfig struct {
	// BufferCap is the observation count that forces an immediate flush.
	// Default: 10.
	BufferCap int

	// FlushInterval is the time-based flush trigger. Default: 5s.
	FlushInterval time.Duration

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.BufferCap <= 0 {
		c.BufferCap = defaultBufferCap
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Pipeline buffers word observations and flushes them to the sink when the
// buffer fills or on a timer, whichever comes first. Flushed writes run
// concurrently with no ordering guarantee; individual failures are logged
// and dropped, never requeued. Safe for concurrent use.
type Pipeline struct {
	cfg    PipelineConfig
	logger *slog.Logger
	sink   Sink

	mu     sync.Mutex
	buffer []patternstore.WordObservation

	timer   *sched.Task
	flushWG sync.WaitGroup
}

// NewPipeline builds a pipeline over sink; call [Pipeline.Start] to begin
// timed flushing.
func NewPipeline(sink Sink, cfg PipelineConfig) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "ingest.pipeline"),
		sink:   sink,
		buffer: make([]patternstore.WordObservation, 0, cfg.BufferCap),
	}
}

// Start launches the timed flush. Calling it more than once is a no-op.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		return
	}
	p.timer = sched.Every(ctx, "pipeline-flush", p.cfg.FlushInterval, p.Flush)
}

// Enqueue buffers one observation, flushing immediately when the buffer
// reaches capacity.
func (p *Pipeline) Enqueue(obs patternstore.WordObservation) {
	p.mu.Lock()
	p.buffer = append(p.buffer, obs)
	full := len(p.buffer) >= p.cfg.BufferCap
	p.mu.Unlock()

	if full {
		p.Flush(context.Background())
	}
}

// Flush writes out everything currently buffered and waits for the writes to
// settle. Failures are logged per observation and not requeued.
func (p *Pipeline) Flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.buffer
	p.buffer = make([]patternstore.WordObservation, 0, p.cfg.BufferCap)
	p.mu.Unlock()

	p.flushWG.Add(1)
	defer p.flushWG.Done()

	var g errgroup.Group
	g.SetLimit(flushConcurrency)
	for _, obs := range batch {
		g.Go(func() error {
			if err := p.sink.InsertWordObservation(ctx, obs); err != nil {
				p.logger.Warn("observation write failed, dropping",
					"word", obs.Word,
					"error", err)
			}
			// Failures never abort the rest of the batch.
			return nil
		})
	}
	g.Wait()

	p.logger.Debug("observation batch flushed", "size", len(batch))
}

// Stop halts the flush timer, drains the buffer one final time, and waits
// for in-flight writes.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	timer := p.timer
	p.timer = nil
	p.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	p.Flush(context.Background())
	p.flushWG.Wait()
}

// Pending reports the current buffer occupancy.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}
