package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arthurnavah/echoline/pkg/patternstore"
)

type recordingSink struct {
	mu      sync.Mutex
	written []patternstore.WordObservation
	failFor map[string]error
}

func (s *recordingSink) InsertWordObservation(_ context.Context, obs patternstore.WordObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failFor[obs.Word]; ok {
		return err
	}
	s.written = append(s.written, obs)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}

func TestPipelineFlushesWhenFull(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewPipeline(sink, PipelineConfig{BufferCap: 3, FlushInterval: time.Hour})

	for i := 0; i < 3; i++ {
		p.Enqueue(patternstore.WordObservation{Word: "palavra", CompensationMs: 100})
	}

	if got := sink.count(); got != 3 {
		t.Errorf("written = %d, want 3 (capacity flush)", got)
	}
	if got := p.Pending(); got != 0 {
		t.Errorf("pending after flush = %d, want 0", got)
	}
}

func TestPipelineBuffersBelowCapacity(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewPipeline(sink, PipelineConfig{BufferCap: 10, FlushInterval: time.Hour})

	p.Enqueue(patternstore.WordObservation{Word: "uma"})
	p.Enqueue(patternstore.WordObservation{Word: "duas"})

	if got := sink.count(); got != 0 {
		t.Errorf("written = %d, want 0 before any flush trigger", got)
	}
	if got := p.Pending(); got != 2 {
		t.Errorf("pending = %d, want 2", got)
	}
}

func TestPipelineFlushSettlesAllWrites(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{failFor: map[string]error{"ruim": errors.New("write failed")}}
	p := NewPipeline(sink, PipelineConfig{BufferCap: 10, FlushInterval: time.Hour})

	p.Enqueue(patternstore.WordObservation{Word: "boa"})
	p.Enqueue(patternstore.WordObservation{Word: "ruim"})
	p.Enqueue(patternstore.WordObservation{Word: "outra"})
	p.Flush(context.Background())

	// The failing write is dropped; the successes land.
	if got := sink.count(); got != 2 {
		t.Errorf("written = %d, want 2 despite one failure", got)
	}
	if got := p.Pending(); got != 0 {
		t.Errorf("pending = %d, want 0 (failures are not requeued)", got)
	}
}

func TestPipelineStopDrains(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	p := NewPipeline(sink, PipelineConfig{BufferCap: 10, FlushInterval: time.Hour})
	p.Start(context.Background())

	p.Enqueue(patternstore.WordObservation{Word: "resto"})
	p.Stop()

	if got := sink.count(); got != 1 {
		t.Errorf("written = %d, want 1 (final drain on stop)", got)
	}
}
