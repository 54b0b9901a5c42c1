// Package mock provides a configurable test double for
// [transcription.Provider].
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/arthurnavah/echoline/pkg/provider/transcription"
	"github.com/arthurnavah/echoline/pkg/types"
)

// Compile-time interface check.
var _ transcription.Provider = (*Provider)(nil)

// Provider is a test double for [transcription.Provider].
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil.
	Result *types.TranscriptionResult

	// Err is returned by Transcribe when non-nil.
	Err error

	// calls counts Transcribe invocations.
	calls int

	// LastOptions records the options of the most recent call.
	LastOptions transcription.Options
}

// Calls returns how many times Transcribe was invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Transcribe implements [transcription.Provider]. The reader is drained so
// callers that stream from files behave as in production.
func (p *Provider) Transcribe(_ context.Context, r io.Reader, opts transcription.Options) (*types.TranscriptionResult, error) {
	_, _ = io.Copy(io.Discard, r)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.LastOptions = opts
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result != nil {
		return p.Result, nil
	}
	return &types.TranscriptionResult{}, nil
}
