// Package mock provides a configurable test double for [embeddings.Provider].
package mock

import (
	"context"
	"sync"

	"github.com/arthurnavah/echoline/pkg/provider/embeddings"
)

// Compile-time interface check.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a test double for [embeddings.Provider]. When EmbedResult is
// nil and EmbedErr is nil, Embed returns a deterministic non-zero vector of
// Dims length so similarity code paths see distinct embeddings per text.
type Provider struct {
	mu sync.Mutex

	// Dims is the reported dimensionality. Defaults to 384 when zero.
	Dims int

	// EmbedResult, when non-nil, is returned by every Embed call.
	EmbedResult []float32

	// EmbedErr is returned by Embed and EmbedBatch when non-nil.
	EmbedErr error

	// embedCalls counts Embed invocations; batchCalls counts EmbedBatch.
	embedCalls int
	batchCalls int
}

// EmbedCalls returns how many times Embed was invoked.
func (p *Provider) EmbedCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedCalls
}

// Embed implements [embeddings.Provider].
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.embedCalls++
	res, err := p.EmbedResult, p.EmbedErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}
	return deterministicVector(text, p.Dimensions()), nil
}

// EmbedBatch implements [embeddings.Provider].
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.batchCalls++
	err := p.EmbedErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = p.Embed(ctx, t)
	}
	return out, nil
}

// Dimensions implements [embeddings.Provider].
func (p *Provider) Dimensions() int {
	if p.Dims > 0 {
		return p.Dims
	}
	return 384
}

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string { return "mock" }

// deterministicVector derives a stable pseudo-embedding from the text bytes.
func deterministicVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	h := uint32(2166136261)
	for i := 0; i < dims; i++ {
		if len(text) > 0 {
			h = (h ^ uint32(text[i%len(text)])) * 16777619
		} else {
			h = h * 16777619
		}
		vec[i] = float32(h%1000)/1000 - 0.5
	}
	return vec
}
