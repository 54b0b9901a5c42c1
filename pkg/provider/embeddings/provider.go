// Package embeddings defines the Provider interface for text-embedding
// backends used by the pattern store for similarity search over words,
// contexts, and whole transcripts.
//
// Implementors must be safe for concurrent use. A provider failure is never
// fatal to learning: the metric store client degrades failed embeds to
// zero-vectors of the configured dimensionality and proceeds with the write.
package embeddings

import "context"

// Provider generates dense vector embeddings for text.
type Provider interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector length this provider produces. The value
	// must match the pattern store's vector column dimension.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, for logging.
	ModelID() string
}
