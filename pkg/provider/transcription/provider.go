// Package transcription defines the Provider interface for speech-to-text
// backends that return word-level timestamps.
//
// The synchronization engine only consumes the resulting
// [types.WordTimestamp] records; it never talks to a provider directly.
// Implementors must be safe for concurrent use.
package transcription

import (
	"context"
	"errors"
	"io"

	"github.com/arthurnavah/echoline/pkg/types"
)

// Error taxonomy. Authentication failures must not be retried (retry cannot
// help); the remaining kinds are treated as transient by callers.
var (
	// ErrInvalidAPIKey indicates the provider rejected the credentials.
	ErrInvalidAPIKey = errors.New("transcription: invalid API key")

	// ErrQuotaExceeded indicates the provider's rate or usage quota was hit.
	ErrQuotaExceeded = errors.New("transcription: quota exceeded")

	// ErrMalformedResponse indicates the provider returned a payload the
	// adapter could not interpret.
	ErrMalformedResponse = errors.New("transcription: malformed response")
)

// Options carries per-request transcription settings.
type Options struct {
	// Language is a BCP-47 language hint (e.g. "pt", "en"). Empty lets the
	// provider auto-detect.
	Language string

	// Filename is the original file name, used by providers that sniff the
	// container format from the extension.
	Filename string

	// Prompt optionally biases recognition toward expected vocabulary.
	Prompt string
}

// Provider transcribes audio into word-level timestamp records.
type Provider interface {
	// Transcribe reads the complete audio from r and returns the transcript
	// with per-word timing. The audio format depends on the implementation.
	Transcribe(ctx context.Context, r io.Reader, opts Options) (*types.TranscriptionResult, error)
}
