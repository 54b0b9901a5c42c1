// Package summary defines the Provider interface for transcript
// summarization backends.
//
// Summaries are stored alongside full transcripts in the pattern store and
// shown in the application shell; they play no role in synchronization
// learning, so a summarization failure never blocks a transcription run.
package summary

import "context"

// Provider produces a short summary of a transcript.
type Provider interface {
	// Summarize returns a summary of text. Implementations should keep the
	// summary in the transcript's own language.
	Summarize(ctx context.Context, text string) (string, error)
}
