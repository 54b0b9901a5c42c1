// Package whisper provides a fully local transcription provider backed by
// the whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.
//
// The provider expects raw 16-bit little-endian signed PCM mono audio at
// 16 kHz (whisper.cpp's native input format) from the supplied reader.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/arthurnavah/echoline/pkg/provider/transcription"
	"github.com/arthurnavah/echoline/pkg/types"
)

// defaultLanguage is used when neither the provider nor the request sets one.
const defaultLanguage = "en"

// Compile-time assertion that Provider satisfies transcription.Provider.
var _ transcription.Provider = (*Provider)(nil)

// Provider implements transcription.Provider using whisper.cpp Go bindings
// (CGO). The model is loaded once at construction and shared across calls;
// each Transcribe creates its own whisper context, so concurrent calls do
// not interfere.
type Provider struct {
	model    whisperlib.Model
	language string
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default BCP-47 language code for transcription
// (e.g. "en", "pt"). Per-request options take precedence.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// New creates a Provider that loads the whisper.cpp model from the given
// file path. The caller must call Close when the provider is no longer
// needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &Provider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements transcription.Provider.
func (p *Provider) Transcribe(ctx context.Context, r io.Reader, opts transcription.Options) (*types.TranscriptionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	pcm, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("whisper: read audio: %w", err)
	}
	samples := pcmToFloat32(pcm)
	if len(samples) == 0 {
		return nil, fmt.Errorf("whisper: %w: no audio samples", transcription.ErrMalformedResponse)
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	// Each inference uses a fresh context; contexts are not thread-safe but
	// the model can be shared.
	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("whisper: set language %q: %w", lang, err)
	}
	wctx.SetTokenTimestamps(true)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		words    []types.WordTimestamp
		parts    []string
		duration time.Duration
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}

		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		if segment.End > duration {
			duration = segment.End
		}
		words = append(words, segmentWords(text, segment.Start, segment.End)...)
	}

	return &types.TranscriptionResult{
		Text:     strings.Join(parts, " "),
		Words:    words,
		Language: lang,
		Duration: duration,
	}, nil
}

// segmentWords distributes a segment's time window across its words
// proportionally to word length. whisper.cpp's token timestamps track
// sub-word tokens rather than whitespace words, so proportional allocation
// over the segment window gives steadier word boundaries for highlighting.
func segmentWords(text string, start, end time.Duration) []types.WordTimestamp {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}

	totalChars := 0
	for _, f := range fields {
		totalChars += len(f)
	}
	if totalChars == 0 {
		return nil
	}

	window := end - start
	out := make([]types.WordTimestamp, 0, len(fields))
	cursor := start
	for _, f := range fields {
		share := time.Duration(float64(window) * float64(len(f)) / float64(totalChars))
		out = append(out, types.WordTimestamp{
			Word:  f,
			Start: cursor,
			End:   cursor + share,
		})
		cursor += share
	}
	// Absorb rounding drift into the final word.
	out[len(out)-1].End = end
	return out
}

// pcmToFloat32 converts 16-bit little-endian signed PCM to float32 samples
// in [-1, 1].
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
		samples[i] = float32(v) / 32768
	}
	return samples
}
