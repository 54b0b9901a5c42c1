// Package openai provides a transcription provider backed by the OpenAI
// audio transcription API (whisper-1) with word-level timestamp granularity.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/arthurnavah/echoline/pkg/provider/transcription"
	"github.com/arthurnavah/echoline/pkg/types"
)

// DefaultModel is the default OpenAI transcription model. whisper-1 is the
// only hosted model that supports word timestamp granularity.
const DefaultModel = oai.AudioModelWhisper1

// Compile-time assertion that Provider satisfies transcription.Provider.
var _ transcription.Provider = (*Provider)(nil)

// Provider implements transcription.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai transcription: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Transcribe implements transcription.Provider. The audio in r must be one
// of the container formats the API accepts (mp3, mp4, wav, webm, …); the
// filename in opts helps the API identify the format.
func (p *Provider) Transcribe(ctx context.Context, r io.Reader, opts transcription.Options) (*types.TranscriptionResult, error) {
	filename := opts.Filename
	if filename == "" {
		filename = "audio.mp3"
	}

	params := oai.AudioTranscriptionNewParams{
		Model:          p.model,
		File:           oai.File(r, filename, "application/octet-stream"),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []string{"word"},
	}
	if opts.Language != "" {
		params.Language = param.NewOpt(opts.Language)
	}
	if opts.Prompt != "" {
		params.Prompt = param.NewOpt(opts.Prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}
	if resp.Text == "" && len(resp.Words) == 0 {
		return nil, fmt.Errorf("openai transcription: %w: empty transcription payload", transcription.ErrMalformedResponse)
	}

	words := make([]types.WordTimestamp, 0, len(resp.Words))
	for _, w := range resp.Words {
		words = append(words, types.WordTimestamp{
			Word:  w.Word,
			Start: secondsToDuration(w.Start),
			End:   secondsToDuration(w.End),
		})
	}

	return &types.TranscriptionResult{
		Text:     resp.Text,
		Words:    words,
		Language: opts.Language,
		Duration: secondsToDuration(resp.Duration),
	}, nil
}

// classifyError maps SDK errors onto the package error taxonomy so callers
// can distinguish non-retryable authentication failures from transient ones.
func classifyError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", transcription.ErrInvalidAPIKey, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", transcription.ErrQuotaExceeded, err)
		}
	}
	return fmt.Errorf("openai transcription: %w", err)
}

// secondsToDuration converts the API's fractional seconds to a duration.
func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
