// Package yandex implements the tts.Synthesizer contract on top of the
// Yandex SpeechKit synthesis endpoint. Output is raw LPCM at 48 kHz unless
// configured otherwise.
package yandex

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/telvox/telvox/pkg/provider"
	"github.com/telvox/telvox/pkg/provider/tts"
)

const (
	synthesizeEndpoint = "https://tts.api.cloud.yandex.net/speech/v1/tts:synthesize"
	defaultVoice       = "alena"
	defaultEmotion     = "neutral"
	defaultLanguage    = "ru-RU"
	defaultSampleRate  = 48000
	defaultTimeout     = 15 * time.Second
)

// Compile-time assertion that Synthesizer satisfies tts.Synthesizer.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring the Synthesizer.
type Option func(*Synthesizer)

// WithVoice selects the SpeechKit voice (e.g. "alena", "filipp").
func WithVoice(voice string) Option {
	return func(s *Synthesizer) { s.voice = voice }
}

// WithEmotion selects the voice emotion role.
func WithEmotion(emotion string) Option {
	return func(s *Synthesizer) { s.emotion = emotion }
}

// WithLanguage sets the synthesis language tag.
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) { s.language = lang }
}

// WithSampleRate sets the requested LPCM sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(s *Synthesizer) { s.sampleRate = rate }
}

// WithEndpoint overrides the synthesis URL. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(s *Synthesizer) { s.endpoint = endpoint }
}

// WithHTTPClient replaces the HTTP client, including its timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Synthesizer) { s.client = c }
}

// WithLogger sets the logger for per-chunk failures on long inputs.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) { s.logger = l }
}

// Synthesizer calls the SpeechKit tts:synthesize endpoint with form bodies.
type Synthesizer struct {
	apiKey     string
	folderID   string
	voice      string
	emotion    string
	language   string
	sampleRate int
	endpoint   string
	client     *http.Client
	logger     *slog.Logger
}

// New creates a Synthesizer. apiKey must be non-empty; folderID scopes the
// request to a Yandex Cloud folder.
func New(apiKey, folderID string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("yandex tts: apiKey must not be empty")
	}
	s := &Synthesizer{
		apiKey:     apiKey,
		folderID:   folderID,
		voice:      defaultVoice,
		emotion:    defaultEmotion,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		endpoint:   synthesizeEndpoint,
		client:     &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Synthesize converts text to LPCM audio. Inputs beyond the per-request
// limit are split along sentence terminators and synthesized sequentially;
// a failed chunk is logged and skipped, and an error is returned only when
// no chunk produced audio.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{SampleRate: s.sampleRate}, nil
	}

	chunks := tts.SplitText(text, tts.MaxChunkRunes)
	var pcm []byte
	var lastErr error
	for i, chunk := range chunks {
		part, err := s.synthesizeChunk(ctx, chunk)
		if err != nil {
			lastErr = err
			if len(chunks) > 1 {
				s.logger.Warn("yandex tts chunk failed", "chunk", i+1, "of", len(chunks), "error", err)
			}
			continue
		}
		pcm = append(pcm, part...)
	}
	if len(pcm) == 0 && lastErr != nil {
		return tts.Audio{}, lastErr
	}
	return tts.Audio{PCM: pcm, SampleRate: s.sampleRate}, nil
}

func (s *Synthesizer) synthesizeChunk(ctx context.Context, text string) ([]byte, error) {
	form := url.Values{
		"text":            {text},
		"lang":            {s.language},
		"voice":           {s.voice},
		"emotion":         {s.emotion},
		"folderId":        {s.folderID},
		"format":          {"lpcm"},
		"sampleRateHertz": {strconv.Itoa(s.sampleRate)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, provider.NewTransportError("yandex", "synthesize", err)
	}
	req.Header.Set("Authorization", "Api-Key "+s.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, provider.NewTransportError("yandex", "synthesize", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.NewTransportError("yandex", "synthesize", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewHTTPError("yandex", "synthesize", resp.StatusCode, body)
	}
	return body, nil
}

// Close releases pooled HTTP connections. Safe to call more than once.
func (s *Synthesizer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
