// Package zvukogram implements the tts.Synthesizer contract against the
// Zvukogram HTTP API. Synthesis is a two-step exchange: a form POST that
// returns a JSON status with a file URL, then a download of the generated
// WAV whose header is stripped to raw PCM.
package zvukogram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/telvox/telvox/pkg/audio"
	"github.com/telvox/telvox/pkg/provider"
	"github.com/telvox/telvox/pkg/provider/tts"
)

const (
	defaultEndpoint = "https://zvukogram.com/index.php?r=api/text"
	defaultVoice    = "Бот Вася"

	generateTimeout = 30 * time.Second
	downloadTimeout = 15 * time.Second
)

// Compile-time assertion that Synthesizer satisfies tts.Synthesizer.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring the Synthesizer.
type Option func(*Synthesizer)

// WithVoice selects the Zvukogram voice name.
func WithVoice(voice string) Option {
	return func(s *Synthesizer) { s.voice = voice }
}

// WithEndpoint overrides the API URL. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(s *Synthesizer) { s.endpoint = endpoint }
}

// WithHTTPClient replaces the HTTP client used for both steps. The
// per-step timeouts are applied through request contexts, not the client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Synthesizer) { s.client = c }
}

// WithLogger sets the logger for per-chunk failures on long inputs.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) { s.logger = l }
}

// Synthesizer drives the Zvukogram generate-then-download exchange.
type Synthesizer struct {
	token    string
	email    string
	voice    string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// New creates a Synthesizer. The API authenticates with an account token
// plus the account email; both must be non-empty.
func New(token, email string, opts ...Option) (*Synthesizer, error) {
	if token == "" {
		return nil, errors.New("zvukogram: token must not be empty")
	}
	if email == "" {
		return nil, errors.New("zvukogram: email must not be empty")
	}
	s := &Synthesizer{
		token:    token,
		email:    email,
		voice:    defaultVoice,
		endpoint: defaultEndpoint,
		client:   &http.Client{},
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// generateResponse is the JSON body of the first API step.
type generateResponse struct {
	Status   int     `json:"status"`
	File     string  `json:"file"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error"`
}

// Synthesize converts text to PCM at the rate found in the downloaded WAV.
// Long inputs are split along sentence terminators; a failed chunk is
// logged and skipped, and an error is returned only when no chunk produced
// audio.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Audio{}, nil
	}

	chunks := tts.SplitText(text, tts.MaxChunkRunes)
	var pcm []byte
	rate := 0
	var lastErr error
	for i, chunk := range chunks {
		part, partRate, err := s.synthesizeChunk(ctx, chunk)
		if err != nil {
			lastErr = err
			if len(chunks) > 1 {
				s.logger.Warn("zvukogram chunk failed", "chunk", i+1, "of", len(chunks), "error", err)
			}
			continue
		}
		pcm = append(pcm, part...)
		rate = partRate
	}
	if len(pcm) == 0 && lastErr != nil {
		return tts.Audio{}, lastErr
	}
	return tts.Audio{PCM: pcm, SampleRate: rate}, nil
}

func (s *Synthesizer) synthesizeChunk(ctx context.Context, text string) ([]byte, int, error) {
	fileURL, err := s.generate(ctx, text)
	if err != nil {
		return nil, 0, err
	}
	return s.download(ctx, fileURL)
}

// generate posts the text and returns the URL of the rendered WAV.
func (s *Synthesizer) generate(ctx context.Context, text string) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	form := url.Values{
		"token":  {s.token},
		"email":  {s.email},
		"voice":  {s.voice},
		"text":   {text},
		"format": {"wav"},
	}
	req, err := http.NewRequestWithContext(genCtx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", provider.NewTransportError("zvukogram", "generate", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", provider.NewTransportError("zvukogram", "generate", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", provider.NewTransportError("zvukogram", "generate", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", provider.NewHTTPError("zvukogram", "generate", resp.StatusCode, body)
	}

	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("zvukogram: decode generate response: %w", err)
	}
	if gr.Status != 1 || gr.File == "" {
		if gr.Error != "" {
			return "", fmt.Errorf("zvukogram: generate rejected: %s", gr.Error)
		}
		return "", fmt.Errorf("zvukogram: generate rejected with status %d", gr.Status)
	}
	return gr.File, nil
}

// download fetches the WAV and strips its header to raw PCM.
func (s *Synthesizer) download(ctx context.Context, fileURL string) ([]byte, int, error) {
	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, 0, provider.NewTransportError("zvukogram", "download", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, provider.NewTransportError("zvukogram", "download", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, provider.NewTransportError("zvukogram", "download", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, provider.NewHTTPError("zvukogram", "download", resp.StatusCode, body)
	}

	pcm, rate, err := audio.DecodeWAV(body)
	if err != nil {
		return nil, 0, fmt.Errorf("zvukogram: decode wav: %w", err)
	}
	return pcm, rate, nil
}

// Close releases pooled HTTP connections. Safe to call more than once.
func (s *Synthesizer) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
