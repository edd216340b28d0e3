// Package yandex implements the asr.Recognizer contract on top of the
// Yandex SpeechKit short-audio recognition endpoint.
package yandex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/telvox/telvox/pkg/provider"
	"github.com/telvox/telvox/pkg/provider/asr"
)

const (
	recognizeEndpoint = "https://stt.api.cloud.yandex.net/speech/v1/stt:recognize"
	defaultLanguage   = "ru-RU"
	defaultTimeout    = 10 * time.Second
)

// Compile-time assertion that Recognizer satisfies asr.Recognizer.
var _ asr.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring the Recognizer.
type Option func(*Recognizer)

// WithLanguage sets the recognition language tag (e.g. "ru-RU", "hy-AM").
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithEndpoint overrides the recognition URL. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(r *Recognizer) { r.endpoint = endpoint }
}

// WithHTTPClient replaces the HTTP client, including its timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Recognizer) { r.client = c }
}

// Recognizer calls the SpeechKit stt:recognize endpoint with raw LPCM bodies.
type Recognizer struct {
	apiKey   string
	folderID string
	language string
	endpoint string
	client   *http.Client
}

// New creates a Recognizer. apiKey must be non-empty; folderID scopes the
// request to a Yandex Cloud folder.
func New(apiKey, folderID string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, errors.New("yandex asr: apiKey must not be empty")
	}
	r := &Recognizer{
		apiKey:   apiKey,
		folderID: folderID,
		language: defaultLanguage,
		endpoint: recognizeEndpoint,
		client:   &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// recognizeResponse is the JSON body of a successful stt:recognize call.
type recognizeResponse struct {
	Result string `json:"result"`
}

// Recognize posts the utterance as a raw LPCM body and returns the
// transcription. SpeechKit does not report per-utterance confidence on this
// endpoint, so successful results carry Confidence 1.0.
func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, sampleRate int) (asr.Result, error) {
	q := url.Values{
		"topic":           {"general"},
		"lang":            {r.language},
		"folderId":        {r.folderID},
		"format":          {"lpcm"},
		"sampleRateHertz": {strconv.Itoa(sampleRate)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"?"+q.Encode(), bytes.NewReader(pcm))
	if err != nil {
		return asr.Result{}, fmt.Errorf("yandex asr: build request: %w", err)
	}
	req.Header.Set("Authorization", "Api-Key "+r.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := r.client.Do(req)
	if err != nil {
		return asr.Result{}, provider.NewTransportError("yandex", "recognize", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return asr.Result{}, provider.NewHTTPError("yandex", "recognize", resp.StatusCode, body)
	}

	var rr recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return asr.Result{}, fmt.Errorf("yandex asr: decode response: %w", err)
	}
	return asr.Result{Text: rr.Result, Confidence: 1.0, Language: r.language}, nil
}

// Close releases pooled HTTP connections. Safe to call more than once.
func (r *Recognizer) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
