// Package openai implements llm.Chatter with the OpenAI Go SDK against any
// OpenAI-compatible chat completions endpoint. The defaults target the
// Yandex Cloud compatibility gateway, which wants the folder ID in an
// OpenAI-Project header and model URIs like gpt://<folder>/yandexgpt/rc.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/telvox/telvox/pkg/provider/llm"
)

const (
	defaultBaseURL     = "https://llm.api.cloud.yandex.net/v1"
	defaultTimeout     = 30 * time.Second
	defaultTemperature = 0.6
	defaultMaxTokens   = 500
)

// Chatter implements llm.Chatter using the OpenAI chat completions API.
type Chatter struct {
	client      oai.Client
	httpClient  *http.Client
	model       string
	temperature float64
	maxTokens   int
}

var _ llm.Chatter = (*Chatter)(nil)

// config holds optional configuration for the Chatter.
type config struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
}

// Option is a functional option for Chatter.
type Option func(*config)

// WithBaseURL overrides the default Yandex gateway base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel overrides the default gpt://<folder>/yandexgpt/rc model URI.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *config) {
		c.temperature = t
	}
}

// WithMaxTokens caps the reply length in tokens.
func WithMaxTokens(n int) Option {
	return func(c *config) {
		c.maxTokens = n
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Chatter for the given API key and cloud folder.
func New(apiKey, folderID string, opts ...Option) (*Chatter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai llm: apiKey must not be empty")
	}
	if folderID == "" {
		return nil, fmt.Errorf("openai llm: folderID must not be empty")
	}

	cfg := &config{
		baseURL:     defaultBaseURL,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		timeout:     defaultTimeout,
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.model == "" {
		cfg.model = fmt.Sprintf("gpt://%s/yandexgpt/rc", folderID)
	}

	httpClient := &http.Client{Timeout: cfg.timeout}
	client := oai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(cfg.baseURL),
		option.WithHeader("OpenAI-Project", folderID),
		option.WithHTTPClient(httpClient),
	)

	return &Chatter{
		client:      client,
		httpClient:  httpClient,
		model:       cfg.model,
		temperature: cfg.temperature,
		maxTokens:   cfg.maxTokens,
	}, nil
}

// Chat implements llm.Chatter.
func (c *Chatter) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	params, err := c.buildParams(messages)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai llm: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// ChatStream implements llm.Chatter.
func (c *Chatter) ChatStream(ctx context.Context, messages []llm.Message) (*llm.SentenceStream, error) {
	params, err := c.buildParams(messages)
	if err != nil {
		return nil, err
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai llm: start stream: %w", err)
	}
	return llm.NewSentenceStream(&deltaSource{stream: stream}), nil
}

// Close implements llm.Chatter.
func (c *Chatter) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// buildParams converts dialog messages into OpenAI SDK params.
func (c *Chatter) buildParams(messages []llm.Message) (oai.ChatCompletionNewParams, error) {
	var converted []oai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			converted = append(converted, oai.SystemMessage(m.Content))
		case llm.RoleUser:
			converted = append(converted, oai.UserMessage(m.Content))
		case llm.RoleAssistant:
			converted = append(converted, oai.AssistantMessage(m.Content))
		default:
			return oai.ChatCompletionNewParams{}, fmt.Errorf("openai llm: unknown message role %q", m.Role)
		}
	}

	return oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(c.model),
		Messages:            converted,
		Temperature:         param.NewOpt(c.temperature),
		MaxCompletionTokens: param.NewOpt(int64(c.maxTokens)),
	}, nil
}

// chunkStream is the subset of the SDK's SSE stream used by deltaSource.
type chunkStream interface {
	Next() bool
	Current() oai.ChatCompletionChunk
	Err() error
	Close() error
}

// deltaSource adapts the SDK chunk stream to llm.DeltaSource.
type deltaSource struct {
	stream chunkStream
}

func (d *deltaSource) Recv() (string, error) {
	for d.stream.Next() {
		chunk := d.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
	if err := d.stream.Err(); err != nil {
		return "", fmt.Errorf("openai llm: stream: %w", err)
	}
	return "", io.EOF
}

func (d *deltaSource) Close() error {
	return d.stream.Close()
}
