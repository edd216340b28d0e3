// Package notify delivers end-of-call reports to Telegram.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/telvox/telvox/pkg/provider"
)

const sendTimeout = 5 * time.Second

// Telegram posts messages to one chat through the Bot API. The zero value
// and any client missing credentials are disabled no-ops.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
}

// TelegramOption configures the client.
type TelegramOption func(*Telegram)

// WithHTTPClient substitutes the HTTP client, used by tests.
func WithHTTPClient(c *http.Client) TelegramOption {
	return func(t *Telegram) { t.client = c }
}

// NewTelegram builds a client for the given bot token and chat.
func NewTelegram(token, chatID string, opts ...TelegramOption) *Telegram {
	t := &Telegram{token: token, chatID: chatID, client: http.DefaultClient}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Enabled reports whether both credentials are present.
func (t *Telegram) Enabled() bool {
	return t != nil && t.token != "" && t.chatID != ""
}

// Send posts an HTML-formatted message to the configured chat. Disabled
// clients return nil without a request.
func (t *Telegram) Send(ctx context.Context, text string) error {
	if !t.Enabled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("notify: marshal message: %w", err)
	}

	url := "https://api.telegram.org/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", provider.NewTransportError("telegram", "sendMessage", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notify: send: %w", provider.NewHTTPError("telegram", "sendMessage", resp.StatusCode, body))
	}
	return nil
}
