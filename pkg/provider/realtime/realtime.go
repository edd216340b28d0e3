// Package realtime implements the full-duplex speech-to-speech client used
// by realtime-mode calls. It holds a WebSocket to the Yandex SpeechKit
// Realtime API, pushes caller PCM up as base64 chunks, and surfaces server
// events (synthesized audio, transcripts, speech markers) on one channel.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Server event types surfaced on the session channel.
const (
	EventAudioDelta             = "response.output_audio.delta"
	EventTextDelta              = "response.output_text.delta"
	EventResponseDone           = "response.done"
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventSpeechStarted          = "input_audio_buffer.speech_started"
	EventSpeechStopped          = "input_audio_buffer.speech_stopped"
	EventError                  = "error"
)

const (
	pingInterval = 20 * time.Second
	pingTimeout  = 10 * time.Second

	defaultTranscriptionModel = "general"
)

// Config describes one realtime session.
type Config struct {
	// URL is the WebSocket endpoint. Required.
	URL string

	// APIKey authenticates as "Authorization: api-key <key>". Required.
	APIKey string

	// Voice selects the synthesis voice. Empty keeps the server default.
	Voice string

	// Instructions is the system prompt for the remote model.
	Instructions string

	// TranscriptionModel names the model for caller-audio transcripts.
	TranscriptionModel string

	// Server-side VAD tuning.
	VADThreshold      float64
	PrefixPaddingMS   int
	SilenceDurationMS int
}

// Event is one message from the server. Audio is decoded PCM for audio
// deltas; Text carries text deltas and completed transcripts; ErrMsg is set
// for error events.
type Event struct {
	Type   string
	Audio  []byte
	Text   string
	ErrMsg string
}

// Conn is the session surface the dialog layer consumes. *Session is the
// production implementation; tests substitute their own.
type Conn interface {
	SendAudio(ctx context.Context, pcm []byte) error
	CreateResponse(ctx context.Context) error
	Events() <-chan Event
	Close() error
}

// Session is a live realtime connection.
type Session struct {
	conn   *websocket.Conn
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
}

var _ Conn = (*Session)(nil)

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities        []string            `json:"modalities"`
	Voice             string              `json:"voice,omitempty"`
	Instructions      string              `json:"instructions,omitempty"`
	InputAudioFormat  string              `json:"input_audio_format"`
	OutputAudioFormat string              `json:"output_audio_format"`
	InputTranscribe   transcriptionParams `json:"input_audio_transcription"`
	TurnDetection     turnDetectionParams `json:"turn_detection"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetectionParams struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type       string             `json:"type"`
	Delta      string             `json:"delta,omitempty"`
	Transcript string             `json:"transcript,omitempty"`
	Error      *serverErrorDetail `json:"error,omitempty"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Dial connects, configures the session with server-side VAD and requests
// the first model response, so the remote side speaks the greeting without
// waiting for caller audio.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("realtime: URL must not be empty")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("realtime: APIKey must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"api-key " + cfg.APIKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	s := &Session{
		conn:   conn,
		events: make(chan Event, 64),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	if err := s.sendSessionUpdate(ctx, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}
	if err := s.CreateResponse(ctx); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "response create failed")
		return nil, fmt.Errorf("realtime: response create: %w", err)
	}

	go s.receiveLoop()
	go s.pingLoop()

	return s, nil
}

func (s *Session) sendSessionUpdate(ctx context.Context, cfg Config) error {
	model := cfg.TranscriptionModel
	if model == "" {
		model = defaultTranscriptionModel
	}
	params := sessionParams{
		Modalities:        []string{"audio", "text"},
		Voice:             cfg.Voice,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputTranscribe:   transcriptionParams{Model: model},
		TurnDetection: turnDetectionParams{
			Type:              "server_vad",
			Threshold:         cfg.VADThreshold,
			PrefixPaddingMS:   cfg.PrefixPaddingMS,
			SilenceDurationMS: cfg.SilenceDurationMS,
		},
	}
	return s.writeJSON(ctx, sessionUpdateMessage{Type: "session.update", Session: params})
}

// writeJSON marshals v and writes it as a text WebSocket message. Writes are
// serialized; audio appends and pings come from different goroutines.
func (s *Session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads server events and forwards them on the events channel.
// It owns the channel and closes it on exit.
func (s *Session) receiveLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.emit(Event{Type: EventError, ErrMsg: err.Error()})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		s.handleServerEvent(&evt)
	}
}

func (s *Session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case EventAudioDelta:
		if evt.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		s.emit(Event{Type: EventAudioDelta, Audio: pcm})

	case EventTextDelta:
		if evt.Delta == "" {
			return
		}
		s.emit(Event{Type: EventTextDelta, Text: evt.Delta})

	case EventTranscriptionCompleted:
		s.emit(Event{Type: EventTranscriptionCompleted, Text: evt.Transcript})

	case EventResponseDone, EventSpeechStarted, EventSpeechStopped:
		s.emit(Event{Type: evt.Type})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		s.emit(Event{Type: EventError, ErrMsg: msg})
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// pingLoop keeps the connection alive. A missed pong tears the session down
// so the dialog layer sees the channel close instead of hanging.
func (s *Session) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, pingTimeout)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if s.ctx.Err() == nil {
					s.emit(Event{Type: EventError, ErrMsg: "ping timeout: " + err.Error()})
				}
				s.Close()
				return
			}
		}
	}
}

// SendAudio appends one chunk of caller PCM16 to the server input buffer.
func (s *Session) SendAudio(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("realtime: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(ctx, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// CreateResponse asks the model to produce its next reply.
func (s *Session) CreateResponse(ctx context.Context) error {
	return s.writeJSON(ctx, map[string]string{"type": "response.create"})
}

// Events returns the server event channel. It is closed when the session
// ends for any reason.
func (s *Session) Events() <-chan Event { return s.events }

// Close terminates the session and releases all resources. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
