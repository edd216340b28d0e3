package realtime_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/telvox/telvox/pkg/provider/realtime"
)

// fakeServer accepts one realtime connection, records the handshake
// messages and lets the test script server events.
type fakeServer struct {
	t *testing.T

	srv *httptest.Server

	gotAuth   chan string
	gotUpdate chan map[string]any
	gotCreate chan struct{}
	conns     chan *websocket.Conn
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		t:         t,
		gotAuth:   make(chan string, 1),
		gotUpdate: make(chan map[string]any, 1),
		gotCreate: make(chan struct{}, 1),
		conns:     make(chan *websocket.Conn, 1),
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.gotAuth <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		// First two client messages are session.update and response.create.
		for i := 0; i < 2; i++ {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				t.Errorf("read handshake message %d: %v", i, err)
				return
			}
			var msg map[string]any
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Errorf("decode handshake message: %v", err)
				return
			}
			switch msg["type"] {
			case "session.update":
				fs.gotUpdate <- msg
			case "response.create":
				fs.gotCreate <- struct{}{}
			default:
				t.Errorf("unexpected handshake message type %v", msg["type"])
			}
		}
		fs.conns <- conn
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) send(conn *websocket.Conn, v any) {
	fs.t.Helper()
	data, _ := json.Marshal(v)
	if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		fs.t.Fatalf("server write: %v", err)
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
		panic("unreachable")
	}
}

func TestDialHandshake(t *testing.T) {
	fs := newFakeServer(t)

	sess, err := realtime.Dial(context.Background(), realtime.Config{
		URL:               fs.url(),
		APIKey:            "rt-key",
		Voice:             "marina",
		Instructions:      "You answer phone calls.",
		VADThreshold:      0.5,
		PrefixPaddingMS:   300,
		SilenceDurationMS: 700,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()

	if auth := waitFor(t, fs.gotAuth, "auth header"); auth != "api-key rt-key" {
		t.Errorf("Authorization = %q", auth)
	}

	update := waitFor(t, fs.gotUpdate, "session.update")
	session, ok := update["session"].(map[string]any)
	if !ok {
		t.Fatalf("session.update payload = %v", update)
	}
	if session["voice"] != "marina" {
		t.Errorf("voice = %v", session["voice"])
	}
	if session["input_audio_format"] != "pcm16" {
		t.Errorf("input_audio_format = %v", session["input_audio_format"])
	}
	td, ok := session["turn_detection"].(map[string]any)
	if !ok {
		t.Fatalf("turn_detection missing: %v", session)
	}
	if td["type"] != "server_vad" {
		t.Errorf("turn_detection type = %v", td["type"])
	}
	if td["threshold"] != 0.5 {
		t.Errorf("threshold = %v", td["threshold"])
	}
	if td["silence_duration_ms"] != float64(700) {
		t.Errorf("silence_duration_ms = %v", td["silence_duration_ms"])
	}

	waitFor(t, fs.gotCreate, "response.create")
}

func TestSessionEventsAndAudio(t *testing.T) {
	fs := newFakeServer(t)

	sess, err := realtime.Dial(context.Background(), realtime.Config{
		URL:    fs.url(),
		APIKey: "rt-key",
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sess.Close()
	waitFor(t, fs.gotUpdate, "session.update")
	waitFor(t, fs.gotCreate, "response.create")
	conn := waitFor(t, fs.conns, "server conn")

	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	fs.send(conn, map[string]any{
		"type":  "response.output_audio.delta",
		"delta": base64.StdEncoding.EncodeToString(pcm),
	})
	fs.send(conn, map[string]any{
		"type":       "conversation.item.input_audio_transcription.completed",
		"transcript": "добрый день",
	})
	fs.send(conn, map[string]any{"type": "response.done"})

	ev := waitFor(t, sess.Events(), "audio delta")
	if ev.Type != realtime.EventAudioDelta {
		t.Fatalf("event type = %q", ev.Type)
	}
	if string(ev.Audio) != string(pcm) {
		t.Errorf("audio = %v, want %v", ev.Audio, pcm)
	}

	ev = waitFor(t, sess.Events(), "transcription")
	if ev.Type != realtime.EventTranscriptionCompleted || ev.Text != "добрый день" {
		t.Errorf("event = %+v", ev)
	}

	ev = waitFor(t, sess.Events(), "response.done")
	if ev.Type != realtime.EventResponseDone {
		t.Errorf("event type = %q", ev.Type)
	}

	// Caller audio goes up as a base64 append.
	if err := sess.SendAudio(context.Background(), pcm); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	_, data, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	var appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	if err := json.Unmarshal(data, &appendMsg); err != nil {
		t.Fatalf("decode append: %v", err)
	}
	if appendMsg.Type != "input_audio_buffer.append" {
		t.Errorf("append type = %q", appendMsg.Type)
	}
	if got, _ := base64.StdEncoding.DecodeString(appendMsg.Audio); string(got) != string(pcm) {
		t.Errorf("append audio = %v, want %v", got, pcm)
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	fs := newFakeServer(t)

	sess, err := realtime.Dial(context.Background(), realtime.Config{
		URL:    fs.url(),
		APIKey: "rt-key",
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitFor(t, fs.gotUpdate, "session.update")
	waitFor(t, fs.gotCreate, "response.create")

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sess.SendAudio(context.Background(), []byte{1, 2}); err == nil {
		t.Error("SendAudio after Close succeeded")
	}

	// The events channel must drain and close.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sess.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel not closed after Close")
		}
	}
}
