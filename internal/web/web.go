// Package web serves the browser demo channel: one WebSocket per browser
// session speaking a small JSON event grammar, with binary PCM frames in
// both directions. The demo reuses the pipeline or script engines but has
// no telephony leg and no barge-in; a reply always plays out in full.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/telvox/telvox/internal/config"
	"github.com/telvox/telvox/pkg/audio"
	"github.com/telvox/telvox/pkg/provider/asr"
	"github.com/telvox/telvox/pkg/provider/llm"
	"github.com/telvox/telvox/pkg/provider/tts"
	"github.com/telvox/telvox/pkg/vad"
)

// event is one JSON text frame on the demo channel.
type event struct {
	Event      string `json:"event"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Role       string `json:"role,omitempty"`
	Text       string `json:"text,omitempty"`
}

// Handler accepts demo connections and runs one dialog per socket.
type Handler struct {
	cfg      *config.Config
	registry *config.Registry
	logger   *slog.Logger
}

// New builds a demo channel handler.
func New(cfg *config.Config, registry *config.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{cfg: cfg, registry: registry, logger: logger}
}

// Handler returns the HTTP handler accepting demo WebSocket upgrades.
func (h *Handler) Handler() http.Handler {
	return http.HandlerFunc(h.handle)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("demo accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	d, err := h.newDialog(conn)
	if err != nil {
		h.logger.Error("demo engines unavailable", "error", err)
		return
	}
	defer d.close()

	d.run(r.Context())
}

// dialog is one browser session's state.
type dialog struct {
	h    *Handler
	conn *websocket.Conn

	recognizer asr.Recognizer
	chatter    llm.Chatter
	synth      tts.Synthesizer // pipeline mode only
	tracks     map[string]string
	detector   *vad.Detector

	// dialogCtx is the running chat context.
	mu        sync.Mutex
	dialogCtx []llm.Message

	busy    atomic.Bool
	writeMu sync.Mutex
}

func (h *Handler) newDialog(conn *websocket.Conn) (*dialog, error) {
	d := &dialog{
		h:    h,
		conn: conn,
		detector: vad.New(vad.Config{
			Enabled:         h.cfg.VAD.Enabled,
			EnergyThreshold: h.cfg.VAD.EnergyThreshold,
			SilenceFrames:   h.cfg.VAD.SilenceFrames,
			MinSpeechFrames: h.cfg.VAD.MinSpeechFrames,
		}),
		dialogCtx: []llm.Message{{Role: llm.RoleSystem, Content: h.cfg.SystemPrompt}},
	}

	var err error
	if d.recognizer, err = h.registry.CreateASR(h.cfg); err != nil {
		return nil, fmt.Errorf("web: %w", err)
	}
	if d.chatter, err = h.registry.CreateLLM(h.cfg); err != nil {
		d.close()
		return nil, fmt.Errorf("web: %w", err)
	}
	switch h.cfg.Mode {
	case config.ModeScript:
		if err := d.loadTracks(); err != nil {
			d.close()
			return nil, fmt.Errorf("web: %w", err)
		}
	default:
		if d.synth, err = h.registry.CreateTTS(h.cfg); err != nil {
			d.close()
			return nil, fmt.Errorf("web: %w", err)
		}
	}
	return d, nil
}

func (d *dialog) close() {
	if d.recognizer != nil {
		_ = d.recognizer.Close()
	}
	if d.chatter != nil {
		_ = d.chatter.Close()
	}
	if d.synth != nil {
		_ = d.synth.Close()
	}
}

// run drives the session until the socket closes.
func (d *dialog) run(ctx context.Context) {
	if err := d.sendEvent(ctx, event{Event: "ready"}); err != nil {
		return
	}
	d.playGreeting(ctx)
	if err := d.sendEvent(ctx, event{Event: "listening"}); err != nil {
		return
	}

	for {
		typ, data, err := d.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		if d.busy.Load() {
			continue
		}

		ev, utterance := d.detector.Feed(data)
		switch ev {
		case vad.SpeechStart:
			_ = d.sendEvent(ctx, event{Event: "speech_start"})
		case vad.SpeechEnd:
			d.busy.Store(true)
			go d.respond(ctx, utterance)
		}
	}
}

func (d *dialog) playGreeting(ctx context.Context) {
	if d.h.cfg.GreetingWAV != "" {
		pcm, rate, err := audio.ReadWAV(d.h.cfg.GreetingWAV)
		if err != nil {
			d.h.logger.Warn("greeting wav unreadable", "error", err)
			return
		}
		_ = d.sendAudio(ctx, pcm, rate)
		_ = d.sendEvent(ctx, event{Event: "response_end"})
		return
	}
	if d.h.cfg.GreetingText == "" || d.synth == nil {
		return
	}
	out, err := d.synth.Synthesize(ctx, d.h.cfg.GreetingText)
	if err != nil || len(out.PCM) == 0 {
		return
	}
	_ = d.sendAudio(ctx, out.PCM, out.SampleRate)
	_ = d.sendEvent(ctx, event{Event: "transcript", Role: "bot", Text: d.h.cfg.GreetingText})
	_ = d.sendEvent(ctx, event{Event: "response_end"})
	d.appendTurn(llm.RoleAssistant, d.h.cfg.GreetingText)
}

// respond answers one utterance and returns the channel to listening.
func (d *dialog) respond(ctx context.Context, utterance []byte) {
	defer func() {
		d.busy.Store(false)
		_ = d.sendEvent(ctx, event{Event: "listening"})
	}()

	_ = d.sendEvent(ctx, event{Event: "processing"})

	result, err := d.recognizer.Recognize(ctx, utterance, d.h.cfg.ASR.SampleRate)
	if err != nil {
		d.h.logger.Error("demo recognition failed", "error", err)
		return
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		return
	}
	_ = d.sendEvent(ctx, event{Event: "transcript", Role: "user", Text: text})
	d.appendTurn(llm.RoleUser, text)

	if d.h.cfg.Mode == config.ModeScript {
		d.respondScript(ctx)
	} else {
		d.respondPipeline(ctx)
	}
	_ = d.sendEvent(ctx, event{Event: "response_end"})
}

func (d *dialog) respondPipeline(ctx context.Context) {
	stream, err := d.chatter.ChatStream(ctx, d.snapshot())
	if err != nil {
		d.h.logger.Error("demo chat failed", "error", err)
		return
	}
	defer stream.Close()

	var sentences []string
	for stream.Next() {
		sentence := stream.Sentence()
		sentences = append(sentences, sentence)
		out, err := d.synth.Synthesize(ctx, sentence)
		if err != nil {
			d.h.logger.Error("demo synthesis failed", "error", err)
			continue
		}
		if len(out.PCM) > 0 {
			_ = d.sendAudio(ctx, out.PCM, out.SampleRate)
		}
	}
	if err := stream.Err(); err != nil {
		d.h.logger.Error("demo chat stream broke", "error", err)
	}
	if len(sentences) > 0 {
		reply := strings.Join(sentences, " ")
		_ = d.sendEvent(ctx, event{Event: "transcript", Role: "bot", Text: reply})
		d.appendTurn(llm.RoleAssistant, reply)
	}
}

func (d *dialog) respondScript(ctx context.Context) {
	answer, err := d.chatter.Chat(ctx, d.snapshot())
	if err != nil {
		d.h.logger.Error("demo track selection failed", "error", err)
		return
	}
	name := strings.Trim(strings.TrimSpace(answer), `"'«»`)

	path, ok := d.tracks[name]
	if !ok {
		_ = d.sendEvent(ctx, event{Event: "transcript", Role: "bot", Text: "[unknown: " + name + "]"})
		d.appendTurn(llm.RoleAssistant, "[unknown: "+name+"]")
		return
	}
	pcm, rate, err := audio.ReadWAV(path)
	if err != nil {
		d.h.logger.Error("demo track unreadable", "track", name, "error", err)
		return
	}
	_ = d.sendAudio(ctx, pcm, rate)
	_ = d.sendEvent(ctx, event{Event: "transcript", Role: "bot", Text: "[" + name + "]"})
	d.appendTurn(llm.RoleAssistant, "["+name+"]")
}

func (d *dialog) loadTracks() error {
	dir := filepath.Join(d.h.cfg.RobotDir, "tracks")
	if _, err := os.Stat(dir); err != nil {
		dir = d.h.cfg.RobotDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read track dir %s: %w", dir, err)
	}
	d.tracks = make(map[string]string)
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wav") || e.Name() == "greeting.wav" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".wav")
		d.tracks[name] = filepath.Join(dir, e.Name())
		names = append(names, name)
	}
	if len(names) == 0 {
		return fmt.Errorf("no tracks in %s", dir)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(d.h.cfg.SystemPrompt)
	b.WriteString("\n\nAvailable tracks:\n")
	for _, n := range names {
		b.WriteString("- ")
		b.WriteString(n)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\nRULE: answer with exactly one track name from the list and nothing else, e.g. %s", names[0])
	d.dialogCtx[0].Content = b.String()
	return nil
}

func (d *dialog) appendTurn(role, content string) {
	d.mu.Lock()
	d.dialogCtx = append(d.dialogCtx, llm.Message{Role: role, Content: content})
	d.mu.Unlock()
}

func (d *dialog) snapshot() []llm.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]llm.Message, len(d.dialogCtx))
	copy(out, d.dialogCtx)
	return out
}

func (d *dialog) sendEvent(ctx context.Context, ev event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.Write(ctx, websocket.MessageText, data)
}

// sendAudio announces the clip then ships its PCM in one binary frame.
func (d *dialog) sendAudio(ctx context.Context, pcm []byte, sampleRate int) error {
	if err := d.sendEvent(ctx, event{Event: "audio", SampleRate: sampleRate}); err != nil {
		return err
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return d.conn.Write(ctx, websocket.MessageBinary, pcm)
}
