package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/telvox/telvox/internal/config"
	"github.com/telvox/telvox/internal/telemetry"
	"github.com/telvox/telvox/pkg/provider/realtime"
)

// remoteSampleRate is the PCM rate the speech-to-speech backend emits;
// playback downsamples to the caller leg rate.
const remoteSampleRate = 48000

// Realtime bridges caller audio straight to a full-duplex speech-to-speech
// backend: no local VAD, ASR or TTS, the remote model handles turn taking
// and produces both text and audio.
type Realtime struct {
	*base

	conn realtime.Conn

	bufMu    sync.Mutex
	audioBuf []byte
	textBuf  strings.Builder

	respStart time.Time
	loopDone  chan struct{}
}

var _ Session = (*Realtime)(nil)

// NewRealtime builds a realtime session for one call.
func NewRealtime(callID string, cfg *config.Config, deps Deps) *Realtime {
	r := &Realtime{base: newBase(callID, cfg, deps), loopDone: make(chan struct{})}
	if r.deps.DialRealtime == nil {
		r.deps.DialRealtime = func(ctx context.Context, cfg realtime.Config) (realtime.Conn, error) {
			return realtime.Dial(ctx, cfg)
		}
	}
	return r
}

// Start dials the backend and begins consuming its events. A dial failure
// leaves the session idle; the caller hears nothing until disconnect.
func (r *Realtime) Start(ctx context.Context) error {
	conn, err := r.deps.DialRealtime(ctx, realtime.Config{
		URL:               r.cfg.Secrets.RealtimeURL,
		APIKey:            r.cfg.Secrets.RealtimeAPIKey,
		Voice:             r.cfg.Realtime.Voice,
		Instructions:      r.cfg.SystemPrompt,
		VADThreshold:      r.cfg.Realtime.VADThreshold,
		PrefixPaddingMS:   r.cfg.Realtime.PrefixPaddingMS,
		SilenceDurationMS: r.cfg.Realtime.SilenceDurationMS,
	})
	if err != nil {
		r.setStatus("failed")
		close(r.loopDone)
		return fmt.Errorf("session: realtime dial: %w", err)
	}
	r.conn = conn
	r.addCloser(conn.Close)

	r.boot(ctx)
	r.greetingDone.Store(true)
	go r.eventLoop()
	return nil
}

// HandleFrame forwards caller audio to the backend. Frames are dropped while
// the bot is speaking so its own voice never echoes back as input.
func (r *Realtime) HandleFrame(ctx context.Context, frame []byte) {
	if !r.isActive.Load() || r.conn == nil {
		return
	}
	if r.playback != nil && r.playback.IsPlaying() {
		return
	}
	if err := r.conn.SendAudio(ctx, frame); err != nil {
		r.logger.Debug("audio send failed", "error", err)
	}
}

// Stop is the guaranteed terminator.
func (r *Realtime) Stop(ctx context.Context) {
	r.stopOnce.Do(func() {
		if r.conn != nil {
			_ = r.conn.Close()
			select {
			case <-r.loopDone:
			case <-time.After(2 * time.Second):
			}
		}
		r.finish(ctx)
	})
}

// eventLoop consumes backend events until the connection closes.
func (r *Realtime) eventLoop() {
	defer close(r.loopDone)
	ctx := context.Background()

	for ev := range r.conn.Events() {
		switch ev.Type {
		case realtime.EventAudioDelta:
			r.bufMu.Lock()
			if len(r.audioBuf) == 0 && r.textBuf.Len() == 0 {
				r.respStart = time.Now()
			}
			r.audioBuf = append(r.audioBuf, ev.Audio...)
			r.bufMu.Unlock()

		case realtime.EventTextDelta:
			r.bufMu.Lock()
			r.textBuf.WriteString(ev.Text)
			r.bufMu.Unlock()

		case realtime.EventResponseDone:
			r.onResponseDone(ctx)

		case realtime.EventTranscriptionCompleted:
			text := strings.TrimSpace(ev.Text)
			if text == "" {
				continue
			}
			r.logger.Info("caller said", "text", text)
			r.addUserTurn(text)
			r.deps.Recorder.OnUserSpeech(telemetry.UserSpeech{
				CallID:   r.callID,
				Text:     text,
				Provider: "realtime",
			})

		case realtime.EventSpeechStarted:
			r.bufMu.Lock()
			r.audioBuf = nil
			r.textBuf.Reset()
			r.bufMu.Unlock()
			if r.playback != nil && r.playback.IsPlaying() {
				r.onBargeIn(ctx)
				r.playback.Stop(ctx)
			}

		case realtime.EventSpeechStopped:
			r.logger.Debug("caller stopped speaking")

		case realtime.EventError:
			r.logger.Error("realtime backend error", "error", ev.ErrMsg)
		}
	}
}

// onResponseDone flushes the accumulated reply: play the audio, count the
// turn and record the text.
func (r *Realtime) onResponseDone(ctx context.Context) {
	r.bufMu.Lock()
	pcm := r.audioBuf
	text := strings.TrimSpace(r.textBuf.String())
	elapsed := 0
	if !r.respStart.IsZero() {
		elapsed = int(time.Since(r.respStart).Milliseconds())
	}
	r.audioBuf = nil
	r.textBuf.Reset()
	r.respStart = time.Time{}
	r.bufMu.Unlock()

	if len(pcm) == 0 && text == "" {
		return
	}

	r.mu.Lock()
	r.turns++
	r.mu.Unlock()
	r.deps.Metrics.Turns.Add(ctx, 1)

	if text != "" {
		r.logger.Info("bot replied", "text", text)
		r.addBotTurn(text)
		r.deps.Recorder.OnBotResponse(telemetry.BotResponse{
			CallID:       r.callID,
			Text:         text,
			LLMProvider:  "realtime",
			LLMLatencyMS: elapsed,
		})
	}
	if len(pcm) > 0 && r.isActive.Load() {
		// Play in the background so barge-in events keep flowing.
		go r.playback.PlayPCM(ctx, pcm, remoteSampleRate)
	}
}
