package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/telvox/telvox/internal/calllog"
	"github.com/telvox/telvox/internal/config"
	"github.com/telvox/telvox/internal/notify"
	"github.com/telvox/telvox/internal/observe"
	"github.com/telvox/telvox/internal/playback"
	"github.com/telvox/telvox/internal/telemetry"
	"github.com/telvox/telvox/pkg/audio"
	"github.com/telvox/telvox/pkg/provider/llm"
	"github.com/telvox/telvox/pkg/provider/realtime"
	"github.com/telvox/telvox/pkg/provider/tts"
	"github.com/telvox/telvox/pkg/vad"
)

// Deps carries the shared collaborators a session needs. Runner and
// DialRealtime are injectable so tests run without FreeSWITCH or a live
// backend.
type Deps struct {
	Registry *config.Registry
	Recorder *telemetry.Recorder
	Metrics  *observe.Metrics
	Telegram *notify.Telegram
	Runner   playback.CommandRunner
	Logger   *slog.Logger

	// DialRealtime opens the speech-to-speech connection for realtime mode.
	// Defaults to realtime.Dial.
	DialRealtime func(ctx context.Context, cfg realtime.Config) (realtime.Conn, error)
}

// base is the skeleton shared by every session variant: identity, dialog
// context, transcript, counters, the barge-in flag and the terminator.
type base struct {
	callID string
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	uuidMu  sync.Mutex
	uuid    string
	uuidSet bool

	playback *playback.Controller
	detector *vad.Detector

	// turnMu serializes turn processing: one caller utterance is answered
	// at a time.
	turnMu sync.Mutex

	mu         sync.Mutex
	dialog     []llm.Message
	transcript []string
	turnRows   []calllog.ASRDetail
	turns      int
	bargeIns   int
	caller     string
	status     string
	closers    []func() error

	isActive         atomic.Bool
	greetingDone     atomic.Bool
	bargeInTriggered atomic.Bool

	startedAt time.Time
	stopOnce  sync.Once
}

func newBase(callID string, cfg *config.Config, deps Deps) *base {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Runner == nil {
		deps.Runner = playback.FSCLIRunner{}
	}
	if deps.Recorder == nil {
		deps.Recorder = telemetry.NewRecorder()
	}

	b := &base{
		callID: callID,
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("call_id", callID),
		detector: vad.New(vad.Config{
			Enabled:         cfg.VAD.Enabled,
			EnergyThreshold: cfg.VAD.EnergyThreshold,
			SilenceFrames:   cfg.VAD.SilenceFrames,
			MinSpeechFrames: cfg.VAD.MinSpeechFrames,
		}),
		dialog:    []llm.Message{{Role: llm.RoleSystem, Content: cfg.SystemPrompt}},
		caller:    "unknown",
		status:    "completed",
		startedAt: time.Now(),
	}
	b.isActive.Store(true)
	return b
}

// SetUUID latches the channel UUID from the first frame. Only the first call
// wins; it returns true when the UUID was accepted.
func (b *base) SetUUID(uuid string) bool {
	b.uuidMu.Lock()
	defer b.uuidMu.Unlock()
	if b.uuidSet || uuid == "" {
		return false
	}
	b.uuid = uuid
	b.uuidSet = true
	return true
}

func (b *base) getUUID() string {
	b.uuidMu.Lock()
	defer b.uuidMu.Unlock()
	return b.uuid
}

// boot performs the variant-independent part of Start: playback controller,
// caller lookup and the call-start telemetry.
func (b *base) boot(ctx context.Context) {
	b.playback = playback.NewController(b.callID, b.getUUID(), b.deps.Runner,
		playback.WithScratchDir(b.cfg.ScratchDir),
		playback.WithLogger(b.logger))

	b.mu.Lock()
	b.caller = b.playback.CallerNumber(ctx)
	caller := b.caller
	b.mu.Unlock()

	b.logger.Info("call started", "caller", caller, "uuid", b.getUUID(), "mode", b.cfg.Mode)

	b.deps.Recorder.OnCallStart(telemetry.CallStart{
		CallID:    b.callID,
		UUID:      b.getUUID(),
		Caller:    caller,
		Mode:      b.cfg.Mode,
		RobotName: b.cfg.RobotName,
		Language:  b.cfg.ASR.Language,
	})
	b.deps.Metrics.CallsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", b.cfg.Mode)))
	b.deps.Metrics.ActiveCalls.Add(ctx, 1)
}

// addCloser registers an adapter to close in the terminator.
func (b *base) addCloser(fn func() error) {
	b.mu.Lock()
	b.closers = append(b.closers, fn)
	b.mu.Unlock()
}

func (b *base) addUserTurn(text string) {
	b.mu.Lock()
	b.dialog = append(b.dialog, llm.Message{Role: llm.RoleUser, Content: text})
	b.transcript = append(b.transcript, "🧑Client: "+text)
	b.mu.Unlock()
}

func (b *base) addBotTurn(text string) {
	b.mu.Lock()
	b.dialog = append(b.dialog, llm.Message{Role: llm.RoleAssistant, Content: text})
	b.transcript = append(b.transcript, "🤖Bot: "+text)
	b.mu.Unlock()
}

func (b *base) dialogSnapshot() []llm.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]llm.Message, len(b.dialog))
	copy(out, b.dialog)
	return out
}

func (b *base) recordTurnRow(asrMS int, text string) {
	b.mu.Lock()
	b.turnRows = append(b.turnRows, calllog.ASRDetail{
		Turn:  len(b.turnRows) + 1,
		ASRMS: asrMS,
		Text:  text,
	})
	b.mu.Unlock()
}

func (b *base) avgASRMS() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.turnRows) == 0 {
		return 0
	}
	total := 0
	for _, row := range b.turnRows {
		total += row.ASRMS
	}
	return total / len(b.turnRows)
}

// handleVADFrame runs the shared listen/barge-in logic for one frame and
// spawns process for each completed utterance. Realtime mode bypasses this.
func (b *base) handleVADFrame(ctx context.Context, frame []byte, process func(audio []byte)) {
	if !b.isActive.Load() || !b.greetingDone.Load() {
		return
	}

	if b.playback != nil && b.playback.IsPlaying() {
		if b.detector.CheckBargeIn(frame) {
			b.onBargeIn(ctx)
			b.playback.Stop(ctx)
			b.detector.StartListeningAfterBargeIn(frame)
		}
		return
	}

	event, utterance := b.detector.Feed(frame)
	switch event {
	case vad.SpeechStart:
		b.logger.Debug("speech started")
	case vad.SpeechEnd:
		b.logger.Debug("speech ended", "bytes", len(utterance))
		go func() {
			b.turnMu.Lock()
			defer b.turnMu.Unlock()
			process(utterance)
		}()
	}
}

func (b *base) onBargeIn(ctx context.Context) {
	b.mu.Lock()
	b.bargeIns++
	count := b.bargeIns
	b.mu.Unlock()
	b.bargeInTriggered.Store(true)

	b.logger.Info("barge-in detected", "count", count)
	b.deps.Recorder.OnBargeIn(b.callID)
	b.deps.Metrics.BargeIns.Add(ctx, 1)
}

// greet plays the configured greeting before listening starts. A greeting
// WAV wins over synthesized text; only a spoken greeting_text becomes part
// of the dialog context and transcript.
func (b *base) greet(ctx context.Context, synth tts.Synthesizer) {
	defer b.greetingDone.Store(true)

	if b.cfg.GreetingWAV != "" {
		pcm, rate, err := audio.ReadWAV(b.cfg.GreetingWAV)
		if err != nil {
			b.logger.Warn("greeting wav unreadable", "path", b.cfg.GreetingWAV, "error", err)
		} else {
			b.playback.PlayPCM(ctx, pcm, rate)
			return
		}
	}

	if b.cfg.GreetingText == "" || synth == nil {
		return
	}
	out, err := synth.Synthesize(ctx, b.cfg.GreetingText)
	if err != nil {
		b.logger.Warn("greeting synthesis failed", "error", err)
		return
	}
	if len(out.PCM) == 0 {
		return
	}
	b.playback.PlayPCM(ctx, out.PCM, out.SampleRate)
	b.addBotTurn(b.cfg.GreetingText)
}

// finish is the shared terminator body run exactly once from Stop.
func (b *base) finish(ctx context.Context) {
	b.isActive.Store(false)
	if b.playback != nil {
		b.playback.Stop(ctx)
		b.playback.Close()
	}

	duration := time.Since(b.startedAt)

	b.mu.Lock()
	caller := b.caller
	turns := b.turns
	bargeIns := b.bargeIns
	status := b.status
	transcript := make([]string, len(b.transcript))
	copy(transcript, b.transcript)
	turnRows := make([]calllog.ASRDetail, len(b.turnRows))
	copy(turnRows, b.turnRows)
	closers := b.closers
	b.closers = nil
	b.mu.Unlock()

	if len(transcript) > 0 && b.cfg.Telegram.Enabled && b.deps.Telegram.Enabled() {
		report := notify.FormatReport(notify.Report{
			Caller:     caller,
			UUID:       b.getUUID(),
			StartedAt:  b.startedAt,
			Duration:   duration,
			Turns:      turns,
			BargeIns:   bargeIns,
			ASRAvgMS:   b.avgASRMS(),
			Transcript: transcript,
		})
		if err := b.deps.Telegram.Send(ctx, report); err != nil {
			b.logger.Warn("telegram report failed", "error", err)
		}
	}

	entry := calllog.New(b.getUUID(), caller, b.startedAt, duration)
	entry.Turns = turns
	entry.BargeIns = bargeIns
	entry.ASRDetails = turnRows
	entry.Transcript = transcript
	if path, err := calllog.Save(b.cfg.RobotDir, b.startedAt, entry); err != nil {
		b.logger.Warn("call log write failed", "error", err)
	} else {
		b.logger.Info("call log written", "path", path)
	}

	b.deps.Recorder.OnCallEnd(telemetry.CallEnd{
		CallID:      b.callID,
		DurationSec: duration.Seconds(),
		Turns:       turns,
		BargeIns:    bargeIns,
		Status:      status,
	})
	b.deps.Metrics.CallsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	b.deps.Metrics.ActiveCalls.Add(ctx, -1)

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			b.logger.Warn("adapter close failed", "error", err)
		}
	}

	b.logger.Info("call ended",
		"duration_sec", duration.Round(100*time.Millisecond).Seconds(),
		"turns", turns, "barge_ins", bargeIns, "status", status)
}
