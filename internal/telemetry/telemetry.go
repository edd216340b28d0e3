// Package telemetry fans call lifecycle events out to three storage
// backends: a relational store for call records and scenarios (PostgreSQL),
// a document store for transcription detail (MongoDB), and an ephemeral
// store for live session state and pub/sub (Redis).
//
// The Recorder is the only surface sessions touch. Every operation is
// fire-and-forget: it returns immediately, the writes run in a tracked
// goroutine, and a failing sink is logged and swallowed so telemetry can
// never stall or kill a call. Any sink may be absent.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Per-event write deadline and the grace period Close waits for
// outstanding dispatches.
const (
	dispatchTimeout = 10 * time.Second
	closeTimeout    = 5 * time.Second
)

// CallStart announces an accepted call.
type CallStart struct {
	CallID     string
	UUID       string
	Caller     string
	Mode       string
	RobotName  string
	Language   string
	ScenarioID string
}

// UserSpeech is one recognized caller utterance.
type UserSpeech struct {
	CallID     string
	Text       string
	Provider   string
	LatencyMS  int
	Confidence float64
}

// BotResponse is one completed bot reply.
type BotResponse struct {
	CallID       string
	Text         string
	LLMProvider  string
	LLMLatencyMS int
	TTSProvider  string
	TTSLatencyMS int
}

// CallEnd closes out a call.
type CallEnd struct {
	CallID      string
	DurationSec float64
	Turns       int
	BargeIns    int
	Status      string
}

// Segment is one transcript entry in the document store.
type Segment struct {
	Role       string    `bson:"role"`
	Text       string    `bson:"text"`
	Provider   string    `bson:"provider,omitempty"`
	LatencyMS  int       `bson:"latency_ms"`
	Confidence float64   `bson:"confidence,omitempty"`
	Timestamp  time.Time `bson:"timestamp"`
}

// PipelineStep is one pipeline stage timing in the document store.
type PipelineStep struct {
	Stage      string    `bson:"stage"`
	DurationMS int       `bson:"duration_ms"`
	Detail     string    `bson:"detail,omitempty"`
	Timestamp  time.Time `bson:"timestamp"`
}

// RelationalSink persists call rows. *PostgresSink is the production
// implementation.
type RelationalSink interface {
	InsertCall(ctx context.Context, ev CallStart) error
	FinishCall(ctx context.Context, ev CallEnd) error
	Close(ctx context.Context) error
}

// DocumentSink persists full transcriptions. *MongoSink is the production
// implementation.
type DocumentSink interface {
	CreateTranscription(ctx context.Context, callID, language string) error
	AddSegment(ctx context.Context, callID string, seg Segment) error
	AddPipelineStep(ctx context.Context, callID string, step PipelineStep) error
	FinishTranscription(ctx context.Context, callID string, totalMS int) error
	Close(ctx context.Context) error
}

// EphemeralSink tracks live session state. *RedisSink is the production
// implementation.
type EphemeralSink interface {
	CreateSession(ctx context.Context, ev CallStart) error
	UpdateSession(ctx context.Context, callID string, fields map[string]string) error
	IncrementBargeIns(ctx context.Context, callID string) error
	EndSession(ctx context.Context, ev CallEnd) error
	PushMessage(ctx context.Context, callID, role, text string) error
	PublishEvent(ctx context.Context, eventType string, data map[string]any) error
	Close(ctx context.Context) error
}

// Recorder fans events out to the configured sinks. The zero set of sinks
// is valid: every operation becomes a no-op.
type Recorder struct {
	rel    RelationalSink
	doc    DocumentSink
	eph    EphemeralSink
	logger *slog.Logger
	wg     sync.WaitGroup
}

// RecorderOption is a functional option for the Recorder.
type RecorderOption func(*Recorder)

// WithRelationalSink attaches the call-record store.
func WithRelationalSink(s RelationalSink) RecorderOption {
	return func(r *Recorder) { r.rel = s }
}

// WithDocumentSink attaches the transcription store.
func WithDocumentSink(s DocumentSink) RecorderOption {
	return func(r *Recorder) { r.doc = s }
}

// WithEphemeralSink attaches the live-state store.
func WithEphemeralSink(s EphemeralSink) RecorderOption {
	return func(r *Recorder) { r.eph = s }
}

// WithLogger sets the logger for swallowed sink failures.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder builds a Recorder over whichever sinks are configured.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// OnCallStart records an accepted call.
func (r *Recorder) OnCallStart(ev CallStart) {
	r.dispatch(func(ctx context.Context) {
		if r.rel != nil {
			r.sinkOp(ctx, "postgres", "insert_call", ev.CallID, func(ctx context.Context) error {
				return r.rel.InsertCall(ctx, ev)
			})
		}
		if r.doc != nil {
			r.sinkOp(ctx, "mongo", "create_transcription", ev.CallID, func(ctx context.Context) error {
				return r.doc.CreateTranscription(ctx, ev.CallID, ev.Language)
			})
		}
		if r.eph != nil {
			r.sinkOp(ctx, "redis", "create_session", ev.CallID, func(ctx context.Context) error {
				return r.eph.CreateSession(ctx, ev)
			})
			r.sinkOp(ctx, "redis", "publish_event", ev.CallID, func(ctx context.Context) error {
				return r.eph.PublishEvent(ctx, "call_started", map[string]any{
					"call_id": ev.CallID,
					"caller":  ev.Caller,
					"mode":    ev.Mode,
				})
			})
		}
	})
}

// OnUserSpeech records a recognized caller utterance.
func (r *Recorder) OnUserSpeech(ev UserSpeech) {
	r.dispatch(func(ctx context.Context) {
		if r.doc != nil {
			r.sinkOp(ctx, "mongo", "add_segment", ev.CallID, func(ctx context.Context) error {
				return r.doc.AddSegment(ctx, ev.CallID, Segment{
					Role:       "user",
					Text:       ev.Text,
					Provider:   ev.Provider,
					LatencyMS:  ev.LatencyMS,
					Confidence: ev.Confidence,
				})
			})
			r.sinkOp(ctx, "mongo", "add_pipeline_step", ev.CallID, func(ctx context.Context) error {
				return r.doc.AddPipelineStep(ctx, ev.CallID, PipelineStep{
					Stage:      "asr",
					DurationMS: ev.LatencyMS,
					Detail:     ev.Provider,
				})
			})
		}
		if r.eph != nil {
			r.sinkOp(ctx, "redis", "push_message", ev.CallID, func(ctx context.Context) error {
				return r.eph.PushMessage(ctx, ev.CallID, "user", ev.Text)
			})
			r.sinkOp(ctx, "redis", "update_session", ev.CallID, func(ctx context.Context) error {
				return r.eph.UpdateSession(ctx, ev.CallID, map[string]string{
					"last_asr_ms": strconv.Itoa(ev.LatencyMS),
				})
			})
		}
	})
}

// OnBotResponse records a completed bot reply.
func (r *Recorder) OnBotResponse(ev BotResponse) {
	r.dispatch(func(ctx context.Context) {
		if r.doc != nil {
			r.sinkOp(ctx, "mongo", "add_segment", ev.CallID, func(ctx context.Context) error {
				return r.doc.AddSegment(ctx, ev.CallID, Segment{
					Role:      "assistant",
					Text:      ev.Text,
					Provider:  ev.LLMProvider,
					LatencyMS: ev.LLMLatencyMS,
				})
			})
			r.sinkOp(ctx, "mongo", "add_pipeline_step", ev.CallID, func(ctx context.Context) error {
				return r.doc.AddPipelineStep(ctx, ev.CallID, PipelineStep{
					Stage:      "llm",
					DurationMS: ev.LLMLatencyMS,
					Detail:     "tts_ms=" + strconv.Itoa(ev.TTSLatencyMS),
				})
			})
		}
		if r.eph != nil {
			r.sinkOp(ctx, "redis", "push_message", ev.CallID, func(ctx context.Context) error {
				return r.eph.PushMessage(ctx, ev.CallID, "assistant", ev.Text)
			})
		}
	})
}

// OnBargeIn records a caller interruption.
func (r *Recorder) OnBargeIn(callID string) {
	r.dispatch(func(ctx context.Context) {
		if r.eph != nil {
			r.sinkOp(ctx, "redis", "increment_barge_ins", callID, func(ctx context.Context) error {
				return r.eph.IncrementBargeIns(ctx, callID)
			})
		}
		if r.doc != nil {
			r.sinkOp(ctx, "mongo", "add_pipeline_step", callID, func(ctx context.Context) error {
				return r.doc.AddPipelineStep(ctx, callID, PipelineStep{Stage: "barge_in"})
			})
		}
	})
}

// OnCallEnd closes out a call in every sink.
func (r *Recorder) OnCallEnd(ev CallEnd) {
	r.dispatch(func(ctx context.Context) {
		if r.rel != nil {
			r.sinkOp(ctx, "postgres", "finish_call", ev.CallID, func(ctx context.Context) error {
				return r.rel.FinishCall(ctx, ev)
			})
		}
		if r.doc != nil {
			r.sinkOp(ctx, "mongo", "finish_transcription", ev.CallID, func(ctx context.Context) error {
				return r.doc.FinishTranscription(ctx, ev.CallID, int(ev.DurationSec*1000))
			})
		}
		if r.eph != nil {
			r.sinkOp(ctx, "redis", "end_session", ev.CallID, func(ctx context.Context) error {
				return r.eph.EndSession(ctx, ev)
			})
			r.sinkOp(ctx, "redis", "publish_event", ev.CallID, func(ctx context.Context) error {
				return r.eph.PublishEvent(ctx, "call_ended", map[string]any{
					"call_id":      ev.CallID,
					"duration_sec": ev.DurationSec,
					"turns":        ev.Turns,
					"status":       ev.Status,
				})
			})
		}
	})
}

// Close joins outstanding dispatches up to a short deadline, then closes the
// sinks.
func (r *Recorder) Close(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
		r.logger.Warn("telemetry close deadline hit with dispatches outstanding")
	case <-ctx.Done():
	}

	if r.rel != nil {
		if err := r.rel.Close(ctx); err != nil {
			r.logger.Warn("telemetry sink close failed", "sink", "postgres", "error", err)
		}
	}
	if r.doc != nil {
		if err := r.doc.Close(ctx); err != nil {
			r.logger.Warn("telemetry sink close failed", "sink", "mongo", "error", err)
		}
	}
	if r.eph != nil {
		if err := r.eph.Close(ctx); err != nil {
			r.logger.Warn("telemetry sink close failed", "sink", "redis", "error", err)
		}
	}
}

// dispatch runs fn in a tracked goroutine with the per-event deadline.
func (r *Recorder) dispatch(fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// sinkOp runs one sink write, logging and swallowing any failure.
func (r *Recorder) sinkOp(ctx context.Context, sink, op, callID string, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		r.logger.Warn("telemetry sink op failed",
			"sink", sink, "op", op, "call_id", callID, "error", err)
	}
}

