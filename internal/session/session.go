// Package session orchestrates one call from first frame to terminator.
//
// Three variants implement the same Session surface: the pipeline session
// runs the local VAD → ASR → LLM → TTS loop with sentence streaming and
// barge-in, the script session maps short LLM answers onto a catalog of
// prerecorded tracks, and the realtime session bridges caller audio to a
// full-duplex speech-to-speech backend. The server front drives whichever
// variant the robot's mode selects.
package session

import (
	"context"
	"fmt"

	"github.com/telvox/telvox/internal/config"
)

// Session is the per-call surface the server drives. HandleFrame and SetUUID
// are called from the connection's read loop; Start runs in its own
// goroutine once the UUID is latched; Stop is the guaranteed terminator and
// must be idempotent.
type Session interface {
	HandleFrame(ctx context.Context, frame []byte)
	SetUUID(uuid string) bool
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

// New builds the session variant selected by cfg.Mode.
func New(callID string, cfg *config.Config, deps Deps) (Session, error) {
	switch cfg.Mode {
	case config.ModePipeline:
		return NewPipeline(callID, cfg, deps), nil
	case config.ModeScript:
		return NewScript(callID, cfg, deps), nil
	case config.ModeRealtime:
		return NewRealtime(callID, cfg, deps), nil
	default:
		return nil, fmt.Errorf("session: unknown mode %q", cfg.Mode)
	}
}
