// Package playback drives audio out to the caller's leg through the
// FreeSWITCH CLI. Each call gets one Controller bound to its channel UUID;
// synthesized PCM is written to a scratch WAV and broadcast onto the leg,
// and the controller tracks play state so barge-in can cut audio short.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/telvox/telvox/pkg/audio"
)

const (
	// DefaultScratchDir holds the per-call scratch WAV files.
	DefaultScratchDir = "/tmp/voice_pipeline"

	// legSampleRate is the caller-leg PCM rate FreeSWITCH expects.
	legSampleRate = 8000

	pollInterval = 50 * time.Millisecond
)

// CommandRunner executes one FreeSWITCH API command and returns its output.
type CommandRunner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// FSCLIRunner executes commands through the fs_cli binary.
type FSCLIRunner struct{}

var _ CommandRunner = FSCLIRunner{}

// Run invokes fs_cli -x with the joined command.
func (FSCLIRunner) Run(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "fs_cli", "-x", strings.Join(args, " ")).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("playback: fs_cli: %w", err)
	}
	return string(out), nil
}

// Controller plays audio on one call leg. Safe for concurrent use; playback
// itself is serial because sessions sequence their turns.
type Controller struct {
	callID string
	uuid   string
	runner CommandRunner
	dir    string
	logger *slog.Logger

	mu          sync.Mutex
	isPlaying   bool
	isActive    bool
	fileCounter int
}

// Option configures a Controller.
type Option func(*Controller)

// WithScratchDir overrides the scratch WAV directory.
func WithScratchDir(dir string) Option {
	return func(c *Controller) { c.dir = dir }
}

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController binds a controller to a call and its channel UUID.
func NewController(callID, uuid string, runner CommandRunner, opts ...Option) *Controller {
	c := &Controller{
		callID:   callID,
		uuid:     uuid,
		runner:   runner,
		dir:      DefaultScratchDir,
		logger:   slog.Default(),
		isActive: true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// IsPlaying reports whether audio is currently going out on the leg.
func (c *Controller) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isPlaying
}

// PlayPCM writes pcm to a scratch WAV, broadcasts it on the caller leg and
// blocks until the clip's duration elapses or Stop clears the play flag.
// It returns true only when the clip played to completion.
func (c *Controller) PlayPCM(ctx context.Context, pcm []byte, sampleRate int) bool {
	if len(pcm) == 0 {
		return false
	}
	c.mu.Lock()
	if !c.isActive {
		c.mu.Unlock()
		return false
	}
	c.fileCounter++
	path := filepath.Join(c.dir, fmt.Sprintf("%s_%d.wav", c.callID, c.fileCounter))
	c.mu.Unlock()

	if sampleRate > legSampleRate {
		pcm = audio.Downsample(pcm, sampleRate, legSampleRate)
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		c.logger.Error("scratch dir unavailable", "dir", c.dir, "error", err)
		return false
	}
	if err := audio.WriteWAV(path, pcm, legSampleRate); err != nil {
		c.logger.Error("scratch wav write failed", "path", path, "error", err)
		return false
	}
	defer os.Remove(path)

	out, err := c.runner.Run(ctx, "uuid_broadcast", c.uuid, path, "aleg")
	if err != nil || !strings.Contains(out, "+OK") {
		c.logger.Error("uuid_broadcast failed",
			"call_id", c.callID, "uuid", c.uuid, "output", strings.TrimSpace(out), "error", err)
		return false
	}

	c.mu.Lock()
	c.isPlaying = true
	c.mu.Unlock()

	// 16 bytes per millisecond at 8 kHz 16-bit mono.
	duration := time.Duration(len(pcm)/16) * time.Millisecond
	deadline := time.Now().Add(duration)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			c.Stop(context.Background())
			return false
		case <-ticker.C:
			c.mu.Lock()
			playing := c.isPlaying
			c.mu.Unlock()
			if !playing {
				return false
			}
		}
	}

	c.mu.Lock()
	c.isPlaying = false
	c.mu.Unlock()
	return true
}

// Stop breaks any audio on the leg. Idempotent.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	playing := c.isPlaying
	c.isPlaying = false
	c.mu.Unlock()
	if !playing {
		return
	}
	if _, err := c.runner.Run(ctx, "uuid_break", c.uuid, "all"); err != nil {
		c.logger.Warn("uuid_break failed", "call_id", c.callID, "error", err)
	}
}

// CallerNumber queries the caller ID from the channel. Any failure yields
// "unknown".
func (c *Controller) CallerNumber(ctx context.Context) string {
	out, err := c.runner.Run(ctx, "uuid_getvar", c.uuid, "caller_id_number")
	if err != nil {
		return "unknown"
	}
	num := strings.TrimSpace(out)
	if num == "" || num == "_undef_" || strings.HasPrefix(num, "-ERR") {
		return "unknown"
	}
	return num
}

// Close deactivates the controller. Subsequent PlayPCM calls return false
// immediately.
func (c *Controller) Close() {
	c.mu.Lock()
	c.isActive = false
	c.isPlaying = false
	c.mu.Unlock()
}
