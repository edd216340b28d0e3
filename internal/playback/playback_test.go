package playback_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/telvox/telvox/internal/playback"
)

// fakeRunner records commands and answers from a canned script.
type fakeRunner struct {
	mu       sync.Mutex
	commands [][]string
	output   string
	err      error
}

func (f *fakeRunner) Run(_ context.Context, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, args)
	return f.output, f.err
}

func (f *fakeRunner) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.commands))
	copy(out, f.commands)
	return out
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newController(t *testing.T, runner playback.CommandRunner) (*playback.Controller, string) {
	t.Helper()
	dir := t.TempDir()
	c := playback.NewController("call-0001", "abcd-1234", runner,
		playback.WithScratchDir(dir), playback.WithLogger(quiet()))
	return c, dir
}

// pcmMillis returns 8 kHz 16-bit mono PCM of the given duration.
func pcmMillis(ms int) []byte {
	return make([]byte, ms*16)
}

func TestPlayPCMCompletesFullDuration(t *testing.T) {
	runner := &fakeRunner{output: "+OK Message sent"}
	c, _ := newController(t, runner)

	start := time.Now()
	done := c.PlayPCM(context.Background(), pcmMillis(120), 8000)
	if !done {
		t.Fatal("PlayPCM returned false for uninterrupted clip")
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("returned after %v, want at least the clip duration", elapsed)
	}
	if c.IsPlaying() {
		t.Error("IsPlaying still true after completion")
	}

	calls := runner.calls()
	if len(calls) != 1 {
		t.Fatalf("got %d commands, want 1: %v", len(calls), calls)
	}
	if calls[0][0] != "uuid_broadcast" || calls[0][1] != "abcd-1234" || calls[0][3] != "aleg" {
		t.Errorf("broadcast command = %v", calls[0])
	}
	if !strings.Contains(calls[0][2], "call-0001_1.wav") {
		t.Errorf("scratch path = %q, want call-0001_1.wav suffix", calls[0][2])
	}
}

func TestPlayPCMScratchFileRemoved(t *testing.T) {
	runner := &fakeRunner{output: "+OK"}
	c, dir := newController(t, runner)

	c.PlayPCM(context.Background(), pcmMillis(60), 8000)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".wav" {
			t.Errorf("scratch file %q left behind", e.Name())
		}
	}
}

func TestPlayPCMBroadcastRejected(t *testing.T) {
	runner := &fakeRunner{output: "-ERR No such channel!"}
	c, _ := newController(t, runner)

	if done := c.PlayPCM(context.Background(), pcmMillis(60), 8000); done {
		t.Error("PlayPCM returned true after -ERR broadcast")
	}
	if c.IsPlaying() {
		t.Error("IsPlaying set after failed broadcast")
	}
}

func TestPlayPCMEmptyAndInactive(t *testing.T) {
	runner := &fakeRunner{output: "+OK"}
	c, _ := newController(t, runner)

	if c.PlayPCM(context.Background(), nil, 8000) {
		t.Error("PlayPCM returned true for empty pcm")
	}
	c.Close()
	if c.PlayPCM(context.Background(), pcmMillis(60), 8000) {
		t.Error("PlayPCM returned true after Close")
	}
	if len(runner.calls()) != 0 {
		t.Errorf("commands issued on early-return paths: %v", runner.calls())
	}
}

func TestStopInterruptsPlayback(t *testing.T) {
	runner := &fakeRunner{output: "+OK"}
	c, _ := newController(t, runner)

	result := make(chan bool, 1)
	go func() {
		result <- c.PlayPCM(context.Background(), pcmMillis(2000), 8000)
	}()

	// Wait for the broadcast to go out, then stop mid-clip.
	deadline := time.Now().Add(time.Second)
	for !c.IsPlaying() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !c.IsPlaying() {
		t.Fatal("playback never started")
	}

	start := time.Now()
	c.Stop(context.Background())

	select {
	case done := <-result:
		if done {
			t.Error("PlayPCM returned true after Stop")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("PlayPCM did not return after Stop")
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("poll loop took %v to observe Stop", elapsed)
	}

	calls := runner.calls()
	last := calls[len(calls)-1]
	if last[0] != "uuid_break" || last[2] != "all" {
		t.Errorf("break command = %v", last)
	}
}

func TestStopIdempotentWhenIdle(t *testing.T) {
	runner := &fakeRunner{output: "+OK"}
	c, _ := newController(t, runner)

	c.Stop(context.Background())
	c.Stop(context.Background())
	if len(runner.calls()) != 0 {
		t.Errorf("idle Stop issued commands: %v", runner.calls())
	}
}

func TestPlayPCMDownsamples48k(t *testing.T) {
	runner := &fakeRunner{output: "+OK"}
	c, _ := newController(t, runner)

	// 120 ms at 48 kHz is 11520 bytes; at 8 kHz it is 1920 bytes, so the
	// clip should complete in roughly 120 ms either way.
	start := time.Now()
	done := c.PlayPCM(context.Background(), make([]byte, 11520), 48000)
	if !done {
		t.Fatal("PlayPCM returned false")
	}
	if elapsed := time.Since(start); elapsed > 400*time.Millisecond {
		t.Errorf("48 kHz clip took %v, downsampling likely skipped", elapsed)
	}
}

func TestCallerNumber(t *testing.T) {
	tests := []struct {
		name   string
		output string
		err    error
		want   string
	}{
		{name: "normal", output: "79001234567\n", want: "79001234567"},
		{name: "undef", output: "_undef_", want: "unknown"},
		{name: "error response", output: "-ERR No such channel!", want: "unknown"},
		{name: "run failure", err: errors.New("fs_cli gone"), want: "unknown"},
		{name: "empty", output: "", want: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{output: tt.output, err: tt.err}
			c, _ := newController(t, runner)
			if got := c.CallerNumber(context.Background()); got != tt.want {
				t.Errorf("CallerNumber() = %q, want %q", got, tt.want)
			}
		})
	}
}
