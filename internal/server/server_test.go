package server_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/telvox/telvox/internal/config"
	"github.com/telvox/telvox/internal/server"
	"github.com/telvox/telvox/internal/session"
)

// fakeSession records the server's calls.
type fakeSession struct {
	mu      sync.Mutex
	uuid    string
	started bool
	stopped bool
	frames  [][]byte
}

var _ session.Session = (*fakeSession)(nil)

func (f *fakeSession) HandleFrame(_ context.Context, frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), frame...))
}

func (f *fakeSession) SetUUID(uuid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uuid != "" {
		return false
	}
	f.uuid = uuid
	return true
}

func (f *fakeSession) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeSession) Stop(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeSession) state() (uuid string, started, stopped bool, frames int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uuid, f.started, f.stopped, len(f.frames)
}

func newTestServer(t *testing.T) (*fakeSession, *websocket.Conn) {
	t.Helper()
	sess := &fakeSession{}
	cfg := config.Default()
	srv := server.New(cfg,
		func(callID string) (session.Session, error) {
			if !strings.HasPrefix(callID, "call-") {
				t.Errorf("call id = %q, want call-%%04d form", callID)
			}
			return sess, nil
		},
		server.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return sess, conn
}

func waitState(t *testing.T, sess *fakeSession, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	uuid, started, stopped, frames := sess.state()
	t.Fatalf("timed out waiting for %s (uuid=%q started=%v stopped=%v frames=%d)",
		what, uuid, started, stopped, frames)
}

const testUUID = "4f5a6b7c-1111-2222-3333-444455556666"

func TestJSONFirstFrameLatchesUUID(t *testing.T) {
	sess, conn := newTestServer(t)
	ctx := context.Background()

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"uuid":"`+testUUID+`"}`)); err != nil {
		t.Fatal(err)
	}
	waitState(t, sess, "session start", func() bool {
		uuid, started, _, _ := sess.state()
		return uuid == testUUID && started
	})

	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 320)); err != nil {
		t.Fatal(err)
	}
	waitState(t, sess, "audio frame", func() bool {
		_, _, _, frames := sess.state()
		return frames == 1
	})
}

func TestBinaryFirstFrameCarriesUUID(t *testing.T) {
	sess, conn := newTestServer(t)
	ctx := context.Background()

	frame := append([]byte(testUUID), make([]byte, 320)...)
	if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		t.Fatal(err)
	}
	waitState(t, sess, "uuid latch", func() bool {
		uuid, started, _, _ := sess.state()
		return uuid == testUUID && started
	})
}

func TestPlainTokenFirstFrame(t *testing.T) {
	sess, conn := newTestServer(t)
	ctx := context.Background()

	if err := conn.Write(ctx, websocket.MessageText, []byte(testUUID+"\n")); err != nil {
		t.Fatal(err)
	}
	waitState(t, sess, "uuid latch", func() bool {
		uuid, _, _, _ := sess.state()
		return uuid == testUUID
	})
}

func TestAudioBeforeUUIDIsDropped(t *testing.T) {
	sess, conn := newTestServer(t)
	ctx := context.Background()

	// Pure audio frames: no session start, nothing buffered.
	for i := 0; i < 3; i++ {
		if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 320)); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(100 * time.Millisecond)

	uuid, started, _, frames := sess.state()
	if uuid != "" || started || frames != 0 {
		t.Errorf("uuid=%q started=%v frames=%d, want session untouched", uuid, started, frames)
	}
}

func TestDisconnectStopsSession(t *testing.T) {
	sess, conn := newTestServer(t)
	ctx := context.Background()

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"uuid":"`+testUUID+`"}`)); err != nil {
		t.Fatal(err)
	}
	waitState(t, sess, "session start", func() bool {
		_, started, _, _ := sess.state()
		return started
	})

	conn.Close(websocket.StatusNormalClosure, "")
	waitState(t, sess, "session stop", func() bool {
		_, _, stopped, _ := sess.state()
		return stopped
	})
}
