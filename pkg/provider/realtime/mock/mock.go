// Package mock provides an in-memory realtime.Conn for tests.
package mock

import (
	"context"
	"sync"

	"github.com/telvox/telvox/pkg/provider/realtime"
)

// Conn is a scriptable realtime.Conn. Tests push server events with Emit
// and inspect what the session sent.
type Conn struct {
	mu sync.Mutex

	events chan realtime.Event
	closed bool

	sentAudio       [][]byte
	responseCreates int

	// SendErr, when set, fails SendAudio calls.
	SendErr error
}

var _ realtime.Conn = (*Conn)(nil)

// New returns an open mock connection.
func New() *Conn {
	return &Conn{events: make(chan realtime.Event, 64)}
}

// Emit delivers a server event to the session under test.
func (c *Conn) Emit(ev realtime.Event) {
	c.events <- ev
}

// SendAudio implements realtime.Conn.
func (c *Conn) SendAudio(ctx context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sentAudio = append(c.sentAudio, append([]byte(nil), pcm...))
	return nil
}

// CreateResponse implements realtime.Conn.
func (c *Conn) CreateResponse(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responseCreates++
	return nil
}

// Events implements realtime.Conn.
func (c *Conn) Events() <-chan realtime.Event { return c.events }

// Close implements realtime.Conn. Idempotent; closes the event channel so
// the session's event loop drains and exits.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// SentAudio returns every PCM chunk passed to SendAudio.
func (c *Conn) SentAudio() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sentAudio))
	copy(out, c.sentAudio)
	return out
}

// ResponseCreates returns how often CreateResponse was called.
func (c *Conn) ResponseCreates() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responseCreates
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
