// Package mock provides an in-memory llm.Chatter for tests.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/telvox/telvox/pkg/provider/llm"
)

// Chatter is a scriptable llm.Chatter. Queue replies with ScriptReply and
// delta sequences with ScriptStream; each call consumes one entry. An
// exhausted queue yields an empty reply.
type Chatter struct {
	mu sync.Mutex

	replies [][]string // each entry is the delta sequence for one call
	err     error

	// BeforeReply, when set, runs before each Chat/ChatStream returns.
	// Useful to inject latency or synchronize with the test.
	BeforeReply func(messages []llm.Message)

	chatCalls   [][]llm.Message
	streamCalls [][]llm.Message
	closeCalls  int
}

var _ llm.Chatter = (*Chatter)(nil)

// New returns an empty mock Chatter.
func New() *Chatter {
	return &Chatter{}
}

// ScriptReply queues a whole-text reply for the next call.
func (m *Chatter) ScriptReply(text string) {
	m.ScriptStream(text)
}

// ScriptStream queues a reply as an explicit delta sequence.
func (m *Chatter) ScriptStream(deltas ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, deltas)
}

// Fail makes all subsequent calls return err.
func (m *Chatter) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Chat implements llm.Chatter.
func (m *Chatter) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	m.mu.Lock()
	m.chatCalls = append(m.chatCalls, messages)
	err := m.err
	deltas := m.dequeue()
	m.mu.Unlock()

	if m.BeforeReply != nil {
		m.BeforeReply(messages)
	}
	if err != nil {
		return "", err
	}
	var full string
	for _, d := range deltas {
		full += d
	}
	return full, nil
}

// ChatStream implements llm.Chatter.
func (m *Chatter) ChatStream(ctx context.Context, messages []llm.Message) (*llm.SentenceStream, error) {
	m.mu.Lock()
	m.streamCalls = append(m.streamCalls, messages)
	err := m.err
	deltas := m.dequeue()
	m.mu.Unlock()

	if m.BeforeReply != nil {
		m.BeforeReply(messages)
	}
	if err != nil {
		return nil, err
	}
	return llm.NewSentenceStream(&sliceSource{deltas: deltas}), nil
}

// Close implements llm.Chatter.
func (m *Chatter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

// ChatCalls returns the message snapshots passed to Chat.
func (m *Chatter) ChatCalls() [][]llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]llm.Message(nil), m.chatCalls...)
}

// StreamCalls returns the message snapshots passed to ChatStream.
func (m *Chatter) StreamCalls() [][]llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]llm.Message(nil), m.streamCalls...)
}

// CloseCalls returns how often Close was called.
func (m *Chatter) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

func (m *Chatter) dequeue() []string {
	if len(m.replies) == 0 {
		return nil
	}
	deltas := m.replies[0]
	m.replies = m.replies[1:]
	return deltas
}

type sliceSource struct {
	deltas []string
	pos    int
}

func (s *sliceSource) Recv() (string, error) {
	if s.pos >= len(s.deltas) {
		return "", io.EOF
	}
	d := s.deltas[s.pos]
	s.pos++
	return d, nil
}

func (s *sliceSource) Close() error { return nil }
