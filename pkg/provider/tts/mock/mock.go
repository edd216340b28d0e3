// Package mock provides an in-memory tts.Synthesizer for tests.
package mock

import (
	"context"
	"sync"

	"github.com/telvox/telvox/pkg/provider/tts"
)

// Synthesizer returns canned audio and records every synthesized text.
type Synthesizer struct {
	mu sync.Mutex

	// Result is returned for every non-empty input. The zero value yields
	// empty audio at 16 kHz.
	Result tts.Audio

	// Err, when set, fails every call.
	Err error

	// BeforeReturn, when set, runs before each Synthesize returns. Useful
	// to inject latency or synchronize with the test.
	BeforeReturn func(text string)

	texts      []string
	closeCalls int
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// New returns a mock producing silence-like audio of the given byte length.
func New(pcmLen int) *Synthesizer {
	return &Synthesizer{Result: tts.Audio{PCM: make([]byte, pcmLen), SampleRate: 16000}}
}

// Synthesize implements tts.Synthesizer.
func (m *Synthesizer) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	err := m.Err
	res := m.Result
	m.mu.Unlock()

	if m.BeforeReturn != nil {
		m.BeforeReturn(text)
	}
	if err != nil {
		return tts.Audio{}, err
	}
	if text == "" {
		return tts.Audio{SampleRate: res.SampleRate}, nil
	}
	return tts.Audio{PCM: append([]byte(nil), res.PCM...), SampleRate: res.SampleRate}, nil
}

// Close implements tts.Synthesizer.
func (m *Synthesizer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

// Texts returns every text passed to Synthesize.
func (m *Synthesizer) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// CloseCalls returns how often Close was called.
func (m *Synthesizer) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}
