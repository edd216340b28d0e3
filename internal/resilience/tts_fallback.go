package resilience

import (
	"context"
	"errors"

	"github.com/telvox/telvox/pkg/provider/tts"
)

// TTSFallback implements [tts.Synthesizer] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group   *FallbackGroup[tts.Synthesizer]
	closers []func() error
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		closers: []func() error{primary.Close},
	}
}

// AddFallback registers an additional synthesizer as a fallback.
func (f *TTSFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
	f.closers = append(f.closers, s.Close)
}

// Synthesize converts text to speech with the first healthy backend. A
// backend that returns empty audio with a nil error counts as success, so
// adapters that swallow failures do not trigger failover.
func (f *TTSFallback) Synthesize(ctx context.Context, text string) (tts.Audio, error) {
	return ExecuteWithResult(f.group, func(s tts.Synthesizer) (tts.Audio, error) {
		return s.Synthesize(ctx, text)
	})
}

// Close closes every backend and joins their errors.
func (f *TTSFallback) Close() error {
	var errs []error
	for _, c := range f.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
