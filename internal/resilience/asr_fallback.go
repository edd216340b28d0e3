package resilience

import (
	"context"
	"errors"

	"github.com/telvox/telvox/pkg/provider/asr"
)

// ASRFallback implements [asr.Recognizer] with automatic failover across
// multiple recognition backends. Each backend has its own circuit breaker.
type ASRFallback struct {
	group   *FallbackGroup[asr.Recognizer]
	closers []func() error
}

// Compile-time interface assertion.
var _ asr.Recognizer = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred
// backend.
func NewASRFallback(primary asr.Recognizer, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		closers: []func() error{primary.Close},
	}
}

// AddFallback registers an additional recognizer as a fallback.
func (f *ASRFallback) AddFallback(name string, r asr.Recognizer) {
	f.group.AddFallback(name, r)
	f.closers = append(f.closers, r.Close)
}

// Recognize transcribes the utterance with the first healthy backend.
func (f *ASRFallback) Recognize(ctx context.Context, pcm []byte, sampleRate int) (asr.Result, error) {
	return ExecuteWithResult(f.group, func(r asr.Recognizer) (asr.Result, error) {
		return r.Recognize(ctx, pcm, sampleRate)
	})
}

// Close closes every backend and joins their errors.
func (f *ASRFallback) Close() error {
	var errs []error
	for _, c := range f.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
