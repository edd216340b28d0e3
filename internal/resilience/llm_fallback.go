package resilience

import (
	"context"
	"errors"

	"github.com/telvox/telvox/pkg/provider/llm"
)

// LLMFallback implements [llm.Chatter] with automatic failover across
// multiple chat backends. Each backend has its own circuit breaker.
type LLMFallback struct {
	group   *FallbackGroup[llm.Chatter]
	closers []func() error
}

// Compile-time interface assertion.
var _ llm.Chatter = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Chatter, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		closers: []func() error{primary.Close},
	}
}

// AddFallback registers an additional chat backend as a fallback.
func (f *LLMFallback) AddFallback(name string, c llm.Chatter) {
	f.group.AddFallback(name, c)
	f.closers = append(f.closers, c.Close)
}

// Chat sends the dialog to the first healthy backend.
func (f *LLMFallback) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	return ExecuteWithResult(f.group, func(c llm.Chatter) (string, error) {
		return c.Chat(ctx, messages)
	})
}

// ChatStream opens a sentence stream with the first healthy backend. Only
// stream setup is covered by failover; mid-stream errors surface through
// the stream itself.
func (f *LLMFallback) ChatStream(ctx context.Context, messages []llm.Message) (*llm.SentenceStream, error) {
	return ExecuteWithResult(f.group, func(c llm.Chatter) (*llm.SentenceStream, error) {
		return c.ChatStream(ctx, messages)
	})
}

// Close closes every backend and joins their errors.
func (f *LLMFallback) Close() error {
	var errs []error
	for _, c := range f.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
