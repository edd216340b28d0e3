package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/telvox/telvox/pkg/provider/asr"
	"github.com/telvox/telvox/pkg/provider/llm"
	"github.com/telvox/telvox/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// capability. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	asr map[string]func(*Config) (asr.Recognizer, error)
	llm map[string]func(*Config) (llm.Chatter, error)
	tts map[string]func(*Config) (tts.Synthesizer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		asr: make(map[string]func(*Config) (asr.Recognizer, error)),
		llm: make(map[string]func(*Config) (llm.Chatter, error)),
		tts: make(map[string]func(*Config) (tts.Synthesizer, error)),
	}
}

// RegisterASR registers a recognizer factory under name. Subsequent calls
// with the same name overwrite the previous registration.
func (r *Registry) RegisterASR(name string, factory func(*Config) (asr.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[name] = factory
}

// RegisterLLM registers a chat model factory under name.
func (r *Registry) RegisterLLM(name string, factory func(*Config) (llm.Chatter, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a synthesizer factory under name.
func (r *Registry) RegisterTTS(name string, factory func(*Config) (tts.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateASR instantiates the recognizer named by cfg.ASR.Provider.
// Returns [ErrProviderNotRegistered] when no factory matches.
func (r *Registry) CreateASR(cfg *Config) (asr.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.asr[cfg.ASR.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrProviderNotRegistered, cfg.ASR.Provider)
	}
	return factory(cfg)
}

// CreateLLM instantiates the chat model named by cfg.LLM.Provider.
func (r *Registry) CreateLLM(cfg *Config) (llm.Chatter, error) {
	r.mu.RLock()
	factory, ok := r.llm[cfg.LLM.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, cfg.LLM.Provider)
	}
	return factory(cfg)
}

// CreateTTS instantiates the synthesizer named by cfg.TTS.Provider.
func (r *Registry) CreateTTS(cfg *Config) (tts.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.tts[cfg.TTS.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, cfg.TTS.Provider)
	}
	return factory(cfg)
}
