package session

import (
	"github.com/telvox/telvox/internal/resilience"
	"github.com/telvox/telvox/pkg/provider/asr"
	"github.com/telvox/telvox/pkg/provider/llm"
	"github.com/telvox/telvox/pkg/provider/tts"
)

// The adapter builders honour the optional fallback_provider setting: when
// a second provider name is configured, the primary is wrapped in a
// circuit-breaking failover group. A fallback that cannot be constructed is
// logged and skipped so a bad credential for the backup never blocks calls.

func (b *base) createRecognizer() (asr.Recognizer, error) {
	primary, err := b.deps.Registry.CreateASR(b.cfg)
	if err != nil {
		return nil, err
	}
	name := b.cfg.ASR.FallbackProvider
	if name == "" || name == b.cfg.ASR.Provider {
		return primary, nil
	}

	alt := *b.cfg
	alt.ASR.Provider = name
	secondary, err := b.deps.Registry.CreateASR(&alt)
	if err != nil {
		b.logger.Warn("asr fallback unavailable", "provider", name, "error", err)
		return primary, nil
	}
	fb := resilience.NewASRFallback(primary, b.cfg.ASR.Provider, resilience.FallbackConfig{})
	fb.AddFallback(name, secondary)
	return fb, nil
}

func (b *base) createChatter() (llm.Chatter, error) {
	primary, err := b.deps.Registry.CreateLLM(b.cfg)
	if err != nil {
		return nil, err
	}
	name := b.cfg.LLM.FallbackProvider
	if name == "" || name == b.cfg.LLM.Provider {
		return primary, nil
	}

	alt := *b.cfg
	alt.LLM.Provider = name
	secondary, err := b.deps.Registry.CreateLLM(&alt)
	if err != nil {
		b.logger.Warn("llm fallback unavailable", "provider", name, "error", err)
		return primary, nil
	}
	fb := resilience.NewLLMFallback(primary, b.cfg.LLM.Provider, resilience.FallbackConfig{})
	fb.AddFallback(name, secondary)
	return fb, nil
}

func (b *base) createSynthesizer() (tts.Synthesizer, error) {
	primary, err := b.deps.Registry.CreateTTS(b.cfg)
	if err != nil {
		return nil, err
	}
	name := b.cfg.TTS.FallbackProvider
	if name == "" || name == b.cfg.TTS.Provider {
		return primary, nil
	}

	alt := *b.cfg
	alt.TTS.Provider = name
	secondary, err := b.deps.Registry.CreateTTS(&alt)
	if err != nil {
		b.logger.Warn("tts fallback unavailable", "provider", name, "error", err)
		return primary, nil
	}
	fb := resilience.NewTTSFallback(primary, b.cfg.TTS.Provider, resilience.FallbackConfig{})
	fb.AddFallback(name, secondary)
	return fb, nil
}
