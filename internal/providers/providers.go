// Package providers registers the built-in provider implementations with a
// config registry. Both the PBX server and the browser demo channel wire
// providers through here, so the set of names stays identical across
// binaries.
package providers

import (
	"strings"

	"github.com/telvox/telvox/internal/config"
	"github.com/telvox/telvox/pkg/provider/asr"
	"github.com/telvox/telvox/pkg/provider/asr/whisper"
	yandexasr "github.com/telvox/telvox/pkg/provider/asr/yandex"
	"github.com/telvox/telvox/pkg/provider/llm"
	"github.com/telvox/telvox/pkg/provider/llm/openai"
	"github.com/telvox/telvox/pkg/provider/tts"
	"github.com/telvox/telvox/pkg/provider/tts/elevenlabs"
	yandextts "github.com/telvox/telvox/pkg/provider/tts/yandex"
	"github.com/telvox/telvox/pkg/provider/tts/zvukogram"
)

// Script-mode chat tuning: track selection wants short, deterministic
// answers regardless of the configured dialog tuning.
const (
	scriptTemperature = 0.3
	scriptMaxTokens   = 50
)

// Builtin maps provider kinds to the implementations that ship with telvox.
// Used for startup logging.
var Builtin = map[string][]string{
	"asr": {"yandex", "whisper"},
	"llm": {"yandex"},
	"tts": {"yandex", "elevenlabs", "zvukogram"},
}

// Register wires all built-in provider factories into reg. Each factory
// reads its credentials from the config's secrets snapshot at creation
// time, so nothing touches the network until a session asks for an adapter.
func Register(reg *config.Registry) {
	// ── ASR ──────────────────────────────────────────────────────────────

	reg.RegisterASR("yandex", func(cfg *config.Config) (asr.Recognizer, error) {
		opts := []yandexasr.Option{yandexasr.WithLanguage(cfg.ASR.Language)}
		if cfg.ASR.ServerURL != "" {
			opts = append(opts, yandexasr.WithEndpoint(cfg.ASR.ServerURL))
		}
		return yandexasr.New(cfg.Secrets.YandexAPIKey, cfg.Secrets.YandexFolderID, opts...)
	})

	reg.RegisterASR("whisper", func(cfg *config.Config) (asr.Recognizer, error) {
		return whisper.New(cfg.ASR.ModelName,
			whisper.WithLanguage(shortLang(cfg.ASR.Language)))
	})

	// ── LLM ──────────────────────────────────────────────────────────────

	reg.RegisterLLM("yandex", func(cfg *config.Config) (llm.Chatter, error) {
		temperature := cfg.LLM.Temperature
		maxTokens := cfg.LLM.MaxTokens
		if cfg.Mode == config.ModeScript {
			temperature = scriptTemperature
			maxTokens = scriptMaxTokens
		}
		opts := []openai.Option{
			openai.WithTemperature(temperature),
			openai.WithMaxTokens(maxTokens),
		}
		if cfg.LLM.Model != "" {
			opts = append(opts, openai.WithModel(cfg.LLM.Model))
		}
		return openai.New(cfg.Secrets.YandexAPIKey, cfg.Secrets.YandexFolderID, opts...)
	})

	// ── TTS ──────────────────────────────────────────────────────────────

	reg.RegisterTTS("yandex", func(cfg *config.Config) (tts.Synthesizer, error) {
		apiKey := cfg.Secrets.TTSAPIKey
		if apiKey == "" {
			apiKey = cfg.Secrets.YandexAPIKey
		}
		return yandextts.New(apiKey, cfg.Secrets.YandexFolderID,
			yandextts.WithVoice(cfg.TTS.Voice),
			yandextts.WithEmotion(cfg.TTS.Emotion),
			yandextts.WithLanguage(cfg.TTS.Language),
			yandextts.WithSampleRate(cfg.TTS.SampleRate),
		)
	})

	reg.RegisterTTS("elevenlabs", func(cfg *config.Config) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if cfg.TTS.VoiceID != "" {
			opts = append(opts, elevenlabs.WithVoiceID(cfg.TTS.VoiceID))
		}
		if cfg.TTS.ModelID != "" {
			opts = append(opts, elevenlabs.WithModel(cfg.TTS.ModelID))
		}
		if cfg.TTS.Proxy != "" {
			opts = append(opts, elevenlabs.WithProxy(cfg.TTS.Proxy))
		}
		return elevenlabs.New(cfg.Secrets.ElevenLabsAPIKey, opts...)
	})

	reg.RegisterTTS("zvukogram", func(cfg *config.Config) (tts.Synthesizer, error) {
		var opts []zvukogram.Option
		if cfg.TTS.Voice != "" {
			opts = append(opts, zvukogram.WithVoice(cfg.TTS.Voice))
		}
		return zvukogram.New(cfg.Secrets.TTSToken, cfg.Secrets.TTSEmail, opts...)
	})
}

// shortLang reduces a BCP-47 tag like "ru-RU" to the bare language code
// whisper.cpp expects.
func shortLang(tag string) string {
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return tag[:i]
	}
	return tag
}
