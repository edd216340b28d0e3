// Package config loads the per-robot runtime configuration. A robot is a
// directory holding config.json, an optional prompt.txt, an optional
// greeting.wav and an optional .env; platform-wide defaults come from a
// .env at the platform root. Secrets are captured from the environment into
// a separate struct that is never serialized.
package config

import (
	"errors"
	"fmt"
)

// Dialog modes.
const (
	ModePipeline = "pipeline"
	ModeRealtime = "realtime"
	ModeScript   = "llm_script"
)

// DefaultSystemPrompt is used when the robot ships no prompt.txt and
// config.json sets no prompt.
const DefaultSystemPrompt = "You are a helpful voice assistant."

// Config is the merged runtime configuration for one robot.
type Config struct {
	Mode         string `json:"mode"`
	WSHost       string `json:"ws_host"`
	WSPort       int    `json:"ws_port"`
	FSSampleRate int    `json:"fs_sample_rate"`
	ScratchDir   string `json:"scratch_dir"`
	AdminAddr    string `json:"admin_addr"`

	VAD      VADConfig      `json:"vad"`
	ASR      ASRConfig      `json:"asr"`
	LLM      LLMConfig      `json:"llm"`
	TTS      TTSConfig      `json:"tts"`
	Realtime RealtimeConfig `json:"realtime"`
	Telegram TelegramConfig `json:"telegram"`
	DB       DBConfig       `json:"db"`

	GreetingText string `json:"greeting_text"`
	GreetingWAV  string `json:"greeting_wav"`
	ScenarioFile string `json:"scenario_file"`

	// Derived at load time, never read from config.json.
	RobotName    string  `json:"-"`
	RobotDir     string  `json:"-"`
	PlatformRoot string  `json:"-"`
	SystemPrompt string  `json:"-"`
	Secrets      Secrets `json:"-"`
}

// VADConfig tunes the energy voice-activity detector.
type VADConfig struct {
	Enabled         bool    `json:"enabled"`
	EnergyThreshold float64 `json:"energy_threshold"`
	SilenceFrames   int     `json:"silence_frames"`
	MinSpeechFrames int     `json:"min_speech_frames"`
}

// ASRConfig selects and tunes the speech recognizer. FallbackProvider, when
// set, names a second recognizer tried when the primary fails or its
// circuit breaker is open.
type ASRConfig struct {
	Provider         string `json:"provider"`
	FallbackProvider string `json:"fallback_provider"`
	Language         string `json:"language"`
	SampleRate       int    `json:"sample_rate"`
	ServerURL        string `json:"server_url"`
	ModelName        string `json:"model_name"`
}

// LLMConfig selects and tunes the chat model.
type LLMConfig struct {
	Provider         string  `json:"provider"`
	FallbackProvider string  `json:"fallback_provider"`
	Model            string  `json:"model"`
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
}

// TTSConfig selects and tunes speech synthesis.
type TTSConfig struct {
	Provider         string `json:"provider"`
	FallbackProvider string `json:"fallback_provider"`

	Voice           string  `json:"voice"`
	Language        string  `json:"language"`
	Speed           float64 `json:"speed"`
	Pitch           float64 `json:"pitch"`
	Emotion         string  `json:"emotion"`
	SampleRate      int     `json:"sample_rate"`
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model_id"`
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	Proxy           string  `json:"proxy"`
}

// RealtimeConfig tunes the full-duplex speech-to-speech mode.
type RealtimeConfig struct {
	Voice             string  `json:"voice"`
	VADThreshold      float64 `json:"vad_threshold"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
}

// TelegramConfig toggles call reports. Credentials come from Secrets.
type TelegramConfig struct {
	Enabled bool `json:"enabled"`
}

// DBConfig points the telemetry sinks at their backends. An empty value
// disables the corresponding sink.
type DBConfig struct {
	PostgresDSN   string `json:"postgres_dsn"`
	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`
	RedisURL      string `json:"redis_url"`
}

// Secrets holds credentials captured from the environment. The struct is
// excluded from serialization wholesale; no field may ever reach a config
// file, log line or telemetry record.
type Secrets struct {
	YandexAPIKey     string `json:"-"`
	YandexFolderID   string `json:"-"`
	TTSAPIKey        string `json:"-"`
	TTSToken         string `json:"-"`
	TTSEmail         string `json:"-"`
	ElevenLabsAPIKey string `json:"-"`
	TelegramToken    string `json:"-"`
	TelegramChatID   string `json:"-"`
	RealtimeURL      string `json:"-"`
	RealtimeAPIKey   string `json:"-"`
}

// Default returns the built-in configuration the robot's config.json is
// merged over.
func Default() *Config {
	return &Config{
		Mode:         ModePipeline,
		WSHost:       "0.0.0.0",
		WSPort:       8080,
		FSSampleRate: 8000,
		ScratchDir:   "/tmp/voice_pipeline",
		AdminAddr:    ":9090",
		VAD: VADConfig{
			Enabled:         true,
			EnergyThreshold: 200,
			SilenceFrames:   25,
			MinSpeechFrames: 5,
		},
		ASR: ASRConfig{
			Provider:   "yandex",
			Language:   "ru-RU",
			SampleRate: 8000,
		},
		LLM: LLMConfig{
			Provider:    "yandex",
			Temperature: 0.6,
			MaxTokens:   500,
		},
		TTS: TTSConfig{
			Provider:        "yandex",
			Voice:           "alena",
			Language:        "ru-RU",
			Speed:           1.0,
			Emotion:         "neutral",
			SampleRate:      48000,
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
		Realtime: RealtimeConfig{
			Voice:             "marina",
			VADThreshold:      0.5,
			SilenceDurationMS: 700,
			PrefixPaddingMS:   300,
		},
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Mode {
	case ModePipeline, ModeRealtime, ModeScript:
	default:
		errs = append(errs, fmt.Errorf("mode %q is invalid; valid values: %s, %s, %s",
			cfg.Mode, ModePipeline, ModeRealtime, ModeScript))
	}
	if cfg.WSPort < 1 || cfg.WSPort > 65535 {
		errs = append(errs, fmt.Errorf("ws_port %d is out of range 1..65535", cfg.WSPort))
	}
	if cfg.FSSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("fs_sample_rate must be positive, got %d", cfg.FSSampleRate))
	}
	if cfg.ASR.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("asr.sample_rate must be positive, got %d", cfg.ASR.SampleRate))
	}
	if cfg.TTS.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("tts.sample_rate must be positive, got %d", cfg.TTS.SampleRate))
	}
	if cfg.VAD.SilenceFrames <= 0 {
		errs = append(errs, fmt.Errorf("vad.silence_frames must be positive, got %d", cfg.VAD.SilenceFrames))
	}
	if cfg.VAD.MinSpeechFrames <= 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_frames must be positive, got %d", cfg.VAD.MinSpeechFrames))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
