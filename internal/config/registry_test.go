package config_test

import (
	"errors"
	"testing"

	"github.com/telvox/telvox/internal/config"
	"github.com/telvox/telvox/pkg/provider/asr"
	asrmock "github.com/telvox/telvox/pkg/provider/asr/mock"
	"github.com/telvox/telvox/pkg/provider/llm"
	llmmock "github.com/telvox/telvox/pkg/provider/llm/mock"
	"github.com/telvox/telvox/pkg/provider/tts"
	ttsmock "github.com/telvox/telvox/pkg/provider/tts/mock"
)

func TestRegistryCreateRoundTrip(t *testing.T) {
	reg := config.NewRegistry()
	reg.RegisterASR("fake", func(cfg *config.Config) (asr.Recognizer, error) {
		return &asrmock.Recognizer{}, nil
	})
	reg.RegisterLLM("fake", func(cfg *config.Config) (llm.Chatter, error) {
		return llmmock.New(), nil
	})
	reg.RegisterTTS("fake", func(cfg *config.Config) (tts.Synthesizer, error) {
		return ttsmock.New(320), nil
	})

	cfg := config.Default()
	cfg.ASR.Provider = "fake"
	cfg.LLM.Provider = "fake"
	cfg.TTS.Provider = "fake"

	if _, err := reg.CreateASR(cfg); err != nil {
		t.Errorf("CreateASR: %v", err)
	}
	if _, err := reg.CreateLLM(cfg); err != nil {
		t.Errorf("CreateLLM: %v", err)
	}
	if _, err := reg.CreateTTS(cfg); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	reg := config.NewRegistry()
	cfg := config.Default()
	cfg.ASR.Provider = "missing"

	_, err := reg.CreateASR(cfg)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistryFactoryReceivesConfig(t *testing.T) {
	reg := config.NewRegistry()
	var gotVoice string
	reg.RegisterTTS("fake", func(cfg *config.Config) (tts.Synthesizer, error) {
		gotVoice = cfg.TTS.Voice
		return ttsmock.New(0), nil
	})

	cfg := config.Default()
	cfg.TTS.Provider = "fake"
	cfg.TTS.Voice = "filipp"
	if _, err := reg.CreateTTS(cfg); err != nil {
		t.Fatalf("CreateTTS: %v", err)
	}
	if gotVoice != "filipp" {
		t.Errorf("factory saw voice %q, want filipp", gotVoice)
	}
}
