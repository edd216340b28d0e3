package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Load builds the configuration for the robot at robotDir: built-in defaults,
// config.json merged over them, the legacy interruption config when the vad
// block is absent, env layering via dotenv files, a secrets snapshot from the
// environment, then prompt and greeting resolution. The result is validated.
func Load(robotDir string) (*Config, error) {
	absDir, err := filepath.Abs(robotDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve robot dir: %w", err)
	}
	if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("config: robot dir %q is not a directory", robotDir)
	}

	cfg := Default()
	cfg.RobotDir = absDir
	cfg.RobotName = filepath.Base(absDir)
	cfg.PlatformRoot = findPlatformRoot(absDir)

	// The robot's own .env wins over the process environment; the platform
	// root .env only fills variables still unset.
	if robotEnv := filepath.Join(absDir, ".env"); fileExists(robotEnv) {
		if err := godotenv.Overload(robotEnv); err != nil {
			return nil, fmt.Errorf("config: load %q: %w", robotEnv, err)
		}
	}
	if rootEnv := filepath.Join(cfg.PlatformRoot, ".env"); fileExists(rootEnv) {
		if err := godotenv.Load(rootEnv); err != nil {
			return nil, fmt.Errorf("config: load %q: %w", rootEnv, err)
		}
	}

	vadConfigured := false
	cfgPath := filepath.Join(absDir, "config.json")
	if raw, err := os.ReadFile(cfgPath); err == nil {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", cfgPath, err)
		}
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err == nil {
			_, vadConfigured = probe["vad"]
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: read %q: %w", cfgPath, err)
	}

	// Older robots kept VAD tuning in interruption/config.json; it applies
	// only while config.json has no vad block of its own.
	if !vadConfigured {
		if err := applyLegacyVAD(cfg, absDir); err != nil {
			return nil, err
		}
	}

	cfg.Secrets = secretsFromEnv()

	cfg.SystemPrompt = DefaultSystemPrompt
	if raw, err := os.ReadFile(filepath.Join(absDir, "prompt.txt")); err == nil {
		if prompt := strings.TrimSpace(string(raw)); prompt != "" {
			cfg.SystemPrompt = prompt
		}
	}

	switch {
	case cfg.GreetingWAV == "":
		if wav := filepath.Join(absDir, "greeting.wav"); fileExists(wav) {
			cfg.GreetingWAV = wav
		}
	case !filepath.IsAbs(cfg.GreetingWAV):
		cfg.GreetingWAV = filepath.Join(absDir, cfg.GreetingWAV)
	}
	if cfg.ScenarioFile != "" && !filepath.IsAbs(cfg.ScenarioFile) {
		cfg.ScenarioFile = filepath.Join(absDir, cfg.ScenarioFile)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// legacyVAD mirrors the interruption/config.json file layout of older robots.
type legacyVAD struct {
	Enabled         *bool    `json:"enabled"`
	EnergyThreshold *float64 `json:"vad_energy_threshold"`
	SilenceFrames   *int     `json:"vad_silence_frames"`
	MinSpeechFrames *int     `json:"vad_min_speech_frames"`
}

func applyLegacyVAD(cfg *Config, robotDir string) error {
	path := filepath.Join(robotDir, "interruption", "config.json")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %q: %w", path, err)
	}

	var legacy legacyVAD
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}
	if legacy.Enabled != nil {
		cfg.VAD.Enabled = *legacy.Enabled
	}
	if legacy.EnergyThreshold != nil {
		cfg.VAD.EnergyThreshold = *legacy.EnergyThreshold
	}
	if legacy.SilenceFrames != nil {
		cfg.VAD.SilenceFrames = *legacy.SilenceFrames
	}
	if legacy.MinSpeechFrames != nil {
		cfg.VAD.MinSpeechFrames = *legacy.MinSpeechFrames
	}
	return nil
}

// secretsFromEnv snapshots credentials, applying the documented fallbacks:
// the synthesis key falls back to the recognition key, the ElevenLabs key to
// the synthesis key, and the realtime key to the recognition key.
func secretsFromEnv() Secrets {
	s := Secrets{
		YandexAPIKey:   os.Getenv("YANDEX_API_KEY"),
		YandexFolderID: os.Getenv("YANDEX_FOLDER_ID"),
		TTSAPIKey:      os.Getenv("TTS_API_KEY"),
		TTSToken:       os.Getenv("TTS_TOKEN"),
		TTSEmail:       os.Getenv("TTS_EMAIL"),
		TelegramToken:  os.Getenv("TG_TOKEN"),
		TelegramChatID: os.Getenv("TG_CHAT_ID"),
		RealtimeURL:    os.Getenv("YANDEX_REALTIME_URL"),
		RealtimeAPIKey: os.Getenv("OPENAI_REALTIME_KEY"),
	}
	if s.TTSAPIKey == "" {
		s.TTSAPIKey = s.YandexAPIKey
	}
	s.ElevenLabsAPIKey = os.Getenv("ELEVENLABS_API_KEY")
	if s.ElevenLabsAPIKey == "" {
		s.ElevenLabsAPIKey = s.TTSAPIKey
	}
	if s.RealtimeAPIKey == "" {
		s.RealtimeAPIKey = s.YandexAPIKey
	}
	return s
}

// findPlatformRoot walks up from the robot dir looking for the ancestor that
// holds the robots/ directory. When no such ancestor exists the robot's
// parent is the root.
func findPlatformRoot(robotDir string) string {
	dir := robotDir
	for i := 0; i < 5; i++ {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		if info, err := os.Stat(filepath.Join(parent, "robots")); err == nil && info.IsDir() {
			return parent
		}
		dir = parent
	}
	return filepath.Dir(robotDir)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
