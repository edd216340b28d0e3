// Package scenario seeds dialog scenarios from a YAML file into the
// relational store at startup. Seeding is best-effort: a missing file, a
// parse failure or a failed upsert is logged and never blocks the server.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/telvox/telvox/internal/telemetry"
)

// Scenario is one entry of scenarios.yaml.
type Scenario struct {
	Name         string         `yaml:"name"`
	Mode         string         `yaml:"mode"`
	SystemPrompt string         `yaml:"system_prompt"`
	TTSVoice     string         `yaml:"tts_voice"`
	Language     string         `yaml:"language"`
	Config       map[string]any `yaml:"config"`
}

// Load parses the scenario file.
func Load(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	var scenarios []Scenario
	if err := yaml.Unmarshal(data, &scenarios); err != nil {
		return nil, fmt.Errorf("scenario: parse %s: %w", path, err)
	}
	return scenarios, nil
}

// Seed upserts every scenario from path into the store. Individual upsert
// failures are logged and skipped so one bad entry cannot block the rest.
func Seed(ctx context.Context, sink *telemetry.PostgresSink, path string, logger *slog.Logger) {
	if sink == nil || path == "" {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}

	scenarios, err := Load(path)
	if err != nil {
		logger.Warn("scenario seeding skipped", "path", path, "error", err)
		return
	}

	for _, sc := range scenarios {
		if sc.Name == "" {
			logger.Warn("scenario without name skipped", "path", path)
			continue
		}
		id, err := sink.UpsertScenario(ctx, sc.Name, sc.Mode, sc.SystemPrompt,
			sc.TTSVoice, sc.Language, sc.Config)
		if err != nil {
			logger.Warn("scenario upsert failed", "name", sc.Name, "error", err)
			continue
		}
		logger.Info("scenario seeded", "name", sc.Name, "id", id)
	}
}
