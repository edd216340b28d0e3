package scenario_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/telvox/telvox/internal/scenario"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeYAML(t, `
- name: support
  mode: pipeline
  system_prompt: "Ты оператор поддержки."
  tts_voice: alena
  language: ru
  config:
    greeting_text: "Здравствуйте!"
    max_turns: 20
- name: survey
  mode: llm_script
`)

	got, err := scenario.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d scenarios, want 2", len(got))
	}
	if got[0].Name != "support" || got[0].Mode != "pipeline" || got[0].TTSVoice != "alena" {
		t.Errorf("first scenario = %+v", got[0])
	}
	if got[0].Config["greeting_text"] != "Здравствуйте!" {
		t.Errorf("config greeting = %v", got[0].Config["greeting_text"])
	}
	if got[1].Name != "survey" || got[1].Mode != "llm_script" {
		t.Errorf("second scenario = %+v", got[1])
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := scenario.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load returned nil for missing file")
	}
}

func TestLoadMalformed(t *testing.T) {
	path := writeYAML(t, "name: not-a-list\nmode: pipeline\n")
	if _, err := scenario.Load(path); err == nil {
		t.Fatal("Load returned nil for non-list document")
	}
}
