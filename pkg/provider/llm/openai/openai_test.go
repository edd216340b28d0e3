package openai

import (
	"strings"
	"testing"

	"github.com/telvox/telvox/pkg/provider/llm"
)

// TestNew_MissingAPIKey ensures constructor rejects an empty API key.
func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New("", "b1gfolder")
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_MissingFolderID ensures constructor rejects an empty folder ID.
func TestNew_MissingFolderID(t *testing.T) {
	_, err := New("key-test", "")
	if err == nil {
		t.Fatal("expected error for empty folder ID")
	}
}

// TestNew_DefaultModel checks the Yandex model URI default.
func TestNew_DefaultModel(t *testing.T) {
	c, err := New("key-test", "b1gfolder")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.model != "gpt://b1gfolder/yandexgpt/rc" {
		t.Errorf("default model = %q", c.model)
	}
}

// TestNew_Options checks that optional settings are applied.
func TestNew_Options(t *testing.T) {
	c, err := New("key-test", "b1gfolder",
		WithBaseURL("https://custom.example.com/v1"),
		WithModel("gpt://b1gfolder/yandexgpt-lite/latest"),
		WithTemperature(0.2),
		WithMaxTokens(120),
	)
	if err != nil {
		t.Fatalf("unexpected error with valid options: %v", err)
	}
	if c.model != "gpt://b1gfolder/yandexgpt-lite/latest" {
		t.Errorf("model = %q", c.model)
	}
	if c.temperature != 0.2 {
		t.Errorf("temperature = %v", c.temperature)
	}
	if c.maxTokens != 120 {
		t.Errorf("maxTokens = %d", c.maxTokens)
	}
}

// TestBuildParams_Roles checks that all dialog roles convert.
func TestBuildParams_Roles(t *testing.T) {
	c, err := New("key-test", "b1gfolder")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params, err := c.buildParams([]llm.Message{
		{Role: llm.RoleSystem, Content: "You answer phone calls."},
		{Role: llm.RoleUser, Content: "Hello"},
		{Role: llm.RoleAssistant, Content: "Hi, how can I help?"},
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("expected OfSystem on first message")
	}
	if params.Messages[1].OfUser == nil {
		t.Error("expected OfUser on second message")
	}
	if params.Messages[2].OfAssistant == nil {
		t.Error("expected OfAssistant on third message")
	}
}

// TestBuildParams_UnknownRole checks that unknown roles are rejected.
func TestBuildParams_UnknownRole(t *testing.T) {
	c, err := New("key-test", "b1gfolder")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = c.buildParams([]llm.Message{{Role: "tool", Content: "x"}})
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
	if !strings.Contains(err.Error(), "unknown message role") {
		t.Errorf("error = %v", err)
	}
}
