package yandex_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/telvox/telvox/pkg/provider"
	"github.com/telvox/telvox/pkg/provider/tts/yandex"
)

func TestSynthesizeSendsFormFields(t *testing.T) {
	var gotForm map[string]string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostForm.Get(k)
		}
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte{0x01, 0x02, 0x03, 0x04})
	}))
	defer srv.Close()

	s, err := yandex.New("test-key", "folder-1",
		yandex.WithEndpoint(srv.URL),
		yandex.WithVoice("filipp"),
		yandex.WithSampleRate(16000),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	audio, err := s.Synthesize(context.Background(), "Привет, как дела?")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if gotAuth != "Api-Key test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	want := map[string]string{
		"text":            "Привет, как дела?",
		"lang":            "ru-RU",
		"voice":           "filipp",
		"emotion":         "neutral",
		"folderId":        "folder-1",
		"format":          "lpcm",
		"sampleRateHertz": "16000",
	}
	for k, v := range want {
		if gotForm[k] != v {
			t.Errorf("form[%s] = %q, want %q", k, gotForm[k], v)
		}
	}
	if len(audio.PCM) != 4 {
		t.Errorf("PCM length = %d, want 4", len(audio.PCM))
	}
	if audio.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", audio.SampleRate)
	}
}

func TestSynthesizeEmptyTextSkipsBackend(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	s, err := yandex.New("test-key", "folder-1", yandex.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	audio, err := s.Synthesize(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if called {
		t.Error("backend was called for blank text")
	}
	if len(audio.PCM) != 0 {
		t.Errorf("PCM length = %d, want 0", len(audio.PCM))
	}
}

func TestSynthesizeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s, err := yandex.New("test-key", "folder-1", yandex.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	_, err = s.Synthesize(context.Background(), "Hello there friend.")
	var perr *provider.Error
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *provider.Error", err)
	}
	if perr.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want %d", perr.Status, http.StatusTooManyRequests)
	}
}

func TestNewRejectsEmptyKey(t *testing.T) {
	if _, err := yandex.New("", "folder-1"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}
