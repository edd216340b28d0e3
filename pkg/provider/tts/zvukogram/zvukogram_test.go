package zvukogram_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/telvox/telvox/pkg/audio"
	"github.com/telvox/telvox/pkg/provider/tts/zvukogram"
)

func TestSynthesizeTwoStepExchange(t *testing.T) {
	pcm := make([]byte, 640)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	wav := audio.EncodeWAV(pcm, 22050)

	var gotForm map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/index.php", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = map[string]string{}
		for k := range r.PostForm {
			gotForm[k] = r.PostForm.Get(k)
		}
		fmt.Fprintf(w, `{"status":1,"file":"http://%s/render/out.wav","duration":0.02}`, r.Host)
	})
	mux.HandleFunc("/render/out.wav", func(w http.ResponseWriter, r *http.Request) {
		w.Write(wav)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := zvukogram.New("tok-1", "robot@example.com",
		zvukogram.WithEndpoint(srv.URL+"/index.php?r=api/text"),
		zvukogram.WithVoice("Бот Вася"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	got, err := s.Synthesize(context.Background(), "Здравствуйте!")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	want := map[string]string{
		"token":  "tok-1",
		"email":  "robot@example.com",
		"voice":  "Бот Вася",
		"text":   "Здравствуйте!",
		"format": "wav",
	}
	for k, v := range want {
		if gotForm[k] != v {
			t.Errorf("form[%s] = %q, want %q", k, gotForm[k], v)
		}
	}
	if got.SampleRate != 22050 {
		t.Errorf("SampleRate = %d, want 22050", got.SampleRate)
	}
	if len(got.PCM) != len(pcm) {
		t.Fatalf("PCM length = %d, want %d (header not stripped?)", len(got.PCM), len(pcm))
	}
	for i := range pcm {
		if got.PCM[i] != pcm[i] {
			t.Fatalf("PCM[%d] = %#x, want %#x", i, got.PCM[i], pcm[i])
		}
	}
}

func TestSynthesizeRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":0,"error":"not enough balance"}`))
	}))
	defer srv.Close()

	s, err := zvukogram.New("tok-1", "robot@example.com", zvukogram.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	_, err = s.Synthesize(context.Background(), "Hello there friend.")
	if err == nil {
		t.Fatal("expected error for rejected generation")
	}
	if !strings.Contains(err.Error(), "not enough balance") {
		t.Errorf("error = %v", err)
	}
}

func TestNewValidatesCredentials(t *testing.T) {
	if _, err := zvukogram.New("", "robot@example.com"); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := zvukogram.New("tok-1", ""); err == nil {
		t.Error("expected error for empty email")
	}
}
