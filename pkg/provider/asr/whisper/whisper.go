// Package whisper implements the asr.Recognizer contract with local
// whisper.cpp inference through its CGO bindings. The whisper.cpp static
// library (libwhisper.a) and headers must be available at link time via
// LIBRARY_PATH and C_INCLUDE_PATH.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/telvox/telvox/pkg/provider/asr"
)

// whisper.cpp models are trained on 16 kHz audio; other rates degrade
// recognition but are passed through rather than rejected.
const expectedSampleRate = 16000

const defaultLanguage = "ru"

// Compile-time assertion that Recognizer satisfies asr.Recognizer.
var _ asr.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring the Recognizer.
type Option func(*Recognizer)

// WithLanguage sets the transcription language code (e.g. "ru", "hy", "en").
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// Recognizer runs whisper.cpp inference on complete utterances. The model is
// loaded once and shared; each Recognize call creates a fresh whisper context
// because contexts are not safe for concurrent use while the model is.
type Recognizer struct {
	model    whisperlib.Model
	language string

	mu       sync.Mutex
	closed   bool
	warnRate sync.Once
}

// New loads the whisper.cpp model from modelPath.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	r := &Recognizer{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Recognize transcribes one utterance. ctx cancellation is checked before
// inference starts; whisper.cpp itself runs to completion once dispatched.
func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, sampleRate int) (asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: recognize: %w", err)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return asr.Result{}, errors.New("whisper: recognizer is closed")
	}
	r.mu.Unlock()

	if sampleRate != expectedSampleRate {
		r.warnRate.Do(func() {
			slog.Warn("whisper model expects 16 kHz input", "sample_rate", sampleRate)
		})
	}

	wctx, err := r.model.NewContext()
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(r.language); err != nil {
		slog.Warn("whisper: failed to set language, using model default", "language", r.language, "err", err)
	}

	if err := wctx.Process(pcmToFloat32(pcm), nil, nil, nil); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return asr.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return asr.Result{
		Text:       strings.Join(parts, " "),
		Confidence: 1.0,
		Language:   r.language,
	}, nil
}

// Close releases the loaded model. Safe to call more than once.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.model.Close()
}
