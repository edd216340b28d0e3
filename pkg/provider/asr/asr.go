// Package asr defines the Recognizer contract for speech-to-text backends.
//
// An ASR provider wraps a recognition service (a cloud HTTP API or a local
// whisper.cpp model) behind a single utterance-oriented call: the session
// hands over one complete utterance of PCM16 audio and gets text back. There
// is no streaming here — utterance boundaries are drawn by the local VAD
// before the provider is ever involved.
//
// Implementations must be safe for concurrent use; a server hosts many calls
// that may recognize simultaneously through one shared Recognizer.
package asr

import "context"

// Result is a completed recognition.
type Result struct {
	// Text is the recognized utterance. Empty text is a valid result and
	// means the audio contained nothing transcribable.
	Text string

	// Confidence is the provider's confidence in Text, in [0, 1]. Providers
	// that do not report confidence use 1.0.
	Confidence float64

	// Language is the language the provider transcribed in (configured or
	// detected, depending on the backend).
	Language string
}

// Recognizer is the abstraction over any speech-to-text backend.
type Recognizer interface {
	// Recognize transcribes one utterance of raw PCM16 little-endian mono
	// audio recorded at sampleRate. It returns a *provider.Error for
	// transport failures and non-OK responses; an empty Result.Text with a
	// nil error means the provider heard nothing.
	Recognize(ctx context.Context, pcm []byte, sampleRate int) (Result, error)

	// Close releases pooled connections or loaded models. It is idempotent.
	Close() error
}
