// Package tts defines the speech synthesis provider contract. Adapters turn
// one sentence of text into raw PCM at the adapter's native sample rate; the
// playback layer downsamples to the telephony rate.
package tts

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Audio is the result of one synthesis call.
type Audio struct {
	// PCM holds 16-bit little-endian mono samples. May be empty when the
	// adapter swallowed a backend failure.
	PCM []byte

	// SampleRate is the rate of PCM in Hz.
	SampleRate int
}

// Synthesizer is the abstraction over a speech synthesis backend.
type Synthesizer interface {
	// Synthesize converts text to speech. Empty text yields empty audio
	// without touching the backend.
	Synthesize(ctx context.Context, text string) (Audio, error)

	// Close releases any held resources. Safe to call more than once.
	Close() error
}

// chunkEnders are the characters SplitText cuts sentences on.
const chunkEnders = ".!?։"

// MaxChunkRunes is the per-request text limit long inputs are split to.
const MaxChunkRunes = 900

// SplitText breaks text into chunks of at most maxLen runes, cutting along
// sentence terminators so no request splits mid-sentence. Text within the
// limit comes back as a single chunk. A single sentence longer than maxLen
// is passed through whole; backends that reject it will report their own
// error.
func SplitText(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	var sentences []string
	var b strings.Builder
	runes := 0
	for _, r := range text {
		b.WriteRune(r)
		runes++
		if runes > 1 && strings.ContainsRune(chunkEnders, r) {
			if s := strings.TrimSpace(b.String()); s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
			runes = 0
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}

	var chunks []string
	var cur string
	for _, s := range sentences {
		switch {
		case cur == "":
			cur = s
		case utf8.RuneCountInString(cur)+1+utf8.RuneCountInString(s) <= maxLen:
			cur = cur + " " + s
		default:
			chunks = append(chunks, cur)
			cur = s
		}
	}
	if cur != "" {
		chunks = append(chunks, cur)
	}
	return chunks
}
