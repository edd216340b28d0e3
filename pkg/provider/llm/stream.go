package llm

import (
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

// sentenceEnders terminate a sentence for the streaming splitter: ASCII
// punctuation plus the Armenian full stop.
const sentenceEnders = ".!?:;։"

// minSentenceRunes guards against micro-sentences: an ender within the first
// few runes of the buffer does not cut, so abbreviations like "Mr." at the
// start of a reply stay attached to what follows.
const minSentenceRunes = 5

// DeltaSource yields successive text fragments of a model reply.
// Recv returns io.EOF after the final fragment.
type DeltaSource interface {
	Recv() (string, error)
	Close() error
}

// SentenceStream regroups a token-delta stream into whole sentences.
// It is a pull iterator in the bufio.Scanner style:
//
//	for stream.Next() {
//	    speak(stream.Sentence())
//	}
//	if err := stream.Err(); err != nil { ... }
//
// A stream is finite and not restartable. Trailing text without a terminator
// is emitted as the last sentence. Leading and trailing whitespace is
// stripped from every sentence.
type SentenceStream struct {
	src      DeltaSource
	buffer   string
	sentence string
	err      error
	done     bool
	closed   bool
}

// NewSentenceStream wraps a delta source in a sentence splitter.
func NewSentenceStream(src DeltaSource) *SentenceStream {
	return &SentenceStream{src: src}
}

// Next advances the stream to the next sentence. It returns false when the
// stream is exhausted, failed or closed; check Err afterwards.
func (s *SentenceStream) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	for {
		if i := sentenceBoundary(s.buffer); i >= 0 {
			sent := strings.TrimSpace(s.buffer[:i])
			s.buffer = strings.TrimSpace(s.buffer[i:])
			if sent == "" {
				continue
			}
			s.sentence = sent
			return true
		}
		if s.done {
			rest := strings.TrimSpace(s.buffer)
			s.buffer = ""
			if rest != "" {
				s.sentence = rest
				return true
			}
			return false
		}
		delta, err := s.src.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				continue
			}
			s.err = err
			return false
		}
		s.buffer += delta
	}
}

// Sentence returns the sentence produced by the last successful Next call.
func (s *SentenceStream) Sentence() string {
	return s.sentence
}

// Err returns the first error hit by the underlying source, excluding io.EOF.
func (s *SentenceStream) Err() error {
	return s.err
}

// Close releases the underlying source. Safe to call more than once.
func (s *SentenceStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.src.Close()
}

// sentenceBoundary returns the byte offset just past the first sentence
// terminator whose rune index exceeds minSentenceRunes, or -1 when the
// buffer holds no complete sentence yet.
func sentenceBoundary(s string) int {
	runeIdx := 0
	for byteIdx, r := range s {
		if runeIdx > minSentenceRunes && strings.ContainsRune(sentenceEnders, r) {
			return byteIdx + utf8.RuneLen(r)
		}
		runeIdx++
	}
	return -1
}
