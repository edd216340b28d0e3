package tts_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/telvox/telvox/pkg/provider/tts"
)

func TestSplitTextShortPassthrough(t *testing.T) {
	text := "A short reply. Nothing to split here."
	got := tts.SplitText(text, 900)
	if len(got) != 1 || got[0] != text {
		t.Fatalf("SplitText = %q, want single passthrough chunk", got)
	}
}

func TestSplitTextRespectsLimit(t *testing.T) {
	sentence := strings.Repeat("word ", 20) + "end."
	text := strings.Repeat(sentence+" ", 30)

	chunks := tts.SplitText(text, 300)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 300 {
			t.Errorf("chunk %d has %d runes, limit 300", i, n)
		}
		if strings.TrimSpace(c) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}
}

func TestSplitTextCutsOnSentenceEnders(t *testing.T) {
	text := strings.Repeat("First thought here! Second thought there? ", 10)
	chunks := tts.SplitText(text, 100)
	for i, c := range chunks {
		last, _ := utf8.DecodeLastRuneInString(c)
		if !strings.ContainsRune(".!?։", last) {
			t.Errorf("chunk %d does not end on a terminator: %q", i, c)
		}
	}
}

func TestSplitTextOversizedSentencePassesThrough(t *testing.T) {
	// One sentence with no terminators beyond the limit must come back whole.
	text := strings.Repeat("a", 500)
	chunks := tts.SplitText(text, 100)
	if len(chunks) != 1 || chunks[0] != text {
		t.Fatalf("oversized sentence split unexpectedly: %d chunks", len(chunks))
	}
}

func TestSplitTextPreservesContent(t *testing.T) {
	text := strings.Repeat("Яблоки поспели. Груши ещё зреют! ", 40)
	chunks := tts.SplitText(text, 200)

	joined := strings.Join(strings.Fields(strings.Join(chunks, " ")), " ")
	want := strings.Join(strings.Fields(text), " ")
	if joined != want {
		t.Error("rejoined chunks do not reproduce the input text")
	}
}
