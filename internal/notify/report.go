package notify

import (
	"fmt"
	"strings"
	"time"
)

// Report carries what the end-of-call summary needs.
type Report struct {
	Caller     string
	UUID       string
	StartedAt  time.Time
	Duration   time.Duration
	Turns      int
	BargeIns   int
	ASRAvgMS   int
	Transcript []string
}

// FormatReport renders the call summary as Telegram HTML.
func FormatReport(r Report) string {
	var b strings.Builder
	b.WriteString("📞 <b>Call Report</b>\n")
	fmt.Fprintf(&b, "Tel: %s\n", r.Caller)
	fmt.Fprintf(&b, "Call time: %s\n", r.StartedAt.Format("02-01-2006 15:04:05"))
	fmt.Fprintf(&b, "Call uuid: %s\n", r.UUID)
	fmt.Fprintf(&b, "Duration: %ds | Turns: %d | Barge-ins: %d | ASR avg: %dms\n",
		int(r.Duration.Seconds()), r.Turns, r.BargeIns, r.ASRAvgMS)
	b.WriteString("\n✍️ <b>Транскрипция:</b>\n")
	for _, line := range r.Transcript {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
