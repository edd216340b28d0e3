// Package calllog writes the per-call JSON record into the robot's logs
// directory at the end of every call.
package calllog

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// ASRDetail is the recognition timing for one dialog turn.
type ASRDetail struct {
	Turn  int    `json:"turn"`
	ASRMS int    `json:"asr_ms"`
	Text  string `json:"text"`
}

// Entry is the full per-call record.
type Entry struct {
	UUID        string      `json:"uuid"`
	Caller      string      `json:"caller"`
	CallTime    string      `json:"call_time"`
	DurationSec float64     `json:"duration_sec"`
	Turns       int         `json:"turns"`
	BargeIns    int         `json:"barge_ins"`
	ASRDetails  []ASRDetail `json:"asr_details"`
	Transcript  []string    `json:"transcript"`
}

// New assembles an entry, stamping the start time and rounding the duration
// to one decimal.
func New(uuid, caller string, startedAt time.Time, duration time.Duration) Entry {
	return Entry{
		UUID:        uuid,
		Caller:      caller,
		CallTime:    startedAt.Format("2006-01-02 15:04:05"),
		DurationSec: math.Round(duration.Seconds()*10) / 10,
		ASRDetails:  []ASRDetail{},
		Transcript:  []string{},
	}
}

// Save writes the entry as indented JSON under <robotDir>/logs, naming the
// file by start time, caller and the first eight UUID characters.
func Save(robotDir string, startedAt time.Time, e Entry) (string, error) {
	dir := filepath.Join(robotDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("calllog: create logs dir: %w", err)
	}

	uuidPrefix := "x"
	if e.UUID != "" {
		uuidPrefix = e.UUID
		if len(uuidPrefix) > 8 {
			uuidPrefix = uuidPrefix[:8]
		}
	}
	name := fmt.Sprintf("%s_%s_%s.json", startedAt.Format("20060102_150405"), e.Caller, uuidPrefix)
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", fmt.Errorf("calllog: marshal entry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("calllog: write %s: %w", path, err)
	}
	return path, nil
}
