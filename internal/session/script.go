package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/telvox/telvox/internal/config"
	"github.com/telvox/telvox/internal/telemetry"
	"github.com/telvox/telvox/pkg/audio"
	"github.com/telvox/telvox/pkg/provider/asr"
	"github.com/telvox/telvox/pkg/provider/llm"
)

// Script is the prerecorded-answer session: the LLM never speaks freely but
// picks a track name from the robot's catalog, and the named WAV is played
// as-is. Useful when every reply has to be a vetted recording.
type Script struct {
	*base

	recognizer asr.Recognizer
	chatter    llm.Chatter

	tracks map[string]string // track name -> wav path
	names  []string          // sorted track names for prompts and hints
}

var _ Session = (*Script)(nil)

// NewScript builds a script session for one call.
func NewScript(callID string, cfg *config.Config, deps Deps) *Script {
	return &Script{base: newBase(callID, cfg, deps)}
}

// Start loads the track catalog, builds the adapters and plays the greeting
// WAV if present.
func (s *Script) Start(ctx context.Context) error {
	if err := s.loadTracks(); err != nil {
		s.setStatus("failed")
		return fmt.Errorf("session: %w", err)
	}

	var err error
	if s.recognizer, err = s.createRecognizer(); err != nil {
		s.setStatus("failed")
		return fmt.Errorf("session: %w", err)
	}
	s.addCloser(s.recognizer.Close)
	if s.chatter, err = s.createChatter(); err != nil {
		s.setStatus("failed")
		return fmt.Errorf("session: %w", err)
	}
	s.addCloser(s.chatter.Close)

	s.augmentPrompt()
	s.boot(ctx)
	s.greet(ctx, nil)
	return nil
}

// HandleFrame feeds one caller audio frame through the VAD.
func (s *Script) HandleFrame(ctx context.Context, frame []byte) {
	s.handleVADFrame(ctx, frame, func(utterance []byte) {
		s.processSpeech(context.Background(), utterance)
	})
}

// Stop is the guaranteed terminator.
func (s *Script) Stop(ctx context.Context) {
	s.stopOnce.Do(func() { s.finish(ctx) })
}

// loadTracks scans the catalog directory for WAV files, skipping the
// greeting. Track names are the case-sensitive bare file names.
func (s *Script) loadTracks() error {
	dir := filepath.Join(s.cfg.RobotDir, "tracks")
	if _, err := os.Stat(dir); err != nil {
		dir = s.cfg.RobotDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read track dir %s: %w", dir, err)
	}

	s.tracks = make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wav") || e.Name() == "greeting.wav" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".wav")
		s.tracks[name] = filepath.Join(dir, e.Name())
		s.names = append(s.names, name)
	}
	if len(s.tracks) == 0 {
		return fmt.Errorf("no tracks in %s", dir)
	}
	sort.Strings(s.names)
	return nil
}

// augmentPrompt appends the catalog and the answer-format rule to the
// system prompt so the model replies with a bare track name.
func (s *Script) augmentPrompt() {
	var b strings.Builder
	b.WriteString(s.cfg.SystemPrompt)
	b.WriteString("\n\nAvailable tracks:\n")
	for _, name := range s.names {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\nRULE: answer with exactly one track name from the list and nothing else, e.g. %s", s.names[0])

	s.mu.Lock()
	s.dialog[0].Content = b.String()
	s.mu.Unlock()
}

// processSpeech maps one caller utterance onto a catalog track. Runs under
// the turn mutex.
func (s *Script) processSpeech(ctx context.Context, utterance []byte) {
	s.bargeInTriggered.Store(false)
	speechEnd := time.Now()

	result, err := s.recognizer.Recognize(ctx, utterance, s.cfg.ASR.SampleRate)
	asrMS := int(time.Since(speechEnd).Milliseconds())
	if err != nil {
		s.logger.Error("recognition failed", "error", err)
		s.deps.Metrics.RecordProviderError(ctx, s.cfg.ASR.Provider, "asr")
		return
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		s.logger.Debug("empty recognition, turn skipped", "asr_ms", asrMS)
		return
	}

	s.mu.Lock()
	s.turns++
	s.mu.Unlock()
	s.deps.Metrics.Turns.Add(ctx, 1)
	s.deps.Metrics.ASRLatency.Record(ctx, float64(asrMS)/1000)
	s.logger.Info("caller said", "text", text, "asr_ms", asrMS)

	s.addUserTurn(text)
	s.recordTurnRow(asrMS, text)
	s.deps.Recorder.OnUserSpeech(telemetry.UserSpeech{
		CallID:     s.callID,
		Text:       text,
		Provider:   s.cfg.ASR.Provider,
		LatencyMS:  asrMS,
		Confidence: result.Confidence,
	})

	llmStart := time.Now()
	answer, err := s.chatter.Chat(ctx, s.dialogSnapshot())
	llmMS := int(time.Since(llmStart).Milliseconds())
	if err != nil {
		s.logger.Error("track selection failed", "error", err)
		s.deps.Metrics.RecordProviderError(ctx, s.cfg.LLM.Provider, "llm")
		return
	}
	name := strings.Trim(strings.TrimSpace(answer), `"'«»`)
	s.deps.Metrics.LLMLatency.Record(ctx, float64(llmMS)/1000)

	path, ok := s.tracks[name]
	if !ok {
		s.logger.Warn("track not in catalog",
			"answer", name, "nearest", s.nearestTrack(name))
		s.addBotTurn("[unknown: " + name + "]")
		return
	}

	pcm, rate, err := audio.ReadWAV(path)
	if err != nil {
		s.logger.Error("track unreadable", "track", name, "error", err)
		return
	}
	s.addBotTurn("[" + name + "]")
	s.deps.Recorder.OnBotResponse(telemetry.BotResponse{
		CallID:       s.callID,
		Text:         "[" + name + "]",
		LLMProvider:  s.cfg.LLM.Provider,
		LLMLatencyMS: llmMS,
	})
	if s.isActive.Load() && !s.bargeInTriggered.Load() {
		s.playback.PlayPCM(ctx, pcm, rate)
	}
}

// nearestTrack names the catalog entry closest to answer by edit distance,
// as a log hint when the model strays from the list.
func (s *Script) nearestTrack(answer string) string {
	best, bestDist := "", -1
	for _, name := range s.names {
		d := matchr.Levenshtein(answer, name)
		if bestDist < 0 || d < bestDist {
			best, bestDist = name, d
		}
	}
	return best
}
