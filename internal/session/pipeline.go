package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/telvox/telvox/internal/config"
	"github.com/telvox/telvox/internal/telemetry"
	"github.com/telvox/telvox/pkg/provider/asr"
	"github.com/telvox/telvox/pkg/provider/llm"
	"github.com/telvox/telvox/pkg/provider/tts"
)

// Pipeline is the default session: local VAD draws utterance boundaries,
// ASR transcribes, the LLM streams a reply sentence by sentence, and each
// sentence is synthesized and played while the next one is still being
// generated. Barge-in cuts the reply short between sentences.
type Pipeline struct {
	*base

	recognizer asr.Recognizer
	chatter    llm.Chatter
	synth      tts.Synthesizer
}

var _ Session = (*Pipeline)(nil)

// NewPipeline builds a pipeline session for one call.
func NewPipeline(callID string, cfg *config.Config, deps Deps) *Pipeline {
	return &Pipeline{base: newBase(callID, cfg, deps)}
}

// Start builds the provider adapters and plays the greeting. It must run
// after the channel UUID is latched.
func (p *Pipeline) Start(ctx context.Context) error {
	var err error
	if p.recognizer, err = p.createRecognizer(); err != nil {
		p.setStatus("failed")
		return fmt.Errorf("session: %w", err)
	}
	p.addCloser(p.recognizer.Close)
	if p.chatter, err = p.createChatter(); err != nil {
		p.setStatus("failed")
		return fmt.Errorf("session: %w", err)
	}
	p.addCloser(p.chatter.Close)
	if p.synth, err = p.createSynthesizer(); err != nil {
		p.setStatus("failed")
		return fmt.Errorf("session: %w", err)
	}
	p.addCloser(p.synth.Close)

	p.boot(ctx)
	p.greet(ctx, p.synth)
	return nil
}

// HandleFrame feeds one caller audio frame through the VAD.
func (p *Pipeline) HandleFrame(ctx context.Context, frame []byte) {
	p.handleVADFrame(ctx, frame, func(utterance []byte) {
		p.processSpeech(context.Background(), utterance)
	})
}

// Stop is the guaranteed terminator.
func (p *Pipeline) Stop(ctx context.Context) {
	p.stopOnce.Do(func() { p.finish(ctx) })
}

func (b *base) setStatus(status string) {
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
}

// processSpeech answers one completed caller utterance. It runs under the
// turn mutex.
func (p *Pipeline) processSpeech(ctx context.Context, utterance []byte) {
	p.bargeInTriggered.Store(false)
	speechEnd := time.Now()

	result, err := p.recognizer.Recognize(ctx, utterance, p.cfg.ASR.SampleRate)
	asrMS := int(time.Since(speechEnd).Milliseconds())
	if err != nil {
		p.logger.Error("recognition failed", "error", err)
		p.deps.Metrics.RecordProviderError(ctx, p.cfg.ASR.Provider, "asr")
		return
	}
	text := strings.TrimSpace(result.Text)
	if text == "" {
		p.logger.Debug("empty recognition, turn skipped", "asr_ms", asrMS)
		return
	}

	p.mu.Lock()
	p.turns++
	p.mu.Unlock()
	p.deps.Metrics.Turns.Add(ctx, 1)
	p.deps.Metrics.ASRLatency.Record(ctx, float64(asrMS)/1000)
	p.logger.Info("caller said", "text", text, "asr_ms", asrMS)

	p.addUserTurn(text)
	p.recordTurnRow(asrMS, text)
	p.deps.Recorder.OnUserSpeech(telemetry.UserSpeech{
		CallID:     p.callID,
		Text:       text,
		Provider:   p.cfg.ASR.Provider,
		LatencyMS:  asrMS,
		Confidence: result.Confidence,
	})

	stream, err := p.chatter.ChatStream(ctx, p.dialogSnapshot())
	if err != nil {
		p.logger.Error("chat stream failed", "error", err)
		p.deps.Metrics.RecordProviderError(ctx, p.cfg.LLM.Provider, "llm")
		return
	}
	defer stream.Close()

	var (
		sentences  []string
		llmMS      int
		firstAudio bool
		llmStart   = time.Now()
	)
	for stream.Next() {
		if !p.isActive.Load() || p.bargeInTriggered.Load() {
			p.logger.Debug("reply cut short", "sentences", len(sentences))
			break
		}
		sentence := stream.Sentence()
		llmMS = int(time.Since(llmStart).Milliseconds())
		sentences = append(sentences, sentence)

		out, err := p.synth.Synthesize(ctx, sentence)
		if err != nil {
			p.logger.Error("synthesis failed", "error", err)
			p.deps.Metrics.RecordProviderError(ctx, p.cfg.TTS.Provider, "tts")
			continue
		}
		if len(out.PCM) == 0 {
			continue
		}
		if !firstAudio {
			firstAudio = true
			p.deps.Metrics.FirstAudioLatency.Record(ctx, time.Since(speechEnd).Seconds())
		}
		if p.isActive.Load() && !p.bargeInTriggered.Load() {
			p.playback.PlayPCM(ctx, out.PCM, out.SampleRate)
		}
	}
	if err := stream.Err(); err != nil {
		p.logger.Error("chat stream broke", "error", err)
		p.deps.Metrics.RecordProviderError(ctx, p.cfg.LLM.Provider, "llm")
	}

	if len(sentences) == 0 {
		return
	}
	reply := strings.Join(sentences, " ")
	p.addBotTurn(reply)
	p.deps.Metrics.LLMLatency.Record(ctx, float64(llmMS)/1000)
	p.deps.Recorder.OnBotResponse(telemetry.BotResponse{
		CallID:       p.callID,
		Text:         reply,
		LLMProvider:  p.cfg.LLM.Provider,
		LLMLatencyMS: llmMS,
		TTSProvider:  p.cfg.TTS.Provider,
	})
}
