// Package vad implements frame-level energy voice activity detection.
//
// A Detector is driven one audio chunk at a time: every [Detector.Feed] call
// classifies one PCM16 frame by its RMS energy and advances a small state
// machine between idle and speaking. Accumulated speech audio is handed back
// when enough trailing silence arrives. A separate [Detector.CheckBargeIn]
// path detects the caller speaking over bot playback.
//
// A Detector is owned by a single session and is not safe for concurrent use.
package vad

import "github.com/telvox/telvox/pkg/audio"

// Event classifies the outcome of feeding one frame to the detector.
type Event int

const (
	// Silence means no speech is in progress and the frame was quiet.
	Silence Event = iota
	// SpeechStart marks the transition into speech; the triggering frame is
	// the first frame of the utterance buffer.
	SpeechStart
	// Speaking means an utterance is in progress (the frame was buffered).
	Speaking
	// SpeechEnd marks the end of an utterance; Feed returns the buffered audio.
	SpeechEnd
)

// String returns the event name for logging.
func (e Event) String() string {
	switch e {
	case SpeechStart:
		return "speech_start"
	case Speaking:
		return "speaking"
	case SpeechEnd:
		return "speech_end"
	default:
		return "silence"
	}
}

// Config tunes the detector thresholds.
type Config struct {
	// EnergyThreshold is the RMS level above which a frame counts as speech.
	EnergyThreshold float64
	// SilenceFrames is the number of consecutive quiet frames that end an
	// utterance.
	SilenceFrames int
	// MinSpeechFrames is the number of consecutive energetic frames required
	// to start an utterance (or to confirm a barge-in).
	MinSpeechFrames int
	// Enabled gates barge-in detection only; Feed always runs.
	Enabled bool
}

// Detector is the energy VAD state machine.
type Detector struct {
	cfg Config

	speaking     bool
	speechCount  int
	silenceCount int
	buffer       []byte
}

// New returns a Detector for cfg. Zero threshold and frame counts fall back
// to telephony defaults (200 RMS, 25 silence frames, 5 speech frames).
func New(cfg Config) *Detector {
	if cfg.EnergyThreshold == 0 {
		cfg.EnergyThreshold = 200
	}
	if cfg.SilenceFrames == 0 {
		cfg.SilenceFrames = 25
	}
	if cfg.MinSpeechFrames == 0 {
		cfg.MinSpeechFrames = 5
	}
	return &Detector{cfg: cfg}
}

// Reset returns the detector to idle and discards any buffered audio.
func (d *Detector) Reset() {
	d.speaking = false
	d.speechCount = 0
	d.silenceCount = 0
	d.buffer = nil
}

// Feed processes one PCM16 frame and returns the resulting event. For
// SpeechEnd the second return value is the complete utterance audio,
// including the frame that triggered SpeechStart and the trailing silence;
// for every other event it is nil.
func (d *Detector) Feed(frame []byte) (Event, []byte) {
	rms := audio.RMS(frame)

	if rms > d.cfg.EnergyThreshold {
		d.speechCount++
		d.silenceCount = 0

		if !d.speaking && d.speechCount >= d.cfg.MinSpeechFrames {
			d.speaking = true
			d.buffer = append(d.buffer[:0], frame...)
			return SpeechStart, nil
		}
		if d.speaking {
			d.buffer = append(d.buffer, frame...)
			return Speaking, nil
		}
		return Silence, nil
	}

	if d.speaking {
		d.silenceCount++
		d.buffer = append(d.buffer, frame...)

		if d.silenceCount >= d.cfg.SilenceFrames {
			utterance := make([]byte, len(d.buffer))
			copy(utterance, d.buffer)
			d.Reset()
			return SpeechEnd, utterance
		}
		return Speaking, nil
	}

	d.speechCount = 0
	return Silence, nil
}

// CheckBargeIn reports whether the caller is talking over bot playback. It
// counts consecutive energetic frames and fires once MinSpeechFrames are
// seen; a quiet frame resets the count. Always false when the detector is
// not enabled.
func (d *Detector) CheckBargeIn(frame []byte) bool {
	if !d.cfg.Enabled {
		return false
	}
	if audio.RMS(frame) > d.cfg.EnergyThreshold {
		d.speechCount++
		if d.speechCount >= d.cfg.MinSpeechFrames {
			return true
		}
	} else {
		d.speechCount = 0
	}
	return false
}

// StartListeningAfterBargeIn forces the detector straight into the speaking
// state seeded with frame, so the first word after an interruption is kept.
func (d *Detector) StartListeningAfterBargeIn(frame []byte) {
	d.speaking = true
	d.buffer = append([]byte(nil), frame...)
	d.silenceCount = 0
	d.speechCount = 0
}
