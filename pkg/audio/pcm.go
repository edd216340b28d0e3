// Package audio provides PCM16 utilities for the telephony data path: RMS
// energy, integer-mean downsampling, WAV file I/O, and duration math.
//
// All functions operate on raw little-endian signed 16-bit mono PCM byte
// slices. They are pure and allocation-light; the hot path (RMS on a 40 ms
// telephony frame) is a single pass over 320 samples.
package audio

import (
	"math"
	"time"
)

// RMS computes the root-mean-square energy of a PCM16 frame. Inputs shorter
// than one sample (2 bytes) yield 0. A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(pcm[i*2]) | int16(pcm[i*2+1])<<8)
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Downsample decimates PCM16 audio from fromRate to toRate by averaging
// groups of ratio = fromRate/toRate samples. When fromRate == toRate, or the
// integer ratio is below 1, the input is returned unchanged. Each output
// sample is the integer mean of its group, clamped to the int16 range.
//
// This is a plain decimator without a low-pass stage; it is adequate for
// 48 kHz synthesis output going to an 8 kHz telephony leg, not for
// audio-grade conversion.
func Downsample(pcm []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || toRate <= 0 {
		return pcm
	}
	ratio := fromRate / toRate
	if ratio < 1 {
		return pcm
	}
	n := len(pcm) / 2
	out := make([]byte, 0, (n/ratio)*2)
	for i := 0; i+ratio <= n; i += ratio {
		sum := 0
		for j := i; j < i+ratio; j++ {
			sum += int(int16(pcm[j*2]) | int16(pcm[j*2+1])<<8)
		}
		avg := sum / ratio
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		out = append(out, byte(avg), byte(avg>>8))
	}
	return out
}

// Duration returns the playback duration of a PCM16 mono buffer at the given
// sample rate. At 8 kHz this is one millisecond per 16 bytes.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(pcm)/2) * time.Second / time.Duration(sampleRate)
}
