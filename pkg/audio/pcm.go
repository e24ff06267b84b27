// Package audio holds the PCM plumbing shared by the turn-taking core:
// fixed-duration framing, energy measurement, the pre-roll backlog and WAV
// container helpers.
package audio

import (
	"math"
	"time"
)

const (
	// SampleRate is the wire sample rate for microphone audio.
	SampleRate = 16000
	// BytesPerSample for little-endian signed 16-bit PCM.
	BytesPerSample = 2
	// FrameDuration is the duration of a single VAD / recognition frame.
	FrameDuration = 20 * time.Millisecond
	// FrameBytes is the size of one mono frame at SampleRate (640 bytes).
	FrameBytes = SampleRate * BytesPerSample * int(FrameDuration/time.Millisecond) / 1000
)

// FrameSize returns the byte length of one mono 16-bit frame.
func FrameSize(sampleRate int, d time.Duration) int {
	if sampleRate <= 0 || d <= 0 {
		return 0
	}
	return int(int64(sampleRate)*int64(d)/int64(time.Second)) * BytesPerSample
}

// FramesIn returns how many frames of length frame fit in d, rounding up.
func FramesIn(d, frame time.Duration) int {
	if d <= 0 || frame <= 0 {
		return 0
	}
	return int((d + frame - 1) / frame)
}

// RMS computes the root-mean-square amplitude of 16-bit little-endian PCM
// on the raw sample scale (0..32768). A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Samples decodes 16-bit little-endian PCM into normalized float samples in [-1, 1).
func Samples(pcm []byte) []float64 {
	out := make([]float64, 0, len(pcm)/BytesPerSample)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		out = append(out, float64(s)/32768.0)
	}
	return out
}

// Duration returns the playback duration of n bytes of mono PCM.
func Duration(n int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
