package orchestrator

import (
	"math"
	"sync"
	"time"

	"github.com/lokutor-ai/turncore/pkg/audio"
)

// EchoSuppressor flags microphone frames that correlate with audio recently
// sent to the client's speaker. Flagged frames are excluded from barge-in
// classification. Played audio must be 16-bit mono PCM at the session rate.
type EchoSuppressor struct {
	mu        sync.Mutex
	played    []byte
	maxPlayed int
	threshold float64
	// tail is how long after the last played chunk echo is still expected.
	tail       time.Duration
	lastPlayed time.Time
	enabled    bool
}

func NewEchoSuppressor(sampleRate int) *EchoSuppressor {
	if sampleRate <= 0 {
		sampleRate = audio.SampleRate
	}
	return &EchoSuppressor{
		maxPlayed: sampleRate * audio.BytesPerSample * 2, // 2s
		threshold: 0.55,
		tail:      1200 * time.Millisecond,
		enabled:   true,
	}
}

// RecordPlayedAudio appends synthesized audio sent to the client.
func (es *EchoSuppressor) RecordPlayedAudio(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	if !es.enabled {
		return
	}

	es.played = append(es.played, chunk...)
	if over := len(es.played) - es.maxPlayed; over > 0 {
		es.played = append(es.played[:0], es.played[over:]...)
	}
	es.lastPlayed = time.Now()
}

// IsEcho reports whether a microphone frame is most likely playback echo.
func (es *EchoSuppressor) IsEcho(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	if !es.enabled || len(es.played) == 0 || time.Since(es.lastPlayed) > es.tail {
		return false
	}

	in := audio.Samples(frame)
	ref := audio.Samples(es.played)
	if correlation(in, ref) > es.threshold {
		return true
	}
	// sibilants lose phase alignment in the room; compare envelopes
	return envelopeCorrelation(in, ref, 8) > es.threshold+0.05
}

func (es *EchoSuppressor) ClearEchoBuffer() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.played = es.played[:0]
}

// SetThreshold adjusts the correlation above which a frame counts as echo (0-1).
func (es *EchoSuppressor) SetThreshold(threshold float64) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if threshold >= 0 && threshold <= 1 {
		es.threshold = threshold
	}
}

func (es *EchoSuppressor) SetEnabled(enabled bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.enabled = enabled
}

// correlation is the normalized dot product of in against the most recent
// len(in) samples of ref, clamped to [0, 1].
func correlation(in, ref []float64) float64 {
	n := min(len(in), len(ref))
	if n == 0 {
		return 0
	}
	tail := ref[len(ref)-n:]
	inEnergy, refEnergy := energy(in[:n]), energy(tail)
	if inEnergy == 0 || refEnergy == 0 {
		return 0
	}
	dot := 0.0
	for i := 0; i < n; i++ {
		dot += in[i] * tail[i]
	}
	return clamp01(dot / math.Sqrt(inEnergy*refEnergy))
}

func energy(samples []float64) float64 {
	e := 0.0
	for _, s := range samples {
		e += s * s
	}
	return e
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func envelope(samples []float64, decimation int) []float64 {
	env := make([]float64, len(samples)/decimation)
	for i := range env {
		for j := 0; j < decimation; j++ {
			env[i] += math.Abs(samples[i*decimation+j])
		}
	}
	return env
}

// envelopeCorrelation slides the mean-removed envelope of in across ref and
// returns the best Pearson correlation.
func envelopeCorrelation(in, ref []float64, decimation int) float64 {
	inEnv, refEnv := envelope(in, decimation), envelope(ref, decimation)
	n := min(len(inEnv), len(refEnv))
	if n == 0 {
		return 0
	}
	inEnv = inEnv[:n]

	inMean := 0.0
	for _, v := range inEnv {
		inMean += v
	}
	inMean /= float64(n)
	inVar := 0.0
	for i := range inEnv {
		inEnv[i] -= inMean
		inVar += inEnv[i] * inEnv[i]
	}
	if inVar <= 0 {
		return 0
	}

	stride := max(n/4, 2)
	best := 0.0
	for pos := 0; pos+n <= len(refEnv); pos += stride {
		seg := refEnv[pos : pos+n]
		refMean := 0.0
		for _, v := range seg {
			refMean += v
		}
		refMean /= float64(n)

		dot, refVar := 0.0, 0.0
		for i, v := range seg {
			r := v - refMean
			dot += inEnv[i] * r
			refVar += r * r
		}
		if refVar > 0 {
			best = math.Max(best, dot/math.Sqrt(inVar*refVar))
		}
	}
	return best
}
