package orchestrator

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/turncore/pkg/audio"
)

func toneFrame(amp int16) []byte {
	b := make([]byte, audio.FrameBytes)
	for i := 0; i < len(b)/2; i++ {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(amp))
	}
	return b
}

// testVADConfig gives an unsmoothed detector: floor 100, speech 220, silence 120.
func testVADConfig(minSpeech, minSilence int) VADConfig {
	return VADConfig{
		Alpha:             0,
		CalibrationFrames: 4,
		MinNoiseFloor:     10,
		SpeechMultiplier:  2.2,
		SilenceMultiplier: 1.2,
		MinSpeechFrames:   minSpeech,
		MinSilenceFrames:  minSilence,
		EchoMultiplier:    3.5,
	}
}

func calibrated(t *testing.T, cfg VADConfig) *RMSVAD {
	t.Helper()
	v := NewRMSVAD(cfg)
	var events []VADEvent
	for i := 0; i < cfg.CalibrationFrames; i++ {
		events = append(events, v.Process(toneFrame(100)).Events...)
	}
	require.Len(t, events, 1)
	require.Equal(t, VADCalibrationComplete, events[0].Type)
	require.Equal(t, VADSilence, v.State())
	return v
}

func countEvents(r VADResult, typ VADEventType) int {
	n := 0
	for _, e := range r.Events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestVADCalibrationMean(t *testing.T) {
	cfg := testVADConfig(3, 3)
	v := NewRMSVAD(cfg)

	amps := []int16{50, 100, 150, 100}
	var last VADResult
	for i, a := range amps {
		last = v.Process(toneFrame(a))
		if i < len(amps)-1 {
			assert.Equal(t, VADCalibrating, last.State)
			assert.Empty(t, last.Events)
			assert.False(t, last.Speech)
		}
	}

	require.Len(t, last.Events, 1)
	ev := last.Events[0]
	assert.Equal(t, VADCalibrationComplete, ev.Type)
	assert.InDelta(t, 100.0, ev.NoiseFloor, 1e-9)
	assert.InDelta(t, 220.0, ev.SpeechThreshold, 1e-9)
	assert.InDelta(t, 120.0, ev.SilenceThreshold, 1e-9)
	assert.InDelta(t, ev.NoiseFloor*cfg.SpeechMultiplier, v.SpeechThreshold(), 1e-9)
	assert.Equal(t, VADSilence, v.State())
}

func TestVADCalibrationFloor(t *testing.T) {
	cfg := testVADConfig(3, 3)
	cfg.MinNoiseFloor = 200
	v := NewRMSVAD(cfg)
	for i := 0; i < cfg.CalibrationFrames; i++ {
		v.Process(toneFrame(0))
	}
	assert.Equal(t, 200.0, v.NoiseFloor())
	assert.InDelta(t, 440.0, v.SpeechThreshold(), 1e-9)
}

func TestVADSpeechStartAfterNFrames(t *testing.T) {
	for _, n := range []int{1, 2, 5, 15} {
		v := calibrated(t, testVADConfig(n, 10))
		for i := 0; i < n-1; i++ {
			r := v.Process(toneFrame(1000))
			require.Zero(t, countEvents(r, VADSpeechStart), "n=%d frame=%d", n, i)
			require.True(t, r.Speech)
		}
		r := v.Process(toneFrame(1000))
		assert.Equal(t, 1, countEvents(r, VADSpeechStart), "n=%d", n)
		assert.Equal(t, VADSpeaking, r.State)
	}
}

func TestVADSingleLowFrameAbortsDetection(t *testing.T) {
	v := calibrated(t, testVADConfig(3, 10))

	v.Process(toneFrame(1000))
	v.Process(toneFrame(1000))
	r := v.Process(toneFrame(100))
	assert.Empty(t, r.Events)

	v.Process(toneFrame(1000))
	r = v.Process(toneFrame(1000))
	assert.Empty(t, r.Events)
	r = v.Process(toneFrame(1000))
	assert.Equal(t, 1, countEvents(r, VADSpeechStart))
}

func TestVADSpeechStopAfterMFrames(t *testing.T) {
	for _, m := range []int{1, 3, 50} {
		v := calibrated(t, testVADConfig(1, m))
		r := v.Process(toneFrame(1000))
		require.Equal(t, 1, countEvents(r, VADSpeechStart))

		for i := 0; i < m-1; i++ {
			r = v.Process(toneFrame(50))
			require.Zero(t, countEvents(r, VADSpeechStop), "m=%d frame=%d", m, i)
		}
		r = v.Process(toneFrame(50))
		assert.Equal(t, 1, countEvents(r, VADSpeechStop), "m=%d", m)
		assert.Equal(t, VADSilence, r.State)
	}
}

func TestVADSpeechFrameResetsSilenceCounter(t *testing.T) {
	v := calibrated(t, testVADConfig(1, 3))
	v.Process(toneFrame(1000))

	v.Process(toneFrame(50))
	v.Process(toneFrame(50))
	r := v.Process(toneFrame(1000))
	assert.Empty(t, r.Events)

	v.Process(toneFrame(50))
	r = v.Process(toneFrame(50))
	assert.Empty(t, r.Events)
	r = v.Process(toneFrame(50))
	assert.Equal(t, 1, countEvents(r, VADSpeechStop))
}

func TestVADHysteresis(t *testing.T) {
	v := calibrated(t, testVADConfig(1, 2))
	v.Process(toneFrame(1000))

	// between the thresholds: neither speech nor silence
	for i := 0; i < 10; i++ {
		r := v.Process(toneFrame(180))
		assert.Empty(t, r.Events)
		assert.False(t, r.Speech)
	}
	assert.Equal(t, VADSpeaking, v.State())
}

func TestVADEchoMode(t *testing.T) {
	v := calibrated(t, testVADConfig(1, 2))

	v.SetEchoMode(true)
	assert.InDelta(t, 770.0, v.SpeechThreshold(), 1e-9)
	assert.InDelta(t, 420.0, v.SilenceThreshold(), 1e-9)

	r := v.Process(toneFrame(500))
	assert.False(t, r.Speech)
	assert.Empty(t, r.Events)

	v.SetEchoMode(false)
	assert.InDelta(t, 220.0, v.SpeechThreshold(), 1e-9)
	r = v.Process(toneFrame(500))
	assert.True(t, r.Speech)
	assert.Equal(t, 1, countEvents(r, VADSpeechStart))
}

func TestVADSmoothing(t *testing.T) {
	cfg := testVADConfig(1, 1)
	cfg.Alpha = 0.5
	v := NewRMSVAD(cfg)
	r := v.Process(toneFrame(100))
	assert.InDelta(t, 50.0, r.Smoothed, 1e-9)
	assert.InDelta(t, 100.0, r.Energy, 1e-9)
	r = v.Process(toneFrame(100))
	assert.InDelta(t, 75.0, r.Smoothed, 1e-9)
}

func TestVADMarkSpeakingAndReset(t *testing.T) {
	v := calibrated(t, testVADConfig(5, 2))
	v.MarkSpeaking()
	assert.True(t, v.IsSpeaking())

	v.Process(toneFrame(50))
	r := v.Process(toneFrame(50))
	assert.Equal(t, 1, countEvents(r, VADSpeechStop))

	v.MarkSpeaking()
	v.SetEchoMode(true)
	v.Reset()
	assert.Equal(t, VADSilence, v.State())
	assert.InDelta(t, 220.0, v.SpeechThreshold(), 1e-9)
}

func TestVADMarkSpeakingDuringCalibration(t *testing.T) {
	v := NewRMSVAD(testVADConfig(1, 1))
	v.MarkSpeaking()
	assert.Equal(t, VADCalibrating, v.State())
}

func TestVADClone(t *testing.T) {
	v := calibrated(t, testVADConfig(1, 1))
	c := v.Clone()
	assert.Equal(t, VADCalibrating, c.State())
	assert.Equal(t, "rms_vad", c.Name())
	assert.Equal(t, VADSilence, v.State())
}
