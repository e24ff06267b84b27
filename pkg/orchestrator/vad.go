package orchestrator

import (
	"github.com/lokutor-ai/turncore/pkg/audio"
)

type VADState string

const (
	VADCalibrating VADState = "CALIBRATING"
	VADSilence     VADState = "SILENCE"
	VADSpeaking    VADState = "SPEAKING"
)

type VADEventType string

const (
	VADSpeechStart         VADEventType = "speech_start"
	VADSpeechStop          VADEventType = "speech_stop"
	VADCalibrationComplete VADEventType = "calibration_complete"
)

type VADEvent struct {
	Type             VADEventType
	NoiseFloor       float64
	SpeechThreshold  float64
	SilenceThreshold float64
}

// VADResult is the detector snapshot after one frame plus the edge events
// that frame produced.
type VADResult struct {
	State    VADState
	Energy   float64
	Smoothed float64
	// Speech is the per-frame classification against the active speech threshold.
	Speech bool
	Events []VADEvent
}

type VADProvider interface {
	Process(frame []byte) VADResult
	// SetEchoMode raises thresholds while the agent is speaking.
	SetEchoMode(on bool)
	// MarkSpeaking forces the SPEAKING state so the next hangover emits speech_stop.
	MarkSpeaking()
	State() VADState
	Reset()
	Clone() VADProvider
	Name() string
}

// RMSVAD is an energy detector with a one-shot noise-floor calibration,
// hysteresis between speech and silence thresholds, and consecutive-frame
// debouncing in both directions.
type RMSVAD struct {
	cfg   VADConfig
	state VADState

	smoothed float64
	lastRMS  float64

	noiseFloor       float64
	speechThreshold  float64
	silenceThreshold float64
	echoMode         bool

	calibration []float64
	speechCount  int
	silenceCount int
}

// NewRMSVAD creates a detector in the CALIBRATING state.
func NewRMSVAD(cfg VADConfig) *RMSVAD {
	if cfg.CalibrationFrames < 1 {
		cfg.CalibrationFrames = 1
	}
	if cfg.MinSpeechFrames < 1 {
		cfg.MinSpeechFrames = 1
	}
	if cfg.MinSilenceFrames < 1 {
		cfg.MinSilenceFrames = 1
	}
	if cfg.EchoMultiplier < 1 {
		cfg.EchoMultiplier = 1
	}
	return &RMSVAD{
		cfg:         cfg,
		state:       VADCalibrating,
		calibration: make([]float64, 0, cfg.CalibrationFrames),
	}
}

func (v *RMSVAD) Process(frame []byte) VADResult {
	energy := audio.RMS(frame)
	v.lastRMS = energy
	v.smoothed = v.cfg.Alpha*v.smoothed + (1-v.cfg.Alpha)*energy

	var events []VADEvent
	switch v.state {
	case VADCalibrating:
		if ev, done := v.calibrate(energy); done {
			events = append(events, ev)
		}
	case VADSilence:
		if v.smoothed > v.SpeechThreshold() {
			v.speechCount++
		} else {
			v.speechCount = 0
		}
		if v.speechCount >= v.cfg.MinSpeechFrames {
			v.state = VADSpeaking
			v.speechCount, v.silenceCount = 0, 0
			events = append(events, VADEvent{Type: VADSpeechStart})
		}
	case VADSpeaking:
		if v.smoothed < v.SilenceThreshold() {
			v.silenceCount++
		} else {
			v.silenceCount = 0
		}
		if v.silenceCount >= v.cfg.MinSilenceFrames {
			v.state = VADSilence
			v.speechCount, v.silenceCount = 0, 0
			events = append(events, VADEvent{Type: VADSpeechStop})
		}
	}

	return VADResult{
		State:    v.state,
		Energy:   energy,
		Smoothed: v.smoothed,
		Speech:   v.state != VADCalibrating && v.smoothed > v.SpeechThreshold(),
		Events:   events,
	}
}

func (v *RMSVAD) calibrate(energy float64) (VADEvent, bool) {
	v.calibration = append(v.calibration, energy)
	if len(v.calibration) < v.cfg.CalibrationFrames {
		return VADEvent{}, false
	}

	var sum float64
	for _, e := range v.calibration {
		sum += e
	}
	floor := sum / float64(len(v.calibration))
	if floor < v.cfg.MinNoiseFloor {
		floor = v.cfg.MinNoiseFloor
	}

	v.noiseFloor = floor
	v.speechThreshold = floor * v.cfg.SpeechMultiplier
	v.silenceThreshold = floor * v.cfg.SilenceMultiplier
	v.calibration = nil
	v.state = VADSilence
	v.speechCount, v.silenceCount = 0, 0

	return VADEvent{
		Type:             VADCalibrationComplete,
		NoiseFloor:       v.noiseFloor,
		SpeechThreshold:  v.speechThreshold,
		SilenceThreshold: v.silenceThreshold,
	}, true
}

func (v *RMSVAD) SetEchoMode(on bool) {
	v.echoMode = on
}

func (v *RMSVAD) EchoMode() bool {
	return v.echoMode
}

func (v *RMSVAD) MarkSpeaking() {
	if v.state == VADCalibrating {
		return
	}
	v.state = VADSpeaking
	v.speechCount, v.silenceCount = 0, 0
}

// SpeechThreshold returns the active speech threshold, scaled in echo mode.
func (v *RMSVAD) SpeechThreshold() float64 {
	if v.echoMode {
		return v.speechThreshold * v.cfg.EchoMultiplier
	}
	return v.speechThreshold
}

// SilenceThreshold returns the active silence threshold, scaled in echo mode.
func (v *RMSVAD) SilenceThreshold() float64 {
	if v.echoMode {
		return v.silenceThreshold * v.cfg.EchoMultiplier
	}
	return v.silenceThreshold
}

func (v *RMSVAD) NoiseFloor() float64 {
	return v.noiseFloor
}

// LastRMS returns the instantaneous energy of the last processed frame
func (v *RMSVAD) LastRMS() float64 {
	return v.lastRMS
}

func (v *RMSVAD) SmoothedEnergy() float64 {
	return v.smoothed
}

func (v *RMSVAD) IsSpeaking() bool {
	return v.state == VADSpeaking
}

func (v *RMSVAD) State() VADState {
	return v.state
}

func (v *RMSVAD) Name() string {
	return "rms_vad"
}

// Reset clears detection counters and leaves calibration intact.
func (v *RMSVAD) Reset() {
	if v.state != VADCalibrating {
		v.state = VADSilence
	}
	v.speechCount, v.silenceCount = 0, 0
	v.echoMode = false
}

// Clone returns an uncalibrated detector with the same configuration.
func (v *RMSVAD) Clone() VADProvider {
	return NewRMSVAD(v.cfg)
}
