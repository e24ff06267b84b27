package orchestrator

import (
	"time"

	"github.com/lokutor-ai/turncore/pkg/audio"
)

// VADConfig tunes the energy detector. Energies are RMS values on the raw
// 16-bit sample scale.
type VADConfig struct {
	// Alpha weights the previous smoothed energy; 0 disables smoothing.
	Alpha float64
	// CalibrationFrames is the number of frames averaged into the noise floor.
	CalibrationFrames int
	// MinNoiseFloor keeps thresholds usable in digitally silent rooms.
	MinNoiseFloor     float64
	SpeechMultiplier  float64
	SilenceMultiplier float64
	// MinSpeechFrames consecutive loud frames open a speech segment.
	MinSpeechFrames int
	// MinSilenceFrames consecutive quiet frames (hangover) close it.
	MinSilenceFrames int
	// EchoMultiplier scales both thresholds while the agent is speaking.
	EchoMultiplier float64
}

func DefaultVADConfig() VADConfig {
	return VADConfig{
		Alpha:             0.3,
		CalibrationFrames: 75, // 1.5s
		MinNoiseFloor:     40,
		SpeechMultiplier:  2.2,
		SilenceMultiplier: 1.2,
		MinSpeechFrames:   15, // 300ms
		MinSilenceFrames:  50, // 1s hangover
		EchoMultiplier:    3.5,
	}
}

type Config struct {
	SampleRate         int
	FrameDuration      time.Duration
	MaxContextMessages int
	VoiceStyle         Voice
	Language           Language
	SystemPrompt       string

	VAD VADConfig

	// BargeInFrames is the sustained-speech count that interrupts the agent.
	BargeInFrames int
	// MicDeafWindow masks barge-in classification after the agent starts speaking.
	MicDeafWindow time.Duration
	// PreRollFrames sizes the backlog replayed into a new recognition stream.
	PreRollFrames int
	// PatienceInterval x PatienceAttempts bounds the wait for recognized text.
	PatienceInterval time.Duration
	PatienceAttempts int

	// MinUnitChars drops sentence units this short or shorter (stray punctuation).
	MinUnitChars           int
	StreamingTTS           bool
	MaxConcurrentSynthesis int

	LLMTimeout    time.Duration
	TTSTimeout    time.Duration
	IntentTimeout time.Duration
	LookupTimeout time.Duration

	// EchoSuppression enables correlation-based echo rejection for barge-in.
	EchoSuppression bool
}

func DefaultConfig() Config {
	return Config{
		SampleRate:             audio.SampleRate,
		FrameDuration:          audio.FrameDuration,
		MaxContextMessages:     20,
		VoiceStyle:             VoiceF1,
		Language:               LanguageEn,
		SystemPrompt:           "You are a helpful and concise voice assistant. Use short sentences suitable for speech.",
		VAD:                    DefaultVADConfig(),
		BargeInFrames:          24, // 480ms
		MicDeafWindow:          200 * time.Millisecond,
		PreRollFrames:          40, // 800ms
		PatienceInterval:       200 * time.Millisecond,
		PatienceAttempts:       10,
		MinUnitChars:           1,
		StreamingTTS:           false,
		MaxConcurrentSynthesis: 3,
		LLMTimeout:             60 * time.Second,
		TTSTimeout:             30 * time.Second,
		IntentTimeout:          1500 * time.Millisecond,
		LookupTimeout:          1500 * time.Millisecond,
		EchoSuppression:        false,
	}
}

// FrameBytes returns the byte length of one frame under this config.
func (c Config) FrameBytes() int {
	return audio.FrameSize(c.SampleRate, c.FrameDuration)
}
