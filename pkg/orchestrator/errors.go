package orchestrator

import "errors"

var (
	// ErrEmptyTranscription is returned when recognition produced no text
	ErrEmptyTranscription = errors.New("transcription returned empty text")

	// ErrNoRecognizers is returned when a gateway is built without providers
	ErrNoRecognizers = errors.New("no recognition providers configured")

	// ErrRecognizersExhausted is reported when every provider in the fallback list failed
	ErrRecognizersExhausted = errors.New("all recognition providers failed")

	// ErrGatewayStopped is returned when audio is sent to a stopped gateway
	ErrGatewayStopped = errors.New("recognition gateway stopped")

	// ErrLLMFailed wraps generation failures
	ErrLLMFailed = errors.New("language model generation failed")

	// ErrTTSFailed wraps synthesis failures
	ErrTTSFailed = errors.New("text-to-speech synthesis failed")

	// ErrNilProvider is returned when a required provider is nil
	ErrNilProvider = errors.New("required provider is nil")

	// ErrStaleTurn marks work abandoned because its turn is no longer current
	ErrStaleTurn = errors.New("turn is no longer current")

	// ErrSessionClosed is returned when posting to a session that has stopped
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidFrame is returned for audio frames of the wrong size
	ErrInvalidFrame = errors.New("invalid audio frame")
)
