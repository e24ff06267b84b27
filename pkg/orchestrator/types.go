package orchestrator

import (
	"context"
	"iter"
	"time"
)

type Logger interface {
	Debug(msg string, args ...interface{})

	Info(msg string, args ...interface{})

	Warn(msg string, args ...interface{})

	Error(msg string, args ...interface{})
}

type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// STTProvider transcribes a complete utterance in one request. Batch
// providers are adapted to the streaming Recognizer contract by the stt
// package.
type STTProvider interface {
	Transcribe(ctx context.Context, audio []byte, lang Language) (string, error)
	Name() string
}

type RecognitionEventType string

const (
	RecognitionOpen       RecognitionEventType = "open"
	RecognitionClose      RecognitionEventType = "close"
	RecognitionTranscript RecognitionEventType = "transcript"
	RecognitionError      RecognitionEventType = "error"
)

type RecognitionEvent struct {
	Type    RecognitionEventType
	Text    string
	IsFinal bool
	Err     error
}

// Recognizer is one streaming speech-recognition connection.
//
// Open starts connecting and must return without waiting on the network;
// readiness is reported with a RecognitionOpen event and failures with a
// RecognitionError event. Feed must not block. emit may be called from any
// goroutine.
type Recognizer interface {
	Open(ctx context.Context, lang Language, emit func(RecognitionEvent)) error
	Feed(frame []byte) error
	Close() error
	Name() string
}

// Finalizer is implemented by recognizers that can be asked to flush a final
// transcript for the audio received so far.
type Finalizer interface {
	Finalize() error
}

// RecognizerFactory builds a fresh Recognizer for each recognition stream.
type RecognizerFactory struct {
	Name string
	New  func() Recognizer
}

type LLMProvider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	// Stream yields response text incrementally. The sequence is finite and
	// can be consumed once.
	Stream(ctx context.Context, messages []Message) iter.Seq2[string, error]
	Name() string
}

type TTSProvider interface {
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error
	Name() string
}

// IntentClassifier decides whether an utterance needs fresh external data.
type IntentClassifier interface {
	NeedsLookup(ctx context.Context, text string) (bool, error)
}

// LookupProvider answers a query from an external source (web search).
type LookupProvider interface {
	Lookup(ctx context.Context, query string) (string, error)
	Name() string
}

// State is the orchestrator state of a session.
type State string

const (
	StateIdle                  State = "IDLE"
	StateListening             State = "LISTENING"
	StateWaitingForRecognition State = "WAITING_FOR_RECOGNITION"
	StateThinking              State = "THINKING"
	StateSpeaking              State = "SPEAKING"
)

// SynthesisStatus reports whether agent audio is being produced.
type SynthesisStatus string

const (
	SynthesisIdle    SynthesisStatus = "idle"
	SynthesisPlaying SynthesisStatus = "playing"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// TranscriptEntry is an immutable record of one utterance in a session.
type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	TurnID    int64     `json:"turnId"`
	Timestamp time.Time `json:"timestamp"`
}

// SentenceUnit is a sanitized span of response text queued for synthesis.
// Seq orders playback within a turn.
type SentenceUnit struct {
	Seq  int    `json:"seq"`
	Text string `json:"text"`
}

type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)

type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)

// Collect drains a token stream into a single string.
func Collect(tokens iter.Seq2[string, error]) (string, error) {
	var out []byte
	for tok, err := range tokens {
		if err != nil {
			return string(out), err
		}
		out = append(out, tok...)
	}
	return string(out), nil
}
