package orchestrator

// MessageType discriminates control messages exchanged with the client.
type MessageType string

const (
	MsgTurnReset        MessageType = "turn_reset"
	MsgSpeechStop       MessageType = "speech_stop"
	MsgStateListening   MessageType = "state_listening"
	MsgStateThinking    MessageType = "state_thinking"
	MsgStateSearching   MessageType = "state_searching"
	MsgTTSStart         MessageType = "tts_start"
	MsgTTSAudioFull     MessageType = "tts_audio_full"
	MsgTTSAudio         MessageType = "tts_audio"
	MsgTTSEnd           MessageType = "tts_end"
	MsgTTSKill          MessageType = "tts_kill"
	MsgTranscriptUpdate MessageType = "transcript_update"
	MsgMetricsUpdate    MessageType = "metrics_update"
	MsgFallbackTrigger  MessageType = "fallback_trigger"
	MsgCalibration      MessageType = "calibration_complete"
	MsgError            MessageType = "error"
	MsgSession          MessageType = "session"

	// inbound
	MsgUserStop      MessageType = "user_stop"
	MsgContextUpdate MessageType = "context_update"
)

// ClientMessage is one JSON control message sent to the client.
type ClientMessage struct {
	Type    MessageType `json:"type"`
	TurnID  int64       `json:"turnId,omitempty"`
	TTSID   int64       `json:"ttsId,omitempty"`
	Audio   []byte      `json:"audio,omitempty"`
	Payload any         `json:"payload,omitempty"`
	Message string      `json:"message,omitempty"`
	*TurnMetrics
}

// ControlMessage is an inbound client control message.
type ControlMessage struct {
	Type    MessageType `json:"type"`
	Context string      `json:"context,omitempty"`
}

// TurnMetrics are per-turn latencies in milliseconds. Stages that did not
// happen are reported as zero.
type TurnMetrics struct {
	STT  int64 `json:"stt"`
	LLM  int64 `json:"llm"`
	TTFT int64 `json:"ttft"`
	E2E  int64 `json:"e2e"`
}

// SessionPayload opens every connection. Resumed sessions carry their
// stored transcript.
type SessionPayload struct {
	ID         string            `json:"id"`
	Resumed    bool              `json:"resumed"`
	Transcript []TranscriptEntry `json:"transcript,omitempty"`
}

type AudioPayload struct {
	Audio []byte `json:"audio"`
}

type FallbackPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type CalibrationPayload struct {
	NoiseFloor       float64 `json:"noiseFloor"`
	SpeechThreshold  float64 `json:"speechThreshold"`
	SilenceThreshold float64 `json:"silenceThreshold"`
}

// Transport delivers control messages to the client. Send must not block
// on network I/O for long; implementations typically queue.
type Transport interface {
	Send(msg ClientMessage) error
}
