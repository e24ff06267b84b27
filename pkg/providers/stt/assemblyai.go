package stt

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

// AssemblyAISTT opens AssemblyAI universal-streaming sessions.
type AssemblyAISTT struct {
	apiKey     string
	url        string
	sampleRate int
}

func NewAssemblyAISTT(apiKey string) *AssemblyAISTT {
	return &AssemblyAISTT{
		apiKey:     apiKey,
		url:        "wss://streaming.assemblyai.com/v3/ws",
		sampleRate: 16000,
	}
}

func (s *AssemblyAISTT) Name() string {
	return "assemblyai"
}

func (s *AssemblyAISTT) SetSampleRate(rate int) {
	s.sampleRate = rate
}

func (s *AssemblyAISTT) Factory() orchestrator.RecognizerFactory {
	return orchestrator.RecognizerFactory{Name: s.Name(), New: s.NewRecognizer}
}

func (s *AssemblyAISTT) NewRecognizer() orchestrator.Recognizer {
	header := http.Header{}
	header.Set("Authorization", s.apiKey)

	return newStreamRecognizer(dialect{
		name:        s.Name(),
		url:         s.streamURL,
		header:      header,
		parse:       parseAssemblyAI,
		finalizeMsg: []byte(`{"type":"ForceEndpoint"}`),
		closeMsg:    []byte(`{"type":"Terminate"}`),
	})
}

// streamURL ignores lang; the universal model detects English only.
func (s *AssemblyAISTT) streamURL(orchestrator.Language) string {
	u, err := url.Parse(s.url)
	if err != nil {
		return s.url
	}
	params := u.Query()
	params.Set("sample_rate", strconv.Itoa(s.sampleRate))
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "true")
	u.RawQuery = params.Encode()
	return u.String()
}

type assemblyAIMessage struct {
	Type            string `json:"type"`
	Transcript      string `json:"transcript"`
	EndOfTurn       bool   `json:"end_of_turn"`
	TurnIsFormatted bool   `json:"turn_is_formatted"`
	Error           string `json:"error"`
}

func parseAssemblyAI(payload []byte) (orchestrator.RecognitionEvent, bool, error) {
	var msg assemblyAIMessage
	if err := sonic.Unmarshal(payload, &msg); err != nil {
		return orchestrator.RecognitionEvent{}, false, err
	}
	if msg.Error != "" {
		return orchestrator.RecognitionEvent{}, false, errors.New(msg.Error)
	}

	switch msg.Type {
	case "Begin":
		return orchestrator.RecognitionEvent{Type: orchestrator.RecognitionOpen}, true, nil
	case "Termination":
		return orchestrator.RecognitionEvent{Type: orchestrator.RecognitionClose}, true, nil
	case "Turn":
		if msg.Transcript == "" {
			return orchestrator.RecognitionEvent{}, false, nil
		}
		// an unformatted end-of-turn is followed by its formatted final
		if msg.EndOfTurn && !msg.TurnIsFormatted {
			return orchestrator.RecognitionEvent{}, false, nil
		}
		return orchestrator.RecognitionEvent{
			Type:    orchestrator.RecognitionTranscript,
			Text:    msg.Transcript,
			IsFinal: msg.EndOfTurn,
		}, true, nil
	}
	return orchestrator.RecognitionEvent{}, false, nil
}
