package stt

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

// DeepgramSTT opens Deepgram live-transcription streams.
type DeepgramSTT struct {
	apiKey     string
	url        string
	model      string
	sampleRate int
}

func NewDeepgramSTT(apiKey string) *DeepgramSTT {
	return &DeepgramSTT{
		apiKey:     apiKey,
		url:        "wss://api.deepgram.com/v1/listen",
		model:      "nova-2",
		sampleRate: 16000,
	}
}

func (s *DeepgramSTT) Name() string {
	return "deepgram"
}

func (s *DeepgramSTT) SetSampleRate(rate int) {
	s.sampleRate = rate
}

// Factory returns a gateway factory producing a fresh stream per turn.
func (s *DeepgramSTT) Factory() orchestrator.RecognizerFactory {
	return orchestrator.RecognizerFactory{Name: s.Name(), New: s.NewRecognizer}
}

func (s *DeepgramSTT) NewRecognizer() orchestrator.Recognizer {
	header := http.Header{}
	header.Set("Authorization", "Token "+s.apiKey)

	return newStreamRecognizer(dialect{
		name:          s.Name(),
		url:           s.streamURL,
		header:        header,
		openOnConnect: true,
		parse:         parseDeepgram,
		finalizeMsg:   []byte(`{"type":"Finalize"}`),
		closeMsg:      []byte(`{"type":"CloseStream"}`),
	})
}

func (s *DeepgramSTT) streamURL(lang orchestrator.Language) string {
	u, err := url.Parse(s.url)
	if err != nil {
		return s.url
	}
	params := u.Query()
	params.Set("model", s.model)
	params.Set("encoding", "linear16")
	params.Set("sample_rate", strconv.Itoa(s.sampleRate))
	params.Set("channels", "1")
	params.Set("interim_results", "true")
	params.Set("punctuate", "true")
	params.Set("smart_format", "true")
	if lang != "" {
		params.Set("language", string(lang))
	}
	u.RawQuery = params.Encode()
	return u.String()
}

type deepgramMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func parseDeepgram(payload []byte) (orchestrator.RecognitionEvent, bool, error) {
	var msg deepgramMessage
	if err := sonic.Unmarshal(payload, &msg); err != nil {
		return orchestrator.RecognitionEvent{}, false, err
	}
	if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
		return orchestrator.RecognitionEvent{}, false, nil
	}
	text := msg.Channel.Alternatives[0].Transcript
	if text == "" {
		return orchestrator.RecognitionEvent{}, false, nil
	}
	return orchestrator.RecognitionEvent{
		Type:    orchestrator.RecognitionTranscript,
		Text:    text,
		IsFinal: msg.IsFinal,
	}, true, nil
}
