package stt

import (
	"bytes"
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lokutor-ai/turncore/pkg/audio"
	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// WhisperSTT transcribes complete utterances through an OpenAI-compatible
// transcription endpoint.
type WhisperSTT struct {
	client     *openai.Client
	name       string
	model      string
	sampleRate int
}

func NewOpenAISTT(apiKey string, model string) *WhisperSTT {
	if model == "" {
		model = openai.Whisper1
	}
	return newWhisper("openai_stt", openai.DefaultConfig(apiKey), model)
}

func NewGroqSTT(apiKey string, model string) *WhisperSTT {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = groqBaseURL
	return newWhisper("groq-stt", cfg, model)
}

func newWhisper(name string, cfg openai.ClientConfig, model string) *WhisperSTT {
	return &WhisperSTT{
		client:     openai.NewClientWithConfig(cfg),
		name:       name,
		model:      model,
		sampleRate: 16000,
	}
}

func (s *WhisperSTT) SetSampleRate(rate int) {
	s.sampleRate = rate
}

func (s *WhisperSTT) Name() string {
	return s.name
}

func (s *WhisperSTT) Transcribe(ctx context.Context, audioPCM []byte, lang orchestrator.Language) (string, error) {
	wavData := audio.NewWavBuffer(audioPCM, s.sampleRate)

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wavData),
		Language: string(lang),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", s.name, err)
	}
	return resp.Text, nil
}

// Factory adapts the batch endpoint to the streaming gateway.
func (s *WhisperSTT) Factory() orchestrator.RecognizerFactory {
	return orchestrator.RecognizerFactory{
		Name: s.name,
		New:  func() orchestrator.Recognizer { return NewBatchRecognizer(s) },
	}
}
