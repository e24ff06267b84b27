package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// OpenAILLM streams chat completions from OpenAI or any endpoint speaking
// the same protocol (Groq).
type OpenAILLM struct {
	client *openai.Client
	name   string
	model  string
}

func NewOpenAILLM(apiKey string, model string) *OpenAILLM {
	if model == "" {
		model = openai.GPT4o
	}
	return newChatLLM("openai-llm", openai.DefaultConfig(apiKey), model)
}

func NewGroqLLM(apiKey string, model string) *OpenAILLM {
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = groqBaseURL
	return newChatLLM("groq-llm", cfg, model)
}

func newChatLLM(name string, cfg openai.ClientConfig, model string) *OpenAILLM {
	return &OpenAILLM{client: openai.NewClientWithConfig(cfg), name: name, model: model}
}

func (l *OpenAILLM) Name() string {
	return l.name
}

func (l *OpenAILLM) request(messages []orchestrator.Message, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{Model: l.model, Stream: stream}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return req
}

func (l *OpenAILLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	resp, err := l.client.CreateChatCompletion(ctx, l.request(messages, false))
	if err != nil {
		return "", fmt.Errorf("%s: %w", l.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices returned", l.name)
	}
	return resp.Choices[0].Message.Content, nil
}

func (l *OpenAILLM) Stream(ctx context.Context, messages []orchestrator.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream, err := l.client.CreateChatCompletionStream(ctx, l.request(messages, true))
		if err != nil {
			yield("", fmt.Errorf("%s: %w", l.name, err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("%s: %w", l.name, err))
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(resp.Choices[0].Delta.Content, nil) {
				return
			}
		}
	}
}
