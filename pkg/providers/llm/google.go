package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

type GoogleLLM struct {
	client *genai.Client
	model  string
}

func NewGoogleLLM(ctx context.Context, apiKey string, model string) (*GoogleLLM, error) {
	return newGoogleLLM(ctx, apiKey, model, "")
}

func newGoogleLLM(ctx context.Context, apiKey, model, baseURL string) (*GoogleLLM, error) {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("google llm: %w", err)
	}
	return &GoogleLLM{client: client, model: model}, nil
}

func (l *GoogleLLM) Name() string {
	return "google-llm"
}

// convert moves system messages into the system instruction; Gemini only
// accepts user and model turns in contents.
func (l *GoogleLLM) convert(messages []orchestrator.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	var (
		contents []*genai.Content
		system   []*genai.Part
	)
	for _, m := range messages {
		switch m.Role {
		case orchestrator.RoleSystem:
			system = append(system, genai.NewPartFromText(m.Content))
		case orchestrator.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	cfg := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}
	return contents, cfg
}

func (l *GoogleLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	return orchestrator.Collect(l.Stream(ctx, messages))
}

func (l *GoogleLLM) Stream(ctx context.Context, messages []orchestrator.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		contents, cfg := l.convert(messages)
		if len(contents) == 0 {
			yield("", fmt.Errorf("google llm: no contents"))
			return
		}
		for chunk, err := range l.client.Models.GenerateContentStream(ctx, l.model, contents, cfg) {
			if err != nil {
				yield("", fmt.Errorf("google llm: %w", err))
				return
			}
			if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
				continue
			}
			var sb strings.Builder
			for _, p := range chunk.Candidates[0].Content.Parts {
				sb.WriteString(p.Text)
			}
			if sb.Len() == 0 {
				continue
			}
			if !yield(sb.String(), nil) {
				return
			}
		}
	}
}
