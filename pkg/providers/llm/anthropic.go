package llm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

const anthropicVersion = "2023-06-01"

type AnthropicLLM struct {
	apiKey    string
	url       string
	model     string
	maxTokens int
	client    *http.Client
}

func NewAnthropicLLM(apiKey string, model string) *AnthropicLLM {
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}
	return &AnthropicLLM{
		apiKey:    apiKey,
		url:       "https://api.anthropic.com/v1/messages",
		model:     model,
		maxTokens: 1024,
		client:    http.DefaultClient,
	}
}

func (l *AnthropicLLM) Name() string {
	return "anthropic-llm"
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
}

// anthropicEvent covers the stream events this client consumes.
type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (l *AnthropicLLM) Complete(ctx context.Context, messages []orchestrator.Message) (string, error) {
	return orchestrator.Collect(l.Stream(ctx, messages))
}

func (l *AnthropicLLM) Stream(ctx context.Context, messages []orchestrator.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := l.open(ctx, messages)
		if err != nil {
			yield("", err)
			return
		}
		defer body.Close()

		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if errors.Is(err, io.EOF) {
					yield("", fmt.Errorf("anthropic llm: stream ended without message_stop"))
				} else {
					yield("", fmt.Errorf("anthropic llm: %w", err))
				}
				return
			}
			line = strings.TrimSpace(line)
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}

			var ev anthropicEvent
			if err := sonic.UnmarshalString(strings.TrimSpace(data), &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "content_block_delta":
				if ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
					continue
				}
				if !yield(ev.Delta.Text, nil) {
					return
				}
			case "message_stop":
				return
			case "error":
				yield("", fmt.Errorf("anthropic llm: %s: %s", ev.Error.Type, ev.Error.Message))
				return
			}
		}
	}
}

func (l *AnthropicLLM) open(ctx context.Context, messages []orchestrator.Message) (io.ReadCloser, error) {
	req := anthropicRequest{Model: l.model, MaxTokens: l.maxTokens, Stream: true}
	var system []string
	for _, m := range messages {
		if m.Role == orchestrator.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	req.System = strings.Join(system, "\n\n")

	payload, err := sonic.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", l.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic llm: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("anthropic llm error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}
