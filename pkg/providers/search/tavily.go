package search

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

const tavilyBaseURL = "https://api.tavily.com"

// Tavily answers queries with the Tavily search API's generated answer,
// falling back to the top result snippets.
type Tavily struct {
	apiKey     string
	baseURL    string
	maxResults int
	client     *http.Client
}

func NewTavily(apiKey string) *Tavily {
	return &Tavily{
		apiKey:     apiKey,
		baseURL:    tavilyBaseURL,
		maxResults: 3,
		client:     http.DefaultClient,
	}
}

func (t *Tavily) Name() string {
	return "tavily"
}

type tavilyRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results,omitempty"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

func (t *Tavily) Lookup(ctx context.Context, query string) (string, error) {
	body, err := sonic.Marshal(tavilyRequest{
		Query:         query,
		SearchDepth:   "basic",
		IncludeAnswer: true,
		MaxResults:    t.maxResults,
	})
	if err != nil {
		return "", fmt.Errorf("tavily: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tavily: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tavily: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("tavily: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tavily: API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out tavilyResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("tavily: decode response: %w", err)
	}
	if out.Answer != "" {
		return out.Answer, nil
	}
	var snippets []string
	for _, r := range out.Results {
		if r.Content != "" {
			snippets = append(snippets, r.Content)
		}
	}
	return strings.Join(snippets, "\n"), nil
}
