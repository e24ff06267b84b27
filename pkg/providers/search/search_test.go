package search

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

func TestKeywordClassifier(t *testing.T) {
	k := NewKeywordClassifier()
	cases := []struct {
		text string
		want bool
	}{
		{"What's the weather like?", true},
		{"Who won the game last night", true},
		{"Tell me the latest news.", true},
		{"I know what you mean", false},
		{"Tell me a joke", false},
		{"", false},
	}
	for _, tc := range cases {
		got, err := k.NeedsLookup(t.Context(), tc.text)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.text)
	}
}

func TestKeywordClassifierCustomKeywords(t *testing.T) {
	k := NewKeywordClassifier("Stock Market", "btc", " ")
	got, _ := k.NeedsLookup(t.Context(), "how is the stock market doing")
	assert.True(t, got)
	got, _ = k.NeedsLookup(t.Context(), "BTC?")
	assert.True(t, got)
	got, _ = k.NeedsLookup(t.Context(), "what's the weather")
	assert.False(t, got)
}

type fixedLLM struct {
	reply string
	err   error
	seen  []orchestrator.Message
}

func (f *fixedLLM) Complete(_ context.Context, messages []orchestrator.Message) (string, error) {
	f.seen = messages
	return f.reply, f.err
}

func (f *fixedLLM) Stream(context.Context, []orchestrator.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) { yield(f.reply, f.err) }
}

func (f *fixedLLM) Name() string { return "fixed" }

func TestLLMClassifier(t *testing.T) {
	for reply, want := range map[string]bool{
		"true":        true,
		" True.\n":    true,
		"false":       false,
		"maybe, true": false,
	} {
		llm := &fixedLLM{reply: reply}
		got, err := NewLLMClassifier(llm).NeedsLookup(t.Context(), "who won?")
		require.NoError(t, err)
		assert.Equal(t, want, got, reply)
		require.Len(t, llm.seen, 2)
		assert.Equal(t, orchestrator.RoleSystem, llm.seen[0].Role)
		assert.Equal(t, "who won?", llm.seen[1].Content)
	}

	got, err := NewLLMClassifier(&fixedLLM{err: errors.New("down")}).NeedsLookup(t.Context(), "x")
	assert.False(t, got)
	assert.ErrorContains(t, err, "fixed")
}

func tavilyServer(t *testing.T, response string, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer tv-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		var req tavilyRequest
		assert.NoError(t, sonic.Unmarshal(body, &req))
		assert.Equal(t, "weather in paris", req.Query)
		assert.True(t, req.IncludeAnswer)

		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTavilyAnswer(t *testing.T) {
	tv := NewTavily("tv-key")
	tv.baseURL = tavilyServer(t, `{"answer":"Sunny, 21C.","results":[{"content":"ignored"}]}`, http.StatusOK).URL

	out, err := tv.Lookup(t.Context(), "weather in paris")
	require.NoError(t, err)
	assert.Equal(t, "Sunny, 21C.", out)
	assert.Equal(t, "tavily", tv.Name())
}

func TestTavilySnippetFallback(t *testing.T) {
	tv := NewTavily("tv-key")
	tv.baseURL = tavilyServer(t, `{"results":[{"content":"a"},{"content":""},{"content":"b"}]}`, http.StatusOK).URL

	out, err := tv.Lookup(t.Context(), "weather in paris")
	require.NoError(t, err)
	assert.Equal(t, "a\nb", out)
}

func TestTavilyError(t *testing.T) {
	tv := NewTavily("tv-key")
	tv.baseURL = tavilyServer(t, `{"detail":"quota"}`, http.StatusTooManyRequests).URL

	_, err := tv.Lookup(t.Context(), "weather in paris")
	assert.ErrorContains(t, err, "status 429")
}
