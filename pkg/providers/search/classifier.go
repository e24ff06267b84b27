// Package search decides when an utterance needs fresh external data and
// fetches it.
package search

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

var DefaultKeywords = []string{
	"weather", "today", "latest", "news", "price", "score",
	"who won", "current", "now", "population", "capital",
	"president", "temperature", "time", "date", "update",
}

// KeywordClassifier flags utterances containing any keyword. Single words
// match whole words only, so "now" does not match "know".
type KeywordClassifier struct {
	words   map[string]struct{}
	phrases []string
}

func NewKeywordClassifier(keywords ...string) *KeywordClassifier {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	k := &KeywordClassifier{words: make(map[string]struct{})}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		switch {
		case kw == "":
		case strings.ContainsRune(kw, ' '):
			k.phrases = append(k.phrases, kw)
		default:
			k.words[kw] = struct{}{}
		}
	}
	return k
}

func (k *KeywordClassifier) NeedsLookup(_ context.Context, text string) (bool, error) {
	lower := strings.ToLower(text)
	for _, p := range k.phrases {
		if strings.Contains(lower, p) {
			return true, nil
		}
	}
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	}) {
		if _, ok := k.words[w]; ok {
			return true, nil
		}
	}
	return false, nil
}

const classifierPrompt = "You are a classifier. Does this user query require real-time external data " +
	"(news, weather, sports, prices, 'who is', etc) that is not in your training data? Reply strictly 'true' or 'false'."

// LLMClassifier asks a language model for a strict true/false verdict.
// Anything other than "true" counts as false.
type LLMClassifier struct {
	llm orchestrator.LLMProvider
}

func NewLLMClassifier(llm orchestrator.LLMProvider) *LLMClassifier {
	return &LLMClassifier{llm: llm}
}

func (c *LLMClassifier) NeedsLookup(ctx context.Context, text string) (bool, error) {
	out, err := c.llm.Complete(ctx, []orchestrator.Message{
		{Role: orchestrator.RoleSystem, Content: classifierPrompt},
		{Role: orchestrator.RoleUser, Content: text},
	})
	if err != nil {
		return false, fmt.Errorf("intent classifier %s: %w", c.llm.Name(), err)
	}
	verdict := strings.Trim(strings.ToLower(strings.TrimSpace(out)), ".'\"")
	return verdict == "true", nil
}
