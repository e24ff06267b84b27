package orchestrator

import (
	"fmt"
	"sync"
)

// Conversation is the ordered role/content history of one session together
// with the speaking voice and language used for its responses.
//
// The system prompt and any client-supplied context are kept outside the
// rolling window so trimming never drops them.
type Conversation struct {
	mu            sync.RWMutex
	ID            string
	Context       []Message
	LastUser      string
	LastAssistant string
	MaxMessages   int
	SystemPrompt  string
	// Extra is client-provided background context (context_update).
	Extra           string
	CurrentVoice    Voice
	CurrentLanguage Language
}

func NewConversation(id string) *Conversation {
	return &Conversation{
		ID:              id,
		Context:         []Message{},
		MaxMessages:     20,
		CurrentVoice:    VoiceF1,
		CurrentLanguage: LanguageEn,
	}
}

func (c *Conversation) AddMessage(role Role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Context = append(c.Context, Message{Role: role, Content: content})
	if c.MaxMessages > 0 && len(c.Context) > c.MaxMessages {
		c.Context = c.Context[len(c.Context)-c.MaxMessages:]
	}
	switch role {
	case RoleUser:
		c.LastUser = content
	case RoleAssistant:
		c.LastAssistant = content
	}
}

// Restore replaces the rolling history, e.g. when a session is resumed.
func (c *Conversation) Restore(messages []Message, extra string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Context = append([]Message(nil), messages...)
	if c.MaxMessages > 0 && len(c.Context) > c.MaxMessages {
		c.Context = c.Context[len(c.Context)-c.MaxMessages:]
	}
	c.Extra = extra
	c.LastUser, c.LastAssistant = "", ""
	for _, m := range c.Context {
		switch m.Role {
		case RoleUser:
			c.LastUser = m.Content
		case RoleAssistant:
			c.LastAssistant = m.Content
		}
	}
}

func (c *Conversation) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SystemPrompt = prompt
}

func (c *Conversation) SetExtraContext(extra string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Extra = extra
}

func (c *Conversation) GetExtraContext() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Extra
}

func (c *Conversation) ClearContext() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Context = []Message{}
	c.LastUser = ""
	c.LastAssistant = ""
}

// GetContextCopy returns the rolling history without system messages.
func (c *Conversation) GetContextCopy() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	contextCopy := make([]Message, len(c.Context))
	copy(contextCopy, c.Context)
	return contextCopy
}

// Prompt returns the message list sent to the language model: system
// prompt, client context, then the rolling history.
func (c *Conversation) Prompt() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, 0, len(c.Context)+2)
	if c.SystemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: c.SystemPrompt})
	}
	if c.Extra != "" {
		out = append(out, Message{Role: RoleSystem, Content: "Context: " + c.Extra})
	}
	return append(out, c.Context...)
}

func (c *Conversation) GetCurrentVoice() Voice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.CurrentVoice
}

func (c *Conversation) SetVoice(v Voice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CurrentVoice = v
}

func (c *Conversation) GetCurrentLanguage() Language {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.CurrentLanguage
}

func (c *Conversation) SetLanguage(l Language) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CurrentLanguage = l
}

// ParseVoice validates a voice name (F1-F5, M1-M5).
func ParseVoice(s string) (Voice, error) {
	v := Voice(s)
	switch v {
	case VoiceF1, VoiceF2, VoiceF3, VoiceF4, VoiceF5,
		VoiceM1, VoiceM2, VoiceM3, VoiceM4, VoiceM5:
		return v, nil
	}
	return "", fmt.Errorf("invalid voice: %s (must be F1-F5 or M1-M5)", s)
}

// ParseLanguage validates a language code.
func ParseLanguage(s string) (Language, error) {
	l := Language(s)
	switch l {
	case LanguageEn, LanguageEs, LanguageFr, LanguageDe,
		LanguageIt, LanguagePt, LanguageJa, LanguageZh:
		return l, nil
	}
	return "", fmt.Errorf("invalid language: %s", s)
}
