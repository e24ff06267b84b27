package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Providers are the external collaborators shared by every session.
// Classifier and Lookup are optional; without them no lookup is made.
type Providers struct {
	Recognizers []RecognizerFactory
	LLM         LLMProvider
	TTS         TTSProvider
	Classifier  IntentClassifier
	Lookup      LookupProvider
}

// Orchestrator creates sessions that share providers and configuration.
type Orchestrator struct {
	providers Providers
	config    Config
	logger    Logger
	store     SessionStore
	mu        sync.RWMutex
}

// New creates a new orchestrator. If logger is nil, a no-op logger is used.
func New(providers Providers, config Config, logger Logger) (*Orchestrator, error) {
	if len(providers.Recognizers) == 0 {
		return nil, ErrNoRecognizers
	}
	if providers.LLM == nil {
		return nil, fmt.Errorf("llm: %w", ErrNilProvider)
	}
	if providers.TTS == nil {
		return nil, fmt.Errorf("tts: %w", ErrNilProvider)
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Orchestrator{
		providers: providers,
		config:    config,
		logger:    logger,
	}, nil
}

// SetStore enables snapshot persistence for sessions created afterwards.
func (o *Orchestrator) SetStore(store SessionStore) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.store = store
}

// NewSession creates a session bound to transport. An empty id is replaced
// with a random one.
func (o *Orchestrator) NewSession(id string, transport Transport) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	o.mu.RLock()
	cfg, store := o.config, o.store
	o.mu.RUnlock()
	return newSession(id, cfg, o.providers, transport, store, o.logger)
}

// GenerateResponse runs a one-shot, non-streaming completion over a
// conversation's prompt.
func (o *Orchestrator) GenerateResponse(ctx context.Context, conv *Conversation) (string, error) {
	resp, err := o.providers.LLM.Complete(ctx, conv.Prompt())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrLLMFailed, err)
	}
	return resp, nil
}

// UpdateConfig updates the configuration used by new sessions
func (o *Orchestrator) UpdateConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config = cfg
}

// GetConfig returns the current configuration
func (o *Orchestrator) GetConfig() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.config
}

// GetProviders returns information about the current providers
func (o *Orchestrator) GetProviders() map[string]string {
	out := map[string]string{
		"llm": o.providers.LLM.Name(),
		"tts": o.providers.TTS.Name(),
	}
	names := make([]string, 0, len(o.providers.Recognizers))
	for _, r := range o.providers.Recognizers {
		names = append(names, r.Name)
	}
	out["stt"] = strings.Join(names, ",")
	if o.providers.Lookup != nil {
		out["lookup"] = o.providers.Lookup.Name()
	}
	return out
}
