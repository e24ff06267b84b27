package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
	"github.com/lokutor-ai/turncore/pkg/providers/llm"
	"github.com/lokutor-ai/turncore/pkg/providers/search"
	"github.com/lokutor-ai/turncore/pkg/providers/stt"
	"github.com/lokutor-ai/turncore/pkg/providers/tts"
	"github.com/lokutor-ai/turncore/pkg/store"
)

const classifierModel = "llama-3.1-8b-instant"

func missingKey(env, what string) error {
	return fmt.Errorf("config: %s must be set for %s", env, what)
}

// Providers builds the recognizer chain, generator, synthesizer and the
// optional lookup pair.
func (c Config) Providers(ctx context.Context) (orchestrator.Providers, error) {
	var p orchestrator.Providers
	rate := c.Orchestrator().SampleRate

	for _, name := range c.STT.Providers {
		f, err := c.recognizer(name, rate)
		if err != nil {
			return p, err
		}
		p.Recognizers = append(p.Recognizers, f)
	}

	gen, err := c.generator(ctx, c.LLM.Provider, c.LLM.Model)
	if err != nil {
		return p, err
	}
	p.LLM = gen

	if p.TTS, err = c.synthesizer(rate); err != nil {
		return p, err
	}

	if c.Search.Enabled && c.Keys.Tavily != "" {
		p.Lookup = search.NewTavily(c.Keys.Tavily)
		switch c.Search.Classifier {
		case "llm":
			classifier := p.LLM
			if c.Keys.Groq != "" {
				classifier = llm.NewGroqLLM(c.Keys.Groq, classifierModel)
			}
			p.Classifier = search.NewLLMClassifier(classifier)
		default:
			p.Classifier = search.NewKeywordClassifier(c.Search.Keywords...)
		}
	}
	return p, nil
}

func (c Config) recognizer(name string, rate int) (orchestrator.RecognizerFactory, error) {
	switch name {
	case "deepgram":
		if c.Keys.Deepgram == "" {
			return orchestrator.RecognizerFactory{}, missingKey("DEEPGRAM_API_KEY", "deepgram stt")
		}
		s := stt.NewDeepgramSTT(c.Keys.Deepgram)
		s.SetSampleRate(rate)
		return s.Factory(), nil
	case "assemblyai":
		if c.Keys.AssemblyAI == "" {
			return orchestrator.RecognizerFactory{}, missingKey("ASSEMBLYAI_API_KEY", "assemblyai stt")
		}
		s := stt.NewAssemblyAISTT(c.Keys.AssemblyAI)
		s.SetSampleRate(rate)
		return s.Factory(), nil
	case "groq":
		if c.Keys.Groq == "" {
			return orchestrator.RecognizerFactory{}, missingKey("GROQ_API_KEY", "groq stt")
		}
		s := stt.NewGroqSTT(c.Keys.Groq, c.STT.GroqModel)
		s.SetSampleRate(rate)
		return s.Factory(), nil
	case "openai":
		if c.Keys.OpenAI == "" {
			return orchestrator.RecognizerFactory{}, missingKey("OPENAI_API_KEY", "openai stt")
		}
		s := stt.NewOpenAISTT(c.Keys.OpenAI, c.STT.OpenAIModel)
		s.SetSampleRate(rate)
		return s.Factory(), nil
	}
	return orchestrator.RecognizerFactory{}, fmt.Errorf("config: unknown stt provider %q", name)
}

func (c Config) generator(ctx context.Context, name, model string) (orchestrator.LLMProvider, error) {
	switch name {
	case "groq":
		if c.Keys.Groq == "" {
			return nil, missingKey("GROQ_API_KEY", "groq llm")
		}
		return llm.NewGroqLLM(c.Keys.Groq, model), nil
	case "openai":
		if c.Keys.OpenAI == "" {
			return nil, missingKey("OPENAI_API_KEY", "openai llm")
		}
		return llm.NewOpenAILLM(c.Keys.OpenAI, model), nil
	case "anthropic":
		if c.Keys.Anthropic == "" {
			return nil, missingKey("ANTHROPIC_API_KEY", "anthropic llm")
		}
		return llm.NewAnthropicLLM(c.Keys.Anthropic, model), nil
	case "google":
		if c.Keys.Google == "" {
			return nil, missingKey("GOOGLE_API_KEY", "google llm")
		}
		return llm.NewGoogleLLM(ctx, c.Keys.Google, model)
	}
	return nil, fmt.Errorf("config: unknown llm provider %q", name)
}

func (c Config) synthesizer(rate int) (orchestrator.TTSProvider, error) {
	switch c.TTS.Provider {
	case "deepgram":
		if c.Keys.Deepgram == "" {
			return nil, missingKey("DEEPGRAM_API_KEY", "deepgram tts")
		}
		t := tts.NewDeepgramTTS(c.Keys.Deepgram)
		t.SetSampleRate(rate)
		return t, nil
	case "lokutor":
		if c.Keys.Lokutor == "" {
			return nil, missingKey("LOKUTOR_API_KEY", "lokutor tts")
		}
		return tts.NewLokutorTTS(c.Keys.Lokutor), nil
	}
	return nil, fmt.Errorf("config: unknown tts provider %q", c.TTS.Provider)
}

// Stores opens the configured snapshot stores. The returned close func
// releases whatever was opened; a nil Tiered means persistence is off.
func (c Config) Stores(logger orchestrator.Logger) (*store.Tiered, func() error, error) {
	tiered := &store.Tiered{}
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for _, fn := range closers {
			errs = append(errs, fn())
		}
		return errors.Join(errs...)
	}

	if c.Store.RedisURL != "" {
		r, err := store.NewRedis(c.Store.RedisURL, time.Duration(c.Store.TTL))
		if err != nil {
			return nil, closeAll, err
		}
		tiered.Hot = r
		closers = append(closers, r.Close)
	}
	if c.Store.ArchiveDir != "" {
		a, err := store.NewArchive(store.ArchiveOptions{Dir: c.Store.ArchiveDir, Logger: logger})
		if err != nil {
			_ = closeAll()
			return nil, func() error { return nil }, err
		}
		tiered.Archive = a
		closers = append(closers, a.Close)
	}
	if tiered.Hot == nil && tiered.Archive == nil {
		return nil, closeAll, nil
	}
	return tiered, closeAll, nil
}
