package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

const sampleYAML = `
server:
  addr: ":9090"
stt:
  providers: [assemblyai, groq]
llm:
  provider: anthropic
  model: claude-test
session:
  language: es
  voice: m2
  barge_in_frames: 30
  mic_deaf_window: 350ms
  patience_interval: "250ms"
  vad:
    speech_multiplier: 3
store:
  ttl: 2h
`

func env(values map[string]string) func(string) string {
	return func(k string) string { return values[k] }
}

func TestDefaultMatchesOrchestrator(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, orchestrator.DefaultConfig(), cfg.Orchestrator())
	assert.Equal(t, []string{"deepgram", "assemblyai"}, cfg.STT.Providers)
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, Parse([]byte(sampleYAML), &cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/ws", cfg.Server.Path)
	assert.Equal(t, []string{"assemblyai", "groq"}, cfg.STT.Providers)
	assert.Equal(t, "claude-test", cfg.LLM.Model)
	assert.Equal(t, Duration(2*time.Hour), cfg.Store.TTL)

	oc := cfg.Orchestrator()
	assert.Equal(t, orchestrator.LanguageEs, oc.Language)
	assert.Equal(t, orchestrator.VoiceM2, oc.VoiceStyle)
	assert.Equal(t, 30, oc.BargeInFrames)
	assert.Equal(t, 350*time.Millisecond, oc.MicDeafWindow)
	assert.Equal(t, 250*time.Millisecond, oc.PatienceInterval)
	assert.Equal(t, 3.0, oc.VAD.SpeechMultiplier)
	assert.Equal(t, 1.2, oc.VAD.SilenceMultiplier)
}

func TestParseRejectsBadDuration(t *testing.T) {
	cfg := Default()
	assert.Error(t, Parse([]byte("session:\n  mic_deaf_window: soon\n"), &cfg))
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	cfg.applyEnv(env(map[string]string{
		"DEEPGRAM_API_KEY": "dg",
		"TAVILY_API_KEY":   "tv",
		"STT_PROVIDERS":    " Groq, openai ,",
		"LLM_PROVIDER":     "google",
		"AGENT_LANGUAGE":   "fr",
		"REDIS_URL":        "redis://cache:6379/1",
		"STREAMING_TTS":    "true",
	}))
	assert.Equal(t, "dg", cfg.Keys.Deepgram)
	assert.Equal(t, "tv", cfg.Keys.Tavily)
	assert.Equal(t, []string{"groq", "openai"}, cfg.STT.Providers)
	assert.Equal(t, "google", cfg.LLM.Provider)
	assert.Equal(t, "fr", cfg.Session.Language)
	assert.Equal(t, "redis://cache:6379/1", cfg.Store.RedisURL)
	assert.True(t, cfg.Session.StreamingTTS)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"no recognizers": func(c *Config) { c.STT.Providers = nil },
		"bad language":   func(c *Config) { c.Session.Language = "xx" },
		"bad voice":      func(c *Config) { c.Session.Voice = "Z1" },
		"bad classifier": func(c *Config) { c.Search.Classifier = "dice" },
		"zero barge-in":  func(c *Config) { c.Session.BargeInFrames = 0 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turncore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	t.Setenv("TURNCORE_ADDR", ":7000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestProvidersFailoverOrder(t *testing.T) {
	cfg := Default()
	cfg.STT.Providers = []string{"assemblyai", "deepgram", "groq"}
	cfg.LLM.Provider = "openai"
	cfg.Keys = Keys{AssemblyAI: "a", Deepgram: "d", Groq: "g", OpenAI: "o", Tavily: "t"}

	p, err := cfg.Providers(t.Context())
	require.NoError(t, err)
	var names []string
	for _, f := range p.Recognizers {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"assemblyai", "deepgram", "groq-stt"}, names)
	assert.Equal(t, "openai-llm", p.LLM.Name())
	assert.Equal(t, "deepgram-tts", p.TTS.Name())
	assert.NotNil(t, p.Classifier)
	require.NotNil(t, p.Lookup)
	assert.Equal(t, "tavily", p.Lookup.Name())
}

func TestProvidersMissingKeys(t *testing.T) {
	cfg := Default()
	_, err := cfg.Providers(t.Context())
	assert.ErrorContains(t, err, "DEEPGRAM_API_KEY")

	cfg.Keys = Keys{Deepgram: "d", AssemblyAI: "a"}
	_, err = cfg.Providers(t.Context())
	assert.ErrorContains(t, err, "GROQ_API_KEY")

	cfg.Keys.Groq = "g"
	cfg.TTS.Provider = "lokutor"
	_, err = cfg.Providers(t.Context())
	assert.ErrorContains(t, err, "LOKUTOR_API_KEY")

	cfg.STT.Providers = []string{"whisperx"}
	_, err = cfg.Providers(t.Context())
	assert.ErrorContains(t, err, "unknown stt provider")
}

func TestProvidersWithoutTavilySkipsLookup(t *testing.T) {
	cfg := Default()
	cfg.Keys = Keys{Deepgram: "d", AssemblyAI: "a", Groq: "g"}
	p, err := cfg.Providers(t.Context())
	require.NoError(t, err)
	assert.Nil(t, p.Lookup)
	assert.Nil(t, p.Classifier)
}

func TestStores(t *testing.T) {
	cfg := Default()
	tiered, closeFn, err := cfg.Stores(nil)
	require.NoError(t, err)
	assert.Nil(t, tiered)
	require.NoError(t, closeFn())

	cfg.Store.ArchiveDir = t.TempDir()
	tiered, closeFn, err = cfg.Stores(nil)
	require.NoError(t, err)
	require.NotNil(t, tiered)
	assert.Nil(t, tiered.Hot)
	assert.NotNil(t, tiered.Archive)
	require.NoError(t, closeFn())
}

func TestLoggingOptions(t *testing.T) {
	cfg := Default()
	assert.Nil(t, cfg.Logging().File)
	cfg.Log.File = "/tmp/turncore.log"
	opts := cfg.Logging()
	require.NotNil(t, opts.File)
	assert.Equal(t, 100, opts.File.MaxSizeMB)
}
