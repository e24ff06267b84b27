// Package config loads the server configuration from YAML, a .env file and
// the environment, and builds the providers it names.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"github.com/lokutor-ai/turncore/pkg/logging"
	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

// Duration reads YAML values such as "200ms" or "1.5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"'`)
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type STTConfig struct {
	// Providers is the failover order.
	Providers   []string `yaml:"providers"`
	GroqModel   string   `yaml:"groq_model"`
	OpenAIModel string   `yaml:"openai_model"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type TTSConfig struct {
	Provider string `yaml:"provider"`
}

type SearchConfig struct {
	Enabled bool `yaml:"enabled"`
	// Classifier is "keyword" or "llm".
	Classifier string   `yaml:"classifier"`
	Keywords   []string `yaml:"keywords"`
}

type StoreConfig struct {
	RedisURL   string   `yaml:"redis_url"`
	TTL        Duration `yaml:"ttl"`
	ArchiveDir string   `yaml:"archive_dir"`
}

type VADConfig struct {
	Alpha             float64 `yaml:"alpha"`
	CalibrationFrames int     `yaml:"calibration_frames"`
	MinNoiseFloor     float64 `yaml:"min_noise_floor"`
	SpeechMultiplier  float64 `yaml:"speech_multiplier"`
	SilenceMultiplier float64 `yaml:"silence_multiplier"`
	MinSpeechFrames   int     `yaml:"min_speech_frames"`
	MinSilenceFrames  int     `yaml:"min_silence_frames"`
	EchoMultiplier    float64 `yaml:"echo_multiplier"`
}

type SessionConfig struct {
	Language               string    `yaml:"language"`
	Voice                  string    `yaml:"voice"`
	SystemPrompt           string    `yaml:"system_prompt"`
	MaxContextMessages     int       `yaml:"max_context_messages"`
	VAD                    VADConfig `yaml:"vad"`
	BargeInFrames          int       `yaml:"barge_in_frames"`
	MicDeafWindow          Duration  `yaml:"mic_deaf_window"`
	PreRollFrames          int       `yaml:"pre_roll_frames"`
	PatienceInterval       Duration  `yaml:"patience_interval"`
	PatienceAttempts       int       `yaml:"patience_attempts"`
	MinUnitChars           int       `yaml:"min_unit_chars"`
	StreamingTTS           bool      `yaml:"streaming_tts"`
	MaxConcurrentSynthesis int       `yaml:"max_concurrent_synthesis"`
	LLMTimeout             Duration  `yaml:"llm_timeout"`
	TTSTimeout             Duration  `yaml:"tts_timeout"`
	IntentTimeout          Duration  `yaml:"intent_timeout"`
	LookupTimeout          Duration  `yaml:"lookup_timeout"`
	EchoSuppression        bool      `yaml:"echo_suppression"`
}

// Keys are read from the environment only.
type Keys struct {
	Deepgram   string
	AssemblyAI string
	Groq       string
	OpenAI     string
	Google     string
	Anthropic  string
	Lokutor    string
	Tavily     string
}

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	STT     STTConfig     `yaml:"stt"`
	LLM     LLMConfig     `yaml:"llm"`
	TTS     TTSConfig     `yaml:"tts"`
	Search  SearchConfig  `yaml:"search"`
	Store   StoreConfig   `yaml:"store"`
	Session SessionConfig `yaml:"session"`

	Keys Keys `yaml:"-"`
}

func Default() Config {
	oc := orchestrator.DefaultConfig()
	return Config{
		Server: ServerConfig{Addr: ":8080", Path: "/ws", ShutdownTimeout: Duration(5 * time.Second)},
		Log:    LogConfig{Level: "info", Format: "json", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
		STT:    STTConfig{Providers: []string{"deepgram", "assemblyai"}},
		LLM:    LLMConfig{Provider: "groq"},
		TTS:    TTSConfig{Provider: "deepgram"},
		Search: SearchConfig{Enabled: true, Classifier: "keyword"},
		Store:  StoreConfig{TTL: Duration(time.Hour)},
		Session: SessionConfig{
			Language:           string(oc.Language),
			Voice:              string(oc.VoiceStyle),
			SystemPrompt:       oc.SystemPrompt,
			MaxContextMessages: oc.MaxContextMessages,
			VAD: VADConfig{
				Alpha:             oc.VAD.Alpha,
				CalibrationFrames: oc.VAD.CalibrationFrames,
				MinNoiseFloor:     oc.VAD.MinNoiseFloor,
				SpeechMultiplier:  oc.VAD.SpeechMultiplier,
				SilenceMultiplier: oc.VAD.SilenceMultiplier,
				MinSpeechFrames:   oc.VAD.MinSpeechFrames,
				MinSilenceFrames:  oc.VAD.MinSilenceFrames,
				EchoMultiplier:    oc.VAD.EchoMultiplier,
			},
			BargeInFrames:          oc.BargeInFrames,
			MicDeafWindow:          Duration(oc.MicDeafWindow),
			PreRollFrames:          oc.PreRollFrames,
			PatienceInterval:       Duration(oc.PatienceInterval),
			PatienceAttempts:       oc.PatienceAttempts,
			MinUnitChars:           oc.MinUnitChars,
			StreamingTTS:           oc.StreamingTTS,
			MaxConcurrentSynthesis: oc.MaxConcurrentSynthesis,
			LLMTimeout:             Duration(oc.LLMTimeout),
			TTSTimeout:             Duration(oc.TTSTimeout),
			IntentTimeout:          Duration(oc.IntentTimeout),
			LookupTimeout:          Duration(oc.LookupTimeout),
			EchoSuppression:        oc.EchoSuppression,
		},
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty),
// then environment overrides.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv(os.Getenv)
	return cfg, cfg.Validate()
}

// Parse decodes YAML over the values already in cfg.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse yaml: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	c.Keys = Keys{
		Deepgram:   getenv("DEEPGRAM_API_KEY"),
		AssemblyAI: getenv("ASSEMBLYAI_API_KEY"),
		Groq:       getenv("GROQ_API_KEY"),
		OpenAI:     getenv("OPENAI_API_KEY"),
		Google:     getenv("GOOGLE_API_KEY"),
		Anthropic:  getenv("ANTHROPIC_API_KEY"),
		Lokutor:    getenv("LOKUTOR_API_KEY"),
		Tavily:     getenv("TAVILY_API_KEY"),
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
	if v := getenv("STT_PROVIDERS"); v != "" {
		c.STT.Providers = splitList(v)
	}
	if v := getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := getenv("TTS_PROVIDER"); v != "" {
		c.TTS.Provider = v
	}
	if v := getenv("AGENT_LANGUAGE"); v != "" {
		c.Session.Language = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("TURNCORE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("STREAMING_TTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Session.StreamingTTS = b
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) Validate() error {
	if len(c.STT.Providers) == 0 {
		return errors.New("config: stt.providers must not be empty")
	}
	if _, err := orchestrator.ParseLanguage(c.Session.Language); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := orchestrator.ParseVoice(strings.ToUpper(c.Session.Voice)); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Search.Classifier {
	case "", "keyword", "llm":
	default:
		return fmt.Errorf("config: unknown search classifier %q", c.Search.Classifier)
	}
	if c.Session.BargeInFrames < 1 || c.Session.PatienceAttempts < 1 {
		return errors.New("config: barge_in_frames and patience_attempts must be positive")
	}
	return nil
}

// Orchestrator returns the per-session configuration.
func (c Config) Orchestrator() orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	s := c.Session
	oc.Language = orchestrator.Language(s.Language)
	oc.VoiceStyle = orchestrator.Voice(strings.ToUpper(s.Voice))
	oc.SystemPrompt = s.SystemPrompt
	oc.MaxContextMessages = s.MaxContextMessages
	oc.VAD = orchestrator.VADConfig{
		Alpha:             s.VAD.Alpha,
		CalibrationFrames: s.VAD.CalibrationFrames,
		MinNoiseFloor:     s.VAD.MinNoiseFloor,
		SpeechMultiplier:  s.VAD.SpeechMultiplier,
		SilenceMultiplier: s.VAD.SilenceMultiplier,
		MinSpeechFrames:   s.VAD.MinSpeechFrames,
		MinSilenceFrames:  s.VAD.MinSilenceFrames,
		EchoMultiplier:    s.VAD.EchoMultiplier,
	}
	oc.BargeInFrames = s.BargeInFrames
	oc.MicDeafWindow = time.Duration(s.MicDeafWindow)
	oc.PreRollFrames = s.PreRollFrames
	oc.PatienceInterval = time.Duration(s.PatienceInterval)
	oc.PatienceAttempts = s.PatienceAttempts
	oc.MinUnitChars = s.MinUnitChars
	oc.StreamingTTS = s.StreamingTTS
	oc.MaxConcurrentSynthesis = s.MaxConcurrentSynthesis
	oc.LLMTimeout = time.Duration(s.LLMTimeout)
	oc.TTSTimeout = time.Duration(s.TTSTimeout)
	oc.IntentTimeout = time.Duration(s.IntentTimeout)
	oc.LookupTimeout = time.Duration(s.LookupTimeout)
	oc.EchoSuppression = s.EchoSuppression
	return oc
}

func (c Config) Logging() logging.Options {
	opts := logging.Options{Level: c.Log.Level, Format: c.Log.Format}
	if c.Log.File != "" {
		opts.File = &logging.FileOptions{
			Filename:   c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		}
	}
	return opts
}
