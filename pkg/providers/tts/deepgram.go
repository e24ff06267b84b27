package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/lokutor-ai/turncore/pkg/audio"
	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

const defaultAuraModel = "aura-asteria-en"

var auraVoices = map[orchestrator.Voice]string{
	orchestrator.VoiceF1: "aura-asteria-en",
	orchestrator.VoiceF2: "aura-luna-en",
	orchestrator.VoiceF3: "aura-stella-en",
	orchestrator.VoiceF4: "aura-athena-en",
	orchestrator.VoiceF5: "aura-hera-en",
	orchestrator.VoiceM1: "aura-orion-en",
	orchestrator.VoiceM2: "aura-arcas-en",
	orchestrator.VoiceM3: "aura-perseus-en",
	orchestrator.VoiceM4: "aura-angus-en",
	orchestrator.VoiceM5: "aura-orpheus-en",
}

// DeepgramTTS synthesizes with Deepgram Aura over HTTP, as raw linear16.
type DeepgramTTS struct {
	apiKey     string
	url        string
	sampleRate int
	chunkSize  int
	client     *http.Client
}

func NewDeepgramTTS(apiKey string) *DeepgramTTS {
	return &DeepgramTTS{
		apiKey:     apiKey,
		url:        "https://api.deepgram.com/v1/speak",
		sampleRate: 16000,
		chunkSize:  4096,
		client:     http.DefaultClient,
	}
}

func (t *DeepgramTTS) Name() string {
	return "deepgram-tts"
}

func (t *DeepgramTTS) SetSampleRate(rate int) {
	t.sampleRate = rate
}

func auraModel(voice orchestrator.Voice) string {
	if m, ok := auraVoices[voice]; ok {
		return m
	}
	return defaultAuraModel
}

func (t *DeepgramTTS) speak(ctx context.Context, text string, voice orchestrator.Voice, container string) (io.ReadCloser, error) {
	u, err := url.Parse(t.url)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model", auraModel(voice))
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(t.sampleRate))
	q.Set("container", container)
	u.RawQuery = q.Encode()

	body, err := sonic.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("deepgram tts error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}

// Synthesize returns headerless PCM; Deepgram only reports exact lengths
// for the wav container, so the header is requested and stripped.
func (t *DeepgramTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, _ orchestrator.Language) ([]byte, error) {
	body, err := t.speak(ctx, text, voice, "wav")
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("deepgram tts: %w", err)
	}
	return audio.StripWavHeader(data), nil
}

func (t *DeepgramTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, _ orchestrator.Language, onChunk func([]byte) error) error {
	body, err := t.speak(ctx, text, voice, "none")
	if err != nil {
		return err
	}
	defer body.Close()

	buf := make([]byte, t.chunkSize)
	for {
		n, err := io.ReadFull(body, buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if cbErr := onChunk(chunk); cbErr != nil {
				return cbErr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("deepgram tts: %w", err)
		}
	}
}
