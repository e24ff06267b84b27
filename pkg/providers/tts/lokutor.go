package tts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

const defaultIdleConns = 3

// LokutorTTS synthesizes over Lokutor's websocket API. Each request holds
// its own connection so sentence units can be synthesized concurrently;
// connections that finish cleanly are kept for reuse.
type LokutorTTS struct {
	apiKey  string
	host    string
	scheme  string
	speed   float64
	steps   int
	maxIdle int

	mu     sync.Mutex
	idle   []*websocket.Conn
	closed bool
}

func NewLokutorTTS(apiKey string) *LokutorTTS {
	return &LokutorTTS{
		apiKey:  apiKey,
		host:    "api.lokutor.com",
		scheme:  "wss",
		speed:   1.0,
		steps:   6,
		maxIdle: defaultIdleConns,
	}
}

type lokutorRequest struct {
	Text    string  `json:"text"`
	Voice   string  `json:"voice"`
	Lang    string  `json:"lang"`
	Speed   float64 `json:"speed"`
	Steps   int     `json:"steps"`
	Visemes bool    `json:"visemes"`
}

func (t *LokutorTTS) Name() string {
	return "lokutor"
}

// acquire returns a pooled connection, or dials one when the pool is empty
// or fresh is set. reused reports whether the connection came from the pool.
func (t *LokutorTTS) acquire(ctx context.Context, fresh bool) (conn *websocket.Conn, reused bool, err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, false, errors.New("lokutor: closed")
	}
	if n := len(t.idle); n > 0 && !fresh {
		conn := t.idle[n-1]
		t.idle = t.idle[:n-1]
		t.mu.Unlock()
		return conn, true, nil
	}
	t.mu.Unlock()

	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + url.QueryEscape(t.apiKey)}
	conn, _, err = websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to connect to lokutor: %w", err)
	}
	conn.SetReadLimit(10 * 1024 * 1024)
	return conn, false, nil
}

func (t *LokutorTTS) release(conn *websocket.Conn) {
	t.mu.Lock()
	if !t.closed && len(t.idle) < t.maxIdle {
		t.idle = append(t.idle, conn)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	conn.Close(websocket.StatusNormalClosure, "")
}

func (t *LokutorTTS) Synthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language) ([]byte, error) {
	var audio []byte
	err := t.StreamSynthesize(ctx, text, voice, lang, func(chunk []byte) error {
		audio = append(audio, chunk...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// StreamSynthesize delivers PCM chunks to onChunk until the server signals
// end of stream. Cancelling ctx drops the connection mid-stream. A pooled
// connection that fails before any audio arrives is retried once on a fresh
// dial; idle connections are not read, so a server-side close only shows on
// reuse.
func (t *LokutorTTS) StreamSynthesize(ctx context.Context, text string, voice orchestrator.Voice, lang orchestrator.Language, onChunk func([]byte) error) error {
	req := lokutorRequest{
		Text:  text,
		Voice: string(voice),
		Lang:  string(lang),
		Speed: t.speed,
		Steps: t.steps,
	}

	conn, reused, err := t.acquire(ctx, false)
	if err != nil {
		return err
	}
	started, err := t.stream(ctx, conn, req, onChunk)
	if err != nil && reused && !started && ctx.Err() == nil && errors.Is(err, errConnFailed) {
		conn, _, err = t.acquire(ctx, true)
		if err != nil {
			return err
		}
		_, err = t.stream(ctx, conn, req, onChunk)
	}
	return err
}

var errConnFailed = errors.New("lokutor connection failed")

// stream runs one request on conn. started reports whether any audio was
// delivered; transport failures wrap errConnFailed.
func (t *LokutorTTS) stream(ctx context.Context, conn *websocket.Conn, req lokutorRequest, onChunk func([]byte) error) (started bool, err error) {
	if err := wsjson.Write(ctx, conn, req); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "failed to write json")
		return false, fmt.Errorf("%w: failed to send synthesis request: %w", errConnFailed, err)
	}

	for {
		messageType, payload, err := conn.Read(ctx)
		if err != nil {
			conn.CloseNow()
			return started, fmt.Errorf("%w: failed to read from lokutor: %w", errConnFailed, err)
		}

		switch messageType {
		case websocket.MessageBinary:
			started = true
			if err := onChunk(payload); err != nil {
				conn.CloseNow()
				return started, err
			}
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				t.release(conn)
				return started, nil
			}
			if strings.HasPrefix(msg, "ERR:") {
				t.release(conn)
				return started, fmt.Errorf("lokutor error: %s", strings.TrimSpace(strings.TrimPrefix(msg, "ERR:")))
			}
		}
	}
}

// Close drops every idle connection. In-flight requests finish on their own
// connections and are then discarded.
func (t *LokutorTTS) Close() error {
	t.mu.Lock()
	idle := t.idle
	t.idle = nil
	t.closed = true
	t.mu.Unlock()

	var errs []error
	for _, conn := range idle {
		if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *LokutorTTS) idleConns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.idle)
}
