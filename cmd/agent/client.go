package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

// serverMessage mirrors orchestrator.ClientMessage with a payload shape
// covering every message the agent reacts to.
type serverMessage struct {
	Type    orchestrator.MessageType `json:"type"`
	TurnID  int64                    `json:"turnId"`
	TTSID   int64                    `json:"ttsId"`
	Audio   []byte                   `json:"audio"`
	Message string                   `json:"message"`
	Payload struct {
		ID      string            `json:"id"`
		Resumed bool              `json:"resumed"`
		Audio   []byte            `json:"audio"`
		Role    orchestrator.Role `json:"role"`
		Text    string            `json:"text"`
		From    string            `json:"from"`
		To      string            `json:"to"`
	} `json:"payload"`
	STT  int64 `json:"stt"`
	LLM  int64 `json:"llm"`
	TTFT int64 `json:"ttft"`
	E2E  int64 `json:"e2e"`
}

// player is the speaker-side buffer. Audio from a killed synthesis epoch
// is dropped even if it arrives after the kill.
type player struct {
	mu      sync.Mutex
	buf     []byte
	current int64
	killed  int64
}

func (p *player) start(ttsID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = ttsID
}

func (p *player) enqueue(ttsID int64, pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ttsID <= p.killed || ttsID != p.current {
		return
	}
	p.buf = append(p.buf, pcm...)
}

func (p *player) kill(ttsID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = max(p.killed, ttsID)
	p.buf = nil
}

// fill copies buffered audio into out and pads with silence. It reports
// whether any agent audio was written.
func (p *player) fill(out []byte) bool {
	p.mu.Lock()
	n := copy(out, p.buf)
	p.buf = p.buf[n:]
	p.mu.Unlock()
	clear(out[n:])
	return n > 0
}

func (p *player) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buf)
}

type client struct {
	player  *player
	out     io.Writer
	session string
}

func (c *client) handle(data []byte) error {
	var msg serverMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("decode server message: %w", err)
	}

	switch msg.Type {
	case orchestrator.MsgSession:
		c.session = msg.Payload.ID
		if msg.Payload.Resumed {
			fmt.Fprintf(c.out, "resumed session %s\n", msg.Payload.ID)
		} else {
			fmt.Fprintf(c.out, "session %s\n", msg.Payload.ID)
		}
	case orchestrator.MsgCalibration:
		fmt.Fprintln(c.out, "[MIC] calibrated, listening")
	case orchestrator.MsgTurnReset:
		fmt.Fprintf(c.out, "[USER] speaking (turn %d)\n", msg.TurnID)
	case orchestrator.MsgSpeechStop:
		fmt.Fprintln(c.out, "[STT] processing")
	case orchestrator.MsgStateThinking:
		fmt.Fprintln(c.out, "[LLM] thinking")
	case orchestrator.MsgStateSearching:
		fmt.Fprintln(c.out, "[LLM] searching")
	case orchestrator.MsgTTSStart:
		c.player.start(msg.TTSID)
		fmt.Fprintln(c.out, "[TTS] speaking")
	case orchestrator.MsgTTSAudioFull:
		c.player.enqueue(msg.TTSID, msg.Payload.Audio)
	case orchestrator.MsgTTSAudio:
		c.player.enqueue(msg.TTSID, msg.Audio)
	case orchestrator.MsgTTSKill:
		c.player.kill(msg.TTSID)
		fmt.Fprintln(c.out, "[INTERRUPTED]")
	case orchestrator.MsgTranscriptUpdate:
		fmt.Fprintf(c.out, "[%s] %s\n", msg.Payload.Role, msg.Payload.Text)
	case orchestrator.MsgMetricsUpdate:
		fmt.Fprintf(c.out, "[METRICS] stt=%dms llm=%dms ttft=%dms e2e=%dms\n", msg.STT, msg.LLM, msg.TTFT, msg.E2E)
	case orchestrator.MsgFallbackTrigger:
		fmt.Fprintf(c.out, "[STT] falling back from %s to %s\n", msg.Payload.From, msg.Payload.To)
	case orchestrator.MsgError:
		fmt.Fprintf(c.out, "[ERROR] %s\n", msg.Message)
	}
	return nil
}
