package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

var (
	ErrOutboxFull = errors.New("client outbox full")
	// ErrStreamTruncated rejects audio of a synthesis stream that already lost a chunk.
	ErrStreamTruncated = errors.New("synthesis stream truncated")
)

// wsTransport queues control messages for a single writer goroutine so the
// session actor never waits on the network. When audio has to be dropped
// the rest of that synthesis stream is cut and the client is told with a
// tts_kill, which is written ahead of anything still queued.
type wsTransport struct {
	out  chan orchestrator.ClientMessage
	wake chan struct{}

	mu        sync.Mutex
	kills     []orchestrator.ClientMessage
	truncated bool
	cutTTSID  int64
}

func newTransport(size int) *wsTransport {
	return &wsTransport{
		out:  make(chan orchestrator.ClientMessage, size),
		wake: make(chan struct{}, 1),
	}
}

func isAudio(msg orchestrator.ClientMessage) bool {
	return msg.Type == orchestrator.MsgTTSAudio || msg.Type == orchestrator.MsgTTSAudioFull
}

func (t *wsTransport) Send(msg orchestrator.ClientMessage) error {
	audio := isAudio(msg)
	if audio && t.isCut(msg.TTSID) {
		return fmt.Errorf("%s: %w", msg.Type, ErrStreamTruncated)
	}
	select {
	case t.out <- msg:
		return nil
	default:
	}
	if audio {
		t.cut(msg)
	}
	return fmt.Errorf("%s: %w", msg.Type, ErrOutboxFull)
}

func (t *wsTransport) isCut(ttsID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.truncated && t.cutTTSID == ttsID
}

func (t *wsTransport) cut(msg orchestrator.ClientMessage) {
	t.mu.Lock()
	t.truncated, t.cutTTSID = true, msg.TTSID
	t.kills = append(t.kills, orchestrator.ClientMessage{
		Type:   orchestrator.MsgTTSKill,
		TurnID: msg.TurnID,
		TTSID:  msg.TTSID,
	})
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *wsTransport) popKill() (orchestrator.ClientMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.kills) == 0 {
		return orchestrator.ClientMessage{}, false
	}
	msg := t.kills[0]
	t.kills = t.kills[1:]
	return msg, true
}

// next returns the message to write, pending kills first.
func (t *wsTransport) next(ctx context.Context) (orchestrator.ClientMessage, error) {
	for {
		if msg, ok := t.popKill(); ok {
			return msg, nil
		}
		select {
		case <-ctx.Done():
			return orchestrator.ClientMessage{}, ctx.Err()
		case <-t.wake:
		case msg := <-t.out:
			return msg, nil
		}
	}
}

func (t *wsTransport) writeLoop(ctx context.Context, conn *websocket.Conn, timeout time.Duration) error {
	for {
		msg, err := t.next(ctx)
		if err != nil {
			return err
		}
		data, err := sonic.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode %s: %w", msg.Type, err)
		}
		wctx, cancel := context.WithTimeout(ctx, timeout)
		err = conn.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			return fmt.Errorf("write %s: %w", msg.Type, err)
		}
	}
}
