package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

// ErrBackpressure is returned by Feed when the provider connection cannot
// keep up with live audio.
var ErrBackpressure = errors.New("recognizer send queue full")

const sendQueueFrames = 500

// dialect describes one vendor's realtime websocket protocol.
type dialect struct {
	name   string
	url    func(lang orchestrator.Language) string
	header http.Header
	// openOnConnect reports open as soon as the socket is up; otherwise the
	// parser reports it from a session-begin message.
	openOnConnect bool
	parse         func(payload []byte) (orchestrator.RecognitionEvent, bool, error)
	finalizeMsg   []byte
	closeMsg      []byte
}

type outbound struct {
	typ  websocket.MessageType
	data []byte
}

// streamRecognizer runs one realtime recognition websocket. Writes go
// through a queue so Feed never blocks the caller.
type streamRecognizer struct {
	d dialect

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	emit   func(orchestrator.RecognitionEvent)
	out    chan outbound
	closed bool
}

func newStreamRecognizer(d dialect) *streamRecognizer {
	return &streamRecognizer{d: d, out: make(chan outbound, sendQueueFrames)}
}

func (r *streamRecognizer) Name() string {
	return r.d.name
}

func (r *streamRecognizer) Open(ctx context.Context, lang orchestrator.Language, emit func(orchestrator.RecognitionEvent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("%s: recognizer closed", r.d.name)
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.emit = emit
	go r.run(ctx, lang)
	return nil
}

func (r *streamRecognizer) run(ctx context.Context, lang orchestrator.Language) {
	conn, _, err := websocket.Dial(ctx, r.d.url(lang), &websocket.DialOptions{HTTPHeader: r.d.header})
	if err != nil {
		r.fail(ctx, fmt.Errorf("%s: dial: %w", r.d.name, err))
		return
	}
	conn.SetReadLimit(1 << 20)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	r.conn = conn
	r.mu.Unlock()

	if r.d.openOnConnect {
		r.emit(orchestrator.RecognitionEvent{Type: orchestrator.RecognitionOpen})
	}
	go r.writeLoop(ctx, conn)
	r.readLoop(ctx, conn)
}

func (r *streamRecognizer) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, payload, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || r.isClosed() {
				r.emit(orchestrator.RecognitionEvent{Type: orchestrator.RecognitionClose})
				return
			}
			r.fail(ctx, fmt.Errorf("%s: read: %w", r.d.name, err))
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		ev, ok, err := r.d.parse(payload)
		if err != nil {
			r.fail(ctx, fmt.Errorf("%s: %w", r.d.name, err))
			return
		}
		if ok {
			r.emit(ev)
		}
	}
}

func (r *streamRecognizer) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.out:
			if err := conn.Write(ctx, m.typ, m.data); err != nil {
				r.fail(ctx, fmt.Errorf("%s: write: %w", r.d.name, err))
				return
			}
		}
	}
}

func (r *streamRecognizer) fail(ctx context.Context, err error) {
	if ctx.Err() != nil || r.isClosed() {
		return
	}
	r.emit(orchestrator.RecognitionEvent{Type: orchestrator.RecognitionError, Err: err})
}

func (r *streamRecognizer) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *streamRecognizer) enqueue(m outbound) error {
	select {
	case r.out <- m:
		return nil
	default:
		return ErrBackpressure
	}
}

func (r *streamRecognizer) Feed(frame []byte) error {
	return r.enqueue(outbound{typ: websocket.MessageBinary, data: frame})
}

func (r *streamRecognizer) Finalize() error {
	if r.d.finalizeMsg == nil {
		return nil
	}
	return r.enqueue(outbound{typ: websocket.MessageText, data: r.d.finalizeMsg})
}

// Close ends the session in the background; the vendor close handshake can
// take seconds.
func (r *streamRecognizer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn, cancel := r.conn, r.cancel
	r.mu.Unlock()

	go func() {
		if conn != nil {
			if r.d.closeMsg != nil {
				wctx, wcancel := context.WithTimeout(context.Background(), time.Second)
				_ = conn.Write(wctx, websocket.MessageText, r.d.closeMsg)
				wcancel()
			}
			conn.Close(websocket.StatusNormalClosure, "")
		}
		if cancel != nil {
			cancel()
		}
	}()
	return nil
}
