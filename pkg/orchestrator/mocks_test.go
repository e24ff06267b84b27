package orchestrator

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"
)

// MockRecognizer records fed frames and lets tests drive its events.
type MockRecognizer struct {
	name string
	// AutoOpen reports open from inside Open.
	AutoOpen bool
	// OpenErr is returned synchronously from Open.
	OpenErr error

	mu        sync.Mutex
	emit      func(RecognitionEvent)
	frames    [][]byte
	feedErr   error
	failAfter int
	finalized int
	closed    bool
}

func NewMockRecognizer(name string) *MockRecognizer {
	return &MockRecognizer{name: name}
}

func (m *MockRecognizer) Open(ctx context.Context, lang Language, emit func(RecognitionEvent)) error {
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.mu.Lock()
	m.emit = emit
	m.mu.Unlock()
	if m.AutoOpen {
		emit(RecognitionEvent{Type: RecognitionOpen})
	}
	return nil
}

func (m *MockRecognizer) Feed(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feedErr != nil && len(m.frames) >= m.failAfter {
		return m.feedErr
	}
	m.frames = append(m.frames, frame)
	return nil
}

// FailFeed makes every Feed fail with err after the next `after` frames.
func (m *MockRecognizer) FailFeed(err error, after int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedErr = err
	m.failAfter = len(m.frames) + after
}

func (m *MockRecognizer) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized++
	return nil
}

func (m *MockRecognizer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockRecognizer) Name() string { return m.name }

func (m *MockRecognizer) Emit(ev RecognitionEvent) {
	m.mu.Lock()
	emit := m.emit
	m.mu.Unlock()
	if emit != nil {
		emit(ev)
	}
}

func (m *MockRecognizer) Frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.frames...)
}

func (m *MockRecognizer) Finalized() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalized
}

func (m *MockRecognizer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// recognizerPool hands out a fresh MockRecognizer per stream and keeps them
// all for inspection.
type recognizerPool struct {
	name     string
	autoOpen bool
	openErr  error

	mu      sync.Mutex
	created []*MockRecognizer
}

func (p *recognizerPool) Factory() RecognizerFactory {
	return RecognizerFactory{Name: p.name, New: func() Recognizer {
		r := NewMockRecognizer(p.name)
		r.AutoOpen = p.autoOpen
		r.OpenErr = p.openErr
		p.mu.Lock()
		p.created = append(p.created, r)
		p.mu.Unlock()
		return r
	}}
}

func (p *recognizerPool) Last() *MockRecognizer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.created) == 0 {
		return nil
	}
	return p.created[len(p.created)-1]
}

func (p *recognizerPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.created)
}

// MockLLMProvider streams fixed tokens, optionally failing after them.
type MockLLMProvider struct {
	Tokens    []string
	StreamErr error
	Delay     time.Duration

	mu    sync.Mutex
	calls [][]Message
}

func (m *MockLLMProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	return Collect(m.Stream(ctx, messages))
}

func (m *MockLLMProvider) Stream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	m.mu.Lock()
	m.calls = append(m.calls, append([]Message(nil), messages...))
	m.mu.Unlock()
	return func(yield func(string, error) bool) {
		for _, tok := range m.Tokens {
			if m.Delay > 0 {
				select {
				case <-time.After(m.Delay):
				case <-ctx.Done():
					yield("", ctx.Err())
					return
				}
			}
			if !yield(tok, nil) {
				return
			}
		}
		if m.StreamErr != nil {
			yield("", m.StreamErr)
		}
	}
}

func (m *MockLLMProvider) Name() string { return "MockLLM" }

func (m *MockLLMProvider) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}

// MockTTSProvider returns the text as audio after a per-text latency.
type MockTTSProvider struct {
	Latency map[string]time.Duration
	Fail    map[string]bool
	// Block makes every call wait for cancellation.
	Block bool

	mu    sync.Mutex
	texts []string
}

var errMockSynthesis = errors.New("mock synthesis failure")

func (m *MockTTSProvider) Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	if m.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d := m.Latency[text]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Fail[text] {
		return nil, errMockSynthesis
	}
	return []byte(text), nil
}

func (m *MockTTSProvider) StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	b, err := m.Synthesize(ctx, text, voice, lang)
	if err != nil {
		return err
	}
	half := len(b) / 2
	if err := onChunk(b[:half]); err != nil {
		return err
	}
	return onChunk(b[half:])
}

func (m *MockTTSProvider) Name() string { return "MockTTS" }

func (m *MockTTSProvider) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// recordingTransport keeps every message sent to the client.
type recordingTransport struct {
	mu   sync.Mutex
	msgs []ClientMessage
}

func (r *recordingTransport) Send(msg ClientMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingTransport) Messages() []ClientMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ClientMessage(nil), r.msgs...)
}

func (r *recordingTransport) Types() []MessageType {
	var out []MessageType
	for _, m := range r.Messages() {
		out = append(out, m.Type)
	}
	return out
}

func (r *recordingTransport) Count(t MessageType) int {
	n := 0
	for _, m := range r.Messages() {
		if m.Type == t {
			n++
		}
	}
	return n
}

func (r *recordingTransport) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}
