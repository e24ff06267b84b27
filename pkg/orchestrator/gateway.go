package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

type GatewayEventType string

const (
	GatewayOpen       GatewayEventType = "open"
	GatewayClose      GatewayEventType = "close"
	GatewayTranscript GatewayEventType = "transcript"
	GatewayError      GatewayEventType = "error"
	GatewayFallback   GatewayEventType = "fallback_trigger"
	GatewayCritical   GatewayEventType = "error_critical"
)

type GatewayEvent struct {
	Type     GatewayEventType
	Provider string
	Text     string
	IsFinal  bool
	Err      error
	// From and To name the providers of a failover.
	From string
	To   string
}

// DefaultGatewayQueue bounds the audio held while no provider is open (10s of frames).
const DefaultGatewayQueue = 500

// RecognitionGateway drives one recognition provider at a time from an
// ordered fallback list. Audio sent before the provider reports open is
// queued and flushed in order. A provider error tears the provider down and
// opens the next one; the position in the list is kept across streams so a
// failed provider is not retried on every turn.
type RecognitionGateway struct {
	factories []RecognizerFactory
	logger    Logger
	maxQueue  int

	mu              sync.Mutex
	idx             int
	gen             uint64
	active          Recognizer
	open            bool
	stopped         bool
	pendingFinalize bool
	queue           [][]byte
	ctx             context.Context
	lang            Language
	sink            func(GatewayEvent)
}

func NewRecognitionGateway(factories []RecognizerFactory, logger Logger) (*RecognitionGateway, error) {
	if len(factories) == 0 {
		return nil, ErrNoRecognizers
	}
	for _, f := range factories {
		if f.New == nil {
			return nil, fmt.Errorf("recognizer %q: %w", f.Name, ErrNilProvider)
		}
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &RecognitionGateway{
		factories: factories,
		logger:    logger,
		maxQueue:  DefaultGatewayQueue,
		stopped:   true,
	}, nil
}

// SetMaxQueue changes how many frames are held while connecting.
func (g *RecognitionGateway) SetMaxQueue(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maxQueue = n
}

// Start opens a new recognition stream, replacing any current one. Events
// for this stream are delivered to sink from provider goroutines and also
// from the caller's own stack (Start, SendAudio), so sink must not block.
func (g *RecognitionGateway) Start(ctx context.Context, lang Language, sink func(GatewayEvent)) error {
	if sink == nil {
		sink = func(GatewayEvent) {}
	}

	g.mu.Lock()
	old := g.active
	g.gen++
	gen := g.gen
	g.ctx, g.lang, g.sink = ctx, lang, sink
	g.open, g.stopped, g.pendingFinalize = false, false, false
	g.queue = nil
	f := g.factories[g.idx]
	rec := f.New()
	g.active = rec
	g.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			g.logger.Warn("failed to close recognizer", "provider", old.Name(), "error", err)
		}
	}

	g.logger.Debug("opening recognition stream", "provider", f.Name)
	if err := rec.Open(ctx, lang, g.emitter(gen, f.Name)); err != nil {
		g.failover(gen, err)
	}
	return nil
}

// SendAudio forwards a frame to the open provider, or queues it.
func (g *RecognitionGateway) SendAudio(frame []byte) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return ErrGatewayStopped
	}
	if !g.open {
		g.enqueue(frame)
		g.mu.Unlock()
		return nil
	}
	gen := g.gen
	err := g.active.Feed(frame)
	if err != nil {
		// the next provider gets the frame the failed one rejected
		g.enqueue(frame)
	}
	g.mu.Unlock()

	if err != nil {
		g.failover(gen, err)
	}
	return nil
}

// Finalize asks the provider to emit a final transcript for the audio so
// far. If the provider is still connecting the request is applied on open.
func (g *RecognitionGateway) Finalize() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return ErrGatewayStopped
	}
	if !g.open {
		g.pendingFinalize = true
		return nil
	}
	if f, ok := g.active.(Finalizer); ok {
		return f.Finalize()
	}
	return nil
}

// Stop closes the current stream. Events still in flight are discarded.
func (g *RecognitionGateway) Stop() {
	g.mu.Lock()
	old := g.active
	g.gen++
	g.active = nil
	g.open, g.stopped, g.pendingFinalize = false, true, false
	g.queue = nil
	g.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			g.logger.Warn("failed to close recognizer", "provider", old.Name(), "error", err)
		}
	}
}

// ActiveProvider names the provider new streams will use.
func (g *RecognitionGateway) ActiveProvider() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.factories[g.idx].Name
}

func (g *RecognitionGateway) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

func (g *RecognitionGateway) QueueLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

func (g *RecognitionGateway) enqueue(frame []byte) {
	if g.maxQueue > 0 && len(g.queue) >= g.maxQueue {
		g.queue = g.queue[1:]
	}
	g.queue = append(g.queue, frame)
}

func (g *RecognitionGateway) emitter(gen uint64, name string) func(RecognitionEvent) {
	return func(ev RecognitionEvent) {
		switch ev.Type {
		case RecognitionOpen:
			g.handleOpen(gen, name)
		case RecognitionError:
			g.failover(gen, ev.Err)
		case RecognitionTranscript:
			if sink, ok := g.sinkFor(gen); ok {
				sink(GatewayEvent{Type: GatewayTranscript, Provider: name, Text: ev.Text, IsFinal: ev.IsFinal})
			}
		case RecognitionClose:
			g.mu.Lock()
			if gen != g.gen {
				g.mu.Unlock()
				return
			}
			g.open = false
			sink := g.sink
			g.mu.Unlock()
			sink(GatewayEvent{Type: GatewayClose, Provider: name})
		}
	}
}

func (g *RecognitionGateway) sinkFor(gen uint64) (func(GatewayEvent), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen != g.gen {
		return nil, false
	}
	return g.sink, true
}

func (g *RecognitionGateway) handleOpen(gen uint64, name string) {
	g.mu.Lock()
	if gen != g.gen {
		g.mu.Unlock()
		return
	}
	g.open = true
	queued := g.queue
	g.queue = nil

	var feedErr error
	flushed := 0
	for _, frame := range queued {
		if feedErr = g.active.Feed(frame); feedErr != nil {
			break
		}
		flushed++
	}
	if feedErr != nil {
		// unsent frames stay queued, in order, for the next provider
		g.queue = append(g.queue, queued[flushed:]...)
	} else if g.pendingFinalize {
		g.pendingFinalize = false
		if f, ok := g.active.(Finalizer); ok {
			feedErr = f.Finalize()
		}
	}
	sink := g.sink
	g.mu.Unlock()

	g.logger.Debug("recognition stream open", "provider", name, "flushed", flushed)
	sink(GatewayEvent{Type: GatewayOpen, Provider: name})
	if feedErr != nil {
		g.failover(gen, feedErr)
	}
}

// failover replaces the provider of stream gen with the next in the list.
func (g *RecognitionGateway) failover(gen uint64, cause error) {
	g.mu.Lock()
	if gen != g.gen || g.stopped {
		g.mu.Unlock()
		return
	}
	old := g.active
	from := g.factories[g.idx].Name
	sink := g.sink
	g.gen++
	g.open = false

	if g.idx+1 >= len(g.factories) {
		g.idx = 0
		g.active = nil
		g.stopped = true
		g.queue = nil
		g.mu.Unlock()

		closeQuietly(old)
		g.logger.Error("all recognition providers failed", "last", from, "error", cause)
		sink(GatewayEvent{Type: GatewayError, Provider: from, Err: cause})
		sink(GatewayEvent{Type: GatewayCritical, Provider: from, Err: fmt.Errorf("%w: %v", ErrRecognizersExhausted, cause)})
		return
	}

	g.idx++
	next := g.factories[g.idx]
	rec := next.New()
	g.active = rec
	newGen := g.gen
	ctx, lang := g.ctx, g.lang
	g.mu.Unlock()

	closeQuietly(old)
	g.logger.Warn("recognition provider failed, falling back", "from", from, "to", next.Name, "error", cause)
	sink(GatewayEvent{Type: GatewayError, Provider: from, Err: cause})
	sink(GatewayEvent{Type: GatewayFallback, From: from, To: next.Name})

	if err := rec.Open(ctx, lang, g.emitter(newGen, next.Name)); err != nil {
		g.failover(newGen, err)
	}
}

func closeQuietly(r Recognizer) {
	if r != nil {
		_ = r.Close()
	}
}
