package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
)

// TurnContext is the cancellation token handed to every asynchronous
// boundary of a turn. The comparison against the tracker's current id is
// authoritative; the embedded context only stops in-flight calls early.
type TurnContext struct {
	context.Context
	ID      int64
	current *atomic.Int64
}

// IsCurrent reports whether the turn may still produce client-visible output.
func (tc TurnContext) IsCurrent() bool {
	if tc.current == nil || tc.current.Load() != tc.ID {
		return false
	}
	return tc.Context.Err() == nil
}

// TurnTracker allocates monotonically increasing turn ids and cancels the
// context of the previous turn whenever a new one begins.
type TurnTracker struct {
	current atomic.Int64

	mu     sync.Mutex
	parent context.Context
	turn   TurnContext
	cancel context.CancelFunc
}

func NewTurnTracker(parent context.Context) *TurnTracker {
	t := &TurnTracker{parent: parent}
	t.turn = TurnContext{Context: parent, current: &t.current}
	return t
}

// Next invalidates the current turn and returns a new one.
func (t *TurnTracker) Next() TurnContext {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
	ctx, cancel := context.WithCancel(t.parent)
	id := t.current.Add(1)
	t.turn = TurnContext{Context: ctx, ID: id, current: &t.current}
	t.cancel = cancel
	return t.turn
}

// Current returns the active turn.
func (t *TurnTracker) Current() TurnContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turn
}

func (t *TurnTracker) ID() int64 {
	return t.current.Load()
}

func (t *TurnTracker) IsCurrent(id int64) bool {
	return t.current.Load() == id
}

// Stop cancels the active turn's context without allocating a new id.
func (t *TurnTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
