package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []GatewayEvent
}

func (l *eventLog) add(ev GatewayEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) of(t GatewayEventType) []GatewayEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []GatewayEvent
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestGatewayRequiresProviders(t *testing.T) {
	_, err := NewRecognitionGateway(nil, nil)
	assert.ErrorIs(t, err, ErrNoRecognizers)

	_, err = NewRecognitionGateway([]RecognizerFactory{{Name: "x"}}, nil)
	assert.ErrorIs(t, err, ErrNilProvider)
}

func TestGatewayQueuesUntilOpen(t *testing.T) {
	primary := &recognizerPool{name: "primary"}
	g, err := NewRecognitionGateway([]RecognizerFactory{primary.Factory()}, nil)
	require.NoError(t, err)

	log := &eventLog{}
	require.NoError(t, g.Start(context.Background(), LanguageEn, log.add))

	for i := byte(0); i < 3; i++ {
		require.NoError(t, g.SendAudio([]byte{i}))
	}
	rec := primary.Last()
	assert.Empty(t, rec.Frames())
	assert.Equal(t, 3, g.QueueLen())

	rec.Emit(RecognitionEvent{Type: RecognitionOpen})
	assert.True(t, g.IsOpen())
	require.NoError(t, g.SendAudio([]byte{3}))

	assert.Equal(t, [][]byte{{0}, {1}, {2}, {3}}, rec.Frames())
	assert.Len(t, log.of(GatewayOpen), 1)
}

func TestGatewayTranscriptEvents(t *testing.T) {
	primary := &recognizerPool{name: "primary", autoOpen: true}
	g, err := NewRecognitionGateway([]RecognizerFactory{primary.Factory()}, nil)
	require.NoError(t, err)

	log := &eventLog{}
	require.NoError(t, g.Start(context.Background(), LanguageEn, log.add))
	primary.Last().Emit(RecognitionEvent{Type: RecognitionTranscript, Text: "hello", IsFinal: true})

	got := log.of(GatewayTranscript)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Text)
	assert.True(t, got[0].IsFinal)
	assert.Equal(t, "primary", got[0].Provider)
}

func TestGatewayFailover(t *testing.T) {
	primary := &recognizerPool{name: "primary", autoOpen: true}
	secondary := &recognizerPool{name: "secondary"}
	g, err := NewRecognitionGateway([]RecognizerFactory{primary.Factory(), secondary.Factory()}, nil)
	require.NoError(t, err)

	log := &eventLog{}
	require.NoError(t, g.Start(context.Background(), LanguageEn, log.add))
	first := primary.Last()
	require.NoError(t, g.SendAudio([]byte{1}))

	first.Emit(RecognitionEvent{Type: RecognitionError, Err: errors.New("socket closed")})
	assert.True(t, first.Closed())

	fallbacks := log.of(GatewayFallback)
	require.Len(t, fallbacks, 1)
	assert.Equal(t, "primary", fallbacks[0].From)
	assert.Equal(t, "secondary", fallbacks[0].To)
	assert.Equal(t, "secondary", g.ActiveProvider())

	// duplicate error from the torn-down provider is ignored
	first.Emit(RecognitionEvent{Type: RecognitionError, Err: errors.New("again")})
	assert.Len(t, log.of(GatewayFallback), 1)

	for i := byte(2); i < 5; i++ {
		require.NoError(t, g.SendAudio([]byte{i}))
	}
	second := secondary.Last()
	require.NotNil(t, second)
	assert.Empty(t, second.Frames())

	second.Emit(RecognitionEvent{Type: RecognitionOpen})
	assert.Equal(t, [][]byte{{2}, {3}, {4}}, second.Frames())

	// events from the old provider no longer reach the sink
	first.Emit(RecognitionEvent{Type: RecognitionTranscript, Text: "stale"})
	assert.Empty(t, log.of(GatewayTranscript))
}

func TestGatewayCriticalWhenExhausted(t *testing.T) {
	primary := &recognizerPool{name: "primary", autoOpen: true}
	secondary := &recognizerPool{name: "secondary", openErr: errors.New("dial failed")}
	g, err := NewRecognitionGateway([]RecognizerFactory{primary.Factory(), secondary.Factory()}, nil)
	require.NoError(t, err)

	log := &eventLog{}
	require.NoError(t, g.Start(context.Background(), LanguageEn, log.add))
	primary.Last().Emit(RecognitionEvent{Type: RecognitionError, Err: errors.New("boom")})

	assert.Len(t, log.of(GatewayFallback), 1)
	critical := log.of(GatewayCritical)
	require.Len(t, critical, 1)
	assert.ErrorIs(t, critical[0].Err, ErrRecognizersExhausted)
	assert.ErrorIs(t, g.SendAudio([]byte{1}), ErrGatewayStopped)

	// the next stream starts over at the head of the list
	assert.Equal(t, "primary", g.ActiveProvider())
	require.NoError(t, g.Start(context.Background(), LanguageEn, log.add))
	assert.Equal(t, 2, primary.Count())
}

func TestGatewayFinalizeAppliedOnOpen(t *testing.T) {
	primary := &recognizerPool{name: "primary"}
	g, err := NewRecognitionGateway([]RecognizerFactory{primary.Factory()}, nil)
	require.NoError(t, err)

	require.NoError(t, g.Start(context.Background(), LanguageEn, nil))
	require.NoError(t, g.SendAudio([]byte{1}))
	require.NoError(t, g.Finalize())

	rec := primary.Last()
	assert.Zero(t, rec.Finalized())
	rec.Emit(RecognitionEvent{Type: RecognitionOpen})
	assert.Equal(t, 1, rec.Finalized())
	assert.Len(t, rec.Frames(), 1)
}

func TestGatewayStop(t *testing.T) {
	primary := &recognizerPool{name: "primary", autoOpen: true}
	g, err := NewRecognitionGateway([]RecognizerFactory{primary.Factory()}, nil)
	require.NoError(t, err)

	log := &eventLog{}
	require.NoError(t, g.Start(context.Background(), LanguageEn, log.add))
	rec := primary.Last()
	g.Stop()

	assert.True(t, rec.Closed())
	assert.ErrorIs(t, g.SendAudio([]byte{1}), ErrGatewayStopped)
	assert.ErrorIs(t, g.Finalize(), ErrGatewayStopped)

	rec.Emit(RecognitionEvent{Type: RecognitionTranscript, Text: "late"})
	rec.Emit(RecognitionEvent{Type: RecognitionError, Err: errors.New("late")})
	assert.Empty(t, log.of(GatewayTranscript))
	assert.Empty(t, log.of(GatewayFallback))
}

func TestGatewayQueueBound(t *testing.T) {
	primary := &recognizerPool{name: "primary"}
	g, err := NewRecognitionGateway([]RecognizerFactory{primary.Factory()}, nil)
	require.NoError(t, err)
	g.SetMaxQueue(2)

	require.NoError(t, g.Start(context.Background(), LanguageEn, nil))
	for i := byte(0); i < 4; i++ {
		require.NoError(t, g.SendAudio([]byte{i}))
	}
	primary.Last().Emit(RecognitionEvent{Type: RecognitionOpen})
	assert.Equal(t, [][]byte{{2}, {3}}, primary.Last().Frames())
}

func TestGatewayKeepsUnflushedFramesOnFailover(t *testing.T) {
	primary := &recognizerPool{name: "primary"}
	secondary := &recognizerPool{name: "secondary"}
	g, err := NewRecognitionGateway([]RecognizerFactory{primary.Factory(), secondary.Factory()}, nil)
	require.NoError(t, err)

	log := &eventLog{}
	require.NoError(t, g.Start(context.Background(), LanguageEn, log.add))
	for i := byte(0); i < 4; i++ {
		require.NoError(t, g.SendAudio([]byte{i}))
	}

	first := primary.Last()
	first.FailFeed(errors.New("write failed"), 2)
	first.Emit(RecognitionEvent{Type: RecognitionOpen})

	assert.Equal(t, [][]byte{{0}, {1}}, first.Frames())
	require.Len(t, log.of(GatewayFallback), 1)
	assert.Equal(t, 2, g.QueueLen())

	second := secondary.Last()
	require.NotNil(t, second)
	second.Emit(RecognitionEvent{Type: RecognitionOpen})
	assert.Equal(t, [][]byte{{2}, {3}}, second.Frames())
}

func TestGatewayFeedFailureKeepsFrame(t *testing.T) {
	primary := &recognizerPool{name: "primary", autoOpen: true}
	secondary := &recognizerPool{name: "secondary"}
	g, err := NewRecognitionGateway([]RecognizerFactory{primary.Factory(), secondary.Factory()}, nil)
	require.NoError(t, err)

	require.NoError(t, g.Start(context.Background(), LanguageEn, nil))
	require.NoError(t, g.SendAudio([]byte{0}))
	primary.Last().FailFeed(errors.New("backpressure"), 0)

	require.NoError(t, g.SendAudio([]byte{1}))
	assert.Equal(t, "secondary", g.ActiveProvider())
	require.NoError(t, g.SendAudio([]byte{2}))

	second := secondary.Last()
	second.Emit(RecognitionEvent{Type: RecognitionOpen})
	assert.Equal(t, [][]byte{{1}, {2}}, second.Frames())
}
