package stt

import (
	"context"
	"errors"
	"sync"

	"github.com/lokutor-ai/turncore/pkg/orchestrator"
)

// BatchRecognizer presents a one-shot STTProvider as a streaming
// Recognizer. Audio is buffered until Finalize, which transcribes it and
// emits a single final transcript.
type BatchRecognizer struct {
	provider orchestrator.STTProvider

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	lang   orchestrator.Language
	emit   func(orchestrator.RecognitionEvent)
	buf    []byte
	closed bool
}

func NewBatchRecognizer(provider orchestrator.STTProvider) *BatchRecognizer {
	return &BatchRecognizer{provider: provider}
}

func (b *BatchRecognizer) Name() string {
	return b.provider.Name()
}

func (b *BatchRecognizer) Open(ctx context.Context, lang orchestrator.Language, emit func(orchestrator.RecognitionEvent)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("batch recognizer closed")
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.lang = lang
	b.emit = emit
	go emit(orchestrator.RecognitionEvent{Type: orchestrator.RecognitionOpen})
	return nil
}

func (b *BatchRecognizer) Feed(frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("batch recognizer closed")
	}
	b.buf = append(b.buf, frame...)
	return nil
}

func (b *BatchRecognizer) Finalize() error {
	b.mu.Lock()
	if b.closed || b.emit == nil {
		b.mu.Unlock()
		return nil
	}
	pcm := b.buf
	b.buf = nil
	ctx, lang, emit := b.ctx, b.lang, b.emit
	b.mu.Unlock()

	if len(pcm) == 0 {
		return nil
	}
	go func() {
		text, err := b.provider.Transcribe(ctx, pcm, lang)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			emit(orchestrator.RecognitionEvent{Type: orchestrator.RecognitionError, Err: err})
			return
		}
		if text == "" {
			return
		}
		emit(orchestrator.RecognitionEvent{Type: orchestrator.RecognitionTranscript, Text: text, IsFinal: true})
	}()
	return nil
}

func (b *BatchRecognizer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.buf = nil
	if b.cancel != nil {
		b.cancel()
	}
	return nil
}
