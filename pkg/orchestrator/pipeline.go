package orchestrator

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"
)

type PipelineEventType string

const (
	// PipelineFirstToken fires once, when generation produces its first text.
	PipelineFirstToken PipelineEventType = "first_token"
	// PipelineUnitDispatched fires when a unit is handed to synthesis.
	PipelineUnitDispatched PipelineEventType = "unit_dispatched"
	// PipelineAudio carries the complete audio of a unit (buffered synthesis).
	PipelineAudio PipelineEventType = "audio"
	// PipelineAudioChunk carries part of a unit's audio (streaming synthesis).
	PipelineAudioChunk PipelineEventType = "audio_chunk"
	PipelineUnitFailed PipelineEventType = "unit_failed"
)

type PipelineEvent struct {
	Type  PipelineEventType
	Unit  SentenceUnit
	Audio []byte
	Err   error
}

type PipelineConfig struct {
	Voice         Voice
	Language      Language
	MinUnitChars  int
	Streaming     bool
	MaxConcurrent int
	TTSTimeout    time.Duration
}

// Pipeline turns one generation stream into ordered synthesized audio.
// Units are synthesized concurrently and emitted strictly by sequence.
type Pipeline struct {
	tts    TTSProvider
	cfg    PipelineConfig
	logger Logger
}

func NewPipeline(tts TTSProvider, cfg PipelineConfig, logger Logger) *Pipeline {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Pipeline{tts: tts, cfg: cfg, logger: logger}
}

// Run consumes tokens until the stream ends, fails, or the turn stops being
// current, and returns the full generated text. emit is called from several
// goroutines; every audio event for unit n is emitted before any for n+1.
func (p *Pipeline) Run(tc TurnContext, tokens iter.Seq2[string, error], emit func(PipelineEvent)) (string, error) {
	runCtx, cancel := context.WithCancel(tc)
	defer cancel()

	splitter := NewSentenceSplitter(p.cfg.MinUnitChars)
	sem := make(chan struct{}, p.cfg.MaxConcurrent)
	slots := make(chan *unitSlot, 128)

	emitterDone := make(chan struct{})
	go func() {
		defer close(emitterDone)
		p.emitInOrder(runCtx, tc, slots, emit)
	}()

	var wg sync.WaitGroup
	dispatch := func(u SentenceUnit) bool {
		text := Sanitize(u.Text)
		if text == "" {
			return true
		}
		if !tc.IsCurrent() {
			return false
		}
		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
			return false
		}
		if !tc.IsCurrent() {
			<-sem
			return false
		}

		emit(PipelineEvent{Type: PipelineUnitDispatched, Unit: u})
		slot := newUnitSlot(u)
		select {
		case slots <- slot:
		case <-runCtx.Done():
			<-sem
			return false
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			p.synthesize(runCtx, tc, slot, text)
		}()
		return true
	}

	var (
		full   strings.Builder
		genErr error
		first  = true
	)
	for tok, err := range tokens {
		if !tc.IsCurrent() {
			break
		}
		if err != nil {
			genErr = err
			break
		}
		if tok == "" {
			continue
		}
		if first {
			first = false
			emit(PipelineEvent{Type: PipelineFirstToken})
		}
		full.WriteString(tok)

		aborted := false
		for _, u := range splitter.Add(tok) {
			if !dispatch(u) {
				aborted = true
				break
			}
		}
		if aborted {
			break
		}
	}

	if genErr != nil {
		// audio from a failed generation is not played
		cancel()
	} else if tc.IsCurrent() {
		if u, ok := splitter.Flush(); ok {
			dispatch(u)
		}
	}

	close(slots)
	wg.Wait()
	<-emitterDone

	switch {
	case !tc.IsCurrent():
		return full.String(), ErrStaleTurn
	case genErr != nil:
		return full.String(), fmt.Errorf("%w: %v", ErrLLMFailed, genErr)
	}
	return full.String(), nil
}

func (p *Pipeline) synthesize(ctx context.Context, tc TurnContext, slot *unitSlot, text string) {
	if p.cfg.TTSTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.TTSTimeout)
		defer cancel()
	}

	if p.cfg.Streaming {
		err := p.tts.StreamSynthesize(ctx, text, p.cfg.Voice, p.cfg.Language, func(chunk []byte) error {
			if !tc.IsCurrent() {
				return ErrStaleTurn
			}
			slot.push(chunk)
			return nil
		})
		slot.finish(err)
		return
	}

	audio, err := p.tts.Synthesize(ctx, text, p.cfg.Voice, p.cfg.Language)
	if err == nil && tc.IsCurrent() {
		slot.push(audio)
	}
	slot.finish(err)
}

// emitInOrder drains slots in sequence. Once the run is cancelled it keeps
// receiving so dispatch never blocks, but emits nothing.
func (p *Pipeline) emitInOrder(ctx context.Context, tc TurnContext, slots <-chan *unitSlot, emit func(PipelineEvent)) {
	for slot := range slots {
		for ctx.Err() == nil {
			chunks, done, err := slot.take()
			for _, c := range chunks {
				if !tc.IsCurrent() || ctx.Err() != nil {
					break
				}
				typ := PipelineAudio
				if p.cfg.Streaming {
					typ = PipelineAudioChunk
				}
				emit(PipelineEvent{Type: typ, Unit: slot.unit, Audio: c})
			}
			if done {
				if err != nil && tc.IsCurrent() && ctx.Err() == nil {
					p.logger.Warn("synthesis failed, skipping unit", "turn", tc.ID, "seq", slot.unit.Seq, "error", err)
					emit(PipelineEvent{Type: PipelineUnitFailed, Unit: slot.unit, Err: fmt.Errorf("%w: %v", ErrTTSFailed, err)})
				}
				break
			}
			select {
			case <-slot.notify:
			case <-ctx.Done():
			}
		}
	}
}

// unitSlot holds synthesized audio for one unit until its turn to be emitted.
type unitSlot struct {
	unit   SentenceUnit
	notify chan struct{}

	mu     sync.Mutex
	chunks [][]byte
	done   bool
	err    error
}

func newUnitSlot(u SentenceUnit) *unitSlot {
	return &unitSlot{unit: u, notify: make(chan struct{}, 1)}
}

func (s *unitSlot) push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.mu.Unlock()
	s.signal()
}

func (s *unitSlot) finish(err error) {
	s.mu.Lock()
	s.done = true
	s.err = err
	s.mu.Unlock()
	s.signal()
}

func (s *unitSlot) take() ([][]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunks := s.chunks
	s.chunks = nil
	return chunks, s.done, s.err
}

func (s *unitSlot) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
