package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/turncore/pkg/audio"
)

// Snapshot is the persisted view of a session.
type Snapshot struct {
	ID         string            `json:"id"`
	Transcript []TranscriptEntry `json:"transcript"`
	History    []Message         `json:"history"`
	Context    string            `json:"context,omitempty"`
	Metrics    []MetricsRecord   `json:"metrics"`
	Timestamp  time.Time         `json:"timestamp"`
}

type MetricsRecord struct {
	TurnID int64 `json:"turnId"`
	TurnMetrics
}

// SessionStore persists snapshots after each completed turn.
type SessionStore interface {
	Save(ctx context.Context, snap Snapshot) error
}

type sessionEvent interface{}

type (
	audioEvent struct {
		data []byte
	}
	controlEvent struct {
		msg ControlMessage
	}
	recognitionEvent struct {
		turn int64
		ev   GatewayEvent
	}
	patienceEvent struct {
		turn    int64
		gen     int
		attempt int
	}
	searchingEvent struct {
		turn int64
	}
	pipelineEvent struct {
		turn int64
		ev   PipelineEvent
	}
	turnDoneEvent struct {
		turn int64
		text string
		err  error
	}
)

// Session runs the turn-taking state machine of one client connection.
// All state is owned by the goroutine in Run; audio, control messages and
// results of asynchronous work reach it through one ordered inbox.
// Recognition events use a separate unbounded queue because the gateway may
// raise them on the Run goroutine itself.
type Session struct {
	ID string

	cfg       Config
	providers Providers
	logger    Logger
	transport Transport
	store     SessionStore

	conv    *Conversation
	vad     *RMSVAD
	echo    *EchoSuppressor
	gateway *RecognitionGateway
	framer  *audio.Framer
	backlog *audio.Backlog
	turns   *TurnTracker

	ctx       context.Context
	cancel    context.CancelFunc
	inbox     chan sessionEvent
	done      chan struct{}
	closeOnce sync.Once

	recMu      sync.Mutex
	recPending []recognitionEvent
	recReady   chan struct{}

	// owned by the Run goroutine
	state          State
	synth          SynthesisStatus
	epoch          int64
	streaming      bool
	finalText      string
	partialText    string
	micDeafUntil   time.Time
	bargeIn        int
	patienceGen    int
	patienceCancel context.CancelFunc
	timing         turnTiming

	snapMu     sync.Mutex
	transcript []TranscriptEntry
	metrics    []MetricsRecord

	now func() time.Time
}

type turnTiming struct {
	start      time.Time
	speechStop time.Time
	recognized time.Time
	thinking   time.Time
	firstToken time.Time
	firstAudio time.Time
}

func newSession(id string, cfg Config, providers Providers, transport Transport, store SessionStore, logger Logger) (*Session, error) {
	if transport == nil {
		return nil, ErrNilProvider
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	gw, err := NewRecognitionGateway(providers.Recognizers, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	conv := NewConversation(id)
	conv.MaxMessages = cfg.MaxContextMessages
	conv.SetSystemPrompt(cfg.SystemPrompt)
	conv.SetVoice(cfg.VoiceStyle)
	conv.SetLanguage(cfg.Language)

	s := &Session{
		ID:        id,
		cfg:       cfg,
		providers: providers,
		logger:    logger,
		transport: transport,
		store:     store,
		conv:      conv,
		vad:       NewRMSVAD(cfg.VAD),
		gateway:   gw,
		framer:    audio.NewFramer(cfg.FrameBytes()),
		backlog:   audio.NewBacklog(cfg.PreRollFrames),
		turns:     NewTurnTracker(ctx),
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan sessionEvent, 512),
		recReady:  make(chan struct{}, 1),
		done:      make(chan struct{}),
		state:     StateIdle,
		synth:     SynthesisIdle,
		now:       time.Now,
	}
	if cfg.EchoSuppression {
		s.echo = NewEchoSuppressor(cfg.SampleRate)
	}
	return s, nil
}

// Conversation exposes the session history, e.g. to restore a resumed session.
func (s *Session) Conversation() *Conversation {
	return s.conv
}

// Restore seeds the session from a stored snapshot. Call before Run.
func (s *Session) Restore(snap Snapshot) {
	s.conv.Restore(snap.History, snap.Context)
	s.snapMu.Lock()
	s.transcript = append([]TranscriptEntry(nil), snap.Transcript...)
	s.metrics = append([]MetricsRecord(nil), snap.Metrics...)
	s.snapMu.Unlock()
}

// Run processes session events until ctx is done or Close is called.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()
	s.logger.Info("session started", "session", s.ID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return nil
		case ev := <-s.inbox:
			s.handle(ev)
		case <-s.recReady:
			s.drainRecognition()
		}
	}
}

// PushAudio queues raw PCM bytes of any length.
func (s *Session) PushAudio(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return s.submit(audioEvent{data: buf})
}

func (s *Session) HandleControl(msg ControlMessage) error {
	return s.submit(controlEvent{msg: msg})
}

func (s *Session) Close() {
	s.cancel()
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns the current persisted view. Safe from any goroutine.
func (s *Session) Snapshot() Snapshot {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return Snapshot{
		ID:         s.ID,
		Transcript: append([]TranscriptEntry(nil), s.transcript...),
		History:    s.conv.GetContextCopy(),
		Context:    s.conv.GetExtraContext(),
		Metrics:    append([]MetricsRecord(nil), s.metrics...),
		Timestamp:  s.now(),
	}
}

func (s *Session) submit(ev sessionEvent) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}
	select {
	case s.inbox <- ev:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

// post delivers results of background work; dropped once the session ends.
func (s *Session) post(ev sessionEvent) {
	select {
	case s.inbox <- ev:
	case <-s.done:
	case <-s.ctx.Done():
	}
}

// postRecognition queues a gateway event without blocking.
func (s *Session) postRecognition(ev recognitionEvent) {
	if s.ctx.Err() != nil {
		return
	}
	s.recMu.Lock()
	s.recPending = append(s.recPending, ev)
	s.recMu.Unlock()
	select {
	case s.recReady <- struct{}{}:
	default:
	}
}

func (s *Session) drainRecognition() {
	s.recMu.Lock()
	pending := s.recPending
	s.recPending = nil
	s.recMu.Unlock()
	for _, ev := range pending {
		s.handleRecognition(ev)
	}
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.stopPatience()
		s.turns.Stop()
		s.gateway.Stop()
		close(s.done)
		s.logger.Info("session stopped", "session", s.ID, "turn", s.turns.ID())
	})
}

func (s *Session) handle(ev sessionEvent) {
	switch e := ev.(type) {
	case audioEvent:
		for _, frame := range s.framer.Write(e.data) {
			s.processFrame(frame)
		}
	case controlEvent:
		s.handleControl(e.msg)
	case patienceEvent:
		s.handlePatience(e)
	case searchingEvent:
		if e.turn == s.turns.ID() && s.state == StateThinking {
			s.send(ClientMessage{Type: MsgStateSearching, TurnID: e.turn})
		}
	case pipelineEvent:
		s.handlePipeline(e)
	case turnDoneEvent:
		s.handleTurnDone(e)
	}
}

func (s *Session) processFrame(frame []byte) {
	s.backlog.Push(frame)
	if s.streaming {
		if err := s.gateway.SendAudio(frame); err != nil {
			s.streaming = false
		}
	}

	res := s.vad.Process(frame)
	for _, ev := range res.Events {
		switch ev.Type {
		case VADCalibrationComplete:
			s.logger.Info("vad calibrated", "session", s.ID, "noiseFloor", ev.NoiseFloor,
				"speechThreshold", ev.SpeechThreshold, "silenceThreshold", ev.SilenceThreshold)
			s.send(ClientMessage{Type: MsgCalibration, Payload: CalibrationPayload{
				NoiseFloor:       ev.NoiseFloor,
				SpeechThreshold:  ev.SpeechThreshold,
				SilenceThreshold: ev.SilenceThreshold,
			}})
		case VADSpeechStart:
			s.onSpeechStart()
		case VADSpeechStop:
			s.onSpeechStop()
		}
	}

	if s.state == StateThinking || s.state == StateSpeaking {
		s.classifyBargeIn(frame, res)
	}
}

func (s *Session) onSpeechStart() {
	switch s.state {
	case StateIdle:
		s.beginTurn(s.turns.Next())
	case StateWaitingForRecognition:
		// the user resumed within the patience window; keep the turn
		s.stopPatience()
		s.setState(StateListening)
	}
}

func (s *Session) beginTurn(tc TurnContext) {
	s.finalText, s.partialText = "", ""
	s.bargeIn = 0
	s.timing = turnTiming{start: s.now()}

	s.send(ClientMessage{Type: MsgTurnReset, TurnID: tc.ID})
	s.setState(StateListening)
	s.startRecognition(tc)
}

func (s *Session) startRecognition(tc TurnContext) {
	turn := tc.ID
	err := s.gateway.Start(tc, s.conv.GetCurrentLanguage(), func(ev GatewayEvent) {
		s.postRecognition(recognitionEvent{turn: turn, ev: ev})
	})
	if err != nil {
		s.logger.Error("failed to start recognition", "session", s.ID, "turn", turn, "error", err)
		return
	}
	s.streaming = true
	for _, frame := range s.backlog.Drain() {
		if err := s.gateway.SendAudio(frame); err != nil {
			s.streaming = false
			return
		}
	}
}

func (s *Session) stopRecognition() {
	s.gateway.Stop()
	s.streaming = false
}

func (s *Session) onSpeechStop() {
	if s.state != StateListening {
		return
	}
	turn := s.turns.ID()
	s.timing.speechStop = s.now()
	s.setState(StateWaitingForRecognition)
	s.send(ClientMessage{Type: MsgSpeechStop, TurnID: turn})

	if s.streaming {
		if err := s.gateway.Finalize(); err != nil {
			s.logger.Warn("failed to finalize recognition", "session", s.ID, "turn", turn, "error", err)
		}
	}
	if text := strings.TrimSpace(s.finalText); text != "" {
		s.think(text)
		return
	}
	s.startPatience(turn)
}

func (s *Session) startPatience(turn int64) {
	s.stopPatience()
	s.patienceGen++
	gen := s.patienceGen
	ctx, cancel := context.WithCancel(s.ctx)
	s.patienceCancel = cancel

	interval, attempts := s.cfg.PatienceInterval, s.cfg.PatienceAttempts
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for attempt := 1; attempt <= attempts; attempt++ {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
			s.post(patienceEvent{turn: turn, gen: gen, attempt: attempt})
		}
	}()
}

func (s *Session) stopPatience() {
	if s.patienceCancel != nil {
		s.patienceCancel()
		s.patienceCancel = nil
	}
	s.patienceGen++
}

func (s *Session) handlePatience(e patienceEvent) {
	if e.turn != s.turns.ID() || e.gen != s.patienceGen || s.state != StateWaitingForRecognition {
		return
	}
	if text := strings.TrimSpace(s.finalText); text != "" {
		s.think(text)
		return
	}
	if e.attempt < s.cfg.PatienceAttempts {
		return
	}

	s.stopPatience()
	if text := strings.TrimSpace(s.partialText); text != "" {
		s.logger.Debug("no final transcript, using partial", "session", s.ID, "turn", e.turn)
		s.think(text)
		return
	}
	s.logger.Debug("no speech recognized", "session", s.ID, "turn", e.turn)
	s.stopRecognition()
	s.toIdle()
}

func (s *Session) handleRecognition(e recognitionEvent) {
	if e.turn != s.turns.ID() {
		return
	}
	ev := e.ev
	switch ev.Type {
	case GatewayTranscript:
		if s.state != StateListening && s.state != StateWaitingForRecognition {
			return
		}
		text := strings.TrimSpace(ev.Text)
		if ev.IsFinal {
			if text != "" {
				s.finalText = strings.TrimSpace(s.finalText + " " + text)
				s.timing.recognized = s.now()
			}
			s.partialText = ""
		} else {
			s.partialText = text
		}
		if s.state == StateWaitingForRecognition && s.finalText != "" {
			s.think(s.finalText)
		}

	case GatewayFallback:
		s.send(ClientMessage{Type: MsgFallbackTrigger, TurnID: e.turn, Payload: FallbackPayload{From: ev.From, To: ev.To}})

	case GatewayCritical:
		s.logger.Error("speech recognition unavailable", "session", s.ID, "turn", e.turn, "error", ev.Err)
		s.streaming = false
		s.send(ClientMessage{Type: MsgError, TurnID: e.turn, Message: "speech recognition unavailable"})
		if s.state == StateListening || s.state == StateWaitingForRecognition {
			s.stopPatience()
			s.toIdle()
		}

	case GatewayError:
		s.logger.Warn("recognition provider error", "session", s.ID, "provider", ev.Provider, "error", ev.Err)

	case GatewayOpen, GatewayClose:
		s.logger.Debug("recognition stream "+string(ev.Type), "session", s.ID, "provider", ev.Provider)
	}
}

// think hands the recognized utterance to generation.
func (s *Session) think(text string) {
	s.stopPatience()
	s.stopRecognition()

	tc := s.turns.Current()
	s.timing.thinking = s.now()
	if s.timing.recognized.IsZero() {
		s.timing.recognized = s.timing.thinking
	}
	s.setState(StateThinking)
	s.send(ClientMessage{Type: MsgStateThinking, TurnID: tc.ID})

	s.conv.AddMessage(RoleUser, text)
	s.appendTranscript(RoleUser, text, tc.ID)

	go s.runTurn(tc, s.conv.Prompt())
}

// runTurn performs the optional lookup, generation and synthesis of one
// turn off the actor goroutine.
func (s *Session) runTurn(tc TurnContext, messages []Message) {
	if s.needsLookup(tc, messages) {
		s.post(searchingEvent{turn: tc.ID})
		if answer := s.lookup(tc, messages[len(messages)-1].Content); answer != "" {
			last := messages[len(messages)-1]
			messages = append(messages[:len(messages)-1:len(messages)-1],
				Message{Role: RoleSystem, Content: "Search results: " + answer}, last)
		}
	}
	if !tc.IsCurrent() {
		return
	}

	genCtx, cancel := context.WithTimeout(tc, s.cfg.LLMTimeout)
	defer cancel()

	pipeline := NewPipeline(s.providers.TTS, PipelineConfig{
		Voice:         s.conv.GetCurrentVoice(),
		Language:      s.conv.GetCurrentLanguage(),
		MinUnitChars:  s.cfg.MinUnitChars,
		Streaming:     s.cfg.StreamingTTS,
		MaxConcurrent: s.cfg.MaxConcurrentSynthesis,
		TTSTimeout:    s.cfg.TTSTimeout,
	}, s.logger)

	text, err := pipeline.Run(tc, s.providers.LLM.Stream(genCtx, messages), func(ev PipelineEvent) {
		s.post(pipelineEvent{turn: tc.ID, ev: ev})
	})
	s.post(turnDoneEvent{turn: tc.ID, text: text, err: err})
}

func (s *Session) needsLookup(tc TurnContext, messages []Message) bool {
	if s.providers.Classifier == nil || s.providers.Lookup == nil || len(messages) == 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(tc, s.cfg.IntentTimeout)
	defer cancel()
	needs, err := s.providers.Classifier.NeedsLookup(ctx, messages[len(messages)-1].Content)
	if err != nil {
		s.logger.Warn("intent classification failed", "session", s.ID, "turn", tc.ID, "error", err)
		return false
	}
	return needs && tc.IsCurrent()
}

func (s *Session) lookup(tc TurnContext, query string) string {
	ctx, cancel := context.WithTimeout(tc, s.cfg.LookupTimeout)
	defer cancel()
	answer, err := s.providers.Lookup.Lookup(ctx, query)
	if err != nil {
		s.logger.Warn("lookup failed", "session", s.ID, "turn", tc.ID, "provider", s.providers.Lookup.Name(), "error", err)
		return ""
	}
	return strings.TrimSpace(answer)
}

func (s *Session) handlePipeline(e pipelineEvent) {
	if e.turn != s.turns.ID() || (s.state != StateThinking && s.state != StateSpeaking) {
		return
	}
	ev := e.ev
	switch ev.Type {
	case PipelineFirstToken:
		s.timing.firstToken = s.now()

	case PipelineUnitDispatched:
		if s.state == StateThinking {
			s.startSpeaking(e.turn)
		}

	case PipelineAudio, PipelineAudioChunk:
		if s.timing.firstAudio.IsZero() {
			s.timing.firstAudio = s.now()
		}
		if s.echo != nil {
			s.echo.RecordPlayedAudio(ev.Audio)
		}
		if ev.Type == PipelineAudio {
			s.send(ClientMessage{Type: MsgTTSAudioFull, TurnID: e.turn, TTSID: s.epoch, Payload: AudioPayload{Audio: ev.Audio}})
		} else {
			s.send(ClientMessage{Type: MsgTTSAudio, TurnID: e.turn, TTSID: s.epoch, Audio: ev.Audio})
		}

	case PipelineUnitFailed:
		s.logger.Warn("skipped sentence unit", "session", s.ID, "turn", e.turn, "seq", ev.Unit.Seq, "error", ev.Err)
	}
}

func (s *Session) startSpeaking(turn int64) {
	s.setState(StateSpeaking)
	s.synth = SynthesisPlaying
	s.epoch++
	s.vad.SetEchoMode(true)
	s.micDeafUntil = s.now().Add(s.cfg.MicDeafWindow)
	s.bargeIn = 0
	s.send(ClientMessage{Type: MsgTTSStart, TurnID: turn, TTSID: s.epoch})
}

func (s *Session) stopSpeaking() bool {
	wasPlaying := s.synth == SynthesisPlaying
	s.synth = SynthesisIdle
	s.vad.SetEchoMode(false)
	s.micDeafUntil = time.Time{}
	if s.echo != nil {
		s.echo.ClearEchoBuffer()
	}
	return wasPlaying
}

func (s *Session) handleTurnDone(e turnDoneEvent) {
	if e.turn != s.turns.ID() || errors.Is(e.err, ErrStaleTurn) {
		return
	}
	if s.state != StateThinking && s.state != StateSpeaking {
		return
	}
	wasPlaying := s.stopSpeaking()

	if e.err != nil {
		s.logger.Error("turn failed", "session", s.ID, "turn", e.turn, "error", e.err)
		if wasPlaying {
			s.send(ClientMessage{Type: MsgTTSKill, TurnID: e.turn, TTSID: s.epoch})
		}
		s.send(ClientMessage{Type: MsgError, TurnID: e.turn, Message: "response generation failed"})
		s.toIdle()
		return
	}

	if text := strings.TrimSpace(e.text); text != "" {
		s.conv.AddMessage(RoleAssistant, text)
		s.appendTranscript(RoleAssistant, text, e.turn)
	}
	if wasPlaying {
		s.send(ClientMessage{Type: MsgTTSEnd, TurnID: e.turn, TTSID: s.epoch})
	}

	m := s.turnMetrics()
	s.snapMu.Lock()
	s.metrics = append(s.metrics, MetricsRecord{TurnID: e.turn, TurnMetrics: m})
	s.snapMu.Unlock()
	s.send(ClientMessage{Type: MsgMetricsUpdate, TurnID: e.turn, TurnMetrics: &m})

	s.toIdle()
	s.persist()
}

func (s *Session) toIdle() {
	s.setState(StateIdle)
	s.vad.Reset()
	s.send(ClientMessage{Type: MsgStateListening, TurnID: s.turns.ID()})
}

// classifyBargeIn counts sustained user speech while the agent holds the
// floor. The counter decays by one per non-speech frame.
func (s *Session) classifyBargeIn(frame []byte, res VADResult) {
	if s.now().Before(s.micDeafUntil) {
		return
	}
	speech := res.Speech
	if speech && s.echo != nil && s.echo.IsEcho(frame) {
		speech = false
	}
	if speech {
		s.bargeIn++
	} else if s.bargeIn > 0 {
		s.bargeIn--
	}
	if s.bargeIn >= s.cfg.BargeInFrames {
		s.logger.Info("barge-in detected", "session", s.ID, "turn", s.turns.ID(), "frames", s.bargeIn)
		s.hardReset()
	}
}

// hardReset invalidates all work of the current turn and starts listening
// on a fresh one.
func (s *Session) hardReset() {
	old := s.turns.ID()
	s.stopPatience()
	s.stopRecognition()
	tc := s.turns.Next()

	s.stopSpeaking()
	s.send(ClientMessage{Type: MsgTTSKill, TurnID: old, TTSID: s.epoch})
	s.vad.MarkSpeaking()
	s.beginTurn(tc)
}

func (s *Session) handleControl(msg ControlMessage) {
	switch msg.Type {
	case MsgUserStop:
		s.logger.Info("user stop", "session", s.ID, "turn", s.turns.ID(), "state", s.state)
		s.hardReset()
	case MsgContextUpdate:
		s.conv.SetExtraContext(msg.Context)
		s.logger.Debug("context updated", "session", s.ID, "length", len(msg.Context))
	default:
		s.logger.Debug("ignoring control message", "session", s.ID, "type", msg.Type)
	}
}

func (s *Session) appendTranscript(role Role, text string, turn int64) {
	entry := TranscriptEntry{Role: role, Text: text, TurnID: turn, Timestamp: s.now()}
	s.snapMu.Lock()
	s.transcript = append(s.transcript, entry)
	s.snapMu.Unlock()
	s.send(ClientMessage{Type: MsgTranscriptUpdate, TurnID: turn, Payload: entry})
}

func (s *Session) turnMetrics() TurnMetrics {
	t := s.timing
	return TurnMetrics{
		STT:  millisBetween(t.speechStop, t.recognized),
		LLM:  millisBetween(t.thinking, t.firstToken),
		TTFT: millisBetween(t.thinking, t.firstAudio),
		E2E:  millisBetween(t.speechStop, t.firstAudio),
	}
}

func millisBetween(from, to time.Time) int64 {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from).Milliseconds()
}

func (s *Session) persist() {
	if s.store == nil {
		return
	}
	snap := s.Snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Save(ctx, snap); err != nil {
			s.logger.Warn("failed to save session", "session", snap.ID, "error", err)
		}
	}()
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.logger.Debug("state change", "session", s.ID, "from", s.state, "to", st, "turn", s.turns.ID())
	s.state = st
}

func (s *Session) send(msg ClientMessage) {
	if err := s.transport.Send(msg); err != nil {
		s.logger.Warn("failed to send message", "session", s.ID, "type", msg.Type, "error", err)
	}
}

// State returns the orchestrator state. Only meaningful from the Run
// goroutine or after Run has returned.
func (s *Session) State() State {
	return s.state
}
