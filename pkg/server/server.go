// Package server exposes sessions over websockets: binary frames carry
// 16 kHz mono PCM from the client, text frames carry JSON control messages
// in both directions.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/lokutor-ai/turncore/pkg/logging"
	"github.com/lokutor-ai/turncore/pkg/orchestrator"
	"github.com/lokutor-ai/turncore/pkg/store"
)

var (
	errClientGone   = errors.New("client disconnected")
	errSessionEnded = errors.New("session ended")
)

type Options struct {
	Path            string
	OriginPatterns  []string
	ReadLimit       int64
	WriteTimeout    time.Duration
	OutboxSize      int
	ShutdownTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		Path:            "/ws",
		ReadLimit:       1 << 20,
		WriteTimeout:    5 * time.Second,
		OutboxSize:      1024,
		ShutdownTimeout: 5 * time.Second,
	}
}

type Server struct {
	orch   *orchestrator.Orchestrator
	stores *store.Tiered
	logger *logging.Logger
	opts   Options

	active sync.WaitGroup
}

// New creates a server. stores may be nil to disable resume and archive.
func New(orch *orchestrator.Orchestrator, stores *store.Tiered, logger *logging.Logger, opts Options) *Server {
	if logger == nil {
		logger = logging.NewFromCore(zapcore.NewNopCore())
	}
	def := DefaultOptions()
	if opts.Path == "" {
		opts.Path = def.Path
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = def.OutboxSize
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = def.ShutdownTimeout
	}
	return &Server{orch: orch, stores: stores, logger: logger, opts: opts}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.opts.Path, s)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down and waits
// for open sessions to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", addr, "path", s.opts.Path)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		s.active.Wait()
		return err
	})
	return g.Wait()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.active.Add(1)
	defer s.active.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
	if err != nil {
		s.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.opts.ReadLimit)

	ctx := r.Context()
	tr := newTransport(s.opts.OutboxSize)
	requested := r.URL.Query().Get("session")
	sess, err := s.orch.NewSession(requested, tr)
	if err != nil {
		s.logger.Error("failed to create session", "error", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	log := s.logger.With("session", sess.ID, "remote", r.RemoteAddr)

	payload := orchestrator.SessionPayload{ID: sess.ID}
	if requested != "" {
		if snap, ok := s.restore(ctx, log, requested); ok {
			sess.Restore(snap)
			payload.Resumed = true
			payload.Transcript = snap.Transcript
		}
	}
	_ = tr.Send(orchestrator.ClientMessage{Type: orchestrator.MsgSession, Payload: payload})
	log.Info("client connected", "resumed", payload.Resumed)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tr.writeLoop(gctx, conn, s.opts.WriteTimeout)
	})
	g.Go(func() error {
		if err := sess.Run(gctx); err != nil {
			return err
		}
		return errSessionEnded
	})
	g.Go(func() error {
		return s.readLoop(gctx, conn, sess, log)
	})

	err = g.Wait()
	sess.Close()
	<-sess.Done()
	s.archive(log, sess)

	switch {
	case errors.Is(err, errClientGone), errors.Is(err, errSessionEnded), errors.Is(err, context.Canceled):
		log.Info("client disconnected")
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		log.Warn("connection failed", "error", err)
		conn.Close(websocket.StatusInternalError, "")
	}
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sess *orchestrator.Session, log *logging.Logger) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, io.EOF) {
				return errClientGone
			}
			return err
		}

		switch typ {
		case websocket.MessageBinary:
			err = sess.PushAudio(data)
		case websocket.MessageText:
			var msg orchestrator.ControlMessage
			if uerr := sonic.Unmarshal(data, &msg); uerr != nil {
				log.Warn("invalid control message", "error", uerr)
				continue
			}
			err = sess.HandleControl(msg)
		}
		if errors.Is(err, orchestrator.ErrSessionClosed) {
			return errSessionEnded
		}
	}
}

func (s *Server) restore(ctx context.Context, log *logging.Logger, id string) (orchestrator.Snapshot, bool) {
	if s.stores == nil {
		return orchestrator.Snapshot{}, false
	}
	lctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	snap, err := s.stores.Load(lctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("failed to load session", "error", err)
		}
		return orchestrator.Snapshot{}, false
	}
	return snap, true
}

func (s *Server) archive(log *logging.Logger, sess *orchestrator.Session) {
	if s.stores == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.stores.ArchiveSnapshot(ctx, sess.Snapshot()); err != nil {
		log.Warn("failed to archive session", "error", err)
	}
}
