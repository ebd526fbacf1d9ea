package proxy

import (
	"context"
	"errors"
	"maps"
	"net"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/die-net/socksd/internal/session"
)

// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown or
// Close.
var ErrServerClosed = errors.New("socks5: server closed")

// Server accepts SOCKS5 clients and hands each one to a fresh Handler.
//
// Shutdown stops accepting and lets in-flight sessions drain until its
// context ends, then closes whatever is left. Close does the latter
// immediately.
type Server struct {
	Config   Config
	Factory  HandlerFactory
	Executor Executor
	Listen   ListenFunc

	registry *session.Registry
	limiter  *rate.Limiter

	// quitCtx ends accepting; baseCtx, the parent of every handler's
	// context, ends only when sessions are force-closed.
	quitCtx    context.Context
	quit       context.CancelFunc
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu         sync.Mutex
	listeners  map[net.Listener]struct{}
	inShutdown atomic.Bool
}

// NewServer returns a server with the default handler factory, a pool
// executor sized by cfg.Workers, and a keepalive TCP listener.
func NewServer(cfg Config) *Server {
	s := &Server{
		Config:    cfg,
		Factory:   NewHandlerFactory(cfg),
		Executor:  NewPoolExecutor(cfg.Workers),
		Listen:    ListenTCP(ListenOptions{KeepAlive: cfg.KeepAlive}),
		listeners: make(map[net.Listener]struct{}),
	}
	s.registry = session.NewRegistry(session.Options{
		OnOpen: func(*session.Session) { cfg.Metrics.SessionOpened() },
	})
	if cfg.AcceptRate > 0 {
		burst := max(cfg.AcceptBurst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}
	s.quitCtx, s.quit = context.WithCancel(context.Background())
	s.baseCtx, s.baseCancel = context.WithCancel(context.Background())
	return s
}

// Registry returns the table of live sessions.
func (s *Server) Registry() *session.Registry { return s.registry }

// Addr returns the address of the first active listener, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ln := range s.listeners {
		return ln.Addr()
	}
	return nil
}

// ListenAndServe listens on addr with s.Listen and serves it.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if s.inShutdown.Load() {
		return ErrServerClosed
	}
	ln, err := s.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ln fails, ctx is done, or the server
// is shut down. Temporary accept errors are retried with backoff; any other
// accept error is returned. Serve always closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	if !s.trackListener(ln, true) {
		return ErrServerClosed
	}
	defer s.trackListener(ln, false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopQuit := context.AfterFunc(s.quitCtx, cancel)
	defer stopQuit()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	log := s.Config.Logger.With().Stringer("listen", ln.Addr()).Logger()
	log.Info().Msg("socks5 proxy listening")

	var tempDelay time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.inShutdown.Load() || ctx.Err() != nil {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() { //nolint:staticcheck // Same check net/http uses for EMFILE and friends.
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				tempDelay = min(tempDelay, time.Second)
				log.Warn().Err(err).Dur("retry_in", tempDelay).Msg("accept error")
				timer := time.NewTimer(tempDelay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return ErrServerClosed
				}
				continue
			}
			return err
		}
		tempDelay = 0

		if err := s.admit(ctx); err != nil {
			_ = c.Close()
			if s.inShutdown.Load() || ctx.Err() != nil {
				return ErrServerClosed
			}
			return err
		}

		sess := s.registry.New(c)
		if err := s.Executor.Go(ctx, func() { s.serveSession(sess) }); err != nil {
			_ = sess.Close()
			return ErrServerClosed
		}
	}
}

func (s *Server) admit(ctx context.Context) error {
	if s.limiter == nil || s.limiter.Allow() {
		return nil
	}
	s.Config.Metrics.AcceptThrottled()
	return s.limiter.Wait(ctx)
}

func (s *Server) serveSession(sess *session.Session) {
	log := s.Config.Logger.With().
		Uint64("session", sess.ID()).
		Str("trace_id", sess.TraceID()).
		Stringer("client", sess.RemoteAddr()).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("handler panic")
		}
		_ = sess.Close()
		sess.SetState(StateClosed.String())
	}()

	h := s.Factory.NewHandler()
	err := h.Handle(log.WithContext(s.baseCtx), sess)
	if err == nil || isTeardown(err) {
		return
	}
	ev := log.Debug()
	if s.Config.Verbose {
		ev = log.Warn()
	}
	ev.Err(err).Str("state", sess.State()).Msg("session failed")
}

func (s *Server) trackListener(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.inShutdown.Load() {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ln := range s.listeners {
		_ = ln.Close()
	}
}

// Shutdown stops accepting, waits for in-flight sessions to finish until ctx
// is done, then force-closes the rest. It returns ctx's error if sessions had
// to be force-closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.quit()
	s.closeListeners()

	err := s.Executor.Wait(ctx)
	if err != nil {
		n := s.registry.CloseAll()
		s.Config.Logger.Info().Int("sessions", n).Msg("force-closed sessions after drain timeout")
	}
	s.baseCancel()
	return err
}

// Close stops accepting and closes every live session.
func (s *Server) Close() error {
	s.inShutdown.Store(true)
	s.quit()
	s.closeListeners()
	s.baseCancel()
	s.registry.CloseAll()
	return nil
}

// Snapshot describes a live session for management endpoints.
type Snapshot struct {
	ID          uint64    `json:"id"`
	TraceID     string    `json:"trace_id"`
	Client      string    `json:"client"`
	State       string    `json:"state"`
	Method      string    `json:"method"`
	Principal   string    `json:"principal,omitempty"`
	Destination string    `json:"destination,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// Snapshots lists live sessions in id order.
func (s *Server) Snapshots() []Snapshot {
	sessions := s.registry.Sessions()
	out := make([]Snapshot, 0, len(sessions))
	for _, id := range slices.Sorted(maps.Keys(sessions)) {
		sess := sessions[id]
		snap := Snapshot{
			ID:        sess.ID(),
			TraceID:   sess.TraceID(),
			Client:    sess.RemoteAddr().String(),
			State:     sess.State(),
			Method:    sess.Method().String(),
			StartedAt: sess.StartedAt(),
		}
		if p, ok := sess.Principal(); ok {
			snap.Principal = p.Name()
		}
		if d, ok := sess.Destination(); ok {
			snap.Destination = d.String()
		}
		out = append(out, snap)
	}
	return out
}
