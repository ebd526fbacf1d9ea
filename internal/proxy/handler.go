package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/socksd/internal/auth"
	"github.com/die-net/socksd/internal/metrics"
	"github.com/die-net/socksd/internal/session"
	"github.com/die-net/socksd/internal/socks5"
)

var (
	ErrNoAcceptableMethod = errors.New("no acceptable authentication method")
	ErrCommandNotAllowed  = errors.New("command not supported")
)

// Handler serves one client session from greeting to teardown.
type Handler interface {
	Handle(ctx context.Context, s *session.Session) error
}

// HandlerFactory produces a fresh Handler for each accepted connection.
type HandlerFactory interface {
	NewHandler() Handler
}

// HandlerFactoryFunc adapts a constructor function to HandlerFactory.
type HandlerFactoryFunc func() Handler

func (f HandlerFactoryFunc) NewHandler() Handler { return f() }

// UDPAssociator serves an accepted UDP ASSOCIATE request. It owns the session
// from then on: it must send the command reply and return when the
// association ends.
type UDPAssociator interface {
	Associate(ctx context.Context, s *session.Session, client socks5.Addr) error
}

// NewHandlerFactory returns a factory for SOCKS5 handlers driven by cfg.
func NewHandlerFactory(cfg Config) HandlerFactory {
	c := &cfg
	return HandlerFactoryFunc(func() Handler {
		return &socksHandler{cfg: c}
	})
}

type socksHandler struct {
	cfg   *Config
	state State
}

func (h *socksHandler) setState(s *session.Session, st State) {
	h.state = st
	s.SetState(st.String())
}

// Handle runs the state machine. Every return is fatal to the session; the
// caller closes it.
func (h *socksHandler) Handle(ctx context.Context, s *session.Session) (err error) {
	defer func() {
		if err != nil && h.state < StateRelaying {
			h.cfg.Metrics.HandshakeFailed(h.state.String())
		}
	}()

	if h.cfg.NegotiationTimeout > 0 {
		_ = s.SetDeadline(time.Now().Add(h.cfg.NegotiationTimeout))
	}

	if hs, ok := s.Conn().(handshaker); ok {
		if err := hs.HandshakeContext(ctx); err != nil {
			return fmt.Errorf("tls handshake: %w", err)
		}
	}

	if err := h.negotiate(ctx, s); err != nil {
		return err
	}

	h.setState(s, StateParsingCommand)
	var req socks5.Request
	if _, err := s.ReadMessage(&req); err != nil {
		if status, ok := requestErrorStatus(err); ok {
			_ = h.reply(s, status, socks5.ZeroAddr(socks5.AddrIPv4))
		}
		return fmt.Errorf("read request: %w", err)
	}
	s.SetDestination(req.Addr)

	zerolog.Ctx(ctx).Debug().
		Stringer("command", req.Command).
		Stringer("destination", req.Addr).
		Msg("request")

	if !req.Command.Valid() {
		_ = h.reply(s, socks5.StatusCommandNotSupported, socks5.ZeroAddr(req.Addr.Type))
		return fmt.Errorf("%w: %s", ErrCommandNotAllowed, req.Command)
	}
	if err := h.cfg.Rules.Check(req.Addr); err != nil {
		_ = h.reply(s, socks5.StatusNotAllowed, socks5.ZeroAddr(req.Addr.Type))
		return err
	}

	switch req.Command {
	case socks5.CmdConnect:
		return h.connect(ctx, s, req.Addr)
	case socks5.CmdBind:
		if !h.cfg.AllowBind {
			break
		}
		return h.bind(ctx, s, req.Addr)
	case socks5.CmdUDPAssociate:
		if h.cfg.UDPAssociator == nil {
			break
		}
		h.setState(s, StateRelaying)
		_ = s.SetDeadline(time.Time{})
		return h.cfg.UDPAssociator.Associate(ctx, s, req.Addr)
	}

	_ = h.reply(s, socks5.StatusCommandNotSupported, socks5.ZeroAddr(req.Addr.Type))
	return fmt.Errorf("%w: %s", ErrCommandNotAllowed, req.Command)
}

// negotiate selects an authentication method and runs its sub-negotiation.
func (h *socksHandler) negotiate(ctx context.Context, s *session.Session) error {
	h.setState(s, StateNegotiatingMethod)

	var greeting socks5.MethodRequest
	if _, err := s.ReadMessage(&greeting); err != nil {
		if socks5.IsProtocolError(err) {
			_, _ = s.WriteMessage(&socks5.MethodReply{Method: socks5.MethodNoAcceptable})
		}
		return fmt.Errorf("read greeting: %w", err)
	}

	a, ok := auth.Select(h.cfg.authenticators(), &greeting)
	if !ok {
		_, _ = s.WriteMessage(&socks5.MethodReply{Method: socks5.MethodNoAcceptable})
		return fmt.Errorf("%w: offered %v", ErrNoAcceptableMethod, greeting.Methods)
	}
	method := a.Method()
	s.SetMethod(method)
	if _, err := s.WriteMessage(&socks5.MethodReply{Method: method}); err != nil {
		return fmt.Errorf("write method reply: %w", err)
	}

	switch method {
	case socks5.MethodNone:
		return a.Authenticate(ctx, &auth.Request{Method: method}, s)
	case socks5.MethodUserPass:
		return h.authenticateUserPass(ctx, s, a)
	default:
		return fmt.Errorf("%w: %s", socks5.ErrUnsupportedMethod, method)
	}
}

func (h *socksHandler) authenticateUserPass(ctx context.Context, s *session.Session, a auth.Authenticator) error {
	h.setState(s, StateAuthenticating)

	var up socks5.UserPassRequest
	if _, err := s.ReadMessage(&up); err != nil {
		if socks5.IsProtocolError(err) {
			_, _ = s.WriteMessage(&socks5.UserPassReply{Status: socks5.UserPassFailure})
		}
		return fmt.Errorf("read credentials: %w", err)
	}

	req := &auth.Request{Method: socks5.MethodUserPass, Username: up.Username, Password: up.Password}
	if err := a.Authenticate(ctx, req, s); err != nil {
		_, _ = s.WriteMessage(&socks5.UserPassReply{Status: socks5.UserPassFailure})
		return err
	}
	if _, err := s.WriteMessage(&socks5.UserPassReply{Status: socks5.UserPassSuccess}); err != nil {
		return fmt.Errorf("write auth reply: %w", err)
	}
	return nil
}

func (h *socksHandler) connect(ctx context.Context, s *session.Session, dst socks5.Addr) error {
	h.setState(s, StateConnectingUpstream)

	start := time.Now()
	up, err := h.cfg.Dialer.DialContext(ctx, "tcp", dst.String())
	h.cfg.Metrics.ObserveDial(time.Since(start), err)
	if err != nil {
		status := StatusForError(err)
		_ = h.reply(s, status, socks5.ZeroAddr(dst.Type))
		return &UpstreamError{Addr: dst.String(), Status: status, Err: err}
	}

	if err := h.reply(s, socks5.StatusSucceeded, socks5.AddrFromNetAddr(up.LocalAddr())); err != nil {
		_ = up.Close()
		return fmt.Errorf("write reply: %w", err)
	}
	return h.relay(ctx, s, up)
}

func (h *socksHandler) relay(ctx context.Context, s *session.Session, upstream net.Conn) error {
	h.setState(s, StateRelaying)
	_ = s.SetDeadline(time.Time{})
	s.SetIdleTimeout(h.cfg.IdleTimeout)

	res, err := CopyBidirectional(ctx, s, upstream)
	h.cfg.Metrics.AddBytes(metrics.Upload, res.Sent)
	h.cfg.Metrics.AddBytes(metrics.Download, res.Received)

	zerolog.Ctx(ctx).Debug().
		Int64("sent", res.Sent).
		Int64("received", res.Received).
		Msg("relay finished")
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}

func (h *socksHandler) reply(s *session.Session, status socks5.Status, bind socks5.Addr) error {
	h.cfg.Metrics.Reply(status)
	_, err := s.WriteMessage(&socks5.Reply{Status: status, Bind: bind})
	return err
}

// requestErrorStatus picks the reply for a request that failed to decode.
// Truncated and transport failures get none.
func requestErrorStatus(err error) (socks5.Status, bool) {
	switch {
	case errors.Is(err, socks5.ErrAddrType):
		return socks5.StatusAddressTypeNotSupported, true
	case errors.Is(err, socks5.ErrVersion), errors.Is(err, socks5.ErrDomainLength):
		return socks5.StatusGeneralFailure, true
	}
	return 0, false
}
