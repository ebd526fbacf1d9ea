package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/socksd/internal/session"
	"github.com/die-net/socksd/internal/socks5"
)

// ErrUnexpectedPeer is returned when the connection accepted for BIND does
// not come from the requested address.
var ErrUnexpectedPeer = errors.New("bind: inbound connection from unexpected peer")

// bind implements the BIND command: listen, report the listening address,
// accept one inbound connection, report its address, then relay.
func (h *socksHandler) bind(ctx context.Context, s *session.Session, dst socks5.Addr) error {
	h.setState(s, StateConnectingUpstream)

	ip := h.cfg.BindIP
	if !ip.IsValid() {
		ip = socks5.AddrFromNetAddr(s.LocalAddr()).IP
	}
	lc := net.ListenConfig{KeepAliveConfig: h.cfg.KeepAlive}
	ln, err := lc.Listen(ctx, "tcp", netip.AddrPortFrom(ip, 0).String())
	if err != nil {
		_ = h.reply(s, socks5.StatusGeneralFailure, socks5.ZeroAddr(dst.Type))
		return fmt.Errorf("bind listen: %w", err)
	}
	defer ln.Close()

	if err := h.reply(s, socks5.StatusSucceeded, socks5.AddrFromNetAddr(ln.Addr())); err != nil {
		return fmt.Errorf("write bind reply: %w", err)
	}
	_ = s.SetDeadline(time.Time{})

	zerolog.Ctx(ctx).Debug().Stringer("listen", ln.Addr()).Msg("bind waiting for peer")

	if tl, ok := ln.(*net.TCPListener); ok && h.cfg.NegotiationTimeout > 0 {
		_ = tl.SetDeadline(time.Now().Add(h.cfg.NegotiationTimeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	w := watchHangup(s.Conn(), ln)
	peer, err := ln.Accept()
	early, hangErr := w.stop()
	if hangErr != nil {
		if peer != nil {
			_ = peer.Close()
		}
		return fmt.Errorf("bind: client left while waiting for peer: %w", hangErr)
	}
	if err != nil {
		status := socks5.StatusGeneralFailure
		if isTimeout(err) {
			status = socks5.StatusTTLExpired
		}
		_ = h.reply(s, status, socks5.ZeroAddr(dst.Type))
		return fmt.Errorf("bind accept: %w", err)
	}
	_ = ln.Close()

	peerAddr := socks5.AddrFromNetAddr(peer.RemoteAddr())
	if want, ok := dst.AddrPort(); ok && !want.Addr().IsUnspecified() && want.Addr() != peerAddr.IP {
		_ = peer.Close()
		_ = h.reply(s, socks5.StatusNotAllowed, socks5.ZeroAddr(dst.Type))
		return fmt.Errorf("%w: %s, want %s", ErrUnexpectedPeer, peerAddr, want.Addr())
	}

	if err := h.reply(s, socks5.StatusSucceeded, peerAddr); err != nil {
		_ = peer.Close()
		return fmt.Errorf("write bind reply: %w", err)
	}
	if len(early) > 0 {
		if _, err := peer.Write(early); err != nil {
			_ = peer.Close()
			return fmt.Errorf("bind write to peer: %w", err)
		}
	}
	return h.relay(ctx, s, peer)
}

// hangupWatch reads from the client while BIND waits for its peer, and closes
// the listener if the client connection ends.
type hangupWatch struct {
	conn net.Conn
	done chan struct{}
	buf  [1]byte
	n    int
	err  error
}

func watchHangup(conn net.Conn, ln net.Listener) *hangupWatch {
	w := &hangupWatch{conn: conn, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		w.n, w.err = conn.Read(w.buf[:])
		if w.n == 0 && w.err != nil && !errors.Is(w.err, os.ErrDeadlineExceeded) {
			_ = ln.Close()
		}
	}()
	return w
}

// stop ends the watch. It returns the byte the client sent early, if any, or
// the error that ended the client connection.
func (w *hangupWatch) stop() ([]byte, error) {
	_ = w.conn.SetReadDeadline(time.Unix(1, 0))
	<-w.done
	_ = w.conn.SetReadDeadline(time.Time{})
	if w.n > 0 {
		return w.buf[:w.n], nil
	}
	if w.err != nil && !errors.Is(w.err, os.ErrDeadlineExceeded) {
		return nil, w.err
	}
	return nil, nil
}
