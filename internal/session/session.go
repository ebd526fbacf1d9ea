// Package session wraps accepted client connections.
//
// A Session owns one transport and tracks whether it is still open. Every
// Session belongs to a Registry, the process-wide table of live sessions:
// sessions are inserted when created and removed, under the same lock that
// marks them closed, when they close. Enumerating a Registry therefore never
// yields a closed session.
package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/die-net/socksd/internal/auth"
	"github.com/die-net/socksd/internal/socks5"
)

// ErrClosed is returned by every read or write on a closed session.
var ErrClosed = errors.New("session closed")

// Session is the server side of one client connection. It implements
// net.Conn so it can be handed to anything that copies bytes.
//
// Close may be called from any goroutine at any time. The attribute accessors
// are safe for concurrent use so management tooling can inspect live sessions
// while their handler runs.
type Session struct {
	id       uint64
	traceID  string
	conn     net.Conn
	registry *Registry
	started  time.Time

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	idleTimeout atomic.Int64 // time.Duration

	mu          sync.Mutex
	method      socks5.Method
	principal   auth.Principal
	destination socks5.Addr
	state       string
	attrs       map[string]any
}

var _ net.Conn = (*Session)(nil)

// ID returns the session id, unique for the lifetime of the process.
func (s *Session) ID() uint64 { return s.id }

// TraceID returns a random identifier used to correlate log lines.
func (s *Session) TraceID() string { return s.traceID }

// StartedAt returns when the session was accepted.
func (s *Session) StartedAt() time.Time { return s.started }

// Conn returns the underlying transport.
func (s *Session) Conn() net.Conn { return s.conn }

// Registry returns the registry managing this session.
func (s *Session) Registry() *Registry { return s.registry }

// RemoteAddr returns the client's address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// LocalAddr returns the address the client connected to.
func (s *Session) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// IsClosed reports whether Close has been called or the transport failed
// with a deadline.
func (s *Session) IsClosed() bool { return s.closed.Load() }

// IsConnected reports whether the session still has a usable transport.
func (s *Session) IsConnected() bool { return !s.closed.Load() && s.conn != nil }

// Read reads raw bytes from the client.
func (s *Session) Read(b []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	s.refreshDeadline()
	n, err := s.conn.Read(b)
	if err != nil {
		err = s.transportError(err)
	}
	return n, err
}

// Write writes raw bytes to the client.
func (s *Session) Write(b []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	s.refreshDeadline()
	n, err := s.conn.Write(b)
	if err != nil {
		err = s.transportError(err)
	}
	return n, err
}

// WriteRange writes b[off:off+n].
func (s *Session) WriteRange(b []byte, off, n int) (int, error) {
	if off < 0 || n < 0 || off+n > len(b) {
		return 0, fmt.Errorf("session write range [%d:%d] out of bounds for %d bytes", off, off+n, len(b))
	}
	return s.Write(b[off : off+n])
}

// ReadMessage decodes one message from the client.
func (s *Session) ReadMessage(m io.ReaderFrom) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return m.ReadFrom(s)
}

// WriteMessage encodes one message to the client.
func (s *Session) WriteMessage(m io.WriterTo) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return m.WriteTo(s)
}

// transportError maps transport failures. A fired deadline closes the session
// exactly as an external Close would; a read on a transport closed underneath
// us reports ErrClosed.
func (s *Session) transportError(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		_ = s.Close()
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if s.closed.Load() || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}

// Close removes the session from its registry and then closes the transport.
// It is idempotent; every call returns the result of the first.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.registry.remove(s)
		s.closeErr = s.conn.Close()
		s.registry.closed(s)
	})
	return s.closeErr
}

// SetDeadline sets the transport read and write deadline.
func (s *Session) SetDeadline(t time.Time) error { return s.conn.SetDeadline(t) }

// SetReadDeadline sets the transport read deadline.
func (s *Session) SetReadDeadline(t time.Time) error { return s.conn.SetReadDeadline(t) }

// SetWriteDeadline sets the transport write deadline.
func (s *Session) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

// SetIdleTimeout pushes the transport deadline d into the future before every
// Read and Write. Zero disables it and clears any deadline it set.
func (s *Session) SetIdleTimeout(d time.Duration) {
	s.idleTimeout.Store(int64(d))
	if d <= 0 {
		_ = s.conn.SetDeadline(time.Time{})
	}
}

func (s *Session) refreshDeadline() {
	if d := time.Duration(s.idleTimeout.Load()); d > 0 {
		_ = s.conn.SetDeadline(time.Now().Add(d))
	}
}
