package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/die-net/socksd/internal/dialer"
	"github.com/die-net/socksd/internal/socks5"
)

// UpstreamError is a failure to reach the requested destination, together
// with the reply status sent to the client.
type UpstreamError struct {
	Addr   string
	Status socks5.Status
	Err    error
}

func (e *UpstreamError) Error() string {
	return "connect " + e.Addr + " (" + e.Status.String() + "): " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StatusForError maps a dial error to the reply status reported to the
// client. A nil error is success.
func StatusForError(err error) socks5.Status {
	if err == nil {
		return socks5.StatusSucceeded
	}

	var re *socks5.ReplyError
	if errors.As(err, &re) {
		return re.Status
	}
	var he *dialer.HTTPStatusError
	if errors.As(err, &he) {
		return statusForHTTP(he.StatusCode)
	}
	if errors.Is(err, ErrNotAllowed) {
		return socks5.StatusNotAllowed
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return socks5.StatusHostUnreachable
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return socks5.StatusConnectionRefused
	case errors.Is(err, syscall.ENETUNREACH):
		return socks5.StatusNetworkUnreachable
	case errors.Is(err, syscall.EHOSTUNREACH):
		return socks5.StatusHostUnreachable
	case isTimeout(err):
		return socks5.StatusTTLExpired
	}
	return socks5.StatusGeneralFailure
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// statusForHTTP maps an upstream HTTP proxy's CONNECT refusal.
func statusForHTTP(code int) socks5.Status {
	switch code {
	case http.StatusForbidden, http.StatusProxyAuthRequired:
		return socks5.StatusNotAllowed
	case http.StatusBadGateway:
		return socks5.StatusHostUnreachable
	case http.StatusGatewayTimeout:
		return socks5.StatusTTLExpired
	default:
		return socks5.StatusGeneralFailure
	}
}
