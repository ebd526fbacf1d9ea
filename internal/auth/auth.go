// Package auth implements SOCKS5 authentication strategies.
//
// The protocol handler reads whatever sub-negotiation payload the negotiated
// method defines, hands it to the Authenticator registered for that method,
// and writes the reply. Authenticators never touch the wire themselves, and
// the reason carried by a failure is for logs only: the client only ever sees
// a generic failure status.
package auth

import (
	"context"
	"errors"
	"net"

	"github.com/die-net/socksd/internal/socks5"
)

// ErrFailed is wrapped by every authentication failure.
var ErrFailed = errors.New("authentication failed")

// Error is a failed authentication attempt.
type Error struct {
	Method socks5.Method
	Reason string
}

func (e *Error) Error() string {
	return ErrFailed.Error() + " (" + e.Method.String() + "): " + e.Reason
}

func (e *Error) Unwrap() error { return ErrFailed }

// Request carries the negotiated method and its payload.
type Request struct {
	Method   socks5.Method
	Username string
	Password string
}

// Session is the part of a client session an Authenticator may use.
type Session interface {
	RemoteAddr() net.Addr
	SetPrincipal(Principal)
}

// Authenticator decides whether a client may proceed. On success it should
// record the resulting identity with s.SetPrincipal.
type Authenticator interface {
	// Method is the SOCKS5 method code this authenticator serves.
	Method() socks5.Method
	// Authenticate returns nil on success and an error wrapping ErrFailed
	// when the client must be rejected.
	Authenticate(ctx context.Context, req *Request, s Session) error
}

// Select returns the first authenticator, in server preference order, whose
// method the client offered.
func Select(prefs []Authenticator, offered *socks5.MethodRequest) (Authenticator, bool) {
	for _, a := range prefs {
		if offered.Offers(a.Method()) {
			return a, true
		}
	}
	return nil, false
}

// NoAuth accepts every client without credentials.
type NoAuth struct{}

func (NoAuth) Method() socks5.Method { return socks5.MethodNone }

func (NoAuth) Authenticate(context.Context, *Request, Session) error { return nil }
