package proxy

import (
	"net"
	"net/netip"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/socksd/internal/auth"
	"github.com/die-net/socksd/internal/dialer"
	"github.com/die-net/socksd/internal/metrics"
)

type Config struct {
	// NegotiationTimeout bounds the TLS handshake and the SOCKS handshake up
	// to the command reply. Zero disables it.
	NegotiationTimeout time.Duration
	// IdleTimeout closes a relaying session after this long without
	// traffic in either direction. Zero disables it.
	IdleTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	Dialer dialer.Dialer

	// Authenticators in server preference order. Empty means no-auth only.
	Authenticators []auth.Authenticator

	Rules *Rules

	// AllowBind enables the BIND command. BindIP is the address BIND
	// listens on; the zero value uses the session's local address.
	AllowBind bool
	BindIP    netip.Addr

	// UDPAssociator serves UDP ASSOCIATE. Nil rejects the command.
	UDPAssociator UDPAssociator

	// Workers caps concurrently served sessions. Zero or less is unbounded.
	Workers int
	// AcceptRate limits new sessions per second, with AcceptBurst headroom.
	// Zero disables the limiter.
	AcceptRate  float64
	AcceptBurst int

	Logger zerolog.Logger
	// Verbose logs per-connection errors at warn instead of debug.
	Verbose bool
	Metrics *metrics.Metrics
}

func (c *Config) authenticators() []auth.Authenticator {
	if len(c.Authenticators) == 0 {
		return []auth.Authenticator{auth.NoAuth{}}
	}
	return c.Authenticators
}
