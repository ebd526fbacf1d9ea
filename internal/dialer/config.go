package dialer

import (
	"net"
	"net/netip"
	"time"
)

// Config holds settings shared by every dialer.
type Config struct {
	// DialTimeout bounds DNS lookup and TCP connect.
	DialTimeout time.Duration
	// NegotiationTimeout bounds the TLS and proxy handshakes with an
	// upstream proxy. Zero disables it.
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig
	// LocalAddr, if set, is the source address for direct dials.
	LocalAddr net.Addr
	// AllowIP, if set, vets every address a direct dial connects to, after
	// name resolution. A non-nil error aborts that connection attempt. Proxy
	// dialers do not apply it to the upstream proxy's own address.
	AllowIP func(netip.Addr) error
}
