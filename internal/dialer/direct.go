package dialer

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

type directDialer struct {
	dialer net.Dialer
}

// NewDirectDialer returns a Dialer that connects straight to the destination.
func NewDirectDialer(cfg Config) Dialer {
	d := &directDialer{dialer: net.Dialer{
		Timeout:         cfg.DialTimeout,
		KeepAliveConfig: cfg.KeepAlive,
		LocalAddr:       cfg.LocalAddr,
	}}
	if cfg.AllowIP != nil {
		d.dialer.ControlContext = allowIPControl(cfg.AllowIP)
	}
	return d
}

// allowIPControl runs allow on the resolved address of each connection
// attempt, before the socket connects.
func allowIPControl(allow func(netip.Addr) error) func(context.Context, string, string, syscall.RawConn) error {
	return func(_ context.Context, _, address string, _ syscall.RawConn) error {
		ap, err := netip.ParseAddrPort(address)
		if err != nil {
			return fmt.Errorf("unexpected dial address %q: %w", address, err)
		}
		return allow(ap.Addr().Unmap())
	}
}

// proxyHopConfig is cfg for dialing an upstream proxy itself.
func proxyHopConfig(cfg Config) Config {
	cfg.AllowIP = nil
	return cfg
}

func (d *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	return conn, nil
}
