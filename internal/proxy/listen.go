package proxy

import (
	"context"
	"fmt"
	"net"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
)

// ListenFunc opens a listener for the server.
type ListenFunc func(ctx context.Context, network, addr string) (net.Listener, error)

// ListenOptions configures ListenTCP.
type ListenOptions struct {
	KeepAlive net.KeepAliveConfig
	// ReusePort sets SO_REUSEPORT so several processes can share the port.
	ReusePort bool
}

// ListenTCP returns a ListenFunc whose listeners apply opts.KeepAlive to
// accepted TCP connections.
func ListenTCP(opts ListenOptions) ListenFunc {
	return func(ctx context.Context, network, addr string) (net.Listener, error) {
		lc := net.ListenConfig{}
		if opts.ReusePort {
			if reusePortControl == nil {
				return nil, fmt.Errorf("listen %s %s: SO_REUSEPORT is not supported on this platform", network, addr)
			}
			lc.Control = reusePortControl
		}

		ln, err := lc.Listen(ctx, network, addr)
		if err != nil {
			return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
		}

		return &KeepAliveListener{Listener: ln, KeepAliveConfig: opts.KeepAlive}, nil
	}
}

// KeepAliveListener wraps a net.Listener and applies KeepAliveConfig to any
// accepted *net.TCPConn.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

// Accept accepts the next connection and applies KeepAliveConfig if the
// connection is a *net.TCPConn.
func (l *KeepAliveListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	tc, ok := conn.(*net.TCPConn)
	if ok {
		_ = tc.SetKeepAliveConfig(l.KeepAliveConfig)
	}

	return conn, nil
}

// ProxyProtoListenFunc wraps base so accepted connections may start with a
// PROXY protocol v1 or v2 header, in which case RemoteAddr reports the
// original client. The header is read lazily on first use, bounded by
// headerTimeout.
func ProxyProtoListenFunc(base ListenFunc, headerTimeout time.Duration) ListenFunc {
	return func(ctx context.Context, network, addr string) (net.Listener, error) {
		ln, err := base(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &proxyproto.Listener{Listener: ln, ReadHeaderTimeout: headerTimeout}, nil
	}
}
