package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// proxyScheme describes an upstream URL scheme that names a proxy host.
type proxyScheme struct {
	defaultPort string
	build       func(cfg Config, u *url.URL, user, pass string) (Dialer, error)
}

func buildHTTP(cfg Config, u *url.URL, user, pass string) (Dialer, error) {
	return NewHTTPProxyDialer(cfg, u, user, pass)
}

func buildSOCKS5(cfg Config, u *url.URL, user, pass string) (Dialer, error) {
	return NewSOCKS5ProxyDialer(cfg, u.Host, user, pass), nil
}

var proxySchemes = map[string]proxyScheme{
	"http":   {defaultPort: "80", build: buildHTTP},
	"https":  {defaultPort: "443", build: buildHTTP},
	"socks5": {defaultPort: "1080", build: buildSOCKS5},
	// Destinations are always sent to the upstream unresolved, so the
	// remote-DNS spelling is the same dialer.
	"socks5h": {defaultPort: "1080", build: buildSOCKS5},
}

// New parses upstream and constructs the outbound Dialer it names.
//
// Supported schemes:
//   - direct://
//   - http://[user:pass@]host[:port]
//   - https://[user:pass@]host[:port]
//   - socks5://[user:pass@]host[:port] (socks5h:// is accepted as an alias)
//
// A missing port defaults to the scheme's well-known port.
func New(cfg Config, upstream string) (Dialer, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return nil, errors.New("invalid url: path should be empty")
	}

	if u.Scheme == "" {
		return nil, errors.New("invalid url: missing scheme")
	}
	if u.Scheme == "direct" {
		return NewDirectDialer(cfg), nil
	}

	ps, ok := proxySchemes[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, errors.New("invalid url: missing host")
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), ps.defaultPort)
	}

	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}
	return ps.build(cfg, u, user, pass)
}
