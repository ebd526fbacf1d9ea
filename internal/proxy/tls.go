package proxy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
)

// TLSConfig describes the server side of a TLS-wrapped SOCKS listener.
// Certificates and ClientCAs, when set, take precedence over the file paths.
type TLSConfig struct {
	CertFile     string
	KeyFile      string
	ClientCAFile string
	// RequireClientCert rejects clients without a certificate signed by
	// the client CAs.
	RequireClientCert bool

	Certificates []tls.Certificate
	ClientCAs    *x509.CertPool
}

// ServerConfig builds the *tls.Config for the listener.
func (c TLSConfig) ServerConfig() (*tls.Config, error) {
	certs := c.Certificates
	if len(certs) == 0 {
		if c.CertFile == "" || c.KeyFile == "" {
			return nil, errors.New("tls: certificate and key are required")
		}
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tls: load key pair: %w", err)
		}
		certs = []tls.Certificate{cert}
	}

	pool := c.ClientCAs
	if pool == nil && c.ClientCAFile != "" {
		pem, err := os.ReadFile(c.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("tls: read client CA: %w", err)
		}
		pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("tls: no certificates in %s", c.ClientCAFile)
		}
	}
	if c.RequireClientCert && pool == nil {
		return nil, errors.New("tls: client certificates required but no client CA configured")
	}

	cfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: certs,
		ClientCAs:    pool,
		ClientAuth:   tls.NoClientCert,
	}
	switch {
	case c.RequireClientCert:
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	case pool != nil:
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	return cfg, nil
}

// TLSListenFunc wraps base so accepted connections are TLS server
// connections. The handshake is deferred to the connection's handler so a
// slow or failing client never blocks Accept.
func TLSListenFunc(base ListenFunc, c TLSConfig) (ListenFunc, error) {
	cfg, err := c.ServerConfig()
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, network, addr string) (net.Listener, error) {
		ln, err := base(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return tls.NewListener(ln, cfg), nil
	}, nil
}

// handshaker is implemented by *tls.Conn.
type handshaker interface {
	HandshakeContext(ctx context.Context) error
}
