package dialer

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/txthinking/socks5"

	socksd "github.com/die-net/socksd/internal/socks5"
	"github.com/die-net/socksd/internal/testutil"
)

// upstreamSOCKS5 is a minimal CONNECT-only SOCKS5 server used as the
// upstream hop.
type upstreamSOCKS5 struct {
	user, pass string
}

func (u upstreamSOCKS5) serve(ctx context.Context, c net.Conn) error {
	var greeting socksd.MethodRequest
	if _, err := greeting.ReadFrom(c); err != nil {
		return err
	}

	method := socksd.MethodNone
	if u.user != "" {
		method = socksd.MethodUserPass
	}
	if !greeting.Offers(method) {
		_, err := (&socksd.MethodReply{Method: socksd.MethodNoAcceptable}).WriteTo(c)
		return err
	}
	if _, err := (&socksd.MethodReply{Method: method}).WriteTo(c); err != nil {
		return err
	}

	if method == socksd.MethodUserPass {
		var up socksd.UserPassRequest
		if _, err := up.ReadFrom(c); err != nil {
			return err
		}
		if up.Username != u.user || up.Password != u.pass {
			_, err := (&socksd.UserPassReply{Status: socksd.UserPassFailure}).WriteTo(c)
			return err
		}
		if _, err := (&socksd.UserPassReply{Status: socksd.UserPassSuccess}).WriteTo(c); err != nil {
			return err
		}
	}

	var req socksd.Request
	if _, err := req.ReadFrom(c); err != nil {
		return err
	}
	if req.Command != socksd.CmdConnect {
		_, err := (&socksd.Reply{Status: socksd.StatusCommandNotSupported, Bind: socksd.ZeroAddr(socksd.AddrIPv4)}).WriteTo(c)
		return err
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Addr.String())
	if err != nil {
		_, _ = (&socksd.Reply{Status: socksd.StatusHostUnreachable, Bind: socksd.ZeroAddr(socksd.AddrIPv4)}).WriteTo(c)
		return err
	}
	defer dst.Close()

	if _, err := (&socksd.Reply{Status: socksd.StatusSucceeded, Bind: socksd.AddrFromNetAddr(dst.LocalAddr())}).WriteTo(c); err != nil {
		return err
	}

	go func() {
		_, _ = io.Copy(dst, c)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
	return nil
}

func TestSOCKS5ProxyDialerConnect(t *testing.T) {
	tests := []struct {
		name     string
		upstream upstreamSOCKS5
		user     string
		pass     string
		wantErr  bool
	}{
		{name: "no auth"},
		{name: "user pass", upstream: upstreamSOCKS5{user: "user", pass: "pass"}, user: "user", pass: "pass"},
		{name: "wrong password", upstream: upstreamSOCKS5{user: "user", pass: "pass"}, user: "user", pass: "nope", wantErr: true},
		{name: "credentials required", upstream: upstreamSOCKS5{user: "user", pass: "pass"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			upLn, stop := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
				_ = tt.upstream.serve(ctx, c)
			})

			d := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), tt.user, tt.pass)
			conn, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
			if tt.wantErr {
				if err == nil {
					_ = conn.Close()
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}

			testutil.AssertEcho(t, conn, conn, []byte("hello"))
			_ = conn.Close()
			stop()
		})
	}
}

func TestSOCKS5ProxyDialerCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	upLn, _ := testutil.StartSingleAcceptServer(t, context.Background(), func(c net.Conn) {
		_, _ = io.Copy(io.Discard, c)
	})

	d := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "", "")
	if _, err := d.DialContext(ctx, "tcp", "127.0.0.1:1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSOCKS5ProxyDialerNegotiationTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Accepts and reads, never answers.
	upLn, _ := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_, _ = io.Copy(io.Discard, c)
	})

	d := NewSOCKS5ProxyDialer(Config{
		DialTimeout:        time.Second,
		NegotiationTimeout: 50 * time.Millisecond,
	}, upLn.Addr().String(), "", "")

	start := time.Now()
	_, err := d.DialContext(ctx, "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("negotiation timeout ignored, took %v", elapsed)
	}
}

// The upstream here speaks through txthinking/socks5 rather than this
// module's codec.
func TestSOCKS5ProxyDialerRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	upLn, stop := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		if _, err := socks5.NewNegotiationRequestFrom(c); err != nil {
			return
		}
		if _, err := socks5.NewNegotiationReply(socks5.MethodNone).WriteTo(c); err != nil {
			return
		}
		if _, err := socks5.NewRequestFrom(c); err != nil {
			return
		}
		_, _ = socks5.NewReply(socks5.RepConnectionRefused, socks5.ATYPIPv4, []byte{0, 0, 0, 0}, []byte{0, 0}).WriteTo(c)
	})

	d := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second}, upLn.Addr().String(), "", "")
	_, err := d.DialContext(ctx, "tcp", "127.0.0.1:1")
	var re *socksd.ReplyError
	if !errors.As(err, &re) {
		t.Fatalf("err=%v want *socks5.ReplyError", err)
	}
	if re.Status != socksd.StatusConnectionRefused {
		t.Fatalf("status=%s", re.Status)
	}
	stop()
}

func TestSOCKS5ProxyDialerRejectsUDP(t *testing.T) {
	d := NewSOCKS5ProxyDialer(Config{}, "127.0.0.1:1", "", "")
	if _, err := d.DialContext(context.Background(), "udp", "127.0.0.1:53"); err == nil {
		t.Fatal("expected error for udp")
	}
}

func TestSOCKS5ProxyDialerSkipsAllowIPForProxyHop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	upLn, stop := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
		_ = upstreamSOCKS5{}.serve(ctx, c)
	})

	d := NewSOCKS5ProxyDialer(Config{DialTimeout: 2 * time.Second, AllowIP: denyLoopback}, upLn.Addr().String(), "", "")
	conn, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	testutil.AssertEcho(t, conn, conn, []byte("hop"))
	_ = conn.Close()
	stop()
}
