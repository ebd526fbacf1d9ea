package auth

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/die-net/socksd/internal/socks5"
)

type fakeSession struct {
	principal Principal
}

func (f *fakeSession) RemoteAddr() net.Addr     { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000} }
func (f *fakeSession) SetPrincipal(p Principal) { f.principal = p }

func TestPrincipal(t *testing.T) {
	a, b := NewPrincipal("alice"), NewPrincipal("alice")
	if a != b {
		t.Fatal("equal names should give equal principals")
	}
	if a == NewPrincipal("bob") {
		t.Fatal("different names compared equal")
	}
	if got := a.String(); got != "Principal[alice]" {
		t.Fatalf("String()=%q", got)
	}
	if !(Principal{}).IsZero() || a.IsZero() {
		t.Fatal("IsZero mismatch")
	}

	seen := map[Principal]int{a: 1}
	if seen[b] != 1 {
		t.Fatal("principal not usable as map key")
	}
}

func TestSelect(t *testing.T) {
	up := UserPass{Store: NewStaticStore(nil)}
	prefs := []Authenticator{up, NoAuth{}}

	tests := []struct {
		name    string
		offered []socks5.Method
		want    socks5.Method
		ok      bool
	}{
		{name: "both offered picks server preference", offered: []socks5.Method{socks5.MethodNone, socks5.MethodUserPass}, want: socks5.MethodUserPass, ok: true},
		{name: "none only", offered: []socks5.Method{socks5.MethodNone}, want: socks5.MethodNone, ok: true},
		{name: "gssapi only", offered: []socks5.Method{socks5.MethodGSSAPI}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := Select(prefs, &socks5.MethodRequest{Version: socks5.Version, Methods: tt.offered})
			if ok != tt.ok {
				t.Fatalf("ok=%v want %v", ok, tt.ok)
			}
			if ok && a.Method() != tt.want {
				t.Fatalf("method=%s want %s", a.Method(), tt.want)
			}
		})
	}
}

func TestNoAuth(t *testing.T) {
	s := &fakeSession{}
	if err := (NoAuth{}).Authenticate(context.Background(), &Request{Method: socks5.MethodNone}, s); err != nil {
		t.Fatal(err)
	}
	if !s.principal.IsZero() {
		t.Fatalf("no-auth set principal %v", s.principal)
	}
}

func TestUserPass(t *testing.T) {
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	store := NewStaticStore(map[string]string{
		"alice": "wonderland",
		"bob":   hash,
	})
	up := UserPass{Store: store}

	tests := []struct {
		name     string
		user     string
		password string
		ok       bool
	}{
		{name: "plaintext", user: "alice", password: "wonderland", ok: true},
		{name: "plaintext wrong", user: "alice", password: "wonder", ok: false},
		{name: "bcrypt", user: "bob", password: "hunter2", ok: true},
		{name: "bcrypt wrong", user: "bob", password: "hunter3", ok: false},
		{name: "unknown", user: "carol", password: "x", ok: false},
		{name: "empty username", user: "", password: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSession{}
			err := up.Authenticate(context.Background(), &Request{Method: socks5.MethodUserPass, Username: tt.user, Password: tt.password}, s)
			if tt.ok {
				if err != nil {
					t.Fatal(err)
				}
				if s.principal != NewPrincipal(tt.user) {
					t.Fatalf("principal=%v", s.principal)
				}
				return
			}
			if !errors.Is(err, ErrFailed) {
				t.Fatalf("err=%v want %v", err, ErrFailed)
			}
			var ae *Error
			if !errors.As(err, &ae) || ae.Method != socks5.MethodUserPass {
				t.Fatalf("err=%#v is not a user/pass *Error", err)
			}
			if !s.principal.IsZero() {
				t.Fatal("failed authentication set a principal")
			}
		})
	}

	if got := store.Users(); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("Users()=%v", got)
	}
}
