package socks5

import (
	"bytes"
	"errors"
	"io"
	"net/netip"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var addrComparer = cmp.Comparer(func(a, b netip.Addr) bool { return a == b })

func TestAddrRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		addr Addr
	}{
		{name: "ipv4", addr: IPAddr(netip.MustParseAddr("192.0.2.10"), 443)},
		{name: "ipv4 zero", addr: IPAddr(netip.IPv4Unspecified(), 0)},
		{name: "ipv6", addr: IPAddr(netip.MustParseAddr("2001:db8::1"), 8080)},
		{name: "ipv6 port max", addr: IPAddr(netip.MustParseAddr("::1"), 65535)},
		{name: "domain short", addr: DomainAddr("a", 80)},
		{name: "domain", addr: DomainAddr("example.com", 80)},
		{name: "domain max", addr: DomainAddr(strings.Repeat("x", 255), 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{Command: CmdConnect, Addr: tt.addr}
			b, err := req.MarshalBinary()
			if err != nil {
				t.Fatal(err)
			}
			got, err := DecodeRequest(b)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(&req, got, addrComparer); diff != "" {
				t.Fatalf("request mismatch (-want +got):\n%s", diff)
			}

			rb, err := EncodeReply(StatusSucceeded, tt.addr)
			if err != nil {
				t.Fatal(err)
			}
			var rep Reply
			if err := rep.UnmarshalBinary(rb); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.addr, rep.Bind, addrComparer); diff != "" {
				t.Fatalf("reply bind mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRequestWireFormat(t *testing.T) {
	b, err := (&Request{Command: CmdConnect, Addr: DomainAddr("ab", 0x1f90)}).MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x05, 0x01, 0x00, 0x03, 0x02, 'a', 'b', 0x1f, 0x90}
	if !bytes.Equal(b, want) {
		t.Fatalf("got % x want % x", b, want)
	}

	b, err = EncodeReply(StatusConnectionRefused, IPAddr(netip.MustParseAddr("10.1.2.3"), 1080))
	if err != nil {
		t.Fatal(err)
	}
	want = []byte{0x05, 0x05, 0x00, 0x01, 10, 1, 2, 3, 0x04, 0x38}
	if !bytes.Equal(b, want) {
		t.Fatalf("got % x want % x", b, want)
	}
}

func TestDecodeRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{name: "empty", in: nil, want: ErrTruncated},
		{name: "bad version", in: []byte{0x04, 0x01, 0x00, 0x01, 1, 2, 3, 4, 0, 80}, want: ErrVersion},
		{name: "bad atyp", in: []byte{0x05, 0x01, 0x00, 0x02, 1, 2, 3, 4, 0, 80}, want: ErrAddrType},
		{name: "short ipv4", in: []byte{0x05, 0x01, 0x00, 0x01, 1, 2, 3}, want: ErrTruncated},
		{name: "short ipv6", in: append([]byte{0x05, 0x01, 0x00, 0x04}, make([]byte, 15)...), want: ErrTruncated},
		{name: "missing port", in: []byte{0x05, 0x01, 0x00, 0x01, 1, 2, 3, 4, 0}, want: ErrTruncated},
		{name: "domain length exceeds buffer", in: []byte{0x05, 0x01, 0x00, 0x03, 10, 'a', 'b', 0, 80}, want: ErrTruncated},
		{name: "domain length zero", in: []byte{0x05, 0x01, 0x00, 0x03, 0, 0, 80}, want: ErrDomainLength},
		{name: "domain length short of buffer", in: []byte{0x05, 0x01, 0x00, 0x03, 1, 'a', 'b', 0, 80}, want: ErrTrailingData},
		{name: "trailing", in: []byte{0x05, 0x01, 0x00, 0x01, 1, 2, 3, 4, 0, 80, 0xff}, want: ErrTrailingData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := DecodeRequest(tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v want %v", err, tt.want)
			}
			if !IsProtocolError(err) {
				t.Fatalf("err=%T is not a protocol error", err)
			}
			if r != nil {
				t.Fatalf("got partial request %+v", r)
			}
		})
	}
}

func TestDecodeRequestKeepsUnknownCommand(t *testing.T) {
	r, err := DecodeRequest([]byte{0x05, 0x09, 0x00, 0x01, 127, 0, 0, 1, 0, 22})
	if err != nil {
		t.Fatal(err)
	}
	if r.Command.Valid() {
		t.Fatalf("command %v should be invalid", r.Command)
	}
	if got := r.Addr.String(); got != "127.0.0.1:22" {
		t.Fatalf("addr=%s", got)
	}
}

func TestDecodeMethodRequest(t *testing.T) {
	tests := []struct {
		name    string
		in      []byte
		want    []Method
		wantErr error
	}{
		{name: "single", in: []byte{0x05, 0x01, 0x00}, want: []Method{MethodNone}},
		{name: "multiple", in: []byte{0x05, 0x03, 0x00, 0x01, 0x02}, want: []Method{MethodNone, MethodGSSAPI, MethodUserPass}},
		{name: "socks4", in: []byte{0x04, 0x01, 0x00}, wantErr: ErrVersion},
		{name: "zero methods", in: []byte{0x05, 0x00}, wantErr: ErrMethodCount},
		{name: "count too large", in: []byte{0x05, 0x03, 0x00}, wantErr: ErrMethodCount},
		{name: "count too small", in: []byte{0x05, 0x01, 0x00, 0x02}, wantErr: ErrMethodCount},
		{name: "truncated", in: []byte{0x05}, wantErr: ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMethodRequest(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err=%v want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got.Methods); diff != "" {
				t.Fatalf("methods mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMethodRequestStreamTruncated(t *testing.T) {
	var r MethodRequest
	_, err := r.ReadFrom(bytes.NewReader([]byte{0x05, 0x04, 0x00}))
	if !errors.Is(err, ErrMethodCount) {
		t.Fatalf("err=%v want %v", err, ErrMethodCount)
	}

	// A peer that hangs up before sending anything is not a protocol error.
	_, err = r.ReadFrom(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) || IsProtocolError(err) {
		t.Fatalf("err=%v want bare io.EOF", err)
	}
}

func TestAuthPayload(t *testing.T) {
	b, err := (&UserPassRequest{Username: "alice", Password: "s3cret"}).MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeAuthPayload(MethodUserPass, b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Username != "alice" || got.Password != "s3cret" {
		t.Fatalf("got %+v", got)
	}

	if _, err := DecodeAuthPayload(MethodUserPass, b[:len(b)-1]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("err=%v want %v", err, ErrTruncated)
	}
	if _, err := DecodeAuthPayload(MethodUserPass, append([]byte{0x05}, b[1:]...)); !errors.Is(err, ErrVersion) {
		t.Fatalf("err=%v want %v", err, ErrVersion)
	}
	if c, err := DecodeAuthPayload(MethodNone, nil); err != nil || c != nil {
		t.Fatalf("none: creds=%v err=%v", c, err)
	}
	if _, err := DecodeAuthPayload(MethodGSSAPI, nil); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("err=%v want %v", err, ErrUnsupportedMethod)
	}
	if _, err := (&UserPassRequest{Username: strings.Repeat("u", 256)}).MarshalBinary(); !errors.Is(err, ErrFieldLength) {
		t.Fatalf("err=%v want %v", err, ErrFieldLength)
	}

	if got := EncodeAuthReply(UserPassFailure); !bytes.Equal(got, []byte{0x01, 0x01}) {
		t.Fatalf("auth reply % x", got)
	}
	if got := EncodeMethodReply(MethodNoAcceptable); !bytes.Equal(got, []byte{0x05, 0xff}) {
		t.Fatalf("method reply % x", got)
	}
}

func TestEncodeReplyRejectsMismatchedFamily(t *testing.T) {
	_, err := EncodeReply(StatusSucceeded, Addr{Type: AddrIPv4, IP: netip.MustParseAddr("::1")})
	if !errors.Is(err, ErrAddrType) {
		t.Fatalf("err=%v want %v", err, ErrAddrType)
	}
	_, err = EncodeReply(StatusSucceeded, DomainAddr(strings.Repeat("x", 256), 1))
	if !errors.Is(err, ErrDomainLength) {
		t.Fatalf("err=%v want %v", err, ErrDomainLength)
	}
}

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    Addr
		wantErr bool
	}{
		{in: "1.2.3.4:80", want: IPAddr(netip.MustParseAddr("1.2.3.4"), 80)},
		{in: "[::ffff:1.2.3.4]:80", want: IPAddr(netip.MustParseAddr("1.2.3.4"), 80)},
		{in: "[2001:db8::2]:53", want: IPAddr(netip.MustParseAddr("2001:db8::2"), 53)},
		{in: "example.org:443", want: DomainAddr("example.org", 443)},
		{in: "example.org", wantErr: true},
		{in: "example.org:70000", wantErr: true},
		{in: ":80", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddr(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got, addrComparer); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	if got := StatusTTLExpired.String(); got != "TTL expired" {
		t.Fatalf("got %q", got)
	}
	if got := Status(0x42).String(); got != "status(0x42)" {
		t.Fatalf("got %q", got)
	}
}
