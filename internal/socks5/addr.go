package socks5

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// AddrType is the ATYP field of requests and replies.
type AddrType byte

const (
	AddrIPv4   = AddrType(txsocks5.ATYPIPv4)
	AddrDomain = AddrType(txsocks5.ATYPDomain)
	AddrIPv6   = AddrType(txsocks5.ATYPIPv6)
)

func (t AddrType) String() string {
	switch t {
	case AddrIPv4:
		return "ipv4"
	case AddrDomain:
		return "domain"
	case AddrIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("atyp(0x%02x)", byte(t))
	}
}

const maxDomainLen = 255

// Addr is a SOCKS destination or bound address. For AddrDomain, Host holds the
// name and IP is invalid; otherwise IP holds the address.
type Addr struct {
	Type AddrType
	IP   netip.Addr
	Host string
	Port uint16
}

var _ net.Addr = Addr{}

// Network implements net.Addr.
func (a Addr) Network() string { return "tcp" }

// Hostname returns the host part without the port.
func (a Addr) Hostname() string {
	if a.Type == AddrDomain {
		return a.Host
	}
	if !a.IP.IsValid() {
		if a.Type == AddrIPv6 {
			return netip.IPv6Unspecified().String()
		}
		return netip.IPv4Unspecified().String()
	}
	return a.IP.String()
}

// String returns host:port, suitable for dialing.
func (a Addr) String() string {
	return net.JoinHostPort(a.Hostname(), strconv.Itoa(int(a.Port)))
}

// AddrPort returns the address as a netip.AddrPort. ok is false for domain
// addresses.
func (a Addr) AddrPort() (ap netip.AddrPort, ok bool) {
	if a.Type == AddrDomain || !a.IP.IsValid() {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(a.IP, a.Port), true
}

// IPAddr builds an Addr from an IP, choosing the IPv4 form for IPv4 and
// IPv4-mapped IPv6 addresses.
func IPAddr(ip netip.Addr, port uint16) Addr {
	ip = ip.Unmap()
	if ip.Is4() {
		return Addr{Type: AddrIPv4, IP: ip, Port: port}
	}
	return Addr{Type: AddrIPv6, IP: ip.WithZone(""), Port: port}
}

// DomainAddr builds a domain-name Addr.
func DomainAddr(host string, port uint16) Addr {
	return Addr{Type: AddrDomain, Host: host, Port: port}
}

// ZeroAddr returns the all-zero address of the given family, used as the bound
// address of failure replies. Anything other than IPv6 yields 0.0.0.0:0.
func ZeroAddr(t AddrType) Addr {
	if t == AddrIPv6 {
		return Addr{Type: AddrIPv6, IP: netip.IPv6Unspecified()}
	}
	return Addr{Type: AddrIPv4, IP: netip.IPv4Unspecified()}
}

// ParseAddr parses host:port into an Addr. Hosts that are not IP literals are
// treated as domain names.
func ParseAddr(hostport string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Addr{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Addr{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return IPAddr(ip, uint16(port)), nil
	}
	if len(host) == 0 || len(host) > maxDomainLen {
		return Addr{}, ErrDomainLength
	}
	return DomainAddr(host, uint16(port)), nil
}

// AddrFromNetAddr converts a net.Addr (typically a LocalAddr or RemoteAddr)
// into an Addr. A nil addr yields ZeroAddr(AddrIPv4).
func AddrFromNetAddr(na net.Addr) Addr {
	switch v := na.(type) {
	case nil:
		return ZeroAddr(AddrIPv4)
	case Addr:
		return v
	case *net.TCPAddr:
		return addrFromAddrPort(v.AddrPort())
	case *net.UDPAddr:
		return addrFromAddrPort(v.AddrPort())
	}
	if a, err := ParseAddr(na.String()); err == nil {
		return a
	}
	return ZeroAddr(AddrIPv4)
}

func addrFromAddrPort(ap netip.AddrPort) Addr {
	if !ap.Addr().IsValid() {
		return Addr{Type: AddrIPv4, IP: netip.IPv4Unspecified(), Port: ap.Port()}
	}
	return IPAddr(ap.Addr(), ap.Port())
}

// appendAddr appends ATYP, the address and the big-endian port.
func appendAddr(b []byte, a Addr) ([]byte, error) {
	b = append(b, byte(a.Type))
	switch a.Type {
	case AddrIPv4:
		ip := a.IP
		if !ip.IsValid() {
			ip = netip.IPv4Unspecified()
		}
		if !ip.Is4() {
			return nil, ErrAddrType
		}
		v4 := ip.As4()
		b = append(b, v4[:]...)
	case AddrIPv6:
		ip := a.IP
		if !ip.IsValid() {
			ip = netip.IPv6Unspecified()
		}
		if !ip.Is6() {
			return nil, ErrAddrType
		}
		v6 := ip.As16()
		b = append(b, v6[:]...)
	case AddrDomain:
		if len(a.Host) == 0 || len(a.Host) > maxDomainLen {
			return nil, ErrDomainLength
		}
		b = append(b, byte(len(a.Host)))
		b = append(b, a.Host...)
	default:
		return nil, ErrAddrType
	}
	return binary.BigEndian.AppendUint16(b, a.Port), nil
}

// addr reads ATYP, the address and the port.
func (d *decoder) addr() (Addr, error) {
	atyp, err := d.byte()
	if err != nil {
		return Addr{}, err
	}
	var a Addr
	switch t := AddrType(atyp); t {
	case AddrIPv4:
		var v4 [4]byte
		if err := d.full(v4[:]); err != nil {
			return Addr{}, err
		}
		a = Addr{Type: t, IP: netip.AddrFrom4(v4)}
	case AddrIPv6:
		var v6 [16]byte
		if err := d.full(v6[:]); err != nil {
			return Addr{}, err
		}
		a = Addr{Type: t, IP: netip.AddrFrom16(v6)}
	case AddrDomain:
		n, err := d.byte()
		if err != nil {
			return Addr{}, err
		}
		if n == 0 {
			return Addr{}, d.fail(ErrDomainLength)
		}
		host := make([]byte, n)
		if err := d.full(host); err != nil {
			return Addr{}, err
		}
		a = Addr{Type: t, Host: string(host)}
	default:
		return Addr{}, d.fail(ErrAddrType)
	}
	var port [2]byte
	if err := d.full(port[:]); err != nil {
		return Addr{}, err
	}
	a.Port = binary.BigEndian.Uint16(port[:])
	return a, nil
}
