package proxy

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/die-net/socksd/internal/socks5"
)

// ErrNotAllowed is returned when a destination is denied by Rules.
var ErrNotAllowed = errors.New("destination not allowed")

// PortRange is an inclusive range of ports.
type PortRange struct {
	Lo, Hi uint16
}

func (r PortRange) Contains(p uint16) bool { return p >= r.Lo && p <= r.Hi }

// Rules filters CONNECT and BIND destinations.
//
// Check runs before any dial and sees the requested address: IP literals,
// including IPv4-mapped IPv6 and IPs spelled as domain names, are matched
// against the prefixes. CheckIP matches an address the dialer resolved, so
// hostnames resolving into a denied range are refused when it is installed
// as the direct dialer's AllowIP hook. A nil *Rules allows everything.
type Rules struct {
	// Allow, when non-empty, is the only set of prefixes IP destinations may
	// fall in.
	Allow []netip.Prefix
	Deny  []netip.Prefix
	// DenyPorts applies to every destination type.
	DenyPorts []PortRange
}

// Check returns an error wrapping ErrNotAllowed if dst is denied.
func (r *Rules) Check(dst socks5.Addr) error {
	if r == nil {
		return nil
	}
	for _, pr := range r.DenyPorts {
		if pr.Contains(dst.Port) {
			return fmt.Errorf("%w: port %d", ErrNotAllowed, dst.Port)
		}
	}

	ip, ok := destinationIP(dst)
	if !ok {
		return nil
	}
	return r.CheckIP(ip)
}

// CheckIP returns an error wrapping ErrNotAllowed if ip falls outside the
// prefix rules.
func (r *Rules) CheckIP(ip netip.Addr) error {
	if r == nil {
		return nil
	}
	ip = ip.Unmap().WithZone("")
	for _, p := range r.Deny {
		if p.Contains(ip) {
			return fmt.Errorf("%w: %s in %s", ErrNotAllowed, ip, p)
		}
	}
	if len(r.Allow) == 0 {
		return nil
	}
	for _, p := range r.Allow {
		if p.Contains(ip) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s outside allowed prefixes", ErrNotAllowed, ip)
}

// destinationIP returns the IP dst will be dialed at without resolution.
func destinationIP(dst socks5.Addr) (netip.Addr, bool) {
	if ap, ok := dst.AddrPort(); ok {
		return ap.Addr(), true
	}
	if dst.Type != socks5.AddrDomain {
		return netip.Addr{}, false
	}
	ip, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(dst.Host, "["), "]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return ip, true
}

// ParsePrefixes parses a comma-separated list of CIDR prefixes or bare IPs.
func ParsePrefixes(s string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, f := range splitList(s) {
		if !strings.Contains(f, "/") {
			ip, err := netip.ParseAddr(f)
			if err != nil {
				return nil, fmt.Errorf("invalid prefix %q: %w", f, err)
			}
			ip = ip.Unmap()
			out = append(out, netip.PrefixFrom(ip, ip.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(f)
		if err != nil {
			return nil, fmt.Errorf("invalid prefix %q: %w", f, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// ParsePorts parses a comma-separated list of ports and lo-hi ranges.
func ParsePorts(s string) ([]PortRange, error) {
	var out []PortRange
	for _, f := range splitList(s) {
		lo, hi, isRange := strings.Cut(f, "-")
		l, err := parsePort(lo)
		if err != nil {
			return nil, err
		}
		h := l
		if isRange {
			if h, err = parsePort(hi); err != nil {
				return nil, err
			}
		}
		if h < l {
			return nil, fmt.Errorf("invalid port range %q", f)
		}
		out = append(out, PortRange{Lo: l, Hi: h})
	}
	return out, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q: %w", s, err)
	}
	return uint16(n), nil
}

func splitList(s string) []string {
	var out []string
	for f := range strings.SplitSeq(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
