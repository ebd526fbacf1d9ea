package socks5

import (
	"fmt"

	txsocks5 "github.com/txthinking/socks5"
)

// Version is the only protocol version spoken.
const Version = txsocks5.Ver

// userPassVersion is the RFC 1929 sub-negotiation version.
const userPassVersion byte = 0x01

// Method identifies an authentication method offered during negotiation.
type Method byte

const (
	MethodNone         = Method(txsocks5.MethodNone)
	MethodGSSAPI       Method = 0x01
	MethodUserPass     = Method(txsocks5.MethodUsernamePassword)
	MethodNoAcceptable Method = 0xff
)

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodGSSAPI:
		return "gssapi"
	case MethodUserPass:
		return "username/password"
	case MethodNoAcceptable:
		return "no-acceptable"
	default:
		return fmt.Sprintf("method(0x%02x)", byte(m))
	}
}

// User/password sub-negotiation statuses.
const (
	UserPassSuccess = txsocks5.UserPassStatusSuccess
	UserPassFailure = txsocks5.UserPassStatusFailure
)

// Command is the CMD field of a request.
type Command byte

const (
	CmdConnect      = Command(txsocks5.CmdConnect)
	CmdBind         Command = 0x02
	CmdUDPAssociate Command = 0x03
)

// Valid reports whether c is one of the three commands defined by RFC 1928.
func (c Command) Valid() bool {
	return c == CmdConnect || c == CmdBind || c == CmdUDPAssociate
}

func (c Command) String() string {
	switch c {
	case CmdConnect:
		return "connect"
	case CmdBind:
		return "bind"
	case CmdUDPAssociate:
		return "udp-associate"
	default:
		return fmt.Sprintf("command(0x%02x)", byte(c))
	}
}

// Status is the REP field of a reply.
type Status byte

const (
	StatusSucceeded               = Status(txsocks5.RepSuccess)
	StatusGeneralFailure          Status = 0x01
	StatusNotAllowed              Status = 0x02
	StatusNetworkUnreachable      Status = 0x03
	StatusHostUnreachable         = Status(txsocks5.RepHostUnreachable)
	StatusConnectionRefused       = Status(txsocks5.RepConnectionRefused)
	StatusTTLExpired              Status = 0x06
	StatusCommandNotSupported     = Status(txsocks5.RepCommandNotSupported)
	StatusAddressTypeNotSupported Status = 0x08
)

var statusNames = [...]string{
	StatusSucceeded:               "succeeded",
	StatusGeneralFailure:          "general failure",
	StatusNotAllowed:              "connection not allowed by ruleset",
	StatusNetworkUnreachable:      "network unreachable",
	StatusHostUnreachable:         "host unreachable",
	StatusConnectionRefused:       "connection refused",
	StatusTTLExpired:              "TTL expired",
	StatusCommandNotSupported:     "command not supported",
	StatusAddressTypeNotSupported: "address type not supported",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(0x%02x)", byte(s))
}
