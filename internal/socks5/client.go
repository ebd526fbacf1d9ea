package socks5

import (
	"errors"
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// Auth configures optional username/password authentication when talking to
// an upstream SOCKS5 server.
type Auth struct {
	Username string
	Password string
}

// ClientDial performs the client side of a SOCKS5 handshake on conn and asks
// the server to CONNECT to address. It returns the address the server bound
// for the outbound connection.
func ClientDial(conn net.Conn, auth Auth, address string) (Addr, error) {
	if err := ClientNegotiate(conn, auth); err != nil {
		return Addr{}, err
	}
	return ClientConnect(conn, address)
}

// ClientNegotiate offers no-auth, plus username/password when auth has a
// username, and completes whichever sub-negotiation the server picks.
func ClientNegotiate(conn net.Conn, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}

	switch Method(neg.Method) {
	case MethodNone:
		return nil
	case MethodUserPass:
		if auth.Username == "" {
			return errors.New("server requires username/password")
		}
		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(conn); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
		if err != nil {
			return fmt.Errorf("read userpass: %w", err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return errors.New("upstream rejected credentials")
		}
		return nil
	case MethodNoAcceptable:
		return errors.New("upstream accepted none of the offered methods")
	default:
		return fmt.Errorf("unsupported negotiation method: %s", Method(neg.Method))
	}
}

// ClientConnect sends a CONNECT request for address and reads the reply. A
// non-success reply is returned as a *ReplyError carrying the status.
func ClientConnect(conn net.Conn, address string) (Addr, error) {
	dst, err := ParseAddr(address)
	if err != nil {
		return Addr{}, fmt.Errorf("parse address: %w", err)
	}
	req := Request{Command: CmdConnect, Addr: dst}
	if _, err := req.WriteTo(conn); err != nil {
		return Addr{}, fmt.Errorf("write request: %w", err)
	}

	var rep Reply
	if _, err := rep.ReadFrom(conn); err != nil {
		return Addr{}, fmt.Errorf("read reply: %w", err)
	}
	if rep.Status != StatusSucceeded {
		return Addr{}, &ReplyError{Status: rep.Status}
	}
	return rep.Bind, nil
}
