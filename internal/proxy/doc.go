// Package proxy implements the socksd SOCKS5 server.
//
// It contains the per-connection protocol handler (method negotiation,
// authentication, command parsing, upstream connect and relay), the accept
// loop and its bounded executor, listener strategies (keepalive TCP,
// SO_REUSEPORT, PROXY protocol, TLS), destination rules, and the mapping from
// dial errors to SOCKS5 reply codes.
package proxy
