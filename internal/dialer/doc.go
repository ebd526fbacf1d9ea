// Package dialer provides the outbound dialers socksd uses to reach a
// client's requested destination.
//
// Dialers implement a small interface (DialContext) and connect either
// directly or by chaining through an upstream proxy (HTTP CONNECT, HTTPS
// CONNECT, or SOCKS5).
package dialer
