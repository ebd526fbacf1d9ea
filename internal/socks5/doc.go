// Package socks5 implements the SOCKS5 wire format (RFC 1928 and the RFC 1929
// username/password sub-negotiation) used by socksd.
//
// Every message type can be decoded from a stream (io.ReaderFrom), encoded to
// a stream (io.WriterTo), and strictly converted to and from an exact byte
// buffer (encoding.BinaryMarshaler and encoding.BinaryUnmarshaler). Decoding
// never guesses: an unsupported version, an inconsistent method count, an
// unknown address type, a truncated field or trailing bytes all fail with a
// *ProtocolError.
//
// Wire constants come from github.com/txthinking/socks5, which also backs the
// client-side handshake helpers used to chain through an upstream SOCKS5
// proxy.
package socks5
