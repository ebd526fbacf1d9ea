package socks5

import (
	"bytes"
	"errors"
	"io"
)

var (
	ErrVersion      = errors.New("unsupported version")
	ErrMethodCount  = errors.New("method count does not match method list")
	ErrAddrType     = errors.New("unsupported address type")
	ErrDomainLength = errors.New("domain name must be 1-255 bytes")
	ErrTruncated    = errors.New("truncated message")
	ErrTrailingData = errors.New("trailing bytes after message")
	ErrFieldLength  = errors.New("field longer than 255 bytes")

	ErrUnsupportedMethod = errors.New("unsupported authentication method")
)

// ProtocolError reports a malformed or unsupported SOCKS message. It is
// always fatal to the connection that produced it.
type ProtocolError struct {
	Op  string // message being decoded or encoded, e.g. "request"
	Err error
}

func (e *ProtocolError) Error() string {
	return "socks5 " + e.Op + ": " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err is, or wraps, a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// ReplyError is returned by the client helpers when a SOCKS5 server answers a
// request with a non-success status.
type ReplyError struct {
	Status Status
}

func (e *ReplyError) Error() string {
	return "socks5 server replied: " + e.Status.String()
}

// decoder reads fixed-size fields from a stream, counting bytes and turning a
// short read inside a message into ErrTruncated. A clean io.EOF before the
// first byte is passed through untouched so callers can tell a peer that hung
// up from one that sent garbage.
type decoder struct {
	r  io.Reader
	n  int64
	op string
}

func (d *decoder) full(b []byte) error {
	n, err := io.ReadFull(d.r, b)
	d.n += int64(n)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || (errors.Is(err, io.EOF) && d.n > 0) {
		return &ProtocolError{Op: d.op, Err: ErrTruncated}
	}
	return err
}

func (d *decoder) byte() (byte, error) {
	var b [1]byte
	if err := d.full(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) fail(err error) error {
	return &ProtocolError{Op: d.op, Err: err}
}

// unmarshal decodes exactly one message from b.
func unmarshal(op string, b []byte, m io.ReaderFrom) error {
	r := bytes.NewReader(b)
	if _, err := m.ReadFrom(r); err != nil {
		if errors.Is(err, io.EOF) {
			return &ProtocolError{Op: op, Err: ErrTruncated}
		}
		return err
	}
	if r.Len() > 0 {
		return &ProtocolError{Op: op, Err: ErrTrailingData}
	}
	return nil
}
