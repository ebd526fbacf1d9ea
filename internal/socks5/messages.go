package socks5

import (
	"io"
)

// MethodRequest is the client greeting: VER NMETHODS METHODS.
type MethodRequest struct {
	Version byte
	Methods []Method
}

// Offers reports whether the client offered m.
func (r *MethodRequest) Offers(m Method) bool {
	for _, o := range r.Methods {
		if o == m {
			return true
		}
	}
	return false
}

func (r *MethodRequest) ReadFrom(rd io.Reader) (int64, error) {
	d := decoder{r: rd, op: "method request"}
	ver, err := d.byte()
	if err != nil {
		return d.n, err
	}
	if ver != Version {
		return d.n, d.fail(ErrVersion)
	}
	n, err := d.byte()
	if err != nil {
		return d.n, err
	}
	if n == 0 {
		return d.n, d.fail(ErrMethodCount)
	}
	methods := make([]byte, n)
	if err := d.full(methods); err != nil {
		if IsProtocolError(err) {
			return d.n, d.fail(ErrMethodCount)
		}
		return d.n, err
	}
	r.Version = ver
	r.Methods = make([]Method, n)
	for i, m := range methods {
		r.Methods[i] = Method(m)
	}
	return d.n, nil
}

// UnmarshalBinary decodes a greeting that must fill b exactly.
func (r *MethodRequest) UnmarshalBinary(b []byte) error {
	if len(b) < 2 {
		return &ProtocolError{Op: "method request", Err: ErrTruncated}
	}
	if b[0] != Version {
		return &ProtocolError{Op: "method request", Err: ErrVersion}
	}
	if b[1] == 0 || int(b[1]) != len(b)-2 {
		return &ProtocolError{Op: "method request", Err: ErrMethodCount}
	}
	return unmarshal("method request", b, r)
}

func (r *MethodRequest) MarshalBinary() ([]byte, error) {
	if len(r.Methods) == 0 || len(r.Methods) > 255 {
		return nil, &ProtocolError{Op: "method request", Err: ErrMethodCount}
	}
	b := make([]byte, 0, 2+len(r.Methods))
	b = append(b, Version, byte(len(r.Methods)))
	for _, m := range r.Methods {
		b = append(b, byte(m))
	}
	return b, nil
}

func (r *MethodRequest) WriteTo(w io.Writer) (int64, error) {
	return writeMarshaled(w, r)
}

// MethodReply is the server's choice: VER METHOD.
type MethodReply struct {
	Method Method
}

func (r *MethodReply) ReadFrom(rd io.Reader) (int64, error) {
	d := decoder{r: rd, op: "method reply"}
	var b [2]byte
	if err := d.full(b[:]); err != nil {
		return d.n, err
	}
	if b[0] != Version {
		return d.n, d.fail(ErrVersion)
	}
	r.Method = Method(b[1])
	return d.n, nil
}

func (r *MethodReply) UnmarshalBinary(b []byte) error {
	return unmarshal("method reply", b, r)
}

func (r *MethodReply) MarshalBinary() ([]byte, error) {
	return []byte{Version, byte(r.Method)}, nil
}

func (r *MethodReply) WriteTo(w io.Writer) (int64, error) {
	return writeMarshaled(w, r)
}

// UserPassRequest is the RFC 1929 sub-negotiation request:
// VER ULEN UNAME PLEN PASSWD.
type UserPassRequest struct {
	Username string
	Password string
}

func (r *UserPassRequest) ReadFrom(rd io.Reader) (int64, error) {
	d := decoder{r: rd, op: "user/pass request"}
	ver, err := d.byte()
	if err != nil {
		return d.n, err
	}
	if ver != userPassVersion {
		return d.n, d.fail(ErrVersion)
	}
	user, err := d.lengthPrefixed()
	if err != nil {
		return d.n, err
	}
	pass, err := d.lengthPrefixed()
	if err != nil {
		return d.n, err
	}
	r.Username, r.Password = user, pass
	return d.n, nil
}

func (d *decoder) lengthPrefixed() (string, error) {
	n, err := d.byte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if err := d.full(b); err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *UserPassRequest) UnmarshalBinary(b []byte) error {
	return unmarshal("user/pass request", b, r)
}

func (r *UserPassRequest) MarshalBinary() ([]byte, error) {
	if len(r.Username) > 255 || len(r.Password) > 255 {
		return nil, &ProtocolError{Op: "user/pass request", Err: ErrFieldLength}
	}
	b := make([]byte, 0, 3+len(r.Username)+len(r.Password))
	b = append(b, userPassVersion, byte(len(r.Username)))
	b = append(b, r.Username...)
	b = append(b, byte(len(r.Password)))
	b = append(b, r.Password...)
	return b, nil
}

func (r *UserPassRequest) WriteTo(w io.Writer) (int64, error) {
	return writeMarshaled(w, r)
}

// UserPassReply is the RFC 1929 sub-negotiation reply: VER STATUS. Any status
// other than UserPassSuccess is a failure.
type UserPassReply struct {
	Status byte
}

func (r *UserPassReply) ReadFrom(rd io.Reader) (int64, error) {
	d := decoder{r: rd, op: "user/pass reply"}
	var b [2]byte
	if err := d.full(b[:]); err != nil {
		return d.n, err
	}
	if b[0] != userPassVersion {
		return d.n, d.fail(ErrVersion)
	}
	r.Status = b[1]
	return d.n, nil
}

func (r *UserPassReply) UnmarshalBinary(b []byte) error {
	return unmarshal("user/pass reply", b, r)
}

func (r *UserPassReply) MarshalBinary() ([]byte, error) {
	return []byte{userPassVersion, r.Status}, nil
}

func (r *UserPassReply) WriteTo(w io.Writer) (int64, error) {
	return writeMarshaled(w, r)
}

// Request is a command request: VER CMD RSV ATYP DST.ADDR DST.PORT.
//
// The command byte is carried as received; callers check Command.Valid so
// they can answer StatusCommandNotSupported.
type Request struct {
	Command Command
	Addr    Addr
}

func (r *Request) ReadFrom(rd io.Reader) (int64, error) {
	d := decoder{r: rd, op: "request"}
	var hdr [3]byte
	if err := d.full(hdr[:]); err != nil {
		return d.n, err
	}
	if hdr[0] != Version {
		return d.n, d.fail(ErrVersion)
	}
	a, err := d.addr()
	if err != nil {
		return d.n, err
	}
	r.Command = Command(hdr[1])
	r.Addr = a
	return d.n, nil
}

func (r *Request) UnmarshalBinary(b []byte) error {
	return unmarshal("request", b, r)
}

func (r *Request) MarshalBinary() ([]byte, error) {
	b, err := appendAddr([]byte{Version, byte(r.Command), 0x00}, r.Addr)
	if err != nil {
		return nil, &ProtocolError{Op: "request", Err: err}
	}
	return b, nil
}

func (r *Request) WriteTo(w io.Writer) (int64, error) {
	return writeMarshaled(w, r)
}

// Reply is a command reply: VER REP RSV ATYP BND.ADDR BND.PORT.
type Reply struct {
	Status Status
	Bind   Addr
}

func (r *Reply) ReadFrom(rd io.Reader) (int64, error) {
	d := decoder{r: rd, op: "reply"}
	var hdr [3]byte
	if err := d.full(hdr[:]); err != nil {
		return d.n, err
	}
	if hdr[0] != Version {
		return d.n, d.fail(ErrVersion)
	}
	a, err := d.addr()
	if err != nil {
		return d.n, err
	}
	r.Status = Status(hdr[1])
	r.Bind = a
	return d.n, nil
}

func (r *Reply) UnmarshalBinary(b []byte) error {
	return unmarshal("reply", b, r)
}

func (r *Reply) MarshalBinary() ([]byte, error) {
	b, err := appendAddr([]byte{Version, byte(r.Status), 0x00}, r.Bind)
	if err != nil {
		return nil, &ProtocolError{Op: "reply", Err: err}
	}
	return b, nil
}

func (r *Reply) WriteTo(w io.Writer) (int64, error) {
	return writeMarshaled(w, r)
}

type marshaler interface {
	MarshalBinary() ([]byte, error)
}

// writeMarshaled writes the encoded message with a single Write.
func writeMarshaled(w io.Writer, m marshaler) (int64, error) {
	b, err := m.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}
