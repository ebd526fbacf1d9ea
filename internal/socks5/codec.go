package socks5

// DecodeMethodRequest decodes a client greeting that fills b exactly.
func DecodeMethodRequest(b []byte) (*MethodRequest, error) {
	var r MethodRequest
	if err := r.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return &r, nil
}

// EncodeMethodReply encodes the server's method choice. MethodNoAcceptable
// tells the client that none of its methods are acceptable.
func EncodeMethodReply(m Method) []byte {
	return []byte{Version, byte(m)}
}

// DecodeAuthPayload decodes the sub-negotiation payload of method m. MethodNone
// carries no payload, so b must be empty and the result is nil.
func DecodeAuthPayload(m Method, b []byte) (*UserPassRequest, error) {
	switch m {
	case MethodNone:
		if len(b) != 0 {
			return nil, &ProtocolError{Op: "auth payload", Err: ErrTrailingData}
		}
		return nil, nil
	case MethodUserPass:
		var r UserPassRequest
		if err := r.UnmarshalBinary(b); err != nil {
			return nil, err
		}
		return &r, nil
	default:
		return nil, &ProtocolError{Op: "auth payload", Err: ErrUnsupportedMethod}
	}
}

// EncodeAuthReply encodes a user/pass sub-negotiation status.
func EncodeAuthReply(status byte) []byte {
	return []byte{userPassVersion, status}
}

// DecodeRequest decodes a command request that fills b exactly.
func DecodeRequest(b []byte) (*Request, error) {
	var r Request
	if err := r.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return &r, nil
}

// EncodeReply encodes a command reply with the given bound address.
func EncodeReply(status Status, bind Addr) ([]byte, error) {
	r := Reply{Status: status, Bind: bind}
	return r.MarshalBinary()
}
