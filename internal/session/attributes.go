package session

import (
	"maps"

	"github.com/die-net/socksd/internal/auth"
	"github.com/die-net/socksd/internal/socks5"
)

// Method returns the negotiated authentication method.
func (s *Session) Method() socks5.Method {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.method
}

// SetMethod records the negotiated authentication method.
func (s *Session) SetMethod(m socks5.Method) {
	s.mu.Lock()
	s.method = m
	s.mu.Unlock()
}

// Principal returns the authenticated identity, if any.
func (s *Session) Principal() (auth.Principal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal, !s.principal.IsZero()
}

// SetPrincipal records the authenticated identity.
func (s *Session) SetPrincipal(p auth.Principal) {
	s.mu.Lock()
	s.principal = p
	s.mu.Unlock()
}

// Destination returns the requested destination, if one was parsed.
func (s *Session) Destination() (socks5.Addr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destination, s.destination.Type != 0
}

// SetDestination records the requested destination.
func (s *Session) SetDestination(a socks5.Addr) {
	s.mu.Lock()
	s.destination = a
	s.mu.Unlock()
}

// State returns the last protocol state recorded by the handler.
func (s *Session) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState records the handler's protocol state.
func (s *Session) SetState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Attribute returns an extension attribute.
func (s *Session) Attribute(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attrs[key]
	return v, ok
}

// SetAttribute stores an extension attribute. A nil value deletes the key.
func (s *Session) SetAttribute(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v == nil {
		delete(s.attrs, key)
		return
	}
	if s.attrs == nil {
		s.attrs = make(map[string]any)
	}
	s.attrs[key] = v
}

// Attributes returns a copy of all extension attributes.
func (s *Session) Attributes() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.attrs)
}

// ClearAttributes removes every extension attribute. The typed attributes
// (method, principal, destination, state) are left alone.
func (s *Session) ClearAttributes() {
	s.mu.Lock()
	clear(s.attrs)
	s.mu.Unlock()
}
