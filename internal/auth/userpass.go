package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/die-net/socksd/internal/socks5"
)

// ErrUnknownUser is returned by a Store that has no entry for a username.
var ErrUnknownUser = errors.New("unknown user")

// Store verifies username/password credentials.
type Store interface {
	// Verify returns nil when password is correct for username.
	Verify(ctx context.Context, username, password string) error
}

// UserPass authenticates clients with RFC 1929 username/password against a
// Store.
type UserPass struct {
	Store Store
}

func (UserPass) Method() socks5.Method { return socks5.MethodUserPass }

func (u UserPass) Authenticate(ctx context.Context, req *Request, s Session) error {
	if req == nil || req.Username == "" {
		return &Error{Method: socks5.MethodUserPass, Reason: "empty username"}
	}
	if u.Store == nil {
		return &Error{Method: socks5.MethodUserPass, Reason: "no credential store"}
	}
	if err := u.Store.Verify(ctx, req.Username, req.Password); err != nil {
		return &Error{Method: socks5.MethodUserPass, Reason: fmt.Sprintf("user %q: %v", req.Username, err)}
	}
	s.SetPrincipal(NewPrincipal(req.Username))
	return nil
}

// bcryptPrefixes are the hash identifiers bcrypt.CompareHashAndPassword
// understands.
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// StaticStore is an in-memory credential table. A value that looks like a
// bcrypt hash is verified with bcrypt; anything else is a plaintext password.
type StaticStore struct {
	users map[string]string
}

// NewStaticStore returns a store holding a copy of users.
func NewStaticStore(users map[string]string) *StaticStore {
	return &StaticStore{users: maps.Clone(users)}
}

// Users returns the configured usernames in sorted order.
func (s *StaticStore) Users() []string {
	return slices.Sorted(maps.Keys(s.users))
}

func (s *StaticStore) Len() int { return len(s.users) }

func (s *StaticStore) Verify(_ context.Context, username, password string) error {
	want, ok := s.users[username]
	if !ok {
		return ErrUnknownUser
	}
	if isBcrypt(want) {
		if err := bcrypt.CompareHashAndPassword([]byte(want), []byte(password)); err != nil {
			return fmt.Errorf("bad password: %w", err)
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		return errors.New("bad password")
	}
	return nil
}

func isBcrypt(s string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// HashPassword returns a bcrypt hash of password suitable for a StaticStore.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
