package session

import (
	"maps"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configures a Registry.
type Options struct {
	// OnOpen is called after a session is registered.
	OnOpen func(*Session)
	// OnClose is called once per session after it has been removed and its
	// transport closed.
	OnClose func(*Session)
}

// Registry is the table of live sessions. The zero value is not usable; call
// NewRegistry.
type Registry struct {
	opts Options

	mu       sync.Mutex
	nextID   uint64
	sessions map[uint64]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, sessions: make(map[uint64]*Session)}
}

// New wraps conn in a Session and registers it.
func (r *Registry) New(conn net.Conn) *Session {
	s := &Session{
		traceID:  uuid.NewString(),
		conn:     conn,
		registry: r,
		started:  time.Now(),
	}

	r.mu.Lock()
	r.nextID++
	s.id = r.nextID
	r.sessions[s.id] = s
	r.mu.Unlock()

	if r.opts.OnOpen != nil {
		r.opts.OnOpen(s)
	}
	return s
}

// Get returns the live session with the given id.
func (r *Registry) Get(id uint64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Sessions returns a snapshot of the live sessions keyed by id.
func (r *Registry) Sessions() map[uint64]*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.sessions)
}

// IDs returns the ids of the live sessions in ascending order.
func (r *Registry) IDs() []uint64 {
	r.mu.Lock()
	ids := slices.Collect(maps.Keys(r.sessions))
	r.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every live session and returns how many it closed.
func (r *Registry) CloseAll() int {
	snapshot := r.Sessions()
	for _, s := range snapshot {
		_ = s.Close()
	}
	return len(snapshot)
}

// remove marks s closed and drops it from the table in one critical section,
// so no snapshot can contain a closed session.
func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	s.closed.Store(true)
	delete(r.sessions, s.id)
	r.mu.Unlock()
}

func (r *Registry) closed(s *Session) {
	if r.opts.OnClose != nil {
		r.opts.OnClose(s)
	}
}
