package delivery

import (
	"errors"
	"log"
	"sync"
)

// ErrNoSession is returned when no live session is bound to a correlation
// id. Senders treat it as "caller went away", not a failure.
var ErrNoSession = errors.New("no active session for correlation id")

// Session is the transport-side handle for one streaming caller. A session
// is a single-writer resource; the registry serializes Send calls to it.
type Session interface {
	ID() string
	Send(v any) error
	Close() error
}

// Registry tracks open streaming sessions by correlation id. One session may
// serve several correlation ids; writes to the same session serialize on a
// per-session lock while unrelated sessions send concurrently.
type Registry struct {
	mu         sync.RWMutex
	byCorrID   map[string]Session
	writeLocks map[string]*sync.Mutex // keyed by session id
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byCorrID:   make(map[string]Session),
		writeLocks: make(map[string]*sync.Mutex),
	}
}

// Register binds a correlation id to a session.
func (r *Registry) Register(correlationID string, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byCorrID[correlationID] = s
	if _, ok := r.writeLocks[s.ID()]; !ok {
		r.writeLocks[s.ID()] = &sync.Mutex{}
	}
}

// Get returns the session bound to a correlation id, if any.
func (r *Registry) Get(correlationID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byCorrID[correlationID]
	return s, ok
}

// Remove unbinds one correlation id. The session's write lock stays until
// PurgeSession, since other correlation ids may still point at it.
func (r *Registry) Remove(correlationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byCorrID, correlationID)
}

// PurgeSession drops every binding to the given session id. Called when the
// remote side closes, so later sends become no-ops instead of writes to a
// dead handle.
func (r *Registry) PurgeSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for corrID, s := range r.byCorrID {
		if s.ID() == sessionID {
			delete(r.byCorrID, corrID)
		}
	}
	delete(r.writeLocks, sessionID)
}

// SendTo writes one envelope to the session bound to correlationID, holding
// that session's write lock for the duration of the send.
func (r *Registry) SendTo(correlationID string, v any) error {
	r.mu.RLock()
	s, ok := r.byCorrID[correlationID]
	var lock *sync.Mutex
	if ok {
		lock = r.writeLocks[s.ID()]
	}
	r.mu.RUnlock()

	if !ok || lock == nil {
		return ErrNoSession
	}

	lock.Lock()
	defer lock.Unlock()

	if err := s.Send(v); err != nil {
		log.Printf("ERROR: send to session %s failed: %v", s.ID(), err)
		return err
	}
	return nil
}
