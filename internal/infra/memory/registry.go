package memory

import (
	"context"
	"sync"

	"live-quiz-engine/internal/app"
)

// Registry is an in-memory implementation of app.SessionRegistry for a
// single instance.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*app.Session),
	}
}

// GetOrCreate builds the session outside the lock; when two callers race,
// the first one registered wins and the other build is dropped.
func (r *Registry) GetOrCreate(_ context.Context, sessionID string, create func() (*app.Session, error)) (*app.Session, error) {
	if session, ok := r.Get(sessionID); ok {
		return session, nil
	}
	session, err := create()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[sessionID]; ok {
		return existing, nil
	}
	r.sessions[sessionID] = session
	return session, nil
}

func (r *Registry) Get(sessionID string) (*app.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	return session, ok
}

func (r *Registry) Remove(_ context.Context, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

func (r *Registry) Sessions() []*app.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*app.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		out = append(out, session)
	}
	return out
}

// Renew is a no-op: a single instance owns every session it runs.
func (r *Registry) Renew(context.Context) ([]string, error) {
	return nil, nil
}
