package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"live-quiz-engine/internal/app"
	"live-quiz-engine/internal/domain"

	"github.com/redis/go-redis/v9"
)

var (
	// renewLease extends the lease while this instance holds it and takes it
	// back if it lapsed. It returns 0 when another instance holds it.
	renewLease = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if owner == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if not owner then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0`)

	// releaseLease deletes the lease only while this instance still holds it.
	releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Registry is a Redis-aware implementation of app.SessionRegistry.
// Sessions live in a local map; Redis holds an ownership lease per session
// so that only one instance runs a given session:
//
//	SET quiz:session:{sessionID} {instanceID} NX PX {ttl}
//
// Leases are kept alive by Renew and released on Remove. The reaper must
// renew well within the TTL: a lease taken over by another instance is only
// noticed on the next Renew.
type Registry struct {
	client   *redis.Client
	instance string
	ttl      time.Duration

	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewRegistry(client *redis.Client, instanceID string, ttl time.Duration) *Registry {
	return &Registry{
		client:   client,
		instance: instanceID,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
	}
}

func (r *Registry) GetOrCreate(ctx context.Context, sessionID string, create func() (*app.Session, error)) (*app.Session, error) {
	if session, ok := r.Get(sessionID); ok {
		return session, nil
	}
	if err := r.acquire(ctx, sessionID); err != nil {
		return nil, err
	}

	session, err := create()
	if err != nil {
		r.release(ctx, sessionID)
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

func (r *Registry) Remove(ctx context.Context, sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	r.release(ctx, sessionID)
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

// Renew extends the lease of every local session, re-acquiring leases that
// lapsed. Sessions whose lease another instance now holds are returned as
// lost; the caller must stop running them.
func (r *Registry) Renew(ctx context.Context) ([]string, error) {
	var (
		lost []string
		errs []error
	)
	for _, session := range r.Sessions() {
		n, err := renewLease.Run(ctx, r.client, []string{leaseKey(session.ID())}, r.instance, r.ttl.Milliseconds()).Int64()
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: renew %s: %v", domain.ErrStoreUnavailable, session.ID(), err))
			continue
		}
		if n == 0 {
			lost = append(lost, session.ID())
		}
	}
	return lost, errors.Join(errs...)
}

// Owner returns the instance holding the session's lease.
func (r *Registry) Owner(ctx context.Context, sessionID string) (string, error) {
	owner, err := r.client.Get(ctx, leaseKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

func (r *Registry) acquire(ctx context.Context, sessionID string) error {
	key := leaseKey(sessionID)
	ok, err := r.client.SetNX(ctx, key, r.instance, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: acquire lease: %v", domain.ErrStoreUnavailable, err)
	}
	if ok {
		return nil
	}
	owner, err := r.client.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: read lease: %v", domain.ErrStoreUnavailable, err)
	}
	if owner != r.instance {
		return fmt.Errorf("%w: session %s runs on %s", domain.ErrNotOwner, sessionID, owner)
	}
	return nil
}

func (r *Registry) release(ctx context.Context, sessionID string) {
	_ = releaseLease.Run(ctx, r.client, []string{leaseKey(sessionID)}, r.instance).Err()
}

func leaseKey(sessionID string) string {
	return "quiz:session:" + sessionID
}
