package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"live-quiz-engine/internal/domain"

	"golang.org/x/sync/singleflight"
)

// DefinitionLoader fetches session definitions from the backing store.
type DefinitionLoader interface {
	LoadSession(ctx context.Context, sessionID string) (domain.SessionDefinition, error)
}

// DefinitionCache caches definitions with TTL to avoid repeated store hits.
type DefinitionCache struct {
	loader DefinitionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedDefinition
}

type cachedDefinition struct {
	def       domain.SessionDefinition
	expiresAt time.Time
}

func NewDefinitionCache(loader DefinitionLoader, ttl time.Duration) *DefinitionCache {
	return &DefinitionCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedDefinition),
	}
}

func (c *DefinitionCache) GetDefinition(ctx context.Context, sessionID string) (domain.SessionDefinition, error) {
	if def, ok := c.cached(sessionID); ok {
		return def, nil
	}

	result, err, _ := c.sf.Do(sessionID, func() (interface{}, error) {
		if def, ok := c.cached(sessionID); ok {
			return def, nil
		}
		def, err := c.loader.LoadSession(ctx, sessionID)
		if err != nil {
			return domain.SessionDefinition{}, err
		}

		c.mu.Lock()
		c.cache[sessionID] = cachedDefinition{
			def:       def,
			expiresAt: c.clock().Add(c.ttlWithJitterLocked()),
		}
		c.mu.Unlock()
		return def, nil
	})
	if err != nil {
		return domain.SessionDefinition{}, err
	}
	return result.(domain.SessionDefinition), nil
}

// Invalidate drops a cached definition.
func (c *DefinitionCache) Invalidate(sessionID string) {
	c.mu.Lock()
	delete(c.cache, sessionID)
	c.mu.Unlock()
}

func (c *DefinitionCache) cached(sessionID string) (domain.SessionDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[sessionID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.SessionDefinition{}, false
	}
	return entry.def, true
}

// ttlWithJitterLocked adds up to 10% to the TTL so entries loaded together
// do not expire together.
func (c *DefinitionCache) ttlWithJitterLocked() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
