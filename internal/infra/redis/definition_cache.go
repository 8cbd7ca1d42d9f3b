package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"live-quiz-engine/internal/domain"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefinitionLoader fetches session definitions from the backing store.
type DefinitionLoader interface {
	LoadSession(ctx context.Context, sessionID string) (domain.SessionDefinition, error)
}

// DefinitionCache caches session definitions in Redis and falls back to the
// loader on a miss. Definitions are stored as JSON:
//
//	SET quiz:definition:{sessionID} {json} PX {ttl+jitter}
//
// Redis errors are treated as misses.
type DefinitionCache struct {
	client *redis.Client
	loader DefinitionLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewDefinitionCache(client *redis.Client, loader DefinitionLoader, ttl time.Duration) *DefinitionCache {
	return &DefinitionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *DefinitionCache) GetDefinition(ctx context.Context, sessionID string) (domain.SessionDefinition, error) {
	if def, ok := c.cached(ctx, sessionID); ok {
		return def, nil
	}

	result, err, _ := c.sf.Do(sessionID, func() (interface{}, error) {
		// Re-check cache in case another caller filled it.
		if def, ok := c.cached(ctx, sessionID); ok {
			return def, nil
		}

		def, err := c.loader.LoadSession(ctx, sessionID)
		if err != nil {
			return domain.SessionDefinition{}, err
		}
		if raw, err := json.Marshal(def); err == nil {
			_ = c.client.Set(ctx, definitionKey(sessionID), raw, c.ttlWithJitter()).Err()
		}
		return def, nil
	})
	if err != nil {
		return domain.SessionDefinition{}, err
	}
	return result.(domain.SessionDefinition), nil
}

// Invalidate drops a cached definition.
func (c *DefinitionCache) Invalidate(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, definitionKey(sessionID)).Err()
}

func (c *DefinitionCache) cached(ctx context.Context, sessionID string) (domain.SessionDefinition, bool) {
	raw, err := c.client.Get(ctx, definitionKey(sessionID)).Bytes()
	if err != nil {
		return domain.SessionDefinition{}, false
	}
	var def domain.SessionDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return domain.SessionDefinition{}, false
	}
	return def, true
}

func definitionKey(sessionID string) string {
	return "quiz:definition:" + sessionID
}

func (c *DefinitionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
