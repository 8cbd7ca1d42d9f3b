package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"live-quiz-engine/internal/domain"
)

func TestDefinitionCacheCaches(t *testing.T) {
	loader := &countingLoader{DefinitionLoader: NewStore(sampleDefinition())}
	cache := NewDefinitionCache(loader, time.Minute)

	if _, err := cache.GetDefinition(context.Background(), "session-1"); err != nil {
		t.Fatalf("get definition: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls.Load())
	}

	def, err := cache.GetDefinition(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("get definition 2: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls.Load())
	}
	if len(def.Questions) != 1 || def.Questions[0].ID != "q1" {
		t.Fatalf("unexpected definition %+v", def)
	}
}

func TestDefinitionCacheExpires(t *testing.T) {
	loader := &countingLoader{DefinitionLoader: NewStore(sampleDefinition())}
	cache := NewDefinitionCache(loader, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cache.clock = func() time.Time { return now }

	if _, err := cache.GetDefinition(context.Background(), "session-1"); err != nil {
		t.Fatalf("get definition: %v", err)
	}
	// Past TTL plus the maximum jitter.
	now = now.Add(67 * time.Second)
	if _, err := cache.GetDefinition(context.Background(), "session-1"); err != nil {
		t.Fatalf("get definition after expiry: %v", err)
	}
	if loader.calls.Load() != 2 {
		t.Fatalf("expected reload after expiry, loader calls %d", loader.calls.Load())
	}

	cache.Invalidate("session-1")
	if _, err := cache.GetDefinition(context.Background(), "session-1"); err != nil {
		t.Fatalf("get definition after invalidate: %v", err)
	}
	if loader.calls.Load() != 3 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.calls.Load())
	}
}

func TestDefinitionCacheCollapsesConcurrentLoads(t *testing.T) {
	release := make(chan struct{})
	loader := &countingLoader{DefinitionLoader: NewStore(sampleDefinition()), gate: release}
	cache := NewDefinitionCache(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.GetDefinition(context.Background(), "session-1"); err != nil {
				t.Errorf("get definition: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if loader.calls.Load() != 1 {
		t.Fatalf("expected a single load, got %d", loader.calls.Load())
	}
}

func TestDefinitionCacheMissingSession(t *testing.T) {
	cache := NewDefinitionCache(NewStore(), time.Minute)
	_, err := cache.GetDefinition(context.Background(), "nope")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

type countingLoader struct {
	DefinitionLoader
	calls atomic.Int32
	gate  chan struct{}
}

func (l *countingLoader) LoadSession(ctx context.Context, sessionID string) (domain.SessionDefinition, error) {
	l.calls.Add(1)
	if l.gate != nil {
		<-l.gate
	}
	return l.DefinitionLoader.LoadSession(ctx, sessionID)
}

func sampleDefinition() domain.SessionDefinition {
	return domain.SessionDefinition{
		ID:    "session-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Type:   domain.QuestionSingleChoice,
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4"},
				},
				Key:              domain.AnswerKey{Options: []string{"o2"}},
				TimeLimitSeconds: 30,
			},
		},
	}
}
