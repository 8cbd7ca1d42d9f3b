package app_test

import (
	"context"
	"testing"
	"time"

	"live-quiz-engine/internal/app"
	"live-quiz-engine/internal/clock"
	"live-quiz-engine/internal/domain"
	"live-quiz-engine/internal/infra/memory"
	"live-quiz-engine/internal/live"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	engine    *app.Engine
	store     *memory.Store
	registry  app.SessionRegistry
	clock     *clock.Manual
	persister *app.Persister
}

func newHarness(t *testing.T, opts app.Options, defs ...domain.SessionDefinition) *harness {
	t.Helper()
	store := memory.NewStore(defs...)
	return newHarnessWith(t, opts, store, store, nil)
}

// newHarnessWith runs the engine on store, which wraps base, and on
// registry when it is not nil.
func newHarnessWith(t *testing.T, opts app.Options, base *memory.Store, store app.SessionStore, registry app.SessionRegistry) *harness {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	clk := clock.NewManual(epoch)
	if registry == nil {
		registry = memory.NewRegistry()
	}
	persister := app.NewPersister(store, app.PersisterOptions{
		WriteTimeout: time.Second,
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
	}, log)
	hub := live.NewHub(live.Options{Buffer: 16, Policy: live.DefaultReconnectPolicy()}, clk, log)

	return &harness{
		engine: app.NewEngine(opts, app.Deps{
			Registry:    registry,
			Definitions: memory.NewDefinitionCache(store, time.Minute),
			Store:       store,
			Hub:         hub,
			Persister:   persister,
			Clock:       clk,
			Log:         log,
		}),
		store:     base,
		registry:  registry,
		clock:     clk,
		persister: persister,
	}
}

// activate schedules the session one second out and starts it at once. The
// first question opens at epoch+1s.
func (h *harness) activate(t *testing.T, sessionID string, participants ...string) {
	t.Helper()
	ctx := context.Background()
	if err := h.engine.Schedule(ctx, sessionID, h.clock.Now().Add(time.Second)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	for _, pid := range participants {
		if _, err := h.engine.Join(ctx, sessionID, pid, "name-"+pid, false); err != nil {
			t.Fatalf("join %s: %v", pid, err)
		}
	}
	h.clock.Advance(time.Second)
	if state, _ := h.engine.State(ctx, sessionID); state != domain.StateActive {
		t.Fatalf("expected active session, got %s", state)
	}
}

func (h *harness) submit(sessionID, participantID, questionID string, answer domain.Answer) (domain.Receipt, error) {
	return h.engine.Submit(context.Background(), domain.SubmissionRequest{
		SessionID:     sessionID,
		ParticipantID: participantID,
		QuestionID:    questionID,
		Answer:        answer,
	})
}

func choice(ids ...string) domain.Answer {
	return domain.Answer{Kind: domain.AnswerChoice, Choices: ids}
}

func singleQuestionSession(id string) domain.SessionDefinition {
	return domain.SessionDefinition{
		ID:    id,
		Title: "Capitals",
		Questions: []domain.Question{
			{
				ID:     "Q",
				Type:   domain.QuestionSingleChoice,
				Prompt: "Capital of France?",
				Options: []domain.Option{
					{ID: "A", Text: "Lyon"},
					{ID: "B", Text: "Paris"},
				},
				Key:              domain.AnswerKey{Options: []string{"B"}},
				Points:           decimal.NewFromInt(10),
				TimeLimitSeconds: 30,
			},
		},
	}
}

func twoQuestionSession(id string) domain.SessionDefinition {
	def := singleQuestionSession(id)
	def.Questions = append(def.Questions, domain.Question{
		ID:               "Q2",
		Type:             domain.QuestionFreeText,
		Prompt:           "Largest planet?",
		Key:              domain.AnswerKey{Accepted: []string{"Jupiter"}},
		Points:           decimal.NewFromInt(5),
		TimeLimitSeconds: 20,
	})
	return def
}

func nextEvent(t *testing.T, ch *live.Channel) domain.Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		if !ok {
			t.Fatalf("channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return domain.Event{}
}

// nextEventOfType skips events until one of the wanted type arrives.
func nextEventOfType(t *testing.T, ch *live.Channel, typ domain.EventType) domain.Event {
	t.Helper()
	for {
		ev := nextEvent(t, ch)
		if ev.Type == typ {
			return ev
		}
	}
}

func entryFor(lb domain.Leaderboard, participantID string) (domain.LeaderboardEntry, bool) {
	for _, e := range lb.Entries {
		if e.ParticipantID == participantID {
			return e, true
		}
	}
	return domain.LeaderboardEntry{}, false
}
