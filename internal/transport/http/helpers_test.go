package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"live-quiz-engine/internal/app"
	"live-quiz-engine/internal/domain"
	"live-quiz-engine/internal/infra/memory"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func newTestEngine(t *testing.T) *app.Engine {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	store := memory.NewStore(sampleDefinition())
	return app.NewEngine(app.DefaultOptions(), app.Deps{
		Registry:    memory.NewRegistry(),
		Definitions: memory.NewDefinitionCache(store, time.Minute),
		Store:       store,
		Log:         log,
	})
}

func newTestRouter(t *testing.T, secret string) (*gin.Engine, *app.Engine) {
	t.Helper()
	engine := newTestEngine(t)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewRouter(engine, RouterOptions{AuthSecret: secret, Log: log}), engine
}

// startSession schedules and starts the sample session and joins participants.
func startSession(t *testing.T, engine *app.Engine, participants ...string) {
	t.Helper()
	ctx := context.Background()
	if err := engine.Schedule(ctx, "quiz-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	for _, pid := range participants {
		if _, err := engine.Join(ctx, "quiz-1", pid, "name-"+pid, false); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	if err := engine.Start(ctx, "quiz-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) domain.ErrorPayload {
	t.Helper()
	var payload domain.ErrorPayload
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return payload
}

func signToken(t *testing.T, secret, subject, role string) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func choiceAnswer(ids ...string) domain.Answer {
	return domain.Answer{Kind: domain.AnswerChoice, Choices: ids}
}

func sampleDefinition() domain.SessionDefinition {
	return domain.SessionDefinition{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Type:   domain.QuestionSingleChoice,
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4"},
					{ID: "o3", Text: "5"},
				},
				Key:              domain.AnswerKey{Options: []string{"o2"}},
				Points:           decimal.NewFromInt(1),
				TimeLimitSeconds: 60,
			},
		},
	}
}
