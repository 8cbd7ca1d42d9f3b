package app

import (
	"context"
	"time"

	"live-quiz-engine/internal/domain"
	"live-quiz-engine/internal/scoring"
)

// SessionStore is the durable record of sessions, submissions and scores.
// Implementations report transient outages as domain.ErrStoreUnavailable;
// any other error is treated as permanent.
type SessionStore interface {
	LoadSession(ctx context.Context, sessionID string) (domain.SessionDefinition, error)
	SaveSubmission(ctx context.Context, sub domain.Submission) error
	// SaveScoreRecord upserts on (session, participant, question) so a
	// revised answer replaces the earlier record.
	SaveScoreRecord(ctx context.Context, rec domain.ScoreRecord) error
	PersistLeaderboardSnapshot(ctx context.Context, lb domain.Leaderboard) error
	LoadLeaderboardSnapshot(ctx context.Context, sessionID string) (domain.Leaderboard, error)
	SaveSessionState(ctx context.Context, sessionID string, state domain.State, at time.Time) error
	// LoadSessionState returns the last recorded lifecycle state, Draft when
	// nothing was recorded yet.
	LoadSessionState(ctx context.Context, sessionID string) (domain.State, error)
}

// DefinitionRepository loads session definitions, usually through a cache
// in front of the SessionStore.
type DefinitionRepository interface {
	GetDefinition(ctx context.Context, sessionID string) (domain.SessionDefinition, error)
}

// SessionRegistry tracks the sessions live on this instance.
type SessionRegistry interface {
	// GetOrCreate returns the live session or registers the one built by
	// create. Registries shared between instances return
	// domain.ErrNotOwner when another instance runs the session.
	GetOrCreate(ctx context.Context, sessionID string, create func() (*Session, error)) (*Session, error)
	Get(sessionID string) (*Session, bool)
	Remove(ctx context.Context, sessionID string)
	Sessions() []*Session
	// Renew extends whatever ownership the registry holds and returns the
	// sessions now owned by another instance.
	Renew(ctx context.Context) (lost []string, err error)
}

type Options struct {
	// GracePeriod is added to every question deadline to absorb network
	// latency.
	GracePeriod time.Duration
	// AllowRevision lets a participant replace an answer until the
	// deadline. The latest received answer wins.
	AllowRevision bool
	// DefaultTimeLimit applies to questions and definitions without one.
	DefaultTimeLimit time.Duration
	// MaxDuration ends an active session regardless of progress. Zero
	// disables the limit.
	MaxDuration time.Duration
	Scoring     scoring.Policy
}

func DefaultOptions() Options {
	return Options{
		GracePeriod:      2 * time.Second,
		DefaultTimeLimit: 30 * time.Second,
		Scoring:          scoring.Policy{FuzzyDistance: 1},
	}
}
