package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"live-quiz-engine/internal/domain"
)

type scoreKey struct {
	sessionID     string
	participantID string
	questionID    string
}

// StateChange is one recorded lifecycle transition.
type StateChange struct {
	State domain.State
	At    time.Time
}

// Store is an in-memory app.SessionStore for tests, demos and single-node
// runs without Postgres. FailWrites simulates a store outage.
type Store struct {
	mu          sync.RWMutex
	definitions map[string]domain.SessionDefinition
	submissions map[string][]domain.Submission
	scores      map[scoreKey]domain.ScoreRecord
	snapshots   map[string]domain.Leaderboard
	states      map[string][]StateChange
	failWrites  int
}

func NewStore(definitions ...domain.SessionDefinition) *Store {
	s := &Store{
		definitions: make(map[string]domain.SessionDefinition),
		submissions: make(map[string][]domain.Submission),
		scores:      make(map[scoreKey]domain.ScoreRecord),
		snapshots:   make(map[string]domain.Leaderboard),
		states:      make(map[string][]StateChange),
	}
	for _, def := range definitions {
		s.definitions[def.ID] = def
	}
	return s
}

// PutDefinition adds or replaces a session definition.
func (s *Store) PutDefinition(def domain.SessionDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[def.ID] = def
}

// FailWrites makes the next n writes fail with domain.ErrStoreUnavailable.
// A negative n fails every write until FailWrites(0).
func (s *Store) FailWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = n
}

func (s *Store) LoadSession(_ context.Context, sessionID string) (domain.SessionDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[sessionID]
	if !ok {
		return domain.SessionDefinition{}, domain.ErrSessionNotFound
	}
	return def, nil
}

func (s *Store) SaveSubmission(_ context.Context, sub domain.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked(); err != nil {
		return err
	}
	s.submissions[sub.SessionID] = append(s.submissions[sub.SessionID], sub)
	return nil
}

func (s *Store) SaveScoreRecord(_ context.Context, rec domain.ScoreRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked(); err != nil {
		return err
	}
	s.scores[scoreKey{rec.SessionID, rec.ParticipantID, rec.QuestionID}] = rec
	return nil
}

func (s *Store) PersistLeaderboardSnapshot(_ context.Context, lb domain.Leaderboard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked(); err != nil {
		return err
	}
	lb.Entries = append([]domain.LeaderboardEntry(nil), lb.Entries...)
	s.snapshots[lb.SessionID] = lb
	return nil
}

func (s *Store) LoadLeaderboardSnapshot(_ context.Context, sessionID string) (domain.Leaderboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lb, ok := s.snapshots[sessionID]
	if !ok {
		return domain.Leaderboard{}, domain.ErrSessionNotFound
	}
	lb.Entries = append([]domain.LeaderboardEntry(nil), lb.Entries...)
	return lb, nil
}

func (s *Store) SaveSessionState(_ context.Context, sessionID string, state domain.State, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failLocked(); err != nil {
		return err
	}
	s.states[sessionID] = append(s.states[sessionID], StateChange{State: state, At: at})
	return nil
}

func (s *Store) LoadSessionState(_ context.Context, sessionID string) (domain.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.states[sessionID]
	if len(history) == 0 {
		return domain.StateDraft, nil
	}
	return history[len(history)-1].State, nil
}

// ScoreRecords returns the stored score records of a session.
func (s *Store) ScoreRecords(sessionID string) []domain.ScoreRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ScoreRecord
	for key, rec := range s.scores {
		if key.sessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out
}

// Submissions returns every stored submission of a session, revisions
// included.
func (s *Store) Submissions(sessionID string) []domain.Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Submission(nil), s.submissions[sessionID]...)
}

// States returns the recorded transitions of a session in order.
func (s *Store) States(sessionID string) []StateChange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]StateChange(nil), s.states[sessionID]...)
}

func (s *Store) failLocked() error {
	if s.failWrites == 0 {
		return nil
	}
	if s.failWrites > 0 {
		s.failWrites--
	}
	return fmt.Errorf("%w: simulated outage", domain.ErrStoreUnavailable)
}
