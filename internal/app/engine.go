package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"live-quiz-engine/internal/clock"
	"live-quiz-engine/internal/domain"
	"live-quiz-engine/internal/live"

	"github.com/sirupsen/logrus"
)

type Deps struct {
	Registry    SessionRegistry
	Definitions DefinitionRepository
	Store       SessionStore
	Hub         *live.Hub
	Persister   *Persister
	Clock       clock.Clock
	Log         logrus.FieldLogger
}

// Engine contains the quiz session use cases: lifecycle, joins, answer
// submission, leaderboards and participant channels.
type Engine struct {
	opts        Options
	registry    SessionRegistry
	definitions DefinitionRepository
	store       SessionStore
	hub         *live.Hub
	persister   *Persister
	clock       clock.Clock
	log         logrus.FieldLogger
}

func NewEngine(opts Options, deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if deps.Hub == nil {
		deps.Hub = live.NewHub(live.Options{Policy: live.DefaultReconnectPolicy()}, deps.Clock, deps.Log)
	}
	if deps.Persister == nil {
		deps.Persister = NewPersister(deps.Store, DefaultPersisterOptions(), deps.Log)
	}
	return &Engine{
		opts:        opts,
		registry:    deps.Registry,
		definitions: deps.Definitions,
		store:       deps.Store,
		hub:         deps.Hub,
		persister:   deps.Persister,
		clock:       deps.Clock,
		log:         deps.Log.WithField("component", "engine"),
	}
}

// Open loads the session definition and registers a Draft session, or
// returns the live one. A session that already ended is never run again.
func (e *Engine) Open(ctx context.Context, sessionID string) (*Session, error) {
	return e.registry.GetOrCreate(ctx, sessionID, func() (*Session, error) {
		def, err := e.definitions.GetDefinition(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		state, err := e.store.LoadSessionState(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if state == domain.StateEnded || state == domain.StateArchived {
			return nil, fmt.Errorf("%w: session %s is %s", domain.ErrIllegalTransition, sessionID, state)
		}
		def.ID = sessionID
		feed := e.hub.Open(sessionID)
		return newSession(def, e.opts, e.clock, feed, e.hooks(sessionID), e.log), nil
	})
}

func (e *Engine) hooks(sessionID string) sessionHooks {
	return sessionHooks{
		persist: func(ctx context.Context, sub domain.Submission, rec domain.ScoreRecord) {
			e.persister.SaveScore(ctx, sub, rec)
		},
		recordState: func(state domain.State, at time.Time) {
			e.persister.SaveState(context.Background(), sessionID, state, at)
		},
		ended: e.onEnded,
		unconfirmed: func() bool {
			return e.persister.Pending(sessionID)
		},
		reconnect: func() []int64 {
			return e.hub.Policy().Millis()
		},
	}
}

// onEnded persists the final leaderboard and archives the session once it
// is stored.
func (e *Engine) onEnded(s *Session) {
	final := s.leaderboard()
	final.Unconfirmed = false
	e.persister.SaveSnapshot(context.Background(), final, func(err error) {
		if err != nil {
			e.log.WithField("session", s.ID()).WithError(err).Error("final leaderboard not persisted")
			return
		}
		if err := s.archive(); err != nil {
			e.log.WithField("session", s.ID()).WithError(err).Warn("archive failed")
		}
	})
}

func (e *Engine) lookup(sessionID string) (*Session, error) {
	s, ok := e.registry.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Schedule validates the definition and moves Draft -> Scheduled. The
// session starts on its own at startAt unless started earlier.
func (e *Engine) Schedule(ctx context.Context, sessionID string, startAt time.Time) error {
	s, err := e.Open(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.schedule(startAt); err != nil {
		return err
	}
	e.log.WithFields(logrus.Fields{"session": sessionID, "start_at": startAt}).Info("session scheduled")
	return nil
}

// Start moves Scheduled -> Active and opens the first question.
func (e *Engine) Start(_ context.Context, sessionID string) error {
	s, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	return s.start()
}

// Advance closes the current question and opens the next one, ending the
// session after the last question.
func (e *Engine) Advance(_ context.Context, sessionID string) error {
	s, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	return s.advance()
}

// End moves Active -> Ended.
func (e *Engine) End(_ context.Context, sessionID string) error {
	s, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	return s.end("ended by organizer")
}

// State reports the lifecycle state of a live session.
func (e *Engine) State(_ context.Context, sessionID string) (domain.State, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return "", err
	}
	return s.State(), nil
}

// Join registers or refreshes a participant.
func (e *Engine) Join(_ context.Context, sessionID, participantID, displayName string, guest bool) (domain.LeaderboardEntry, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return domain.LeaderboardEntry{}, err
	}
	entry, err := s.join(participantID, displayName, guest)
	if err != nil {
		return domain.LeaderboardEntry{}, err
	}
	e.log.WithFields(logrus.Fields{"session": sessionID, "participant": participantID}).Info("participant joined")
	return entry, nil
}

// Submit validates, scores and records an answer. The receive time is taken
// from the engine clock on entry and is the only time deadlines are judged
// against; the client timestamp is informational.
func (e *Engine) Submit(ctx context.Context, req domain.SubmissionRequest) (domain.Receipt, error) {
	received := e.clock.Now()
	s, err := e.lookup(req.SessionID)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt, err := s.submit(ctx, req, received)
	if err != nil {
		if domain.IsRejection(err) {
			e.log.WithFields(logrus.Fields{
				"session":     req.SessionID,
				"participant": req.ParticipantID,
				"question":    req.QuestionID,
				"reason":      domain.ReasonCode(err),
			}).Debug("submission rejected")
		}
		return domain.Receipt{}, err
	}
	return receipt, nil
}

// Leaderboard returns the ranked leaderboard. Sessions no longer live on
// this instance are served from the last persisted snapshot.
func (e *Engine) Leaderboard(ctx context.Context, sessionID string) (domain.Leaderboard, error) {
	if s, ok := e.registry.Get(sessionID); ok {
		return s.leaderboard(), nil
	}
	lb, err := e.store.LoadLeaderboardSnapshot(ctx, sessionID)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return lb, nil
}

// Connect registers a participant channel. Its first event is a snapshot of
// the current state; deltas follow in order.
func (e *Engine) Connect(_ context.Context, sessionID, participantID string) (*live.Channel, error) {
	s, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	ch, err := s.connect(participantID)
	if errors.Is(err, live.ErrFeedClosed) {
		return nil, domain.ErrSessionNotFound
	}
	return ch, err
}

// Disconnect closes a channel the participant is done with.
func (e *Engine) Disconnect(sessionID string, ch *live.Channel) {
	if f, ok := e.hub.Feed(sessionID); ok {
		f.Unregister(ch)
	}
}

// MarkStale records that writing to a channel failed.
func (e *Engine) MarkStale(sessionID string, ch *live.Channel, cause error) {
	if f, ok := e.hub.Feed(sessionID); ok {
		f.MarkStale(ch, cause)
	}
}

// ReconnectSchedule returns the backoff clients follow after losing their
// channel.
func (e *Engine) ReconnectSchedule() []time.Duration {
	return e.hub.Policy().Schedule()
}

type ReapStats struct {
	Evicted       int
	Fenced        int
	StaleChannels int
}

// Reap renews session ownership, fences and evicts sessions another
// instance took over, evicts archived sessions and closes channels that
// missed the reconnect window.
func (e *Engine) Reap(ctx context.Context) ReapStats {
	var stats ReapStats
	lost, err := e.registry.Renew(ctx)
	if err != nil {
		e.log.WithError(err).Warn("session lease renewal failed")
	}
	for _, id := range lost {
		if s, ok := e.registry.Get(id); ok {
			s.fence()
		}
		e.registry.Remove(ctx, id)
		e.hub.Close(id)
		e.log.WithField("session", id).Warn("session owned by another instance, evicted")
		stats.Fenced++
	}

	for _, s := range e.registry.Sessions() {
		if s.State() != domain.StateArchived {
			continue
		}
		e.registry.Remove(ctx, s.ID())
		e.hub.Close(s.ID())
		stats.Evicted++
	}
	stats.StaleChannels = e.hub.CloseStale()
	return stats
}
