package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"live-quiz-engine/internal/clock"
	"live-quiz-engine/internal/domain"
	"live-quiz-engine/internal/leaderboard"
	"live-quiz-engine/internal/live"
	"live-quiz-engine/internal/scoring"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// sessionHooks connect a session to the engine's persistence.
type sessionHooks struct {
	persist     func(ctx context.Context, sub domain.Submission, rec domain.ScoreRecord)
	recordState func(state domain.State, at time.Time)
	ended       func(s *Session)
	unconfirmed func() bool
	reconnect   func() []int64
}

// questionWindow is the answer window of one question. A zero activatedAt
// means the question has not been shown yet.
type questionWindow struct {
	activatedAt time.Time
	deadline    time.Time
}

type tripleKey struct {
	participantID string
	questionID    string
}

// Session is the live state of one quiz session. Lifecycle changes take the
// write lock; submissions hold the read lock while they are admitted, scored
// and applied, so that no submission is accepted after Ended commits. Their
// store writes run after the read lock is released, under the pair lock.
type Session struct {
	id    string
	def   domain.SessionDefinition
	opts  Options
	clock clock.Clock
	log   logrus.FieldLogger
	board *leaderboard.Board
	feed  *live.Feed
	hooks sessionHooks

	mu        sync.RWMutex
	state     domain.State
	startAt   time.Time
	startedAt time.Time
	endedAt   time.Time
	current   int
	windows   []questionWindow
	timer     clock.Timer
	effects   []func()
	// fenced is set once another instance owns the session.
	fenced bool

	partMu       sync.RWMutex
	participants map[string]domain.Participant

	triples     tripleLocks
	inflight    sync.WaitGroup
	subMu       sync.Mutex
	submissions map[tripleKey]domain.Submission
	scores      map[tripleKey]domain.ScoreRecord
}

func newSession(def domain.SessionDefinition, opts Options, clk clock.Clock, feed *live.Feed, hooks sessionHooks, log logrus.FieldLogger) *Session {
	return &Session{
		id:           def.ID,
		def:          def,
		opts:         opts,
		clock:        clk,
		log:          log.WithField("session", def.ID),
		board:        leaderboard.New(),
		feed:         feed,
		hooks:        hooks,
		state:        domain.StateDraft,
		current:      -1,
		windows:      make([]questionWindow, len(def.Questions)),
		participants: make(map[string]domain.Participant),
		triples:      tripleLocks{locks: make(map[tripleKey]*tripleLock)},
		submissions:  make(map[tripleKey]domain.Submission),
		scores:       make(map[tripleKey]domain.ScoreRecord),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() domain.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// lock/unlock wrap the write lock. Side effects queued while locked (store
// writes, end-of-session handling) run after the lock is released.
func (s *Session) lock() {
	s.mu.Lock()
}

func (s *Session) unlock() {
	effects := s.effects
	s.effects = nil
	s.mu.Unlock()
	for _, f := range effects {
		f()
	}
}

func (s *Session) afterUnlock(f func()) {
	s.effects = append(s.effects, f)
}

// schedule moves Draft -> Scheduled.
func (s *Session) schedule(startAt time.Time) error {
	s.lock()
	defer s.unlock()

	if s.fenced {
		return s.fencedErr()
	}
	if s.state != domain.StateDraft {
		return fmt.Errorf("%w: schedule from %s", domain.ErrIllegalTransition, s.state)
	}
	if len(s.def.Questions) == 0 {
		return fmt.Errorf("%w: session has no questions", domain.ErrInvalidConfiguration)
	}
	for _, q := range s.def.Questions {
		if _, ok := q.Type.AnswerKind(); !ok {
			return fmt.Errorf("%w: question %s has unsupported type %q", domain.ErrInvalidConfiguration, q.ID, q.Type)
		}
	}
	now := s.clock.Now()
	if !startAt.After(now) {
		return fmt.Errorf("%w: start time %s is not in the future", domain.ErrInvalidConfiguration, startAt.Format(time.RFC3339))
	}

	s.startAt = startAt
	s.transitionLocked(domain.StateScheduled, now)
	s.armLocked()
	return nil
}

// start moves Scheduled -> Active and opens the first question.
func (s *Session) start() error {
	s.lock()
	defer s.unlock()
	if s.fenced {
		return s.fencedErr()
	}
	return s.startLocked(s.clock.Now())
}

func (s *Session) startLocked(now time.Time) error {
	switch s.state {
	case domain.StateScheduled:
	case domain.StateActive:
		return domain.ErrAlreadyStarted
	default:
		return fmt.Errorf("%w: start from %s", domain.ErrIllegalTransition, s.state)
	}
	s.startedAt = now
	s.transitionLocked(domain.StateActive, now)
	s.activateLocked(0, now)
	s.armLocked()
	return nil
}

// advance closes the current question early and opens the next one, or
// ends the session after the last question.
func (s *Session) advance() error {
	s.lock()
	defer s.unlock()

	if s.fenced {
		return s.fencedErr()
	}
	if s.state != domain.StateActive {
		return fmt.Errorf("%w: advance from %s", domain.ErrIllegalTransition, s.state)
	}
	now := s.clock.Now()
	if w := &s.windows[s.current]; now.Before(w.deadline) {
		w.deadline = now
	}
	s.nextLocked(now)
	return nil
}

// end moves Active -> Ended on organizer request.
func (s *Session) end(reason string) error {
	s.lock()
	defer s.unlock()

	if s.fenced {
		return s.fencedErr()
	}
	if s.state != domain.StateActive {
		return fmt.Errorf("%w: end from %s", domain.ErrIllegalTransition, s.state)
	}
	s.endLocked(s.clock.Now(), reason)
	return nil
}

// archive moves Ended -> Archived once the final leaderboard is persisted.
func (s *Session) archive() error {
	s.lock()
	defer s.unlock()

	if s.state != domain.StateEnded {
		return fmt.Errorf("%w: archive from %s", domain.ErrIllegalTransition, s.state)
	}
	s.transitionLocked(domain.StateArchived, s.clock.Now())
	return nil
}

// fence stops the session for good once another instance owns it. Timers
// are cancelled and joins, submissions and transitions fail with
// ErrNotOwner.
func (s *Session) fence() {
	s.lock()
	defer s.unlock()
	if s.fenced {
		return
	}
	s.fenced = true
	s.stopTimerLocked()
	s.log.WithField("state", s.state).Warn("session fenced")
}

func (s *Session) fencedErr() error {
	return fmt.Errorf("%w: session %s", domain.ErrNotOwner, s.id)
}

func (s *Session) nextLocked(now time.Time) {
	if s.current+1 >= len(s.def.Questions) {
		s.endLocked(now, "completed")
		return
	}
	s.activateLocked(s.current+1, now)
	s.armLocked()
}

func (s *Session) activateLocked(index int, now time.Time) {
	q := s.def.Questions[index]
	s.current = index
	s.windows[index] = questionWindow{
		activatedAt: now,
		deadline:    now.Add(q.TimeLimit(s.defaultTimeLimit())),
	}
	active := s.activeQuestionLocked()
	s.feed.Commit(func() (domain.Event, bool) {
		return domain.Event{Type: domain.EventQuestionAdvance, Payload: active}, true
	})
	s.log.WithFields(logrus.Fields{"question": q.ID, "index": index}).Info("question activated")
}

func (s *Session) endLocked(now time.Time, reason string) {
	s.stopTimerLocked()
	s.endedAt = now
	s.transitionLocked(domain.StateEnded, now)
	s.feed.Commit(func() (domain.Event, bool) {
		return domain.Event{Type: domain.EventSessionEnded, Payload: domain.SessionEnded{
			Reason:      reason,
			EndedAt:     now,
			Leaderboard: s.leaderboard(),
		}}, true
	})
	s.log.WithField("reason", reason).Info("session ended")
	if s.hooks.ended != nil {
		s.afterUnlock(func() {
			s.inflight.Wait()
			s.hooks.ended(s)
		})
	}
}

func (s *Session) transitionLocked(to domain.State, at time.Time) {
	s.log.WithFields(logrus.Fields{"from": s.state, "to": to}).Debug("session transition")
	s.state = to
	if s.hooks.recordState != nil {
		s.afterUnlock(func() { s.hooks.recordState(to, at) })
	}
}

// armLocked schedules the next time-driven transition for the current state.
func (s *Session) armLocked() {
	s.stopTimerLocked()

	var due time.Time
	switch s.state {
	case domain.StateScheduled:
		due = s.startAt
	case domain.StateActive:
		due = s.windows[s.current].deadline.Add(s.opts.GracePeriod)
		if s.opts.MaxDuration > 0 {
			if limit := s.startedAt.Add(s.opts.MaxDuration); limit.Before(due) {
				due = limit
			}
		}
	default:
		return
	}
	wait := due.Sub(s.clock.Now())
	if wait < 0 {
		wait = 0
	}
	s.timer = s.clock.AfterFunc(wait, s.tick)
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// tick applies every transition that became due. A timer that fires early
// or late just re-evaluates against the clock.
func (s *Session) tick() {
	s.lock()
	defer s.unlock()

	if s.fenced {
		return
	}
	now := s.clock.Now()
	switch s.state {
	case domain.StateScheduled:
		if !now.Before(s.startAt) {
			if err := s.startLocked(now); err != nil {
				s.log.WithError(err).Warn("scheduled start failed")
			}
			return
		}
	case domain.StateActive:
		if s.opts.MaxDuration > 0 && !now.Before(s.startedAt.Add(s.opts.MaxDuration)) {
			s.endLocked(now, "timeout")
			return
		}
		if !now.Before(s.windows[s.current].deadline.Add(s.opts.GracePeriod)) {
			s.nextLocked(now)
			return
		}
	default:
		return
	}
	s.armLocked()
}

func (s *Session) defaultTimeLimit() time.Duration {
	if s.def.DefaultTimeLimitSeconds > 0 {
		return time.Duration(s.def.DefaultTimeLimitSeconds) * time.Second
	}
	return s.opts.DefaultTimeLimit
}

// join adds or refreshes a participant. Only Scheduled and Active sessions
// accept joins.
func (s *Session) join(participantID, displayName string, guest bool) (domain.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.fenced {
		return domain.LeaderboardEntry{}, s.fencedErr()
	}
	if !s.state.AcceptsJoins() {
		return domain.LeaderboardEntry{}, fmt.Errorf("%w: session is %s", domain.ErrJoinClosed, s.state)
	}

	now := s.clock.Now()
	s.partMu.Lock()
	p, ok := s.participants[participantID]
	if !ok {
		p = domain.Participant{ID: participantID, Guest: guest, JoinedAt: now}
	}
	if displayName != "" {
		p.DisplayName = displayName
	}
	s.partMu.Unlock()

	var entry domain.LeaderboardEntry
	s.feed.Commit(func() (domain.Event, bool) {
		entry = s.board.Join(participantID, displayName, now)
		return domain.Event{Type: domain.EventLeaderboardDelta, Payload: entry}, true
	})

	p.JoinOrder = entry.JoinOrder
	s.partMu.Lock()
	s.participants[participantID] = p
	s.partMu.Unlock()
	return entry, nil
}

func (s *Session) participant(participantID string) (domain.Participant, bool) {
	s.partMu.RLock()
	defer s.partMu.RUnlock()
	p, ok := s.participants[participantID]
	return p, ok
}

// submit is the submission coordinator for this session. Distinct
// (participant, question) pairs run in parallel; the same pair is
// serialized so exactly one submission wins. The store write completes
// before the pair lock is released.
func (s *Session) submit(ctx context.Context, req domain.SubmissionRequest, received time.Time) (domain.Receipt, error) {
	key := tripleKey{participantID: req.ParticipantID, questionID: req.QuestionID}
	release := s.triples.lock(key)
	defer release()

	sub, rec, receipt, err := s.accept(key, req, received)
	if err != nil {
		return domain.Receipt{}, err
	}
	defer s.inflight.Done()
	if s.hooks.persist != nil {
		s.hooks.persist(ctx, sub, rec)
	}
	return receipt, nil
}

// accept admits, scores and applies one submission under the session read
// lock. The caller holds the pair lock and must call inflight.Done once the
// accepted submission has been handed to the store.
func (s *Session) accept(key tripleKey, req domain.SubmissionRequest, received time.Time) (domain.Submission, domain.ScoreRecord, domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sub     domain.Submission
		rec     domain.ScoreRecord
		receipt domain.Receipt
	)
	q, window, err := s.admitLocked(req.QuestionID, received)
	if err != nil {
		return sub, rec, receipt, err
	}
	if _, ok := s.participant(req.ParticipantID); !ok {
		return sub, rec, receipt, domain.ErrParticipantNotFound
	}

	s.subMu.Lock()
	prev, exists := s.submissions[key]
	s.subMu.Unlock()
	if exists {
		if !s.opts.AllowRevision {
			return sub, rec, receipt, fmt.Errorf("%w: %s already answered %s", domain.ErrDuplicateSubmission, req.ParticipantID, req.QuestionID)
		}
		if !received.After(prev.ReceivedAt) {
			return sub, rec, receipt, fmt.Errorf("%w: superseded by a later revision", domain.ErrDuplicateSubmission)
		}
	}
	if err := scoring.Validate(q, req.Answer); err != nil {
		return sub, rec, receipt, err
	}

	result, err := scoring.Score(q, req.Answer, s.opts.Scoring)
	if err != nil {
		return sub, rec, receipt, err
	}
	taken := received.Sub(window.activatedAt)
	if taken < 0 {
		taken = 0
	}
	sub = domain.Submission{
		ID:              uuid.NewString(),
		SessionID:       s.id,
		ParticipantID:   req.ParticipantID,
		QuestionID:      req.QuestionID,
		Answer:          req.Answer,
		ClientTimestamp: req.ClientTimestamp,
		ReceivedAt:      received,
	}
	rec = domain.ScoreRecord{
		ID:            uuid.NewString(),
		SubmissionID:  sub.ID,
		SessionID:     s.id,
		ParticipantID: req.ParticipantID,
		QuestionID:    req.QuestionID,
		Points:        result.Points,
		Correct:       result.Correct,
		NeedsReview:   result.NeedsReview,
		TimeTaken:     taken,
		ScoredAt:      s.clock.Now(),
	}

	s.subMu.Lock()
	s.submissions[key] = sub
	s.scores[key] = rec
	s.subMu.Unlock()

	var entry domain.LeaderboardEntry
	s.feed.Commit(func() (domain.Event, bool) {
		var changed bool
		entry, changed = s.board.Apply(rec)
		return domain.Event{Type: domain.EventLeaderboardDelta, Payload: entry}, changed
	})
	s.inflight.Add(1)

	s.log.WithFields(logrus.Fields{
		"participant": req.ParticipantID,
		"question":    req.QuestionID,
		"points":      rec.Points.String(),
		"revision":    exists,
	}).Debug("submission accepted")

	receipt = domain.Receipt{
		SubmissionID: sub.ID,
		QuestionID:   req.QuestionID,
		Awarded:      rec.Points,
		Correct:      rec.Correct,
		NeedsReview:  rec.NeedsReview,
		Entry:        entry,
	}
	return sub, rec, receipt, nil
}

// admitLocked checks the lifecycle and the answer window. A submission past
// its question's deadline plus grace is always DeadlineExceeded, even if the
// session has ended since.
func (s *Session) admitLocked(questionID string, received time.Time) (domain.Question, questionWindow, error) {
	if s.fenced {
		return domain.Question{}, questionWindow{}, s.fencedErr()
	}
	if s.state == domain.StateDraft || s.state == domain.StateScheduled {
		return domain.Question{}, questionWindow{}, fmt.Errorf("%w: session is %s", domain.ErrSessionNotActive, s.state)
	}
	q, index, ok := s.def.Question(questionID)
	if !ok {
		return domain.Question{}, questionWindow{}, domain.ErrQuestionNotFound
	}
	window := s.windows[index]
	if window.activatedAt.IsZero() {
		if s.state != domain.StateActive {
			return domain.Question{}, questionWindow{}, fmt.Errorf("%w: session is %s", domain.ErrSessionNotActive, s.state)
		}
		return domain.Question{}, questionWindow{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotOpen, questionID)
	}
	if received.After(window.deadline.Add(s.opts.GracePeriod)) {
		return domain.Question{}, questionWindow{}, fmt.Errorf("%w: %s closed at %s", domain.ErrDeadlineExceeded, questionID, window.deadline.Format(time.RFC3339Nano))
	}
	if s.state != domain.StateActive {
		return domain.Question{}, questionWindow{}, fmt.Errorf("%w: session is %s", domain.ErrSessionNotActive, s.state)
	}
	return q, window, nil
}

// connect registers a participant channel and replays the current state.
func (s *Session) connect(participantID string) (*live.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.fenced {
		return nil, s.fencedErr()
	}
	if _, ok := s.participant(participantID); !ok {
		return nil, domain.ErrParticipantNotFound
	}
	return s.feed.Register(participantID, func(uint64) domain.Event {
		return domain.Event{Payload: s.snapshotLocked()}
	})
}

func (s *Session) snapshotLocked() domain.Snapshot {
	snap := domain.Snapshot{
		State:       s.state,
		Leaderboard: s.leaderboard(),
	}
	if s.state == domain.StateActive {
		active := s.activeQuestionLocked()
		snap.Question = &active
	}
	if s.hooks.reconnect != nil {
		snap.Reconnect = s.hooks.reconnect()
	}
	return snap
}

func (s *Session) activeQuestionLocked() domain.ActiveQuestion {
	w := s.windows[s.current]
	return domain.ActiveQuestion{
		Index:       s.current,
		Total:       len(s.def.Questions),
		Question:    s.def.Questions[s.current].View(),
		ActivatedAt: w.activatedAt,
		Deadline:    w.deadline,
	}
}

// leaderboard never takes the session lock; the board copies its entries
// under its own lock.
func (s *Session) leaderboard() domain.Leaderboard {
	lb := domain.Leaderboard{
		SessionID: s.id,
		Entries:   s.board.Snapshot(),
		UpdatedAt: s.clock.Now(),
	}
	if s.hooks.unconfirmed != nil {
		lb.Unconfirmed = s.hooks.unconfirmed()
	}
	return lb
}

// scoreRecords returns the accepted score records, one per answered pair.
func (s *Session) scoreRecords() []domain.ScoreRecord {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]domain.ScoreRecord, 0, len(s.scores))
	for _, rec := range s.scores {
		out = append(out, rec)
	}
	return out
}

type tripleLock struct {
	mu   sync.Mutex
	refs int
}

// tripleLocks hands out one mutex per (participant, question) pair and
// forgets it once nobody holds or waits on it.
type tripleLocks struct {
	mu    sync.Mutex
	locks map[tripleKey]*tripleLock
}

func (t *tripleLocks) lock(key tripleKey) func() {
	t.mu.Lock()
	l, ok := t.locks[key]
	if !ok {
		l = &tripleLock{}
		t.locks[key] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, key)
		}
		t.mu.Unlock()
	}
}
