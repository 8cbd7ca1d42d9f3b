package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"live-quiz-engine/internal/domain"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

type PersisterOptions struct {
	// WriteTimeout bounds a single store write.
	WriteTimeout time.Duration
	RetryInitial time.Duration
	RetryMax     time.Duration
}

func DefaultPersisterOptions() PersisterOptions {
	return PersisterOptions{
		WriteTimeout: 2 * time.Second,
		RetryInitial: 100 * time.Millisecond,
		RetryMax:     5 * time.Second,
	}
}

type writeOp struct {
	sessionID string
	name      string
	do        func(ctx context.Context) error
	done      func(err error)
}

// Persister writes to the SessionStore without letting an outage block the
// live session. A write is tried inline when its session has nothing queued;
// otherwise, or when the store is unavailable, it joins a FIFO queue that Run
// drains with exponential backoff. Writes of one session therefore reach the
// store in the order they were made.
type Persister struct {
	store SessionStore
	opts  PersisterOptions
	log   logrus.FieldLogger

	mu      sync.Mutex
	queue   []writeOp
	pending map[string]int
	wake    chan struct{}
}

func NewPersister(store SessionStore, opts PersisterOptions, log logrus.FieldLogger) *Persister {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultPersisterOptions().WriteTimeout
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = DefaultPersisterOptions().RetryInitial
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = DefaultPersisterOptions().RetryMax
	}
	return &Persister{
		store:   store,
		opts:    opts,
		log:     log.WithField("component", "persister"),
		pending: make(map[string]int),
		wake:    make(chan struct{}, 1),
	}
}

// SaveScore persists a submission and its score record.
func (p *Persister) SaveScore(ctx context.Context, sub domain.Submission, rec domain.ScoreRecord) {
	p.submit(ctx, writeOp{
		sessionID: sub.SessionID,
		name:      "score",
		do: func(ctx context.Context) error {
			if err := p.store.SaveSubmission(ctx, sub); err != nil {
				return err
			}
			return p.store.SaveScoreRecord(ctx, rec)
		},
	})
}

// SaveState records a lifecycle transition.
func (p *Persister) SaveState(ctx context.Context, sessionID string, state domain.State, at time.Time) {
	p.submit(ctx, writeOp{
		sessionID: sessionID,
		name:      "state",
		do: func(ctx context.Context) error {
			return p.store.SaveSessionState(ctx, sessionID, state, at)
		},
	})
}

// SaveSnapshot persists a leaderboard snapshot and reports the outcome to
// done, which may be nil.
func (p *Persister) SaveSnapshot(ctx context.Context, lb domain.Leaderboard, done func(error)) {
	p.submit(ctx, writeOp{
		sessionID: lb.SessionID,
		name:      "leaderboard",
		do: func(ctx context.Context) error {
			return p.store.PersistLeaderboardSnapshot(ctx, lb)
		},
		done: done,
	})
}

// Pending reports whether the session has writes waiting for the store.
func (p *Persister) Pending(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending[sessionID] > 0
}

// Queued returns the number of writes waiting across all sessions.
func (p *Persister) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Persister) submit(ctx context.Context, op writeOp) {
	p.mu.Lock()
	inline := p.pending[op.sessionID] == 0
	if inline {
		// Reserve the slot so a concurrent write of the same session queues
		// behind this one if it fails.
		p.pending[op.sessionID]++
	}
	p.mu.Unlock()

	if !inline {
		p.enqueue(op, false)
		return
	}

	err := p.attempt(ctx, op)
	if err == nil || !errors.Is(err, domain.ErrStoreUnavailable) {
		p.finish(op, err)
		return
	}
	p.log.WithFields(logrus.Fields{"session": op.sessionID, "op": op.name}).
		WithError(err).Warn("store unavailable, queueing write")
	p.enqueue(op, true)
}

// enqueue adds op to the queue. reserved is true when the caller already
// counted op as pending; such an op was started before anything its session
// queued meanwhile, so it goes ahead of those.
func (p *Persister) enqueue(op writeOp, reserved bool) {
	p.mu.Lock()
	at := len(p.queue)
	if reserved {
		for i, queued := range p.queue {
			if i > 0 && queued.sessionID == op.sessionID {
				at = i
				break
			}
		}
	} else {
		p.pending[op.sessionID]++
	}
	p.queue = append(p.queue, writeOp{})
	copy(p.queue[at+1:], p.queue[at:])
	p.queue[at] = op
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Persister) attempt(ctx context.Context, op writeOp) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.WriteTimeout)
	defer cancel()
	return op.do(ctx)
}

func (p *Persister) finish(op writeOp, err error) {
	p.mu.Lock()
	p.pending[op.sessionID]--
	if p.pending[op.sessionID] <= 0 {
		delete(p.pending, op.sessionID)
	}
	p.mu.Unlock()

	if err != nil {
		p.log.WithFields(logrus.Fields{"session": op.sessionID, "op": op.name}).
			WithError(err).Error("store write failed permanently")
	}
	if op.done != nil {
		op.done(err)
	}
}

// Run drains the queue until ctx is done.
func (p *Persister) Run(ctx context.Context) error {
	for {
		if err := p.Drain(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-p.wake:
		}
	}
}

// Drain retries queued writes in order until the queue is empty or ctx is
// done.
func (p *Persister) Drain(ctx context.Context) error {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return nil
		}
		op := p.queue[0]
		p.mu.Unlock()

		err := p.retry(ctx, op)
		if ctx.Err() != nil {
			return nil
		}

		p.mu.Lock()
		p.queue = p.queue[1:]
		p.mu.Unlock()
		p.finish(op, err)
	}
}

func (p *Persister) retry(ctx context.Context, op writeOp) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.RetryInitial
	b.MaxInterval = p.opts.RetryMax
	b.MaxElapsedTime = 0

	operation := func() error {
		err := p.attempt(ctx, op)
		if err != nil && !errors.Is(err, domain.ErrStoreUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.log.WithFields(logrus.Fields{"session": op.sessionID, "op": op.name, "retry_in": wait}).
			WithError(err).Debug("store write retry")
	}
	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}
