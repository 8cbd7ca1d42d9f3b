package live

import (
	"errors"
	"sync"
	"time"

	"live-quiz-engine/internal/clock"
	"live-quiz-engine/internal/domain"

	"github.com/sirupsen/logrus"
)

// ErrFeedClosed is returned when registering on a session that was shut down.
var ErrFeedClosed = errors.New("session feed closed")

// Feed is the ordered event stream of one session. Commit assigns sequence
// numbers under the same lock Register uses to take a snapshot, so a
// registering channel sees every delta exactly once: either folded into its
// snapshot or delivered afterwards. A dedicated goroutine fans events out so
// that slow channels never hold up committers.
type Feed struct {
	sessionID string
	buffer    int
	clock     clock.Clock
	log       logrus.FieldLogger

	mu       sync.Mutex
	seq      uint64
	pending  []domain.Event
	channels map[string]*Channel
	closed   bool

	wake chan struct{}
	done chan struct{}
}

func newFeed(sessionID string, buffer int, clk clock.Clock, log logrus.FieldLogger) *Feed {
	f := &Feed{
		sessionID: sessionID,
		buffer:    buffer,
		clock:     clk,
		log:       log.WithField("session", sessionID),
		channels:  make(map[string]*Channel),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go f.run()
	return f
}

// Commit runs mutate under the feed lock and, if it produced an event,
// stamps it with the next sequence number and queues it for delivery.
func (f *Feed) Commit(mutate func() (domain.Event, bool)) (uint64, bool) {
	f.mu.Lock()
	ev, ok := mutate()
	if !ok || f.closed {
		seq := f.seq
		f.mu.Unlock()
		return seq, false
	}
	f.seq++
	ev.Seq = f.seq
	ev.SessionID = f.sessionID
	f.pending = append(f.pending, ev)
	seq := f.seq
	f.mu.Unlock()

	f.signal()
	return seq, true
}

// Register attaches a new channel for the participant. snapshot is invoked
// under the feed lock with the current sequence number; its event is the
// first thing the channel yields. A previous channel of the same
// participant is closed.
func (f *Feed) Register(participantID string, snapshot func(seq uint64) domain.Event) (*Channel, error) {
	ch := newChannel(f.sessionID, participantID, f.buffer)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrFeedClosed
	}
	ev := snapshot(f.seq)
	ev.Type = domain.EventSnapshot
	ev.Seq = f.seq
	ev.SessionID = f.sessionID
	ch.register(ev)
	prior := f.channels[participantID]
	f.channels[participantID] = ch
	f.mu.Unlock()

	if prior != nil {
		if _, stale := prior.StaleSince(); stale {
			f.log.WithField("participant", participantID).Debug("participant reconnected")
		}
		prior.close()
	}
	f.log.WithFields(logrus.Fields{"participant": participantID, "channel": ch.ID, "seq": ev.Seq}).Debug("channel registered")
	return ch, nil
}

// Unregister closes ch. It is a no-op if ch was already replaced.
func (f *Feed) Unregister(ch *Channel) {
	f.mu.Lock()
	if f.channels[ch.ParticipantID] == ch {
		delete(f.channels, ch.ParticipantID)
	}
	f.mu.Unlock()
	ch.close()
}

// MarkStale records a failed delivery. The channel stays the participant's
// slot until it reconnects or the stale window passes.
func (f *Feed) MarkStale(ch *Channel, cause error) {
	if ch.markStale(f.clock.Now()) {
		f.log.WithFields(logrus.Fields{"participant": ch.ParticipantID, "channel": ch.ID}).
			WithError(cause).Info("channel stale, awaiting reconnect")
	}
}

// Channel returns the participant's current channel.
func (f *Feed) Channel(participantID string) (*Channel, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[participantID]
	return ch, ok
}

// Seq returns the last committed sequence number.
func (f *Feed) Seq() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

// CloseStale closes channels that have been stale since before cutoff.
func (f *Feed) CloseStale(cutoff time.Time) int {
	f.mu.Lock()
	var expired []*Channel
	for pid, ch := range f.channels {
		if since, stale := ch.StaleSince(); stale && since.Before(cutoff) {
			expired = append(expired, ch)
			delete(f.channels, pid)
		}
	}
	f.mu.Unlock()

	for _, ch := range expired {
		ch.close()
	}
	return len(expired)
}

// Close stops accepting events. Already committed events are still
// delivered before every channel is closed.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	close(f.done)
}

func (f *Feed) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Feed) run() {
	for {
		select {
		case <-f.wake:
			f.flush()
		case <-f.done:
			f.flush()
			f.closeAll()
			return
		}
	}
}

func (f *Feed) flush() {
	f.mu.Lock()
	batch := f.pending
	f.pending = nil
	targets := make([]*Channel, 0, len(f.channels))
	for _, ch := range f.channels {
		targets = append(targets, ch)
	}
	f.mu.Unlock()

	for _, ev := range batch {
		for _, ch := range targets {
			if err := ch.deliver(ev); err != nil {
				f.MarkStale(ch, err)
			}
		}
	}
}

func (f *Feed) closeAll() {
	f.mu.Lock()
	channels := f.channels
	f.channels = make(map[string]*Channel)
	f.mu.Unlock()
	for _, ch := range channels {
		ch.close()
	}
}
