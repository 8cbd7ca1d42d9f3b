package live

import (
	"fmt"
	"sync"
	"time"

	"live-quiz-engine/internal/domain"

	"github.com/google/uuid"
)

// ChannelState is the lifecycle of one participant channel:
// Unregistered -> Registered -> Stale -> Closed. Registered may also go
// straight to Closed when the channel is replaced or unregistered.
type ChannelState string

const (
	ChannelUnregistered ChannelState = "unregistered"
	ChannelRegistered   ChannelState = "registered"
	ChannelStale        ChannelState = "stale"
	ChannelClosed       ChannelState = "closed"
)

// Channel is the delivery target for one participant connection. The
// transport drains Events until it is closed.
type Channel struct {
	ID            string
	SessionID     string
	ParticipantID string

	mu      sync.Mutex
	state   ChannelState
	since   uint64
	out     chan domain.Event
	staleAt time.Time
}

func newChannel(sessionID, participantID string, buffer int) *Channel {
	if buffer < 1 {
		buffer = 1
	}
	return &Channel{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		ParticipantID: participantID,
		state:         ChannelUnregistered,
		out:           make(chan domain.Event, buffer),
	}
}

// Events yields the replayed snapshot followed by deltas in sequence order.
// It is closed once the channel turns stale or closed.
func (c *Channel) Events() <-chan domain.Event {
	return c.out
}

func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Since is the sequence number reflected by the replayed snapshot.
func (c *Channel) Since() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.since
}

// StaleSince reports when the channel went stale.
func (c *Channel) StaleSince() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.staleAt, c.state == ChannelStale
}

// register moves the channel to Registered and queues the snapshot first.
func (c *Channel) register(snapshot domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.since = snapshot.Seq
	c.state = ChannelRegistered
	c.out <- snapshot
}

// deliver never blocks. Events already covered by the snapshot are skipped;
// a full buffer is a delivery failure.
func (c *Channel) deliver(ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ChannelRegistered || ev.Seq <= c.since {
		return nil
	}
	select {
	case c.out <- ev:
		return nil
	default:
		return fmt.Errorf("%w: channel %s buffer full at seq %d", domain.ErrChannelDeliveryFailed, c.ID, ev.Seq)
	}
}

func (c *Channel) markStale(at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ChannelRegistered {
		return false
	}
	c.state = ChannelStale
	c.staleAt = at
	close(c.out)
	return true
}

func (c *Channel) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case ChannelClosed:
		return false
	case ChannelStale:
		// out was closed when the channel went stale.
	default:
		close(c.out)
	}
	c.state = ChannelClosed
	return true
}
