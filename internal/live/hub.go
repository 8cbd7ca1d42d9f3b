// Package live pushes session state to connected participants.
//
// The Hub owns one Feed per session. A Feed sequences events and fans them
// out to participant Channels; delivery is best effort and a channel that
// cannot keep up is marked stale instead of slowing anyone else down. A
// participant heals any gap by reconnecting, which replays a fresh snapshot.
package live

import (
	"sync"

	"live-quiz-engine/internal/clock"

	"github.com/sirupsen/logrus"
)

type Options struct {
	// Buffer is the per-channel event buffer. A channel whose buffer is full
	// when an event is fanned out goes stale.
	Buffer int
	Policy ReconnectPolicy
}

type Hub struct {
	opts  Options
	clock clock.Clock
	log   logrus.FieldLogger

	mu    sync.Mutex
	feeds map[string]*Feed
}

func NewHub(opts Options, clk clock.Clock, log logrus.FieldLogger) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	return &Hub{
		opts:  opts,
		clock: clk,
		log:   log,
		feeds: make(map[string]*Feed),
	}
}

// Open returns the session's feed, creating it on first use.
func (h *Hub) Open(sessionID string) *Feed {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.feeds[sessionID]; ok {
		return f
	}
	f := newFeed(sessionID, h.opts.Buffer, h.clock, h.log)
	h.feeds[sessionID] = f
	return f
}

func (h *Hub) Feed(sessionID string) (*Feed, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.feeds[sessionID]
	return f, ok
}

// Close shuts the session's feed down and forgets it.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	f, ok := h.feeds[sessionID]
	delete(h.feeds, sessionID)
	h.mu.Unlock()
	if ok {
		f.Close()
	}
}

// CloseStale closes every channel that outlived the reconnect window.
func (h *Hub) CloseStale() int {
	cutoff := h.clock.Now().Add(-h.opts.Policy.Window())
	h.mu.Lock()
	feeds := make([]*Feed, 0, len(h.feeds))
	for _, f := range h.feeds {
		feeds = append(feeds, f)
	}
	h.mu.Unlock()

	closed := 0
	for _, f := range feeds {
		closed += f.CloseStale(cutoff)
	}
	return closed
}

func (h *Hub) Policy() ReconnectPolicy {
	return h.opts.Policy
}
