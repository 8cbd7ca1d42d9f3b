package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time source used for deadlines, durations and timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

type realClock struct{}

// New returns the wall clock. time.Now carries a monotonic reading, so
// deadline comparisons are immune to wall clock jumps.
func New() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manual is a Clock that only moves when told to. Timers never fire from
// AfterFunc itself; due timers fire synchronously from Advance/Set, in
// deadline order, with Now reporting each timer's due time while its
// callback runs.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock *Manual
	at    time.Time
	f     func()
	fired bool
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	t := &manualTimer{clock: m, at: m.now.Add(d), f: f}
	m.timers = append(m.timers, t)
	m.mu.Unlock()
	return t
}

// Advance moves the clock forward by d and fires every timer that became due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	m.advanceTo(target)
}

// Set moves the clock to t. Moving backwards is ignored.
func (m *Manual) Set(t time.Time) {
	m.advanceTo(t)
}

func (m *Manual) advanceTo(target time.Time) {
	for {
		m.mu.Lock()
		sort.SliceStable(m.timers, func(i, j int) bool { return m.timers[i].at.Before(m.timers[j].at) })
		var next *manualTimer
		if len(m.timers) > 0 && !m.timers[0].at.After(target) {
			next = m.timers[0]
			m.timers = m.timers[1:]
			next.fired = true
			if next.at.After(m.now) {
				m.now = next.at
			}
		} else if target.After(m.now) {
			m.now = target
		}
		m.mu.Unlock()
		if next == nil {
			return
		}
		next.f()
	}
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired {
		return false
	}
	for i, other := range t.clock.timers {
		if other == t {
			t.clock.timers = append(t.clock.timers[:i], t.clock.timers[i+1:]...)
			return true
		}
	}
	return false
}
