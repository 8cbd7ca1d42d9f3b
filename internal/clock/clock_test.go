package clock

import (
	"testing"
	"time"
)

func TestManualFiresTimersInOrder(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	stopped := c.AfterFunc(1500*time.Millisecond, func() { fired = append(fired, "x") })
	if !stopped.Stop() {
		t.Fatalf("expected stop to cancel pending timer")
	}

	c.Advance(500 * time.Millisecond)
	if len(fired) != 0 {
		t.Fatalf("expected nothing fired yet, got %v", fired)
	}
	c.Advance(2 * time.Second)
	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("expected [a b], got %v", fired)
	}
	if got := c.Now(); !got.Equal(time.Unix(2, 500*int64(time.Millisecond))) {
		t.Fatalf("unexpected now %v", got)
	}
}

func TestManualTimerScheduledFromCallback(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)
	c.Advance(10 * time.Second)
	if count != 3 {
		t.Fatalf("expected 3 chained firings, got %d", count)
	}
}
