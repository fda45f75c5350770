package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

// ManualClock is a clock.Mock that reports when AfterFunc callbacks finish.
// The mock runs callbacks on their own goroutines; Advance waits for them so
// assertions after it see their effects.
type ManualClock struct {
	*clock.Mock

	ran  chan struct{}
	mu   sync.Mutex
	gate chan struct{}
}

// NewManualClock returns a ManualClock starting at the Unix epoch.
func NewManualClock() *ManualClock {
	return &ManualClock{Mock: clock.NewMock(), ran: make(chan struct{}, 256)}
}

// AfterFunc schedules f on the mock clock.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) *clock.Timer {
	return c.Mock.AfterFunc(d, func() {
		c.mu.Lock()
		gate := c.gate
		c.mu.Unlock()
		if gate != nil {
			<-gate
		}
		f()
		c.ran <- struct{}{}
	})
}

// Advance moves the clock forward by d and waits for n callbacks to return.
func (c *ManualClock) Advance(t testing.TB, d time.Duration, n int) {
	t.Helper()
	c.Mock.Add(d)
	c.Wait(t, n)
}

// Wait blocks until n more callbacks have returned.
func (c *ManualClock) Wait(t testing.TB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.ran:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for timer callback %d of %d", i+1, n)
		}
	}
}

// Hold parks callbacks that fire from now on until release is called. It
// lets a test cancel work between a timer firing and its callback running.
func (c *ManualClock) Hold() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.gate = nil
			c.mu.Unlock()
			close(gate)
		})
	}
}

// Idle reports whether no callback has finished since the last Wait.
func (c *ManualClock) Idle() bool {
	time.Sleep(5 * time.Millisecond)
	return len(c.ran) == 0
}
