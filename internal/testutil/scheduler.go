// Package testutil holds fakes shared by package tests.
package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/voiceclient/internal/core"
)

// FakeScheduler is a manually advanced core.Scheduler. Callbacks run on the
// goroutine that calls Advance.
type FakeScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*fakeTimer
}

type fakeTimer struct {
	s       *FakeScheduler
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func NewFakeScheduler() *FakeScheduler { return &FakeScheduler{} }

func (s *FakeScheduler) AfterFunc(d time.Duration, fn func()) core.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now + d, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// Advance moves the clock forward and runs every due, unstopped callback in
// deadline order.
func (s *FakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	now := s.now
	s.mu.Unlock()

	for {
		s.mu.Lock()
		sort.SliceStable(s.tasks, func(i, j int) bool { return s.tasks[i].at < s.tasks[j].at })
		var next *fakeTimer
		rest := s.tasks[:0]
		for _, t := range s.tasks {
			if t.stopped || t.fired {
				continue
			}
			if next == nil && t.at <= now {
				next = t
				t.fired = true
				continue
			}
			rest = append(rest, t)
		}
		s.tasks = rest
		s.mu.Unlock()
		if next == nil {
			return
		}
		next.fn()
	}
}

// Pending counts live timers.
func (s *FakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
