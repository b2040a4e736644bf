// Package scheduler provides cancellable delayed callbacks keyed by an owner id
// (a session id) and periodic background jobs.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Handle identifies one scheduled callback. The zero Handle is never issued.
type Handle uint64

// Scheduler schedules delayed callbacks. Scheduling a new callback for a key
// cancels the callback previously scheduled for that key.
type Scheduler interface {
	After(key string, d time.Duration, fn func()) Handle
	Cancel(h Handle) bool
	Stop()
}

type timerEntry struct {
	key   string
	timer *time.Timer
}

// TimerScheduler is the production Scheduler backed by time.AfterFunc.
type TimerScheduler struct {
	mu      sync.Mutex
	next    Handle
	entries map[Handle]*timerEntry
	byKey   map[string]Handle
	stopped bool
	wg      sync.WaitGroup
}

// NewTimerScheduler creates a new TimerScheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{
		entries: make(map[Handle]*timerEntry),
		byKey:   make(map[string]Handle),
	}
}

// After runs fn once d has elapsed unless cancelled first.
// After Stop it returns the zero Handle and never runs fn.
func (s *TimerScheduler) After(key string, d time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0
	}
	if prev, ok := s.byKey[key]; ok {
		s.cancelLocked(prev)
	}

	s.next++
	h := s.next
	entry := &timerEntry{key: key}
	entry.timer = time.AfterFunc(d, func() {
		if !s.claim(h) {
			return
		}
		defer s.wg.Done()
		runSafely("timer:"+key, fn)
	})
	s.entries[h] = entry
	s.byKey[key] = h
	return h
}

// claim removes a fired entry. It reports false if the entry was cancelled
// or replaced between firing and claiming.
func (s *TimerScheduler) claim(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[h]
	if !ok || s.stopped {
		return false
	}
	delete(s.entries, h)
	if s.byKey[entry.key] == h {
		delete(s.byKey, entry.key)
	}
	s.wg.Add(1)
	return true
}

// Cancel stops the callback for h. It reports whether a pending callback was removed.
func (s *TimerScheduler) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(h)
}

func (s *TimerScheduler) cancelLocked(h Handle) bool {
	entry, ok := s.entries[h]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.entries, h)
	if s.byKey[entry.key] == h {
		delete(s.byKey, entry.key)
	}
	return true
}

// Stop cancels every pending callback and waits for running ones to return.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for h := range s.entries {
		s.cancelLocked(h)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *TimerScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Every runs fn every interval until ctx is cancelled. A panicking run is
// logged and the next tick runs normally.
func Every(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Str("job", name).Dur("interval", interval).Msg("Periodic job started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("job", name).Msg("Periodic job stopped")
			return
		case <-ticker.C:
			runSafely(name, func() { fn(ctx) })
		}
	}
}

func runSafely(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("job", name).
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Scheduled callback panicked")
		}
	}()
	fn()
}
