package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler driven by an explicit clock, for tests. Callbacks run
// synchronously on the goroutine that calls Advance or Fire.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	next    Handle
	entries map[Handle]*manualEntry
	byKey   map[string]Handle
	stopped bool
}

type manualEntry struct {
	key string
	at  time.Time
	fn  func()
}

// NewManual creates a Manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{
		now:     start,
		entries: make(map[Handle]*manualEntry),
		byKey:   make(map[string]Handle),
	}
}

// Now returns the scheduler's clock. It can be injected as the engine clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) After(key string, d time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return 0
	}
	if prev, ok := m.byKey[key]; ok {
		m.removeLocked(prev)
	}
	m.next++
	h := m.next
	m.entries[h] = &manualEntry{key: key, at: m.now.Add(d), fn: fn}
	m.byKey[key] = h
	return h
}

func (m *Manual) Cancel(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(h)
}

func (m *Manual) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	m.entries = make(map[Handle]*manualEntry)
	m.byKey = make(map[string]Handle)
}

func (m *Manual) removeLocked(h Handle) bool {
	entry, ok := m.entries[h]
	if !ok {
		return false
	}
	delete(m.entries, h)
	if m.byKey[entry.key] == h {
		delete(m.byKey, entry.key)
	}
	return true
}

// Pending reports whether key has a scheduled callback.
func (m *Manual) Pending(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byKey[key]
	return ok
}

// Advance moves the clock forward by d and runs every callback that became due,
// in deadline order. It returns the number of callbacks run.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now

	var due []Handle
	for h, e := range m.entries {
		if !e.at.After(now) {
			due = append(due, h)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := m.entries[due[i]], m.entries[due[j]]
		if a.at.Equal(b.at) {
			return due[i] < due[j]
		}
		return a.at.Before(b.at)
	})
	fns := make([]func(), 0, len(due))
	for _, h := range due {
		fns = append(fns, m.entries[h].fn)
		m.removeLocked(h)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Fire runs the callback pending for key immediately, ignoring its deadline.
func (m *Manual) Fire(key string) bool {
	m.mu.Lock()
	h, ok := m.byKey[key]
	if !ok {
		m.mu.Unlock()
		return false
	}
	fn := m.entries[h].fn
	m.removeLocked(h)
	m.mu.Unlock()

	fn()
	return true
}
