package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerScheduler_Fires(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()

	fired := make(chan struct{})
	h := s.After("A1", 10*time.Millisecond, func() { close(fired) })
	require.NotZero(t, h)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback did not fire")
	}
	assert.Eventually(t, func() bool { return s.pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTimerScheduler_Cancel(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()

	var fired atomic.Bool
	h := s.After("A1", 20*time.Millisecond, func() { fired.Store(true) })

	assert.True(t, s.Cancel(h))
	assert.False(t, s.Cancel(h), "second cancel is a no-op")
	assert.Zero(t, s.pending())

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestTimerScheduler_SameKeyReplaces(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()

	var first, second atomic.Bool
	h1 := s.After("A1", 20*time.Millisecond, func() { first.Store(true) })
	h2 := s.After("A1", 20*time.Millisecond, func() { second.Store(true) })
	assert.NotEqual(t, h1, h2)
	assert.False(t, s.Cancel(h1), "replaced handle is no longer pending")

	assert.Eventually(t, second.Load, time.Second, 5*time.Millisecond)
	assert.False(t, first.Load())
}

func TestTimerScheduler_StopPreventsNewTimers(t *testing.T) {
	s := NewTimerScheduler()
	s.After("A1", time.Hour, func() {})
	s.Stop()

	assert.Zero(t, s.pending())
	assert.Zero(t, s.After("A2", time.Millisecond, func() {}))
}

func TestTimerScheduler_PanicIsContained(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()

	done := make(chan struct{})
	s.After("boom", time.Millisecond, func() { panic("boom") })
	s.After("ok", 5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler stopped working after a panicking callback")
	}
}

func TestManual_AdvanceRunsDueInOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManual(start)

	var order []string
	m.After("b", 20*time.Second, func() { order = append(order, "b") })
	m.After("a", 10*time.Second, func() { order = append(order, "a") })
	m.After("c", time.Minute, func() { order = append(order, "c") })

	assert.Equal(t, 0, m.Advance(5*time.Second))
	assert.Equal(t, 2, m.Advance(15*time.Second))
	assert.Equal(t, []string{"a", "b"}, order)
	assert.True(t, m.Pending("c"))
	assert.Equal(t, start.Add(20*time.Second), m.Now())
}

func TestManual_ReplaceAndFire(t *testing.T) {
	m := NewManual(time.Now())

	calls := 0
	m.After("k", time.Second, func() { calls += 1 })
	m.After("k", time.Second, func() { calls += 10 })

	assert.True(t, m.Fire("k"))
	assert.False(t, m.Fire("k"))
	assert.Equal(t, 10, calls)
}

func TestEvery_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		Every(ctx, "test", 5*time.Millisecond, func(context.Context) {
			if runs.Add(1) == 1 {
				panic("first run panics")
			}
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Every did not return after cancel")
	}
}
