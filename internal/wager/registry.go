package wager

import (
	"fmt"
	"sync"
	"time"
)

// errIDTaken marks an id or join code collision; callers retry with a fresh one.
var errIDTaken = fmt.Errorf("id taken: %w", ErrAlreadyExists)

type tombstone struct {
	state     State
	removedAt time.Time
}

// Registry is the authoritative index of live sessions. Its lock guards only
// the indexes; session fields are guarded by each session's own lock.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*Session
	codes      map[string]string
	duels      map[int64]string
	tombstones map[string]tombstone
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		codes:      make(map[string]string),
		duels:      make(map[int64]string),
		tombstones: make(map[string]tombstone),
	}
}

// Add indexes s. Fails with ErrAlreadyExists on an id or code collision and
// with ErrDuelInProgress when the chat already has a duel.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		return fmt.Errorf("session %s: %w", s.ID, errIDTaken)
	}
	if _, ok := r.tombstones[s.ID]; ok {
		return fmt.Errorf("session %s: %w", s.ID, errIDTaken)
	}
	if s.Code != "" {
		if _, ok := r.codes[s.Code]; ok {
			return fmt.Errorf("code %s: %w", s.Code, errIDTaken)
		}
	}
	if s.Kind == KindDuel {
		if _, ok := r.duels[s.ChatID]; ok {
			return ErrDuelInProgress
		}
	}

	r.sessions[s.ID] = s
	if s.Code != "" {
		r.codes[s.Code] = s.ID
	}
	if s.Kind == KindDuel {
		r.duels[s.ChatID] = s.ID
	}
	return nil
}

// Get returns the live session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// ByCode returns the live session with the given join code.
func (r *Registry) ByCode(code string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.codes[code]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[id]
	return s, ok
}

// DuelInChat returns the live duel of a chat.
func (r *Registry) DuelInChat(chatID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.duels[chatID]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[id]
	return s, ok
}

// Remove drops the session and leaves a tombstone recording its final state.
// A zero final state removes without a tombstone.
func (r *Registry) Remove(s *Session, final State, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[s.ID] != s {
		return
	}
	delete(r.sessions, s.ID)
	if s.Code != "" && r.codes[s.Code] == s.ID {
		delete(r.codes, s.Code)
	}
	if s.Kind == KindDuel && r.duels[s.ChatID] == s.ID {
		delete(r.duels, s.ChatID)
	}
	if final != "" {
		r.tombstones[s.ID] = tombstone{state: final, removedAt: at}
	}
}

// ReleaseChat frees the chat's duel slot held by s. A finished duel that is
// still settling stays registered but no longer blocks a new duel.
func (r *Registry) ReleaseChat(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.Kind == KindDuel && r.duels[s.ChatID] == s.ID {
		delete(r.duels, s.ChatID)
	}
}

// Tombstone returns the final state of a removed session.
func (r *Registry) Tombstone(id string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tombstones[id]
	return t.state, ok
}

// PurgeTombstones forgets tombstones created before cutoff.
func (r *Registry) PurgeTombstones(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, t := range r.tombstones {
		if t.removedAt.Before(cutoff) {
			delete(r.tombstones, id)
			n++
		}
	}
	return n
}

// List returns every live session.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
