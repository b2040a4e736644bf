package wager

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dice-wager-bot/internal/scheduler"
)

// Kind is the session mode.
type Kind string

const (
	KindMatch Kind = "match"
	KindLobby Kind = "lobby"
	KindDuel  Kind = "duel"
)

// State is a session lifecycle state.
type State string

const (
	StateForming            State = "forming"
	StateAllReady           State = "all_ready"
	StateStarting           State = "starting"
	StateWaitingForOpponent State = "waiting_for_opponent"
	StateOpen               State = "open"
	StateAccepted           State = "accepted"
	StateActive             State = "active"
	StateFinished           State = "finished"
	StateCancelled          State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateCancelled
}

// Gathering reports whether the session still accepts participants.
func (s State) Gathering() bool {
	switch s {
	case StateForming, StateAllReady, StateWaitingForOpponent, StateOpen:
		return true
	}
	return false
}

// transitions lists the legal edges per kind. Forming and AllReady form one
// phase: AllReady may drop back to Forming, but nothing returns to it once
// the session starts.
var transitions = map[Kind]map[State][]State{
	KindLobby: {
		StateForming:  {StateAllReady, StateCancelled},
		StateAllReady: {StateForming, StateStarting, StateCancelled},
		StateStarting: {StateActive},
		StateActive:   {StateFinished},
	},
	KindMatch: {
		StateWaitingForOpponent: {StateActive, StateCancelled},
		StateActive:             {StateFinished},
	},
	KindDuel: {
		StateOpen:     {StateAccepted, StateCancelled},
		StateAccepted: {StateActive},
		StateActive:   {StateFinished},
	},
}

// Participant is one player in a session.
type Participant struct {
	UserID      int64
	DisplayName string
	Rolls       []int
	Ready       bool
	Paid        bool
}

// Done reports whether the participant has thrown every die.
func (p *Participant) Done() bool {
	return len(p.Rolls) >= RollsPerParticipant
}

// Result is the outcome of a resolved session.
type Result struct {
	WinnerID   int64
	Tie        bool
	Fallback   bool
	Totals     map[int64]int
	Pot        decimal.Decimal
	Payout     decimal.Decimal
	Commission decimal.Decimal
}

// Session is one wagering session. All fields are guarded by mu; the engine
// acquires it for every read and write.
type Session struct {
	mu sync.Mutex

	ID              string
	Kind            Kind
	Code            string
	ChatID          int64
	CreatorID       int64
	Stake           decimal.Decimal
	MaxParticipants int
	CreatedAt       time.Time
	LastActivityAt  time.Time

	state        State
	participants []*Participant
	turn         int
	result       *Result

	timer      scheduler.Handle
	timerGen   uint64
	deadline   time.Time
	settled    bool
	removed    bool
	cancelNote string

	events []Event
}

func newSession(id string, kind Kind, chatID, creatorID int64, stake decimal.Decimal, maxParticipants int, now time.Time) *Session {
	s := &Session{
		ID:              id,
		Kind:            kind,
		ChatID:          chatID,
		CreatorID:       creatorID,
		Stake:           stake,
		MaxParticipants: maxParticipants,
		CreatedAt:       now,
		LastActivityAt:  now,
	}
	switch kind {
	case KindLobby:
		s.state = StateForming
	case KindMatch:
		s.state = StateWaitingForOpponent
	case KindDuel:
		s.state = StateOpen
	}
	return s
}

// State returns the current state. Caller must hold the session lock.
func (s *Session) State() State {
	return s.state
}

func (s *Session) transition(to State) error {
	for _, next := range transitions[s.Kind][s.state] {
		if next == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("%s %s: %s -> %s: %w", s.Kind, s.ID, s.state, to, ErrInvalidStateTransition)
}

// abort moves a live session straight to Cancelled, outside the normal
// transition table. Only engine shutdown uses it.
func (s *Session) abort() error {
	if s.state.Terminal() {
		return fmt.Errorf("%s %s is %s: %w", s.Kind, s.ID, s.state, ErrAlreadyFinished)
	}
	s.state = StateCancelled
	return nil
}

func (s *Session) participant(userID int64) (*Participant, int) {
	for i, p := range s.participants {
		if p.UserID == userID {
			return p, i
		}
	}
	return nil, -1
}

func (s *Session) addParticipant(userID int64, name string) *Participant {
	p := &Participant{UserID: userID, DisplayName: name, Paid: true}
	s.participants = append(s.participants, p)
	return p
}

func (s *Session) removeParticipant(idx int) {
	s.participants = append(s.participants[:idx], s.participants[idx+1:]...)
}

func (s *Session) full() bool {
	return len(s.participants) >= s.MaxParticipants
}

func (s *Session) allReady() bool {
	for _, p := range s.participants {
		if !p.Ready {
			return false
		}
	}
	return len(s.participants) > 0
}

// current returns the participant whose turn it is, or nil once everyone rolled.
func (s *Session) current() *Participant {
	if s.state != StateActive || s.turn >= len(s.participants) {
		return nil
	}
	return s.participants[s.turn]
}

func (s *Session) allRolled() bool {
	for _, p := range s.participants {
		if !p.Done() {
			return false
		}
	}
	return true
}

func (s *Session) totals() map[int64]int {
	totals := make(map[int64]int, len(s.participants))
	for _, p := range s.participants {
		totals[p.UserID] = Total(p.Rolls)
	}
	return totals
}

// assertState fails for a session not in one of the given states. Terminal
// sessions fail with ErrAlreadyFinished.
func (s *Session) assertState(allowed ...State) error {
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	if s.state.Terminal() {
		return fmt.Errorf("%s %s is %s: %w", s.Kind, s.ID, s.state, ErrAlreadyFinished)
	}
	return fmt.Errorf("%s %s is %s: %w", s.Kind, s.ID, s.state, ErrInvalidStateTransition)
}

func (s *Session) assertKind(kind Kind) error {
	if s.Kind != kind {
		return fmt.Errorf("%s is a %s: %w", s.ID, s.Kind, ErrWrongKind)
	}
	return nil
}

func (s *Session) emit(t EventType, userID int64, roll int) {
	s.events = append(s.events, Event{Type: t, UserID: userID, Roll: roll, Session: s.snapshot()})
}

func (s *Session) drainEvents() []Event {
	events := s.events
	s.events = nil
	return events
}

// ParticipantSnapshot is a read view of one participant.
type ParticipantSnapshot struct {
	UserID      int64
	DisplayName string
	Rolls       []int
	Total       int
	Ready       bool
	Paid        bool
}

// SessionSnapshot is an immutable read view of a session.
type SessionSnapshot struct {
	ID                string
	Kind              Kind
	State             State
	Code              string
	ChatID            int64
	CreatorID         int64
	Stake             decimal.Decimal
	MaxParticipants   int
	Participants      []ParticipantSnapshot
	CurrentTurn       int64
	CountdownDeadline time.Time
	WinnerID          int64
	Tie               bool
	PayoutFallback    bool
	Pot               decimal.Decimal
	PayoutAmount      decimal.Decimal
	Commission        decimal.Decimal
	CancelReason      string
	CreatedAt         time.Time
	LastActivityAt    time.Time
}

// Resolved reports whether the session finished with a result.
func (s SessionSnapshot) Resolved() bool {
	return s.State == StateFinished
}

// Participant looks up a participant by user id.
func (s SessionSnapshot) Participant(userID int64) (ParticipantSnapshot, bool) {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return ParticipantSnapshot{}, false
}

func (s *Session) snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		ID:                s.ID,
		Kind:              s.Kind,
		State:             s.state,
		Code:              s.Code,
		ChatID:            s.ChatID,
		CreatorID:         s.CreatorID,
		Stake:             s.Stake,
		MaxParticipants:   s.MaxParticipants,
		Participants:      make([]ParticipantSnapshot, 0, len(s.participants)),
		CountdownDeadline: s.deadline,
		Pot:               Pot(s.Stake, len(s.participants)),
		CancelReason:      s.cancelNote,
		CreatedAt:         s.CreatedAt,
		LastActivityAt:    s.LastActivityAt,
	}
	for _, p := range s.participants {
		snap.Participants = append(snap.Participants, ParticipantSnapshot{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Rolls:       append([]int(nil), p.Rolls...),
			Total:       Total(p.Rolls),
			Ready:       p.Ready,
			Paid:        p.Paid,
		})
	}
	if cur := s.current(); cur != nil {
		snap.CurrentTurn = cur.UserID
	}
	if r := s.result; r != nil {
		snap.WinnerID = r.WinnerID
		snap.Tie = r.Tie
		snap.PayoutFallback = r.Fallback
		snap.Pot = r.Pot
		snap.PayoutAmount = r.Payout
		snap.Commission = r.Commission
	}
	return snap
}
