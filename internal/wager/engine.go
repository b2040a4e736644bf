// Package wager implements the wagering session engine: stake escrow over a
// Ledger, the lobby, match and duel state machines, dice resolution and payout.
package wager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"dice-wager-bot/internal/scheduler"
)

const (
	sessionIDLength = 8
	joinCodeLength  = 6
	maxIDAttempts   = 5
)

// Config holds engine limits and timings.
type Config struct {
	CommissionRate       decimal.Decimal
	MinStake             decimal.Decimal
	MaxStake             decimal.Decimal
	LobbyMinPlayers      int
	LobbyMaxPlayers      int
	LobbyCountdown       time.Duration
	StaleSessionTimeout  time.Duration
	OpenChallengeTimeout time.Duration
	TombstoneRetention   time.Duration
	SweepInterval        time.Duration
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{
		CommissionRate:       DefaultCommissionRate,
		MinStake:             decimal.NewFromInt(1),
		MaxStake:             decimal.NewFromInt(10000),
		LobbyMinPlayers:      3,
		LobbyMaxPlayers:      5,
		LobbyCountdown:       30 * time.Second,
		StaleSessionTimeout:  10 * time.Minute,
		OpenChallengeTimeout: 24 * time.Hour,
		TombstoneRetention:   10 * time.Minute,
		SweepInterval:        time.Minute,
	}
}

// Engine is the entry point for every session operation.
type Engine struct {
	cfg       Config
	registry  *Registry
	escrow    *StakeEscrow
	scheduler scheduler.Scheduler
	notifier  Notifier
	archive   Archive
	now       func() time.Time
	closed    atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the event sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithArchive sets where final snapshots are recorded.
func WithArchive(a Archive) Option {
	return func(e *Engine) { e.archive = a }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over ledger, using sched for countdowns.
func NewEngine(cfg Config, ledger Ledger, sched scheduler.Scheduler, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		registry:  NewRegistry(),
		escrow:    NewStakeEscrow(ledger),
		scheduler: sched,
		notifier:  nopNotifier{},
		archive:   nopArchive{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

func newSessionID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:sessionIDLength])
}

func newJoinCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:joinCodeLength])
}

func (e *Engine) validateStake(stake decimal.Decimal) (decimal.Decimal, error) {
	stake = NormalizeAmount(stake)
	if stake.LessThan(e.cfg.MinStake) || stake.GreaterThan(e.cfg.MaxStake) {
		return stake, fmt.Errorf("stake %s not in [%s, %s]: %w",
			stake.StringFixed(MoneyPlaces), e.cfg.MinStake.StringFixed(MoneyPlaces),
			e.cfg.MaxStake.StringFixed(MoneyPlaces), ErrInvalidStake)
	}
	return stake, nil
}

// register indexes a new session and collects the creator's stake. On any
// failure the session is unindexed and never becomes visible as live.
func (e *Engine) register(ctx context.Context, build func() *Session, creatorName string) (*Session, error) {
	var s *Session
	for attempt := 0; ; attempt++ {
		s = build()
		s.mu.Lock()
		err := e.registry.Add(s)
		if err == nil {
			break
		}
		s.mu.Unlock()
		if !errors.Is(err, errIDTaken) || attempt+1 >= maxIDAttempts {
			return nil, err
		}
	}

	if e.closed.Load() {
		s.removed = true
		e.registry.Remove(s, "", e.now())
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if err := e.escrow.Collect(ctx, s.ID, s.CreatorID, s.Stake); err != nil {
		s.removed = true
		e.registry.Remove(s, "", e.now())
		e.escrow.Forget(s.ID)
		s.mu.Unlock()
		return nil, err
	}
	s.addParticipant(s.CreatorID, creatorName)
	s.emit(EventCreated, s.CreatorID, 0)

	log.Info().
		Str("session_id", s.ID).
		Str("kind", string(s.Kind)).
		Int64("user_id", s.CreatorID).
		Str("amount", s.Stake.StringFixed(MoneyPlaces)).
		Msg("Session created")

	e.unlock(ctx, s)
	return s, nil
}

// lockSession acquires the session lock and fails if the session was removed
// while the caller waited for it.
func (e *Engine) lockSession(s *Session) error {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return e.gone(s.ID)
	}
	return nil
}

func (e *Engine) lock(id string) (*Session, error) {
	s, ok := e.registry.Get(id)
	if !ok {
		return nil, e.gone(id)
	}
	if err := e.lockSession(s); err != nil {
		return nil, err
	}
	return s, nil
}

// gone explains why id is not live.
func (e *Engine) gone(id string) error {
	if st, ok := e.registry.Tombstone(id); ok {
		return fmt.Errorf("session %s is %s: %w", id, st, ErrAlreadyFinished)
	}
	return fmt.Errorf("session %s: %w", id, ErrNotFound)
}

// unlock releases the session and delivers the events it produced.
func (e *Engine) unlock(ctx context.Context, s *Session) {
	events := s.drainEvents()
	s.mu.Unlock()
	e.dispatch(ctx, events)
}

func (e *Engine) withSession(ctx context.Context, id string, fn func(*Session) error) error {
	s, err := e.lock(id)
	if err != nil {
		return err
	}
	defer e.unlock(ctx, s)
	return fn(s)
}

func (e *Engine) dispatch(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		e.notifier.Notify(ctx, ev)
		if ev.Type == EventFinished || ev.Type == EventCancelled {
			if err := e.archive.Record(ctx, ev.Session); err != nil {
				log.Error().Err(err).Str("session_id", ev.Session.ID).Msg("Failed to archive session")
			}
		}
	}
}

func (e *Engine) touch(s *Session) {
	s.LastActivityAt = e.now()
}

// GetSession returns a snapshot of a live session.
func (e *Engine) GetSession(id string) (SessionSnapshot, error) {
	s, ok := e.registry.Get(id)
	if !ok {
		return SessionSnapshot{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return SessionSnapshot{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s.snapshot(), nil
}

// RollDice records one die for userID and resolves the session after the last roll.
func (e *Engine) RollDice(ctx context.Context, id string, userID int64, value int) (SessionSnapshot, error) {
	if !ValidRoll(value) {
		return SessionSnapshot{}, fmt.Errorf("roll %d: %w", value, ErrInvalidRoll)
	}

	var snap SessionSnapshot
	err := e.withSession(ctx, id, func(s *Session) error {
		if err := s.assertState(StateActive); err != nil {
			return err
		}
		p, _ := s.participant(userID)
		if p == nil {
			return fmt.Errorf("user %d in %s: %w", userID, s.ID, ErrNotParticipant)
		}
		if p.Done() {
			return ErrRollsComplete
		}
		if cur := s.current(); cur == nil || cur.UserID != userID {
			return ErrNotYourTurn
		}

		p.Rolls = append(p.Rolls, value)
		if p.Done() {
			s.turn++
		}
		e.touch(s)
		s.emit(EventRolled, userID, value)

		log.Debug().
			Str("session_id", s.ID).
			Int64("user_id", userID).
			Int("roll", value).
			Int("rolls", len(p.Rolls)).
			Msg("Dice rolled")

		if s.allRolled() {
			e.resolve(ctx, s)
		}
		snap = s.snapshot()
		return nil
	})
	return snap, err
}

// resolve decides the winner, settles the escrow and finishes the session.
func (e *Engine) resolve(ctx context.Context, s *Session) {
	totals := s.totals()
	pot := Pot(s.Stake, len(s.participants))
	res := &Result{Totals: totals, Pot: pot, Payout: decimal.Zero, Commission: decimal.Zero}

	winner, tie := Winner(totals)
	var err error
	if tie {
		res.Tie = true
		err = e.escrow.SettleRefundAll(ctx, s.ID)
	} else {
		res.WinnerID = winner
		payout := Payout(pot, e.cfg.CommissionRate)
		err = e.escrow.SettlePayout(ctx, s.ID, winner, payout)
		if err == nil {
			res.Payout = payout
			res.Commission = pot.Sub(payout)
		} else {
			res.Fallback = true
		}
	}
	switch {
	case err == nil:
	case e.escrow.Outstanding(s.ID) > 0:
		log.Error().Err(err).
			Str("session_id", s.ID).
			Str("kind", string(s.Kind)).
			Int("outstanding", e.escrow.Outstanding(s.ID)).
			Msg("Settlement failed, will retry on sweep")
	default:
		log.Warn().Err(err).
			Str("session_id", s.ID).
			Str("kind", string(s.Kind)).
			Msg("Payout failed, stakes refunded instead")
	}

	s.result = res
	if terr := s.transition(StateFinished); terr != nil {
		log.Error().Err(terr).Str("session_id", s.ID).Msg("Unexpected transition failure")
	}
	e.touch(s)
	e.finalize(s)
	s.emit(EventFinished, res.WinnerID, 0)

	log.Info().
		Str("session_id", s.ID).
		Str("kind", string(s.Kind)).
		Int64("winner_id", res.WinnerID).
		Bool("tie", res.Tie).
		Str("pot", pot.StringFixed(MoneyPlaces)).
		Str("payout", res.Payout.StringFixed(MoneyPlaces)).
		Str("commission", res.Commission.StringFixed(MoneyPlaces)).
		Msg("Session finished")
}

// CancelSession cancels a session that has not started and refunds every
// stake. Cancelling an already cancelled session succeeds without effect.
func (e *Engine) CancelSession(ctx context.Context, id string, requesterID int64) error {
	s, err := e.lock(id)
	if err != nil {
		if st, ok := e.registry.Tombstone(id); ok && st == StateCancelled {
			return nil
		}
		return err
	}
	defer e.unlock(ctx, s)

	switch {
	case s.state == StateCancelled:
		return e.retrySettlement(ctx, s)
	case s.state == StateFinished:
		return fmt.Errorf("session %s: %w", s.ID, ErrAlreadyFinished)
	case requesterID != s.CreatorID:
		return fmt.Errorf("user %d cannot cancel %s: %w", requesterID, s.ID, ErrNotAuthorized)
	case !s.state.Gathering():
		return fmt.Errorf("session %s is %s: %w", s.ID, s.state, ErrInvalidStateTransition)
	}
	return e.cancel(ctx, s, "cancelled by creator")
}

// cancel moves s to Cancelled and refunds every stake. Caller holds the lock.
func (e *Engine) cancel(ctx context.Context, s *Session, reason string) error {
	e.cancelTimer(s)
	if err := s.transition(StateCancelled); err != nil {
		return err
	}
	return e.refundAndClose(ctx, s, reason)
}

// refundAndClose refunds every stake of a session that just moved to
// Cancelled and removes it once settled. Caller holds the lock.
func (e *Engine) refundAndClose(ctx context.Context, s *Session, reason string) error {
	s.cancelNote = reason
	e.touch(s)

	err := e.escrow.SettleRefundAll(ctx, s.ID)
	e.finalize(s)
	s.emit(EventCancelled, 0, 0)

	log.Info().
		Str("session_id", s.ID).
		Str("kind", string(s.Kind)).
		Str("reason", reason).
		Msg("Session cancelled")

	if err != nil {
		log.Error().Err(err).Str("session_id", s.ID).Msg("Refund incomplete, will retry on sweep")
		return errors.Join(ErrSettlementPending, err)
	}
	return nil
}

// retrySettlement refunds whatever is still held for a terminal session.
func (e *Engine) retrySettlement(ctx context.Context, s *Session) error {
	if err := e.escrow.SettleRefundAll(ctx, s.ID); err != nil {
		return errors.Join(ErrSettlementPending, err)
	}
	e.finalize(s)
	return nil
}

// finalize syncs paid flags with the escrow and removes s from the registry
// once every stake is resolved. Caller holds the lock.
func (e *Engine) finalize(s *Session) {
	for _, p := range s.participants {
		p.Paid = e.escrow.HasStake(s.ID, p.UserID)
	}
	if s.state.Terminal() {
		e.registry.ReleaseChat(s)
	}
	if e.escrow.Outstanding(s.ID) > 0 {
		s.settled = false
		return
	}
	s.settled = true
	e.cancelTimer(s)
	e.escrow.Forget(s.ID)
	s.removed = true
	e.registry.Remove(s, s.state, e.now())
}

// LeaveSession withdraws userID from a session that has not started.
// For a match or duel only the creator can leave, which withdraws the challenge.
func (e *Engine) LeaveSession(ctx context.Context, id string, userID int64) error {
	return e.withSession(ctx, id, func(s *Session) error {
		p, idx := s.participant(userID)
		if p == nil {
			return fmt.Errorf("user %d in %s: %w", userID, s.ID, ErrNotParticipant)
		}

		if s.Kind != KindLobby {
			if err := s.assertState(StateWaitingForOpponent, StateOpen); err != nil {
				return err
			}
			return e.cancel(ctx, s, "creator left")
		}

		if err := s.assertState(StateForming, StateAllReady); err != nil {
			return err
		}
		if err := e.escrow.Refund(ctx, s.ID, userID); err != nil {
			return fmt.Errorf("failed to refund leaving participant: %w", err)
		}
		s.removeParticipant(idx)
		e.touch(s)

		if s.state == StateAllReady {
			e.cancelTimer(s)
			if err := s.transition(StateForming); err != nil {
				return err
			}
			s.emit(EventCountdownCancelled, userID, 0)
		}
		if len(s.participants) > 0 && userID == s.CreatorID {
			s.CreatorID = s.participants[0].UserID
			log.Info().Str("session_id", s.ID).Int64("user_id", s.CreatorID).Msg("Creator role transferred")
		}
		s.emit(EventLeft, userID, 0)

		if len(s.participants) == 0 {
			return e.cancel(ctx, s, "all participants left")
		}
		return nil
	})
}

// startCountdown schedules the lobby auto-start. Caller holds the lock.
func (e *Engine) startCountdown(s *Session) {
	s.timerGen++
	gen, id := s.timerGen, s.ID
	s.deadline = e.now().Add(e.cfg.LobbyCountdown)
	s.timer = e.scheduler.After(id, e.cfg.LobbyCountdown, func() {
		e.onCountdown(id, gen)
	})
}

// cancelTimer invalidates any pending timer for s. Caller holds the lock.
func (e *Engine) cancelTimer(s *Session) {
	s.timerGen++
	s.deadline = time.Time{}
	if s.timer != 0 {
		e.scheduler.Cancel(s.timer)
		s.timer = 0
	}
}

func (e *Engine) onCountdown(id string, gen uint64) {
	ctx := context.Background()
	err := e.withSession(ctx, id, func(s *Session) error {
		if s.timerGen != gen || s.state != StateAllReady {
			log.Warn().
				Str("session_id", id).
				Str("state", string(s.state)).
				Msg("Stale countdown ignored")
			return nil
		}
		s.timer = 0
		return e.start(s)
	})
	if err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("Countdown start failed")
	}
}

// start moves an all-ready lobby into play. Caller holds the lock.
func (e *Engine) start(s *Session) error {
	e.cancelTimer(s)
	if err := s.transition(StateStarting); err != nil {
		return err
	}
	if err := s.transition(StateActive); err != nil {
		return err
	}
	s.turn = 0
	e.touch(s)
	s.emit(EventStarted, 0, 0)

	log.Info().
		Str("session_id", s.ID).
		Str("kind", string(s.Kind)).
		Int("participants", len(s.participants)).
		Msg("Session started")
	return nil
}

// Stats summarizes live sessions.
type Stats struct {
	Open              int           `json:"open"`
	ByKind            map[Kind]int  `json:"by_kind"`
	ByState           map[State]int `json:"by_state"`
	PendingSettlement int           `json:"pending_settlement"`
}

// Stats counts live sessions by kind and state.
func (e *Engine) Stats() Stats {
	st := Stats{ByKind: make(map[Kind]int), ByState: make(map[State]int)}
	for _, s := range e.registry.List() {
		s.mu.Lock()
		if !s.removed {
			st.Open++
			st.ByKind[s.Kind]++
			st.ByState[s.state]++
			if s.state.Terminal() && !s.settled {
				st.PendingSettlement++
			}
		}
		s.mu.Unlock()
	}
	return st
}
