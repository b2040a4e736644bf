package wager

import (
	"errors"
	"fmt"
)

// Error kinds returned by the engine. Detail errors wrap one of these so
// callers can branch with errors.Is on the kind alone.
var (
	ErrNotFound               = errors.New("session not found")
	ErrAlreadyExists          = errors.New("already exists")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotParticipant         = errors.New("not a participant")
	ErrNotAuthorized          = errors.New("not authorized")
	ErrCapacityExceeded       = errors.New("session is full")
	ErrAlreadyFinished        = errors.New("session already finished")
	ErrInvalidStake           = errors.New("stake out of range")
	ErrInvalidCapacity        = errors.New("invalid player count")
	ErrInvalidRoll            = errors.New("dice value must be between 1 and 6")
)

// Detail errors.
var (
	ErrAlreadyJoined     = fmt.Errorf("already joined: %w", ErrAlreadyExists)
	ErrDuelInProgress    = fmt.Errorf("chat already has an open duel: %w", ErrAlreadyExists)
	ErrSelfJoin          = fmt.Errorf("cannot join own session: %w", ErrInvalidStateTransition)
	ErrNotYourTurn       = fmt.Errorf("not your turn: %w", ErrInvalidStateTransition)
	ErrRollsComplete     = fmt.Errorf("all rolls already made: %w", ErrInvalidStateTransition)
	ErrWrongKind         = fmt.Errorf("operation not supported for this session kind: %w", ErrInvalidStateTransition)
	ErrShuttingDown      = fmt.Errorf("engine is shutting down: %w", ErrInvalidStateTransition)
	ErrStakeNotHeld      = errors.New("no reserved stake held")
	ErrPayoutFallback    = errors.New("payout failed, stakes returned to participants")
	ErrSettlementPending = errors.New("settlement incomplete, will be retried")
)
