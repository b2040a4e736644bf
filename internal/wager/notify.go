package wager

import "context"

// EventType names an engine event.
type EventType string

const (
	EventCreated            EventType = "created"
	EventJoined             EventType = "joined"
	EventLeft               EventType = "left"
	EventReady              EventType = "ready"
	EventCountdownStarted   EventType = "countdown_started"
	EventCountdownCancelled EventType = "countdown_cancelled"
	EventStarted            EventType = "started"
	EventRolled             EventType = "rolled"
	EventFinished           EventType = "finished"
	EventCancelled          EventType = "cancelled"
)

// Event describes one state change. Session is the snapshot right after it.
type Event struct {
	Type    EventType
	UserID  int64
	Roll    int
	Session SessionSnapshot
}

// Notifier delivers events to players. Delivery is fire-and-forget: the
// implementation logs its own failures.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Archive stores the final snapshot of every finished or cancelled session.
type Archive interface {
	Record(ctx context.Context, snap SessionSnapshot) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) {}

type nopArchive struct{}

func (nopArchive) Record(context.Context, SessionSnapshot) error { return nil }
