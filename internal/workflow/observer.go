package workflow

import (
	"time"

	"github.com/roach88/hgpeer/internal/message"
)

// EventType distinguishes engine events reported to observers.
type EventType int

const (
	// EventActivityCreated: an activity was registered.
	EventActivityCreated EventType = iota + 1
	// EventStateChanged: an activity changed state.
	EventStateChanged
	// EventMessageReceived: an inbound message reached the manager.
	EventMessageReceived
	// EventMessageSent: a message was handed to the peer interface.
	EventMessageSent
	// EventActionExecuted: a scheduled action finished running.
	EventActionExecuted
	// EventActivityFinished: an activity reached a terminal state.
	EventActivityFinished
)

func (t EventType) String() string {
	switch t {
	case EventActivityCreated:
		return "activity_created"
	case EventStateChanged:
		return "state_changed"
	case EventMessageReceived:
		return "message_received"
	case EventMessageSent:
		return "message_sent"
	case EventActionExecuted:
		return "action_executed"
	case EventActivityFinished:
		return "activity_finished"
	}
	return "unknown"
}

// Origin tells where an activity was created.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Event is a notification emitted by the Manager. Fields not relevant to
// the event type are zero.
type Event struct {
	Seq      int64
	Type     EventType
	Activity Activity
	Parent   Activity
	Origin   Origin
	From     State
	To       State
	Message  message.Message
	Target   string
	Action   string
	Elapsed  time.Duration
	Err      error
}

// Observer receives engine events. Observe is called synchronously on the
// goroutine that produced the event and must not block for long.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

type multiObserver []Observer

func (m multiObserver) Observe(ev Event) {
	for _, o := range m {
		o.Observe(ev)
	}
}

// Observers fans events out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var out multiObserver
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}
