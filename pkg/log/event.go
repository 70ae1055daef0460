package log

import "time"

// Event is a structured client event.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Category classifies the event type.
	Category Category `json:"category"`

	// Direction of message flow, for message events.
	Direction Direction `json:"direction,omitempty"`

	// Summary is a short human-readable description.
	Summary string `json:"summary,omitempty"`

	// Action is the wire action, when the event concerns a message
	// or a subscription.
	Action string `json:"action,omitempty"`

	// CorrelationID ties the event to a request or subscription.
	CorrelationID string `json:"correlationId,omitempty"`

	// OldState and NewState are set for state change events.
	OldState string `json:"oldState,omitempty"`
	NewState string `json:"newState,omitempty"`

	// Err carries the error for error events.
	Err error `json:"-"`
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryState is a connection state change.
	CategoryState Category = iota

	// CategoryMessage is a wire message sent or received.
	CategoryMessage

	// CategorySubscription is subscription registry activity.
	CategorySubscription

	// CategoryError is a non-fatal error worth surfacing.
	CategoryError
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryState:
		return "STATE"
	case CategoryMessage:
		return "MESSAGE"
	case CategorySubscription:
		return "SUBSCRIPTION"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionNone marks events without a direction.
	DirectionNone Direction = iota

	// DirectionIn indicates an incoming message.
	DirectionIn

	// DirectionOut indicates an outgoing message.
	DirectionOut
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "NONE"
	}
}

// StateChange builds a state change event.
func StateChange(oldState, newState string) Event {
	return Event{
		Timestamp: time.Now(),
		Category:  CategoryState,
		OldState:  oldState,
		NewState:  newState,
	}
}

// Message builds a wire message event.
func Message(dir Direction, action, correlationID string) Event {
	return Event{
		Timestamp:     time.Now(),
		Category:      CategoryMessage,
		Direction:     dir,
		Action:        action,
		CorrelationID: correlationID,
	}
}

// Subscription builds a subscription registry event.
func Subscription(summary, correlationID string) Event {
	return Event{
		Timestamp:     time.Now(),
		Category:      CategorySubscription,
		Summary:       summary,
		CorrelationID: correlationID,
	}
}

// Error builds an error event.
func Error(summary string, err error) Event {
	return Event{
		Timestamp: time.Now(),
		Category:  CategoryError,
		Summary:   summary,
		Err:       err,
	}
}
