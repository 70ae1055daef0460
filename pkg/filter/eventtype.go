package filter

// EventType identifies one family of server events. The enumeration is
// closed: it mirrors the fixed set of wire event types.
type EventType uint8

const (
	// EventLocationUpdate streams per-device position updates.
	EventLocationUpdate EventType = iota

	// EventTagDiff streams incremental tag state changes.
	EventTagDiff

	// EventAlertDiff streams incremental alert state changes.
	EventAlertDiff

	// EventTwrData streams two-way-ranging distance samples.
	EventTwrData

	// EventTagState fetches the current tag state once (no standing
	// subscription).
	EventTagState

	// EventAlertState fetches the current alert state once.
	EventAlertState
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventLocationUpdate:
		return "LOCATION_UPDATE"
	case EventTagDiff:
		return "TAG_DIFF"
	case EventAlertDiff:
		return "ALERT_DIFF"
	case EventTwrData:
		return "TWR_DATA"
	case EventTagState:
		return "TAG_STATE"
	case EventAlertState:
		return "ALERT_STATE"
	default:
		return "UNKNOWN"
	}
}

// Streaming reports whether the event type establishes a standing
// subscription, as opposed to a one-shot state fetch.
func (t EventType) Streaming() bool {
	switch t {
	case EventLocationUpdate, EventTagDiff, EventAlertDiff, EventTwrData:
		return true
	default:
		return false
	}
}
