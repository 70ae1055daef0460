package filter

import (
	"errors"
	"fmt"

	"github.com/noccela/ncc-cloud-integration-go/pkg/wire"
)

// Filter errors.
var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrInvalidFilterKey = errors.New("filter key not allowed for event type")
	ErrMissingFilterKey = errors.New("required filter key missing")
	ErrInvalidDeviceIDs = errors.New("device id list must be an array of integers")
)

// Spec is a raw filter specification as supplied at registration time.
// Keys are validated against the event type's schema before use.
type Spec map[string]any

// Filter keys.
const (
	// KeyDeviceIDs restricts a subscription to an allow-list of device
	// ids.
	KeyDeviceIDs = "deviceIds"
)

// schema lists the filter keys an event type accepts and requires.
type schema struct {
	allowed  map[string]bool
	required []string
}

var schemas = map[EventType]schema{
	EventLocationUpdate: {allowed: map[string]bool{KeyDeviceIDs: true}},
	EventTagDiff:        {allowed: map[string]bool{KeyDeviceIDs: true}},
	EventAlertDiff:      {allowed: map[string]bool{KeyDeviceIDs: true}},
	// TWR streams are high-volume; the service requires an explicit
	// device allow-list rather than firehosing every ranging pair.
	EventTwrData:    {allowed: map[string]bool{KeyDeviceIDs: true}, required: []string{KeyDeviceIDs}},
	EventTagState:   {allowed: map[string]bool{KeyDeviceIDs: true}},
	EventAlertState: {allowed: map[string]bool{KeyDeviceIDs: true}},
}

// ValidateSpec checks the specification against the event type's schema.
// It fails on unknown event types, keys outside the schema, missing
// required keys, and malformed values.
func ValidateSpec(t EventType, spec Spec) error {
	s, ok := schemas[t]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEventType, t)
	}
	for key := range spec {
		if !s.allowed[key] {
			return fmt.Errorf("%w: %q (event type %s)", ErrInvalidFilterKey, key, t)
		}
	}
	for _, key := range s.required {
		if _, present := spec[key]; !present {
			return fmt.Errorf("%w: %q (event type %s)", ErrMissingFilterKey, key, t)
		}
	}
	if v, present := spec[KeyDeviceIDs]; present {
		if _, err := parseDeviceIDs(v); err != nil {
			return err
		}
	}
	return nil
}

// Filter transforms a decoded server payload for one subscription.
type Filter interface {
	// Apply returns the payload to deliver to the subscriber. ok is
	// false when delivery must be suppressed entirely.
	Apply(payload any) (out any, ok bool)
}

// New validates the specification and constructs the filter variant for
// the event type.
func New(t EventType, spec Spec) (Filter, error) {
	if err := ValidateSpec(t, spec); err != nil {
		return nil, err
	}

	var ids map[int64]bool
	if v, present := spec[KeyDeviceIDs]; present {
		parsed, err := parseDeviceIDs(v)
		if err != nil {
			return nil, err
		}
		ids = parsed
	}

	switch t {
	case EventLocationUpdate:
		return &locationFilter{ids: ids}, nil
	case EventTagDiff:
		return &tagDiffFilter{ids: ids}, nil
	case EventAlertDiff:
		return &alertDiffFilter{ids: ids}, nil
	case EventTwrData:
		return &twrFilter{ids: ids}, nil
	case EventTagState:
		return &tagSnapshotFilter{ids: ids}, nil
	case EventAlertState:
		return &alertSnapshotFilter{ids: ids}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownEventType, t)
	}
}

// Passthrough returns a filter that delivers any non-nil payload
// unchanged.
func Passthrough() Filter {
	return passthroughFilter{}
}

// allow reports whether a device passes the allow-list. A nil list
// allows everything.
func allow(ids map[int64]bool, device int64) bool {
	return ids == nil || ids[device]
}

// parseDeviceIDs accepts the integer slice shapes that reach us from Go
// callers and from JSON-decoded configuration.
func parseDeviceIDs(v any) (map[int64]bool, error) {
	add := func(m map[int64]bool, id int64) map[int64]bool {
		m[id] = true
		return m
	}

	switch list := v.(type) {
	case []int64:
		m := make(map[int64]bool, len(list))
		for _, id := range list {
			m = add(m, id)
		}
		return m, nil
	case []int:
		m := make(map[int64]bool, len(list))
		for _, id := range list {
			m = add(m, int64(id))
		}
		return m, nil
	case []any:
		m := make(map[int64]bool, len(list))
		for _, item := range list {
			switch id := item.(type) {
			case int64:
				m = add(m, id)
			case int:
				m = add(m, int64(id))
			case float64:
				m = add(m, int64(id))
			default:
				return nil, fmt.Errorf("%w: element %T", ErrInvalidDeviceIDs, item)
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrInvalidDeviceIDs, v)
	}
}

// locationFilter filters location update payloads by device id.
type locationFilter struct {
	ids map[int64]bool
}

func (f *locationFilter) Apply(payload any) (any, bool) {
	updates, ok := payload.(map[int64]*wire.TagLocation)
	if !ok || len(updates) == 0 {
		return nil, false
	}

	kept := make(map[int64]*wire.TagLocation, len(updates))
	for id, loc := range updates {
		if allow(f.ids, id) {
			kept[id] = loc
		}
	}
	if len(kept) == 0 {
		return nil, false
	}
	return kept, true
}

// tagDiffFilter filters tag diff stream payloads. Removed entries pass
// through untouched; a structurally present diff is delivered even when
// filtering empties it.
type tagDiffFilter struct {
	ids map[int64]bool
}

func (f *tagDiffFilter) Apply(payload any) (any, bool) {
	diff, ok := payload.(*wire.TagDiff)
	if !ok || diff.Empty() {
		return nil, false
	}

	out := &wire.TagDiff{RemovedTags: diff.RemovedTags}
	if len(diff.Tags) > 0 {
		out.Tags = make(map[int64]*wire.TagState, len(diff.Tags))
		for id, tag := range diff.Tags {
			if allow(f.ids, id) {
				out.Tags[id] = tag
			}
		}
	}
	return out, true
}

// alertDiffFilter filters alert diff stream payloads. Alerts are keyed
// by alarm id; the allow-list applies to the originating device.
type alertDiffFilter struct {
	ids map[int64]bool
}

func (f *alertDiffFilter) Apply(payload any) (any, bool) {
	diff, ok := payload.(*wire.AlertDiff)
	if !ok || diff.Empty() {
		return nil, false
	}

	out := &wire.AlertDiff{RemovedAlerts: diff.RemovedAlerts}
	if len(diff.Alerts) > 0 {
		out.Alerts = make(map[int64]*wire.AlertState, len(diff.Alerts))
		for id, alert := range diff.Alerts {
			if allow(f.ids, alert.DeviceID) {
				out.Alerts[id] = alert
			}
		}
	}
	return out, true
}

// twrFilter filters two-way-ranging samples by tag device id.
type twrFilter struct {
	ids map[int64]bool
}

func (f *twrFilter) Apply(payload any) (any, bool) {
	samples, ok := payload.([]wire.TwrSample)
	if !ok || len(samples) == 0 {
		return nil, false
	}

	kept := make([]wire.TwrSample, 0, len(samples))
	for _, s := range samples {
		if allow(f.ids, s.Tag) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil, false
	}
	return kept, true
}

// tagSnapshotFilter filters point-in-time tag state payloads.
type tagSnapshotFilter struct {
	ids map[int64]bool
}

func (f *tagSnapshotFilter) Apply(payload any) (any, bool) {
	tags, ok := payload.(map[int64]*wire.TagState)
	if !ok || len(tags) == 0 {
		return nil, false
	}

	kept := make(map[int64]*wire.TagState, len(tags))
	for id, tag := range tags {
		if allow(f.ids, id) {
			kept[id] = tag
		}
	}
	if len(kept) == 0 {
		return nil, false
	}
	return kept, true
}

// alertSnapshotFilter filters point-in-time alert state payloads by the
// originating device.
type alertSnapshotFilter struct {
	ids map[int64]bool
}

func (f *alertSnapshotFilter) Apply(payload any) (any, bool) {
	alerts, ok := payload.(map[int64]*wire.AlertState)
	if !ok || len(alerts) == 0 {
		return nil, false
	}

	kept := make(map[int64]*wire.AlertState, len(alerts))
	for id, alert := range alerts {
		if allow(f.ids, alert.DeviceID) {
			kept[id] = alert
		}
	}
	if len(kept) == 0 {
		return nil, false
	}
	return kept, true
}

// passthroughFilter delivers any non-nil payload unchanged.
type passthroughFilter struct{}

func (passthroughFilter) Apply(payload any) (any, bool) {
	if payload == nil {
		return nil, false
	}
	return payload, true
}
