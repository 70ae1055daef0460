package filter

import (
	"errors"
	"testing"

	"github.com/noccela/ncc-cloud-integration-go/pkg/wire"
)

func TestValidateSpec(t *testing.T) {
	t.Run("ValidKeys", func(t *testing.T) {
		if err := ValidateSpec(EventLocationUpdate, Spec{KeyDeviceIDs: []int64{1, 2}}); err != nil {
			t.Errorf("ValidateSpec: %v", err)
		}
		if err := ValidateSpec(EventTagDiff, Spec{}); err != nil {
			t.Errorf("empty spec should be valid for tag diff: %v", err)
		}
	})

	t.Run("UnknownKey", func(t *testing.T) {
		err := ValidateSpec(EventLocationUpdate, Spec{"bogus": 1})
		if !errors.Is(err, ErrInvalidFilterKey) {
			t.Errorf("err = %v, want ErrInvalidFilterKey", err)
		}
	})

	t.Run("MissingRequiredKey", func(t *testing.T) {
		err := ValidateSpec(EventTwrData, Spec{})
		if !errors.Is(err, ErrMissingFilterKey) {
			t.Errorf("err = %v, want ErrMissingFilterKey", err)
		}
	})

	t.Run("UnknownEventType", func(t *testing.T) {
		err := ValidateSpec(EventType(99), Spec{})
		if !errors.Is(err, ErrUnknownEventType) {
			t.Errorf("err = %v, want ErrUnknownEventType", err)
		}
	})

	t.Run("NonArrayDeviceIDs", func(t *testing.T) {
		err := ValidateSpec(EventLocationUpdate, Spec{KeyDeviceIDs: "1,2"})
		if !errors.Is(err, ErrInvalidDeviceIDs) {
			t.Errorf("err = %v, want ErrInvalidDeviceIDs", err)
		}
	})

	t.Run("JSONDecodedDeviceIDs", func(t *testing.T) {
		// JSON decoding yields []any of float64
		if err := ValidateSpec(EventLocationUpdate, Spec{KeyDeviceIDs: []any{float64(1), float64(2)}}); err != nil {
			t.Errorf("ValidateSpec: %v", err)
		}
	})
}

func TestLocationFilter(t *testing.T) {
	f, err := New(EventLocationUpdate, Spec{KeyDeviceIDs: []int64{1, 2}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payload := map[int64]*wire.TagLocation{
		1: {X: 1},
		2: {X: 2},
		3: {X: 3},
	}

	out, ok := f.Apply(payload)
	if !ok {
		t.Fatal("filter suppressed a payload with matching devices")
	}
	kept := out.(map[int64]*wire.TagLocation)
	if len(kept) != 2 {
		t.Fatalf("kept %d entries, want 2", len(kept))
	}
	if kept[1] == nil || kept[2] == nil {
		t.Errorf("kept = %v, want devices 1 and 2", kept)
	}
	if kept[3] != nil {
		t.Error("device 3 should have been dropped")
	}
}

func TestLocationFilterSuppression(t *testing.T) {
	f, _ := New(EventLocationUpdate, Spec{KeyDeviceIDs: []int64{1}})

	if _, ok := f.Apply(map[int64]*wire.TagLocation{9: {}}); ok {
		t.Error("payload with no matching devices should suppress")
	}
	if _, ok := f.Apply(map[int64]*wire.TagLocation{}); ok {
		t.Error("empty payload should suppress")
	}
	if _, ok := f.Apply(nil); ok {
		t.Error("nil payload should suppress")
	}
}

func TestLocationFilterNoAllowList(t *testing.T) {
	f, _ := New(EventLocationUpdate, Spec{})

	out, ok := f.Apply(map[int64]*wire.TagLocation{5: {X: 1}})
	if !ok {
		t.Fatal("unfiltered payload should deliver")
	}
	if len(out.(map[int64]*wire.TagLocation)) != 1 {
		t.Error("all entries should pass without an allow-list")
	}
}

func TestTagDiffFilter(t *testing.T) {
	f, err := New(EventTagDiff, Spec{KeyDeviceIDs: []int64{1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	t.Run("RemovalsPassThrough", func(t *testing.T) {
		diff := &wire.TagDiff{
			Tags:        map[int64]*wire.TagState{1: {Name: "a"}, 2: {Name: "b"}},
			RemovedTags: []int64{7, 8},
		}

		out, ok := f.Apply(diff)
		if !ok {
			t.Fatal("diff with content should deliver")
		}
		result := out.(*wire.TagDiff)
		if len(result.Tags) != 1 || result.Tags[1] == nil {
			t.Errorf("Tags = %v, want only device 1", result.Tags)
		}
		// Removals survive the allow-list for downstream bookkeeping
		if len(result.RemovedTags) != 2 {
			t.Errorf("RemovedTags = %v, want [7 8]", result.RemovedTags)
		}
	})

	t.Run("FilteredToEmptyStillDelivers", func(t *testing.T) {
		diff := &wire.TagDiff{Tags: map[int64]*wire.TagState{9: {}}}

		out, ok := f.Apply(diff)
		if !ok {
			t.Fatal("structurally present diff must deliver even when empty after filtering")
		}
		if len(out.(*wire.TagDiff).Tags) != 0 {
			t.Error("device 9 should have been filtered out")
		}
	})

	t.Run("TrulyEmptySuppresses", func(t *testing.T) {
		if _, ok := f.Apply(&wire.TagDiff{}); ok {
			t.Error("no-op diff should suppress")
		}
		if _, ok := f.Apply(nil); ok {
			t.Error("nil payload should suppress")
		}
	})
}

func TestAlertDiffFilter(t *testing.T) {
	f, err := New(EventAlertDiff, Spec{KeyDeviceIDs: []int64{12}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	diff := &wire.AlertDiff{
		Alerts: map[int64]*wire.AlertState{
			100: {DeviceID: 12},
			101: {DeviceID: 99},
		},
		RemovedAlerts: []int64{50},
	}

	out, ok := f.Apply(diff)
	if !ok {
		t.Fatal("diff with content should deliver")
	}
	result := out.(*wire.AlertDiff)
	if len(result.Alerts) != 1 || result.Alerts[100] == nil {
		t.Errorf("Alerts = %v, want only alarm 100 (device 12)", result.Alerts)
	}
	if len(result.RemovedAlerts) != 1 || result.RemovedAlerts[0] != 50 {
		t.Errorf("RemovedAlerts = %v, want [50]", result.RemovedAlerts)
	}
}

func TestTwrFilter(t *testing.T) {
	f, err := New(EventTwrData, Spec{KeyDeviceIDs: []int64{1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	samples := []wire.TwrSample{
		{Tag: 1, Beacon: 10, Distance: 1.5},
		{Tag: 2, Beacon: 10, Distance: 2.5},
	}

	out, ok := f.Apply(samples)
	if !ok {
		t.Fatal("samples with matching tag should deliver")
	}
	kept := out.([]wire.TwrSample)
	if len(kept) != 1 || kept[0].Tag != 1 {
		t.Errorf("kept = %v, want only tag 1", kept)
	}

	if _, ok := f.Apply([]wire.TwrSample{{Tag: 5}}); ok {
		t.Error("samples with no matching tag should suppress")
	}
}

func TestSnapshotFilters(t *testing.T) {
	t.Run("TagState", func(t *testing.T) {
		f, _ := New(EventTagState, Spec{KeyDeviceIDs: []int64{1}})

		out, ok := f.Apply(map[int64]*wire.TagState{1: {Name: "a"}, 2: {Name: "b"}})
		if !ok {
			t.Fatal("snapshot with matching devices should deliver")
		}
		if len(out.(map[int64]*wire.TagState)) != 1 {
			t.Error("snapshot filter should keep only allow-listed devices")
		}

		if _, ok := f.Apply(map[int64]*wire.TagState{9: {}}); ok {
			t.Error("snapshot with no matching devices should suppress")
		}
	})

	t.Run("AlertState", func(t *testing.T) {
		f, _ := New(EventAlertState, Spec{KeyDeviceIDs: []int64{12}})

		out, ok := f.Apply(map[int64]*wire.AlertState{100: {DeviceID: 12}, 101: {DeviceID: 13}})
		if !ok {
			t.Fatal("snapshot with matching devices should deliver")
		}
		if len(out.(map[int64]*wire.AlertState)) != 1 {
			t.Error("alert snapshots filter by originating device")
		}
	})
}

func TestPassthrough(t *testing.T) {
	f := Passthrough()

	out, ok := f.Apply("anything")
	if !ok || out != "anything" {
		t.Errorf("Apply = (%v, %v), want (anything, true)", out, ok)
	}
	if _, ok := f.Apply(nil); ok {
		t.Error("nil payload should suppress")
	}
}

func TestEventTypeStreaming(t *testing.T) {
	streaming := []EventType{EventLocationUpdate, EventTagDiff, EventAlertDiff, EventTwrData}
	for _, et := range streaming {
		if !et.Streaming() {
			t.Errorf("%s.Streaming() = false, want true", et)
		}
	}
	oneShot := []EventType{EventTagState, EventAlertState}
	for _, et := range oneShot {
		if et.Streaming() {
			t.Errorf("%s.Streaming() = true, want false", et)
		}
	}
}
