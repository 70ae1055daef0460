package wire

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for binary map payloads.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for binary map payloads.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient decoding for forward compatibility
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// DecodeBinaryMap unwraps a base64 payload envelope into the generic
// binary map: record id to positional array.
func DecodeBinaryMap(encoded string) (map[int64][]any, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload envelope: %w", err)
	}

	var m map[int64][]any
	if err := decMode.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode binary map: %w", err)
	}
	return m, nil
}

// EncodeBinaryMap is the inverse of DecodeBinaryMap. The service is the
// normal producer of this format; encoding exists for tooling and tests.
func EncodeBinaryMap(m map[int64][]any) (string, error) {
	raw, err := encMode.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode binary map: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeTagStates decodes a base64 payload envelope into tag records
// keyed by device id.
func DecodeTagStates(encoded string) (map[int64]*TagState, error) {
	m, err := DecodeBinaryMap(encoded)
	if err != nil {
		return nil, err
	}

	tags := make(map[int64]*TagState, len(m))
	for id, fields := range m {
		tag := ProjectTagState(fields)
		tag.DeviceID = id
		tags[id] = tag
	}
	return tags, nil
}

// DecodeAlertStates decodes a base64 payload envelope into alert records
// keyed by alarm id.
func DecodeAlertStates(encoded string) (map[int64]*AlertState, error) {
	m, err := DecodeBinaryMap(encoded)
	if err != nil {
		return nil, err
	}

	alerts := make(map[int64]*AlertState, len(m))
	for id, fields := range m {
		alert := ProjectAlertState(fields)
		alert.AlarmID = id
		alerts[id] = alert
	}
	return alerts, nil
}

// DecodeBeaconStates decodes a base64 payload envelope into beacon
// records keyed by device id. Beacon records use structural CBOR fields
// rather than positional arrays.
func DecodeBeaconStates(encoded string) (map[int64]*BeaconState, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload envelope: %w", err)
	}

	var m map[int64]*BeaconState
	if err := decMode.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode beacon states: %w", err)
	}
	for id, b := range m {
		if b != nil {
			b.DeviceID = id
		}
	}
	return m, nil
}
