package wire

// Tag record offsets. Index positions in the positional array for a tag
// record. These are contractual constants tied to the remote protocol
// version and must not be renumbered; a mismatch with the deployed
// service manifests as silently wrong field values, not a decode error.
const (
	tagIdxName           = 1
	tagIdxBatteryVoltage = 2
	tagIdxBatteryStatus  = 3
	tagIdxStatus         = 4
	tagIdxAreas          = 5
	tagIdxWire           = 6
	tagIdxReed           = 7
	tagIdxOnline         = 8
	tagIdxTimestamp      = 9
	tagIdxX              = 10
	tagIdxY              = 11
	tagIdxAccelerometer  = 12
	tagIdxFloorID        = 13
	tagIdxSignalLost     = 14
	tagIdxPowerSave      = 15
	tagIdxDeviceModel    = 16
	tagIdxFwVersion      = 17
	tagIdxStrokeCount    = 18
	tagIdxZ              = 19
)

// Alert record offsets. Same contract as the tag offsets.
const (
	alertIdxDeviceID  = 0
	alertIdxAlarmType = 1
	alertIdxX         = 2
	alertIdxY         = 3
	alertIdxZ         = 4
	alertIdxTimestamp = 5
	alertIdxReacted   = 6
	alertIdxFloorID   = 7
)

// TagState is the full decoded state of a tracked tag.
type TagState struct {
	DeviceID       int64
	Name           string
	BatteryVoltage int64
	BatteryStatus  int64
	Status         int64
	Areas          []int64
	Wire           bool
	Reed           bool
	Online         bool
	Timestamp      int64
	X              float64
	Y              float64
	Z              float64
	Accelerometer  bool
	FloorID        int64
	SignalLost     bool
	PowerSave      bool
	DeviceModel    int64
	FwVersion      string
	StrokeCount    int64
}

// AlertState is the decoded state of an active alert.
type AlertState struct {
	AlarmID   int64
	DeviceID  int64
	AlarmType string
	X         float64
	Y         float64
	Z         float64
	Timestamp int64
	Reacted   bool
	FloorID   int64
}

// BeaconState is the decoded state of a location beacon. Unlike tags and
// alerts, beacon records arrive with structural field keys.
type BeaconState struct {
	DeviceID  int64  `cbor:"-" json:"deviceId"`
	Online    bool   `cbor:"online" json:"online"`
	Charging  bool   `cbor:"charging" json:"charging"`
	Voltage   int64  `cbor:"voltage" json:"voltage"`
	Timestamp int64  `cbor:"timestamp" json:"timestamp"`
	FwVersion string `cbor:"fwVersion" json:"fwVersion"`
}

// ProjectTagState projects a positional array into a named tag record.
// Missing trailing elements decode to zero values; the device id comes
// from the enclosing map key, not the array.
func ProjectTagState(fields []any) *TagState {
	return &TagState{
		Name:           asString(at(fields, tagIdxName)),
		BatteryVoltage: asInt64(at(fields, tagIdxBatteryVoltage)),
		BatteryStatus:  asInt64(at(fields, tagIdxBatteryStatus)),
		Status:         asInt64(at(fields, tagIdxStatus)),
		Areas:          asInt64Slice(at(fields, tagIdxAreas)),
		Wire:           asBool(at(fields, tagIdxWire)),
		Reed:           asBool(at(fields, tagIdxReed)),
		Online:         asBool(at(fields, tagIdxOnline)),
		Timestamp:      asInt64(at(fields, tagIdxTimestamp)),
		X:              asFloat64(at(fields, tagIdxX)),
		Y:              asFloat64(at(fields, tagIdxY)),
		Accelerometer:  asBool(at(fields, tagIdxAccelerometer)),
		FloorID:        asInt64(at(fields, tagIdxFloorID)),
		SignalLost:     asBool(at(fields, tagIdxSignalLost)),
		PowerSave:      asBool(at(fields, tagIdxPowerSave)),
		DeviceModel:    asInt64(at(fields, tagIdxDeviceModel)),
		FwVersion:      asString(at(fields, tagIdxFwVersion)),
		StrokeCount:    asInt64(at(fields, tagIdxStrokeCount)),
		Z:              asFloat64(at(fields, tagIdxZ)),
	}
}

// ProjectAlertState projects a positional array into a named alert
// record. The alarm id comes from the enclosing map key.
func ProjectAlertState(fields []any) *AlertState {
	return &AlertState{
		DeviceID:  asInt64(at(fields, alertIdxDeviceID)),
		AlarmType: asString(at(fields, alertIdxAlarmType)),
		X:         asFloat64(at(fields, alertIdxX)),
		Y:         asFloat64(at(fields, alertIdxY)),
		Z:         asFloat64(at(fields, alertIdxZ)),
		Timestamp: asInt64(at(fields, alertIdxTimestamp)),
		Reacted:   asBool(at(fields, alertIdxReacted)),
		FloorID:   asInt64(at(fields, alertIdxFloorID)),
	}
}

// at returns fields[i], or nil when the array is too short.
func at(fields []any, i int) any {
	if i < 0 || i >= len(fields) {
		return nil
	}
	return fields[i]
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

// asInt64 coerces the integer representations the CBOR decoder may
// produce for a positional element.
func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}

func asFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func asInt64Slice(v any) []int64 {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return nil
	}
	out := make([]int64, 0, len(items))
	for _, item := range items {
		out = append(out, asInt64(item))
	}
	return out
}
