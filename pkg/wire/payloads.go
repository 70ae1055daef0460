package wire

// TagLocation is a single entry in a location update push message.
// Location updates are plain JSON keyed by decimal device id.
type TagLocation struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	FloorID   int64   `json:"floorId"`
	Timestamp int64   `json:"timestamp"`
}

// TwrSample is one two-way-ranging distance measurement.
type TwrSample struct {
	Tag       int64   `json:"tId"`
	Beacon    int64   `json:"bId"`
	Distance  float64 `json:"dist"`
	Timestamp int64   `json:"timestamp"`
}

// TagDiff is a decoded tag diff stream payload. Tags holds the entries
// present in this diff; RemovedTags lists devices removed at the source
// and is preserved for downstream bookkeeping even when filtering.
type TagDiff struct {
	Tags        map[int64]*TagState
	RemovedTags []int64
}

// Empty reports whether the diff carries neither updates nor removals.
func (d *TagDiff) Empty() bool {
	return d == nil || (len(d.Tags) == 0 && len(d.RemovedTags) == 0)
}

// AlertDiff is a decoded alert diff stream payload, keyed by alarm id.
type AlertDiff struct {
	Alerts        map[int64]*AlertState
	RemovedAlerts []int64
}

// Empty reports whether the diff carries neither updates nor removals.
func (d *AlertDiff) Empty() bool {
	return d == nil || (len(d.Alerts) == 0 && len(d.RemovedAlerts) == 0)
}

// TagDiffEnvelope is the raw tagDiffStream payload: present entries in
// the compact binary map, removals as plain ids.
type TagDiffEnvelope struct {
	Tags        string  `json:"tags,omitempty"`
	RemovedTags []int64 `json:"removedTags,omitempty"`
}

// Decode unwraps the binary map into a TagDiff.
func (e *TagDiffEnvelope) Decode() (*TagDiff, error) {
	diff := &TagDiff{RemovedTags: e.RemovedTags}
	if e.Tags != "" {
		tags, err := DecodeTagStates(e.Tags)
		if err != nil {
			return nil, err
		}
		diff.Tags = tags
	}
	return diff, nil
}

// AlertDiffEnvelope is the raw alertDiffStream payload.
type AlertDiffEnvelope struct {
	Alerts        string  `json:"alerts,omitempty"`
	RemovedAlerts []int64 `json:"removedAlerts,omitempty"`
}

// Decode unwraps the binary map into an AlertDiff.
func (e *AlertDiffEnvelope) Decode() (*AlertDiff, error) {
	diff := &AlertDiff{RemovedAlerts: e.RemovedAlerts}
	if e.Alerts != "" {
		alerts, err := DecodeAlertStates(e.Alerts)
		if err != nil {
			return nil, err
		}
		diff.Alerts = alerts
	}
	return diff, nil
}

// TagSnapshotEnvelope is the getTagState response payload.
type TagSnapshotEnvelope struct {
	Tags string `json:"tags"`
}

// AlertSnapshotEnvelope is the getAlertState response payload.
type AlertSnapshotEnvelope struct {
	Alerts string `json:"alerts"`
}
