// Package filter transforms decoded server payloads before they reach
// subscriber callbacks.
//
// The set of event types is a closed enumeration; each type maps to one
// filter variant and a static schema of allowed and required filter
// keys. Specifications are validated structurally before any network
// I/O, so an invalid filter never results in a half-applied
// subscription.
//
// Filtering distinguishes two outcomes for an incoming payload: a
// transformed payload to deliver, or suppression. Diff-stream payloads
// have one wrinkle: entries removed at the source are always passed
// through for downstream bookkeeping, and a diff that was structurally
// present but filtered down to nothing is still delivered, while a
// truly empty diff is suppressed.
package filter
