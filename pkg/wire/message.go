package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message errors.
var (
	ErrNotAuthResponse = errors.New("first message is not an authentication response")
	ErrBadTimestamp    = errors.New("token timestamp is not numeric")
)

// Status values returned by the service.
const (
	// StatusOK indicates the request was accepted.
	StatusOK = "ok"
)

// Wire actions. Register/unregister pairs establish and tear down
// standing subscriptions; the stream action is the discriminator on the
// unsolicited push messages that follow.
const (
	// ActionConnectionOK is the discriminator of the handshake success
	// message sent by the service after the bearer token is accepted.
	ActionConnectionOK = "connectionOk"

	// ActionRefreshToken renews the access token on a live connection.
	ActionRefreshToken = "refreshToken"

	ActionRegisterTagLocation   = "registerTagLocation"
	ActionUnregisterTagLocation = "unregisterTagLocation"
	ActionLocationUpdate        = "locationUpdate"

	ActionRegisterTagDiff   = "registerTagDiffStream"
	ActionUnregisterTagDiff = "unregisterTagDiffStream"
	ActionTagDiffStream     = "tagDiffStream"

	ActionRegisterAlertDiff   = "registerAlertDiffStream"
	ActionUnregisterAlertDiff = "unregisterAlertDiffStream"
	ActionAlertDiffStream     = "alertDiffStream"

	ActionRegisterTwr   = "registerTwrStream"
	ActionUnregisterTwr = "unregisterTwrStream"
	ActionTwrData       = "twrData"

	ActionGetTagState   = "getTagState"
	ActionGetAlertState = "getAlertState"
)

// Request is the outbound message envelope.
type Request struct {
	UniqueID string `json:"uniqueId"`
	Action   string `json:"action"`
	Payload  any    `json:"payload,omitempty"`
}

// Response is the inbound message envelope. The same shape carries both
// request responses and unsolicited push messages; push messages are
// routed by Action.
type Response struct {
	UniqueID string          `json:"uniqueId"`
	Action   string          `json:"action"`
	Status   string          `json:"status,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// OK reports whether the response indicates success. Push messages carry
// no status and are treated as successful.
func (r *Response) OK() bool {
	return r.Status == "" || r.Status == StatusOK
}

// EncodeRequest encodes a request envelope to JSON.
func EncodeRequest(req *Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return data, nil
}

// DecodeResponse decodes an inbound JSON envelope.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// StatusError is a well-formed rejection from the service for a specific
// request. It is surfaced only to that request's caller.
type StatusError struct {
	Action string
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request %q rejected by server: %s", e.Action, e.Status)
}

// AuthResponse is the first inbound frame after the bearer token has
// been sent. Token timestamps are unix seconds; the service may encode
// them as integers or floats, so they are coerced via json.Number.
type AuthResponse struct {
	Action          string      `json:"action"`
	TokenExpiration json.Number `json:"tokenExpiration"`
	TokenIssued     json.Number `json:"tokenIssued"`
}

// ParseAuthResponse parses the handshake success message. Any first
// message that is not a connectionOk envelope fails the connect attempt.
func ParseAuthResponse(data []byte) (*AuthResponse, error) {
	var resp AuthResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode handshake response: %w", err)
	}
	if resp.Action != ActionConnectionOK {
		return nil, fmt.Errorf("%w: action %q", ErrNotAuthResponse, resp.Action)
	}
	return &resp, nil
}

// Expiration returns the token expiration as a timestamp.
func (a *AuthResponse) Expiration() (time.Time, error) {
	return coerceUnix(a.TokenExpiration)
}

// Issued returns the token issue time as a timestamp.
func (a *AuthResponse) Issued() (time.Time, error) {
	return coerceUnix(a.TokenIssued)
}

func coerceUnix(n json.Number) (time.Time, error) {
	if i, err := n.Int64(); err == nil {
		return time.Unix(i, 0), nil
	}
	f, err := n.Float64()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, n.String())
	}
	return time.Unix(int64(f), 0), nil
}
