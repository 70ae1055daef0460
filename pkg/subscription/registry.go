package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noccela/ncc-cloud-integration-go/pkg/filter"
	"github.com/noccela/ncc-cloud-integration-go/pkg/log"
	"github.com/noccela/ncc-cloud-integration-go/pkg/wire"
)

// Registry errors.
var (
	ErrNotConnected = errors.New("no ready connection")
)

// Default registry settings.
const (
	// DefaultReregisterDelay is the pause before a failed
	// re-registration is retried.
	DefaultReregisterDelay = 2 * time.Second

	// DefaultMaxReregisterAttempts bounds retries per subscription
	// during replay. Zero means retry forever.
	DefaultMaxReregisterAttempts = 5
)

// Config holds registry configuration.
type Config struct {
	// ReregisterDelay is the wait between failed replay attempts for
	// one subscription (default: DefaultReregisterDelay).
	ReregisterDelay time.Duration

	// MaxReregisterAttempts is the per-subscription failure ceiling
	// during replay; a subscription whose failure count exceeds it is
	// dropped permanently. Zero retries forever.
	MaxReregisterAttempts int

	// Logger receives subscription and error events (default: none).
	Logger log.Logger
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		ReregisterDelay:       DefaultReregisterDelay,
		MaxReregisterAttempts: DefaultMaxReregisterAttempts,
	}
}

// Requester is the correlator surface the registry depends on.
type Requester interface {
	SendRequest(ctx context.Context, req *wire.Request, timeout time.Duration, overrideResponseKey string) (*wire.Response, error)
	RegisterServerCallback(actionKey, correlationID string, callback func(*wire.Response))
	RemoveServerCallback(actionKey, correlationID string)
	Connected() bool
}

// Callback receives filtered payloads for one subscription. The
// concrete payload type depends on the event type; see pkg/client for
// typed wrappers.
type Callback func(payload any)

// Subscription is one standing registration (or stored one-shot fetch).
type Subscription struct {
	// EventType is the logical event family.
	EventType filter.EventType

	// Spec is the validated filter specification, replayed verbatim on
	// re-registration.
	Spec filter.Spec

	// Callback receives filtered payloads.
	Callback Callback

	// CorrelationID identifies the subscription. Stable across
	// re-registration so the service treats replays as the same
	// logical subscription.
	CorrelationID string

	// unregister is the stored teardown request; nil for one-shot
	// state fetches, which have nothing to tear down.
	unregister *wire.Request

	// pushAction is the unsolicited-message key the subscription
	// listens on; empty for one-shot fetches.
	pushAction string

	// FailedAttempts counts consecutive replay failures. Mutated only
	// during re-registration after a reconnect.
	FailedAttempts int
}

// actionSet maps an event type onto its wire actions.
type actionSet struct {
	register   string
	unregister string
	push       string
}

var actions = map[filter.EventType]actionSet{
	filter.EventLocationUpdate: {
		register:   wire.ActionRegisterTagLocation,
		unregister: wire.ActionUnregisterTagLocation,
		push:       wire.ActionLocationUpdate,
	},
	filter.EventTagDiff: {
		register:   wire.ActionRegisterTagDiff,
		unregister: wire.ActionUnregisterTagDiff,
		push:       wire.ActionTagDiffStream,
	},
	filter.EventAlertDiff: {
		register:   wire.ActionRegisterAlertDiff,
		unregister: wire.ActionUnregisterAlertDiff,
		push:       wire.ActionAlertDiffStream,
	},
	filter.EventTwrData: {
		register:   wire.ActionRegisterTwr,
		unregister: wire.ActionUnregisterTwr,
		push:       wire.ActionTwrData,
	},
	filter.EventTagState:   {register: wire.ActionGetTagState},
	filter.EventAlertState: {register: wire.ActionGetAlertState},
}

// Registry tracks active subscriptions keyed by correlation id. The
// subscription map is owned exclusively by the registry and mutated
// only through Register, Unregister and ReregisterAll.
type Registry struct {
	mu        sync.Mutex
	config    Config
	logger    log.Logger
	requester Requester

	subs  map[string]*Subscription
	order []string // insertion order, for deterministic replay
}

// New creates a subscription registry on top of the given requester.
func New(config Config, requester Requester) *Registry {
	if config.ReregisterDelay <= 0 {
		config.ReregisterDelay = DefaultReregisterDelay
	}
	return &Registry{
		config:    config,
		logger:    log.OrNoop(config.Logger),
		requester: requester,
		subs:      make(map[string]*Subscription),
	}
}

// Register validates the filter against the event type's schema and
// dispatches the matching wire action: streaming types install a push
// listener and send the subscribe request; point-in-time types fetch
// the current state and invoke the callback once. The returned
// correlation id keys the stored subscription. Supplying requestID
// pins the correlation id (used by replay).
func (r *Registry) Register(ctx context.Context, eventType filter.EventType, spec filter.Spec, callback Callback, requestID string) (string, error) {
	if !r.requester.Connected() {
		return "", ErrNotConnected
	}

	flt, err := filter.New(eventType, spec)
	if err != nil {
		return "", err
	}

	correlationID := requestID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	r.warnOnDuplicate(eventType, spec)

	acts := actions[eventType]
	registerReq := &wire.Request{
		UniqueID: correlationID,
		Action:   acts.register,
		Payload:  spec,
	}

	sub := &Subscription{
		EventType:     eventType,
		Spec:          spec,
		Callback:      callback,
		CorrelationID: correlationID,
	}

	if eventType.Streaming() {
		sub.pushAction = acts.push
		sub.unregister = &wire.Request{
			UniqueID: correlationID,
			Action:   acts.unregister,
			Payload:  spec,
		}

		r.requester.RegisterServerCallback(acts.push, correlationID, func(resp *wire.Response) {
			payload, err := decodePayload(eventType, resp)
			if err != nil {
				r.logger.Log(log.Error("failed to decode push payload", err))
				return
			}
			if out, ok := flt.Apply(payload); ok {
				callback(out)
			}
		})

		if _, err := r.requester.SendRequest(ctx, registerReq, 0, ""); err != nil {
			r.requester.RemoveServerCallback(acts.push, correlationID)
			return "", fmt.Errorf("failed to register %s: %w", eventType, err)
		}
	} else {
		resp, err := r.requester.SendRequest(ctx, registerReq, 0, "")
		if err != nil {
			return "", fmt.Errorf("failed to fetch %s: %w", eventType, err)
		}
		payload, err := decodePayload(eventType, resp)
		if err != nil {
			return "", fmt.Errorf("failed to decode %s response: %w", eventType, err)
		}
		if out, ok := flt.Apply(payload); ok {
			callback(out)
		}
	}

	r.mu.Lock()
	r.subs[correlationID] = sub
	r.order = append(r.order, correlationID)
	r.mu.Unlock()

	r.logger.Log(log.Subscription(fmt.Sprintf("registered %s", eventType), correlationID))
	return correlationID, nil
}

// Unregister tears down the subscription with the given correlation id.
// It returns false without any network I/O when the id is unknown. The
// stored unsubscribe request is sent only while connected; a broken
// connection need not be told.
func (r *Registry) Unregister(ctx context.Context, correlationID string) bool {
	r.mu.Lock()
	sub, ok := r.subs[correlationID]
	if ok {
		r.deleteLocked(correlationID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	if sub.pushAction != "" {
		r.requester.RemoveServerCallback(sub.pushAction, sub.CorrelationID)
	}
	if sub.unregister != nil && r.requester.Connected() {
		if _, err := r.requester.SendRequest(ctx, sub.unregister, 0, ""); err != nil {
			r.logger.Log(log.Error(
				fmt.Sprintf("unsubscribe %s failed, entry removed anyway", sub.EventType), err))
		}
	}

	r.logger.Log(log.Subscription(fmt.Sprintf("unregistered %s", sub.EventType), correlationID))
	return true
}

// Count returns the number of stored subscriptions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Get returns the stored subscription for the correlation id, or nil.
func (r *Registry) Get(correlationID string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[correlationID]
}

// Clear drops every subscription and its push listener without network
// I/O. Used on final teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	subs := r.takeAllLocked()
	r.mu.Unlock()

	for _, sub := range subs {
		if sub.pushAction != "" {
			r.requester.RemoveServerCallback(sub.pushAction, sub.CorrelationID)
		}
	}
}

// ReregisterAll replays all subscriptions against a newly established
// connection. The snapshot is consumed as a FIFO work queue: each entry
// is re-registered with its original correlation id; a failed entry is
// requeued after the configured delay until its failure count exceeds
// the ceiling, at which point it is dropped and reported. Replay is
// sequential by design, to avoid overwhelming a fresh connection and to
// keep ordering deterministic for diagnostics.
func (r *Registry) ReregisterAll(ctx context.Context) {
	r.mu.Lock()
	queue := r.takeAllLocked()
	r.mu.Unlock()

	for _, sub := range queue {
		if sub.pushAction != "" {
			r.requester.RemoveServerCallback(sub.pushAction, sub.CorrelationID)
		}
	}

	for len(queue) > 0 {
		if ctx.Err() != nil {
			return
		}
		sub := queue[0]
		queue = queue[1:]

		_, err := r.Register(ctx, sub.EventType, sub.Spec, sub.Callback, sub.CorrelationID)
		if err == nil {
			continue
		}

		sub.FailedAttempts++
		ceiling := r.config.MaxReregisterAttempts
		if ceiling > 0 && sub.FailedAttempts > ceiling {
			r.logger.Log(log.Error(
				fmt.Sprintf("dropping %s subscription after %d failed re-registrations",
					sub.EventType, sub.FailedAttempts), err))
			continue
		}

		r.logger.Log(log.Error(
			fmt.Sprintf("re-registration of %s failed (attempt %d), retrying",
				sub.EventType, sub.FailedAttempts), err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.config.ReregisterDelay):
		}
		queue = append(queue, sub)
	}
}

// warnOnDuplicate logs when another live subscription has an identical
// eventType+filter pair: the service's unsubscribe removes all matching
// registrations together, so tearing down one of the twins tears down
// both.
func (r *Registry) warnOnDuplicate(eventType filter.EventType, spec filter.Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.EventType == eventType && reflect.DeepEqual(sub.Spec, spec) {
			r.logger.Log(log.Error(
				fmt.Sprintf("duplicate %s subscription with identical filter; unsubscribing one will affect both", eventType),
				nil))
			return
		}
	}
}

// deleteLocked removes one subscription. Caller holds mu.
func (r *Registry) deleteLocked(correlationID string) {
	delete(r.subs, correlationID)
	for i, id := range r.order {
		if id == correlationID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// takeAllLocked drains the registry in insertion order. Caller holds mu.
func (r *Registry) takeAllLocked() []*Subscription {
	out := make([]*Subscription, 0, len(r.subs))
	for _, id := range r.order {
		if sub, ok := r.subs[id]; ok {
			out = append(out, sub)
		}
	}
	r.subs = make(map[string]*Subscription)
	r.order = nil
	return out
}

// decodePayload converts the raw payload of a push message or snapshot
// response into the typed form the filter variants operate on.
func decodePayload(eventType filter.EventType, resp *wire.Response) (any, error) {
	switch eventType {
	case filter.EventLocationUpdate:
		var updates map[int64]*wire.TagLocation
		if err := unmarshalPayload(resp, &updates); err != nil {
			return nil, err
		}
		return updates, nil

	case filter.EventTagDiff:
		var env wire.TagDiffEnvelope
		if err := unmarshalPayload(resp, &env); err != nil {
			return nil, err
		}
		return env.Decode()

	case filter.EventAlertDiff:
		var env wire.AlertDiffEnvelope
		if err := unmarshalPayload(resp, &env); err != nil {
			return nil, err
		}
		return env.Decode()

	case filter.EventTwrData:
		var samples []wire.TwrSample
		if err := unmarshalPayload(resp, &samples); err != nil {
			return nil, err
		}
		return samples, nil

	case filter.EventTagState:
		var env wire.TagSnapshotEnvelope
		if err := unmarshalPayload(resp, &env); err != nil {
			return nil, err
		}
		if env.Tags == "" {
			return map[int64]*wire.TagState{}, nil
		}
		return wire.DecodeTagStates(env.Tags)

	case filter.EventAlertState:
		var env wire.AlertSnapshotEnvelope
		if err := unmarshalPayload(resp, &env); err != nil {
			return nil, err
		}
		if env.Alerts == "" {
			return map[int64]*wire.AlertState{}, nil
		}
		return wire.DecodeAlertStates(env.Alerts)

	default:
		return nil, fmt.Errorf("%w: %d", filter.ErrUnknownEventType, eventType)
	}
}

func unmarshalPayload(resp *wire.Response, v any) error {
	if len(resp.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Payload, v); err != nil {
		return fmt.Errorf("malformed %s payload: %w", resp.Action, err)
	}
	return nil
}
