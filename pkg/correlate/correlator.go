package correlate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noccela/ncc-cloud-integration-go/pkg/log"
	"github.com/noccela/ncc-cloud-integration-go/pkg/wire"
)

// Correlator errors.
var (
	ErrNotConnected     = errors.New("no ready connection")
	ErrRequestTimeout   = errors.New("request timed out")
	ErrConnectionClosed = errors.New("connection closed")
	ErrCorrelatorClosed = errors.New("correlator closed")
	ErrDuplicateID      = errors.New("duplicate correlation id")
)

// Default correlator settings.
const (
	// DefaultRequestTimeout applies when SendRequest is called with a
	// zero timeout.
	DefaultRequestTimeout = 60 * time.Second

	// DefaultSweepInterval is how often pending requests are checked
	// against their deadlines.
	DefaultSweepInterval = time.Second
)

// Config holds correlator configuration.
type Config struct {
	// DefaultTimeout is the per-request deadline used when the caller
	// passes zero (default: DefaultRequestTimeout).
	DefaultTimeout time.Duration

	// SweepInterval is the deadline sweep period
	// (default: DefaultSweepInterval).
	SweepInterval time.Duration

	// Logger receives message and error events (default: none).
	Logger log.Logger
}

// Sender is the outbound half of the connection the correlator writes
// to. Satisfied by transport.Conn.
type Sender interface {
	Send(data []byte) error
}

// pendingRequest tracks one in-flight request. Exactly one resolution
// is delivered: the response, a timeout, or a connection error.
type pendingRequest struct {
	correlationID string
	overrideKey   string
	deadline      time.Time
	resultCh      chan requestResult
}

type requestResult struct {
	resp *wire.Response
	err  error
}

// pushListener is a persistent callback for unsolicited messages under
// one action key. Listeners never expire on their own; they are removed
// explicitly by (actionKey, correlationID).
type pushListener struct {
	correlationID string
	callback      func(*wire.Response)
}

// Correlator owns the live connection handle and the in-flight request
// table. It is safe for concurrent use.
type Correlator struct {
	mu     sync.RWMutex
	config Config
	logger log.Logger

	conn Sender // nil while disconnected

	pending       map[string]*pendingRequest
	overrideIndex map[string]string // response-type key -> correlation id

	listeners map[string][]*pushListener

	closed    bool
	closeOnce sync.Once
	stopSweep chan struct{}
	wg        sync.WaitGroup
}

// New creates a correlator and starts its deadline sweep.
func New(config Config) *Correlator {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultRequestTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}

	c := &Correlator{
		config:        config,
		logger:        log.OrNoop(config.Logger),
		pending:       make(map[string]*pendingRequest),
		overrideIndex: make(map[string]string),
		listeners:     make(map[string][]*pushListener),
		stopSweep:     make(chan struct{}),
	}

	c.wg.Add(1)
	go c.sweepLoop()

	return c
}

// Attach hands the correlator a live connection. Requests fail with
// ErrNotConnected until a connection is attached.
func (c *Correlator) Attach(conn Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

// Detach removes the connection and rejects every pending request with
// the given error (ErrConnectionClosed when nil).
func (c *Correlator) Detach(cause error) {
	if cause == nil {
		cause = ErrConnectionClosed
	}

	c.mu.Lock()
	c.conn = nil
	expired := c.takeAllLocked()
	c.mu.Unlock()

	for _, p := range expired {
		p.resultCh <- requestResult{err: cause}
	}
}

// Connected reports whether a live connection is attached.
func (c *Correlator) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Close shuts the correlator down idempotently: the sweep stops and all
// pending requests are rejected.
func (c *Correlator) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.conn = nil
		expired := c.takeAllLocked()
		c.mu.Unlock()

		close(c.stopSweep)
		c.wg.Wait()

		for _, p := range expired {
			p.resultCh <- requestResult{err: ErrCorrelatorClosed}
		}
	})
}

// SendRequest transmits the request and blocks until the correlated
// response arrives, the timeout elapses, the connection drops, or ctx is
// done. A zero timeout uses the configured default. When
// overrideResponseKey is non-empty, the response is matched by that
// action key instead of the correlation id.
//
// A response with a non-ok status is returned as a *wire.StatusError.
func (c *Correlator) SendRequest(ctx context.Context, req *wire.Request, timeout time.Duration, overrideResponseKey string) (*wire.Response, error) {
	if timeout <= 0 {
		timeout = c.config.DefaultTimeout
	}
	if req.UniqueID == "" {
		req.UniqueID = uuid.NewString()
	}

	p := &pendingRequest{
		correlationID: req.UniqueID,
		overrideKey:   overrideResponseKey,
		deadline:      time.Now().Add(timeout),
		resultCh:      make(chan requestResult, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCorrelatorClosed
	}
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	if _, exists := c.pending[p.correlationID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, p.correlationID)
	}
	c.pending[p.correlationID] = p
	if p.overrideKey != "" {
		c.overrideIndex[p.overrideKey] = p.correlationID
	}
	c.mu.Unlock()

	data, err := wire.EncodeRequest(req)
	if err != nil {
		c.remove(p.correlationID)
		return nil, err
	}
	if err := conn.Send(data); err != nil {
		c.remove(p.correlationID)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	c.logger.Log(log.Message(log.DirectionOut, req.Action, req.UniqueID))

	select {
	case <-ctx.Done():
		c.remove(p.correlationID)
		return nil, ctx.Err()
	case result := <-p.resultCh:
		if result.err != nil {
			return nil, result.err
		}
		if !result.resp.OK() {
			return nil, &wire.StatusError{Action: req.Action, Status: result.resp.Status}
		}
		return result.resp, nil
	}
}

// RegisterServerCallback adds a push listener for unsolicited messages
// carrying the given action key. Listeners under the same key are
// invoked in registration order.
func (c *Correlator) RegisterServerCallback(actionKey, correlationID string, callback func(*wire.Response)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[actionKey] = append(c.listeners[actionKey], &pushListener{
		correlationID: correlationID,
		callback:      callback,
	})
}

// RemoveServerCallback removes the push listener registered under the
// given action key and correlation id.
func (c *Correlator) RemoveServerCallback(actionKey, correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.listeners[actionKey]
	kept := list[:0]
	for _, l := range list {
		if l.correlationID != correlationID {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(c.listeners, actionKey)
		return
	}
	c.listeners[actionKey] = kept
}

// HandleMessage routes one inbound frame: a pending request by
// correlation id, then by override response key, then push listeners by
// action key. Unmatched messages are dropped.
func (c *Correlator) HandleMessage(data []byte) {
	resp, err := wire.DecodeResponse(data)
	if err != nil {
		c.logger.Log(log.Error("dropping undecodable message", err))
		return
	}
	c.logger.Log(log.Message(log.DirectionIn, resp.Action, resp.UniqueID))

	if p := c.take(resp.UniqueID); p != nil {
		p.resultCh <- requestResult{resp: resp}
		return
	}

	c.mu.Lock()
	if id, ok := c.overrideIndex[resp.Action]; ok {
		p := c.takeLocked(id)
		c.mu.Unlock()
		if p != nil {
			p.resultCh <- requestResult{resp: resp}
			return
		}
		c.mu.Lock()
	}
	callbacks := make([]func(*wire.Response), 0, len(c.listeners[resp.Action]))
	for _, l := range c.listeners[resp.Action] {
		callbacks = append(callbacks, l.callback)
	}
	c.mu.Unlock()

	if len(callbacks) == 0 {
		c.logger.Log(log.Event{
			Timestamp: time.Now(),
			Category:  log.CategoryMessage,
			Direction: log.DirectionIn,
			Action:    resp.Action,
			Summary:   "dropping unmatched message",
		})
		return
	}
	for _, cb := range callbacks {
		cb(resp)
	}
}

// PendingCount returns the number of in-flight requests.
func (c *Correlator) PendingCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

// take removes and returns the pending request with the given id.
func (c *Correlator) take(correlationID string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takeLocked(correlationID)
}

func (c *Correlator) takeLocked(correlationID string) *pendingRequest {
	p, ok := c.pending[correlationID]
	if !ok {
		return nil
	}
	delete(c.pending, correlationID)
	if p.overrideKey != "" {
		delete(c.overrideIndex, p.overrideKey)
	}
	return p
}

// takeAllLocked drains the pending table. Caller holds mu.
func (c *Correlator) takeAllLocked() []*pendingRequest {
	expired := make([]*pendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		expired = append(expired, p)
	}
	c.pending = make(map[string]*pendingRequest)
	c.overrideIndex = make(map[string]string)
	return expired
}

// remove discards a pending request without resolving it. Used on send
// failure and caller cancellation, where the caller already has an error.
func (c *Correlator) remove(correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.takeLocked(correlationID)
}

// sweepLoop rejects pending requests past their deadline.
func (c *Correlator) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopSweep:
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

func (c *Correlator) sweep(now time.Time) {
	c.mu.Lock()
	var expired []*pendingRequest
	for id, p := range c.pending {
		if now.After(p.deadline) {
			delete(c.pending, id)
			if p.overrideKey != "" {
				delete(c.overrideIndex, p.overrideKey)
			}
			expired = append(expired, p)
		}
	}
	c.mu.Unlock()

	for _, p := range expired {
		p.resultCh <- requestResult{
			err: fmt.Errorf("%w: no response for %s", ErrRequestTimeout, p.correlationID),
		}
	}
}
