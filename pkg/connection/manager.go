package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/noccela/ncc-cloud-integration-go/pkg/auth"
	"github.com/noccela/ncc-cloud-integration-go/pkg/correlate"
	"github.com/noccela/ncc-cloud-integration-go/pkg/log"
	"github.com/noccela/ncc-cloud-integration-go/pkg/transport"
	"github.com/noccela/ncc-cloud-integration-go/pkg/wire"
)

// Connection errors.
var (
	ErrManagerClosed    = errors.New("connection manager closed")
	ErrAlreadyConnected = errors.New("already connected")
	ErrHandshakeTimeout = errors.New("authentication handshake timed out")
	ErrNoAddress        = errors.New("service address is required")
	ErrNoTokenProvider  = errors.New("token provider is required")
)

// State represents the connection lifecycle state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates the transport is being opened.
	StateConnecting

	// StateAuthenticating indicates the transport is open and the
	// handshake is awaiting the service's first message.
	StateAuthenticating

	// StateReady indicates an authenticated connection ready for
	// requests and push traffic.
	StateReady

	// StateClosing indicates an orderly shutdown is in progress.
	StateClosing

	// StateReconnecting indicates a retry is scheduled after an
	// unexpected connection loss.
	StateReconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateReady:
		return "READY"
	case StateClosing:
		return "CLOSING"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// HandshakeError reports a failed authentication handshake. Code and
// Reason carry the transport closure details when the service closed
// the connection before or instead of the success message.
type HandshakeError struct {
	Code   int
	Reason string
	Cause  error
}

func (e *HandshakeError) Error() string {
	var b strings.Builder
	b.WriteString("authentication handshake failed")
	if e.Code != 0 {
		fmt.Fprintf(&b, ": connection closed with code %d", e.Code)
		if e.Reason != "" {
			fmt.Fprintf(&b, " (%s)", e.Reason)
		}
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *HandshakeError) Unwrap() error {
	return e.Cause
}

// TokenInfo reports the timestamps of the accepted access token.
type TokenInfo struct {
	Issued  time.Time
	Expires time.Time
}

// Router is the message-layer surface the manager hands connections
// to. Implemented by correlate.Correlator.
type Router interface {
	Attach(conn correlate.Sender)
	Detach(cause error)
	HandleMessage(data []byte)
	SendRequest(ctx context.Context, req *wire.Request, timeout time.Duration, overrideResponseKey string) (*wire.Response, error)
}

// Config holds connection manager configuration.
type Config struct {
	// Address is the websocket URL of the cloud service.
	Address string

	// Domain is the authentication domain passed to the token
	// provider.
	Domain string

	// Token supplies bearer tokens for the handshake and renewals.
	Token auth.TokenProvider

	// Dialer opens transport connections (default: transport.WSDialer).
	Dialer transport.Dialer

	// AutoReconnect re-establishes the connection after unexpected
	// closures, with backoff.
	AutoReconnect bool

	// Backoff tunes the reconnection delays.
	Backoff BackoffConfig

	// HandshakeTimeout bounds the wait for the authentication
	// response (default: DefaultHandshakeTimeout).
	HandshakeTimeout time.Duration

	// RenewToken refreshes the access token on the live connection
	// before it expires.
	RenewToken bool

	// RenewMargin is how long before expiry renewal runs (default:
	// DefaultRenewMargin).
	RenewMargin time.Duration

	// RenewRetryDelay is the pause before a failed renewal is retried
	// (default: DefaultRenewRetryDelay).
	RenewRetryDelay time.Duration

	// Logger receives state change and error events (default: none).
	Logger log.Logger
}

// Default manager settings.
const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultRenewMargin      = 5 * time.Minute
	DefaultRenewRetryDelay  = 30 * time.Second
)

// authOutcome carries the handshake result from the read path to the
// goroutine blocked in connectOnce.
type authOutcome struct {
	info *TokenInfo
	err  error
}

// Manager drives the connection lifecycle: dialing, the authentication
// handshake, unexpected-closure recovery with backoff, and optional
// token renewal. A successfully authenticated connection is attached
// to the Router; on loss it is detached with a cause so pending
// requests fail promptly.
type Manager struct {
	mu     sync.Mutex
	config Config
	logger log.Logger
	router Router

	backoff *Backoff
	dialer  transport.Dialer

	state        State
	conn         transport.Conn
	gen          uint64
	authCh       chan authOutcome
	wasReady     bool
	reconnecting bool
	closed       bool
	renewTimer   *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onStateChange func(oldState, newState State)
	onReconnected func()
}

// New creates a connection manager. The router receives every inbound
// message once the handshake has completed.
func New(config Config, router Router) *Manager {
	if config.Dialer == nil {
		config.Dialer = &transport.WSDialer{}
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.RenewMargin <= 0 {
		config.RenewMargin = DefaultRenewMargin
	}
	if config.RenewRetryDelay <= 0 {
		config.RenewRetryDelay = DefaultRenewRetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:  config,
		logger:  log.OrNoop(config.Logger),
		router:  router,
		backoff: NewBackoffWithConfig(config.Backoff),
		dialer:  config.Dialer,
		state:   StateDisconnected,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the connection is authenticated and ready.
func (m *Manager) Connected() bool {
	return m.State() == StateReady
}

// OnStateChange sets a callback invoked after every state transition.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnReconnected sets a callback invoked whenever the connection
// reaches Ready after having been Ready before. The client wires this
// to subscription replay.
func (m *Manager) OnReconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnected = fn
}

// Connect dials the service, authenticates, and hands the live
// connection to the router. It suspends the caller until the handshake
// completes or fails and returns the accepted token's timestamps.
func (m *Manager) Connect(ctx context.Context) (*TokenInfo, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	m.mu.Unlock()

	if m.config.Address == "" {
		return nil, ErrNoAddress
	}
	if m.config.Token == nil {
		return nil, ErrNoTokenProvider
	}

	info, err := m.connectOnce(ctx)
	if err != nil {
		m.setState(StateDisconnected)
		return nil, err
	}
	return info, nil
}

// connectOnce performs one full dial-and-handshake cycle. On success
// the state is Ready and the router is attached; on failure the caller
// decides the next state.
func (m *Manager) connectOnce(ctx context.Context) (*TokenInfo, error) {
	m.setState(StateConnecting)

	token, err := m.config.Token(ctx, m.config.Domain)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}

	// Each dial attempt gets a generation; events from any connection
	// that is no longer the current one are discarded, so a late close
	// from an abandoned attempt cannot tear down a healthy connection.
	authCh := make(chan authOutcome, 1)
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.authCh = authCh
	m.mu.Unlock()

	conn, err := m.dialer.Dial(ctx, m.config.Address, transport.Events{
		OnMessage: func(data []byte) { m.handleMessage(gen, data) },
		OnError:   func(err error) { m.handleError(gen, err) },
		OnClose:   func(code int, reason string) { m.handleClose(gen, code, reason) },
	})
	if err != nil {
		m.clearAuth()
		return nil, fmt.Errorf("failed to dial %s: %w", m.config.Address, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.setState(StateAuthenticating)

	// First outbound frame is the raw bearer token, no envelope
	if err := conn.Send([]byte(token)); err != nil {
		m.clearAuth()
		conn.Close()
		return nil, fmt.Errorf("failed to send token: %w", err)
	}

	var outcome authOutcome
	select {
	case outcome = <-authCh:
	case <-time.After(m.config.HandshakeTimeout):
		m.clearAuth()
		conn.Close()
		return nil, &HandshakeError{Cause: ErrHandshakeTimeout}
	case <-ctx.Done():
		m.clearAuth()
		conn.Close()
		return nil, ctx.Err()
	}

	if outcome.err != nil {
		conn.Close()
		return nil, outcome.err
	}

	m.mu.Lock()
	wasReady := m.wasReady
	m.wasReady = true
	onReconnected := m.onReconnected
	m.mu.Unlock()

	m.router.Attach(conn)
	m.setState(StateReady)
	m.backoff.Reset()

	if m.config.RenewToken {
		m.scheduleRenewal(outcome.info.Expires)
	}

	if wasReady && onReconnected != nil {
		onReconnected()
	}

	return outcome.info, nil
}

// Close performs an orderly shutdown: it cancels any scheduled
// reconnection and renewal, closes the live connection, and detaches
// the router so pending requests fail. Safe to call from any state and
// more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	if m.renewTimer != nil {
		m.renewTimer.Stop()
		m.renewTimer = nil
	}
	m.mu.Unlock()

	m.setState(StateClosing)
	m.cancel()

	if conn != nil {
		conn.Close()
	}
	m.router.Detach(ErrManagerClosed)

	m.wg.Wait()
	m.setState(StateDisconnected)
}

// handleMessage routes inbound frames: the first frame during a
// handshake resolves the authentication wait, everything after goes to
// the router. Frames from a superseded connection are dropped.
func (m *Manager) handleMessage(gen uint64, data []byte) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	authCh := m.authCh
	m.authCh = nil
	m.mu.Unlock()

	if authCh == nil {
		m.router.HandleMessage(data)
		return
	}

	resp, err := wire.ParseAuthResponse(data)
	if err != nil {
		authCh <- authOutcome{err: &HandshakeError{Cause: err}}
		return
	}
	issued, err := resp.Issued()
	if err != nil {
		authCh <- authOutcome{err: &HandshakeError{Cause: err}}
		return
	}
	expires, err := resp.Expiration()
	if err != nil {
		authCh <- authOutcome{err: &HandshakeError{Cause: err}}
		return
	}
	authCh <- authOutcome{info: &TokenInfo{Issued: issued, Expires: expires}}
}

func (m *Manager) handleError(gen uint64, err error) {
	m.mu.Lock()
	stale := gen != m.gen
	m.mu.Unlock()
	if stale {
		return
	}
	m.logger.Log(log.Error("transport error", err))
}

// handleClose reacts to the transport reporting closure. During a
// handshake it fails the authentication wait with the closure details;
// on the live connection it detaches the router and, if enabled,
// schedules reconnection. A close from an abandoned connection is
// ignored.
func (m *Manager) handleClose(gen uint64, code int, reason string) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	authCh := m.authCh
	m.authCh = nil
	lost := !m.closed && m.state == StateReady
	if lost {
		m.conn = nil
		if m.renewTimer != nil {
			m.renewTimer.Stop()
			m.renewTimer = nil
		}
	}
	m.mu.Unlock()

	if authCh != nil {
		authCh <- authOutcome{err: &HandshakeError{Code: code, Reason: reason}}
		return
	}
	if !lost {
		return
	}

	cause := fmt.Errorf("%w: code %d (%s)", transport.ErrConnectionClosed, code, reason)
	m.logger.Log(log.Error("connection lost", cause))
	m.router.Detach(cause)

	if m.config.AutoReconnect {
		m.setState(StateReconnecting)
		m.scheduleReconnect()
	} else {
		m.setState(StateDisconnected)
	}
}

// scheduleReconnect starts the reconnection loop. Only one loop runs
// at a time; further triggers while it is active are no-ops.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.reconnecting || m.closed {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.reconnectLoop()
}

// reconnectLoop retries the connection with backoff until it succeeds
// or the manager is closed. Each cycle waits the current backoff delay
// and then runs a full dial-and-handshake attempt.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	for {
		delay := m.backoff.Next()
		m.logger.Log(log.Error(
			fmt.Sprintf("reconnecting in %s (attempt %d)", delay, m.backoff.Attempts()), nil))

		select {
		case <-m.ctx.Done():
			return
		case <-time.After(delay):
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
		_, err := m.connectOnce(ctx)
		cancel()

		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		m.logger.Log(log.Error("reconnection attempt failed", err))
		m.setState(StateReconnecting)
	}
}

// scheduleRenewal arms the renewal timer to fire a safety margin
// before the token expires.
func (m *Manager) scheduleRenewal(expires time.Time) {
	delay := time.Until(expires) - m.config.RenewMargin
	if delay < 0 {
		delay = 0
	}
	m.armRenewTimer(delay)
}

func (m *Manager) armRenewTimer(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.renewTimer != nil {
		m.renewTimer.Stop()
	}
	m.renewTimer = time.AfterFunc(delay, m.renewToken)
}

// renewToken fetches a fresh token and sends it over the live
// connection. Renewal failures retry after a fixed delay instead of
// tearing the connection down.
func (m *Manager) renewToken() {
	if m.State() != StateReady {
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
	defer cancel()

	token, err := m.config.Token(ctx, m.config.Domain)
	if err != nil {
		m.logger.Log(log.Error("token renewal failed, will retry", err))
		m.armRenewTimer(m.config.RenewRetryDelay)
		return
	}

	resp, err := m.router.SendRequest(ctx, &wire.Request{
		Action:  wire.ActionRefreshToken,
		Payload: map[string]string{"token": token},
	}, 0, "")
	if err != nil {
		m.logger.Log(log.Error("token refresh request failed, will retry", err))
		m.armRenewTimer(m.config.RenewRetryDelay)
		return
	}

	var renewed struct {
		TokenExpiration json.Number `json:"tokenExpiration"`
	}
	if len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, &renewed); err == nil && renewed.TokenExpiration != "" {
			if secs, err := renewed.TokenExpiration.Int64(); err == nil {
				m.scheduleRenewal(time.Unix(secs, 0))
				return
			}
		}
	}
	// No usable expiration in the response; renew again after the
	// retry delay rather than going dark.
	m.armRenewTimer(m.config.RenewRetryDelay)
}

// clearAuth abandons an in-flight handshake wait.
func (m *Manager) clearAuth() {
	m.mu.Lock()
	m.authCh = nil
	m.mu.Unlock()
}

// setState transitions the state and notifies observers.
func (m *Manager) setState(newState State) {
	m.mu.Lock()
	oldState := m.state
	if oldState == newState {
		m.mu.Unlock()
		return
	}
	m.state = newState
	fn := m.onStateChange
	m.mu.Unlock()

	m.logger.Log(log.StateChange(oldState.String(), newState.String()))
	if fn != nil {
		fn(oldState, newState)
	}
}
