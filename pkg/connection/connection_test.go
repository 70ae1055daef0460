package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/noccela/ncc-cloud-integration-go/pkg/correlate"
	"github.com/noccela/ncc-cloud-integration-go/pkg/transport"
	"github.com/noccela/ncc-cloud-integration-go/pkg/wire"
)

const authOKFrame = `{"uniqueId":"","action":"connectionOk","tokenExpiration":1700003600,"tokenIssued":1700000000}`

// fakeConn is an in-memory transport.Conn. The dialer's onFirst hook
// runs in a goroutine after the first Send, standing in for the
// service's reaction to the token frame.
type fakeConn struct {
	mu      sync.Mutex
	events  transport.Events
	sent    [][]byte
	idx     int
	closed  bool
	fired   bool
	onFirst func(*fakeConn)
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrConnectionClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.sent = append(c.sent, buf)
	fire := !c.fired && c.onFirst != nil
	c.fired = true
	c.mu.Unlock()

	if fire {
		go c.onFirst(c)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	events := c.events
	c.mu.Unlock()

	if events.OnClose != nil {
		events.OnClose(transport.CloseNormal, "closed by client")
	}
	return nil
}

func (c *fakeConn) push(data []byte) {
	c.events.OnMessage(data)
}

func (c *fakeConn) remoteClose(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.events.OnClose(code, reason)
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	failNext int
	onFirst  func(*fakeConn)
}

func (d *fakeDialer) Dial(_ context.Context, _ string, events transport.Events) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failNext > 0 {
		d.failNext--
		return nil, errors.New("dial refused")
	}
	c := &fakeConn{events: events, onFirst: d.onFirst, idx: len(d.conns)}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) at(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// fakeRouter records attach/detach and routed traffic.
type fakeRouter struct {
	mu       sync.Mutex
	attached int
	detached []error
	messages [][]byte
	requests []*wire.Request
}

func (r *fakeRouter) Attach(correlate.Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attached++
}

func (r *fakeRouter) Detach(cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detached = append(r.detached, cause)
}

func (r *fakeRouter) HandleMessage(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, data)
}

func (r *fakeRouter) SendRequest(_ context.Context, req *wire.Request, _ time.Duration, _ string) (*wire.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return &wire.Response{Action: req.Action, Status: wire.StatusOK}, nil
}

func (r *fakeRouter) requestActions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.requests))
	for i, req := range r.requests {
		out[i] = req.Action
	}
	return out
}

func authAccept(c *fakeConn) {
	c.push([]byte(authOKFrame))
}

func staticToken(token string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) {
		return token, nil
	}
}

func newTestManager(t *testing.T, dialer *fakeDialer, configure func(*Config)) (*Manager, *fakeRouter) {
	t.Helper()
	router := &fakeRouter{}
	config := Config{
		Address: "wss://test.invalid/ws",
		Domain:  "test.invalid",
		Token:   staticToken("token-1"),
		Dialer:  dialer,
		Backoff: BackoffConfig{Min: 5 * time.Millisecond, Max: 20 * time.Millisecond, Increase: 5 * time.Millisecond},
	}
	if configure != nil {
		configure(&config)
	}
	m := New(config, router)
	t.Cleanup(m.Close)
	return m, router
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBackoffSequence(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{
		Min:      1000 * time.Millisecond,
		Max:      5000 * time.Millisecond,
		Increase: 500 * time.Millisecond,
	})

	want := []time.Duration{
		1000 * time.Millisecond,
		1500 * time.Millisecond,
		2000 * time.Millisecond,
		2500 * time.Millisecond,
		3000 * time.Millisecond,
		3500 * time.Millisecond,
		4000 * time.Millisecond,
		4500 * time.Millisecond,
		5000 * time.Millisecond,
		5000 * time.Millisecond,
		5000 * time.Millisecond,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("delay %d = %s, want %s", i, got, w)
		}
	}
	if b.Attempts() != len(want) {
		t.Errorf("attempts = %d, want %d", b.Attempts(), len(want))
	}

	b.Reset()
	if got := b.Next(); got != 1000*time.Millisecond {
		t.Errorf("delay after reset = %s, want 1s", got)
	}
	if b.Attempts() != 1 {
		t.Errorf("attempts after reset = %d, want 1", b.Attempts())
	}
}

func TestBackoffDefaults(t *testing.T) {
	b := NewBackoff()
	if got := b.Peek(); got != DefaultMinBackoff {
		t.Errorf("initial delay = %s, want %s", got, DefaultMinBackoff)
	}
	b.Next()
	if got := b.Peek(); got != DefaultMinBackoff+DefaultBackoffIncrease {
		t.Errorf("second delay = %s", got)
	}
}

func TestBackoffMaxNeverBelowMin(t *testing.T) {
	// Min above the default max with Max unset: the cap rises to Min
	// instead of shrinking the delay after the first step
	b := NewBackoffWithConfig(BackoffConfig{Min: 60 * time.Second})

	prev := b.Next()
	for i := 0; i < 5; i++ {
		next := b.Next()
		if next < prev {
			t.Fatalf("delay decreased between failures: %s -> %s", prev, next)
		}
		prev = next
	}
	if prev != 60*time.Second {
		t.Errorf("delay = %s, want it pinned at 60s", prev)
	}
}

func TestConnectHandshake(t *testing.T) {
	dialer := &fakeDialer{onFirst: authAccept}
	m, router := newTestManager(t, dialer, nil)

	info, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := info.Issued.Unix(); got != 1700000000 {
		t.Errorf("issued = %d, want 1700000000", got)
	}
	if got := info.Expires.Unix(); got != 1700003600 {
		t.Errorf("expires = %d, want 1700003600", got)
	}
	if m.State() != StateReady {
		t.Errorf("state = %s, want READY", m.State())
	}

	conn := dialer.last()
	if conn.sentCount() != 1 {
		t.Fatalf("sent %d frames during handshake, want 1", conn.sentCount())
	}
	// The token goes out raw, not JSON-wrapped
	if got := string(conn.sent[0]); got != "token-1" {
		t.Errorf("first frame = %q, want raw token", got)
	}

	router.mu.Lock()
	defer router.mu.Unlock()
	if router.attached != 1 {
		t.Errorf("router attached %d times, want 1", router.attached)
	}
}

func TestConnectHandshakeFailures(t *testing.T) {
	t.Run("UnexpectedFirstMessage", func(t *testing.T) {
		dialer := &fakeDialer{onFirst: func(c *fakeConn) {
			c.push([]byte(`{"action":"somethingElse"}`))
		}}
		m, _ := newTestManager(t, dialer, nil)

		_, err := m.Connect(context.Background())
		var hsErr *HandshakeError
		if !errors.As(err, &hsErr) {
			t.Fatalf("error = %v, want HandshakeError", err)
		}
		if !errors.Is(err, wire.ErrNotAuthResponse) {
			t.Errorf("cause = %v, want ErrNotAuthResponse", hsErr.Cause)
		}
		if m.State() != StateDisconnected {
			t.Errorf("state = %s, want DISCONNECTED", m.State())
		}
	})

	t.Run("ClosedBeforeResponse", func(t *testing.T) {
		dialer := &fakeDialer{onFirst: func(c *fakeConn) {
			c.remoteClose(4001, "invalid token")
		}}
		m, _ := newTestManager(t, dialer, nil)

		_, err := m.Connect(context.Background())
		var hsErr *HandshakeError
		if !errors.As(err, &hsErr) {
			t.Fatalf("error = %v, want HandshakeError", err)
		}
		if hsErr.Code != 4001 || hsErr.Reason != "invalid token" {
			t.Errorf("closure details = %d %q, want 4001 %q", hsErr.Code, hsErr.Reason, "invalid token")
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		dialer := &fakeDialer{} // never answers
		m, _ := newTestManager(t, dialer, func(c *Config) {
			c.HandshakeTimeout = 20 * time.Millisecond
		})

		_, err := m.Connect(context.Background())
		if !errors.Is(err, ErrHandshakeTimeout) {
			t.Fatalf("error = %v, want ErrHandshakeTimeout", err)
		}
	})

	t.Run("DialRefused", func(t *testing.T) {
		dialer := &fakeDialer{failNext: 1}
		m, _ := newTestManager(t, dialer, nil)

		if _, err := m.Connect(context.Background()); err == nil {
			t.Fatal("expected dial error")
		}
		if m.State() != StateDisconnected {
			t.Errorf("state = %s, want DISCONNECTED", m.State())
		}
	})
}

func TestConnectAlreadyConnected(t *testing.T) {
	dialer := &fakeDialer{onFirst: authAccept}
	m, _ := newTestManager(t, dialer, nil)

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := m.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("second Connect error = %v, want ErrAlreadyConnected", err)
	}
}

func TestMessagesRoutedAfterHandshake(t *testing.T) {
	dialer := &fakeDialer{onFirst: authAccept}
	m, router := newTestManager(t, dialer, nil)

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	dialer.last().push([]byte(`{"uniqueId":"abc","action":"x","status":"ok"}`))

	router.mu.Lock()
	defer router.mu.Unlock()
	if len(router.messages) != 1 {
		t.Fatalf("router saw %d messages, want 1", len(router.messages))
	}
}

func TestUnexpectedClosureReconnects(t *testing.T) {
	dialer := &fakeDialer{onFirst: authAccept}
	reconnected := make(chan struct{}, 1)

	m, router := newTestManager(t, dialer, func(c *Config) {
		c.AutoReconnect = true
	})
	m.OnReconnected(func() { reconnected <- struct{}{} })

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	dialer.last().remoteClose(transport.CloseAbnormal, "network gone")

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect hook not invoked")
	}

	if dialer.dialCount() != 2 {
		t.Errorf("dial count = %d, want 2", dialer.dialCount())
	}
	waitFor(t, func() bool { return m.State() == StateReady }, "state never returned to READY")

	router.mu.Lock()
	detached := len(router.detached)
	cause := router.detached[0]
	router.mu.Unlock()
	if detached != 1 {
		t.Errorf("router detached %d times, want 1", detached)
	}
	if !errors.Is(cause, transport.ErrConnectionClosed) {
		t.Errorf("detach cause = %v", cause)
	}
	if got := m.backoff.Attempts(); got != 0 {
		t.Errorf("backoff attempts after recovery = %d, want 0", got)
	}
}

func TestReconnectHookNotOnFirstConnect(t *testing.T) {
	dialer := &fakeDialer{onFirst: authAccept}
	hookCalls := make(chan struct{}, 1)

	m, _ := newTestManager(t, dialer, nil)
	m.OnReconnected(func() { hookCalls <- struct{}{} })

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case <-hookCalls:
		t.Fatal("reconnect hook fired on first connect")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReconnectRetriesThroughFailures(t *testing.T) {
	dialer := &fakeDialer{onFirst: authAccept}
	reconnected := make(chan struct{}, 1)

	m, _ := newTestManager(t, dialer, func(c *Config) {
		c.AutoReconnect = true
	})
	m.OnReconnected(func() { reconnected <- struct{}{} })

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Two refused dials before the retry that succeeds
	dialer.mu.Lock()
	dialer.failNext = 2
	dialer.mu.Unlock()

	dialer.last().remoteClose(transport.CloseAbnormal, "network gone")

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect hook not invoked")
	}
	waitFor(t, func() bool { return m.State() == StateReady }, "state never returned to READY")
}

func TestStaleCloseFromSupersededConnection(t *testing.T) {
	// The second dial's handshake is rejected, leaving an abandoned
	// connection behind; the third succeeds.
	dialer := &fakeDialer{}
	dialer.onFirst = func(c *fakeConn) {
		if c.idx == 1 {
			c.push([]byte(`{"action":"nope"}`))
			return
		}
		authAccept(c)
	}
	reconnected := make(chan struct{}, 1)

	m, router := newTestManager(t, dialer, func(c *Config) {
		c.AutoReconnect = true
	})
	m.OnReconnected(func() { reconnected <- struct{}{} })

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	dialer.last().remoteClose(transport.CloseAbnormal, "network gone")

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect hook not invoked")
	}
	waitFor(t, func() bool { return m.State() == StateReady }, "state never returned to READY")
	if dialer.dialCount() != 3 {
		t.Fatalf("dial count = %d, want 3", dialer.dialCount())
	}

	// The abandoned connection's close event arrives late, after the
	// healthy connection is live. It must not touch it.
	dialer.at(1).events.OnClose(transport.CloseAbnormal, "stale close")

	time.Sleep(50 * time.Millisecond)
	if m.State() != StateReady {
		t.Errorf("state = %s after stale close, want READY", m.State())
	}
	if dialer.dialCount() != 3 {
		t.Errorf("dial count after stale close = %d, want 3", dialer.dialCount())
	}

	router.mu.Lock()
	detached := len(router.detached)
	router.mu.Unlock()
	if detached != 1 {
		t.Errorf("router detached %d times, want 1 (stale close must not detach)", detached)
	}
}

func TestCloseSuppressesReconnect(t *testing.T) {
	dialer := &fakeDialer{onFirst: authAccept}
	m, router := newTestManager(t, dialer, func(c *Config) {
		c.AutoReconnect = true
	})

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	m.Close()
	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}

	time.Sleep(50 * time.Millisecond)
	if dialer.dialCount() != 1 {
		t.Errorf("dial count after close = %d, want 1", dialer.dialCount())
	}

	router.mu.Lock()
	gotDetach := len(router.detached) > 0 && errors.Is(router.detached[0], ErrManagerClosed)
	router.mu.Unlock()
	if !gotDetach {
		t.Error("router not detached with ErrManagerClosed")
	}

	// Idempotent
	m.Close()

	if _, err := m.Connect(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Connect after Close = %v, want ErrManagerClosed", err)
	}
}

func TestCloseCancelsScheduledReconnect(t *testing.T) {
	dialer := &fakeDialer{onFirst: authAccept}
	m, _ := newTestManager(t, dialer, func(c *Config) {
		c.AutoReconnect = true
		c.Backoff = BackoffConfig{Min: time.Hour, Max: time.Hour, Increase: time.Hour}
	})

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	dialer.last().remoteClose(transport.CloseAbnormal, "network gone")
	if m.State() != StateReconnecting {
		t.Fatalf("state = %s, want RECONNECTING", m.State())
	}

	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on scheduled reconnect")
	}
	if m.State() != StateDisconnected {
		t.Errorf("state = %s, want DISCONNECTED", m.State())
	}
}

func TestTokenRenewal(t *testing.T) {
	// Token timestamps are far in the past, so the renewal timer fires
	// immediately after connect
	dialer := &fakeDialer{onFirst: authAccept}

	var tokenMu sync.Mutex
	var tokenCalls int

	m, router := newTestManager(t, dialer, func(c *Config) {
		c.RenewToken = true
		c.Token = func(context.Context, string) (string, error) {
			tokenMu.Lock()
			defer tokenMu.Unlock()
			tokenCalls++
			return "token-renewed", nil
		}
	})

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitFor(t, func() bool {
		for _, action := range router.requestActions() {
			if action == wire.ActionRefreshToken {
				return true
			}
		}
		return false
	}, "refreshToken request never sent")

	tokenMu.Lock()
	calls := tokenCalls
	tokenMu.Unlock()
	if calls < 2 {
		t.Errorf("token provider called %d times, want at least 2 (connect + renewal)", calls)
	}
}

func TestStateChangeCallback(t *testing.T) {
	dialer := &fakeDialer{onFirst: authAccept}
	m, _ := newTestManager(t, dialer, nil)

	var mu sync.Mutex
	var transitions []State
	m.OnStateChange(func(_, newState State) {
		mu.Lock()
		transitions = append(transitions, newState)
		mu.Unlock()
	})

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateAuthenticating, StateReady}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i, s := range want {
		if transitions[i] != s {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], s)
		}
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateDisconnected:   "DISCONNECTED",
		StateConnecting:     "CONNECTING",
		StateAuthenticating: "AUTHENTICATING",
		StateReady:          "READY",
		StateClosing:        "CLOSING",
		StateReconnecting:   "RECONNECTING",
		State(99):           "UNKNOWN",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("State(%d).String() = %s, want %s", s, s.String(), want)
		}
	}
}
