package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/noccela/ncc-cloud-integration-go/pkg/connection"
	"github.com/noccela/ncc-cloud-integration-go/pkg/correlate"
	"github.com/noccela/ncc-cloud-integration-go/pkg/filter"
	"github.com/noccela/ncc-cloud-integration-go/pkg/log"
	"github.com/noccela/ncc-cloud-integration-go/pkg/subscription"
	"github.com/noccela/ncc-cloud-integration-go/pkg/wire"
)

// Client is a resilient connection to the cloud service with typed
// subscription helpers. Create one with New, open it with Connect and
// release it with Close.
type Client struct {
	config Config
	logger log.Logger

	correlator *correlate.Correlator
	registry   *subscription.Registry
	manager    *connection.Manager

	closeOnce sync.Once
}

// New assembles a client from the configuration. It validates the
// mandatory fields but does not open a connection.
func New(config Config) (*Client, error) {
	token, err := config.validate()
	if err != nil {
		return nil, err
	}

	domain := config.Domain
	if domain == "" {
		u, err := url.Parse(config.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", config.Address, err)
		}
		domain = u.Host
	}

	correlator := correlate.New(correlate.Config{
		DefaultTimeout: config.RequestTimeout,
		Logger:         config.Logger,
	})

	subConfig := subscription.DefaultConfig()
	subConfig.Logger = config.Logger
	if config.Reregister.Delay > 0 {
		subConfig.ReregisterDelay = config.Reregister.Delay
	}
	if config.Reregister.MaxAttempts > 0 {
		subConfig.MaxReregisterAttempts = config.Reregister.MaxAttempts
	} else if config.Reregister.MaxAttempts < 0 {
		// Negative means retry forever
		subConfig.MaxReregisterAttempts = 0
	}
	registry := subscription.New(subConfig, correlator)

	manager := connection.New(connection.Config{
		Address:       config.Address,
		Domain:        domain,
		Token:         token,
		Dialer:        config.Dialer,
		AutoReconnect: config.AutoReconnect,
		Backoff: connection.BackoffConfig{
			Min:      config.Backoff.Min,
			Max:      config.Backoff.Max,
			Increase: config.Backoff.Increase,
		},
		HandshakeTimeout: config.HandshakeTimeout,
		RenewToken:       config.RenewToken,
		Logger:           config.Logger,
	}, correlator)

	c := &Client{
		config:     config,
		logger:     log.OrNoop(config.Logger),
		correlator: correlator,
		registry:   registry,
		manager:    manager,
	}

	manager.OnReconnected(func() {
		registry.ReregisterAll(context.Background())
	})

	return c, nil
}

// Connect dials and authenticates. It blocks until the handshake
// completes or fails and returns the accepted token's timestamps.
func (c *Client) Connect(ctx context.Context) (*connection.TokenInfo, error) {
	return c.manager.Connect(ctx)
}

// Close shuts the client down: the connection is closed, pending
// requests fail, and all subscriptions are dropped. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.manager.Close()
		c.registry.Clear()
		c.correlator.Close()
	})
}

// State returns the connection lifecycle state.
func (c *Client) State() connection.State {
	return c.manager.State()
}

// Connected reports whether the connection is ready for requests.
func (c *Client) Connected() bool {
	return c.manager.Connected()
}

// OnStateChange sets a callback invoked after every connection state
// transition.
func (c *Client) OnStateChange(fn func(oldState, newState connection.State)) {
	c.manager.OnStateChange(fn)
}

// SendRaw sends an arbitrary request and waits for its response. Most
// callers want the typed helpers instead.
func (c *Client) SendRaw(ctx context.Context, req *wire.Request, timeout time.Duration) (*wire.Response, error) {
	return c.correlator.SendRequest(ctx, req, timeout, "")
}

// RegisterLocationUpdate subscribes to live location updates. An empty
// deviceIDs slice delivers every device on the site.
func (c *Client) RegisterLocationUpdate(ctx context.Context, deviceIDs []int64, callback func(map[int64]*wire.TagLocation)) (string, error) {
	return c.registry.Register(ctx, filter.EventLocationUpdate, specFor(deviceIDs), func(payload any) {
		if updates, ok := payload.(map[int64]*wire.TagLocation); ok {
			callback(updates)
		}
	}, "")
}

// RegisterTagDiff subscribes to incremental tag state changes.
func (c *Client) RegisterTagDiff(ctx context.Context, deviceIDs []int64, callback func(*wire.TagDiff)) (string, error) {
	return c.registry.Register(ctx, filter.EventTagDiff, specFor(deviceIDs), func(payload any) {
		if diff, ok := payload.(*wire.TagDiff); ok {
			callback(diff)
		}
	}, "")
}

// RegisterAlertDiff subscribes to incremental alert changes.
func (c *Client) RegisterAlertDiff(ctx context.Context, deviceIDs []int64, callback func(*wire.AlertDiff)) (string, error) {
	return c.registry.Register(ctx, filter.EventAlertDiff, specFor(deviceIDs), func(payload any) {
		if diff, ok := payload.(*wire.AlertDiff); ok {
			callback(diff)
		}
	}, "")
}

// RegisterTwr subscribes to raw two-way-ranging measurements. The
// device list is mandatory for this stream.
func (c *Client) RegisterTwr(ctx context.Context, deviceIDs []int64, callback func([]wire.TwrSample)) (string, error) {
	return c.registry.Register(ctx, filter.EventTwrData, specFor(deviceIDs), func(payload any) {
		if samples, ok := payload.([]wire.TwrSample); ok {
			callback(samples)
		}
	}, "")
}

// GetTagState fetches the current state of the site's tags once.
func (c *Client) GetTagState(ctx context.Context, deviceIDs []int64) (map[int64]*wire.TagState, error) {
	var out map[int64]*wire.TagState
	id, err := c.registry.Register(ctx, filter.EventTagState, specFor(deviceIDs), func(payload any) {
		out, _ = payload.(map[int64]*wire.TagState)
	}, "")
	if err != nil {
		return nil, err
	}
	// A point-in-time fetch has nothing to replay
	c.registry.Unregister(ctx, id)
	if out == nil {
		out = map[int64]*wire.TagState{}
	}
	return out, nil
}

// GetAlertState fetches the currently active alerts once.
func (c *Client) GetAlertState(ctx context.Context, deviceIDs []int64) (map[int64]*wire.AlertState, error) {
	var out map[int64]*wire.AlertState
	id, err := c.registry.Register(ctx, filter.EventAlertState, specFor(deviceIDs), func(payload any) {
		out, _ = payload.(map[int64]*wire.AlertState)
	}, "")
	if err != nil {
		return nil, err
	}
	c.registry.Unregister(ctx, id)
	if out == nil {
		out = map[int64]*wire.AlertState{}
	}
	return out, nil
}

// Unregister removes a subscription made through one of the Register
// helpers. It returns false when the id is unknown.
func (c *Client) Unregister(ctx context.Context, correlationID string) bool {
	return c.registry.Unregister(ctx, correlationID)
}

// Subscriptions returns the number of stored subscriptions.
func (c *Client) Subscriptions() int {
	return c.registry.Count()
}

func specFor(deviceIDs []int64) filter.Spec {
	if len(deviceIDs) == 0 {
		return filter.Spec{}
	}
	return filter.Spec{filter.KeyDeviceIDs: deviceIDs}
}
