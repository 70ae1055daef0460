package client

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/noccela/ncc-cloud-integration-go/pkg/auth"
	"github.com/noccela/ncc-cloud-integration-go/pkg/log"
	"github.com/noccela/ncc-cloud-integration-go/pkg/transport"
)

// Configuration errors.
var (
	ErrNoAddress     = errors.New("service address is required")
	ErrNoCredentials = errors.New("either a token provider or client credentials are required")
)

// BackoffSettings tunes reconnection delays.
type BackoffSettings struct {
	Min      time.Duration `yaml:"min"`
	Max      time.Duration `yaml:"max"`
	Increase time.Duration `yaml:"increase"`
}

// ReregisterSettings tunes subscription replay after a reconnect.
type ReregisterSettings struct {
	Delay       time.Duration `yaml:"delay"`
	MaxAttempts int           `yaml:"maxAttempts"`
}

// Config holds client configuration. The zero value is completed with
// defaults by New; only Address and credentials are mandatory.
type Config struct {
	// Address is the websocket URL of the cloud service.
	Address string `yaml:"address"`

	// Domain is the authentication domain. Defaults to the Address
	// host when empty.
	Domain string `yaml:"domain"`

	// ClientID and ClientSecret authenticate via the client
	// credentials grant. Ignored when Token is set.
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`

	// AuthEndpoint overrides the token endpoint URL.
	AuthEndpoint string `yaml:"authEndpoint"`

	// AutoReconnect re-establishes lost connections with backoff.
	AutoReconnect bool `yaml:"autoReconnect"`

	// RenewToken refreshes the access token before expiry.
	RenewToken bool `yaml:"renewToken"`

	// RequestTimeout is the default wait for a request's response.
	RequestTimeout time.Duration `yaml:"requestTimeout"`

	// HandshakeTimeout bounds the authentication handshake.
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`

	// Backoff tunes reconnection delays.
	Backoff BackoffSettings `yaml:"backoff"`

	// Reregister tunes subscription replay.
	Reregister ReregisterSettings `yaml:"reregister"`

	// Token overrides credential-based authentication with a custom
	// token provider.
	Token auth.TokenProvider `yaml:"-"`

	// Dialer overrides the websocket dialer.
	Dialer transport.Dialer `yaml:"-"`

	// Logger receives connection, message and subscription events.
	Logger log.Logger `yaml:"-"`
}

// DefaultConfig returns the default client configuration. Address and
// credentials must still be supplied.
func DefaultConfig() Config {
	return Config{
		AutoReconnect:  true,
		RenewToken:     true,
		RequestTimeout: 60 * time.Second,
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return config, nil
}

// validate checks the mandatory fields and resolves the token provider.
func (c *Config) validate() (auth.TokenProvider, error) {
	if c.Address == "" {
		return nil, ErrNoAddress
	}
	if c.Token != nil {
		return c.Token, nil
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return nil, ErrNoCredentials
	}
	provider := &auth.HTTPProvider{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     c.AuthEndpoint,
	}
	return provider.Token, nil
}
