package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Authentication errors.
var (
	ErrNoCredentials = errors.New("client id and secret are required")
	ErrTokenRejected = errors.New("token request rejected")
)

// DefaultRequestTimeout bounds a single token request.
const DefaultRequestTimeout = 30 * time.Second

// TokenProvider returns a bearer token for the given authentication
// domain. It is invoked on every connect and renewal.
type TokenProvider func(ctx context.Context, domain string) (string, error)

// StaticToken returns a provider that always yields the given token.
// Useful for short-lived tools and tests; tokens obtained this way are
// not renewable.
func StaticToken(token string) TokenProvider {
	return func(context.Context, string) (string, error) {
		return token, nil
	}
}

// HTTPProvider fetches tokens from the authentication server using
// the OAuth2 client-credentials grant.
type HTTPProvider struct {
	// ClientID and ClientSecret are the integration credentials.
	ClientID     string
	ClientSecret string

	// Endpoint overrides the token endpoint URL. When empty it is
	// derived from the domain passed to Token.
	Endpoint string

	// Client is the HTTP client to use (default: one with
	// DefaultRequestTimeout).
	Client *http.Client
}

// tokenResponse is the token endpoint's success body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Token performs the client-credentials grant and returns the access
// token. It satisfies TokenProvider via (*HTTPProvider).Provider.
func (p *HTTPProvider) Token(ctx context.Context, domain string) (string, error) {
	if p.ClientID == "" || p.ClientSecret == "" {
		return "", ErrNoCredentials
	}

	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s/connect/token", domain)
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", p.ClientID)
	form.Set("client_secret", p.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultRequestTimeout}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrTokenRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("malformed token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrTokenRejected)
	}
	return tok.AccessToken, nil
}

// Provider returns the provider's Token method as a TokenProvider.
func (p *HTTPProvider) Provider() TokenProvider {
	return p.Token
}
