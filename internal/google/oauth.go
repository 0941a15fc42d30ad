package google

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/teemow/inboxagent/internal/tokens"
)

// DefaultExchangeTimeout bounds a single authorization code exchange.
const DefaultExchangeTimeout = 15 * time.Second

// OAuthConfig holds the Google OAuth client registration.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	// RedirectURL is the absolute URL of the callback endpoint.
	RedirectURL string
	// Endpoint overrides Google's endpoint, mainly for tests.
	Endpoint *oauth2.Endpoint
	// HTTPClient is used for token requests when set.
	HTTPClient *http.Client
}

// OAuthClient builds consent URLs and exchanges codes for one client registration.
type OAuthClient struct {
	cfg      OAuthConfig
	endpoint oauth2.Endpoint
}

// NewOAuthClient validates the configuration and returns a client.
func NewOAuthClient(cfg OAuthConfig) (*OAuthClient, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("google client id is required")
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("google client secret is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("google redirect url is required")
	}

	endpoint := googleoauth.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	return &OAuthClient{cfg: cfg, endpoint: endpoint}, nil
}

// Config returns the oauth2 configuration carrying the scopes of service.
func (c *OAuthClient) Config(service tokens.Service) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint:     c.endpoint,
		RedirectURL:  c.cfg.RedirectURL,
		Scopes:       ScopesFor(service),
	}
}

// AuthCodeURL returns the consent URL. Offline access and a forced consent
// prompt make Google return a refresh token every time.
func (c *OAuthClient) AuthCodeURL(state string, service tokens.Service) string {
	return c.Config(service).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// Exchange trades an authorization code for a token.
func (c *OAuthClient) Exchange(ctx context.Context, code string, service tokens.Service) (*oauth2.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is empty")
	}
	if c.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.cfg.HTTPClient)
	}
	tok, err := c.Config(service).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}

// TokenSource returns a refreshing token source for a stored credential.
func (c *OAuthClient) TokenSource(ctx context.Context, service tokens.Service, tok *oauth2.Token) oauth2.TokenSource {
	if c.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.cfg.HTTPClient)
	}
	return c.Config(service).TokenSource(ctx, tok)
}
