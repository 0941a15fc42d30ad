package google

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/teemow/inboxagent/internal/logging"
	"github.com/teemow/inboxagent/internal/tokens"
)

// TokenSources hands out refreshing token sources for stored credentials.
// Refreshed tokens are written back to the store.
type TokenSources struct {
	oauth  *OAuthClient
	store  CredentialStore
	logger *slog.Logger
}

// NewTokenSources creates a TokenSources.
func NewTokenSources(oauth *OAuthClient, store CredentialStore, logger *slog.Logger) *TokenSources {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenSources{oauth: oauth, store: store, logger: logger}
}

// TokenSource returns a token source for the user's credential covering service.
func (s *TokenSources) TokenSource(ctx context.Context, userID string, service tokens.Service) (oauth2.TokenSource, error) {
	tok, err := s.store.Credentials(ctx, userID, service)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return &persistingSource{
		ctx:     ctx,
		base:    oauth2.ReuseTokenSource(tok, s.oauth.TokenSource(ctx, service, tok)),
		last:    tok.AccessToken,
		userID:  userID,
		service: service,
		store:   s.store,
		logger:  s.logger,
	}, nil
}

type persistingSource struct {
	ctx     context.Context
	base    oauth2.TokenSource
	userID  string
	service tokens.Service
	store   CredentialStore
	logger  *slog.Logger

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken == p.last {
		return tok, nil
	}
	p.last = tok.AccessToken

	if err := p.store.StoreCredentials(p.ctx, p.userID, p.service, tok); err != nil {
		p.logger.Warn("Failed to persist refreshed credentials",
			logging.UserHash(p.userID),
			logging.Service(string(p.service)),
			logging.Err(err))
	}
	return tok, nil
}
