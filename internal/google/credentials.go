package google

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/teemow/inboxagent/internal/tokens"
)

// ErrNoCredentials is returned when no credential covers the requested service.
var ErrNoCredentials = errors.New("no stored credentials for service")

// CredentialStore persists OAuth tokens per (user, service). A credential
// stored for the generic Google service covers gmail and calendar too.
type CredentialStore interface {
	HasCredentials(ctx context.Context, userID string, service tokens.Service) (bool, error)
	StoreCredentials(ctx context.Context, userID string, service tokens.Service, tok *oauth2.Token) error
	Credentials(ctx context.Context, userID string, service tokens.Service) (*oauth2.Token, error)
}

// lookupOrder lists the stored services that can satisfy want.
func lookupOrder(want tokens.Service) []tokens.Service {
	if want == tokens.ServiceGoogle {
		return []tokens.Service{tokens.ServiceGoogle}
	}
	return []tokens.Service{want, tokens.ServiceGoogle}
}

type credentialKey struct {
	userID  string
	service tokens.Service
}

// MemoryCredentialStore keeps credentials in process memory.
type MemoryCredentialStore struct {
	mu     sync.RWMutex
	tokens map[credentialKey]*oauth2.Token
	logger *slog.Logger
}

// NewMemoryCredentialStore creates an empty store.
func NewMemoryCredentialStore(logger *slog.Logger) *MemoryCredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryCredentialStore{
		tokens: make(map[credentialKey]*oauth2.Token),
		logger: logger,
	}
}

// HasCredentials implements CredentialStore.
func (s *MemoryCredentialStore) HasCredentials(ctx context.Context, userID string, service tokens.Service) (bool, error) {
	tok, err := s.Credentials(ctx, userID, service)
	if errors.Is(err, ErrNoCredentials) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return usable(tok), nil
}

// StoreCredentials implements CredentialStore. Storing replaces any previous token.
func (s *MemoryCredentialStore) StoreCredentials(_ context.Context, userID string, service tokens.Service, tok *oauth2.Token) error {
	if err := validateCredential(userID, tok); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *tok
	s.tokens[credentialKey{userID, service}] = &stored
	return nil
}

// Credentials implements CredentialStore.
func (s *MemoryCredentialStore) Credentials(_ context.Context, userID string, service tokens.Service) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, svc := range lookupOrder(service) {
		if tok, ok := s.tokens[credentialKey{userID, svc}]; ok {
			out := *tok
			return &out, nil
		}
	}
	return nil, ErrNoCredentials
}

// usable reports whether a token can still be used or refreshed.
func usable(tok *oauth2.Token) bool {
	return tok.RefreshToken != "" || tok.Valid()
}

func validateCredential(userID string, tok *oauth2.Token) error {
	if userID == "" {
		return errors.New("user id cannot be empty")
	}
	if tok == nil {
		return errors.New("token cannot be nil")
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return errors.New("token carries neither access nor refresh token")
	}
	return nil
}
