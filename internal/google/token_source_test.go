package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/inboxagent/internal/tokens"
)

func TestTokenSources_RefreshesAndPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	client, err := NewOAuthClient(OAuthConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		RedirectURL:  "https://agent.example.com/auth/callback",
		Endpoint:     &oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	store := NewMemoryCredentialStore(nil)
	require.NoError(t, store.StoreCredentials(ctx, "alice", tokens.ServiceGmail, &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	ts, err := NewTokenSources(client, store, nil).TokenSource(ctx, "alice", tokens.ServiceGmail)
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)

	saved, err := store.Credentials(ctx, "alice", tokens.ServiceGmail)
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.Equal(t, "refresh", saved.RefreshToken)
}

func TestTokenSources_MissingCredentials(t *testing.T) {
	client, err := NewOAuthClient(OAuthConfig{ClientID: "id", ClientSecret: "s", RedirectURL: "https://x/cb"})
	require.NoError(t, err)

	_, err = NewTokenSources(client, NewMemoryCredentialStore(nil), nil).
		TokenSource(context.Background(), "bob", tokens.ServiceCalendar)
	assert.ErrorIs(t, err, ErrNoCredentials)
}
