package tokens

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
)

func TestDecodeRecord(t *testing.T) {
	grant, err := decodeRecord(`{"token":"x","user_id":"user-1","service":"calendar","issued_at":"2026-01-01T00:00:00Z","used":false}`)
	require.NoError(t, err)
	assert.Equal(t, &Grant{UserID: "user-1", Service: ServiceCalendar}, grant)

	_, err = decodeRecord("not json")
	assert.Error(t, err)
}

func TestNewValkeyStoreDefaults(t *testing.T) {
	s := NewValkeyStore(nil, ValkeyConfig{})
	assert.Equal(t, defaultValkeyPrefix, s.prefix)
	assert.Equal(t, DefaultTTL, s.ttl)
	assert.Equal(t, DefaultUsedRetention, s.usedRetention)
	assert.Equal(t, defaultValkeyPrefix+"abc", s.key("abc"))

	n, err := s.ExpireStale(context.Background(), DefaultTTL)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

// newValkeyTestStore connects to VALKEY_TEST_ADDR or skips.
func newValkeyTestStore(t *testing.T) *ValkeyStore {
	t.Helper()
	addr := os.Getenv("VALKEY_TEST_ADDR")
	if addr == "" {
		t.Skip("VALKEY_TEST_ADDR not set")
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	require.NoError(t, err)
	s := NewValkeyStore(client, ValkeyConfig{Prefix: "inboxagent:test:" + t.Name() + ":"})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestValkeyStore_IssueAndConsume(t *testing.T) {
	ctx := context.Background()
	s := newValkeyTestStore(t)

	tok, err := s.Issue(ctx, "user-1", ServiceGmail)
	require.NoError(t, err)

	grant, err := s.ValidateAndConsume(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", grant.UserID)
	assert.Equal(t, ServiceGmail, grant.Service)

	_, err = s.ValidateAndConsume(ctx, tok.Token)
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)

	_, err = s.ValidateAndConsume(ctx, "unknown")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestValkeyStore_ConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	s := newValkeyTestStore(t)

	tok, err := s.Issue(ctx, "user-1", ServiceCalendar)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ValidateAndConsume(ctx, tok.Token)
			if err == nil {
				successes.Add(1)
				return
			}
			assert.True(t, errors.Is(err, ErrTokenAlreadyUsed))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), successes.Load())
}
