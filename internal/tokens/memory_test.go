package tokens

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, opts ...MemoryOption) *MemoryStore {
	t.Helper()
	s := NewMemoryStore(0, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoryStore_IssueAndConsume(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tok, err := s.Issue(ctx, "user-1", ServiceGmail)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)
	assert.Equal(t, "user-1", tok.UserID)
	assert.Equal(t, ServiceGmail, tok.Service)
	assert.False(t, tok.Used)
	assert.False(t, tok.IssuedAt.IsZero())

	grant, err := s.ValidateAndConsume(ctx, tok.Token)
	require.NoError(t, err)
	assert.Equal(t, &Grant{UserID: "user-1", Service: ServiceGmail}, grant)
}

func TestMemoryStore_IssueRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Issue(ctx, "", ServiceGmail)
	assert.Error(t, err)

	_, err = s.Issue(ctx, "user-1", Service("dropbox"))
	assert.Error(t, err)
}

func TestMemoryStore_TokensAreUnique(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		tok, err := s.Issue(ctx, "user-1", ServiceCalendar)
		require.NoError(t, err)
		require.False(t, seen[tok.Token], "duplicate token issued")
		seen[tok.Token] = true
		// 32 random bytes base64url encoded without padding
		assert.Len(t, tok.Token, 43)
	}
	assert.Equal(t, 500, s.Len())
}

func TestMemoryStore_UnknownToken(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ValidateAndConsume(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = s.ValidateAndConsume(context.Background(), "")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestMemoryStore_Replay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tok, err := s.Issue(ctx, "user-1", ServiceGmail)
	require.NoError(t, err)

	_, err = s.ValidateAndConsume(ctx, tok.Token)
	require.NoError(t, err)

	_, err = s.ValidateAndConsume(ctx, tok.Token)
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)
	assert.NotContains(t, err.Error(), tok.Token)
}

func TestMemoryStore_ExpiredTokenIsNotFoundBeforeSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now), WithTTL(15*time.Minute))

	tok, err := s.Issue(ctx, "user-1", ServiceGmail)
	require.NoError(t, err)

	clock.Advance(16 * time.Minute)

	_, err = s.ValidateAndConsume(ctx, tok.Token)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_TombstoneRetention(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now), WithUsedRetention(5*time.Minute))

	tok, err := s.Issue(ctx, "user-1", ServiceGmail)
	require.NoError(t, err)
	_, err = s.ValidateAndConsume(ctx, tok.Token)
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	_, err = s.ValidateAndConsume(ctx, tok.Token)
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)

	clock.Advance(2 * time.Minute)
	_, err = s.ValidateAndConsume(ctx, tok.Token)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestMemoryStore_ExpireStale(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, WithClock(clock.Now))

	old, err := s.Issue(ctx, "user-1", ServiceGmail)
	require.NoError(t, err)
	used, err := s.Issue(ctx, "user-2", ServiceCalendar)
	require.NoError(t, err)
	_, err = s.ValidateAndConsume(ctx, used.Token)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	fresh, err := s.Issue(ctx, "user-3", ServiceGoogle)
	require.NoError(t, err)

	removed, err := s.ExpireStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.ValidateAndConsume(ctx, old.Token)
	assert.ErrorIs(t, err, ErrTokenNotFound)

	_, err = s.ValidateAndConsume(ctx, fresh.Token)
	assert.NoError(t, err)

	_, err = s.ExpireStale(ctx, 0)
	assert.Error(t, err)
}

func TestMemoryStore_ConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tok, err := s.Issue(ctx, "user-1", ServiceGmail)
	require.NoError(t, err)

	const workers = 64
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		replays   atomic.Int32
	)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.ValidateAndConsume(ctx, tok.Token)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrTokenAlreadyUsed):
				replays.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), replays.Load())
}

func TestMemoryStore_ConcurrentIssueAndConsume(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := s.Issue(ctx, "user-1", ServiceGmail)
			if !assert.NoError(t, err) {
				return
			}
			_, err = s.ValidateAndConsume(ctx, tok.Token)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestMemoryStore_SweeperRuns(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10*time.Millisecond, WithTTL(20*time.Millisecond))
	defer func() { _ = s.Close() }()

	_, err := s.Issue(ctx, "user-1", ServiceGmail)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
