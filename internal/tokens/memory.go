package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/teemow/inboxagent/internal/logging"
)

// MemoryStore is an in-process Store. Records live in a single map guarded by
// one mutex so Issue and ValidateAndConsume are atomic with respect to each other.
// State is lost on restart and is not shared between replicas.
type MemoryStore struct {
	mu            sync.Mutex
	tokens        map[string]*memoryRecord
	ttl           time.Duration
	usedRetention time.Duration
	now           func() time.Time
	logger        *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

type memoryRecord struct {
	token  AuthToken
	usedAt time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTTL sets the validity window of unconsumed tokens.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithUsedRetention sets how long consumed tokens are kept as tombstones.
func WithUsedRetention(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d >= 0 {
			s.usedRetention = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) MemoryOption {
	return func(s *MemoryStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewMemoryStore creates a MemoryStore and starts its background sweeper.
// A sweepInterval of zero or less disables the sweeper; call Close to stop it.
func NewMemoryStore(sweepInterval time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		tokens:        make(map[string]*memoryRecord),
		ttl:           DefaultTTL,
		usedRetention: DefaultUsedRetention,
		now:           time.Now,
		logger:        slog.Default(),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if sweepInterval > 0 {
		go s.sweep(sweepInterval)
	}

	return s
}

// Issue creates a new token. Collisions with a live token are re-drawn.
func (s *MemoryStore) Issue(_ context.Context, userID string, service Service) (*AuthToken, error) {
	if err := validateIssue(userID, service); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		value, err := generateToken()
		if err != nil {
			return nil, err
		}
		if _, exists := s.tokens[value]; exists {
			continue
		}

		rec := &memoryRecord{token: AuthToken{
			Token:    value,
			UserID:   userID,
			Service:  service,
			IssuedAt: s.now(),
		}}
		s.tokens[value] = rec

		s.logger.Debug("Issued auth token",
			logging.UserHash(userID),
			logging.Service(string(service)),
			slog.String("token", logging.SanitizeToken(value)))

		issued := rec.token
		return &issued, nil
	}
}

// ValidateAndConsume checks and marks the token used under a single lock.
func (s *MemoryStore) ValidateAndConsume(_ context.Context, token string) (*Grant, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[token]
	if !ok {
		return nil, ErrTokenNotFound
	}

	now := s.now()
	if rec.token.Used {
		if now.Sub(rec.usedAt) > s.usedRetention {
			delete(s.tokens, token)
			return nil, ErrTokenNotFound
		}
		return nil, ErrTokenAlreadyUsed
	}
	if now.Sub(rec.token.IssuedAt) > s.ttl {
		delete(s.tokens, token)
		return nil, ErrTokenNotFound
	}

	rec.token.Used = true
	rec.usedAt = now

	return &Grant{UserID: rec.token.UserID, Service: rec.token.Service}, nil
}

// ExpireStale removes unconsumed tokens older than maxAge. Consumed
// tombstones past their retention window are dropped as well but not counted.
func (s *MemoryStore) ExpireStale(_ context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("max age must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, rec := range s.tokens {
		switch {
		case rec.token.Used:
			if now.Sub(rec.usedAt) > s.usedRetention {
				delete(s.tokens, key)
			}
		case now.Sub(rec.token.IssuedAt) > maxAge:
			delete(s.tokens, key)
			removed++
		}
	}

	return removed, nil
}

// Len returns the number of records currently held, tombstones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Close stops the background sweeper. It is safe to call more than once.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			removed, err := s.ExpireStale(context.Background(), s.ttl)
			if err != nil {
				s.logger.Warn("Token sweep failed", logging.Err(err))
				continue
			}
			if removed > 0 {
				s.logger.Debug("Swept stale auth tokens", slog.Int("count", removed))
			}
		}
	}
}
