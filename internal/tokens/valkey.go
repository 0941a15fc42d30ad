package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/teemow/inboxagent/internal/logging"
)

const defaultValkeyPrefix = "inboxagent:authtoken:"

// consumeScript marks a token used in one server-side step.
// Returns 1 with the stored record on success, 0 when missing, -1 when already used.
var consumeScript = valkey.NewLuaScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
	return {0, ''}
end
local rec = cjson.decode(raw)
if rec.used then
	return {-1, ''}
end
rec.used = true
redis.call('SET', KEYS[1], cjson.encode(rec), 'PX', ARGV[1])
return {1, raw}
`)

// ValkeyStore is a Store backed by Valkey. Key expiry replaces the sweeper, so
// it works across replicas without any background goroutine.
type ValkeyStore struct {
	client        valkey.Client
	prefix        string
	ttl           time.Duration
	usedRetention time.Duration
	logger        *slog.Logger
}

// ValkeyConfig configures a ValkeyStore.
type ValkeyConfig struct {
	Prefix        string
	TTL           time.Duration
	UsedRetention time.Duration
	Logger        *slog.Logger
}

// NewValkeyStore wraps an existing client.
func NewValkeyStore(client valkey.Client, cfg ValkeyConfig) *ValkeyStore {
	s := &ValkeyStore{
		client:        client,
		prefix:        cfg.Prefix,
		ttl:           cfg.TTL,
		usedRetention: cfg.UsedRetention,
		logger:        cfg.Logger,
	}
	if s.prefix == "" {
		s.prefix = defaultValkeyPrefix
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.usedRetention <= 0 {
		s.usedRetention = DefaultUsedRetention
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *ValkeyStore) key(token string) string {
	return s.prefix + token
}

// Issue stores a new token with SET NX so a collision never overwrites a live record.
func (s *ValkeyStore) Issue(ctx context.Context, userID string, service Service) (*AuthToken, error) {
	if err := validateIssue(userID, service); err != nil {
		return nil, err
	}

	for {
		value, err := generateToken()
		if err != nil {
			return nil, err
		}

		tok := AuthToken{
			Token:    value,
			UserID:   userID,
			Service:  service,
			IssuedAt: time.Now(),
		}
		payload, err := json.Marshal(tok)
		if err != nil {
			return nil, fmt.Errorf("valkey token store: encode failed: %w", err)
		}

		cmd := s.client.B().Set().Key(s.key(value)).Value(string(payload)).Nx().
			PxMilliseconds(s.ttl.Milliseconds()).Build()
		err = s.client.Do(ctx, cmd).Error()
		if valkey.IsValkeyNil(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("valkey token store: issue failed: %w", err)
		}

		s.logger.Debug("Issued auth token",
			logging.UserHash(userID),
			logging.Service(string(service)),
			slog.String("token", logging.SanitizeToken(value)))

		return &tok, nil
	}
}

// ValidateAndConsume runs the consume script, which is atomic on the server.
func (s *ValkeyStore) ValidateAndConsume(ctx context.Context, token string) (*Grant, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}

	result, err := consumeScript.Exec(ctx, s.client,
		[]string{s.key(token)},
		[]string{strconv.FormatInt(s.usedRetention.Milliseconds(), 10)},
	).ToArray()
	if err != nil {
		return nil, fmt.Errorf("valkey token store: consume failed: %w", err)
	}

	return decodeConsumeResult(result)
}

func decodeConsumeResult(result []valkey.ValkeyMessage) (*Grant, error) {
	if len(result) != 2 {
		return nil, errors.New("valkey token store: unexpected result format")
	}

	status, err := result[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("valkey token store: unexpected status: %w", err)
	}

	switch status {
	case 0:
		return nil, ErrTokenNotFound
	case -1:
		return nil, ErrTokenAlreadyUsed
	}

	raw, err := result[1].ToString()
	if err != nil {
		return nil, fmt.Errorf("valkey token store: unexpected record: %w", err)
	}
	return decodeRecord(raw)
}

func decodeRecord(raw string) (*Grant, error) {
	var tok AuthToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("valkey token store: decode failed: %w", err)
	}
	return &Grant{UserID: tok.UserID, Service: tok.Service}, nil
}

// ExpireStale is a no-op; Valkey expires keys on its own.
func (s *ValkeyStore) ExpireStale(_ context.Context, _ time.Duration) (int, error) {
	return 0, nil
}

// Close closes the underlying client.
func (s *ValkeyStore) Close() error {
	s.client.Close()
	return nil
}
