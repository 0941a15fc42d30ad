package oauthflow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teemow/inboxagent/internal/tokens"
)

const minStateKeyLength = 32

// ErrStateMalformed is returned for a state that fails shape or signature checks.
var ErrStateMalformed = errors.New("authorization state is malformed")

// State is the payload carried through the provider redirect.
type State struct {
	Token  string `json:"t"`
	UserID string `json:"u"`
	// Service selects the scopes requested at the provider.
	Service  tokens.Service `json:"s"`
	IssuedAt int64          `json:"iat"`
}

// StateCodec signs and verifies state values as
// base64url(json) + "." + base64url(HMAC-SHA256(json)).
type StateCodec struct {
	key []byte
	now func() time.Time
}

// NewStateCodec requires a key of at least 32 bytes.
func NewStateCodec(key []byte) (*StateCodec, error) {
	if len(key) < minStateKeyLength {
		return nil, fmt.Errorf("state signing key must be at least %d bytes, got %d", minStateKeyLength, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &StateCodec{key: k, now: time.Now}, nil
}

// Encode signs a state for token, userID and the service whose scopes are
// requested.
func (c *StateCodec) Encode(token, userID string, service tokens.Service) (string, error) {
	if token == "" || userID == "" {
		return "", fmt.Errorf("state requires token and user id")
	}
	if _, ok := tokens.ParseService(string(service)); !ok {
		return "", fmt.Errorf("state requires a known service, got %q", service)
	}
	payload, err := json.Marshal(State{Token: token, UserID: userID, Service: service, IssuedAt: c.now().Unix()})
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString(c.sign(payload)), nil
}

// Decode verifies and parses a state. Every failure is ErrStateMalformed.
func (c *StateCodec) Decode(raw string) (*State, error) {
	body, sig, ok := strings.Cut(raw, ".")
	if !ok || body == "" || sig == "" || strings.Contains(sig, ".") {
		return nil, ErrStateMalformed
	}

	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, ErrStateMalformed
	}
	mac, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, ErrStateMalformed
	}
	if !hmac.Equal(mac, c.sign(payload)) {
		return nil, ErrStateMalformed
	}

	var st State
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, ErrStateMalformed
	}
	if st.Token == "" || st.UserID == "" || st.IssuedAt <= 0 {
		return nil, ErrStateMalformed
	}
	service, ok := tokens.ParseService(string(st.Service))
	if !ok {
		return nil, ErrStateMalformed
	}
	st.Service = service
	return &st, nil
}

func (c *StateCodec) sign(payload []byte) []byte {
	h := hmac.New(sha256.New, c.key)
	h.Write(payload)
	return h.Sum(nil)
}
