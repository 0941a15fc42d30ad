package oauthflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/inboxagent/internal/tokens"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestNewStateCodec_KeyLength(t *testing.T) {
	_, err := NewStateCodec([]byte("short"))
	require.Error(t, err)

	_, err = NewStateCodec(testKey)
	require.NoError(t, err)
}

func TestStateCodec_RoundTrip(t *testing.T) {
	codec, err := NewStateCodec(testKey)
	require.NoError(t, err)

	raw, err := codec.Encode("tok-123", "alice", tokens.ServiceCalendar)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(raw, "."))

	st, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", st.Token)
	assert.Equal(t, "alice", st.UserID)
	assert.Equal(t, tokens.ServiceCalendar, st.Service)
	assert.Positive(t, st.IssuedAt)
}

func TestStateCodec_RejectsTampering(t *testing.T) {
	codec, err := NewStateCodec(testKey)
	require.NoError(t, err)
	other, err := NewStateCodec([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	raw, err := codec.Encode("tok-123", "alice", tokens.ServiceGmail)
	require.NoError(t, err)
	body, sig, _ := strings.Cut(raw, ".")
	forged, err := other.Encode("tok-123", "mallory", tokens.ServiceGmail)
	require.NoError(t, err)
	forgedBody, _, _ := strings.Cut(forged, ".")

	tests := []struct {
		name  string
		state string
	}{
		{"empty", ""},
		{"no separator", body},
		{"empty signature", body + "."},
		{"extra segment", raw + ".x"},
		{"bad base64", "!!!." + sig},
		{"swapped body", forgedBody + "." + sig},
		{"wrong key", forged},
		{"json garbage", "bm90LWpzb24." + sig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.state)
			assert.ErrorIs(t, err, ErrStateMalformed)
		})
	}
}

func TestStateCodec_EncodeRequiresFields(t *testing.T) {
	codec, err := NewStateCodec(testKey)
	require.NoError(t, err)

	_, err = codec.Encode("", "alice", tokens.ServiceGmail)
	assert.Error(t, err)
	_, err = codec.Encode("tok", "", tokens.ServiceGmail)
	assert.Error(t, err)
	_, err = codec.Encode("tok", "alice", "dropbox")
	assert.Error(t, err)
}
