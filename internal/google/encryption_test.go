package google

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestEncryptor_RoundTrip(t *testing.T) {
	e, err := NewEncryptor(testKey(t))
	require.NoError(t, err)
	assert.True(t, e.Enabled())

	ct, err := e.Encrypt("ya29.secret-access-token")
	require.NoError(t, err)
	assert.NotContains(t, ct, "secret")

	ct2, err := e.Encrypt("ya29.secret-access-token")
	require.NoError(t, err)
	assert.NotEqual(t, ct, ct2, "nonce must differ per encryption")

	pt, err := e.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "ya29.secret-access-token", pt)
}

func TestEncryptor_Tampering(t *testing.T) {
	e, err := NewEncryptor(testKey(t))
	require.NoError(t, err)

	ct, err := e.Encrypt("value")
	require.NoError(t, err)

	raw, _ := base64.StdEncoding.DecodeString(ct)
	raw[len(raw)-1] ^= 0xff
	_, err = e.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)

	_, err = e.Decrypt("not base64!")
	assert.Error(t, err)

	_, err = e.Decrypt(base64.StdEncoding.EncodeToString([]byte("x")))
	assert.Error(t, err)
}

func TestEncryptor_Disabled(t *testing.T) {
	e, err := NewEncryptor(nil)
	require.NoError(t, err)
	assert.False(t, e.Enabled())

	out, err := e.Encrypt("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", out)

	_, err = NewEncryptor([]byte("short"))
	assert.Error(t, err)
}

func TestEncryptionKeyFromBase64(t *testing.T) {
	key := testKey(t)
	got, err := EncryptionKeyFromBase64(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)
	assert.Equal(t, key, got)

	got, err = EncryptionKeyFromBase64("")
	assert.NoError(t, err)
	assert.Nil(t, got)

	_, err = EncryptionKeyFromBase64(base64.StdEncoding.EncodeToString([]byte("too short")))
	assert.Error(t, err)
}
