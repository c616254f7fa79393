package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestCodec_SignVerify(t *testing.T) {
	c := NewCodec("s3cret")
	body := []byte(`{"event":"your_turn","debateId":"ai-wars"}`)

	sig := c.Sign(body)
	assert.Len(t, sig, 64)
	assert.Equal(t, sig, c.Sign(body), "signature must be deterministic")
	assert.True(t, c.Verify(body, sig))

	tampered := []byte(`{"event":"your_turn","debateId":"ai-war5"}`)
	assert.NotEqual(t, sig, c.Sign(tampered))
	assert.False(t, c.Verify(tampered, sig))

	assert.False(t, c.Verify(body, "not-hex"))
	assert.False(t, NewCodec("other").Verify(body, sig))
}

func TestCodec_DeriveCredential(t *testing.T) {
	c := NewCodec("s3cret")

	a := c.DeriveCredential("pro-bot")
	assert.True(t, strings.HasPrefix(a, CredentialPrefix))
	assert.Len(t, a, len(CredentialPrefix)+64)
	assert.Equal(t, a, c.DeriveCredential("pro-bot"))
	assert.NotEqual(t, a, c.DeriveCredential("con-bot"))
	assert.NotEqual(t, a, NewCodec("rotated").DeriveCredential("pro-bot"))
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "hunter2")
	assert.Error(t, err)
	_, err = EncryptKey(testKey, "")
	assert.Error(t, err)
}

func TestLoadSigner(t *testing.T) {
	t.Run("raw key", func(t *testing.T) {
		s, err := LoadSigner(KeyConfig{RawPrivateKey: testKey})
		require.NoError(t, err)
		assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", s.Address().Hex())
	})

	t.Run("zero key counts as unset", func(t *testing.T) {
		_, err := LoadSigner(KeyConfig{RawPrivateKey: "0x" + strings.Repeat("0", 64)})
		assert.ErrorIs(t, err, ErrNoKey)
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := EncryptKey(testKey, "pw")
		require.NoError(t, err)
		path := filepath.Join(t.TempDir(), "oracle.key")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		s, err := LoadSigner(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
		require.NoError(t, err)
		assert.Equal(t, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", s.Address().Hex())
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := LoadSigner(KeyConfig{})
		assert.ErrorIs(t, err, ErrNoKey)
	})
}
