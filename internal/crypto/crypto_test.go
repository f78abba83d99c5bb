package crypto

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey     = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestEncryptedKeyFile(t *testing.T) {
	blob, err := EncryptKey(testKey, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	pk, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	require.NoError(t, err)
	assert.Equal(t, testAddress, NewSigner(pk).Address().Hex())

	_, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "wrong"})
	assert.ErrorContains(t, err, "decryption failed")

	_, err = LoadKey(KeyConfig{EncryptedKeyPath: path})
	assert.ErrorContains(t, err, "password must not be empty")
}

func TestLoadKey(t *testing.T) {
	pk, err := LoadKey(KeyConfig{RawPrivateKey: testKey})
	require.NoError(t, err)
	assert.Equal(t, testAddress, NewSigner(pk).Address().Hex())

	_, err = LoadKey(KeyConfig{})
	assert.ErrorIs(t, err, ErrNoKeySource)
	assert.False(t, KeyConfig{}.Configured())

	_, err = LoadKey(KeyConfig{RawPrivateKey: "0xzz"})
	assert.ErrorContains(t, err, "not valid hex")

	_, err = LoadKey(KeyConfig{RawPrivateKey: "0xabcd"})
	assert.ErrorContains(t, err, "expected 32-byte key")

	_, err = EncryptKey(testKey, "")
	assert.Error(t, err)
}

func TestSignMessageRecovers(t *testing.T) {
	pk, err := LoadKey(KeyConfig{RawPrivateKey: testKey})
	require.NoError(t, err)
	s := NewSigner(pk)

	msg := []byte("hello")
	sig, err := s.SignMessage(msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	addr, err := RecoverAddress(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	other, err := RecoverAddress([]byte("hellO"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)

	_, err = RecoverAddress(msg, sig[:64])
	assert.Error(t, err)

	s.Wipe()
	_, err = s.SignMessage(msg)
	assert.Error(t, err)
}

func TestSessionAuthorization(t *testing.T) {
	pk, err := LoadKey(KeyConfig{RawPrivateKey: testKey})
	require.NoError(t, err)
	wallet := NewSigner(pk)
	session, err := GenerateSigner()
	require.NoError(t, err)

	issued := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	auth, err := wallet.AuthorizeSession("sess-1", session.Address(), issued, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, testAddress, auth.Wallet)
	assert.Equal(t, session.Address().Hex(), auth.SessionKey)
	assert.Equal(t, issued.Add(time.Hour), auth.ExpiresAt)
	assert.Contains(t, string(auth.Message()), "session id: sess-1")

	require.NoError(t, auth.Verify(issued.Add(time.Minute)))
	assert.ErrorContains(t, auth.Verify(issued.Add(2*time.Hour)), "expired")

	tampered := auth
	tampered.SessionKey = testAddress
	assert.ErrorIs(t, tampered.Verify(issued), ErrBadSignature)
}
