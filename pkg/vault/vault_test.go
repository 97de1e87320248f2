package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMasterKey_RoundTrip(t *testing.T) {
	key, meta, err := NewMasterKey("correct horse battery staple")
	require.NoError(t, err)
	require.NotEmpty(t, meta.KDFSalt)
	require.NotEmpty(t, meta.Verification)

	token, err := key.Encrypt([]byte("super-secret"))
	require.NoError(t, err)
	assert.NotContains(t, token, "super-secret")

	plain, err := key.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, "super-secret", string(plain))
}

func TestDeriveMasterKey(t *testing.T) {
	key, meta, err := NewMasterKey("password1")
	require.NoError(t, err)

	rederived, err := DeriveMasterKey("password1", meta)
	require.NoError(t, err)

	// A token sealed by the original opens with the re-derived key.
	token, err := key.Encrypt([]byte("v"))
	require.NoError(t, err)
	plain, err := rederived.Decrypt(token)
	require.NoError(t, err)
	assert.Equal(t, "v", string(plain))
}

func TestDeriveMasterKey_WrongPassword(t *testing.T) {
	_, meta, err := NewMasterKey("password1")
	require.NoError(t, err)

	_, err = DeriveMasterKey("password2", meta)
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "secrets.json")
}

func TestStore_SetGetRoundTrip(t *testing.T) {
	s, err := Create(storePath(t), "master-pw")
	require.NoError(t, err)

	require.NoError(t, s.Set("binance_api_key", "AKIA123456"))
	require.NoError(t, s.Set("binance_api_secret", "s3cr3t"))

	got, err := s.Get("binance_api_key")
	require.NoError(t, err)
	assert.Equal(t, "AKIA123456", got)
}

func TestStore_EmptyStringRoundTrips(t *testing.T) {
	s, err := Create(storePath(t), "master-pw")
	require.NoError(t, err)

	require.NoError(t, s.Set("kucoin_passphrase", ""))

	got, err := s.Get("kucoin_passphrase")
	require.NoError(t, err)
	assert.Equal(t, "", got)
	assert.True(t, s.Has("kucoin_passphrase"))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := storePath(t)

	s, err := Create(path, "master-pw")
	require.NoError(t, err)
	require.NoError(t, s.Set("kraken_api_key", "k-key"))

	reopened, err := Open(path, "master-pw")
	require.NoError(t, err)

	got, err := reopened.Get("kraken_api_key")
	require.NoError(t, err)
	assert.Equal(t, "k-key", got)
}

func TestStore_WrongPasswordFailsClosed(t *testing.T) {
	path := storePath(t)

	s, err := Create(path, "master-pw")
	require.NoError(t, err)
	require.NoError(t, s.Set("bybit_api_key", "k"))

	_, err = Open(path, "not-the-password")
	assert.ErrorIs(t, err, ErrWrongPassword)
}

func TestStore_SecretsNeverStoredInTheClear(t *testing.T) {
	path := storePath(t)

	s, err := Create(path, "master-pw")
	require.NoError(t, err)
	require.NoError(t, s.Set("coinbase_api_secret", "plaintext-sentinel"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "plaintext-sentinel")
}

func TestStore_Delete(t *testing.T) {
	s, err := Create(storePath(t), "master-pw")
	require.NoError(t, err)
	require.NoError(t, s.Set("binance_api_key", "k"))

	require.NoError(t, s.Delete("binance_api_key"))
	_, err = s.Get("binance_api_key")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete("binance_api_key"), "deleting a missing name is a no-op")
}

func TestStore_DeletePrefix(t *testing.T) {
	s, err := Create(storePath(t), "master-pw")
	require.NoError(t, err)
	require.NoError(t, s.Set("kucoin_api_key", "a"))
	require.NoError(t, s.Set("kucoin_api_secret", "b"))
	require.NoError(t, s.Set("kucoin_passphrase", "c"))
	require.NoError(t, s.Set("kraken_api_key", "d"))

	removed, err := s.DeletePrefix("kucoin_")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, []string{"kraken_api_key"}, s.Names())
}

func TestStore_CreateRefusesExisting(t *testing.T) {
	path := storePath(t)
	_, err := Create(path, "pw")
	require.NoError(t, err)

	_, err = Create(path, "pw")
	assert.Error(t, err)
}

func TestStore_OpenOrCreate(t *testing.T) {
	path := storePath(t)

	s, err := OpenOrCreate(path, "pw")
	require.NoError(t, err)
	require.NoError(t, s.Set("binance_api_key", "k"))

	again, err := OpenOrCreate(path, "pw")
	require.NoError(t, err)
	assert.True(t, again.Has("binance_api_key"))
}
