// Package vault implements an encrypted secret store protected by a master
// password. Secrets are sealed with Fernet using a key derived via
// PBKDF2-SHA256, so stores written here can be read by Fernet
// implementations in other languages and vice versa.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 100_000
	kdfKeyLen     = 32
	saltLen       = 16
)

// ErrWrongPassword is returned when the master password fails verification.
var ErrWrongPassword = errors.New("master password verification failed")

// MasterKeyMeta is the public key-derivation record stored alongside the
// encrypted secrets. It holds no secret material: the salt feeds the KDF and
// the verification hash is a digest of the derived key, letting a wrong
// password fail closed without ever attempting a decrypt.
type MasterKeyMeta struct {
	// KDFSalt is the hex-encoded PBKDF2 salt.
	KDFSalt string `json:"kdf_salt"`
	// Verification is the hex-encoded SHA-256 of the derived Fernet key.
	Verification string `json:"verification"`
}

// MasterKey is a password-derived Fernet key.
type MasterKey struct {
	key *fernet.Key
}

// NewMasterKey derives a fresh key from the password with a random salt and
// returns the key together with the metadata needed to re-derive it.
func NewMasterKey(password string) (*MasterKey, MasterKeyMeta, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, MasterKeyMeta{}, fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(password, salt)
	meta := MasterKeyMeta{
		KDFSalt:      hex.EncodeToString(salt),
		Verification: verificationHash(key),
	}
	return key, meta, nil
}

// DeriveMasterKey re-derives the key from the password and stored metadata.
// It returns ErrWrongPassword when the derived key does not match the
// verification hash.
func DeriveMasterKey(password string, meta MasterKeyMeta) (*MasterKey, error) {
	salt, err := hex.DecodeString(meta.KDFSalt)
	if err != nil {
		return nil, fmt.Errorf("decode kdf salt: %w", err)
	}

	key := deriveKey(password, salt)
	want, err := hex.DecodeString(meta.Verification)
	if err != nil {
		return nil, fmt.Errorf("decode verification hash: %w", err)
	}
	got, err := hex.DecodeString(verificationHash(key))
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return nil, ErrWrongPassword
	}
	return key, nil
}

func deriveKey(password string, salt []byte) *MasterKey {
	raw := pbkdf2.Key([]byte(password), salt, kdfIterations, kdfKeyLen, sha256.New)
	var k fernet.Key
	copy(k[:], raw)
	return &MasterKey{key: &k}
}

// verificationHash digests the urlsafe-base64 encoding of the key, matching
// how Fernet keys are conventionally serialized.
func verificationHash(k *MasterKey) string {
	encoded := base64.URLEncoding.EncodeToString(k.key[:])
	sum := sha256.Sum256([]byte(encoded))
	return hex.EncodeToString(sum[:])
}

// Encrypt seals plaintext into a Fernet token.
func (k *MasterKey) Encrypt(plaintext []byte) (string, error) {
	tok, err := fernet.EncryptAndSign(plaintext, k.key)
	if err != nil {
		return "", fmt.Errorf("encrypt secret: %w", err)
	}
	return string(tok), nil
}

// Decrypt opens a Fernet token. Tokens do not expire; rotation is handled at
// the store level.
func (k *MasterKey) Decrypt(token string) ([]byte, error) {
	msg := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{k.key})
	if msg == nil {
		return nil, errors.New("decrypt secret: invalid token")
	}
	return msg, nil
}
