package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/rappen/RappSack/internal/store"
	"github.com/rappen/RappSack/pkg/schema"
)

// VaultConfig configures the AES vault key derivation.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt. A zero
// config yields a vault that only accepts plain values.
type VaultConfig struct {
	MasterKey  []byte // raw 32-byte key (takes priority)
	Passphrase string // derive key via PBKDF2
	Salt       []byte // salt for PBKDF2 (required with Passphrase)
	Iterations int    // PBKDF2 iterations (default 100_000)
}

func (c VaultConfig) hasKey() bool {
	return len(c.MasterKey) > 0 || c.Passphrase != ""
}

// AESVault encrypts secret variable values with AES-256-GCM before persisting.
type AESVault struct {
	store VariableStore
	aead  cipher.AEAD
}

// NewAESVault creates a vault over s.
func NewAESVault(s VariableStore, cfg VaultConfig) (*AESVault, error) {
	v := &AESVault{store: s}
	if !cfg.hasKey() {
		return v, nil
	}
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	v.aead = aead
	return v, nil
}

func deriveKey(cfg VaultConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeVault,
				"master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeVault, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100_000
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

// Sealed reports whether the vault can hold secret values.
func (v *AESVault) Sealed() bool { return v.aead != nil }

func (v *AESVault) encrypt(plaintext []byte) ([]byte, error) {
	if v.aead == nil {
		return nil, schema.NewError(schema.ErrCodeVault, "no vault key configured for secret values")
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *AESVault) decrypt(ciphertext []byte) ([]byte, error) {
	if v.aead == nil {
		return nil, schema.NewError(schema.ErrCodeVault, "no vault key configured for secret values")
	}
	nonceSize := v.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, schema.NewError(schema.ErrCodeVault, "ciphertext too short")
	}
	nonce := ciphertext[:nonceSize]
	ct := ciphertext[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "decrypt failed: %s", err.Error())
	}
	return plaintext, nil
}

func (v *AESVault) Set(ctx context.Context, name, value string, secret bool) error {
	data := []byte(value)
	if secret {
		encrypted, err := v.encrypt(data)
		if err != nil {
			return err
		}
		data = encrypted
	}
	return v.store.SetEnvironmentVariable(ctx, &store.EnvironmentVariable{
		Name:   name,
		Value:  data,
		Secret: secret,
	})
}

// EnvironmentVariable returns the plain value of name. A missing variable
// is reported as not found, not as an error.
func (v *AESVault) EnvironmentVariable(ctx context.Context, name string) (string, bool, error) {
	ev, err := v.store.GetEnvironmentVariable(ctx, name)
	if schema.HasCode(err, schema.ErrCodeNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !ev.Secret {
		return string(ev.Value), true, nil
	}
	plain, err := v.decrypt(ev.Value)
	if err != nil {
		return "", false, err
	}
	return string(plain), true, nil
}

func (v *AESVault) Delete(ctx context.Context, name string) error {
	return v.store.DeleteEnvironmentVariable(ctx, name)
}

func (v *AESVault) List(ctx context.Context) ([]*store.EnvironmentVariable, error) {
	return v.store.ListEnvironmentVariables(ctx)
}
