package connections

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/nexlead/leadflow/pkg/schema"
)

// VaultConfig configures the vault key derivation.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt.
type VaultConfig struct {
	MasterKey  []byte // raw 32-byte key (takes priority)
	Passphrase string // derive key via PBKDF2
	Salt       []byte // salt for PBKDF2 (required with Passphrase)
	Iterations int    // PBKDF2 iterations (default 100_000)
}

// FileVault persists connection bundles in a single AES-256-GCM encrypted
// file. Bundles are decrypted in-memory only.
type FileVault struct {
	path string
	aead cipher.AEAD

	mu      sync.RWMutex
	bundles map[string]Bundle
}

// NewFileVault opens (or initializes) an encrypted vault file.
func NewFileVault(path string, cfg VaultConfig) (*FileVault, error) {
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

	v := &FileVault{path: path, aead: aead, bundles: make(map[string]Bundle)}
	if err := v.load(); err != nil {
		return nil, err
	}
	return v, nil
}

func deriveKey(cfg VaultConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeConnection,
				"master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeConnection, "either master_key or passphrase is required")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeConnection, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100_000
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

func (v *FileVault) load() error {
	ciphertext, err := os.ReadFile(v.path)
	if os.IsNotExist(err) {
		return nil // fresh vault
	}
	if err != nil {
		return fmt.Errorf("read vault file: %w", err)
	}
	if len(ciphertext) == 0 {
		return nil
	}

	plaintext, err := v.decrypt(ciphertext)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, &v.bundles); err != nil {
		return schema.NewError(schema.ErrCodeConnection, "vault contents corrupted").WithCause(err)
	}
	return nil
}

func (v *FileVault) persist() error {
	plaintext, err := json.Marshal(v.bundles)
	if err != nil {
		return fmt.Errorf("marshal bundles: %w", err)
	}
	ciphertext, err := v.encrypt(plaintext)
	if err != nil {
		return err
	}
	return os.WriteFile(v.path, ciphertext, 0o600)
}

func (v *FileVault) encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *FileVault) decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := v.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, schema.NewError(schema.ErrCodeConnection, "ciphertext too short")
	}
	nonce := ciphertext[:nonceSize]
	ct := ciphertext[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConnection, "decrypt failed: %s", err.Error())
	}
	return plaintext, nil
}

// Get resolves a bundle by name.
func (v *FileVault) Get(_ context.Context, name string) (Bundle, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	b, ok := v.bundles[name]
	if !ok {
		return nil, notFound(name)
	}
	return b, nil
}

// Store adds or replaces a bundle and persists the vault.
func (v *FileVault) Store(_ context.Context, name string, bundle Bundle) error {
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "connection name is empty")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.bundles[name] = bundle
	return v.persist()
}

// Delete removes a bundle and persists the vault.
func (v *FileVault) Delete(_ context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.bundles[name]; !ok {
		return notFound(name)
	}
	delete(v.bundles, name)
	return v.persist()
}

// List returns the names of all stored bundles.
func (v *FileVault) List(_ context.Context) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	names := make([]string, 0, len(v.bundles))
	for name := range v.bundles {
		names = append(names, name)
	}
	return names, nil
}

func notFound(name string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "connection %q not found", name)
}

func schemaError(name string, err error) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeConnection,
		"connection %q is not a JSON object", name).WithCause(err)
}

var _ Provider = (*FileVault)(nil)
var _ Provider = (Static)(nil)
var _ Provider = Env{}
