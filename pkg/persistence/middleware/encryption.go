package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aretw0/conduit/pkg/domain"
	"github.com/aretw0/conduit/pkg/ports"
)

// EnvelopeField is the only State field an encrypted snapshot exposes.
const EnvelopeField = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	ports.Store
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that encrypts checkpoint
// snapshots and run record State/Input using AES-GCM (Envelope Encryption).
// Run status, node and log stay readable for monitoring.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.Store) ports.Store {
		return &encryptionMiddleware{
			Store:  next,
			config: config,
		}
	}
}

// sealedRun is the encrypted part of a run record.
type sealedRun struct {
	Input map[string]any `json:"input,omitempty"`
	State domain.State   `json:"state"`
}

func (m *encryptionMiddleware) SaveRun(ctx context.Context, rec *domain.RunRecord) error {
	envelope, err := m.seal(sealedRun{Input: rec.Input, State: rec.State})
	if err != nil {
		return err
	}
	cloned := *rec
	cloned.Input = nil
	cloned.State = envelope
	return m.Store.SaveRun(ctx, &cloned)
}

func (m *encryptionMiddleware) LoadRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	rec, err := m.Store.LoadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	var sealed sealedRun
	if err := m.open(rec.State, &sealed); err != nil {
		return nil, fmt.Errorf("run %q: %w", runID, err)
	}
	rec.Input = sealed.Input
	rec.State = sealed.State
	return rec, nil
}

func (m *encryptionMiddleware) SaveCheckpoint(ctx context.Context, cp *domain.RunCheckpoint) error {
	envelope, err := m.seal(cp.State)
	if err != nil {
		return err
	}
	cloned := *cp
	cloned.State = envelope
	return m.Store.SaveCheckpoint(ctx, &cloned)
}

func (m *encryptionMiddleware) LoadCheckpoint(ctx context.Context, runID string) (*domain.RunCheckpoint, error) {
	cp, err := m.Store.LoadCheckpoint(ctx, runID)
	if err != nil {
		return nil, err
	}
	return m.openCheckpoint(cp)
}

func (m *encryptionMiddleware) ConsumeCheckpoint(ctx context.Context, runID string, at time.Time) (*domain.RunCheckpoint, error) {
	cp, err := m.Store.ConsumeCheckpoint(ctx, runID, at)
	if err != nil {
		return nil, err
	}
	return m.openCheckpoint(cp)
}

func (m *encryptionMiddleware) openCheckpoint(cp *domain.RunCheckpoint) (*domain.RunCheckpoint, error) {
	var state domain.State
	if err := m.open(cp.State, &state); err != nil {
		return nil, fmt.Errorf("checkpoint of run %q: %w", cp.RunID, err)
	}
	cp.State = state
	return cp, nil
}

// seal serializes v and hides it in an opaque envelope state.
func (m *encryptionMiddleware) seal(v any) (domain.State, error) {
	plainText, err := json.Marshal(v)
	if err != nil {
		return domain.State{}, fmt.Errorf("failed to marshal state: %w", err)
	}
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return domain.State{}, fmt.Errorf("failed to encrypt state: %w", err)
	}
	return domain.NewState(map[string]any{
		EnvelopeField: base64.StdEncoding.EncodeToString(ciphertext),
	})
}

func (m *encryptionMiddleware) open(envelope domain.State, v any) error {
	encryptedStr, ok, err := domain.Decode[string](envelope, EnvelopeField)
	if err != nil || !ok {
		// Data written before encryption was enabled is refused: fail secure.
		return errors.New("state is missing encrypted data envelope")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}

	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return fmt.Errorf("failed to decrypt state: %w", err)
	}

	if err := json.Unmarshal(plainText, v); err != nil {
		return fmt.Errorf("failed to unmarshal decrypted state: %w", err)
	}
	return nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
