package securestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"storefront/internal/models"
	"storefront/internal/redisclient"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	ErrInvalidKey = errors.New("secure store key must be 32 bytes hex encoded")
	ErrCorrupt    = errors.New("sealed payment data is corrupt")
)

// Sealer encrypts and authenticates blobs with NaCl secretbox
type Sealer struct {
	key [keySize]byte
}

// NewSealer creates a sealer from a hex encoded 32 byte key
func NewSealer(keyHex string) (*Sealer, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil || len(raw) != keySize {
		return nil, ErrInvalidKey
	}

	s := &Sealer{}
	copy(s.key[:], raw)
	return s, nil
}

// NewRandomSealer creates a sealer with a random key. Data sealed with it
// does not survive a restart.
func NewRandomSealer() (*Sealer, error) {
	s := &Sealer{}
	if _, err := io.ReadFull(rand.Reader, s.key[:]); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return s, nil
}

// Seal encrypts plaintext, prefixing the random nonce
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

// Open decrypts a value produced by Seal
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrCorrupt
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrCorrupt
	}
	return plaintext, nil
}

// BlobStore is the key-value backend of RedisStore
type BlobStore interface {
	SetBlob(ctx context.Context, name string, value []byte) error
	GetBlob(ctx context.Context, name string) ([]byte, error)
	DeleteBlob(ctx context.Context, name string) error
}

// RedisStore keeps the sealed redacted draft under a single key
type RedisStore struct {
	blobs  BlobStore
	sealer *Sealer
	name   string
}

// NewRedisStore creates a store writing to the given key name
func NewRedisStore(blobs BlobStore, sealer *Sealer, name string) *RedisStore {
	return &RedisStore{blobs: blobs, sealer: sealer, name: name}
}

// Save seals and stores the payment
func (s *RedisStore) Save(ctx context.Context, payment models.StoredPayment) error {
	plaintext, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("failed to marshal payment: %w", err)
	}

	sealed, err := s.sealer.Seal(plaintext)
	if err != nil {
		return err
	}

	if err := s.blobs.SetBlob(ctx, s.name, sealed); err != nil {
		return fmt.Errorf("failed to store payment: %w", err)
	}
	return nil
}

// Load returns the stored payment, or nil when nothing is stored
func (s *RedisStore) Load(ctx context.Context) (*models.StoredPayment, error) {
	sealed, err := s.blobs.GetBlob(ctx, s.name)
	if errors.Is(err, redisclient.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read payment: %w", err)
	}

	plaintext, err := s.sealer.Open(sealed)
	if err != nil {
		return nil, err
	}

	var payment models.StoredPayment
	if err := json.Unmarshal(plaintext, &payment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
	}
	return &payment, nil
}

// Delete removes the stored payment
func (s *RedisStore) Delete(ctx context.Context) error {
	if err := s.blobs.DeleteBlob(ctx, s.name); err != nil {
		return fmt.Errorf("failed to delete payment: %w", err)
	}
	return nil
}

// MemoryStore keeps the redacted draft in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	payment *models.StoredPayment
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, payment models.StoredPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payment = &payment
	return nil
}

func (s *MemoryStore) Load(_ context.Context) (*models.StoredPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.payment == nil {
		return nil, nil
	}
	cp := *s.payment
	return &cp, nil
}

func (s *MemoryStore) Delete(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payment = nil
	return nil
}
