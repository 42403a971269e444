package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"identity-service/internal/encryption"
)

// Sealer is the envelope encryption used for values at rest.
type Sealer interface {
	Seal(ctx context.Context, plaintext []byte) (*encryption.EncryptedData, error)
	Open(ctx context.Context, data *encryption.EncryptedData) ([]byte, error)
}

// SealedStore encrypts values written to the wrapped store. Values that are
// not envelopes are returned as stored, so entries written before sealing
// was enabled stay readable.
type SealedStore struct {
	CacheStore
	sealer Sealer
}

func NewSealedStore(inner CacheStore, sealer Sealer) *SealedStore {
	return &SealedStore{CacheStore: inner, sealer: sealer}
}

func (s *SealedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	env, err := s.sealer.Seal(ctx, value)
	if err != nil {
		return fmt.Errorf("failed to seal %s: %w", redactKey(key), err)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return s.CacheStore.Set(ctx, key, b, ttl)
}

func (s *SealedStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.CacheStore.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	env, ok := asEnvelope(raw)
	if !ok {
		return raw, nil
	}
	plain, err := s.sealer.Open(ctx, env)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", redactKey(key), err)
	}
	return plain, nil
}

func asEnvelope(raw []byte) (*encryption.EncryptedData, bool) {
	if !strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		return nil, false
	}
	var env encryption.EncryptedData
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if env.Version == "" || env.EncryptedDEK == "" || env.EncryptedValue == "" {
		return nil, false
	}
	return &env, true
}
