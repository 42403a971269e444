package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"identity-service/internal/client"
	"identity-service/internal/util"
)

const (
	SessionKeyPrefix = "session:"
	TokenKeyPrefix   = "token:"

	defaultOpTimeout = 5 * time.Second
	scanBatch        = 500
)

// ErrCacheMiss is returned by CacheStore.Get for an absent key.
var ErrCacheMiss = errors.New("cache miss")

func SessionKey(email string) string     { return SessionKeyPrefix + email }
func TokenKey(accessToken string) string { return TokenKeyPrefix + accessToken }

// CacheStore is the key/value contract the session manager depends on.
// Implementations own expiry: a key is gone once its TTL elapses.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
}

// RedisStore implements CacheStore on the shared Redis client.
type RedisStore struct {
	client    *client.RedisClient
	opTimeout time.Duration
}

func NewRedisStore(c *client.RedisClient, opTimeout time.Duration) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &RedisStore{client: c, opTimeout: opTimeout}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, key)
	if errors.Is(err, client.ErrKeyNotFound) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		util.Error("Failed to read cache key", zap.String("key", redactKey(key)), zap.Error(err))
		return nil, fmt.Errorf("failed to read %s: %w", redactKey(key), err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl); err != nil {
		util.Error("Failed to write cache key",
			zap.String("key", redactKey(key)),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to write %s: %w", redactKey(key), err)
	}
	util.Debug("Cache key written", zap.String("key", redactKey(key)), zap.Duration("ttl", ttl))
	return nil
}

// Delete removes the keys in order. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	for _, key := range keys {
		if err := s.client.Del(ctx, key); err != nil {
			util.Error("Failed to delete cache key", zap.String("key", redactKey(key)), zap.Error(err))
			return fmt.Errorf("failed to delete %s: %w", redactKey(key), err)
		}
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	ok, err := s.client.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", redactKey(key), err)
	}
	return ok, nil
}

// ScanPrefix lists every key starting with prefix. The walk covers the whole
// keyspace and is not paginated.
func (s *RedisStore) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.client.ScanAll(ctx, escapeGlob(prefix)+"*", scanBatch)
	if err != nil {
		util.Error("Failed to scan cache keys", zap.String("prefix", prefix), zap.Error(err))
		return nil, fmt.Errorf("failed to scan %q: %w", prefix, err)
	}
	return keys, nil
}

// escapeGlob quotes SCAN MATCH metacharacters so the prefix is literal.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// redactKey keeps bearer tokens out of logs.
func redactKey(key string) string {
	if strings.HasPrefix(key, TokenKeyPrefix) {
		tok := strings.TrimPrefix(key, TokenKeyPrefix)
		if len(tok) > 8 {
			tok = tok[:8]
		}
		return TokenKeyPrefix + tok + "…"
	}
	return key
}
