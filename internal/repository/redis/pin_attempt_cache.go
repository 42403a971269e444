package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"identity-service/internal/client"
	"identity-service/internal/util"
)

const (
	pinRetryPrefix = "pin_retry:"
	pinBlockPrefix = "pin_block:"
)

// PinAttemptCache counts wrong PINs per employer and blocks further attempts
// once the limit is hit within the counting window.
type PinAttemptCache struct {
	client      *client.RedisClient
	maxAttempts int
	window      time.Duration
	lockout     time.Duration
}

func NewPinAttemptCache(c *client.RedisClient, maxAttempts int, window, lockout time.Duration) *PinAttemptCache {
	return &PinAttemptCache{client: c, maxAttempts: maxAttempts, window: window, lockout: lockout}
}

// Blocked reports whether the employer is locked out and for how long.
func (c *PinAttemptCache) Blocked(ctx context.Context, email string) (bool, time.Duration, error) {
	if c.maxAttempts <= 0 {
		return false, 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	key := pinBlockPrefix + email
	exists, err := c.client.Exists(ctx, key)
	if err != nil {
		return false, 0, fmt.Errorf("failed to check PIN block: %w", err)
	}
	if !exists {
		return false, 0, nil
	}
	ttl, err := c.client.TTL(ctx, key)
	if err != nil {
		return true, 0, fmt.Errorf("failed to get PIN block TTL: %w", err)
	}
	return true, ttl, nil
}

// RecordFailure bumps the counter and arms the block when the limit is
// reached. It returns the attempt count inside the current window.
func (c *PinAttemptCache) RecordFailure(ctx context.Context, email string) (int, error) {
	if c.maxAttempts <= 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	cnt, err := c.client.IncrWithExpire(ctx, pinRetryPrefix+email, c.window)
	if err != nil {
		util.Error("Failed to increment PIN retry count",
			zap.String("email", email),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment PIN retry count: %w", err)
	}

	if int(cnt) >= c.maxAttempts {
		if err := c.client.Set(ctx, pinBlockPrefix+email, "blocked", c.lockout); err != nil {
			util.Error("Failed to set PIN block",
				zap.String("email", email),
				zap.Error(err))
			return int(cnt), fmt.Errorf("failed to set PIN block: %w", err)
		}
		// the block now carries the lockout, start the next window from zero
		_ = c.client.Del(ctx, pinRetryPrefix+email)
		util.Warn("PIN attempts blocked",
			zap.String("email", email),
			zap.Int64("attempts", cnt),
			zap.Duration("lockout", c.lockout))
	}
	return int(cnt), nil
}

// Reset clears the counter after a correct PIN.
func (c *PinAttemptCache) Reset(ctx context.Context, email string) error {
	if c.maxAttempts <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, defaultOpTimeout)
	defer cancel()

	if err := c.client.Del(ctx, pinRetryPrefix+email); err != nil {
		util.Error("Failed to reset PIN retry count",
			zap.String("email", email),
			zap.Error(err))
		return fmt.Errorf("failed to reset PIN retry count: %w", err)
	}
	return nil
}
