package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	Enabled            bool
	MaxIssuesPerWindow int
	Window             time.Duration
}

// Limiter enforces the per-user SMS issuance budget using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckSMSIssue records an SMS issuance attempt for the user and enforces
// the window budget. Returns ErrRateLimited once the budget is exhausted.
func (l *Limiter) CheckSMSIssue(ctx context.Context, userID string) error {
	if !l.config.Enabled {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, smsIssueKey(userID), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxIssuesPerWindow) {
		return ErrRateLimited
	}

	return nil
}

// ResetSMSIssue clears the issuance counter for a user. Called when the
// SMS method is disabled or re-enrolled.
func (l *Limiter) ResetSMSIssue(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, smsIssueKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// GetSMSIssueCount returns the current issuance counter for a user.
// Missing keys return zero and do not reveal account existence.
func (l *Limiter) GetSMSIssueCount(ctx context.Context, userID string) (int, error) {
	count, err := l.redis.Get(ctx, smsIssueKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func smsIssueKey(userID string) string {
	return "smsq:" + userID
}
