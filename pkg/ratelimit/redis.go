package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisKeyPrefix namespaces pace slots in Redis.
const RedisKeyPrefix = "airtable-backup:pace:"

// minPoll bounds the retry loop when Redis reports no usable TTL.
const minPoll = 5 * time.Millisecond

// RedisPacer shares one request pace between every process using the same
// Redis key. A request may be sent by whoever sets the key; the key expires
// after the interval, which frees the next slot.
type RedisPacer struct {
	redis    *redis.Client
	key      string
	owner    string
	interval time.Duration
	logger   zerolog.Logger
}

// NewRedisPacer creates a pacer on the slot identified by scope.
// owner is stored as the slot value and only used for debugging.
func NewRedisPacer(redisClient *redis.Client, scope string, interval time.Duration, owner string, logger zerolog.Logger) *RedisPacer {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisPacer{
		redis:    redisClient,
		key:      RedisKeyPrefix + scope,
		owner:    owner,
		interval: interval,
		logger:   logger,
	}
}

// ScopeForToken derives a slot scope from an access token without storing the token.
func ScopeForToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// Key returns the Redis key of the pace slot.
func (p *RedisPacer) Key() string {
	return p.key
}

// Wait implements Pacer.
func (p *RedisPacer) Wait(ctx context.Context) error {
	if p.interval <= 0 {
		return ctx.Err()
	}

	for {
		acquired, err := p.redis.SetNX(ctx, p.key, p.owner, p.interval).Result()
		if err != nil {
			return fmt.Errorf("acquire pace slot: %w", err)
		}
		if acquired {
			return nil
		}

		ttl, err := p.redis.PTTL(ctx, p.key).Result()
		if err != nil {
			return fmt.Errorf("read pace slot ttl: %w", err)
		}
		if ttl < minPoll {
			ttl = minPoll
		}

		p.logger.Debug().
			Str("key", p.key).
			Dur("wait", ttl).
			Msg("Pace slot taken, waiting")

		timer := time.NewTimer(ttl)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
