package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes in one step so that concurrent
// callers on the same key observe a total order of bucket states.
//
//	KEYS[1]  bucket hash {tokens, last_refill}
//	ARGV[1]  capacity
//	ARGV[2]  tokens added per refill interval
//	ARGV[3]  refill interval in seconds
//	ARGV[4]  now in milliseconds
//	ARGV[5]  inactivity ttl in seconds
//
// Returns {allowed (0|1), remaining tokens}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local interval = tonumber(ARGV[3]) * 1000
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = capacity
local last = now
if state[1] and state[2] then
  tokens = tonumber(state[1])
  last = tonumber(state[2])
end

local elapsed = math.floor((now - last) / interval)
if elapsed > 0 then
  tokens = math.min(capacity, tokens + elapsed * refill)
  last = last + elapsed * interval
end

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last)
redis.call("EXPIRE", key, ttl)

return {allowed, tokens}
`)

// BucketParams describes one tenant's bucket.
type BucketParams struct {
	Capacity       int64
	RefillAmount   int64
	RefillInterval time.Duration
	TTL            time.Duration
}

func (p BucketParams) validate() error {
	if p.Capacity <= 0 {
		return errors.New("bucket capacity must be positive")
	}
	if p.RefillAmount <= 0 {
		return errors.New("bucket refill amount must be positive")
	}
	if p.RefillInterval < time.Second {
		return errors.New("bucket refill interval must be at least one second")
	}
	if p.TTL < time.Second {
		return errors.New("bucket ttl must be at least one second")
	}
	return nil
}

type BucketResult struct {
	Allowed   bool
	Remaining int64
}

// TokenBucket is a token-bucket limiter whose state lives in redis.
type TokenBucket struct {
	redis ScriptRunner
}

func NewTokenBucket(redis ScriptRunner) *TokenBucket {
	return &TokenBucket{redis: redis}
}

// Take removes one token from the tenant's bucket if one is available.
func (t *TokenBucket) Take(ctx context.Context, tenant string, p BucketParams, now time.Time) (BucketResult, error) {
	if err := p.validate(); err != nil {
		return BucketResult{}, err
	}

	reply, err := t.redis.RunScript(ctx, tokenBucketScript,
		[]string{BurstKey(tenant)},
		p.Capacity,
		p.RefillAmount,
		int64(p.RefillInterval/time.Second),
		now.UnixMilli(),
		int64(p.TTL/time.Second),
	)
	if err != nil {
		return BucketResult{}, fmt.Errorf("token bucket: %w", err)
	}

	allowed, remaining, err := int64Pair(reply)
	if err != nil {
		return BucketResult{}, err
	}

	return BucketResult{Allowed: allowed == 1, Remaining: remaining}, nil
}
