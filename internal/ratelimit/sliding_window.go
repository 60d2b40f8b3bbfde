package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// slidingWindowScript approximates a rolling window with the counters of the
// current and previous fixed epochs, weighting the previous one by the part
// of it still covered by the rolling window.
//
//	KEYS[1]  window hash {epoch, current, previous}
//	ARGV[1]  window size in milliseconds
//	ARGV[2]  limit
//	ARGV[3]  now in milliseconds
//
// Returns {allowed (0|1), effective count rounded}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local epoch = math.floor(now / window)
local fraction = (now % window) / window

local state = redis.call("HMGET", key, "epoch", "current", "previous")
local current = 0
local previous = 0
if state[1] then
  local stored = tonumber(state[1])
  current = tonumber(state[2]) or 0
  previous = tonumber(state[3]) or 0
  if stored > epoch then
    -- a caller with a lagging clock never rolls the window back
    epoch = stored
    fraction = 0
  elseif stored < epoch then
    if stored == epoch - 1 then
      previous = current
    else
      previous = 0
    end
    current = 0
  end
end

local effective = current + previous * (1 - fraction)
local allowed = 0
if effective < limit then
  current = current + 1
  allowed = 1
end

redis.call("HSET", key, "epoch", epoch, "current", current, "previous", previous)
redis.call("PEXPIRE", key, window * 2)

return {allowed, math.floor(effective + 0.5)}
`)

type WindowResult struct {
	Allowed   bool
	Effective int64
}

// SlidingWindow is a sliding-window-counter limiter whose state lives in redis.
type SlidingWindow struct {
	redis ScriptRunner
}

func NewSlidingWindow(redis ScriptRunner) *SlidingWindow {
	return &SlidingWindow{redis: redis}
}

// Hit counts one request against the tenant's window when the weighted
// estimate is still below limit.
func (s *SlidingWindow) Hit(ctx context.Context, tenant string, window time.Duration, limit int64, now time.Time) (WindowResult, error) {
	if window < time.Millisecond {
		return WindowResult{}, errors.New("sliding window size must be at least one millisecond")
	}
	if limit < 0 {
		return WindowResult{}, errors.New("sliding window limit must not be negative")
	}

	reply, err := s.redis.RunScript(ctx, slidingWindowScript,
		[]string{SustainedKey(tenant)},
		window.Milliseconds(),
		limit,
		now.UnixMilli(),
	)
	if err != nil {
		return WindowResult{}, fmt.Errorf("sliding window: %w", err)
	}

	allowed, effective, err := int64Pair(reply)
	if err != nil {
		return WindowResult{}, err
	}

	return WindowResult{Allowed: allowed == 1, Effective: effective}, nil
}

// NextEpoch returns when the epoch containing now ends.
func NextEpoch(now time.Time, window time.Duration) time.Time {
	ms := window.Milliseconds()
	next := (now.UnixMilli()/ms + 1) * ms
	return time.UnixMilli(next)
}
