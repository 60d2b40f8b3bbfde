package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// quotaScript increments the period counter and pins its expiry to the end
// of the period. The expiry is also restored on a counter that has lost it,
// so a counter can never outlive its month.
//
//	KEYS[1]  counter
//	ARGV[1]  seconds until the period ends
//
// Returns the new count.
var quotaScript = redis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 or redis.call("TTL", KEYS[1]) == -1 then
  redis.call("EXPIRE", KEYS[1], tonumber(ARGV[1]))
end
return used
`)

type QuotaUsage struct {
	Used    int64
	Period  string
	ResetAt time.Time
}

// MonthlyCounter counts a tenant's requests per UTC calendar month.
type MonthlyCounter struct {
	redis ScriptRunner
}

func NewMonthlyCounter(redis ScriptRunner) *MonthlyCounter {
	return &MonthlyCounter{redis: redis}
}

// Increment adds one request to the tenant's counter for the month containing now.
func (m *MonthlyCounter) Increment(ctx context.Context, tenant string, now time.Time) (QuotaUsage, error) {
	period := Period(now)
	resetAt := PeriodEnd(now)

	reply, err := m.redis.RunScript(ctx, quotaScript,
		[]string{QuotaKey(tenant, period)},
		secondsUntil(now, resetAt),
	)
	if err != nil {
		return QuotaUsage{}, fmt.Errorf("quota counter: %w", err)
	}

	used, ok := reply.(int64)
	if !ok {
		return QuotaUsage{}, fmt.Errorf("ratelimit: unexpected quota reply %T", reply)
	}

	return QuotaUsage{Used: used, Period: period, ResetAt: resetAt}, nil
}

// secondsUntil rounds up so the counter never expires before the boundary.
// EXPIRE 0 would delete the key outright, hence the floor of one.
func secondsUntil(now, end time.Time) int64 {
	secs := int64(math.Ceil(end.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
