package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ScriptRunner executes a server-side script against the shared store.
type ScriptRunner interface {
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error)
}

// Every key is partitioned by tenant, so no two tenants share limiter state.
func BurstKey(tenant string) string {
	return fmt.Sprintf("burst_bucket:%s", tenant)
}

func SustainedKey(tenant string) string {
	return fmt.Sprintf("sustained_window:%s", tenant)
}

func QuotaKey(tenant, period string) string {
	return fmt.Sprintf("quota:%s:%s", tenant, period)
}

// Period returns the UTC calendar month containing t, formatted YYYY-MM.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// PeriodEnd returns the first instant of the UTC month following t.
func PeriodEnd(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// int64Pair decodes the two-integer reply shared by the limiter scripts.
func int64Pair(reply interface{}) (int64, int64, error) {
	vals, ok := reply.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, 0, fmt.Errorf("ratelimit: unexpected script reply %T", reply)
	}

	first, ok := vals[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("ratelimit: invalid first reply element %T", vals[0])
	}
	second, ok := vals[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("ratelimit: invalid second reply element %T", vals[1])
	}

	return first, second, nil
}

// Scripts lists every limiter script, for preloading at start-up.
func Scripts() []*redis.Script {
	return []*redis.Script{tokenBucketScript, slidingWindowScript, quotaScript}
}
