package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateReader is the read-only subset of the store used by Inspector.
type StateReader interface {
	Get(ctx context.Context, key string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

type BucketState struct {
	Tokens     int64     `json:"tokens"`
	LastRefill time.Time `json:"last_refill"`
}

type WindowState struct {
	Epoch    int64 `json:"epoch"`
	Current  int64 `json:"current"`
	Previous int64 `json:"previous"`
}

// Inspector reads limiter state without mutating it. It is meant for
// operators; admission decisions never go through it.
type Inspector struct {
	redis StateReader
}

func NewInspector(redis StateReader) *Inspector {
	return &Inspector{redis: redis}
}

// Bucket returns nil when the tenant has no live bucket.
func (i *Inspector) Bucket(ctx context.Context, tenant string) (*BucketState, error) {
	fields, err := i.redis.HGetAll(ctx, BurstKey(tenant))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	tokens, _ := strconv.ParseFloat(fields["tokens"], 64)
	last, _ := strconv.ParseFloat(fields["last_refill"], 64)

	return &BucketState{
		Tokens:     int64(tokens),
		LastRefill: time.UnixMilli(int64(last)).UTC(),
	}, nil
}

// Window returns nil when the tenant has no live window.
func (i *Inspector) Window(ctx context.Context, tenant string) (*WindowState, error) {
	fields, err := i.redis.HGetAll(ctx, SustainedKey(tenant))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	epoch, _ := strconv.ParseFloat(fields["epoch"], 64)
	current, _ := strconv.ParseFloat(fields["current"], 64)
	previous, _ := strconv.ParseFloat(fields["previous"], 64)

	return &WindowState{
		Epoch:    int64(epoch),
		Current:  int64(current),
		Previous: int64(previous),
	}, nil
}

// Quota returns the tenant's usage for the month containing now, zero if the
// counter does not exist yet.
func (i *Inspector) Quota(ctx context.Context, tenant string, now time.Time) (QuotaUsage, error) {
	period := Period(now)
	usage := QuotaUsage{Period: period, ResetAt: PeriodEnd(now)}

	val, err := i.redis.Get(ctx, QuotaKey(tenant, period))
	if errors.Is(err, redis.Nil) {
		return usage, nil
	}
	if err != nil {
		return usage, err
	}

	usage.Used, err = strconv.ParseInt(val, 10, 64)
	return usage, err
}
