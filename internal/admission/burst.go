package admission

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	StageBurst = "burst"

	DefaultRefillInterval = time.Second
	DefaultBucketTTL      = 60 * time.Second
)

// BucketTaker is the atomic token-bucket operation.
type BucketTaker interface {
	Take(ctx context.Context, tenant string, p ratelimit.BucketParams, now time.Time) (ratelimit.BucketResult, error)
}

// BurstLimiter smooths short bursts with a per-tenant token bucket whose
// capacity and refill amount both equal the plan's burst allowance.
type BurstLimiter struct {
	bucket         BucketTaker
	refillInterval time.Duration
	ttl            time.Duration
	cfg            LimiterConfig
	log            *zap.Logger
}

func NewBurstLimiter(bucket BucketTaker, refillInterval, ttl time.Duration, cfg LimiterConfig, log *zap.Logger) *BurstLimiter {
	if refillInterval < time.Second {
		refillInterval = DefaultRefillInterval
	}
	if ttl < time.Second {
		ttl = DefaultBucketTTL
	}

	return &BurstLimiter{
		bucket:         bucket,
		refillInterval: refillInterval,
		ttl:            ttl,
		cfg:            cfg.withDefaults(),
		log:            log.Named(StageBurst),
	}
}

func (b *BurstLimiter) Name() string { return StageBurst }

func (b *BurstLimiter) Admit(ctx context.Context, req *Request) error {
	tenant, plan, err := req.limiterContext("Burst limiter")
	if err != nil {
		return err
	}

	// A plan without burst allowance never has a token to take.
	if plan.Burst <= 0 {
		return burstLimitExceeded(0, b.refillInterval)
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.CallTimeout)
	defer cancel()

	res, err := b.bucket.Take(ctx, tenant, ratelimit.BucketParams{
		Capacity:       plan.Burst,
		RefillAmount:   plan.Burst,
		RefillInterval: b.refillInterval,
		TTL:            b.ttl,
	}, b.cfg.Now())
	if err != nil {
		b.log.Error("burst check failed", zap.String("tenant_id", tenant), zap.Error(err))
		return storeFailure("Burst limiter failure", err)
	}

	req.Usage.BurstLimit = plan.Burst
	req.Usage.BurstRemaining = res.Remaining

	if !res.Allowed {
		return burstLimitExceeded(res.Remaining, b.refillInterval)
	}

	return nil
}
