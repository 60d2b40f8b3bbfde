package admission

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"go.uber.org/zap"
)

const StageQuota = "quota"

// UsageCounter is the atomic monthly increment.
type UsageCounter interface {
	Increment(ctx context.Context, tenant string, now time.Time) (ratelimit.QuotaUsage, error)
}

// QuotaEnforcer counts every request that reaches it against the tenant's
// monthly quota. Hard plans are rejected past the quota; soft plans are
// admitted and flagged.
type QuotaEnforcer struct {
	counter UsageCounter
	cfg     LimiterConfig
	log     *zap.Logger
}

func NewQuotaEnforcer(counter UsageCounter, cfg LimiterConfig, log *zap.Logger) *QuotaEnforcer {
	return &QuotaEnforcer{
		counter: counter,
		cfg:     cfg.withDefaults(),
		log:     log.Named(StageQuota),
	}
}

func (q *QuotaEnforcer) Name() string { return StageQuota }

func (q *QuotaEnforcer) Admit(ctx context.Context, req *Request) error {
	tenant, plan, err := req.limiterContext("Quota")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, q.cfg.CallTimeout)
	defer cancel()

	now := q.cfg.Now()
	usage, err := q.counter.Increment(ctx, tenant, now)
	if err != nil {
		q.log.Error("quota increment failed", zap.String("tenant_id", tenant), zap.Error(err))
		return storeFailure("Quota failure", err)
	}

	req.Usage.QuotaLimit = plan.MonthlyQuota
	req.Usage.QuotaUsed = usage.Used
	req.Usage.Period = usage.Period

	if usage.Used <= plan.MonthlyQuota {
		return nil
	}

	if !plan.SoftEnforced() {
		return quotaExceeded(plan.MonthlyQuota, usage.Used, usage.Period, ceilSeconds(usage.ResetAt.Sub(now)))
	}

	req.Usage.OverQuota = true
	q.log.Warn("soft quota exceeded",
		zap.String("tenant_id", tenant),
		zap.String("plan", plan.Name),
		zap.Int64("used", usage.Used),
		zap.Int64("limit", plan.MonthlyQuota),
		zap.String("period", usage.Period),
	)

	return nil
}
