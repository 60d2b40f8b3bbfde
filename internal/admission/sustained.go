package admission

import (
	"context"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	StageSustained = "sustained"

	DefaultWindow = 60 * time.Second
)

// WindowHitter is the atomic sliding-window operation.
type WindowHitter interface {
	Hit(ctx context.Context, tenant string, window time.Duration, limit int64, now time.Time) (ratelimit.WindowResult, error)
}

// SustainedLimiter caps a tenant's requests over a rolling window at the
// plan's sustained rate.
type SustainedLimiter struct {
	window WindowHitter
	size   time.Duration
	cfg    LimiterConfig
	log    *zap.Logger
}

func NewSustainedLimiter(window WindowHitter, size time.Duration, cfg LimiterConfig, log *zap.Logger) *SustainedLimiter {
	if size < time.Second {
		size = DefaultWindow
	}

	return &SustainedLimiter{
		window: window,
		size:   size,
		cfg:    cfg.withDefaults(),
		log:    log.Named(StageSustained),
	}
}

func (s *SustainedLimiter) Name() string { return StageSustained }

func (s *SustainedLimiter) Admit(ctx context.Context, req *Request) error {
	tenant, plan, err := req.limiterContext("Rate limiter")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	now := s.cfg.Now()
	res, err := s.window.Hit(ctx, tenant, s.size, plan.Rate, now)
	if err != nil {
		s.log.Error("sustained rate check failed", zap.String("tenant_id", tenant), zap.Error(err))
		return storeFailure("Rate limiter failure", err)
	}

	req.Usage.SustainedLimit = plan.Rate
	req.Usage.SustainedCount = res.Effective

	if !res.Allowed {
		retry := ceilSeconds(ratelimit.NextEpoch(now, s.size).Sub(now))
		return rateLimitExceeded(plan.Rate, res.Effective, s.size, retry)
	}

	return nil
}
