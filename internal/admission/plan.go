package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	StagePlan = "plan"

	DefaultPlanCacheTTL = 300 * time.Second
)

// PlanDirectory looks up a tenant's plan in the durable directory. It returns
// nil without error when the tenant has no active plan.
type PlanDirectory interface {
	FindActivePlan(ctx context.Context, tenantID uuid.UUID) (*models.Plan, error)
}

func PlanCacheKey(tenantID string) string {
	return fmt.Sprintf("tenant:plan:%s", tenantID)
}

// PlanResolver attaches the tenant's plan snapshot, cache-aside over the fast
// store and the durable directory. Plan changes become visible once the cached
// snapshot expires.
type PlanResolver struct {
	cache     Cache
	directory PlanDirectory
	cfg       ResolverConfig
	log       *zap.Logger
}

func NewPlanResolver(cache Cache, directory PlanDirectory, cfg ResolverConfig, log *zap.Logger) *PlanResolver {
	return &PlanResolver{
		cache:     cache,
		directory: directory,
		cfg:       cfg.withDefaults(DefaultPlanCacheTTL),
		log:       log.Named(StagePlan),
	}
}

func (r *PlanResolver) Name() string { return StagePlan }

func (r *PlanResolver) Admit(ctx context.Context, req *Request) error {
	tenantID, ok := req.TenantID()
	if !ok {
		return missingTenant()
	}

	key := PlanCacheKey(tenantID.String())
	log := r.log.With(zap.String("tenant_id", tenantID.String()))

	plan, found, err := r.fromCache(ctx, key, log)
	if err != nil {
		log.Error("plan cache read failed", zap.Error(err))
		return resolverFailure("Plan resolution failed", err)
	}

	if !found {
		record, err := r.fromDirectory(ctx, tenantID)
		if err != nil {
			log.Error("plan lookup failed", zap.Error(err))
			return resolverFailure("Plan resolution failed", err)
		}
		if record == nil {
			log.Debug("no active plan for tenant")
			return planNotFound()
		}

		plan = PlanFromModel(record)
		r.store(ctx, key, plan, log)
	}

	req.SetPlan(plan)
	return nil
}

func (r *PlanResolver) fromCache(ctx context.Context, key string, log *zap.Logger) (Plan, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	raw, err := r.cache.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		r.cfg.Observer.CacheLookup(StagePlan, false)
		return Plan{}, false, nil
	}
	if err != nil {
		return Plan{}, false, err
	}

	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil || plan.ID == uuid.Nil || plan.Burst < 0 {
		log.Warn("discarding malformed plan cache entry", zap.Error(err))
		r.cfg.Observer.CacheLookup(StagePlan, false)
		return Plan{}, false, nil
	}
	plan.Enforcement = normalizeEnforcement(plan.Enforcement)

	log.Debug("plan cache hit")
	r.cfg.Observer.CacheLookup(StagePlan, true)
	return plan, true, nil
}

func (r *PlanResolver) fromDirectory(ctx context.Context, tenantID uuid.UUID) (*models.Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	var record *models.Plan
	err := r.cfg.Breaker.Call(func() error {
		var err error
		record, err = r.directory.FindActivePlan(ctx, tenantID)
		return err
	})

	return record, err
}

func (r *PlanResolver) store(ctx context.Context, key string, plan Plan, log *zap.Logger) {
	payload, err := json.Marshal(plan)
	if err != nil {
		log.Warn("failed to encode plan cache entry", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	if err := r.cache.Set(ctx, key, payload, r.cfg.CacheTTL); err != nil {
		log.Warn("plan cache write failed", zap.Error(err))
		return
	}

	log.Debug("plan cached", zap.String("plan", plan.Name))
}
