package admission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type cacheWrite struct {
	key   string
	value string
	ttl   time.Duration
}

type fakeCache struct {
	mu     sync.Mutex
	data   map[string]string
	gets   int
	writes []cacheWrite
	getErr error
	setErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]string)}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gets++
	if c.getErr != nil {
		return "", c.getErr
	}
	val, ok := c.data[key]
	if !ok {
		return "", redis.Nil
	}
	return val, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s string
	switch v := value.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	}
	c.writes = append(c.writes, cacheWrite{key: key, value: s, ttl: ttl})

	if c.setErr != nil {
		return c.setErr
	}
	c.data[key] = s
	return nil
}

type fakeKeys struct {
	mu      sync.Mutex
	tenants map[string]uuid.UUID
	calls   int
	err     error
	block   bool
}

func (k *fakeKeys) FindTenantByKeyHash(ctx context.Context, hash string) (uuid.UUID, bool, error) {
	k.mu.Lock()
	k.calls++
	block, err := k.block, k.err
	id, ok := k.tenants[hash]
	k.mu.Unlock()

	if block {
		<-ctx.Done()
		return uuid.Nil, false, ctx.Err()
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return id, ok, nil
}

func (k *fakeKeys) callCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls
}

type fakePlans struct {
	mu    sync.Mutex
	plans map[uuid.UUID]*models.Plan
	calls int
	err   error
}

func (p *fakePlans) FindActivePlan(ctx context.Context, tenantID uuid.UUID) (*models.Plan, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.plans[tenantID], nil
}

type stageEvent struct {
	stage   string
	outcome string
}

type recordingObserver struct {
	mu       sync.Mutex
	stages   []stageEvent
	lookups  map[string][]bool
	overages []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{lookups: make(map[string][]bool)}
}

func (o *recordingObserver) StageCompleted(stage, outcome string, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stageEvent{stage: stage, outcome: outcome})
}

func (o *recordingObserver) CacheLookup(cache string, hit bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lookups[cache] = append(o.lookups[cache], hit)
}

func (o *recordingObserver) SoftOverage(plan string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.overages = append(o.overages, plan)
}

// tracer wraps a stage and records that it ran.
type tracer struct {
	Stage
	trace *[]string
}

func (t tracer) Admit(ctx context.Context, req *Request) error {
	*t.trace = append(*t.trace, t.Name())
	return t.Stage.Admit(ctx, req)
}

type stubStage struct {
	name string
	err  error
}

func (s stubStage) Name() string { return s.name }

func (s stubStage) Admit(ctx context.Context, req *Request) error { return s.err }

func newRedisStore(t *testing.T) (*miniredis.Miniredis, *storage.RedisClient) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, storage.NewRedisFromClient(client)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func requestWith(tenant uuid.UUID, plan Plan) *Request {
	req := NewRequest("")
	_ = req.SetTenant(tenant)
	req.SetPlan(plan)
	return req
}
