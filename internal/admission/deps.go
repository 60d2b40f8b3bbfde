package admission

import (
	"context"
	"time"
)

// Cache is the fast store as seen by the resolvers. Get must return
// redis.Nil when the key does not exist.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Guard wraps every durable directory call, typically a circuit breaker.
type Guard interface {
	Call(fn func() error) error
}

type unguarded struct{}

func (unguarded) Call(fn func() error) error { return fn() }

// Observer receives admission events for metrics.
type Observer interface {
	StageCompleted(stage, outcome string, elapsed time.Duration)
	CacheLookup(cache string, hit bool)
	SoftOverage(plan string)
}

type nopObserver struct{}

func (nopObserver) StageCompleted(string, string, time.Duration) {}
func (nopObserver) CacheLookup(string, bool)                     {}
func (nopObserver) SoftOverage(string)                           {}

// ResolverConfig configures the identity and plan resolvers.
type ResolverConfig struct {
	CacheTTL    time.Duration
	CallTimeout time.Duration
	Breaker     Guard
	Observer    Observer
}

func (c ResolverConfig) withDefaults(ttl time.Duration) ResolverConfig {
	if c.CacheTTL <= 0 {
		c.CacheTTL = ttl
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Breaker == nil {
		c.Breaker = unguarded{}
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}

// LimiterConfig configures the three limiter stages.
type LimiterConfig struct {
	CallTimeout time.Duration
	Now         func() time.Time
}

func (c LimiterConfig) withDefaults() LimiterConfig {
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

const DefaultCallTimeout = 500 * time.Millisecond

// ceilSeconds rounds d up to whole seconds, with a floor of one second.
func ceilSeconds(d time.Duration) time.Duration {
	secs := (d + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}
