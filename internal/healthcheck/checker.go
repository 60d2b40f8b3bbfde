package healthcheck

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Probe checks one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// Checker periodically probes the gateway's dependencies
type Checker struct {
	mu           sync.RWMutex
	probes       map[string]Probe
	names        []string
	healthStatus map[string]*Status
	interval     time.Duration
	timeout      time.Duration
	maxFailures  int
	stopChan     chan struct{}
	running      bool
	log          *zap.Logger
}

// Holds health checker configuration
type Config struct {
	Interval    time.Duration // How often to probe (default: 10s)
	Timeout     time.Duration // Per-probe timeout (default: 2s)
	MaxFailures int           // Failures before marking unhealthy (default: 1)
}

func NewChecker(cfg *Config, log *zap.Logger) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 1
	}

	return &Checker{
		probes:       make(map[string]Probe),
		healthStatus: make(map[string]*Status),
		interval:     cfg.Interval,
		timeout:      cfg.Timeout,
		maxFailures:  cfg.MaxFailures,
		stopChan:     make(chan struct{}),
		log:          log.Named("healthcheck"),
	}
}

// Register adds a dependency. It is assumed healthy until probed.
func (c *Checker) Register(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.probes[name]; !exists {
		c.names = append(c.names, name)
		sort.Strings(c.names)
	}
	c.probes[name] = probe
	c.healthStatus[name] = &Status{
		Name:      name,
		IsHealthy: true,
		LastCheck: time.Now(),
	}
}

// Begins periodic probing
func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	dependencies := len(c.names)
	c.mu.Unlock()

	c.log.Info("starting dependency health checks",
		zap.Int("dependencies", dependencies),
		zap.Duration("interval", c.interval),
	)

	c.CheckNow(context.Background())

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.CheckNow(context.Background())
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
		c.log.Info("health checker stopped")
	}
}

// CheckNow probes every dependency concurrently and waits for the results.
func (c *Checker) CheckNow(ctx context.Context) {
	c.mu.RLock()
	probes := make(map[string]Probe, len(c.probes))
	for name, probe := range c.probes {
		probes[name] = probe
	}
	c.mu.RUnlock()

	var wg sync.WaitGroup
	for name, probe := range probes {
		wg.Add(1)
		go func(name string, probe Probe) {
			defer wg.Done()
			c.check(ctx, name, probe)
		}(name, probe)
	}
	wg.Wait()
}

func (c *Checker) check(ctx context.Context, name string, probe Probe) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := probe(ctx)
	latency := time.Since(start)

	if err != nil {
		c.recordFailure(name, latency, err)
		return
	}
	c.recordSuccess(name, latency)
}

func (c *Checker) recordSuccess(name string, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.healthStatus[name]
	status.LastCheck = time.Now()
	status.LastSuccess = status.LastCheck
	status.Latency = latency
	status.FailureCount = 0
	status.LastError = ""

	if !status.IsHealthy {
		c.log.Info("dependency recovered", zap.String("dependency", name))
		status.IsHealthy = true
	}
}

func (c *Checker) recordFailure(name string, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.healthStatus[name]
	status.LastCheck = time.Now()
	status.LastFailure = status.LastCheck
	status.Latency = latency
	status.FailureCount++
	status.LastError = err.Error()

	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.log.Warn("dependency unhealthy",
			zap.String("dependency", name),
			zap.Int("failures", status.FailureCount),
			zap.Error(err),
		)
		status.IsHealthy = false
	}
}

// Return the health status of a dependency, nil if unknown
func (c *Checker) GetStatus(name string) *Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if status, exists := c.healthStatus[name]; exists {
		statusCopy := *status
		return &statusCopy
	}

	return nil
}

// Returns the status of every dependency, ordered by name
func (c *Checker) GetAllStatus() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses := make([]Status, 0, len(c.names))
	for _, name := range c.names {
		statuses = append(statuses, *c.healthStatus[name])
	}

	return statuses
}

// Returns the overall health status
func (c *Checker) OverallHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	healthy := 0
	for _, status := range c.healthStatus {
		if status.IsHealthy {
			healthy++
		}
	}

	if len(c.healthStatus) > 0 && healthy == 0 {
		return Unhealthy
	}
	if healthy < len(c.healthStatus) {
		return Degraded
	}

	return Healthy
}
