package healthcheck

import "time"

type Status struct {
	Name         string        `json:"name"`
	IsHealthy    bool          `json:"healthy"`
	LastCheck    time.Time     `json:"last_check"`
	LastSuccess  time.Time     `json:"last_success,omitempty"`
	LastFailure  time.Time     `json:"last_failure,omitempty"`
	Latency      time.Duration `json:"latency_ns"`
	FailureCount int           `json:"failure_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Represents overall health of the gateway
type HealthStatus int

const (
	Healthy HealthStatus = iota
	Degraded
	Unhealthy
)

func (h HealthStatus) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}
