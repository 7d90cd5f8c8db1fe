// health.go - Component health checks for auctiond.

package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// defaultCheckTimeout bounds a single component check.
const defaultCheckTimeout = 3 * time.Second

// CheckFunc checks one dependency.
type CheckFunc func(ctx context.Context) error

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	Critical  bool          `json:"critical"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Uptime        string            `json:"uptime"`
	Version       string            `json:"version"`
}

type component struct {
	health ComponentHealth
	check  CheckFunc
}

// HealthChecker checks registered components. A failing critical component
// makes the system unhealthy; a failing optional one only degrades it.
type HealthChecker struct {
	mu         sync.Mutex
	components map[string]*component
	startTime  time.Time
	version    string
	timeout    time.Duration
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		components: make(map[string]*component),
		startTime:  time.Now(),
		version:    version,
		timeout:    defaultCheckTimeout,
	}
}

// RegisterComponent adds a check. Critical components are the store and the
// verifier; caches and archives are optional.
func (hc *HealthChecker) RegisterComponent(name string, critical bool, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.components[name] = &component{
		health: ComponentHealth{
			Name:      name,
			Status:    Healthy,
			Message:   "registered",
			Critical:  critical,
			LastCheck: time.Now(),
		},
		check: check,
	}
}

// CheckHealth runs every check and returns the aggregated status.
func (hc *HealthChecker) CheckHealth(ctx context.Context) *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	for _, c := range hc.components {
		if c.check == nil {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, hc.timeout)
		start := time.Now()
		err := c.check(cctx)
		cancel()

		c.health.Latency = time.Since(start)
		c.health.LastCheck = time.Now()
		switch {
		case err == nil:
			c.health.Status, c.health.Message = Healthy, "OK"
		case c.health.Critical:
			c.health.Status, c.health.Message = Unhealthy, err.Error()
		default:
			c.health.Status, c.health.Message = Degraded, err.Error()
		}
	}
	return hc.snapshot()
}

// GetHealth returns the result of the last CheckHealth without probing.
func (hc *HealthChecker) GetHealth() *SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.snapshot()
}

func (hc *HealthChecker) snapshot() *SystemHealth {
	overall := Healthy
	components := make([]ComponentHealth, 0, len(hc.components))
	for _, c := range hc.components {
		switch c.health.Status {
		case Unhealthy:
			overall = Unhealthy
		case Degraded:
			if overall == Healthy {
				overall = Degraded
			}
		}
		components = append(components, c.health)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	return &SystemHealth{
		OverallStatus: overall,
		Timestamp:     time.Now(),
		Components:    components,
		Uptime:        time.Since(hc.startTime).Round(time.Second).String(),
		Version:       hc.version,
	}
}

// HealthCheckResponse represents the response format for health check endpoints
type HealthCheckResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Data    *SystemHealth `json:"data,omitempty"`
}

// CreateHealthResponse creates a standardized health check response
func CreateHealthResponse(health *SystemHealth) *HealthCheckResponse {
	resp := &HealthCheckResponse{Status: "success", Message: "System is healthy", Data: health}
	switch health.OverallStatus {
	case Unhealthy:
		resp.Status, resp.Message = "error", "System is unhealthy"
	case Degraded:
		resp.Status, resp.Message = "warning", "System is degraded"
	}
	return resp
}
