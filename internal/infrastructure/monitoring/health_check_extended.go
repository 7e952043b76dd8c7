package monitoring

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"micstream/pkg/circuitbreaker"
)

// AddCatalogCheck adds a recording catalog health check
func (h *HealthChecker) AddCatalogCheck(ping func(ctx context.Context) error, interval, timeout time.Duration) {
	h.AddCheck("catalog", func(ctx context.Context) (bool, error) {
		if err := ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddDirectoryCheck verifies that recordings can be created in dir.
func (h *HealthChecker) AddDirectoryCheck(dir string, interval, timeout time.Duration) {
	h.AddCheck("recordings_dir", func(ctx context.Context) (bool, error) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
		probe, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			return false, fmt.Errorf("recordings directory not writable: %w", err)
		}
		name := probe.Name()
		probe.Close()
		return true, os.Remove(filepath.Clean(name))
	}, interval, timeout)
}

// AddBreakerCheck reports unhealthy while the circuit is open.
func (h *HealthChecker) AddBreakerCheck(name string, state func() circuitbreaker.State, interval time.Duration) {
	h.AddCheck(name, func(ctx context.Context) (bool, error) {
		if s := state(); s == circuitbreaker.StateOpen {
			return false, fmt.Errorf("circuit %s", s)
		}
		return true, nil
	}, interval, 0)
}

// GetReadinessStatus returns readiness status for load balancer
func (h *HealthChecker) GetReadinessStatus(ctx context.Context) HealthStatus {
	return h.CheckAll(ctx)
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	status := h.CheckAll(ctx)
	return status.Status == "healthy"
}
