// Package health reports readiness of the service and the operating mode of
// each optional backend.
//
// Optional backends (managed model, graph, generator, extraction) never make
// the service unready: when one is missing or failing the service degrades
// to its fallback. Only checks registered as critical affect readiness.
package health

import (
	"context"
	"sync"
	"time"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 2 * time.Second

// Status represents the health of a single subsystem.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Mode     string `json:"mode,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name     string
	critical bool
	check    Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// Register adds an informational checker. Its result is reported but does
// not affect readiness.
func (r *Registry) Register(name string, check Checker) {
	r.add(name, false, check)
}

// RegisterCritical adds a checker that must pass for the service to be ready.
func (r *Registry) RegisterCritical(name string, check Checker) {
	r.add(name, true, check)
}

func (r *Registry) add(name string, critical bool, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, critical: critical, check: check})
	r.mu.Unlock()
}

// CheckAll runs every checker concurrently and reports whether all critical
// checks passed, plus the individual results in registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	timeout := r.timeout
	r.mu.RUnlock()

	statuses = make([]Status, len(checkers))
	var wg sync.WaitGroup
	for i, nc := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			st := nc.check(cctx)
			st.Name = nc.name
			st.Critical = nc.critical
			statuses[i] = st
		}()
	}
	wg.Wait()

	healthy = true
	for _, st := range statuses {
		if st.Critical && !st.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

// Mode returns a checker that reports a fixed backend mode. A degraded
// backend is reported unhealthy but, being informational, does not block
// readiness.
func Mode(mode string, degraded bool, detail string) Checker {
	return func(context.Context) Status {
		return Status{Healthy: !degraded, Mode: mode, Detail: detail}
	}
}

// Ping wraps a connectivity probe such as (*sql.DB).PingContext.
func Ping(ping func(context.Context) error) Checker {
	return func(ctx context.Context) Status {
		if err := ping(ctx); err != nil {
			return Status{Healthy: false, Detail: err.Error()}
		}
		return Status{Healthy: true}
	}
}
