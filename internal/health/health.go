// Package health aggregates per-subsystem probes for the /health endpoint.
// Subsystems (database, ledger mirror) register a Checker at startup and the
// server runs them all on each health request.
package health

import (
	"context"
	"sync"
)

// Status is one subsystem's verdict.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// OK reports a healthy subsystem.
func OK(name string) Status {
	return Status{Name: name, Healthy: true}
}

// Fail reports an unhealthy subsystem with a short human-readable reason.
func Fail(name, detail string) Status {
	return Status{Name: name, Healthy: false, Detail: detail}
}

// Checker probes one subsystem. It must respect ctx cancellation; a probe
// that hangs stalls the whole health endpoint.
type Checker func(ctx context.Context) Status

// Registry holds the registered checkers. Registration happens during server
// construction, CheckAll on every health request, so a RWMutex is enough.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name  string
	check Checker
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a checker. Checkers run in registration order.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs every checker and reports the aggregate: healthy only when
// all subsystems are healthy. The individual statuses are returned for the
// response body.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy = true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		statuses[i] = nc.check(ctx)
		if !statuses[i].Healthy {
			healthy = false
		}
	}

	return healthy, statuses
}
