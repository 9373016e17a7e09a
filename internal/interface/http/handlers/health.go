// Package handlers contains health checks and middleware shared by the
// reader and progress store servers.
package handlers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker reports the state of the legs a server depends on.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// Status is the overall state of a server.
type Status string

const (
	// StatusOK: every leg answers.
	StatusOK Status = "ok"
	// StatusDegraded: only the remote store is down. The reader keeps serving
	// from the local cache and remote pushes are dropped.
	StatusDegraded Status = "degraded"
	// StatusUnavailable: the catalog, the local cache or the database is down.
	StatusUnavailable Status = "unavailable"
)

// Leg names as reported under "checks".
const (
	LegCatalog     = "catalog"
	LegLocalCache  = "local_cache"
	LegRemoteStore = "remote_store"
	LegDatabase    = "database"
)

// HealthStatus is the body of /health.
type HealthStatus struct {
	Status  Status `json:"status"`
	Healthy bool   `json:"healthy"`
	Ready   bool   `json:"ready"`
	Message string `json:"message,omitempty"`

	Checks map[string]LegResult `json:"checks,omitempty"`

	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// LegResult is the outcome of one leg's check.
type LegResult struct {
	Healthy  bool   `json:"healthy"`
	Required bool   `json:"required"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Pinger is implemented by the local caches, the remote store client and
// the database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

type legCheck func(ctx context.Context) error

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

const legTimeout = 5 * time.Second

// CompositeHealthChecker runs every leg's check concurrently. A failing
// required leg makes the server unavailable, a failing optional one only
// degrades it.
type CompositeHealthChecker struct {
	mu        sync.RWMutex
	legs      map[string]legCheck
	required  map[string]bool
	startTime time.Time
	version   string
}

func newCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		legs:      make(map[string]legCheck),
		required:  make(map[string]bool),
		startTime: time.Now(),
		version:   version,
	}
}

// NewReaderHealth checks a reader: the catalog must hold items and the local
// cache must answer. Attach the remote store with WatchRemoteStore.
func NewReaderHealth(version string, cache Pinger, catalogItems func() int) *CompositeHealthChecker {
	c := newCompositeHealthChecker(version)
	c.add(LegLocalCache, cache.Ping, true)
	c.add(LegCatalog, func(context.Context) error {
		if catalogItems() == 0 {
			return errors.New("catalog is empty")
		}
		return nil
	}, true)
	return c
}

// WatchRemoteStore adds the remote progress store as an optional leg.
func (c *CompositeHealthChecker) WatchRemoteStore(remote Pinger) *CompositeHealthChecker {
	c.add(LegRemoteStore, remote.Ping, false)
	return c
}

// NewStoreHealth checks a progress store server: the database must answer.
func NewStoreHealth(version string, db Pinger) *CompositeHealthChecker {
	c := newCompositeHealthChecker(version)
	c.add(LegDatabase, db.Ping, true)
	return c
}

func (c *CompositeHealthChecker) add(name string, check legCheck, required bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.legs[name] = check
	c.required[name] = required
}

// Check runs all legs and aggregates them.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	legs := make(map[string]legCheck, len(c.legs))
	required := make(map[string]bool, len(c.required))
	for name, check := range c.legs {
		legs[name] = check
		required[name] = c.required[name]
	}
	c.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusOK,
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]LegResult, len(legs)),
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	type outcome struct {
		name   string
		result LegResult
	}
	results := make(chan outcome, len(legs))

	var wg sync.WaitGroup
	for name, check := range legs {
		wg.Add(1)
		go func(name string, check legCheck) {
			defer wg.Done()

			legCtx, cancel := context.WithTimeout(ctx, legTimeout)
			defer cancel()

			start := time.Now()
			err := check(legCtx)
			result := LegResult{
				Healthy:  err == nil,
				Required: required[name],
				Message:  "OK",
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				result.Message = err.Error()
			}
			results <- outcome{name, result}
		}(name, check)
	}
	wg.Wait()
	close(results)

	var down, degraded []string
	for r := range results {
		status.Checks[r.name] = r.result
		switch {
		case r.result.Healthy:
		case r.result.Required:
			down = append(down, r.name)
		default:
			degraded = append(degraded, r.name)
		}
	}

	sort.Strings(down)
	sort.Strings(degraded)
	switch {
	case len(down) > 0:
		status.Status = StatusUnavailable
		status.Healthy = false
		status.Ready = false
		status.Message = "Unavailable: " + strings.Join(down, ", ")
	case len(degraded) > 0:
		status.Status = StatusDegraded
		status.Message = "Degraded: " + strings.Join(degraded, ", ")
	default:
		status.Message = "All checks passed"
	}
	return status
}

// ══════════════════════════════════════════════════════════════════════════════
// NOOP
// ══════════════════════════════════════════════════════════════════════════════

// NoopHealthChecker is healthy with no legs. Servers fall back to it.
type NoopHealthChecker struct {
	startTime time.Time
}

// NewNoopHealthChecker creates a new noop health checker.
func NewNoopHealthChecker() *NoopHealthChecker {
	return &NoopHealthChecker{startTime: time.Now()}
}

// Check always reports StatusOK.
func (n *NoopHealthChecker) Check(context.Context) HealthStatus {
	return HealthStatus{
		Status:    StatusOK,
		Healthy:   true,
		Ready:     true,
		Message:   "OK",
		Uptime:    time.Since(n.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
}
