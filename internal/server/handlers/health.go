// Package handlers implements the HTTP endpoints of gcodeml serve.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/3leaps/gcodeml/internal/server/middleware"
)

var errUnavailable = errors.New("service unavailable")

// Checker reports the health of one dependency.
type Checker interface {
	CheckHealth(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) CheckHealth(ctx context.Context) error { return f(ctx) }

// HealthResponse is the body of a healthy /health reply.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthManager runs the registered checkers for /health.
type HealthManager struct {
	version string
	timeout time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewHealthManager returns a manager with no checkers.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		timeout:  2 * time.Second,
		checkers: make(map[string]Checker),
	}
}

// RegisterChecker adds or replaces a named checker.
func (m *HealthManager) RegisterChecker(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

func (m *HealthManager) run(ctx context.Context) map[string]string {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names))
	for _, name := range names {
		m.mu.RLock()
		c := m.checkers[name]
		m.mu.RUnlock()

		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := c.CheckHealth(cctx)
		cancel()
		switch {
		case err == nil:
			results[name] = "healthy"
		case errors.Is(err, context.DeadlineExceeded):
			results[name] = "degraded"
		default:
			results[name] = "unhealthy: " + err.Error()
		}
	}
	return results
}

// HealthHandler serves /health: 200 when every checker passes, 503 with
// per-check details otherwise.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	checks := m.run(r.Context())
	details := make(map[string]any)
	for name, status := range checks {
		if status != "healthy" {
			details[name] = status
		}
	}
	if len(details) > 0 {
		middleware.WriteError(w, r, http.StatusServiceUnavailable, middleware.ErrorBody{
			Code:    "SERVICE_UNAVAILABLE",
			Message: errUnavailable.Error(),
			Details: details,
		})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

// LivenessHandler serves /health/live; it never runs checkers.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "alive", Version: m.version, Timestamp: time.Now().UTC()})
}
