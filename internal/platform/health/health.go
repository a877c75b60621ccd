// Package health provides liveness and readiness probes for services
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ErrDegraded marks a check result that should be reported without failing
// readiness, such as migrations waiting to be applied.
var ErrDegraded = errors.New("degraded")

// Degraded returns an error that reports the check as degraded
func Degraded(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDegraded, fmt.Sprintf(format, args...))
}

// Check is the outcome of a single checker
type Check struct {
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Report is the readiness response
type Report struct {
	Status    Status   `json:"status"`
	Timestamp string   `json:"timestamp"`
	Service   string   `json:"service,omitempty"`
	Version   string   `json:"version,omitempty"`
	Uptime    float64  `json:"uptime_seconds"`
	Checks    []*Check `json:"checks,omitempty"`
}

// Checker reports whether a dependency is usable
type Checker func(ctx context.Context) error

// Handler runs the registered checkers for readiness
type Handler struct {
	mu        sync.RWMutex
	checks    map[string]Checker
	service   string
	version   string
	timeout   time.Duration
	startTime time.Time
}

// NewHandler creates a new health handler
func NewHandler(service, version string) *Handler {
	return &Handler{
		checks:    make(map[string]Checker),
		service:   service,
		version:   version,
		timeout:   5 * time.Second,
		startTime: time.Now(),
	}
}

// AddCheck registers a checker under name, replacing any previous one
func (h *Handler) AddCheck(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = checker
}

// Check runs all checkers concurrently. Any failure makes the report
// unhealthy; degraded results only lower a healthy report to degraded.
func (h *Handler) Check(ctx context.Context) *Report {
	h.mu.RLock()
	checks := make(map[string]Checker, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	report := &Report{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Service:   h.service,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Seconds(),
		Checks:    make([]*Check, 0, len(checks)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, checker := range checks {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			start := time.Now()
			err := checker(ctx)
			check := &Check{
				Name:      name,
				Status:    StatusHealthy,
				LatencyMs: time.Since(start).Milliseconds(),
			}
			switch {
			case err == nil:
			case errors.Is(err, ErrDegraded):
				check.Status = StatusDegraded
				check.Message = err.Error()
			default:
				check.Status = StatusUnhealthy
				check.Message = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			report.Checks = append(report.Checks, check)
			switch {
			case check.Status == StatusUnhealthy:
				report.Status = StatusUnhealthy
			case check.Status == StatusDegraded && report.Status == StatusHealthy:
				report.Status = StatusDegraded
			}
		}(name, checker)
	}
	wg.Wait()

	sort.Slice(report.Checks, func(i, j int) bool { return report.Checks[i].Name < report.Checks[j].Name })
	return report
}

// LivenessHandler returns an HTTP handler for the liveness probe
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler returns an HTTP handler for the readiness probe. Only an
// unhealthy report answers 503.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		report := h.Check(ctx)
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
