package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HealthStatus is the status of one checked component.
type HealthStatus string

const (
	HealthStatusOK        HealthStatus = "ok"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth is the result of one named health check.
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms,omitempty"`
}

// HealthCheckResponse is the aggregate response served at /health.
type HealthCheckResponse struct {
	Status        HealthStatus               `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Timestamp     string                     `json:"timestamp"`
	Checks        map[string]ComponentHealth `json:"checks"`
}

// HealthCheckFunc reports one component's health.
type HealthCheckFunc func(ctx context.Context) ComponentHealth

// HealthChecker aggregates named component checks.
type HealthChecker struct {
	version   string
	startTime time.Time
	checks    map[string]HealthCheckFunc
}

// NewHealthChecker constructs an empty checker; startTime is recorded now.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]HealthCheckFunc),
	}
}

// RegisterCheck adds a named component check.
func (hc *HealthChecker) RegisterCheck(name string, fn HealthCheckFunc) {
	hc.checks[name] = fn
}

// Check runs every registered check and rolls them up into one status: the
// worst individual status wins.
func (hc *HealthChecker) Check(ctx context.Context) HealthCheckResponse {
	resp := HealthCheckResponse{
		Status:        HealthStatusOK,
		Version:       hc.version,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Timestamp:     time.Now().Format(time.RFC3339),
		Checks:        make(map[string]ComponentHealth),
	}
	for name, fn := range hc.checks {
		h := fn(ctx)
		resp.Checks[name] = h
		if h.Status == HealthStatusUnhealthy {
			resp.Status = HealthStatusUnhealthy
		} else if h.Status == HealthStatusDegraded && resp.Status != HealthStatusUnhealthy {
			resp.Status = HealthStatusDegraded
		}
	}
	return resp
}

// Handler serves the aggregate health response over HTTP.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := hc.Check(ctx)
		w.Header().Set("Content-Type", "application/json")
		switch resp.Status {
		case HealthStatusOK, HealthStatusDegraded:
			w.WriteHeader(http.StatusOK)
		case HealthStatusUnhealthy:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// MasterConnCheck reports whether the master connection is up.
func MasterConnCheck(connected func() bool, addr string) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		if connected() {
			return ComponentHealth{Status: HealthStatusOK, Message: fmt.Sprintf("connected to %s", addr)}
		}
		return ComponentHealth{Status: HealthStatusDegraded, Message: fmt.Sprintf("not connected to %s", addr)}
	}
}

// FoldersCheck reports unhealthy if every configured folder is damaged.
func FoldersCheck(damaged, total func() int) HealthCheckFunc {
	return func(ctx context.Context) ComponentHealth {
		d, t := damaged(), total()
		if t == 0 {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: "no folders configured"}
		}
		if d == t {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: "every folder damaged"}
		}
		if d > 0 {
			return ComponentHealth{Status: HealthStatusDegraded, Message: fmt.Sprintf("%d/%d folders damaged", d, t)}
		}
		return ComponentHealth{Status: HealthStatusOK}
	}
}
