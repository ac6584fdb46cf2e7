package http

import (
	"context"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/Strob0t/scmrelay/internal/port/messagequeue"
	"github.com/Strob0t/scmrelay/internal/port/upstream"
)

const probeTimeout = 5 * time.Second

// Health serves liveness, readiness and detailed health checks.
type Health struct {
	Service  string
	Upstream upstream.Pinger    // nil skips the upstream probe
	Queue    messagequeue.Queue // nil when relaying is disabled
	// BreakerState reports the upstream circuit breaker state.
	BreakerState func() string

	now func() time.Time
}

func (h *Health) timestamp() string {
	now := time.Now
	if h.now != nil {
		now = h.now
	}
	return now().UTC().Format(time.RFC3339)
}

type healthStatus struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Checks    any    `json:"checks,omitempty"`
}

// Basic handles GET /health.
func (h *Health) Basic(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{Status: "healthy", Timestamp: h.timestamp()})
}

// Probe handles GET /healthz.
func (h *Health) Probe(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{Status: "ok", Timestamp: h.timestamp(), Service: h.Service})
}

// Liveness handles GET /healthz/liveness.
func (h *Health) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{
		Status:    "ok",
		Timestamp: h.timestamp(),
		Service:   h.Service,
		Message:   "Service is running correctly",
	})
}

// Readiness handles GET /healthz/readiness. The service is not ready while
// the upstream circuit breaker is open.
func (h *Health) Readiness(w http.ResponseWriter, _ *http.Request) {
	if h.BreakerState != nil && h.BreakerState() == "open" {
		writeJSON(w, http.StatusServiceUnavailable, healthStatus{
			Status:    "unavailable",
			Timestamp: h.timestamp(),
			Service:   h.Service,
			Message:   "upstream circuit breaker is open",
		})
		return
	}
	writeJSON(w, http.StatusOK, healthStatus{
		Status:    "ok",
		Timestamp: h.timestamp(),
		Service:   h.Service,
		Message:   "Service is ready to accept traffic",
	})
}

type upstreamCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency"`
	Breaker string `json:"breaker,omitempty"`
}

type componentCheck struct {
	Status string `json:"status"`
}

type memoryCheck struct {
	Status     string `json:"status"`
	AllocBytes uint64 `json:"allocBytes"`
	SysBytes   uint64 `json:"sysBytes"`
	Goroutines int    `json:"goroutines"`
}

type detailedChecks struct {
	Upstream *upstreamCheck  `json:"upstream,omitempty"`
	NATS     *componentCheck `json:"nats,omitempty"`
	Memory   memoryCheck     `json:"memory"`
}

// Detailed handles GET /health/detailed. It measures a round trip to the
// upstream API and answers 503 when that fails.
func (h *Health) Detailed(w http.ResponseWriter, r *http.Request) {
	var checks detailedChecks

	if h.Upstream != nil {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		defer cancel()

		start := time.Now()
		if err := h.Upstream.Ping(ctx); err != nil {
			slog.ErrorContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, healthStatus{
				Status:    "unhealthy",
				Timestamp: h.timestamp(),
				Error:     "upstream API unreachable",
			})
			return
		}
		checks.Upstream = &upstreamCheck{
			Status:  "healthy",
			Latency: time.Since(start).Round(time.Millisecond).String(),
		}
		if h.BreakerState != nil {
			checks.Upstream.Breaker = h.BreakerState()
		}
	}

	if h.Queue != nil {
		status := "healthy"
		if !h.Queue.IsConnected() {
			status = "disconnected"
		}
		checks.NATS = &componentCheck{Status: status}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	checks.Memory = memoryCheck{
		Status:     "healthy",
		AllocBytes: ms.Alloc,
		SysBytes:   ms.Sys,
		Goroutines: runtime.NumGoroutine(),
	}

	writeJSON(w, http.StatusOK, healthStatus{Status: "healthy", Timestamp: h.timestamp(), Checks: checks})
}
