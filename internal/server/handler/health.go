package handler

import (
	"net/http"

	"sealedbid/internal/telemetry"
)

// HealthHandler serves health and metrics.
type HealthHandler struct {
	checker *telemetry.HealthChecker
	metrics *telemetry.MetricsCollector
}

func NewHealthHandler(checker *telemetry.HealthChecker, metrics *telemetry.MetricsCollector) *HealthHandler {
	return &HealthHandler{checker: checker, metrics: metrics}
}

// HealthCheck GET /api/health. Responds 503 when a critical component fails.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.checker.CheckHealth(r.Context())
	status := http.StatusOK
	if health.OverallStatus == telemetry.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, telemetry.CreateHealthResponse(health))
}

// Metrics GET /api/metrics
func (h *HealthHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.GetMetricsSummary())
}
