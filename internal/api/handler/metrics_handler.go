package handler

import "net/http"

// DepthFunc reports how many messages wait in a queue.
type DepthFunc func(queue string) (int, error)

// MetricsHandler serves a human-readable JSON snapshot of the consumer.
// Raw Prometheus metrics (counters, histograms) are available at /metrics
// via promhttp.Handler and are separate from this endpoint.
type MetricsHandler struct {
	consumer Consumer
	depth    DepthFunc
}

// NewMetricsHandler builds the snapshot handler. depth may be nil when the
// broker cannot report queue depth.
func NewMetricsHandler(consumer Consumer, depth DepthFunc) *MetricsHandler {
	return &MetricsHandler{consumer: consumer, depth: depth}
}

// GetMetrics handles GET /api/v1/metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	status := h.consumer.Status()
	out := map[string]any{
		"consumer": status,
	}
	if h.depth != nil {
		if n, err := h.depth(status.Queue); err == nil {
			out["queue_depth"] = n
		}
	}
	respondJSON(w, http.StatusOK, out)
}
