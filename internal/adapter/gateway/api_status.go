package gateway

import (
	"net/http"
	"sync/atomic"
	"time"
)

// StatusResponse is the JSON body returned by GET /healthz.
type StatusResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Adapters      []string `json:"adapters"`
	Requests      int64    `json:"requests_total"`
	Errors        int64    `json:"errors_total"`
}

// Metrics tracks counters for the status and metrics endpoints.
type Metrics struct {
	RequestsTotal atomic.Int64
	ErrorsTotal   atomic.Int64
	ChunksSent    atomic.Int64
	WSConnections atomic.Int64
}

// statusHandler reports liveness. Status is "degraded" when no adapter is working.
func statusHandler(deps Deps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		working := deps.Catalog.Working()
		status := "ok"
		if len(working) == 0 {
			status = "degraded"
		}
		writeJSON(w, http.StatusOK, StatusResponse{
			Status:        status,
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Adapters:      working,
			Requests:      metrics.RequestsTotal.Load(),
			Errors:        metrics.ErrorsTotal.Load(),
		})
	}
}
