package gateway

import (
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
func metricsHandler(deps Deps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		counter := func(name, help string, v int64) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
		}
		gauge := func(name, help string, v float64) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %g\n", name, help, name, name, v)
		}

		counter("modelrelay_requests_total", "Conversation requests received.", metrics.RequestsTotal.Load())
		counter("modelrelay_errors_total", "Conversation requests that ended in an error.", metrics.ErrorsTotal.Load())
		counter("modelrelay_chunks_sent_total", "Chunks written to clients.", metrics.ChunksSent.Load())
		counter("modelrelay_ws_connections_total", "Websocket conversations accepted.", metrics.WSConnections.Load())
		gauge("modelrelay_adapters_working", "Adapters currently marked working.", float64(len(deps.Catalog.Working())))
		gauge("modelrelay_uptime_seconds", "Seconds since the server started.", float64(int64(time.Since(startTime).Seconds())))

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		gauge("go_goroutines", "Number of goroutines.", float64(runtime.NumGoroutine()))
		gauge("go_memstats_alloc_bytes", "Bytes of allocated heap objects.", float64(mem.Alloc))
		gauge("go_memstats_sys_bytes", "Total bytes of memory obtained from the OS.", float64(mem.Sys))
	}
}
