package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler serves the counters in Prometheus text exposition
// format without pulling in the full client library. Mount at /metrics.
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		lines := []struct {
			name string
			help string
			typ  string
			val  any
		}{
			{"skiff_sessions_started_total", "Total sessions started", "counter", atomic.LoadUint64(&m.metrics.SessionsStarted)},
			{"skiff_active_sessions", "Sessions currently loaded", "gauge", atomic.LoadInt64(&m.metrics.ActiveSessions)},

			{"skiff_turns_total", "Total inference turns completed", "counter", atomic.LoadUint64(&m.metrics.TurnsTotal)},
			{"skiff_stream_errors_total", "Total provider stream failures", "counter", atomic.LoadUint64(&m.metrics.StreamErrorsTotal)},
			{"skiff_tokens_used_total", "Total tokens reported by providers", "counter", atomic.LoadUint64(&m.metrics.TokensUsed)},

			{"skiff_tool_calls_total", "Total tool executions", "counter", atomic.LoadUint64(&m.metrics.ToolCallsTotal)},
			{"skiff_tool_calls_success_total", "Total successful tool executions", "counter", atomic.LoadUint64(&m.metrics.ToolCallsSuccess)},
			{"skiff_tool_calls_failed_total", "Total failed tool executions", "counter", atomic.LoadUint64(&m.metrics.ToolCallsFailed)},

			{"skiff_events_dropped_total", "Total events dropped from subscriber backlogs", "counter", atomic.LoadUint64(&m.metrics.EventsDroppedTotal)},
			{"skiff_compactions_total", "Total transcript compactions", "counter", atomic.LoadUint64(&m.metrics.CompactionsTotal)},

			{"skiff_uptime_seconds", "Process uptime in seconds", "gauge", uptime},
			{"skiff_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"skiff_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		if count := atomic.LoadUint64(&m.metrics.ToolLatencyCount); count > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.ToolLatencySum)) / float64(count) / 1e6
			fmt.Fprintf(w, "# HELP skiff_tool_latency_avg_ms Average tool execution latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE skiff_tool_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "skiff_tool_latency_avg_ms %f\n\n", avgMs)
		}
	})
}
