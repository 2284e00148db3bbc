// Package monitoring collects runtime counters and serves them in
// Prometheus text format.
package monitoring

import (
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics holds the raw counters. All fields are updated atomically.
type Metrics struct {
	SessionsStarted uint64
	ActiveSessions  int64

	TurnsTotal        uint64
	StreamErrorsTotal uint64
	TokensUsed        uint64

	ToolCallsTotal   uint64
	ToolCallsSuccess uint64
	ToolCallsFailed  uint64
	ToolLatencySum   uint64
	ToolLatencyCount uint64

	EventsDroppedTotal uint64
	CompactionsTotal   uint64

	StartTime time.Time
}

// Monitor is the process-wide metrics collector.
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
}

func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics: &Metrics{StartTime: time.Now()},
		logger:  logger,
	}
}

func (m *Monitor) IncSessionStarted() { atomic.AddUint64(&m.metrics.SessionsStarted, 1) }
func (m *Monitor) IncTurn()           { atomic.AddUint64(&m.metrics.TurnsTotal, 1) }
func (m *Monitor) IncStreamError()    { atomic.AddUint64(&m.metrics.StreamErrorsTotal, 1) }
func (m *Monitor) IncToolCall()       { atomic.AddUint64(&m.metrics.ToolCallsTotal, 1) }
func (m *Monitor) IncToolSuccess()    { atomic.AddUint64(&m.metrics.ToolCallsSuccess, 1) }
func (m *Monitor) IncToolFailed()     { atomic.AddUint64(&m.metrics.ToolCallsFailed, 1) }
func (m *Monitor) IncEventDropped()   { atomic.AddUint64(&m.metrics.EventsDroppedTotal, 1) }
func (m *Monitor) IncCompaction()     { atomic.AddUint64(&m.metrics.CompactionsTotal, 1) }

func (m *Monitor) AddTokensUsed(n int) {
	if n > 0 {
		atomic.AddUint64(&m.metrics.TokensUsed, uint64(n))
	}
}

func (m *Monitor) SetActiveSessions(n int64) {
	atomic.StoreInt64(&m.metrics.ActiveSessions, n)
}

func (m *Monitor) RecordToolLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.ToolLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.ToolLatencyCount, 1)
}

// Stats returns the current counters for the debug endpoint.
func (m *Monitor) Stats() map[string]any {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime)
	avgToolMs := float64(0)
	if count := atomic.LoadUint64(&m.metrics.ToolLatencyCount); count > 0 {
		avgToolMs = float64(atomic.LoadUint64(&m.metrics.ToolLatencySum)) / float64(count) / 1e6
	}

	return map[string]any{
		"uptime_seconds":     uptime.Seconds(),
		"sessions_started":   atomic.LoadUint64(&m.metrics.SessionsStarted),
		"active_sessions":    atomic.LoadInt64(&m.metrics.ActiveSessions),
		"turns_total":        atomic.LoadUint64(&m.metrics.TurnsTotal),
		"stream_errors":      atomic.LoadUint64(&m.metrics.StreamErrorsTotal),
		"tokens_used":        atomic.LoadUint64(&m.metrics.TokensUsed),
		"tool_calls_total":   atomic.LoadUint64(&m.metrics.ToolCallsTotal),
		"tool_calls_success": atomic.LoadUint64(&m.metrics.ToolCallsSuccess),
		"tool_calls_failed":  atomic.LoadUint64(&m.metrics.ToolCallsFailed),
		"events_dropped":     atomic.LoadUint64(&m.metrics.EventsDroppedTotal),
		"compactions_total":  atomic.LoadUint64(&m.metrics.CompactionsTotal),
		"avg_tool_ms":        avgToolMs,
		"memory_mb":          float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":         runtime.NumGoroutine(),
	}
}
