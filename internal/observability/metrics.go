package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// moduleMetrics is the process-wide Prometheus instrument set for the
// pieces that run on every turn: session load/save, memory
// search/write, tool execution, and the LLM client's per-provider
// call breakdown plus Bedrock account cooldowns.
type moduleMetrics struct {
	activeSessions       prometheus.Gauge
	sessionLoadDuration  prometheus.Histogram
	sessionSaveDuration  prometheus.Histogram
	memorySearchDuration prometheus.Histogram
	memoryWriteDuration  prometheus.Histogram
	memoryEntriesTotal   prometheus.Gauge

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentErrorsTotal *prometheus.CounterVec
	providerCooldown *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
}

func gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
}

func histogram(name, help string, buckets []float64) prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets})
}

func histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		// Store and memory operations are sub-second; LLM calls run
		// seconds to minutes, so they get their own wider buckets.
		fastBuckets := prometheus.DefBuckets
		llmBuckets := prometheus.ExponentialBuckets(0.25, 2, 12)

		m := &moduleMetrics{
			activeSessions:       gauge("active_sessions", "Current active (non-cancelling) session count."),
			sessionLoadDuration:  histogram("session_load_duration_seconds", "Session load duration in seconds.", fastBuckets),
			sessionSaveDuration:  histogram("session_save_duration_seconds", "Session save duration in seconds.", fastBuckets),
			memorySearchDuration: histogram("memory_search_duration_seconds", "Memory recall duration in seconds.", fastBuckets),
			memoryWriteDuration:  histogram("memory_write_duration_seconds", "Memory index sync duration in seconds.", fastBuckets),
			memoryEntriesTotal:   gauge("memory_entries_total", "Total memory chunks indexed."),

			toolExecutionTotal:    counterVec("tool_execution_total", "Tool executions by tool and status.", "tool", "status"),
			toolExecutionDuration: histogramVec("tool_execution_duration_seconds", "Tool execution duration in seconds by tool.", fastBuckets, "tool"),
			toolErrorsTotal:       counterVec("tool_errors_total", "Tool execution errors by tool.", "tool"),

			agentRunTotal:    counterVec("agent_run_total", "LLM client calls by provider and status.", "provider", "status"),
			agentRunDuration: histogramVec("agent_run_duration_seconds", "LLM client call duration in seconds by provider.", llmBuckets, "provider"),
			agentErrorsTotal: counterVec("agent_errors_total", "LLM client call errors by provider.", "provider"),
			providerCooldown: gaugeVec("provider_cooldown_active", "Bedrock account cooldown state (1 throttled, 0 clear).", "account"),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionLoadDuration, m.sessionSaveDuration,
			m.memorySearchDuration, m.memoryWriteDuration, m.memoryEntriesTotal,
			m.toolExecutionTotal, m.toolExecutionDuration, m.toolErrorsTotal,
			m.agentRunTotal, m.agentRunDuration, m.agentErrorsTotal,
			m.providerCooldown,
		)
		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered initializes and registers the instrument set the
// first time it is called.
func EnsureRegistered() { _ = getMetrics() }

// MetricsHandler returns the scrape endpoint handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionLoad(d time.Duration) {
	getMetrics().sessionLoadDuration.Observe(d.Seconds())
}

func RecordSessionSave(d time.Duration) {
	getMetrics().sessionSaveDuration.Observe(d.Seconds())
}

func RecordMemorySearch(d time.Duration) {
	getMetrics().memorySearchDuration.Observe(d.Seconds())
}

func RecordMemoryWrite(d time.Duration) {
	getMetrics().memoryWriteDuration.Observe(d.Seconds())
}

func SetMemoryEntries(total int) {
	getMetrics().memoryEntriesTotal.Set(float64(total))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordToolExecution records one tool call's outcome and duration.
func RecordToolExecution(tool string, d time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(d.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

// RecordAgentRun records one LLM client call keyed by provider
// ("bedrock", "anthropic"); the client calls this once per call via a
// deferred closure, regardless of outcome.
func RecordAgentRun(provider string, d time.Duration, success bool) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(provider, statusLabel(success)).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(d.Seconds())
	if !success {
		m.agentErrorsTotal.WithLabelValues(provider).Inc()
	}
}

// SetProviderCooldown marks a Bedrock account as throttled, or clears
// the mark on the next successful call through that account.
func SetProviderCooldown(account string, active bool) {
	value := 0.0
	if active {
		value = 1.0
	}
	getMetrics().providerCooldown.WithLabelValues(account).Set(value)
}
