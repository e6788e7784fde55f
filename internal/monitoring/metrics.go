package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the sync engine. A nil
// *Metrics is valid everywhere and records nothing, so tests can run
// without touching a registry.
type Metrics struct {
	// HTTP surface
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Engine
	SessionsActive   prometheus.Gauge
	SessionsDirty    prometheus.Gauge
	SessionsCreated  prometheus.Counter
	MessagesAppended prometheus.Counter

	// Sync
	FlushesTotal  *prometheus.CounterVec // result: ok|error|skipped
	FlushDuration prometheus.Histogram
	ReloadsTotal  *prometheus.CounterVec // mode: guest|authenticated, source: cache|remote|synthesized
	RemoteErrors  prometheus.Counter
	CachePurges   prometheus.Counter

	// WebSocket
	WSConnections prometheus.Gauge

	Uptime    prometheus.Gauge
	startTime time.Time
}

// New creates a metrics collector registered on the given registerer.
// Pass prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := func(c prometheus.Collector) prometheus.Collector {
		reg.MustRegister(c)
		return c
	}

	m := &Metrics{startTime: time.Now()}

	m.RequestsTotal = factory(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)).(*prometheus.CounterVec)

	m.RequestDuration = factory(prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sessionsync_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)).(*prometheus.HistogramVec)

	m.SessionsActive = factory(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessionsync_sessions",
		Help: "Number of sessions in the in-memory store",
	})).(prometheus.Gauge)

	m.SessionsDirty = factory(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessionsync_sessions_dirty",
		Help: "Number of sessions with unsynchronized edits",
	})).(prometheus.Gauge)

	m.SessionsCreated = factory(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessionsync_sessions_created_total",
		Help: "Total number of sessions created",
	})).(prometheus.Counter)

	m.MessagesAppended = factory(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessionsync_messages_appended_total",
		Help: "Total number of messages appended",
	})).(prometheus.Counter)

	m.FlushesTotal = factory(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsync_flushes_total",
			Help: "Remote flush attempts by result",
		},
		[]string{"result"},
	)).(*prometheus.CounterVec)

	m.FlushDuration = factory(prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sessionsync_flush_duration_seconds",
		Help:    "Remote flush duration in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})).(prometheus.Histogram)

	m.ReloadsTotal = factory(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionsync_reloads_total",
			Help: "Session set reloads by identity mode and winning source",
		},
		[]string{"mode", "source"},
	)).(*prometheus.CounterVec)

	m.RemoteErrors = factory(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessionsync_remote_errors_total",
		Help: "Remote store failures absorbed at the component boundary",
	})).(prometheus.Counter)

	m.CachePurges = factory(prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessionsync_cache_purges_total",
		Help: "Malformed local cache entries purged",
	})).(prometheus.Counter)

	m.WSConnections = factory(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessionsync_ws_connections",
		Help: "Open WebSocket stream connections",
	})).(prometheus.Gauge)

	m.Uptime = factory(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessionsync_uptime_seconds",
		Help: "Process uptime in seconds",
	})).(prometheus.Gauge)

	return m
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordFlush records one remote flush attempt.
func (m *Metrics) RecordFlush(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FlushesTotal.WithLabelValues(result).Inc()
	m.FlushDuration.Observe(duration.Seconds())
}

// RecordReload records one reload and the source that won.
func (m *Metrics) RecordReload(mode, source string) {
	if m == nil {
		return
	}
	m.ReloadsTotal.WithLabelValues(mode, source).Inc()
}

// SetSessionGauges publishes store occupancy.
func (m *Metrics) SetSessionGauges(total, dirty int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(total))
	m.SessionsDirty.Set(float64(dirty))
}

// IncSessionsCreated counts a successful create.
func (m *Metrics) IncSessionsCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// IncMessagesAppended counts a successful append.
func (m *Metrics) IncMessagesAppended() {
	if m == nil {
		return
	}
	m.MessagesAppended.Inc()
}

// IncRemoteErrors counts an absorbed remote failure.
func (m *Metrics) IncRemoteErrors() {
	if m == nil {
		return
	}
	m.RemoteErrors.Inc()
}

// IncCachePurges counts one purged cache entry.
func (m *Metrics) IncCachePurges() {
	if m == nil {
		return
	}
	m.CachePurges.Inc()
}

// WSConnected / WSDisconnected track open stream connections.
func (m *Metrics) WSConnected() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

func (m *Metrics) WSDisconnected() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// TickUptime refreshes the uptime gauge.
func (m *Metrics) TickUptime() {
	if m == nil {
		return
	}
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
