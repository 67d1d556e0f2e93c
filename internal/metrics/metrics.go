// internal/metrics/metrics.go
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the monitor. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	fetchTotal        *prometheus.CounterVec
	fetchDuration     prometheus.Histogram
	fetchRetries      prometheus.Counter
	resolutions       *prometheus.CounterVec
	refreshCycles     prometheus.Counter
	refreshDuration   prometheus.Histogram
	historyLookups    *prometheus.CounterVec
	archivePruned     *prometheus.CounterVec
	wsClients         prometheus.Gauge
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "baeder_thingspeak_fetches_total",
			Help: "ThingSpeak field requests by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "baeder_thingspeak_fetch_duration_seconds",
			Help:    "Duration of ThingSpeak field requests including retries.",
			Buckets: prometheus.DefBuckets,
		}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "baeder_thingspeak_retries_total",
			Help: "ThingSpeak request attempts that were retried.",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "baeder_resolutions_total",
			Help: "Resolved tile readings by value source.",
		}, []string{"source"}),
		refreshCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "baeder_refresh_cycles_total",
			Help: "Completed refresh cycles.",
		}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "baeder_refresh_duration_seconds",
			Help:    "Duration of a full refresh cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		historyLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "baeder_history_lookups_total",
			Help: "History requests by series origin.",
		}, []string{"origin"}),
		archivePruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "baeder_archive_pruned_samples_total",
			Help: "Archived samples removed by retention sweeps by reason.",
		}, []string{"reason"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "baeder_websocket_clients",
			Help: "Connected websocket clients.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.fetchTotal,
		m.fetchDuration,
		m.fetchRetries,
		m.resolutions,
		m.refreshCycles,
		m.refreshDuration,
		m.historyLookups,
		m.archivePruned,
		m.wsClients,
		m.httpRequestsTotal,
		m.httpDuration,
	)

	return m
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Fetch(duration time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(duration.Seconds())
	m.fetchTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FetchRetry() {
	if m == nil {
		return
	}
	m.fetchRetries.Inc()
}

func (m *Metrics) Resolved(source string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(source).Inc()
}

func (m *Metrics) RefreshCycle(duration time.Duration) {
	if m == nil {
		return
	}
	m.refreshCycles.Inc()
	m.refreshDuration.Observe(duration.Seconds())
}

func (m *Metrics) HistoryLookup(origin string) {
	if m == nil {
		return
	}
	m.historyLookups.WithLabelValues(origin).Inc()
}

func (m *Metrics) ArchivePruned(reason string, n int64) {
	if m == nil {
		return
	}
	m.archivePruned.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Middleware records request count and latency per mux route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m == nil {
			return
		}
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
