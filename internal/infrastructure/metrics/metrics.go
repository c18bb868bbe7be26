// Package metrics exposes bridge counters in Prometheus format.
//
// Metrics satisfies the bridge's Metrics interface and also carries the
// page transport gauges used by the API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webble"

// adapterStates are the values reported by webble_adapter_state.
var adapterStates = []string{"powered_on", "powered_off", "unauthorized", "unsupported", "unknown"}

// Metrics holds a dedicated registry and the bridge meters.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	DiscoveriesTotal   *prometheus.CounterVec
	SelectionsTotal    *prometheus.CounterVec
	SelectionDuration  prometheus.Histogram
	SelectionCandidate prometheus.Histogram
	GrantedDevices     prometheus.Gauge
	AdapterState       *prometheus.GaugeVec
	PageConnections    prometheus.Gauge
	RateLimitedTotal   prometheus.Counter
}

// New creates a registry with the bridge metrics plus the standard Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Page requests handled, by kind and result.",
		}, []string{"kind", "result"}),
		DiscoveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discoveries_total",
			Help:      "Advertisements seen during selections.",
		}, []string{"accepted"}),
		SelectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Finished device selections, by result.",
		}, []string{"result"}),
		SelectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selection_duration_seconds",
			Help:      "Time a discovery window stayed open.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		SelectionCandidate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selection_candidates",
			Help:      "Distinct matching peripherals per selection.",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		}),
		GrantedDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "granted_devices",
			Help:      "Devices currently present in the identity maps.",
		}),
		AdapterState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "adapter_state",
			Help:      "1 for the adapter's current state, 0 otherwise.",
		}, []string{"state"}),
		PageConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "page_connections",
			Help:      "Open page transport connections.",
		}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Page requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.DiscoveriesTotal,
		m.SelectionsTotal,
		m.SelectionDuration,
		m.SelectionCandidate,
		m.GrantedDevices,
		m.AdapterState,
		m.PageConnections,
		m.RateLimitedTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RequestHandled(kind, result string) {
	m.RequestsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) DiscoveryObserved(accepted bool) {
	label := "false"
	if accepted {
		label = "true"
	}
	m.DiscoveriesTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) SelectionFinished(result string, candidates int, duration time.Duration) {
	m.SelectionsTotal.WithLabelValues(result).Inc()
	m.SelectionDuration.Observe(duration.Seconds())
	m.SelectionCandidate.Observe(float64(candidates))
}

func (m *Metrics) SetGrantedDevices(n int) {
	m.GrantedDevices.Set(float64(n))
}

// SetAdapterState marks state as current. Unrecognised states are still
// exported so they are visible on dashboards.
func (m *Metrics) SetAdapterState(state string) {
	for _, s := range adapterStates {
		m.AdapterState.WithLabelValues(s).Set(0)
	}
	m.AdapterState.WithLabelValues(state).Set(1)
}

// PageConnected and PageDisconnected track open page transports.
func (m *Metrics) PageConnected()    { m.PageConnections.Inc() }
func (m *Metrics) PageDisconnected() { m.PageConnections.Dec() }

// RateLimited counts a request rejected before reaching the engine.
func (m *Metrics) RateLimited() { m.RateLimitedTotal.Inc() }
