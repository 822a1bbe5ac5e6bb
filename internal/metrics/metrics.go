package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Ingest counters
	FramesReceived atomic.Uint64
	FramesDropped  atomic.Uint64
	IngestErrors   atomic.Uint64

	// Counting
	Detections      atomic.Uint64 // person detections above the confidence threshold
	Untracked       atomic.Uint64 // person detections without a tracker ID
	NewPeople       atomic.Uint64
	RecordsLogged   atomic.Uint64
	SinkErrors      atomic.Uint64
	PublishedEvents atomic.Uint64

	// Current period gauges
	PeopleThisMinute  atomic.Uint64
	PeopleThisHour    atomic.Uint64
	PeopleThisDay     atomic.Uint64
	TotalUniquePeople atomic.Uint64

	// Live clients
	SSEClients    atomic.Uint64
	WebRTCClients atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.counter("peoplecounter_frames_received_total", "Detection frames received from the ingest source", &m.FramesReceived)
	m.counter("peoplecounter_frames_dropped_total", "Detection frames dropped because the counter queue was full", &m.FramesDropped)
	m.counter("peoplecounter_ingest_errors_total", "Malformed or unreadable detection frames", &m.IngestErrors)

	m.counter("peoplecounter_detections_total", "Person detections above the confidence threshold", &m.Detections)
	m.counter("peoplecounter_untracked_detections_total", "Person detections without a tracker ID", &m.Untracked)
	m.counter("peoplecounter_new_people_total", "Track IDs seen for the first time", &m.NewPeople)
	m.counter("peoplecounter_records_logged_total", "Count records handed to sinks", &m.RecordsLogged)
	m.counter("peoplecounter_sink_errors_total", "Failed sink appends (CSV, SQLite, NATS)", &m.SinkErrors)
	m.counter("peoplecounter_published_events_total", "Events published to NATS", &m.PublishedEvents)

	m.gauge("peoplecounter_people_this_minute", "Unique people in the current minute", &m.PeopleThisMinute)
	m.gauge("peoplecounter_people_this_hour", "Unique people in the current hour", &m.PeopleThisHour)
	m.gauge("peoplecounter_people_this_day", "Unique people in the current day", &m.PeopleThisDay)
	m.gauge("peoplecounter_total_unique_people", "Unique people since start", &m.TotalUniquePeople)

	m.gauge("peoplecounter_sse_clients", "Connected SSE clients", &m.SSEClients)
	m.gauge("peoplecounter_webrtc_clients", "Connected WebRTC data channel clients", &m.WebRTCClients)
}

// UpdateCounts stores the current period counts
func (m *Metrics) UpdateCounts(minute, hour, day, total int) {
	m.PeopleThisMinute.Store(uint64(minute))
	m.PeopleThisHour.Store(uint64(hour))
	m.PeopleThisDay.Store(uint64(day))
	m.TotalUniquePeople.Store(uint64(total))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server returns an HTTP server exposing /metrics on addr
func (m *Metrics) Server(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
