// Package metrics exposes prometheus counters for the bus state services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds every metric, each service updates the ones it cares about
type Collector struct {
	reg *prometheus.Registry

	IngestCycles   *prometheus.CounterVec // outcome label: saved|empty|failed
	IngestVehicles prometheus.Gauge
	IngestDuration prometheus.Histogram

	ReaderRequests *prometheus.CounterVec // outcome label: ok|not_found|error
	ReaderMatches  *prometheus.CounterVec // kind label: direct|hybrid|offline

	IndexWrites *prometheus.CounterVec // index label: stop|trip|stop_routes|trip_stop_times|stop_schedule
	IndexSkips  *prometheus.CounterVec // index label

	CheckerOutcomes *prometheus.CounterVec // outcome label
	EventsLogged    *prometheus.CounterVec // source label: http|nats

	NATSConnected prometheus.Gauge
}

// New creates a Collector with its own registry
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		reg: reg,
		IngestCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busstate_ingest_cycles_total",
			Help: "Live position ingest cycles by outcome.",
		}, []string{"outcome"}),
		IngestVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busstate_ingest_vehicles",
			Help: "Vehicles in the last saved snapshot.",
		}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busstate_ingest_duration_seconds",
			Help:    "Time spent fetching, decoding and saving a live snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		ReaderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busstate_reader_requests_total",
			Help: "Arrival requests by outcome.",
		}, []string{"outcome"}),
		ReaderMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busstate_reader_matches_total",
			Help: "Arrival predictions returned by kind.",
		}, []string{"kind"}),
		IndexWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busstate_index_records_written_total",
			Help: "Index records written by index.",
		}, []string{"index"}),
		IndexSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busstate_index_rows_skipped_total",
			Help: "Source rows or records skipped while indexing.",
		}, []string{"index"}),
		CheckerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busstate_checker_runs_total",
			Help: "Static feed checks by outcome.",
		}, []string{"outcome"}),
		EventsLogged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "busstate_events_logged_total",
			Help: "Events written by the event logger by source.",
		}, []string{"source"}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busstate_nats_connected",
			Help: "1 if connected to NATS.",
		}),
	}

	reg.MustRegister(
		c.IngestCycles, c.IngestVehicles, c.IngestDuration,
		c.ReaderRequests, c.ReaderMatches,
		c.IndexWrites, c.IndexSkips,
		c.CheckerOutcomes, c.EventsLogged,
		c.NATSConnected,
	)
	return c
}

// Handler serves the registry in prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// NATSSetConnected records nats connection state
func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

// ObserveIngest records duration of an ingest cycle
func (c *Collector) ObserveIngest(d time.Duration) {
	c.IngestDuration.Observe(d.Seconds())
}

// Serve starts a http server exposing /metrics on addr. Returns nil when addr is empty
func (c *Collector) Serve(log Logger, addr string) *http.Server {
	if len(addr) == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// Logger is satisfied by *log.Logger
type Logger interface {
	Printf(format string, v ...any)
}
