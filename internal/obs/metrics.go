package obs

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	dbQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_queries_total",
			Help: "Database calls by outcome (ok, error, unavailable, mock).",
		},
		[]string{"op", "outcome"},
	)

	dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database call latencies in seconds.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"op"},
	)

	dbState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_executor_state",
			Help: "1 for the executor's current state, 0 otherwise.",
		},
		[]string{"state"},
	)
)

var dbStates = []string{"uninitialized", "ready", "degraded"}

// Init registers every collector in the default registry. Call once from main.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		dbQueriesTotal, dbQueryDuration, dbState,
	)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveQuery records one executor call.
func ObserveQuery(op, outcome string, d time.Duration) {
	dbQueriesTotal.WithLabelValues(op, outcome).Inc()
	dbQueryDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetDBState flips the executor state gauge so exactly one label is 1.
func SetDBState(state string) {
	for _, s := range dbStates {
		v := 0.0
		if s == state {
			v = 1
		}
		dbState.WithLabelValues(s).Set(v)
	}
}

// UnmatchedRoute labels requests that no registered pattern served.
const UnmatchedRoute = "unmatched"

type routeKey struct{}

// Instrument records RPS, latency and in-flight requests. The path label is
// the ServeMux pattern reported by Routed, so label values stay bounded.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := new(string)
		r = r.WithContext(context.WithValue(r.Context(), routeKey{}, route))
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := *route
		if path == "" || path == "/" {
			path = UnmatchedRoute
		}
		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// Routed wraps a ServeMux and hands the pattern it matched to Instrument.
// It must sit directly around the mux, since ServeMux sets Pattern on the
// request it receives.
func Routed(mux http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		if route, ok := r.Context().Value(routeKey{}).(*string); ok {
			*route = r.Pattern
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
