package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goesortho_http_requests_total",
			Help: "Total number of HTTP requests to the metrics/health listener.",
		},
		[]string{"path", "method", "code"},
	)

	tilesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goesortho_tiles_processed_total",
			Help: "Row-band tiles processed, by outcome (ok, degraded).",
		},
		[]string{"outcome"},
	)

	cellsClassifiedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goesortho_cells_classified_total",
			Help: "Elevation cells classified, by visibility state.",
		},
		[]string{"state"},
	)

	cellErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goesortho_cell_errors_total",
			Help: "Per-cell failures degraded to unknown, by kind.",
		},
		[]string{"kind"},
	)

	degenerateRaysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "goesortho_degenerate_rays_total",
			Help: "Parallax rays that missed or grazed the ellipsoid.",
		},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "goesortho_run_duration_seconds",
			Help:    "Wall time of a full visibility run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	workersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goesortho_workers",
			Help: "Worker goroutines in the current run.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(tilesProcessedTotal)
	prometheus.MustRegister(cellsClassifiedTotal)
	prometheus.MustRegister(cellErrorsTotal)
	prometheus.MustRegister(degenerateRaysTotal)
	prometheus.MustRegister(runDurationSeconds)
	prometheus.MustRegister(workersGauge)
}

// RecordTile counts one finished tile and the states of its cells.
func RecordTile(outcome string, visible, hidden, unknown int) {
	tilesProcessedTotal.WithLabelValues(outcome).Inc()
	cellsClassifiedTotal.WithLabelValues("visible").Add(float64(visible))
	cellsClassifiedTotal.WithLabelValues("hidden").Add(float64(hidden))
	cellsClassifiedTotal.WithLabelValues("unknown").Add(float64(unknown))
}

// RecordCellError counts a cell degraded by an error of the given kind.
func RecordCellError(kind string) {
	cellErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordDegenerateRays adds n degenerate parallax rays.
func RecordDegenerateRays(n int) {
	degenerateRaysTotal.Add(float64(n))
}

// RecordRun observes the duration of a complete run.
func RecordRun(d time.Duration) {
	runDurationSeconds.Observe(d.Seconds())
}

// SetWorkers sets the worker gauge.
func SetWorkers(n int) {
	workersGauge.Set(float64(n))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// knownRoutes are served by the listener; anything else is labelled "other"
// so scanners cannot blow up label cardinality.
var knownRoutes = map[string]bool{
	"/metrics":                 true,
	"/healthz":                 true,
	"/readyz":                  true,
	"/api/v1/runs/latest":      true,
	"/api/v1/runs/latest/mask": true,
}

func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		code := strconv.Itoa(rw.statusCode)
		httpRequestsTotal.WithLabelValues(normalizeRoute(r.URL.Path), r.Method, code).Inc()
	})
}
