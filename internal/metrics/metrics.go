// Package metrics exposes Prometheus instrumentation for compile runs, live
// reload and the live-reload HTTP server.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Compile outcomes used as the "result" label.
const (
	ResultOK          = "ok"
	ResultSyntaxError = "syntax_error"
	ResultFileError   = "file_error"
	ResultError       = "error"
)

// Collectors registered on the default registry and served at /metrics.
var (
	Compiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jadewatch_compiles_total", Help: "Compile task runs by result."},
		[]string{"result"},
	)
	CompileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "jadewatch_compile_duration_seconds", Help: "Compile task duration.", Buckets: prometheus.DefBuckets},
	)
	Reloads = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "jadewatch_reloads_total", Help: "Live-reload notifications broadcast."},
	)
	LiveReloadClients = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "jadewatch_livereload_clients", Help: "Connected live-reload clients."},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jadewatch_http_requests_total", Help: "Live-reload server requests by path, method and status."},
		[]string{"path", "method", "status"},
	)
)

func init() {
	prometheus.MustRegister(Compiles, CompileDuration, Reloads, LiveReloadClients, HTTPRequests)
}

// ObserveCompile records one compile run.
func ObserveCompile(result string, d time.Duration) {
	Compiles.WithLabelValues(result).Inc()
	CompileDuration.Observe(d.Seconds())
}

// Handler is gin middleware counting requests.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		HTTPRequests.WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Exposer serves the default registry.
func Exposer() gin.HandlerFunc { return gin.WrapH(promhttp.Handler()) }
