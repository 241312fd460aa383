// Package observability owns the Prometheus registry for panns-go.
// Error telemetry is handled by the Sentry reporter in internal/errors.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/panns-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the library.
type Metrics struct {
	registry *prometheus.Registry
	PANNs    *metrics.PANNsMetrics
}

// NewMetrics creates a registry and registers every collector on it.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	pannsMetrics, err := metrics.NewPANNsMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create PANNs metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		PANNs:    pannsMetrics,
	}, nil
}

// Registry returns the underlying registry, for embedding into a host
// application's own exporter.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterHandlers registers the metrics endpoint with the provided http.ServeMux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", m.metricsHandler)
}

func (m *Metrics) metricsHandler(w http.ResponseWriter, r *http.Request) {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
	h.ServeHTTP(w, r)
}
