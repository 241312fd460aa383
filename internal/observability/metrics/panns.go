// Package metrics provides Prometheus collectors for checkpoint acquisition
// and inference.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/panns-go/internal/errors"
)

// PANNsMetrics contains the Prometheus metrics for downloads, checkpoint
// loads and inference calls. A nil *PANNsMetrics is valid and records nothing.
type PANNsMetrics struct {
	DownloadTotal    *prometheus.CounterVec
	DownloadBytes    *prometheus.CounterVec
	DownloadDuration *prometheus.HistogramVec

	CheckpointLoadTotal    *prometheus.CounterVec
	CheckpointLoadDuration *prometheus.HistogramVec

	InferenceTotal    *prometheus.CounterVec
	InferenceErrors   *prometheus.CounterVec
	InferenceDuration *prometheus.HistogramVec

	ModelsLoaded *prometheus.GaugeVec
}

// NewPANNsMetrics creates the collectors and registers them with registry.
func NewPANNsMetrics(registry prometheus.Registerer) (*PANNsMetrics, error) {
	m := &PANNsMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register PANNs metrics: %w", err)
	}
	return m, nil
}

func (m *PANNsMetrics) initMetrics() {
	m.DownloadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panns_download_total",
			Help: "Total number of file downloads partitioned by kind and outcome.",
		},
		[]string{"kind", "status"},
	)
	m.DownloadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panns_download_bytes_total",
			Help: "Bytes received by completed downloads.",
		},
		[]string{"kind"},
	)
	m.DownloadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panns_download_duration_seconds",
			Help:    "Time taken to download a file",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4min
		},
		[]string{"kind"},
	)

	m.CheckpointLoadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panns_checkpoint_load_total",
			Help: "Total number of checkpoint loads partitioned by decode mode and outcome.",
		},
		[]string{"mode", "status"},
	)
	m.CheckpointLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panns_checkpoint_load_duration_seconds",
			Help:    "Time taken to decode a checkpoint",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"mode"},
	)

	m.InferenceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panns_inference_total",
			Help: "Total number of inference calls",
		},
		[]string{"wrapper", "status"},
	)
	m.InferenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panns_inference_errors_total",
			Help: "Total number of inference errors by category",
		},
		[]string{"wrapper", "category"},
	)
	m.InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panns_inference_duration_seconds",
			Help:    "Time taken for one forward call",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"wrapper"},
	)

	m.ModelsLoaded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "panns_models_loaded",
			Help: "Number of constructed inference wrappers",
		},
		[]string{"wrapper"},
	)
}

// RecordDownload records one download attempt of kind (checkpoint or labels).
func (m *PANNsMetrics) RecordDownload(kind string, bytes int64, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.DownloadTotal.WithLabelValues(kind, StatusError).Inc()
		return
	}
	m.DownloadTotal.WithLabelValues(kind, StatusSuccess).Inc()
	m.DownloadBytes.WithLabelValues(kind).Add(float64(bytes))
	m.DownloadDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCheckpointLoad records a checkpoint decode in mode (strict or permissive).
func (m *PANNsMetrics) RecordCheckpointLoad(mode string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.CheckpointLoadTotal.WithLabelValues(mode, StatusError).Inc()
		return
	}
	m.CheckpointLoadTotal.WithLabelValues(mode, StatusSuccess).Inc()
	m.CheckpointLoadDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordInference records one forward call of wrapper.
func (m *PANNsMetrics) RecordInference(wrapper string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.InferenceTotal.WithLabelValues(wrapper, StatusError).Inc()
		m.InferenceErrors.WithLabelValues(wrapper, categorizeError(err)).Inc()
		return
	}
	m.InferenceTotal.WithLabelValues(wrapper, StatusSuccess).Inc()
	m.InferenceDuration.WithLabelValues(wrapper).Observe(duration.Seconds())
}

// ModelLoaded adjusts the loaded wrapper gauge by delta (+1 on construction, -1 on Close).
func (m *PANNsMetrics) ModelLoaded(wrapper string, delta float64) {
	if m == nil {
		return
	}
	m.ModelsLoaded.WithLabelValues(wrapper).Add(delta)
}

// categorizeError returns the error category, or "unknown" for plain errors.
func categorizeError(err error) string {
	var categorized errors.CategorizedError
	if errors.As(err, &categorized) {
		return string(categorized.ErrorCategory())
	}
	return "unknown"
}

// Describe implements the prometheus.Collector interface.
func (m *PANNsMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DownloadTotal.Describe(ch)
	m.DownloadBytes.Describe(ch)
	m.DownloadDuration.Describe(ch)
	m.CheckpointLoadTotal.Describe(ch)
	m.CheckpointLoadDuration.Describe(ch)
	m.InferenceTotal.Describe(ch)
	m.InferenceErrors.Describe(ch)
	m.InferenceDuration.Describe(ch)
	m.ModelsLoaded.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *PANNsMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DownloadTotal.Collect(ch)
	m.DownloadBytes.Collect(ch)
	m.DownloadDuration.Collect(ch)
	m.CheckpointLoadTotal.Collect(ch)
	m.CheckpointLoadDuration.Collect(ch)
	m.InferenceTotal.Collect(ch)
	m.InferenceErrors.Collect(ch)
	m.InferenceDuration.Collect(ch)
	m.ModelsLoaded.Collect(ch)
}
