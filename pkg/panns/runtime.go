package panns

import (
	"fmt"
	"net/http"
	"time"

	"github.com/tphakala/panns-go/internal/conf"
	"github.com/tphakala/panns-go/internal/inference"
	"github.com/tphakala/panns-go/internal/logger"
	"github.com/tphakala/panns-go/internal/observability"
	"github.com/tphakala/panns-go/internal/telemetry"
)

const telemetryFlushTimeout = 2 * time.Second

// Runtime holds the process-wide services configured by Setup.
type Runtime struct {
	Settings *Settings

	logger  *logger.CentralLogger
	metrics *observability.Metrics
}

// Setup loads settings from configPath, or from the default search paths
// when it is empty, then installs the central logger, Sentry telemetry when
// enabled, and the metrics registry when enabled.
func Setup(configPath string) (*Runtime, error) {
	var (
		settings *conf.Settings
		err      error
	)
	if configPath != "" {
		settings, err = conf.LoadFile(configPath)
	} else {
		settings, err = conf.Load()
	}
	if err != nil {
		return nil, err
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetGlobal(cl)

	rt := &Runtime{Settings: settings, logger: cl}

	if err := telemetry.InitSentry(settings); err != nil {
		_ = cl.Close()
		return nil, err
	}

	if settings.Metrics.Enabled {
		if rt.metrics, err = observability.NewMetrics(); err != nil {
			_ = cl.Close()
			return nil, err
		}
	}

	return rt, nil
}

// Option wires the runtime's metrics into a wrapper.
func (rt *Runtime) Option() Option {
	return func(o *inference.Options) {
		if rt.metrics != nil {
			o.Metrics = rt.metrics.PANNs
		}
	}
}

// RegisterHandlers serves /metrics on mux. It does nothing when metrics are disabled.
func (rt *Runtime) RegisterHandlers(mux *http.ServeMux) {
	if rt.metrics != nil {
		rt.metrics.RegisterHandlers(mux)
	}
}

// Close flushes telemetry and closes the log file.
func (rt *Runtime) Close() error {
	telemetry.Flush(telemetryFlushTimeout)
	return rt.logger.Close()
}
