// Package telemetry provides opt-in, privacy-filtered error reporting to
// Sentry. Enhanced errors built after InitSentry are reported automatically.
package telemetry

import (
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/panns-go/internal/buildinfo"
	"github.com/tphakala/panns-go/internal/conf"
	"github.com/tphakala/panns-go/internal/errors"
	"github.com/tphakala/panns-go/internal/logger"
)

var sentryInitialized atomic.Bool

// InitSentry initializes the Sentry SDK and installs the error reporter.
// It does nothing unless telemetry is enabled in settings.
func InitSentry(settings *conf.Settings) error {
	return initSentry(settings, nil)
}

func initSentry(settings *conf.Settings, transport sentry.Transport) error {
	if !settings.Telemetry.Enabled {
		GetLogger().Debug("sentry telemetry is disabled (opt-in required)")
		return nil
	}
	if settings.Telemetry.DSN == "" && transport == nil {
		return errors.Newf("telemetry is enabled but no DSN is configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:        settings.Telemetry.DSN,
		Transport:  transport,
		SampleRate: 1.0,
		Debug:      false,

		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "",
		Release:          buildinfo.Release(),

		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	sentryInitialized.Store(true)

	GetLogger().Info("sentry telemetry initialized", logger.String("release", buildinfo.Release()))
	return nil
}

// applyPrivacyFilters strips host and user identifying data from an event.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	return event
}

// Flush waits up to timeout for queued events. It reports true when
// telemetry was never initialized.
func Flush(timeout time.Duration) bool {
	if !sentryInitialized.Load() {
		return true
	}
	return sentry.Flush(timeout)
}
