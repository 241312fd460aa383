// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// ReportError reports an enhanced error to Sentry with privacy protection
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	scrubbedMessage := scrubMessageForPrivacy(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	component := ee.GetComponent()

	sentry.WithScope(func(scope *sentry.Scope) {
		errorTitle := generateErrorTitle(ee)

		scope.SetTag("error_title", errorTitle)
		scope.SetTag("component", component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.GetContext() {
			if strValue, ok := value.(string); ok {
				value = scrubMessageForPrivacy(strValue)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{errorTitle, component, string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = scrubbedMessage
		event.Level = level
		event.Exception = []sentry.Exception{{
			Type:  errorTitle,
			Value: scrubbedMessage,
		}}

		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// generateErrorTitle builds a grouping title from component, category and operation
func generateErrorTitle(ee *EnhancedError) string {
	var titleParts []string

	if component := ee.GetComponent(); component != "" && component != ComponentUnknown {
		titleParts = append(titleParts, titleCase(component))
	}

	if categoryTitle := formatCategoryForTitle(ee.Category); categoryTitle != "" {
		titleParts = append(titleParts, categoryTitle)
	}

	if operation, ok := ee.GetContext()["operation"].(string); ok && operation != "" {
		titleParts = append(titleParts, formatOperationForTitle(operation))
	}

	if len(titleParts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}

	return strings.Join(titleParts, " ")
}

func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryDataLoad:
		return "Label Data Error"
	case CategoryDownload:
		return "Download Error"
	case CategoryCheckpointLoad:
		return "Checkpoint Load Error"
	case CategoryCheckpointFormat:
		return "Checkpoint Format Error"
	case CategoryStateLoad:
		return "State Load Error"
	case CategoryValidation:
		return "Validation Error"
	case CategoryNetwork:
		return "Network Error"
	case CategoryFileIO:
		return "File I/O Error"
	case CategoryModelInit:
		return "Model Initialization Error"
	case CategoryConfiguration:
		return "Configuration Error"
	default:
		return string(category)
	}
}

func formatOperationForTitle(operation string) string {
	words := strings.Fields(strings.ReplaceAll(operation, "_", " "))
	for i, word := range words {
		words[i] = titleCase(word)
	}
	return strings.Join(words, " ")
}

// titleCase capitalizes the first letter of a string
func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// getErrorLevel returns appropriate Sentry level based on category
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryDownload, CategoryNetwork, CategoryHTTP:
		return sentry.LevelWarning // often transient
	case CategoryFileIO, CategoryAudio:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

var (
	reporterMu              sync.RWMutex
	globalTelemetryReporter TelemetryReporter
)

// SetTelemetryReporter sets the global telemetry reporter. Passing nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalTelemetryReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

// GetTelemetryReporter returns the current telemetry reporter
func GetTelemetryReporter() TelemetryReporter {
	reporterMu.RLock()
	defer reporterMu.RUnlock()
	return globalTelemetryReporter
}

func reportToTelemetry(ee *EnhancedError) {
	if reporter := GetTelemetryReporter(); reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// PrivacyScrubber is a function type for privacy scrubbing
type PrivacyScrubber func(string) string

var globalPrivacyScrubber PrivacyScrubber

// SetPrivacyScrubber sets the global privacy scrubbing function
func SetPrivacyScrubber(scrubber PrivacyScrubber) {
	globalPrivacyScrubber = scrubber
}

func scrubMessageForPrivacy(message string) string {
	if globalPrivacyScrubber != nil {
		return globalPrivacyScrubber(message)
	}
	return basicURLScrub(message)
}

var (
	urlQueryRegex   = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	queryParamRegex = regexp.MustCompile(`[?&]([^=\s]+)=([^&\s]+)`)
	homePathRegex   = regexp.MustCompile(`(/home/|/Users/|C:\\Users\\)[^/\\\s]+`)
	secretRegexes   = []*regexp.Regexp{
		regexp.MustCompile(`api[_-]?key[=:]\S+`),
		regexp.MustCompile(`token[=:]\S+`),
		regexp.MustCompile(`auth[=:]\S+`),
		regexp.MustCompile(`[0-9a-fA-F]{32,}`),
	}
)

// basicURLScrub strips query strings, secrets and user home directories
func basicURLScrub(message string) string {
	scrubbed := urlQueryRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = queryParamRegex.ReplaceAllString(scrubbed, "?[REDACTED]")
	for _, re := range secretRegexes {
		scrubbed = re.ReplaceAllString(scrubbed, "[API_KEY_REDACTED]")
	}
	return homePathRegex.ReplaceAllString(scrubbed, "${1}[USER]")
}
