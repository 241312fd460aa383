// Package errors provides centralized error handling with optional telemetry integration
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

// CategorizedError is an interface for errors that can specify their own category
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	// Failure categories surfaced by the public API
	CategoryDataLoad         ErrorCategory = "data-load"         // label table could not be read or parsed
	CategoryDownload         ErrorCategory = "download"          // checkpoint or label file transfer failed
	CategoryCheckpointLoad   ErrorCategory = "checkpoint-load"   // checkpoint could not be read or decoded
	CategoryCheckpointFormat ErrorCategory = "checkpoint-format" // checkpoint decoded but has no model entry
	CategoryStateLoad        ErrorCategory = "state-load"        // parameters do not fit the model topology

	CategoryModelInit     ErrorCategory = "model-initialization"
	CategoryInference     ErrorCategory = "inference"
	CategoryValidation    ErrorCategory = "validation"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryNetwork       ErrorCategory = "network"
	CategoryHTTP          ErrorCategory = "http-request"
	CategoryAudio         ErrorCategory = "audio-processing"
	CategoryConfiguration ErrorCategory = "configuration"
	CategorySystem        ErrorCategory = "system-resource"
	CategoryGeneric       ErrorCategory = "generic"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryCancellation  ErrorCategory = "cancellation"
)

// Priority constants for error prioritization
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

const modulePath = "github.com/tphakala/panns-go/internal/errors"

// EnhancedError wraps an error with additional context and metadata
type EnhancedError struct {
	Err       error          // Original error
	component string         // Component where error occurred (lazily detected)
	Category  ErrorCategory  // Error category for better grouping
	Priority  string         // Explicit priority override (optional)
	Context   map[string]any // Additional context data
	Timestamp time.Time      // When the error occurred
	reported  bool
	detected  bool
	mu        sync.RWMutex
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches another EnhancedError by category, otherwise defers to the wrapped error
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return Is(ee.Err, target)
}

// ErrorCategory implements CategorizedError
func (ee *EnhancedError) ErrorCategory() ErrorCategory {
	return ee.Category
}

// GetComponent returns the component name, detecting it lazily if needed
func (ee *EnhancedError) GetComponent() string {
	ee.mu.RLock()
	if ee.detected || ee.component != "" {
		component := ee.component
		ee.mu.RUnlock()
		return component
	}
	ee.mu.RUnlock()

	ee.mu.Lock()
	defer ee.mu.Unlock()

	if ee.component == "" && !ee.detected {
		ee.component = detectComponent()
		ee.detected = true
		if ee.component == "" {
			ee.component = ComponentUnknown
		}
	}

	return ee.component
}

// GetCategory returns the error category
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetPriority returns the explicit priority if set, empty string otherwise
func (ee *EnhancedError) GetPriority() string {
	return ee.Priority
}

// GetContext returns a copy of the error context
func (ee *EnhancedError) GetContext() map[string]any {
	ee.mu.RLock()
	defer ee.mu.RUnlock()

	if ee.Context == nil {
		return nil
	}

	contextCopy := make(map[string]any, len(ee.Context))
	maps.Copy(contextCopy, ee.Context)
	return contextCopy
}

// MarkReported marks this error as reported to telemetry
func (ee *EnhancedError) MarkReported() {
	ee.mu.Lock()
	defer ee.mu.Unlock()
	ee.reported = true
}

// IsReported returns whether this error has been reported
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	priority  string
	context   map[string]any
}

// New creates a new error with enhanced context
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new formatted error with enhanced context
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name (auto-detected if not set)
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category for better grouping
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Priority sets the explicit priority override for the error.
// Unknown values fall back to medium.
func (eb *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		eb.priority = priority
	case "":
	default:
		eb.priority = PriorityMedium
	}
	return eb
}

func (eb *ErrorBuilder) set(key string, value any) {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
}

// Context adds context data to the error
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	eb.set(key, value)
	return eb
}

// ModelContext adds model name and anonymized checkpoint path info
func (eb *ErrorBuilder) ModelContext(checkpointPath, modelName string) *ErrorBuilder {
	if checkpointPath != "" {
		eb.set("checkpoint_path_type", categorizeCheckpointPath(checkpointPath))
		eb.set("checkpoint_extension", getFileExtension(checkpointPath))
	}
	if modelName != "" {
		eb.set("model_name", modelName)
	}
	return eb
}

// FileContext adds file-specific context (path is anonymized)
func (eb *ErrorBuilder) FileContext(filePath string, fileSize int64) *ErrorBuilder {
	if filePath != "" {
		eb.set("file_type", categorizeFilePath(filePath))
		eb.set("file_extension", getFileExtension(filePath))
	}
	if fileSize > 0 {
		eb.set("file_size_category", categorizeFileSize(fileSize))
	}
	return eb
}

// NetworkContext adds network-specific context (URLs are anonymized)
func (eb *ErrorBuilder) NetworkContext(url string, timeout time.Duration) *ErrorBuilder {
	if url != "" {
		eb.set("url_category", categorizeURL(url))
	}
	if timeout > 0 {
		eb.set("timeout_seconds", timeout.Seconds())
	}
	return eb
}

// Timing adds performance timing context
func (eb *ErrorBuilder) Timing(operation string, duration time.Duration) *ErrorBuilder {
	eb.set("operation", operation)
	eb.set("duration_ms", duration.Milliseconds())
	return eb
}

// Build creates the EnhancedError and triggers optional telemetry reporting
func (eb *ErrorBuilder) Build() *EnhancedError {
	if !hasActiveReporting.Load() {
		ee := &EnhancedError{
			Err:       eb.err,
			component: eb.component,
			Category:  eb.category,
			Priority:  eb.priority,
			Context:   eb.context,
			Timestamp: time.Now(),
			detected:  eb.component != "",
		}
		if ee.component == "" {
			ee.component = ComponentUnknown
			ee.detected = true
		}
		if ee.Category == "" {
			ee.Category = CategoryGeneric
		}
		return ee
	}

	if eb.component == "" {
		eb.component = detectComponent()
	}
	if eb.category == "" {
		eb.category = detectCategory(eb.err)
	}

	ee := &EnhancedError{
		Err:       eb.err,
		component: eb.component,
		Category:  eb.category,
		Priority:  eb.priority,
		Context:   eb.context,
		Timestamp: time.Now(),
		detected:  true,
	}

	reportToTelemetry(ee)

	return ee
}

// hasActiveReporting gates the slow path in Build
var hasActiveReporting atomic.Bool

// Component registry for dynamic component detection
var (
	componentRegistry = make(map[string]string)
	registryMutex     sync.RWMutex
)

// RegisterComponent registers a package path pattern with a component name
func RegisterComponent(packagePattern, componentName string) {
	registryMutex.Lock()
	defer registryMutex.Unlock()
	componentRegistry[packagePattern] = componentName
}

func init() {
	RegisterComponent("internal/labels", "labels")
	RegisterComponent("internal/checkpoint", "checkpoint")
	RegisterComponent("internal/device", "device")
	RegisterComponent("internal/model", "model")
	RegisterComponent("internal/inference", "inference")
	RegisterComponent("internal/audio", "audio")
	RegisterComponent("internal/conf", "configuration")
	RegisterComponent("internal/httpclient", "httpclient")
}

func detectComponent() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)

	for i := range n {
		fn := runtime.FuncForPC(pcs[i])
		if fn == nil {
			continue
		}
		funcName := fn.Name()
		if strings.Contains(funcName, modulePath) {
			continue
		}
		if component := lookupComponent(funcName); component != ComponentUnknown {
			return component
		}
	}

	return ComponentUnknown
}

// lookupComponent searches the registry for a matching component
func lookupComponent(funcName string) string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	for pattern, component := range componentRegistry {
		if strings.Contains(funcName, pattern) {
			return component
		}
	}

	return ComponentUnknown
}

// detectCategory derives a category from the wrapped error chain and its message
func detectCategory(err error) ErrorCategory {
	var catErr CategorizedError
	if stderrors.As(err, &catErr) && catErr.ErrorCategory() != "" {
		return catErr.ErrorCategory()
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "download"):
		return CategoryDownload
	case strings.Contains(msg, "checkpoint"):
		return CategoryCheckpointLoad
	case strings.Contains(msg, "label"):
		return CategoryDataLoad
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "connection"):
		return CategoryNetwork
	case strings.Contains(msg, "mismatch") || strings.Contains(msg, "invalid"):
		return CategoryValidation
	}

	return CategoryGeneric
}

// categorizeCheckpointPath anonymizes checkpoint paths while keeping the cache layout visible
func categorizeCheckpointPath(path string) string {
	if strings.Contains(path, ".panns_data") {
		return "default-cache"
	}
	return "custom"
}

func categorizeFilePath(path string) string {
	if strings.Contains(path, "/") || strings.Contains(path, "\\") {
		return "absolute-path"
	}
	return "relative-path"
}

func getFileExtension(path string) string {
	if lastDot := strings.LastIndex(path, "."); lastDot > 0 && lastDot < len(path)-1 {
		return strings.ToLower(path[lastDot+1:])
	}
	return "none"
}

// categorizeFileSize groups file sizes into categories
func categorizeFileSize(size int64) string {
	switch {
	case size < 1024:
		return "tiny"
	case size < 1024*1024:
		return "small"
	case size < 10*1024*1024:
		return "medium"
	case size < 100*1024*1024:
		return "large"
	default:
		return "very-large"
	}
}

func categorizeURL(url string) string {
	url = strings.ToLower(url)
	switch {
	case strings.HasPrefix(url, "http://"):
		return "http-endpoint"
	case strings.HasPrefix(url, "https://"):
		return "https-endpoint"
	case strings.HasPrefix(url, "file://"):
		return "local-file"
	default:
		return "other-protocol"
	}
}

// Standard library passthrough functions
// These allow this package to be a drop-in replacement for the standard errors package

// NewStd creates a new standard error
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's tree matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// Join returns an error that wraps the given errors
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory checks if an error is an EnhancedError with the specified category.
func IsCategory(err error, category ErrorCategory) bool {
	var enhancedErr *EnhancedError
	return As(err, &enhancedErr) && enhancedErr.Category == category
}

// IsNotFound reports whether err carries CategoryNotFound.
func IsNotFound(err error) bool { return IsCategory(err, CategoryNotFound) }

// IsDataLoad reports whether err is a label table load failure.
func IsDataLoad(err error) bool { return IsCategory(err, CategoryDataLoad) }

// IsDownload reports whether err is a failed checkpoint or label download.
func IsDownload(err error) bool { return IsCategory(err, CategoryDownload) }

// IsCheckpointLoad reports whether err is a checkpoint read or decode failure.
func IsCheckpointLoad(err error) bool { return IsCategory(err, CategoryCheckpointLoad) }

// IsCheckpointFormat reports whether err is a checkpoint without a model entry.
func IsCheckpointFormat(err error) bool { return IsCategory(err, CategoryCheckpointFormat) }

// IsStateLoad reports whether err is a parameter assignment failure.
func IsStateLoad(err error) bool { return IsCategory(err, CategoryStateLoad) }
