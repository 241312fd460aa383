package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

const (
	traceLevelValue     = slog.Level(-8)
	floatPrecisionRatio = 1000.0
	moduleKey           = "module"
	traceIDKey          = "trace_id"
)

var (
	globalLogger   *CentralLogger
	globalLoggerMu sync.Mutex
)

// SetGlobal replaces the process-wide logger returned by Global.
func SetGlobal(cl *CentralLogger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = cl
}

// Global returns the process-wide logger, creating a console-only logger at
// info level when none has been set.
func Global() *CentralLogger {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()

	if globalLogger != nil {
		return globalLogger
	}

	cfg := &LoggingConfig{}
	applyConfigDefaults(cfg)
	globalLogger = &CentralLogger{
		config:       cfg,
		timezone:     time.Local,
		moduleLevels: make(map[string]slog.Level),
		baseHandler:  newTextHandler(os.Stderr, slog.LevelInfo, time.Local),
	}
	return globalLogger
}

type loggerContextKey struct{ name string }

// TraceIDKey is the context key WithContext reads trace ids from.
var TraceIDKey = loggerContextKey{traceIDKey}

// WithTraceID returns a context carrying a trace id for WithContext.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// CentralLogger owns the output handlers and hands out module loggers.
type CentralLogger struct {
	config       *LoggingConfig
	timezone     *time.Location
	baseHandler  slog.Handler
	file         *os.File
	moduleLevels map[string]slog.Level
	mu           sync.RWMutex
}

// NewCentralLogger builds a logger from cfg, opening the JSON log file if enabled.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging config cannot be nil")
	}

	applyConfigDefaults(cfg)

	tz := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		var err error
		tz, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %s: %w", cfg.Timezone, err)
		}
	}

	cl := &CentralLogger{
		config:       cfg,
		timezone:     tz,
		moduleLevels: make(map[string]slog.Level),
	}

	for module, levelStr := range cfg.ModuleLevels {
		cl.moduleLevels[module] = parseLogLevel(levelStr)
	}

	var handlers []slog.Handler

	if cfg.Console.Enabled {
		handlers = append(handlers, newTextHandler(os.Stderr, parseLogLevel(cfg.Console.Level), tz))
	}

	if cfg.FileOutput.Enabled {
		if dir := filepath.Dir(cfg.FileOutput.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
			}
		}
		f, err := os.OpenFile(cfg.FileOutput.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		cl.file = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{
			Level: parseLogLevel(cfg.FileOutput.Level),
		}))
	}

	switch len(handlers) {
	case 0:
		cl.baseHandler = slog.DiscardHandler
	case 1:
		cl.baseHandler = handlers[0]
	default:
		cl.baseHandler = &fanoutHandler{handlers: handlers}
	}

	return cl, nil
}

// Module returns a logger tagged with the module name and its configured level.
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	level, ok := cl.moduleLevels[name]
	if !ok {
		level = parseLogLevel(cl.config.DefaultLevel)
	}

	return &moduleLogger{
		module: name,
		logger: slog.New(cl.baseHandler),
		level:  level,
	}
}

// Flush syncs the log file, if any.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	if cl.file == nil {
		return nil
	}
	return cl.file.Sync()
}

// Close flushes and closes the log file.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.file == nil {
		return nil
	}
	err := errors.Join(cl.file.Sync(), cl.file.Close())
	cl.file = nil
	return err
}

// NewSlogLogger returns a Logger writing text to w at the given level.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if tz == nil {
		tz = time.Local
	}
	slogLevel := parseSlogLevel(level)
	return &moduleLogger{
		logger: slog.New(newTextHandler(w, slogLevel, tz)),
		level:  slogLevel,
	}
}

func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch {
			case len(groups) == 0 && a.Key == slog.TimeKey:
				return slog.Attr{}
			case len(groups) == 0 && a.Key == slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= traceLevelValue {
					return slog.String(slog.LevelKey, "TRACE")
				}
			case a.Value.Kind() == slog.KindTime:
				return slog.Time(a.Key, a.Value.Time().In(tz))
			}
			return a
		},
	})
}

func parseLogLevel(level string) slog.Level {
	return parseSlogLevel(LogLevel(level))
}

func parseSlogLevel(level LogLevel) slog.Level {
	switch level {
	case LogLevelTrace:
		return traceLevelValue
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type moduleLogger struct {
	module string
	logger *slog.Logger
	level  slog.Level
	fields []Field
}

func (m *moduleLogger) Module(name string) Logger {
	if m == nil {
		return nil
	}
	module := name
	if m.module != "" {
		module = m.module + "." + name
	}
	return &moduleLogger{
		module: module,
		logger: m.logger,
		level:  m.level,
		fields: slices.Clone(m.fields),
	}
}

func (m *moduleLogger) Trace(msg string, fields ...Field) { m.log(traceLevelValue, msg, fields) }
func (m *moduleLogger) Debug(msg string, fields ...Field) { m.log(slog.LevelDebug, msg, fields) }
func (m *moduleLogger) Info(msg string, fields ...Field)  { m.log(slog.LevelInfo, msg, fields) }
func (m *moduleLogger) Warn(msg string, fields ...Field)  { m.log(slog.LevelWarn, msg, fields) }
func (m *moduleLogger) Error(msg string, fields ...Field) { m.log(slog.LevelError, msg, fields) }

func (m *moduleLogger) Log(level LogLevel, msg string, fields ...Field) {
	m.log(parseSlogLevel(level), msg, fields)
}

func (m *moduleLogger) With(fields ...Field) Logger {
	if m == nil {
		return nil
	}
	return &moduleLogger{
		module: m.module,
		logger: m.logger,
		level:  m.level,
		fields: slices.Concat(m.fields, fields),
	}
}

func (m *moduleLogger) WithContext(ctx context.Context) Logger {
	if m == nil {
		return nil
	}
	if ctx == nil {
		return m
	}
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok || traceID == "" {
		return m
	}
	return m.With(String(traceIDKey, traceID))
}

func (m *moduleLogger) Flush() error {
	return nil
}

func (m *moduleLogger) log(level slog.Level, msg string, fields []Field) {
	if m == nil || level < m.level {
		return
	}

	attrs := make([]slog.Attr, 0, len(m.fields)+len(fields)+1)
	if m.module != "" {
		attrs = append(attrs, slog.String(moduleKey, m.module))
	}
	for i := range m.fields {
		attrs = append(attrs, fieldToAttr(m.fields[i]))
	}
	for i := range fields {
		attrs = append(attrs, fieldToAttr(fields[i]))
	}

	m.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func fieldToAttr(f Field) slog.Attr {
	switch v := f.Value.(type) {
	case string:
		return slog.String(f.Key, v)
	case int:
		return slog.Int(f.Key, v)
	case int64:
		return slog.Int64(f.Key, v)
	case float64:
		return slog.Float64(f.Key, math.Round(v*floatPrecisionRatio)/floatPrecisionRatio)
	case bool:
		return slog.Bool(f.Key, v)
	case time.Duration:
		return slog.String(f.Key, v.Round(time.Millisecond).String())
	default:
		return slog.Any(f.Key, v)
	}
}

// fanoutHandler writes each record to every handler that accepts its level.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Handler requires the record by value
func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		next[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: next}
}
