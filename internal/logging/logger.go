// Package logging provides categorized file-based logging for storyLOOM.
// Each category writes to its own file under <dataDir>/logs/, backed by zap
// cores. Categories can be toggled individually; a disabled category yields a
// no-op logger so call sites never need nil checks.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem.
type Category string

const (
	// Core categories
	CategoryBoot   Category = "boot"   // Startup/initialization
	CategoryConfig Category = "config" // Config load, provider reload
	CategoryStore  Category = "store"  // Fragment store operations
	CategoryBranch Category = "branch" // Branch manager
	CategoryChain  Category = "chain"  // Prose chain mutations
	CategoryAssoc  Category = "assoc"  // Association index

	// Generation categories
	CategoryContext  Category = "context"  // Context build + assemble
	CategoryPipeline Category = "pipeline" // Generation pipeline
	CategoryStream   Category = "stream"   // Stream tee, event encoding
	CategoryTools    Category = "tools"    // Tool execution
	CategoryPlugins  Category = "plugins"  // Plugin hooks
	CategoryLLM      Category = "llm"      // Provider calls

	// Background categories
	CategoryLibrarian Category = "librarian" // Librarian scheduler + analyst
	CategoryMetrics   Category = "metrics"   // Observability recorder
)

// Options controls logger construction. The caller (cmd or engine) passes the
// resolved config here; the package never reads config files itself.
type Options struct {
	Dir        string          // Log directory; empty disables file output
	Level      string          // debug|info|warn|error (default info)
	Console    bool            // Tee everything to stderr as well
	Categories map[string]bool // nil = all enabled; absent key = enabled
}

// Logger wraps a zap sugared logger bound to one category file.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

var (
	mu          sync.RWMutex
	loggers     = make(map[Category]*Logger)
	opts        Options
	level       zapcore.Level
	initialized bool
)

// Initialize sets up the logging directory and options. Safe to call once at
// startup; calling again replaces the options and drops cached loggers.
func Initialize(o Options) error {
	mu.Lock()
	defer mu.Unlock()

	closeAllLocked()
	opts = o
	initialized = true

	switch o.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	if o.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(o.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

// IsCategoryEnabled returns whether a category would produce output.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabledLocked(category)
}

func categoryEnabledLocked(category Category) bool {
	if !initialized || opts.Dir == "" && !opts.Console {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for a category. Disabled categories get
// a no-op logger.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	enabled := categoryEnabledLocked(category)
	mu.RUnlock()

	if !enabled {
		return &Logger{category: category}
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	l, err := buildLocked(category)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] warning: %v\n", err)
		return &Logger{category: category}
	}
	loggers[category] = l
	return l
}

func buildLocked(category Category) (*Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	enc := zapcore.NewConsoleEncoder(encCfg)

	var cores []zapcore.Core
	var file *os.File

	if opts.Dir != "" {
		// Date prefix keeps rotation trivial: old files age out by name.
		date := time.Now().Format("2006-01-02")
		path := filepath.Join(opts.Dir, fmt.Sprintf("%s_%s.log", date, category))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file %s: %w", path, err)
		}
		file = f
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(f), level))
	}
	if opts.Console {
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stderr), level))
	}
	if len(cores) == 0 {
		return &Logger{category: category}, nil
	}

	core := zapcore.NewTee(cores...)
	base := zap.New(core).Named(string(category))
	return &Logger{category: category, sugar: base.Sugar(), file: file}, nil
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying structured key-value context.
func (l *Logger) With(args ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(args...), file: l.file}
}

// CloseAll syncs and closes all open log files (call at shutdown).
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	closeAllLocked()
}

func closeAllLocked() {
	for _, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
		if l.file != nil {
			_ = l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

// Config logs to the config category
func Config(format string, args ...interface{}) {
	Get(CategoryConfig).Info(format, args...)
}

// ConfigDebug logs debug to the config category
func ConfigDebug(format string, args ...interface{}) {
	Get(CategoryConfig).Debug(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// StoreWarn logs warning to the store category
func StoreWarn(format string, args ...interface{}) {
	Get(CategoryStore).Warn(format, args...)
}

// StoreError logs error to the store category
func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Error(format, args...)
}

// Branch logs to the branch category
func Branch(format string, args ...interface{}) {
	Get(CategoryBranch).Info(format, args...)
}

// BranchDebug logs debug to the branch category
func BranchDebug(format string, args ...interface{}) {
	Get(CategoryBranch).Debug(format, args...)
}

// Chain logs to the chain category
func Chain(format string, args ...interface{}) {
	Get(CategoryChain).Info(format, args...)
}

// ChainDebug logs debug to the chain category
func ChainDebug(format string, args ...interface{}) {
	Get(CategoryChain).Debug(format, args...)
}

// Assoc logs to the assoc category
func Assoc(format string, args ...interface{}) {
	Get(CategoryAssoc).Info(format, args...)
}

// AssocDebug logs debug to the assoc category
func AssocDebug(format string, args ...interface{}) {
	Get(CategoryAssoc).Debug(format, args...)
}

// Context logs to the context category
func Context(format string, args ...interface{}) {
	Get(CategoryContext).Info(format, args...)
}

// ContextDebug logs debug to the context category
func ContextDebug(format string, args ...interface{}) {
	Get(CategoryContext).Debug(format, args...)
}

// Pipeline logs to the pipeline category
func Pipeline(format string, args ...interface{}) {
	Get(CategoryPipeline).Info(format, args...)
}

// PipelineDebug logs debug to the pipeline category
func PipelineDebug(format string, args ...interface{}) {
	Get(CategoryPipeline).Debug(format, args...)
}

// PipelineWarn logs warning to the pipeline category
func PipelineWarn(format string, args ...interface{}) {
	Get(CategoryPipeline).Warn(format, args...)
}

// PipelineError logs error to the pipeline category
func PipelineError(format string, args ...interface{}) {
	Get(CategoryPipeline).Error(format, args...)
}

// Stream logs to the stream category
func Stream(format string, args ...interface{}) {
	Get(CategoryStream).Info(format, args...)
}

// StreamDebug logs debug to the stream category
func StreamDebug(format string, args ...interface{}) {
	Get(CategoryStream).Debug(format, args...)
}

// Tools logs to the tools category
func Tools(format string, args ...interface{}) {
	Get(CategoryTools).Info(format, args...)
}

// ToolsDebug logs debug to the tools category
func ToolsDebug(format string, args ...interface{}) {
	Get(CategoryTools).Debug(format, args...)
}

// ToolsWarn logs warning to the tools category
func ToolsWarn(format string, args ...interface{}) {
	Get(CategoryTools).Warn(format, args...)
}

// Plugins logs to the plugins category
func Plugins(format string, args ...interface{}) {
	Get(CategoryPlugins).Info(format, args...)
}

// PluginsDebug logs debug to the plugins category
func PluginsDebug(format string, args ...interface{}) {
	Get(CategoryPlugins).Debug(format, args...)
}

// PluginsWarn logs warning to the plugins category
func PluginsWarn(format string, args ...interface{}) {
	Get(CategoryPlugins).Warn(format, args...)
}

// LLM logs to the llm category
func LLM(format string, args ...interface{}) {
	Get(CategoryLLM).Info(format, args...)
}

// LLMDebug logs debug to the llm category
func LLMDebug(format string, args ...interface{}) {
	Get(CategoryLLM).Debug(format, args...)
}

// Librarian logs to the librarian category
func Librarian(format string, args ...interface{}) {
	Get(CategoryLibrarian).Info(format, args...)
}

// LibrarianDebug logs debug to the librarian category
func LibrarianDebug(format string, args ...interface{}) {
	Get(CategoryLibrarian).Debug(format, args...)
}

// LibrarianError logs error to the librarian category
func LibrarianError(format string, args ...interface{}) {
	Get(CategoryLibrarian).Error(format, args...)
}

// =============================================================================
// REQUEST ID TRACING
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation ID.
type RequestLogger struct {
	logger    *Logger
	requestID string
}

// WithRequestID creates a request-scoped logger.
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{logger: Get(category), requestID: requestID}
}

func (r *RequestLogger) formatMsg(format string, args ...interface{}) string {
	return fmt.Sprintf("[req:%s] %s", r.requestID, fmt.Sprintf(format, args...))
}

func (r *RequestLogger) Debug(format string, args ...interface{}) {
	r.logger.Debug("%s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Info(format string, args ...interface{}) {
	r.logger.Info("%s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Warn(format string, args ...interface{}) {
	r.logger.Warn("%s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Error(format string, args ...interface{}) {
	r.logger.Error("%s", r.formatMsg(format, args...))
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level.
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
