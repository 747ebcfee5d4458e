// =============================================================================
// pkg/logging/logger.go - Dual and Console Logging
// =============================================================================
//
// This package provides the Logger interface used across the analyzer and
// two implementations:
//
//   - DualLogger writes informational messages to a log file and errors to a
//     separate error file. Used by long unattended analysis runs.
//   - ConsoleLogger writes to stdout/stderr. Used by interactive runs where
//     the report itself is the output.
//
// SCOPED LOGGING:
//   Loggers can be scoped with a prefix using WithScope(). This creates a
//   child logger that prefixes all messages with the scope name, e.g.:
//
//     loaderLog := logger.WithScope("LOADER")
//     loaderLog.Info("Folding host %s", host) // → [timestamp] [LOADER] Folding host ...
//
// =============================================================================

package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// =============================================================================
// Constants and Interface
// =============================================================================

const (
	// SeparatorLine is the visual separator used in logs
	SeparatorLine = "========================================================================="

	// TimeFormat is the timestamp format for log messages
	TimeFormat = "2006-01-02 15:04:05.000"
)

// Logger is the logging interface used throughout the analyzer.
type Logger interface {
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
	Separator()
	Sync()
	Close()
	WithScope(scope string) Logger
}

// =============================================================================
// DualLogger Implementation
// =============================================================================

// DualLogger implements Logger with separate log and error files.
type DualLogger struct {
	mu        sync.Mutex
	logFile   *os.File
	errorFile *os.File
	logPath   string
	errorPath string
}

// NewDualLogger creates a new DualLogger that writes to the specified files.
// If the files exist, they are truncated.
func NewDualLogger(logPath, errorPath string) (*DualLogger, error) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	errorFile, err := os.OpenFile(errorPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to open error file %s: %w", errorPath, err)
	}

	return &DualLogger{
		logFile:   logFile,
		errorFile: errorFile,
		logPath:   logPath,
		errorPath: errorPath,
	}, nil
}

// WithScope creates a scoped logger that prefixes all messages with the
// scope name. The returned logger shares the underlying files.
func (l *DualLogger) WithScope(scope string) Logger {
	return &scopedLogger{parent: l, scope: scope}
}

// Info logs an informational message to the log file.
func (l *DualLogger) Info(format string, args ...interface{}) {
	l.write(l.logFile, "", "", format, args...)
}

// Error logs an error message to both the error file and log file.
func (l *DualLogger) Error(format string, args ...interface{}) {
	l.write(l.errorFile, "", "ERROR: ", format, args...)
	l.write(l.logFile, "", "ERROR: ", format, args...)
}

// Separator logs a visual separator line to the log file.
func (l *DualLogger) Separator() {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintln(l.logFile, SeparatorLine)
}

// Sync forces a flush of all log data to disk.
func (l *DualLogger) Sync() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logFile.Sync()
	l.errorFile.Sync()
}

// Close closes all log files after syncing.
func (l *DualLogger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		l.logFile.Sync()
		l.logFile.Close()
		l.logFile = nil
	}
	if l.errorFile != nil {
		l.errorFile.Sync()
		l.errorFile.Close()
		l.errorFile = nil
	}
}

func (l *DualLogger) write(f *os.File, scope, level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if f == nil {
		return
	}
	timestamp := time.Now().Format(TimeFormat)
	msg := fmt.Sprintf(format, args...)
	if scope != "" {
		fmt.Fprintf(f, "[%s] [%s] %s%s\n", timestamp, scope, level, msg)
	} else {
		fmt.Fprintf(f, "[%s] %s%s\n", timestamp, level, msg)
	}
}

// =============================================================================
// scopedLogger - Logger with a Prefix
// =============================================================================

// scopedLogger wraps a DualLogger and prefixes all messages with a scope
// name. It shares the underlying files with its parent; closing the parent
// closes the files, Close here is a no-op.
type scopedLogger struct {
	parent *DualLogger
	scope  string
}

// WithScope creates a nested scoped logger. The scopes are combined:
// parent.WithScope("A").WithScope("B") → [A:B]
func (l *scopedLogger) WithScope(scope string) Logger {
	return &scopedLogger{parent: l.parent, scope: l.scope + ":" + scope}
}

func (l *scopedLogger) Info(format string, args ...interface{}) {
	l.parent.write(l.parent.logFile, l.scope, "", format, args...)
}

func (l *scopedLogger) Error(format string, args ...interface{}) {
	l.parent.write(l.parent.errorFile, l.scope, "ERROR: ", format, args...)
	l.parent.write(l.parent.logFile, l.scope, "ERROR: ", format, args...)
}

func (l *scopedLogger) Separator() {
	l.parent.Separator()
}

func (l *scopedLogger) Sync() {
	l.parent.Sync()
}

func (l *scopedLogger) Close() {
	// No-op: scopedLogger does not own the files
}

// =============================================================================
// ConsoleLogger Implementation
// =============================================================================

// ConsoleLogger implements Logger on stdout/stderr without timestamps, so
// diagnostics interleave naturally with the rendered report.
type ConsoleLogger struct {
	mu    sync.Mutex
	out   io.Writer
	errw  io.Writer
	scope string
}

// NewConsoleLogger creates a logger writing to stdout and stderr.
func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{out: os.Stdout, errw: os.Stderr}
}

// NewWriterLogger creates a console-style logger on arbitrary writers.
// Used by tests to capture diagnostics.
func NewWriterLogger(out, errw io.Writer) *ConsoleLogger {
	return &ConsoleLogger{out: out, errw: errw}
}

func (l *ConsoleLogger) WithScope(scope string) Logger {
	combined := scope
	if l.scope != "" {
		combined = l.scope + ":" + scope
	}
	return &ConsoleLogger{out: l.out, errw: l.errw, scope: combined}
}

func (l *ConsoleLogger) Info(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.scope != "" {
		fmt.Fprintf(l.out, "[%s] ", l.scope)
	}
	fmt.Fprintf(l.out, format+"\n", args...)
}

func (l *ConsoleLogger) Error(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.scope != "" {
		fmt.Fprintf(l.errw, "[%s] ", l.scope)
	}
	fmt.Fprintf(l.errw, "ERROR: "+format+"\n", args...)
}

func (l *ConsoleLogger) Separator() {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintln(l.out, SeparatorLine)
}

func (l *ConsoleLogger) Sync()  {}
func (l *ConsoleLogger) Close() {}
