package utils

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// LogLevel represents logging verbosity
type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// Logger is the logging surface shared by the generator, the runner and the CLI.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Success(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	SetLevel(level LogLevel)
}

// ConsoleLogger prints colored, emoji prefixed lines.
type ConsoleLogger struct {
	mu    sync.Mutex
	level LogLevel
	out   io.Writer
}

func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{level: LogLevelInfo, out: color.Output}
}

// SetOutput redirects the logger, mostly for tests.
func (l *ConsoleLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

func (l *ConsoleLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

var (
	debugColor   = color.New(color.FgHiBlack)
	infoColor    = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
)

func (l *ConsoleLogger) log(level LogLevel, c *color.Color, prefix, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level < level {
		return
	}
	c.Fprintln(l.out, prefix+" "+fmt.Sprintf(format, args...))
}

func (l *ConsoleLogger) Debug(format string, args ...any) {
	l.log(LogLevelDebug, debugColor, "🔍", format, args...)
}

func (l *ConsoleLogger) Info(format string, args ...any) {
	l.log(LogLevelInfo, infoColor, "ℹ️ ", format, args...)
}

func (l *ConsoleLogger) Success(format string, args ...any) {
	l.log(LogLevelInfo, successColor, "✅", format, args...)
}

func (l *ConsoleLogger) Warn(format string, args ...any) {
	l.log(LogLevelWarn, warnColor, "⚠️ ", format, args...)
}

func (l *ConsoleLogger) Error(format string, args ...any) {
	l.log(LogLevelError, errorColor, "❌", format, args...)
}

// NullLogger discards everything.
type NullLogger struct{}

func (NullLogger) Debug(string, ...any)   {}
func (NullLogger) Info(string, ...any)    {}
func (NullLogger) Success(string, ...any) {}
func (NullLogger) Warn(string, ...any)    {}
func (NullLogger) Error(string, ...any)   {}
func (NullLogger) SetLevel(LogLevel)      {}

// Entry is one line captured by a RecordingLogger.
type Entry struct {
	Level   LogLevel
	Message string
}

// RecordingLogger keeps every message in memory.
type RecordingLogger struct {
	mu      sync.Mutex
	Entries []Entry
}

func (r *RecordingLogger) add(level LogLevel, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Entries = append(r.Entries, Entry{Level: level, Message: fmt.Sprintf(format, args...)})
}

func (r *RecordingLogger) Debug(format string, args ...any)   { r.add(LogLevelDebug, format, args...) }
func (r *RecordingLogger) Info(format string, args ...any)    { r.add(LogLevelInfo, format, args...) }
func (r *RecordingLogger) Success(format string, args ...any) { r.add(LogLevelInfo, format, args...) }
func (r *RecordingLogger) Warn(format string, args ...any)    { r.add(LogLevelWarn, format, args...) }
func (r *RecordingLogger) Error(format string, args ...any)   { r.add(LogLevelError, format, args...) }
func (r *RecordingLogger) SetLevel(LogLevel)                  {}

// Messages returns the recorded messages in order.
func (r *RecordingLogger) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		out = append(out, e.Message)
	}
	return out
}

// Default is the process wide console logger used by the CLI.
var Default Logger = NewConsoleLogger()

// Fatal prints an error line and exits, as the CLI commands do on failure.
func Fatal(format string, args ...any) {
	Default.Error(format, args...)
	os.Exit(1)
}
