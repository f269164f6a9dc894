// Package logger is the process-wide leveled logger.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Level is the logging level.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

var levelNames = map[Level]string{
	Debug: "DEBUG",
	Info:  "INFO",
	Warn:  "WARN",
	Error: "ERROR",
}

// Logger is a basic logger wrapper.
type Logger struct {
	level   Level
	logger  *log.Logger
	enabled bool
}

var globalLogger *Logger

// Init initializes the logger. Without a file, or with console set, lines go
// to stdout.
func Init(enabled bool, levelStr, logFile string, console bool) error {
	if !enabled {
		globalLogger = &Logger{enabled: false}
		return nil
	}

	var writers []io.Writer
	if logFile != "" {
		dir := filepath.Dir(logFile)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
	}
	if console || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	SetOutput(io.MultiWriter(writers...), parseLevel(levelStr))
	return nil
}

// SetOutput routes log lines to w at the given level.
func SetOutput(w io.Writer, level Level) {
	globalLogger = &Logger{
		level:   level,
		logger:  log.New(w, "", 0),
		enabled: true,
	}
}

func parseLevel(levelStr string) Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return Debug
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

func logf(level Level, format string, args ...interface{}) {
	l := globalLogger
	if l == nil || !l.enabled || l.level > level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	l.logger.Println(fmt.Sprintf("[%s] [%s] %s", ts, levelNames[level], fmt.Sprintf(format, args...)))
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) { logf(Debug, format, args...) }

// Infof logs an info message.
func Infof(format string, args ...interface{}) { logf(Info, format, args...) }

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) { logf(Warn, format, args...) }

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) { logf(Error, format, args...) }

// Scoped prefixes every message with fixed key=value context.
type Scoped struct {
	prefix string
}

// With returns a Scoped logger for alternating keys and values. Empty values
// are left out.
func With(kv ...string) Scoped {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			continue
		}
		fmt.Fprintf(&b, "%s=%s ", kv[i], kv[i+1])
	}
	return Scoped{prefix: b.String()}
}

func (s Scoped) logf(level Level, format string, args ...interface{}) {
	logf(level, "%s"+format, append([]interface{}{s.prefix}, args...)...)
}

// Debugf logs a debug message with the scope prefix.
func (s Scoped) Debugf(format string, args ...interface{}) { s.logf(Debug, format, args...) }

// Infof logs an info message with the scope prefix.
func (s Scoped) Infof(format string, args ...interface{}) { s.logf(Info, format, args...) }

// Warnf logs a warning with the scope prefix.
func (s Scoped) Warnf(format string, args ...interface{}) { s.logf(Warn, format, args...) }

// Errorf logs an error message with the scope prefix.
func (s Scoped) Errorf(format string, args ...interface{}) { s.logf(Error, format, args...) }
