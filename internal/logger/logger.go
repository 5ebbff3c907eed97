// Package logger is the run-wide leveled logger. Library code logs through
// the package-level functions; the CLI decides the sinks once at startup.
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

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "INFO"
	}
}

type sink struct {
	level   Level
	out     *log.Logger
	enabled bool
}

var active = &sink{}

// Init wires the process logger. An empty file path with console off still
// gets a stdout writer so nothing is silently dropped.
func Init(enabled bool, levelStr, logFile string, console bool) error {
	if !enabled {
		active = &sink{}
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

	active = &sink{
		level:   parseLevel(levelStr),
		out:     log.New(io.MultiWriter(writers...), "", 0),
		enabled: true,
	}
	return nil
}

func parseLevel(levelStr string) Level {
	switch strings.ToLower(levelStr) {
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

func emit(level Level, format string, args ...interface{}) {
	if !active.enabled || active.level > level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05")
	active.out.Printf("[%s] [%s] %s", ts, level, fmt.Sprintf(format, args...))
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) { emit(Debug, format, args...) }

// Infof logs an info message.
func Infof(format string, args ...interface{}) { emit(Info, format, args...) }

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) { emit(Warn, format, args...) }

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) { emit(Error, format, args...) }
