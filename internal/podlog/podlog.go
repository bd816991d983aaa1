// Package podlog provides the firmware's leveled diagnostic logger.
package podlog

import (
	"fmt"
	"log"
)

// Level is a log severity, ordered from least to most severe.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
	Critical
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a --log_level flag value. Unknown values default to Info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return Debug
	case "info":
		return Info
	case "warn", "warning":
		return Warn
	case "error":
		return Error
	case "critical":
		return Critical
	default:
		return Info
	}
}

// logf is the package-level sink. It defaults to log.Printf but may be
// replaced by SetLogger, mirroring how production code can redirect or
// mute diagnostics during tests.
var logf func(format string, v ...interface{}) = log.Printf

// threshold is the minimum level that reaches logf.
var threshold = Debug

// SetLogger replaces the underlying sink. Passing nil installs a no-op sink.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		logf = func(string, ...interface{}) {}
		return
	}
	logf = f
}

// SetLevel sets the minimum severity that is actually emitted. Lines below
// threshold are dropped before formatting.
func SetLevel(l Level) {
	threshold = l
}

// logLine emits one line tagged with component and severity, provided the
// severity meets the current threshold.
func logLine(level Level, component, format string, v ...interface{}) {
	if level < threshold {
		return
	}
	msg := fmt.Sprintf(format, v...)
	logf("[%s] %s: %s", level, component, msg)
}

// Debugf logs a DEBUG-severity line for component.
func Debugf(component, format string, v ...interface{}) {
	logLine(Debug, component, format, v...)
}

// Infof logs an INFO-severity line for component.
func Infof(component, format string, v ...interface{}) {
	logLine(Info, component, format, v...)
}

// Warnf logs a WARN-severity line for component.
func Warnf(component, format string, v ...interface{}) {
	logLine(Warn, component, format, v...)
}

// Errorf logs an ERROR-severity line for component.
func Errorf(component, format string, v ...interface{}) {
	logLine(Error, component, format, v...)
}

// Criticalf logs a CRITICAL-severity line for component. By convention this
// is the last line emitted before a fatal exit.
func Criticalf(component, format string, v ...interface{}) {
	logLine(Critical, component, format, v...)
}
