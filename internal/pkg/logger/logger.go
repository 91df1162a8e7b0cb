// Package logger provides structured JSON logging with secret redaction.
// Every entry carries a component and an event name so rate-limit
// adjustments, 429s, batch failures and data-quality findings are
// individually greppable.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// Well-known event names. Callers pass these as the event argument so
// operational dashboards can key on them.
const (
	EventRateLimitAdjusted = "rate_limit_adjusted"
	EventRateLimited       = "rate_limited"
	EventBatchFailure      = "batch_failure"
	EventDataQuality       = "data_quality"
)

// Logger provides structured JSON logging with secret redaction.
type Logger struct {
	level  Level
	mu     sync.Mutex
	out    io.Writer
	redact bool
}

var defaultLogger = &Logger{level: INFO, out: os.Stderr, redact: true}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level = l }

// SetOutput redirects the default logger; used by tests.
func SetOutput(w io.Writer) { defaultLogger.out = w }

// Debug emits a DEBUG-level entry for the given component and event.
func Debug(component, event string, fields ...interface{}) {
	defaultLogger.log(DEBUG, component, event, fields...)
}

// Info emits an INFO-level entry for the given component and event.
func Info(component, event string, fields ...interface{}) {
	defaultLogger.log(INFO, component, event, fields...)
}

// Warn emits a WARN-level entry for the given component and event.
func Warn(component, event string, fields ...interface{}) {
	defaultLogger.log(WARN, component, event, fields...)
}

// Error emits an ERROR-level entry for the given component and event.
func Error(component, event string, fields ...interface{}) {
	defaultLogger.log(ERROR, component, event, fields...)
}

func (l *Logger) log(level Level, component, event string, fields ...interface{}) {
	if level < l.level {
		return
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"level":     levelNames[level],
		"component": component,
		"event":     event,
	}

	// Parse key-value pairs from fields
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redact {
			val = redactValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

var apiKeyRegex = regexp.MustCompile(`pk_[a-zA-Z0-9]{6,}`)

func redactValue(key, val string) string {
	lower := strings.ToLower(key)
	if strings.Contains(lower, "api_key") || strings.Contains(lower, "apikey") ||
		strings.Contains(lower, "authorization") || strings.Contains(lower, "secret") {
		return RedactKey(val)
	}
	// Redact any embedded private keys in generic fields (error bodies, URLs)
	return apiKeyRegex.ReplaceAllStringFunc(val, RedactKey)
}
