// Package logger provides the structured logging contract for the TSA broker.
// The production implementation lives in internal/infrastructure/monitoring and is backed by zap.
package logger

import (
	"context"
	"strings"
	"time"
)

// ================================================================================
// Logger Interface
// ================================================================================

// Logger defines the interface for structured logging
type Logger interface {
	// Debug logs a debug message
	Debug(ctx context.Context, msg string, fields ...Fields)

	// Info logs an informational message
	Info(ctx context.Context, msg string, fields ...Fields)

	// Warn logs a warning message
	Warn(ctx context.Context, msg string, fields ...Fields)

	// Error logs an error message
	Error(ctx context.Context, msg string, err error, fields ...Fields)

	// Fatal logs a fatal message and exits the application
	Fatal(ctx context.Context, msg string, err error, fields ...Fields)

	// WithFields creates a new logger with additional fields
	WithFields(fields Fields) Logger

	// WithComponent creates a new logger for a specific component
	WithComponent(component string) Logger

	// ForContext returns the request scoped logger stored in ctx, or the receiver
	ForContext(ctx context.Context) Logger
}

// ================================================================================
// Fields
// ================================================================================

// Fields is a set of key-value pairs attached to a log entry
type Fields map[string]interface{}

// String creates a string field
func String(key, value string) Fields { return Fields{key: value} }

// Int creates an integer field
func Int(key string, value int) Fields { return Fields{key: value} }

// Int64 creates an int64 field
func Int64(key string, value int64) Fields { return Fields{key: value} }

// Float64 creates a float64 field
func Float64(key string, value float64) Fields { return Fields{key: value} }

// Bool creates a boolean field
func Bool(key string, value bool) Fields { return Fields{key: value} }

// Duration creates a duration field
func Duration(key string, value time.Duration) Fields { return Fields{key: value.String()} }

// Time creates a time field
func Time(key string, value time.Time) Fields { return Fields{key: value.UTC().Format(time.RFC3339Nano)} }

// Any creates a field with any type
func Any(key string, value interface{}) Fields { return Fields{key: value} }

// Error creates an error field
func Error(err error) Fields {
	if err == nil {
		return Fields{"error": nil}
	}
	return Fields{"error": err.Error()}
}

// ================================================================================
// Sanitizing
// ================================================================================

var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"private_key",
	"credential",
}

// SanitizeValue masks values of sensitive keys. Implementations call it for every field.
func SanitizeValue(key string, value interface{}) interface{} {
	keyLower := strings.ToLower(key)
	for _, sensitiveKey := range sensitiveKeys {
		if strings.Contains(keyLower, sensitiveKey) {
			if str, ok := value.(string); ok && len(str) > 0 {
				return maskString(str)
			}
			return "***REDACTED***"
		}
	}
	return value
}

func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***" + s[len(s)-4:]
}
