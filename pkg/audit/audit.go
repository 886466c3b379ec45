// Package audit records who did what on the coordination surface.
//
// The Logger interface is implemented by a console backend (zerolog only)
// and by the SQLite-backed logger in internal/store, which makes the trail
// queryable for after-action review.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Event represents a single audit log entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event"` // "login", "incident_accept", "dispatch_retry", ...
	User      string    `json:"user,omitempty"`
	IP        string    `json:"ip"`
	Path      string    `json:"path,omitempty"`
	Success   bool      `json:"success"`
	Details   string    `json:"details,omitempty"`
}

// QueryFilter defines filters for querying audit events.
type QueryFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	EventType string
	User      string
	Limit     int
}

// Logger defines the interface for audit logging backends.
type Logger interface {
	// Log records an audit event
	Log(event Event) error

	// Query retrieves audit events matching the filter (may return empty
	// for the console logger)
	Query(filter QueryFilter) ([]Event, error)

	// Close releases any resources held by the logger
	Close() error
}

// Global logger instance with thread-safe access
var (
	globalLogger Logger
	loggerMu     sync.RWMutex
)

// SetLogger sets the global audit logger. Call during startup.
func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	globalLogger = l
}

// GetLogger returns the current global audit logger, defaulting to the
// console backend.
func GetLogger() Logger {
	loggerMu.RLock()
	l := globalLogger
	loggerMu.RUnlock()

	if l != nil {
		return l
	}

	loggerMu.Lock()
	defer loggerMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewConsoleLogger()
	}
	return globalLogger
}

// Close closes the global audit logger.
func Close() error {
	loggerMu.RLock()
	l := globalLogger
	loggerMu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Close()
}

// Log is a convenience function that logs an event using the global logger.
func Log(eventType, user, ip, path string, success bool, details string) {
	event := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		EventType: eventType,
		User:      user,
		IP:        ip,
		Path:      path,
		Success:   success,
		Details:   details,
	}

	if err := GetLogger().Log(event); err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("Failed to log audit event")
	}
}

// ConsoleLogger implements Logger by writing to zerolog.
type ConsoleLogger struct{}

// NewConsoleLogger creates a new console-based audit logger.
func NewConsoleLogger() *ConsoleLogger {
	return &ConsoleLogger{}
}

// Log writes an audit event to zerolog.
func (c *ConsoleLogger) Log(event Event) error {
	logEvent := log.With().
		Str("audit_id", event.ID).
		Str("event", event.EventType).
		Str("user", event.User).
		Str("ip", event.IP).
		Str("path", event.Path).
		Time("timestamp", event.Timestamp).
		Str("details", event.Details).
		Logger()

	if event.Success {
		logEvent.Info().Msg("Audit event")
	} else {
		logEvent.Warn().Msg("Audit event - FAILED")
	}

	return nil
}

// Query returns an empty slice; console logs are not queryable.
func (c *ConsoleLogger) Query(filter QueryFilter) ([]Event, error) {
	return []Event{}, nil
}

// Close is a no-op for the console logger.
func (c *ConsoleLogger) Close() error {
	return nil
}
