package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aegishub/aegishub-go/pkg/audit"
)

// AuditLogger persists audit events into the coordination database so the
// trail survives restarts and is queryable.
type AuditLogger struct {
	store *Store
}

// NewAuditLogger returns a store-backed audit.Logger.
func NewAuditLogger(s *Store) *AuditLogger {
	return &AuditLogger{store: s}
}

// Log writes one audit event.
func (l *AuditLogger) Log(event audit.Event) error {
	_, err := l.store.db.Exec(`
		INSERT INTO audit_events (id, ts, event, user, ip, path, success, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.Unix(), event.EventType, event.User,
		event.IP, event.Path, boolInt(event.Success), event.Details)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Query returns events matching the filter, newest first.
func (l *AuditLogger) Query(filter audit.QueryFilter) (events []audit.Event, err error) {
	query := `SELECT id, ts, event, user, ip, path, success, details FROM audit_events WHERE 1=1`
	var args []any
	if filter.StartTime != nil {
		query += ` AND ts >= ?`
		args = append(args, filter.StartTime.Unix())
	}
	if filter.EndTime != nil {
		query += ` AND ts <= ?`
		args = append(args, filter.EndTime.Unix())
	}
	if filter.EventType != "" {
		query += ` AND event = ?`
		args = append(args, filter.EventType)
	}
	if filter.User != "" {
		query += ` AND user = ?`
		args = append(args, filter.User)
	}
	query += ` ORDER BY ts DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	var rows *sql.Rows
	rows, err = l.store.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	for rows.Next() {
		var (
			e       audit.Event
			ts      int64
			success int
		)
		if scanErr := rows.Scan(&e.ID, &ts, &e.EventType, &e.User, &e.IP, &e.Path, &success, &e.Details); scanErr != nil {
			return nil, fmt.Errorf("scan audit event: %w", scanErr)
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		e.Success = success != 0
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, err
}

// Close is a no-op; the store owns the database handle.
func (l *AuditLogger) Close() error {
	return nil
}
