package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/penwatch/idgen"
)

var nowFunc = time.Now

// BusinessEvent is a domain-level outcome, such as a finished enhancement
// session.
type BusinessEvent struct {
	EventType   string    `json:"event_type"`
	ServiceName string    `json:"service_name"`
	EntityType  string    `json:"entity_type,omitempty"`
	EntityID    string    `json:"entity_id,omitempty"`
	Action      string    `json:"action"`
	Details     string    `json:"details,omitempty"` // JSON
	Success     bool      `json:"success"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventLogger writes business events.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator overrides the "evt_" UUIDv7 IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger on db.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{db: db, newID: idgen.Prefixed("evt_", idgen.Default)}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records event. Failures are logged, never returned: a broken
// store must not stall an enhancement.
func (l *EventLogger) LogEvent(ctx context.Context, event BusinessEvent) {
	_, err := l.db.ExecContext(ctx, `INSERT INTO business_events
		(event_id, event_type, service_name, entity_type, entity_id, action, details, success, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		l.newID(), event.EventType, event.ServiceName, event.EntityType, event.EntityID,
		event.Action, event.Details, event.Success, nowFunc().Unix())
	if err != nil {
		slog.Error("observability: log event", "error", err, "event_type", event.EventType)
	}
}

// RecentEvents returns the latest events of eventType, newest first.
func RecentEvents(ctx context.Context, db *sql.DB, eventType string, limit int) ([]BusinessEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `SELECT event_type, service_name, COALESCE(entity_type, ''),
		COALESCE(entity_id, ''), action, COALESCE(details, ''), success, created_at
		FROM business_events WHERE event_type = ?
		ORDER BY created_at DESC, event_id DESC LIMIT ?`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: query events: %w", err)
	}
	defer rows.Close()

	var out []BusinessEvent
	for rows.Next() {
		var e BusinessEvent
		var ts int64
		if err := rows.Scan(&e.EventType, &e.ServiceName, &e.EntityType, &e.EntityID,
			&e.Action, &e.Details, &e.Success, &ts); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		e.CreatedAt = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}
