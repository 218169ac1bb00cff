package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/penwatch/idgen"
)

// AuditEntry is one message-channel or tool call.
type AuditEntry struct {
	EntryID      string    `json:"entry_id"`
	Timestamp    time.Time `json:"timestamp"`
	Component    string    `json:"component"`
	Operation    string    `json:"operation"` // e.g. "message.prompt_from_popup"
	TraceID      string    `json:"trace_id,omitempty"`
	Parameters   string    `json:"parameters,omitempty"` // JSON
	Result       string    `json:"result,omitempty"`     // JSON
	ErrorMessage string    `json:"error,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	Status       string    `json:"status"` // "success" or "error"
}

// AuditLogger persists audit entries in batches off the caller's goroutine.
type AuditLogger struct {
	db    *sql.DB
	newID idgen.Generator
	ch    chan *AuditEntry
	stop  chan struct{}
	done  chan struct{}
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithAuditIDGenerator overrides the "aud_" UUIDv7 IDs.
func WithAuditIDGenerator(gen idgen.Generator) AuditOption {
	return func(a *AuditLogger) { a.newID = gen }
}

// NewAuditLogger starts the flush goroutine. Close stops it.
func NewAuditLogger(db *sql.DB, bufferSize int, opts ...AuditOption) *AuditLogger {
	a := &AuditLogger{
		db:    db,
		newID: idgen.Prefixed("aud_", idgen.Default),
		ch:    make(chan *AuditEntry, bufferSize),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.flushLoop()
	return a
}

// NewAuditEntry builds an entry; params and result are stored as JSON.
func (a *AuditLogger) NewAuditEntry(component, operation string, params, result any, err error, d time.Duration) *AuditEntry {
	e := &AuditEntry{
		EntryID:    a.newID(),
		Timestamp:  nowFunc(),
		Component:  component,
		Operation:  operation,
		DurationMs: d.Milliseconds(),
		Status:     "success",
	}
	if params != nil {
		if b, jerr := json.Marshal(params); jerr == nil {
			e.Parameters = string(b)
		}
	}
	if err != nil {
		e.Status = "error"
		e.ErrorMessage = err.Error()
	} else if result != nil {
		if b, jerr := json.Marshal(result); jerr == nil {
			e.Result = string(b)
		}
	}
	return e
}

// Log inserts an entry synchronously.
func (a *AuditLogger) Log(ctx context.Context, e *AuditEntry) error {
	return insertAudit(ctx, a.db, e)
}

// LogAsync queues an entry, inserting it directly when the buffer is full.
func (a *AuditLogger) LogAsync(e *AuditEntry) {
	select {
	case a.ch <- e:
	default:
		slog.Warn("observability: audit buffer full, writing inline", "operation", e.Operation)
		if err := insertAudit(context.Background(), a.db, e); err != nil {
			slog.Error("observability: audit insert", "error", err)
		}
	}
}

// Recent returns the latest entries, newest first.
func (a *AuditLogger) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	return RecentAudit(ctx, a.db, limit)
}

// RecentAudit reads the latest audit entries from db, newest first.
func RecentAudit(ctx context.Context, db *sql.DB, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `SELECT entry_id, timestamp, component, operation,
		COALESCE(trace_id, ''), parameters, COALESCE(result, ''), COALESCE(error_message, ''),
		COALESCE(duration_ms, 0), status
		FROM audit_log ORDER BY timestamp DESC, entry_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: query audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		if err := rows.Scan(&e.EntryID, &ts, &e.Component, &e.Operation, &e.TraceID,
			&e.Parameters, &e.Result, &e.ErrorMessage, &e.DurationMs, &e.Status); err != nil {
			return nil, fmt.Errorf("observability: scan audit: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close drains the buffer and stops the flush goroutine.
func (a *AuditLogger) Close() error {
	close(a.stop)
	<-a.done
	return nil
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	batch := make([]*AuditEntry, 0, 64)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			slog.Error("observability: audit begin", "error", err)
			return
		}
		for _, e := range batch {
			if err := insertAudit(ctx, tx, e); err != nil {
				slog.Error("observability: audit insert", "error", err, "entry_id", e.EntryID)
			}
		}
		if err := tx.Commit(); err != nil {
			slog.Error("observability: audit commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-a.stop:
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= cap(batch) {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAudit(ctx context.Context, db execer, e *AuditEntry) error {
	params := e.Parameters
	if params == "" {
		params = "{}"
	}
	_, err := db.ExecContext(ctx, `INSERT INTO audit_log
		(entry_id, timestamp, component, operation, trace_id, parameters, result, error_message, duration_ms, status)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp.Unix(), e.Component, e.Operation, e.TraceID,
		params, e.Result, e.ErrorMessage, e.DurationMs, e.Status)
	return err
}
