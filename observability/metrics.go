// Package observability keeps penwatch's monitoring data in SQLite: process
// heartbeats, timeseries metrics, the message-channel audit trail and
// enhancement business events.
//
// Call Init on the database first. Metric and audit writes are buffered and
// flushed in batches; a full buffer drops metrics but writes audit entries
// inline.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Metric names recorded by penwatch.
const (
	MetricCallDurationMs     = "connectivity_call_duration_ms"
	MetricCallErrors         = "connectivity_call_errors"
	MetricEnhanceDurationMs  = "enhance_duration_ms"
	MetricSuggestionsShown   = "suggestions_shown"
	MetricSuggestionsApplied = "suggestions_applied"
	MetricPagesAttached      = "pages_attached"
)

// Metric is a single datapoint.
type Metric struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Unit      string            `json:"unit,omitempty"` // "ms", "count"
}

// MetricsManager buffers metrics and writes them in one transaction per flush.
type MetricsManager struct {
	db       *sql.DB
	capacity int

	mu     sync.Mutex
	buffer []*Metric

	stop chan struct{}
	done chan struct{}
}

// NewMetricsManager starts a manager flushing every interval or whenever
// capacity datapoints are pending.
func NewMetricsManager(db *sql.DB, capacity int, interval time.Duration) *MetricsManager {
	if capacity <= 0 {
		capacity = 100
	}
	mm := &MetricsManager{
		db:       db,
		capacity: capacity,
		buffer:   make([]*Metric, 0, capacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go mm.loop(interval)
	return mm
}

// Record queues m. A zero Timestamp is set to now.
func (mm *MetricsManager) Record(m *Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = nowFunc()
	}
	mm.mu.Lock()
	mm.buffer = append(mm.buffer, m)
	var batch []*Metric
	if len(mm.buffer) >= mm.capacity {
		batch = mm.buffer
		mm.buffer = make([]*Metric, 0, mm.capacity)
	}
	mm.mu.Unlock()
	if batch != nil {
		mm.write(batch)
	}
}

// RecordSimple records an unlabelled datapoint.
func (mm *MetricsManager) RecordSimple(name string, value float64, unit string) {
	mm.Record(&Metric{Name: name, Value: value, Unit: unit})
}

// Flush writes pending metrics now.
func (mm *MetricsManager) Flush() {
	mm.mu.Lock()
	batch := mm.buffer
	mm.buffer = make([]*Metric, 0, mm.capacity)
	mm.mu.Unlock()
	mm.write(batch)
}

// Query returns datapoints of name (all names when empty) at or after since,
// newest first.
func (mm *MetricsManager) Query(ctx context.Context, name string, since time.Time, limit int) ([]*Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, COALESCE(unit, '') FROM metrics WHERE timestamp >= ?"
	args := []any{since.Unix()}
	if name != "" {
		q += " AND metric_name = ?"
		args = append(args, name)
	}
	q += " ORDER BY timestamp DESC, metric_id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := mm.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query metrics: %w", err)
	}
	defer rows.Close()

	var out []*Metric
	for rows.Next() {
		m := &Metric{}
		var ts int64
		var labels sql.NullString
		if err := rows.Scan(&m.Name, &ts, &m.Value, &labels, &m.Unit); err != nil {
			return nil, fmt.Errorf("observability: scan metric: %w", err)
		}
		m.Timestamp = time.Unix(ts, 0)
		if labels.Valid {
			json.Unmarshal([]byte(labels.String), &m.Labels)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close flushes what is pending and stops the loop.
func (mm *MetricsManager) Close() error {
	close(mm.stop)
	<-mm.done
	return nil
}

func (mm *MetricsManager) loop(interval time.Duration) {
	defer close(mm.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-mm.stop:
			mm.Flush()
			return
		case <-ticker.C:
			mm.Flush()
		}
	}
}

func (mm *MetricsManager) write(batch []*Metric) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := mm.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("observability: metrics begin", "error", err, "dropped", len(batch))
		return
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics (metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?)`)
	if err != nil {
		slog.Error("observability: metrics prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, m := range batch {
		var labels sql.NullString
		if len(m.Labels) > 0 {
			if b, err := json.Marshal(m.Labels); err == nil {
				labels = sql.NullString{String: string(b), Valid: true}
			}
		}
		if _, err := stmt.ExecContext(ctx, m.Name, m.Timestamp.Unix(), m.Value, labels, m.Unit); err != nil {
			slog.Error("observability: metrics insert", "error", err, "metric", m.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("observability: metrics commit", "error", err)
	}
}
