package observability

import "database/sql"

// Schema holds the observability tables. They live in the penwatch database
// next to the settings and routes tables.
const Schema = `
CREATE TABLE IF NOT EXISTS heartbeats (
    heartbeat_id  INTEGER PRIMARY KEY AUTOINCREMENT,
    process_name  TEXT NOT NULL,
    hostname      TEXT NOT NULL,
    pid           INTEGER NOT NULL,
    timestamp     INTEGER NOT NULL,
    goroutines    INTEGER,
    heap_alloc_mb REAL,
    details       TEXT
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_name_time ON heartbeats(process_name, timestamp DESC);

CREATE TABLE IF NOT EXISTS metrics (
    metric_id   INTEGER PRIMARY KEY AUTOINCREMENT,
    metric_name TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    value       REAL NOT NULL,
    labels      TEXT,
    unit        TEXT
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time ON metrics(metric_name, timestamp DESC);

CREATE TABLE IF NOT EXISTS audit_log (
    entry_id      TEXT PRIMARY KEY,
    timestamp     INTEGER NOT NULL,
    component     TEXT NOT NULL,
    operation     TEXT NOT NULL,
    trace_id      TEXT,
    parameters    TEXT NOT NULL DEFAULT '{}',
    result        TEXT,
    error_message TEXT,
    duration_ms   INTEGER,
    status        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_operation ON audit_log(component, operation);

CREATE TABLE IF NOT EXISTS business_events (
    event_id     TEXT PRIMARY KEY,
    event_type   TEXT NOT NULL,
    service_name TEXT NOT NULL,
    entity_type  TEXT,
    entity_id    TEXT,
    action       TEXT NOT NULL,
    details      TEXT,
    success      INTEGER NOT NULL DEFAULT 1,
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type_time ON business_events(event_type, created_at DESC);
`

// Init creates the observability tables.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Retention is the per-table retention in days. Zero keeps everything.
type Retention struct {
	HeartbeatsDays int
	MetricsDays    int
	AuditDays      int
	EventsDays     int
}

// Cleanup deletes rows older than the retention thresholds and returns the
// number removed.
func Cleanup(db *sql.DB, r Retention) (int64, error) {
	targets := []struct {
		query string
		days  int
	}{
		{"DELETE FROM heartbeats WHERE timestamp < ?", r.HeartbeatsDays},
		{"DELETE FROM metrics WHERE timestamp < ?", r.MetricsDays},
		{"DELETE FROM audit_log WHERE timestamp < ?", r.AuditDays},
		{"DELETE FROM business_events WHERE created_at < ?", r.EventsDays},
	}
	var total int64
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		res, err := db.Exec(t.query, nowFunc().AddDate(0, 0, -t.days).Unix())
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
