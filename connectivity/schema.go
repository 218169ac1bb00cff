package connectivity

import "database/sql"

// Schema holds the routes table and its change counter.
//
// Strategies:
//   - "local": the in-process handler registered with RegisterLocal.
//   - "http":  POST to endpoint (see HTTPFactory).
//   - "mcp":   call a tool on a streamable-HTTP MCP server (see MCPFactory).
//   - "noop":  succeed with an empty reply; disables the service.
//
// config is the per-route JSON read by the factories and by the resilience
// wrapper (timeout_ms, max_retries, backoff_ms, breaker_threshold,
// breaker_reset_ms, fallback_local). Every write to routes bumps
// routes_version, which Router.Watch polls.
const Schema = `
CREATE TABLE IF NOT EXISTS routes (
    service_name TEXT PRIMARY KEY,
    strategy     TEXT NOT NULL CHECK(strategy IN ('local', 'http', 'mcp', 'noop')),
    endpoint     TEXT,
    config       TEXT NOT NULL DEFAULT '{}',
    updated_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS routes_version (
    id      INTEGER PRIMARY KEY CHECK(id = 1),
    version INTEGER NOT NULL
);
INSERT OR IGNORE INTO routes_version (id, version) VALUES (1, 0);

CREATE TRIGGER IF NOT EXISTS trg_routes_ins AFTER INSERT ON routes
BEGIN UPDATE routes_version SET version = version + 1 WHERE id = 1; END;
CREATE TRIGGER IF NOT EXISTS trg_routes_upd AFTER UPDATE ON routes
BEGIN UPDATE routes_version SET version = version + 1 WHERE id = 1; END;
CREATE TRIGGER IF NOT EXISTS trg_routes_del AFTER DELETE ON routes
BEGIN UPDATE routes_version SET version = version + 1 WHERE id = 1; END;
`

// Init creates the routes tables.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
