package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrRouteNotFound is returned by Admin for a service with no row.
var ErrRouteNotFound = errors.New("connectivity: route not found")

// Strategies accepted by the routes table.
var Strategies = []string{"local", "http", "mcp", "noop"}

// Admin edits the routes table. A running Router picks the change up
// through Watch.
type Admin struct {
	db *sql.DB
}

// NewAdmin wraps db, which must carry Schema.
func NewAdmin(db *sql.DB) *Admin {
	return &Admin{db: db}
}

// RouteRow is one row of the routes table.
type RouteRow struct {
	ServiceName string          `json:"service_name"`
	Strategy    string          `json:"strategy"`
	Endpoint    string          `json:"endpoint,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
	UpdatedAt   int64           `json:"updated_at"`
}

const routeColumns = `service_name, strategy, COALESCE(endpoint, ''), config, updated_at`

func scanRoute(sc interface{ Scan(...any) error }) (RouteRow, error) {
	var rr RouteRow
	var cfg string
	err := sc.Scan(&rr.ServiceName, &rr.Strategy, &rr.Endpoint, &cfg, &rr.UpdatedAt)
	rr.Config = json.RawMessage(cfg)
	return rr, err
}

// ListRoutes returns every route ordered by service name.
func (a *Admin) ListRoutes(ctx context.Context) ([]RouteRow, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT `+routeColumns+` FROM routes ORDER BY service_name`)
	if err != nil {
		return nil, fmt.Errorf("connectivity: list routes: %w", err)
	}
	defer rows.Close()
	var out []RouteRow
	for rows.Next() {
		rr, err := scanRoute(rows)
		if err != nil {
			return nil, fmt.Errorf("connectivity: scan route: %w", err)
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

// GetRoute returns the route of service or ErrRouteNotFound.
func (a *Admin) GetRoute(ctx context.Context, service string) (RouteRow, error) {
	rr, err := scanRoute(a.db.QueryRowContext(ctx, `SELECT `+routeColumns+` FROM routes WHERE service_name = ?`, service))
	if errors.Is(err, sql.ErrNoRows) {
		return RouteRow{}, fmt.Errorf("%w: %s", ErrRouteNotFound, service)
	}
	if err != nil {
		return RouteRow{}, fmt.Errorf("connectivity: get route: %w", err)
	}
	return rr, nil
}

// UpsertRoute creates or replaces the route of rr.ServiceName.
func (a *Admin) UpsertRoute(ctx context.Context, rr RouteRow) error {
	if rr.ServiceName == "" {
		return errors.New("connectivity: route needs a service name")
	}
	if !validStrategy(rr.Strategy) {
		return fmt.Errorf("connectivity: unknown strategy %q", rr.Strategy)
	}
	if (rr.Strategy == "http" || rr.Strategy == "mcp") && rr.Endpoint == "" {
		return fmt.Errorf("connectivity: strategy %s needs an endpoint", rr.Strategy)
	}
	cfg := rr.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage(`{}`)
	}
	if !json.Valid(cfg) {
		return errors.New("connectivity: route config is not valid JSON")
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO routes (service_name, strategy, endpoint, config, updated_at)
		 VALUES (?, ?, ?, ?, strftime('%s', 'now'))
		 ON CONFLICT(service_name) DO UPDATE SET
		     strategy = excluded.strategy,
		     endpoint = excluded.endpoint,
		     config = excluded.config,
		     updated_at = excluded.updated_at`,
		rr.ServiceName, rr.Strategy, rr.Endpoint, string(cfg))
	if err != nil {
		return fmt.Errorf("connectivity: upsert route: %w", err)
	}
	return nil
}

// SetStrategy switches an existing route, e.g. to "noop" to disable it.
func (a *Admin) SetStrategy(ctx context.Context, service, strategy string) error {
	if !validStrategy(strategy) {
		return fmt.Errorf("connectivity: unknown strategy %q", strategy)
	}
	res, err := a.db.ExecContext(ctx,
		`UPDATE routes SET strategy = ?, updated_at = strftime('%s', 'now') WHERE service_name = ?`,
		strategy, service)
	if err != nil {
		return fmt.Errorf("connectivity: set strategy: %w", err)
	}
	return affected(res, service)
}

// DeleteRoute removes the route of service; calls go back to the local
// handler.
func (a *Admin) DeleteRoute(ctx context.Context, service string) error {
	res, err := a.db.ExecContext(ctx, `DELETE FROM routes WHERE service_name = ?`, service)
	if err != nil {
		return fmt.Errorf("connectivity: delete route: %w", err)
	}
	return affected(res, service)
}

func affected(res sql.Result, service string) error {
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRouteNotFound, service)
	}
	return nil
}

func validStrategy(s string) bool {
	for _, v := range Strategies {
		if v == s {
			return true
		}
	}
	return false
}
