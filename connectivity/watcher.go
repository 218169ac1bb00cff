package connectivity

import (
	"context"
	"database/sql"
	"time"

	"github.com/hazyhaar/penwatch/watch"
)

// RoutesVersion is the change detector for the routes table; it sees
// writes from this process and from others.
var RoutesVersion = watch.MaxColumnDetector("routes_version", "version")

// Watch loads the routes table, then reloads it after every change until
// ctx is done.
func (r *Router) Watch(ctx context.Context, db *sql.DB, interval time.Duration) {
	w := watch.New(db, watch.Options{
		Interval: interval,
		Detector: RoutesVersion,
		Initial:  true,
		Logger:   r.logger,
	})
	r.logger.Info("connectivity: watching routes", "interval", interval)
	w.OnChange(ctx, func(ctx context.Context) error { return r.Reload(ctx, db) })
}
