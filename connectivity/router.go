// Package connectivity routes penwatch's named services (enhance, message,
// status) to an in-process handler or to a remote worker, as decided by the
// routes table. Editing a row moves a service without a restart:
//
//	router := connectivity.New()
//	router.RegisterTransport("http", connectivity.HTTPFactory())
//	router.RegisterLocal("penwatch_enhance", handler)
//	go router.Watch(ctx, db, 500*time.Millisecond)
//
//	resp, err := router.Call(ctx, "penwatch_enhance", payload)
//
// Remote routes are wrapped with a timeout and, when their config asks for
// it, retries, a circuit breaker and a fallback to the local handler.
package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler is a service function: JSON in, JSON out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// TransportFactory builds a Handler for a remote endpoint from the route's
// config JSON. close, when non-nil, runs once the route is replaced or
// removed.
type TransportFactory func(endpoint string, config json.RawMessage) (handler Handler, close func(), err error)

// DefaultCallTimeout bounds remote calls whose route sets no timeout_ms.
const DefaultCallTimeout = 30 * time.Second

type route struct {
	Service  string
	Strategy string
	Endpoint string
	Config   json.RawMessage
}

func (rt route) key() string {
	return rt.Strategy + "|" + rt.Endpoint + "|" + string(rt.Config)
}

type remote struct {
	handler Handler
	close   func()
	breaker *CircuitBreaker
}

// Router dispatches Calls. It is safe for concurrent use.
type Router struct {
	mu        sync.RWMutex
	locals    map[string]Handler
	remotes   map[string]*remote
	routes    map[string]route
	broken    map[string]error // routes whose transport could not be built
	factories map[string]TransportFactory
	logger    *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates an empty Router.
func New(opts ...Option) *Router {
	r := &Router{
		locals:    make(map[string]Handler),
		remotes:   make(map[string]*remote),
		routes:    make(map[string]route),
		broken:    make(map[string]error),
		factories: make(map[string]TransportFactory),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal sets the in-process handler of service.
func (r *Router) RegisterLocal(service string, h Handler) {
	r.mu.Lock()
	r.locals[service] = h
	r.mu.Unlock()
}

// RegisterTransport sets the factory used for routes whose strategy is
// protocol. It applies from the next Reload.
func (r *Router) RegisterTransport(protocol string, f TransportFactory) {
	r.mu.Lock()
	r.factories[protocol] = f
	r.mu.Unlock()
}

// Call runs service. A noop route answers nil, nil. A built remote route
// wins over the local handler; a route whose transport failed to build
// falls through to the local handler.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	rt, routed := r.routes[service]
	rem, isRemote := r.remotes[service]
	local := r.locals[service]
	r.mu.RUnlock()

	switch {
	case routed && rt.Strategy == "noop":
		r.logger.DebugContext(ctx, "connectivity: noop", "service", service)
		return nil, nil
	case isRemote:
		r.logger.DebugContext(ctx, "connectivity: remote call", "service", service, "strategy", rt.Strategy)
		return rem.handler(ctx, payload)
	case local != nil:
		return local(ctx, payload)
	}
	return nil, &ErrServiceNotFound{Service: service}
}

// CallLocal runs the in-process handler of service whatever its route says.
// It serves calls arriving from another process's remote route.
func (r *Router) CallLocal(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	h := r.locals[service]
	r.mu.RUnlock()
	if h == nil {
		return nil, &ErrServiceNotFound{Service: service}
	}
	return h(ctx, payload)
}

// Reload reads the routes table. Remote routes whose strategy, endpoint and
// config are unchanged keep their handler and breaker state.
func (r *Router) Reload(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx,
		`SELECT service_name, strategy, COALESCE(endpoint, ''), config FROM routes`)
	if err != nil {
		return fmt.Errorf("connectivity: query routes: %w", err)
	}
	defer rows.Close()

	next := make(map[string]route)
	for rows.Next() {
		var rt route
		var cfg string
		if err := rows.Scan(&rt.Service, &rt.Strategy, &rt.Endpoint, &cfg); err != nil {
			return fmt.Errorf("connectivity: scan route: %w", err)
		}
		if cfg == "" {
			cfg = "{}"
		}
		rt.Config = json.RawMessage(cfg)
		next[rt.Service] = rt
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("connectivity: routes: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	remotes := make(map[string]*remote, len(next))
	broken := make(map[string]error)
	for name, rt := range next {
		if rt.Strategy == "local" || rt.Strategy == "noop" {
			continue
		}
		if old, ok := r.routes[name]; ok && old.key() == rt.key() {
			if rem, ok := r.remotes[name]; ok {
				remotes[name] = rem
				continue
			}
		}
		rem, err := r.build(rt)
		if err != nil {
			broken[name] = err
			r.logger.Error("connectivity: route not built", "service", name, "error", err)
			continue
		}
		remotes[name] = rem
		r.logger.Info("connectivity: route built", "service", name, "strategy", rt.Strategy, "endpoint", rt.Endpoint)
	}

	for name, old := range r.remotes {
		if remotes[name] == old {
			continue
		}
		if old.close != nil {
			old.close()
		}
	}

	r.remotes = remotes
	r.routes = next
	r.broken = broken
	r.logger.Info("connectivity: routes reloaded", "routes", len(next), "remote", len(remotes), "broken", len(broken))
	return nil
}

// build runs the factory of rt and wraps the handler with the resilience
// settings of its config. Called with mu held.
func (r *Router) build(rt route) (*remote, error) {
	factory, ok := r.factories[rt.Strategy]
	if !ok {
		return nil, &ErrNoFactory{Service: rt.Service, Strategy: rt.Strategy}
	}
	h, closeFn, err := factory(rt.Endpoint, rt.Config)
	if err != nil {
		return nil, &ErrFactoryFailed{Service: rt.Service, Strategy: rt.Strategy, Endpoint: rt.Endpoint, Cause: err}
	}

	cfg := parseRouteConfig(rt.Config)
	mws := make([]HandlerMiddleware, 0, 4)
	if cfg.FallbackLocal {
		mws = append(mws, WithFallback(r.localHandler(rt.Service), rt.Service, r.logger))
	}
	if cfg.MaxRetries > 0 {
		mws = append(mws, WithRetry(cfg.MaxRetries, cfg.backoff(), r.logger))
	}
	var cb *CircuitBreaker
	if cfg.BreakerThreshold > 0 {
		cb = NewCircuitBreaker(cfg.BreakerThreshold, cfg.breakerReset())
		mws = append(mws, WithCircuitBreaker(cb, rt.Service))
	}
	mws = append(mws, Timeout(cfg.timeout()))
	return &remote{handler: Chain(mws...)(h), close: closeFn, breaker: cb}, nil
}

// localHandler resolves the local handler at call time.
func (r *Router) localHandler(service string) Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		return r.CallLocal(ctx, service, payload)
	}
}

// Close releases every remote transport.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rem := range r.remotes {
		if rem.close != nil {
			rem.close()
		}
	}
	r.remotes = make(map[string]*remote)
	r.routes = make(map[string]route)
	r.broken = make(map[string]error)
	return nil
}
