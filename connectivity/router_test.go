package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/penwatch/dbopen"

	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithInit(Init))
}

func upsert(t *testing.T, db *sql.DB, service, strategy, endpoint, config string) {
	t.Helper()
	rr := RouteRow{ServiceName: service, Strategy: strategy, Endpoint: endpoint}
	if config != "" {
		rr.Config = json.RawMessage(config)
	}
	if err := NewAdmin(db).UpsertRoute(context.Background(), rr); err != nil {
		t.Fatalf("UpsertRoute: %v", err)
	}
}

func reload(t *testing.T, r *Router, db *sql.DB) {
	t.Helper()
	if err := r.Reload(context.Background(), db); err != nil {
		t.Fatalf("Reload: %v", err)
	}
}

// stubFactory counts builds and closes; its handler answers reply or err.
type stubFactory struct {
	builds, closes atomic.Int32
	calls          atomic.Int32
	reply          string
	err            error
}

func (f *stubFactory) factory() TransportFactory {
	return func(endpoint string, _ json.RawMessage) (Handler, func(), error) {
		f.builds.Add(1)
		h := func(ctx context.Context, _ []byte) ([]byte, error) {
			f.calls.Add(1)
			if f.err != nil {
				return nil, f.err
			}
			return []byte(f.reply), nil
		}
		return h, func() { f.closes.Add(1) }, nil
	}
}

func echo(ctx context.Context, p []byte) ([]byte, error) { return p, nil }

func TestCall_Local(t *testing.T) {
	r := New()
	r.RegisterLocal("penwatch_enhance", echo)
	resp, err := r.Call(context.Background(), "penwatch_enhance", []byte(`{"prompt":"x"}`))
	if err != nil || string(resp) != `{"prompt":"x"}` {
		t.Fatalf("got %s, %v", resp, err)
	}
}

func TestCall_NotFound(t *testing.T) {
	var snf *ErrServiceNotFound
	if _, err := New().Call(context.Background(), "nope", nil); !errors.As(err, &snf) || snf.Service != "nope" {
		t.Fatalf("got %v, want ErrServiceNotFound", err)
	}
}

func TestReload_Noop(t *testing.T) {
	db := setupTestDB(t)
	r := New()
	r.RegisterLocal("svc", echo)
	upsert(t, db, "svc", "noop", "", "")
	reload(t, r, db)

	resp, err := r.Call(context.Background(), "svc", []byte("x"))
	if err != nil || resp != nil {
		t.Fatalf("got %q, %v; want nil, nil", resp, err)
	}
}

func TestReload_RemoteWinsOverLocal(t *testing.T) {
	db := setupTestDB(t)
	f := &stubFactory{reply: "remote"}
	r := New()
	r.RegisterTransport("http", f.factory())
	r.RegisterLocal("svc", echo)
	upsert(t, db, "svc", "http", "https://worker.example/v1/call/svc", "")
	reload(t, r, db)

	resp, err := r.Call(context.Background(), "svc", []byte("local"))
	if err != nil || string(resp) != "remote" {
		t.Fatalf("got %q, %v", resp, err)
	}
	resp, err = r.CallLocal(context.Background(), "svc", []byte("local"))
	if err != nil || string(resp) != "local" {
		t.Fatalf("CallLocal got %q, %v", resp, err)
	}
}

func TestReload_KeepsUnchangedRoutes(t *testing.T) {
	db := setupTestDB(t)
	f := &stubFactory{reply: "ok"}
	r := New()
	r.RegisterTransport("http", f.factory())
	upsert(t, db, "svc", "http", "https://a.example", "")
	reload(t, r, db)
	reload(t, r, db)
	if f.builds.Load() != 1 || f.closes.Load() != 0 {
		t.Fatalf("builds=%d closes=%d, want 1/0", f.builds.Load(), f.closes.Load())
	}

	upsert(t, db, "svc", "http", "https://b.example", "")
	reload(t, r, db)
	if f.builds.Load() != 2 || f.closes.Load() != 1 {
		t.Fatalf("after change builds=%d closes=%d, want 2/1", f.builds.Load(), f.closes.Load())
	}

	if err := NewAdmin(db).DeleteRoute(context.Background(), "svc"); err != nil {
		t.Fatal(err)
	}
	reload(t, r, db)
	if f.closes.Load() != 2 {
		t.Fatalf("after delete closes=%d, want 2", f.closes.Load())
	}
	if _, err := r.Call(context.Background(), "svc", nil); err == nil {
		t.Fatal("deleted route without local handler should not be routable")
	}
}

func TestReload_BrokenRouteFallsThroughToLocal(t *testing.T) {
	db := setupTestDB(t)
	r := New()
	r.RegisterLocal("svc", echo)
	upsert(t, db, "svc", "mcp", "https://mcp.example/mcp", "")
	reload(t, r, db)

	resp, err := r.Call(context.Background(), "svc", []byte("x"))
	if err != nil || string(resp) != "x" {
		t.Fatalf("got %q, %v", resp, err)
	}
	info, ok := r.Inspect("svc")
	if !ok || info.Strategy != "mcp" || info.Error == "" {
		t.Fatalf("Inspect %+v", info)
	}
}

func TestReload_RetryAndFallbackFromConfig(t *testing.T) {
	db := setupTestDB(t)
	f := &stubFactory{err: errors.New("worker down")}
	r := New()
	r.RegisterTransport("http", f.factory())
	r.RegisterLocal("svc", func(context.Context, []byte) ([]byte, error) { return []byte("local"), nil })
	upsert(t, db, "svc", "http", "https://w.example", `{"max_retries":2,"backoff_ms":1,"fallback_local":true}`)
	reload(t, r, db)

	resp, err := r.Call(context.Background(), "svc", nil)
	if err != nil || string(resp) != "local" {
		t.Fatalf("got %q, %v; want local fallback", resp, err)
	}
	if f.calls.Load() != 3 {
		t.Fatalf("remote calls %d, want 3", f.calls.Load())
	}
}

func TestReload_BreakerFromConfig(t *testing.T) {
	db := setupTestDB(t)
	f := &stubFactory{err: errors.New("worker down")}
	r := New()
	r.RegisterTransport("http", f.factory())
	upsert(t, db, "svc", "http", "https://w.example", `{"breaker_threshold":2,"breaker_reset_ms":60000}`)
	reload(t, r, db)

	for range 2 {
		r.Call(context.Background(), "svc", nil)
	}
	var open *ErrCircuitOpen
	if _, err := r.Call(context.Background(), "svc", nil); !errors.As(err, &open) {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
	if f.calls.Load() != 2 {
		t.Fatalf("remote calls %d, want 2", f.calls.Load())
	}
	if info, _ := r.Inspect("svc"); info.Breaker != "open" {
		t.Fatalf("breaker %q, want open", info.Breaker)
	}
}

func TestReload_TimeoutFromConfig(t *testing.T) {
	db := setupTestDB(t)
	r := New()
	r.RegisterTransport("http", func(string, json.RawMessage) (Handler, func(), error) {
		return func(ctx context.Context, _ []byte) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil, nil
	})
	upsert(t, db, "svc", "http", "https://w.example", `{"timeout_ms":20}`)
	reload(t, r, db)

	start := time.Now()
	_, err := r.Call(context.Background(), "svc", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout_ms not applied")
	}
}

func TestListServices(t *testing.T) {
	db := setupTestDB(t)
	r := New()
	r.RegisterLocal("b_local", echo)
	r.RegisterLocal("a_routed", echo)
	upsert(t, db, "a_routed", "noop", "", "")
	reload(t, r, db)

	var got []ServiceInfo
	for s := range r.ListServices() {
		got = append(got, s)
	}
	if len(got) != 2 || got[0].Name != "a_routed" || got[0].Strategy != "noop" || got[1].Strategy != "local" {
		t.Fatalf("got %+v", got)
	}
}

func TestClose_ReleasesTransports(t *testing.T) {
	db := setupTestDB(t)
	f := &stubFactory{}
	r := New()
	r.RegisterTransport("http", f.factory())
	upsert(t, db, "svc", "http", "https://w.example", "")
	reload(t, r, db)
	r.Close()
	if f.closes.Load() != 1 {
		t.Fatalf("closes %d, want 1", f.closes.Load())
	}
}

func TestWatch_ReloadsOnAdminWrite(t *testing.T) {
	db := setupTestDB(t)
	r := New()
	r.RegisterLocal("svc", echo)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Watch(ctx, db, 10*time.Millisecond)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	upsert(t, db, "svc", "noop", "", "")
	deadline := time.Now().Add(2 * time.Second)
	for {
		if info, _ := r.Inspect("svc"); info.Strategy == "noop" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("route change not picked up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAdmin_Validation(t *testing.T) {
	db := setupTestDB(t)
	a := NewAdmin(db)
	ctx := context.Background()

	cases := []RouteRow{
		{ServiceName: "", Strategy: "local"},
		{ServiceName: "s", Strategy: "quic"},
		{ServiceName: "s", Strategy: "http"},
		{ServiceName: "s", Strategy: "local", Config: json.RawMessage(`{bad`)},
	}
	for _, rr := range cases {
		if err := a.UpsertRoute(ctx, rr); err == nil {
			t.Fatalf("UpsertRoute(%+v) accepted", rr)
		}
	}
	if err := a.SetStrategy(ctx, "missing", "noop"); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("SetStrategy: got %v", err)
	}
	if _, err := a.GetRoute(ctx, "missing"); !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("GetRoute: got %v", err)
	}
}

func TestAdmin_SetStrategy(t *testing.T) {
	db := setupTestDB(t)
	a := NewAdmin(db)
	ctx := context.Background()
	upsert(t, db, "svc", "local", "", `{"timeout_ms":5}`)
	if err := a.SetStrategy(ctx, "svc", "noop"); err != nil {
		t.Fatal(err)
	}
	rr, err := a.GetRoute(ctx, "svc")
	if err != nil || rr.Strategy != "noop" || string(rr.Config) != `{"timeout_ms":5}` {
		t.Fatalf("got %+v, %v", rr, err)
	}
	list, _ := a.ListRoutes(ctx)
	if len(list) != 1 {
		t.Fatalf("ListRoutes %d", len(list))
	}
}
