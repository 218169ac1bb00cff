package observability

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/penwatch/dbopen"
	"github.com/hazyhaar/penwatch/idgen"

	_ "modernc.org/sqlite"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithInit(Init))
}

func fixClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := nowFunc
	nowFunc = func() time.Time { return at }
	t.Cleanup(func() { nowFunc = prev })
}

func TestInit_CreatesTables(t *testing.T) {
	db := setupObsDB(t)
	for _, table := range []string{"heartbeats", "metrics", "audit_log", "business_events"} {
		var n int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		if n != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
	if err := Init(db); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	mm.Record(&Metric{
		Name:   MetricCallDurationMs,
		Value:  12,
		Unit:   "ms",
		Labels: map[string]string{"service": "enhance"},
	})
	mm.RecordSimple(MetricSuggestionsShown, 1, "count")
	mm.Close()

	got, err := mm.Query(context.Background(), MetricCallDurationMs, time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d metrics, want 1", len(got))
	}
	if got[0].Value != 12 || got[0].Labels["service"] != "enhance" || got[0].Unit != "ms" {
		t.Fatalf("got %+v", got[0])
	}

	all, err := mm.Query(context.Background(), "", time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d metrics, want 2", len(all))
	}
}

func TestMetricsManager_FlushesAtCapacity(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour)
	defer mm.Close()

	mm.RecordSimple(MetricPagesAttached, 1, "count")
	mm.RecordSimple(MetricPagesAttached, 2, "count")

	var n int
	db.QueryRow("SELECT COUNT(*) FROM metrics").Scan(&n)
	if n != 2 {
		t.Fatalf("got %d rows, want 2 after reaching capacity", n)
	}
}

func TestMetricsManager_QuerySince(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)
	now := time.Now()
	mm.Record(&Metric{Name: "m", Timestamp: now.Add(-2 * time.Hour), Value: 1})
	mm.Record(&Metric{Name: "m", Timestamp: now, Value: 2})
	mm.Close()

	got, err := mm.Query(context.Background(), "m", now.Add(-time.Hour), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 2 {
		t.Fatalf("got %+v, want only the recent point", got)
	}
}

func TestHeartbeat_WriteAndLatest(t *testing.T) {
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, "penwatch", time.Hour, func() map[string]any {
		return map[string]any{"pages": 2}
	})
	if err := hw.Write(context.Background()); err != nil {
		t.Fatal(err)
	}

	hs, err := LatestHeartbeat(context.Background(), db, "penwatch", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if hs == nil || !hs.Alive {
		t.Fatalf("got %+v, want alive heartbeat", hs)
	}
	if hs.Details["pages"] != float64(2) {
		t.Fatalf("details %v", hs.Details)
	}
	if hs.Goroutines <= 0 {
		t.Fatalf("goroutines %d", hs.Goroutines)
	}
}

func TestHeartbeat_Stale(t *testing.T) {
	db := setupObsDB(t)
	past := time.Now().Add(-10 * time.Minute)
	fixClock(t, past)
	if err := NewHeartbeatWriter(db, "penwatch", time.Hour, nil).Write(context.Background()); err != nil {
		t.Fatal(err)
	}
	nowFunc = time.Now

	hs, err := LatestHeartbeat(context.Background(), db, "penwatch", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if hs == nil || hs.Alive {
		t.Fatalf("got %+v, want stale heartbeat", hs)
	}
}

func TestHeartbeat_None(t *testing.T) {
	db := setupObsDB(t)
	hs, err := LatestHeartbeat(context.Background(), db, "nobody", time.Minute)
	if err != nil || hs != nil {
		t.Fatalf("got %+v, %v; want nil, nil", hs, err)
	}
}

func TestHeartbeat_StartStops(t *testing.T) {
	db := setupObsDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	hw := NewHeartbeatWriter(db, "penwatch", 10*time.Millisecond, nil)
	hw.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	hw.Wait()

	var n int
	db.QueryRow("SELECT COUNT(*) FROM heartbeats WHERE process_name = 'penwatch'").Scan(&n)
	if n < 1 {
		t.Fatalf("got %d heartbeats, want at least 1", n)
	}
}

func TestAuditLogger_NewAuditEntry(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 10, WithAuditIDGenerator(idgen.Sequence("aud_")))
	defer al.Close()

	ok := al.NewAuditEntry("penwatch", "message.ping", map[string]string{"type": "PING"}, map[string]bool{"ok": true}, nil, 3*time.Millisecond)
	if ok.EntryID != "aud_1" || ok.Status != "success" || ok.Result != `{"ok":true}` || ok.DurationMs != 3 {
		t.Fatalf("got %+v", ok)
	}

	failed := al.NewAuditEntry("penwatch", "message.prompt_from_popup", nil, "ignored", errors.New("no target"), 0)
	if failed.Status != "error" || failed.ErrorMessage != "no target" || failed.Result != "" {
		t.Fatalf("got %+v", failed)
	}
}

func TestAuditLogger_LogAndRecent(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 10, WithAuditIDGenerator(idgen.Sequence("aud_")))
	defer al.Close()

	e := al.NewAuditEntry("penwatch", "message.ping", nil, nil, nil, 0)
	e.TraceID = "abcd1234"
	if err := al.Log(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	got, err := al.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	if got[0].Operation != "message.ping" || got[0].TraceID != "abcd1234" || got[0].Parameters != "{}" {
		t.Fatalf("got %+v", got[0])
	}
}

func TestAuditLogger_AsyncFlushedOnClose(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 10)
	for range 3 {
		al.LogAsync(al.NewAuditEntry("mcp", "penwatch_status", nil, nil, nil, 0))
	}
	al.Close()

	got, err := RecentAudit(context.Background(), db, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
}

func TestEventLogger_LogAndRecent(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db, WithEventIDGenerator(idgen.Sequence("evt_")))

	el.LogEvent(context.Background(), BusinessEvent{
		EventType:   "enhancement",
		ServiceName: "orchestrator",
		EntityType:  "session",
		EntityID:    "s1",
		Action:      "fulfilled",
		Success:     true,
	})
	el.LogEvent(context.Background(), BusinessEvent{EventType: "other", ServiceName: "x", Action: "y"})

	got, err := RecentEvents(context.Background(), db, "enhancement", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].EntityID != "s1" || got[0].Action != "fulfilled" || !got[0].Success {
		t.Fatalf("got %+v", got[0])
	}

	var id string
	db.QueryRow("SELECT event_id FROM business_events WHERE event_type = 'enhancement'").Scan(&id)
	if id != "evt_1" {
		t.Fatalf("event_id %q, want evt_1", id)
	}
}

func TestCleanup_Retention(t *testing.T) {
	db := setupObsDB(t)
	old := time.Now().AddDate(0, 0, -40)
	fixClock(t, old)
	NewHeartbeatWriter(db, "penwatch", time.Hour, nil).Write(context.Background())
	NewEventLogger(db).LogEvent(context.Background(), BusinessEvent{EventType: "e", ServiceName: "s", Action: "a"})
	nowFunc = time.Now
	NewHeartbeatWriter(db, "penwatch", time.Hour, nil).Write(context.Background())

	n, err := Cleanup(db, Retention{HeartbeatsDays: 30, EventsDays: 30})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("removed %d rows, want 2", n)
	}
	var left int
	db.QueryRow("SELECT COUNT(*) FROM heartbeats").Scan(&left)
	if left != 1 {
		t.Fatalf("got %d heartbeats left, want 1", left)
	}
}

func TestCleanup_SkipsZeroDays(t *testing.T) {
	db := setupObsDB(t)
	fixClock(t, time.Now().AddDate(-1, 0, 0))
	NewHeartbeatWriter(db, "penwatch", time.Hour, nil).Write(context.Background())
	nowFunc = time.Now

	n, err := Cleanup(db, Retention{})
	if err != nil || n != 0 {
		t.Fatalf("got %d, %v; want nothing removed", n, err)
	}
}
