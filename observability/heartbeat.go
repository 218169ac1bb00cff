package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// HeartbeatWriter records that a penwatch process is alive, with a few
// runtime numbers and whatever its probe reports (attached pages, browser
// mode). `penwatch status` reads the latest row.
type HeartbeatWriter struct {
	db       *sql.DB
	name     string
	hostname string
	pid      int
	interval time.Duration
	probe    func() map[string]any
	done     chan struct{}
}

// NewHeartbeatWriter creates a writer. probe may be nil.
func NewHeartbeatWriter(db *sql.DB, name string, interval time.Duration, probe func() map[string]any) *HeartbeatWriter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &HeartbeatWriter{
		db:       db,
		name:     name,
		hostname: hostname,
		pid:      os.Getpid(),
		interval: interval,
		probe:    probe,
		done:     make(chan struct{}),
	}
}

// Start writes one heartbeat now and then every interval until ctx is done.
// Wait blocks until the loop has exited.
func (hw *HeartbeatWriter) Start(ctx context.Context) {
	go func() {
		defer close(hw.done)
		ticker := time.NewTicker(hw.interval)
		defer ticker.Stop()
		for {
			if err := hw.Write(ctx); err != nil && ctx.Err() == nil {
				slog.Error("observability: heartbeat", "error", err, "process", hw.name)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Wait blocks until the Start loop exits.
func (hw *HeartbeatWriter) Wait() { <-hw.done }

// Write inserts a single heartbeat.
func (hw *HeartbeatWriter) Write(ctx context.Context) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	var details sql.NullString
	if hw.probe != nil {
		if b, err := json.Marshal(hw.probe()); err == nil {
			details = sql.NullString{String: string(b), Valid: true}
		}
	}
	_, err := hw.db.ExecContext(ctx, `INSERT INTO heartbeats
		(process_name, hostname, pid, timestamp, goroutines, heap_alloc_mb, details)
		VALUES (?,?,?,?,?,?,?)`,
		hw.name, hw.hostname, hw.pid, nowFunc().Unix(),
		runtime.NumGoroutine(), float64(mem.HeapAlloc)/1024/1024, details)
	if err != nil {
		return fmt.Errorf("observability: insert heartbeat: %w", err)
	}
	return nil
}

// HeartbeatStatus is the latest heartbeat of a process.
type HeartbeatStatus struct {
	Name        string         `json:"name"`
	Hostname    string         `json:"hostname"`
	PID         int            `json:"pid"`
	Timestamp   time.Time      `json:"timestamp"`
	Goroutines  int            `json:"goroutines"`
	HeapAllocMB float64        `json:"heap_alloc_mb"`
	Details     map[string]any `json:"details,omitempty"`
	Alive       bool           `json:"alive"`
	Age         time.Duration  `json:"age"`
}

// LatestHeartbeat returns the newest heartbeat of name, marked alive when
// younger than staleAfter. It returns nil, nil when none was ever written.
func LatestHeartbeat(ctx context.Context, db *sql.DB, name string, staleAfter time.Duration) (*HeartbeatStatus, error) {
	var hs HeartbeatStatus
	var ts int64
	var details sql.NullString
	err := db.QueryRowContext(ctx, `SELECT process_name, hostname, pid, timestamp,
		COALESCE(goroutines, 0), COALESCE(heap_alloc_mb, 0), details
		FROM heartbeats WHERE process_name = ?
		ORDER BY timestamp DESC, heartbeat_id DESC LIMIT 1`, name).
		Scan(&hs.Name, &hs.Hostname, &hs.PID, &ts, &hs.Goroutines, &hs.HeapAllocMB, &details)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("observability: latest heartbeat: %w", err)
	}
	if details.Valid {
		json.Unmarshal([]byte(details.String), &hs.Details)
	}
	hs.Timestamp = time.Unix(ts, 0)
	hs.Age = nowFunc().Sub(hs.Timestamp)
	hs.Alive = hs.Age <= staleAfter
	return &hs, nil
}
