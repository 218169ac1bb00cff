package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/penwatch/dbopen"
)

func TestOpen_Pragmas(t *testing.T) {
	db, err := dbopen.Open(filepath.Join(t.TempDir(), "p.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var journal string
	var fk, sync, busy int
	db.QueryRow("PRAGMA journal_mode").Scan(&journal)
	db.QueryRow("PRAGMA foreign_keys").Scan(&fk)
	db.QueryRow("PRAGMA synchronous").Scan(&sync)
	db.QueryRow("PRAGMA busy_timeout").Scan(&busy)
	if journal != "wal" || fk != 1 || sync != 1 || busy != 10_000 {
		t.Fatalf("got journal=%q fk=%d sync=%d busy=%d", journal, fk, sync, busy)
	}
}

func TestOpen_MkdirAllAndInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "penwatch.db")
	var inits []string
	initA := func(db *sql.DB) error {
		inits = append(inits, "a")
		_, err := db.Exec(`CREATE TABLE a (id INTEGER)`)
		return err
	}
	db, err := dbopen.Open(path,
		dbopen.WithMkdirAll(),
		dbopen.WithBusyTimeout(500),
		dbopen.WithSchema(`CREATE TABLE s (id INTEGER)`),
		dbopen.WithInit(initA),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('a','s')`).Scan(&n); err != nil || n != 2 {
		t.Fatalf("tables: %d %v", n, err)
	}
	if len(inits) != 1 {
		t.Fatalf("inits %v", inits)
	}
	var busy int
	db.QueryRow("PRAGMA busy_timeout").Scan(&busy)
	if busy != 500 {
		t.Fatalf("busy_timeout = %d", busy)
	}
}

func TestOpen_InitFailureCloses(t *testing.T) {
	boom := errors.New("boom")
	_, err := dbopen.Open(":memory:", dbopen.WithInit(func(*sql.DB) error { return boom }))
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("some other error"), false},
		{errors.New("prefix: SQLITE_BUSY (5)"), true},
		{errors.New("database is locked"), true},
		{errors.New("database table is locked"), true},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestExec(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE exec_test (id TEXT PRIMARY KEY)`))
	if _, err := dbopen.Exec(context.Background(), db, `INSERT INTO exec_test (id) VALUES (?)`, "1"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	var count int
	db.QueryRow(`SELECT COUNT(*) FROM exec_test`).Scan(&count)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	// Non-busy errors are returned at once.
	if _, err := dbopen.Exec(context.Background(), db, `INSERT INTO exec_test (id) VALUES (?)`, "1"); err == nil {
		t.Fatal("expected constraint error")
	}
}
