package settings

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/penwatch/dbopen"
)

func TestStore_SetAndGet(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t)
	s, err := Open(ctx, db, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := s.Prompt(); got != "" {
		t.Fatalf("got %q, want empty", got)
	}

	var mu sync.Mutex
	var changes []Change
	s.Subscribe(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	if err := s.SetPrompt(ctx, "{text} but in French"); err != nil {
		t.Fatal(err)
	}
	if got := s.Prompt(); got != "{text} but in French" {
		t.Fatalf("got %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 || changes[0].Origin != OriginLocal || changes[0].Key != PromptKey {
		t.Fatalf("changes %+v", changes)
	}
}

func TestStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "penwatch.db")

	db1, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s1, err := Open(ctx, db1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.SetPrompt(ctx, "Make it formal"); err != nil {
		t.Fatal(err)
	}
	db1.Close()

	db2, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()
	s2, err := Open(ctx, db2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := s2.Prompt(); got != "Make it formal" {
		t.Fatalf("got %q after reopen", got)
	}
}

func TestStore_ReloadExternal(t *testing.T) {
	ctx := context.Background()
	db := dbopen.OpenMemory(t)
	s, err := Open(ctx, db, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan Change, 1)
	s.Subscribe(func(c Change) { got <- c })

	later := time.Now().Add(time.Second).UnixMilli()
	if _, err := db.Exec(`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)`,
		PromptKey, "from the CLI", later); err != nil {
		t.Fatal(err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		if c.Origin != OriginExternal || c.Value != "from the CLI" {
			t.Fatalf("change %+v", c)
		}
	default:
		t.Fatal("no change delivered")
	}

	if err := s.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		t.Fatalf("unexpected second change %+v", c)
	default:
	}
}

func TestStore_MirrorAndUnsubscribe(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, dbopen.OpenMemory(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	unsub := s.Subscribe(func(Change) { n++ })

	s.Mirror("one")
	s.Mirror("one")
	if n != 1 {
		t.Fatalf("got %d notifications, want 1", n)
	}
	unsub()
	s.Mirror("two")
	if n != 1 || s.Prompt() != "two" {
		t.Fatalf("n=%d prompt=%q", n, s.Prompt())
	}
}

func TestStore_WatchSeesOtherConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	path := filepath.Join(t.TempDir(), "penwatch.db")

	daemonDB, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer daemonDB.Close()
	daemon, err := Open(ctx, daemonDB, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan Change, 4)
	daemon.Subscribe(func(c Change) { got <- c })
	go daemon.Watch(ctx, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	cliDB, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer cliDB.Close()
	cli, err := Open(ctx, cliDB, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := cli.SetPrompt(ctx, "shorter please"); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.Value != "shorter please" || c.Origin != OriginExternal {
			t.Fatalf("change %+v", c)
		}
	case <-ctx.Done():
		t.Fatal("watch did not pick up the external write")
	}
	if daemon.Prompt() != "shorter please" {
		t.Fatalf("got %q", daemon.Prompt())
	}
}
