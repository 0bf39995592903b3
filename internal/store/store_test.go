package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MEKXH/orchestra/internal/catalog"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state", "usage.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return s, dbPath
}

func TestOpen_CreatesDatabase(t *testing.T) {
	s, dbPath := newTestStore(t)
	defer s.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected database file, got %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s, _ := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	var journal string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal); err != nil {
		t.Fatalf("read journal_mode: %v", err)
	}
	if journal != "wal" {
		t.Fatalf("expected wal journal, got %q", journal)
	}
	var busy, synchronous int
	if err := s.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatalf("read busy_timeout: %v", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA synchronous").Scan(&synchronous); err != nil {
		t.Fatalf("read synchronous: %v", err)
	}
	if busy != 5000 || synchronous != 1 {
		t.Fatalf("expected busy_timeout 5000 and synchronous NORMAL, got %d and %d", busy, synchronous)
	}
}

func TestRecordUsage_CountsAndPersists(t *testing.T) {
	s, dbPath := newTestStore(t)
	ctx := context.Background()
	calc := catalog.ToolKey{ServerURL: "http://localhost:8002", Name: "calculator"}
	search := catalog.ToolKey{ServerURL: "http://localhost:8002", Name: "web_search"}

	for i := 0; i < 3; i++ {
		if err := s.RecordUsage(ctx, calc, "calculation"); err != nil {
			t.Fatalf("RecordUsage() error: %v", err)
		}
	}
	if err := s.RecordUsage(ctx, search, ""); err != nil {
		t.Fatalf("RecordUsage() error: %v", err)
	}

	if got := s.IntentUsage(calc, "calculation"); got != 3 {
		t.Fatalf("expected 3 calculation uses, got %d", got)
	}
	if got := s.IntentUsage(search, "web_search"); got != 0 {
		t.Fatalf("expected no intent usage without intent, got %d", got)
	}
	s.Close()

	reopened, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()

	usage, err := reopened.LoadUsage(ctx)
	if err != nil {
		t.Fatalf("LoadUsage() error: %v", err)
	}
	if usage[calc] != 3 || usage[search] != 1 {
		t.Fatalf("unexpected persisted usage %v", usage)
	}
	if got := reopened.IntentUsage(calc, "calculation"); got != 3 {
		t.Fatalf("expected intent usage reloaded, got %d", got)
	}

	top, err := reopened.TopTools(ctx, 1)
	if err != nil {
		t.Fatalf("TopTools() error: %v", err)
	}
	if len(top) != 1 || top[0].ToolName != "calculator" || top[0].Uses != 3 || top[0].LastUsedAt.IsZero() {
		t.Fatalf("unexpected top tools %+v", top)
	}
}
