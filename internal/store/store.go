// Package store persists tool usage counts in SQLite so the selection prior
// survives restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MEKXH/orchestra/internal/catalog"
)

// UsageRow is the persisted usage of one tool.
type UsageRow struct {
	ServerURL  string    `json:"server_url"`
	ToolName   string    `json:"tool_name"`
	Uses       int64     `json:"uses"`
	LastUsedAt time.Time `json:"last_used_at"`
}

type intentKey struct {
	tool   catalog.ToolKey
	intent string
}

// Store provides access to the usage database.
type Store struct {
	db *sql.DB

	mu      sync.RWMutex
	intents map[intentKey]int64
}

// Open creates the database file if needed and runs migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, intents: make(map[intentKey]int64)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.loadIntents(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("load intent usage: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tool_usage (
		server_url TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		uses INTEGER NOT NULL DEFAULT 0,
		last_used_at DATETIME NOT NULL,
		PRIMARY KEY (server_url, tool_name)
	);

	CREATE TABLE IF NOT EXISTS intent_usage (
		server_url TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		intent TEXT NOT NULL,
		uses INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (server_url, tool_name, intent)
	);

	CREATE INDEX IF NOT EXISTS idx_tool_usage_uses ON tool_usage(uses);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) loadIntents(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT server_url, tool_name, intent, uses FROM intent_usage`)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var k intentKey
		var uses int64
		if err := rows.Scan(&k.tool.ServerURL, &k.tool.Name, &k.intent, &uses); err != nil {
			return fmt.Errorf("scan intent usage: %w", err)
		}
		s.intents[k] = uses
	}
	return rows.Err()
}

// RecordUsage counts one successful execution of a tool, attributed to intent
// when it is not empty.
func (s *Store) RecordUsage(ctx context.Context, key catalog.ToolKey, intent string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tool_usage (server_url, tool_name, uses, last_used_at) VALUES (?, ?, 1, ?)
		 ON CONFLICT(server_url, tool_name) DO UPDATE SET uses = uses + 1, last_used_at = excluded.last_used_at`,
		key.ServerURL, key.Name, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert tool usage: %w", err)
	}
	if intent != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO intent_usage (server_url, tool_name, intent, uses) VALUES (?, ?, ?, 1)
			 ON CONFLICT(server_url, tool_name, intent) DO UPDATE SET uses = uses + 1`,
			key.ServerURL, key.Name, intent,
		)
		if err != nil {
			return fmt.Errorf("upsert intent usage: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage: %w", err)
	}

	if intent != "" {
		s.mu.Lock()
		s.intents[intentKey{tool: key, intent: intent}]++
		s.mu.Unlock()
	}
	return nil
}

// LoadUsage returns the persisted usage count of every tool.
func (s *Store) LoadUsage(ctx context.Context) (map[catalog.ToolKey]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT server_url, tool_name, uses FROM tool_usage`)
	if err != nil {
		return nil, fmt.Errorf("query tool usage: %w", err)
	}
	defer rows.Close()

	out := make(map[catalog.ToolKey]int64)
	for rows.Next() {
		var key catalog.ToolKey
		var uses int64
		if err := rows.Scan(&key.ServerURL, &key.Name, &uses); err != nil {
			return nil, fmt.Errorf("scan tool usage: %w", err)
		}
		out[key] = uses
	}
	return out, rows.Err()
}

// TopTools returns the most used tools, most used first.
func (s *Store) TopTools(ctx context.Context, limit int) ([]UsageRow, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT server_url, tool_name, uses, last_used_at FROM tool_usage
		 ORDER BY uses DESC, tool_name ASC, server_url ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query top tools: %w", err)
	}
	defer rows.Close()

	var out []UsageRow
	for rows.Next() {
		var row UsageRow
		if err := rows.Scan(&row.ServerURL, &row.ToolName, &row.Uses, &row.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan top tools: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// IntentUsage reports how often a tool succeeded for messages of an intent.
func (s *Store) IntentUsage(key catalog.ToolKey, intent string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.intents[intentKey{tool: key, intent: intent}]
}
