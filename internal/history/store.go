// Package history keeps a SQLite log of generate calls.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/Tech-Tweakers/polaris-core/internal/inference"
)

var ErrNotFound = errors.New("generation not found")

// Record is one finished (or failed) generate call.
type Record struct {
	ID           string          `json:"id"`
	CreatedAt    time.Time       `json:"created_at"`
	Prompt       string          `json:"prompt"`
	SystemPrompt string          `json:"system_prompt,omitempty"`
	Output       string          `json:"output"`
	StopReason   string          `json:"stop_reason,omitempty"`
	Stats        inference.Stats `json:"stats"`
	Error        string          `json:"error,omitempty"`
}

type Store struct {
	db         *sql.DB
	insertStmt *sql.Stmt
	getStmt    *sql.Stmt
	recentStmt *sql.Stmt
}

// Open opens (and initializes) the database file at path, creating its
// directory if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history path is empty")
	}
	if dir := filepath.Dir(filepath.Clean(path)); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if err := bootstrap(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	for _, p := range []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.insertStmt, `INSERT INTO generations (id, created_at, prompt, system_prompt, output, stop_reason, stats_json, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`},
		{&s.getStmt, `SELECT ` + columns + ` FROM generations WHERE id = ?`},
		{&s.recentStmt, `SELECT ` + columns + ` FROM generations ORDER BY created_at DESC, rowid DESC LIMIT ?`},
	} {
		stmt, err := db.Prepare(p.query)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("prepare history statement: %w", err)
		}
		*p.dst = stmt
	}
	return s, nil
}

const columns = `id, created_at, prompt, system_prompt, output, stop_reason, stats_json, error`

func bootstrap(db *sql.DB) error {
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
	`); err != nil {
		return fmt.Errorf("configure history database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS generations (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			prompt TEXT NOT NULL,
			system_prompt TEXT NOT NULL DEFAULT '',
			output TEXT NOT NULL DEFAULT '',
			stop_reason TEXT NOT NULL DEFAULT '',
			stats_json TEXT NOT NULL DEFAULT '{}',
			error TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS generations_created_at ON generations (created_at);
	`); err != nil {
		return fmt.Errorf("create generations table: %w", err)
	}
	return nil
}

func (s *Store) Record(ctx context.Context, r Record) error {
	if r.ID == "" {
		return errors.New("record id must not be empty")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	stats, err := json.Marshal(r.Stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if _, err := s.insertStmt.ExecContext(ctx, r.ID, r.CreatedAt.UnixNano(), r.Prompt, r.SystemPrompt,
		r.Output, r.StopReason, string(stats), r.Error); err != nil {
		return fmt.Errorf("insert generation %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	r, err := scanRecord(s.getStmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be greater than zero")
	}
	rows, err := s.recentStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generations: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		r     Record
		ts    int64
		stats string
	)
	if err := row.Scan(&r.ID, &ts, &r.Prompt, &r.SystemPrompt, &r.Output, &r.StopReason, &stats, &r.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("scan generation: %w", err)
	}
	r.CreatedAt = time.Unix(0, ts)
	if err := json.Unmarshal([]byte(stats), &r.Stats); err != nil {
		return r, fmt.Errorf("decode stats for %s: %w", r.ID, err)
	}
	return r, nil
}

func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{s.insertStmt, s.getStmt, s.recentStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
