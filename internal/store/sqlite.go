package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteRunStore keeps run history in SQLite with FTS5 search over
// missions and answers.
type SQLiteRunStore struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ RunStore = (*SQLiteRunStore)(nil)

// NewSQLiteRunStore opens (or creates) a SQLite database at the given path
// and initializes the schema. ":memory:" opens a private in-memory database.
func NewSQLiteRunStore(dbPath string) (*SQLiteRunStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dbPath == ":memory:" {
		// each connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteRunStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Debug("run store opened", "path", dbPath)
	return s, nil
}

func (s *SQLiteRunStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL UNIQUE,
			batch TEXT NOT NULL DEFAULT '',
			idx INTEGER NOT NULL DEFAULT 0,
			label TEXT NOT NULL DEFAULT '',
			mission TEXT NOT NULL,
			status TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			turns INTEGER NOT NULL DEFAULT 0,
			tool_calls INTEGER NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_finished ON runs(finished_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_batch ON runs(batch)`,
		// FTS5 virtual table for mission/answer search
		`CREATE VIRTUAL TABLE IF NOT EXISTS runs_fts USING fts5(
			mission,
			content,
			run_id UNINDEXED,
			tokenize='porter unicode61'
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

const runColumns = `id, run_id, batch, idx, label, mission, status, content, error,
	turns, tool_calls, prompt_tokens, completion_tokens, started_at, finished_at`

// Record inserts a run and its search entry.
func (s *SQLiteRunStore) Record(ctx context.Context, rec RunRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = GenNewID()
	}
	if err := ValidateRecord(rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.RunID, rec.Batch, rec.Index, rec.Label, rec.Mission, rec.Status,
		rec.Content, rec.Error, rec.Turns, rec.ToolCalls, rec.PromptTokens, rec.CompletionTokens,
		rec.StartedAt.UnixMilli(), rec.FinishedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO runs_fts (mission, content, run_id) VALUES (?, ?, ?)`,
		rec.Mission, rec.Content, rec.RunID)
	if err != nil {
		return fmt.Errorf("insert fts: %w", err)
	}

	return tx.Commit()
}

// Get returns one run by run id.
func (s *SQLiteRunStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns recent runs, newest first.
func (s *SQLiteRunStore) List(ctx context.Context, opts ListOptions) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	where := ""
	var args []interface{}
	if opts.Status != "" {
		where += " AND status = ?"
		args = append(args, opts.Status)
	}
	if opts.Batch != "" {
		where += " AND batch = ?"
		args = append(args, opts.Batch)
	}
	args = append(args, limit)

	q := fmt.Sprintf(`SELECT %s FROM runs WHERE 1=1%s ORDER BY finished_at DESC, idx DESC LIMIT ?`, runColumns, where)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// Search finds runs whose mission or answer matches query, best match first.
func (s *SQLiteRunStore) Search(ctx context.Context, query string, limit int) ([]RunRecord, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+prefixColumns("r.")+`
		FROM runs_fts JOIN runs r ON r.run_id = runs_fts.run_id
		WHERE runs_fts MATCH ?
		ORDER BY runs_fts.rank
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// CountByStatus returns the number of runs per status.
func (s *SQLiteRunStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Close closes the SQLite database.
func (s *SQLiteRunStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var id string
	var started, finished int64
	err := row.Scan(&id, &rec.RunID, &rec.Batch, &rec.Index, &rec.Label, &rec.Mission, &rec.Status,
		&rec.Content, &rec.Error, &rec.Turns, &rec.ToolCalls, &rec.PromptTokens, &rec.CompletionTokens,
		&started, &finished)
	if err != nil {
		return rec, err
	}
	rec.ID, _ = uuid.Parse(id)
	rec.StartedAt = time.UnixMilli(started)
	rec.FinishedAt = time.UnixMilli(finished)
	return rec, nil
}

func collectRuns(rows *sql.Rows) ([]RunRecord, error) {
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func prefixColumns(prefix string) string {
	cols := strings.Split(runColumns, ",")
	for i, c := range cols {
		cols[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// ftsQuery quotes each term so user input never hits FTS5 operator syntax.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}
