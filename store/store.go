// Package store persists completed and in-flight evaluation runs in a
// local sqlite database so past results survive restarts and can be
// listed over the API.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scorelab/mentor-pipeline/scoring"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Run is one persisted evaluation run.
type Run struct {
	ID        string               `json:"id"`
	Video     string               `json:"video"`
	CreatedAt time.Time            `json:"created_at"`
	Status    string               `json:"status"`
	Overall   float64              `json:"overall"`
	Result    *scoring.FinalResult `json:"result,omitempty"`
}

const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	video       TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	status      TEXT NOT NULL,
	overall     REAL NOT NULL DEFAULT 0,
	result_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

// Store wraps the sqlite database holding run history.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database under dataDir and applies the
// schema.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "runs.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	// sqlite handles one writer at a time
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply run store schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Create records a new run in the running state.
func (s *Store) Create(ctx context.Context, id, video string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, video, created_at, status) VALUES (?, ?, ?, ?)`,
		id, video, time.Now().UTC(), StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", id, err)
	}
	return nil
}

// Complete stores the final result for a finished run.
func (s *Store) Complete(ctx context.Context, id string, result *scoring.FinalResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result for run %s: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, overall = ?, result_json = ? WHERE id = ?`,
		StatusComplete, result.Overall, string(payload), id,
	)
	if err != nil {
		return fmt.Errorf("complete run %s: %w", id, err)
	}
	return requireRow(res, id)
}

// Fail marks a run as failed with its error message in place of a
// result payload.
func (s *Store) Fail(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, result_json = ? WHERE id = ?`,
		StatusFailed, reason, id,
	)
	if err != nil {
		return fmt.Errorf("fail run %s: %w", id, err)
	}
	return requireRow(res, id)
}

// Get fetches one run, including its decoded final result when the
// run completed.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, video, created_at, status, overall, result_json FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// List returns runs newest first, capped at limit (0 means all).
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT id, video, created_at, status, overall, result_json FROM runs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var resultJSON sql.NullString
	err := row.Scan(&run.ID, &run.Video, &run.CreatedAt, &run.Status, &run.Overall, &resultJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if run.Status == StatusComplete && resultJSON.Valid {
		var result scoring.FinalResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("decode result for run %s: %w", run.ID, err)
		}
		run.Result = &result
	}
	return &run, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}
