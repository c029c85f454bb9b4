// Package ledger keeps a SQLite record of every job the tools have launched,
// so failed jobs can be found and resubmitted later.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/decibelcooper/cmsana/internal/ledger/migrations"
)

type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusHeld      Status = "held"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

func (s Status) Finished() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusAborted
}

const (
	RunModeCondor = "condor"
	RunModeLocal  = "local"
)

var ErrNotFound = errors.New("job not found")

type Entry struct {
	ID         int64
	Batch      string
	Name       string
	RunMode    string
	Command    string
	Script     string
	SubmitFile string
	LogPath    string
	Output     string
	ClusterID  int64
	Status     Status
	ExitCode   int
	Attempts   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Filter struct {
	Batch    string
	Statuses []Status
}

type Store struct {
	db *sql.DB
}

func NewBatchID() string {
	return uuid.NewString()
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Open opens (creating if needed) the ledger database and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts a job and returns its ID.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if strings.TrimSpace(e.Batch) == "" {
		return 0, fmt.Errorf("batch is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return 0, fmt.Errorf("job name is required")
	}
	if e.Status == "" {
		e.Status = StatusSubmitted
	}
	if e.Attempts == 0 {
		e.Attempts = 1
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (
		   batch, name, runmode, command, script, submit_file, log_path, output,
		   cluster_id, status, exit_code, attempts, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Batch, e.Name, e.RunMode, e.Command, e.Script, e.SubmitFile, e.LogPath, e.Output,
		e.ClusterID, string(e.Status), e.ExitCode, e.Attempts, toMillis(now), toMillis(now),
	)
	if err != nil {
		return 0, fmt.Errorf("record job %s: %w", e.Name, err)
	}
	return res.LastInsertId()
}

func (s *Store) Get(ctx context.Context, id int64) (Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

// List returns matching jobs, oldest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	query := selectColumns
	var where []string
	var args []any
	if f.Batch != "" {
		where = append(where, "batch = ?")
		args = append(args, f.Batch)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestBatch returns the batch of the most recently recorded job.
func (s *Store) LatestBatch(ctx context.Context) (string, error) {
	var batch string
	err := s.db.QueryRowContext(ctx, `SELECT batch FROM jobs ORDER BY id DESC LIMIT 1`).Scan(&batch)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return batch, err
}

func (s *Store) UpdateStatus(ctx context.Context, id int64, status Status, exitCode int) error {
	return s.exec(ctx, id,
		`UPDATE jobs SET status = ?, exit_code = ?, updated_at = ? WHERE id = ?`,
		string(status), exitCode, toMillis(time.Now()), id,
	)
}

// MarkResubmitted records a new attempt of a job under a new cluster.
func (s *Store) MarkResubmitted(ctx context.Context, id int64, clusterID int64) error {
	return s.exec(ctx, id,
		`UPDATE jobs SET status = ?, exit_code = 0, cluster_id = ?, attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		string(StatusSubmitted), clusterID, toMillis(time.Now()), id,
	)
}

func (s *Store) exec(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `SELECT id, batch, name, runmode, command, script, submit_file, log_path, output,
	cluster_id, status, exit_code, attempts, created_at, updated_at FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                Entry
		status           string
		created, updated int64
	)
	if err := row.Scan(
		&e.ID, &e.Batch, &e.Name, &e.RunMode, &e.Command, &e.Script, &e.SubmitFile, &e.LogPath, &e.Output,
		&e.ClusterID, &status, &e.ExitCode, &e.Attempts, &created, &updated,
	); err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return e, nil
}
