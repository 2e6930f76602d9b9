package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore is the ledger backed by SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite state store instance.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SQLiteStore{logger: logger}
}

// Open opens the database at path and applies migrations.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(ctx context.Context, path string) error {
	dsn := ":memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// each connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path

	if err := s.Migrate(ctx); err != nil {
		db.Close()
		s.db = nil
		return err
	}

	s.logger.Debug("state store opened", slog.String("path", path))
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// generateID creates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// --- Publishes ---

// RecordPublish stores p, assigning its ID and PublishedAt when unset.
func (s *SQLiteStore) RecordPublish(ctx context.Context, p *Publish) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if p.ID == "" {
		p.ID = generateID()
	}
	if p.PublishedAt.IsZero() {
		p.PublishedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO publishes (id, project, env, latest_key, history_key, timestamp, size, location, source_path, published_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Project, p.Env, p.LatestKey, p.HistoryKey, p.Timestamp, p.Size, p.Location, p.SourcePath,
		p.PublishedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record publish: %w", err)
	}
	return nil
}

// ListPublishes returns the newest publishes first. Empty project or env
// match everything.
func (s *SQLiteStore) ListPublishes(ctx context.Context, project, env string, limit int) ([]*Publish, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project, env, latest_key, history_key, timestamp, size, location, source_path, published_at
		 FROM publishes
		 WHERE (? = '' OR project = ?) AND (? = '' OR env = ?)
		 ORDER BY published_at DESC
		 LIMIT ?`,
		project, project, env, env, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list publishes: %w", err)
	}
	defer rows.Close()

	var out []*Publish
	for rows.Next() {
		p := &Publish{}
		var publishedAt string
		if err := rows.Scan(&p.ID, &p.Project, &p.Env, &p.LatestKey, &p.HistoryKey, &p.Timestamp,
			&p.Size, &p.Location, &p.SourcePath, &publishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan publish: %w", err)
		}
		if p.PublishedAt, err = parseTime(publishedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Validation runs ---

// CreateValidationRun starts a new run.
func (s *SQLiteStore) CreateValidationRun(ctx context.Context, env string, targets int) (*ValidationRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &ValidationRun{
		ID:        generateID(),
		Env:       env,
		Status:    RunStatusRunning,
		Targets:   targets,
		StartedAt: time.Now().UTC(),
	}

	s.logger.Debug("creating validation run", slog.String("id", run.ID), slog.Int("targets", targets))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validation_runs (id, env, status, targets, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Env, string(run.Status), run.Targets, run.StartedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation run: %w", err)
	}
	return run, nil
}

// RecordValidationResult stores the outcome for one target of a run.
func (s *SQLiteStore) RecordValidationResult(ctx context.Context, r *ValidationResult) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if r.ID == "" {
		r.ID = generateID()
	}
	if r.CheckedAt.IsZero() {
		r.CheckedAt = time.Now().UTC()
	}

	edges := r.Edges
	if edges == nil {
		edges = []EdgeRecord{}
	}
	edgesJSON, err := json.Marshal(edges)
	if err != nil {
		return fmt.Errorf("failed to encode edges: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validation_results (id, run_id, target, project, status, reason, edges, checked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RunID, r.Target, r.Project, r.Status, r.Reason, string(edgesJSON), r.CheckedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to record validation result: %w", err)
	}
	return nil
}

// CompleteValidationRun marks a run passed or failed.
func (s *SQLiteStore) CompleteValidationRun(ctx context.Context, id string, failed int) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	status := RunStatusPassed
	if failed > 0 {
		status = RunStatusFailed
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE validation_runs SET status = ?, failed = ?, completed_at = ? WHERE id = ?`,
		string(status), failed, time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete validation run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete validation run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("validation run not found: %s", id)
	}
	return nil
}

// GetValidationRun retrieves a run by ID.
func (s *SQLiteStore) GetValidationRun(ctx context.Context, id string) (*ValidationRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, env, status, targets, failed, started_at, completed_at FROM validation_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("validation run not found: %s", id)
	}
	return run, err
}

// ListValidationRuns returns the most recent runs up to limit.
func (s *SQLiteStore) ListValidationRuns(ctx context.Context, limit int) ([]*ValidationRun, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, env, status, targets, failed, started_at, completed_at
		 FROM validation_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list validation runs: %w", err)
	}
	defer rows.Close()

	var runs []*ValidationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetValidationResults returns the results of a run in target order.
func (s *SQLiteStore) GetValidationResults(ctx context.Context, runID string) ([]*ValidationResult, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, target, project, status, reason, edges, checked_at
		 FROM validation_results WHERE run_id = ? ORDER BY target`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get validation results: %w", err)
	}
	defer rows.Close()

	var out []*ValidationResult
	for rows.Next() {
		r := &ValidationResult{}
		var edges, checkedAt string
		if err := rows.Scan(&r.ID, &r.RunID, &r.Target, &r.Project, &r.Status, &r.Reason, &edges, &checkedAt); err != nil {
			return nil, fmt.Errorf("failed to scan validation result: %w", err)
		}
		if err := json.Unmarshal([]byte(edges), &r.Edges); err != nil {
			return nil, fmt.Errorf("failed to decode edges for %s: %w", r.Target, err)
		}
		if r.CheckedAt, err = parseTime(checkedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*ValidationRun, error) {
	run := &ValidationRun{}
	var status, startedAt string
	var completedAt sql.NullString
	if err := row.Scan(&run.ID, &run.Env, &status, &run.Targets, &run.Failed, &startedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan validation run: %w", err)
	}
	run.Status = RunStatus(status)

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		run.CompletedAt = &t
	}
	return run, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q in state store: %w", s, err)
	}
	return t, nil
}
