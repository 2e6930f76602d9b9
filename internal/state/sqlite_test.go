package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmesh/internal/testutil"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(context.Background(), ":memory:"))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_OpenMigrates(t *testing.T) {
	store := setupTestStore(t)

	version, err := store.MigrationVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	for _, table := range []string{"publishes", "validation_runs", "validation_results"} {
		rows, err := store.db.Query("SELECT 1 FROM " + table + " LIMIT 1")
		require.NoError(t, err, "table %s", table)
		rows.Close()
	}
}

func TestSQLiteStore_OpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".leapmesh", "state.db")
	store := NewSQLiteStore(nil)
	require.NoError(t, store.Open(context.Background(), path))
	require.NoError(t, store.Close())

	// reopening an already migrated database is a no-op
	store = NewSQLiteStore(nil)
	require.NoError(t, store.Open(context.Background(), path))
	require.NoError(t, store.Close())
}

func TestSQLiteStore_Publishes(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	base := time.Date(2026, 1, 23, 6, 45, 41, 0, time.UTC)
	for i, pe := range [][2]string{{"dbt_up", "prod"}, {"dbt_up", "dev"}, {"dbt_up", "prod"}} {
		require.NoError(t, store.RecordPublish(ctx, &Publish{
			Project:     pe[0],
			Env:         pe[1],
			LatestKey:   "registry/" + pe[0] + "/" + pe[1] + "/latest/manifest.json",
			HistoryKey:  "registry/" + pe[0] + "/" + pe[1] + "/history/x/manifest.json",
			Timestamp:   "20260123T064541Z",
			Size:        int64(100 + i),
			Location:    "/tmp/reg",
			SourcePath:  "target/manifest.json",
			PublishedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := store.ListPublishes(ctx, "", "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(102), all[0].Size, "newest first")
	assert.True(t, all[0].PublishedAt.Equal(base.Add(2*time.Second)))
	assert.NotEmpty(t, all[0].ID)

	prod, err := store.ListPublishes(ctx, "dbt_up", "prod", 10)
	require.NoError(t, err)
	assert.Len(t, prod, 2)

	limited, err := store.ListPublishes(ctx, "", "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteStore_ValidationRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	tests := []struct {
		name       string
		results    []ValidationResult
		failed     int
		wantStatus RunStatus
	}{
		{
			name: "all pass",
			results: []ValidationResult{
				{Target: "dbt_down", Project: "dbt_down", Status: "PASS",
					Edges: []EdgeRecord{{Child: "source.dbt_down.dbt_up.public_orders", Parent: "model.dbt_up.public_orders"}}},
			},
			wantStatus: RunStatusPassed,
		},
		{
			name: "one fails",
			results: []ValidationResult{
				{Target: "a.json", Project: "a", Status: "PASS"},
				{Target: "b.json", Project: "b", Status: "FAIL", Reason: "no cross-project parent found"},
			},
			failed:     1,
			wantStatus: RunStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := store.CreateValidationRun(ctx, "prod", len(tt.results))
			require.NoError(t, err)
			assert.Equal(t, RunStatusRunning, run.Status)

			for i := range tt.results {
				r := tt.results[i]
				r.RunID = run.ID
				require.NoError(t, store.RecordValidationResult(ctx, &r))
			}
			require.NoError(t, store.CompleteValidationRun(ctx, run.ID, tt.failed))

			got, err := store.GetValidationRun(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.failed, got.Failed)
			require.NotNil(t, got.CompletedAt)

			results, err := store.GetValidationResults(ctx, run.ID)
			require.NoError(t, err)
			require.Len(t, results, len(tt.results))
			assert.Equal(t, tt.results[0].Target, results[0].Target)
			assert.Equal(t, tt.results[0].Edges, nilIfEmpty(results[0].Edges))
		})
	}

	runs, err := store.ListValidationRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func nilIfEmpty(edges []EdgeRecord) []EdgeRecord {
	if len(edges) == 0 {
		return nil
	}
	return edges
}

func TestSQLiteStore_CompleteUnknownRun(t *testing.T) {
	store := setupTestStore(t)
	err := store.CompleteValidationRun(context.Background(), "missing", 0)
	assert.ErrorContains(t, err, "validation run not found")

	_, err = store.GetValidationRun(context.Background(), "missing")
	assert.ErrorContains(t, err, "validation run not found")
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	store := NewSQLiteStore(nil)
	ctx := context.Background()

	assert.Error(t, store.RecordPublish(ctx, &Publish{}))
	_, err := store.ListValidationRuns(ctx, 1)
	assert.Error(t, err)
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_DatabaseErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		setup  func(mock sqlmock.Sqlmock)
		run    func(s *SQLiteStore) error
		errMsg string
	}{
		{
			name: "record publish",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO publishes").WillReturnError(assert.AnError)
			},
			run:    func(s *SQLiteStore) error { return s.RecordPublish(ctx, &Publish{Project: "p"}) },
			errMsg: "failed to record publish",
		},
		{
			name: "create run",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO validation_runs").WillReturnError(assert.AnError)
			},
			run: func(s *SQLiteStore) error {
				_, err := s.CreateValidationRun(ctx, "prod", 1)
				return err
			},
			errMsg: "failed to create validation run",
		},
		{
			name: "list runs",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM validation_runs").WillReturnError(assert.AnError)
			},
			run: func(s *SQLiteStore) error {
				_, err := s.ListValidationRuns(ctx, 5)
				return err
			},
			errMsg: "failed to list validation runs",
		},
		{
			name: "corrupt timestamp",
			setup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id", "env", "status", "targets", "failed", "started_at", "completed_at"}).
					AddRow("r1", "prod", "passed", 1, 0, "yesterday", nil)
				mock.ExpectQuery("SELECT (.+) FROM validation_runs").WillReturnRows(rows)
			},
			run: func(s *SQLiteStore) error {
				_, err := s.ListValidationRuns(ctx, 5)
				return err
			},
			errMsg: "invalid timestamp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.setup(mock)
			store := &SQLiteStore{db: db, logger: testutil.NewTestLogger(t)}

			err = tt.run(store)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
