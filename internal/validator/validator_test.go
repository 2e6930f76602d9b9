package validator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmesh/internal/manifest"
	"github.com/leapstack-labs/leapmesh/internal/registry"
	"github.com/leapstack-labs/leapmesh/internal/state"
	"github.com/leapstack-labs/leapmesh/internal/testutil"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

type memRecorder struct {
	runs      int
	results   []*state.ValidationResult
	failed    int
	createErr error
}

func (r *memRecorder) CreateValidationRun(_ context.Context, env string, targets int) (*state.ValidationRun, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.runs++
	return &state.ValidationRun{ID: "run-1", Env: env, Targets: targets}, nil
}

func (r *memRecorder) RecordValidationResult(_ context.Context, res *state.ValidationResult) error {
	r.results = append(r.results, res)
	return nil
}

func (r *memRecorder) CompleteValidationRun(_ context.Context, _ string, failed int) error {
	r.failed = failed
	return nil
}

func TestCheck_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantStatus Status
		wantReason string
		wantEdges  []string
	}{
		{
			name:       "downstream with cross-project source",
			data:       testutil.DownstreamManifest(t),
			wantStatus: StatusPass,
			wantEdges:  []string{"model.dbt_up.public_orders"},
		},
		{
			name:       "same project only",
			data:       testutil.IsolatedManifest(t),
			wantStatus: StatusFail,
			wantReason: ReasonSameProjectOnly,
		},
		{
			name: "no edges at all",
			data: testutil.ManifestJSON(t, "dbt_down", []testutil.ManifestNode{
				{ID: "model.dbt_down.a"},
			}, nil),
			wantStatus: StatusFail,
			wantReason: ReasonEmptyParentMap,
		},
		{
			name: "cross-project edge only in depends_on",
			data: testutil.ManifestJSON(t, "dbt_down", []testutil.ManifestNode{
				{ID: "model.dbt_down.a", DependsOn: []string{"model.dbt_up.public_orders"}},
			}, map[string][]string{"model.dbt_down.a": {}}),
			wantStatus: StatusPass,
			wantEdges:  []string{"model.dbt_up.public_orders"},
		},
		{
			name: "leaf nodes alongside a cross-project edge",
			data: testutil.ManifestJSON(t, "dbt_down", []testutil.ManifestNode{
				{ID: "model.dbt_down.a"},
				{ID: "model.dbt_down.b"},
			}, map[string][]string{
				"model.dbt_down.a": {},
				"model.dbt_down.b": {"seed.other.countries"},
			}),
			wantStatus: StatusPass,
			wantEdges:  []string{"seed.other.countries"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := manifest.Parse(tt.data, "manifest.json")
			require.NoError(t, err)

			res := Check(m)
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Equal(t, tt.wantEdges, nilIfEmpty(res.Parents()))
		})
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func TestCheck_EdgeDetails(t *testing.T) {
	m, err := manifest.Parse(testutil.DownstreamManifest(t), "down.json")
	require.NoError(t, err)

	res := Check(m)
	require.Len(t, res.Edges, 1)
	assert.Equal(t, Edge{
		Child:         "source.dbt_down.dbt_up.public_orders",
		Parent:        "model.dbt_up.public_orders",
		ParentProject: "dbt_up",
		Impacted:      3,
	}, res.Edges[0])
	assert.Equal(t, []string{"model.dbt_up.public_orders"}, res.Unresolved)
	assert.Equal(t, "dbt_down", res.Project)
}

func TestValidate_Files(t *testing.T) {
	dir := t.TempDir()
	down := testutil.WriteFile(t, dir, "down.json", testutil.DownstreamManifest(t))
	isolated := testutil.WriteFile(t, dir, "isolated.json", testutil.IsolatedManifest(t))
	broken := testutil.WriteFile(t, dir, "broken.json", []byte(`{"nodes": {}}`))
	missing := filepath.Join(dir, "missing.json")

	tests := []struct {
		name       string
		targets    []Target
		wantPassed bool
		reasons    []string
	}{
		{"single pass", []Target{FileTarget(down)}, true, []string{""}},
		{"one fail flips aggregate", []Target{FileTarget(down), FileTarget(isolated)}, false, []string{"", ReasonSameProjectOnly}},
		{"missing file", []Target{FileTarget(missing)}, false, []string{ReasonMissingFile}},
		{"parse error", []Target{FileTarget(broken)}, false, []string{ReasonParseError}},
		{"no targets", nil, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(WithLogger(testutil.NewTestLogger(t)))
			report, err := v.Validate(context.Background(), tt.targets)
			require.NoError(t, err)

			assert.Equal(t, tt.wantPassed, report.Passed)
			require.Len(t, report.Results, len(tt.reasons))
			for i, reason := range tt.reasons {
				assert.Equal(t, reason, report.Results[i].Reason)
			}
			if tt.wantPassed {
				assert.NoError(t, report.Err())
			} else {
				assert.Error(t, report.Err())
			}
		})
	}
}

func TestValidate_LoadErrorsAreTerminal(t *testing.T) {
	dir := t.TempDir()
	broken := testutil.WriteFile(t, dir, "broken.json", []byte(`{"parent_map": {}}`))

	report, err := New().Validate(context.Background(), []Target{FileTarget(broken)})
	require.NoError(t, err)

	res := report.Results[0]
	assert.Equal(t, StatusFail, res.Status)
	assert.True(t, errors.Is(res.Err, core.ErrParse))
	assert.Contains(t, res.Detail, `field "nodes"`)
	assert.Empty(t, res.Edges)
}

func TestValidate_ProjectsThroughRegistry(t *testing.T) {
	ctx := context.Background()
	reg := registry.New(registry.NewLocalBackend(t.TempDir()))
	_, err := reg.Publish(ctx, "dbt_down", "prod", testutil.DownstreamManifest(t))
	require.NoError(t, err)
	_, err = reg.Publish(ctx, "dbt_iso", "prod", testutil.IsolatedManifest(t))
	require.NoError(t, err)

	rec := &memRecorder{}
	v := New(WithRegistry(reg, "prod"), WithRecorder(rec), WithLogger(testutil.NewTestLogger(t)))

	report, err := v.Validate(ctx, []Target{
		ProjectTarget("dbt_down"),
		ProjectTarget("dbt_iso"),
		ProjectTarget("dbt_ghost"),
	})
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, "run-1", report.RunID)

	assert.Equal(t, StatusPass, report.Results[0].Status)
	assert.Equal(t, ReasonSameProjectOnly, report.Results[1].Reason)
	assert.Equal(t, ReasonRegistryAbsent, report.Results[2].Reason)
	assert.Contains(t, report.Results[2].Detail, "registry/dbt_ghost/prod/latest/manifest.json")

	assert.Equal(t, 1, rec.runs)
	require.Len(t, rec.results, 3)
	assert.Equal(t, 2, rec.failed)
	assert.Equal(t, []state.EdgeRecord{{Child: "source.dbt_down.dbt_up.public_orders", Parent: "model.dbt_up.public_orders"}},
		rec.results[0].Edges)
}

func TestValidate_ProjectWithoutRegistry(t *testing.T) {
	report, err := New().Validate(context.Background(), []Target{ProjectTarget("dbt_down")})
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.True(t, errors.Is(report.Results[0].Err, core.ErrValidation))
}

func TestValidate_LoadReasonFollowsErrorKind(t *testing.T) {
	reg := registry.New(registry.NewLocalBackend(t.TempDir()))
	v := New(WithRegistry(reg, "prod"))

	report, err := v.Validate(context.Background(), []Target{ProjectTarget("dbt/down")})
	require.NoError(t, err)

	res := report.Results[0]
	assert.Equal(t, StatusFail, res.Status)
	assert.Equal(t, ReasonValidationError, res.Reason)
	assert.True(t, errors.Is(res.Err, core.ErrValidation))
}

func TestLoadReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"none", nil, ""},
		{"not found", core.NotFound("k", "gone", nil), ReasonMissingFile},
		{"parse", core.Parse("k", "nodes", "missing", nil), ReasonParseError},
		{"validation", core.Validation("k", "project", "bad name"), ReasonValidationError},
		{"wrapped validation", fmt.Errorf("load: %w", core.Validation("k", "env", "bad name")), ReasonValidationError},
		{"storage", core.Storage("k", true, errors.New("timeout")), ReasonStorageError},
		{"plain", errors.New("boom"), ReasonStorageError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, loadReason(tt.err, ReasonMissingFile))
		})
	}
}

func TestValidate_RecorderFailureIsNotFatal(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "down.json", testutil.DownstreamManifest(t))
	logger, logs := testutil.NewCaptureLogger(t)
	v := New(WithRecorder(&memRecorder{createErr: errors.New("locked")}), WithLogger(logger))

	report, err := v.Validate(context.Background(), []Target{FileTarget(path)})
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Empty(t, report.RunID)
	assert.True(t, logs.Contains("failed to record validation run"), logs.String())
}

func TestValidate_ConcurrentKeepsTargetOrder(t *testing.T) {
	dir := t.TempDir()
	var targets []Target
	var want []string
	for i := range 12 {
		data := testutil.DownstreamManifest(t)
		if i%3 == 0 {
			data = testutil.IsolatedManifest(t)
		}
		path := testutil.WriteFile(t, dir, fmt.Sprintf("m%02d.json", i), data)
		targets = append(targets, FileTarget(path))
		want = append(want, path)
	}

	v := New(WithLogger(testutil.NewTestLogger(t)), WithConcurrency(3))
	report, err := v.Validate(context.Background(), targets)
	require.NoError(t, err)

	got := make([]string, 0, len(report.Results))
	for _, res := range report.Results {
		got = append(got, res.Name)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 4, report.Failed())
}

func TestValidate_CancelledContext(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "down.json", testutil.DownstreamManifest(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Validate(ctx, []Target{FileTarget(path)})
	assert.ErrorIs(t, err, context.Canceled)
}
