package publisher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmesh/internal/registry"
	"github.com/leapstack-labs/leapmesh/internal/state"
	"github.com/leapstack-labs/leapmesh/internal/testutil"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

type memRecorder struct {
	records []*state.Publish
	err     error
}

func (r *memRecorder) RecordPublish(_ context.Context, p *state.Publish) error {
	r.records = append(r.records, p)
	return r.err
}

func newTestPublisher(t *testing.T, rec Recorder) (*Publisher, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.NewLocalBackend(t.TempDir()),
		registry.WithClock(func() time.Time { return time.Date(2026, 1, 23, 6, 45, 41, 0, time.UTC) }),
		registry.WithLogger(testutil.NewTestLogger(t)))
	return New(reg, rec, testutil.NewTestLogger(t)), reg
}

func TestPublish_RoundTrip(t *testing.T) {
	ctx := context.Background()
	rec := &memRecorder{}
	pub, reg := newTestPublisher(t, rec)

	data := testutil.UpstreamManifest(t)
	path := testutil.WriteFile(t, t.TempDir(), "manifest.json", data)

	res, err := pub.Publish(ctx, Request{ManifestPath: path, Env: "prod"})
	require.NoError(t, err)
	assert.Equal(t, "dbt_up", res.Project, "project derived from metadata")
	assert.Equal(t, "registry/dbt_up/prod/history/20260123T064541Z/manifest.json", res.HistoryKey)

	latest, err := reg.Latest(ctx, "dbt_up", "prod")
	require.NoError(t, err)
	assert.Equal(t, data, latest)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, onDisk, "source manifest must not change")

	require.Len(t, rec.records, 1)
	assert.Equal(t, "20260123T064541Z", rec.records[0].Timestamp)
	assert.Equal(t, path, rec.records[0].SourcePath)
}

func TestPublish_ExplicitProject(t *testing.T) {
	_, reg := newTestPublisher(t, nil)
	logger, logs := testutil.NewCaptureLogger(t)
	pub := New(reg, nil, logger)
	path := testutil.WriteFile(t, t.TempDir(), "manifest.json", testutil.UpstreamManifest(t))

	_, err := pub.Publish(context.Background(), Request{ManifestPath: path, Project: "orders", Env: "dev"})
	require.NoError(t, err)

	_, err = reg.Latest(context.Background(), "orders", "dev")
	assert.NoError(t, err)
	assert.True(t, logs.Contains("differs from the manifest"), logs.String())
}

func TestPublish_Errors(t *testing.T) {
	dir := t.TempDir()
	garbage := testutil.WriteFile(t, dir, "garbage.json", []byte("not json"))
	anonymous := testutil.WriteFile(t, dir, "anon.json", []byte(`{"nodes": {}, "parent_map": {}}`))

	tests := []struct {
		name    string
		req     Request
		wantErr error
		field   string
	}{
		{"missing file", Request{ManifestPath: filepath.Join(dir, "missing.json"), Env: "prod"}, core.ErrNotFound, ""},
		{"invalid json", Request{ManifestPath: garbage, Env: "prod"}, core.ErrParse, ""},
		{"underivable project", Request{ManifestPath: anonymous, Env: "prod"}, core.ErrValidation, "metadata.project_name"},
		{"missing env", Request{ManifestPath: anonymous, Project: "p"}, core.ErrValidation, "env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, _ := newTestPublisher(t, nil)
			_, err := pub.Publish(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			if tt.field != "" {
				var ce *core.Error
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, tt.field, ce.Field)
			}
		})
	}
}

func TestPublish_RecorderFailureIsNotFatal(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	pub, _ := newTestPublisher(t, rec)
	path := testutil.WriteFile(t, t.TempDir(), "manifest.json", testutil.UpstreamManifest(t))

	_, err := pub.Publish(context.Background(), Request{ManifestPath: path, Env: "prod"})
	assert.NoError(t, err)
	assert.Len(t, rec.records, 1)
}
