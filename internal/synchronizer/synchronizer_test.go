package synchronizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapmesh/internal/manifest"
	"github.com/leapstack-labs/leapmesh/internal/registry"
	"github.com/leapstack-labs/leapmesh/internal/testutil"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

func setup(t *testing.T) (*Synchronizer, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.NewLocalBackend(t.TempDir()), registry.WithLogger(testutil.NewTestLogger(t)))
	return New(reg, testutil.NewTestLogger(t)), reg
}

func publish(t *testing.T, reg *registry.Registry, project string, data []byte) {
	t.Helper()
	_, err := reg.Publish(context.Background(), project, "prod", data)
	require.NoError(t, err)
}

func TestSync_RendersPublicModels(t *testing.T) {
	ctx := context.Background()
	s, reg := setup(t)
	publish(t, reg, "dbt_up", testutil.UpstreamManifest(t))

	out := filepath.Join(t.TempDir(), "models", "sources", "dbt_up.yml")
	res, err := s.Sync(ctx, Request{Upstream: "dbt_up", Env: "prod", OutputPath: out})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tables)
	assert.True(t, res.Changed)
	assert.Equal(t, "registry/dbt_up/prod/latest/manifest.json", res.Key)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var doc stubDocument
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.Equal(t, 2, doc.Version)
	require.Len(t, doc.Sources, 1)
	assert.Equal(t, "dbt_up", doc.Sources[0].Name)
	require.Len(t, doc.Sources[0].Tables, 1)

	tbl := doc.Sources[0].Tables[0]
	assert.Equal(t, "public_orders", tbl.Name)
	assert.Equal(t, "analytics", tbl.Database)
	assert.Equal(t, "dbt_up", tbl.Schema)
	assert.Equal(t, "public_orders", tbl.Identifier)
	var cols []string
	for _, c := range tbl.Columns {
		cols = append(cols, c.Name)
	}
	assert.ElementsMatch(t, []string{"order_id", "status", "amount", "created_at"}, cols)
	assert.NotContains(t, string(data), "stg_orders", "private models stay out of the stub")
}

func TestSync_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, reg := setup(t)
	publish(t, reg, "dbt_up", testutil.UpstreamManifest(t))
	out := filepath.Join(t.TempDir(), "stub.yml")
	req := Request{Upstream: "dbt_up", Env: "prod", OutputPath: out}

	_, err := s.Sync(ctx, req)
	require.NoError(t, err)
	first, err := os.ReadFile(out)
	require.NoError(t, err)

	res, err := s.Sync(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	second, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	check, err := s.Check(ctx, req)
	require.NoError(t, err)
	assert.False(t, check.Stale)
	assert.Empty(t, check.Diff)
}

func TestSync_OverwritesExistingStub(t *testing.T) {
	s, reg := setup(t)
	publish(t, reg, "dbt_up", testutil.UpstreamManifest(t))
	out := testutil.WriteFile(t, t.TempDir(), "stub.yml", []byte("sources:\n  - name: hand_written\n"))

	_, err := s.Sync(context.Background(), Request{Upstream: "dbt_up", Env: "prod", OutputPath: out})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hand_written")
}

func TestSync_Errors(t *testing.T) {
	noPublic := testutil.ManifestJSON(t, "dbt_up", []testutil.ManifestNode{
		{ID: "model.dbt_up.stg_orders", Access: "protected", Schema: "dbt_up"},
	}, nil)
	noSchema := testutil.ManifestJSON(t, "dbt_up", []testutil.ManifestNode{
		{ID: "model.dbt_up.public_orders", Access: "public"},
	}, nil)
	cyclic := testutil.ManifestJSON(t, "dbt_up", []testutil.ManifestNode{
		{ID: "model.dbt_up.public_orders", Access: "public", Schema: "dbt_up"},
		{ID: "model.dbt_up.stg_orders", Schema: "dbt_up"},
	}, map[string][]string{
		"model.dbt_up.public_orders": {"model.dbt_up.stg_orders"},
		"model.dbt_up.stg_orders":    {"model.dbt_up.public_orders"},
	})

	tests := []struct {
		name    string
		publish []byte
		wantErr error
		field   string
	}{
		{name: "registry entry absent", wantErr: core.ErrNotFound},
		{name: "zero public nodes", publish: noPublic, wantErr: core.ErrEmptyResult},
		{name: "missing schema", publish: noSchema, wantErr: core.ErrValidation, field: "schema"},
		{name: "malformed json", publish: []byte("{"), wantErr: core.ErrValidation},
		{name: "missing parent_map", publish: []byte(`{"nodes": {}}`), wantErr: core.ErrValidation, field: "parent_map"},
		{name: "dependency cycle", publish: cyclic, wantErr: core.ErrValidation, field: "parent_map"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, reg := setup(t)
			if tt.publish != nil {
				publish(t, reg, "dbt_up", tt.publish)
			}
			out := filepath.Join(t.TempDir(), "stub.yml")

			_, err := s.Sync(context.Background(), Request{Upstream: "dbt_up", Env: "prod", OutputPath: out})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Contains(t, err.Error(), "registry/dbt_up/prod/latest/manifest.json")
			if tt.field != "" {
				var ce *core.Error
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, tt.field, ce.Field)
			}

			_, statErr := os.Stat(out)
			assert.True(t, os.IsNotExist(statErr), "no stub may be written on failure")
		})
	}
}

func TestCheck_ReportsDrift(t *testing.T) {
	ctx := context.Background()
	s, reg := setup(t)
	publish(t, reg, "dbt_up", testutil.UpstreamManifest(t))
	out := filepath.Join(t.TempDir(), "stub.yml")
	req := Request{Upstream: "dbt_up", Env: "prod", OutputPath: out}

	missing, err := s.Check(ctx, req)
	require.NoError(t, err)
	assert.True(t, missing.Stale)
	assert.Contains(t, missing.Diff, "/dev/null")

	_, err = s.Sync(ctx, req)
	require.NoError(t, err)

	// upstream adds a second public model
	publish(t, reg, "dbt_up", testutil.ManifestJSON(t, "dbt_up", []testutil.ManifestNode{
		{ID: "model.dbt_up.public_orders", Access: "public", Schema: "dbt_up"},
		{ID: "model.dbt_up.public_customers", Access: "public", Schema: "dbt_up"},
	}, nil))

	drift, err := s.Check(ctx, req)
	require.NoError(t, err)
	assert.True(t, drift.Stale)
	assert.Regexp(t, `(?m)^\+\s+- name: public_customers$`, drift.Diff)
}

func TestRender_SortsByNodeID(t *testing.T) {
	s, reg := setup(t)
	publish(t, reg, "up", testutil.ManifestJSON(t, "up", []testutil.ManifestNode{
		{ID: "model.up.zeta", Access: "public", Schema: "s"},
		{ID: "model.up.alpha", Access: "public", Schema: "s"},
	}, nil))
	out := filepath.Join(t.TempDir(), "stub.yml")

	_, err := s.Sync(context.Background(), Request{Upstream: "up", Env: "prod", OutputPath: out})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var doc stubDocument
	require.NoError(t, yaml.Unmarshal(data, &doc))
	require.Len(t, doc.Sources[0].Tables, 2)
	assert.Equal(t, "alpha", doc.Sources[0].Tables[0].Name)
	assert.Equal(t, "zeta", doc.Sources[0].Tables[1].Name)
}

func TestRender_VersionedModels(t *testing.T) {
	render := func(t *testing.T, nodes []testutil.ManifestNode) ([]byte, error) {
		t.Helper()
		m, err := manifest.Parse(testutil.ManifestJSON(t, "up", nodes, nil), "up.json")
		require.NoError(t, err)
		return Render(m)
	}

	t.Run("each version gets its own table", func(t *testing.T) {
		data, err := render(t, []testutil.ManifestNode{
			{ID: "model.up.orders.v1", Name: "orders", Version: "1", Alias: "orders_v1", Access: "public", Schema: "s"},
			{ID: "model.up.orders.v2", Name: "orders", Version: "2", Alias: "orders", Access: "public", Schema: "s"},
			{ID: "model.up.items", Access: "public", Schema: "s"},
		})
		require.NoError(t, err)

		var doc stubDocument
		require.NoError(t, yaml.Unmarshal(data, &doc))
		tables := doc.Sources[0].Tables
		require.Len(t, tables, 3)
		assert.Equal(t, "items", tables[0].Name)
		assert.Equal(t, "orders_v1", tables[1].Name)
		assert.Equal(t, "orders_v2", tables[2].Name)
		assert.Equal(t, "orders", tables[2].Identifier)
	})

	t.Run("colliding names are rejected", func(t *testing.T) {
		_, err := render(t, []testutil.ManifestNode{
			{ID: "model.up.orders.v2", Name: "orders", Version: "2", Access: "public", Schema: "s"},
			{ID: "model.up.orders_v2", Access: "public", Schema: "s"},
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, core.ErrValidation))
		assert.Contains(t, err.Error(), `source table "orders_v2"`)

		var ce *core.Error
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "name", ce.Field)
	})
}

func TestWatch_ResyncsOnPublish(t *testing.T) {
	s, reg := setup(t)
	publish(t, reg, "dbt_up", testutil.UpstreamManifest(t))
	out := filepath.Join(t.TempDir(), "stub.yml")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var results []*Result
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, Request{Upstream: "dbt_up", Env: "prod", OutputPath: out}, func(r *Result, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				results = append(results, r)
			}
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// let the watcher register before publishing
	time.Sleep(50 * time.Millisecond)
	publish(t, reg, "dbt_up", testutil.ManifestJSON(t, "dbt_up", []testutil.ManifestNode{
		{ID: "model.dbt_up.public_orders", Access: "public", Schema: "dbt_up"},
		{ID: "model.dbt_up.public_customers", Access: "public", Schema: "dbt_up"},
	}, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) >= 2 && results[len(results)-1].Tables == 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestWatch_RequiresLocalBackend(t *testing.T) {
	b, err := registry.NewObjectBackend(registry.ObjectConfig{Endpoint: "localhost:9000", Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"})
	require.NoError(t, err)
	s := New(registry.New(b), nil)

	err = s.Watch(context.Background(), Request{Upstream: "dbt_up", Env: "prod"}, func(*Result, error) {})
	assert.True(t, errors.Is(err, core.ErrValidation))
}
