package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ManifestNode describes a node for ManifestJSON.
type ManifestNode struct {
	ID string
	// Name overrides the name derived from ID.
	Name        string
	Access      string
	Database    string
	Schema      string
	Alias       string
	Version     string
	Description string
	Columns     []string
	DependsOn   []string
}

// ManifestJSON renders a minimal manifest document in the transformation
// tool's shape. Nodes whose id starts with "source." land in the sources
// section.
func ManifestJSON(t testing.TB, project string, nodes []ManifestNode, parentMap map[string][]string) []byte {
	t.Helper()

	doc := map[string]any{
		"metadata": map[string]any{
			"dbt_schema_version": "https://schemas.getdbt.com/dbt/manifest/v12.json",
			"project_name":       project,
		},
		"nodes":      map[string]any{},
		"sources":    map[string]any{},
		"parent_map": parentMap,
	}
	if parentMap == nil {
		doc["parent_map"] = map[string][]string{}
	}

	for _, n := range nodes {
		kind, pkg, name := splitID(n.ID)
		if n.Name != "" {
			name = n.Name
		}
		cols := map[string]any{}
		for _, c := range n.Columns {
			cols[c] = map[string]any{"name": c, "description": "", "data_type": ""}
		}
		entry := map[string]any{
			"unique_id":     n.ID,
			"resource_type": kind,
			"package_name":  pkg,
			"name":          name,
			"database":      n.Database,
			"schema":        n.Schema,
			"alias":         n.Alias,
			"description":   n.Description,
			"columns":       cols,
			"depends_on":    map[string]any{"nodes": n.DependsOn},
		}
		if n.Access != "" {
			entry["access"] = n.Access
		}
		if n.Version != "" {
			entry["version"] = n.Version
		}
		section := "nodes"
		if kind == "source" {
			section = "sources"
		}
		doc[section].(map[string]any)[n.ID] = entry
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	return data
}

// WriteFile writes data under dir/name and returns the full path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// UpstreamManifest is the canonical upstream fixture: one public model
// model.dbt_up.public_orders plus a private staging model.
func UpstreamManifest(t testing.TB) []byte {
	t.Helper()
	return ManifestJSON(t, "dbt_up", []ManifestNode{
		{
			ID:          "model.dbt_up.public_orders",
			Access:      "public",
			Database:    "analytics",
			Schema:      "dbt_up",
			Description: "Orders exposed to downstream projects",
			Columns:     []string{"order_id", "status", "amount", "created_at"},
			DependsOn:   []string{"model.dbt_up.stg_orders"},
		},
		{
			ID:       "model.dbt_up.stg_orders",
			Access:   "private",
			Database: "analytics",
			Schema:   "dbt_up",
		},
	}, map[string][]string{
		"model.dbt_up.public_orders": {"model.dbt_up.stg_orders"},
		"model.dbt_up.stg_orders":    {},
	})
}

// DownstreamManifest is the canonical downstream fixture with a source that
// points at model.dbt_up.public_orders.
func DownstreamManifest(t testing.TB) []byte {
	t.Helper()
	return ManifestJSON(t, "dbt_down", []ManifestNode{
		{ID: "source.dbt_down.dbt_up.public_orders", Database: "analytics", Schema: "dbt_up"},
		{ID: "model.dbt_down.stg_orders", Database: "analytics", Schema: "dbt_down",
			DependsOn: []string{"source.dbt_down.dbt_up.public_orders"}},
		{ID: "model.dbt_down.fct_orders", Database: "analytics", Schema: "dbt_down",
			DependsOn: []string{"model.dbt_down.stg_orders"}},
	}, map[string][]string{
		"source.dbt_down.dbt_up.public_orders": {"model.dbt_up.public_orders"},
		"model.dbt_down.stg_orders":            {"source.dbt_down.dbt_up.public_orders"},
		"model.dbt_down.fct_orders":            {"model.dbt_down.stg_orders"},
	})
}

// IsolatedManifest is a downstream manifest whose edges stay inside dbt_down.
func IsolatedManifest(t testing.TB) []byte {
	t.Helper()
	return ManifestJSON(t, "dbt_down", []ManifestNode{
		{ID: "model.dbt_down.stg_orders", Schema: "dbt_down"},
		{ID: "model.dbt_down.fct_orders", Schema: "dbt_down", DependsOn: []string{"model.dbt_down.stg_orders"}},
	}, map[string][]string{
		"model.dbt_down.stg_orders": {},
		"model.dbt_down.fct_orders": {"model.dbt_down.stg_orders"},
	})
}

func splitID(id string) (kind, project, name string) {
	parts := strings.SplitN(id, ".", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	name = parts[2]
	// sources are named by their last segment: source.down.up.orders -> orders
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return parts[0], parts[1], name
}
