package synchronizer

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapmesh/internal/manifest"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// stubDocument is the source definition file read by the downstream build.
// Field order here is the order written to disk.
type stubDocument struct {
	Version int          `yaml:"version"`
	Sources []stubSource `yaml:"sources"`
}

type stubSource struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Tables      []stubTable `yaml:"tables"`
}

type stubTable struct {
	Name        string       `yaml:"name"`
	Database    string       `yaml:"database,omitempty"`
	Schema      string       `yaml:"schema"`
	Identifier  string       `yaml:"identifier"`
	Description string       `yaml:"description,omitempty"`
	Columns     []stubColumn `yaml:"columns,omitempty"`
}

type stubColumn struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	DataType    string `yaml:"data_type,omitempty"`
}

// Render builds the source stub for the public models of m. The output
// depends only on m: tables are sorted by node id, columns keep manifest
// order, and nothing time-dependent is written.
func Render(m *manifest.Manifest) ([]byte, error) {
	public := m.PublicNodes()
	if len(public) == 0 {
		return nil, core.EmptyResult(m.Key,
			fmt.Sprintf("project %q has no models with access: public; refusing to write an empty source stub", m.Project))
	}

	src := stubSource{
		Name:        m.Project,
		Description: fmt.Sprintf("Public models published by %s. Generated by leapmesh sync; do not edit.", m.Project),
		Tables:      make([]stubTable, 0, len(public)),
	}
	owners := make(map[string]string, len(public))
	for _, n := range public {
		name := tableName(n)
		if prev, ok := owners[name]; ok {
			return nil, core.Validation(m.Key, "name",
				fmt.Sprintf("public models %s and %s both map to source table %q", prev, n.ID.Raw, name))
		}
		owners[name] = n.ID.Raw

		t := stubTable{
			Name:        name,
			Database:    n.Database,
			Schema:      n.Schema,
			Identifier:  n.Identifier,
			Description: n.Description,
		}
		for _, c := range n.Columns {
			t.Columns = append(t.Columns, stubColumn{Name: c.Name, Description: c.Description, DataType: c.DataType})
		}
		src.Tables = append(src.Tables, t)
	}

	var buf bytes.Buffer
	buf.WriteString("# Code generated by leapmesh sync. DO NOT EDIT.\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(stubDocument{Version: 2, Sources: []stubSource{src}}); err != nil {
		return nil, fmt.Errorf("failed to encode source stub: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode source stub: %w", err)
	}
	return buf.Bytes(), nil
}

// tableName is the source table name for n. Versioned models get a _v<N>
// suffix so each version is addressable on its own.
func tableName(n *manifest.Node) string {
	if n.Version == "" {
		return n.Name
	}
	return n.Name + "_v" + n.Version
}
