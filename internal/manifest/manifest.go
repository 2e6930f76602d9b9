// Package manifest models the dependency document produced by the
// transformation tool after a build.
//
// The tool's JSON is loosely typed; this package turns it into a small set
// of typed records (Manifest, Node, Column) that are validated on load so
// callers never parse identifiers by hand.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmesh/internal/dag"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// Access is a node's visibility to other projects.
type Access string

// Access levels.
const (
	AccessPublic    Access = "public"
	AccessProtected Access = "protected"
	AccessPrivate   Access = "private"
)

// Column is a declared column on a node.
type Column struct {
	Name        string
	Description string
	DataType    string
}

// Node is a model, source, or other resource in a manifest.
type Node struct {
	ID          UniqueID
	Name        string
	Database    string
	Schema      string
	Identifier  string
	Description string
	Access      Access
	// Version is set for versioned models, e.g. "2".
	Version string
	Columns []Column
	// DependsOn is the node's own dependency list, kept apart from parent_map.
	DependsOn []string
}

// Manifest is a parsed, read-only manifest document.
type Manifest struct {
	// Key is the file path or registry key the manifest was read from.
	Key           string
	Project       string
	SchemaVersion string
	Nodes         map[string]*Node
	ParentMap     map[string][]string
}

// Load reads and parses a manifest from disk.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, core.NotFound(path, "manifest file does not exist", nil)
		}
		return nil, core.Storage(path, false, err)
	}
	return Parse(data, path)
}

// Parse decodes manifest JSON. key identifies the document in error messages.
// Missing nodes or parent_map sections are parse errors.
func Parse(data []byte, key string) (*Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, core.Parse(key, "", "invalid JSON", err)
	}
	if raw.Nodes == nil {
		return nil, core.Parse(key, "nodes", "required top-level key is missing", nil)
	}
	if raw.ParentMap == nil {
		return nil, core.Parse(key, "parent_map", "required top-level key is missing", nil)
	}

	m := &Manifest{
		Key:           key,
		Project:       raw.Metadata.ProjectName,
		SchemaVersion: raw.Metadata.SchemaVersion,
		Nodes:         make(map[string]*Node, len(raw.Nodes)+len(raw.Sources)),
		ParentMap:     raw.ParentMap,
	}

	for _, section := range []map[string]rawNode{raw.Nodes, raw.Sources} {
		for nodeKey, rn := range section {
			n, err := rn.toNode(nodeKey)
			if err != nil {
				return nil, core.Parse(m.Key, "unique_id", err.Error(), nil)
			}
			m.Nodes[n.ID.Raw] = n
		}
	}

	if m.Project == "" {
		m.Project = m.inferProject()
	}
	return m, nil
}

// Validate checks the fields downstream consumers rely on.
func (m *Manifest) Validate() error {
	if m.Project == "" {
		return core.Validation(m.Key, "metadata.project_name", "manifest does not name its project")
	}
	for _, id := range m.NodeIDs() {
		n := m.Nodes[id]
		if n.Name == "" {
			return core.Validation(m.Key, "name", fmt.Sprintf("node %s has no name", id))
		}
		if n.ID.Kind == KindModel && n.Access == AccessPublic {
			if n.Schema == "" {
				return core.Validation(m.Key, "schema", fmt.Sprintf("public model %s has no schema", id))
			}
			if n.Identifier == "" {
				return core.Validation(m.Key, "alias", fmt.Sprintf("public model %s has no relation name", id))
			}
		}
	}
	for child, parents := range m.ParentMap {
		if _, err := ParseID(child); err != nil {
			return core.Validation(m.Key, "parent_map", err.Error())
		}
		for _, p := range parents {
			if _, err := ParseID(p); err != nil {
				return core.Validation(m.Key, "parent_map", err.Error())
			}
			if p == child {
				return core.Validation(m.Key, "parent_map", "dependency cycle: "+child+" -> "+child)
			}
		}
	}
	if cyclic, path := m.Graph().HasCycle(); cyclic {
		return core.Validation(m.Key, "parent_map", "dependency cycle: "+strings.Join(path, " -> "))
	}
	return nil
}

// NodeIDs returns all node ids, sorted.
func (m *Manifest) NodeIDs() []string {
	ids := make([]string, 0, len(m.Nodes))
	for id := range m.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OwnedIDs returns ids from nodes and parent_map keys that belong to the
// manifest's own project, sorted.
func (m *Manifest) OwnedIDs() []string {
	seen := make(map[string]bool)
	for id := range m.Nodes {
		seen[id] = true
	}
	for id := range m.ParentMap {
		seen[id] = true
	}

	var ids []string
	for id := range seen {
		if ProjectOf(id) == m.Project {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Parents returns the union of parent_map[id] and the node's depends_on
// list, deduplicated and sorted.
func (m *Manifest) Parents(id string) []string {
	set := make(map[string]bool)
	for _, p := range m.ParentMap[id] {
		set[p] = true
	}
	if n, ok := m.Nodes[id]; ok {
		for _, p := range n.DependsOn {
			set[p] = true
		}
	}

	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// HasEdges reports whether any node declares at least one parent.
func (m *Manifest) HasEdges() bool {
	for _, parents := range m.ParentMap {
		if len(parents) > 0 {
			return true
		}
	}
	for _, n := range m.Nodes {
		if len(n.DependsOn) > 0 {
			return true
		}
	}
	return false
}

// PublicNodes returns models marked access: public, sorted by id.
func (m *Manifest) PublicNodes() []*Node {
	var out []*Node
	for _, id := range m.NodeIDs() {
		n := m.Nodes[id]
		if n.ID.Kind == KindModel && n.Access == AccessPublic {
			out = append(out, n)
		}
	}
	return out
}

// UnresolvedParents returns parent ids that name no node in this manifest.
func (m *Manifest) UnresolvedParents() []string {
	set := make(map[string]bool)
	for _, id := range m.OwnedIDs() {
		for _, p := range m.Parents(id) {
			if _, ok := m.Nodes[p]; !ok {
				set[p] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Graph builds the dependency graph of the manifest.
func (m *Manifest) Graph() *dag.Graph {
	g := dag.NewGraph()
	for _, id := range m.NodeIDs() {
		g.AddNode(id, m.Nodes[id])
	}
	for _, id := range m.OwnedIDs() {
		for _, p := range m.Parents(id) {
			// parent_map never lists a node as its own parent
			_ = g.AddEdge(p, id)
		}
	}
	return g
}

// inferProject picks the project owning the most nodes. Ties go to the
// lexically smallest name so the result is stable.
func (m *Manifest) inferProject() string {
	counts := make(map[string]int)
	for id := range m.Nodes {
		if p := ProjectOf(id); p != "" {
			counts[p]++
		}
	}
	for id := range m.ParentMap {
		if p := ProjectOf(id); p != "" {
			counts[p]++
		}
	}

	best, bestCount := "", 0
	for p, c := range counts {
		if c > bestCount || (c == bestCount && p < best) {
			best, bestCount = p, c
		}
	}
	return best
}

type rawManifest struct {
	Metadata struct {
		ProjectName   string `json:"project_name"`
		SchemaVersion string `json:"dbt_schema_version"`
	} `json:"metadata"`
	Nodes     map[string]rawNode  `json:"nodes"`
	Sources   map[string]rawNode  `json:"sources"`
	ParentMap map[string][]string `json:"parent_map"`
}

type rawNode struct {
	UniqueID     string     `json:"unique_id"`
	ResourceType string     `json:"resource_type"`
	PackageName  string     `json:"package_name"`
	Name         string     `json:"name"`
	Alias        string     `json:"alias"`
	Identifier   string     `json:"identifier"`
	Database     string     `json:"database"`
	Schema       string     `json:"schema"`
	Description  string     `json:"description"`
	Access       string     `json:"access"`
	Version      version    `json:"version"`
	Columns      columnList `json:"columns"`
	DependsOn    struct {
		Nodes []string `json:"nodes"`
	} `json:"depends_on"`
}

func (rn rawNode) toNode(key string) (*Node, error) {
	raw := rn.UniqueID
	if raw == "" {
		raw = key
	}
	id, err := ParseID(raw)
	if err != nil {
		return nil, err
	}
	if rn.ResourceType != "" {
		id.Kind = ParseKind(rn.ResourceType)
	}

	identifier := rn.Identifier
	if identifier == "" {
		identifier = rn.Alias
	}
	if identifier == "" {
		identifier = rn.Name
	}

	access := Access(rn.Access)
	if access == "" {
		access = AccessProtected
	}

	return &Node{
		ID:          id,
		Name:        rn.Name,
		Database:    rn.Database,
		Schema:      rn.Schema,
		Identifier:  identifier,
		Description: rn.Description,
		Access:      access,
		Version:     string(rn.Version),
		Columns:     rn.Columns,
		DependsOn:   rn.DependsOn.Nodes,
	}, nil
}

// version accepts a model version written as a JSON number or string.
type version string

func (v *version) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = version(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("version must be a number or string: %w", err)
		}
		*v = version(n.String())
	}
	return nil
}

// columnList decodes the columns object in declaration order.
type columnList []Column

func (c *columnList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("columns must be an object")
	}

	var out columnList
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := keyTok.(string)

		var rc struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			DataType    string `json:"data_type"`
		}
		if err := dec.Decode(&rc); err != nil {
			return fmt.Errorf("column %q: %w", name, err)
		}
		if rc.Name == "" {
			rc.Name = name
		}
		out = append(out, Column{Name: rc.Name, Description: rc.Description, DataType: rc.DataType})
	}
	*c = out
	return nil
}
