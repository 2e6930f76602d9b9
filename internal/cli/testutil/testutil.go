// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	mtestutil "github.com/leapstack-labs/leapmesh/internal/testutil"
)

// Project is a temporary leapmesh project with a local registry.
type Project struct {
	Root         string
	RegistryPath string
	StatePath    string
	ManifestPath string
}

// SetupTestProject creates a temporary project whose leapmesh.yaml selects a
// local registry under the project, with the upstream fixture manifest at
// target/manifest.json.
func SetupTestProject(t *testing.T) *Project {
	t.Helper()

	root := t.TempDir()
	p := &Project{
		Root:         root,
		RegistryPath: filepath.Join(root, "shared"),
		StatePath:    filepath.Join(root, ".leapmesh", "state.db"),
		ManifestPath: filepath.Join(root, "target", "manifest.json"),
	}

	for _, dir := range []string{p.RegistryPath, filepath.Dir(p.ManifestPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("failed to create directory %s: %v", dir, err)
		}
	}

	cfg := `env: prod
registry:
  local: true
  path: shared
  retry:
    initial_backoff: 1ms
`
	if err := os.WriteFile(filepath.Join(root, "leapmesh.yaml"), []byte(cfg), 0644); err != nil {
		t.Fatalf("failed to create leapmesh.yaml: %v", err)
	}
	if err := os.WriteFile(p.ManifestPath, mtestutil.UpstreamManifest(t), 0644); err != nil {
		t.Fatalf("failed to create manifest: %v", err)
	}

	return p
}

// WriteManifest writes data to name under the project root and returns its path.
func (p *Project) WriteManifest(t *testing.T, name string, data []byte) string {
	t.Helper()
	return mtestutil.WriteFile(t, p.Root, name, data)
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
func NewTestRenderer(mode output.Mode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertValidMarkdown checks for unclosed code fences and empty headers.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	if n := strings.Count(md, "```"); n%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", n)
	}

	for i, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
