// Package synchronizer turns the latest upstream manifest into a source stub
// a downstream project can build against without upstream's code.
package synchronizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/leapstack-labs/leapmesh/internal/manifest"
	"github.com/leapstack-labs/leapmesh/internal/registry"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// DefaultOutputPath returns where the stub for upstream is written when no
// path is given.
func DefaultOutputPath(upstream string) string {
	return filepath.Join("models", "sources", upstream+"_sources.yml")
}

// Request selects the upstream manifest and the stub destination.
type Request struct {
	Upstream   string
	Env        string
	OutputPath string
}

func (r Request) outputPath() string {
	if r.OutputPath != "" {
		return r.OutputPath
	}
	return DefaultOutputPath(r.Upstream)
}

// Result describes a completed sync.
type Result struct {
	Upstream   string
	Env        string
	Key        string
	OutputPath string
	Tables     int
	Bytes      int
	// Changed is false when the stub on disk already had this content.
	Changed bool
}

// CheckResult is the outcome of a drift check.
type CheckResult struct {
	OutputPath string
	Stale      bool
	// Diff is a unified diff from the file on disk to the expected stub.
	Diff string
}

// Synchronizer renders source stubs from registry manifests.
type Synchronizer struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// New creates a Synchronizer.
func New(reg *registry.Registry, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Synchronizer{registry: reg, logger: logger}
}

// Sync fetches the latest upstream manifest and overwrites the stub file.
func (s *Synchronizer) Sync(ctx context.Context, req Request) (*Result, error) {
	key, stub, tables, err := s.build(ctx, req)
	if err != nil {
		return nil, err
	}

	out := req.outputPath()
	existing, err := os.ReadFile(out)
	changed := err != nil || !bytes.Equal(existing, stub)

	if changed {
		if err := writeFileAtomic(out, stub); err != nil {
			return nil, err
		}
	}

	s.logger.Info("source stub synced",
		slog.String("upstream", req.Upstream),
		slog.String("env", req.Env),
		slog.String("output", out),
		slog.Int("tables", tables),
		slog.Bool("changed", changed))

	return &Result{
		Upstream:   req.Upstream,
		Env:        req.Env,
		Key:        key,
		OutputPath: out,
		Tables:     tables,
		Bytes:      len(stub),
		Changed:    changed,
	}, nil
}

// Check renders the stub without writing it and diffs it against the file
// on disk.
func (s *Synchronizer) Check(ctx context.Context, req Request) (*CheckResult, error) {
	_, stub, _, err := s.build(ctx, req)
	if err != nil {
		return nil, err
	}

	out := req.outputPath()
	existing, err := os.ReadFile(out)
	fromFile := out
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, core.Storage(out, false, err)
		}
		existing = nil
		fromFile = "/dev/null"
	}

	res := &CheckResult{OutputPath: out}
	if existing != nil && bytes.Equal(existing, stub) {
		return res, nil
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLinesKeepNL(string(existing)),
		B:        splitLinesKeepNL(string(stub)),
		FromFile: fromFile,
		ToFile:   out + " (expected)",
		Context:  3,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to diff source stub: %w", err)
	}
	res.Stale = true
	res.Diff = diff
	return res, nil
}

// build fetches, validates and renders. It returns the registry key read,
// the stub bytes and the number of tables.
func (s *Synchronizer) build(ctx context.Context, req Request) (string, []byte, int, error) {
	if err := registry.ValidateName("upstream", req.Upstream); err != nil {
		return "", nil, 0, err
	}
	if err := registry.ValidateName("env", req.Env); err != nil {
		return "", nil, 0, err
	}

	key := registry.LatestKey(req.Upstream, req.Env)
	data, err := s.registry.Latest(ctx, req.Upstream, req.Env)
	if err != nil {
		return "", nil, 0, err
	}

	m, err := manifest.Parse(data, key)
	if err != nil {
		return "", nil, 0, asValidation(err)
	}
	if err := m.Validate(); err != nil {
		return "", nil, 0, err
	}
	if m.Project != req.Upstream {
		s.logger.Warn("manifest project differs from the registry partition",
			slog.String("key", key),
			slog.String("manifest_project", m.Project))
	}

	stub, err := Render(m)
	if err != nil {
		return "", nil, 0, err
	}
	return key, stub, len(m.PublicNodes()), nil
}

// asValidation reports a malformed upstream manifest as a validation
// failure: the registry content is wrong, not the caller's input.
func asValidation(err error) error {
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Kind != core.KindParse {
		return err
	}
	return &core.Error{
		Kind:  core.KindValidation,
		Key:   ce.Key,
		Field: ce.Field,
		Msg:   ce.Msg,
		Err:   ce.Err,
	}
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return core.Storage(path, false, err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return core.Storage(path, false, err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return core.Storage(path, false, err)
	}
	if err := f.Close(); err != nil {
		return core.Storage(path, false, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return core.Storage(path, false, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return core.Storage(path, false, err)
	}
	return nil
}

func splitLinesKeepNL(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.SplitAfter(s, "\n")
}
