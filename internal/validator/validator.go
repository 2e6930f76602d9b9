// Package validator checks that downstream manifests actually carry
// cross-project dependency edges.
//
// Each target moves through Unchecked -> Loaded -> {Pass | Fail}. A target
// that cannot be loaded goes straight to Fail with the load error attached.
// A run passes only when every target passes; a run with no targets fails.
package validator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapmesh/internal/manifest"
	"github.com/leapstack-labs/leapmesh/internal/registry"
	"github.com/leapstack-labs/leapmesh/internal/state"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// Status is the state of a single target.
type Status string

// Target states.
const (
	StatusUnchecked Status = "UNCHECKED"
	StatusLoaded    Status = "LOADED"
	StatusPass      Status = "PASS"
	StatusFail      Status = "FAIL"
)

// Failure reasons.
const (
	ReasonMissingFile     = "missing file"
	ReasonRegistryAbsent  = "registry entry absent"
	ReasonParseError      = "parse error"
	ReasonValidationError = "validation error"
	ReasonStorageError    = "storage error"
	ReasonEmptyParentMap  = "empty parent_map"
	ReasonSameProjectOnly = "no cross-project parent found"
)

// Target is a manifest file or a project resolved through the registry.
type Target struct {
	Path    string
	Project string
}

// FileTarget validates the manifest at path.
func FileTarget(path string) Target { return Target{Path: path} }

// ProjectTarget validates the latest registry manifest of project.
func ProjectTarget(project string) Target { return Target{Project: project} }

func (t Target) String() string {
	if t.Path != "" {
		return t.Path
	}
	return t.Project
}

// Edge is a dependency from a node of the checked project onto a node owned
// by another project.
type Edge struct {
	Child         string `json:"child"`
	Parent        string `json:"parent"`
	ParentProject string `json:"parent_project"`
	// Impacted counts the manifest's nodes downstream of Parent.
	Impacted int `json:"impacted"`
}

// Result is the outcome for one target.
type Result struct {
	Target  Target `json:"-"`
	Name    string `json:"target"`
	Project string `json:"project,omitempty"`
	Status  Status `json:"status"`
	Reason  string `json:"reason,omitempty"`
	// Err carries the load failure, if any.
	Err        error    `json:"-"`
	Detail     string   `json:"detail,omitempty"`
	Edges      []Edge   `json:"edges"`
	Unresolved []string `json:"unresolved,omitempty"`
}

// Passed reports whether the target passed.
func (r *Result) Passed() bool { return r.Status == StatusPass }

// Parents returns the distinct cross-project parent ids, sorted.
func (r *Result) Parents() []string {
	set := make(map[string]bool)
	for _, e := range r.Edges {
		set[e.Parent] = true
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Result) fail(reason string, err error) *Result {
	r.Status = StatusFail
	r.Reason = reason
	r.Err = err
	if err != nil {
		r.Detail = err.Error()
	}
	return r
}

// Report aggregates the results of a run.
type Report struct {
	RunID   string    `json:"run_id,omitempty"`
	Results []*Result `json:"results"`
	Passed  bool      `json:"passed"`
}

// Failed returns the number of failed targets.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Passed() {
			n++
		}
	}
	return n
}

// Err returns nil when the run passed and a one-line summary otherwise.
func (r *Report) Err() error {
	if r.Passed {
		return nil
	}
	if len(r.Results) == 0 {
		return core.EmptyResult("", "no manifests were selected for validation")
	}
	return fmt.Errorf("lineage validation failed for %d of %d manifest(s)", r.Failed(), len(r.Results))
}

// Recorder stores validation runs. *state.SQLiteStore satisfies it.
type Recorder interface {
	CreateValidationRun(ctx context.Context, env string, targets int) (*state.ValidationRun, error)
	RecordValidationResult(ctx context.Context, r *state.ValidationResult) error
	CompleteValidationRun(ctx context.Context, id string, failed int) error
}

// DefaultConcurrency bounds how many targets are loaded at once.
const DefaultConcurrency = 4

// Validator runs lineage checks.
type Validator struct {
	registry    *registry.Registry
	env         string
	recorder    Recorder
	logger      *slog.Logger
	concurrency int
}

// Option configures a Validator.
type Option func(*Validator)

// WithRegistry enables project targets, resolved in env.
func WithRegistry(reg *registry.Registry, env string) Option {
	return func(v *Validator) {
		v.registry = reg
		v.env = env
	}
}

// WithRecorder records every run.
func WithRecorder(rec Recorder) Option {
	return func(v *Validator) { v.recorder = rec }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithConcurrency sets how many targets are loaded in parallel.
func WithConcurrency(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.concurrency = n
		}
	}
}

// New creates a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks every target. Failing targets do not stop the run; the
// returned error is reserved for problems outside any single target.
func (v *Validator) Validate(ctx context.Context, targets []Target) (*Report, error) {
	report := &Report{Results: make([]*Result, len(targets))}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, t := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := v.validateOne(gctx, t)
			v.logger.Debug("validated manifest",
				slog.String("target", res.Name),
				slog.String("status", string(res.Status)),
				slog.Int("edges", len(res.Edges)))
			report.Results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Passed = len(report.Results) > 0 && report.Failed() == 0
	v.record(ctx, report)
	return report, nil
}

func (v *Validator) validateOne(ctx context.Context, t Target) *Result {
	res := &Result{Target: t, Name: t.String(), Project: t.Project, Status: StatusUnchecked}

	m, reason, err := v.load(ctx, t)
	if err != nil {
		return res.fail(reason, err)
	}
	res.Status = StatusLoaded
	return check(m, res)
}

func (v *Validator) load(ctx context.Context, t Target) (*manifest.Manifest, string, error) {
	if t.Path != "" {
		m, err := manifest.Load(t.Path)
		return m, loadReason(err, ReasonMissingFile), err
	}

	if v.registry == nil {
		return nil, ReasonRegistryAbsent, core.Validation("", "registry", "project targets need a configured registry")
	}
	data, err := v.registry.Latest(ctx, t.Project, v.env)
	if err != nil {
		return nil, loadReason(err, ReasonRegistryAbsent), err
	}
	m, err := manifest.Parse(data, registry.LatestKey(t.Project, v.env))
	return m, loadReason(err, ReasonRegistryAbsent), err
}

func loadReason(err error, notFound string) string {
	if err == nil {
		return ""
	}
	switch core.KindOf(err) {
	case core.KindNotFound:
		return notFound
	case core.KindParse:
		return ReasonParseError
	case core.KindValidation:
		return ReasonValidationError
	default:
		return ReasonStorageError
	}
}

// Check runs the lineage check on an already loaded manifest.
func Check(m *manifest.Manifest) *Result {
	return check(m, &Result{Target: FileTarget(m.Key), Name: m.Key, Status: StatusLoaded})
}

func check(m *manifest.Manifest, res *Result) *Result {
	res.Project = m.Project
	res.Unresolved = m.UnresolvedParents()

	if !m.HasEdges() {
		return res.fail(ReasonEmptyParentMap, nil)
	}

	g := m.Graph()
	for _, child := range m.OwnedIDs() {
		for _, parent := range m.Parents(child) {
			parentProject := manifest.ProjectOf(parent)
			if parentProject == "" || parentProject == m.Project {
				continue
			}
			res.Edges = append(res.Edges, Edge{
				Child:         child,
				Parent:        parent,
				ParentProject: parentProject,
				Impacted:      len(g.GetDownstreamNodes(parent)),
			})
		}
	}

	if len(res.Edges) == 0 {
		return res.fail(ReasonSameProjectOnly, nil)
	}
	res.Status = StatusPass
	return res
}

// record writes the run to the ledger. Ledger failures never change the
// outcome of a run.
func (v *Validator) record(ctx context.Context, report *Report) {
	if v.recorder == nil {
		return
	}

	run, err := v.recorder.CreateValidationRun(ctx, v.env, len(report.Results))
	if err != nil {
		v.logger.Warn("failed to record validation run", slog.String("error", err.Error()))
		return
	}
	report.RunID = run.ID

	for _, res := range report.Results {
		rec := &state.ValidationResult{
			RunID:   run.ID,
			Target:  res.Name,
			Project: res.Project,
			Status:  string(res.Status),
			Reason:  res.Reason,
		}
		for _, e := range res.Edges {
			rec.Edges = append(rec.Edges, state.EdgeRecord{Child: e.Child, Parent: e.Parent})
		}
		if err := v.recorder.RecordValidationResult(ctx, rec); err != nil {
			v.logger.Warn("failed to record validation result",
				slog.String("target", res.Name),
				slog.String("error", err.Error()))
		}
	}

	if err := v.recorder.CompleteValidationRun(ctx, run.ID, report.Failed()); err != nil {
		v.logger.Warn("failed to complete validation run", slog.String("error", err.Error()))
	}
}
