package commands

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	"github.com/leapstack-labs/leapmesh/internal/registry"
	"github.com/leapstack-labs/leapmesh/internal/validator"
)

// ValidateOptions holds options for the validate command.
type ValidateOptions struct {
	Project   string
	All       bool
	Manifests []string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	opts := &ValidateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that downstream manifests carry cross-project lineage",
		Long: `Check that every selected downstream manifest has at least one dependency
edge onto a node owned by another project.

Each manifest prints PASS with its cross-project parents, or FAIL with a
reason. The command exits non-zero unless every manifest passes.`,
		Example: `  # Validate a freshly built manifest
  leapmesh validate --manifest target/manifest.json

  # Validate the published manifest of one downstream project
  leapmesh validate --project dbt_down --env prod

  # Validate every configured downstream project
  leapmesh validate --all --env prod`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Project, "project", "", "Validate the latest published manifest of this project")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Validate all downstream projects (validate.downstream_projects, else every registry project except sync.upstreams)")
	cmd.Flags().StringArrayVar(&opts.Manifests, "manifest", nil, "Manifest file to validate (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("project", "all")

	return cmd
}

func runValidate(cmd *cobra.Command, opts *ValidateOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	if opts.Project == "" && !opts.All && len(opts.Manifests) == 0 {
		return fmt.Errorf("nothing to validate; pass --project, --all or --manifest")
	}

	vopts := []validator.Option{
		validator.WithLogger(cc.Logger),
		validator.WithConcurrency(cc.Cfg.Validation.Concurrency),
	}

	var targets []validator.Target
	for _, m := range opts.Manifests {
		targets = append(targets, validator.FileTarget(m))
	}

	if opts.Project != "" || opts.All {
		reg, err := cc.Registry()
		if err != nil {
			return err
		}
		vopts = append(vopts, validator.WithRegistry(reg, cc.Cfg.Env))

		projects := []string{opts.Project}
		if opts.All {
			projects, err = downstreamProjects(ctx, cc, reg)
			if err != nil {
				return err
			}
		}
		for _, p := range projects {
			targets = append(targets, validator.ProjectTarget(p))
		}
	}

	store, cleanup := cc.OpenLedger(ctx)
	defer cleanup()
	if store != nil {
		vopts = append(vopts, validator.WithRecorder(store))
	}

	report, err := validator.New(vopts...).Validate(ctx, targets)
	if err != nil {
		return err
	}

	renderReport(cc.Renderer, report)
	return report.Err()
}

// downstreamProjects returns the configured downstream projects, or every
// project in the registry that is not a configured upstream.
func downstreamProjects(ctx context.Context, cc *CommandContext, reg *registry.Registry) ([]string, error) {
	if len(cc.Cfg.Validation.DownstreamProjects) > 0 {
		return cc.Cfg.Validation.DownstreamProjects, nil
	}

	all, err := reg.Projects(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range all {
		if slices.Contains(cc.Cfg.Sync.Upstreams, p) {
			continue
		}
		out = append(out, p)
	}
	cc.Logger.Debug("discovered downstream projects", "projects", out)
	return out, nil
}

func renderReport(r *output.Renderer, report *validator.Report) {
	if r.EffectiveMode() == output.ModeJSON {
		_ = r.JSON(report)
		return
	}

	styles := r.Styles()
	markdown := r.EffectiveMode() == output.ModeMarkdown
	if markdown {
		r.Println(output.FormatHeader(2, "Lineage validation"))
		r.Println("")
	}

	for _, res := range report.Results {
		if res.Passed() {
			r.Println(styles.Success.Render("PASS") + " " + res.Name)
			for _, e := range res.Edges {
				r.Println("  " + e.Child + " -> " + styles.NodeID.Render(e.Parent))
			}
			continue
		}
		r.Println(styles.Error.Render("FAIL") + " " + res.Name + ": " + res.Reason)
		if res.Detail != "" {
			r.Muted("  " + res.Detail)
		}
	}

	summary := fmt.Sprintf("%d passed, %d failed", len(report.Results)-report.Failed(), report.Failed())
	if report.RunID != "" {
		summary += " (run " + shortID(report.RunID) + ")"
	}
	r.Println("")
	r.Muted(summary)
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
