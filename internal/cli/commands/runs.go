package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	"github.com/leapstack-labs/leapmesh/internal/state"
)

// RunsOptions holds options for the runs command.
type RunsOptions struct {
	Limit int
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	opts := &RunsOptions{}

	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "Show recent validation runs from the local ledger",
		Long: `List recent lineage validation runs recorded in the local state ledger, or
the per-manifest results of one run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runRunDetail(cmd, args[0])
			}
			return runRuns(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "Maximum runs to show")

	return cmd
}

func runRuns(cmd *cobra.Command, opts *RunsOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	store, cleanup, err := cc.RequireLedger(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := store.ListValidationRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}

	r := cc.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		if runs == nil {
			runs = []*state.ValidationRun{}
		}
		return r.JSON(runs)
	}

	r.Header(2, "Validation runs")
	if len(runs) == 0 {
		r.Muted("No validation runs recorded")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.ID,
			run.Env,
			string(run.Status),
			fmt.Sprint(run.Targets),
			fmt.Sprint(run.Failed),
			run.StartedAt.Local().Format(time.DateTime),
		})
	}
	r.Table([]string{"id", "env", "status", "targets", "failed", "started"}, rows)
	return nil
}

func runRunDetail(cmd *cobra.Command, id string) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	store, cleanup, err := cc.RequireLedger(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	run, err := store.GetValidationRun(ctx, id)
	if err != nil {
		return err
	}
	results, err := store.GetValidationResults(ctx, id)
	if err != nil {
		return err
	}

	r := cc.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(struct {
			Run     *state.ValidationRun      `json:"run"`
			Results []*state.ValidationResult `json:"results"`
		}{run, results})
	}

	r.Header(2, fmt.Sprintf("Run %s (%s, %s)", run.ID, run.Env, run.Status))
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		parents := make([]string, 0, len(res.Edges))
		for _, e := range res.Edges {
			parents = append(parents, e.Parent)
		}
		rows = append(rows, []string{res.Target, res.Status, res.Reason, strings.Join(parents, ", ")})
	}
	r.Table([]string{"target", "status", "reason", "cross_project_parents"}, rows)
	return nil
}
