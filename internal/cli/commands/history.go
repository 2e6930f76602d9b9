package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	"github.com/leapstack-labs/leapmesh/internal/registry"
	"github.com/leapstack-labs/leapmesh/internal/state"
)

// HistoryOptions holds options for the history command.
type HistoryOptions struct {
	Limit  int
	Ledger bool
	At     string
}

type historyOutput struct {
	Project string         `json:"project"`
	Env     string         `json:"env"`
	Entries []historyEntry `json:"entries"`
}

type historyEntry struct {
	Timestamp string `json:"timestamp"`
	Key       string `json:"key"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	opts := &HistoryOptions{}

	cmd := &cobra.Command{
		Use:   "history [project]",
		Short: "List published manifests of a project",
		Long: `List the history entries of a project in the selected environment, newest
first. Without a project argument, every project in the registry is listed
with its environments.

--at prints the manifest stored under one history timestamp. --ledger lists
the publishes recorded by this machine in the local state ledger instead of
reading the registry.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := ""
			if len(args) == 1 {
				project = args[0]
			}
			switch {
			case opts.Ledger:
				return runLedgerHistory(cmd, project, opts)
			case opts.At != "":
				if project == "" {
					return fmt.Errorf("--at requires a project argument")
				}
				return runHistoryAt(cmd, project, opts.At)
			case project == "":
				return runProjects(cmd)
			}
			return runHistory(cmd, project, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "Maximum entries to show (0 = all)")
	cmd.Flags().BoolVar(&opts.Ledger, "ledger", false, "List publishes from the local state ledger")
	cmd.Flags().StringVar(&opts.At, "at", "", "Print the manifest published at this timestamp (YYYYMMDDTHHMMSSZ)")
	cmd.MarkFlagsMutuallyExclusive("ledger", "at")

	return cmd
}

func runHistory(cmd *cobra.Command, project string, opts *HistoryOptions) error {
	cc := NewCommandContext(cmd)
	reg, err := cc.Registry()
	if err != nil {
		return err
	}

	entries, err := reg.History(cmd.Context(), project, cc.Cfg.Env)
	if err != nil {
		return err
	}

	// Newest first.
	out := historyOutput{Project: project, Env: cc.Cfg.Env, Entries: []historyEntry{}}
	for i := len(entries) - 1; i >= 0; i-- {
		if opts.Limit > 0 && len(out.Entries) == opts.Limit {
			break
		}
		out.Entries = append(out.Entries, historyEntry{
			Timestamp: registry.FormatTimestamp(entries[i].Timestamp),
			Key:       entries[i].Key,
		})
	}

	r := cc.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	r.Header(2, fmt.Sprintf("%s (%s): %d published", project, cc.Cfg.Env, len(entries)))
	if len(out.Entries) == 0 {
		r.Muted("No history entries")
		return nil
	}

	rows := make([][]string, 0, len(out.Entries))
	for _, e := range out.Entries {
		ts, _ := registry.ParseTimestamp(e.Timestamp)
		rows = append(rows, []string{e.Timestamp, ts.Format(time.RFC1123), e.Key})
	}
	r.Table([]string{"timestamp", "published_at", "key"}, rows)
	return nil
}

func runHistoryAt(cmd *cobra.Command, project, at string) error {
	cc := NewCommandContext(cmd)
	ts, err := registry.ParseTimestamp(at)
	if err != nil {
		return fmt.Errorf("invalid --at timestamp %q: want the form %s", at, registry.TimestampFormat)
	}
	reg, err := cc.Registry()
	if err != nil {
		return err
	}

	data, err := reg.HistoryEntry(cmd.Context(), project, cc.Cfg.Env, ts)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runLedgerHistory(cmd *cobra.Command, project string, opts *HistoryOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	store, cleanup, err := cc.RequireLedger(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	// SQLite reads a negative LIMIT as no limit.
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	pubs, err := store.ListPublishes(ctx, project, cc.Cfg.Env, limit)
	if err != nil {
		return err
	}

	r := cc.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		if pubs == nil {
			pubs = []*state.Publish{}
		}
		return r.JSON(pubs)
	}

	title := "Recorded publishes (" + cc.Cfg.Env + ")"
	if project != "" {
		title = fmt.Sprintf("Recorded publishes of %s (%s)", project, cc.Cfg.Env)
	}
	r.Header(2, title)
	if len(pubs) == 0 {
		r.Muted("No publishes recorded")
		return nil
	}

	rows := make([][]string, 0, len(pubs))
	for _, p := range pubs {
		rows = append(rows, []string{
			p.Project,
			p.Timestamp,
			fmt.Sprint(p.Size),
			p.SourcePath,
			p.PublishedAt.Local().Format(time.DateTime),
		})
	}
	r.Table([]string{"project", "timestamp", "bytes", "source", "published"}, rows)
	return nil
}

func runProjects(cmd *cobra.Command) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)
	reg, err := cc.Registry()
	if err != nil {
		return err
	}

	projects, err := reg.Projects(ctx)
	if err != nil {
		return err
	}

	envs := make(map[string][]string, len(projects))
	for _, p := range projects {
		e, err := reg.Environments(ctx, p)
		if err != nil {
			return err
		}
		envs[p] = e
	}

	r := cc.Renderer
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(envs)
	}

	r.Header(2, "Registry "+reg.Location())
	if len(projects) == 0 {
		r.Muted("No projects published")
		return nil
	}
	rows := make([][]string, 0, len(projects))
	for _, p := range projects {
		rows = append(rows, []string{p, fmt.Sprint(envs[p])})
	}
	r.Table([]string{"project", "environments"}, rows)
	return nil
}
