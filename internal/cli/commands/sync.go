package commands

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	"github.com/leapstack-labs/leapmesh/internal/synchronizer"
)

// SyncOptions holds options for the sync command.
type SyncOptions struct {
	Upstreams  []string
	OutputFile string
	Check      bool
	Watch      bool
}

// syncOutput is the JSON shape of one synced or checked upstream.
type syncOutput struct {
	Upstream string `json:"upstream"`
	Output   string `json:"output"`
	Tables   int    `json:"tables,omitempty"`
	Changed  bool   `json:"changed,omitempty"`
	Stale    bool   `json:"stale,omitempty"`
	Diff     string `json:"diff,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand() *cobra.Command {
	opts := &SyncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Generate source stubs from upstream public models",
		Long: `Fetch the latest manifest of each upstream project from the registry and
write a source stub listing every public model as a table reference.

The stub is rendered deterministically and fully overwritten on each run.
With --check nothing is written; the command fails if the stub on disk
differs from what sync would write.`,
		Example: `  # Sync one upstream into models/sources/dbt_up_sources.yml
  leapmesh sync --upstream dbt_up --env prod

  # Fail CI when committed stubs have drifted
  leapmesh sync --check

  # Re-sync whenever a local registry entry changes
  leapmesh sync --upstream dbt_up --local --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Upstreams, "upstream", nil, "Upstream project (repeatable; default: sync.upstreams)")
	cmd.Flags().StringVar(&opts.OutputFile, "output-file", "", "Stub path (default: <sync.output_dir>/<upstream>_sources.yml)")
	cmd.Flags().BoolVar(&opts.Check, "check", false, "Report drift without writing")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "Re-sync on every publish (local registry only)")
	cmd.MarkFlagsMutuallyExclusive("check", "watch")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	cc := NewCommandContext(cmd)

	upstreams := opts.Upstreams
	if len(upstreams) == 0 {
		upstreams = cc.Cfg.Sync.Upstreams
	}
	if len(upstreams) == 0 {
		return fmt.Errorf("no upstream project given; pass --upstream or set sync.upstreams")
	}
	if opts.OutputFile != "" && len(upstreams) > 1 {
		return fmt.Errorf("--output-file needs exactly one upstream, got %d", len(upstreams))
	}
	if opts.Watch && len(upstreams) > 1 {
		return fmt.Errorf("--watch needs exactly one upstream, got %d", len(upstreams))
	}

	reg, err := cc.Registry()
	if err != nil {
		return err
	}
	s := synchronizer.New(reg, cc.Logger)

	reqs := make([]synchronizer.Request, len(upstreams))
	for i, up := range upstreams {
		out := opts.OutputFile
		if out == "" {
			out = filepath.Join(cc.Cfg.Sync.OutputDir, up+"_sources.yml")
		}
		reqs[i] = synchronizer.Request{Upstream: up, Env: cc.Cfg.Env, OutputPath: out}
	}

	switch {
	case opts.Watch:
		return watchSync(cmd, cc, s, reqs[0])
	case opts.Check:
		return checkSync(cmd, cc, s, reqs)
	}

	r := cc.Renderer
	results := make([]syncOutput, 0, len(reqs))
	for _, req := range reqs {
		res, err := s.Sync(cmd.Context(), req)
		if err != nil {
			return err
		}
		results = append(results, syncOutput{
			Upstream: res.Upstream,
			Output:   res.OutputPath,
			Tables:   res.Tables,
			Changed:  res.Changed,
		})
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(results)
	}
	if r.EffectiveMode() == output.ModeMarkdown {
		r.Println(output.FormatHeader(2, "Source stubs"))
		r.Println("")
	}
	for _, res := range results {
		detail := fmt.Sprintf("%d tables -> %s", res.Tables, res.Output)
		if !res.Changed {
			detail += " (unchanged)"
		}
		r.StatusLine(res.Upstream, "success", detail)
	}
	return nil
}

func checkSync(cmd *cobra.Command, cc *CommandContext, s *synchronizer.Synchronizer, reqs []synchronizer.Request) error {
	r := cc.Renderer
	results := make([]syncOutput, 0, len(reqs))
	stale := 0
	for _, req := range reqs {
		res, err := s.Check(cmd.Context(), req)
		if err != nil {
			return err
		}
		if res.Stale {
			stale++
		}
		results = append(results, syncOutput{
			Upstream: req.Upstream,
			Output:   res.OutputPath,
			Stale:    res.Stale,
			Diff:     res.Diff,
		})
	}

	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(results); err != nil {
			return err
		}
	} else {
		for _, res := range results {
			if !res.Stale {
				r.StatusLine(res.Upstream, "success", res.Output+" is up to date")
				continue
			}
			r.StatusLine(res.Upstream, "error", res.Output+" is out of date")
			r.Diff(res.Diff)
		}
	}

	if stale > 0 {
		return fmt.Errorf("%d source stub(s) out of date; run leapmesh sync", stale)
	}
	return nil
}

func watchSync(cmd *cobra.Command, cc *CommandContext, s *synchronizer.Synchronizer, req synchronizer.Request) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := cc.Renderer
	r.Muted(fmt.Sprintf("Watching %s/%s, press Ctrl+C to stop", req.Upstream, req.Env))

	return s.Watch(ctx, req, func(res *synchronizer.Result, err error) {
		if err != nil {
			r.Error(err.Error())
			return
		}
		detail := fmt.Sprintf("%d tables -> %s", res.Tables, res.OutputPath)
		if !res.Changed {
			detail += " (unchanged)"
		}
		r.StatusLine(res.Upstream, "success", detail)
	})
}
