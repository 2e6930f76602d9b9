package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	"github.com/leapstack-labs/leapmesh/internal/publisher"
	"github.com/leapstack-labs/leapmesh/internal/registry"
)

// PublishOptions holds options for the publish command.
type PublishOptions struct {
	Project string
}

// publishOutput is the JSON shape of a completed publish.
type publishOutput struct {
	Project    string `json:"project"`
	Env        string `json:"env"`
	Timestamp  string `json:"timestamp"`
	LatestKey  string `json:"latest_key"`
	HistoryKey string `json:"history_key"`
	Location   string `json:"location"`
	Bytes      int    `json:"bytes"`
}

// NewPublishCommand creates the publish command.
func NewPublishCommand() *cobra.Command {
	opts := &PublishOptions{}

	cmd := &cobra.Command{
		Use:   "publish [manifest]",
		Short: "Publish a build manifest to the registry",
		Long: `Copy a build manifest, byte for byte, into the registry as both the latest
contract for the project and an immutable history entry.

The project defaults to the manifest's metadata.project_name.`,
		Example: `  # Publish target/manifest.json to the object-storage bucket
  MANIFEST_BUCKET=analytics-manifests leapmesh publish --env prod

  # Publish to a shared directory instead
  leapmesh publish target/manifest.json --local --registry-path /srv/mesh --env prod`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := publisher.DefaultManifestPath
			if len(args) == 1 {
				path = args[0]
			}
			return runPublish(cmd, path, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Project, "project", "", "Project name (default: metadata.project_name)")

	return cmd
}

func runPublish(cmd *cobra.Command, path string, opts *PublishOptions) error {
	ctx := cmd.Context()
	cc := NewCommandContext(cmd)

	reg, err := cc.Registry()
	if err != nil {
		return err
	}

	store, cleanup := cc.OpenLedger(ctx)
	defer cleanup()
	var recorder publisher.Recorder
	if store != nil {
		recorder = store
	}

	project := opts.Project
	if project == "" {
		project = cc.Cfg.Project
	}

	res, err := publisher.New(reg, recorder, cc.Logger).Publish(ctx, publisher.Request{
		ManifestPath: path,
		Project:      project,
		Env:          cc.Cfg.Env,
	})
	if err != nil {
		return err
	}

	out := publishOutput{
		Project:    res.Project,
		Env:        res.Env,
		Timestamp:  registry.FormatTimestamp(res.Timestamp),
		LatestKey:  res.LatestKey,
		HistoryKey: res.HistoryKey,
		Location:   res.Location,
		Bytes:      res.Size,
	}

	r := cc.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(out)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(2, fmt.Sprintf("Published %s (%s)", out.Project, out.Env)))
		r.Println("")
		r.Println(output.FormatKeyValue("Latest", out.LatestKey))
		r.Println(output.FormatKeyValue("History", out.HistoryKey))
		r.Println(output.FormatKeyValue("Location", out.Location))
		r.Println(output.FormatKeyValue("Bytes", fmt.Sprint(out.Bytes)))
	default:
		r.Success(fmt.Sprintf("Published %s to %s", out.Project, out.Env))
		r.Println("  " + r.Styles().NodeID.Render(out.LatestKey))
		r.Println("  " + r.Styles().NodeID.Render(out.HistoryKey))
		r.Muted(fmt.Sprintf("  %s, %d bytes", out.Location, out.Bytes))
	}
	return nil
}
