package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapmesh/internal/cli/output"
	"github.com/leapstack-labs/leapmesh/internal/manifest"
	"github.com/leapstack-labs/leapmesh/internal/validator"
	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// LineageOptions holds options for the lineage command.
type LineageOptions struct {
	Node string
}

// lineageOutput is the JSON shape of the lineage command.
type lineageOutput struct {
	Manifest   string           `json:"manifest"`
	Project    string           `json:"project"`
	Nodes      int              `json:"nodes"`
	Edges      int              `json:"edges"`
	Roots      []string         `json:"roots"`
	External   []string         `json:"external_nodes"`
	Cycle      []string         `json:"cycle,omitempty"`
	Cross      []validator.Edge `json:"cross_project_edges"`
	Unresolved []string         `json:"unresolved_parents"`
	Node       *lineageNode     `json:"node,omitempty"`
}

// lineageNode is the neighbourhood of one node selected with --node.
type lineageNode struct {
	ID         string   `json:"id"`
	External   bool     `json:"external"`
	Parents    []string `json:"parents"`
	Upstream   []string `json:"upstream"`
	Downstream []string `json:"downstream"`
}

// NewLineageCommand creates the lineage command.
func NewLineageCommand() *cobra.Command {
	opts := &LineageOptions{}

	cmd := &cobra.Command{
		Use:   "lineage <manifest>",
		Short: "Show cross-project edges of a manifest",
		Long: `Display every dependency edge from the manifest's own nodes onto nodes owned
by other projects, with the number of nodes downstream of each parent.

Unlike validate, this never fails on a manifest without cross-project edges.
With --node, the direct parents and the transitive upstream and downstream
nodes of one unique id are listed as well.`,
		Example: `  leapmesh lineage target/manifest.json
  leapmesh lineage target/manifest.json --node model.dbt_down.stg_orders
  leapmesh lineage target/manifest.json --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLineage(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Node, "node", "", "Show parents, upstream and downstream nodes of this unique id")

	return cmd
}

func runLineage(cmd *cobra.Command, path string, opts *LineageOptions) error {
	cc := NewCommandContext(cmd)

	m, err := manifest.Load(path)
	if err != nil {
		return err
	}
	res := validator.Check(m)
	g := m.Graph()

	out := lineageOutput{
		Manifest:   path,
		Project:    m.Project,
		Nodes:      g.NodeCount(),
		Edges:      g.EdgeCount(),
		Roots:      g.GetRoots(),
		External:   g.ExternalNodes(),
		Cross:      res.Edges,
		Unresolved: res.Unresolved,
	}
	if cyclic, cycle := g.HasCycle(); cyclic {
		out.Cycle = cycle
	}
	if opts.Node != "" {
		n, ok := g.GetNode(opts.Node)
		if !ok {
			return core.NotFound(path, fmt.Sprintf("node %s is not in the manifest graph", opts.Node), nil)
		}
		out.Node = &lineageNode{
			ID:         n.ID,
			External:   n.External,
			Parents:    g.GetParents(n.ID),
			Upstream:   g.GetUpstreamNodes(n.ID),
			Downstream: g.GetDownstreamNodes(n.ID),
		}
	}
	if out.Roots == nil {
		out.Roots = []string{}
	}
	if out.External == nil {
		out.External = []string{}
	}
	if out.Cross == nil {
		out.Cross = []validator.Edge{}
	}
	if out.Unresolved == nil {
		out.Unresolved = []string{}
	}

	r := cc.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(out)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(2, "Lineage: "+m.Project))
		r.Println("")
		r.Println(output.FormatKeyValue("Manifest", path))
		r.Println(output.FormatKeyValue("Graph", fmt.Sprintf("%d nodes, %d edges", out.Nodes, out.Edges)))
		r.Println(output.FormatKeyValue("Roots", fmt.Sprintf("%d (%d external)", len(out.Roots), len(out.External))))
		r.Println("")
	default:
		r.Header(1, "Lineage: "+m.Project)
		r.Muted(fmt.Sprintf("%s, %d nodes, %d edges, %d roots (%d external)",
			path, out.Nodes, out.Edges, len(out.Roots), len(out.External)))
		r.Println("")
	}

	if len(out.Cycle) > 0 {
		r.Warning("dependency cycle: " + strings.Join(out.Cycle, " -> "))
	}

	if len(out.Cross) == 0 {
		r.Muted("No cross-project edges")
	} else {
		rows := make([][]string, 0, len(out.Cross))
		for _, e := range out.Cross {
			rows = append(rows, []string{e.Child, e.Parent, e.ParentProject, fmt.Sprint(e.Impacted)})
		}
		r.Table([]string{"child", "parent", "parent_project", "impacted"}, rows)
	}

	if len(out.Unresolved) > 0 {
		r.Println("")
		r.Header(2, "Unresolved parents")
		for _, id := range out.Unresolved {
			r.Println("- " + id)
		}
	}

	if n := out.Node; n != nil {
		r.Println("")
		r.Header(2, "Node "+n.ID)
		r.Println(output.FormatKeyValue("External", fmt.Sprint(n.External)))
		r.Println(output.FormatKeyValue("Parents", listOrNone(n.Parents)))
		r.Println(output.FormatKeyValue("Upstream", listOrNone(n.Upstream)))
		r.Println(output.FormatKeyValue("Downstream", listOrNone(n.Downstream)))
	}
	return nil
}

func listOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
