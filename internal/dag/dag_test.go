package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	g.AddNode("source.down.up.public_orders", nil)
	g.AddNode("model.down.stg_orders", nil)
	g.AddNode("model.down.fct_orders", nil)

	require.NoError(t, g.AddEdge("model.up.public_orders", "source.down.up.public_orders"))
	require.NoError(t, g.AddEdge("source.down.up.public_orders", "model.down.stg_orders"))
	require.NoError(t, g.AddEdge("model.down.stg_orders", "model.down.fct_orders"))
	return g
}

func TestGraph_AddEdgeCreatesExternalParent(t *testing.T) {
	g := buildGraph(t)

	assert.Equal(t, 4, g.NodeCount())
	assert.Equal(t, 3, g.EdgeCount())
	assert.Equal(t, []string{"model.up.public_orders"}, g.ExternalNodes())

	n, ok := g.GetNode("model.down.stg_orders")
	require.True(t, ok)
	assert.False(t, n.External)
}

func TestGraph_AddNodeClearsExternal(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddEdge("model.up.a", "model.down.b"))
	assert.Equal(t, []string{"model.up.a"}, g.ExternalNodes())

	g.AddNode("model.up.a", "payload")
	assert.Empty(t, g.ExternalNodes())
	n, _ := g.GetNode("model.up.a")
	assert.Equal(t, "payload", n.Data)
}

func TestGraph_SelfLoop(t *testing.T) {
	g := NewGraph()
	assert.Error(t, g.AddEdge("a", "a"))
}

func TestGraph_DuplicateEdges(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("a", "b"))
	assert.Equal(t, 1, g.EdgeCount())
}

func TestGraph_Traversal(t *testing.T) {
	g := buildGraph(t)

	assert.Equal(t,
		[]string{"model.down.fct_orders", "model.down.stg_orders", "source.down.up.public_orders"},
		g.GetDownstreamNodes("model.up.public_orders"))
	assert.Equal(t,
		[]string{"model.down.stg_orders", "model.up.public_orders", "source.down.up.public_orders"},
		g.GetUpstreamNodes("model.down.fct_orders"))
	assert.Equal(t, []string{"model.up.public_orders"}, g.GetRoots())
	assert.Equal(t, []string{"source.down.up.public_orders"}, g.GetParents("model.down.stg_orders"))
	assert.Equal(t, []string{"model.down.fct_orders"}, g.GetChildren("model.down.stg_orders"))
}

func TestGraph_HasCycle(t *testing.T) {
	g := buildGraph(t)
	hasCycle, _ := g.HasCycle()
	assert.False(t, hasCycle)

	require.NoError(t, g.AddEdge("model.down.fct_orders", "model.down.stg_orders"))
	hasCycle, path := g.HasCycle()
	assert.True(t, hasCycle)
	assert.Contains(t, path, "model.down.stg_orders")
	assert.Contains(t, path, "model.down.fct_orders")
}
