package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// W1 -> A1 -> I1, W2 -> A1, W2 -> W3, W3 -> I1
func citationGraph(t *testing.T) *Graph[*testNode, *testEdge] {
	t.Helper()
	g := newTestGraph()
	for _, id := range []string{"W1", "W2", "W3", "A1", "I1", "T1"} {
		require.NoError(t, g.AddNode(node(id)))
	}
	for _, e := range []*testEdge{
		edge("W1", "A1", "AUTHORSHIP"),
		edge("A1", "I1", "AFFILIATION"),
		edge("W2", "A1", "AUTHORSHIP"),
		edge("W2", "W3", "REFERENCE"),
		edge("W3", "I1", "RELATED_TO"),
	} {
		require.NoError(t, g.AddEdge(e))
	}
	return g
}

func TestShortestPath(t *testing.T) {
	g := citationGraph(t)

	cases := []struct {
		name     string
		from, to string
		step     StepFunc[*testEdge]
		want     []string
		found    bool
	}{
		{"self", "W1", "W1", nil, []string{"W1"}, true},
		{"direct", "W1", "A1", nil, []string{"W1", "A1"}, true},
		{"undirected", "W1", "W2", nil, []string{"W1", "A1", "W2"}, true},
		{"two hops", "W1", "I1", nil, []string{"W1", "A1", "I1"}, true},
		{"disconnected", "W1", "T1", nil, nil, false},
		{"unknown", "W1", "X1", nil, nil, false},
		{
			"forward only",
			"I1", "W1",
			func(_ *testEdge, forward bool) bool { return forward },
			nil, false,
		},
		{
			"skip authorship",
			"W1", "I1",
			func(e *testEdge, _ bool) bool { return e.rel != "AUTHORSHIP" },
			nil, false,
		},
		{
			"by type",
			"W2", "I1",
			func(e *testEdge, _ bool) bool { return e.rel != "AUTHORSHIP" },
			[]string{"W2", "W3", "I1"}, true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, found := g.ShortestPath(tc.from, tc.to, tc.step)
			assert.Equal(t, tc.found, found)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("path mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestShortestPathIgnoresDanglingEndpoints(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(node("W1")))
	require.NoError(t, g.AddNode(node("W2")))
	require.NoError(t, g.AddEdge(edge("W1", "A9", "AUTHORSHIP")))
	require.NoError(t, g.AddEdge(edge("A9", "W2", "AUTHORSHIP")))

	_, found := g.ShortestPath("W1", "W2", nil)
	assert.False(t, found)
}

func TestInducedSubgraph(t *testing.T) {
	g := citationGraph(t)

	sub := g.InducedSubgraph([]string{"I1", "A1", "W1", "missing"})
	assert.Equal(t, []string{"W1", "A1", "I1"}, keys(sub.Nodes()))
	assert.Equal(t, []string{"W1-A1-AUTHORSHIP", "A1-I1-AFFILIATION"}, keys(sub.Edges()))
	assert.True(t, sub.Validate().OK())

	// The subgraph is independent of its parent.
	sub.RemoveNode("A1")
	assert.True(t, g.HasNode("A1"))
	assert.Equal(t, 5, g.EdgeCount())
}

func TestInducedSubgraphEmpty(t *testing.T) {
	g := citationGraph(t)
	sub := g.InducedSubgraph(nil)
	assert.Zero(t, sub.NodeCount())
	assert.Zero(t, sub.EdgeCount())
}
