package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	id    string
	label string
}

func (n *testNode) Key() string { return n.id }

type testEdge struct {
	id       string
	src, dst string
	rel      string
}

func (e *testEdge) Key() string      { return e.id }
func (e *testEdge) SourceID() string { return e.src }
func (e *testEdge) TargetID() string { return e.dst }

func node(id string) *testNode { return &testNode{id: id, label: id} }

func edge(src, dst, rel string) *testEdge {
	return &testEdge{id: src + "-" + dst + "-" + rel, src: src, dst: dst, rel: rel}
}

func newTestGraph() *Graph[*testNode, *testEdge] {
	return New[*testNode, *testEdge]()
}

func keys[T interface{ Key() string }](items []T) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Key()
	}
	return out
}

func TestGraphBasics(t *testing.T) {
	g := newTestGraph()

	for _, id := range []string{"W1", "A1", "I1"} {
		require.NoError(t, g.AddNode(node(id)))
	}
	if g.NodeCount() != 3 {
		t.Errorf("NodeCount = %d, want 3", g.NodeCount())
	}

	require.NoError(t, g.AddEdge(edge("W1", "A1", "AUTHORSHIP")))
	require.NoError(t, g.AddEdge(edge("A1", "I1", "AFFILIATION")))

	if g.EdgeCount() != 2 {
		t.Errorf("EdgeCount = %d, want 2", g.EdgeCount())
	}

	neighbors := g.Neighbors("A1")
	if len(neighbors) != 2 {
		t.Errorf("A1 neighbors = %d, want 2", len(neighbors))
	}
}

func TestDuplicates(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(node("W1")))
	assert.ErrorIs(t, g.AddNode(node("W1")), ErrDuplicateNode)

	require.NoError(t, g.AddEdge(edge("W1", "W2", "REFERENCE")))
	assert.ErrorIs(t, g.AddEdge(edge("W1", "W2", "REFERENCE")), ErrDuplicateEdge)

	assert.ErrorIs(t, g.AddNode(node("")), ErrEmptyKey)
}

func TestMultigraphParallelEdges(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(node("W1")))
	require.NoError(t, g.AddNode(node("A1")))
	require.NoError(t, g.AddEdge(edge("W1", "A1", "AUTHORSHIP")))
	require.NoError(t, g.AddEdge(edge("W1", "A1", "RELATED_TO")))
	require.NoError(t, g.AddEdge(edge("A1", "W1", "RELATED_TO")))

	assert.Equal(t, 3, g.EdgeCount())
	assert.Equal(t, 3, g.Degree("W1"))
	assert.Equal(t, []string{"A1"}, g.Neighbors("W1"))
	assert.Len(t, g.OutEdges("W1"), 2)
	assert.Len(t, g.InEdges("W1"), 1)
}

func TestIncidentEdgesInsertionOrder(t *testing.T) {
	g := newTestGraph()
	for _, id := range []string{"A1", "W1", "W2", "W3"} {
		require.NoError(t, g.AddNode(node(id)))
	}
	require.NoError(t, g.AddEdge(edge("W3", "A1", "AUTHORSHIP")))
	require.NoError(t, g.AddEdge(edge("A1", "W1", "RELATED_TO")))
	require.NoError(t, g.AddEdge(edge("W2", "A1", "AUTHORSHIP")))

	got := keys(g.IncidentEdges("A1"))
	want := []string{"W3-A1-AUTHORSHIP", "A1-W1-RELATED_TO", "W2-A1-AUTHORSHIP"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("IncidentEdges mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"W3", "W1", "W2"}, g.Neighbors("A1"))
}

func TestSelfLoop(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(node("W1")))
	require.NoError(t, g.AddEdge(edge("W1", "W1", "REFERENCE")))

	assert.Equal(t, 1, g.Degree("W1"))
	assert.Equal(t, []string{"W1"}, g.Neighbors("W1"))

	_, ok := g.RemoveEdge("W1-W1-REFERENCE")
	require.True(t, ok)
	assert.Equal(t, 0, g.Degree("W1"))
}

func TestRemoveNodeCascades(t *testing.T) {
	g := newTestGraph()
	for _, id := range []string{"W1", "A1", "A2"} {
		require.NoError(t, g.AddNode(node(id)))
	}
	require.NoError(t, g.AddEdge(edge("W1", "A1", "AUTHORSHIP")))
	require.NoError(t, g.AddEdge(edge("W1", "A2", "AUTHORSHIP")))
	require.NoError(t, g.AddEdge(edge("A1", "A2", "RELATED_TO")))

	ok, removed := g.RemoveNode("W1")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"W1-A1-AUTHORSHIP", "W1-A2-AUTHORSHIP"}, keys(removed))
	assert.Equal(t, 1, g.EdgeCount())
	assert.Equal(t, []string{"A2"}, g.Neighbors("A1"))
	assert.True(t, g.Validate().OK())

	ok, _ = g.RemoveNode("W1")
	assert.False(t, ok)
}

func TestNodesKeepOrderAcrossRemovals(t *testing.T) {
	g := newTestGraph()
	var want []string
	for i := 0; i < 100; i++ {
		id := "W" + string(rune('0'+i%10)) + string(rune('0'+i/10))
		require.NoError(t, g.AddNode(node(id)))
		want = append(want, id)
	}
	// Enough removals to force compaction.
	for i := 0; i < 80; i++ {
		ok, _ := g.RemoveNode(want[i])
		require.True(t, ok)
	}
	want = want[80:]
	require.NoError(t, g.AddNode(node(want[0]+"x")))
	want = append(want, want[0]+"x")

	if diff := cmp.Diff(want, keys(g.Nodes())); diff != "" {
		t.Errorf("Nodes order mismatch (-want +got):\n%s", diff)
	}
}

func TestSetNodeKeepsPosition(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(node("W1")))
	require.NoError(t, g.AddNode(node("W2")))
	require.NoError(t, g.SetNode(&testNode{id: "W1", label: "Renamed"}))

	n, ok := g.GetNode("W1")
	require.True(t, ok)
	assert.Equal(t, "Renamed", n.label)
	assert.Equal(t, []string{"W1", "W2"}, keys(g.Nodes()))
}

func TestSetEdgeRelinks(t *testing.T) {
	g := newTestGraph()
	for _, id := range []string{"W1", "A1", "A2"} {
		require.NoError(t, g.AddNode(node(id)))
	}
	require.NoError(t, g.AddEdge(&testEdge{id: "e", src: "W1", dst: "A1"}))
	require.NoError(t, g.SetEdge(&testEdge{id: "e", src: "W1", dst: "A2"}))

	assert.Equal(t, 0, g.Degree("A1"))
	assert.Equal(t, []string{"A2"}, g.Neighbors("W1"))
}

func TestValidate(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(node("W1")))
	require.NoError(t, g.AddEdge(edge("W1", "A9", "AUTHORSHIP")))
	require.NoError(t, g.AddEdge(edge("S9", "W1", "PUBLICATION")))

	res := g.Validate()
	require.False(t, res.OK())
	want := []Issue{
		{Kind: DanglingTarget, Key: "W1-A9-AUTHORSHIP", Ref: "A9"},
		{Kind: DanglingSource, Key: "S9-W1-PUBLICATION", Ref: "S9"},
	}
	if diff := cmp.Diff(want, res.Issues); diff != "" {
		t.Errorf("Issues mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"A9", "S9"}, res.Dangling())

	// Adding the missing endpoints later picks up the existing edges.
	require.NoError(t, g.AddNode(node("A9")))
	require.NoError(t, g.AddNode(node("S9")))
	assert.True(t, g.Validate().OK())
	assert.Equal(t, []string{"W1"}, g.Neighbors("A9"))
}

func TestValidateKeyMismatch(t *testing.T) {
	g := newTestGraph()
	n := node("W1")
	require.NoError(t, g.AddNode(n))
	n.id = "W2"

	res := g.Validate()
	require.Len(t, res.Issues, 1)
	assert.Equal(t, Issue{Kind: KeyMismatch, Key: "W1", Ref: "W2"}, res.Issues[0])
}

func TestOrphanNodes(t *testing.T) {
	g := newTestGraph()
	for _, id := range []string{"W1", "W2", "A1"} {
		require.NoError(t, g.AddNode(node(id)))
	}
	require.NoError(t, g.AddEdge(edge("W1", "A1", "AUTHORSHIP")))

	orphans := g.OrphanNodes()
	if len(orphans) != 1 {
		t.Fatalf("Orphan count = %d, want 1", len(orphans))
	}
	if orphans[0].id != "W2" {
		t.Errorf("Orphan ID = %s, want 'W2'", orphans[0].id)
	}
}

func TestDegreeCentrality(t *testing.T) {
	g := newTestGraph()
	for _, id := range []string{"W0", "A1", "A2", "A3"} {
		require.NoError(t, g.AddNode(node(id)))
	}
	for _, a := range []string{"A1", "A2", "A3"} {
		require.NoError(t, g.AddEdge(edge("W0", a, "AUTHORSHIP")))
	}

	centrality := g.DegreeCentrality()
	if centrality["W0"] <= centrality["A1"] {
		t.Error("hub should have higher centrality than leaf nodes")
	}
	assert.InDelta(t, 0.5, centrality["W0"], 1e-9)
}

func TestClear(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.AddNode(node("W1")))
	require.NoError(t, g.AddEdge(edge("W1", "W2", "REFERENCE")))
	g.Clear()
	assert.Zero(t, g.NodeCount())
	assert.Zero(t, g.EdgeCount())
	assert.Empty(t, g.IncidentEdges("W1"))
}
