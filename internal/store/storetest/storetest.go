// Package storetest is the behavioral suite every store.Storer backend
// must pass. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/kitgraph/internal/store"
	"github.com/kittclouds/kitgraph/pkg/model"
)

// Factory returns a fresh, empty store. Run closes it.
type Factory func(t *testing.T) store.Storer

// Run executes the whole suite, one fresh store per case.
func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Storer)
	}{
		{"SchemaVersion", testSchemaVersion},
		{"NodeRoundTrip", testNodeRoundTrip},
		{"NodeMissing", testNodeMissing},
		{"NodeUpsert", testNodeUpsert},
		{"NodeDelete", testNodeDelete},
		{"NodeOrder", testNodeOrder},
		{"NodeIndexes", testNodeIndexes},
		{"NodeIndexesFollowUpsert", testNodeIndexesFollowUpsert},
		{"EdgeRoundTrip", testEdgeRoundTrip},
		{"EdgeMissing", testEdgeMissing},
		{"EdgeDelete", testEdgeDelete},
		{"EdgeOrder", testEdgeOrder},
		{"EdgeIndexes", testEdgeIndexes},
		{"EdgeIndexesFollowUpsert", testEdgeIndexesFollowUpsert},
		{"BulkPut", testBulkPut},
		{"Stats", testStats},
		{"Clear", testClear},
		{"Closed", testClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tc.fn(t, s)
		})
	}
}

// Node builds a node with the given creation time.
func Node(id string, c model.Completeness, cachedAt int64) *model.GraphNode {
	return &model.GraphNode{
		ID:           id,
		EntityType:   model.EntityTypeFromID(id),
		Label:        "label " + id,
		Completeness: c,
		CachedAt:     cachedAt,
		UpdatedAt:    cachedAt,
	}
}

// Edge builds an edge with the given discovery time.
func Edge(src, dst string, rel model.RelationType, discoveredAt int64) *model.GraphEdge {
	return &model.GraphEdge{
		ID:           fmt.Sprintf("%s-%s-%s", src, dst, rel),
		Source:       src,
		Target:       dst,
		Type:         rel,
		Direction:    model.Outbound,
		DiscoveredAt: discoveredAt,
	}
}

func nodeIDs(nodes []*model.GraphNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func edgeIDs(edges []*model.GraphEdge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.ID)
	}
	return out
}

func testSchemaVersion(t *testing.T, s store.Storer) {
	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.SchemaVersion, v)
}

func testNodeRoundTrip(t *testing.T, s store.Storer) {
	ctx := context.Background()
	n := &model.GraphNode{
		ID:           "W2741809807",
		EntityType:   model.Works,
		Label:        "Attention Is All You Need",
		Completeness: model.Full,
		CachedAt:     1700000000000,
		UpdatedAt:    1700000000500,
		Metadata: model.Metadata{
			"doi":      "10.48550/arXiv.1706.03762",
			"year":     2017.0,
			"oa":       true,
			"concepts": []any{"C41008148", "C154945302"},
			"ids":      map[string]any{"mag": "2741809807"},
		},
	}
	require.NoError(t, s.PutNode(ctx, n))

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(n, got); diff != "" {
		t.Errorf("node mismatch (-want +got):\n%s", diff)
	}

	// Returned records are copies.
	got.Label = "changed"
	again, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Attention Is All You Need", again.Label)
}

func testNodeMissing(t *testing.T, s store.Storer) {
	got, err := s.GetNode(context.Background(), "W404")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testNodeUpsert(t *testing.T, s store.Storer) {
	ctx := context.Background()
	require.NoError(t, s.PutNode(ctx, Node("A1", model.Stub, 10)))

	upd := Node("A1", model.Full, 10)
	upd.Label = "Ada Lovelace"
	upd.UpdatedAt = 20
	require.NoError(t, s.PutNode(ctx, upd))

	got, err := s.GetNode(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, model.Full, got.Completeness)
	assert.Equal(t, "Ada Lovelace", got.Label)
	assert.Equal(t, int64(20), got.UpdatedAt)

	all, err := s.AllNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testNodeDelete(t *testing.T, s store.Storer) {
	ctx := context.Background()
	require.NoError(t, s.PutNode(ctx, Node("A1", model.Stub, 10)))
	require.NoError(t, s.DeleteNode(ctx, "A1"))
	require.NoError(t, s.DeleteNode(ctx, "A1"), "deleting a missing node is not an error")

	got, err := s.GetNode(ctx, "A1")
	require.NoError(t, err)
	assert.Nil(t, got)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Nodes)
}

func testNodeOrder(t *testing.T, s store.Storer) {
	ctx := context.Background()
	for _, n := range []*model.GraphNode{
		Node("W3", model.Stub, 30),
		Node("W2", model.Stub, 10),
		Node("W1", model.Stub, 20),
		Node("A9", model.Stub, 10),
	} {
		require.NoError(t, s.PutNode(ctx, n))
	}

	all, err := s.AllNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A9", "W2", "W1", "W3"}, nodeIDs(all))
}

func testNodeIndexes(t *testing.T, s store.Storer) {
	ctx := context.Background()
	w1 := Node("W1", model.Full, 10)
	w1.UpdatedAt = 50
	for _, n := range []*model.GraphNode{
		w1,
		Node("W2", model.Stub, 20),
		Node("A1", model.Partial, 30),
		Node("A2", model.Stub, 40),
	} {
		require.NoError(t, s.PutNode(ctx, n))
	}

	works, err := s.NodesByEntityType(ctx, model.Works)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"W1", "W2"}, nodeIDs(works))

	stubs, err := s.NodesByCompleteness(ctx, model.Stub)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"W2", "A2"}, nodeIDs(stubs))

	old, err := s.NodesCachedBefore(ctx, 30)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"W1", "W2"}, nodeIDs(old))

	recent, err := s.NodesUpdatedSince(ctx, 40)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"W1", "A2"}, nodeIDs(recent))

	none, err := s.NodesByEntityType(ctx, model.Funders)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testNodeIndexesFollowUpsert(t *testing.T, s store.Storer) {
	ctx := context.Background()
	require.NoError(t, s.PutNode(ctx, Node("A1", model.Stub, 10)))

	upd := Node("A1", model.Full, 10)
	upd.UpdatedAt = 99
	require.NoError(t, s.PutNode(ctx, upd))

	stubs, err := s.NodesByCompleteness(ctx, model.Stub)
	require.NoError(t, err)
	assert.Empty(t, stubs)

	full, err := s.NodesByCompleteness(ctx, model.Full)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, nodeIDs(full))

	recent, err := s.NodesUpdatedSince(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, nodeIDs(recent))

	require.NoError(t, s.DeleteNode(ctx, "A1"))
	full, err = s.NodesByCompleteness(ctx, model.Full)
	require.NoError(t, err)
	assert.Empty(t, full)
}

func testEdgeRoundTrip(t *testing.T, s store.Storer) {
	ctx := context.Background()
	e := Edge("W1", "A1", model.Authorship, 1700000000000)
	e.Direction = model.Inbound
	e.EdgeProperties = model.EdgeProperties{
		Position:        model.Ptr(0),
		IsCorresponding: model.Ptr(true),
		IsOpenAccess:    model.Ptr(false),
		Score:           model.Ptr(0.75),
		Years:           []int{2019, 2020},
		AwardID:         model.Ptr("EP/X0001"),
		Role:            model.Ptr("first"),
	}
	e.Metadata = model.Metadata{"rawAffiliation": "Somewhere"}
	require.NoError(t, s.PutEdge(ctx, e))

	got, err := s.GetEdge(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(e, got); diff != "" {
		t.Errorf("edge mismatch (-want +got):\n%s", diff)
	}

	bare := Edge("W1", "W2", model.Reference, 5)
	require.NoError(t, s.PutEdge(ctx, bare))
	got, err = s.GetEdge(ctx, bare.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(bare, got); diff != "" {
		t.Errorf("bare edge mismatch (-want +got):\n%s", diff)
	}
}

func testEdgeMissing(t *testing.T, s store.Storer) {
	got, err := s.GetEdge(context.Background(), "W1-A1-AUTHORSHIP")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testEdgeDelete(t *testing.T, s store.Storer) {
	ctx := context.Background()
	e := Edge("W1", "A1", model.Authorship, 1)
	require.NoError(t, s.PutEdge(ctx, e))
	require.NoError(t, s.DeleteEdge(ctx, e.ID))
	require.NoError(t, s.DeleteEdge(ctx, e.ID))

	bySource, err := s.EdgesBySource(ctx, "W1")
	require.NoError(t, err)
	assert.Empty(t, bySource)
}

func testEdgeOrder(t *testing.T, s store.Storer) {
	ctx := context.Background()
	for _, e := range []*model.GraphEdge{
		Edge("W1", "A2", model.Authorship, 20),
		Edge("W1", "A1", model.Authorship, 20),
		Edge("W2", "W1", model.Reference, 5),
	} {
		require.NoError(t, s.PutEdge(ctx, e))
	}

	all, err := s.AllEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"W2-W1-REFERENCE", "W1-A1-AUTHORSHIP", "W1-A2-AUTHORSHIP"}, edgeIDs(all))
}

func testEdgeIndexes(t *testing.T, s store.Storer) {
	ctx := context.Background()
	inbound := Edge("W2", "A1", model.Authorship, 3)
	inbound.Direction = model.Inbound
	for _, e := range []*model.GraphEdge{
		Edge("W1", "A1", model.Authorship, 1),
		Edge("W1", "W2", model.Reference, 2),
		inbound,
		Edge("A1", "I1", model.Affiliation, 4),
	} {
		require.NoError(t, s.PutEdge(ctx, e))
	}

	check := func(name string, want []string, got []*model.GraphEdge, err error) {
		t.Helper()
		require.NoError(t, err, name)
		assert.ElementsMatch(t, want, edgeIDs(got), name)
	}

	got, err := s.EdgesBySource(ctx, "W1")
	check("source", []string{"W1-A1-AUTHORSHIP", "W1-W2-REFERENCE"}, got, err)

	got, err = s.EdgesByTarget(ctx, "A1")
	check("target", []string{"W1-A1-AUTHORSHIP", "W2-A1-AUTHORSHIP"}, got, err)

	got, err = s.EdgesByType(ctx, model.Authorship)
	check("type", []string{"W1-A1-AUTHORSHIP", "W2-A1-AUTHORSHIP"}, got, err)

	got, err = s.EdgesByDirection(ctx, model.Inbound)
	check("direction", []string{"W2-A1-AUTHORSHIP"}, got, err)

	got, err = s.EdgesBySourceAndType(ctx, "W1", model.Reference)
	check("source+type", []string{"W1-W2-REFERENCE"}, got, err)

	got, err = s.EdgesByTargetAndType(ctx, "A1", model.Authorship)
	check("target+type", []string{"W1-A1-AUTHORSHIP", "W2-A1-AUTHORSHIP"}, got, err)

	got, err = s.EdgesByTargetAndType(ctx, "A1", model.Reference)
	check("target+type empty", []string{}, got, err)

	// A source ID that prefixes another must not leak into its scans.
	require.NoError(t, s.PutEdge(ctx, Edge("W11", "A1", model.Authorship, 9)))
	got, err = s.EdgesBySource(ctx, "W1")
	check("source prefix", []string{"W1-A1-AUTHORSHIP", "W1-W2-REFERENCE"}, got, err)
}

func testEdgeIndexesFollowUpsert(t *testing.T, s store.Storer) {
	ctx := context.Background()
	e := Edge("W1", "A1", model.Authorship, 1)
	require.NoError(t, s.PutEdge(ctx, e))

	e2 := e.Clone()
	e2.Direction = model.Inbound
	e2.IsCorresponding = model.Ptr(true)
	require.NoError(t, s.PutEdge(ctx, e2))

	out, err := s.EdgesByDirection(ctx, model.Outbound)
	require.NoError(t, err)
	assert.Empty(t, out)

	in, err := s.EdgesByDirection(ctx, model.Inbound)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.True(t, *in[0].IsCorresponding)

	all, err := s.AllEdges(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testBulkPut(t *testing.T, s store.Storer) {
	ctx := context.Background()
	const n = 500

	nodes := make([]*model.GraphNode, 0, n)
	edges := make([]*model.GraphEdge, 0, n)
	for i := 0; i < n; i++ {
		nodes = append(nodes, Node(fmt.Sprintf("W%d", i), model.Partial, int64(i)))
		edges = append(edges, Edge(fmt.Sprintf("W%d", i), "A1", model.Authorship, int64(i)))
	}
	require.NoError(t, s.BulkPutNodes(ctx, nodes))
	require.NoError(t, s.BulkPutEdges(ctx, edges))
	require.NoError(t, s.BulkPutNodes(ctx, nil))

	allNodes, err := s.AllNodes(ctx)
	require.NoError(t, err)
	require.Len(t, allNodes, n)
	assert.Equal(t, "W0", allNodes[0].ID)
	assert.Equal(t, fmt.Sprintf("W%d", n-1), allNodes[n-1].ID)

	toA1, err := s.EdgesByTarget(ctx, "A1")
	require.NoError(t, err)
	assert.Len(t, toA1, n)
}

func testStats(t *testing.T, s store.Storer) {
	ctx := context.Background()
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Nodes)
	assert.Zero(t, st.Edges)

	require.NoError(t, s.PutNode(ctx, Node("W1", model.Stub, 1)))
	require.NoError(t, s.PutNode(ctx, Node("A1", model.Stub, 1)))
	require.NoError(t, s.PutEdge(ctx, Edge("W1", "A1", model.Authorship, 1)))

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Nodes)
	assert.Equal(t, 1, st.Edges)
	assert.Positive(t, st.EstimatedBytes)
}

func testClear(t *testing.T, s store.Storer) {
	ctx := context.Background()
	require.NoError(t, s.PutNode(ctx, Node("W1", model.Stub, 1)))
	require.NoError(t, s.PutEdge(ctx, Edge("W1", "A1", model.Authorship, 1)))
	require.NoError(t, s.Clear(ctx))

	nodes, err := s.AllNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes)
	edges, err := s.EdgesBySource(ctx, "W1")
	require.NoError(t, err)
	assert.Empty(t, edges)

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.SchemaVersion, v, "clear keeps the schema version")

	require.NoError(t, s.PutNode(ctx, Node("W2", model.Stub, 2)), "store usable after clear")
}

func testClosed(t *testing.T, s store.Storer) {
	ctx := context.Background()
	require.NoError(t, s.Close())

	err := s.PutNode(ctx, Node("W1", model.Stub, 1))
	assert.True(t, errors.Is(err, store.ErrClosed), "PutNode after close: %v", err)
	assert.ErrorIs(t, err, store.ErrStorageIO)

	_, err = s.AllEdges(ctx)
	assert.ErrorIs(t, err, store.ErrClosed)
}
