package pgraph_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/kitgraph/internal/store"
	"github.com/kittclouds/kitgraph/pkg/model"
	"github.com/kittclouds/kitgraph/pkg/pgraph"
)

func ids(nodes []*model.GraphNode) []string {
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

func TestNeighbors(t *testing.T) {
	ctx := context.Background()
	pg := hydrated(t, store.NewMemStore(), pgraph.Options{})
	addEdge(t, pg, "W1", "A1", model.Authorship)
	addEdge(t, pg, "A2", "W1", model.Authorship)
	addEdge(t, pg, "W1", "T1", model.Topic)
	addEdge(t, pg, "W1", "A1", model.RelatedTo)

	tests := []struct {
		name string
		opts pgraph.NeighborOptions
		want []string
	}{
		{"default is both", pgraph.NeighborOptions{}, []string{"A1", "A2", "T1"}},
		{"both", pgraph.NeighborOptions{Direction: pgraph.Both}, []string{"A1", "A2", "T1"}},
		{"outbound", pgraph.NeighborOptions{Direction: pgraph.Outbound}, []string{"A1", "T1"}},
		{"inbound", pgraph.NeighborOptions{Direction: pgraph.Inbound}, []string{"A2"}},
		{"types", pgraph.NeighborOptions{Types: []model.RelationType{model.Topic, model.RelatedTo}}, []string{"T1", "A1"}},
		{"limit", pgraph.NeighborOptions{Limit: 2}, []string{"A1", "A2"}},
		{"outbound limit", pgraph.NeighborOptions{Direction: pgraph.Outbound, Limit: 1}, []string{"A1"}},
		{"no match", pgraph.NeighborOptions{Types: []model.RelationType{model.FundedBy}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pg.Neighbors(ctx, "W1", tt.opts)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Neighbors mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err := pg.Neighbors(ctx, "W404", pgraph.NeighborOptions{})
	assert.ErrorIs(t, err, pgraph.ErrNotFound)
	_, err = pg.Neighbors(ctx, "W1", pgraph.NeighborOptions{Direction: "up"})
	assert.ErrorIs(t, err, pgraph.ErrInvalidInput)
}

func TestNeighborsIgnoreRecordedDirection(t *testing.T) {
	ctx := context.Background()
	pg := hydrated(t, store.NewMemStore(), pgraph.Options{})
	_, err := pg.AddEdge(ctx, pgraph.EdgeInput{Source: "W1", Target: "A1", Type: model.Authorship, Direction: model.Inbound})
	require.NoError(t, err)

	got, err := pg.Neighbors(ctx, "W1", pgraph.NeighborOptions{Direction: pgraph.Outbound})
	require.NoError(t, err)
	assert.Equal(t, []string{"A1"}, got)
}

func TestSubgraphIsInduced(t *testing.T) {
	ctx := context.Background()
	pg := hydrated(t, store.NewMemStore(), pgraph.Options{})
	addEdge(t, pg, "W1", "A1", model.Authorship)
	addEdge(t, pg, "A1", "A2", model.RelatedTo)
	addEdge(t, pg, "W1", "A3", model.Authorship)

	sub, err := pg.Subgraph(ctx, []string{"W1", "A1", "A2", "W404"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"W1", "A1", "A2"}, ids(sub.Nodes))
	assert.Equal(t, []string{"W1-A1-AUTHORSHIP", "A1-A2-RELATED_TO"}, edgeIDs(sub.Edges))

	empty, err := pg.Subgraph(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Nodes)
	assert.Empty(t, empty.Edges)
}

func TestShortestPath(t *testing.T) {
	ctx := context.Background()
	pg := hydrated(t, store.NewMemStore(), pgraph.Options{})
	addEdge(t, pg, "W1", "A1", model.Authorship)
	addEdge(t, pg, "A1", "I1", model.Affiliation)
	addEdge(t, pg, "W2", "A1", model.Authorship)
	_, err := pg.AddNode(ctx, pgraph.NodeInput{ID: "T9"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		from, to string
		opts     pgraph.PathOptions
		want     []string
	}{
		{"same node", "W1", "W1", pgraph.PathOptions{}, []string{"W1"}},
		{"chain", "W1", "I1", pgraph.PathOptions{}, []string{"W1", "A1", "I1"}},
		{"against edge direction", "I1", "W1", pgraph.PathOptions{}, []string{"I1", "A1", "W1"}},
		{"through shared author", "W1", "W2", pgraph.PathOptions{}, []string{"W1", "A1", "W2"}},
		{"disconnected", "W1", "T9", pgraph.PathOptions{}, []string{}},
		{"outbound only", "W1", "I1", pgraph.PathOptions{Direction: pgraph.Outbound}, []string{"W1", "A1", "I1"}},
		{"outbound blocks reverse", "I1", "W1", pgraph.PathOptions{Direction: pgraph.Outbound}, []string{}},
		{"inbound", "I1", "W1", pgraph.PathOptions{Direction: pgraph.Inbound}, []string{"I1", "A1", "W1"}},
		{"type filter", "W1", "I1", pgraph.PathOptions{Types: []model.RelationType{model.Authorship}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pg.ShortestPath(ctx, tt.from, tt.to, tt.opts)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ShortestPath mismatch (-want +got):\n%s", diff)
			}
		})
	}

	_, err = pg.ShortestPath(ctx, "W1", "W404", pgraph.PathOptions{})
	assert.ErrorIs(t, err, pgraph.ErrNotFound)
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	clock := newStepClock()
	pg := hydrated(t, store.NewMemStore(), pgraph.Options{Clock: clock.Now})

	s, err := pg.Statistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.TotalNodes)
	assert.Zero(t, s.LastUpdated)
	assert.Equal(t, map[model.Completeness]int{model.Stub: 0, model.Partial: 0, model.Full: 0}, s.NodesByCompleteness)

	_, err = pg.AddNode(ctx, pgraph.NodeInput{ID: "W1", Completeness: model.Full})
	require.NoError(t, err)
	addEdge(t, pg, "W1", "A1", model.Authorship)
	addEdge(t, pg, "W1", "A2", model.Authorship)
	addEdge(t, pg, "W1", "T1", model.Topic)
	_, err = pg.AddNode(ctx, pgraph.NodeInput{ID: "I1", Completeness: model.Partial})
	require.NoError(t, err)

	s, err = pg.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, s.TotalNodes)
	assert.Equal(t, 3, s.TotalEdges)
	assert.Equal(t, map[model.Completeness]int{model.Stub: 3, model.Partial: 1, model.Full: 1}, s.NodesByCompleteness)
	assert.Equal(t, map[model.EntityType]int{model.Works: 1, model.Authors: 2, model.Topics: 1, model.Institutions: 1}, s.NodesByEntityType)
	assert.Equal(t, map[model.RelationType]int{model.Authorship: 2, model.Topic: 1}, s.EdgesByType)
	assert.Equal(t, map[model.Direction]int{model.Outbound: 3}, s.EdgesByDirection)
	assert.Equal(t, 1, s.OrphanNodes)

	n, err := pg.GetNode(ctx, "I1")
	require.NoError(t, err)
	assert.Equal(t, n.UpdatedAt, s.LastUpdated)
}

func TestNodesByCompletenessListsStubs(t *testing.T) {
	ctx := context.Background()
	pg := hydrated(t, store.NewMemStore(), pgraph.Options{})
	_, err := pg.AddNode(ctx, pgraph.NodeInput{ID: "W1", Completeness: model.Full})
	require.NoError(t, err)
	addEdge(t, pg, "W1", "A1", model.Authorship)
	addEdge(t, pg, "W1", "S1", model.Publication)

	stubs, err := pg.NodesByCompleteness(ctx, model.Stub)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "S1"}, ids(stubs))

	works, err := pg.NodesByEntityType(ctx, model.Works)
	require.NoError(t, err)
	assert.Equal(t, []string{"W1"}, ids(works))

	none, err := pg.NodesByEntityType(ctx, model.Funders)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMostConnected(t *testing.T) {
	ctx := context.Background()
	pg := hydrated(t, store.NewMemStore(), pgraph.Options{})
	addEdge(t, pg, "W1", "A1", model.Authorship)
	addEdge(t, pg, "W1", "A2", model.Authorship)
	addEdge(t, pg, "W2", "A1", model.Authorship)

	top, err := pg.MostConnected(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "A1", top[0].ID)
	assert.Equal(t, "W1", top[1].ID)
	assert.InDelta(t, 2.0/6.0, top[0].Score, 1e-9)
}

func TestQueriesReturnCopies(t *testing.T) {
	ctx := context.Background()
	pg := hydrated(t, store.NewMemStore(), pgraph.Options{})
	_, err := pg.AddNode(ctx, pgraph.NodeInput{ID: "W1", Label: "Original", Metadata: model.Metadata{"k": "v"}})
	require.NoError(t, err)

	n, err := pg.GetNode(ctx, "W1")
	require.NoError(t, err)
	n.Label = "Mutated"
	n.Metadata["k"] = "changed"

	again, err := pg.GetNode(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, "Original", again.Label)
	assert.Equal(t, "v", again.Metadata["k"])
}
