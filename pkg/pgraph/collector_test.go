package pgraph_test

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/kitgraph/internal/store"
	"github.com/kittclouds/kitgraph/pkg/model"
	"github.com/kittclouds/kitgraph/pkg/pgraph"
)

func TestCollectorBeforeHydration(t *testing.T) {
	pg := newGraph(t, store.NewMemStore(), pgraph.Options{})
	c := pgraph.NewCollector(pg)

	assert.Equal(t, 1, testutil.CollectAndCount(c))
	assert.Equal(t, float64(0), testutil.ToFloat64(c))
	assert.False(t, pg.IsHydrated())
}

func TestCollectorExportsStatistics(t *testing.T) {
	ctx := context.Background()
	pg := hydrated(t, store.NewMemStore(), pgraph.Options{})
	_, err := pg.AddNode(ctx, pgraph.NodeInput{ID: "W1", Completeness: model.Full})
	require.NoError(t, err)
	addEdge(t, pg, "W1", "A1", model.Authorship)
	_, err = pg.AddNode(ctx, pgraph.NodeInput{ID: "T1"})
	require.NoError(t, err)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(pgraph.NewCollector(pg)))

	expected := `
# HELP kitgraph_hydrated 1 when the in-memory graph is loaded
# TYPE kitgraph_hydrated gauge
kitgraph_hydrated 1
# HELP kitgraph_nodes Nodes by completeness level
# TYPE kitgraph_nodes gauge
kitgraph_nodes{completeness="full"} 1
kitgraph_nodes{completeness="partial"} 0
kitgraph_nodes{completeness="stub"} 2
# HELP kitgraph_edges Edges by relation type
# TYPE kitgraph_edges gauge
kitgraph_edges{type="AUTHORSHIP"} 1
# HELP kitgraph_orphan_nodes Nodes without any edge
# TYPE kitgraph_orphan_nodes gauge
kitgraph_orphan_nodes 1
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"kitgraph_hydrated", "kitgraph_nodes", "kitgraph_edges", "kitgraph_orphan_nodes")
	assert.NoError(t, err)
}
