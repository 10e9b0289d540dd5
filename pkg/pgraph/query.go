package pgraph

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/kittclouds/kitgraph/pkg/graph"
	"github.com/kittclouds/kitgraph/pkg/model"
)

// Direction selects which side of an edge a query follows. It is
// independent of the direction recorded on the edge, which is only
// provenance.
type Direction string

const (
	// Both follows edges either way. The zero value means Both.
	Both Direction = "both"
	// Outbound follows edges from source to target.
	Outbound Direction = "outbound"
	// Inbound follows edges from target to source.
	Inbound Direction = "inbound"
)

func (d Direction) valid() bool {
	return d == "" || d == Both || d == Outbound || d == Inbound
}

func (d Direction) allows(forward bool) bool {
	switch d {
	case Outbound:
		return forward
	case Inbound:
		return !forward
	}
	return true
}

// NeighborOptions narrow Neighbors.
type NeighborOptions struct {
	Direction Direction
	// Types keeps only edges of these relation types. Empty keeps all.
	Types []model.RelationType
	// Limit caps the result. Zero means no cap.
	Limit int
}

// PathOptions narrow ShortestPath.
type PathOptions struct {
	Direction Direction
	Types     []model.RelationType
}

// Subgraph is an induced subgraph: the requested nodes that exist and
// the edges with both endpoints among them.
type Subgraph struct {
	Nodes []*model.GraphNode `json:"nodes"`
	Edges []*model.GraphEdge `json:"edges"`
}

// Statistics summarizes the in-memory graph.
type Statistics struct {
	TotalNodes          int                        `json:"totalNodes"`
	TotalEdges          int                        `json:"totalEdges"`
	NodesByCompleteness map[model.Completeness]int `json:"nodesByCompleteness"`
	NodesByEntityType   map[model.EntityType]int   `json:"nodesByEntityType"`
	EdgesByType         map[model.RelationType]int `json:"edgesByType"`
	EdgesByDirection    map[model.Direction]int    `json:"edgesByDirection"`
	OrphanNodes         int                        `json:"orphanNodes"`
	// LastUpdated is the latest change in Unix milliseconds, 0 when empty.
	LastUpdated int64 `json:"lastUpdated"`
}

// NodeScore pairs a node ID with a centrality score.
type NodeScore struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// view runs fn against the hydrated in-memory graph under a read lock.
func (pg *PersistentGraph) view(ctx context.Context, op, id string, fn func(g *memGraph) error) error {
	ctx, span := startOpSpan(ctx, op, id)
	defer span.End()
	start := time.Now()

	pg.opMu.RLock()
	err := pg.ready(ctx)
	if err == nil {
		pg.mu.RLock()
		err = fn(pg.g)
		pg.mu.RUnlock()
	}
	pg.opMu.RUnlock()

	recordQuery(ctx, op, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		return pg.fail(op, id, err)
	}
	return nil
}

// GetNode returns a copy of the node, or ErrNotFound.
func (pg *PersistentGraph) GetNode(ctx context.Context, id string) (*model.GraphNode, error) {
	var out *model.GraphNode
	err := pg.view(ctx, "get_node", id, func(g *memGraph) error {
		n, ok := g.GetNode(id)
		if !ok {
			return fmt.Errorf("%w: node %s", ErrNotFound, id)
		}
		out = n.Clone()
		return nil
	})
	return out, err
}

// GetEdge returns a copy of the edge, or ErrNotFound.
func (pg *PersistentGraph) GetEdge(ctx context.Context, id string) (*model.GraphEdge, error) {
	var out *model.GraphEdge
	err := pg.view(ctx, "get_edge", id, func(g *memGraph) error {
		e, ok := g.GetEdge(id)
		if !ok {
			return fmt.Errorf("%w: edge %s", ErrNotFound, id)
		}
		out = e.Clone()
		return nil
	})
	return out, err
}

// HasNode reports whether a node exists.
func (pg *PersistentGraph) HasNode(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := pg.view(ctx, "has_node", id, func(g *memGraph) error {
		ok = g.HasNode(id)
		return nil
	})
	return ok, err
}

// HasEdge reports whether an edge exists.
func (pg *PersistentGraph) HasEdge(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := pg.view(ctx, "has_edge", id, func(g *memGraph) error {
		ok = g.HasEdge(id)
		return nil
	})
	return ok, err
}

func typeFilter(types []model.RelationType) func(model.RelationType) bool {
	if len(types) == 0 {
		return func(model.RelationType) bool { return true }
	}
	return func(t model.RelationType) bool { return slices.Contains(types, t) }
}

// Neighbors returns the IDs adjacent to id, each once, in the order the
// connecting edges were discovered.
func (pg *PersistentGraph) Neighbors(ctx context.Context, id string, opts NeighborOptions) ([]string, error) {
	if !opts.Direction.valid() {
		return nil, pg.fail("neighbors", id, fmt.Errorf("%w: direction %q", ErrInvalidInput, opts.Direction))
	}
	keep := typeFilter(opts.Types)

	var out []string
	err := pg.view(ctx, "neighbors", id, func(g *memGraph) error {
		if !g.HasNode(id) {
			return fmt.Errorf("%w: node %s", ErrNotFound, id)
		}
		out = []string{}
		seen := make(map[string]struct{})
		add := func(other string) bool {
			if _, dup := seen[other]; !dup {
				seen[other] = struct{}{}
				out = append(out, other)
			}
			return opts.Limit > 0 && len(out) >= opts.Limit
		}
		for _, e := range g.IncidentEdges(id) {
			if !keep(e.Type) {
				continue
			}
			if e.Source == id && opts.Direction.allows(true) && add(e.Target) {
				break
			}
			if e.Target == id && opts.Direction.allows(false) && add(e.Source) {
				break
			}
		}
		return nil
	})
	return out, err
}

// Subgraph returns the subgraph induced by ids. Unknown IDs are skipped.
func (pg *PersistentGraph) Subgraph(ctx context.Context, ids []string) (*Subgraph, error) {
	var out *Subgraph
	err := pg.view(ctx, "subgraph", fmt.Sprint(len(ids)), func(g *memGraph) error {
		sub := g.InducedSubgraph(ids)
		out = &Subgraph{
			Nodes: make([]*model.GraphNode, 0, sub.NodeCount()),
			Edges: make([]*model.GraphEdge, 0, sub.EdgeCount()),
		}
		for _, n := range sub.Nodes() {
			out.Nodes = append(out.Nodes, n.Clone())
		}
		for _, e := range sub.Edges() {
			out.Edges = append(out.Edges, e.Clone())
		}
		return nil
	})
	return out, err
}

// ShortestPath returns the node IDs on a fewest-hops path from one node
// to another, both included. Edges are followed either way unless opts
// narrow it. The path is [from] when from equals to and empty when no
// path exists. Unknown endpoints fail with ErrNotFound.
func (pg *PersistentGraph) ShortestPath(ctx context.Context, from, to string, opts PathOptions) ([]string, error) {
	if !opts.Direction.valid() {
		return nil, pg.fail("shortest_path", from+"->"+to, fmt.Errorf("%w: direction %q", ErrInvalidInput, opts.Direction))
	}
	keep := typeFilter(opts.Types)
	step := graph.StepFunc[*model.GraphEdge](func(e *model.GraphEdge, forward bool) bool {
		return keep(e.Type) && opts.Direction.allows(forward)
	})

	var out []string
	err := pg.view(ctx, "shortest_path", from+"->"+to, func(g *memGraph) error {
		for _, id := range []string{from, to} {
			if !g.HasNode(id) {
				return fmt.Errorf("%w: node %s", ErrNotFound, id)
			}
		}
		path, ok := g.ShortestPath(from, to, step)
		if !ok {
			out = []string{}
			return nil
		}
		out = path
		return nil
	})
	return out, err
}

// Statistics counts nodes and edges by their tags.
func (pg *PersistentGraph) Statistics(ctx context.Context) (*Statistics, error) {
	var out *Statistics
	err := pg.view(ctx, "statistics", "", func(g *memGraph) error {
		s := &Statistics{
			TotalNodes:          g.NodeCount(),
			TotalEdges:          g.EdgeCount(),
			NodesByCompleteness: make(map[model.Completeness]int, len(model.AllCompleteness)),
			NodesByEntityType:   make(map[model.EntityType]int),
			EdgesByType:         make(map[model.RelationType]int),
			EdgesByDirection:    make(map[model.Direction]int, 2),
			OrphanNodes:         len(g.OrphanNodes()),
			LastUpdated:         pg.lastUpdated,
		}
		for _, c := range model.AllCompleteness {
			s.NodesByCompleteness[c] = 0
		}
		for _, n := range g.Nodes() {
			s.NodesByCompleteness[n.Completeness]++
			s.NodesByEntityType[n.EntityType]++
		}
		for _, e := range g.Edges() {
			s.EdgesByType[e.Type]++
			s.EdgesByDirection[e.Direction]++
		}
		out = s
		return nil
	})
	return out, err
}

// NodesByCompleteness lists nodes at level c in insertion order.
// Listing stubs gives the entities still to be fetched.
func (pg *PersistentGraph) NodesByCompleteness(ctx context.Context, c model.Completeness) ([]*model.GraphNode, error) {
	return pg.filterNodes(ctx, "nodes_by_completeness", string(c), func(n *model.GraphNode) bool {
		return n.Completeness == c
	})
}

// NodesByEntityType lists nodes of type t in insertion order.
func (pg *PersistentGraph) NodesByEntityType(ctx context.Context, t model.EntityType) ([]*model.GraphNode, error) {
	return pg.filterNodes(ctx, "nodes_by_entity_type", string(t), func(n *model.GraphNode) bool {
		return n.EntityType == t
	})
}

func (pg *PersistentGraph) filterNodes(ctx context.Context, op, arg string, match func(*model.GraphNode) bool) ([]*model.GraphNode, error) {
	var out []*model.GraphNode
	err := pg.view(ctx, op, arg, func(g *memGraph) error {
		out = []*model.GraphNode{}
		for _, n := range g.Nodes() {
			if match(n) {
				out = append(out, n.Clone())
			}
		}
		return nil
	})
	return out, err
}

// MostConnected ranks nodes by normalized degree centrality, highest
// first, ties by ID. limit <= 0 returns every node.
func (pg *PersistentGraph) MostConnected(ctx context.Context, limit int) ([]NodeScore, error) {
	var out []NodeScore
	err := pg.view(ctx, "most_connected", "", func(g *memGraph) error {
		scores := g.DegreeCentrality()
		out = make([]NodeScore, 0, len(scores))
		for id, s := range scores {
			out = append(out, NodeScore{ID: id, Score: s})
		}
		slices.SortFunc(out, func(a, b NodeScore) int {
			if c := cmp.Compare(b.Score, a.Score); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}
