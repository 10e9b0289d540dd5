// Package graph provides a small in-memory directed multigraph.
// Nodes and edges are caller types keyed by string; the graph keeps
// adjacency and insertion order and knows nothing about persistence.
// Not safe for concurrent use.
package graph

import "errors"

var (
	ErrDuplicateNode = errors.New("graph: duplicate node")
	ErrDuplicateEdge = errors.New("graph: duplicate edge")
	ErrEmptyKey      = errors.New("graph: empty key")
)

// Node is anything with a stable key.
type Node interface {
	Key() string
}

// Edge connects two node keys. Several edges may join the same pair.
type Edge interface {
	Key() string
	SourceID() string
	TargetID() string
}

// Graph is a directed multigraph over N and E.
type Graph[N Node, E Edge] struct {
	nodes map[string]N
	edges map[string]E

	// Insertion order. A slot is live while the ordinal map still points
	// at it; removals leave tombstones that compact() drops.
	nodeOrd   map[string]uint32
	byOrdinal []string
	edgeSeq   map[string]int
	edgeOrder []string

	// Edge keys touching each node key, oldest first. Kept for dangling
	// endpoints too so a node added later sees its edges.
	incident map[string][]string
}

// New creates an empty graph.
func New[N Node, E Edge]() *Graph[N, E] {
	g := &Graph[N, E]{}
	g.Clear()
	return g
}

// Clear removes all nodes and edges
func (g *Graph[N, E]) Clear() {
	g.nodes = make(map[string]N)
	g.edges = make(map[string]E)
	g.nodeOrd = make(map[string]uint32)
	g.byOrdinal = nil
	g.edgeSeq = make(map[string]int)
	g.edgeOrder = nil
	g.incident = make(map[string][]string)
}

// AddNode inserts n. It fails if the key is already present.
func (g *Graph[N, E]) AddNode(n N) error {
	key := n.Key()
	if key == "" {
		return ErrEmptyKey
	}
	if _, ok := g.nodes[key]; ok {
		return ErrDuplicateNode
	}
	g.insertNode(key, n)
	return nil
}

// SetNode inserts n or replaces the payload stored under its key.
// A replaced node keeps its position in insertion order.
func (g *Graph[N, E]) SetNode(n N) error {
	key := n.Key()
	if key == "" {
		return ErrEmptyKey
	}
	if _, ok := g.nodes[key]; ok {
		g.nodes[key] = n
		return nil
	}
	g.insertNode(key, n)
	return nil
}

func (g *Graph[N, E]) insertNode(key string, n N) {
	g.nodes[key] = n
	g.nodeOrd[key] = uint32(len(g.byOrdinal))
	g.byOrdinal = append(g.byOrdinal, key)
}

// RemoveNode deletes the node and every edge touching it.
// It reports whether the node existed and returns the removed edges.
func (g *Graph[N, E]) RemoveNode(key string) (bool, []E) {
	if _, ok := g.nodes[key]; !ok {
		return false, nil
	}
	var removed []E
	for _, ek := range append([]string(nil), g.incident[key]...) {
		if e, ok := g.RemoveEdge(ek); ok {
			removed = append(removed, e)
		}
	}
	delete(g.nodes, key)
	delete(g.nodeOrd, key)
	delete(g.incident, key)
	g.compact()
	return true, removed
}

// GetNode retrieves a node by key
func (g *Graph[N, E]) GetNode(key string) (N, bool) {
	n, ok := g.nodes[key]
	return n, ok
}

func (g *Graph[N, E]) HasNode(key string) bool {
	_, ok := g.nodes[key]
	return ok
}

// AddEdge inserts e. Endpoints need not exist yet; Validate reports
// edges whose endpoints are still missing.
func (g *Graph[N, E]) AddEdge(e E) error {
	key := e.Key()
	if key == "" {
		return ErrEmptyKey
	}
	if _, ok := g.edges[key]; ok {
		return ErrDuplicateEdge
	}
	g.edges[key] = e
	g.edgeSeq[key] = len(g.edgeOrder)
	g.edgeOrder = append(g.edgeOrder, key)
	g.link(key, e)
	return nil
}

// SetEdge inserts e or replaces the payload stored under its key,
// re-linking adjacency if the endpoints changed.
func (g *Graph[N, E]) SetEdge(e E) error {
	key := e.Key()
	old, ok := g.edges[key]
	if !ok {
		return g.AddEdge(e)
	}
	if old.SourceID() != e.SourceID() || old.TargetID() != e.TargetID() {
		g.unlink(key, old)
		g.link(key, e)
	}
	g.edges[key] = e
	return nil
}

// RemoveEdge deletes an edge by key and returns it.
func (g *Graph[N, E]) RemoveEdge(key string) (E, bool) {
	e, ok := g.edges[key]
	if !ok {
		return e, false
	}
	g.unlink(key, e)
	delete(g.edges, key)
	delete(g.edgeSeq, key)
	g.compact()
	return e, true
}

func (g *Graph[N, E]) GetEdge(key string) (E, bool) {
	e, ok := g.edges[key]
	return e, ok
}

func (g *Graph[N, E]) HasEdge(key string) bool {
	_, ok := g.edges[key]
	return ok
}

func (g *Graph[N, E]) link(key string, e E) {
	src, dst := e.SourceID(), e.TargetID()
	g.incident[src] = append(g.incident[src], key)
	if dst != src {
		g.incident[dst] = append(g.incident[dst], key)
	}
}

func (g *Graph[N, E]) unlink(key string, e E) {
	for _, id := range [2]string{e.SourceID(), e.TargetID()} {
		list := g.incident[id]
		for i, k := range list {
			if k == key {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(g.incident, id)
		} else {
			g.incident[id] = list
		}
	}
}

// compact drops tombstones once they outnumber live entries.
func (g *Graph[N, E]) compact() {
	if len(g.byOrdinal) > 2*len(g.nodes)+16 {
		keys := make([]string, 0, len(g.nodes))
		for i, k := range g.byOrdinal {
			if ord, ok := g.nodeOrd[k]; ok && ord == uint32(i) {
				keys = append(keys, k)
			}
		}
		g.byOrdinal = keys
		for i, k := range keys {
			g.nodeOrd[k] = uint32(i)
		}
	}
	if len(g.edgeOrder) > 2*len(g.edges)+16 {
		keys := make([]string, 0, len(g.edges))
		for i, k := range g.edgeOrder {
			if seq, ok := g.edgeSeq[k]; ok && seq == i {
				keys = append(keys, k)
			}
		}
		g.edgeOrder = keys
		for i, k := range keys {
			g.edgeSeq[k] = i
		}
	}
}

// NodeCount returns the number of nodes
func (g *Graph[N, E]) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges
func (g *Graph[N, E]) EdgeCount() int { return len(g.edges) }

// Nodes returns all nodes in insertion order.
func (g *Graph[N, E]) Nodes() []N {
	out := make([]N, 0, len(g.nodes))
	for i, k := range g.byOrdinal {
		if ord, ok := g.nodeOrd[k]; ok && ord == uint32(i) {
			out = append(out, g.nodes[k])
		}
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph[N, E]) Edges() []E {
	out := make([]E, 0, len(g.edges))
	for i, k := range g.edgeOrder {
		if seq, ok := g.edgeSeq[k]; ok && seq == i {
			out = append(out, g.edges[k])
		}
	}
	return out
}

// IncidentEdges returns every edge touching key, in either direction,
// oldest first. A self-loop appears once.
func (g *Graph[N, E]) IncidentEdges(key string) []E {
	list := g.incident[key]
	out := make([]E, 0, len(list))
	for _, ek := range list {
		out = append(out, g.edges[ek])
	}
	return out
}

// OutEdges returns edges whose source is key.
func (g *Graph[N, E]) OutEdges(key string) []E {
	var out []E
	for _, ek := range g.incident[key] {
		if e := g.edges[ek]; e.SourceID() == key {
			out = append(out, e)
		}
	}
	return out
}

// InEdges returns edges whose target is key.
func (g *Graph[N, E]) InEdges(key string) []E {
	var out []E
	for _, ek := range g.incident[key] {
		if e := g.edges[ek]; e.TargetID() == key {
			out = append(out, e)
		}
	}
	return out
}

// Neighbors returns the distinct keys at the other end of key's incident
// edges, in edge insertion order. A self-loop contributes key itself.
func (g *Graph[N, E]) Neighbors(key string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ek := range g.incident[key] {
		other := Other(g.edges[ek], key)
		if _, dup := seen[other]; dup {
			continue
		}
		seen[other] = struct{}{}
		out = append(out, other)
	}
	return out
}

// Degree is the number of distinct edges touching key.
func (g *Graph[N, E]) Degree(key string) int {
	return len(g.incident[key])
}

// Other returns the endpoint of e that is not key. For a self-loop it is key.
func Other[E Edge](e E, key string) string {
	if e.SourceID() == key {
		return e.TargetID()
	}
	return e.SourceID()
}

// OrphanNodes returns nodes with no connections
func (g *Graph[N, E]) OrphanNodes() []N {
	var orphans []N
	for _, n := range g.Nodes() {
		if len(g.incident[n.Key()]) == 0 {
			orphans = append(orphans, n)
		}
	}
	return orphans
}

// DegreeCentrality computes degree/(2*(n-1)) for each node
func (g *Graph[N, E]) DegreeCentrality() map[string]float64 {
	n := len(g.nodes)
	result := make(map[string]float64, n)
	if n <= 1 {
		for id := range g.nodes {
			result[id] = 0.0
		}
		return result
	}

	normalizer := 2.0 * float64(n-1)
	for id := range g.nodes {
		result[id] = float64(len(g.incident[id])) / normalizer
	}
	return result
}
