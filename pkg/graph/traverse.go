package graph

import "github.com/RoaringBitmap/roaring"

// StepFunc decides whether a traversal may cross e. forward is true when
// crossing from source to target. A nil StepFunc allows every step.
type StepFunc[E Edge] func(e E, forward bool) bool

// InducedSubgraph returns a new graph holding the requested nodes that
// exist and every edge whose endpoints are both among them. Unknown keys
// are ignored. Insertion order follows the receiver.
func (g *Graph[N, E]) InducedSubgraph(keys []string) *Graph[N, E] {
	members := roaring.New()
	for _, k := range keys {
		if ord, ok := g.nodeOrd[k]; ok {
			members.Add(ord)
		}
	}

	sub := New[N, E]()
	for _, n := range g.Nodes() {
		if members.Contains(g.nodeOrd[n.Key()]) {
			sub.insertNode(n.Key(), n)
		}
	}
	for _, e := range g.Edges() {
		src, okS := g.nodeOrd[e.SourceID()]
		dst, okT := g.nodeOrd[e.TargetID()]
		if okS && okT && members.Contains(src) && members.Contains(dst) {
			_ = sub.AddEdge(e)
		}
	}
	return sub
}

// ShortestPath runs a breadth-first search from one node to another and
// returns the node keys along the path, endpoints included. Edges are
// tried in insertion order, so among equal-length paths the one using
// older edges wins. It returns false when either node is missing or no
// path exists.
func (g *Graph[N, E]) ShortestPath(from, to string, step StepFunc[E]) ([]string, bool) {
	start, ok := g.nodeOrd[from]
	if !ok || !g.HasNode(to) {
		return nil, false
	}
	if from == to {
		return []string{from}, true
	}

	visited := roaring.New()
	visited.Add(start)
	parent := map[string]string{}
	queue := []string{from}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, ek := range g.incident[cur] {
			e := g.edges[ek]
			forward := e.SourceID() == cur
			next := e.TargetID()
			if !forward {
				next = e.SourceID()
			}
			ord, exists := g.nodeOrd[next]
			if !exists || visited.Contains(ord) {
				continue
			}
			if step != nil && !step(e, forward) {
				continue
			}
			visited.Add(ord)
			parent[next] = cur
			if next == to {
				return unwind(parent, from, to), true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

func unwind(parent map[string]string, from, to string) []string {
	path := []string{to}
	for cur := to; cur != from; {
		cur = parent[cur]
		path = append(path, cur)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
