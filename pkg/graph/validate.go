package graph

import "fmt"

// IssueKind classifies a structural problem found by Validate.
type IssueKind string

const (
	KeyMismatch    IssueKind = "key_mismatch"
	DanglingSource IssueKind = "dangling_source"
	DanglingTarget IssueKind = "dangling_target"
)

// Issue is one problem found by Validate.
type Issue struct {
	Kind IssueKind
	// Key is the node or edge key the record is stored under.
	Key string
	// Ref is the offending value: the payload's own key for a mismatch,
	// the missing endpoint for a dangling edge.
	Ref string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s (%s)", i.Kind, i.Key, i.Ref)
}

// ValidationResult lists every issue found. An empty result means the
// graph is consistent.
type ValidationResult struct {
	Issues []Issue
}

// OK reports whether no issues were found.
func (r ValidationResult) OK() bool { return len(r.Issues) == 0 }

// Dangling returns the distinct missing endpoint keys, in edge order.
func (r ValidationResult) Dangling() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, is := range r.Issues {
		if is.Kind != DanglingSource && is.Kind != DanglingTarget {
			continue
		}
		if _, ok := seen[is.Ref]; ok {
			continue
		}
		seen[is.Ref] = struct{}{}
		out = append(out, is.Ref)
	}
	return out
}

// Validate checks that stored payloads still match their keys and that
// every edge endpoint exists. It never modifies the graph.
func (g *Graph[N, E]) Validate() ValidationResult {
	var res ValidationResult
	for i, k := range g.byOrdinal {
		if ord, ok := g.nodeOrd[k]; !ok || ord != uint32(i) {
			continue
		}
		if got := g.nodes[k].Key(); got != k {
			res.Issues = append(res.Issues, Issue{Kind: KeyMismatch, Key: k, Ref: got})
		}
	}
	for i, k := range g.edgeOrder {
		if seq, ok := g.edgeSeq[k]; !ok || seq != i {
			continue
		}
		e := g.edges[k]
		if got := e.Key(); got != k {
			res.Issues = append(res.Issues, Issue{Kind: KeyMismatch, Key: k, Ref: got})
		}
		if !g.HasNode(e.SourceID()) {
			res.Issues = append(res.Issues, Issue{Kind: DanglingSource, Key: k, Ref: e.SourceID()})
		}
		if !g.HasNode(e.TargetID()) {
			res.Issues = append(res.Issues, Issue{Kind: DanglingTarget, Key: k, Ref: e.TargetID()})
		}
	}
	return res
}
