// Package model defines the records stored in the knowledge graph.
// The same types flow through the in-memory graph, the storage backends
// and the JSON surfaces (CLI import, wasm bridge).
package model

import "maps"

// Completeness describes how much is known about an entity.
type Completeness string

const (
	// Stub nodes carry only an ID, usually auto-created from an edge.
	Stub Completeness = "stub"
	// Partial nodes come from list-level summaries.
	Partial Completeness = "partial"
	// Full nodes come from a detail-level record.
	Full Completeness = "full"
)

// Rank orders completeness levels. Unknown levels rank below Stub.
func (c Completeness) Rank() int {
	switch c {
	case Stub:
		return 1
	case Partial:
		return 2
	case Full:
		return 3
	}
	return 0
}

// Valid reports whether c is one of the three known levels.
func (c Completeness) Valid() bool {
	return c.Rank() > 0
}

// AllCompleteness lists the levels in upgrade order.
var AllCompleteness = []Completeness{Stub, Partial, Full}

// Direction records which side's data produced an edge.
// It is provenance, not a traversal restriction.
type Direction string

const (
	Outbound Direction = "outbound"
	Inbound  Direction = "inbound"
)

// Valid reports whether d is outbound or inbound.
func (d Direction) Valid() bool {
	return d == Outbound || d == Inbound
}

// Metadata is an opaque bag of extension fields.
type Metadata map[string]any

// Clone returns a shallow copy of m. Nil stays nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

// GraphNode is an entity in the knowledge graph.
type GraphNode struct {
	ID           string       `json:"id"`
	EntityType   EntityType   `json:"entityType"`
	Label        string       `json:"label"`
	Completeness Completeness `json:"completeness"`
	CachedAt     int64        `json:"cachedAt"`
	UpdatedAt    int64        `json:"updatedAt"`
	Metadata     Metadata     `json:"metadata,omitempty"`
}

// Key returns the node ID. It satisfies graph.Node.
func (n *GraphNode) Key() string { return n.ID }

// DisplayLabel returns the label, falling back to the ID.
func (n *GraphNode) DisplayLabel() string {
	if n.Label == "" {
		return n.ID
	}
	return n.Label
}

// Clone returns a deep enough copy that callers cannot alias graph state.
func (n *GraphNode) Clone() *GraphNode {
	if n == nil {
		return nil
	}
	c := *n
	c.Metadata = n.Metadata.Clone()
	return &c
}

// EdgeProperties are the optional relationship attributes common enough
// to be indexed as first-class fields. A nil field means "not known".
type EdgeProperties struct {
	Position        *int     `json:"position,omitempty"`
	IsCorresponding *bool    `json:"isCorresponding,omitempty"`
	IsOpenAccess    *bool    `json:"isOpenAccess,omitempty"`
	Score           *float64 `json:"score,omitempty"`
	Years           []int    `json:"years,omitempty"`
	AwardID         *string  `json:"awardId,omitempty"`
	Role            *string  `json:"role,omitempty"`
}

// Clone copies the pointer targets so the result shares nothing with p.
func (p EdgeProperties) Clone() EdgeProperties {
	c := EdgeProperties{
		Position:        clonePtr(p.Position),
		IsCorresponding: clonePtr(p.IsCorresponding),
		IsOpenAccess:    clonePtr(p.IsOpenAccess),
		Score:           clonePtr(p.Score),
		AwardID:         clonePtr(p.AwardID),
		Role:            clonePtr(p.Role),
	}
	if p.Years != nil {
		c.Years = append([]int(nil), p.Years...)
	}
	return c
}

// GraphEdge is a relationship between two entities.
type GraphEdge struct {
	ID           string       `json:"id"`
	Source       string       `json:"source"`
	Target       string       `json:"target"`
	Type         RelationType `json:"type"`
	Direction    Direction    `json:"direction"`
	DiscoveredAt int64        `json:"discoveredAt"`
	EdgeProperties
	Metadata Metadata `json:"metadata,omitempty"`
}

// Key returns the edge ID. It satisfies graph.Edge.
func (e *GraphEdge) Key() string { return e.ID }

// SourceID returns the source node ID.
func (e *GraphEdge) SourceID() string { return e.Source }

// TargetID returns the target node ID.
func (e *GraphEdge) TargetID() string { return e.Target }

// Clone returns a copy of e that shares no mutable state.
func (e *GraphEdge) Clone() *GraphEdge {
	if e == nil {
		return nil
	}
	c := *e
	c.EdgeProperties = e.EdgeProperties.Clone()
	c.Metadata = e.Metadata.Clone()
	return &c
}

// Ptr returns a pointer to v. Handy for filling EdgeProperties.
func Ptr[T any](v T) *T { return &v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
