package pgraph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/kittclouds/kitgraph/internal/store"
	"github.com/kittclouds/kitgraph/pkg/completeness"
	"github.com/kittclouds/kitgraph/pkg/edgeid"
	"github.com/kittclouds/kitgraph/pkg/model"
)

// NodeInput is one observation of an entity.
type NodeInput struct {
	ID string `json:"id"`
	// EntityType is inferred from the ID prefix when empty.
	EntityType model.EntityType `json:"entityType,omitempty"`
	// Label falls back to the ID for new nodes when empty.
	Label string `json:"label,omitempty"`
	// Completeness defaults to stub.
	Completeness model.Completeness `json:"completeness,omitempty"`
	Metadata     model.Metadata     `json:"metadata,omitempty"`
}

func (in *NodeInput) normalize() error {
	if !edgeid.ValidEntityID(in.ID) {
		return fmt.Errorf("%w: node id %q", ErrInvalidInput, in.ID)
	}
	if in.Completeness == "" {
		in.Completeness = model.Stub
	}
	if !in.Completeness.Valid() {
		return fmt.Errorf("%w: completeness %q", ErrInvalidInput, in.Completeness)
	}
	if in.EntityType != "" && !in.EntityType.Valid() {
		return fmt.Errorf("%w: entity type %q", ErrInvalidInput, in.EntityType)
	}
	return nil
}

// EdgeInput is one observation of a relationship.
type EdgeInput struct {
	Source string             `json:"source"`
	Target string             `json:"target"`
	Type   model.RelationType `json:"type"`
	// Direction defaults to outbound.
	Direction model.Direction `json:"direction,omitempty"`
	model.EdgeProperties
	Metadata model.Metadata `json:"metadata,omitempty"`
}

func (in *EdgeInput) normalize() (string, error) {
	id, err := edgeid.Generate(in.Source, in.Target, in.Type)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if in.Direction == "" {
		in.Direction = model.Outbound
	}
	if !in.Direction.Valid() {
		return "", fmt.Errorf("%w: direction %q", ErrInvalidInput, in.Direction)
	}
	return id, nil
}

// mutate runs fn under the shared operation lock once the graph is
// ready. Events fn returns are emitted after every lock is released,
// including those for work done before a later step failed.
func (pg *PersistentGraph) mutate(ctx context.Context, op, id string, fn func(ctx context.Context, st store.Storer) ([]Event, error)) error {
	ctx, span := startOpSpan(ctx, op, id)
	defer span.End()
	start := time.Now()

	pg.opMu.RLock()
	evs, err := pg.runLocked(ctx, fn)
	pg.opMu.RUnlock()

	recordMutation(ctx, op, time.Since(start), err)
	for _, ev := range evs {
		pg.events.emit(ev)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		return pg.fail(op, id, err)
	}
	pg.log.Debug("mutation applied", slog.String("op", op), slog.String("id", id), slog.Int("events", len(evs)))
	return nil
}

func (pg *PersistentGraph) runLocked(ctx context.Context, fn func(context.Context, store.Storer) ([]Event, error)) ([]Event, error) {
	if err := pg.ready(ctx); err != nil {
		return nil, err
	}
	pg.mu.RLock()
	st := pg.st
	pg.mu.RUnlock()
	return fn(ctx, st)
}

func (pg *PersistentGraph) lookupNode(id string) (*model.GraphNode, bool) {
	pg.mu.RLock()
	defer pg.mu.RUnlock()
	return pg.g.GetNode(id)
}

func (pg *PersistentGraph) lookupEdge(id string) (*model.GraphEdge, bool) {
	pg.mu.RLock()
	defer pg.mu.RUnlock()
	return pg.g.GetEdge(id)
}

// putNode writes n through and then installs it in memory.
func (pg *PersistentGraph) putNode(ctx context.Context, st store.Storer, n *model.GraphNode) error {
	if err := st.PutNode(ctx, n); err != nil {
		return fmt.Errorf("pgraph: persist node %s: %w", n.ID, err)
	}
	pg.mu.Lock()
	_ = pg.g.SetNode(n)
	pg.lastUpdated = max(pg.lastUpdated, n.UpdatedAt)
	pg.mu.Unlock()
	return nil
}

func (pg *PersistentGraph) putEdge(ctx context.Context, st store.Storer, e *model.GraphEdge, ts int64) error {
	if err := st.PutEdge(ctx, e); err != nil {
		return fmt.Errorf("pgraph: persist edge %s: %w", e.ID, err)
	}
	pg.mu.Lock()
	_ = pg.g.SetEdge(e)
	pg.lastUpdated = max(pg.lastUpdated, ts)
	pg.mu.Unlock()
	return nil
}

// =============================================================================
// Nodes
// =============================================================================

// AddNode records an observation of an entity. A new ID creates the node
// at the given level. For a known ID the completeness lifecycle decides:
// an upgrade is applied, a same-level (or, with PolicyLenient, stale)
// observation only merges display data, and a downgrade under
// PolicyStrict fails with ErrInvalidTransition. The stored node is
// returned.
func (pg *PersistentGraph) AddNode(ctx context.Context, in NodeInput) (*model.GraphNode, error) {
	if err := in.normalize(); err != nil {
		return nil, pg.fail("add_node", in.ID, err)
	}

	var out *model.GraphNode
	err := pg.mutate(ctx, "add_node", in.ID, func(ctx context.Context, st store.Storer) ([]Event, error) {
		unlock := pg.locks.lock(in.ID)
		defer unlock()

		now := pg.now()
		existing, ok := pg.lookupNode(in.ID)
		if !ok {
			n := &model.GraphNode{
				ID:           in.ID,
				EntityType:   in.EntityType,
				Label:        in.Label,
				Completeness: in.Completeness,
				CachedAt:     now,
				UpdatedAt:    now,
				Metadata:     in.Metadata.Clone(),
			}
			if n.EntityType == "" {
				n.EntityType = model.EntityTypeFromID(in.ID)
			}
			if n.Label == "" {
				n.Label = in.ID
			}
			if err := pg.putNode(ctx, st, n); err != nil {
				return nil, err
			}
			out = n.Clone()
			return []Event{{Type: EventNodeAdded, Node: n.Clone()}}, nil
		}

		d := completeness.Decide(existing.Completeness, in.Completeness, pg.policy)
		if d == completeness.RejectDowngrade {
			return nil, fmt.Errorf("%w: %s is %s, observed %s",
				ErrInvalidTransition, in.ID, existing.Completeness, in.Completeness)
		}
		merged, changed := completeness.MergeNode(existing, completeness.Patch{
			Completeness: in.Completeness,
			EntityType:   in.EntityType,
			Label:        in.Label,
			Metadata:     in.Metadata,
		}, d, now)
		if !changed {
			out = existing.Clone()
			return nil, nil
		}
		if err := pg.putNode(ctx, st, merged); err != nil {
			return nil, err
		}
		out = merged.Clone()
		return []Event{{Type: EventNodeUpdated, Node: merged.Clone()}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateNodeCompleteness moves a known node to level c. Only upgrades
// change anything; a downgrade fails with ErrInvalidTransition.
func (pg *PersistentGraph) UpdateNodeCompleteness(ctx context.Context, id string, c model.Completeness) (*model.GraphNode, error) {
	if !c.Valid() {
		return nil, pg.fail("update_completeness", id, fmt.Errorf("%w: completeness %q", ErrInvalidInput, c))
	}
	return pg.updateNode(ctx, "update_completeness", id, func(existing *model.GraphNode, now int64) (*model.GraphNode, bool, error) {
		d := completeness.Decide(existing.Completeness, c, completeness.PolicyStrict)
		if d == completeness.RejectDowngrade {
			return nil, false, fmt.Errorf("%w: %s is %s, requested %s",
				ErrInvalidTransition, id, existing.Completeness, c)
		}
		n, changed := completeness.MergeNode(existing, completeness.Patch{Completeness: c}, d, now)
		return n, changed, nil
	})
}

// UpdateNodeLabel sets the display label of a known node.
func (pg *PersistentGraph) UpdateNodeLabel(ctx context.Context, id, label string) (*model.GraphNode, error) {
	if label == "" {
		return nil, pg.fail("update_label", id, fmt.Errorf("%w: empty label", ErrInvalidInput))
	}
	return pg.updateNode(ctx, "update_label", id, func(existing *model.GraphNode, now int64) (*model.GraphNode, bool, error) {
		n, changed := completeness.MergeNode(existing, completeness.Patch{Label: label}, completeness.NoOp, now)
		return n, changed, nil
	})
}

func (pg *PersistentGraph) updateNode(ctx context.Context, op, id string, apply func(*model.GraphNode, int64) (*model.GraphNode, bool, error)) (*model.GraphNode, error) {
	var out *model.GraphNode
	err := pg.mutate(ctx, op, id, func(ctx context.Context, st store.Storer) ([]Event, error) {
		unlock := pg.locks.lock(id)
		defer unlock()

		existing, ok := pg.lookupNode(id)
		if !ok {
			return nil, fmt.Errorf("%w: node %s", ErrNotFound, id)
		}
		n, changed, err := apply(existing, pg.now())
		if err != nil {
			return nil, err
		}
		if !changed {
			out = existing.Clone()
			return nil, nil
		}
		if err := pg.putNode(ctx, st, n); err != nil {
			return nil, err
		}
		out = n.Clone()
		return []Event{{Type: EventNodeUpdated, Node: n.Clone()}}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveNode deletes a node and every edge touching it. Edges go first,
// one at a time; each is dropped from memory as soon as the store has
// deleted it.
func (pg *PersistentGraph) RemoveNode(ctx context.Context, id string) error {
	return pg.mutate(ctx, "remove_node", id, func(ctx context.Context, st store.Storer) ([]Event, error) {
		unlock := pg.locks.lock(id)
		defer unlock()

		if _, ok := pg.lookupNode(id); !ok {
			return nil, fmt.Errorf("%w: node %s", ErrNotFound, id)
		}
		pg.mu.RLock()
		incident := pg.g.IncidentEdges(id)
		pg.mu.RUnlock()

		var evs []Event
		for _, e := range incident {
			if err := st.DeleteEdge(ctx, e.ID); err != nil {
				return evs, fmt.Errorf("pgraph: delete edge %s: %w", e.ID, err)
			}
			pg.mu.Lock()
			pg.g.RemoveEdge(e.ID)
			pg.mu.Unlock()
			evs = append(evs, Event{Type: EventEdgeRemoved, ID: e.ID, Edge: e.Clone()})
		}

		if err := st.DeleteNode(ctx, id); err != nil {
			return evs, fmt.Errorf("pgraph: delete node %s: %w", id, err)
		}
		pg.mu.Lock()
		removed, _ := pg.g.GetNode(id)
		pg.g.RemoveNode(id)
		pg.lastUpdated = max(pg.lastUpdated, pg.now())
		pg.mu.Unlock()
		return append(evs, Event{Type: EventNodeRemoved, ID: id, Node: removed.Clone()}), nil
	})
}

// =============================================================================
// Edges
// =============================================================================

// AddEdge records an observation of a relationship. Unknown endpoints
// are created as stub nodes first. A repeat of the same source, target
// and type merges optional properties into the existing edge. The
// stored edge is returned.
func (pg *PersistentGraph) AddEdge(ctx context.Context, in EdgeInput) (*model.GraphEdge, error) {
	id, err := in.normalize()
	if err != nil {
		return nil, pg.fail("add_edge", in.Source+"->"+in.Target, err)
	}

	var out *model.GraphEdge
	err = pg.mutate(ctx, "add_edge", id, func(ctx context.Context, st store.Storer) ([]Event, error) {
		unlock := pg.locks.lock(in.Source, in.Target, id)
		defer unlock()

		var evs []Event
		for _, end := range endpoints(in.Source, in.Target) {
			if _, ok := pg.lookupNode(end); ok {
				continue
			}
			stub := newStub(end, pg.now())
			if err := pg.putNode(ctx, st, stub); err != nil {
				return evs, err
			}
			evs = append(evs, Event{Type: EventNodeAdded, Node: stub.Clone()})
		}

		now := pg.now()
		incoming := &model.GraphEdge{
			ID:             id,
			Source:         in.Source,
			Target:         in.Target,
			Type:           in.Type,
			Direction:      in.Direction,
			DiscoveredAt:   now,
			EdgeProperties: in.EdgeProperties.Clone(),
			Metadata:       in.Metadata.Clone(),
		}

		existing, ok := pg.lookupEdge(id)
		if !ok {
			if err := pg.putEdge(ctx, st, incoming, now); err != nil {
				return evs, err
			}
			out = incoming.Clone()
			return append(evs, Event{Type: EventEdgeAdded, Edge: incoming.Clone()}), nil
		}

		merged, changed := completeness.MergeEdge(existing, incoming)
		if !changed {
			out = existing.Clone()
			return evs, nil
		}
		if err := pg.putEdge(ctx, st, merged, now); err != nil {
			return evs, err
		}
		out = merged.Clone()
		return append(evs, Event{Type: EventEdgeUpdated, Edge: merged.Clone()}), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func endpoints(source, target string) []string {
	if source == target {
		return []string{source}
	}
	return []string{source, target}
}

// RemoveEdge deletes one edge. Its endpoints stay.
func (pg *PersistentGraph) RemoveEdge(ctx context.Context, id string) error {
	return pg.mutate(ctx, "remove_edge", id, func(ctx context.Context, st store.Storer) ([]Event, error) {
		parts, err := edgeid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		unlock := pg.locks.lock(parts.Source, parts.Target, id)
		defer unlock()

		e, ok := pg.lookupEdge(id)
		if !ok {
			return nil, fmt.Errorf("%w: edge %s", ErrNotFound, id)
		}
		if err := st.DeleteEdge(ctx, id); err != nil {
			return nil, fmt.Errorf("pgraph: delete edge %s: %w", id, err)
		}
		pg.mu.Lock()
		pg.g.RemoveEdge(id)
		pg.lastUpdated = max(pg.lastUpdated, pg.now())
		pg.mu.Unlock()
		return []Event{{Type: EventEdgeRemoved, ID: id, Edge: e.Clone()}}, nil
	})
}
