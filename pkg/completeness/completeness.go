// Package completeness decides how an incoming observation of an entity
// combines with what is already known about it.
//
// Completeness only ever moves stub -> partial -> full. Display data
// (label, entity type, metadata) merges independently of that decision so
// a same-level refresh can still update it.
package completeness

import (
	"reflect"
	"slices"

	"github.com/kittclouds/kitgraph/pkg/model"
)

// Decision is the outcome of comparing two completeness levels.
type Decision int

const (
	// NoOp keeps the current level. Same-level or stale observations.
	NoOp Decision = iota
	// AcceptUpgrade moves the node to the requested, higher level.
	AcceptUpgrade
	// RejectDowngrade refuses a request for a lower level.
	RejectDowngrade
)

func (d Decision) String() string {
	switch d {
	case NoOp:
		return "no_op"
	case AcceptUpgrade:
		return "accept_upgrade"
	case RejectDowngrade:
		return "reject_downgrade"
	}
	return "unknown"
}

// Policy selects how lower requested levels are treated.
type Policy int

const (
	// PolicyStrict rejects any request for a lower level.
	PolicyStrict Policy = iota
	// PolicyLenient treats a lower level as a stale observation and
	// keeps the current one. Useful when list-level summaries keep
	// arriving for entities already fetched in full.
	PolicyLenient
)

// Decide compares the current level against the requested one.
func Decide(current, requested model.Completeness, policy Policy) Decision {
	switch cur, req := current.Rank(), requested.Rank(); {
	case req > cur:
		return AcceptUpgrade
	case req == cur:
		return NoOp
	case policy == PolicyLenient:
		return NoOp
	default:
		return RejectDowngrade
	}
}

// Patch is the display data carried by an observation.
// Empty strings and nil metadata values mean "not provided".
type Patch struct {
	Completeness model.Completeness
	EntityType   model.EntityType
	Label        string
	Metadata     model.Metadata
}

// MergeNode applies patch to a copy of existing. The completeness level
// changes only when d is AcceptUpgrade; a RejectDowngrade decision leaves
// the node untouched. UpdatedAt is set to now when anything changed.
// The caller's node is never modified.
func MergeNode(existing *model.GraphNode, patch Patch, d Decision, now int64) (*model.GraphNode, bool) {
	out := existing.Clone()
	if d == RejectDowngrade {
		return out, false
	}

	changed := false
	if d == AcceptUpgrade && out.Completeness != patch.Completeness {
		out.Completeness = patch.Completeness
		changed = true
	}
	if patch.Label != "" && patch.Label != out.Label {
		out.Label = patch.Label
		changed = true
	}
	if patch.EntityType != "" && patch.EntityType != out.EntityType {
		out.EntityType = patch.EntityType
		changed = true
	}
	if md, ok := mergeMetadata(out.Metadata, patch.Metadata); ok {
		out.Metadata = md
		changed = true
	}

	if changed {
		out.UpdatedAt = now
	}
	return out, changed
}

// MergeEdge folds the optional properties and metadata of incoming into a
// copy of existing. Identity, direction and discovery time stay those of
// the first observation.
func MergeEdge(existing, incoming *model.GraphEdge) (*model.GraphEdge, bool) {
	out := existing.Clone()
	changed := false

	changed = mergePtr(&out.Position, incoming.Position) || changed
	changed = mergePtr(&out.IsCorresponding, incoming.IsCorresponding) || changed
	changed = mergePtr(&out.IsOpenAccess, incoming.IsOpenAccess) || changed
	changed = mergePtr(&out.Score, incoming.Score) || changed
	changed = mergePtr(&out.AwardID, incoming.AwardID) || changed
	changed = mergePtr(&out.Role, incoming.Role) || changed
	if incoming.Years != nil && !slices.Equal(out.Years, incoming.Years) {
		out.Years = slices.Clone(incoming.Years)
		changed = true
	}
	if md, ok := mergeMetadata(out.Metadata, incoming.Metadata); ok {
		out.Metadata = md
		changed = true
	}
	return out, changed
}

func mergePtr[T comparable](dst **T, src *T) bool {
	if src == nil {
		return false
	}
	if *dst != nil && **dst == *src {
		return false
	}
	v := *src
	*dst = &v
	return true
}

// mergeMetadata overlays the non-nil values of in onto base. It returns
// the merged map and whether any key changed. base is not modified.
func mergeMetadata(base, in model.Metadata) (model.Metadata, bool) {
	var out model.Metadata
	for k, v := range in {
		if v == nil {
			continue
		}
		if old, ok := base[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		if out == nil {
			out = base.Clone()
			if out == nil {
				out = make(model.Metadata, len(in))
			}
		}
		out[k] = v
	}
	return out, out != nil
}
