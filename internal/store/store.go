// Package store is the durable tier of the knowledge graph.
// Backends implement Storer; the graph orchestrator is their only writer.
package store

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/kittclouds/kitgraph/pkg/model"
)

// SchemaVersion is stamped into every new store. Stores carrying another
// version must be migrated before the graph will hydrate from them.
const SchemaVersion = 1

var (
	// ErrStorageIO marks every failure of the underlying medium.
	ErrStorageIO = errors.New("storage I/O failure")

	// ErrClosed is returned by every call after Close.
	ErrClosed = fmt.Errorf("store closed: %w", ErrStorageIO)
)

// IOError wraps a backend failure so that errors.Is(err, ErrStorageIO)
// holds while the cause stays inspectable.
func IOError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageIO) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageIO, err)
}

// Stats summarizes a store.
type Stats struct {
	Nodes          int   `json:"nodes"`
	Edges          int   `json:"edges"`
	EstimatedBytes int64 `json:"estimatedBytes"`
}

// Storer defines the interface for graph persistence.
//
// Get methods return (nil, nil) for unknown IDs. Put methods upsert by ID.
// Each record write is atomic on its own; nothing spans records.
// AllNodes orders by (CachedAt, ID) and AllEdges by (DiscoveredAt, ID) so
// a reload sees records in discovery order. Index scans use the same order.
type Storer interface {
	// Nodes
	PutNode(ctx context.Context, n *model.GraphNode) error
	GetNode(ctx context.Context, id string) (*model.GraphNode, error)
	DeleteNode(ctx context.Context, id string) error
	BulkPutNodes(ctx context.Context, nodes []*model.GraphNode) error
	AllNodes(ctx context.Context) ([]*model.GraphNode, error)
	NodesByEntityType(ctx context.Context, t model.EntityType) ([]*model.GraphNode, error)
	NodesByCompleteness(ctx context.Context, c model.Completeness) ([]*model.GraphNode, error)
	NodesCachedBefore(ctx context.Context, ts int64) ([]*model.GraphNode, error)
	NodesUpdatedSince(ctx context.Context, ts int64) ([]*model.GraphNode, error)

	// Edges
	PutEdge(ctx context.Context, e *model.GraphEdge) error
	GetEdge(ctx context.Context, id string) (*model.GraphEdge, error)
	DeleteEdge(ctx context.Context, id string) error
	BulkPutEdges(ctx context.Context, edges []*model.GraphEdge) error
	AllEdges(ctx context.Context) ([]*model.GraphEdge, error)
	EdgesBySource(ctx context.Context, source string) ([]*model.GraphEdge, error)
	EdgesByTarget(ctx context.Context, target string) ([]*model.GraphEdge, error)
	EdgesByType(ctx context.Context, t model.RelationType) ([]*model.GraphEdge, error)
	EdgesByDirection(ctx context.Context, d model.Direction) ([]*model.GraphEdge, error)
	EdgesBySourceAndType(ctx context.Context, source string, t model.RelationType) ([]*model.GraphEdge, error)
	EdgesByTargetAndType(ctx context.Context, target string, t model.RelationType) ([]*model.GraphEdge, error)

	// Maintenance
	Stats(ctx context.Context) (Stats, error)
	Clear(ctx context.Context) error
	SchemaVersion(ctx context.Context) (int, error)

	// Lifecycle
	Close() error
}

// CompareNodes orders nodes by creation time, then ID.
func CompareNodes(a, b *model.GraphNode) int {
	if c := cmp.Compare(a.CachedAt, b.CachedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// CompareEdges orders edges by discovery time, then ID.
func CompareEdges(a, b *model.GraphEdge) int {
	if c := cmp.Compare(a.DiscoveredAt, b.DiscoveredAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// SortNodes sorts in place into storage order.
func SortNodes(nodes []*model.GraphNode) { slices.SortFunc(nodes, CompareNodes) }

// SortEdges sorts in place into storage order.
func SortEdges(edges []*model.GraphEdge) { slices.SortFunc(edges, CompareEdges) }

// ToJSON converts a record to JSON bytes.
func ToJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// FromJSON parses JSON bytes into a record.
func FromJSON[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
