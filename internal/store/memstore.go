package store

import (
	"context"
	"sync"

	"github.com/kittclouds/kitgraph/pkg/model"
)

// MemStore is an in-memory implementation of Storer.
// Used by tests, by the wasm build as a fallback, and as the index behind FSStore.
type MemStore struct {
	mu      sync.RWMutex
	nodes   map[string]*model.GraphNode
	edges   map[string]*model.GraphEdge
	version int
	closed  bool
}

// NewMemStore creates a new in-memory store at the current schema version.
func NewMemStore() *MemStore {
	return NewMemStoreWithVersion(SchemaVersion)
}

// NewMemStoreWithVersion creates a store that reports the given schema
// version. Tests use it to simulate stores written by other releases.
func NewMemStoreWithVersion(version int) *MemStore {
	return &MemStore{
		nodes:   make(map[string]*model.GraphNode),
		edges:   make(map[string]*model.GraphEdge),
		version: version,
	}
}

// Close marks the store closed. Later calls fail with ErrClosed.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemStore) check(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return IOError("mem", err)
	}
	return nil
}

// =============================================================================
// Node CRUD
// =============================================================================

func (s *MemStore) PutNode(ctx context.Context, n *model.GraphNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	// Deep copy to avoid mutation issues
	s.nodes[n.ID] = n.Clone()
	return nil
}

func (s *MemStore) GetNode(ctx context.Context, id string) (*model.GraphNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	if n, ok := s.nodes[id]; ok {
		return n.Clone(), nil
	}
	return nil, nil
}

func (s *MemStore) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	delete(s.nodes, id)
	return nil
}

func (s *MemStore) BulkPutNodes(ctx context.Context, nodes []*model.GraphNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	for _, n := range nodes {
		s.nodes[n.ID] = n.Clone()
	}
	return nil
}

func (s *MemStore) AllNodes(ctx context.Context) ([]*model.GraphNode, error) {
	return s.selectNodes(ctx, func(*model.GraphNode) bool { return true })
}

func (s *MemStore) NodesByEntityType(ctx context.Context, t model.EntityType) ([]*model.GraphNode, error) {
	return s.selectNodes(ctx, func(n *model.GraphNode) bool { return n.EntityType == t })
}

func (s *MemStore) NodesByCompleteness(ctx context.Context, c model.Completeness) ([]*model.GraphNode, error) {
	return s.selectNodes(ctx, func(n *model.GraphNode) bool { return n.Completeness == c })
}

func (s *MemStore) NodesCachedBefore(ctx context.Context, ts int64) ([]*model.GraphNode, error) {
	return s.selectNodes(ctx, func(n *model.GraphNode) bool { return n.CachedAt < ts })
}

func (s *MemStore) NodesUpdatedSince(ctx context.Context, ts int64) ([]*model.GraphNode, error) {
	return s.selectNodes(ctx, func(n *model.GraphNode) bool { return n.UpdatedAt >= ts })
}

func (s *MemStore) selectNodes(ctx context.Context, keep func(*model.GraphNode) bool) ([]*model.GraphNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	result := make([]*model.GraphNode, 0)
	for _, n := range s.nodes {
		if keep(n) {
			result = append(result, n.Clone())
		}
	}
	SortNodes(result)
	return result, nil
}

// =============================================================================
// Edge CRUD
// =============================================================================

func (s *MemStore) PutEdge(ctx context.Context, e *model.GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	s.edges[e.ID] = e.Clone()
	return nil
}

func (s *MemStore) GetEdge(ctx context.Context, id string) (*model.GraphEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	if e, ok := s.edges[id]; ok {
		return e.Clone(), nil
	}
	return nil, nil
}

func (s *MemStore) DeleteEdge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	delete(s.edges, id)
	return nil
}

func (s *MemStore) BulkPutEdges(ctx context.Context, edges []*model.GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	for _, e := range edges {
		s.edges[e.ID] = e.Clone()
	}
	return nil
}

func (s *MemStore) AllEdges(ctx context.Context) ([]*model.GraphEdge, error) {
	return s.selectEdges(ctx, func(*model.GraphEdge) bool { return true })
}

func (s *MemStore) EdgesBySource(ctx context.Context, source string) ([]*model.GraphEdge, error) {
	return s.selectEdges(ctx, func(e *model.GraphEdge) bool { return e.Source == source })
}

func (s *MemStore) EdgesByTarget(ctx context.Context, target string) ([]*model.GraphEdge, error) {
	return s.selectEdges(ctx, func(e *model.GraphEdge) bool { return e.Target == target })
}

func (s *MemStore) EdgesByType(ctx context.Context, t model.RelationType) ([]*model.GraphEdge, error) {
	return s.selectEdges(ctx, func(e *model.GraphEdge) bool { return e.Type == t })
}

func (s *MemStore) EdgesByDirection(ctx context.Context, d model.Direction) ([]*model.GraphEdge, error) {
	return s.selectEdges(ctx, func(e *model.GraphEdge) bool { return e.Direction == d })
}

func (s *MemStore) EdgesBySourceAndType(ctx context.Context, source string, t model.RelationType) ([]*model.GraphEdge, error) {
	return s.selectEdges(ctx, func(e *model.GraphEdge) bool { return e.Source == source && e.Type == t })
}

func (s *MemStore) EdgesByTargetAndType(ctx context.Context, target string, t model.RelationType) ([]*model.GraphEdge, error) {
	return s.selectEdges(ctx, func(e *model.GraphEdge) bool { return e.Target == target && e.Type == t })
}

func (s *MemStore) selectEdges(ctx context.Context, keep func(*model.GraphEdge) bool) ([]*model.GraphEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	result := make([]*model.GraphEdge, 0)
	for _, e := range s.edges {
		if keep(e) {
			result = append(result, e.Clone())
		}
	}
	SortEdges(result)
	return result, nil
}

// =============================================================================
// Maintenance
// =============================================================================

// Stats estimates size as the JSON encoding of every record.
func (s *MemStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return Stats{}, err
	}

	st := Stats{Nodes: len(s.nodes), Edges: len(s.edges)}
	for _, n := range s.nodes {
		if b, err := ToJSON(n); err == nil {
			st.EstimatedBytes += int64(len(b))
		}
	}
	for _, e := range s.edges {
		if b, err := ToJSON(e); err == nil {
			st.EstimatedBytes += int64(len(b))
		}
	}
	return st, nil
}

func (s *MemStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	s.nodes = make(map[string]*model.GraphNode)
	s.edges = make(map[string]*model.GraphEdge)
	return nil
}

func (s *MemStore) SchemaVersion(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	return s.version, nil
}

// Compile-time interface check
var _ Storer = (*MemStore)(nil)
