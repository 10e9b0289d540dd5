// Package badgerstore is a BadgerDB implementation of store.Storer.
//
// Records are JSON values under one-byte key prefixes. Each secondary index
// is a set of empty-valued keys that end with the record ID; a put rewrites
// the record and its index entries in one transaction, removing the entries
// of the previous version first.
package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/kittclouds/kitgraph/internal/store"
	"github.com/kittclouds/kitgraph/pkg/model"
)

// Store is the BadgerDB-backed graph store.
type Store struct {
	mu     sync.RWMutex
	db     *badger.DB
	gc     *gcRunner
	closed bool
}

// Open opens (or creates) a store with the given configuration.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, store.IOError("badger: open", err)
	}

	s := &Store{db: db}
	if err := s.ensureVersion(); err != nil {
		db.Close()
		return nil, err
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return s, nil
}

// OpenInMemory opens an in-memory store. Data is lost when closed.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// newWithVersion opens an in-memory store stamped with an arbitrary
// schema version.
func newWithVersion(version int) (*Store, error) {
	s, err := OpenInMemory()
	if err != nil {
		return nil, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(schemaVersionKey, []byte(strconv.Itoa(version)))
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureVersion() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(schemaVersionKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(schemaVersionKey, []byte(strconv.Itoa(store.SchemaVersion)))
		}
		return err
	})
	return store.IOError("badger: stamp schema version", err)
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func (s *Store) begin(ctx context.Context) (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		s.mu.RUnlock()
		return nil, store.IOError("badger", err)
	}
	return s.mu.RUnlock, nil
}

func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	done, err := s.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer done()

	var version int
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(schemaVersionKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			version, err = strconv.Atoi(string(val))
			return err
		})
	})
	if err != nil {
		return 0, store.IOError("badger: read schema version", err)
	}
	return version, nil
}

// =============================================================================
// Encoding helpers
// =============================================================================

func getJSON[T any](txn *badger.Txn, key []byte) (*T, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out *T
	err = item.Value(func(val []byte) error {
		var decodeErr error
		out, decodeErr = store.FromJSON[T](val)
		return decodeErr
	})
	return out, err
}

// rewrite replaces a record and its index entries inside txn.
func rewrite(txn *badger.Txn, key []byte, value any, oldIndex, newIndex [][]byte) error {
	for _, k := range oldIndex {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	raw, err := store.ToJSON(value)
	if err != nil {
		return err
	}
	if err := txn.Set(key, raw); err != nil {
		return err
	}
	for _, k := range newIndex {
		if err := txn.Set(k, []byte{}); err != nil {
			return err
		}
	}
	return nil
}

// bulk applies put to n records in as few transactions as fit. A record
// never spans two commits: when one overflows the transaction, the
// transaction is dropped, the records before it are replayed and
// committed, and the overflowing record opens the next transaction.
func (s *Store) bulk(n int, put func(txn *badger.Txn, i int) error) error {
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	start := 0
	for i := 0; i < n; i++ {
		err := put(txn, i)
		if errors.Is(err, badger.ErrTxnTooBig) && i > start {
			txn.Discard()
			txn = s.db.NewTransaction(true)
			for j := start; j < i; j++ {
				if err := put(txn, j); err != nil {
					return err
				}
			}
			if err := txn.Commit(); err != nil {
				return err
			}
			txn = s.db.NewTransaction(true)
			start = i
			err = put(txn, i)
		}
		if err != nil {
			return err
		}
	}
	return txn.Commit()
}

// scanIDs collects the record IDs of every index key under prefix.
// stop, if set, ends the scan early at the first key it accepts.
func scanIDs(txn *badger.Txn, seek, prefix []byte, idOffset int, stop func(key []byte) bool) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().Key()
		if stop != nil && stop(key) {
			break
		}
		ids = append(ids, string(key[idOffset:]))
	}
	return ids
}

// =============================================================================
// Node CRUD
// =============================================================================

func putNodeTxn(txn *badger.Txn, n *model.GraphNode) error {
	old, err := getJSON[model.GraphNode](txn, nodeKey(n.ID))
	if err != nil {
		return err
	}
	var oldIndex [][]byte
	if old != nil {
		oldIndex = nodeIndexKeys(old)
	}
	return rewrite(txn, nodeKey(n.ID), n, oldIndex, nodeIndexKeys(n))
}

func (s *Store) PutNode(ctx context.Context, n *model.GraphNode) error {
	done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	err = s.db.Update(func(txn *badger.Txn) error { return putNodeTxn(txn, n) })
	return store.IOError("badger: put node "+n.ID, err)
}

func (s *Store) GetNode(ctx context.Context, id string) (*model.GraphNode, error) {
	done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	var n *model.GraphNode
	err = s.db.View(func(txn *badger.Txn) error {
		n, err = getJSON[model.GraphNode](txn, nodeKey(id))
		return err
	})
	if err != nil {
		return nil, store.IOError("badger: get node "+id, err)
	}
	return n, nil
}

func (s *Store) DeleteNode(ctx context.Context, id string) error {
	done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	err = s.db.Update(func(txn *badger.Txn) error {
		old, err := getJSON[model.GraphNode](txn, nodeKey(id))
		if err != nil || old == nil {
			return err
		}
		for _, k := range append(nodeIndexKeys(old), nodeKey(id)) {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return store.IOError("badger: delete node "+id, err)
}

func (s *Store) BulkPutNodes(ctx context.Context, nodes []*model.GraphNode) error {
	done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	err = s.bulk(len(nodes), func(txn *badger.Txn, i int) error {
		return putNodeTxn(txn, nodes[i])
	})
	return store.IOError("badger: bulk put nodes", err)
}

// nodesFor loads the records behind ids, skipping any that vanished.
func nodesFor(txn *badger.Txn, ids []string) ([]*model.GraphNode, error) {
	out := make([]*model.GraphNode, 0, len(ids))
	for _, id := range ids {
		n, err := getJSON[model.GraphNode](txn, nodeKey(id))
		if err != nil {
			return nil, err
		}
		if n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Store) viewNodes(ctx context.Context, op string, ids func(txn *badger.Txn) []string, sorted bool) ([]*model.GraphNode, error) {
	done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	var nodes []*model.GraphNode
	err = s.db.View(func(txn *badger.Txn) error {
		nodes, err = nodesFor(txn, ids(txn))
		return err
	})
	if err != nil {
		return nil, store.IOError("badger: "+op, err)
	}
	if !sorted {
		store.SortNodes(nodes)
	}
	return nodes, nil
}

// AllNodes walks the cachedAt index, which is already in storage order.
func (s *Store) AllNodes(ctx context.Context) ([]*model.GraphNode, error) {
	prefix := []byte{prefixNodeCachedAt}
	return s.viewNodes(ctx, "all nodes", func(txn *badger.Txn) []string {
		return scanIDs(txn, prefix, prefix, 9, nil)
	}, true)
}

func (s *Store) NodesByEntityType(ctx context.Context, t model.EntityType) ([]*model.GraphNode, error) {
	prefix := indexPrefix(prefixNodeType, string(t))
	return s.viewNodes(ctx, "nodes by type", func(txn *badger.Txn) []string {
		return scanIDs(txn, prefix, prefix, len(prefix), nil)
	}, false)
}

func (s *Store) NodesByCompleteness(ctx context.Context, c model.Completeness) ([]*model.GraphNode, error) {
	prefix := indexPrefix(prefixNodeCompleteness, string(c))
	return s.viewNodes(ctx, "nodes by completeness", func(txn *badger.Txn) []string {
		return scanIDs(txn, prefix, prefix, len(prefix), nil)
	}, false)
}

func (s *Store) NodesCachedBefore(ctx context.Context, ts int64) ([]*model.GraphNode, error) {
	prefix := []byte{prefixNodeCachedAt}
	bound := timePrefix(prefixNodeCachedAt, ts)
	return s.viewNodes(ctx, "nodes cached before", func(txn *badger.Txn) []string {
		return scanIDs(txn, prefix, prefix, 9, func(key []byte) bool {
			return bytes.Compare(key[:9], bound) >= 0
		})
	}, true)
}

func (s *Store) NodesUpdatedSince(ctx context.Context, ts int64) ([]*model.GraphNode, error) {
	prefix := []byte{prefixNodeUpdatedAt}
	return s.viewNodes(ctx, "nodes updated since", func(txn *badger.Txn) []string {
		return scanIDs(txn, timePrefix(prefixNodeUpdatedAt, ts), prefix, 9, nil)
	}, false)
}

// =============================================================================
// Edge CRUD
// =============================================================================

func putEdgeTxn(txn *badger.Txn, e *model.GraphEdge) error {
	old, err := getJSON[model.GraphEdge](txn, edgeKey(e.ID))
	if err != nil {
		return err
	}
	var oldIndex [][]byte
	if old != nil {
		oldIndex = edgeIndexKeys(old)
	}
	return rewrite(txn, edgeKey(e.ID), e, oldIndex, edgeIndexKeys(e))
}

func (s *Store) PutEdge(ctx context.Context, e *model.GraphEdge) error {
	done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	err = s.db.Update(func(txn *badger.Txn) error { return putEdgeTxn(txn, e) })
	return store.IOError("badger: put edge "+e.ID, err)
}

func (s *Store) GetEdge(ctx context.Context, id string) (*model.GraphEdge, error) {
	done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	var e *model.GraphEdge
	err = s.db.View(func(txn *badger.Txn) error {
		e, err = getJSON[model.GraphEdge](txn, edgeKey(id))
		return err
	})
	if err != nil {
		return nil, store.IOError("badger: get edge "+id, err)
	}
	return e, nil
}

func (s *Store) DeleteEdge(ctx context.Context, id string) error {
	done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	err = s.db.Update(func(txn *badger.Txn) error {
		old, err := getJSON[model.GraphEdge](txn, edgeKey(id))
		if err != nil || old == nil {
			return err
		}
		for _, k := range append(edgeIndexKeys(old), edgeKey(id)) {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return store.IOError("badger: delete edge "+id, err)
}

func (s *Store) BulkPutEdges(ctx context.Context, edges []*model.GraphEdge) error {
	done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	err = s.bulk(len(edges), func(txn *badger.Txn, i int) error {
		return putEdgeTxn(txn, edges[i])
	})
	return store.IOError("badger: bulk put edges", err)
}

func edgesFor(txn *badger.Txn, ids []string) ([]*model.GraphEdge, error) {
	out := make([]*model.GraphEdge, 0, len(ids))
	for _, id := range ids {
		e, err := getJSON[model.GraphEdge](txn, edgeKey(id))
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// viewEdges resolves one string-valued index prefix into edge records.
func (s *Store) viewEdges(ctx context.Context, op string, prefix []byte, idOffset int, sorted bool) ([]*model.GraphEdge, error) {
	done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	var edges []*model.GraphEdge
	err = s.db.View(func(txn *badger.Txn) error {
		edges, err = edgesFor(txn, scanIDs(txn, prefix, prefix, idOffset, nil))
		return err
	})
	if err != nil {
		return nil, store.IOError("badger: "+op, err)
	}
	if !sorted {
		store.SortEdges(edges)
	}
	return edges, nil
}

// AllEdges walks the discoveredAt index, which is already in storage order.
func (s *Store) AllEdges(ctx context.Context) ([]*model.GraphEdge, error) {
	return s.viewEdges(ctx, "all edges", []byte{prefixEdgeDiscoveredAt}, 9, true)
}

func (s *Store) EdgesBySource(ctx context.Context, source string) ([]*model.GraphEdge, error) {
	p := indexPrefix(prefixEdgeSource, source)
	return s.viewEdges(ctx, "edges by source", p, len(p), false)
}

func (s *Store) EdgesByTarget(ctx context.Context, target string) ([]*model.GraphEdge, error) {
	p := indexPrefix(prefixEdgeTarget, target)
	return s.viewEdges(ctx, "edges by target", p, len(p), false)
}

func (s *Store) EdgesByType(ctx context.Context, t model.RelationType) ([]*model.GraphEdge, error) {
	p := indexPrefix(prefixEdgeType, string(t))
	return s.viewEdges(ctx, "edges by type", p, len(p), false)
}

func (s *Store) EdgesByDirection(ctx context.Context, d model.Direction) ([]*model.GraphEdge, error) {
	p := indexPrefix(prefixEdgeDirection, string(d))
	return s.viewEdges(ctx, "edges by direction", p, len(p), false)
}

func (s *Store) EdgesBySourceAndType(ctx context.Context, source string, t model.RelationType) ([]*model.GraphEdge, error) {
	p := indexPrefix(prefixEdgeSourceType, source, string(t))
	return s.viewEdges(ctx, "edges by source and type", p, len(p), false)
}

func (s *Store) EdgesByTargetAndType(ctx context.Context, target string, t model.RelationType) ([]*model.GraphEdge, error) {
	p := indexPrefix(prefixEdgeTargetType, target, string(t))
	return s.viewEdges(ctx, "edges by target and type", p, len(p), false)
}

// =============================================================================
// Maintenance
// =============================================================================

// Stats counts records and sums Badger's size estimate for them.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	done, err := s.begin(ctx)
	if err != nil {
		return store.Stats{}, err
	}
	defer done()

	var st store.Stats
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for _, p := range [][]byte{{prefixNode}, {prefixEdge}} {
			for it.Seek(p); it.ValidForPrefix(p); it.Next() {
				st.EstimatedBytes += it.Item().EstimatedSize()
				if p[0] == prefixNode {
					st.Nodes++
				} else {
					st.Edges++
				}
			}
		}
		return nil
	})
	if err != nil {
		return store.Stats{}, store.IOError("badger: stats", err)
	}
	return st, nil
}

// Clear drops every record and index entry. The schema version stays.
func (s *Store) Clear(ctx context.Context) error {
	done, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	return store.IOError("badger: clear", s.db.DropPrefix(dataPrefixes...))
}

// Compile-time interface check
var _ store.Storer = (*Store)(nil)

