package store

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/hack-pad/hackpadfs"

	"github.com/kittclouds/kitgraph/pkg/model"
)

const (
	nodesDir    = "nodes"
	edgesDir    = "edges"
	metaDir     = "meta"
	versionFile = "meta/schema_version"
	recordExt   = ".json"
	tmpExt      = ".tmp"
)

// FSStore keeps one JSON file per record on a hackpadfs filesystem:
// IndexedDB in the browser, a directory from the CLI, memory in tests.
// Every record is read into an in-memory index at open; reads and index
// scans are served from it and writes go to the file first.
type FSStore struct {
	fs  hackpadfs.FS
	mu  sync.Mutex // serializes writers so file and index agree
	idx *MemStore
}

// OpenFS opens (or initializes) a store rooted at the top of fsys.
func OpenFS(ctx context.Context, fsys hackpadfs.FS) (*FSStore, error) {
	for _, dir := range []string{nodesDir, edgesDir, metaDir} {
		if err := hackpadfs.MkdirAll(fsys, dir, 0o755); err != nil {
			return nil, IOError("fs: create "+dir, err)
		}
	}

	version, err := readVersion(fsys)
	if err != nil {
		return nil, err
	}

	s := &FSStore{fs: fsys, idx: NewMemStoreWithVersion(version)}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func readVersion(fsys hackpadfs.FS) (int, error) {
	raw, err := hackpadfs.ReadFile(fsys, versionFile)
	if errors.Is(err, hackpadfs.ErrNotExist) {
		if err := writeAtomic(fsys, versionFile, []byte(strconv.Itoa(SchemaVersion))); err != nil {
			return 0, IOError("fs: stamp schema version", err)
		}
		return SchemaVersion, nil
	}
	if err != nil {
		return 0, IOError("fs: read schema version", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, IOError("fs: parse schema version", err)
	}
	return v, nil
}

func (s *FSStore) load(ctx context.Context) error {
	nodes, err := readAll[model.GraphNode](s.fs, nodesDir)
	if err != nil {
		return err
	}
	edges, err := readAll[model.GraphEdge](s.fs, edgesDir)
	if err != nil {
		return err
	}
	if err := s.idx.BulkPutNodes(ctx, nodes); err != nil {
		return err
	}
	return s.idx.BulkPutEdges(ctx, edges)
}

func readAll[T any](fsys hackpadfs.FS, dir string) ([]*T, error) {
	entries, err := hackpadfs.ReadDir(fsys, dir)
	if err != nil {
		return nil, IOError("fs: list "+dir, err)
	}
	out := make([]*T, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), tmpExt) {
			// Left by a write that never reached its rename.
			if err := hackpadfs.Remove(fsys, path.Join(dir, entry.Name())); err != nil && !errors.Is(err, hackpadfs.ErrNotExist) {
				return nil, IOError("fs: remove "+entry.Name(), err)
			}
			continue
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		raw, err := hackpadfs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, IOError("fs: read "+entry.Name(), err)
		}
		rec, err := FromJSON[T](raw)
		if err != nil {
			return nil, IOError("fs: decode "+entry.Name(), err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func recordPath(dir, id string) string {
	return path.Join(dir, url.PathEscape(id)+recordExt)
}

func (s *FSStore) write(dir, id string, v any) error {
	raw, err := ToJSON(v)
	if err != nil {
		return IOError("fs: encode "+id, err)
	}
	if err := writeAtomic(s.fs, recordPath(dir, id), raw); err != nil {
		return IOError("fs: write "+id, err)
	}
	return nil
}

// writeAtomic writes raw beside name and renames it into place, so name
// holds either its previous contents or raw, never a prefix of raw.
func writeAtomic(fsys hackpadfs.FS, name string, raw []byte) error {
	tmp := name + tmpExt
	if err := hackpadfs.WriteFullFile(fsys, tmp, raw, 0o644); err != nil {
		_ = hackpadfs.Remove(fsys, tmp)
		return err
	}
	if err := hackpadfs.Rename(fsys, tmp, name); err != nil {
		_ = hackpadfs.Remove(fsys, tmp)
		return err
	}
	return nil
}

func (s *FSStore) remove(dir, id string) error {
	err := hackpadfs.Remove(s.fs, recordPath(dir, id))
	if err != nil && !errors.Is(err, hackpadfs.ErrNotExist) {
		return IOError("fs: remove "+id, err)
	}
	return nil
}

// guard fails fast on a closed store or done context before touching files.
func (s *FSStore) guard(ctx context.Context) error {
	_, err := s.idx.SchemaVersion(ctx)
	return err
}

// =============================================================================
// Writes
// =============================================================================

func (s *FSStore) PutNode(ctx context.Context, n *model.GraphNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ctx); err != nil {
		return err
	}
	if err := s.write(nodesDir, n.ID, n); err != nil {
		return err
	}
	return s.idx.PutNode(ctx, n)
}

func (s *FSStore) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ctx); err != nil {
		return err
	}
	if err := s.remove(nodesDir, id); err != nil {
		return err
	}
	return s.idx.DeleteNode(ctx, id)
}

// BulkPutNodes writes record by record. On failure the records written so
// far stay written and indexed.
func (s *FSStore) BulkPutNodes(ctx context.Context, nodes []*model.GraphNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		if err := s.guard(ctx); err != nil {
			return err
		}
		if err := s.write(nodesDir, n.ID, n); err != nil {
			return err
		}
		if err := s.idx.PutNode(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (s *FSStore) PutEdge(ctx context.Context, e *model.GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ctx); err != nil {
		return err
	}
	if err := s.write(edgesDir, e.ID, e); err != nil {
		return err
	}
	return s.idx.PutEdge(ctx, e)
}

func (s *FSStore) DeleteEdge(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ctx); err != nil {
		return err
	}
	if err := s.remove(edgesDir, id); err != nil {
		return err
	}
	return s.idx.DeleteEdge(ctx, id)
}

func (s *FSStore) BulkPutEdges(ctx context.Context, edges []*model.GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range edges {
		if err := s.guard(ctx); err != nil {
			return err
		}
		if err := s.write(edgesDir, e.ID, e); err != nil {
			return err
		}
		if err := s.idx.PutEdge(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every record file. The schema version is kept.
func (s *FSStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ctx); err != nil {
		return err
	}
	for _, dir := range []string{nodesDir, edgesDir} {
		if err := hackpadfs.RemoveAll(s.fs, dir); err != nil {
			return IOError("fs: clear "+dir, err)
		}
		if err := hackpadfs.MkdirAll(s.fs, dir, 0o755); err != nil {
			return IOError("fs: create "+dir, err)
		}
	}
	return s.idx.Clear(ctx)
}

func (s *FSStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Close()
}

// =============================================================================
// Reads (served from the index)
// =============================================================================

func (s *FSStore) GetNode(ctx context.Context, id string) (*model.GraphNode, error) {
	return s.idx.GetNode(ctx, id)
}

func (s *FSStore) AllNodes(ctx context.Context) ([]*model.GraphNode, error) {
	return s.idx.AllNodes(ctx)
}

func (s *FSStore) NodesByEntityType(ctx context.Context, t model.EntityType) ([]*model.GraphNode, error) {
	return s.idx.NodesByEntityType(ctx, t)
}

func (s *FSStore) NodesByCompleteness(ctx context.Context, c model.Completeness) ([]*model.GraphNode, error) {
	return s.idx.NodesByCompleteness(ctx, c)
}

func (s *FSStore) NodesCachedBefore(ctx context.Context, ts int64) ([]*model.GraphNode, error) {
	return s.idx.NodesCachedBefore(ctx, ts)
}

func (s *FSStore) NodesUpdatedSince(ctx context.Context, ts int64) ([]*model.GraphNode, error) {
	return s.idx.NodesUpdatedSince(ctx, ts)
}

func (s *FSStore) GetEdge(ctx context.Context, id string) (*model.GraphEdge, error) {
	return s.idx.GetEdge(ctx, id)
}

func (s *FSStore) AllEdges(ctx context.Context) ([]*model.GraphEdge, error) {
	return s.idx.AllEdges(ctx)
}

func (s *FSStore) EdgesBySource(ctx context.Context, source string) ([]*model.GraphEdge, error) {
	return s.idx.EdgesBySource(ctx, source)
}

func (s *FSStore) EdgesByTarget(ctx context.Context, target string) ([]*model.GraphEdge, error) {
	return s.idx.EdgesByTarget(ctx, target)
}

func (s *FSStore) EdgesByType(ctx context.Context, t model.RelationType) ([]*model.GraphEdge, error) {
	return s.idx.EdgesByType(ctx, t)
}

func (s *FSStore) EdgesByDirection(ctx context.Context, d model.Direction) ([]*model.GraphEdge, error) {
	return s.idx.EdgesByDirection(ctx, d)
}

func (s *FSStore) EdgesBySourceAndType(ctx context.Context, source string, t model.RelationType) ([]*model.GraphEdge, error) {
	return s.idx.EdgesBySourceAndType(ctx, source, t)
}

func (s *FSStore) EdgesByTargetAndType(ctx context.Context, target string, t model.RelationType) ([]*model.GraphEdge, error) {
	return s.idx.EdgesByTargetAndType(ctx, target, t)
}

func (s *FSStore) Stats(ctx context.Context) (Stats, error) {
	return s.idx.Stats(ctx)
}

func (s *FSStore) SchemaVersion(ctx context.Context) (int, error) {
	return s.idx.SchemaVersion(ctx)
}

var _ Storer = (*FSStore)(nil)
