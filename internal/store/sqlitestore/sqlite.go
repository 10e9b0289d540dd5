// Package sqlitestore provides SQLite-backed persistence for the graph.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface
// and runs under wasm as well as natively.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/kittclouds/kitgraph/internal/store"
	"github.com/kittclouds/kitgraph/pkg/model"
)

//go:embed schema.sql
var schema string

// Store is the SQLite-backed graph store.
// Thread-safe; writers are serialized by SQLite itself.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// New opens the database at path. An empty path or ":memory:" gives a
// private in-memory database.
//
// A database with user_version 0 is treated as new: the schema is created
// and stamped with store.SchemaVersion. Any other version is left alone so
// the caller can decide whether it is compatible.
func New(ctx context.Context, path string) (*Store, error) {
	memory := path == "" || path == ":memory:"
	dsn := ":memory:"
	if !memory {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, store.IOError("sqlite: open", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, store.IOError("sqlite: ping", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return store.IOError("sqlite: read user_version", err)
	}
	if version != 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.IOError("sqlite: begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return store.IOError("sqlite: create schema", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", store.SchemaVersion)); err != nil {
		return store.IOError("sqlite: stamp user_version", err)
	}
	return store.IOError("sqlite: commit schema", tx.Commit())
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path ("" for in-memory).
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// read takes the shared lock for one call and fails once closed.
func (s *Store) read() (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, store.ErrClosed
	}
	return s.mu.RUnlock, nil
}

func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	unlock, err := s.read()
	if err != nil {
		return 0, err
	}
	defer unlock()

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, store.IOError("sqlite: read user_version", err)
	}
	return version, nil
}

// =============================================================================
// Node CRUD
// =============================================================================

const nodeColumns = `id, entity_type, label, completeness, cached_at, updated_at, metadata`

const upsertNode = `
	INSERT INTO nodes (` + nodeColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		entity_type = excluded.entity_type,
		label = excluded.label,
		completeness = excluded.completeness,
		cached_at = excluded.cached_at,
		updated_at = excluded.updated_at,
		metadata = excluded.metadata
`

func nodeArgs(n *model.GraphNode) ([]any, error) {
	md, err := encodeJSON(n.Metadata)
	if err != nil {
		return nil, err
	}
	return []any{
		n.ID, string(n.EntityType), n.Label, string(n.Completeness),
		n.CachedAt, n.UpdatedAt, md,
	}, nil
}

// PutNode inserts or replaces a node.
func (s *Store) PutNode(ctx context.Context, n *model.GraphNode) error {
	unlock, err := s.read()
	if err != nil {
		return err
	}
	defer unlock()

	args, err := nodeArgs(n)
	if err != nil {
		return store.IOError("sqlite: encode node "+n.ID, err)
	}
	_, err = s.db.ExecContext(ctx, upsertNode, args...)
	return store.IOError("sqlite: put node "+n.ID, err)
}

// GetNode retrieves a node by ID.
func (s *Store) GetNode(ctx context.Context, id string) (*model.GraphNode, error) {
	unlock, err := s.read()
	if err != nil {
		return nil, err
	}
	defer unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.IOError("sqlite: get node "+id, err)
	}
	return n, nil
}

// DeleteNode removes a node by ID.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	unlock, err := s.read()
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.db.ExecContext(ctx, "DELETE FROM nodes WHERE id = ?", id)
	return store.IOError("sqlite: delete node "+id, err)
}

// BulkPutNodes upserts all nodes in one transaction.
func (s *Store) BulkPutNodes(ctx context.Context, nodes []*model.GraphNode) error {
	if len(nodes) == 0 {
		return nil
	}
	return s.bulk(ctx, upsertNode, len(nodes), func(i int) ([]any, error) {
		return nodeArgs(nodes[i])
	})
}

func (s *Store) AllNodes(ctx context.Context) ([]*model.GraphNode, error) {
	return s.queryNodes(ctx, "")
}

func (s *Store) NodesByEntityType(ctx context.Context, t model.EntityType) ([]*model.GraphNode, error) {
	return s.queryNodes(ctx, "WHERE entity_type = ?", string(t))
}

func (s *Store) NodesByCompleteness(ctx context.Context, c model.Completeness) ([]*model.GraphNode, error) {
	return s.queryNodes(ctx, "WHERE completeness = ?", string(c))
}

func (s *Store) NodesCachedBefore(ctx context.Context, ts int64) ([]*model.GraphNode, error) {
	return s.queryNodes(ctx, "WHERE cached_at < ?", ts)
}

func (s *Store) NodesUpdatedSince(ctx context.Context, ts int64) ([]*model.GraphNode, error) {
	return s.queryNodes(ctx, "WHERE updated_at >= ?", ts)
}

func (s *Store) queryNodes(ctx context.Context, where string, args ...any) ([]*model.GraphNode, error) {
	unlock, err := s.read()
	if err != nil {
		return nil, err
	}
	defer unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes `+where+` ORDER BY cached_at, id`, args...)
	if err != nil {
		return nil, store.IOError("sqlite: query nodes", err)
	}
	defer rows.Close()

	nodes := make([]*model.GraphNode, 0)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, store.IOError("sqlite: scan node", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, store.IOError("sqlite: query nodes", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(sc scanner) (*model.GraphNode, error) {
	var (
		n                        model.GraphNode
		entityType, completeness string
		md                       sql.NullString
	)
	if err := sc.Scan(&n.ID, &entityType, &n.Label, &completeness, &n.CachedAt, &n.UpdatedAt, &md); err != nil {
		return nil, err
	}
	n.EntityType = model.EntityType(entityType)
	n.Completeness = model.Completeness(completeness)
	if err := decodeJSON(md, &n.Metadata); err != nil {
		return nil, fmt.Errorf("node %s metadata: %w", n.ID, err)
	}
	return &n, nil
}

// =============================================================================
// Edge CRUD
// =============================================================================

const edgeColumns = `id, source, target, type, direction, discovered_at,
	position, is_corresponding, is_open_access, score, years, award_id, role, metadata`

const upsertEdge = `
	INSERT INTO edges (` + edgeColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		source = excluded.source,
		target = excluded.target,
		type = excluded.type,
		direction = excluded.direction,
		discovered_at = excluded.discovered_at,
		position = excluded.position,
		is_corresponding = excluded.is_corresponding,
		is_open_access = excluded.is_open_access,
		score = excluded.score,
		years = excluded.years,
		award_id = excluded.award_id,
		role = excluded.role,
		metadata = excluded.metadata
`

func edgeArgs(e *model.GraphEdge) ([]any, error) {
	md, err := encodeJSON(e.Metadata)
	if err != nil {
		return nil, err
	}
	var years any
	if e.Years != nil {
		if years, err = encodeJSON(e.Years); err != nil {
			return nil, err
		}
	}
	return []any{
		e.ID, e.Source, e.Target, string(e.Type), string(e.Direction), e.DiscoveredAt,
		nullable(e.Position), nullable(e.IsCorresponding), nullable(e.IsOpenAccess),
		nullable(e.Score), years, nullable(e.AwardID), nullable(e.Role), md,
	}, nil
}

// PutEdge inserts or replaces an edge.
func (s *Store) PutEdge(ctx context.Context, e *model.GraphEdge) error {
	unlock, err := s.read()
	if err != nil {
		return err
	}
	defer unlock()

	args, err := edgeArgs(e)
	if err != nil {
		return store.IOError("sqlite: encode edge "+e.ID, err)
	}
	_, err = s.db.ExecContext(ctx, upsertEdge, args...)
	return store.IOError("sqlite: put edge "+e.ID, err)
}

// GetEdge retrieves an edge by ID.
func (s *Store) GetEdge(ctx context.Context, id string) (*model.GraphEdge, error) {
	unlock, err := s.read()
	if err != nil {
		return nil, err
	}
	defer unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id = ?`, id)
	e, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, store.IOError("sqlite: get edge "+id, err)
	}
	return e, nil
}

// DeleteEdge removes an edge by ID.
func (s *Store) DeleteEdge(ctx context.Context, id string) error {
	unlock, err := s.read()
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.db.ExecContext(ctx, "DELETE FROM edges WHERE id = ?", id)
	return store.IOError("sqlite: delete edge "+id, err)
}

// BulkPutEdges upserts all edges in one transaction.
func (s *Store) BulkPutEdges(ctx context.Context, edges []*model.GraphEdge) error {
	if len(edges) == 0 {
		return nil
	}
	return s.bulk(ctx, upsertEdge, len(edges), func(i int) ([]any, error) {
		return edgeArgs(edges[i])
	})
}

func (s *Store) AllEdges(ctx context.Context) ([]*model.GraphEdge, error) {
	return s.queryEdges(ctx, "")
}

func (s *Store) EdgesBySource(ctx context.Context, source string) ([]*model.GraphEdge, error) {
	return s.queryEdges(ctx, "WHERE source = ?", source)
}

func (s *Store) EdgesByTarget(ctx context.Context, target string) ([]*model.GraphEdge, error) {
	return s.queryEdges(ctx, "WHERE target = ?", target)
}

func (s *Store) EdgesByType(ctx context.Context, t model.RelationType) ([]*model.GraphEdge, error) {
	return s.queryEdges(ctx, "WHERE type = ?", string(t))
}

func (s *Store) EdgesByDirection(ctx context.Context, d model.Direction) ([]*model.GraphEdge, error) {
	return s.queryEdges(ctx, "WHERE direction = ?", string(d))
}

func (s *Store) EdgesBySourceAndType(ctx context.Context, source string, t model.RelationType) ([]*model.GraphEdge, error) {
	return s.queryEdges(ctx, "WHERE source = ? AND type = ?", source, string(t))
}

func (s *Store) EdgesByTargetAndType(ctx context.Context, target string, t model.RelationType) ([]*model.GraphEdge, error) {
	return s.queryEdges(ctx, "WHERE target = ? AND type = ?", target, string(t))
}

func (s *Store) queryEdges(ctx context.Context, where string, args ...any) ([]*model.GraphEdge, error) {
	unlock, err := s.read()
	if err != nil {
		return nil, err
	}
	defer unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM edges `+where+` ORDER BY discovered_at, id`, args...)
	if err != nil {
		return nil, store.IOError("sqlite: query edges", err)
	}
	defer rows.Close()

	edges := make([]*model.GraphEdge, 0)
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, store.IOError("sqlite: scan edge", err)
		}
		edges = append(edges, e)
	}
	return edges, store.IOError("sqlite: query edges", rows.Err())
}

func scanEdge(sc scanner) (*model.GraphEdge, error) {
	var (
		e                  model.GraphEdge
		relType, direction string
		position           sql.NullInt64
		corresponding, oa  sql.NullBool
		score              sql.NullFloat64
		years, md          sql.NullString
		awardID, role      sql.NullString
	)
	if err := sc.Scan(
		&e.ID, &e.Source, &e.Target, &relType, &direction, &e.DiscoveredAt,
		&position, &corresponding, &oa, &score, &years, &awardID, &role, &md,
	); err != nil {
		return nil, err
	}

	e.Type = model.RelationType(relType)
	e.Direction = model.Direction(direction)
	if position.Valid {
		e.Position = model.Ptr(int(position.Int64))
	}
	if corresponding.Valid {
		e.IsCorresponding = model.Ptr(corresponding.Bool)
	}
	if oa.Valid {
		e.IsOpenAccess = model.Ptr(oa.Bool)
	}
	if score.Valid {
		e.Score = model.Ptr(score.Float64)
	}
	if awardID.Valid {
		e.AwardID = model.Ptr(awardID.String)
	}
	if role.Valid {
		e.Role = model.Ptr(role.String)
	}
	if err := decodeJSON(years, &e.Years); err != nil {
		return nil, fmt.Errorf("edge %s years: %w", e.ID, err)
	}
	if err := decodeJSON(md, &e.Metadata); err != nil {
		return nil, fmt.Errorf("edge %s metadata: %w", e.ID, err)
	}
	return &e, nil
}

// =============================================================================
// Maintenance
// =============================================================================

// Stats reports row counts and the database size in pages.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	unlock, err := s.read()
	if err != nil {
		return store.Stats{}, err
	}
	defer unlock()

	var st store.Stats
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM nodes),
			(SELECT COUNT(*) FROM edges),
			(SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size())
	`).Scan(&st.Nodes, &st.Edges, &st.EstimatedBytes)
	if err != nil {
		return store.Stats{}, store.IOError("sqlite: stats", err)
	}
	return st, nil
}

// Clear empties both tables in one transaction.
func (s *Store) Clear(ctx context.Context) error {
	unlock, err := s.read()
	if err != nil {
		return err
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.IOError("sqlite: begin", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"edges", "nodes"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return store.IOError("sqlite: clear "+table, err)
		}
	}
	return store.IOError("sqlite: commit clear", tx.Commit())
}

// =============================================================================
// Helpers
// =============================================================================

// bulk runs one prepared statement n times inside a transaction.
func (s *Store) bulk(ctx context.Context, query string, n int, args func(i int) ([]any, error)) error {
	unlock, err := s.read()
	if err != nil {
		return err
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.IOError("sqlite: begin", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return store.IOError("sqlite: prepare", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		a, err := args(i)
		if err != nil {
			return store.IOError("sqlite: encode", err)
		}
		if _, err := stmt.ExecContext(ctx, a...); err != nil {
			return store.IOError("sqlite: bulk put", err)
		}
	}
	return store.IOError("sqlite: commit", tx.Commit())
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func encodeJSON(v any) (any, error) {
	switch x := v.(type) {
	case model.Metadata:
		if x == nil {
			return nil, nil
		}
	case []int:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeJSON(src sql.NullString, dst any) error {
	if !src.Valid || strings.TrimSpace(src.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(src.String), dst)
}

// Compile-time interface check
var _ store.Storer = (*Store)(nil)
