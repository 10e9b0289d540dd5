package pgraph_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kittclouds/kitgraph/internal/store"
	"github.com/kittclouds/kitgraph/pkg/model"
	"github.com/kittclouds/kitgraph/pkg/pgraph"
)

var errBoom = errors.New("boom")

// stepClock advances one millisecond per reading so discovery order is
// strict.
type stepClock struct {
	mu sync.Mutex
	ms int64
}

func newStepClock() *stepClock { return &stepClock{ms: 1_700_000_000_000} }

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms++
	return time.UnixMilli(c.ms)
}

// faultyStore counts bulk loads and node writes and injects failures.
type faultyStore struct {
	store.Storer

	loads atomic.Int32
	puts  atomic.Int32
	// gate, when set, holds AllNodes until it is closed or ctx ends.
	gate chan struct{}

	failLoad    atomic.Bool
	failPutNode atomic.Bool
	failPutEdge atomic.Bool
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Storer: store.NewMemStore()}
}

func (p *faultyStore) AllNodes(ctx context.Context) ([]*model.GraphNode, error) {
	p.loads.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, store.IOError("faulty: all nodes", ctx.Err())
		}
	}
	if p.failLoad.Load() {
		return nil, store.IOError("faulty: all nodes", errBoom)
	}
	return p.Storer.AllNodes(ctx)
}

func (p *faultyStore) PutNode(ctx context.Context, n *model.GraphNode) error {
	if p.failPutNode.Load() {
		return store.IOError("faulty: put node", errBoom)
	}
	p.puts.Add(1)
	return p.Storer.PutNode(ctx, n)
}

func (p *faultyStore) PutEdge(ctx context.Context, e *model.GraphEdge) error {
	if p.failPutEdge.Load() {
		return store.IOError("faulty: put edge", errBoom)
	}
	return p.Storer.PutEdge(ctx, e)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newGraph returns an initialized, unhydrated graph over st.
func newGraph(t *testing.T, st store.Storer, opts pgraph.Options) *pgraph.PersistentGraph {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = newStepClock().Now
	}
	opts.Logger = quietLogger()
	pg := pgraph.New(pgraph.StoreOpener(st), opts)
	require.NoError(t, pg.Initialize(context.Background()))
	t.Cleanup(func() { _ = pg.Close() })
	return pg
}

// hydrated returns a hydrated graph over st.
func hydrated(t *testing.T, st store.Storer, opts pgraph.Options) *pgraph.PersistentGraph {
	t.Helper()
	pg := newGraph(t, st, opts)
	require.NoError(t, pg.Hydrate(context.Background()))
	return pg
}

type recorder struct {
	mu  sync.Mutex
	evs []pgraph.Event
}

func record(pg *pgraph.PersistentGraph) *recorder {
	r := &recorder{}
	pg.Subscribe(func(ev pgraph.Event) {
		r.mu.Lock()
		r.evs = append(r.evs, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) types() []pgraph.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]pgraph.EventType, 0, len(r.evs))
	for _, ev := range r.evs {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) events() []pgraph.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pgraph.Event(nil), r.evs...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.evs = nil
	r.mu.Unlock()
}

func addEdge(t *testing.T, pg *pgraph.PersistentGraph, src, dst string, rel model.RelationType) *model.GraphEdge {
	t.Helper()
	e, err := pg.AddEdge(context.Background(), pgraph.EdgeInput{Source: src, Target: dst, Type: rel})
	require.NoError(t, err)
	return e
}
