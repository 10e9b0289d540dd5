package pgraph_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hack-pad/hackpadfs/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/kitgraph/internal/store"
	"github.com/kittclouds/kitgraph/pkg/model"
	"github.com/kittclouds/kitgraph/pkg/pgraph"
)

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	pg := pgraph.New(pgraph.StoreOpener(store.NewMemStore()), pgraph.Options{Logger: quietLogger()})
	rec := record(pg)

	assert.Equal(t, pgraph.StateUninitialized, pg.State())
	_, err := pg.GetNode(ctx, "W1")
	assert.ErrorIs(t, err, pgraph.ErrNotInitialized)
	assert.ErrorIs(t, pg.Hydrate(ctx), pgraph.ErrNotInitialized)

	require.NoError(t, pg.Initialize(ctx))
	require.NoError(t, pg.Initialize(ctx))
	assert.Equal(t, pgraph.StateInitialized, pg.State())
	assert.False(t, pg.IsHydrated())

	_, err = pg.AddNode(ctx, pgraph.NodeInput{ID: "W1"})
	assert.ErrorIs(t, err, pgraph.ErrNotHydrated)

	require.NoError(t, pg.Hydrate(ctx))
	require.NoError(t, pg.Hydrate(ctx))
	assert.True(t, pg.IsHydrated())

	require.NoError(t, pg.Close())
	require.NoError(t, pg.Close())
	assert.Equal(t, pgraph.StateClosed, pg.State())

	_, err = pg.AddNode(ctx, pgraph.NodeInput{ID: "W1"})
	assert.ErrorIs(t, err, pgraph.ErrClosed)
	_, err = pg.Neighbors(ctx, "W1", pgraph.NeighborOptions{})
	assert.ErrorIs(t, err, pgraph.ErrClosed)
	assert.ErrorIs(t, pg.Hydrate(ctx), pgraph.ErrClosed)
	assert.ErrorIs(t, pg.Initialize(ctx), pgraph.ErrClosed)
	assert.ErrorIs(t, pg.Clear(ctx), pgraph.ErrClosed)

	types := rec.types()
	require.NotEmpty(t, types)
	assert.Equal(t, pgraph.EventInitialized, types[0])
	assert.Contains(t, types, pgraph.EventHydrated)
	assert.Contains(t, types, pgraph.EventError)
}

func TestInitializeOpenerFailure(t *testing.T) {
	pg := pgraph.New(func(context.Context) (store.Storer, error) {
		return nil, errBoom
	}, pgraph.Options{Logger: quietLogger()})

	err := pg.Initialize(context.Background())
	assert.ErrorIs(t, err, pgraph.ErrStorageIO)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, pgraph.StateUninitialized, pg.State())
}

func TestAutoHydrate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	require.NoError(t, st.PutNode(ctx, &model.GraphNode{ID: "W1", EntityType: model.Works, Label: "Paper", Completeness: model.Full}))

	pg := newGraph(t, st, pgraph.Options{AutoHydrate: true})
	assert.False(t, pg.IsHydrated())

	n, err := pg.GetNode(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, "Paper", n.Label)
	assert.True(t, pg.IsHydrated())
}

func TestHydrateConcurrentCallersShareOneLoad(t *testing.T) {
	faulty := newFaultyStore()
	faulty.gate = make(chan struct{})
	pg := newGraph(t, faulty, pgraph.Options{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = pg.Hydrate(context.Background())
		}()
	}

	require.Eventually(t, func() bool { return faulty.loads.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(faulty.gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), faulty.loads.Load())
	assert.True(t, pg.IsHydrated())

	require.NoError(t, pg.Hydrate(context.Background()))
	assert.Equal(t, int32(1), faulty.loads.Load())
}

func TestHydrateFailureLeavesGraphRetryable(t *testing.T) {
	faulty := newFaultyStore()
	require.NoError(t, faulty.PutNode(context.Background(), &model.GraphNode{ID: "W1", Completeness: model.Stub}))
	faulty.failLoad.Store(true)
	pg := newGraph(t, faulty, pgraph.Options{})
	rec := record(pg)

	err := pg.Hydrate(context.Background())
	assert.ErrorIs(t, err, pgraph.ErrStorageIO)
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, pg.IsHydrated())
	assert.Equal(t, pgraph.StateInitialized, pg.State())
	assert.Equal(t, []pgraph.EventType{pgraph.EventError}, rec.types())

	faulty.failLoad.Store(false)
	require.NoError(t, pg.Hydrate(context.Background()))
	assert.True(t, pg.IsHydrated())
	assert.Equal(t, int32(2), faulty.loads.Load())

	ok, err := pg.HasNode(context.Background(), "W1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHydrateRefusesForeignSchema(t *testing.T) {
	pg := newGraph(t, store.NewMemStoreWithVersion(store.SchemaVersion+1), pgraph.Options{})

	err := pg.Hydrate(context.Background())
	assert.ErrorIs(t, err, pgraph.ErrSchemaVersionMismatch)
	assert.False(t, pg.IsHydrated())
}

func TestHydrateCreatesStubsForDanglingEdges(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	require.NoError(t, st.PutNode(ctx, &model.GraphNode{ID: "W1", EntityType: model.Works, Completeness: model.Full, CachedAt: 1}))
	require.NoError(t, st.PutEdge(ctx, &model.GraphEdge{
		ID: "W1-A1-AUTHORSHIP", Source: "W1", Target: "A1", Type: model.Authorship,
		Direction: model.Outbound, DiscoveredAt: 2,
	}))

	pg := hydrated(t, st, pgraph.Options{})

	n, err := pg.GetNode(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, model.Stub, n.Completeness)
	assert.Equal(t, model.Authors, n.EntityType)

	persisted, err := st.GetNode(ctx, "A1")
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, model.Stub, persisted.Completeness)

	nbrs, err := pg.Neighbors(ctx, "A1", pgraph.NeighborOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"W1"}, nbrs)
}

func TestCloseAbortsHydration(t *testing.T) {
	faulty := newFaultyStore()
	faulty.gate = make(chan struct{})
	pg := newGraph(t, faulty, pgraph.Options{})

	done := make(chan error, 1)
	go func() { done <- pg.Hydrate(context.Background()) }()
	require.Eventually(t, func() bool { return faulty.loads.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, pg.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, pgraph.ErrHydrationAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("hydrate did not return after close")
	}
	assert.Equal(t, pgraph.StateClosed, pg.State())
}

func TestClearAbortsHydration(t *testing.T) {
	faulty := newFaultyStore()
	faulty.gate = make(chan struct{})
	pg := newGraph(t, faulty, pgraph.Options{})

	done := make(chan error, 1)
	go func() { done <- pg.Hydrate(context.Background()) }()
	require.Eventually(t, func() bool { return faulty.loads.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, pg.Clear(context.Background()))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, pgraph.ErrHydrationAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("hydrate did not return after clear")
	}
	assert.Equal(t, pgraph.StateInitialized, pg.State())

	close(faulty.gate)
	require.NoError(t, pg.Hydrate(context.Background()))
	assert.True(t, pg.IsHydrated())
}

func TestHydrateCallerCancelKeepsSharedLoad(t *testing.T) {
	faulty := newFaultyStore()
	faulty.gate = make(chan struct{})
	pg := newGraph(t, faulty, pgraph.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pg.Hydrate(ctx) }()
	require.Eventually(t, func() bool { return faulty.loads.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(faulty.gate)
	require.NoError(t, pg.Hydrate(context.Background()))
	assert.True(t, pg.IsHydrated())
	assert.Equal(t, int32(1), faulty.loads.Load())
}

func TestClearEmptiesBothTiers(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	pg := hydrated(t, st, pgraph.Options{})
	addEdge(t, pg, "W1", "A1", model.Authorship)
	rec := record(pg)

	require.NoError(t, pg.Clear(ctx))
	assert.Equal(t, []pgraph.EventType{pgraph.EventCleared}, rec.types())
	assert.Equal(t, pgraph.StateInitialized, pg.State())

	_, err := pg.GetNode(ctx, "W1")
	assert.ErrorIs(t, err, pgraph.ErrNotHydrated)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Nodes)
	assert.Zero(t, stats.Edges)

	require.NoError(t, pg.Hydrate(ctx))
	s, err := pg.Statistics(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.TotalNodes)
	assert.Zero(t, s.TotalEdges)
}

// A graph written in one session hydrates to the same graph in the next.
func TestPersistsAcrossSessions(t *testing.T) {
	ctx := context.Background()
	fsys, err := mem.NewFS()
	require.NoError(t, err)
	clock := newStepClock()

	st, err := store.OpenFS(ctx, fsys)
	require.NoError(t, err)
	first := hydrated(t, st, pgraph.Options{Clock: clock.Now})
	_, err = first.AddNode(ctx, pgraph.NodeInput{ID: "W1", Label: "Deep Learning", Completeness: model.Full})
	require.NoError(t, err)
	addEdge(t, first, "W1", "A1", model.Authorship)
	addEdge(t, first, "A2", "W1", model.Authorship)
	addEdge(t, first, "W1", "W2", model.Reference)
	require.NoError(t, first.Close())

	st, err = store.OpenFS(ctx, fsys)
	require.NoError(t, err)
	second := hydrated(t, st, pgraph.Options{Clock: clock.Now})

	n, err := second.GetNode(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, "Deep Learning", n.Label)
	assert.Equal(t, model.Full, n.Completeness)

	nbrs, err := second.Neighbors(ctx, "W1", pgraph.NeighborOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "A2", "W2"}, nbrs)

	s, err := second.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, s.TotalNodes)
	assert.Equal(t, 3, s.TotalEdges)
}

// Writes that land in the same millisecond still reload in the order
// they were made.
func TestReloadKeepsOrderWithinOneMillisecond(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	frozen := func() time.Time { return time.UnixMilli(1_700_000_000_000) }

	first := hydrated(t, st, pgraph.Options{Clock: frozen})
	z := addEdge(t, first, "W1", "Z9", model.Reference)
	a2 := addEdge(t, first, "A2", "W1", model.Authorship)
	a1 := addEdge(t, first, "W1", "A1", model.Authorship)
	assert.Less(t, z.DiscoveredAt, a2.DiscoveredAt)
	assert.Less(t, a2.DiscoveredAt, a1.DiscoveredAt)

	want, err := first.Neighbors(ctx, "W1", pgraph.NeighborOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"Z9", "A2", "A1"}, want)

	second := hydrated(t, st, pgraph.Options{Clock: frozen})
	got, err := second.Neighbors(ctx, "W1", pgraph.NeighborOptions{})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// The reopened graph keeps counting past what it loaded.
	w3 := addEdge(t, second, "W1", "W3", model.Reference)
	assert.Greater(t, w3.DiscoveredAt, a1.DiscoveredAt)
}

func TestSubscribeUnsubscribe(t *testing.T) {
	pg := hydrated(t, store.NewMemStore(), pgraph.Options{})
	var got []pgraph.EventType
	unsubscribe := pg.Subscribe(func(ev pgraph.Event) { got = append(got, ev.Type) })

	_, err := pg.AddNode(context.Background(), pgraph.NodeInput{ID: "W1"})
	require.NoError(t, err)
	unsubscribe()
	unsubscribe()
	_, err = pg.AddNode(context.Background(), pgraph.NodeInput{ID: "W2"})
	require.NoError(t, err)

	assert.Equal(t, []pgraph.EventType{pgraph.EventNodeAdded}, got)
}

func TestListenerMayQueryGraph(t *testing.T) {
	ctx := context.Background()
	pg := hydrated(t, store.NewMemStore(), pgraph.Options{})
	var seen []bool
	pg.Subscribe(func(ev pgraph.Event) {
		if ev.Type == pgraph.EventNodeAdded {
			ok, err := pg.HasNode(ctx, ev.Node.ID)
			seen = append(seen, err == nil && ok)
		}
	})

	_, err := pg.AddNode(ctx, pgraph.NodeInput{ID: "W1"})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, seen)
}
