// Package pgraph keeps the knowledge graph in memory and writes every
// change through to a durable store.
//
// A PersistentGraph starts uninitialized. Initialize opens the store
// without reading it; Hydrate bulk-loads it into an in-memory graph. All
// queries are answered from memory. Mutations persist first and touch
// memory only after the store accepted the write, so a failed write
// leaves the in-memory graph as it was.
package pgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kittclouds/kitgraph/internal/store"
	"github.com/kittclouds/kitgraph/pkg/completeness"
	"github.com/kittclouds/kitgraph/pkg/graph"
	"github.com/kittclouds/kitgraph/pkg/model"
)

// Opener opens the durable store. Initialize calls it once.
type Opener func(ctx context.Context) (store.Storer, error)

// StoreOpener wraps an already open store.
func StoreOpener(st store.Storer) Opener {
	return func(context.Context) (store.Storer, error) { return st, nil }
}

// State is the lifecycle position of a PersistentGraph.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateHydrated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateHydrated:
		return "hydrated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Options tune a PersistentGraph. The zero value is usable.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// AutoHydrate makes calls issued before Hydrate trigger and wait for
	// it. When false they fail with ErrNotHydrated.
	AutoHydrate bool
	// Policy applies to AddNode observations. UpdateNodeCompleteness is
	// always strict.
	Policy completeness.Policy
	// Clock defaults to time.Now.
	Clock func() time.Time
}

type memGraph = graph.Graph[*model.GraphNode, *model.GraphEdge]

func newMemGraph() *memGraph {
	return graph.New[*model.GraphNode, *model.GraphEdge]()
}

// PersistentGraph is safe for concurrent use.
type PersistentGraph struct {
	open   Opener
	log    *slog.Logger
	auto   bool
	policy completeness.Policy
	clock  func() time.Time
	// tick is the last timestamp handed out by now.
	tick atomic.Int64

	// opMu is held shared by every query and mutation and exclusively
	// by Initialize, Clear and Close.
	opMu  sync.RWMutex
	locks keyLocks

	// mu guards the fields below. Records held by g are never modified
	// in place; updates replace them.
	mu          sync.RWMutex
	state       State
	st          store.Storer
	g           *memGraph
	generation  uint64
	lastUpdated int64
	cancelLoad  context.CancelFunc

	life       context.Context
	cancelLife context.CancelFunc

	hydrations singleflight.Group
	events     *emitter
}

// New returns an uninitialized graph backed by the store open returns.
func New(open Opener, opts Options) *PersistentGraph {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	life, cancel := context.WithCancel(context.Background())
	return &PersistentGraph{
		open:       open,
		log:        opts.Logger.With(slog.String("component", "pgraph")),
		auto:       opts.AutoHydrate,
		policy:     opts.Policy,
		clock:      opts.Clock,
		g:          newMemGraph(),
		life:       life,
		cancelLife: cancel,
		events:     newEmitter(),
	}
}

// State returns the current lifecycle state.
func (pg *PersistentGraph) State() State {
	pg.mu.RLock()
	defer pg.mu.RUnlock()
	return pg.state
}

// IsHydrated reports whether the in-memory graph is loaded.
func (pg *PersistentGraph) IsHydrated() bool {
	return pg.State() == StateHydrated
}

// now returns a millisecond timestamp strictly greater than every one it
// returned before, so records written in sequence reload in sequence.
func (pg *PersistentGraph) now() int64 {
	t := pg.clock().UnixMilli()
	for {
		last := pg.tick.Load()
		next := max(t, last+1)
		if pg.tick.CompareAndSwap(last, next) {
			return next
		}
	}
}

// advance makes the next now return more than ts.
func (pg *PersistentGraph) advance(ts int64) {
	for {
		last := pg.tick.Load()
		if last >= ts || pg.tick.CompareAndSwap(last, ts) {
			return
		}
	}
}

// fail logs err and emits it as an error event. NotFound is routine
// and logs at debug.
func (pg *PersistentGraph) fail(op, id string, err error) error {
	level := slog.LevelWarn
	if errors.Is(err, ErrNotFound) {
		level = slog.LevelDebug
	}
	pg.log.LogAttrs(context.Background(), level, "operation failed",
		slog.String("op", op),
		slog.String("id", id),
		slog.String("error", err.Error()),
	)
	pg.events.emit(Event{Type: EventError, Op: op, ID: id, Err: err})
	return err
}

// =============================================================================
// Lifecycle
// =============================================================================

// Initialize opens the store. It does not read any records. Calling it
// again once initialized is a no-op.
func (pg *PersistentGraph) Initialize(ctx context.Context) error {
	pg.opMu.Lock()
	err := pg.initialize(ctx)
	pg.opMu.Unlock()

	if errors.Is(err, errAlreadyInitialized) {
		return nil
	}
	if err != nil {
		return pg.fail("initialize", "", err)
	}
	pg.log.Info("initialized")
	pg.events.emit(Event{Type: EventInitialized})
	return nil
}

var errAlreadyInitialized = errors.New("already initialized")

func (pg *PersistentGraph) initialize(ctx context.Context) error {
	switch pg.State() {
	case StateClosed:
		return ErrClosed
	case StateInitialized, StateHydrated:
		return errAlreadyInitialized
	}

	st, err := pg.open(ctx)
	if err != nil {
		if !errors.Is(err, ErrStorageIO) {
			err = store.IOError("open store", err)
		}
		return fmt.Errorf("pgraph: initialize: %w", err)
	}

	pg.mu.Lock()
	pg.st = st
	pg.state = StateInitialized
	pg.mu.Unlock()
	return nil
}

func hydrateKey(gen uint64) string {
	return "hydrate-" + strconv.FormatUint(gen, 10)
}

// Hydrate loads every stored record into memory. Concurrent callers
// share one load. A caller whose ctx ends stops waiting but the load
// carries on for the others. On failure the graph stays initialized and
// Hydrate may be retried.
func (pg *PersistentGraph) Hydrate(ctx context.Context) error {
	pg.mu.Lock()
	switch pg.state {
	case StateClosed:
		pg.mu.Unlock()
		return ErrClosed
	case StateUninitialized:
		pg.mu.Unlock()
		return ErrNotInitialized
	case StateHydrated:
		pg.mu.Unlock()
		return nil
	}
	gen := pg.generation
	ch := pg.hydrations.DoChan(hydrateKey(gen), func() (any, error) {
		return nil, pg.load(gen)
	})
	pg.mu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("pgraph: hydrate: %w", ctx.Err())
	case res := <-ch:
		return res.Err
	}
}

// load runs once per generation on the singleflight goroutine.
func (pg *PersistentGraph) load(gen uint64) error {
	ctx, cancel := context.WithCancel(pg.life)
	defer cancel()

	pg.mu.Lock()
	if pg.generation != gen || pg.state != StateInitialized {
		pg.mu.Unlock()
		return ErrHydrationAborted
	}
	pg.cancelLoad = cancel
	st := pg.st
	pg.mu.Unlock()
	defer func() {
		pg.mu.Lock()
		if pg.generation == gen {
			pg.cancelLoad = nil
		}
		pg.mu.Unlock()
	}()

	runID := uuid.NewString()
	ctx, span := startHydrateSpan(ctx, runID, gen)
	defer span.End()
	log := pg.log.With(slog.String("run_id", runID))
	log.Info("hydration started", slog.Uint64("generation", gen))
	start := time.Now()

	fresh, stubs, err := pg.build(ctx, st, log)
	if err == nil {
		err = pg.swap(gen, fresh)
	}
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrHydrationAborted) {
		err = fmt.Errorf("%w: %w", ErrHydrationAborted, err)
	}
	recordHydrate(ctx, time.Since(start), stubs, err == nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "hydration failed")
		log.Warn("hydration failed", slog.String("error", err.Error()))
		pg.events.emit(Event{Type: EventError, Op: "hydrate", Err: err})
		return err
	}

	setHydrateSpanResult(span, fresh.NodeCount(), fresh.EdgeCount(), stubs)
	log.Info("hydrated",
		slog.Int("nodes", fresh.NodeCount()),
		slog.Int("edges", fresh.EdgeCount()),
		slog.Int("stubs_repaired", stubs),
		slog.Duration("took", time.Since(start)),
	)
	pg.events.emit(Event{Type: EventHydrated, NodeCount: fresh.NodeCount(), EdgeCount: fresh.EdgeCount()})
	return nil
}

// build reads both tables into a graph that nobody else can see yet.
// Edges whose endpoints are missing get stub nodes, persisted first.
func (pg *PersistentGraph) build(ctx context.Context, st store.Storer, log *slog.Logger) (*memGraph, int, error) {
	version, err := st.SchemaVersion(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("pgraph: read schema version: %w", err)
	}
	if version != store.SchemaVersion {
		return nil, 0, fmt.Errorf("%w: store has %d, want %d", ErrSchemaVersionMismatch, version, store.SchemaVersion)
	}

	var (
		nodes []*model.GraphNode
		edges []*model.GraphEdge
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		nodes, err = st.AllNodes(egCtx)
		return err
	})
	eg.Go(func() error {
		var err error
		edges, err = st.AllEdges(egCtx)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, 0, fmt.Errorf("pgraph: load: %w", err)
	}

	fresh := newMemGraph()
	for _, n := range nodes {
		if err := fresh.AddNode(n); err != nil {
			return nil, 0, store.IOError("load node "+n.ID, err)
		}
	}
	for _, e := range edges {
		if err := fresh.AddEdge(e); err != nil {
			return nil, 0, store.IOError("load edge "+e.ID, err)
		}
	}

	missing := fresh.Validate().Dangling()
	if len(missing) > 0 {
		pg.advance(latestChange(fresh))
		stubs := make([]*model.GraphNode, 0, len(missing))
		for _, id := range missing {
			stubs = append(stubs, newStub(id, pg.now()))
		}
		if err := st.BulkPutNodes(ctx, stubs); err != nil {
			return nil, 0, fmt.Errorf("pgraph: persist stubs: %w", err)
		}
		for _, n := range stubs {
			_ = fresh.AddNode(n)
		}
		log.Info("created stubs for dangling endpoints", slog.Int("count", len(stubs)))
	}

	if err := ctx.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrHydrationAborted, err)
	}
	return fresh, len(missing), nil
}

// swap publishes fresh unless Clear or Close moved on meanwhile.
func (pg *PersistentGraph) swap(gen uint64, fresh *memGraph) error {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	if pg.generation != gen || pg.state != StateInitialized {
		return ErrHydrationAborted
	}
	pg.g = fresh
	pg.state = StateHydrated
	pg.lastUpdated = latestChange(fresh)
	pg.advance(pg.lastUpdated)
	return nil
}

func latestChange(g *memGraph) int64 {
	var ts int64
	for _, n := range g.Nodes() {
		ts = max(ts, n.UpdatedAt)
	}
	for _, e := range g.Edges() {
		ts = max(ts, e.DiscoveredAt)
	}
	return ts
}

func newStub(id string, now int64) *model.GraphNode {
	return &model.GraphNode{
		ID:           id,
		EntityType:   model.EntityTypeFromID(id),
		Label:        id,
		Completeness: model.Stub,
		CachedAt:     now,
		UpdatedAt:    now,
	}
}

// ready makes sure the graph is hydrated, hydrating it when AutoHydrate
// is on. Callers hold opMu shared.
func (pg *PersistentGraph) ready(ctx context.Context) error {
	switch pg.State() {
	case StateHydrated:
		return nil
	case StateClosed:
		return ErrClosed
	case StateUninitialized:
		return ErrNotInitialized
	}
	if !pg.auto {
		return ErrNotHydrated
	}
	return pg.Hydrate(ctx)
}

// Clear empties both tiers. Any hydration in flight is aborted and the
// graph drops back to initialized; the next access hydrates again.
func (pg *PersistentGraph) Clear(ctx context.Context) error {
	pg.mu.Lock()
	switch pg.state {
	case StateClosed:
		pg.mu.Unlock()
		return pg.fail("clear", "", ErrClosed)
	case StateUninitialized:
		pg.mu.Unlock()
		return pg.fail("clear", "", ErrNotInitialized)
	}
	pg.abortLoadLocked()
	pg.mu.Unlock()

	pg.opMu.Lock()
	err := pg.clear(ctx)
	pg.opMu.Unlock()

	if err != nil {
		return pg.fail("clear", "", err)
	}
	pg.log.Info("cleared")
	pg.events.emit(Event{Type: EventCleared})
	return nil
}

// clear always leaves the graph initialized and empty in memory. When
// the store fails part way the next hydration reloads whatever is left.
func (pg *PersistentGraph) clear(ctx context.Context) error {
	pg.mu.RLock()
	st, state := pg.st, pg.state
	pg.mu.RUnlock()
	if state == StateClosed {
		return ErrClosed
	}

	err := st.Clear(ctx)

	pg.mu.Lock()
	pg.abortLoadLocked()
	pg.g = newMemGraph()
	pg.state = StateInitialized
	pg.lastUpdated = 0
	pg.mu.Unlock()

	if err != nil {
		return fmt.Errorf("pgraph: clear: %w", err)
	}
	return nil
}

// abortLoadLocked moves to a new generation so an in-flight load cannot
// publish. Callers hold mu.
func (pg *PersistentGraph) abortLoadLocked() {
	pg.generation++
	if pg.cancelLoad != nil {
		pg.cancelLoad()
		pg.cancelLoad = nil
	}
}

// Close releases the store. Later calls fail with ErrClosed. Closing
// twice is a no-op.
func (pg *PersistentGraph) Close() error {
	pg.mu.Lock()
	if pg.state == StateClosed {
		pg.mu.Unlock()
		return nil
	}
	pg.abortLoadLocked()
	pg.cancelLife()
	pg.mu.Unlock()

	pg.opMu.Lock()
	defer pg.opMu.Unlock()

	pg.mu.Lock()
	if pg.state == StateClosed {
		pg.mu.Unlock()
		return nil
	}
	st := pg.st
	pg.st = nil
	pg.g = newMemGraph()
	pg.state = StateClosed
	pg.mu.Unlock()

	if st != nil {
		if err := st.Close(); err != nil {
			return fmt.Errorf("pgraph: close: %w", err)
		}
	}
	pg.log.Info("closed")
	return nil
}
