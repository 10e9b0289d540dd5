package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"

	"github.com/hack-pad/hackpadfs/mem"

	"github.com/kittclouds/kitgraph/internal/store"
	"github.com/kittclouds/kitgraph/internal/store/badgerstore"
	"github.com/kittclouds/kitgraph/internal/store/sqlitestore"
	"github.com/kittclouds/kitgraph/pkg/model"
	"github.com/kittclouds/kitgraph/pkg/pgraph"
)

type backend struct {
	name string
	open func(ctx context.Context) (store.Storer, error)
}

var backends = []backend{
	{"MemStore", func(ctx context.Context) (store.Storer, error) {
		return store.NewMemStore(), nil
	}},
	{"FSStore", func(ctx context.Context) (store.Storer, error) {
		fs, err := mem.NewFS()
		if err != nil {
			return nil, err
		}
		return nonNil(store.OpenFS(ctx, fs))
	}},
	{"SQLiteStore", func(ctx context.Context) (store.Storer, error) {
		return nonNil(sqlitestore.New(ctx, ":memory:"))
	}},
	{"BadgerStore", func(ctx context.Context) (store.Storer, error) {
		return nonNil(badgerstore.OpenInMemory())
	}},
}

// nonNil keeps a failed constructor's typed nil out of the interface.
func nonNil[S store.Storer](st S, err error) (store.Storer, error) {
	if err != nil {
		return nil, err
	}
	return st, nil
}

func main() {
	ctx := context.Background()
	for i, b := range backends {
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("Testing %s...\n", b.name)
		testBackend(ctx, b)
	}
	fmt.Println("\n✅ All tests passed!")
}

func testBackend(ctx context.Context, b backend) {
	st, err := b.open(ctx)
	if err != nil {
		log.Fatalf("%s open failed: %v", b.name, err)
	}

	pg := pgraph.New(pgraph.StoreOpener(st), pgraph.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	defer pg.Close()

	if err := pg.Initialize(ctx); err != nil {
		log.Fatalf("Initialize failed: %v", err)
	}
	if err := pg.Hydrate(ctx); err != nil {
		log.Fatalf("Hydrate failed: %v", err)
	}
	fmt.Println("  ✓ Initialize + Hydrate works")

	if _, err := pg.AddNode(ctx, pgraph.NodeInput{ID: "W1", Label: "Test Work", Completeness: model.Full}); err != nil {
		log.Fatalf("AddNode failed: %v", err)
	}
	fmt.Println("  ✓ AddNode works")

	if _, err := pg.AddEdge(ctx, pgraph.EdgeInput{Source: "W1", Target: "A1", Type: model.Authorship, EdgeProperties: model.EdgeProperties{Position: model.Ptr(0)}}); err != nil {
		log.Fatalf("AddEdge failed: %v", err)
	}
	stub, err := st.GetNode(ctx, "A1")
	if err != nil {
		log.Fatalf("GetNode failed: %v", err)
	}
	if stub == nil || stub.Completeness != model.Stub {
		log.Fatalf("AddEdge expected a persisted stub for A1, got %+v", stub)
	}
	fmt.Println("  ✓ AddEdge persists endpoint stubs")

	if _, err := pg.UpdateNodeCompleteness(ctx, "A1", model.Partial); err != nil {
		log.Fatalf("UpdateNodeCompleteness failed: %v", err)
	}
	fmt.Println("  ✓ UpdateNodeCompleteness works")

	path, err := pg.ShortestPath(ctx, "A1", "W1", pgraph.PathOptions{})
	if err != nil {
		log.Fatalf("ShortestPath failed: %v", err)
	}
	if len(path) != 2 {
		log.Fatalf("ShortestPath expected 2 hops, got %v", path)
	}
	fmt.Println("  ✓ ShortestPath works")

	stats, err := st.Stats(ctx)
	if err != nil {
		log.Fatalf("Stats failed: %v", err)
	}
	if stats.Nodes != 2 || stats.Edges != 1 {
		log.Fatalf("Stats expected 2 nodes and 1 edge, got %+v", stats)
	}
	fmt.Println("  ✓ Stats works")

	if err := pg.Clear(ctx); err != nil {
		log.Fatalf("Clear failed: %v", err)
	}
	if err := pg.Hydrate(ctx); err != nil {
		log.Fatalf("Hydrate after Clear failed: %v", err)
	}
	s, err := pg.Statistics(ctx)
	if err != nil {
		log.Fatalf("Statistics failed: %v", err)
	}
	if s.TotalNodes != 0 {
		log.Fatalf("Clear expected an empty graph, got %d nodes", s.TotalNodes)
	}
	fmt.Println("  ✓ Clear works")
}
