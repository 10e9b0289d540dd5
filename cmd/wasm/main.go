//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"syscall/js"

	"github.com/hack-pad/hackpadfs/indexeddb"

	"github.com/kittclouds/kitgraph/internal/store"
	"github.com/kittclouds/kitgraph/pkg/completeness"
	"github.com/kittclouds/kitgraph/pkg/model"
	"github.com/kittclouds/kitgraph/pkg/pgraph"
)

const Version = "0.3.0"

// Database name in IndexedDB.
const dbName = "kitgraph"

var kg *pgraph.PersistentGraph

func main() {
	println("[KitGraph] WASM Ready v" + Version)

	js.Global().Set("KitGraph", js.ValueOf(map[string]interface{}{
		"version":                js.FuncOf(getVersion),
		"initialize":             js.FuncOf(initialize),
		"addNode":                js.FuncOf(addNode),
		"addEdge":                js.FuncOf(addEdge),
		"updateNodeCompleteness": js.FuncOf(updateNodeCompleteness),
		"updateNodeLabel":        js.FuncOf(updateNodeLabel),
		"removeNode":             js.FuncOf(removeNode),
		"removeEdge":             js.FuncOf(removeEdge),
		"getNode":                js.FuncOf(getNode),
		"getNeighbors":           js.FuncOf(getNeighbors),
		"getSubgraph":            js.FuncOf(getSubgraph),
		"getShortestPath":        js.FuncOf(getShortestPath),
		"getStatistics":          js.FuncOf(getStatistics),
		"getStubs":               js.FuncOf(getStubs),
		"subscribe":              js.FuncOf(subscribe),
		"clear":                  js.FuncOf(clearGraph),
		"close":                  js.FuncOf(closeGraph),
	}))

	select {}
}

// async runs fn off the event loop and returns a Promise resolving to its
// JSON result. IndexedDB only answers once the handler has returned, so
// nothing that touches storage may run on the calling goroutine.
func async(fn func(ctx context.Context) (any, error)) js.Value {
	handler := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		resolve := args[0]
		go func() {
			v, err := fn(context.Background())
			if err != nil {
				resolve.Invoke(errorResult(err.Error()))
				return
			}
			raw, err := json.Marshal(v)
			if err != nil {
				resolve.Invoke(errorResult("encode result: " + err.Error()))
				return
			}
			resolve.Invoke(string(raw))
		}()
		return nil
	})
	// The executor runs inside the Promise constructor.
	p := js.Global().Get("Promise").New(handler)
	handler.Release()
	return p
}

var errNotInitialized = errors.New("graph not initialized, call initialize() first")

func withGraph(fn func(ctx context.Context, g *pgraph.PersistentGraph) (any, error)) js.Value {
	return async(func(ctx context.Context) (any, error) {
		if kg == nil {
			return nil, errNotInitialized
		}
		return fn(ctx, kg)
	})
}

func decodeArg[T any](args []js.Value, i int, name string) (T, error) {
	var v T
	if len(args) <= i || args[i].IsUndefined() || args[i].IsNull() {
		return v, nil
	}
	if err := json.Unmarshal([]byte(args[i].String()), &v); err != nil {
		return v, errors.New("invalid " + name + " json: " + err.Error())
	}
	return v, nil
}

func stringArg(args []js.Value, i int) string {
	if len(args) <= i || args[i].IsUndefined() || args[i].IsNull() {
		return ""
	}
	return args[i].String()
}

func getVersion(this js.Value, args []js.Value) interface{} {
	return Version
}

// initialize: [optionsJSON?] {"lenient": bool}
// Opens the IndexedDB-backed store and hydrates the graph.
func initialize(this js.Value, args []js.Value) interface{} {
	opts, err := decodeArg[struct {
		Lenient bool `json:"lenient"`
	}](args, 0, "options")
	if err != nil {
		return errorResult(err.Error())
	}
	return async(func(ctx context.Context) (any, error) {
		if kg != nil {
			return map[string]string{"success": "already initialized"}, nil
		}
		policy := completeness.PolicyStrict
		if opts.Lenient {
			policy = completeness.PolicyLenient
		}
		g := pgraph.New(func(ctx context.Context) (store.Storer, error) {
			fs, err := indexeddb.NewFS(ctx, dbName, indexeddb.Options{})
			if err != nil {
				return nil, store.IOError("idb: open", err)
			}
			st, err := store.OpenFS(ctx, fs)
			if err != nil {
				return nil, err
			}
			return st, nil
		}, pgraph.Options{Logger: slog.Default(), AutoHydrate: true, Policy: policy})
		if err := g.Initialize(ctx); err != nil {
			return nil, err
		}
		if err := g.Hydrate(ctx); err != nil {
			return nil, err
		}
		kg = g
		return map[string]string{"success": "initialized"}, nil
	})
}

// addNode: [nodeInputJSON]
func addNode(this js.Value, args []js.Value) interface{} {
	in, err := decodeArg[pgraph.NodeInput](args, 0, "node")
	if err != nil {
		return errorResult(err.Error())
	}
	return withGraph(func(ctx context.Context, g *pgraph.PersistentGraph) (any, error) {
		return g.AddNode(ctx, in)
	})
}

// addEdge: [edgeInputJSON]
func addEdge(this js.Value, args []js.Value) interface{} {
	in, err := decodeArg[pgraph.EdgeInput](args, 0, "edge")
	if err != nil {
		return errorResult(err.Error())
	}
	return withGraph(func(ctx context.Context, g *pgraph.PersistentGraph) (any, error) {
		return g.AddEdge(ctx, in)
	})
}

// updateNodeCompleteness: [id, completeness]
func updateNodeCompleteness(this js.Value, args []js.Value) interface{} {
	id, c := stringArg(args, 0), model.Completeness(stringArg(args, 1))
	return withGraph(func(ctx context.Context, g *pgraph.PersistentGraph) (any, error) {
		return g.UpdateNodeCompleteness(ctx, id, c)
	})
}

// updateNodeLabel: [id, label]
func updateNodeLabel(this js.Value, args []js.Value) interface{} {
	id, label := stringArg(args, 0), stringArg(args, 1)
	return withGraph(func(ctx context.Context, g *pgraph.PersistentGraph) (any, error) {
		return g.UpdateNodeLabel(ctx, id, label)
	})
}

// removeNode: [id]
func removeNode(this js.Value, args []js.Value) interface{} {
	id := stringArg(args, 0)
	return withGraph(func(ctx context.Context, g *pgraph.PersistentGraph) (any, error) {
		return map[string]string{"success": "removed"}, g.RemoveNode(ctx, id)
	})
}

// removeEdge: [id]
func removeEdge(this js.Value, args []js.Value) interface{} {
	id := stringArg(args, 0)
	return withGraph(func(ctx context.Context, g *pgraph.PersistentGraph) (any, error) {
		return map[string]string{"success": "removed"}, g.RemoveEdge(ctx, id)
	})
}

// getNode: [id]
func getNode(this js.Value, args []js.Value) interface{} {
	id := stringArg(args, 0)
	return withGraph(func(ctx context.Context, g *pgraph.PersistentGraph) (any, error) {
		return g.GetNode(ctx, id)
	})
}

type queryOptions struct {
	Direction pgraph.Direction     `json:"direction"`
	Types     []model.RelationType `json:"types"`
	Limit     int                  `json:"limit"`
}

// getNeighbors: [id, optionsJSON?] {"direction","types","limit"}
func getNeighbors(this js.Value, args []js.Value) interface{} {
	id := stringArg(args, 0)
	opts, err := decodeArg[queryOptions](args, 1, "options")
	if err != nil {
		return errorResult(err.Error())
	}
	return withGraph(func(ctx context.Context, g *pgraph.PersistentGraph) (any, error) {
		return g.Neighbors(ctx, id, pgraph.NeighborOptions{
			Direction: opts.Direction,
			Types:     opts.Types,
			Limit:     opts.Limit,
		})
	})
}

// getSubgraph: [idsJSON]
func getSubgraph(this js.Value, args []js.Value) interface{} {
	ids, err := decodeArg[[]string](args, 0, "ids")
	if err != nil {
		return errorResult(err.Error())
	}
	return withGraph(func(ctx context.Context, g *pgraph.PersistentGraph) (any, error) {
		return g.Subgraph(ctx, ids)
	})
}

// getShortestPath: [from, to, optionsJSON?] {"direction","types"}
func getShortestPath(this js.Value, args []js.Value) interface{} {
	from, to := stringArg(args, 0), stringArg(args, 1)
	opts, err := decodeArg[queryOptions](args, 2, "options")
	if err != nil {
		return errorResult(err.Error())
	}
	return withGraph(func(ctx context.Context, g *pgraph.PersistentGraph) (any, error) {
		return g.ShortestPath(ctx, from, to, pgraph.PathOptions{Direction: opts.Direction, Types: opts.Types})
	})
}

func getStatistics(this js.Value, args []js.Value) interface{} {
	return withGraph(func(ctx context.Context, g *pgraph.PersistentGraph) (any, error) {
		return g.Statistics(ctx)
	})
}

// getStubs lists nodes still waiting for their details.
func getStubs(this js.Value, args []js.Value) interface{} {
	return withGraph(func(ctx context.Context, g *pgraph.PersistentGraph) (any, error) {
		return g.NodesByCompleteness(ctx, model.Stub)
	})
}

type jsEvent struct {
	Type      pgraph.EventType `json:"type"`
	Node      *model.GraphNode `json:"node,omitempty"`
	Edge      *model.GraphEdge `json:"edge,omitempty"`
	ID        string           `json:"id,omitempty"`
	NodeCount int              `json:"nodeCount,omitempty"`
	EdgeCount int              `json:"edgeCount,omitempty"`
	Op        string           `json:"op,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// subscribe: [callback(eventJSON)]
// Returns an unsubscribe function.
func subscribe(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 || args[0].Type() != js.TypeFunction {
		return errorResult("subscribe requires a callback")
	}
	if kg == nil {
		return errorResult(errNotInitialized.Error())
	}
	cb := args[0]
	unsubscribe := kg.Subscribe(func(ev pgraph.Event) {
		out := jsEvent{
			Type: ev.Type, Node: ev.Node, Edge: ev.Edge, ID: ev.ID,
			NodeCount: ev.NodeCount, EdgeCount: ev.EdgeCount, Op: ev.Op,
		}
		if ev.Err != nil {
			out.Error = ev.Err.Error()
		}
		raw, _ := json.Marshal(out)
		cb.Invoke(string(raw))
	})
	var release js.Func
	release = js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		unsubscribe()
		release.Release()
		return nil
	})
	return release
}

func clearGraph(this js.Value, args []js.Value) interface{} {
	return withGraph(func(ctx context.Context, g *pgraph.PersistentGraph) (any, error) {
		return map[string]string{"success": "cleared"}, g.Clear(ctx)
	})
}

func closeGraph(this js.Value, args []js.Value) interface{} {
	return withGraph(func(ctx context.Context, g *pgraph.PersistentGraph) (any, error) {
		kg = nil
		return map[string]string{"success": "closed"}, g.Close()
	})
}

// Helper: Create error result
func errorResult(msg string) interface{} {
	result := map[string]interface{}{
		"error": msg,
	}
	jsonBytes, _ := json.Marshal(result)
	return string(jsonBytes)
}
