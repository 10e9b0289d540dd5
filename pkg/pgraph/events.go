package pgraph

import (
	"slices"
	"sync"

	"github.com/kittclouds/kitgraph/pkg/model"
)

// EventType names a lifecycle or mutation event.
type EventType string

const (
	EventInitialized EventType = "initialized"
	EventHydrated    EventType = "hydrated"
	EventNodeAdded   EventType = "nodeAdded"
	EventNodeUpdated EventType = "nodeUpdated"
	EventEdgeAdded   EventType = "edgeAdded"
	EventEdgeUpdated EventType = "edgeUpdated"
	EventNodeRemoved EventType = "nodeRemoved"
	EventEdgeRemoved EventType = "edgeRemoved"
	EventCleared     EventType = "cleared"
	EventError       EventType = "error"
)

// Event is delivered to listeners after the change is visible in both
// tiers. Only the fields relevant to Type are set; records are copies.
type Event struct {
	Type EventType

	Node *model.GraphNode
	Edge *model.GraphEdge
	// ID is set for removals.
	ID string

	// NodeCount and EdgeCount are set for hydrated.
	NodeCount int
	EdgeCount int

	// Op and Err are set for error events.
	Op  string
	Err error
}

// Listener receives events synchronously on the goroutine that caused
// them, after every graph lock has been released.
type Listener func(Event)

type emitter struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[int]Listener)}
}

func (em *emitter) subscribe(l Listener) func() {
	em.mu.Lock()
	id := em.next
	em.next++
	em.listeners[id] = l
	em.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			em.mu.Lock()
			delete(em.listeners, id)
			em.mu.Unlock()
		})
	}
}

// emit calls listeners in subscription order.
func (em *emitter) emit(ev Event) {
	em.mu.RLock()
	ids := make([]int, 0, len(em.listeners))
	for id := range em.listeners {
		ids = append(ids, id)
	}
	ls := make([]Listener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		ls = append(ls, em.listeners[id])
	}
	em.mu.RUnlock()

	for _, l := range ls {
		l(ev)
	}
}

// Subscribe registers l and returns a func that removes it.
func (pg *PersistentGraph) Subscribe(l Listener) (unsubscribe func()) {
	return pg.events.subscribe(l)
}
