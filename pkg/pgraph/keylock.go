package pgraph

import (
	"hash/fnv"
	"slices"
	"sync"
)

const keyShards = 64

// keyLocks serializes mutations that touch the same node or edge keys.
// Keys hash onto a fixed set of mutexes; multi-key acquisition locks
// shards in ascending order so two writers can never deadlock.
type keyLocks struct {
	shards [keyShards]sync.Mutex
}

func shardOf(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % keyShards)
}

// lock acquires every shard covering keys and returns the release func.
func (kl *keyLocks) lock(keys ...string) func() {
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		idx = append(idx, shardOf(k))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)

	for _, i := range idx {
		kl.shards[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			kl.shards[idx[j]].Unlock()
		}
	}
}
