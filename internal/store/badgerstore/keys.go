package badgerstore

import (
	"encoding/binary"

	"github.com/kittclouds/kitgraph/pkg/model"
)

// Key prefixes. Records live under 0x01/0x02; every secondary index is a
// value-less key ending in the record ID.
const (
	prefixNode = byte(0x01) // node:id -> JSON
	prefixEdge = byte(0x02) // edge:id -> JSON

	prefixNodeType         = byte(0x10) // entityType 0x00 id
	prefixNodeCompleteness = byte(0x11) // completeness 0x00 id
	prefixNodeCachedAt     = byte(0x12) // cachedAt(8) id
	prefixNodeUpdatedAt    = byte(0x13) // updatedAt(8) id

	prefixEdgeSource       = byte(0x20) // source 0x00 id
	prefixEdgeTarget       = byte(0x21) // target 0x00 id
	prefixEdgeType         = byte(0x22) // type 0x00 id
	prefixEdgeDirection    = byte(0x23) // direction 0x00 id
	prefixEdgeSourceType   = byte(0x24) // source 0x00 type 0x00 id
	prefixEdgeTargetType   = byte(0x25) // target 0x00 type 0x00 id
	prefixEdgeDiscoveredAt = byte(0x26) // discoveredAt(8) id

	prefixMeta = byte(0xF0)
)

const sep = byte(0x00)

var schemaVersionKey = []byte{prefixMeta, 's', 'c', 'h', 'e', 'm', 'a'}

// dataPrefixes are dropped by Clear; meta is kept.
var dataPrefixes = [][]byte{
	{prefixNode}, {prefixEdge},
	{prefixNodeType}, {prefixNodeCompleteness}, {prefixNodeCachedAt}, {prefixNodeUpdatedAt},
	{prefixEdgeSource}, {prefixEdgeTarget}, {prefixEdgeType}, {prefixEdgeDirection},
	{prefixEdgeSourceType}, {prefixEdgeTargetType}, {prefixEdgeDiscoveredAt},
}

func nodeKey(id string) []byte {
	return append([]byte{prefixNode}, id...)
}

func edgeKey(id string) []byte {
	return append([]byte{prefixEdge}, id...)
}

// indexPrefix builds prefix + part0 0x00 part1 0x00 ... for string-valued
// indexes. The trailing separator keeps "W1" from matching "W11".
func indexPrefix(prefix byte, parts ...string) []byte {
	n := 1
	for _, p := range parts {
		n += len(p) + 1
	}
	key := make([]byte, 0, n)
	key = append(key, prefix)
	for _, p := range parts {
		key = append(key, p...)
		key = append(key, sep)
	}
	return key
}

// timePrefix builds prefix + an order-preserving encoding of ts.
func timePrefix(prefix byte, ts int64) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], uint64(ts)^(1<<63))
	return key
}

func withID(prefix []byte, id string) []byte {
	key := make([]byte, 0, len(prefix)+len(id))
	key = append(key, prefix...)
	return append(key, id...)
}

// nodeIndexKeys lists every index entry for n.
func nodeIndexKeys(n *model.GraphNode) [][]byte {
	return [][]byte{
		withID(indexPrefix(prefixNodeType, string(n.EntityType)), n.ID),
		withID(indexPrefix(prefixNodeCompleteness, string(n.Completeness)), n.ID),
		withID(timePrefix(prefixNodeCachedAt, n.CachedAt), n.ID),
		withID(timePrefix(prefixNodeUpdatedAt, n.UpdatedAt), n.ID),
	}
}

// edgeIndexKeys lists every index entry for e.
func edgeIndexKeys(e *model.GraphEdge) [][]byte {
	t := string(e.Type)
	return [][]byte{
		withID(indexPrefix(prefixEdgeSource, e.Source), e.ID),
		withID(indexPrefix(prefixEdgeTarget, e.Target), e.ID),
		withID(indexPrefix(prefixEdgeType, t), e.ID),
		withID(indexPrefix(prefixEdgeDirection, string(e.Direction)), e.ID),
		withID(indexPrefix(prefixEdgeSourceType, e.Source, t), e.ID),
		withID(indexPrefix(prefixEdgeTargetType, e.Target, t), e.ID),
		withID(timePrefix(prefixEdgeDiscoveredAt, e.DiscoveredAt), e.ID),
	}
}
