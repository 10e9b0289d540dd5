package completeness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/kitgraph/pkg/model"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		current, requested model.Completeness
		strict, lenient    Decision
	}{
		{model.Stub, model.Stub, NoOp, NoOp},
		{model.Stub, model.Partial, AcceptUpgrade, AcceptUpgrade},
		{model.Stub, model.Full, AcceptUpgrade, AcceptUpgrade},
		{model.Partial, model.Stub, RejectDowngrade, NoOp},
		{model.Partial, model.Partial, NoOp, NoOp},
		{model.Partial, model.Full, AcceptUpgrade, AcceptUpgrade},
		{model.Full, model.Stub, RejectDowngrade, NoOp},
		{model.Full, model.Partial, RejectDowngrade, NoOp},
		{model.Full, model.Full, NoOp, NoOp},
	}
	for _, tc := range cases {
		name := string(tc.current) + "->" + string(tc.requested)
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.strict, Decide(tc.current, tc.requested, PolicyStrict), "strict")
			assert.Equal(t, tc.lenient, Decide(tc.current, tc.requested, PolicyLenient), "lenient")
		})
	}
}

func baseNode() *model.GraphNode {
	return &model.GraphNode{
		ID:           "A1",
		EntityType:   model.Authors,
		Label:        "A. Author",
		Completeness: model.Partial,
		CachedAt:     100,
		UpdatedAt:    100,
		Metadata:     model.Metadata{"orcid": "0000-0001", "hIndex": 12},
	}
}

func TestMergeNodeUpgrade(t *testing.T) {
	existing := baseNode()
	got, changed := MergeNode(existing, Patch{Completeness: model.Full}, AcceptUpgrade, 200)

	require.True(t, changed)
	assert.Equal(t, model.Full, got.Completeness)
	assert.Equal(t, "A. Author", got.Label, "missing label preserves")
	assert.Equal(t, int64(100), got.CachedAt)
	assert.Equal(t, int64(200), got.UpdatedAt)
	assert.Equal(t, model.Partial, existing.Completeness, "input untouched")
}

func TestMergeNodeSameLevelRefresh(t *testing.T) {
	existing := baseNode()
	patch := Patch{
		Completeness: model.Partial,
		Label:        "Ada Author",
		Metadata:     model.Metadata{"hIndex": 13, "orcid": nil, "country": "NZ"},
	}
	got, changed := MergeNode(existing, patch, NoOp, 300)

	require.True(t, changed)
	assert.Equal(t, model.Partial, got.Completeness)
	assert.Equal(t, "Ada Author", got.Label)
	assert.Equal(t, model.Metadata{"orcid": "0000-0001", "hIndex": 13, "country": "NZ"}, got.Metadata)
	assert.Equal(t, int64(300), got.UpdatedAt)
	assert.Equal(t, 12, existing.Metadata["hIndex"], "input metadata untouched")
}

func TestMergeNodeNothingNew(t *testing.T) {
	existing := baseNode()
	patch := Patch{
		Completeness: model.Partial,
		Label:        "A. Author",
		EntityType:   model.Authors,
		Metadata:     model.Metadata{"hIndex": 12},
	}
	got, changed := MergeNode(existing, patch, NoOp, 300)
	assert.False(t, changed)
	assert.Equal(t, int64(100), got.UpdatedAt)
}

func TestMergeNodeRejectLeavesNode(t *testing.T) {
	existing := baseNode()
	got, changed := MergeNode(existing, Patch{Completeness: model.Stub, Label: "x"}, RejectDowngrade, 300)
	assert.False(t, changed)
	assert.Equal(t, existing, got)
}

func TestMergeNodeNilMetadataBase(t *testing.T) {
	existing := baseNode()
	existing.Metadata = nil
	got, changed := MergeNode(existing, Patch{Metadata: model.Metadata{"k": "v"}}, NoOp, 1)
	require.True(t, changed)
	assert.Equal(t, model.Metadata{"k": "v"}, got.Metadata)
}

func TestMergeEdge(t *testing.T) {
	existing := &model.GraphEdge{
		ID: "W1-A1-AUTHORSHIP", Source: "W1", Target: "A1", Type: model.Authorship,
		Direction: model.Outbound, DiscoveredAt: 5,
		EdgeProperties: model.EdgeProperties{Position: model.Ptr(0)},
	}

	t.Run("same observation", func(t *testing.T) {
		_, changed := MergeEdge(existing, existing.Clone())
		assert.False(t, changed)
	})

	t.Run("new property", func(t *testing.T) {
		incoming := &model.GraphEdge{
			ID: existing.ID, Source: "W1", Target: "A1", Type: model.Authorship,
			Direction: model.Inbound, DiscoveredAt: 99,
			EdgeProperties: model.EdgeProperties{IsCorresponding: model.Ptr(true)},
		}
		got, changed := MergeEdge(existing, incoming)
		require.True(t, changed)
		assert.Equal(t, 0, *got.Position, "absent property preserved")
		assert.True(t, *got.IsCorresponding)
		assert.Equal(t, model.Outbound, got.Direction)
		assert.Equal(t, int64(5), got.DiscoveredAt)
		assert.Nil(t, existing.IsCorresponding)
	})

	t.Run("overwrite and years", func(t *testing.T) {
		incoming := &model.GraphEdge{EdgeProperties: model.EdgeProperties{
			Position: model.Ptr(2),
			Years:    []int{2020, 2021},
		}}
		got, changed := MergeEdge(existing, incoming)
		require.True(t, changed)
		assert.Equal(t, 2, *got.Position)
		assert.Equal(t, []int{2020, 2021}, got.Years)

		_, again := MergeEdge(got, incoming)
		assert.False(t, again)
	})
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "reject_downgrade", RejectDowngrade.String())
	assert.Equal(t, "unknown", Decision(42).String())
}
