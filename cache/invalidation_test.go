package cache

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/docs_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanDocumentReparentCoversBothSides(t *testing.T) {
	c := NewCoordinator(nil, nil)
	keys, scopes := c.Plan(Mutation{
		Entity: EntityDocument,
		ID:     10,
		Old:    Parents{DirectionID: utils.Ptr(1), ProcessID: utils.Ptr(11)},
		New:    Parents{DirectionID: utils.Ptr(2), ProcessID: utils.Ptr(22)},
	})

	assert.ElementsMatch(t, []Key{
		"entity:document:10",
		"global-stats",
		"direction-stats:1",
		"direction-stats:2",
		"process-stats:11",
		"process-stats:22",
	}, keys)
	assert.ElementsMatch(t, []Scope{
		DirectionScope(1), DirectionScope(2), ProcessScope(11), ProcessScope(22),
	}, scopes)
}

func TestPlanDocumentCreateTouchesNewParentsOnly(t *testing.T) {
	c := NewCoordinator(nil, nil)
	keys, scopes := c.Plan(Mutation{
		Entity: EntityDocument,
		ID:     4,
		New:    Parents{DirectionID: utils.Ptr(1), ProcessID: utils.Ptr(11)},
	})

	assert.ElementsMatch(t, []Key{"entity:document:4", "global-stats", "direction-stats:1", "process-stats:11"}, keys)
	assert.ElementsMatch(t, []Scope{DirectionScope(1), ProcessScope(11)}, scopes)
}

func TestPlanProcessReassignment(t *testing.T) {
	c := NewCoordinator(nil, nil)
	keys, scopes := c.Plan(Mutation{
		Entity: EntityProcess,
		ID:     5,
		Old:    Parents{DirectionID: utils.Ptr(1)},
		New:    Parents{DirectionID: utils.Ptr(2)},
	})

	assert.ElementsMatch(t, []Key{
		"entity:process:5",
		"global-stats",
		"process-stats:5",
		"processes:all",
		"direction-stats:1",
		"direction-stats:2",
		"processes-by-direction:1",
		"processes-by-direction:2",
	}, keys)
	assert.ElementsMatch(t, []Scope{ProcessScope(5), DirectionScope(1), DirectionScope(2)}, scopes)
}

func TestPlanDirectionWithChildren(t *testing.T) {
	c := NewCoordinator(nil, nil)
	keys, scopes := c.Plan(Mutation{
		Entity:          EntityDirection,
		ID:              3,
		ChildProcessIDs: []int{7, 8},
	})

	assert.ElementsMatch(t, []Key{
		"entity:direction:3",
		"global-stats",
		"direction-stats:3",
		"directions:all",
		"directions:active",
		"processes-by-direction:3",
		"processes:all",
		"entity:process:7",
		"entity:process:8",
	}, keys)
	assert.ElementsMatch(t, []Scope{DirectionScope(3), ProcessScope(7), ProcessScope(8)}, scopes)
}

func TestPlanDeduplicatesAcrossMutations(t *testing.T) {
	c := NewCoordinator(nil, nil)
	parents := Parents{DirectionID: utils.Ptr(1), ProcessID: utils.Ptr(2)}
	keys, scopes := c.Plan(
		Mutation{Entity: EntityDocument, ID: 1, Old: parents, New: parents},
		Mutation{Entity: EntityDocument, ID: 2, Old: parents, New: parents},
	)
	assert.Len(t, keys, 5)
	assert.Len(t, scopes, 2)
}

func TestInvalidateMakesStaleStatsMiss(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	t.Cleanup(store.Close)
	layer := newTestLayer(t, store)
	c := NewCoordinator(layer, nil)

	for _, key := range []Key{DirectionStatsKey(1), DirectionStatsKey(2), ProcessStatsKey(11), ProcessStatsKey(22), GlobalStatsKey} {
		require.NoError(t, layer.Set(ctx, key, directionStats{DocumentCount: 99}, time.Minute))
	}
	oldEpoch, err := layer.Epoch(ctx, DirectionScope(1))
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, Mutation{
		Entity: EntityDocument,
		ID:     10,
		Old:    Parents{DirectionID: utils.Ptr(1), ProcessID: utils.Ptr(11)},
		New:    Parents{DirectionID: utils.Ptr(2), ProcessID: utils.Ptr(22)},
	}))

	for _, key := range []Key{DirectionStatsKey(1), DirectionStatsKey(2), ProcessStatsKey(11), ProcessStatsKey(22), GlobalStatsKey} {
		var out directionStats
		hit, err := layer.Get(ctx, key, &out)
		require.NoError(t, err)
		assert.False(t, hit, "key %s should miss", key)
	}
	newEpoch, err := layer.Epoch(ctx, DirectionScope(1))
	require.NoError(t, err)
	assert.NotEqual(t, oldEpoch, newEpoch)
}

func TestInvalidateOnNilCoordinator(t *testing.T) {
	var c *Coordinator
	assert.NoError(t, c.Invalidate(context.Background(), Mutation{Entity: EntityDocument, ID: 1}))
}
