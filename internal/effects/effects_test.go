package effects

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perception-core/internal/vision"
)

func TestAddContributorIsIdempotent(t *testing.T) {
	agg := NewAggregateEffect("npc-1", vision.StateHidden)

	assert.True(t, agg.AddContributor("sig-a"))
	assert.False(t, agg.AddContributor("sig-a"))
	assert.Len(t, agg.Contributors, 1)
	assert.Equal(t, "observer:sig-a", agg.Contributors[0].Predicate)
}

func TestRemoveContributor(t *testing.T) {
	agg := NewAggregateEffect("npc-1", vision.StateHidden)
	agg.AddContributor("sig-a")
	agg.AddContributor("sig-b")

	assert.True(t, agg.RemoveContributor("sig-a"))
	assert.False(t, agg.RemoveContributor("sig-a"))
	assert.Len(t, agg.Contributors, 1)
	assert.True(t, agg.HasContributor("sig-b"))
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	agg := NewAggregateEffect("npc-1", vision.StateHidden)
	agg.AddContributor("sig-a")
	require.NoError(t, store.Put(ctx, "scene-1", agg))

	loaded, err := store.Get(ctx, "scene-1", "npc-1", vision.StateHidden)
	require.NoError(t, err)
	assert.Equal(t, agg.EffectID, loaded.EffectID)
	assert.True(t, loaded.HasContributor("sig-a"))

	_, err = store.Get(ctx, "scene-1", "npc-1", vision.StateUndetected)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListAndDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	hidden := NewAggregateEffect("npc-1", vision.StateHidden)
	undetected := NewAggregateEffect("npc-1", vision.StateUndetected)
	other := NewAggregateEffect("npc-2", vision.StateHidden)
	require.NoError(t, store.Put(ctx, "scene-1", hidden))
	require.NoError(t, store.Put(ctx, "scene-1", undetected))
	require.NoError(t, store.Put(ctx, "scene-1", other))

	listed, err := store.List(ctx, "scene-1", "npc-1")
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	require.NoError(t, store.Delete(ctx, "scene-1", "npc-1", vision.StateHidden))
	listed, err = store.List(ctx, "scene-1", "npc-1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	// Deleting a missing aggregate is not an error.
	assert.NoError(t, store.Delete(ctx, "scene-1", "npc-1", vision.StateHidden))
}
