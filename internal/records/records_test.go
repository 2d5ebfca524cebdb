package records

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perception-core/internal/entity"
	"perception-core/internal/vision"
)

func TestMemoryStoreEntityRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	e := entity.New("hero-1", "player", "scene-1")
	e.Position.X = 3
	require.NoError(t, store.PutEntity(ctx, "scene-1", e))

	loaded, err := store.GetEntity(ctx, "scene-1", "hero-1")
	require.NoError(t, err)
	assert.Equal(t, "hero-1", loaded.EntityID)
	assert.Equal(t, 3.0, loaded.Position.X)

	// Mutating the loaded copy must not leak back into the store.
	loaded.Position.X = 99
	again, err := store.GetEntity(ctx, "scene-1", "hero-1")
	require.NoError(t, err)
	assert.Equal(t, 3.0, again.Position.X)
}

func TestMemoryStoreEntityNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetEntity(context.Background(), "scene-1", "ghost")
	assert.ErrorIs(t, err, ErrEntityNotFound)
}

func TestGetRecordReturnsFreshRecordWhenAbsent(t *testing.T) {
	store := NewMemoryStore()
	record, err := store.GetRecord(context.Background(), "scene-1", "hero-1")
	require.NoError(t, err)
	assert.Equal(t, "hero-1", record.EntityID)
	assert.NotNil(t, record.VisibilityRelations)
	assert.NotNil(t, record.Overrides)
	assert.NotNil(t, record.InvisibilitySnapshots)
}

func TestRecordRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := NewPerceptionRecord("hero-1")
	record.VisibilityRelations["npc-1"] = vision.StateConcealed
	record.CoverRelations["npc-1"] = vision.CoverStandard
	record.KillSwitch = true
	require.NoError(t, store.PutRecord(ctx, "scene-1", record))

	loaded, err := store.GetRecord(ctx, "scene-1", "hero-1")
	require.NoError(t, err)
	assert.Equal(t, vision.StateConcealed, loaded.VisibilityRelations["npc-1"])
	assert.Equal(t, vision.CoverStandard, loaded.CoverRelations["npc-1"])
	assert.True(t, loaded.KillSwitch)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestListEntityIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.PutEntity(ctx, "scene-1", entity.New("b", "npc", "scene-1")))
	require.NoError(t, store.PutEntity(ctx, "scene-1", entity.New("a", "npc", "scene-1")))
	require.NoError(t, store.PutEntity(ctx, "scene-2", entity.New("c", "npc", "scene-2")))

	ids, err := store.ListEntityIDs(ctx, "scene-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
}
