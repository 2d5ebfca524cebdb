package perception

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perception-core/internal/entity"
	"perception-core/internal/records"
	"perception-core/internal/vision"
)

func newTestResolver() (*Resolver, *records.MemoryStore) {
	store := records.NewMemoryStore()
	return NewResolver(store, []string{"see-invisibility", "truesight"}), store
}

func TestIsInvisibleToRespectsCounterSenses(t *testing.T) {
	r, _ := newTestResolver()

	target := entity.New("ghost-1", "creature", "scene-1")
	target.Conditions = append(target.Conditions, entity.Condition{Name: "invisible"})

	plain := entity.New("guard-1", "creature", "scene-1")
	assert.True(t, r.IsInvisibleTo(plain, target))

	seer := entity.New("oracle-1", "creature", "scene-1")
	seer.Payload["senses"] = map[string]interface{}{"see-invisibility": true}
	assert.False(t, r.IsInvisibleTo(seer, target))
}

func TestInvisibilityStateForObserverWhoSeesNormally(t *testing.T) {
	r, _ := newTestResolver()
	ctx := context.Background()

	state, err := r.InvisibilityState(ctx, "scene-1", "guard-1", "ghost-1", false, true)
	require.NoError(t, err)
	assert.Equal(t, vision.StateHidden, state)

	state, err = r.InvisibilityState(ctx, "scene-1", "guard-1", "ghost-1", true, true)
	require.NoError(t, err)
	assert.Equal(t, vision.StateUndetected, state)
}

func TestInvisibilityStateUsesSnapshot(t *testing.T) {
	r, store := newTestResolver()
	ctx := context.Background()

	record := records.NewPerceptionRecord("ghost-1")
	record.InvisibilitySnapshots["guard-1"] = vision.InvisibilitySnapshot{WasVisible: true}
	record.InvisibilitySnapshots["guard-2"] = vision.InvisibilitySnapshot{WasVisible: false}
	require.NoError(t, store.PutRecord(ctx, "scene-1", record))

	// Seen when invisibility began: starts hidden.
	state, err := r.InvisibilityState(ctx, "scene-1", "guard-1", "ghost-1", false, false)
	require.NoError(t, err)
	assert.Equal(t, vision.StateHidden, state)

	// Not seen at that instant: undetected.
	state, err = r.InvisibilityState(ctx, "scene-1", "guard-2", "ghost-1", false, false)
	require.NoError(t, err)
	assert.Equal(t, vision.StateUndetected, state)

	// No snapshot entry at all defaults to undetected.
	state, err = r.InvisibilityState(ctx, "scene-1", "guard-3", "ghost-1", false, false)
	require.NoError(t, err)
	assert.Equal(t, vision.StateUndetected, state)
}

func TestHandleInvisibilityGainedCapturesRelations(t *testing.T) {
	r, store := newTestResolver()
	ctx := context.Background()

	target := entity.New("ghost-1", "creature", "scene-1")
	require.NoError(t, store.PutEntity(ctx, "scene-1", target))
	for _, id := range []string{"guard-1", "guard-2"} {
		require.NoError(t, store.PutEntity(ctx, "scene-1", entity.New(id, "creature", "scene-1")))
	}

	seeing := records.NewPerceptionRecord("guard-1")
	seeing.VisibilityRelations["ghost-1"] = vision.StateObserved
	require.NoError(t, store.PutRecord(ctx, "scene-1", seeing))

	blindSpot := records.NewPerceptionRecord("guard-2")
	blindSpot.VisibilityRelations["ghost-1"] = vision.StateHidden
	require.NoError(t, store.PutRecord(ctx, "scene-1", blindSpot))

	require.NoError(t, r.HandleInvisibilityGained(ctx, "scene-1", target))

	record, err := store.GetRecord(ctx, "scene-1", "ghost-1")
	require.NoError(t, err)
	assert.True(t, record.InvisibilitySnapshots["guard-1"].WasVisible)
	assert.False(t, record.InvisibilitySnapshots["guard-2"].WasVisible)
}

func TestHandleInvisibilityLostClearsSnapshots(t *testing.T) {
	r, store := newTestResolver()
	ctx := context.Background()

	record := records.NewPerceptionRecord("ghost-1")
	record.InvisibilitySnapshots["guard-1"] = vision.InvisibilitySnapshot{WasVisible: true}
	require.NoError(t, store.PutRecord(ctx, "scene-1", record))

	require.NoError(t, r.HandleInvisibilityLost(ctx, "scene-1", "ghost-1"))

	got, err := store.GetRecord(ctx, "scene-1", "ghost-1")
	require.NoError(t, err)
	assert.Empty(t, got.InvisibilitySnapshots)
}
