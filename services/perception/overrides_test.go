package perception

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perception-core/internal/entity"
	"perception-core/internal/records"
	"perception-core/internal/vision"
)

func seedEntities(t *testing.T, store records.Store, sceneID string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, store.PutEntity(context.Background(), sceneID, entity.New(id, "creature", sceneID)))
	}
}

func newTestOverrideStore() (*OverrideStore, *records.MemoryStore, *time.Time) {
	store := records.NewMemoryStore()
	s := NewOverrideStore(store, 5*time.Minute)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, store, &now
}

func TestSetOverrideRejectsUnknownState(t *testing.T) {
	s, _, _ := newTestOverrideStore()

	err := s.SetOverride(context.Background(), "scene-1", "a", "b", "translucent", OverrideOptions{})
	assert.ErrorIs(t, err, vision.ErrInvalidVisibilityState)

	has, err := s.HasOverride(context.Background(), "scene-1", "a", "b")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestTransientOverrideExpires(t *testing.T) {
	s, _, now := newTestOverrideStore()
	ctx := context.Background()

	require.NoError(t, s.SetOverride(ctx, "scene-1", "a", "b", vision.StateHidden, OverrideOptions{}))

	o, err := s.GetOverride(ctx, "scene-1", "a", "b")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, vision.StateHidden, o.State)

	*now = now.Add(5*time.Minute + time.Second)
	o, err = s.GetOverride(ctx, "scene-1", "a", "b")
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestPersistentOverrideSurvivesTime(t *testing.T) {
	s, _, now := newTestOverrideStore()
	ctx := context.Background()

	require.NoError(t, s.SetOverride(ctx, "scene-1", "a", "b", vision.StateUndetected, OverrideOptions{Persistent: true}))

	*now = now.Add(24 * time.Hour)
	o, err := s.GetOverride(ctx, "scene-1", "a", "b")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, vision.StateUndetected, o.State)
	assert.True(t, o.Persistent)
}

func TestTransientShadowsPersistent(t *testing.T) {
	s, store, _ := newTestOverrideStore()
	ctx := context.Background()
	seedEntities(t, store, "scene-1", "a", "b")

	require.NoError(t, s.SetOverride(ctx, "scene-1", "a", "b", vision.StateHidden, OverrideOptions{Persistent: true}))
	require.NoError(t, s.SetOverride(ctx, "scene-1", "a", "b", vision.StateUndetected, OverrideOptions{}))

	o, err := s.GetOverride(ctx, "scene-1", "a", "b")
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, vision.StateUndetected, o.State)

	involving, err := s.OverridesInvolving(ctx, "scene-1", "a")
	require.NoError(t, err)
	assert.Len(t, involving, 1)
}

func TestGetEffectiveStatePrecedence(t *testing.T) {
	s, _, _ := newTestOverrideStore()
	ctx := context.Background()

	// No override: computed stands.
	state, err := s.GetEffectiveState(ctx, "scene-1", "a", "b", vision.StateObserved)
	require.NoError(t, err)
	assert.Equal(t, vision.StateObserved, state)

	// Override wins over the computed state.
	require.NoError(t, s.SetOverride(ctx, "scene-1", "a", "b", vision.StateHidden, OverrideOptions{}))
	state, err = s.GetEffectiveState(ctx, "scene-1", "a", "b", vision.StateObserved)
	require.NoError(t, err)
	assert.Equal(t, vision.StateHidden, state)

	// An enabled kill switch disables override application entirely.
	require.NoError(t, s.SetKillSwitch(ctx, "scene-1", "a", true))
	state, err = s.GetEffectiveState(ctx, "scene-1", "a", "b", vision.StateObserved)
	require.NoError(t, err)
	assert.Equal(t, vision.StateObserved, state)

	require.NoError(t, s.SetKillSwitch(ctx, "scene-1", "a", false))
	state, err = s.GetEffectiveState(ctx, "scene-1", "a", "b", vision.StateObserved)
	require.NoError(t, err)
	assert.Equal(t, vision.StateHidden, state)
}

func TestRemoveAllInvolving(t *testing.T) {
	s, store, _ := newTestOverrideStore()
	ctx := context.Background()
	seedEntities(t, store, "scene-1", "a", "b", "c")

	require.NoError(t, s.SetOverride(ctx, "scene-1", "a", "b", vision.StateHidden, OverrideOptions{}))
	require.NoError(t, s.SetOverride(ctx, "scene-1", "b", "a", vision.StateHidden, OverrideOptions{Persistent: true}))
	require.NoError(t, s.SetOverride(ctx, "scene-1", "b", "c", vision.StateHidden, OverrideOptions{Persistent: true}))

	require.NoError(t, s.RemoveAllInvolving(ctx, "scene-1", "a"))

	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		has, err := s.HasOverride(ctx, "scene-1", pair[0], pair[1])
		require.NoError(t, err)
		assert.False(t, has, "pair %v should be cleared", pair)
	}

	has, err := s.HasOverride(ctx, "scene-1", "b", "c")
	require.NoError(t, err)
	assert.True(t, has, "unrelated pair must survive")
}
