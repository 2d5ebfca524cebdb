package perception

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perception-core/internal/config"
	"perception-core/internal/effects"
	"perception-core/internal/entity"
	"perception-core/internal/oracle"
	"perception-core/internal/records"
	"perception-core/internal/spatial"
	"perception-core/internal/vision"
)

// engineFixture wires a full pipeline over in-memory stores and fixed-answer
// oracles.
type engineFixture struct {
	store     *records.MemoryStore
	effects   *effects.MemoryStore
	overrides *OverrideStore
	resolver  *Resolver
	engine    *Engine

	mu      sync.Mutex
	changes []RelationChange
}

func newEngineFixture(light vision.LightLevel, occ oracle.StaticOcclusion) *engineFixture {
	store := records.NewMemoryStore()
	effectStore := effects.NewMemoryStore()

	f := &engineFixture{
		store:   store,
		effects: effectStore,
	}
	f.resolver = NewResolver(store, []string{"see-invisibility", "truesight"})
	f.overrides = NewOverrideStore(store, 5*time.Minute)
	f.engine = NewEngine(
		store,
		NewAnalyzer(time.Second),
		f.resolver,
		f.overrides,
		NewAggregator(effectStore),
		oracle.StaticLighting{Level: light},
		occ,
		nil,
		func(string) *config.Profile { return config.DefaultProfile() },
		f.recordChange,
	)
	return f
}

func (f *engineFixture) recordChange(change RelationChange) {
	f.mu.Lock()
	f.changes = append(f.changes, change)
	f.mu.Unlock()
}

func (f *engineFixture) addEntity(t *testing.T, sceneID, entityID string, pos spatial.Point, conditions ...string) *entity.Entity {
	t.Helper()
	e := entity.New(entityID, "creature", sceneID)
	e.Position = pos
	for _, name := range conditions {
		e.Conditions = append(e.Conditions, entity.Condition{Name: name})
	}
	require.NoError(t, f.store.PutEntity(context.Background(), sceneID, e))
	return e
}

func (f *engineFixture) relation(t *testing.T, sceneID, observerID, targetID string) vision.VisibilityState {
	t.Helper()
	record, err := f.store.GetRecord(context.Background(), sceneID, observerID)
	require.NoError(t, err)
	return record.VisibilityRelations[targetID]
}

func TestRecomputePairObservedInBrightLight(t *testing.T) {
	f := newEngineFixture(vision.LightBright, oracle.StaticOcclusion{LineOfSight: true, Cover: vision.CoverNone})
	ctx := context.Background()
	f.addEntity(t, "scene-1", "guard-1", spatial.Point{X: 0, Y: 0})
	f.addEntity(t, "scene-1", "rogue-1", spatial.Point{X: 10, Y: 0})

	require.NoError(t, f.engine.RecomputePair(ctx, "scene-1", "guard-1", "rogue-1"))

	assert.Equal(t, vision.StateObserved, f.relation(t, "scene-1", "guard-1", "rogue-1"))

	// Observed never materializes an aggregate.
	all, err := f.effects.List(ctx, "scene-1", "rogue-1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRecomputePairHiddenWithoutLineOfSight(t *testing.T) {
	f := newEngineFixture(vision.LightBright, oracle.StaticOcclusion{LineOfSight: false, Cover: vision.CoverGreater})
	ctx := context.Background()
	f.addEntity(t, "scene-1", "guard-1", spatial.Point{})
	f.addEntity(t, "scene-1", "rogue-1", spatial.Point{X: 10})

	require.NoError(t, f.engine.RecomputePair(ctx, "scene-1", "guard-1", "rogue-1"))

	assert.Equal(t, vision.StateHidden, f.relation(t, "scene-1", "guard-1", "rogue-1"))

	agg, err := f.effects.Get(ctx, "scene-1", "rogue-1", vision.StateHidden)
	require.NoError(t, err)
	assert.True(t, agg.HasContributor("guard-1"))
}

func TestRecomputePairDarknessDependsOnDarkvision(t *testing.T) {
	f := newEngineFixture(vision.LightDarkness, oracle.StaticOcclusion{LineOfSight: true, Cover: vision.CoverNone})
	ctx := context.Background()

	f.addEntity(t, "scene-1", "guard-1", spatial.Point{})
	seer := f.addEntity(t, "scene-1", "dwarf-1", spatial.Point{X: 5})
	seer.Senses.DarkvisionRange = 60
	require.NoError(t, f.store.PutEntity(ctx, "scene-1", seer))
	f.addEntity(t, "scene-1", "rogue-1", spatial.Point{X: 10})

	require.NoError(t, f.engine.RecomputePair(ctx, "scene-1", "guard-1", "rogue-1"))
	require.NoError(t, f.engine.RecomputePair(ctx, "scene-1", "dwarf-1", "rogue-1"))

	assert.Equal(t, vision.StateHidden, f.relation(t, "scene-1", "guard-1", "rogue-1"))
	assert.Equal(t, vision.StateObserved, f.relation(t, "scene-1", "dwarf-1", "rogue-1"))
}

func TestRecomputePairOverrideWinsAndKillSwitchDisablesIt(t *testing.T) {
	f := newEngineFixture(vision.LightBright, oracle.StaticOcclusion{LineOfSight: true, Cover: vision.CoverNone})
	ctx := context.Background()
	f.addEntity(t, "scene-1", "guard-1", spatial.Point{})
	f.addEntity(t, "scene-1", "rogue-1", spatial.Point{X: 10})

	require.NoError(t, f.overrides.SetOverride(ctx, "scene-1", "guard-1", "rogue-1", vision.StateHidden, OverrideOptions{}))
	require.NoError(t, f.engine.RecomputePair(ctx, "scene-1", "guard-1", "rogue-1"))
	assert.Equal(t, vision.StateHidden, f.relation(t, "scene-1", "guard-1", "rogue-1"))

	require.NoError(t, f.overrides.SetKillSwitch(ctx, "scene-1", "guard-1", true))
	require.NoError(t, f.engine.RecomputePair(ctx, "scene-1", "guard-1", "rogue-1"))
	assert.Equal(t, vision.StateObserved, f.relation(t, "scene-1", "guard-1", "rogue-1"))
}

func TestRecomputePairAggregateFollowsStateChange(t *testing.T) {
	f := newEngineFixture(vision.LightBright, oracle.StaticOcclusion{LineOfSight: true, Cover: vision.CoverNone})
	ctx := context.Background()
	f.addEntity(t, "scene-1", "guard-1", spatial.Point{})
	f.addEntity(t, "scene-1", "rogue-1", spatial.Point{X: 10})

	require.NoError(t, f.overrides.SetOverride(ctx, "scene-1", "guard-1", "rogue-1", vision.StateHidden, OverrideOptions{}))
	require.NoError(t, f.engine.RecomputePair(ctx, "scene-1", "guard-1", "rogue-1"))

	agg, err := f.effects.Get(ctx, "scene-1", "rogue-1", vision.StateHidden)
	require.NoError(t, err)
	assert.True(t, agg.HasContributor("guard-1"))

	// Override removed: the relation returns to observed and the hidden
	// aggregate empties out and disappears.
	require.NoError(t, f.overrides.RemoveOverride(ctx, "scene-1", "guard-1", "rogue-1"))
	require.NoError(t, f.engine.RecomputePair(ctx, "scene-1", "guard-1", "rogue-1"))

	_, err = f.effects.Get(ctx, "scene-1", "rogue-1", vision.StateHidden)
	assert.ErrorIs(t, err, effects.ErrNotFound)
}

func TestHandleConditionChangeInvisibilityFlow(t *testing.T) {
	f := newEngineFixture(vision.LightBright, oracle.StaticOcclusion{LineOfSight: true, Cover: vision.CoverNone})
	ctx := context.Background()
	f.addEntity(t, "scene-1", "guard-1", spatial.Point{})
	ghost := f.addEntity(t, "scene-1", "ghost-1", spatial.Point{X: 10})

	// Establish the baseline: the guard sees the ghost.
	require.NoError(t, f.engine.RecomputePair(ctx, "scene-1", "guard-1", "ghost-1"))
	require.Equal(t, vision.StateObserved, f.relation(t, "scene-1", "guard-1", "ghost-1"))

	ghost.Conditions = append(ghost.Conditions, entity.Condition{Name: "invisible"})
	require.NoError(t, f.store.PutEntity(ctx, "scene-1", ghost))
	require.NoError(t, f.engine.HandleConditionChange(ctx, "scene-1", "ghost-1", "invisible", true))

	// Bright light, the guard could see it when it vanished: hidden.
	assert.Equal(t, vision.StateHidden, f.relation(t, "scene-1", "guard-1", "ghost-1"))

	record, err := f.store.GetRecord(ctx, "scene-1", "ghost-1")
	require.NoError(t, err)
	assert.True(t, record.InvisibilitySnapshots["guard-1"].WasVisible)

	// Invisibility ends: snapshots clear and the relation recovers.
	ghost.Conditions = nil
	require.NoError(t, f.store.PutEntity(ctx, "scene-1", ghost))
	require.NoError(t, f.engine.HandleConditionChange(ctx, "scene-1", "ghost-1", "invisible", false))

	assert.Equal(t, vision.StateObserved, f.relation(t, "scene-1", "guard-1", "ghost-1"))
	record, err = f.store.GetRecord(ctx, "scene-1", "ghost-1")
	require.NoError(t, err)
	assert.Empty(t, record.InvisibilitySnapshots)
}

func TestRecomputeAroundRespectsScopeAndSkipsVanished(t *testing.T) {
	f := newEngineFixture(vision.LightBright, oracle.StaticOcclusion{LineOfSight: true, Cover: vision.CoverNone})
	ctx := context.Background()

	profile := config.DefaultProfile()
	profile.ScopeRadius = 50
	f.engine.profileFor = func(string) *config.Profile { return profile }

	f.addEntity(t, "scene-1", "mover-1", spatial.Point{})
	f.addEntity(t, "scene-1", "near-1", spatial.Point{X: 10})
	f.addEntity(t, "scene-1", "far-1", spatial.Point{X: 500})
	f.addEntity(t, "scene-1", "gone-1", spatial.Point{X: 5})
	f.store.DeleteEntity("scene-1", "gone-1")

	require.NoError(t, f.engine.RecomputeAround(ctx, "scene-1", "mover-1"))

	assert.Equal(t, vision.StateObserved, f.relation(t, "scene-1", "mover-1", "near-1"))
	assert.Equal(t, vision.StateObserved, f.relation(t, "scene-1", "near-1", "mover-1"))

	record, err := f.store.GetRecord(ctx, "scene-1", "mover-1")
	require.NoError(t, err)
	_, touchedFar := record.VisibilityRelations["far-1"]
	assert.False(t, touchedFar, "entity outside the scope radius must not be recomputed")
}

func TestRecomputePairEmitsChangeOnlyOnTransition(t *testing.T) {
	f := newEngineFixture(vision.LightBright, oracle.StaticOcclusion{LineOfSight: true, Cover: vision.CoverNone})
	ctx := context.Background()
	f.addEntity(t, "scene-1", "guard-1", spatial.Point{})
	f.addEntity(t, "scene-1", "rogue-1", spatial.Point{X: 10})

	require.NoError(t, f.engine.RecomputePair(ctx, "scene-1", "guard-1", "rogue-1"))
	require.NoError(t, f.engine.RecomputePair(ctx, "scene-1", "guard-1", "rogue-1"))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.changes, 1)
	assert.Equal(t, vision.StateObserved, f.changes[0].State)
}

func TestObserverSignaturePrefersActorSignature(t *testing.T) {
	e := entity.New("token-9", "creature", "scene-1")
	assert.Equal(t, "token-9", observerSignature(e))

	e.Payload["actor_signature"] = "actor-42"
	assert.Equal(t, "actor-42", observerSignature(e))
}
