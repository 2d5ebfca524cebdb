package perception

import (
	"context"
	"errors"
	"fmt"

	"perception-core/internal/config"
	"perception-core/internal/entity"
	"perception-core/internal/graph"
	"perception-core/internal/logger"
	"perception-core/internal/oracle"
	"perception-core/internal/records"
	"perception-core/internal/spatial"
	"perception-core/internal/vision"
)

// RelationChange describes one persisted relation update, pushed to the bus
// and the websocket clients.
type RelationChange struct {
	SceneID    string                 `json:"scene_id"`
	ObserverID string                 `json:"observer_id"`
	TargetID   string                 `json:"target_id"`
	State      vision.VisibilityState `json:"state"`
	Cover      vision.CoverState      `json:"cover"`
}

// Engine drives the classification pipeline: movement, condition, and
// lighting triggers funnel into recomputation of the affected observer→target
// relations, persistence, and effect aggregation. All relation writes go
// through here; no component mutates relation state directly.
type Engine struct {
	records    records.Store
	analyzer   *Analyzer
	resolver   *Resolver
	overrides  *OverrideStore
	aggregator *Aggregator
	lighting   oracle.Lighting
	occlusion  oracle.Occlusion
	archivist  *graph.Archivist // nil when archiving is disabled

	profileFor func(sceneID string) *config.Profile
	onChange   func(RelationChange)
}

// NewEngine wires the pipeline. profileFor must never return nil; onChange
// may be nil when nobody listens.
func NewEngine(
	store records.Store,
	analyzer *Analyzer,
	resolver *Resolver,
	overrides *OverrideStore,
	aggregator *Aggregator,
	lighting oracle.Lighting,
	occlusion oracle.Occlusion,
	archivist *graph.Archivist,
	profileFor func(sceneID string) *config.Profile,
	onChange func(RelationChange),
) *Engine {
	return &Engine{
		records:    store,
		analyzer:   analyzer,
		resolver:   resolver,
		overrides:  overrides,
		aggregator: aggregator,
		lighting:   lighting,
		occlusion:  occlusion,
		archivist:  archivist,
		profileFor: profileFor,
		onChange:   onChange,
	}
}

// ComputePair runs the classifier pipeline for one ordered pair and returns
// the computed (not override-adjusted) visibility and cover. Used both by the
// persistence path and by the validator, which compares computed reality
// against override expectations.
func (e *Engine) ComputePair(ctx context.Context, sceneID, observerID, targetID string) (vision.VisibilityState, vision.CoverState, error) {
	observer, err := e.records.GetEntity(ctx, sceneID, observerID)
	if err != nil {
		return "", "", err
	}
	target, err := e.records.GetEntity(ctx, sceneID, targetID)
	if err != nil {
		return "", "", err
	}
	return e.computeForEntities(ctx, sceneID, observer, target)
}

func (e *Engine) computeForEntities(ctx context.Context, sceneID string, observer, target *entity.Entity) (vision.VisibilityState, vision.CoverState, error) {
	cover, err := e.occlusion.CoverBetween(ctx, sceneID, observer.Position, target.Position)
	if err != nil {
		return "", "", fmt.Errorf("cover oracle: %w", err)
	}

	los, err := e.occlusion.HasLineOfSight(ctx, sceneID, observer.Position, target.Position)
	if err != nil {
		return "", "", fmt.Errorf("occlusion oracle: %w", err)
	}
	if !los {
		// No line of sight short-circuits to the same outcome as no vision.
		return vision.StateHidden, cover, nil
	}

	light, err := e.lighting.LightLevelAt(ctx, sceneID, target.Position)
	if err != nil {
		return "", "", fmt.Errorf("lighting oracle: %w", err)
	}

	caps := e.analyzer.Capabilities(observer)
	distance := spatial.DistanceBetween(observer.Position, target.Position)
	state := vision.Classify(light, distance, caps)

	if e.resolver.IsInvisibleTo(observer, target) {
		// Seeing "normally" means observed without relying on darkvision.
		canSeeNormally := state == vision.StateObserved && light != vision.LightDarkness

		hasSneak := false
		if o, err := e.overrides.GetOverride(ctx, sceneID, observer.EntityID, target.EntityID); err == nil && o != nil {
			hasSneak = o.Source == vision.SourceSneak && o.State == vision.StateUndetected
		}

		state, err = e.resolver.InvisibilityState(ctx, sceneID, observer.EntityID, target.EntityID, hasSneak, canSeeNormally)
		if err != nil {
			return "", "", err
		}
	}

	return state, cover, nil
}

// RecomputePair recomputes one ordered pair, applies override precedence,
// persists the relation on the observer's record, and reconciles the target's
// aggregate effects.
func (e *Engine) RecomputePair(ctx context.Context, sceneID, observerID, targetID string) error {
	observer, err := e.records.GetEntity(ctx, sceneID, observerID)
	if err != nil {
		return err
	}
	target, err := e.records.GetEntity(ctx, sceneID, targetID)
	if err != nil {
		return err
	}

	computed, cover, err := e.computeForEntities(ctx, sceneID, observer, target)
	if err != nil {
		return err
	}

	effective, err := e.overrides.GetEffectiveState(ctx, sceneID, observerID, targetID, computed)
	if err != nil {
		return err
	}

	record, err := e.records.GetRecord(ctx, sceneID, observerID)
	if err != nil {
		return err
	}
	previous, hadPrevious := record.VisibilityRelations[targetID]
	record.VisibilityRelations[targetID] = effective
	record.CoverRelations[targetID] = cover
	if err := e.records.PutRecord(ctx, sceneID, record); err != nil {
		return err
	}

	// Reconcile the target's aggregates: the observer contributes to the
	// aggregate of the state it now perceives the target in.
	signature := observerSignature(observer)
	if hadPrevious {
		if err := e.aggregator.SwitchContribution(ctx, sceneID, targetID, signature, previous, effective); err != nil {
			return err
		}
	} else if err := e.aggregator.AddContribution(ctx, sceneID, targetID, signature, effective); err != nil {
		return err
	}

	if e.archivist != nil {
		if err := e.archivist.RecordPerception(sceneID, observerID, targetID, effective, cover); err != nil {
			logger.Component("engine").WithError(err).Warn("Graph archive failed")
		}
	}

	if e.onChange != nil && (!hadPrevious || previous != effective) {
		e.onChange(RelationChange{
			SceneID:    sceneID,
			ObserverID: observerID,
			TargetID:   targetID,
			State:      effective,
			Cover:      cover,
		})
	}
	return nil
}

// RecomputeAround recomputes both directions of every pair between the moved
// entity and the entities inside its perception scope. A vanished entity
// aborts only its own pair; the rest of the batch continues.
func (e *Engine) RecomputeAround(ctx context.Context, sceneID, movedID string) error {
	log := logger.Component("engine").WithField("scene_id", sceneID).WithField("entity_id", movedID)

	moved, err := e.records.GetEntity(ctx, sceneID, movedID)
	if err != nil {
		return err
	}

	scope := spatial.NewScope(moved.Position, e.profileFor(sceneID).ScopeRadius)
	ids, err := e.records.ListEntityIDs(ctx, sceneID)
	if err != nil {
		return err
	}

	for _, otherID := range ids {
		if otherID == movedID {
			continue
		}
		other, err := e.records.GetEntity(ctx, sceneID, otherID)
		if err != nil {
			if errors.Is(err, records.ErrEntityNotFound) {
				log.WithField("other_id", otherID).Debug("Entity vanished mid-batch, skipping pair")
				continue
			}
			return err
		}
		if !scope.Contains(other.Position) {
			continue
		}
		if err := e.RecomputePair(ctx, sceneID, movedID, otherID); err != nil {
			log.WithField("other_id", otherID).WithError(err).Warn("Pair recompute failed, continuing")
		}
		if err := e.RecomputePair(ctx, sceneID, otherID, movedID); err != nil {
			log.WithField("other_id", otherID).WithError(err).Warn("Pair recompute failed, continuing")
		}
	}
	return nil
}

// RecomputeScene recomputes every ordered pair in a scene; used when the
// ambient lighting changes.
func (e *Engine) RecomputeScene(ctx context.Context, sceneID string) error {
	log := logger.Component("engine").WithField("scene_id", sceneID)

	ids, err := e.records.ListEntityIDs(ctx, sceneID)
	if err != nil {
		return err
	}
	for _, observerID := range ids {
		for _, targetID := range ids {
			if observerID == targetID {
				continue
			}
			if err := e.RecomputePair(ctx, sceneID, observerID, targetID); err != nil {
				log.WithField("observer_id", observerID).WithField("target_id", targetID).
					WithError(err).Warn("Pair recompute failed, continuing")
			}
		}
	}
	return nil
}

// HandleConditionChange invalidates the capability cache, runs the
// invisibility snapshot workflow when the condition grants invisibility, and
// recomputes the affected pairs. The snapshot is captured before recompute so
// it sees the relations as they were when invisibility began.
func (e *Engine) HandleConditionChange(ctx context.Context, sceneID, entityID, conditionName string, added bool) error {
	e.analyzer.Invalidate(entityID)

	if isInvisibilityCondition(conditionName) {
		if added {
			target, err := e.records.GetEntity(ctx, sceneID, entityID)
			if err != nil {
				return err
			}
			if err := e.resolver.HandleInvisibilityGained(ctx, sceneID, target); err != nil {
				return err
			}
		} else if err := e.resolver.HandleInvisibilityLost(ctx, sceneID, entityID); err != nil {
			return err
		}
	}

	return e.RecomputeAround(ctx, sceneID, entityID)
}

func isInvisibilityCondition(name string) bool {
	for _, candidate := range invisibilityConditions {
		if candidate == name {
			return true
		}
	}
	return false
}

// observerSignature returns the stable signature contributions are keyed by:
// the durable actor signature when the source system supplies one, otherwise
// the entity id. Never a transient token id.
func observerSignature(observer *entity.Entity) string {
	if sig, ok := observer.Get("actor_signature"); ok {
		if s, isStr := sig.(string); isStr && s != "" {
			return s
		}
	}
	return observer.EntityID
}
