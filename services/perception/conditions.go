package perception

import (
	"context"
	"fmt"
	"time"

	"perception-core/internal/entity"
	"perception-core/internal/records"
	"perception-core/internal/vision"
)

// Condition name variants probed for each sensory deficit. Source systems
// drift between spellings; any match counts.
var (
	blindedConditions      = []string{"blinded", "blind"}
	dazzledConditions      = []string{"dazzled"}
	invisibilityConditions = []string{"invisible", "invisibility", "greater-invisibility"}
)

func hasAnyCondition(e *entity.Entity, names []string) bool {
	for _, name := range names {
		if e.HasCondition(name) {
			return true
		}
	}
	return false
}

// Resolver answers condition queries and owns the invisibility timing rule,
// including the per-target "was visible when invisibility began" snapshot.
type Resolver struct {
	records       records.Store
	counterSenses []string
	now           func() time.Time
}

// NewResolver builds a resolver over the durable record store. counterSenses
// are the sense names that defeat invisibility.
func NewResolver(store records.Store, counterSenses []string) *Resolver {
	return &Resolver{records: store, counterSenses: counterSenses, now: time.Now}
}

// IsBlinded reports whether the entity carries a blinded condition. Stable
// for a fixed condition state.
func (r *Resolver) IsBlinded(e *entity.Entity) bool {
	return e != nil && hasAnyCondition(e, blindedConditions)
}

// IsDazzled reports whether the entity carries a dazzled condition.
func (r *Resolver) IsDazzled(e *entity.Entity) bool {
	return e != nil && hasAnyCondition(e, dazzledConditions)
}

// IsInvisible reports whether the entity carries any invisibility condition.
func (r *Resolver) IsInvisible(e *entity.Entity) bool {
	return e != nil && hasAnyCondition(e, invisibilityConditions)
}

// IsInvisibleTo reports whether target is invisible from observer's point of
// view: target carries an invisibility condition and observer lacks a
// matching counter-sense.
func (r *Resolver) IsInvisibleTo(observer, target *entity.Entity) bool {
	if !r.IsInvisible(target) {
		return false
	}
	for _, sense := range r.counterSenses {
		if hasSense(observer, sense) {
			return false
		}
	}
	return true
}

// hasSense probes an observer for a named sense across the tolerated shapes:
// a condition of the same name, a senses map entry, or a senses list entry.
func hasSense(e *entity.Entity, name string) bool {
	if e == nil {
		return false
	}
	if e.HasCondition(name) {
		return true
	}
	for _, path := range []string{"senses", "attributes.senses"} {
		raw, ok := e.Get(path)
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case map[string]interface{}:
			if val, found := v[name]; found {
				if b, isBool := val.(bool); isBool {
					return b
				}
				return true
			}
		case []interface{}:
			for _, item := range v {
				if s, isStr := item.(string); isStr && s == name {
					return true
				}
			}
		}
	}
	return false
}

// InvisibilityState resolves the timing rule for an invisible target:
//   - an observer who can see normally under the current light gets hidden,
//     flipped to undetected only by a validated stealth action;
//   - otherwise the snapshot decides: a target that was visible when
//     invisibility began starts hidden, anyone else gets undetected.
func (r *Resolver) InvisibilityState(ctx context.Context, sceneID, observerID, targetID string, hasSneakOverride, canSeeNormally bool) (vision.VisibilityState, error) {
	hiddenUnlessSneaked := func() vision.VisibilityState {
		if hasSneakOverride {
			return vision.StateUndetected
		}
		return vision.StateHidden
	}

	if canSeeNormally {
		return hiddenUnlessSneaked(), nil
	}

	record, err := r.records.GetRecord(ctx, sceneID, targetID)
	if err != nil {
		return "", fmt.Errorf("load invisibility snapshot for %s: %w", targetID, err)
	}
	if snap, ok := record.InvisibilitySnapshots[observerID]; ok && snap.WasVisible {
		return hiddenUnlessSneaked(), nil
	}
	return vision.StateUndetected, nil
}

// HandleInvisibilityGained captures, for every entity currently observing the
// target as observed or concealed, a wasVisible snapshot on the target's
// record. Observers whose records cannot be read are skipped.
func (r *Resolver) HandleInvisibilityGained(ctx context.Context, sceneID string, target *entity.Entity) error {
	ids, err := r.records.ListEntityIDs(ctx, sceneID)
	if err != nil {
		return fmt.Errorf("list entities for invisibility snapshot: %w", err)
	}

	record, err := r.records.GetRecord(ctx, sceneID, target.EntityID)
	if err != nil {
		return fmt.Errorf("load record for %s: %w", target.EntityID, err)
	}

	capturedAt := r.now().UTC()
	for _, observerID := range ids {
		if observerID == target.EntityID {
			continue
		}
		observerRecord, err := r.records.GetRecord(ctx, sceneID, observerID)
		if err != nil {
			continue
		}
		state, ok := observerRecord.VisibilityRelations[target.EntityID]
		wasVisible := ok && (state == vision.StateObserved || state == vision.StateConcealed)
		record.InvisibilitySnapshots[observerID] = vision.InvisibilitySnapshot{
			WasVisible: wasVisible,
			CapturedAt: capturedAt,
		}
	}
	return r.records.PutRecord(ctx, sceneID, record)
}

// HandleInvisibilityLost clears the target's snapshot map entirely.
func (r *Resolver) HandleInvisibilityLost(ctx context.Context, sceneID, targetID string) error {
	record, err := r.records.GetRecord(ctx, sceneID, targetID)
	if err != nil {
		return fmt.Errorf("load record for %s: %w", targetID, err)
	}
	if len(record.InvisibilitySnapshots) == 0 {
		return nil
	}
	record.InvisibilitySnapshots = make(map[string]vision.InvisibilitySnapshot)
	return r.records.PutRecord(ctx, sceneID, record)
}
