package perception

import (
	"context"
	"errors"
	"sync"
	"time"

	"perception-core/internal/logger"
	"perception-core/internal/records"
	"perception-core/internal/vision"
)

// Validator re-checks live overrides against freshly computed relations after
// the scene settles. Triggers are debounced so a burst of movement produces
// one validation pass, not one per step. Findings are reported through the
// callback only; the validator never removes or rewrites an override itself.
type Validator struct {
	overrides *OverrideStore
	engine    *Engine
	resolver  *Resolver
	records   records.Store
	report    func(sceneID string, mismatches []vision.Mismatch)

	mu       sync.Mutex
	enabled  bool
	debounce time.Duration
	pending  map[string]map[string]bool // sceneID → entity ids awaiting validation
	timer    *time.Timer
}

// NewValidator builds a validator. report may be nil when findings only need
// to be logged.
func NewValidator(overrides *OverrideStore, engine *Engine, resolver *Resolver, store records.Store, debounce time.Duration, report func(string, []vision.Mismatch)) *Validator {
	return &Validator{
		overrides: overrides,
		engine:    engine,
		resolver:  resolver,
		records:   store,
		report:    report,
		enabled:   true,
		debounce:  debounce,
		pending:   make(map[string]map[string]bool),
	}
}

// SetEnabled toggles validation. Queued triggers are dropped when disabling.
func (v *Validator) SetEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enabled = enabled
	if !enabled {
		v.pending = make(map[string]map[string]bool)
		if v.timer != nil {
			v.timer.Stop()
			v.timer = nil
		}
	}
}

// QueueValidation marks an entity's overrides for re-checking. Repeat calls
// for the same entity within the debounce window coalesce into one pass; each
// call resets the window.
func (v *Validator) QueueValidation(sceneID, entityID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.enabled {
		return
	}

	scene, ok := v.pending[sceneID]
	if !ok {
		scene = make(map[string]bool)
		v.pending[sceneID] = scene
	}
	scene[entityID] = true

	if v.timer != nil {
		v.timer.Stop()
	}
	v.timer = time.AfterFunc(v.debounce, v.flush)
}

// Flush runs any queued validation immediately, bypassing the debounce.
// Mainly for shutdown and tests.
func (v *Validator) Flush() {
	v.mu.Lock()
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	v.mu.Unlock()
	v.flush()
}

func (v *Validator) flush() {
	v.mu.Lock()
	batch := v.pending
	v.pending = make(map[string]map[string]bool)
	v.timer = nil
	v.mu.Unlock()

	ctx := context.Background()
	for sceneID, entities := range batch {
		mismatches := v.validateScene(ctx, sceneID, entities)
		if len(mismatches) == 0 {
			continue
		}
		logger.Component("validator").
			WithField("scene_id", sceneID).
			WithField("count", len(mismatches)).
			Info("Override mismatches found")
		if v.report != nil {
			v.report(sceneID, mismatches)
		}
	}
}

func (v *Validator) validateScene(ctx context.Context, sceneID string, entities map[string]bool) []vision.Mismatch {
	log := logger.Component("validator").WithField("scene_id", sceneID)

	var mismatches []vision.Mismatch
	checked := make(map[pairKey]bool)

	for entityID := range entities {
		overrides, err := v.overrides.OverridesInvolving(ctx, sceneID, entityID)
		if err != nil {
			log.WithField("entity_id", entityID).WithError(err).Warn("Override lookup failed, skipping entity")
			continue
		}
		for _, o := range overrides {
			key := pairKey{o.ObserverID, o.TargetID}
			if checked[key] {
				continue
			}
			checked[key] = true

			m, err := v.validatePair(ctx, sceneID, o)
			if err != nil {
				if errors.Is(err, records.ErrEntityNotFound) {
					continue // entity left the scene; its overrides die with it
				}
				// Oracle failure leaves the pair unvalidated until the next pass.
				log.WithField("observer_id", o.ObserverID).
					WithField("target_id", o.TargetID).
					WithError(err).Warn("Pair left unvalidated")
				continue
			}
			if m != nil {
				mismatches = append(mismatches, *m)
			}
		}
	}
	return mismatches
}

// validatePair recomputes the pair and compares against the override's
// recorded expectations. Returns nil when everything still holds.
func (v *Validator) validatePair(ctx context.Context, sceneID string, o vision.Override) (*vision.Mismatch, error) {
	current, cover, err := v.engine.ComputePair(ctx, sceneID, o.ObserverID, o.TargetID)
	if err != nil {
		return nil, err
	}

	finding := func(reason string) *vision.Mismatch {
		return &vision.Mismatch{
			ObserverID:        o.ObserverID,
			TargetID:          o.TargetID,
			Reason:            reason,
			CurrentVisibility: current,
			CurrentCover:      cover,
		}
	}

	if cover != o.ExpectedCover {
		return finding(vision.ReasonCoverChanged), nil
	}

	currentlyConcealed := current == vision.StateConcealed
	if o.ExpectedConcealment != currentlyConcealed {
		return finding(vision.ReasonConcealmentChanged), nil
	}

	if o.Source == vision.SourceSneak && o.State == vision.StateUndetected {
		broken, err := v.stealthBroken(ctx, sceneID, o, current, cover)
		if err != nil {
			return nil, err
		}
		if broken {
			return finding(vision.ReasonStealthBroken), nil
		}
	}
	return nil, nil
}

// stealthBroken holds when a sneak-sourced undetected pin has lost every
// physical justification: the observer would see the target plainly, nothing
// covers or conceals it, and the observer has no sensory deficit excusing the
// pin.
func (v *Validator) stealthBroken(ctx context.Context, sceneID string, o vision.Override, current vision.VisibilityState, cover vision.CoverState) (bool, error) {
	if current != vision.StateObserved || cover != vision.CoverNone {
		return false, nil
	}
	observer, err := v.records.GetEntity(ctx, sceneID, o.ObserverID)
	if err != nil {
		return false, err
	}
	if v.resolver.IsBlinded(observer) || v.resolver.IsDazzled(observer) {
		return false, nil
	}
	return true, nil
}
