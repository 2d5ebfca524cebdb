package perception

import (
	"context"
	"fmt"
	"sync"
	"time"

	"perception-core/internal/records"
	"perception-core/internal/vision"
)

// OverrideStore is the dual-tier registry of manually pinned visibility
// states: a time-limited in-memory tier for action-driven pins and a durable
// tier persisted on the observer's record. When both tiers hold a pin for the
// same pair the transient one wins, being the more recent action.
type OverrideStore struct {
	mu              sync.Mutex
	transient       map[string]map[pairKey]vision.Override // sceneID → pair → override
	records         records.Store
	defaultDuration time.Duration
	now             func() time.Time
}

type pairKey struct {
	observerID string
	targetID   string
}

// OverrideOptions control the tier and metadata of a new override.
type OverrideOptions struct {
	Persistent          bool
	DurationMinutes     int // transient tier only; 0 means the store default
	Source              string
	ExpectedCover       vision.CoverState
	ExpectedConcealment bool
}

// NewOverrideStore builds the store. defaultDuration bounds transient
// overrides that specify no duration.
func NewOverrideStore(store records.Store, defaultDuration time.Duration) *OverrideStore {
	return &OverrideStore{
		transient:       make(map[string]map[pairKey]vision.Override),
		records:         store,
		defaultDuration: defaultDuration,
		now:             time.Now,
	}
}

// SetOverride pins a visibility state for the pair. Unknown states are
// rejected with ErrInvalidVisibilityState before anything is written.
func (s *OverrideStore) SetOverride(ctx context.Context, sceneID, observerID, targetID string, state vision.VisibilityState, opts OverrideOptions) error {
	if !state.Valid() {
		return vision.ErrInvalidVisibilityState
	}
	if opts.ExpectedCover == "" {
		opts.ExpectedCover = vision.CoverNone
	}

	override := vision.Override{
		ObserverID:          observerID,
		TargetID:            targetID,
		State:               state,
		Source:              opts.Source,
		Timestamp:           s.now().UTC(),
		Persistent:          opts.Persistent,
		ExpectedCover:       opts.ExpectedCover,
		ExpectedConcealment: opts.ExpectedConcealment,
	}

	if opts.Persistent {
		record, err := s.records.GetRecord(ctx, sceneID, observerID)
		if err != nil {
			return fmt.Errorf("load record for %s: %w", observerID, err)
		}
		record.Overrides[targetID] = override
		return s.records.PutRecord(ctx, sceneID, record)
	}

	duration := s.defaultDuration
	if opts.DurationMinutes > 0 {
		duration = time.Duration(opts.DurationMinutes) * time.Minute
	}
	expires := override.Timestamp.Add(duration)
	override.ExpiresAt = &expires

	s.mu.Lock()
	defer s.mu.Unlock()
	scene, ok := s.transient[sceneID]
	if !ok {
		scene = make(map[pairKey]vision.Override)
		s.transient[sceneID] = scene
	}
	scene[pairKey{observerID, targetID}] = override
	return nil
}

// GetOverride returns the effective pair override or nil. Expired transient
// entries are treated as absent and purged on read.
func (s *OverrideStore) GetOverride(ctx context.Context, sceneID, observerID, targetID string) (*vision.Override, error) {
	if o := s.transientOverride(sceneID, observerID, targetID); o != nil {
		return o, nil
	}

	record, err := s.records.GetRecord(ctx, sceneID, observerID)
	if err != nil {
		return nil, fmt.Errorf("load record for %s: %w", observerID, err)
	}
	if o, ok := record.Overrides[targetID]; ok {
		return &o, nil
	}
	return nil, nil
}

func (s *OverrideStore) transientOverride(sceneID, observerID, targetID string) *vision.Override {
	s.mu.Lock()
	defer s.mu.Unlock()
	scene, ok := s.transient[sceneID]
	if !ok {
		return nil
	}
	key := pairKey{observerID, targetID}
	o, ok := scene[key]
	if !ok {
		return nil
	}
	if o.Expired(s.now()) {
		delete(scene, key)
		return nil
	}
	return &o
}

// HasOverride reports whether any live override exists for the pair.
func (s *OverrideStore) HasOverride(ctx context.Context, sceneID, observerID, targetID string) (bool, error) {
	o, err := s.GetOverride(ctx, sceneID, observerID, targetID)
	return o != nil, err
}

// RemoveOverride clears both tiers for the pair.
func (s *OverrideStore) RemoveOverride(ctx context.Context, sceneID, observerID, targetID string) error {
	s.mu.Lock()
	if scene, ok := s.transient[sceneID]; ok {
		delete(scene, pairKey{observerID, targetID})
	}
	s.mu.Unlock()

	record, err := s.records.GetRecord(ctx, sceneID, observerID)
	if err != nil {
		return fmt.Errorf("load record for %s: %w", observerID, err)
	}
	if _, ok := record.Overrides[targetID]; !ok {
		return nil
	}
	delete(record.Overrides, targetID)
	return s.records.PutRecord(ctx, sceneID, record)
}

// RemoveAllInvolving clears every override where the entity is observer or
// target, across both tiers.
func (s *OverrideStore) RemoveAllInvolving(ctx context.Context, sceneID, entityID string) error {
	s.mu.Lock()
	if scene, ok := s.transient[sceneID]; ok {
		for key := range scene {
			if key.observerID == entityID || key.targetID == entityID {
				delete(scene, key)
			}
		}
	}
	s.mu.Unlock()

	ids, err := s.records.ListEntityIDs(ctx, sceneID)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	for _, observerID := range ids {
		record, err := s.records.GetRecord(ctx, sceneID, observerID)
		if err != nil {
			continue
		}
		changed := false
		if observerID == entityID && len(record.Overrides) > 0 {
			record.Overrides = make(map[string]vision.Override)
			changed = true
		} else if _, ok := record.Overrides[entityID]; ok {
			delete(record.Overrides, entityID)
			changed = true
		}
		if changed {
			if err := s.records.PutRecord(ctx, sceneID, record); err != nil {
				return err
			}
		}
	}
	return nil
}

// ClearAll wipes every override in a scene.
func (s *OverrideStore) ClearAll(ctx context.Context, sceneID string) error {
	s.mu.Lock()
	delete(s.transient, sceneID)
	s.mu.Unlock()

	ids, err := s.records.ListEntityIDs(ctx, sceneID)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	for _, observerID := range ids {
		record, err := s.records.GetRecord(ctx, sceneID, observerID)
		if err != nil {
			continue
		}
		if len(record.Overrides) == 0 {
			continue
		}
		record.Overrides = make(map[string]vision.Override)
		if err := s.records.PutRecord(ctx, sceneID, record); err != nil {
			return err
		}
	}
	return nil
}

// OverridesInvolving gathers every live override (both tiers) where the
// entity appears as observer or target. Used by the validator.
func (s *OverrideStore) OverridesInvolving(ctx context.Context, sceneID, entityID string) ([]vision.Override, error) {
	var result []vision.Override
	seen := make(map[pairKey]bool)

	s.mu.Lock()
	if scene, ok := s.transient[sceneID]; ok {
		for key, o := range scene {
			if o.Expired(s.now()) {
				delete(scene, key)
				continue
			}
			if key.observerID == entityID || key.targetID == entityID {
				result = append(result, o)
				seen[key] = true
			}
		}
	}
	s.mu.Unlock()

	ids, err := s.records.ListEntityIDs(ctx, sceneID)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	for _, observerID := range ids {
		record, err := s.records.GetRecord(ctx, sceneID, observerID)
		if err != nil {
			continue
		}
		for targetID, o := range record.Overrides {
			if observerID != entityID && targetID != entityID {
				continue
			}
			if seen[pairKey{observerID, targetID}] {
				continue // transient pin shadows the persistent one
			}
			result = append(result, o)
		}
	}
	return result, nil
}

// SetKillSwitch toggles the per-entity flag that disables computed resolution
// for that observer entirely.
func (s *OverrideStore) SetKillSwitch(ctx context.Context, sceneID, entityID string, enabled bool) error {
	record, err := s.records.GetRecord(ctx, sceneID, entityID)
	if err != nil {
		return fmt.Errorf("load record for %s: %w", entityID, err)
	}
	if record.KillSwitch == enabled {
		return nil
	}
	record.KillSwitch = enabled
	return s.records.PutRecord(ctx, sceneID, record)
}

// KillSwitch reads the per-entity flag.
func (s *OverrideStore) KillSwitch(ctx context.Context, sceneID, entityID string) (bool, error) {
	record, err := s.records.GetRecord(ctx, sceneID, entityID)
	if err != nil {
		return false, fmt.Errorf("load record for %s: %w", entityID, err)
	}
	return record.KillSwitch, nil
}

// ShouldBypassComputedState reports whether resolution for the pair is pinned
// by either the observer's kill switch or a pair override.
func (s *OverrideStore) ShouldBypassComputedState(ctx context.Context, sceneID, observerID, targetID string) (bool, error) {
	killed, err := s.KillSwitch(ctx, sceneID, observerID)
	if err != nil {
		return false, err
	}
	if killed {
		return true, nil
	}
	return s.HasOverride(ctx, sceneID, observerID, targetID)
}

// GetEffectiveState applies the precedence rule: an enabled kill switch
// disables override application entirely, so the computed state wins; failing
// that, a pair override wins; failing that, the computed state stands.
func (s *OverrideStore) GetEffectiveState(ctx context.Context, sceneID, observerID, targetID string, computed vision.VisibilityState) (vision.VisibilityState, error) {
	killed, err := s.KillSwitch(ctx, sceneID, observerID)
	if err != nil {
		return computed, err
	}
	if killed {
		return computed, nil
	}
	o, err := s.GetOverride(ctx, sceneID, observerID, targetID)
	if err != nil {
		return computed, err
	}
	if o != nil {
		return o.State, nil
	}
	return computed, nil
}
