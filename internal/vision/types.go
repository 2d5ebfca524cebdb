package vision

import (
	"fmt"
	"time"
)

// VisibilityState describes how well an observer currently perceives a target.
// States are ordered by how effectively the target evades detection.
type VisibilityState string

const (
	StateObserved   VisibilityState = "observed"
	StateConcealed  VisibilityState = "concealed"
	StateHidden     VisibilityState = "hidden"
	StateUndetected VisibilityState = "undetected"
)

// AllVisibilityStates lists the valid states in escalation order.
var AllVisibilityStates = []VisibilityState{StateObserved, StateConcealed, StateHidden, StateUndetected}

// Valid reports whether s is one of the four known visibility states.
func (s VisibilityState) Valid() bool {
	switch s {
	case StateObserved, StateConcealed, StateHidden, StateUndetected:
		return true
	}
	return false
}

// ErrInvalidVisibilityState is returned when an override setter receives an
// unknown state value.
var ErrInvalidVisibilityState = fmt.Errorf("invalid visibility state: must be one of %v", AllVisibilityStates)

// CoverState describes the protection a target enjoys against an observer.
type CoverState string

const (
	CoverNone     CoverState = "none"
	CoverLesser   CoverState = "lesser"
	CoverStandard CoverState = "standard"
	CoverGreater  CoverState = "greater"
)

// Valid reports whether c is a known cover state.
func (c CoverState) Valid() bool {
	switch c {
	case CoverNone, CoverLesser, CoverStandard, CoverGreater:
		return true
	}
	return false
}

// LightLevel is the ambient light classification at a position, supplied by
// the lighting oracle.
type LightLevel string

const (
	LightBright   LightLevel = "bright"
	LightDim      LightLevel = "dim"
	LightDarkness LightLevel = "darkness"
)

// Capabilities is the derived sensory profile of an entity.
type Capabilities struct {
	HasVision         bool    `json:"has_vision"`
	HasDarkvision     bool    `json:"has_darkvision"`
	DarkvisionRange   float64 `json:"darkvision_range"`
	HasLowLightVision bool    `json:"has_low_light_vision"`
	LowLightRange     float64 `json:"low_light_range"`
	IsBlinded         bool    `json:"is_blinded"`
	IsDazzled         bool    `json:"is_dazzled"`
}

// DefaultCapabilities is used when an entity carries no usable sense data:
// ordinary vision, no special senses.
func DefaultCapabilities() Capabilities {
	return Capabilities{HasVision: true}
}

// Override is a manually pinned visibility state for an (observer, target)
// pair. A transient override carries an expiry; a persistent one survives
// until explicitly cleared or invalidated.
type Override struct {
	ObserverID          string          `json:"observer_id"`
	TargetID            string          `json:"target_id"`
	State               VisibilityState `json:"state"`
	Source              string          `json:"source"`
	Timestamp           time.Time       `json:"timestamp"`
	ExpiresAt           *time.Time      `json:"expires_at,omitempty"`
	Persistent          bool            `json:"persistent"`
	ExpectedCover       CoverState      `json:"expected_cover"`
	ExpectedConcealment bool            `json:"expected_concealment"`
}

// Expired reports whether a transient override is past its expiry at now.
func (o Override) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && now.After(*o.ExpiresAt)
}

// SourceSneak marks overrides pinned by a validated stealth action.
const SourceSneak = "sneak"

// InvisibilitySnapshot records, per observer, whether the target was visible
// at the instant an invisibility-granting condition was applied.
type InvisibilitySnapshot struct {
	WasVisible bool      `json:"was_visible"`
	CapturedAt time.Time `json:"captured_at"`
}

// Mismatch is a validator finding: an override whose recorded expectations no
// longer match the freshly computed relation. Mismatches are reported for
// external resolution, never acted on unilaterally.
type Mismatch struct {
	ObserverID        string          `json:"observer_id"`
	TargetID          string          `json:"target_id"`
	Reason            string          `json:"reason"`
	CurrentVisibility VisibilityState `json:"current_visibility"`
	CurrentCover      CoverState      `json:"current_cover"`
}

// Mismatch reasons reported by the override validator.
const (
	ReasonCoverChanged       = "cover_changed"
	ReasonConcealmentChanged = "concealment_changed"
	ReasonStealthBroken      = "stealth_broken"
)
