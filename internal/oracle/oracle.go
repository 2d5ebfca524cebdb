// Package oracle defines the external lighting and occlusion collaborators.
// The perception core never computes geometry or lighting itself: it asks
// these oracles and degrades gracefully when they fail.
package oracle

import (
	"context"

	"perception-core/internal/spatial"
	"perception-core/internal/vision"
)

// Lighting answers ambient-light queries for scene positions.
type Lighting interface {
	LightLevelAt(ctx context.Context, sceneID string, p spatial.Point) (vision.LightLevel, error)
}

// Occlusion answers line-of-sight and cover queries between scene positions.
type Occlusion interface {
	HasLineOfSight(ctx context.Context, sceneID string, a, b spatial.Point) (bool, error)
	CoverBetween(ctx context.Context, sceneID string, a, b spatial.Point) (vision.CoverState, error)
}

// StaticLighting is a fixed-answer Lighting used in tests and as a local
// fallback when no oracle endpoint is configured.
type StaticLighting struct {
	Level vision.LightLevel
	Err   error
}

func (s StaticLighting) LightLevelAt(context.Context, string, spatial.Point) (vision.LightLevel, error) {
	return s.Level, s.Err
}

// StaticOcclusion is a fixed-answer Occlusion for tests and local fallback.
type StaticOcclusion struct {
	LineOfSight bool
	Cover       vision.CoverState
	Err         error
}

func (s StaticOcclusion) HasLineOfSight(context.Context, string, spatial.Point, spatial.Point) (bool, error) {
	return s.LineOfSight, s.Err
}

func (s StaticOcclusion) CoverBetween(context.Context, string, spatial.Point, spatial.Point) (vision.CoverState, error) {
	return s.Cover, s.Err
}
