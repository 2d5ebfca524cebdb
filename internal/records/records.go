// Package records is the durable per-entity record store. Every entity owns
// one entity document and one perception record; both are JSON documents in
// per-scene buckets. Writes must complete before dependent reads, so every
// operation takes a context and returns only after the store acknowledged.
package records

import (
	"context"
	"errors"
	"time"

	"perception-core/internal/entity"
	"perception-core/internal/vision"
)

// ErrEntityNotFound is returned when the requested entity document is absent.
var ErrEntityNotFound = errors.New("entity not found")

// PerceptionRecord is the typed per-entity perception state. Relation maps
// are keyed by the other entity's id and owned by this entity as observer;
// invisibility snapshots are keyed by observer id and owned by this entity as
// target.
type PerceptionRecord struct {
	EntityID              string                                     `json:"entity_id"`
	VisibilityRelations   map[string]vision.VisibilityState          `json:"visibility_relations"`
	CoverRelations        map[string]vision.CoverState               `json:"cover_relations"`
	Overrides             map[string]vision.Override                 `json:"overrides"`
	InvisibilitySnapshots map[string]vision.InvisibilitySnapshot     `json:"invisibility_snapshots"`
	KillSwitch            bool                                       `json:"kill_switch"`
	UpdatedAt             time.Time                                  `json:"updated_at"`
}

// NewPerceptionRecord returns an empty record with initialized maps.
func NewPerceptionRecord(entityID string) *PerceptionRecord {
	return &PerceptionRecord{
		EntityID:              entityID,
		VisibilityRelations:   make(map[string]vision.VisibilityState),
		CoverRelations:        make(map[string]vision.CoverState),
		Overrides:             make(map[string]vision.Override),
		InvisibilitySnapshots: make(map[string]vision.InvisibilitySnapshot),
	}
}

// normalize ensures maps deserialized from older documents are non-nil.
func (r *PerceptionRecord) normalize() {
	if r.VisibilityRelations == nil {
		r.VisibilityRelations = make(map[string]vision.VisibilityState)
	}
	if r.CoverRelations == nil {
		r.CoverRelations = make(map[string]vision.CoverState)
	}
	if r.Overrides == nil {
		r.Overrides = make(map[string]vision.Override)
	}
	if r.InvisibilitySnapshots == nil {
		r.InvisibilitySnapshots = make(map[string]vision.InvisibilitySnapshot)
	}
}

// Store is the durable record store consumed by the perception engine. A
// missing perception record is not an error: GetRecord returns a fresh empty
// record so callers never branch on first contact.
type Store interface {
	GetEntity(ctx context.Context, sceneID, entityID string) (*entity.Entity, error)
	PutEntity(ctx context.Context, sceneID string, e *entity.Entity) error
	ListEntityIDs(ctx context.Context, sceneID string) ([]string, error)

	GetRecord(ctx context.Context, sceneID, entityID string) (*PerceptionRecord, error)
	PutRecord(ctx context.Context, sceneID string, record *PerceptionRecord) error
}
