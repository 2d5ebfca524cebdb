// Package effects is the per-entity mechanical effect store. The aggregator
// is its only writer: it maintains at most one aggregate effect object per
// (receiver, visibility state) pair, each holding one contributor predicate
// per observer signature.
package effects

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"perception-core/internal/vision"
)

// ErrNotFound is returned when the requested aggregate does not exist.
var ErrNotFound = errors.New("aggregate effect not found")

// Contributor is one observer's entry in an aggregate, keyed by a stable
// observer signature rather than any transient token id.
type Contributor struct {
	Signature string `json:"signature"`
	Predicate string `json:"predicate"`
}

// AggregateEffect is one mechanical effect object representing the combined
// contribution of every observer that currently perceives the receiver in the
// given state. An aggregate with zero contributors must never persist.
type AggregateEffect struct {
	EffectID     string                 `json:"effect_id"`
	ReceiverID   string                 `json:"receiver_id"`
	State        vision.VisibilityState `json:"state"`
	Contributors []Contributor          `json:"contributors"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// NewAggregateEffect builds an empty aggregate for a receiver/state pair.
func NewAggregateEffect(receiverID string, state vision.VisibilityState) *AggregateEffect {
	return &AggregateEffect{
		EffectID:   uuid.NewString(),
		ReceiverID: receiverID,
		State:      state,
	}
}

// HasContributor reports whether a signature is already present.
func (a *AggregateEffect) HasContributor(signature string) bool {
	for _, c := range a.Contributors {
		if c.Signature == signature {
			return true
		}
	}
	return false
}

// AddContributor appends a contributor predicate if absent. Returns false
// when the signature was already present.
func (a *AggregateEffect) AddContributor(signature string) bool {
	if a.HasContributor(signature) {
		return false
	}
	a.Contributors = append(a.Contributors, Contributor{
		Signature: signature,
		Predicate: "observer:" + signature,
	})
	return true
}

// RemoveContributor drops a contributor. Returns false when absent.
func (a *AggregateEffect) RemoveContributor(signature string) bool {
	for i, c := range a.Contributors {
		if c.Signature == signature {
			a.Contributors = append(a.Contributors[:i], a.Contributors[i+1:]...)
			return true
		}
	}
	return false
}

// Store is the effect persistence surface. Put replaces the whole object
// atomically; Delete of a missing aggregate is not an error.
type Store interface {
	Get(ctx context.Context, sceneID, receiverID string, state vision.VisibilityState) (*AggregateEffect, error)
	List(ctx context.Context, sceneID, receiverID string) ([]*AggregateEffect, error)
	Put(ctx context.Context, sceneID string, effect *AggregateEffect) error
	Delete(ctx context.Context, sceneID, receiverID string, state vision.VisibilityState) error
}
