package perception

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"perception-core/internal/effects"
	"perception-core/internal/logger"
	"perception-core/internal/vision"
)

// aggregateStates are the visibility states that materialize as mechanical
// effects on the receiving entity. Observed carries no penalty and gets none.
var aggregateStates = map[vision.VisibilityState]bool{
	vision.StateConcealed:  true,
	vision.StateHidden:     true,
	vision.StateUndetected: true,
}

// Aggregator maintains at most one aggregate effect per (receiver, state)
// pair. Every mutation for a given receiver is funneled through a FIFO task
// queue keyed by receiver identity, so concurrent callers never race to
// create duplicate aggregates or mutate a just-deleted one. Operations on
// unrelated receivers proceed fully concurrently.
type Aggregator struct {
	store effects.Store

	mu     sync.Mutex
	queues map[string]chan aggregateTask
}

type aggregateTask struct {
	fn   func() error
	done chan error
}

// NewAggregator builds an aggregator over the effect store.
func NewAggregator(store effects.Store) *Aggregator {
	return &Aggregator{
		store:  store,
		queues: make(map[string]chan aggregateTask),
	}
}

// enqueue runs fn on the receiver's serial queue and waits for it. The worker
// goroutine is started lazily on first use and lives for the process.
func (g *Aggregator) enqueue(sceneID, receiverID string, fn func() error) error {
	key := sceneID + "/" + receiverID

	g.mu.Lock()
	queue, ok := g.queues[key]
	if !ok {
		queue = make(chan aggregateTask, 16)
		g.queues[key] = queue
		go func() {
			for task := range queue {
				task.done <- task.fn()
			}
		}()
	}
	g.mu.Unlock()

	task := aggregateTask{fn: fn, done: make(chan error, 1)}
	queue <- task
	return <-task.done
}

// EnsureAggregate returns the aggregate for (receiver, state), creating and
// persisting an empty one when absent.
func (g *Aggregator) EnsureAggregate(ctx context.Context, sceneID, receiverID string, state vision.VisibilityState) (*effects.AggregateEffect, error) {
	var result *effects.AggregateEffect
	err := g.enqueue(sceneID, receiverID, func() error {
		agg, err := g.ensureLocked(ctx, sceneID, receiverID, state)
		result = agg
		return err
	})
	return result, err
}

// ensureLocked must run on the receiver's queue.
func (g *Aggregator) ensureLocked(ctx context.Context, sceneID, receiverID string, state vision.VisibilityState) (*effects.AggregateEffect, error) {
	agg, err := g.store.Get(ctx, sceneID, receiverID, state)
	if err == nil {
		return agg, nil
	}
	if !errors.Is(err, effects.ErrNotFound) {
		return nil, err
	}
	agg = effects.NewAggregateEffect(receiverID, state)
	if err := g.store.Put(ctx, sceneID, agg); err != nil {
		return nil, fmt.Errorf("create aggregate %s/%s: %w", receiverID, state, err)
	}
	return agg, nil
}

// AddContribution records an observer signature in the (receiver, state)
// aggregate. Idempotent: repeated calls leave exactly one contributor entry.
func (g *Aggregator) AddContribution(ctx context.Context, sceneID, receiverID, signature string, state vision.VisibilityState) error {
	if !aggregateStates[state] {
		return nil
	}
	return g.enqueue(sceneID, receiverID, func() error {
		return g.addLocked(ctx, sceneID, receiverID, signature, state)
	})
}

func (g *Aggregator) addLocked(ctx context.Context, sceneID, receiverID, signature string, state vision.VisibilityState) error {
	agg, err := g.ensureLocked(ctx, sceneID, receiverID, state)
	if err != nil {
		return err
	}

	// Re-verify the aggregate still exists before mutating; recreate once if
	// it was deleted underneath us.
	current, err := g.store.Get(ctx, sceneID, receiverID, state)
	if errors.Is(err, effects.ErrNotFound) {
		agg, err = g.ensureLocked(ctx, sceneID, receiverID, state)
		if err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else {
		agg = current
	}

	if !agg.AddContributor(signature) {
		return nil // already present
	}
	return g.store.Put(ctx, sceneID, agg)
}

// RemoveContribution drops the observer's entry from the (receiver, state)
// aggregate. When the last contributor goes, the aggregate object itself is
// deleted rather than left as an empty shell.
func (g *Aggregator) RemoveContribution(ctx context.Context, sceneID, receiverID, signature string, state vision.VisibilityState) error {
	if !aggregateStates[state] {
		return nil
	}
	return g.enqueue(sceneID, receiverID, func() error {
		return g.removeLocked(ctx, sceneID, receiverID, signature, state)
	})
}

func (g *Aggregator) removeLocked(ctx context.Context, sceneID, receiverID, signature string, state vision.VisibilityState) error {
	agg, err := g.store.Get(ctx, sceneID, receiverID, state)
	if errors.Is(err, effects.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !agg.RemoveContributor(signature) {
		return nil
	}
	if len(agg.Contributors) == 0 {
		return g.store.Delete(ctx, sceneID, receiverID, state)
	}
	return g.store.Put(ctx, sceneID, agg)
}

// SwitchContribution moves an observer's entry between two states as one
// logical operation on the receiver's queue (the hidden↔undetected flip).
func (g *Aggregator) SwitchContribution(ctx context.Context, sceneID, receiverID, signature string, from, to vision.VisibilityState) error {
	if from == to {
		return nil
	}
	return g.enqueue(sceneID, receiverID, func() error {
		if aggregateStates[from] {
			if err := g.removeLocked(ctx, sceneID, receiverID, signature, from); err != nil {
				return err
			}
		}
		if aggregateStates[to] {
			return g.addLocked(ctx, sceneID, receiverID, signature, to)
		}
		return nil
	})
}

// PruneEmpty deletes any aggregate for the receiver whose contributor list is
// empty. A defensive backstop for partial-failure scenarios.
func (g *Aggregator) PruneEmpty(ctx context.Context, sceneID, receiverID string) error {
	return g.enqueue(sceneID, receiverID, func() error {
		all, err := g.store.List(ctx, sceneID, receiverID)
		if err != nil {
			return err
		}
		for _, agg := range all {
			if len(agg.Contributors) > 0 {
				continue
			}
			if err := g.store.Delete(ctx, sceneID, receiverID, agg.State); err != nil {
				logger.Component("aggregator").WithError(err).
					WithField("receiver_id", receiverID).Warn("Prune failed")
			}
		}
		return nil
	})
}
