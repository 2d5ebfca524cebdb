package effects

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"perception-core/internal/vision"
)

// MemoryStore is the in-process Store used by tests. Objects round-trip
// through JSON so callers never alias store memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte // sceneID/receiverID/state → effect JSON
}

// NewMemoryStore returns an empty in-memory effect store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func memKey(sceneID, receiverID string, state vision.VisibilityState) string {
	return sceneID + "/" + receiverID + "/" + string(state)
}

func (s *MemoryStore) Get(_ context.Context, sceneID, receiverID string, state vision.VisibilityState) (*AggregateEffect, error) {
	s.mu.RLock()
	data, ok := s.objects[memKey(sceneID, receiverID, state)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", receiverID, state, ErrNotFound)
	}
	var effect AggregateEffect
	if err := json.Unmarshal(data, &effect); err != nil {
		return nil, err
	}
	return &effect, nil
}

func (s *MemoryStore) List(_ context.Context, sceneID, receiverID string) ([]*AggregateEffect, error) {
	prefix := sceneID + "/" + receiverID + "/"
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*AggregateEffect
	for key, data := range s.objects {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		var effect AggregateEffect
		if err := json.Unmarshal(data, &effect); err != nil {
			return nil, err
		}
		result = append(result, &effect)
	}
	return result, nil
}

func (s *MemoryStore) Put(_ context.Context, sceneID string, effect *AggregateEffect) error {
	effect.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(effect)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[memKey(sceneID, effect.ReceiverID, effect.State)] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sceneID, receiverID string, state vision.VisibilityState) error {
	s.mu.Lock()
	delete(s.objects, memKey(sceneID, receiverID, state))
	s.mu.Unlock()
	return nil
}
