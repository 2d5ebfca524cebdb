package records

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"perception-core/internal/entity"
)

// MemoryStore is an in-process Store used by tests and local development. It
// round-trips documents through JSON so callers never share memory with the
// store, matching the object-store behaviour.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string][]byte // sceneID/entityID → entity JSON
	records  map[string][]byte // sceneID/entityID → record JSON
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string][]byte),
		records:  make(map[string][]byte),
	}
}

func memKey(sceneID, entityID string) string { return sceneID + "/" + entityID }

func (s *MemoryStore) GetEntity(_ context.Context, sceneID, entityID string) (*entity.Entity, error) {
	s.mu.RLock()
	data, ok := s.entities[memKey(sceneID, entityID)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", entityID, ErrEntityNotFound)
	}
	var e entity.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *MemoryStore) PutEntity(_ context.Context, sceneID string, e *entity.Entity) error {
	e.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.entities[memKey(sceneID, e.EntityID)] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListEntityIDs(_ context.Context, sceneID string) ([]string, error) {
	prefix := sceneID + "/"
	s.mu.RLock()
	var ids []string
	for key := range s.entities {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			ids = append(ids, key[len(prefix):])
		}
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) GetRecord(_ context.Context, sceneID, entityID string) (*PerceptionRecord, error) {
	s.mu.RLock()
	data, ok := s.records[memKey(sceneID, entityID)]
	s.mu.RUnlock()
	if !ok {
		return NewPerceptionRecord(entityID), nil
	}
	var record PerceptionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	record.normalize()
	return &record, nil
}

func (s *MemoryStore) PutRecord(_ context.Context, sceneID string, record *PerceptionRecord) error {
	record.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.records[memKey(sceneID, record.EntityID)] = data
	s.mu.Unlock()
	return nil
}

// DeleteEntity removes an entity document, simulating an entity vanishing
// mid-operation in tests.
func (s *MemoryStore) DeleteEntity(sceneID, entityID string) {
	s.mu.Lock()
	delete(s.entities, memKey(sceneID, entityID))
	s.mu.Unlock()
}
