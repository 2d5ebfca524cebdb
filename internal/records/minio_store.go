package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"perception-core/internal/entity"
	"perception-core/internal/minio"
)

// MinioStore keeps entity documents in "entities-<scene>" buckets and
// perception records in "perception-<scene>" buckets, one JSON object per
// entity.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore wraps a connected MinIO client.
func NewMinioStore(client *minio.Client) *MinioStore {
	return &MinioStore{client: client}
}

func entityBucket(sceneID string) string     { return "entities-" + sceneID }
func perceptionBucket(sceneID string) string { return "perception-" + sceneID }

// GetEntity loads an entity document.
func (s *MinioStore) GetEntity(ctx context.Context, sceneID, entityID string) (*entity.Entity, error) {
	data, err := s.client.GetObject(ctx, entityBucket(sceneID), entityID+".json")
	if err != nil {
		if errors.Is(err, minio.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", entityID, ErrEntityNotFound)
		}
		return nil, err
	}
	var e entity.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode entity %s: %w", entityID, err)
	}
	return &e, nil
}

// PutEntity persists an entity document.
func (s *MinioStore) PutEntity(ctx context.Context, sceneID string, e *entity.Entity) error {
	e.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entity %s: %w", e.EntityID, err)
	}
	return s.client.PutObject(ctx, entityBucket(sceneID), e.EntityID+".json", data)
}

// ListEntityIDs enumerates all entity ids present in a scene.
func (s *MinioStore) ListEntityIDs(ctx context.Context, sceneID string) ([]string, error) {
	objects, err := s.client.ListObjects(ctx, entityBucket(sceneID), "")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(objects))
	for _, obj := range objects {
		ids = append(ids, strings.TrimSuffix(obj.Key, ".json"))
	}
	return ids, nil
}

// GetRecord loads the perception record for an entity, returning a fresh
// empty record when none was persisted yet.
func (s *MinioStore) GetRecord(ctx context.Context, sceneID, entityID string) (*PerceptionRecord, error) {
	data, err := s.client.GetObject(ctx, perceptionBucket(sceneID), entityID+".json")
	if err != nil {
		if errors.Is(err, minio.ErrNotFound) {
			return NewPerceptionRecord(entityID), nil
		}
		return nil, err
	}
	var record PerceptionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode perception record %s: %w", entityID, err)
	}
	record.normalize()
	return &record, nil
}

// PutRecord persists a perception record.
func (s *MinioStore) PutRecord(ctx context.Context, sceneID string, record *PerceptionRecord) error {
	record.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode perception record %s: %w", record.EntityID, err)
	}
	return s.client.PutObject(ctx, perceptionBucket(sceneID), record.EntityID+".json", data)
}
