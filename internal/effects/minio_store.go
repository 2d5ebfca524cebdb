package effects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"perception-core/internal/minio"
	"perception-core/internal/vision"
)

// MinioStore keeps aggregates in "effects-<scene>" buckets under
// "<receiver>/<state>.json" so a receiver's aggregates share a prefix.
type MinioStore struct {
	client *minio.Client
}

// NewMinioStore wraps a connected MinIO client.
func NewMinioStore(client *minio.Client) *MinioStore {
	return &MinioStore{client: client}
}

func effectBucket(sceneID string) string { return "effects-" + sceneID }

func effectKey(receiverID string, state vision.VisibilityState) string {
	return receiverID + "/" + string(state) + ".json"
}

func (s *MinioStore) Get(ctx context.Context, sceneID, receiverID string, state vision.VisibilityState) (*AggregateEffect, error) {
	data, err := s.client.GetObject(ctx, effectBucket(sceneID), effectKey(receiverID, state))
	if err != nil {
		if errors.Is(err, minio.ErrNotFound) {
			return nil, fmt.Errorf("%s/%s: %w", receiverID, state, ErrNotFound)
		}
		return nil, err
	}
	var effect AggregateEffect
	if err := json.Unmarshal(data, &effect); err != nil {
		return nil, fmt.Errorf("decode aggregate %s/%s: %w", receiverID, state, err)
	}
	return &effect, nil
}

func (s *MinioStore) List(ctx context.Context, sceneID, receiverID string) ([]*AggregateEffect, error) {
	objects, err := s.client.ListObjects(ctx, effectBucket(sceneID), receiverID+"/")
	if err != nil {
		return nil, err
	}
	effects := make([]*AggregateEffect, 0, len(objects))
	for _, obj := range objects {
		data, err := s.client.GetObject(ctx, effectBucket(sceneID), obj.Key)
		if err != nil {
			if errors.Is(err, minio.ErrNotFound) {
				continue // deleted between list and read
			}
			return nil, err
		}
		var effect AggregateEffect
		if err := json.Unmarshal(data, &effect); err != nil {
			return nil, fmt.Errorf("decode aggregate %s: %w", strings.TrimSuffix(obj.Key, ".json"), err)
		}
		effects = append(effects, &effect)
	}
	return effects, nil
}

func (s *MinioStore) Put(ctx context.Context, sceneID string, effect *AggregateEffect) error {
	effect.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(effect)
	if err != nil {
		return fmt.Errorf("encode aggregate %s/%s: %w", effect.ReceiverID, effect.State, err)
	}
	return s.client.PutObject(ctx, effectBucket(sceneID), effectKey(effect.ReceiverID, effect.State), data)
}

func (s *MinioStore) Delete(ctx context.Context, sceneID, receiverID string, state vision.VisibilityState) error {
	return s.client.RemoveObject(ctx, effectBucket(sceneID), effectKey(receiverID, state))
}
