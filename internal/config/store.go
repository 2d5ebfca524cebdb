package config

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"perception-core/internal/logger"
	"perception-core/internal/minio"
)

// Profile tunes the perception pipeline per scene. Scenes without a stored
// profile run on DefaultProfile.
type Profile struct {
	CapabilityCacheTTLMs      int      `yaml:"capability_cache_ttl_ms,omitempty" json:"capability_cache_ttl_ms,omitempty"`
	ValidationDebounceMs      int      `yaml:"validation_debounce_ms,omitempty" json:"validation_debounce_ms,omitempty"`
	DefaultOverrideMinutes    int      `yaml:"default_override_minutes,omitempty" json:"default_override_minutes,omitempty"`
	ScopeRadius               float64  `yaml:"scope_radius,omitempty" json:"scope_radius,omitempty"`
	InvisibilityCounterSenses []string `yaml:"invisibility_counter_senses,omitempty" json:"invisibility_counter_senses,omitempty"`
}

// DefaultProfile returns the documented defaults: 5 s capability cache,
// 500 ms validation debounce, 5 minute transient overrides, unbounded scope.
func DefaultProfile() *Profile {
	return &Profile{
		CapabilityCacheTTLMs:      5000,
		ValidationDebounceMs:      500,
		DefaultOverrideMinutes:    5,
		ScopeRadius:               0,
		InvisibilityCounterSenses: []string{"see-invisibility", "truesight"},
	}
}

// CacheTTL returns the capability cache TTL as a duration.
func (p *Profile) CacheTTL() time.Duration {
	return time.Duration(p.CapabilityCacheTTLMs) * time.Millisecond
}

// Debounce returns the validation debounce window as a duration.
func (p *Profile) Debounce() time.Duration {
	return time.Duration(p.ValidationDebounceMs) * time.Millisecond
}

// OverrideDuration returns the default transient override lifetime.
func (p *Profile) OverrideDuration() time.Duration {
	return time.Duration(p.DefaultOverrideMinutes) * time.Minute
}

// Store serves per-scene profiles from MinIO with an in-process cache and a
// periodic background refresh.
type Store struct {
	minioClient *minio.Client
	bucket      string
	cache       map[string]*Profile
	cacheLock   sync.RWMutex
}

// NewStore creates a profile store backed by the given bucket.
func NewStore(minioClient *minio.Client, bucket string) *Store {
	store := &Store{
		minioClient: minioClient,
		bucket:      bucket,
		cache:       make(map[string]*Profile),
	}
	go store.backgroundRefresh()
	return store
}

// GetProfile returns the profile for a scene, falling back to defaults when
// no document exists or it fails to parse.
func (s *Store) GetProfile(sceneID string) *Profile {
	s.cacheLock.RLock()
	if p, ok := s.cache[sceneID]; ok {
		s.cacheLock.RUnlock()
		return p
	}
	s.cacheLock.RUnlock()

	profile := s.loadProfile(sceneID)

	s.cacheLock.Lock()
	s.cache[sceneID] = profile
	s.cacheLock.Unlock()
	return profile
}

func (s *Store) loadProfile(sceneID string) *Profile {
	log := logger.Component("config").WithField("scene_id", sceneID)
	profile := DefaultProfile()

	if s.minioClient == nil {
		return profile
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := path.Join("perception-profiles", sceneID+".yaml")
	data, err := s.minioClient.GetObject(ctx, s.bucket, key)
	if err != nil {
		log.WithError(err).Debug("No stored profile, using defaults")
		return profile
	}
	if err := yaml.Unmarshal(data, profile); err != nil {
		log.WithError(err).Warn("Invalid profile YAML, using defaults")
		return DefaultProfile()
	}
	if err := validateProfile(profile); err != nil {
		log.WithError(err).Warn("Rejecting stored profile, using defaults")
		return DefaultProfile()
	}
	return profile
}

func validateProfile(p *Profile) error {
	if p.CapabilityCacheTTLMs < 0 {
		return fmt.Errorf("capability_cache_ttl_ms must be non-negative")
	}
	if p.ValidationDebounceMs < 0 {
		return fmt.Errorf("validation_debounce_ms must be non-negative")
	}
	if p.DefaultOverrideMinutes <= 0 {
		return fmt.Errorf("default_override_minutes must be positive")
	}
	return nil
}

// backgroundRefresh re-reads cached profiles so edits land without restarts.
func (s *Store) backgroundRefresh() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		s.cacheLock.RLock()
		scenes := make([]string, 0, len(s.cache))
		for sceneID := range s.cache {
			scenes = append(scenes, sceneID)
		}
		s.cacheLock.RUnlock()

		for _, sceneID := range scenes {
			profile := s.loadProfile(sceneID)
			s.cacheLock.Lock()
			s.cache[sceneID] = profile
			s.cacheLock.Unlock()
		}
	}
}
