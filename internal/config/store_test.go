package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	assert.Equal(t, 5*time.Second, p.CacheTTL())
	assert.Equal(t, 500*time.Millisecond, p.Debounce())
	assert.Equal(t, 5*time.Minute, p.OverrideDuration())
	assert.Contains(t, p.InvisibilityCounterSenses, "see-invisibility")
}

func TestGetProfileWithoutBackendFallsBackToDefaults(t *testing.T) {
	store := &Store{cache: make(map[string]*Profile)}
	p := store.GetProfile("scene-1")
	assert.Equal(t, DefaultProfile(), p)

	// Cached on second read.
	assert.Same(t, p, store.GetProfile("scene-1"))
}

func TestValidateProfile(t *testing.T) {
	assert.NoError(t, validateProfile(DefaultProfile()))

	bad := DefaultProfile()
	bad.DefaultOverrideMinutes = 0
	assert.Error(t, validateProfile(bad))

	negative := DefaultProfile()
	negative.ValidationDebounceMs = -1
	assert.Error(t, validateProfile(negative))
}
