package vision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func timeNowFixed() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func TestClassifyBrightLight(t *testing.T) {
	caps := DefaultCapabilities()
	assert.Equal(t, StateObserved, Classify(LightBright, 10, caps))
}

func TestClassifyDarknessWithoutDarkvision(t *testing.T) {
	caps := DefaultCapabilities()
	assert.Equal(t, StateHidden, Classify(LightDarkness, 10, caps))
}

func TestClassifyDarknessWithDarkvisionInRange(t *testing.T) {
	caps := DefaultCapabilities()
	caps.HasDarkvision = true
	caps.DarkvisionRange = 60
	assert.Equal(t, StateObserved, Classify(LightDarkness, 30, caps))
}

func TestClassifyDarknessWithDarkvisionOutOfRange(t *testing.T) {
	caps := DefaultCapabilities()
	caps.HasDarkvision = true
	caps.DarkvisionRange = 60
	assert.Equal(t, StateHidden, Classify(LightDarkness, 90, caps))
}

func TestClassifyDimLight(t *testing.T) {
	withLowLight := DefaultCapabilities()
	withLowLight.HasLowLightVision = true
	assert.Equal(t, StateObserved, Classify(LightDim, 10, withLowLight))

	withoutLowLight := DefaultCapabilities()
	assert.Equal(t, StateConcealed, Classify(LightDim, 10, withoutLowLight))
}

func TestClassifyDazzled(t *testing.T) {
	caps := DefaultCapabilities()
	caps.IsDazzled = true
	assert.Equal(t, StateConcealed, Classify(LightBright, 5, caps))
	assert.Equal(t, StateConcealed, Classify(LightDim, 5, caps))
}

func TestClassifyBlindedAnyLight(t *testing.T) {
	caps := DefaultCapabilities()
	caps.IsBlinded = true
	for _, light := range []LightLevel{LightBright, LightDim, LightDarkness} {
		assert.Equal(t, StateHidden, Classify(light, 5, caps), "light=%s", light)
	}
}

func TestClassifyNoVision(t *testing.T) {
	caps := Capabilities{HasVision: false}
	assert.Equal(t, StateHidden, Classify(LightBright, 5, caps))
}

func TestClassifyIsDeterministic(t *testing.T) {
	caps := DefaultCapabilities()
	caps.HasDarkvision = true
	caps.DarkvisionRange = 60
	first := Classify(LightDarkness, 59.9, caps)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Classify(LightDarkness, 59.9, caps))
	}
}

func TestVisibilityStateValid(t *testing.T) {
	for _, s := range AllVisibilityStates {
		assert.True(t, s.Valid())
	}
	assert.False(t, VisibilityState("invisible").Valid())
	assert.False(t, VisibilityState("").Valid())
}

func TestOverrideExpired(t *testing.T) {
	now := timeNowFixed()
	expired := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, Override{ExpiresAt: &expired}.Expired(now))
	assert.False(t, Override{ExpiresAt: &future}.Expired(now))
	assert.False(t, Override{}.Expired(now), "persistent overrides never expire")
}
