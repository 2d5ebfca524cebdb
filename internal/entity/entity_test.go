package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasConditionTypedList(t *testing.T) {
	e := New("npc-1", "npc", "scene-1")
	e.Conditions = []Condition{{Name: "Blinded"}}

	assert.True(t, e.HasCondition("blinded"))
	assert.False(t, e.HasCondition("dazzled"))
}

func TestHasConditionPayloadShapes(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"string list", map[string]interface{}{
			"conditions": []interface{}{"invisible"},
		}},
		{"object list with name", map[string]interface{}{
			"conditions": []interface{}{map[string]interface{}{"name": "invisible"}},
		}},
		{"object list with slug", map[string]interface{}{
			"attributes": map[string]interface{}{
				"conditions": []interface{}{map[string]interface{}{"slug": "invisible"}},
			},
		}},
		{"boolean map", map[string]interface{}{
			"flags": map[string]interface{}{
				"conditions": map[string]interface{}{"invisible": true},
			},
		}},
		{"status effects", map[string]interface{}{
			"status_effects": []interface{}{"invisible"},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := New("npc-1", "npc", "scene-1")
			e.Payload = tc.payload
			assert.True(t, e.HasCondition("invisible"))
		})
	}
}

func TestHasConditionIgnoresInactiveMapEntries(t *testing.T) {
	e := New("npc-1", "npc", "scene-1")
	e.Payload = map[string]interface{}{
		"conditions": map[string]interface{}{"invisible": false},
	}
	assert.False(t, e.HasCondition("invisible"))
}

func TestConditionNamesDeduplicates(t *testing.T) {
	e := New("npc-1", "npc", "scene-1")
	e.Conditions = []Condition{{Name: "Blinded"}}
	e.Payload = map[string]interface{}{
		"conditions": []interface{}{"blinded", "dazzled"},
	}

	assert.ElementsMatch(t, []string{"blinded", "dazzled"}, e.ConditionNames())
}

func TestPayloadPathAccess(t *testing.T) {
	e := New("npc-1", "npc", "scene-1")

	assert.True(t, e.Set("stealth.dc", 18))
	val, ok := e.Get("stealth.dc")
	assert.True(t, ok)
	assert.Equal(t, 18, val)

	// Setting the same value again reports no change.
	assert.False(t, e.Set("stealth.dc", 18))

	assert.True(t, e.Remove("stealth.dc"))
	assert.False(t, e.Has("stealth.dc"))
	assert.False(t, e.Remove("stealth.dc"))
}
