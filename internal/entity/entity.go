package entity

import (
	"strings"
	"time"

	"perception-core/internal/spatial"
)

// Entity is a mobile actor in a scene. Typed fields cover the data the
// perception pipeline always needs; Payload carries whatever else the source
// system attached, probed defensively through the path helpers because
// upstream data shapes drift.
type Entity struct {
	EntityID   string                 `json:"entity_id"`
	EntityType string                 `json:"entity_type"`
	SceneID    string                 `json:"scene_id"`
	Position   spatial.Point          `json:"position"`
	Conditions []Condition            `json:"conditions,omitempty"`
	Senses     Senses                 `json:"senses"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Condition is an active condition on an entity (blinded, dazzled,
// invisible, ...). Value carries an optional degree for valued conditions.
type Condition struct {
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
	Value  int    `json:"value,omitempty"`
}

// Senses are the entity's declared senses. Zero ranges mean the sense is
// absent (Vision=false overrides everything).
type Senses struct {
	Vision          bool    `json:"vision"`
	DarkvisionRange float64 `json:"darkvision_range,omitempty"`
	LowLightRange   float64 `json:"low_light_range,omitempty"`
}

// New creates an entity with ordinary vision and an empty payload.
func New(entityID, entityType, sceneID string) *Entity {
	now := time.Now().UTC()
	return &Entity{
		EntityID:   entityID,
		EntityType: entityType,
		SceneID:    sceneID,
		Senses:     Senses{Vision: true},
		CreatedAt:  now,
		UpdatedAt:  now,
		Payload:    make(map[string]interface{}),
	}
}

// HasCondition reports whether a condition with the given name is active,
// checking the typed list first and falling back to the payload shapes.
func (e *Entity) HasCondition(name string) bool {
	for _, c := range e.Conditions {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return payloadHasCondition(e.Payload, name)
}

// ConditionNames returns all active condition names, typed list and payload
// fallbacks combined, lowercased and deduplicated.
func (e *Entity) ConditionNames() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	for _, c := range e.Conditions {
		add(c.Name)
	}
	for _, name := range payloadConditionNames(e.Payload) {
		add(name)
	}
	return names
}

// Get returns a payload value; dotted keys address nested maps.
func (e *Entity) Get(key string) (interface{}, bool) {
	if e.Payload == nil {
		return nil, false
	}
	if !strings.Contains(key, ".") {
		val, ok := e.Payload[key]
		return val, ok
	}
	return lookupPath(e.Payload, strings.Split(key, "."))
}

// Has reports whether a payload key (dotted paths allowed) is present.
func (e *Entity) Has(key string) bool {
	_, ok := e.Get(key)
	return ok
}

// Set writes a payload value, creating nested maps for dotted keys. Returns
// false when the value was already equal.
func (e *Entity) Set(key string, value interface{}) bool {
	if e.Payload == nil {
		e.Payload = make(map[string]interface{})
	}
	keys := strings.Split(key, ".")
	current := e.Payload
	for _, k := range keys[:len(keys)-1] {
		next, ok := current[k].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			current[k] = next
		}
		current = next
	}
	last := keys[len(keys)-1]
	if existing, ok := current[last]; ok && existing == value {
		return false
	}
	current[last] = value
	e.UpdatedAt = time.Now().UTC()
	return true
}

// Remove deletes a payload key (dotted paths allowed). Returns false when the
// key was absent.
func (e *Entity) Remove(key string) bool {
	if e.Payload == nil {
		return false
	}
	keys := strings.Split(key, ".")
	current := e.Payload
	for _, k := range keys[:len(keys)-1] {
		next, ok := current[k].(map[string]interface{})
		if !ok {
			return false
		}
		current = next
	}
	last := keys[len(keys)-1]
	if _, ok := current[last]; !ok {
		return false
	}
	delete(current, last)
	e.UpdatedAt = time.Now().UTC()
	return true
}

func lookupPath(m map[string]interface{}, keys []string) (interface{}, bool) {
	current := interface{}(m)
	for _, k := range keys {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[k]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
