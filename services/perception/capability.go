package perception

import (
	"strings"
	"sync"
	"time"

	"perception-core/internal/entity"
	"perception-core/internal/vision"
)

// Analyzer derives an entity's sensory capabilities from its conditions and
// declared senses, behind a wall-clock TTL cache. Reads within the TTL may be
// stale by design; condition-change handlers invalidate explicitly.
type Analyzer struct {
	mu    sync.RWMutex
	cache map[string]cachedCapabilities
	ttl   time.Duration
	now   func() time.Time
}

type cachedCapabilities struct {
	caps      vision.Capabilities
	timestamp time.Time
}

// NewAnalyzer creates an analyzer with the given cache TTL and starts the
// periodic sweep of expired entries.
func NewAnalyzer(ttl time.Duration) *Analyzer {
	a := &Analyzer{
		cache: make(map[string]cachedCapabilities),
		ttl:   ttl,
		now:   time.Now,
	}
	go a.cleanup()
	return a
}

// Capabilities returns the cached snapshot for the entity, recomputing on
// miss or expiry.
func (a *Analyzer) Capabilities(e *entity.Entity) vision.Capabilities {
	if e == nil {
		return vision.DefaultCapabilities()
	}

	a.mu.RLock()
	cached, ok := a.cache[e.EntityID]
	a.mu.RUnlock()
	if ok && a.now().Sub(cached.timestamp) < a.ttl {
		return cached.caps
	}

	caps := deriveCapabilities(e)

	a.mu.Lock()
	a.cache[e.EntityID] = cachedCapabilities{caps: caps, timestamp: a.now()}
	a.mu.Unlock()
	return caps
}

// Invalidate drops one entity's cache entry; called on condition changes
// where staleness is not tolerable.
func (a *Analyzer) Invalidate(entityID string) {
	a.mu.Lock()
	delete(a.cache, entityID)
	a.mu.Unlock()
}

// InvalidateAll drops every cache entry.
func (a *Analyzer) InvalidateAll() {
	a.mu.Lock()
	a.cache = make(map[string]cachedCapabilities)
	a.mu.Unlock()
}

func (a *Analyzer) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		a.mu.Lock()
		for id, cached := range a.cache {
			if a.now().Sub(cached.timestamp) >= a.ttl {
				delete(a.cache, id)
			}
		}
		a.mu.Unlock()
	}
}

// deriveCapabilities combines declared senses with active conditions. Sense
// data is probed through several shapes because source systems disagree on
// where senses live; with no usable data at all the entity gets ordinary
// vision and no special senses.
func deriveCapabilities(e *entity.Entity) vision.Capabilities {
	caps := vision.DefaultCapabilities()

	switch {
	case e.Senses.Vision || e.Senses.DarkvisionRange > 0 || e.Senses.LowLightRange > 0:
		caps.HasVision = e.Senses.Vision
		if e.Senses.DarkvisionRange > 0 {
			caps.HasDarkvision = true
			caps.DarkvisionRange = e.Senses.DarkvisionRange
		}
		if e.Senses.LowLightRange > 0 {
			caps.HasLowLightVision = true
			caps.LowLightRange = e.Senses.LowLightRange
		}
	default:
		probePayloadSenses(e, &caps)
	}

	if hasAnyCondition(e, blindedConditions) {
		caps.IsBlinded = true
	}
	if hasAnyCondition(e, dazzledConditions) {
		caps.IsDazzled = true
	}
	return caps
}

// probePayloadSenses reads sense data out of the free-form payload. Tolerated
// shapes: a senses map with numeric ranges or booleans, or a list of sense
// name strings.
func probePayloadSenses(e *entity.Entity, caps *vision.Capabilities) {
	for _, path := range []string{"senses", "attributes.senses"} {
		raw, ok := e.Get(path)
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case map[string]interface{}:
			if r, found := senseValue(v, "darkvision"); found {
				caps.HasDarkvision = true
				caps.DarkvisionRange = r
			}
			if r, found := senseValue(v, "low_light_vision", "low-light-vision", "lowlight"); found {
				caps.HasLowLightVision = true
				caps.LowLightRange = r
			}
			if blind, ok := v["vision"].(bool); ok {
				caps.HasVision = blind
			}
			return
		case []interface{}:
			for _, item := range v {
				name, ok := item.(string)
				if !ok {
					continue
				}
				switch {
				case strings.HasPrefix(strings.ToLower(name), "darkvision"):
					caps.HasDarkvision = true
				case strings.Contains(strings.ToLower(name), "low-light"):
					caps.HasLowLightVision = true
				}
			}
			return
		}
	}
}

// senseValue reads a sense entry that may be a number (range), a boolean, or
// absent. Returns (range, present); boolean true maps to an unbounded range.
func senseValue(senses map[string]interface{}, names ...string) (float64, bool) {
	for _, name := range names {
		raw, ok := senses[name]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			if v > 0 {
				return v, true
			}
		case int:
			if v > 0 {
				return float64(v), true
			}
		case bool:
			if v {
				return 0, true
			}
		}
	}
	return 0, false
}
