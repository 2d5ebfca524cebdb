package entity

import "strings"

// Payload keys probed for condition data, in lookup order. Different source
// systems store conditions under different paths; the first shape that yields
// anything wins.
var conditionPaths = []string{
	"conditions",
	"attributes.conditions",
	"flags.conditions",
	"status_effects",
}

func payloadHasCondition(payload map[string]interface{}, name string) bool {
	for _, n := range payloadConditionNames(payload) {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// payloadConditionNames extracts condition names from any of the tolerated
// payload shapes: a list of strings, a list of objects with a name/slug/id
// field, or a map of name → anything truthy.
func payloadConditionNames(payload map[string]interface{}) []string {
	if payload == nil {
		return nil
	}
	for _, path := range conditionPaths {
		raw, ok := lookupPath(payload, strings.Split(path, "."))
		if !ok {
			continue
		}
		if names := extractConditionNames(raw); len(names) > 0 {
			return names
		}
	}
	return nil
}

func extractConditionNames(raw interface{}) []string {
	var names []string
	switch v := raw.(type) {
	case []interface{}:
		for _, item := range v {
			switch c := item.(type) {
			case string:
				names = append(names, c)
			case map[string]interface{}:
				for _, key := range []string{"name", "slug", "id"} {
					if s, ok := c[key].(string); ok && s != "" {
						names = append(names, s)
						break
					}
				}
			}
		}
	case []string:
		names = append(names, v...)
	case map[string]interface{}:
		for name, val := range v {
			if active, ok := val.(bool); ok && !active {
				continue
			}
			names = append(names, name)
		}
	}
	return names
}
