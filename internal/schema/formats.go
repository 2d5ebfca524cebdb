// Package schema provides JSON Schema validation with custom formats for the
// perception service's inbound payloads.
package schema

import (
	"regexp"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"perception-core/internal/vision"
)

// eventIDFormatChecker implements gojsonschema.FormatChecker for event_id.
type eventIDFormatChecker struct{}

// IsFormat validates that the input is a valid UUID.
func (c eventIDFormatChecker) IsFormat(input interface{}) bool {
	if s, ok := input.(string); ok {
		_, err := uuid.Parse(s)
		return err == nil
	}
	return false
}

// entityIDFormatChecker implements gojsonschema.FormatChecker for entity_id.
type entityIDFormatChecker struct{}

var semanticIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// IsFormat validates that the input is a valid entity ID (UUID or semantic).
func (c entityIDFormatChecker) IsFormat(input interface{}) bool {
	s, ok := input.(string)
	if !ok || len(s) == 0 {
		return false
	}
	if _, err := uuid.Parse(s); err == nil {
		return true
	}
	return semanticIDPattern.MatchString(s)
}

// visibilityStateFormatChecker validates the four-member visibility enum.
type visibilityStateFormatChecker struct{}

func (c visibilityStateFormatChecker) IsFormat(input interface{}) bool {
	if s, ok := input.(string); ok {
		return vision.VisibilityState(s).Valid()
	}
	return false
}

// RegisterCustomFormats registers the event_id, entity_id, and
// visibility_state formats. Call once before building validators.
func RegisterCustomFormats() {
	gojsonschema.FormatCheckers.Add("event_id", eventIDFormatChecker{})
	gojsonschema.FormatCheckers.Add("entity_id", entityIDFormatChecker{})
	gojsonschema.FormatCheckers.Add("visibility_state", visibilityStateFormatChecker{})
}
