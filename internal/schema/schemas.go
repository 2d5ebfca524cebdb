package schema

// OverrideRequestSchema validates the body of the override setter endpoint.
const OverrideRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["observer_id", "target_id", "state"],
  "properties": {
    "observer_id": {"type": "string", "format": "entity_id"},
    "target_id": {"type": "string", "format": "entity_id"},
    "state": {"type": "string", "format": "visibility_state"},
    "source": {"type": "string"},
    "persistent": {"type": "boolean"},
    "duration_minutes": {"type": "number", "minimum": 0},
    "expected_cover": {"type": "string", "enum": ["none", "lesser", "standard", "greater"]},
    "expected_concealment": {"type": "boolean"}
  },
  "additionalProperties": false
}`

// BusEventSchema validates inbound movement/condition/lighting events before
// they reach the engine.
const BusEventSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["event_id", "event_type", "scene_id"],
  "properties": {
    "event_id": {"type": "string", "format": "event_id"},
    "event_type": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string"},
    "source": {"type": "string"},
    "scene_id": {"type": "string", "format": "entity_id"},
    "payload": {"type": "object"}
  }
}`
