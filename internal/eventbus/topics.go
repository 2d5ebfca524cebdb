package eventbus

// Kafka topics consumed and produced by the perception service.
const (
	TopicMovementEvents   = "movement_events"
	TopicConditionEvents  = "condition_events"
	TopicLightingEvents   = "lighting_events"
	TopicPerceptionOutput = "perception_output"
)

// Concrete event types the service handles and emits.
const (
	TypeEntityMoved      = "movement.entity_moved"
	TypeConditionAdded   = "condition.added"
	TypeConditionRemoved = "condition.removed"
	TypeLightingChanged  = "lighting.changed"

	TypeRelationChanged = "perception.relation_changed"
	TypeMismatchFound   = "perception.mismatch_found"
)
