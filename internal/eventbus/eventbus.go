package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"perception-core/internal/logger"
)

// EventBus publishes and consumes perception events over Kafka. One writer is
// kept per produced topic.
type EventBus struct {
	writers map[string]*kafka.Writer
	brokers []string
}

// NewEventBus creates writers for every topic the service may produce on.
func NewEventBus(brokers []string) *EventBus {
	topics := []string{
		TopicMovementEvents,
		TopicConditionEvents,
		TopicLightingEvents,
		TopicPerceptionOutput,
	}
	writers := make(map[string]*kafka.Writer)
	for _, topic := range topics {
		writers[topic] = &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		}
	}
	return &EventBus{writers: writers, brokers: brokers}
}

// Publish sends an event, keyed by scene so per-scene ordering holds.
func (eb *EventBus) Publish(ctx context.Context, topic string, event Event) error {
	if event.EventID == "" || event.EventType == "" || event.SceneID == "" {
		return fmt.Errorf("event missing required fields: event_id=%q, event_type=%q, scene_id=%q",
			event.EventID, event.EventType, event.SceneID)
	}
	writer, ok := eb.writers[topic]
	if !ok {
		return fmt.Errorf("no writer for topic %q", topic)
	}
	msg, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.SceneID),
		Value: msg,
	})
}

// Subscribe consumes a topic until ctx is cancelled, invoking handler for
// every decodable event. Malformed messages are logged and skipped.
func (eb *EventBus) Subscribe(ctx context.Context, topic, groupID string, handler func(Event)) {
	log := logger.Component("eventbus").WithField("topic", topic)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  eb.brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
		MaxWait:  pollInterval(),
	})
	defer reader.Close()
	log.WithField("group", groupID).Info("Subscribed")

	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				log.WithError(ctx.Err()).Info("Subscription stopped")
				return
			default:
				log.WithError(err).Warn("Read error")
			}
			continue
		}
		var event Event
		if err := json.Unmarshal(m.Value, &event); err != nil {
			log.WithError(err).WithField("key", string(m.Key)).Warn("Parse error")
			continue
		}
		handler(event)
	}
}

// Close flushes and closes all writers.
func (eb *EventBus) Close() {
	for topic, writer := range eb.writers {
		if err := writer.Close(); err != nil {
			logger.Component("eventbus").WithField("topic", topic).WithError(err).Warn("Writer close failed")
		}
	}
}

// pollInterval reads KAFKA_POLL_FREQUENCY_MS, defaulting to one second.
func pollInterval() time.Duration {
	ms := 1000
	if v := os.Getenv("KAFKA_POLL_FREQUENCY_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			ms = parsed
		}
	}
	return time.Duration(ms) * time.Millisecond
}
