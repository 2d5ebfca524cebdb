package perception

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"perception-core/internal/config"
	"perception-core/internal/effects"
	"perception-core/internal/entity"
	"perception-core/internal/eventbus"
	"perception-core/internal/graph"
	"perception-core/internal/logger"
	"perception-core/internal/minio"
	"perception-core/internal/oracle"
	"perception-core/internal/records"
	"perception-core/internal/schema"
	"perception-core/internal/spatial"
	"perception-core/internal/vision"
)

const serviceName = "perception-service"

type Config struct {
	KafkaBrokers  []string
	HTTPAddr      string
	Minio         minio.Config
	ProfileBucket string
	GroupID       string
}

// Service ties the pipeline to the outside world: Kafka triggers in,
// relation/mismatch events out, REST and websocket on the side.
type Service struct {
	bus        *eventbus.EventBus
	httpServer *HTTPServer
	wsServer   *WebSocketServer

	records    records.Store
	effects    effects.Store
	profiles   *config.Store
	analyzer   *Analyzer
	resolver   *Resolver
	overrides  *OverrideStore
	aggregator *Aggregator
	validator  *Validator
	engine     *Engine
	archivist  *graph.Archivist

	eventSchema    *schema.Validator
	overrideSchema *schema.Validator

	broadcast chan []byte
	cfg       Config
}

func NewService(cfg Config) (*Service, error) {
	if cfg.GroupID == "" {
		cfg.GroupID = serviceName + "-group"
	}

	minioClient, err := minio.NewClient(cfg.Minio)
	if err != nil {
		return nil, fmt.Errorf("create MinIO client: %w", err)
	}

	archivist, err := graph.NewArchivistFromEnv()
	if err != nil {
		logger.Component("service").WithError(err).Warn("Graph archivist unavailable, continuing without")
		archivist = nil
	}

	schema.RegisterCustomFormats()
	eventSchema, err := schema.NewValidator([]byte(schema.BusEventSchema))
	if err != nil {
		return nil, fmt.Errorf("compile event schema: %w", err)
	}
	overrideSchema, err := schema.NewValidator([]byte(schema.OverrideRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("compile override schema: %w", err)
	}

	recordStore := records.NewMinioStore(minioClient)
	effectStore := effects.NewMinioStore(minioClient)
	profiles := config.NewStore(minioClient, cfg.ProfileBucket)
	defaults := config.DefaultProfile()

	s := &Service{
		bus:            eventbus.NewEventBus(cfg.KafkaBrokers),
		httpServer:     NewHTTPServer(cfg.HTTPAddr),
		wsServer:       NewWebSocketServer(),
		records:        recordStore,
		effects:        effectStore,
		profiles:       profiles,
		analyzer:       NewAnalyzer(defaults.CacheTTL()),
		resolver:       NewResolver(recordStore, defaults.InvisibilityCounterSenses),
		overrides:      NewOverrideStore(recordStore, defaults.OverrideDuration()),
		aggregator:     NewAggregator(effectStore),
		archivist:      archivist,
		eventSchema:    eventSchema,
		overrideSchema: overrideSchema,
		broadcast:      make(chan []byte, 100),
		cfg:            cfg,
	}

	oracleClient := oracle.NewClient()
	s.engine = NewEngine(
		recordStore,
		s.analyzer,
		s.resolver,
		s.overrides,
		s.aggregator,
		oracleClient,
		oracleClient,
		archivist,
		profiles.GetProfile,
		s.onRelationChange,
	)
	s.validator = NewValidator(s.overrides, s.engine, s.resolver, recordStore, defaults.Debounce(), s.reportMismatches)

	return s, nil
}

func (s *Service) Start(ctx context.Context) {
	log := logger.Component("service")
	log.Info("Perception service starting")

	s.httpServer.RegisterRoutes(s, s.wsServer)
	s.httpServer.Start()
	go s.wsServer.BroadcastLoop(s.broadcast)

	topics := []string{
		eventbus.TopicMovementEvents,
		eventbus.TopicConditionEvents,
		eventbus.TopicLightingEvents,
	}
	for _, topic := range topics {
		topic := topic
		go func() {
			s.bus.Subscribe(ctx, topic, s.cfg.GroupID, s.handleEvent)
		}()
	}

	log.Info("Perception service running")
}

func (s *Service) Stop() {
	s.validator.Flush()
	s.bus.Close()
	s.httpServer.Stop()
	close(s.broadcast)
	if s.archivist != nil {
		if err := s.archivist.Close(); err != nil {
			logger.Component("service").WithError(err).Warn("Archivist close failed")
		}
	}
}

func (s *Service) handleEvent(event eventbus.Event) {
	log := logger.Component("service").
		WithField("event_type", event.EventType).
		WithField("scene_id", event.SceneID)

	raw, err := json.Marshal(event)
	if err == nil {
		err = s.eventSchema.ValidateBytes(raw)
	}
	if err != nil {
		log.WithError(err).Warn("Rejecting malformed event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch event.EventType {
	case eventbus.TypeEntityMoved:
		err = s.handleMovement(ctx, event)
	case eventbus.TypeConditionAdded:
		err = s.handleCondition(ctx, event, true)
	case eventbus.TypeConditionRemoved:
		err = s.handleCondition(ctx, event, false)
	case eventbus.TypeLightingChanged:
		err = s.handleLighting(ctx, event)
	default:
		log.Debug("Ignoring unhandled event type")
		return
	}
	if err != nil {
		log.WithError(err).Error("Event handling failed")
	}
}

// handleMovement updates the entity document with its new position and
// recomputes every pair within the scene's perception scope.
func (s *Service) handleMovement(ctx context.Context, event eventbus.Event) error {
	entityID := event.StringField("entity_id")
	if entityID == "" {
		return fmt.Errorf("movement event without entity_id")
	}
	position, ok := eventPosition(event)
	if !ok {
		return fmt.Errorf("movement event for %s without position", entityID)
	}

	e, err := s.records.GetEntity(ctx, event.SceneID, entityID)
	if errors.Is(err, records.ErrEntityNotFound) {
		entityType := event.StringField("entity_type")
		if entityType == "" {
			entityType = "creature"
		}
		e = entity.New(entityID, entityType, event.SceneID)
	} else if err != nil {
		return err
	}

	e.Position = position
	e.UpdatedAt = time.Now().UTC()
	if err := s.records.PutEntity(ctx, event.SceneID, e); err != nil {
		return err
	}

	if err := s.engine.RecomputeAround(ctx, event.SceneID, entityID); err != nil {
		return err
	}
	s.validator.QueueValidation(event.SceneID, entityID)
	return nil
}

// handleCondition mirrors the condition onto the entity document and runs the
// condition workflow (capability invalidation, invisibility snapshots,
// recompute).
func (s *Service) handleCondition(ctx context.Context, event eventbus.Event, added bool) error {
	entityID := event.StringField("entity_id")
	conditionName := event.StringField("condition")
	if entityID == "" || conditionName == "" {
		return fmt.Errorf("condition event missing entity_id or condition")
	}

	e, err := s.records.GetEntity(ctx, event.SceneID, entityID)
	if err != nil {
		if errors.Is(err, records.ErrEntityNotFound) {
			logger.Component("service").
				WithField("entity_id", entityID).
				Debug("Condition event for unknown entity, ignoring")
			return nil
		}
		return err
	}

	if added {
		if !e.HasCondition(conditionName) {
			e.Conditions = append(e.Conditions, entity.Condition{
				Name:   conditionName,
				Source: event.StringField("source"),
			})
		}
	} else {
		kept := e.Conditions[:0]
		for _, c := range e.Conditions {
			if !strings.EqualFold(c.Name, conditionName) {
				kept = append(kept, c)
			}
		}
		e.Conditions = kept
	}
	e.UpdatedAt = time.Now().UTC()
	if err := s.records.PutEntity(ctx, event.SceneID, e); err != nil {
		return err
	}

	if err := s.engine.HandleConditionChange(ctx, event.SceneID, entityID, conditionName, added); err != nil {
		return err
	}
	s.validator.QueueValidation(event.SceneID, entityID)
	return nil
}

// handleLighting recomputes the whole scene and queues every entity for
// override validation; a light change can invalidate any pin.
func (s *Service) handleLighting(ctx context.Context, event eventbus.Event) error {
	s.analyzer.InvalidateAll()
	if err := s.engine.RecomputeScene(ctx, event.SceneID); err != nil {
		return err
	}
	ids, err := s.records.ListEntityIDs(ctx, event.SceneID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.validator.QueueValidation(event.SceneID, id)
	}
	return nil
}

// onRelationChange publishes a persisted relation change on the output topic
// and pushes it to websocket clients.
func (s *Service) onRelationChange(change RelationChange) {
	event := eventbus.NewEvent(eventbus.TypeRelationChanged, serviceName, change.SceneID, map[string]interface{}{
		"observer_id": change.ObserverID,
		"target_id":   change.TargetID,
		"state":       string(change.State),
		"cover":       string(change.Cover),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.bus.Publish(ctx, eventbus.TopicPerceptionOutput, event); err != nil {
		logger.Component("service").WithError(err).Warn("Relation change publish failed")
	}

	s.pushToClients(map[string]interface{}{
		"type":  eventbus.TypeRelationChanged,
		"event": event,
	})
}

// reportMismatches publishes validator findings; overrides stay untouched
// until an operator resolves them.
func (s *Service) reportMismatches(sceneID string, mismatches []vision.Mismatch) {
	event := eventbus.NewEvent(eventbus.TypeMismatchFound, serviceName, sceneID, map[string]interface{}{
		"mismatches": mismatches,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.bus.Publish(ctx, eventbus.TopicPerceptionOutput, event); err != nil {
		logger.Component("service").WithError(err).Warn("Mismatch publish failed")
	}

	s.pushToClients(map[string]interface{}{
		"type":  eventbus.TypeMismatchFound,
		"event": event,
	})
}

func (s *Service) pushToClients(message map[string]interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		return
	}
	select {
	case s.broadcast <- data:
	default:
		logger.Component("service").Warn("Broadcast buffer full, dropping message")
	}
}

// eventPosition reads the moved position from the payload, tolerating both a
// nested position object and top-level x/y fields.
func eventPosition(event eventbus.Event) (spatial.Point, bool) {
	if raw, ok := event.Payload["position"].(map[string]interface{}); ok {
		x, xok := floatField(raw, "x")
		y, yok := floatField(raw, "y")
		if xok && yok {
			return spatial.Point{X: x, Y: y}, true
		}
	}
	x, xok := floatField(event.Payload, "x")
	y, yok := floatField(event.Payload, "y")
	if xok && yok {
		return spatial.Point{X: x, Y: y}, true
	}
	return spatial.Point{}, false
}

func floatField(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
