package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/convergehq/converge/pkg/engine"
)

// Event represents a telemetry event in the Converge system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// ResourceID is the associated resource, if applicable.
	ResourceID string `json:"resource_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeIntentAccepted  = "intent.accepted"
	EventTypeIntentRejected  = "intent.rejected"
	EventTypePassStarted     = "pass.started"
	EventTypePassSettled     = "pass.settled"
	EventTypePassFailed      = "pass.failed"
	EventTypeDriftDetected   = "drift.detected"
	EventTypeResourceMissing = "resource.missing"
	EventTypeReconcileError  = "reconcile.error"
	EventTypePolicyViolation = "policy.violation"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishIntentAccepted publishes an intent accepted event.
func (ep *EventPublisher) PublishIntentAccepted(resourceID string, generation int64) error {
	return ep.Publish(Event{
		Type:       EventTypeIntentAccepted,
		Source:     "engine",
		ResourceID: resourceID,
		Message:    fmt.Sprintf("Intent accepted for %s at generation %d", resourceID, generation),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"generation": generation,
		},
	})
}

// PublishIntentRejected publishes an intent rejected event.
func (ep *EventPublisher) PublishIntentRejected(resourceID, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypeIntentRejected,
		Source:     "engine",
		ResourceID: resourceID,
		Message:    fmt.Sprintf("Intent rejected for %s: %s", resourceID, reason),
		Level:      EventLevelWarning,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishPassStarted publishes a pass started event.
func (ep *EventPublisher) PublishPassStarted(resourceID string) error {
	return ep.Publish(Event{
		Type:       EventTypePassStarted,
		Source:     "engine",
		ResourceID: resourceID,
		Message:    fmt.Sprintf("Reconciliation pass started for %s", resourceID),
		Level:      EventLevelInfo,
	})
}

// PublishPassCompleted publishes a pass settled or pass failed event from the
// pass outcome.
func (ep *EventPublisher) PublishPassCompleted(result *engine.PassResult) error {
	resourceID := result.ResourceID.String()

	if result.Err != nil {
		return ep.Publish(Event{
			Type:       EventTypePassFailed,
			Source:     "engine",
			ResourceID: resourceID,
			Message:    fmt.Sprintf("Reconciliation pass failed for %s: %s", resourceID, result.Err.Message),
			Level:      EventLevelError,
			Data: map[string]interface{}{
				"phase":       string(result.Phase),
				"attempts":    result.Attempts,
				"error_class": string(result.Err.Class),
				"error_code":  result.Err.Code,
			},
		})
	}

	return ep.Publish(Event{
		Type:       EventTypePassSettled,
		Source:     "engine",
		ResourceID: resourceID,
		Message:    fmt.Sprintf("Reconciliation pass settled %s (%d ops)", resourceID, len(result.Planned)),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"phase":    string(result.Phase),
			"attempts": result.Attempts,
			"ops":      len(result.Planned),
			"duration": result.Duration.Seconds(),
		},
	})
}

// PublishDriftDetected publishes a drift detected or resource missing event.
func (ep *EventPublisher) PublishDriftDetected(event *engine.DriftEvent) error {
	resourceID := event.ResourceID.String()

	eventType := EventTypeDriftDetected
	message := fmt.Sprintf("Drift detected on %s (%d fields)", resourceID, len(event.Fields))
	if event.Status == engine.DriftStatusMissing {
		eventType = EventTypeResourceMissing
		message = fmt.Sprintf("Resource %s is missing from the provider", resourceID)
	}

	return ep.Publish(Event{
		ID:         event.ID,
		Timestamp:  event.DetectedAt,
		Type:       eventType,
		Source:     "drift_detector",
		ResourceID: resourceID,
		Message:    message,
		Level:      EventLevelWarning,
		Data: map[string]interface{}{
			"status": string(event.Status),
			"fields": len(event.Fields),
		},
	})
}

// PublishReconcileError publishes a terminal reconciliation failure event.
func (ep *EventPublisher) PublishReconcileError(event *engine.ErrorEvent) error {
	resourceID := event.ResourceID.String()

	data := map[string]interface{}{
		"error_class": string(event.Err.Class),
		"error_code":  event.Err.Code,
	}
	if event.Op != nil {
		data["field"] = event.Op.Field
		data["action"] = string(event.Op.Action)
	}

	return ep.Publish(Event{
		ID:         event.ID,
		Timestamp:  event.OccurredAt,
		Type:       EventTypeReconcileError,
		Source:     "engine",
		ResourceID: resourceID,
		Message:    fmt.Sprintf("Reconciliation failed for %s: %s", resourceID, event.Err.Message),
		Level:      EventLevelError,
		Data:       data,
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(resourceID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypePolicyViolation,
		Source:     "policy_engine",
		ResourceID: resourceID,
		Message:    fmt.Sprintf("Policy violation on %s: %s - %s", resourceID, policyName, reason),
		Level:      EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	ticker := time.NewTicker(ep.flushInterval())
	defer ticker.Stop()

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

func (ep *EventPublisher) flushInterval() time.Duration {
	if ep.config.FlushInterval > 0 {
		return ep.config.FlushInterval
	}
	return time.Second
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Subscribers run on their own goroutine so a slow one cannot
		// block delivery.
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByResourceID creates a filter that only allows events for a specific resource.
func FilterByResourceID(resourceID string) EventFilter {
	return func(event Event) bool {
		return event.ResourceID == resourceID
	}
}
