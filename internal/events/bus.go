package events

import (
	"sync"
	"time"
)

// EventType represents different types of events flowing through the
// trading decision core.
type EventType string

const (
	EventClaimReceived      EventType = "CLAIM_RECEIVED"
	EventClaimDropped       EventType = "CLAIM_DROPPED"
	EventAggregationResolved EventType = "AGGREGATION_RESOLVED"
	EventRiskVerdict        EventType = "RISK_VERDICT"
	EventStateTransition    EventType = "STATE_TRANSITION"
	EventExecutionResult    EventType = "EXECUTION_RESULT"
	EventWitnessHealthUpdated EventType = "WITNESS_HEALTH_UPDATED"
	EventWeightAdjusted     EventType = "WEIGHT_ADJUSTED"
	EventLifecycleTransition EventType = "LIFECYCLE_TRANSITION"
	EventShadowClaimRecorded EventType = "SHADOW_CLAIM_RECORDED"
	EventArchitectureViolation EventType = "ARCHITECTURE_VIOLATION"
	EventError              EventType = "ERROR"
)

// Event represents a single occurrence published on the bus.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events.
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions. Every decision-loop
// component holds a reference to the same bus rather than a global.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type.
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events.
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Subscribers run in their own
// goroutine so a slow consumer never stalls the decision loop.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishClaimReceived publishes a claim arriving at the aggregator.
func (eb *EventBus) PublishClaimReceived(strategyID, claimType, direction string, confidence float64) {
	eb.Publish(Event{
		Type: EventClaimReceived,
		Data: map[string]interface{}{
			"strategy_id": strategyID,
			"claim_type":  claimType,
			"direction":   direction,
			"confidence":  confidence,
		},
	})
}

// PublishClaimDropped publishes a claim dropped for expiry or validation failure.
func (eb *EventBus) PublishClaimDropped(strategyID, reason string) {
	eb.Publish(Event{
		Type: EventClaimDropped,
		Data: map[string]interface{}{
			"strategy_id": strategyID,
			"reason":      reason,
		},
	})
}

// PublishAggregationResolved publishes the outcome of one aggregation pass.
func (eb *EventBus) PublishAggregationResolved(direction string, totalConfidence float64, isTradeable bool, reason string) {
	eb.Publish(Event{
		Type: EventAggregationResolved,
		Data: map[string]interface{}{
			"dominant_direction": direction,
			"total_confidence":   totalConfidence,
			"is_tradeable":       isTradeable,
			"resolution_reason":  reason,
		},
	})
}

// PublishRiskVerdict publishes a risk engine decision.
func (eb *EventBus) PublishRiskVerdict(approved bool, level, reason string) {
	eb.Publish(Event{
		Type: EventRiskVerdict,
		Data: map[string]interface{}{
			"approved": approved,
			"level":    level,
			"reason":   reason,
		},
	})
}

// PublishStateTransition publishes a state machine transition.
func (eb *EventBus) PublishStateTransition(from, to, reason, actor string) {
	eb.Publish(Event{
		Type: EventStateTransition,
		Data: map[string]interface{}{
			"from":   from,
			"to":     to,
			"reason": reason,
			"actor":  actor,
		},
	})
}

// PublishExecutionResult publishes a per-user execution outcome.
func (eb *EventBus) PublishExecutionResult(userID, orderID, status string, flags []string) {
	eb.Publish(Event{
		Type: EventExecutionResult,
		Data: map[string]interface{}{
			"user_id":  userID,
			"order_id": orderID,
			"status":   status,
			"flags":    flags,
		},
	})
}

// PublishWitnessHealthUpdated publishes a witness health/grade change.
func (eb *EventBus) PublishWitnessHealthUpdated(witnessID, grade string, winRate float64, sampleCount int) {
	eb.Publish(Event{
		Type: EventWitnessHealthUpdated,
		Data: map[string]interface{}{
			"witness_id":   witnessID,
			"grade":        grade,
			"win_rate":     winRate,
			"sample_count": sampleCount,
		},
	})
}

// PublishWeightAdjusted publishes a base or learning weight change.
func (eb *EventBus) PublishWeightAdjusted(witnessID, field string, oldValue, newValue float64) {
	eb.Publish(Event{
		Type: EventWeightAdjusted,
		Data: map[string]interface{}{
			"witness_id": witnessID,
			"field":      field,
			"old_value":  oldValue,
			"new_value":  newValue,
		},
	})
}

// PublishLifecycleTransition publishes a strategy lifecycle status change.
func (eb *EventBus) PublishLifecycleTransition(witnessID, from, to, reason string) {
	eb.Publish(Event{
		Type: EventLifecycleTransition,
		Data: map[string]interface{}{
			"witness_id": witnessID,
			"from":       from,
			"to":         to,
			"reason":     reason,
		},
	})
}

// PublishShadowClaimRecorded publishes a hypothetical shadow-run claim.
func (eb *EventBus) PublishShadowClaimRecorded(witnessID, direction string, confidence, marketPrice float64) {
	eb.Publish(Event{
		Type: EventShadowClaimRecorded,
		Data: map[string]interface{}{
			"witness_id":   witnessID,
			"direction":    direction,
			"confidence":   confidence,
			"market_price": marketPrice,
		},
	})
}

// PublishArchitectureViolation publishes a witness capability violation.
func (eb *EventBus) PublishArchitectureViolation(witnessID, violation string) {
	eb.Publish(Event{
		Type: EventArchitectureViolation,
		Data: map[string]interface{}{
			"witness_id": witnessID,
			"violation":  violation,
		},
	})
}

// PublishError publishes a generic error event.
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
