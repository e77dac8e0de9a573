package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event is one lifecycle event of an evaluator.
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Type        string                 `json:"type"`
	Source      string                 `json:"source"`
	EvaluatorID string                 `json:"evaluator_id,omitempty"`
	Provider    string                 `json:"provider,omitempty"`
	Message     string                 `json:"message"`
	Level       string                 `json:"level"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeEvaluatorAllocated = "evaluator.allocated"
	EventTypeLaunchRequested    = "evaluator.launch_requested"
	EventTypeLaunchFailed       = "evaluator.launch_failed"
	EventTypeEvaluatorRunning   = "evaluator.running"
	EventTypeEvaluatorClosed    = "evaluator.closed"
	EventTypePolicyViolation    = "policy.violation"
	EventTypeProviderFailed     = "provider.failed"
)

// Event levels, lowest first.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var (
	// ErrPublisherClosed is returned by Publish after Shutdown.
	ErrPublisherClosed = errors.New("event publisher is shut down")

	// ErrEventDropped is returned when the async buffer is full.
	ErrEventDropped = errors.New("event buffer full, event dropped")
)

// EventSubscriber handles one event.
type EventSubscriber func(event Event)

// EventFilter reports whether an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. Subscribers are called in
// publish order, one event at a time: synchronously from Publish, or from a
// single background goroutine when async delivery is enabled.
type EventPublisher struct {
	config EventsConfig

	mu          sync.RWMutex
	subscribers map[uint64]subscriberEntry
	order       []uint64
	nextID      uint64
	filters     []EventFilter

	buffer   chan Event
	closed   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

type subscriberEntry struct {
	fn     EventSubscriber
	filter EventFilter
}

// NewEventPublisher creates a publisher. A disabled publisher accepts and
// discards every event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{
		config:      cfg,
		subscribers: make(map[uint64]subscriberEntry),
		closed:      make(chan struct{}),
		done:        make(chan struct{}),
	}

	if cfg.Enabled && cfg.EnableAsync {
		if cfg.BufferSize <= 0 {
			return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
		}
		ep.buffer = make(chan Event, cfg.BufferSize)
		go ep.run()
	} else {
		close(ep.done)
	}

	return ep, nil
}

// Publish stamps the event with an ID and time when missing and delivers it.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}
	select {
	case <-ep.closed:
		return ErrPublisherClosed
	default:
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
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

	if ep.buffer == nil {
		ep.deliver(event)
		return nil
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		ep.dropped.Add(1)
		return ErrEventDropped
	}
}

// Dropped returns how many events were lost to a full buffer.
func (ep *EventPublisher) Dropped() uint64 {
	return ep.dropped.Load()
}

func (ep *EventPublisher) lifecycle(eventType, evaluatorID, level, message string, data map[string]interface{}) error {
	return ep.Publish(Event{
		Type:        eventType,
		Source:      "evaluator",
		EvaluatorID: evaluatorID,
		Message:     message,
		Level:       level,
		Data:        data,
	})
}

// PublishAllocated publishes an evaluator allocated event.
func (ep *EventPublisher) PublishAllocated(evaluatorID string) error {
	return ep.lifecycle(EventTypeEvaluatorAllocated, evaluatorID, EventLevelInfo,
		"Evaluator "+evaluatorID+" allocated", nil)
}

// PublishLaunchRequested publishes an event for a descriptor handed to a dispatcher.
func (ep *EventPublisher) PublishLaunchRequested(evaluatorID, processType string, files int) error {
	return ep.lifecycle(EventTypeLaunchRequested, evaluatorID, EventLevelInfo,
		fmt.Sprintf("Launch of evaluator %s requested", evaluatorID),
		map[string]interface{}{"process_type": processType, "files": files})
}

// PublishLaunchFailed publishes a launch failed event.
func (ep *EventPublisher) PublishLaunchFailed(evaluatorID, reason string) error {
	return ep.lifecycle(EventTypeLaunchFailed, evaluatorID, EventLevelError,
		fmt.Sprintf("Launch of evaluator %s failed: %s", evaluatorID, reason),
		map[string]interface{}{"reason": reason})
}

// PublishRunning publishes an evaluator running event.
func (ep *EventPublisher) PublishRunning(evaluatorID string) error {
	return ep.lifecycle(EventTypeEvaluatorRunning, evaluatorID, EventLevelInfo,
		"Evaluator "+evaluatorID+" is running", nil)
}

// PublishClosed publishes an evaluator closed event.
func (ep *EventPublisher) PublishClosed(evaluatorID, previousState string) error {
	return ep.lifecycle(EventTypeEvaluatorClosed, evaluatorID, EventLevelInfo,
		fmt.Sprintf("Evaluator %s closed from state %s", evaluatorID, previousState),
		map[string]interface{}{"previous_state": previousState})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(evaluatorID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypePolicyViolation,
		Source:      "policy",
		EvaluatorID: evaluatorID,
		Message:     fmt.Sprintf("Policy %s denied evaluator %s: %s", policyName, evaluatorID, reason),
		Level:       EventLevelError,
		Data:        map[string]interface{}{"policy": policyName, "reason": reason},
	})
}

// PublishProviderFailed publishes a provider failure or merge conflict.
func (ep *EventPublisher) PublishProviderFailed(evaluatorID, provider, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypeProviderFailed,
		Source:      "composer",
		EvaluatorID: evaluatorID,
		Provider:    provider,
		Message:     fmt.Sprintf("Provider %s failed for evaluator %s: %s", provider, evaluatorID, reason),
		Level:       EventLevelError,
		Data:        map[string]interface{}{"reason": reason},
	})
}

// Subscribe registers fn for events accepted by filter, or all events when
// filter is nil. The returned function removes the subscription.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) (unsubscribe func()) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	id := ep.nextID
	ep.nextID++
	ep.subscribers[id] = subscriberEntry{fn: fn, filter: filter}
	ep.order = append(ep.order, id)

	return func() {
		ep.mu.Lock()
		defer ep.mu.Unlock()
		delete(ep.subscribers, id)
		for i, v := range ep.order {
			if v == id {
				ep.order = append(ep.order[:i], ep.order[i+1:]...)
				break
			}
		}
	}
}

// AddFilter adds a filter every published event must pass.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

func (ep *EventPublisher) run() {
	defer close(ep.done)

	for {
		select {
		case event := <-ep.buffer:
			ep.deliver(event)
		case <-ep.closed:
			for {
				select {
				case event := <-ep.buffer:
					ep.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, id := range ep.order {
		entry := ep.subscribers[id]
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.fn(event)
	}
}

// Shutdown stops accepting events and waits until buffered events have been
// delivered or ctx ends. It is safe to call more than once.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.stopOnce.Do(func() { close(ep.closed) })

	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

var levelRank = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

// FilterByLevel accepts events at minLevel or above.
func FilterByLevel(minLevel string) EventFilter {
	floor := levelRank[minLevel]
	return func(event Event) bool {
		return levelRank[event.Level] >= floor
	}
}

// FilterByType accepts events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(event Event) bool {
		_, ok := set[event.Type]
		return ok
	}
}

// FilterByEvaluatorID accepts events of one evaluator.
func FilterByEvaluatorID(evaluatorID string) EventFilter {
	return func(event Event) bool {
		return event.EvaluatorID == evaluatorID
	}
}
