package kiss

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Observer defines the interface for objects that want to be notified of
// container events. Events use the CloudEvents specification.
type Observer interface {
	// OnEvent is called synchronously, in registration order, on the
	// goroutine that caused the event.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier for this observer.
	ObserverID() string
}

// ObserverInfo provides information about a registered observer.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Event types emitted by the container, in reverse domain notation.
const (
	EventTypeModuleLoaded    = "com.kiss.module.loaded"
	EventTypeModuleUnloaded  = "com.kiss.module.unloaded"
	EventTypeClassEnhanced   = "com.kiss.class.enhanced"
	EventTypeContainerClosed = "com.kiss.container.closed"
)

// FunctionalObserver provides a simple way to create observers using functions.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer that calls handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

func (f *FunctionalObserver) ObserverID() string { return f.id }

// NewCloudEvent creates a CloudEvent with a UUIDv7 id and JSON data.
func NewCloudEvent(eventType, source string, data any, metadata map[string]any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range metadata {
		event.SetExtension(key, value)
	}
	return event
}

func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

type observerRegistration struct {
	observer     Observer
	eventTypes   []string
	registeredAt time.Time
}

func (r *observerRegistration) wants(eventType string) bool {
	return len(r.eventTypes) == 0 || slices.Contains(r.eventTypes, eventType)
}

// subject keeps observers in registration order.
type subject struct {
	mu        sync.RWMutex
	observers []*observerRegistration
	logger    Logger
}

// RegisterObserver adds an observer. With no event types it receives every
// event. Registering an id again replaces the earlier registration.
func (c *Container) RegisterObserver(observer Observer, eventTypes ...string) error {
	s := &c.subject
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = slices.DeleteFunc(s.observers, func(r *observerRegistration) bool {
		return r.observer.ObserverID() == observer.ObserverID()
	})
	s.observers = append(s.observers, &observerRegistration{
		observer:     observer,
		eventTypes:   slices.Clone(eventTypes),
		registeredAt: time.Now(),
	})
	s.logger.Debug("observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver removes an observer. Unknown observers are ignored.
func (c *Container) UnregisterObserver(observer Observer) error {
	s := &c.subject
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = slices.DeleteFunc(s.observers, func(r *observerRegistration) bool {
		return r.observer.ObserverID() == observer.ObserverID()
	})
	return nil
}

// GetObservers describes the registered observers.
func (c *Container) GetObservers() []ObserverInfo {
	s := &c.subject
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := make([]ObserverInfo, 0, len(s.observers))
	for _, r := range s.observers {
		info = append(info, ObserverInfo{ID: r.observer.ObserverID(), EventTypes: slices.Clone(r.eventTypes), RegisteredAt: r.registeredAt})
	}
	return info
}

// NotifyObservers validates the event and delivers it to every interested
// observer. Observer errors are logged, never returned.
func (c *Container) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	s := &c.subject
	s.mu.RLock()
	observers := slices.Clone(s.observers)
	s.mu.RUnlock()
	for _, r := range observers {
		if !r.wants(event.Type()) {
			continue
		}
		if err := r.observer.OnEvent(ctx, event); err != nil {
			s.logger.Error("observer error", "observerID", r.observer.ObserverID(), "event", event.Type(), "error", err)
		}
	}
	return nil
}

func (c *Container) emit(ctx context.Context, eventType string, data map[string]any) {
	if err := c.NotifyObservers(ctx, NewCloudEvent(eventType, "kiss", data, nil)); err != nil {
		c.logger.Error("failed to notify observers", "event", eventType, "error", err)
	}
}
