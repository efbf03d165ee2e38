// Package broker fans safety events out to live per-project subscribers
// (SSE/WebSocket clients). Delivery is best-effort for the lifetime of a
// connection; there is no durable log and no replay for reconnecting clients.
package broker

import (
	"context"
	"sync"
	"time"

	"sitewatch.org/internal/ids"
	"sitewatch.org/internal/obs"
)

// EventType enumerates the events the stream carries.
type EventType string

const (
	EventNewNotice        EventType = "NEW_NOTICE"
	EventEmergencyAlert   EventType = "EMERGENCY_ALERT"
	EventDangerZoneChange EventType = "DANGER_ZONE_CHANGE"
	EventPushAlert        EventType = "PUSH_ALERT"
	EventHazardEntered    EventType = "HAZARD_ENTERED"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventNewNotice, EventEmergencyAlert, EventDangerZoneChange, EventPushAlert, EventHazardEntered:
		return true
	}
	return false
}

// Event is one message on a project's stream. TargetUserID narrows delivery
// to subscribers registered with that user id; empty means broadcast.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	ProjectID    string    `json:"project_id"`
	TargetUserID string    `json:"target_user_id,omitempty"`
	Payload      any       `json:"payload,omitempty"`
	Timestamp    time.Time `json:"ts"`
}

// NewEvent builds a broadcast event with a fresh id and timestamp.
func NewEvent(projectID string, typ EventType, payload any) Event {
	return Event{
		ID:        ids.New(),
		Type:      typ,
		ProjectID: projectID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// DefaultBufferSize is the per-subscriber delivery buffer length.
const DefaultBufferSize = 16

// Broker owns the subscriber registry. Construction and teardown are tied to
// process lifetime; there are no package-level registries.
type Broker struct {
	mu       sync.Mutex
	projects map[string]map[int]*subscriber
	next     int
	buffer   int
}

type subscriber struct {
	id        int
	projectID string
	userID    string

	// mu serializes sends against Close so a publisher can never hit a
	// closed channel; it is held only for non-blocking channel ops.
	mu     sync.Mutex
	closed bool
	ch     chan Event
}

// Subscription is a live registration. Close is idempotent and safe to call
// after the underlying connection has already dropped.
type Subscription struct {
	broker *Broker
	sub    *subscriber
	once   sync.Once
}

// Events returns the delivery channel. It is closed when the subscription
// ends.
func (s *Subscription) Events() <-chan Event { return s.sub.ch }

// Close removes the subscriber and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s.sub)
		s.sub.mu.Lock()
		s.sub.closed = true
		close(s.sub.ch)
		s.sub.mu.Unlock()
	})
}

// New creates a broker with the given per-subscriber buffer size.
func New(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Broker{
		projects: make(map[string]map[int]*subscriber),
		buffer:   buffer,
	}
}

// Subscribe registers a delivery channel for a project. userID may be empty
// for dashboard clients that only want broadcasts. The subscription is closed
// when ctx ends; a reconnecting client is a brand-new subscriber with no
// backlog.
func (b *Broker) Subscribe(ctx context.Context, projectID, userID string) *Subscription {
	sub := &subscriber{
		projectID: projectID,
		userID:    userID,
		ch:        make(chan Event, b.buffer),
	}

	b.mu.Lock()
	sub.id = b.next
	b.next++
	if b.projects[projectID] == nil {
		b.projects[projectID] = make(map[int]*subscriber)
	}
	b.projects[projectID][sub.id] = sub
	b.mu.Unlock()

	subscription := &Subscription{broker: b, sub: sub}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			subscription.Close()
		}()
	}
	return subscription
}

// Publish delivers the event to the project's current subscribers: every one
// for a broadcast, only matching user ids for a targeted event. Publishing to
// a project with no subscribers is a no-op. The registry lock is released
// before delivery, so a slow subscriber never stalls registration. Sequential
// publishes from one caller reach all subscribers in the same relative order.
func (b *Broker) Publish(projectID string, evt Event) {
	if evt.ID == "" {
		evt.ID = ids.New()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.ProjectID = projectID

	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.projects[projectID]))
	for _, sub := range b.projects[projectID] {
		if evt.TargetUserID != "" && sub.userID != evt.TargetUserID {
			continue
		}
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(evt)
	}
	obs.EventPublished(string(evt.Type))
}

// SubscriberCount reports the live subscribers for a project.
func (b *Broker) SubscriberCount(projectID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.projects[projectID])
}

func (b *Broker) remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.projects[sub.projectID]
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(b.projects, sub.projectID)
	}
}

// deliver enqueues without ever blocking the publisher. When the buffer is
// full the subscriber's own oldest buffered event is dropped to make room;
// other subscribers are unaffected.
func (s *subscriber) deliver(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- evt:
		return
	default:
	}
	select {
	case <-s.ch:
		obs.EventDropped()
		obs.LogEntry(map[string]any{
			"ts":         time.Now().UTC().Format(time.RFC3339Nano),
			"level":      "warn",
			"msg":        "subscriber buffer overflow",
			"project_id": s.projectID,
			"subscriber": s.id,
		})
	default:
	}
	select {
	case s.ch <- evt:
	default:
	}
}
