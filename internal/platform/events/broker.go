// Package events is the in-process publish/subscribe bus used to notify
// subscribers that data changed. Topics are plain strings such as
// "chat:{chatID}", "user:{userID}" or "auth:{userID}".
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Event is a change notification. Data carries the changed record when the
// publisher has it at hand; subscribers that need consistency re-read the
// store.
type Event struct {
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler receives events. It runs on the publisher's goroutine and must not
// block.
type Handler func(Event)

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Subscriber interface {
	// Subscribe registers h for topic and returns a function that removes it.
	// The returned function is idempotent.
	Subscribe(topic string, h Handler) (unsubscribe func())
}

// Bus is both sides of the broker.
type Bus interface {
	Publisher
	Subscriber
}

// NewEvent builds an event, marshalling data when it is non-nil.
func NewEvent(topic, typ string, data interface{}) (Event, error) {
	e := Event{Topic: topic, Type: typ, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		e.Data = raw
	}
	return e, nil
}

// Broker is an in-memory Bus. All operations are safe for concurrent use.
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler // topic -> subscription id -> handler
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[uint64]Handler)}
}

func (b *Broker) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[topic]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(b.subs, topic)
				}
			}
		})
	}
}

// Publish delivers event to every handler subscribed to event.Topic.
// Handlers are invoked outside the lock so they may unsubscribe themselves.
func (b *Broker) Publish(_ context.Context, event Event) error {
	b.deliver(event)
	return nil
}

func (b *Broker) deliver(event Event) {
	b.mu.RLock()
	set := b.subs[event.Topic]
	handlers := make([]Handler, 0, len(set))
	for _, h := range set {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// SubscriberCount returns the number of handlers registered for topic.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
