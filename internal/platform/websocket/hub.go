// Package websocket pushes live updates to mobile clients. A client
// subscribes to topics ("chat:{id}", "user:{id}", "auth"); each topic is
// backed by a Source that opens a live feed and returns an unsubscribe
// handle. The hub holds those handles and releases them on unsubscribe or
// disconnect.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrUnknownTopic = errors.New("unknown topic")
	ErrForbidden    = errors.New("not allowed to subscribe to topic")
)

// Event is a frame pushed to a client.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound frame from a client. After is the last
// sequence number the client already holds; sequenced topics resume past it.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
	After  int64    `json:"after,omitempty"`
}

// Request is one subscription asked for by a client.
type Request struct {
	UserID string
	Topic  string
	After  int64
}

// Source opens a live feed for one topic. deliver may be called from any
// goroutine until the returned unsubscribe is called, and must not be
// called by unsubscribe itself.
type Source interface {
	Open(ctx context.Context, req Request, deliver func(Event)) (unsubscribe func(), err error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, req Request, deliver func(Event)) (func(), error)

func (f SourceFunc) Open(ctx context.Context, req Request, deliver func(Event)) (func(), error) {
	return f(ctx, req, deliver)
}

// Client is one WebSocket connection. SessionID is the id of the session
// token the connection was opened with.
type Client struct {
	ID        string
	UserID    string
	SessionID string
	Send      chan []byte

	mu         sync.Mutex
	subs       map[string]func() // topic -> unsubscribe
	closed     bool
	overflowed bool
}

func NewClient(id, userID string, buffer int) *Client {
	return &Client{
		ID:     id,
		UserID: userID,
		Send:   make(chan []byte, buffer),
		subs:   make(map[string]func()),
	}
}

// Topics returns the client's active topics.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	return out
}

// Overflowed reports whether the client fell behind and was cut off.
func (c *Client) Overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflowed
}

type enqueueResult int

const (
	enqueued enqueueResult = iota
	gone
	overflow
)

// enqueue queues data without blocking. The first frame that finds the
// buffer full marks the client overflowed; nothing is queued after that, so
// a client never sees a gap followed by later frames.
func (c *Client) enqueue(data []byte) enqueueResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.overflowed {
		return gone
	}
	select {
	case c.Send <- data:
		return enqueued
	default:
		c.overflowed = true
		return overflow
	}
}

// Hub tracks connected clients and routes topic prefixes to sources.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	sources map[string]Source // topic prefix -> source
	clients map[*Client]struct{}
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "websocket").Logger(),
		sources: make(map[string]Source),
		clients: make(map[*Client]struct{}),
	}
}

// Handle routes topics named prefix or starting with "prefix:" to src.
func (h *Hub) Handle(prefix string, src Source) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sources[prefix] = src
}

func (h *Hub) source(topic string) (Source, bool) {
	prefix, _, _ := strings.Cut(topic, ":")
	h.mu.RLock()
	defer h.mu.RUnlock()
	src, ok := h.sources[prefix]
	return src, ok
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
}

// Unregister releases every subscription of client and closes its Send
// channel. Calling it twice is harmless.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	h.mu.Unlock()

	client.mu.Lock()
	subs := client.subs
	client.subs = make(map[string]func())
	client.closed = true
	close(client.Send)
	client.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
}

// Subscribe opens a feed for each topic not already active. Failures are
// reported to the client as "error" frames.
func (h *Hub) Subscribe(ctx context.Context, client *Client, topics []string) {
	h.subscribe(ctx, client, topics, 0)
}

func (h *Hub) subscribe(ctx context.Context, client *Client, topics []string, after int64) {
	for _, topic := range topics {
		client.mu.Lock()
		_, active := client.subs[topic]
		closed := client.closed
		client.mu.Unlock()
		if active || closed {
			continue
		}

		src, ok := h.source(topic)
		if !ok {
			h.sendError(client, topic, ErrUnknownTopic)
			continue
		}

		req := Request{UserID: client.UserID, Topic: topic, After: after}
		unsub, err := src.Open(ctx, req, func(e Event) {
			h.deliver(client, e)
		})
		if err != nil {
			h.sendError(client, topic, err)
			continue
		}

		client.mu.Lock()
		if client.closed {
			client.mu.Unlock()
			unsub()
			continue
		}
		if prev, dup := client.subs[topic]; dup {
			prev()
		}
		client.subs[topic] = unsub
		client.mu.Unlock()

		h.deliver(client, Event{Type: "subscribed", Topic: topic, Timestamp: time.Now().UTC()})
	}
}

// Unsubscribe releases the given topics.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	for _, topic := range topics {
		client.mu.Lock()
		unsub, ok := client.subs[topic]
		delete(client.subs, topic)
		client.mu.Unlock()
		if ok {
			unsub()
		}
	}
}

// ProcessMessage dispatches an inbound ClientMessage.
func (h *Hub) ProcessMessage(ctx context.Context, client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.subscribe(ctx, client, msg.Topics, msg.After)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	default:
		h.sendError(client, "", errors.New("unknown action "+msg.Action))
	}
}

func (h *Hub) deliver(client *Client, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", e.Topic).Msg("marshal event")
		return
	}
	if client.enqueue(data) == overflow {
		h.logger.Warn().Str("client_id", client.ID).Str("user_id", client.UserID).Str("topic", e.Topic).
			Msg("send buffer full, disconnecting client")
		// deliver may run on a source goroutine that Unregister waits for.
		go h.Unregister(client)
	}
}


func (h *Hub) sendError(client *Client, topic string, err error) {
	data, _ := json.Marshal(map[string]string{"message": err.Error()})
	h.deliver(client, Event{Type: "error", Topic: topic, Timestamp: time.Now().UTC(), Data: data})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TopicCount returns how many connected clients hold topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range clients {
		c.mu.Lock()
		if _, ok := c.subs[topic]; ok {
			n++
		}
		c.mu.Unlock()
	}
	return n
}
