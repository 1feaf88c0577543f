package ws

import (
	"context"
	"sync"
)

// AllInstances is the topic of subscribers that follow every instance.
const AllInstances = "*"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans deployment event notifications out to subscribers by instance id.
type Hub struct {
	mu        sync.Mutex
	clients   map[string]map[Subscriber]struct{}
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	stopOnce  sync.Once
}

type message struct {
	instanceID string
	payload    []byte
}

type subscription struct {
	instanceID string
	client     Subscriber
}

// DefaultBuffer is the number of broadcasts queued ahead of delivery.
const DefaultBuffer = 64

// NewHub creates a Hub with the default buffer. Call Run to start delivering messages.
func NewHub() *Hub {
	return NewHubWithBuffer(DefaultBuffer)
}

// NewHubWithBuffer creates a Hub queueing up to buffer broadcasts.
func NewHubWithBuffer(buffer int) *Hub {
	if buffer < 0 {
		buffer = 0
	}
	return &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, buffer),
		done:      make(chan struct{}),
	}
}

// Run delivers messages until ctx is cancelled, then closes every subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for topic, clients := range h.clients {
				for c := range clients {
					c.Close()
				}
				delete(h.clients, topic)
			}
			h.mu.Unlock()
			return
		case sub := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[sub.instanceID]; !ok {
				h.clients[sub.instanceID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.instanceID][sub.client] = struct{}{}
			h.mu.Unlock()
		case sub := <-h.unreg:
			h.mu.Lock()
			h.remove(sub.instanceID, sub.client)
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			h.deliver(msg.instanceID, msg.payload)
			if msg.instanceID != AllInstances {
				h.deliver(AllInstances, msg.payload)
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) deliver(topic string, payload []byte) {
	for c := range h.clients[topic] {
		if err := c.Send(payload); err != nil {
			c.Close()
			h.remove(topic, c)
		}
	}
}

func (h *Hub) remove(topic string, client Subscriber) {
	clients, ok := h.clients[topic]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, topic)
	}
}

// Register adds a client to an instance stream.
func (h *Hub) Register(instanceID string, client Subscriber) {
	select {
	case h.register <- subscription{instanceID: instanceID, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(instanceID string, client Subscriber) {
	select {
	case h.unreg <- subscription{instanceID: instanceID, client: client}:
	case <-h.done:
	}
}

// Broadcast queues payload for the instance's subscribers and for
// subscribers of AllInstances.
func (h *Hub) Broadcast(instanceID string, payload []byte) {
	select {
	case h.broadcast <- message{instanceID: instanceID, payload: payload}:
	case <-h.done:
	}
}

// Subscribers reports how many clients follow an instance.
func (h *Hub) Subscribers(instanceID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[instanceID])
}
