package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Hub fans published events out to connected feed clients. It implements
// events.Publisher so it can sit next to NATS in an events.Multi.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	now        func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run serves registrations and broadcasts until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

// join registers client; it reports false once the hub has stopped
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) fanOut(event Event) {
	message, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !event.visibleTo(client.source) {
			continue
		}
		select {
		case client.send <- message:
		default:
			// Slow consumer; drop it rather than stall the feed.
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// Publish queues event for the feed. A full queue drops the event.
func (h *Hub) Publish(_ context.Context, topic string, event any) error {
	msg := Event{
		Topic:     topic,
		Source:    sourceOf(event),
		Data:      event,
		Timestamp: h.now(),
	}

	select {
	case h.broadcast <- msg:
	default:
	}
	return nil
}

// Close is a no-op; the hub stops with the context passed to Run.
func (h *Hub) Close() error {
	return nil
}

// ConnectedClients returns the number of live feed clients
func (h *Hub) ConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
