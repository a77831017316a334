package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/campusbridge/campusbridge/internal/logger"
)

const broadcastBuffer = 64

// Hub maintains the set of connected feed clients and fans events out to them.
type Hub struct {
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	// done is closed when Run returns so pumps never block on a stopped hub.
	done chan struct{}

	observe func(active int)
	log     *logger.Logger
	mu      sync.RWMutex
}

// NewHub creates a hub. observe, if non-nil, is called with the number of
// connected clients after every change.
func NewHub(observe func(active int)) *Hub {
	if observe == nil {
		observe = func(int) {}
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
		observe:    observe,
		log:        logger.Default().WithComponent("websocket"),
	}
}

// Run is the hub's main loop. It disconnects every client and returns when
// ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.observe(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.observe(n)
			h.log.Debug(ctx, "feed client connected", map[string]interface{}{
				"user_id": client.userID.String(),
				"clients": n,
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.observe(n)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer; drop it rather than stall the feed.
					delete(h.clients, client)
					close(client.send)
					h.log.Warn(context.Background(), "dropping slow feed client", map[string]interface{}{
						"user_id": client.userID.String(),
					})
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.observe(n)
		}
	}
}

// Publish encodes event as JSON and queues it for every connected client.
// Events are dropped when the hub is stopped or its queue is full.
func (h *Hub) Publish(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error(context.Background(), "failed to encode feed event", err)
		return
	}

	select {
	case h.broadcast <- payload:
	case <-h.done:
	default:
		h.log.Warn(context.Background(), "feed queue full, dropping event")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
