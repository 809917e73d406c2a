package notify

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one WebSocket subscriber. A client with an OrderID receives
// only notifications for that order; an empty OrderID receives everything.
type Client struct {
	Conn    *websocket.Conn
	OrderID string
}

// Hub fans payment notifications out to WebSocket subscribers.
type Hub struct {
	clients    map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	Notify     chan Notification
	mu         sync.Mutex
}

// NewHub constructs a Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Notify:     make(chan Notification),
	}
}

// Run processes register/unregister/notify events until the channels close.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
		case client := <-h.Unregister:
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			client.Conn.Close()
		case n := <-h.Notify:
			h.deliver(n)
		}
	}
}

func (h *Hub) deliver(n Notification) {
	payload, err := n.marshal()
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if client.OrderID != "" && client.OrderID != n.OrderID {
			continue
		}
		if err := client.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			client.Conn.Close()
			delete(h.clients, client)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
