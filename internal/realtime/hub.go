package realtime

import (
	"context"
	"encoding/json"

	"stream-resolver-service/internal/mirror"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Hub owns the connected websocket clients and fans every message out to all
// of them. A client that cannot keep up is dropped.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

// Publish queues a message for every client; it never blocks.
func (h *Hub) Publish(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	default:
		log.Debug("realtime: broadcast queue full, message dropped")
	}
}

// Observe makes the hub a mirror.Observer for single-instance deployments.
func (h *Hub) Observe(o mirror.Outcome) {
	data, err := json.Marshal(map[string]any{
		"type":    "mirror.outcome",
		"payload": o,
	})
	if err != nil {
		return
	}
	h.Publish(data)
}

// RunRedisSubscriber relays a pub/sub channel into the hub so clients see the
// outcomes of every instance sharing that Redis.
func (h *Hub) RunRedisSubscriber(ctx context.Context, rdb *redis.Client, channel string) {
	sub := rdb.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Publish([]byte(msg.Payload))
		}
	}
}
