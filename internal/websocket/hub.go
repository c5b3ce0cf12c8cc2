package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"research-chat-be/internal/pkg/logger"
	"research-chat-be/pkg/events"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const clusterChannel = "chat_cluster_events"

// Hub tracks websocket clients per user and fans out conversation events to them,
// across instances when redis is available.
type Hub struct {
	// UserID -> clients (one per tab or device)
	clients map[string][]*Client

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex

	rdb      *redis.Client
	instance string
	logger   logger.ILogger
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string][]*Client),
		rdb:        rdb,
		instance:   uuid.NewString(),
		logger:     log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	if h.rdb != nil {
		go h.subscribeToRedis(ctx)
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.UserID] = append(h.clients[client.UserID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{
				"user_id":           client.UserID,
				"client_session_id": client.SessionID,
			})

		case client := <-h.unregister:
			h.mu.Lock()
			clients := h.clients[client.UserID]
			for i, c := range clients {
				if c == client {
					h.clients[client.UserID] = append(clients[:i], clients[i+1:]...)
					break
				}
			}
			if len(h.clients[client.UserID]) == 0 {
				delete(h.clients, client.UserID)
			}
			h.mu.Unlock()
			h.logger.Info("Hub", "Client unregistered", map[string]interface{}{
				"user_id":           client.UserID,
				"client_session_id": client.SessionID,
			})

		case <-ctx.Done():
			return
		}
	}
}

// Publish forwards a chat event to the websockets of the user it concerns
func (h *Hub) Publish(ctx context.Context, event events.Event) error {
	userID, _ := event.Payload()["user_id"].(string)
	if userID == "" {
		return nil
	}

	data, err := json.Marshal(map[string]interface{}{
		"type": event.EventType(),
		"data": event.Payload(),
	})
	if err != nil {
		return err
	}

	h.deliver(userID, data)

	if h.rdb != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"origin":         h.instance,
			"target_user_id": userID,
			"message":        json.RawMessage(data),
		})
		return h.rdb.Publish(ctx, clusterChannel, payload).Err()
	}
	return nil
}

// deliver never blocks; a client with a full buffer misses the notification
func (h *Hub) deliver(userID string, data []byte) {
	h.mu.RLock()
	clients := append([]*Client(nil), h.clients[userID]...)
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.TrySend(data) {
			h.logger.Warn("Hub", "Client send buffer full, dropping message", map[string]interface{}{
				"user_id": userID,
			})
		}
	}
}

func (h *Hub) subscribeToRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, clusterChannel)
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var payload struct {
			Origin       string          `json:"origin"`
			TargetUserID string          `json:"target_user_id"`
			Message      json.RawMessage `json:"message"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			h.logger.Warn("Hub", "Redis message parse error", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		if payload.Origin == h.instance {
			continue
		}
		h.deliver(payload.TargetUserID, payload.Message)
	}
}

// Connected returns the number of clients for a user
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
