package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/careline/careline-api/internal/model"
)

const redisChannel = "careline:events"

// Hub manages dashboard WebSocket connections and fans call/pairing
// events out to the members of a household. Redis Pub/Sub carries
// events across instances so any node can deliver to its local clients.
type Hub struct {
	// Map of householdID -> set of client connections (several family
	// members, several tabs each)
	clients map[uuid.UUID]map[*Client]bool
	mu      sync.RWMutex

	// Channels for registering/unregistering clients
	register   chan *Client
	unregister chan *Client

	// Redis client for Pub/Sub (horizontal scaling)
	rdb *redis.Client
}

// NewHub creates a new WebSocket Hub
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		rdb:        rdb,
	}
}

// Run starts the Hub's main event loop
func (h *Hub) Run(ctx context.Context) {
	// Start Redis subscriber in a goroutine
	go h.subscribeRedis(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Register queues a client for registration with the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// addClient registers a new client connection
func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.HouseholdID]; !ok {
		h.clients[client.HouseholdID] = make(map[*Client]bool)
	}
	h.clients[client.HouseholdID][client] = true
	log.Printf("✅ Dashboard connected: household=%s (connections: %d)", client.HouseholdID, len(h.clients[client.HouseholdID]))
}

// removeClient unregisters a client connection
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.HouseholdID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			close(client.send)
			if len(clients) == 0 {
				delete(h.clients, client.HouseholdID)
			}
		}
	}
	log.Printf("❌ Dashboard disconnected: household=%s", client.HouseholdID)
}

// PublishToHousehold sends an event to every dashboard of a household,
// on any instance
func (h *Hub) PublishToHousehold(householdID uuid.UUID, event *model.WSEvent) {
	h.publishToRedis(&householdEvent{
		HouseholdID: householdID,
		Event:       event,
	})
}

// sendToLocalHousehold delivers an event to this instance's clients
func (h *Hub) sendToLocalHousehold(householdID uuid.UUID, event *model.WSEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.clients[householdID]
	if !ok {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}
	for client := range clients {
		select {
		case client.send <- data:
		default:
			// Client's send buffer is full, close connection
			close(client.send)
			delete(clients, client)
		}
	}
}

// householdEvent wraps an event with its target household for Redis
type householdEvent struct {
	HouseholdID uuid.UUID      `json:"household_id"`
	Event       *model.WSEvent `json:"event"`
}

// publishToRedis publishes an event to Redis for cross-instance delivery
func (h *Hub) publishToRedis(data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("Error marshaling for Redis: %v", err)
		return
	}

	if err := h.rdb.Publish(context.Background(), redisChannel, jsonData).Err(); err != nil {
		log.Printf("Error publishing to Redis: %v", err)
	}
}

// subscribeRedis subscribes to Redis and delivers events to local clients
func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	log.Println("📡 Redis Pub/Sub subscriber started")

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			var targeted householdEvent
			if err := json.Unmarshal([]byte(msg.Payload), &targeted); err != nil {
				log.Printf("Error unmarshaling Redis message: %v", err)
				continue
			}
			if targeted.HouseholdID != uuid.Nil && targeted.Event != nil {
				h.sendToLocalHousehold(targeted.HouseholdID, targeted.Event)
			}
		}
	}
}
