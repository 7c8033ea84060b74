package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/duel-matchmaker/internal/domain"
)

// Message types
const (
	MessageTypeNotify       = "notify"
	MessageTypePurge        = "purge"
	MessageTypeReadiness    = "readiness"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// historyLimit is the number of notices kept per topic for late subscribers
const historyLimit = 50

// ErrBroadcastFull is returned when the hub cannot accept another message
var ErrBroadcastFull = errors.New("broadcast channel full")

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Notice is the payload of a notify message
type Notice struct {
	Text string `json:"text"`
}

// Purge tells clients to drop the notices of a topic sent after Since
type Purge struct {
	Since time.Time `json:"since"`
}

// ReadinessUpdate is the payload of a readiness message
type ReadinessUpdate struct {
	Team  domain.TeamKey   `json:"team"`
	State domain.Readiness `json:"state"`
}

// Hub fans engine notices out to subscribed clients. Topics are team
// channels, team keys and player channels.
type Hub struct {
	// Registered clients by topic
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	// Recent notices by topic
	history map[string][]*Message

	// Last readiness state by team
	indicators map[domain.TeamKey]domain.Readiness

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu     sync.RWMutex
	logger *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client *Client
	topic  string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		history:     make(map[string][]*Message),
		indicators:  make(map[domain.TeamKey]domain.Readiness),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for topic, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, topic)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			// A client may disconnect before its subscription is handled
			if !h.allClients[req.client] {
				h.mu.Unlock()
				h.logger.Debug("dropping subscription of closed client", "client_id", req.client.id, "topic", req.topic)
				continue
			}
			if _, ok := h.clients[req.topic]; !ok {
				h.clients[req.topic] = make(map[*Client]bool)
			}
			h.clients[req.topic][req.client] = true
			h.replay(req.client, req.topic)
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "topic", req.topic)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.topic]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.topic)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "topic", req.topic)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// replay sends the stored notices and the readiness state of a topic to a
// new subscriber. Callers hold the lock.
func (h *Hub) replay(client *Client, topic string) {
	for _, message := range h.history[topic] {
		client.deliver(message)
	}
	if state, ok := h.indicators[domain.TeamKey(topic)]; ok {
		client.deliver(&Message{
			Type:      MessageTypeReadiness,
			Topic:     topic,
			Data:      ReadinessUpdate{Team: domain.TeamKey(topic), State: state},
			Timestamp: time.Now(),
		})
	}
}

// broadcastMessage records the message and sends it to the topic's subscribers
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch message.Type {
	case MessageTypeNotify:
		kept := append(h.history[message.Topic], message)
		if len(kept) > historyLimit {
			kept = kept[len(kept)-historyLimit:]
		}
		h.history[message.Topic] = kept
	case MessageTypePurge:
		since := message.Data.(Purge).Since
		kept := h.history[message.Topic][:0]
		for _, m := range h.history[message.Topic] {
			if !m.Timestamp.After(since) {
				kept = append(kept, m)
			}
		}
		h.history[message.Topic] = kept
	case MessageTypeReadiness:
		update := message.Data.(ReadinessUpdate)
		h.indicators[update.Team] = update.State
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range h.clients[message.Topic] {
		select {
		case client.send <- data:
		default:
			// Client's buffer is full, skip
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) error {
	select {
	case h.broadcast <- message:
		return nil
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type, "topic", message.Topic)
		return ErrBroadcastFull
	}
}

// Notify posts a text notice to a channel
func (h *Hub) Notify(ctx context.Context, channel, text string) error {
	return h.enqueue(&Message{
		Type:      MessageTypeNotify,
		Topic:     channel,
		Data:      Notice{Text: text},
		Timestamp: time.Now(),
	})
}

// PurgeAfter removes the notices a channel received after since
func (h *Hub) PurgeAfter(ctx context.Context, channel string, since time.Time) error {
	return h.enqueue(&Message{
		Type:      MessageTypePurge,
		Topic:     channel,
		Data:      Purge{Since: since},
		Timestamp: time.Now(),
	})
}

// SetReadinessIndicator publishes a team's readiness on the topic named by its key
func (h *Hub) SetReadinessIndicator(ctx context.Context, key domain.TeamKey, state domain.Readiness) error {
	return h.enqueue(&Message{
		Type:      MessageTypeReadiness,
		Topic:     string(key),
		Data:      ReadinessUpdate{Team: key, State: state},
		Timestamp: time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a topic
func (h *Hub) Subscribe(client *Client, topic string) {
	h.subscribe <- &subscriptionRequest{client: client, topic: topic}
}

// Unsubscribe removes a client from a topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.unsubscribe <- &subscriptionRequest{client: client, topic: topic}
}

// History returns the notices currently kept for a topic
func (h *Hub) History(topic string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	texts := make([]string, 0, len(h.history[topic]))
	for _, m := range h.history[topic] {
		texts = append(texts, m.Data.(Notice).Text)
	}
	return texts
}

// Indicator returns the last readiness state published for a team
func (h *Hub) Indicator(key domain.TeamKey) (domain.Readiness, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	state, ok := h.indicators[key]
	return state, ok
}

// GetSubscriberCount returns the number of subscribers for a topic
func (h *Hub) GetSubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}
