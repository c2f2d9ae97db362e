package relay

import (
	"sync"

	"github.com/carousell/ct-go/pkg/logger"
	"github.com/teamhubhq/chat-core/internal/feed"
	"github.com/teamhubhq/chat-core/internal/models"
)

const sendBuffer = 64

// Hub fans feed events out to connected push clients. Each topic a client
// asks for is backed by exactly one feed subscription, shared by every
// client on that topic.
type Hub struct {
	feed feed.Client
	log  *logger.Logger

	mu     sync.Mutex
	topics map[string]*topicRelay
}

type topicRelay struct {
	sub     *feed.Subscription
	clients map[*Client]struct{}
}

// Client is one connected push consumer. Events are delivered on Events;
// a client that cannot keep up is dropped rather than allowed to stall
// the fanout.
type Client struct {
	hub    *Hub
	userID string
	send   chan models.ChangeEvent

	mu     sync.Mutex
	topics map[string]struct{}
	closed bool
}

func NewHub(feedClient feed.Client) *Hub {
	return &Hub{
		feed:   feedClient,
		log:    logger.MustNamed("relay"),
		topics: make(map[string]*topicRelay),
	}
}

// Register creates a client for one connection. The caller must Drop it
// when the connection goes away.
func (h *Hub) Register(userID string) *Client {
	return &Client{
		hub:    h,
		userID: userID,
		send:   make(chan models.ChangeEvent, sendBuffer),
		topics: make(map[string]struct{}),
	}
}

func (h *Hub) Subscribe(c *Client, scope models.Scope) error {
	if scope.IsZero() {
		return models.ErrInvalidArgument
	}
	topic := scope.Key()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return models.ErrInvalidArgument
	}
	if _, ok := c.topics[topic]; ok {
		c.mu.Unlock()
		return nil
	}
	c.topics[topic] = struct{}{}
	c.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	relay, ok := h.topics[topic]
	if !ok {
		relay = &topicRelay{clients: make(map[*Client]struct{})}
		sub, err := h.feed.Subscribe(scope, func(ev models.ChangeEvent) {
			h.broadcast(topic, ev)
		})
		if err != nil {
			return err
		}
		relay.sub = sub
		h.topics[topic] = relay
	}
	relay.clients[c] = struct{}{}
	return nil
}

func (h *Hub) Unsubscribe(c *Client, scope models.Scope) {
	topic := scope.Key()

	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(c, topic)
}

// Drop disconnects the client: it is removed from every topic and its
// event channel is closed.
func (h *Hub) Drop(c *Client) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	c.topics = make(map[string]struct{})
	c.mu.Unlock()

	h.mu.Lock()
	for _, topic := range topics {
		h.detachLocked(c, topic)
	}
	h.mu.Unlock()

	close(c.send)
}

func (h *Hub) broadcast(topic string, ev models.ChangeEvent) {
	h.mu.Lock()
	relay, ok := h.topics[topic]
	if !ok {
		h.mu.Unlock()
		return
	}
	clients := make([]*Client, 0, len(relay.clients))
	for c := range relay.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	var slow []*Client
	for _, c := range clients {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			continue
		}
		select {
		case c.send <- ev:
			c.mu.Unlock()
		default:
			c.mu.Unlock()
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.log.Warnw("dropping slow push client", "user_id", c.userID, "topic", topic)
		h.Drop(c)
	}
}

// detachLocked removes the client from a topic and releases the topic's
// feed subscription once no client is left. Caller holds h.mu.
func (h *Hub) detachLocked(c *Client, topic string) {
	relay, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(relay.clients, c)
	if len(relay.clients) == 0 {
		h.feed.Unsubscribe(relay.sub)
		delete(h.topics, topic)
	}
}

// Events is the client's receive channel. It is closed when the client
// is dropped.
func (c *Client) Events() <-chan models.ChangeEvent {
	return c.send
}

func (c *Client) UserID() string {
	return c.userID
}

// Topics reports the scopes the client is currently subscribed to.
func (c *Client) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		out = append(out, topic)
	}
	return out
}
