package pagechannel

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrClientGone = errors.New("client gone")
var ErrClientBusy = errors.New("client outbox full")

const outboxSize = 16

// Client is one connected page.
type Client struct {
	ID string

	mutex      sync.Mutex
	controlled bool
	closed     bool
	outbox     chan Message
}

// Messages returns the channel of messages to deliver to the page.
// It is closed when the client is unregistered.
func (c *Client) Messages() <-chan Message {
	return c.outbox
}

// Controlled reports whether the worker governs this page.
func (c *Client) Controlled() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.controlled
}

// Post queues a message for the page without blocking.
func (c *Client) Post(msg Message) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return ErrClientGone
	}
	msg.Version = SchemaVersion
	select {
	case c.outbox <- msg:
		return nil
	default:
		return ErrClientBusy
	}
}

func (c *Client) close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.closed {
		c.closed = true
		close(c.outbox)
	}
}

// Hub is the registry of connected pages.
type Hub struct {
	mutex   sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Register adds a page. Pages loaded while the worker is active are
// controlled from the start, others only after Claim.
func (h *Hub) Register(controlled bool) *Client {
	c := &Client{
		ID:         uuid.NewString(),
		controlled: controlled,
		outbox:     make(chan Message, outboxSize),
	}
	h.mutex.Lock()
	h.clients[c.ID] = c
	h.mutex.Unlock()
	log.Trace().Str("client", c.ID).Bool("controlled", controlled).Msg("Page connected")
	return c
}

func (h *Hub) Unregister(id string) {
	h.mutex.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mutex.Unlock()
	if ok {
		c.close()
		log.Trace().Str("client", id).Msg("Page disconnected")
	}
}

// Get returns the client with the given id, if connected.
func (h *Hub) Get(id string) (*Client, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// Claim makes the worker the controller of every connected page.
// It returns the number of newly claimed pages.
func (h *Hub) Claim() int {
	claimed := 0
	for _, c := range h.snapshot() {
		c.mutex.Lock()
		if !c.controlled {
			c.controlled = true
			claimed++
		}
		c.mutex.Unlock()
	}
	return claimed
}

// Broadcast posts the message to controlled pages, or to all pages when
// includeUncontrolled is set. It returns the number of pages reached.
func (h *Hub) Broadcast(msg Message, includeUncontrolled bool) int {
	sent := 0
	for _, c := range h.snapshot() {
		if !includeUncontrolled && !c.Controlled() {
			continue
		}
		if err := c.Post(msg); err != nil {
			log.Warn().Err(err).Str("client", c.ID).Msg("Could not post message to page")
			continue
		}
		sent++
	}
	return sent
}

// Len returns the number of connected pages.
func (h *Hub) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}
