// Package realtime fans reconciliation outcomes out to connected clients.
//
// A single goroutine (Hub.Run) owns the subscriber set. Every other goroutine
// talks to it over channels, so there is no shared mutable registry.
// Delivery is best-effort: a slow subscriber loses messages rather than
// stalling the publisher.
package realtime

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"
)

const (
	EventConnected             = "connected"
	EventContributionSucceeded = "contribution.succeeded"
	EventContributionRefunded  = "contribution.refunded"

	clientBuffer  = 16
	publishBuffer = 256
)

var (
	ErrHubBusy    = errors.New("realtime hub queue is full")
	ErrHubStopped = errors.New("realtime hub is not running")
)

// Message is one named event. A non-zero UserID targets a single user;
// otherwise the message is a broadcast.
type Message struct {
	Name      string      `json:"event"`
	UserID    uint        `json:"-"`
	ProjectID uint        `json:"project_id,omitempty"`
	OwnerID   uint        `json:"-"`
	Data      interface{} `json:"data"`
}

func (m Message) Broadcast() bool {
	return m.UserID == 0
}

// Client is one live stream. Receive from C until it is closed.
type Client struct {
	ID         string
	UserID     uint
	OwnerScope bool

	C    <-chan Message
	send chan Message
}

// wants decides whether the client should see m.
func (c *Client) wants(m Message) bool {
	if !m.Broadcast() {
		return m.UserID == c.UserID
	}

	if c.OwnerScope {
		return m.OwnerID == c.UserID
	}

	return true
}

type Hub struct {
	register   chan *Client
	unregister chan *Client
	publish    chan Message
	stats      chan chan int
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan Message, publishBuffer),
		stats:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[*Client]struct{})

	defer func() {
		for c := range clients {
			close(c.send)
		}
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			clients[c] = struct{}{}
		case c := <-h.unregister:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.send)
			}
		case m := <-h.publish:
			for c := range clients {
				if !c.wants(m) {
					continue
				}
				select {
				case c.send <- m:
				default:
					log.Printf("realtime: dropping %s for client %s, buffer full", m.Name, c.ID)
				}
			}
		case reply := <-h.stats:
			reply <- len(clients)
		}
	}
}

// Subscribe registers a new client for userID.
func (h *Hub) Subscribe(userID uint, ownerScope bool) (*Client, error) {
	send := make(chan Message, clientBuffer)
	c := &Client{
		ID:         uuid.NewString(),
		UserID:     userID,
		OwnerScope: ownerScope,
		C:          send,
		send:       send,
	}

	select {
	case h.register <- c:
		return c, nil
	case <-h.done:
		return nil, ErrHubStopped
	}
}

// Unsubscribe removes c and closes its channel. It is safe to call after the
// hub has stopped.
func (h *Hub) Unsubscribe(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish queues m without blocking.
func (h *Hub) Publish(m Message) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	select {
	case h.publish <- m:
		return nil
	default:
		return ErrHubBusy
	}
}

// ClientCount reports the number of live subscribers.
func (h *Hub) ClientCount() int {
	reply := make(chan int, 1)

	select {
	case h.stats <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}
