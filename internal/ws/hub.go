package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"estatehub/internal/service"
)

var (
	ErrUnknownHandle = errors.New("unknown connection handle")
	ErrHubClosed     = errors.New("hub is shutting down")
)

// Hub owns the live clients keyed by handle. Group membership lives in the
// registries; the hub only turns handles into sockets.
//
// Every registered client counts as a live session until it is unregistered,
// which the handler does only after its disconnect cleanup has finished.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	closed   bool
	sessions sync.WaitGroup
	log      *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		log:     log,
	}
}

var _ service.Transport = (*Hub)(nil)

// Register fails with ErrHubClosed once Close has started.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	if _, ok := h.clients[c.ID]; !ok {
		h.sessions.Add(1)
	}
	h.clients[c.ID] = c
	return nil
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.ID] == c {
		delete(h.clients, c.ID)
		h.sessions.Done()
	}
}

// Deliver encodes ev as an outbound frame and queues it on the client.
func (h *Hub) Deliver(handle string, ev service.Event) error {
	h.mu.RLock()
	c := h.clients[handle]
	h.mu.RUnlock()
	if c == nil {
		return ErrUnknownHandle
	}
	payload, err := json.Marshal(Frame{Type: ev.Type, Data: ev.Data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	return c.Send(payload)
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close terminates every client and waits until each session has
// unregistered, or until ctx is done.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
	h.log.Info("ws: closed clients", "count", len(clients))

	drained := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		h.mu.RLock()
		left := len(h.clients)
		h.mu.RUnlock()
		return fmt.Errorf("%d sessions still open: %w", left, ctx.Err())
	}
}
