// Package live pushes running order totals to websocket subscribers.
package live

import (
	"context"
	"log/slog"
	"sync"
)

type message struct {
	orderID string
	payload []byte
}

type direct struct {
	c       *client
	payload []byte
}

// Hub fans messages out to the clients watching an order. Only Run touches a
// client's send channel after registration.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan message
	unicast    chan direct
	done       chan struct{}

	mu   sync.RWMutex
	subs map[string]map[*client]struct{}
	log  *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan message, 256),
		unicast:    make(chan direct),
		done:       make(chan struct{}),
		subs:       make(map[string]map[*client]struct{}),
		log:        log,
	}
}

// Run serves register, unregister and broadcast until ctx is done, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			set, ok := h.subs[c.orderID]
			if !ok {
				set = make(map[*client]struct{})
				h.subs[c.orderID] = set
			}
			set[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.drop(c)
		case m := <-h.broadcast:
			h.fanOut(m)
		case d := <-h.unicast:
			h.deliver(d)
		case <-ctx.Done():
			h.mu.Lock()
			for _, set := range h.subs {
				for c := range set {
					close(c.send)
				}
			}
			h.subs = make(map[string]map[*client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// Broadcast queues payload for every client watching orderID.
func (h *Hub) Broadcast(orderID string, payload []byte) {
	select {
	case h.broadcast <- message{orderID: orderID, payload: payload}:
	case <-h.done:
	}
}

// sendTo queues payload for one registered client.
func (h *Hub) sendTo(c *client, payload []byte) bool {
	select {
	case h.unicast <- direct{c: c, payload: payload}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Subscribers returns how many clients currently watch orderID.
func (h *Hub) Subscribers(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[orderID])
}

func (h *Hub) fanOut(m message) {
	h.mu.RLock()
	var slow []*client
	for c := range h.subs[m.orderID] {
		select {
		case c.send <- m.payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range slow {
		h.log.Warn("dropping slow live client", slog.String("order_id", m.orderID))
		h.drop(c)
	}
}

func (h *Hub) deliver(d direct) {
	h.mu.RLock()
	_, ok := h.subs[d.c.orderID][d.c]
	h.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case d.c.send <- d.payload:
	default:
		h.log.Warn("dropping slow live client", slog.String("order_id", d.c.orderID))
		h.drop(d.c)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[c.orderID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.subs, c.orderID)
	}
	close(c.send)
}
