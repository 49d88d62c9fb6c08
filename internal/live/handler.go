package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/bean-collective/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// EventSnapshot tags the first message a client receives.
const EventSnapshot = "snapshot"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler upgrades GET /orders/{id}/live. The client gets a snapshot of the
// current total and one message per committed change. Every message carries
// the order version; a client keeps the highest it has seen.
type Handler struct {
	Hub     *Hub
	Service *orders.Service
	Log     *slog.Logger
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/orders/{id}/live", h.serve)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	log := h.Log
	if log == nil {
		log = slog.Default()
	}
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	_, err := h.Service.GetOrder(ctx, id)
	cancel()
	if err != nil {
		if orders.IsKind(err, orders.KindNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		log.ErrorContext(r.Context(), "live lookup failed", slog.String("order_id", id), slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WarnContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		return
	}
	c := &client{orderID: id, conn: conn, send: make(chan []byte, 64)}
	if !h.Hub.add(c) {
		_ = conn.Close()
		return
	}

	// Read the snapshot only once registered, so no committed change falls
	// between the two.
	ctx, cancel = context.WithTimeout(r.Context(), 3*time.Second)
	o, err := h.Service.GetOrder(ctx, id)
	cancel()
	var snap []byte
	if err == nil {
		snap, err = json.Marshal(orders.NewTotalUpdate(EventSnapshot, o))
	}
	if err != nil {
		log.ErrorContext(r.Context(), "live snapshot failed", slog.String("order_id", id), slog.Any("error", err))
		h.Hub.remove(c)
		_ = conn.Close()
		return
	}
	h.Hub.sendTo(c, snap)
	go c.writePump()
	go c.readPump(h.Hub)
}
