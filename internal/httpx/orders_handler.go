package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ariefcatur/bean-collective/internal/orders"
	"github.com/ariefcatur/bean-collective/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type OrdersHandler struct {
	Service *orders.Service
	Redis   *redis.Client // optional order cache
	Timeout time.Duration
	Log     *slog.Logger
}

type CreateOrderReq struct {
	ProposalID       *int64           `json:"proposal_id"`
	CoffeeBeanID     string           `json:"coffee_bean_id"`
	TargetQuantityKg *decimal.Decimal `json:"target_quantity_kg"`
	MoqKg            *decimal.Decimal `json:"moq_kg"`
	BiddingDays      *int             `json:"bidding_days"`
}

type PlaceBidReq struct {
	OrderID    string           `json:"order_id"`
	MinKg      *decimal.Decimal `json:"min_kg"`
	MaxKg      *decimal.Decimal `json:"max_kg"`
	PricePerKg *decimal.Decimal `json:"price_per_kg"`
}

type UpdateBidReq struct {
	MinKg      *decimal.Decimal `json:"min_kg"`
	MaxKg      *decimal.Decimal `json:"max_kg"`
	PricePerKg *decimal.Decimal `json:"price_per_kg"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders", h.listOrders)
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/bids", h.listOrderBids)

	r.Post("/bids", h.placeBid)
	r.Get("/bids/mine", h.listMyBids)
	r.Put("/bids/{id}", h.updateBid)
	r.Delete("/bids/{id}", h.cancelBid)
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

func (h *OrdersHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func (h *OrdersHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.logger(), err)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.OrderFilter{Status: orders.Status(q.Get("status"))}
	if s := q.Get("proposalId"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			h.fail(w, r, orders.Validationf("proposalId must be an integer"))
			return
		}
		f.ProposalID = &id
	}

	ctx, cancel := h.ctx(r)
	defer cancel()
	list, err := h.Service.ListOrders(ctx, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	if _, err := UserID(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	var req CreateOrderReq
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.ProposalID == nil || req.CoffeeBeanID == "" || req.TargetQuantityKg == nil || req.MoqKg == nil {
		h.fail(w, r, orders.Validationf("proposal_id, coffee_bean_id, target_quantity_kg and moq_kg are required"))
		return
	}
	in := orders.CreateOrderInput{
		ProposalID:       *req.ProposalID,
		CoffeeBeanID:     req.CoffeeBeanID,
		TargetQuantityKg: *req.TargetQuantityKg,
		MoqKg:            *req.MoqKg,
	}
	if req.BiddingDays != nil {
		if *req.BiddingDays <= 0 {
			h.fail(w, r, orders.Validationf("bidding_days must be a positive integer"))
			return
		}
		in.BiddingDays = *req.BiddingDays
	}

	ctx, cancel := h.ctx(r)
	defer cancel()
	o, err := h.Service.CreateOrder(ctx, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// getOrder reads through the Redis cache. Entries are versioned, so a fill
// racing a committed bid cannot overwrite the fresher copy written by it.
func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := h.ctx(r)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderCache, id)
	if h.Redis != nil {
		var cached orders.Order
		found, err := redisx.GetVersioned(ctx, h.Redis, key, &cached)
		if err != nil {
			h.logger().WarnContext(ctx, "order cache read failed", slog.String("order_id", id), slog.Any("error", err))
		}
		if found {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	o, err := h.Service.GetOrder(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if h.Redis != nil {
		if _, err := redisx.SetIfNewer(ctx, h.Redis, key, o.Version, o, redisx.TTLOrderCache); err != nil {
			h.logger().WarnContext(ctx, "order cache write failed", slog.String("order_id", id), slog.Any("error", err))
		}
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listOrderBids(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()
	bids, err := h.Service.ListOrderBids(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

func (h *OrdersHandler) placeBid(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req PlaceBidReq
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.OrderID == "" || req.MinKg == nil || req.MaxKg == nil || req.PricePerKg == nil {
		h.fail(w, r, orders.Validationf("order_id, min_kg, max_kg and price_per_kg are required"))
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()
	res, err := h.Service.PlaceBid(ctx, userID, orders.PlaceBidInput{
		OrderID:    req.OrderID,
		MinKg:      *req.MinKg,
		MaxKg:      *req.MaxKg,
		PricePerKg: *req.PricePerKg,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *OrdersHandler) updateBid(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req UpdateBidReq
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()
	res, err := h.Service.UpdateBid(ctx, userID, chi.URLParam(r, "id"), orders.UpdateBidInput{
		MinKg:      req.MinKg,
		MaxKg:      req.MaxKg,
		PricePerKg: req.PricePerKg,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) cancelBid(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	res, err := h.Service.CancelBid(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) listMyBids(w http.ResponseWriter, r *http.Request) {
	userID, err := UserID(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()
	bids, err := h.Service.ListMyBids(ctx, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}
