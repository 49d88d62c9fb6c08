package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/bean-collective/internal/orders"
	"github.com/go-chi/chi/v5"
)

type BeansHandler struct {
	Service *orders.Service
	Log     *slog.Logger
}

func (h *BeansHandler) Register(r chi.Router) {
	r.Get("/beans", h.listBeans)
	r.Get("/beans/{id}", h.getBean)
}

func (h *BeansHandler) log() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func (h *BeansHandler) listBeans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.BeanFilter{
		Origin:     q.Get("origin"),
		RoastLevel: q.Get("roastLevel"),
		Sort:       orders.BeanSort(q.Get("sort")),
	}
	switch q.Get("available") {
	case "true":
		v := true
		f.Available = &v
	case "false":
		v := false
		f.Available = &v
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	beans, err := h.Service.ListBeans(ctx, f)
	if err != nil {
		writeError(w, r, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, beans)
}

func (h *BeansHandler) getBean(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	b, err := h.Service.GetBean(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
