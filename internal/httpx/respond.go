package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/bean-collective/internal/orders"
)

const maxBody = 1 << 20

type errorBody struct {
	Error string      `json:"error"`
	Kind  orders.Kind `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(k orders.Kind) int {
	switch k {
	case orders.KindValidation:
		return http.StatusBadRequest
	case orders.KindUnauthorized:
		return http.StatusUnauthorized
	case orders.KindNotFound:
		return http.StatusNotFound
	case orders.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError renders domain errors as-is; anything else is logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var e *orders.Error
	if errors.As(err, &e) {
		writeJSON(w, statusFor(e.Kind), errorBody{Error: e.Message, Kind: e.Kind})
		return
	}
	log.ErrorContext(r.Context(), "request failed",
		slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("error", err))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Something went wrong. Please try again."})
}

// decodeJSON reads exactly one JSON object and rejects unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return orders.Validationf("invalid json: %v", err)
	}
	if dec.More() {
		return orders.Validationf("invalid json: trailing data")
	}
	return nil
}
