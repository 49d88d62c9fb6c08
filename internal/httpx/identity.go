package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/bean-collective/internal/orders"
)

// HeaderUserID is set by the session gateway in front of this service once it
// has authenticated the member.
const HeaderUserID = "X-User-Id"

type userKey struct{}

func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(HeaderUserID)); id != "" {
			r = r.WithContext(context.WithValue(r.Context(), userKey{}, id))
		}
		next.ServeHTTP(w, r)
	})
}

// UserID returns the authenticated member, or Unauthorized.
func UserID(ctx context.Context) (string, error) {
	id, _ := ctx.Value(userKey{}).(string)
	if id == "" {
		return "", orders.Unauthorizedf("Unauthorized")
	}
	return id, nil
}
