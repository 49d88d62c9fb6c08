package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/bean-collective/internal/catalog"
	"github.com/ariefcatur/bean-collective/internal/orders"
	"github.com/ariefcatur/bean-collective/internal/redisx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	srv *httptest.Server
	svc *orders.Service
	mr  *miniredis.Miniredis

	mu  sync.Mutex
	now time.Time
}

func (f *apiFixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *apiFixture) setNow(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

func newAPI(t *testing.T) *apiFixture {
	return newAPIWithStore(t, orders.NewMemoryStore(catalog.Beans()...))
}

func newAPIWithStore(t *testing.T, store orders.Store) *apiFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	f := &apiFixture{mr: mr, now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	f.svc = &orders.Service{
		Store:    store,
		Notifier: &orders.EventPublisher{Redis: rdb},
		Now:      f.clock,
	}
	r := NewRouter(discardLogger())
	(&BeansHandler{Service: f.svc}).Register(r)
	(&OrdersHandler{Service: f.svc, Redis: rdb, Timeout: time.Second}).Register(r)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, user string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func (f *apiFixture) createOrder(t *testing.T, proposalID int64) orders.Order {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/orders", "gov", map[string]any{
		"proposal_id":        proposalID,
		"coffee_bean_id":     "kenyan-aa",
		"target_quantity_kg": "500",
		"moq_kg":             "200",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var o orders.Order
	require.NoError(t, json.Unmarshal(body, &o))
	return o
}

func decodeErr(t *testing.T, body []byte) errorBody {
	t.Helper()
	var e errorBody
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

func TestHealthz(t *testing.T) {
	f := newAPI(t)
	resp, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestBidLifecycleOverHTTP(t *testing.T) {
	f := newAPI(t)
	o := f.createOrder(t, 7)

	resp, body := f.do(t, http.MethodPost, "/bids", "alice", map[string]any{
		"order_id": o.ID, "min_kg": "50", "max_kg": "100", "price_per_kg": "22",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var placed orders.BidResult
	require.NoError(t, json.Unmarshal(body, &placed))
	assert.True(t, decimal.NewFromInt(100).Equal(placed.TotalBidKg))

	resp, body = f.do(t, http.MethodPost, "/bids", "alice", map[string]any{
		"order_id": o.ID, "min_kg": 10, "max_kg": 20, "price_per_kg": 22,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, orders.KindConflict, decodeErr(t, body).Kind)

	resp, body = f.do(t, http.MethodPut, "/bids/"+placed.Bid.ID, "alice", map[string]any{"max_kg": "150"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var updated orders.BidResult
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.True(t, decimal.NewFromInt(150).Equal(updated.TotalBidKg))

	resp, _ = f.do(t, http.MethodDelete, "/bids/"+placed.Bid.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "someone else's bid")

	resp, body = f.do(t, http.MethodDelete, "/bids/"+placed.Bid.ID, "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var cancelled orders.BidResult
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Equal(t, orders.BidCancelled, cancelled.Bid.Status)
	assert.True(t, cancelled.TotalBidKg.IsZero())

	resp, _ = f.do(t, http.MethodDelete, "/bids/"+placed.Bid.ID, "alice", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = f.do(t, http.MethodGet, "/bids/mine", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mine []orders.UserBid
	require.NoError(t, json.Unmarshal(body, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, "Kenyan AA", mine[0].Order.BeanName)

	resp, body = f.do(t, http.MethodGet, "/orders/"+o.ID+"/bids", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var bids []orders.Bid
	require.NoError(t, json.Unmarshal(body, &bids))
	assert.Len(t, bids, 1)
}

func TestAuthRequired(t *testing.T) {
	f := newAPI(t)
	cases := []struct{ method, path string }{
		{http.MethodPost, "/bids"},
		{http.MethodPut, "/bids/x"},
		{http.MethodDelete, "/bids/x"},
		{http.MethodGet, "/bids/mine"},
		{http.MethodPost, "/orders"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			resp, body := f.do(t, tc.method, tc.path, "", `{}`)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, orders.KindUnauthorized, decodeErr(t, body).Kind)
		})
	}
}

func TestRequestValidation(t *testing.T) {
	f := newAPI(t)
	o := f.createOrder(t, 8)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"order_id":`, http.StatusBadRequest},
		{"unknown field", fmt.Sprintf(`{"order_id":%q,"min_kg":1,"max_kg":2,"price_per_kg":3,"user_id":"x"}`, o.ID), http.StatusBadRequest},
		{"missing max", fmt.Sprintf(`{"order_id":%q,"min_kg":1,"price_per_kg":3}`, o.ID), http.StatusBadRequest},
		{"min above max", fmt.Sprintf(`{"order_id":%q,"min_kg":5,"max_kg":2,"price_per_kg":3}`, o.ID), http.StatusBadRequest},
		{"unknown order", `{"order_id":"nope","min_kg":1,"max_kg":2,"price_per_kg":3}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/bids", "carol", tc.body)
			assert.Equal(t, tc.want, resp.StatusCode, string(body))
			assert.NotEmpty(t, decodeErr(t, body).Error)
		})
	}
}

func TestClosedWindowRejectsBeforeValidation(t *testing.T) {
	f := newAPI(t)
	o := f.createOrder(t, 9)
	f.setNow(o.BiddingEndsAt)

	resp, body := f.do(t, http.MethodPost, "/bids", "dave",
		fmt.Sprintf(`{"order_id":%q,"min_kg":5,"max_kg":2,"price_per_kg":-1}`, o.ID))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Bidding period has ended", decodeErr(t, body).Error)
}

func TestCreateOrder(t *testing.T) {
	f := newAPI(t)
	f.createOrder(t, 10)

	resp, _ := f.do(t, http.MethodPost, "/orders", "gov", map[string]any{
		"proposal_id": 10, "coffee_bean_id": "kenyan-aa", "target_quantity_kg": "500", "moq_kg": "200",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "duplicate proposal")

	resp, _ = f.do(t, http.MethodPost, "/orders", "gov", map[string]any{
		"proposal_id": 11, "coffee_bean_id": "blend-x", "target_quantity_kg": "500", "moq_kg": "200",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/orders", "gov", map[string]any{
		"proposal_id": 12, "coffee_bean_id": "kenyan-aa", "target_quantity_kg": "500", "moq_kg": "200", "bidding_days": 0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	for _, days := range []int{orders.MaxBiddingDays + 1, 200000} {
		resp, body := f.do(t, http.MethodPost, "/orders", "gov", map[string]any{
			"proposal_id": 12, "coffee_bean_id": "kenyan-aa", "target_quantity_kg": "500", "moq_kg": "200", "bidding_days": days,
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "bidding_days %d: %s", days, body)
	}

	resp, body := f.do(t, http.MethodPost, "/orders", "gov", map[string]any{
		"proposal_id": 12, "coffee_bean_id": "kenyan-aa", "target_quantity_kg": "500.0001", "moq_kg": "200",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))

	resp, body = f.do(t, http.MethodPost, "/orders", "gov", map[string]any{
		"proposal_id": 13, "coffee_bean_id": "kenyan-aa", "target_quantity_kg": "500", "moq_kg": "200", "bidding_days": 3,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var o orders.Order
	require.NoError(t, json.Unmarshal(body, &o))
	assert.True(t, f.clock().Add(72*time.Hour).Equal(o.BiddingEndsAt))
}

func TestGetOrderIsCachedAndRefreshed(t *testing.T) {
	f := newAPI(t)
	o := f.createOrder(t, 20)
	assert.Equal(t, "0", f.mr.HGet(fmt.Sprintf(redisx.KeyOrderCache, o.ID), "version"), "creation caches the order")
	f.mr.Del(fmt.Sprintf(redisx.KeyOrderCache, o.ID))

	resp, _ := f.do(t, http.MethodGet, "/orders/"+o.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.True(t, f.mr.Exists(fmt.Sprintf(redisx.KeyOrderCache, o.ID)))

	resp, _ = f.do(t, http.MethodGet, "/orders/"+o.ID, "", nil)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))

	resp, _ = f.do(t, http.MethodPost, "/bids", "erin", map[string]any{
		"order_id": o.ID, "min_kg": "10", "max_kg": "40", "price_per_kg": "22",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "1", f.mr.HGet(fmt.Sprintf(redisx.KeyOrderCache, o.ID), "version"), "bid must refresh the cached order")

	resp, body := f.do(t, http.MethodGet, "/orders/"+o.ID, "", nil)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	var got orders.Order
	require.NoError(t, json.Unmarshal(body, &got))
	assert.True(t, decimal.NewFromInt(40).Equal(got.TotalBidKg))

	resp, _ = f.do(t, http.MethodGet, "/orders/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// bidDuringRead commits a bid after the first order read has been taken,
// so the handler ends up holding a copy older than the committed state.
type bidDuringRead struct {
	orders.Store
	svc   func() *orders.Service
	fired atomic.Bool
	err   error
}

func (s *bidDuringRead) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	o, err := s.Store.GetOrder(ctx, id)
	if err != nil || o.Status != orders.StatusBidding || !s.fired.CompareAndSwap(false, true) {
		return o, err
	}
	_, s.err = s.svc().PlaceBid(ctx, "late", orders.PlaceBidInput{
		OrderID:    id,
		MinKg:      decimal.NewFromInt(10),
		MaxKg:      decimal.NewFromInt(50),
		PricePerKg: decimal.NewFromInt(20),
	})
	return o, err
}

func TestCacheFillCannotOverwriteNewerCommit(t *testing.T) {
	store := &bidDuringRead{Store: orders.NewMemoryStore(catalog.Beans()...)}
	f := newAPIWithStore(t, store)
	store.svc = func() *orders.Service { return f.svc }
	o := f.createOrder(t, 21)
	f.mr.Del(fmt.Sprintf(redisx.KeyOrderCache, o.ID))

	resp, body := f.do(t, http.MethodGet, "/orders/"+o.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, store.err)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	var first orders.Order
	require.NoError(t, json.Unmarshal(body, &first))
	assert.True(t, first.TotalBidKg.IsZero(), "first read predates the bid")

	resp, body = f.do(t, http.MethodGet, "/orders/"+o.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second orders.Order
	require.NoError(t, json.Unmarshal(body, &second))
	assert.True(t, decimal.NewFromInt(50).Equal(second.TotalBidKg),
		"cache must not serve the pre-bid total, got %s (X-Cache %s)", second.TotalBidKg, resp.Header.Get("X-Cache"))
	assert.Equal(t, int64(1), second.Version)
}

func TestListOrders(t *testing.T) {
	f := newAPI(t)
	f.createOrder(t, 30)
	f.createOrder(t, 31)

	resp, body := f.do(t, http.MethodGet, "/orders?status=bidding", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []orders.OrderSummary
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 2)

	resp, body = f.do(t, http.MethodGet, "/orders?proposalId=31", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, int64(31), list[0].ProposalID)
	assert.Equal(t, "Kenyan AA", list[0].CoffeeBean.Name)

	resp, _ = f.do(t, http.MethodGet, "/orders?proposalId=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/orders?status=shipped", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBeans(t *testing.T) {
	f := newAPI(t)

	resp, body := f.do(t, http.MethodGet, "/beans?sort=moq", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var beans []orders.CoffeeBean
	require.NoError(t, json.Unmarshal(body, &beans))
	require.Len(t, beans, len(catalog.Beans()))
	assert.Equal(t, "rwandan-bourbon", beans[0].ID)

	resp, body = f.do(t, http.MethodGet, "/beans?origin=Kenya", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &beans))
	require.Len(t, beans, 1)

	o := f.createOrder(t, 40)
	resp, body = f.do(t, http.MethodGet, "/beans/kenyan-aa", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail orders.BeanDetail
	require.NoError(t, json.Unmarshal(body, &detail))
	require.Len(t, detail.Orders, 1)
	assert.Equal(t, o.ID, detail.Orders[0].ID)

	resp, _ = f.do(t, http.MethodGet, "/beans/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
