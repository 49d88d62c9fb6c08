package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps everything in process. Writers of one order are
// serialized on a per-order mutex, which makes the live-bid uniqueness check
// and the total adjustment atomic with respect to each other.
type MemoryStore struct {
	mu         sync.RWMutex
	beans      map[string]CoffeeBean
	orders     map[string]Order
	byProposal map[int64]string
	bids       map[string]Bid
	locks      map[string]*sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(beans ...CoffeeBean) *MemoryStore {
	m := &MemoryStore{
		beans:      map[string]CoffeeBean{},
		orders:     map[string]Order{},
		byProposal: map[int64]string{},
		bids:       map[string]Bid{},
		locks:      map[string]*sync.Mutex{},
	}
	for _, b := range beans {
		m.beans[b.ID] = b
	}
	return m
}

func (m *MemoryStore) GetBean(_ context.Context, id string) (CoffeeBean, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.beans[id]
	if !ok {
		return CoffeeBean{}, NotFoundf("Coffee bean not found")
	}
	return b, nil
}

func (m *MemoryStore) ListBeans(_ context.Context, f BeanFilter) ([]CoffeeBean, error) {
	m.mu.RLock()
	out := make([]CoffeeBean, 0, len(m.beans))
	for _, b := range m.beans {
		if f.Origin != "" && b.Origin != f.Origin {
			continue
		}
		if f.RoastLevel != "" && b.RoastLevel != f.RoastLevel {
			continue
		}
		if f.Available != nil && b.Available != *f.Available {
			continue
		}
		out = append(out, b)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		switch f.Sort {
		case SortByPrice:
			return out[i].PricePerKg.LessThan(out[j].PricePerKg)
		case SortByPriceDesc:
			return out[i].PricePerKg.GreaterThan(out[j].PricePerKg)
		case SortByMoq:
			return out[i].MoqKg.LessThan(out[j].MoqKg)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) UpsertBean(_ context.Context, b CoffeeBean) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.beans[b.ID]; ok && b.CreatedAt.IsZero() {
		b.CreatedAt = prev.CreatedAt
	}
	m.beans[b.ID] = b
	return nil
}

func (m *MemoryStore) GetOrder(_ context.Context, id string) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, NotFoundf("Order not found")
	}
	return o, nil
}

func (m *MemoryStore) OrderByProposal(_ context.Context, proposalID int64) (Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byProposal[proposalID]
	if !ok {
		return Order{}, NotFoundf("Order not found")
	}
	return m.orders[id], nil
}

func (m *MemoryStore) ListOrders(_ context.Context, f OrderFilter) ([]OrderSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := map[string]int{}
	for _, b := range m.bids {
		if b.Live() {
			counts[b.OrderID]++
		}
	}
	out := make([]OrderSummary, 0, len(m.orders))
	for _, o := range m.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.ProposalID != nil && o.ProposalID != *f.ProposalID {
			continue
		}
		b := m.beans[o.CoffeeBeanID]
		out = append(out, OrderSummary{
			Order: o,
			CoffeeBean: BeanSummary{
				ID: b.ID, Name: b.Name, Origin: b.Origin, RoastLevel: b.RoastLevel, PricePerKg: b.PricePerKg,
			},
			BidCount: counts[o.ID],
		})
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (m *MemoryStore) ListOrdersByBean(_ context.Context, beanID string, status Status) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Order{}
	for _, o := range m.orders {
		if o.CoffeeBeanID == beanID && (status == "" || o.Status == status) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (m *MemoryStore) InsertOrder(_ context.Context, o Order) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byProposal[o.ProposalID]; ok {
		return Order{}, Conflictf("An order for this proposal already exists")
	}
	if _, ok := m.beans[o.CoffeeBeanID]; !ok {
		return Order{}, NotFoundf("Coffee bean not found")
	}
	m.orders[o.ID] = o
	m.byProposal[o.ProposalID] = o.ID
	return o, nil
}

func (m *MemoryStore) ListBidsByOrder(_ context.Context, orderID string) ([]Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Bid{}
	for _, b := range m.bids {
		if b.OrderID == orderID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (m *MemoryStore) ListBidsByUser(_ context.Context, userID string) ([]UserBid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []UserBid{}
	for _, b := range m.bids {
		if b.UserID != userID {
			continue
		}
		o := m.orders[b.OrderID]
		out = append(out, UserBid{
			Bid: b,
			Order: BidOrderRef{
				ID: o.ID, ProposalID: o.ProposalID, Status: o.Status, BeanName: m.beans[o.CoffeeBeanID].Name,
			},
		})
	}
	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (m *MemoryStore) BidOrderID(_ context.Context, bidID, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bids[bidID]
	if !ok || b.UserID != userID {
		return "", NotFoundf("Bid not found")
	}
	return b.OrderID, nil
}

func (m *MemoryStore) orderLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *MemoryStore) WithOrder(ctx context.Context, orderID string, fn func(ctx context.Context, tx OrderTx) error) error {
	l := m.orderLock(orderID)
	l.Lock()
	defer l.Unlock()

	o, err := m.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	tx := &memTx{m: m, order: o, staged: map[string]Bid{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.mu.Lock()
	m.orders[orderID] = tx.order
	for id, b := range tx.staged {
		m.bids[id] = b
	}
	m.mu.Unlock()
	return nil
}

type memTx struct {
	m      *MemoryStore
	order  Order
	staged map[string]Bid
}

func (t *memTx) Order() Order { return t.order }

func (t *memTx) bid(id string) (Bid, bool) {
	if b, ok := t.staged[id]; ok {
		return b, true
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	b, ok := t.m.bids[id]
	return b, ok
}

func (t *memTx) FindBid(_ context.Context, bidID, userID string) (Bid, error) {
	b, ok := t.bid(bidID)
	if !ok || b.UserID != userID || b.OrderID != t.order.ID {
		return Bid{}, NotFoundf("Bid not found")
	}
	return b, nil
}

func (t *memTx) hasLiveBid(userID string) bool {
	for _, b := range t.staged {
		if b.UserID == userID && b.Live() {
			return true
		}
	}
	t.m.mu.RLock()
	defer t.m.mu.RUnlock()
	for id, b := range t.m.bids {
		if _, shadowed := t.staged[id]; shadowed {
			continue
		}
		if b.OrderID == t.order.ID && b.UserID == userID && b.Live() {
			return true
		}
	}
	return false
}

func (t *memTx) InsertBid(_ context.Context, b Bid) (Bid, error) {
	if b.OrderID != t.order.ID {
		return Bid{}, fmt.Errorf("bid %s belongs to order %s, not %s", b.ID, b.OrderID, t.order.ID)
	}
	if t.hasLiveBid(b.UserID) {
		return Bid{}, Conflictf("You already have a bid on this order. Use PUT to update it.")
	}
	t.staged[b.ID] = b
	return b, nil
}

func (t *memTx) SaveBid(_ context.Context, b Bid) (Bid, error) {
	prev, ok := t.bid(b.ID)
	if !ok || prev.OrderID != t.order.ID {
		return Bid{}, NotFoundf("Bid not found")
	}
	b.CreatedAt = prev.CreatedAt
	t.staged[b.ID] = b
	return b, nil
}

func (t *memTx) AdjustTotal(_ context.Context, delta decimal.Decimal) (decimal.Decimal, error) {
	next := t.order.TotalBidKg.Add(delta)
	if next.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("total_bid_kg of order %s would become %s", t.order.ID, next)
	}
	t.order.TotalBidKg = next
	t.touch()
	return next, nil
}

func (t *memTx) SetStatus(_ context.Context, to Status) (Order, error) {
	t.order.Status = to
	t.touch()
	return t.order, nil
}

// touch marks a write to the order row itself.
func (t *memTx) touch() {
	t.order.Version++
	t.order.UpdatedAt = time.Now().UTC()
}

// newerFirst orders by creation time descending, ties broken by id.
func newerFirst(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return idA > idB
}
