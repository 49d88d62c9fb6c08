package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo is the Postgres Store. Decimal columns need pgx-shopspring-decimal
// registered on every connection (postgres.Connect does that).
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const (
	beanColumns  = `id, name, origin, region, process, roast_level, flavor_notes, description, price_per_kg, moq_kg, available, created_at, updated_at`
	orderColumns = `id, proposal_id, coffee_bean_id, target_quantity_kg, moq_kg, total_bid_kg, bidding_ends_at, status, version, created_at, updated_at`
	bidColumns   = `id, order_id, user_id, min_kg, max_kg, price_per_kg, status, created_at, updated_at`

	// same columns, qualified for joins
	orderColumnsO = `o.id, o.proposal_id, o.coffee_bean_id, o.target_quantity_kg, o.moq_kg, o.total_bid_kg, o.bidding_ends_at, o.status, o.version, o.created_at, o.updated_at`
	bidColumnsB   = `b.id, b.order_id, b.user_id, b.min_kg, b.max_kg, b.price_per_kg, b.status, b.created_at, b.updated_at`
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNumericOutOfRange   = "22003"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBean(row rowScanner, extra ...any) (CoffeeBean, error) {
	var b CoffeeBean
	dest := append([]any{&b.ID, &b.Name, &b.Origin, &b.Region, &b.Process, &b.RoastLevel, &b.FlavorNotes,
		&b.Description, &b.PricePerKg, &b.MoqKg, &b.Available, &b.CreatedAt, &b.UpdatedAt}, extra...)
	err := row.Scan(dest...)
	return b, err
}

func scanOrder(row rowScanner, extra ...any) (Order, error) {
	var (
		o  Order
		st string
	)
	dest := append([]any{&o.ID, &o.ProposalID, &o.CoffeeBeanID, &o.TargetQuantityKg, &o.MoqKg, &o.TotalBidKg,
		&o.BiddingEndsAt, &st, &o.Version, &o.CreatedAt, &o.UpdatedAt}, extra...)
	err := row.Scan(dest...)
	o.Status = Status(st)
	return o, err
}

func scanBid(row rowScanner, extra ...any) (Bid, error) {
	var (
		b  Bid
		st string
	)
	dest := append([]any{&b.ID, &b.OrderID, &b.UserID, &b.MinKg, &b.MaxKg, &b.PricePerKg, &st,
		&b.CreatedAt, &b.UpdatedAt}, extra...)
	err := row.Scan(dest...)
	b.Status = BidStatus(st)
	return b, err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// rejected maps values the schema refuses to a Validation error, or returns nil.
func rejected(err error) error {
	switch pgCode(err) {
	case pgCheckViolation, pgNumericOutOfRange:
		return Validationf("Value is out of range")
	}
	return nil
}

func (r *Repo) GetBean(ctx context.Context, id string) (CoffeeBean, error) {
	b, err := scanBean(r.DB.QueryRow(ctx, `SELECT `+beanColumns+` FROM coffee_beans WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return CoffeeBean{}, NotFoundf("Coffee bean not found")
	}
	if err != nil {
		return CoffeeBean{}, fmt.Errorf("get bean %s: %w", id, err)
	}
	return b, nil
}

func (r *Repo) ListBeans(ctx context.Context, f BeanFilter) ([]CoffeeBean, error) {
	var (
		conds []string
		args  []any
	)
	if f.Origin != "" {
		args = append(args, f.Origin)
		conds = append(conds, fmt.Sprintf("origin = $%d", len(args)))
	}
	if f.RoastLevel != "" {
		args = append(args, f.RoastLevel)
		conds = append(conds, fmt.Sprintf("roast_level = $%d", len(args)))
	}
	if f.Available != nil {
		args = append(args, *f.Available)
		conds = append(conds, fmt.Sprintf("available = $%d", len(args)))
	}
	q := `SELECT ` + beanColumns + ` FROM coffee_beans`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	switch f.Sort {
	case SortByPrice:
		q += ` ORDER BY price_per_kg ASC, name`
	case SortByPriceDesc:
		q += ` ORDER BY price_per_kg DESC, name`
	case SortByMoq:
		q += ` ORDER BY moq_kg ASC, name`
	default:
		q += ` ORDER BY name`
	}

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list beans: %w", err)
	}
	defer rows.Close()

	out := []CoffeeBean{}
	for rows.Next() {
		b, err := scanBean(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertBean(ctx context.Context, b CoffeeBean) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO coffee_beans (id, name, origin, region, process, roast_level, flavor_notes, description, price_per_kg, moq_kg, available)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, origin = EXCLUDED.origin, region = EXCLUDED.region,
			process = EXCLUDED.process, roast_level = EXCLUDED.roast_level,
			flavor_notes = EXCLUDED.flavor_notes, description = EXCLUDED.description,
			price_per_kg = EXCLUDED.price_per_kg, moq_kg = EXCLUDED.moq_kg,
			available = EXCLUDED.available, updated_at = now()
	`, b.ID, b.Name, b.Origin, b.Region, b.Process, b.RoastLevel, b.FlavorNotes, b.Description,
		b.PricePerKg, b.MoqKg, b.Available)
	if err != nil {
		return fmt.Errorf("upsert bean %s: %w", b.ID, err)
	}
	return nil
}

func (r *Repo) GetOrder(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, NotFoundf("Order not found")
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (r *Repo) OrderByProposal(ctx context.Context, proposalID int64) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE proposal_id=$1`, proposalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, NotFoundf("Order not found")
	}
	if err != nil {
		return Order{}, fmt.Errorf("order by proposal %d: %w", proposalID, err)
	}
	return o, nil
}

func (r *Repo) ListOrders(ctx context.Context, f OrderFilter) ([]OrderSummary, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("o.status = $%d", len(args)))
	}
	if f.ProposalID != nil {
		args = append(args, *f.ProposalID)
		conds = append(conds, fmt.Sprintf("o.proposal_id = $%d", len(args)))
	}
	q := `SELECT ` + orderColumnsO + `,
			c.id, c.name, c.origin, c.roast_level, c.price_per_kg,
			(SELECT COUNT(*) FROM bids b WHERE b.order_id = o.id AND b.status <> 'cancelled')
		FROM orders o JOIN coffee_beans c ON c.id = o.coffee_bean_id`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY o.created_at DESC, o.id DESC`

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := []OrderSummary{}
	for rows.Next() {
		var s OrderSummary
		s.Order, err = scanOrder(rows, &s.CoffeeBean.ID, &s.CoffeeBean.Name, &s.CoffeeBean.Origin,
			&s.CoffeeBean.RoastLevel, &s.CoffeeBean.PricePerKg, &s.BidCount)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repo) ListOrdersByBean(ctx context.Context, beanID string, status Status) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE coffee_bean_id=$1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC`, beanID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list orders of bean %s: %w", beanID, err)
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// InsertOrder relies on the unique proposal_id instead of a prior lookup, so
// two racing creations for one proposal leave exactly one order.
func (r *Repo) InsertOrder(ctx context.Context, o Order) (Order, error) {
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (proposal_id) DO NOTHING
	`, o.ID, o.ProposalID, o.CoffeeBeanID, o.TargetQuantityKg, o.MoqKg, o.TotalBidKg,
		o.BiddingEndsAt, string(o.Status), o.Version, o.CreatedAt, o.UpdatedAt)
	if pgCode(err) == pgForeignKeyViolation {
		return Order{}, NotFoundf("Coffee bean not found")
	}
	if verr := rejected(err); verr != nil {
		return Order{}, verr
	}
	if err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return Order{}, Conflictf("An order for this proposal already exists")
	}
	return o, nil
}

func (r *Repo) ListBidsByOrder(ctx context.Context, orderID string) ([]Bid, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+bidColumns+` FROM bids WHERE order_id=$1 ORDER BY created_at DESC, id DESC`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list bids of order %s: %w", orderID, err)
	}
	defer rows.Close()

	out := []Bid{}
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repo) ListBidsByUser(ctx context.Context, userID string) ([]UserBid, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT `+bidColumnsB+`, o.id, o.proposal_id, o.status, c.name
		FROM bids b
		JOIN orders o ON o.id = b.order_id
		JOIN coffee_beans c ON c.id = o.coffee_bean_id
		WHERE b.user_id=$1
		ORDER BY b.created_at DESC, b.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list bids of user: %w", err)
	}
	defer rows.Close()

	out := []UserBid{}
	for rows.Next() {
		var (
			ub UserBid
			st string
		)
		ub.Bid, err = scanBid(rows, &ub.Order.ID, &ub.Order.ProposalID, &st, &ub.Order.BeanName)
		if err != nil {
			return nil, err
		}
		ub.Order.Status = Status(st)
		out = append(out, ub)
	}
	return out, rows.Err()
}

func (r *Repo) BidOrderID(ctx context.Context, bidID, userID string) (string, error) {
	var orderID string
	err := r.DB.QueryRow(ctx, `SELECT order_id FROM bids WHERE id=$1 AND user_id=$2`, bidID, userID).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", NotFoundf("Bid not found")
	}
	if err != nil {
		return "", fmt.Errorf("bid order: %w", err)
	}
	return orderID, nil
}

// WithOrder: BEGIN -> lock order row (FOR UPDATE) -> fn -> COMMIT.
// Any error from fn rolls back the bid write and the counter adjustment together.
func (r *Repo) WithOrder(ctx context.Context, orderID string, fn func(ctx context.Context, tx OrderTx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFoundf("Order not found")
	}
	if err != nil {
		return fmt.Errorf("lock order %s: %w", orderID, err)
	}

	if err := fn(ctx, &pgOrderTx{tx: tx, order: o}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgOrderTx struct {
	tx    pgx.Tx
	order Order
}

func (t *pgOrderTx) Order() Order { return t.order }

func (t *pgOrderTx) FindBid(ctx context.Context, bidID, userID string) (Bid, error) {
	b, err := scanBid(t.tx.QueryRow(ctx, `
		SELECT `+bidColumns+` FROM bids
		WHERE id=$1 AND user_id=$2 AND order_id=$3
		FOR UPDATE`, bidID, userID, t.order.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Bid{}, NotFoundf("Bid not found")
	}
	if err != nil {
		return Bid{}, fmt.Errorf("find bid %s: %w", bidID, err)
	}
	return b, nil
}

// InsertBid: the partial unique index bids_one_live_per_user is the
// uniqueness check, no prior SELECT. The stored row is returned as Postgres
// kept it.
func (t *pgOrderTx) InsertBid(ctx context.Context, b Bid) (Bid, error) {
	saved, err := scanBid(t.tx.QueryRow(ctx, `
		INSERT INTO bids (`+bidColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (order_id, user_id) WHERE status <> 'cancelled' DO NOTHING
		RETURNING `+bidColumns,
		b.ID, b.OrderID, b.UserID, b.MinKg, b.MaxKg, b.PricePerKg, string(b.Status), b.CreatedAt, b.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) || pgCode(err) == pgUniqueViolation {
		return Bid{}, Conflictf("You already have a bid on this order. Use PUT to update it.")
	}
	if verr := rejected(err); verr != nil {
		return Bid{}, verr
	}
	if err != nil {
		return Bid{}, fmt.Errorf("insert bid: %w", err)
	}
	return saved, nil
}

func (t *pgOrderTx) SaveBid(ctx context.Context, b Bid) (Bid, error) {
	saved, err := scanBid(t.tx.QueryRow(ctx, `
		UPDATE bids SET min_kg=$3, max_kg=$4, price_per_kg=$5, status=$6, updated_at=$7
		WHERE id=$1 AND order_id=$2
		RETURNING `+bidColumns,
		b.ID, t.order.ID, b.MinKg, b.MaxKg, b.PricePerKg, string(b.Status), b.UpdatedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return Bid{}, NotFoundf("Bid not found")
	}
	if verr := rejected(err); verr != nil {
		return Bid{}, verr
	}
	if err != nil {
		return Bid{}, fmt.Errorf("save bid %s: %w", b.ID, err)
	}
	return saved, nil
}

// AdjustTotal increments in place (total = total + delta), never writes back
// a value computed in Go.
func (t *pgOrderTx) AdjustTotal(ctx context.Context, delta decimal.Decimal) (decimal.Decimal, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `
		UPDATE orders SET total_bid_kg = total_bid_kg + $2, version = version + 1, updated_at = clock_timestamp()
		WHERE id=$1
		RETURNING `+orderColumns, t.order.ID, delta))
	if verr := rejected(err); verr != nil {
		return decimal.Decimal{}, verr
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("adjust total of order %s by %s: %w", t.order.ID, delta, err)
	}
	t.order = o
	return o.TotalBidKg, nil
}

func (t *pgOrderTx) SetStatus(ctx context.Context, to Status) (Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `
		UPDATE orders SET status=$2, version = version + 1, updated_at = clock_timestamp()
		WHERE id=$1
		RETURNING `+orderColumns, t.order.ID, string(to)))
	if err != nil {
		return Order{}, fmt.Errorf("set status of order %s: %w", t.order.ID, err)
	}
	t.order = o
	return o, nil
}
