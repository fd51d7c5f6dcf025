// Package order manages the order aggregate: creation, the status state
// machine, cancellation with stock restoration, returns, and refunds.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/velouria-skin/api/internal/database"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateSession is returned when an order already exists for a
	// Stripe session. Callers treat this as "already reconciled".
	ErrDuplicateSession = errors.New("order already exists for session")
	// ErrInvalidTransition is returned for a status change the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNotCancellable is returned when a customer cancels an order that
	// has already entered fulfillment.
	ErrNotCancellable = errors.New("order can no longer be cancelled")
	// ErrReturnWindowClosed is returned when a return is requested too
	// long after delivery.
	ErrReturnWindowClosed = errors.New("return window has closed")
	// ErrNotDelivered is returned when a return is requested before delivery.
	ErrNotDelivered = errors.New("order has not been delivered")
)

// Order statuses.
const (
	StatusPending    = "pending"
	StatusConfirmed  = "confirmed"
	StatusProcessing = "processing"
	StatusShipped    = "shipped"
	StatusDelivered  = "delivered"
	StatusCancelled  = "cancelled"
	StatusReturned   = "returned"
	StatusRefunded   = "refunded"
	StatusFailed     = "failed"
)

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

// Payment methods. Zero-total orders are recorded as free since no
// payment is collected at all.
const (
	MethodStripe = "stripe"
	MethodCOD    = "cod"
	MethodFree   = "free"
)

// transitions is the order status state machine. Cancelled, refunded,
// returned, and failed are terminal except returned -> refunded.
var transitions = map[string][]string{
	StatusPending:    {StatusConfirmed, StatusCancelled, StatusFailed},
	StatusConfirmed:  {StatusProcessing, StatusCancelled, StatusRefunded},
	StatusProcessing: {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:    {StatusDelivered},
	StatusDelivered:  {StatusReturned, StatusRefunded},
	StatusReturned:   {StatusRefunded},
}

// CanTransition reports whether the state machine allows moving from one
// status to another.
func CanTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Address is the shipping destination, stored as jsonb on the order.
type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Order is the order aggregate root. Monetary fields are frozen copies
// taken at checkout time so later catalog edits never change past orders.
type Order struct {
	ID                    uuid.UUID
	OrderNumber           int64
	CustomerID            *uuid.UUID
	Email                 string
	Status                string
	PaymentMethod         string
	PaymentStatus         string
	StripeSessionID       *string
	StripePaymentIntentID *string
	PaidAt                *time.Time
	ShippingAddress       Address
	Subtotal              decimal.Decimal
	Discount              decimal.Decimal
	ShippingFee           decimal.Decimal
	Total                 decimal.Decimal
	CouponCode            *string
	CouponType            *string
	CouponValue           *decimal.Decimal
	CouponDiscount        *decimal.Decimal
	DeliveredAt           *time.Time
	CancelledAt           *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Items                 []Item
}

// Item is an order line with prices copied from the product at order time.
type Item struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	Title     string
	UnitPrice decimal.Decimal
	Quantity  int32
	LineTotal decimal.Decimal
}

// Refund is one refund issued against an order.
type Refund struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	ProviderRefundID *string
	Amount           decimal.Decimal
	Status           string
	Reason           string
	CreatedAt        time.Time
}

// Event is one entry in an order's audit trail.
type Event struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	EventType  string
	FromStatus *string
	ToStatus   *string
	Note       *string
	CreatedAt  time.Time
}

// Service provides business logic for order operations.
type Service struct {
	pool         *pgxpool.Pool
	logger       *slog.Logger
	returnWindow time.Duration
}

// NewService creates a new order service. returnWindow is how long after
// delivery a customer may request a return.
func NewService(pool *pgxpool.Pool, returnWindow time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:         pool,
		logger:       logger,
		returnWindow: returnWindow,
	}
}

const orderColumns = `id, order_number, customer_id, email, status,
	payment_method, payment_status, stripe_session_id, stripe_payment_intent_id,
	paid_at, shipping_address, subtotal, discount, shipping_fee, total,
	coupon_code, coupon_type, coupon_value, coupon_discount,
	delivered_at, cancelled_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		o          Order
		addr       []byte
		subtotal   pgtype.Numeric
		discount   pgtype.Numeric
		shipping   pgtype.Numeric
		total      pgtype.Numeric
		couponVal  pgtype.Numeric
		couponDisc pgtype.Numeric
	)
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.Email, &o.Status,
		&o.PaymentMethod, &o.PaymentStatus, &o.StripeSessionID, &o.StripePaymentIntentID,
		&o.PaidAt, &addr, &subtotal, &discount, &shipping, &total,
		&o.CouponCode, &o.CouponType, &couponVal, &couponDisc,
		&o.DeliveredAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return Order{}, fmt.Errorf("decoding shipping address: %w", err)
	}
	o.Subtotal = database.NumericToDecimal(subtotal)
	o.Discount = database.NumericToDecimal(discount)
	o.ShippingFee = database.NumericToDecimal(shipping)
	o.Total = database.NumericToDecimal(total)
	o.CouponValue = database.NumericToDecimalPtr(couponVal)
	o.CouponDiscount = database.NumericToDecimalPtr(couponDisc)
	return o, nil
}

// ItemParams is one order line to create.
type ItemParams struct {
	ProductID uuid.UUID
	Title     string
	UnitPrice decimal.Decimal
	Quantity  int32
}

// CreateParams contains everything needed to persist a new order.
type CreateParams struct {
	CustomerID            *uuid.UUID
	Email                 string
	Status                string
	PaymentMethod         string
	PaymentStatus         string
	StripeSessionID       *string
	StripePaymentIntentID *string
	PaidAt                *time.Time
	ShippingAddress       Address
	Subtotal              decimal.Decimal
	Discount              decimal.Decimal
	ShippingFee           decimal.Decimal
	Total                 decimal.Decimal
	CouponCode            *string
	CouponType            *string
	CouponValue           *decimal.Decimal
	CouponDiscount        *decimal.Decimal
	Items                 []ItemParams
}

// Create persists an order with its items and an initial audit event, all
// in the caller's transaction. A unique index on stripe_session_id turns a
// concurrent double-create for the same session into ErrDuplicateSession.
func (s *Service) Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Order, error) {
	addr, err := json.Marshal(params.ShippingAddress)
	if err != nil {
		return Order{}, fmt.Errorf("encoding shipping address: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO orders (id, customer_id, email, status, payment_method,
			payment_status, stripe_session_id, stripe_payment_intent_id, paid_at,
			shipping_address, subtotal, discount, shipping_fee, total,
			coupon_code, coupon_type, coupon_value, coupon_discount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18)
		RETURNING `+orderColumns,
		uuid.New(), params.CustomerID, params.Email, params.Status,
		params.PaymentMethod, params.PaymentStatus, params.StripeSessionID,
		params.StripePaymentIntentID, params.PaidAt, addr,
		database.DecimalToNumeric(params.Subtotal),
		database.DecimalToNumeric(params.Discount),
		database.DecimalToNumeric(params.ShippingFee),
		database.DecimalToNumeric(params.Total),
		params.CouponCode, params.CouponType,
		database.DecimalPtrToNumeric(params.CouponValue),
		database.DecimalPtrToNumeric(params.CouponDiscount),
	)

	o, err := scanOrder(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Order{}, ErrDuplicateSession
		}
		return Order{}, fmt.Errorf("creating order: %w", err)
	}

	for _, item := range params.Items {
		lineTotal := item.UnitPrice.Mul(decimal.NewFromInt32(item.Quantity))
		var it Item
		var unitPrice, lt pgtype.Numeric
		err := tx.QueryRow(ctx, `
			INSERT INTO order_items (id, order_id, product_id, title, unit_price, quantity, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id, product_id, title, unit_price, quantity, line_total`,
			uuid.New(), o.ID, item.ProductID, item.Title,
			database.DecimalToNumeric(item.UnitPrice), item.Quantity,
			database.DecimalToNumeric(lineTotal),
		).Scan(&it.ID, &it.ProductID, &it.Title, &unitPrice, &it.Quantity, &lt)
		if err != nil {
			return Order{}, fmt.Errorf("creating order item: %w", err)
		}
		it.UnitPrice = database.NumericToDecimal(unitPrice)
		it.LineTotal = database.NumericToDecimal(lt)
		o.Items = append(o.Items, it)
	}

	if err := s.recordEvent(ctx, tx, o.ID, "order.created", nil, &o.Status, nil); err != nil {
		return Order{}, err
	}

	s.logger.Info("order created",
		slog.String("order_id", o.ID.String()),
		slog.Int64("order_number", o.OrderNumber),
		slog.String("status", o.Status),
		slog.String("payment_method", o.PaymentMethod),
	)
	return o, nil
}

// MarkItemShortfall records that an item's stock decrement was skipped on a
// paid order. Cancellation and payment-failure compensation consult the flag
// so units that were never reserved are not put back on the shelf.
func (s *Service) MarkItemShortfall(ctx context.Context, tx pgx.Tx, orderID, productID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE order_items SET stock_decremented = FALSE
		WHERE order_id = $1 AND product_id = $2`,
		orderID, productID)
	if err != nil {
		return fmt.Errorf("marking item shortfall: %w", err)
	}
	return nil
}

func (s *Service) recordEvent(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, eventType string, from, to, note *string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_events (id, order_id, event_type, from_status, to_status, note)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), orderID, eventType, from, to, note)
	if err != nil {
		return fmt.Errorf("recording order event: %w", err)
	}
	return nil
}

// Get retrieves an order with its items.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("getting order: %w", err)
	}
	if o.Items, err = s.listItems(ctx, o.ID); err != nil {
		return Order{}, err
	}
	return o, nil
}

// GetForCustomer retrieves an order only if it belongs to the customer.
func (s *Service) GetForCustomer(ctx context.Context, customerID, orderID uuid.UUID) (Order, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.CustomerID == nil || *o.CustomerID != customerID {
		return Order{}, ErrNotFound
	}
	return o, nil
}

// GetByNumber retrieves an order by its customer-facing order number.
func (s *Service) GetByNumber(ctx context.Context, number int64) (Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, number)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("getting order by number: %w", err)
	}
	if o.Items, err = s.listItems(ctx, o.ID); err != nil {
		return Order{}, err
	}
	return o, nil
}

// GetBySessionID retrieves the order reconciled from a Stripe Checkout
// Session, if one exists.
func (s *Service) GetBySessionID(ctx context.Context, sessionID string) (Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE stripe_session_id = $1`, sessionID)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("getting order by session: %w", err)
	}
	if o.Items, err = s.listItems(ctx, o.ID); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (s *Service) listItems(ctx context.Context, orderID uuid.UUID) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, title, unit_price, quantity, line_total
		FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing order items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var unitPrice, lineTotal pgtype.Numeric
		if err := rows.Scan(&it.ID, &it.ProductID, &it.Title, &unitPrice, &it.Quantity, &lineTotal); err != nil {
			return nil, fmt.Errorf("scanning order item: %w", err)
		}
		it.UnitPrice = database.NumericToDecimal(unitPrice)
		it.LineTotal = database.NumericToDecimal(lineTotal)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading order items: %w", err)
	}
	return items, nil
}

// ListByCustomer retrieves a customer's orders, newest first, without items.
func (s *Service) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC`,
		customerID)
	if err != nil {
		return nil, fmt.Errorf("listing customer orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ListParams filters the admin order listing.
type ListParams struct {
	Status string
	Limit  int32
	Offset int32
}

// List retrieves orders for the admin view, newest first, without items.
func (s *Service) List(ctx context.Context, params ListParams) ([]Order, error) {
	if params.Limit <= 0 || params.Limit > 200 {
		params.Limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		params.Status, params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading orders: %w", err)
	}
	return orders, nil
}

// UpdateStatus moves an order through the state machine, recording the
// transition in the audit trail. delivered additionally stamps delivered_at.
func (s *Service) UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus string, note *string) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("locking order: %w", err)
	}

	if !CanTransition(current, newStatus) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, newStatus)
	}

	query := `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1 RETURNING ` + orderColumns
	if newStatus == StatusDelivered {
		query = `UPDATE orders SET status = $2, delivered_at = now(), updated_at = now()
			WHERE id = $1 RETURNING ` + orderColumns
	}

	o, err := scanOrder(tx.QueryRow(ctx, query, orderID, newStatus))
	if err != nil {
		return Order{}, fmt.Errorf("updating order status: %w", err)
	}

	if err := s.recordEvent(ctx, tx, orderID, "status.changed", &current, &newStatus, note); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("committing status update: %w", err)
	}

	s.logger.Info("order status updated",
		slog.String("order_id", orderID.String()),
		slog.String("from", current),
		slog.String("to", newStatus),
	)
	return o, nil
}

// Cancel cancels a customer's own order. Only pending and confirmed orders
// can be cancelled; once fulfillment starts the customer must go through a
// return instead. Reserved stock is restored in the same transaction.
func (s *Service) Cancel(ctx context.Context, customerID, orderID uuid.UUID, reason string) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `
		SELECT status FROM orders
		WHERE id = $1 AND customer_id = $2 FOR UPDATE`,
		orderID, customerID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("locking order: %w", err)
	}

	if current != StatusPending && current != StatusConfirmed {
		return Order{}, ErrNotCancellable
	}

	// Put reserved units back on the shelf. Items whose decrement was
	// skipped for shortfall never left it.
	_, err = tx.Exec(ctx, `
		UPDATE products p SET stock = p.stock + oi.quantity, updated_at = now()
		FROM order_items oi
		WHERE oi.order_id = $1 AND oi.product_id = p.id AND oi.stock_decremented`, orderID)
	if err != nil {
		return Order{}, fmt.Errorf("restoring stock: %w", err)
	}

	cancelled := StatusCancelled
	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders SET status = $2, cancelled_at = now(), updated_at = now()
		WHERE id = $1 RETURNING `+orderColumns,
		orderID, cancelled))
	if err != nil {
		return Order{}, fmt.Errorf("cancelling order: %w", err)
	}

	var note *string
	if reason != "" {
		note = &reason
	}
	if err := s.recordEvent(ctx, tx, orderID, "order.cancelled", &current, &cancelled, note); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("committing cancellation: %w", err)
	}

	s.logger.Info("order cancelled",
		slog.String("order_id", orderID.String()),
		slog.String("customer_id", customerID.String()),
	)
	return o, nil
}

// RequestReturn marks a delivered order as returned. Returns are only
// accepted within the configured window after delivery.
func (s *Service) RequestReturn(ctx context.Context, customerID, orderID uuid.UUID, reason string) (Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Order{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		current     string
		deliveredAt *time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT status, delivered_at FROM orders
		WHERE id = $1 AND customer_id = $2 FOR UPDATE`,
		orderID, customerID,
	).Scan(&current, &deliveredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("locking order: %w", err)
	}

	if current != StatusDelivered || deliveredAt == nil {
		return Order{}, ErrNotDelivered
	}
	if time.Since(*deliveredAt) > s.returnWindow {
		return Order{}, ErrReturnWindowClosed
	}

	returned := StatusReturned
	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 RETURNING `+orderColumns,
		orderID, returned))
	if err != nil {
		return Order{}, fmt.Errorf("marking order returned: %w", err)
	}

	var note *string
	if reason != "" {
		note = &reason
	}
	if err := s.recordEvent(ctx, tx, orderID, "order.returned", &current, &returned, note); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("committing return: %w", err)
	}
	return o, nil
}

// AddRefund records a refund against an order. When cumulative refunds reach
// the order total the order moves to refunded, unless it is already in a
// terminal state such as cancelled, which is preserved.
func (s *Service) AddRefund(ctx context.Context, orderID uuid.UUID, providerRefundID *string, amount decimal.Decimal, status, reason string) (Refund, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Refund{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		current string
		total   pgtype.Numeric
	)
	err = tx.QueryRow(ctx,
		`SELECT status, total FROM orders WHERE id = $1 FOR UPDATE`, orderID,
	).Scan(&current, &total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Refund{}, ErrNotFound
		}
		return Refund{}, fmt.Errorf("locking order: %w", err)
	}

	var r Refund
	var amt pgtype.Numeric
	err = tx.QueryRow(ctx, `
		INSERT INTO order_refunds (id, order_id, provider_refund_id, amount, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, order_id, provider_refund_id, amount, status, reason, created_at`,
		uuid.New(), orderID, providerRefundID,
		database.DecimalToNumeric(amount), status, reason,
	).Scan(&r.ID, &r.OrderID, &r.ProviderRefundID, &amt, &r.Status, &r.Reason, &r.CreatedAt)
	if err != nil {
		return Refund{}, fmt.Errorf("recording refund: %w", err)
	}
	r.Amount = database.NumericToDecimal(amt)

	var refunded pgtype.Numeric
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM order_refunds WHERE order_id = $1`, orderID,
	).Scan(&refunded)
	if err != nil {
		return Refund{}, fmt.Errorf("summing refunds: %w", err)
	}

	// A fully refunded order becomes refunded, but only if the state
	// machine allows it: a cancelled order stays cancelled.
	if database.NumericToDecimal(refunded).GreaterThanOrEqual(database.NumericToDecimal(total)) &&
		CanTransition(current, StatusRefunded) {
		refundedStatus := StatusRefunded
		_, err = tx.Exec(ctx,
			`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`,
			orderID, refundedStatus)
		if err != nil {
			return Refund{}, fmt.Errorf("marking order refunded: %w", err)
		}
		if err := s.recordEvent(ctx, tx, orderID, "status.changed", &current, &refundedStatus, nil); err != nil {
			return Refund{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Refund{}, fmt.Errorf("committing refund: %w", err)
	}

	s.logger.Info("refund recorded",
		slog.String("order_id", orderID.String()),
		slog.String("amount", amount.String()),
	)
	return r, nil
}

// ListRefunds retrieves an order's refunds, oldest first.
func (s *Service) ListRefunds(ctx context.Context, orderID uuid.UUID) ([]Refund, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, provider_refund_id, amount, status, reason, created_at
		FROM order_refunds WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing refunds: %w", err)
	}
	defer rows.Close()

	var refunds []Refund
	for rows.Next() {
		var r Refund
		var amt pgtype.Numeric
		if err := rows.Scan(&r.ID, &r.OrderID, &r.ProviderRefundID, &amt, &r.Status, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning refund: %w", err)
		}
		r.Amount = database.NumericToDecimal(amt)
		refunds = append(refunds, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading refunds: %w", err)
	}
	return refunds, nil
}

// ListEvents retrieves an order's audit trail, oldest first.
func (s *Service) ListEvents(ctx context.Context, orderID uuid.UUID) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, event_type, from_status, to_status, note, created_at
		FROM order_events WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing order events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.OrderID, &e.EventType, &e.FromStatus, &e.ToStatus, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning order event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading order events: %w", err)
	}
	return events, nil
}

// MarkPaymentFailed flags a pending order whose Stripe session expired or
// whose payment failed. Stock reserved at session creation is restored.
func (s *Service) MarkPaymentFailed(ctx context.Context, sessionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		orderID uuid.UUID
		current string
	)
	err = tx.QueryRow(ctx, `
		SELECT id, status FROM orders
		WHERE stripe_session_id = $1 FOR UPDATE`, sessionID,
	).Scan(&orderID, &current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("locking order: %w", err)
	}

	if current != StatusPending {
		// Already reconciled or resolved; nothing to do.
		return nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE products p SET stock = p.stock + oi.quantity, updated_at = now()
		FROM order_items oi
		WHERE oi.order_id = $1 AND oi.product_id = p.id AND oi.stock_decremented`, orderID)
	if err != nil {
		return fmt.Errorf("restoring stock: %w", err)
	}

	failed := StatusFailed
	_, err = tx.Exec(ctx, `
		UPDATE orders SET status = $2, payment_status = $3, updated_at = now()
		WHERE id = $1`, orderID, failed, PaymentFailed)
	if err != nil {
		return fmt.Errorf("marking payment failed: %w", err)
	}

	if err := s.recordEvent(ctx, tx, orderID, "payment.failed", &current, &failed, nil); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
