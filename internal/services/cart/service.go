// Package cart manages per-customer shopping carts.
package cart

import (
	"context"
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
	// ErrNotFound is returned when a cart does not exist.
	ErrNotFound = errors.New("cart not found")
	// ErrItemNotFound is returned when a cart item does not exist.
	ErrItemNotFound = errors.New("cart item not found")
	// ErrInvalidQuantity is returned when quantity is less than 1.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrProductUnavailable is returned when the product is inactive or
	// has no stock.
	ErrProductUnavailable = errors.New("product is unavailable")
)

// Cart is a customer's open cart. Each customer has at most one.
type Cart struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	CouponCode *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Item is a cart line joined with current product data.
type Item struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	Title     string
	Category  string
	UnitPrice decimal.Decimal
	SalePrice decimal.Decimal
	Quantity  int32
	Stock     int32
}

// Service provides business logic for cart operations.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a new cart service.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: logger,
	}
}

// GetOrCreate returns the customer's cart, creating an empty one on first
// use. The ON CONFLICT clause makes concurrent first requests safe.
func (s *Service) GetOrCreate(ctx context.Context, customerID uuid.UUID) (Cart, error) {
	var c Cart
	err := s.pool.QueryRow(ctx, `
		INSERT INTO carts (id, customer_id)
		VALUES ($1, $2)
		ON CONFLICT (customer_id) DO UPDATE SET updated_at = carts.updated_at
		RETURNING id, customer_id, coupon_code, created_at, updated_at`,
		uuid.New(), customerID,
	).Scan(&c.ID, &c.CustomerID, &c.CouponCode, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Cart{}, fmt.Errorf("getting or creating cart: %w", err)
	}
	return c, nil
}

// AddItem adds a product to the customer's cart. If the product is already
// in the cart the quantity is incremented (ON CONFLICT upsert). Inactive
// products cannot be added.
func (s *Service) AddItem(ctx context.Context, customerID, productID uuid.UUID, quantity int32) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	c, err := s.GetOrCreate(ctx, customerID)
	if err != nil {
		return err
	}

	var active bool
	var stock int32
	err = s.pool.QueryRow(ctx,
		`SELECT is_active, stock FROM products WHERE id = $1`, productID,
	).Scan(&active, &stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProductUnavailable
		}
		return fmt.Errorf("checking product availability: %w", err)
	}
	if !active || stock < 1 {
		return ErrProductUnavailable
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO cart_items (id, cart_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity,
		              updated_at = now()`,
		uuid.New(), c.ID, productID, quantity)
	if err != nil {
		return fmt.Errorf("adding cart item: %w", err)
	}
	return nil
}

// UpdateItemQuantity sets the quantity of a cart item.
func (s *Service) UpdateItemQuantity(ctx context.Context, customerID, itemID uuid.UUID, quantity int32) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE cart_items SET quantity = $3, updated_at = now()
		WHERE id = $2
		  AND cart_id = (SELECT id FROM carts WHERE customer_id = $1)`,
		customerID, itemID, quantity)
	if err != nil {
		return fmt.Errorf("updating cart item quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// RemoveItem removes a single item from the customer's cart.
func (s *Service) RemoveItem(ctx context.Context, customerID, itemID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM cart_items
		WHERE id = $2
		  AND cart_id = (SELECT id FROM carts WHERE customer_id = $1)`,
		customerID, itemID)
	if err != nil {
		return fmt.Errorf("removing cart item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// ListItems retrieves the cart's items joined with current product data.
// Both the list price and the product's own discounted price are returned
// so the storefront can show strikethrough pricing.
func (s *Service) ListItems(ctx context.Context, customerID uuid.UUID) ([]Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ci.id, ci.product_id, p.title, p.category, p.price,
		       p.discount_type, p.discount_value, ci.quantity, p.stock
		FROM cart_items ci
		JOIN carts c ON c.id = ci.cart_id
		JOIN products p ON p.id = ci.product_id
		WHERE c.customer_id = $1 AND p.is_active
		ORDER BY ci.created_at`,
		customerID)
	if err != nil {
		return nil, fmt.Errorf("listing cart items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it       Item
			price    pgtype.Numeric
			discType *string
			discVal  pgtype.Numeric
		)
		if err := rows.Scan(&it.ID, &it.ProductID, &it.Title, &it.Category,
			&price, &discType, &discVal, &it.Quantity, &it.Stock); err != nil {
			return nil, fmt.Errorf("scanning cart item: %w", err)
		}
		it.UnitPrice = database.NumericToDecimal(price)
		it.SalePrice = salePrice(it.UnitPrice, discType, database.NumericToDecimalPtr(discVal))
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading cart items: %w", err)
	}
	return items, nil
}

// ApplyCoupon attaches a coupon code to the cart. The code is validated at
// checkout time, not here, so an expired code fails late with a clear error
// rather than silently disappearing from the cart.
func (s *Service) ApplyCoupon(ctx context.Context, customerID uuid.UUID, code string) error {
	c, err := s.GetOrCreate(ctx, customerID)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE carts SET coupon_code = $2, updated_at = now() WHERE id = $1`,
		c.ID, code)
	if err != nil {
		return fmt.Errorf("applying coupon to cart: %w", err)
	}
	return nil
}

// RemoveCoupon detaches any coupon code from the cart.
func (s *Service) RemoveCoupon(ctx context.Context, customerID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE carts SET coupon_code = NULL, updated_at = now() WHERE customer_id = $1`,
		customerID)
	if err != nil {
		return fmt.Errorf("removing coupon from cart: %w", err)
	}
	return nil
}

// Clear removes all items and the coupon from the customer's cart, called
// after an order is placed. Runs in the caller's transaction when one is
// supplied so order creation and cart clearing commit together.
func (s *Service) Clear(ctx context.Context, tx pgx.Tx, customerID uuid.UUID) error {
	var exec execer = s.pool
	if tx != nil {
		exec = tx
	}

	_, err := exec.Exec(ctx, `
		DELETE FROM cart_items
		WHERE cart_id = (SELECT id FROM carts WHERE customer_id = $1)`,
		customerID)
	if err != nil {
		return fmt.Errorf("clearing cart items: %w", err)
	}

	_, err = exec.Exec(ctx,
		`UPDATE carts SET coupon_code = NULL, updated_at = now() WHERE customer_id = $1`,
		customerID)
	if err != nil {
		return fmt.Errorf("resetting cart coupon: %w", err)
	}
	return nil
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// salePrice mirrors the product package's discount logic for joined rows.
func salePrice(price decimal.Decimal, discType *string, discVal *decimal.Decimal) decimal.Decimal {
	if discType == nil || discVal == nil {
		return price
	}
	switch *discType {
	case "percentage":
		factor := decimal.NewFromInt(100).Sub(*discVal).Div(decimal.NewFromInt(100))
		return price.Mul(factor).Round(2)
	case "fixed":
		sale := price.Sub(*discVal)
		if sale.IsNegative() {
			return decimal.Zero
		}
		return sale
	default:
		return price
	}
}
