// Package coupon manages discount codes and their validation.
package coupon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
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
	// ErrNotFound is returned when a coupon code does not exist.
	ErrNotFound = errors.New("coupon not found")
	// ErrDuplicateCode is returned when a coupon code is already taken.
	ErrDuplicateCode = errors.New("coupon code already exists")
	// ErrInactive is returned when the coupon has been disabled.
	ErrInactive = errors.New("coupon is not active")
	// ErrNotStarted is returned before the coupon's start date.
	ErrNotStarted = errors.New("coupon is not yet valid")
	// ErrExpired is returned after the coupon's end date.
	ErrExpired = errors.New("coupon has expired")
	// ErrUsageLimitReached is returned when the coupon's redemption limit is hit.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrMinSubtotal is returned when the order subtotal is below the coupon minimum.
	ErrMinSubtotal = errors.New("order subtotal below coupon minimum")
	// ErrNotApplicable is returned when no item in the order is eligible.
	ErrNotApplicable = errors.New("coupon does not apply to any item in the order")
)

// Coupon types.
const (
	TypePercentage = "percentage"
	TypeFixed      = "fixed"
)

// Coupon is a discount code. ProductIDs and Categories, when set, restrict
// the coupon to matching items; empty means store-wide.
type Coupon struct {
	ID          uuid.UUID
	Code        string
	Type        string
	Value       decimal.Decimal
	MinSubtotal decimal.Decimal
	UsageLimit  *int32
	UsedCount   int32
	StartsAt    *time.Time
	EndsAt      *time.Time
	ProductIDs  []uuid.UUID
	Categories  []string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LineItem is the slice of an order a coupon is checked against.
type LineItem struct {
	ProductID uuid.UUID
	Category  string
	UnitPrice decimal.Decimal
	Quantity  int32
}

// AppliesTo reports whether the coupon covers the given item. A coupon with
// neither product nor category restrictions covers everything.
func (c Coupon) AppliesTo(item LineItem) bool {
	if len(c.ProductIDs) == 0 && len(c.Categories) == 0 {
		return true
	}
	for _, id := range c.ProductIDs {
		if id == item.ProductID {
			return true
		}
	}
	for _, cat := range c.Categories {
		if strings.EqualFold(cat, item.Category) {
			return true
		}
	}
	return false
}

// eligibleSubtotal sums the line totals of items the coupon applies to.
func (c Coupon) eligibleSubtotal(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		if c.AppliesTo(item) {
			sum = sum.Add(item.UnitPrice.Mul(decimal.NewFromInt32(item.Quantity)))
		}
	}
	return sum
}

// Validate checks whether the coupon can be redeemed for the given order at
// the given time. subtotal is the full order subtotal; items are the order
// lines at their discounted unit prices.
func (c Coupon) Validate(now time.Time, subtotal decimal.Decimal, items []LineItem) error {
	if !c.IsActive {
		return ErrInactive
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return ErrNotStarted
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return ErrExpired
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return ErrUsageLimitReached
	}
	if subtotal.LessThan(c.MinSubtotal) {
		return ErrMinSubtotal
	}
	if c.eligibleSubtotal(items).IsZero() {
		return ErrNotApplicable
	}
	return nil
}

// Discount computes the discount amount for the given order lines.
// Percentage coupons take a cut of the eligible subtotal; fixed coupons
// subtract a flat amount. The result never exceeds the eligible subtotal,
// so a generous fixed coupon cannot push an order total negative.
func (c Coupon) Discount(items []LineItem) decimal.Decimal {
	eligible := c.eligibleSubtotal(items)
	if eligible.IsZero() {
		return decimal.Zero
	}

	var discount decimal.Decimal
	switch c.Type {
	case TypePercentage:
		discount = eligible.Mul(c.Value).Div(decimal.NewFromInt(100)).Round(2)
	case TypeFixed:
		discount = c.Value
	default:
		return decimal.Zero
	}

	if discount.GreaterThan(eligible) {
		return eligible
	}
	return discount
}

// Service provides business logic for coupon operations.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a new coupon service.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: logger,
	}
}

const couponColumns = `id, code, type, value, min_subtotal, usage_limit,
	used_count, starts_at, ends_at, product_ids, categories, is_active,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoupon(row rowScanner) (Coupon, error) {
	var (
		c     Coupon
		value pgtype.Numeric
		min   pgtype.Numeric
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Type, &value, &min, &c.UsageLimit, &c.UsedCount,
		&c.StartsAt, &c.EndsAt, &c.ProductIDs, &c.Categories, &c.IsActive,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return Coupon{}, err
	}
	c.Value = database.NumericToDecimal(value)
	c.MinSubtotal = database.NumericToDecimal(min)
	return c, nil
}

// NormalizeCode canonicalizes a user-entered coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GetByCode retrieves a coupon by its normalized code.
func (s *Service) GetByCode(ctx context.Context, code string) (Coupon, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE code = $1`, NormalizeCode(code))
	c, err := scanCoupon(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Coupon{}, ErrNotFound
		}
		return Coupon{}, fmt.Errorf("getting coupon: %w", err)
	}
	return c, nil
}

// CreateParams contains the fields needed to create a coupon.
type CreateParams struct {
	Code        string
	Type        string
	Value       decimal.Decimal
	MinSubtotal decimal.Decimal
	UsageLimit  *int32
	StartsAt    *time.Time
	EndsAt      *time.Time
	ProductIDs  []uuid.UUID
	Categories  []string
}

// Create inserts a new coupon. The code is stored normalized.
func (s *Service) Create(ctx context.Context, params CreateParams) (Coupon, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO coupons (id, code, type, value, min_subtotal, usage_limit,
			starts_at, ends_at, product_ids, categories)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+couponColumns,
		uuid.New(), NormalizeCode(params.Code), params.Type,
		database.DecimalToNumeric(params.Value),
		database.DecimalToNumeric(params.MinSubtotal),
		params.UsageLimit, params.StartsAt, params.EndsAt,
		params.ProductIDs, params.Categories,
	)

	c, err := scanCoupon(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Coupon{}, ErrDuplicateCode
		}
		return Coupon{}, fmt.Errorf("creating coupon: %w", err)
	}
	return c, nil
}

// List retrieves all coupons, newest first.
func (s *Service) List(ctx context.Context) ([]Coupon, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+couponColumns+` FROM coupons ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	defer rows.Close()

	var coupons []Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning coupon: %w", err)
		}
		coupons = append(coupons, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading coupons: %w", err)
	}
	return coupons, nil
}

// SetActive enables or disables a coupon.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE coupons SET is_active = $2, updated_at = now() WHERE id = $1`,
		id, active)
	if err != nil {
		return fmt.Errorf("setting coupon active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementUsage records one redemption of the coupon. Runs in the caller's
// transaction so the count moves exactly once per completed order.
func (s *Service) IncrementUsage(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE coupons SET used_count = used_count + 1, updated_at = now() WHERE id = $1`,
		id)
	if err != nil {
		return fmt.Errorf("incrementing coupon usage: %w", err)
	}
	return nil
}
