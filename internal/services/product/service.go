// Package product provides catalog and inventory operations.
package product

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
	"github.com/velouria-skin/api/internal/metrics"
)

var (
	// ErrNotFound is returned when a product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrDuplicateSlug is returned when a product slug is already taken.
	ErrDuplicateSlug = errors.New("product slug already exists")
	// ErrInsufficientStock is returned when a stock decrement would go negative.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Discount types supported on a product.
const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

// Product is a catalog item.
type Product struct {
	ID                    uuid.UUID
	Title                 string
	Slug                  string
	Description           string
	Category              string
	Price                 decimal.Decimal
	DiscountType          *string
	DiscountValue         *decimal.Decimal
	Stock                 int32
	CODEnabled            bool
	ShippingCharge        decimal.Decimal
	FreeShippingThreshold *decimal.Decimal
	FreeShippingMinQty    *int32
	IsActive              bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SalePrice returns the effective per-unit price after the product's own
// discount. Percentage discounts are applied against the list price and
// rounded to 2 decimal places; fixed discounts subtract a flat amount and
// never go below zero.
func (p Product) SalePrice() decimal.Decimal {
	if p.DiscountType == nil || p.DiscountValue == nil {
		return p.Price
	}
	switch *p.DiscountType {
	case DiscountPercentage:
		factor := decimal.NewFromInt(100).Sub(*p.DiscountValue).Div(decimal.NewFromInt(100))
		return p.Price.Mul(factor).Round(2)
	case DiscountFixed:
		sale := p.Price.Sub(*p.DiscountValue)
		if sale.IsNegative() {
			return decimal.Zero
		}
		return sale
	default:
		return p.Price
	}
}

// Service provides business logic for product operations.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a new product service.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: logger,
	}
}

const productColumns = `id, title, slug, description, category, price,
	discount_type, discount_value, stock, cod_enabled, shipping_charge,
	free_shipping_threshold, free_shipping_min_qty, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var (
		p         Product
		price     pgtype.Numeric
		discVal   pgtype.Numeric
		shipping  pgtype.Numeric
		threshold pgtype.Numeric
	)
	err := row.Scan(
		&p.ID, &p.Title, &p.Slug, &p.Description, &p.Category, &price,
		&p.DiscountType, &discVal, &p.Stock, &p.CODEnabled, &shipping,
		&threshold, &p.FreeShippingMinQty, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Product{}, err
	}
	p.Price = database.NumericToDecimal(price)
	p.DiscountValue = database.NumericToDecimalPtr(discVal)
	p.ShippingCharge = database.NumericToDecimal(shipping)
	p.FreeShippingThreshold = database.NumericToDecimalPtr(threshold)
	return p, nil
}

// CreateParams contains the fields needed to create a product. An empty
// Slug is derived from the title.
type CreateParams struct {
	Title                 string
	Slug                  string
	Description           string
	Category              string
	Price                 decimal.Decimal
	DiscountType          *string
	DiscountValue         *decimal.Decimal
	Stock                 int32
	CODEnabled            bool
	ShippingCharge        decimal.Decimal
	FreeShippingThreshold *decimal.Decimal
	FreeShippingMinQty    *int32
}

// Create inserts a new product.
func (s *Service) Create(ctx context.Context, params CreateParams) (Product, error) {
	if params.Slug == "" {
		params.Slug = slugify(params.Title)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO products (id, title, slug, description, category, price,
			discount_type, discount_value, stock, cod_enabled, shipping_charge,
			free_shipping_threshold, free_shipping_min_qty)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+productColumns,
		uuid.New(), params.Title, params.Slug, params.Description, params.Category,
		database.DecimalToNumeric(params.Price), params.DiscountType,
		database.DecimalPtrToNumeric(params.DiscountValue), params.Stock,
		params.CODEnabled, database.DecimalToNumeric(params.ShippingCharge),
		database.DecimalPtrToNumeric(params.FreeShippingThreshold), params.FreeShippingMinQty,
	)

	p, err := scanProduct(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Product{}, ErrDuplicateSlug
		}
		return Product{}, fmt.Errorf("creating product: %w", err)
	}
	return p, nil
}

// Get retrieves a product by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("getting product: %w", err)
	}
	return p, nil
}

// GetBySlug retrieves an active product by its URL slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (Product, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE slug = $1 AND is_active`, slug)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("getting product by slug: %w", err)
	}
	return p, nil
}

// GetMany retrieves products by ID, keyed by ID. Missing IDs are simply
// absent from the result; callers decide whether that is an error.
func (s *Service) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID]Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading products: %w", err)
	}
	return result, nil
}

// ListParams filters the product listing.
type ListParams struct {
	Category        string
	IncludeInactive bool
	Limit           int32
	Offset          int32
}

// List retrieves products, newest first.
func (s *Service) List(ctx context.Context, params ListParams) ([]Product, error) {
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE ($1 = '' OR category = $1)
		  AND ($2 OR is_active)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`,
		params.Category, params.IncludeInactive, params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading products: %w", err)
	}
	return products, nil
}

// UpdateParams contains the fields that can be updated on a product.
// Nil pointers leave the column unchanged.
type UpdateParams struct {
	Title                 *string
	Description           *string
	Category              *string
	Price                 *decimal.Decimal
	DiscountType          *string
	DiscountValue         *decimal.Decimal
	Stock                 *int32
	CODEnabled            *bool
	ShippingCharge        *decimal.Decimal
	FreeShippingThreshold *decimal.Decimal
	FreeShippingMinQty    *int32
	IsActive              *bool
}

// Update applies a partial update to a product.
func (s *Service) Update(ctx context.Context, id uuid.UUID, params UpdateParams) (Product, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE products SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			category = COALESCE($4, category),
			price = COALESCE($5, price),
			discount_type = COALESCE($6, discount_type),
			discount_value = COALESCE($7, discount_value),
			stock = COALESCE($8, stock),
			cod_enabled = COALESCE($9, cod_enabled),
			shipping_charge = COALESCE($10, shipping_charge),
			free_shipping_threshold = COALESCE($11, free_shipping_threshold),
			free_shipping_min_qty = COALESCE($12, free_shipping_min_qty),
			is_active = COALESCE($13, is_active),
			updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		id, params.Title, params.Description, params.Category,
		database.DecimalPtrToNumeric(params.Price), params.DiscountType,
		database.DecimalPtrToNumeric(params.DiscountValue), params.Stock,
		params.CODEnabled, database.DecimalPtrToNumeric(params.ShippingCharge),
		database.DecimalPtrToNumeric(params.FreeShippingThreshold),
		params.FreeShippingMinQty, params.IsActive,
	)

	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("updating product: %w", err)
	}
	return p, nil
}

// Deactivate soft-deletes a product by marking it inactive. Existing orders
// keep their copied line item data, so nothing else changes.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET is_active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivating product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DecrementStock atomically reduces stock for a product, failing with
// ErrInsufficientStock if fewer than quantity units remain. The conditional
// UPDATE makes concurrent decrements safe without explicit locking. Runs in
// the caller's transaction so a failed order leaves stock untouched.
func (s *Service) DecrementStock(ctx context.Context, tx pgx.Tx, id uuid.UUID, quantity int32) error {
	tag, err := tx.Exec(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = now()
		 WHERE id = $1 AND stock >= $2`, id, quantity)
	if err != nil {
		return fmt.Errorf("decrementing stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		metrics.StockDecrementFailures.Inc()
		return ErrInsufficientStock
	}
	return nil
}

// RestoreStock adds quantity units back to a product, used when an order is
// cancelled. Runs in the caller's transaction.
func (s *Service) RestoreStock(ctx context.Context, tx pgx.Tx, id uuid.UUID, quantity int32) error {
	_, err := tx.Exec(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`,
		id, quantity)
	if err != nil {
		return fmt.Errorf("restoring stock: %w", err)
	}
	return nil
}
