package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velouria-skin/api/internal/database"
)

// ProductFixture describes a catalog row for tests. Zero values get
// sensible defaults in SeedProduct.
type ProductFixture struct {
	ID                    uuid.UUID
	Title                 string
	Slug                  string
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

// SeedProduct inserts a product and returns its ID.
func (tdb *TestDB) SeedProduct(t *testing.T, f ProductFixture) uuid.UUID {
	t.Helper()

	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.Title == "" {
		f.Title = "Test Serum"
	}
	if f.Slug == "" {
		f.Slug = "test-serum-" + f.ID.String()[:8]
	}
	if f.Category == "" {
		f.Category = "serums"
	}
	if f.Price.IsZero() {
		f.Price = decimal.NewFromInt(25)
	}
	if f.Stock == 0 {
		f.Stock = 100
	}

	_, err := tdb.Pool.Exec(context.Background(), `
		INSERT INTO products (id, title, slug, description, category, price,
			discount_type, discount_value, stock, cod_enabled, shipping_charge,
			free_shipping_threshold, free_shipping_min_qty)
		VALUES ($1, $2, $3, '', $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		f.ID, f.Title, f.Slug, f.Category,
		database.DecimalToNumeric(f.Price), f.DiscountType,
		database.DecimalPtrToNumeric(f.DiscountValue), f.Stock, f.CODEnabled,
		database.DecimalToNumeric(f.ShippingCharge),
		database.DecimalPtrToNumeric(f.FreeShippingThreshold), f.FreeShippingMinQty,
	)
	if err != nil {
		t.Fatalf("seeding product: %v", err)
	}
	return f.ID
}

// SeedCustomer inserts a customer with a throwaway password hash and
// returns the ID.
func (tdb *TestDB) SeedCustomer(t *testing.T, email string, isAdmin bool) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := tdb.Pool.Exec(context.Background(), `
		INSERT INTO customers (id, email, password_hash, full_name, is_admin)
		VALUES ($1, $2, '$2a$12$fixture.hash.not.a.real.credential000000000000000000', 'Test Customer', $3)`,
		id, email, isAdmin)
	if err != nil {
		t.Fatalf("seeding customer: %v", err)
	}
	return id
}

// CouponFixture describes a coupon row for tests.
type CouponFixture struct {
	Code        string
	Type        string
	Value       decimal.Decimal
	MinSubtotal decimal.Decimal
	UsageLimit  *int32
	ProductIDs  []uuid.UUID
	Categories  []string
}

// SeedCoupon inserts an active coupon and returns its ID.
func (tdb *TestDB) SeedCoupon(t *testing.T, f CouponFixture) uuid.UUID {
	t.Helper()

	if f.Type == "" {
		f.Type = "fixed"
	}

	id := uuid.New()
	_, err := tdb.Pool.Exec(context.Background(), `
		INSERT INTO coupons (id, code, type, value, min_subtotal, usage_limit,
			product_ids, categories)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, f.Code, f.Type,
		database.DecimalToNumeric(f.Value),
		database.DecimalToNumeric(f.MinSubtotal),
		f.UsageLimit, f.ProductIDs, f.Categories,
	)
	if err != nil {
		t.Fatalf("seeding coupon: %v", err)
	}
	return id
}
