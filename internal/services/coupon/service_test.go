package coupon

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func i32p(v int32) *int32 { return &v }

func timep(t time.Time) *time.Time { return &t }

func item(price string, qty int32) LineItem {
	return LineItem{ProductID: uuid.New(), Category: "serums", UnitPrice: dec(price), Quantity: qty}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode("  save10 "); got != "SAVE10" {
		t.Errorf("NormalizeCode = %q, want SAVE10", got)
	}
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	items := []LineItem{item("50.00", 2)}
	base := Coupon{
		Code:     "SAVE10",
		Type:     TypeFixed,
		Value:    dec("10"),
		IsActive: true,
	}

	tests := []struct {
		name    string
		mutate  func(*Coupon)
		wantErr error
	}{
		{"valid", func(c *Coupon) {}, nil},
		{"inactive", func(c *Coupon) { c.IsActive = false }, ErrInactive},
		{"not started", func(c *Coupon) { c.StartsAt = timep(now.Add(time.Hour)) }, ErrNotStarted},
		{"expired", func(c *Coupon) { c.EndsAt = timep(now.Add(-time.Hour)) }, ErrExpired},
		{"within window", func(c *Coupon) {
			c.StartsAt = timep(now.Add(-time.Hour))
			c.EndsAt = timep(now.Add(time.Hour))
		}, nil},
		{"usage limit reached", func(c *Coupon) {
			c.UsageLimit = i32p(5)
			c.UsedCount = 5
		}, ErrUsageLimitReached},
		{"usage below limit", func(c *Coupon) {
			c.UsageLimit = i32p(5)
			c.UsedCount = 4
		}, nil},
		{"min subtotal", func(c *Coupon) { c.MinSubtotal = dec("150") }, ErrMinSubtotal},
		{"no eligible items", func(c *Coupon) { c.ProductIDs = []uuid.UUID{uuid.New()} }, ErrNotApplicable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate(now, dec("100.00"), items)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDiscount(t *testing.T) {
	t.Run("fixed", func(t *testing.T) {
		c := Coupon{Type: TypeFixed, Value: dec("10")}
		got := c.Discount([]LineItem{item("50.00", 2)})
		if !got.Equal(dec("10")) {
			t.Errorf("Discount = %s, want 10", got)
		}
	})

	t.Run("percentage", func(t *testing.T) {
		c := Coupon{Type: TypePercentage, Value: dec("20")}
		got := c.Discount([]LineItem{item("50.00", 2)})
		if !got.Equal(dec("20.00")) {
			t.Errorf("Discount = %s, want 20.00", got)
		}
	})

	t.Run("fixed capped at eligible subtotal", func(t *testing.T) {
		c := Coupon{Type: TypeFixed, Value: dec("100")}
		got := c.Discount([]LineItem{item("15.00", 1)})
		if !got.Equal(dec("15.00")) {
			t.Errorf("Discount = %s, want 15.00", got)
		}
	})

	t.Run("scoped to category", func(t *testing.T) {
		eligible := LineItem{ProductID: uuid.New(), Category: "serums", UnitPrice: dec("40.00"), Quantity: 1}
		other := LineItem{ProductID: uuid.New(), Category: "cleansers", UnitPrice: dec("60.00"), Quantity: 1}
		c := Coupon{Type: TypePercentage, Value: dec("50"), Categories: []string{"Serums"}}

		got := c.Discount([]LineItem{eligible, other})
		if !got.Equal(dec("20.00")) {
			t.Errorf("Discount = %s, want 20.00 (half of the eligible 40)", got)
		}
	})

	t.Run("scoped to product", func(t *testing.T) {
		target := LineItem{ProductID: uuid.New(), Category: "masks", UnitPrice: dec("25.00"), Quantity: 2}
		other := LineItem{ProductID: uuid.New(), Category: "masks", UnitPrice: dec("99.00"), Quantity: 1}
		c := Coupon{Type: TypeFixed, Value: dec("5"), ProductIDs: []uuid.UUID{target.ProductID}}

		got := c.Discount([]LineItem{target, other})
		if !got.Equal(dec("5")) {
			t.Errorf("Discount = %s, want 5", got)
		}
	})
}
