package checkout

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velouria-skin/api/internal/services/coupon"
	"github.com/velouria-skin/api/internal/services/product"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func strp(s string) *string { return &s }

func i32p(v int32) *int32 { return &v }

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func serum(price string) product.Product {
	return product.Product{
		ID:       uuid.New(),
		Title:    "Hydrating Serum",
		Category: "serums",
		Price:    dec(price),
		Stock:    100,
		IsActive: true,
	}
}

func TestPrice_NoCouponNoShipping(t *testing.T) {
	q, err := Price(testNow, []Line{{Product: serum("25.00"), Quantity: 4}}, nil)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !q.Subtotal.Equal(dec("100.00")) {
		t.Errorf("Subtotal = %s, want 100.00", q.Subtotal)
	}
	if !q.Total.Equal(dec("100.00")) {
		t.Errorf("Total = %s, want 100.00", q.Total)
	}
}

func TestPrice_FixedCoupon(t *testing.T) {
	cpn := &coupon.Coupon{Code: "SAVE10", Type: coupon.TypeFixed, Value: dec("10"), IsActive: true}

	q, err := Price(testNow, []Line{{Product: serum("50.00"), Quantity: 2}}, cpn)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !q.Subtotal.Equal(dec("100.00")) {
		t.Errorf("Subtotal = %s, want 100.00", q.Subtotal)
	}
	if !q.CouponDiscount.Equal(dec("10")) {
		t.Errorf("CouponDiscount = %s, want 10", q.CouponDiscount)
	}
	if !q.Total.Equal(dec("90.00")) {
		t.Errorf("Total = %s, want 90.00", q.Total)
	}
}

func TestPrice_PercentageCoupon(t *testing.T) {
	cpn := &coupon.Coupon{Code: "SPRING20", Type: coupon.TypePercentage, Value: dec("20"), IsActive: true}

	q, err := Price(testNow, []Line{{Product: serum("100.00"), Quantity: 1}}, cpn)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !q.CouponDiscount.Equal(dec("20.00")) {
		t.Errorf("CouponDiscount = %s, want 20.00", q.CouponDiscount)
	}
	if !q.Total.Equal(dec("80.00")) {
		t.Errorf("Total = %s, want 80.00", q.Total)
	}
}

func TestPrice_ProductDiscountApplied(t *testing.T) {
	p := serum("40.00")
	p.DiscountType = strp(product.DiscountPercentage)
	p.DiscountValue = decp("25")

	q, err := Price(testNow, []Line{{Product: p, Quantity: 2}}, nil)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !q.Subtotal.Equal(dec("60.00")) {
		t.Errorf("Subtotal = %s, want 60.00 (2 x 30 sale price)", q.Subtotal)
	}
	if !q.Items[0].UnitPrice.Equal(dec("30.00")) {
		t.Errorf("UnitPrice = %s, want 30.00", q.Items[0].UnitPrice)
	}
	if !q.Items[0].ListPrice.Equal(dec("40.00")) {
		t.Errorf("ListPrice = %s, want 40.00", q.Items[0].ListPrice)
	}
}

func TestPrice_DiscountNeverExceedsSubtotal(t *testing.T) {
	// Product discount halves the subtotal; the coupon percentage is
	// computed on list prices, so the cap has to bite.
	p := serum("100.00")
	p.DiscountType = strp(product.DiscountPercentage)
	p.DiscountValue = decp("90")

	cpn := &coupon.Coupon{Code: "BIG", Type: coupon.TypePercentage, Value: dec("50"), IsActive: true}

	q, err := Price(testNow, []Line{{Product: p, Quantity: 1}}, cpn)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !q.CouponDiscount.Equal(q.Subtotal) {
		t.Errorf("CouponDiscount = %s, want capped at subtotal %s", q.CouponDiscount, q.Subtotal)
	}
	if !q.Total.IsZero() {
		t.Errorf("Total = %s, want 0", q.Total)
	}
}

func TestPrice_ShippingCharged(t *testing.T) {
	p := serum("20.00")
	p.ShippingCharge = dec("5.00")

	q, err := Price(testNow, []Line{{Product: p, Quantity: 1}}, nil)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !q.ShippingFee.Equal(dec("5.00")) {
		t.Errorf("ShippingFee = %s, want 5.00", q.ShippingFee)
	}
	if !q.Total.Equal(dec("25.00")) {
		t.Errorf("Total = %s, want 25.00", q.Total)
	}
}

func TestPrice_FreeShippingBySubtotal(t *testing.T) {
	p := serum("50.00")
	p.ShippingCharge = dec("5.00")
	p.FreeShippingThreshold = decp("100")

	q, err := Price(testNow, []Line{{Product: p, Quantity: 2}}, nil)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !q.ShippingFee.IsZero() {
		t.Errorf("ShippingFee = %s, want 0 (subtotal 100 meets threshold)", q.ShippingFee)
	}
}

func TestPrice_FreeShippingByQuantity(t *testing.T) {
	p := serum("10.00")
	p.ShippingCharge = dec("5.00")
	p.FreeShippingThreshold = decp("100")
	p.FreeShippingMinQty = i32p(5)

	// Subtotal 50 misses the threshold but quantity 5 meets the minimum:
	// OR semantics waive the charge.
	q, err := Price(testNow, []Line{{Product: p, Quantity: 5}}, nil)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !q.ShippingFee.IsZero() {
		t.Errorf("ShippingFee = %s, want 0 (qty 5 meets min qty)", q.ShippingFee)
	}
}

func TestPrice_ShippingWhenNeitherConditionMet(t *testing.T) {
	p := serum("10.00")
	p.ShippingCharge = dec("5.00")
	p.FreeShippingThreshold = decp("100")
	p.FreeShippingMinQty = i32p(5)

	q, err := Price(testNow, []Line{{Product: p, Quantity: 2}}, nil)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !q.ShippingFee.Equal(dec("5.00")) {
		t.Errorf("ShippingFee = %s, want 5.00", q.ShippingFee)
	}
}

func TestPrice_InvalidCouponRejected(t *testing.T) {
	cpn := &coupon.Coupon{Code: "OLD", Type: coupon.TypeFixed, Value: dec("10"), IsActive: false}

	_, err := Price(testNow, []Line{{Product: serum("50.00"), Quantity: 1}}, cpn)
	if !errors.Is(err, coupon.ErrInactive) {
		t.Errorf("Price() error = %v, want ErrInactive", err)
	}
}

func TestPrice_TotalInvariant(t *testing.T) {
	p := serum("30.00")
	p.ShippingCharge = dec("4.50")
	cpn := &coupon.Coupon{Code: "SAVE10", Type: coupon.TypeFixed, Value: dec("10"), IsActive: true}

	q, err := Price(testNow, []Line{{Product: p, Quantity: 2}}, cpn)
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	want := q.Subtotal.Sub(q.CouponDiscount).Add(q.ShippingFee)
	if !q.Total.Equal(want) {
		t.Errorf("Total = %s, want subtotal - discount + shipping = %s", q.Total, want)
	}
	if q.CouponDiscount.GreaterThan(q.Subtotal) {
		t.Errorf("discount %s exceeds subtotal %s", q.CouponDiscount, q.Subtotal)
	}
}
