package checkout

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velouria-skin/api/internal/services/coupon"
	"github.com/velouria-skin/api/internal/services/product"
)

// Line is one requested order line with its product snapshot.
type Line struct {
	Product  product.Product
	Quantity int32
}

// QuotedItem is one priced order line.
type QuotedItem struct {
	ProductID uuid.UUID
	Title     string
	UnitPrice decimal.Decimal
	ListPrice decimal.Decimal
	Quantity  int32
	LineTotal decimal.Decimal
}

// Quote is the fully priced order: what the customer will actually pay.
type Quote struct {
	Items          []QuotedItem
	Subtotal       decimal.Decimal
	CouponDiscount decimal.Decimal
	ShippingFee    decimal.Decimal
	Total          decimal.Decimal
}

// Price computes the order quote from product snapshots and an optional
// coupon. It is a pure function; all catalog and coupon state comes in as
// arguments so the same engine prices real checkouts and tests identically.
//
// Rules:
//   - each item is charged at the product's sale price (own discount applied);
//   - per-product shipping charges are summed, but a product's charge is
//     waived when the order subtotal reaches its free-shipping threshold OR
//     the order's total quantity reaches its free-shipping minimum quantity;
//   - the coupon is validated against the subtotal and computed on the
//     pre-product-discount (list price) amounts of eligible items, capped so
//     the discount never exceeds the subtotal;
//   - total = max(0, subtotal - discount + shipping).
func Price(now time.Time, lines []Line, cpn *coupon.Coupon) (Quote, error) {
	var q Quote
	q.Subtotal = decimal.Zero

	var totalQty int32
	for _, line := range lines {
		sale := line.Product.SalePrice()
		lineTotal := sale.Mul(decimal.NewFromInt32(line.Quantity))
		q.Items = append(q.Items, QuotedItem{
			ProductID: line.Product.ID,
			Title:     line.Product.Title,
			UnitPrice: sale,
			ListPrice: line.Product.Price,
			Quantity:  line.Quantity,
			LineTotal: lineTotal,
		})
		q.Subtotal = q.Subtotal.Add(lineTotal)
		totalQty += line.Quantity
	}

	q.ShippingFee = shippingFee(lines, q.Subtotal, totalQty)

	if cpn != nil {
		couponItems := make([]coupon.LineItem, len(lines))
		for i, line := range lines {
			couponItems[i] = coupon.LineItem{
				ProductID: line.Product.ID,
				Category:  line.Product.Category,
				UnitPrice: line.Product.Price,
				Quantity:  line.Quantity,
			}
		}
		if err := cpn.Validate(now, q.Subtotal, couponItems); err != nil {
			return Quote{}, err
		}
		q.CouponDiscount = cpn.Discount(couponItems)
		if q.CouponDiscount.GreaterThan(q.Subtotal) {
			q.CouponDiscount = q.Subtotal
		}
	}

	q.Total = q.Subtotal.Sub(q.CouponDiscount).Add(q.ShippingFee)
	if q.Total.IsNegative() {
		q.Total = decimal.Zero
	}
	return q, nil
}

// shippingFee sums per-product shipping charges, waiving a product's charge
// when either of its free-shipping conditions is met.
func shippingFee(lines []Line, subtotal decimal.Decimal, totalQty int32) decimal.Decimal {
	fee := decimal.Zero
	for _, line := range lines {
		p := line.Product
		if !p.ShippingCharge.IsPositive() {
			continue
		}
		if p.FreeShippingThreshold != nil && subtotal.GreaterThanOrEqual(*p.FreeShippingThreshold) {
			continue
		}
		if p.FreeShippingMinQty != nil && totalQty >= *p.FreeShippingMinQty {
			continue
		}
		fee = fee.Add(p.ShippingCharge)
	}
	return fee
}
