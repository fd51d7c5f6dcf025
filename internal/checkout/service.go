package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	stripesdk "github.com/stripe/stripe-go/v82"

	"github.com/velouria-skin/api/internal/events"
	"github.com/velouria-skin/api/internal/metrics"
	"github.com/velouria-skin/api/internal/services/cart"
	"github.com/velouria-skin/api/internal/services/coupon"
	"github.com/velouria-skin/api/internal/services/customer"
	"github.com/velouria-skin/api/internal/services/order"
	"github.com/velouria-skin/api/internal/services/product"
	"github.com/velouria-skin/api/internal/stripe"
)

var (
	// ErrEmptyOrder is returned when a checkout has no items.
	ErrEmptyOrder = errors.New("checkout requires at least one item")
	// ErrInvalidProduct is returned when an item references a missing or
	// inactive product.
	ErrInvalidProduct = errors.New("invalid product in checkout")
	// ErrOutOfStock is returned when an item exceeds available stock.
	ErrOutOfStock = errors.New("insufficient stock for product")
	// ErrCODNotSupported is returned when a cash-on-delivery checkout
	// contains a product that does not allow it.
	ErrCODNotSupported = errors.New("cash on delivery not available for product")
	// ErrSessionNotPaid is returned by payment verification when the
	// Stripe session has not been paid.
	ErrSessionNotPaid = errors.New("checkout session is not paid")
)

// PaymentProvider is the slice of the payment processor the checkout
// pipeline needs. Satisfied by *stripe.Service; tests supply a fake.
type PaymentProvider interface {
	CreateCheckoutSession(input stripe.SessionInput) (stripe.SessionResult, error)
	GetCheckoutSession(sessionID string) (*stripesdk.CheckoutSession, error)
}

// Config carries the storefront settings the checkout pipeline needs.
type Config struct {
	// Currency is the three-letter ISO code all orders are priced in.
	Currency string
	// SuccessURL should contain {CHECKOUT_SESSION_ID} so the storefront
	// can verify payment if it beats the webhook.
	SuccessURL string
	CancelURL  string
}

// Service orchestrates checkout: pricing, direct order creation for free
// and cash-on-delivery orders, and Stripe session creation for card
// payments.
type Service struct {
	pool      *pgxpool.Pool
	products  *product.Service
	coupons   *coupon.Service
	carts     *cart.Service
	orders    *order.Service
	customers *customer.Service
	provider  PaymentProvider
	publisher events.Publisher
	cfg       Config
	logger    *slog.Logger
}

// NewService creates a checkout service.
func NewService(
	pool *pgxpool.Pool,
	products *product.Service,
	coupons *coupon.Service,
	carts *cart.Service,
	orders *order.Service,
	customers *customer.Service,
	provider PaymentProvider,
	publisher events.Publisher,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		pool:      pool,
		products:  products,
		coupons:   coupons,
		carts:     carts,
		orders:    orders,
		customers: customers,
		provider:  provider,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// RequestItem is one line of a checkout request.
type RequestItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int32     `json:"quantity"`
}

// Request is a customer's checkout submission.
type Request struct {
	Items           []RequestItem `json:"items"`
	CouponCode      string        `json:"coupon_code,omitempty"`
	ShippingAddress order.Address `json:"shipping_address"`
	PaymentMethod   string        `json:"payment_method"`
}

// Result is the outcome of initiating a checkout: either a Stripe URL to
// redirect to, or an already-created order (free and COD paths).
type Result struct {
	CheckoutURL string
	Order       *order.Order
}

// Checkout prices the request and dispatches on payment path:
//   - zero total: the order is created immediately, confirmed and paid;
//   - cash on delivery: the order is created confirmed with payment pending,
//     provided every product allows COD;
//   - otherwise: a Stripe Checkout Session is created carrying the encoded
//     order intent, and no order exists until payment is confirmed.
func (s *Service) Checkout(ctx context.Context, customerID uuid.UUID, req Request) (Result, error) {
	if len(req.Items) == 0 {
		return Result{}, ErrEmptyOrder
	}

	cust, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return Result{}, err
	}

	lines, err := s.resolveLines(ctx, req.Items)
	if err != nil {
		return Result{}, err
	}

	var cpn *coupon.Coupon
	if req.CouponCode != "" {
		c, err := s.coupons.GetByCode(ctx, req.CouponCode)
		if err != nil {
			return Result{}, err
		}
		cpn = &c
	}

	quote, err := Price(time.Now().UTC(), lines, cpn)
	if err != nil {
		return Result{}, err
	}

	intent := buildIntent(customerID, cust.Email, quote, cpn, req.ShippingAddress)

	if quote.Total.IsZero() {
		o, err := s.createDirectOrder(ctx, intent, order.PaymentCompleted)
		if err != nil {
			return Result{}, err
		}
		return Result{Order: &o}, nil
	}

	if req.PaymentMethod == order.MethodCOD {
		for _, line := range lines {
			if !line.Product.CODEnabled {
				return Result{}, fmt.Errorf("%w: %s", ErrCODNotSupported, line.Product.Title)
			}
		}
		o, err := s.createDirectOrder(ctx, intent, order.PaymentPending)
		if err != nil {
			return Result{}, err
		}
		return Result{Order: &o}, nil
	}

	md, err := EncodeMetadata(intent)
	if err != nil {
		return Result{}, err
	}

	sessionItems := make([]stripe.SessionItem, len(quote.Items))
	for i, item := range quote.Items {
		sessionItems[i] = stripe.SessionItem{
			Name:       item.Title,
			Quantity:   int64(item.Quantity),
			UnitAmount: toCents(item.UnitPrice),
			ProductID:  item.ProductID.String(),
		}
	}
	// Coupon discounts were already folded into the totals; spread the
	// discount by charging the discounted grand total via a single
	// adjustment line when one exists.
	if intent.CouponDiscount.IsPositive() {
		sessionItems = discountedSessionItems(quote)
	}

	result, err := s.provider.CreateCheckoutSession(stripe.SessionInput{
		Email:       cust.Email,
		SuccessURL:  s.cfg.SuccessURL,
		CancelURL:   s.cfg.CancelURL,
		Items:       sessionItems,
		ShippingFee: quote.ShippingFee,
		Currency:    s.cfg.Currency,
		Metadata:    md,
	})
	if err != nil {
		return Result{}, err
	}

	metrics.CheckoutSessions.Inc()
	s.logger.Info("checkout session initiated",
		slog.String("customer_id", customerID.String()),
		slog.String("session_id", result.SessionID),
		slog.String("total", quote.Total.StringFixed(2)),
	)
	return Result{CheckoutURL: result.SessionURL}, nil
}

// resolveLines loads and validates the products behind the request items.
func (s *Service) resolveLines(ctx context.Context, items []RequestItem) ([]Line, error) {
	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidProduct)
		}
		ids[i] = item.ProductID
	}

	products, err := s.products.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	lines := make([]Line, len(items))
	for i, item := range items {
		p, ok := products[item.ProductID]
		if !ok || !p.IsActive {
			return nil, fmt.Errorf("%w: %s", ErrInvalidProduct, item.ProductID)
		}
		if p.Stock < item.Quantity {
			return nil, fmt.Errorf("%w: %s", ErrOutOfStock, p.Title)
		}
		lines[i] = Line{Product: p, Quantity: item.Quantity}
	}
	return lines, nil
}

// buildIntent snapshots a priced quote into an order intent.
func buildIntent(customerID uuid.UUID, email string, quote Quote, cpn *coupon.Coupon, addr order.Address) OrderIntent {
	intent := OrderIntent{
		CustomerID:      customerID,
		Email:           email,
		Subtotal:        quote.Subtotal,
		Discount:        quote.CouponDiscount,
		ShippingFee:     quote.ShippingFee,
		Total:           quote.Total,
		ShippingAddress: addr,
	}
	for _, item := range quote.Items {
		intent.Items = append(intent.Items, IntentItem{
			ProductID: item.ProductID,
			Title:     item.Title,
			UnitPrice: item.UnitPrice,
			ListPrice: item.ListPrice,
			Quantity:  item.Quantity,
		})
	}
	if cpn != nil {
		intent.CouponCode = cpn.Code
		intent.CouponType = cpn.Type
		intent.CouponValue = cpn.Value
		intent.CouponDiscount = quote.CouponDiscount
	}
	return intent
}

// discountedSessionItems distributes a coupon discount across Stripe line
// items proportionally, since Checkout has no negative line items. Each line
// becomes a quantity-1 item at its discounted line total; the last item
// absorbs any rounding remainder so the charged total matches exactly.
func discountedSessionItems(quote Quote) []stripe.SessionItem {
	discounted := quote.Subtotal.Sub(quote.CouponDiscount)
	items := make([]stripe.SessionItem, len(quote.Items))
	remaining := toCents(discounted)

	for i, item := range quote.Items {
		var share int64
		if i == len(quote.Items)-1 {
			share = remaining
		} else if quote.Subtotal.IsPositive() {
			share = toCents(item.LineTotal.Mul(discounted).Div(quote.Subtotal).Round(2))
		}
		items[i] = stripe.SessionItem{
			Name:       item.Title,
			Quantity:   1,
			UnitAmount: share,
			ProductID:  item.ProductID.String(),
		}
		remaining -= share
	}
	return items
}

func toCents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
