package checkout_test

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	stripesdk "github.com/stripe/stripe-go/v82"

	"github.com/velouria-skin/api/internal/checkout"
	"github.com/velouria-skin/api/internal/services/cart"
	"github.com/velouria-skin/api/internal/services/coupon"
	"github.com/velouria-skin/api/internal/services/customer"
	"github.com/velouria-skin/api/internal/services/order"
	"github.com/velouria-skin/api/internal/services/product"
	"github.com/velouria-skin/api/internal/stripe"
	"github.com/velouria-skin/api/internal/testutil"
)

var testDB *testutil.TestDB

func TestMain(m *testing.M) {
	var code int
	defer func() { os.Exit(code) }()

	db, err := testutil.SetupTestDB()
	if err != nil {
		log.Fatalf("setting up test database: %v", err)
	}
	defer db.Close()
	testDB = db

	code = m.Run()
}

// fakeProvider stands in for Stripe. It captures the session input so tests
// can feed the metadata back through reconciliation.
type fakeProvider struct {
	lastInput stripe.SessionInput
	session   *stripesdk.CheckoutSession
	err       error
}

func (f *fakeProvider) CreateCheckoutSession(input stripe.SessionInput) (stripe.SessionResult, error) {
	if f.err != nil {
		return stripe.SessionResult{}, f.err
	}
	f.lastInput = input
	return stripe.SessionResult{
		SessionID:  "cs_test_fake",
		SessionURL: "https://checkout.stripe.test/cs_test_fake",
	}, nil
}

func (f *fakeProvider) GetCheckoutSession(sessionID string) (*stripesdk.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func newService(provider *fakeProvider) *checkout.Service {
	pool := testDB.Pool
	return checkout.NewService(
		pool,
		product.NewService(pool, nil),
		coupon.NewService(pool, nil),
		cart.NewService(pool, nil),
		order.NewService(pool, 0, nil),
		customer.NewService(pool, nil),
		provider,
		nil,
		checkout.Config{
			Currency:   "usd",
			SuccessURL: "https://shop.test/success?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:  "https://shop.test/cancel",
		},
		nil,
	)
}

func productStock(t *testing.T, id uuid.UUID) int32 {
	t.Helper()
	var stock int32
	err := testDB.Pool.QueryRow(context.Background(),
		`SELECT stock FROM products WHERE id = $1`, id).Scan(&stock)
	if err != nil {
		t.Fatalf("reading stock: %v", err)
	}
	return stock
}

func orderCount(t *testing.T) int {
	t.Helper()
	var n int
	err := testDB.Pool.QueryRow(context.Background(),
		`SELECT count(*) FROM orders`).Scan(&n)
	if err != nil {
		t.Fatalf("counting orders: %v", err)
	}
	return n
}

func TestCheckout_COD(t *testing.T) {
	testDB.Truncate(t)
	svc := newService(&fakeProvider{})
	ctx := context.Background()

	custID := testDB.SeedCustomer(t, "cod@example.com", false)
	prodID := testDB.SeedProduct(t, testutil.ProductFixture{
		Price:      decimal.NewFromInt(25),
		Stock:      10,
		CODEnabled: true,
	})

	res, err := svc.Checkout(ctx, custID, checkout.Request{
		Items:         []checkout.RequestItem{{ProductID: prodID, Quantity: 2}},
		PaymentMethod: order.MethodCOD,
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if res.Order == nil {
		t.Fatal("expected an order for COD checkout")
	}
	if res.CheckoutURL != "" {
		t.Errorf("CheckoutURL = %q, want empty", res.CheckoutURL)
	}

	o := *res.Order
	if o.Status != order.StatusConfirmed {
		t.Errorf("Status = %q, want confirmed", o.Status)
	}
	if o.PaymentMethod != order.MethodCOD {
		t.Errorf("PaymentMethod = %q, want cod", o.PaymentMethod)
	}
	if o.PaymentStatus != order.PaymentPending {
		t.Errorf("PaymentStatus = %q, want pending", o.PaymentStatus)
	}
	if !o.Total.Equal(decimal.NewFromInt(50)) {
		t.Errorf("Total = %s, want 50", o.Total)
	}
	if got := productStock(t, prodID); got != 8 {
		t.Errorf("stock = %d, want 8", got)
	}
}

func TestCheckout_CODNotSupported(t *testing.T) {
	testDB.Truncate(t)
	svc := newService(&fakeProvider{})
	ctx := context.Background()

	custID := testDB.SeedCustomer(t, "nocod@example.com", false)
	prodID := testDB.SeedProduct(t, testutil.ProductFixture{
		Price:      decimal.NewFromInt(25),
		Stock:      10,
		CODEnabled: false,
	})

	_, err := svc.Checkout(ctx, custID, checkout.Request{
		Items:         []checkout.RequestItem{{ProductID: prodID, Quantity: 1}},
		PaymentMethod: order.MethodCOD,
	})
	if !errors.Is(err, checkout.ErrCODNotSupported) {
		t.Fatalf("err = %v, want ErrCODNotSupported", err)
	}
	if got := orderCount(t); got != 0 {
		t.Errorf("orders = %d, want 0", got)
	}
}

func TestCheckout_OutOfStock(t *testing.T) {
	testDB.Truncate(t)
	svc := newService(&fakeProvider{})
	ctx := context.Background()

	custID := testDB.SeedCustomer(t, "greedy@example.com", false)
	prodID := testDB.SeedProduct(t, testutil.ProductFixture{
		Price: decimal.NewFromInt(25),
		Stock: 3,
	})

	_, err := svc.Checkout(ctx, custID, checkout.Request{
		Items:         []checkout.RequestItem{{ProductID: prodID, Quantity: 5}},
		PaymentMethod: order.MethodCOD,
	})
	if !errors.Is(err, checkout.ErrOutOfStock) {
		t.Fatalf("err = %v, want ErrOutOfStock", err)
	}
}

func TestCheckout_ZeroTotalPaidImmediately(t *testing.T) {
	testDB.Truncate(t)
	svc := newService(&fakeProvider{})
	ctx := context.Background()

	custID := testDB.SeedCustomer(t, "free@example.com", false)
	prodID := testDB.SeedProduct(t, testutil.ProductFixture{
		Price: decimal.NewFromInt(10),
		Stock: 5,
	})
	couponID := testDB.SeedCoupon(t, testutil.CouponFixture{
		Code:  "EVERYTHING",
		Type:  coupon.TypeFixed,
		Value: decimal.NewFromInt(100),
	})

	res, err := svc.Checkout(ctx, custID, checkout.Request{
		Items:      []checkout.RequestItem{{ProductID: prodID, Quantity: 1}},
		CouponCode: "EVERYTHING",
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if res.Order == nil {
		t.Fatal("expected an order for zero-total checkout")
	}

	o := *res.Order
	if !o.Total.IsZero() {
		t.Errorf("Total = %s, want 0", o.Total)
	}
	if o.PaymentMethod != order.MethodFree {
		t.Errorf("PaymentMethod = %q, want free", o.PaymentMethod)
	}
	if o.PaymentStatus != order.PaymentCompleted {
		t.Errorf("PaymentStatus = %q, want completed", o.PaymentStatus)
	}
	if o.PaidAt == nil {
		t.Error("PaidAt should be set")
	}

	var used int32
	err = testDB.Pool.QueryRow(ctx,
		`SELECT used_count FROM coupons WHERE id = $1`, couponID).Scan(&used)
	if err != nil {
		t.Fatalf("reading coupon usage: %v", err)
	}
	if used != 1 {
		t.Errorf("used_count = %d, want 1", used)
	}
}

func TestCheckout_StripePathDefersOrder(t *testing.T) {
	testDB.Truncate(t)
	provider := &fakeProvider{}
	svc := newService(provider)
	ctx := context.Background()

	custID := testDB.SeedCustomer(t, "card@example.com", false)
	prodID := testDB.SeedProduct(t, testutil.ProductFixture{
		Price: decimal.NewFromInt(30),
		Stock: 10,
	})

	res, err := svc.Checkout(ctx, custID, checkout.Request{
		Items:         []checkout.RequestItem{{ProductID: prodID, Quantity: 2}},
		PaymentMethod: order.MethodStripe,
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if res.Order != nil {
		t.Error("no order should exist before payment")
	}
	if res.CheckoutURL == "" {
		t.Error("expected a checkout URL")
	}
	if got := orderCount(t); got != 0 {
		t.Errorf("orders = %d, want 0", got)
	}
	// Stock is only reserved once payment is confirmed.
	if got := productStock(t, prodID); got != 10 {
		t.Errorf("stock = %d, want 10", got)
	}
	if provider.lastInput.Metadata["total"] != "60.00" {
		t.Errorf("metadata total = %q, want 60.00", provider.lastInput.Metadata["total"])
	}
}

func TestReconcileSession_Idempotent(t *testing.T) {
	testDB.Truncate(t)
	provider := &fakeProvider{}
	svc := newService(provider)
	ctx := context.Background()

	custID := testDB.SeedCustomer(t, "paid@example.com", false)
	prodID := testDB.SeedProduct(t, testutil.ProductFixture{
		Price: decimal.NewFromInt(40),
		Stock: 6,
	})

	if _, err := svc.Checkout(ctx, custID, checkout.Request{
		Items:         []checkout.RequestItem{{ProductID: prodID, Quantity: 3}},
		PaymentMethod: order.MethodStripe,
	}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	sess := &stripesdk.CheckoutSession{
		ID:       "cs_test_fake",
		Metadata: provider.lastInput.Metadata,
		PaymentIntent: &stripesdk.PaymentIntent{
			ID: "pi_test_1",
		},
	}

	first, err := svc.ReconcileSession(ctx, sess, "webhook")
	if err != nil {
		t.Fatalf("first ReconcileSession: %v", err)
	}
	second, err := svc.ReconcileSession(ctx, sess, "verify")
	if err != nil {
		t.Fatalf("second ReconcileSession: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("order IDs differ: %s vs %s", first.ID, second.ID)
	}
	if got := orderCount(t); got != 1 {
		t.Errorf("orders = %d, want 1", got)
	}
	if got := productStock(t, prodID); got != 3 {
		t.Errorf("stock = %d, want 3 (decremented once)", got)
	}

	if first.Status != order.StatusConfirmed {
		t.Errorf("Status = %q, want confirmed", first.Status)
	}
	if first.PaymentStatus != order.PaymentCompleted {
		t.Errorf("PaymentStatus = %q, want completed", first.PaymentStatus)
	}
	if first.StripePaymentIntentID == nil || *first.StripePaymentIntentID != "pi_test_1" {
		t.Errorf("StripePaymentIntentID = %v, want pi_test_1", first.StripePaymentIntentID)
	}
	if !first.Total.Equal(decimal.NewFromInt(120)) {
		t.Errorf("Total = %s, want 120", first.Total)
	}
}

func TestReconcileSession_ConcurrentDuplicates(t *testing.T) {
	testDB.Truncate(t)
	provider := &fakeProvider{}
	svc := newService(provider)
	ctx := context.Background()

	custID := testDB.SeedCustomer(t, "race@example.com", false)
	prodID := testDB.SeedProduct(t, testutil.ProductFixture{
		Price: decimal.NewFromInt(20),
		Stock: 9,
	})
	couponID := testDB.SeedCoupon(t, testutil.CouponFixture{
		Code:  "RACE5",
		Type:  coupon.TypeFixed,
		Value: decimal.NewFromInt(5),
	})

	if _, err := svc.Checkout(ctx, custID, checkout.Request{
		Items:         []checkout.RequestItem{{ProductID: prodID, Quantity: 2}},
		CouponCode:    "RACE5",
		PaymentMethod: order.MethodStripe,
	}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	sess := &stripesdk.CheckoutSession{
		ID:       "cs_test_fake",
		Metadata: provider.lastInput.Metadata,
		PaymentIntent: &stripesdk.PaymentIntent{
			ID: "pi_test_race",
		},
	}

	// Webhook and verifier land at the same time: both pass the existence
	// check and race to insert. The unique index on the session id makes
	// the database pick one winner; the loser maps 23505 to a refetch.
	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		orders [2]order.Order
		errs   [2]error
	)
	sources := [2]string{"webhook", "verify"}
	for i := range sources {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			orders[i], errs[i] = svc.ReconcileSession(ctx, sess, sources[i])
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("ReconcileSession (%s): %v", sources[i], err)
		}
	}
	if orders[0].ID != orders[1].ID {
		t.Errorf("order IDs differ: %s vs %s", orders[0].ID, orders[1].ID)
	}
	if got := orderCount(t); got != 1 {
		t.Errorf("orders = %d, want 1", got)
	}
	if got := productStock(t, prodID); got != 7 {
		t.Errorf("stock = %d, want 7 (decremented once)", got)
	}

	var used int32
	err := testDB.Pool.QueryRow(ctx,
		`SELECT used_count FROM coupons WHERE id = $1`, couponID).Scan(&used)
	if err != nil {
		t.Fatalf("reading coupon usage: %v", err)
	}
	if used != 1 {
		t.Errorf("used_count = %d, want 1", used)
	}
}

func TestCancel_DoesNotRestoreShortfallStock(t *testing.T) {
	testDB.Truncate(t)
	provider := &fakeProvider{}
	svc := newService(provider)
	ctx := context.Background()

	custID := testDB.SeedCustomer(t, "short@example.com", false)
	shortID := testDB.SeedProduct(t, testutil.ProductFixture{
		Slug:  "short-serum",
		Price: decimal.NewFromInt(20),
		Stock: 5,
	})
	okID := testDB.SeedProduct(t, testutil.ProductFixture{
		Slug:  "stocked-mask",
		Price: decimal.NewFromInt(15),
		Stock: 10,
	})

	if _, err := svc.Checkout(ctx, custID, checkout.Request{
		Items: []checkout.RequestItem{
			{ProductID: shortID, Quantity: 2},
			{ProductID: okID, Quantity: 1},
		},
		PaymentMethod: order.MethodStripe,
	}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// The product sells out between session creation and payment capture,
	// so reconciliation skips its decrement.
	if _, err := testDB.Pool.Exec(ctx,
		`UPDATE products SET stock = 1 WHERE id = $1`, shortID); err != nil {
		t.Fatalf("shrinking stock: %v", err)
	}

	sess := &stripesdk.CheckoutSession{
		ID:       "cs_test_fake",
		Metadata: provider.lastInput.Metadata,
	}
	o, err := svc.ReconcileSession(ctx, sess, "webhook")
	if err != nil {
		t.Fatalf("ReconcileSession: %v", err)
	}
	if got := productStock(t, shortID); got != 1 {
		t.Fatalf("short stock after reconcile = %d, want 1 (decrement skipped)", got)
	}
	if got := productStock(t, okID); got != 9 {
		t.Fatalf("stocked stock after reconcile = %d, want 9", got)
	}

	orderSvc := order.NewService(testDB.Pool, 0, nil)
	if _, err := orderSvc.Cancel(ctx, custID, o.ID, "changed my mind"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// Only units actually taken come back: the shortfall line never left
	// the shelf, so restoring it would invent inventory.
	if got := productStock(t, shortID); got != 1 {
		t.Errorf("short stock after cancel = %d, want 1", got)
	}
	if got := productStock(t, okID); got != 10 {
		t.Errorf("stocked stock after cancel = %d, want 10", got)
	}
}

func TestVerifySession_Unpaid(t *testing.T) {
	testDB.Truncate(t)
	provider := &fakeProvider{
		session: &stripesdk.CheckoutSession{
			ID:            "cs_test_unpaid",
			PaymentStatus: stripesdk.CheckoutSessionPaymentStatusUnpaid,
		},
	}
	svc := newService(provider)

	_, err := svc.VerifySession(context.Background(), "cs_test_unpaid")
	if !errors.Is(err, checkout.ErrSessionNotPaid) {
		t.Fatalf("err = %v, want ErrSessionNotPaid", err)
	}
	if got := orderCount(t); got != 0 {
		t.Errorf("orders = %d, want 0", got)
	}
}
