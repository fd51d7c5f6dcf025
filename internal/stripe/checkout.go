package stripe

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/refund"
	"github.com/stripe/stripe-go/v82/webhook"
)

var (
	// ErrEmptyItems is returned when a checkout session is created with no items.
	ErrEmptyItems = errors.New("checkout items must not be empty")

	// ErrInvalidCurrency is returned when the currency string is empty.
	ErrInvalidCurrency = errors.New("currency must not be empty")

	// ErrMissingURLs is returned when success or cancel URLs are not provided.
	ErrMissingURLs = errors.New("success and cancel URLs are required")
)

// Service wraps the Stripe Go SDK to create Checkout Sessions, retrieve
// them for payment verification, issue refunds, and verify webhook
// signatures. It is the only integration point with Stripe.
type Service struct {
	logger *slog.Logger
}

// NewService creates a new Stripe service and sets the global API key.
//
// The Stripe Go SDK uses a package-level Key variable for authentication.
// This must be set before any API calls are made.
func NewService(secretKey string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	stripe.Key = secretKey
	return &Service{
		logger: logger,
	}
}

// SessionInput contains all data needed to create a Stripe Checkout Session.
type SessionInput struct {
	// Email is the customer's email address, pre-filled on the Checkout page.
	Email string

	// SuccessURL is where Stripe redirects the customer after successful
	// payment. It should contain the {CHECKOUT_SESSION_ID} template so the
	// storefront can verify the session if the webhook is delayed.
	SuccessURL string

	// CancelURL is where Stripe redirects if the customer cancels.
	CancelURL string

	// Items are the priced order lines to charge for.
	Items []SessionItem

	// ShippingFee is the shipping cost in the store's currency. Added as its
	// own line item when positive.
	ShippingFee decimal.Decimal

	// Currency is the three-letter ISO currency code (e.g., "eur").
	Currency string

	// Metadata is attached to the session and must carry the encoded order
	// intent so the webhook handler can rebuild the order without trusting
	// the client or re-reading the cart.
	Metadata map[string]string
}

// SessionItem represents a single line item in the checkout.
type SessionItem struct {
	// Name is the product title displayed to the customer.
	Name string

	// Quantity is the number of units being purchased.
	Quantity int64

	// UnitAmount is the discounted per-unit price in the smallest currency
	// unit (cents). Discounts are applied before the session is created, so
	// Stripe only ever sees final prices.
	UnitAmount int64

	// ProductID is the internal product identifier, stored in metadata.
	ProductID string
}

// SessionResult contains the output of a successfully created Checkout Session.
type SessionResult struct {
	// SessionID is the Stripe Checkout Session ID (e.g., "cs_test_...").
	SessionID string

	// SessionURL is the URL to redirect the customer to for payment.
	SessionURL string
}

// CreateCheckoutSession creates a Stripe Checkout Session and returns the
// hosted page URL the customer should be redirected to.
//
// The method:
//   - Maps each order line to a Stripe line item with inline PriceData
//   - Adds shipping as a separate line item if the fee is positive
//   - Attaches the caller's metadata (the encoded order intent) to both the
//     session and the resulting PaymentIntent
func (s *Service) CreateCheckoutSession(input SessionInput) (SessionResult, error) {
	if err := validateSessionInput(input); err != nil {
		return SessionResult{}, fmt.Errorf("validating checkout input: %w", err)
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(input.Items)+1)

	for _, item := range input.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(input.Currency),
				UnitAmount: stripe.Int64(item.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
					Metadata: map[string]string{
						"product_id": item.ProductID,
					},
				},
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}

	if input.ShippingFee.IsPositive() {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(input.Currency),
				UnitAmount: stripe.Int64(decimalToCents(input.ShippingFee)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Shipping"),
				},
			},
			Quantity: stripe.Int64(1),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:          stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail: stripe.String(input.Email),
		SuccessURL:    stripe.String(input.SuccessURL),
		CancelURL:     stripe.String(input.CancelURL),
		LineItems:     lineItems,
		Metadata:      input.Metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: input.Metadata,
		},
	}

	s.logger.Info("creating stripe checkout session",
		slog.String("email", input.Email),
		slog.Int("line_items", len(lineItems)),
		slog.String("currency", input.Currency),
	)

	sess, err := session.New(params)
	if err != nil {
		return SessionResult{}, fmt.Errorf("creating stripe checkout session: %w", err)
	}

	s.logger.Info("stripe checkout session created",
		slog.String("session_id", sess.ID),
	)

	return SessionResult{
		SessionID:  sess.ID,
		SessionURL: sess.URL,
	}, nil
}

// GetCheckoutSession retrieves a Checkout Session by ID with the payment
// intent expanded. Used by the payment verification fallback when the
// customer returns to the success page before the webhook has arrived.
func (s *Service) GetCheckoutSession(sessionID string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.AddExpand("payment_intent")

	sess, err := session.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieving checkout session %s: %w", sessionID, err)
	}

	return sess, nil
}

// CreateRefund issues a refund against a PaymentIntent. A zero amount
// refunds the full remaining charge; a positive amount issues a partial
// refund of that many currency units.
func (s *Service) CreateRefund(paymentIntentID string, amount decimal.Decimal, reason string) (*stripe.Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
	}
	if amount.IsPositive() {
		params.Amount = stripe.Int64(decimalToCents(amount))
	}
	if reason != "" {
		params.Reason = stripe.String(reason)
	}

	ref, err := refund.New(params)
	if err != nil {
		return nil, fmt.Errorf("creating refund for %s: %w", paymentIntentID, err)
	}

	s.logger.Info("stripe refund created",
		slog.String("refund_id", ref.ID),
		slog.String("payment_intent_id", paymentIntentID),
		slog.Int64("amount", ref.Amount),
	)

	return ref, nil
}

// VerifyWebhookSignature validates the payload from a Stripe webhook request
// using the provided signature header and webhook secret. Returns the parsed
// Event on success.
//
// The signature header is the value of the "Stripe-Signature" HTTP header.
// The webhook secret is the endpoint-specific signing secret from the Stripe
// Dashboard (starts with "whsec_").
//
// This method enforces a default tolerance of 5 minutes for replay attack
// prevention. Events with timestamps older than 5 minutes are rejected.
func (s *Service) VerifyWebhookSignature(payload []byte, sigHeader string, webhookSecret string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("verifying webhook signature: %w", err)
	}

	s.logger.Debug("webhook signature verified",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
	)

	return event, nil
}

// decimalToCents converts a shopspring/decimal value representing a currency
// amount (e.g., 42.50) to the smallest currency unit (e.g., 4250 cents).
// The value is rounded to 2 decimal places before conversion to avoid
// floating-point precision issues.
func decimalToCents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// validateSessionInput performs basic validation on the checkout input before
// calling the Stripe API.
func validateSessionInput(input SessionInput) error {
	if len(input.Items) == 0 {
		return ErrEmptyItems
	}
	if input.Currency == "" {
		return ErrInvalidCurrency
	}
	if input.SuccessURL == "" || input.CancelURL == "" {
		return ErrMissingURLs
	}
	return nil
}
