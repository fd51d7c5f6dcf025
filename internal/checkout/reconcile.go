package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	stripesdk "github.com/stripe/stripe-go/v82"

	"github.com/velouria-skin/api/internal/events"
	"github.com/velouria-skin/api/internal/metrics"
	"github.com/velouria-skin/api/internal/services/coupon"
	"github.com/velouria-skin/api/internal/services/order"
	"github.com/velouria-skin/api/internal/services/product"
)

// ReconcileSession turns a paid Stripe Checkout Session into a confirmed
// order. It is idempotent: both the webhook and the payment verifier call
// it, possibly concurrently for the same session, and exactly one order
// results. source labels the caller for metrics ("webhook" or "verify").
//
// The pipeline:
//  1. if an order already exists for the session, return it unchanged;
//  2. decode the order intent from session metadata and create the order,
//     confirmed and paid, inside a transaction — a concurrent duplicate
//     loses on the session id unique index and falls back to the existing
//     order;
//  3. decrement stock per item; an insufficient-stock failure is logged and
//     skipped since payment is already captured;
//  4. clear the buyer's cart and bump the coupon's usage count;
//  5. after commit, publish the order-confirmed event asynchronously.
func (s *Service) ReconcileSession(ctx context.Context, sess *stripesdk.CheckoutSession, source string) (order.Order, error) {
	if existing, err := s.orders.GetBySessionID(ctx, sess.ID); err == nil {
		s.logger.Info("session already reconciled",
			slog.String("session_id", sess.ID),
			slog.String("order_id", existing.ID.String()),
			slog.String("source", source),
		)
		return existing, nil
	} else if !errors.Is(err, order.ErrNotFound) {
		return order.Order{}, err
	}

	intent, err := DecodeMetadata(sess.Metadata)
	if err != nil {
		return order.Order{}, fmt.Errorf("decoding order intent from session %s: %w", sess.ID, err)
	}

	var paymentIntentID *string
	if sess.PaymentIntent != nil && sess.PaymentIntent.ID != "" {
		paymentIntentID = &sess.PaymentIntent.ID
	}
	sessionID := sess.ID
	now := time.Now().UTC()

	o, err := s.persistOrder(ctx, intent, persistParams{
		paymentMethod:   order.MethodStripe,
		paymentStatus:   order.PaymentCompleted,
		stripeSessionID: &sessionID,
		paymentIntentID: paymentIntentID,
		paidAt:          &now,
		strictStock:     false,
	})
	if err != nil {
		if errors.Is(err, order.ErrDuplicateSession) {
			// Lost the race to a concurrent reconciliation.
			return s.orders.GetBySessionID(ctx, sessionID)
		}
		return order.Order{}, err
	}

	metrics.OrdersCreated.WithLabelValues(source).Inc()
	s.publishConfirmed(o)

	s.logger.Info("session reconciled into order",
		slog.String("session_id", sess.ID),
		slog.String("order_id", o.ID.String()),
		slog.String("source", source),
	)
	return o, nil
}

// VerifySession is the webhook fallback: the storefront calls it from the
// success page with the session id. The session's payment status is
// re-checked against Stripe directly, never trusted from the client.
func (s *Service) VerifySession(ctx context.Context, sessionID string) (order.Order, error) {
	sess, err := s.provider.GetCheckoutSession(sessionID)
	if err != nil {
		return order.Order{}, err
	}
	if sess.PaymentStatus != stripesdk.CheckoutSessionPaymentStatusPaid {
		return order.Order{}, ErrSessionNotPaid
	}
	return s.ReconcileSession(ctx, sess, "verify")
}

// HandleSessionExpired handles an abandoned Checkout Session. No order
// exists for sessions that were never paid, so usually this only logs; if a
// pending order does exist it is marked failed and its stock restored.
func (s *Service) HandleSessionExpired(ctx context.Context, sessionID string) error {
	err := s.orders.MarkPaymentFailed(ctx, sessionID)
	if err != nil && !errors.Is(err, order.ErrNotFound) {
		return err
	}
	s.logger.Info("checkout session expired", slog.String("session_id", sessionID))
	return nil
}

// createDirectOrder persists a confirmed order without a Stripe session:
// the zero-total and cash-on-delivery paths. Stock is checked strictly, so
// a sold-out item aborts the order before anything is committed.
func (s *Service) createDirectOrder(ctx context.Context, intent OrderIntent, paymentStatus string) (order.Order, error) {
	method := order.MethodCOD
	var paidAt *time.Time
	if paymentStatus == order.PaymentCompleted {
		method = order.MethodFree
		now := time.Now().UTC()
		paidAt = &now
	}

	o, err := s.persistOrder(ctx, intent, persistParams{
		paymentMethod: method,
		paymentStatus: paymentStatus,
		paidAt:        paidAt,
		strictStock:   true,
	})
	if err != nil {
		return order.Order{}, err
	}

	metrics.OrdersCreated.WithLabelValues("checkout").Inc()
	s.publishConfirmed(o)
	return o, nil
}

type persistParams struct {
	paymentMethod   string
	paymentStatus   string
	stripeSessionID *string
	paymentIntentID *string
	paidAt          *time.Time
	// strictStock aborts on insufficient stock instead of logging. True
	// before payment capture, false after.
	strictStock bool
}

// persistOrder runs the transactional tail shared by every order-creating
// path: insert the order and items, decrement stock, clear the cart, and
// bump coupon usage, all or nothing.
func (s *Service) persistOrder(ctx context.Context, intent OrderIntent, p persistParams) (order.Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return order.Order{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	createParams := order.CreateParams{
		CustomerID:            &intent.CustomerID,
		Email:                 intent.Email,
		Status:                order.StatusConfirmed,
		PaymentMethod:         p.paymentMethod,
		PaymentStatus:         p.paymentStatus,
		StripeSessionID:       p.stripeSessionID,
		StripePaymentIntentID: p.paymentIntentID,
		PaidAt:                p.paidAt,
		ShippingAddress:       intent.ShippingAddress,
		Subtotal:              intent.Subtotal,
		Discount:              intent.Discount,
		ShippingFee:           intent.ShippingFee,
		Total:                 intent.Total,
	}
	if intent.CouponCode != "" {
		createParams.CouponCode = &intent.CouponCode
		createParams.CouponType = &intent.CouponType
		createParams.CouponValue = &intent.CouponValue
		createParams.CouponDiscount = &intent.CouponDiscount
	}
	for _, item := range intent.Items {
		createParams.Items = append(createParams.Items, order.ItemParams{
			ProductID: item.ProductID,
			Title:     item.Title,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	o, err := s.orders.Create(ctx, tx, createParams)
	if err != nil {
		return order.Order{}, err
	}

	for _, item := range intent.Items {
		err := s.products.DecrementStock(ctx, tx, item.ProductID, item.Quantity)
		if err == nil {
			continue
		}
		if errors.Is(err, product.ErrInsufficientStock) {
			if p.strictStock {
				return order.Order{}, fmt.Errorf("%w: %s", ErrOutOfStock, item.Title)
			}
			// Payment is already captured; ship what exists and let
			// operations resolve the shortfall. Flag the line so a
			// later cancellation does not restore units never taken.
			s.logger.Warn("stock short on paid order",
				slog.String("order_id", o.ID.String()),
				slog.String("product_id", item.ProductID.String()),
				slog.Int("quantity", int(item.Quantity)),
			)
			if err := s.orders.MarkItemShortfall(ctx, tx, o.ID, item.ProductID); err != nil {
				return order.Order{}, err
			}
			continue
		}
		return order.Order{}, err
	}

	if err := s.carts.Clear(ctx, tx, intent.CustomerID); err != nil {
		return order.Order{}, err
	}

	if intent.CouponCode != "" {
		cpn, err := s.coupons.GetByCode(ctx, intent.CouponCode)
		switch {
		case err == nil:
			if err := s.coupons.IncrementUsage(ctx, tx, cpn.ID); err != nil {
				return order.Order{}, err
			}
			metrics.CouponRedemptions.Inc()
		case errors.Is(err, coupon.ErrNotFound):
			// Coupon deleted between checkout and completion; the order
			// keeps its snapshotted discount.
			s.logger.Warn("coupon vanished before redemption",
				slog.String("code", intent.CouponCode),
				slog.String("order_id", o.ID.String()),
			)
		default:
			return order.Order{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return order.Order{}, fmt.Errorf("committing order: %w", err)
	}
	return o, nil
}

// publishConfirmed emits the order-confirmed event without blocking the
// request; delivery failures are logged by the publisher and never fail
// the order.
func (s *Service) publishConfirmed(o order.Order) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		evt := events.OrderConfirmed{
			OrderID:       o.ID.String(),
			OrderNumber:   o.OrderNumber,
			Email:         o.Email,
			Total:         o.Total.StringFixed(2),
			PaymentMethod: o.PaymentMethod,
			ConfirmedAt:   time.Now().UTC(),
		}
		if err := s.publisher.PublishOrderConfirmed(ctx, evt); err != nil {
			s.logger.Error("order confirmed event not published",
				slog.String("order_id", evt.OrderID),
				slog.Any("error", err),
			)
		}
	}()
}
