// Package metrics exposes Prometheus counters for the order pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersCreated counts orders created, labelled by the path that
	// created them: "webhook", "verify", or "checkout".
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total orders created, by creation source.",
	}, []string{"source"})

	// WebhookEvents counts received Stripe webhook events by type.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total Stripe webhook events received, by event type.",
	}, []string{"type"})

	// StockDecrementFailures counts stock decrements rejected because
	// the remaining stock was insufficient.
	StockDecrementFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_decrement_failures_total",
		Help: "Total stock decrements rejected for insufficient stock.",
	})

	// CouponRedemptions counts coupons redeemed on completed orders.
	CouponRedemptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coupon_redemptions_total",
		Help: "Total coupon redemptions on completed orders.",
	})

	// CheckoutSessions counts Stripe Checkout Sessions created.
	CheckoutSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_sessions_created_total",
		Help: "Total Stripe Checkout Sessions created.",
	})
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
