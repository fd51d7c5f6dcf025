package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	stripesdk "github.com/stripe/stripe-go/v82"

	"github.com/velouria-skin/api/internal/checkout"
	"github.com/velouria-skin/api/internal/metrics"
	"github.com/velouria-skin/api/internal/services/order"
	"github.com/velouria-skin/api/internal/stripe"
)

// Reconciler is the slice of the checkout pipeline the webhook handler
// needs. Satisfied by *checkout.Service; tests supply a stub.
type Reconciler interface {
	ReconcileSession(ctx context.Context, sess *stripesdk.CheckoutSession, source string) (order.Order, error)
	HandleSessionExpired(ctx context.Context, sessionID string) error
}

// WebhookHandler handles incoming Stripe webhook events.
type WebhookHandler struct {
	stripeSvc  *stripe.Service
	reconciler Reconciler
	logger     *slog.Logger
	secret     string // webhook signing secret
}

// NewWebhookHandler creates a new Stripe webhook handler.
func NewWebhookHandler(
	stripeSvc *stripe.Service,
	reconciler Reconciler,
	logger *slog.Logger,
	webhookSecret string,
) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		stripeSvc:  stripeSvc,
		reconciler: reconciler,
		logger:     logger,
		secret:     webhookSecret,
	}
}

// RegisterRoutes registers the webhook endpoint.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook handles POST /api/v1/webhooks/stripe.
// It verifies the Stripe signature fail-closed, then dispatches on event
// type. A verified event is acknowledged with 200 — reconciliation is
// idempotent, so redeliveries of checkout.session.completed are safe —
// except a completed session carrying no order intent, which is rejected
// with 400.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	// Stripe requires the raw body for signature verification.
	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	event, err := h.stripeSvc.VerifyWebhookSignature(body, sigHeader, h.secret)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received",
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
	)
	metrics.WebhookEvents.WithLabelValues(string(event.Type)).Inc()

	switch event.Type {
	case "checkout.session.completed":
		if err := h.handleSessionCompleted(r.Context(), event); err != nil {
			writeError(w, http.StatusBadRequest, "session carries no order intent")
			return
		}
	case "checkout.session.expired":
		h.handleSessionExpired(r.Context(), event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", string(event.Type))
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// handleSessionCompleted reconciles a paid session into an order. A session
// whose metadata carries no order intent is rejected so the delivery is not
// acknowledged. Other failures are logged and swallowed: a 200 still goes
// back to Stripe because a malformed event will not improve on redelivery,
// and transient reconciliation failures are caught by the payment verifier
// fallback.
func (h *WebhookHandler) handleSessionCompleted(ctx context.Context, event stripesdk.Event) error {
	var sess stripesdk.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("failed to unmarshal checkout session", "error", err, "event_id", event.ID)
		return nil
	}

	o, err := h.reconciler.ReconcileSession(ctx, &sess, "webhook")
	if err != nil {
		h.logger.Error("failed to reconcile completed session",
			"error", err,
			"session_id", sess.ID,
			"event_id", event.ID,
		)
		if errors.Is(err, checkout.ErrNoIntent) {
			return err
		}
		return nil
	}

	h.logger.Info("completed session reconciled",
		slog.String("session_id", sess.ID),
		slog.String("order_id", o.ID.String()),
	)
	return nil
}

func (h *WebhookHandler) handleSessionExpired(ctx context.Context, event stripesdk.Event) {
	var sess stripesdk.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		h.logger.Error("failed to unmarshal checkout session", "error", err, "event_id", event.ID)
		return
	}

	if err := h.reconciler.HandleSessionExpired(ctx, sess.ID); err != nil {
		h.logger.Error("failed to handle expired session", "error", err, "session_id", sess.ID)
	}
}
