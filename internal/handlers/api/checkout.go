package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/velouria-skin/api/internal/checkout"
	"github.com/velouria-skin/api/internal/middleware"
	"github.com/velouria-skin/api/internal/services/coupon"
	"github.com/velouria-skin/api/internal/services/order"
)

// CheckoutHandler initiates checkouts and verifies paid sessions.
type CheckoutHandler struct {
	checkoutSvc *checkout.Service
	logger      *slog.Logger
}

// NewCheckoutHandler creates a new checkout handler.
func NewCheckoutHandler(checkoutSvc *checkout.Service, logger *slog.Logger) *CheckoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutHandler{
		checkoutSvc: checkoutSvc,
		logger:      logger,
	}
}

// RegisterRoutes registers the checkout routes behind customer auth.
func (h *CheckoutHandler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.Handle("POST /api/v1/checkout", requireAuth(http.HandlerFunc(h.Checkout)))
	mux.Handle("POST /api/v1/checkout/verify", requireAuth(http.HandlerFunc(h.VerifySession)))
}

// Checkout handles POST /api/v1/checkout. Card checkouts answer with a
// Stripe redirect URL; free and cash-on-delivery checkouts answer with the
// created order.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	customerID, _ := middleware.CustomerFromContext(r.Context())

	var req checkout.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.checkoutSvc.Checkout(r.Context(), customerID, req)
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	if result.Order != nil {
		writeJSON(w, http.StatusCreated, map[string]any{"order": toOrderJSON(*result.Order)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"checkout_url": result.CheckoutURL})
}

type verifyRequest struct {
	SessionID string `json:"session_id"`
}

// VerifySession handles POST /api/v1/checkout/verify: the storefront's
// success page calls it so the customer sees their order even when the
// webhook has not landed yet.
func (h *CheckoutHandler) VerifySession(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(w, r, &req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	o, err := h.checkoutSvc.VerifySession(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, checkout.ErrSessionNotPaid) {
			writeError(w, http.StatusBadRequest, "checkout session is not paid")
			return
		}
		h.logger.Error("failed to verify session", "error", err, "session_id", req.SessionID)
		writeError(w, http.StatusInternalServerError, "failed to verify session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": toOrderJSON(o)})
}

// writeCheckoutError maps the checkout pipeline's errors to HTTP statuses.
func (h *CheckoutHandler) writeCheckoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checkout.ErrEmptyOrder),
		errors.Is(err, checkout.ErrInvalidProduct):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, checkout.ErrOutOfStock),
		errors.Is(err, checkout.ErrCODNotSupported):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, coupon.ErrNotFound):
		writeError(w, http.StatusUnprocessableEntity, "coupon not found")
	case errors.Is(err, coupon.ErrInactive),
		errors.Is(err, coupon.ErrNotStarted),
		errors.Is(err, coupon.ErrExpired),
		errors.Is(err, coupon.ErrUsageLimitReached),
		errors.Is(err, coupon.ErrMinSubtotal),
		errors.Is(err, coupon.ErrNotApplicable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, order.ErrDuplicateSession):
		writeError(w, http.StatusConflict, "order already exists")
	default:
		h.logger.Error("checkout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "checkout failed")
	}
}
