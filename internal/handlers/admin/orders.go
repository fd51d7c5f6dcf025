package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velouria-skin/api/internal/services/order"
)

// ListOrders handles GET /api/v1/admin/orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	params := order.ListParams{Status: r.URL.Query().Get("status")}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			params.Limit = int32(n)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			params.Offset = int32(n)
		}
	}

	orders, err := h.orderSvc.List(r.Context(), params)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": orders})
}

// GetOrder handles GET /api/v1/admin/orders/{id}, returning the order with
// its items, refunds, and audit trail. The path segment is either the order
// UUID or the customer-facing order number.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	var (
		o   order.Order
		err error
	)
	if orderID, parseErr := uuid.Parse(r.PathValue("id")); parseErr == nil {
		o, err = h.orderSvc.Get(r.Context(), orderID)
	} else if number, numErr := strconv.ParseInt(r.PathValue("id"), 10, 64); numErr == nil {
		o, err = h.orderSvc.GetByNumber(r.Context(), number)
	} else {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to get order", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	refunds, err := h.orderSvc.ListRefunds(r.Context(), o.ID)
	if err != nil {
		h.logger.Error("failed to list refunds", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}
	events, err := h.orderSvc.ListEvents(r.Context(), o.ID)
	if err != nil {
		h.logger.Error("failed to list order events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order":   o,
		"refunds": refunds,
		"events":  events,
	})
}

type updateStatusRequest struct {
	Status string  `json:"status"`
	Note   *string `json:"note"`
}

// UpdateOrderStatus handles PATCH /api/v1/admin/orders/{id}/status.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req updateStatusRequest
	if err := decodeBody(w, r, &req); err != nil || req.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	o, err := h.orderSvc.UpdateStatus(r.Context(), orderID, req.Status, req.Note)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, order.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("failed to update order status", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update status")
		}
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type refundRequest struct {
	// Amount refunds a partial amount; zero or absent refunds the full total.
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// RefundOrder handles POST /api/v1/admin/orders/{id}/refunds. Stripe-paid
// orders are refunded through Stripe first; the refund is then recorded on
// the order either way.
func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req refundRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Amount.IsNegative() {
		writeError(w, http.StatusBadRequest, "amount must not be negative")
		return
	}

	o, err := h.orderSvc.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to get order", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to refund order")
		return
	}

	amount := req.Amount
	if amount.IsZero() {
		amount = o.Total
	}

	var providerRefundID *string
	status := "succeeded"
	if o.PaymentMethod == order.MethodStripe {
		if o.StripePaymentIntentID == nil {
			writeError(w, http.StatusConflict, "order has no payment intent to refund")
			return
		}
		ref, err := h.stripeSvc.CreateRefund(*o.StripePaymentIntentID, req.Amount, "requested_by_customer")
		if err != nil {
			h.logger.Error("stripe refund failed", "error", err, "order_id", orderID.String())
			writeError(w, http.StatusBadGateway, "payment provider refund failed")
			return
		}
		providerRefundID = &ref.ID
		status = string(ref.Status)
	}

	refund, err := h.orderSvc.AddRefund(r.Context(), orderID, providerRefundID, amount, status, req.Reason)
	if err != nil {
		h.logger.Error("failed to record refund", "error", err, "order_id", orderID.String())
		writeError(w, http.StatusInternalServerError, "failed to record refund")
		return
	}
	writeJSON(w, http.StatusCreated, refund)
}
