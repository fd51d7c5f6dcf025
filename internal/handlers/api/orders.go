package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velouria-skin/api/internal/middleware"
	"github.com/velouria-skin/api/internal/services/order"
)

// OrderHandler lets customers view and act on their own orders.
type OrderHandler struct {
	orderSvc *order.Service
	logger   *slog.Logger
}

// NewOrderHandler creates a new customer order handler.
func NewOrderHandler(orderSvc *order.Service, logger *slog.Logger) *OrderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderHandler{
		orderSvc: orderSvc,
		logger:   logger,
	}
}

// RegisterRoutes registers the order routes behind customer auth.
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.Handle("GET /api/v1/orders", requireAuth(http.HandlerFunc(h.ListOrders)))
	mux.Handle("GET /api/v1/orders/{id}", requireAuth(http.HandlerFunc(h.GetOrder)))
	mux.Handle("POST /api/v1/orders/{id}/cancel", requireAuth(http.HandlerFunc(h.CancelOrder)))
	mux.Handle("POST /api/v1/orders/{id}/return", requireAuth(http.HandlerFunc(h.ReturnOrder)))
}

type orderItemJSON struct {
	ProductID uuid.UUID       `json:"product_id"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int32           `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type orderJSON struct {
	ID            uuid.UUID       `json:"id"`
	OrderNumber   int64           `json:"order_number"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	PaymentStatus string          `json:"payment_status"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	ShippingFee   decimal.Decimal `json:"shipping_fee"`
	Total         decimal.Decimal `json:"total"`
	CouponCode    *string         `json:"coupon_code,omitempty"`
	Items         []orderItemJSON `json:"items,omitempty"`
	DeliveredAt   *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toOrderJSON(o order.Order) orderJSON {
	out := orderJSON{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		Subtotal:      o.Subtotal,
		Discount:      o.Discount,
		ShippingFee:   o.ShippingFee,
		Total:         o.Total,
		CouponCode:    o.CouponCode,
		DeliveredAt:   o.DeliveredAt,
		CancelledAt:   o.CancelledAt,
		CreatedAt:     o.CreatedAt,
	}
	for _, it := range o.Items {
		out.Items = append(out.Items, orderItemJSON{
			ProductID: it.ProductID,
			Title:     it.Title,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			LineTotal: it.LineTotal,
		})
	}
	return out
}

// ListOrders handles GET /api/v1/orders.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	customerID, _ := middleware.CustomerFromContext(r.Context())

	orders, err := h.orderSvc.ListByCustomer(r.Context(), customerID)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	out := make([]orderJSON, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderJSON(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// GetOrder handles GET /api/v1/orders/{id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	customerID, _ := middleware.CustomerFromContext(r.Context())

	orderID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := h.orderSvc.GetForCustomer(r.Context(), customerID, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to get order", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}
	writeJSON(w, http.StatusOK, toOrderJSON(o))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder handles POST /api/v1/orders/{id}/cancel.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	customerID, _ := middleware.CustomerFromContext(r.Context())

	orderID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req reasonRequest
	_ = decodeBody(w, r, &req) // reason is optional

	o, err := h.orderSvc.Cancel(r.Context(), customerID, orderID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, order.ErrNotCancellable):
			writeError(w, http.StatusConflict, "order can no longer be cancelled")
		default:
			h.logger.Error("failed to cancel order", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to cancel order")
		}
		return
	}
	writeJSON(w, http.StatusOK, toOrderJSON(o))
}

// ReturnOrder handles POST /api/v1/orders/{id}/return.
func (h *OrderHandler) ReturnOrder(w http.ResponseWriter, r *http.Request) {
	customerID, _ := middleware.CustomerFromContext(r.Context())

	orderID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req reasonRequest
	_ = decodeBody(w, r, &req)

	o, err := h.orderSvc.RequestReturn(r.Context(), customerID, orderID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, order.ErrNotDelivered):
			writeError(w, http.StatusConflict, "order has not been delivered")
		case errors.Is(err, order.ErrReturnWindowClosed):
			writeError(w, http.StatusConflict, "return window has closed")
		default:
			h.logger.Error("failed to request return", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to request return")
		}
		return
	}
	writeJSON(w, http.StatusOK, toOrderJSON(o))
}
