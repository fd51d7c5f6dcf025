// Package admin contains the staff-facing JSON handlers. All routes are
// guarded by the admin JWT middleware.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/velouria-skin/api/internal/services/coupon"
	"github.com/velouria-skin/api/internal/services/order"
	"github.com/velouria-skin/api/internal/services/product"
	"github.com/velouria-skin/api/internal/stripe"
)

// Handler holds dependencies for the admin API.
type Handler struct {
	orderSvc   *order.Service
	productSvc *product.Service
	couponSvc  *coupon.Service
	stripeSvc  *stripe.Service
	logger     *slog.Logger
}

// NewHandler creates the admin API handler.
func NewHandler(
	orderSvc *order.Service,
	productSvc *product.Service,
	couponSvc *coupon.Service,
	stripeSvc *stripe.Service,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orderSvc:   orderSvc,
		productSvc: productSvc,
		couponSvc:  couponSvc,
		stripeSvc:  stripeSvc,
		logger:     logger,
	}
}

// RegisterRoutes registers all admin routes behind the admin guard.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	guard := func(fn http.HandlerFunc) http.Handler { return requireAdmin(fn) }

	mux.Handle("GET /api/v1/admin/orders", guard(h.ListOrders))
	mux.Handle("GET /api/v1/admin/orders/{id}", guard(h.GetOrder))
	mux.Handle("PATCH /api/v1/admin/orders/{id}/status", guard(h.UpdateOrderStatus))
	mux.Handle("POST /api/v1/admin/orders/{id}/refunds", guard(h.RefundOrder))

	mux.Handle("POST /api/v1/admin/products", guard(h.CreateProduct))
	mux.Handle("PATCH /api/v1/admin/products/{id}", guard(h.UpdateProduct))
	mux.Handle("DELETE /api/v1/admin/products/{id}", guard(h.DeactivateProduct))

	mux.Handle("GET /api/v1/admin/coupons", guard(h.ListCoupons))
	mux.Handle("POST /api/v1/admin/coupons", guard(h.CreateCoupon))
	mux.Handle("PATCH /api/v1/admin/coupons/{id}", guard(h.SetCouponActive))
}

type errorJSON struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorJSON{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}
