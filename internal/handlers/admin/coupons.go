package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velouria-skin/api/internal/services/coupon"
)

// ListCoupons handles GET /api/v1/admin/coupons.
func (h *Handler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.couponSvc.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list coupons", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list coupons")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": coupons})
}

type createCouponRequest struct {
	Code        string          `json:"code"`
	Type        string          `json:"type"`
	Value       decimal.Decimal `json:"value"`
	MinSubtotal decimal.Decimal `json:"min_subtotal"`
	UsageLimit  *int32          `json:"usage_limit"`
	StartsAt    *time.Time      `json:"starts_at"`
	EndsAt      *time.Time      `json:"ends_at"`
	ProductIDs  []uuid.UUID     `json:"product_ids"`
	Categories  []string        `json:"categories"`
}

func (r createCouponRequest) validate() string {
	switch {
	case r.Code == "":
		return "code is required"
	case r.Type != coupon.TypePercentage && r.Type != coupon.TypeFixed:
		return "type must be percentage or fixed"
	case !r.Value.IsPositive():
		return "value must be positive"
	case r.Type == coupon.TypePercentage && r.Value.GreaterThan(decimal.NewFromInt(100)):
		return "percentage value must not exceed 100"
	case r.StartsAt != nil && r.EndsAt != nil && r.EndsAt.Before(*r.StartsAt):
		return "ends_at must be after starts_at"
	default:
		return ""
	}
}

// CreateCoupon handles POST /api/v1/admin/coupons.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	c, err := h.couponSvc.Create(r.Context(), coupon.CreateParams{
		Code:        req.Code,
		Type:        req.Type,
		Value:       req.Value,
		MinSubtotal: req.MinSubtotal,
		UsageLimit:  req.UsageLimit,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		ProductIDs:  req.ProductIDs,
		Categories:  req.Categories,
	})
	if err != nil {
		if errors.Is(err, coupon.ErrDuplicateCode) {
			writeError(w, http.StatusConflict, "coupon code already exists")
			return
		}
		h.logger.Error("failed to create coupon", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create coupon")
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type setCouponActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

// SetCouponActive handles PATCH /api/v1/admin/coupons/{id}.
func (h *Handler) SetCouponActive(w http.ResponseWriter, r *http.Request) {
	couponID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid coupon id")
		return
	}

	var req setCouponActiveRequest
	if err := decodeBody(w, r, &req); err != nil || req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "is_active is required")
		return
	}

	if err := h.couponSvc.SetActive(r.Context(), couponID, *req.IsActive); err != nil {
		if errors.Is(err, coupon.ErrNotFound) {
			writeError(w, http.StatusNotFound, "coupon not found")
			return
		}
		h.logger.Error("failed to update coupon", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update coupon")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
