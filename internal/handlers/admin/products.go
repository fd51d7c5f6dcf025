package admin

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velouria-skin/api/internal/services/product"
)

type createProductRequest struct {
	Title                 string           `json:"title"`
	Slug                  string           `json:"slug"`
	Description           string           `json:"description"`
	Category              string           `json:"category"`
	Price                 decimal.Decimal  `json:"price"`
	DiscountType          *string          `json:"discount_type"`
	DiscountValue         *decimal.Decimal `json:"discount_value"`
	Stock                 int32            `json:"stock"`
	CODEnabled            bool             `json:"cod_enabled"`
	ShippingCharge        decimal.Decimal  `json:"shipping_charge"`
	FreeShippingThreshold *decimal.Decimal `json:"free_shipping_threshold"`
	FreeShippingMinQty    *int32           `json:"free_shipping_min_qty"`
}

func (r createProductRequest) validate() string {
	switch {
	case r.Title == "":
		return "title is required"
	case r.Category == "":
		return "category is required"
	case r.Price.IsNegative():
		return "price must not be negative"
	case r.Stock < 0:
		return "stock must not be negative"
	case r.DiscountType != nil && *r.DiscountType != product.DiscountPercentage && *r.DiscountType != product.DiscountFixed:
		return "discount_type must be percentage or fixed"
	default:
		return ""
	}
}

// CreateProduct handles POST /api/v1/admin/products.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	p, err := h.productSvc.Create(r.Context(), product.CreateParams{
		Title:                 req.Title,
		Slug:                  req.Slug,
		Description:           req.Description,
		Category:              req.Category,
		Price:                 req.Price,
		DiscountType:          req.DiscountType,
		DiscountValue:         req.DiscountValue,
		Stock:                 req.Stock,
		CODEnabled:            req.CODEnabled,
		ShippingCharge:        req.ShippingCharge,
		FreeShippingThreshold: req.FreeShippingThreshold,
		FreeShippingMinQty:    req.FreeShippingMinQty,
	})
	if err != nil {
		if errors.Is(err, product.ErrDuplicateSlug) {
			writeError(w, http.StatusConflict, "slug already in use")
			return
		}
		h.logger.Error("failed to create product", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create product")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type updateProductRequest struct {
	Title                 *string          `json:"title"`
	Description           *string          `json:"description"`
	Category              *string          `json:"category"`
	Price                 *decimal.Decimal `json:"price"`
	DiscountType          *string          `json:"discount_type"`
	DiscountValue         *decimal.Decimal `json:"discount_value"`
	Stock                 *int32           `json:"stock"`
	CODEnabled            *bool            `json:"cod_enabled"`
	ShippingCharge        *decimal.Decimal `json:"shipping_charge"`
	FreeShippingThreshold *decimal.Decimal `json:"free_shipping_threshold"`
	FreeShippingMinQty    *int32           `json:"free_shipping_min_qty"`
	IsActive              *bool            `json:"is_active"`
}

// UpdateProduct handles PATCH /api/v1/admin/products/{id}. Absent fields
// are left unchanged.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req updateProductRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Price != nil && req.Price.IsNegative() {
		writeError(w, http.StatusBadRequest, "price must not be negative")
		return
	}
	if req.Stock != nil && *req.Stock < 0 {
		writeError(w, http.StatusBadRequest, "stock must not be negative")
		return
	}

	p, err := h.productSvc.Update(r.Context(), productID, product.UpdateParams{
		Title:                 req.Title,
		Description:           req.Description,
		Category:              req.Category,
		Price:                 req.Price,
		DiscountType:          req.DiscountType,
		DiscountValue:         req.DiscountValue,
		Stock:                 req.Stock,
		CODEnabled:            req.CODEnabled,
		ShippingCharge:        req.ShippingCharge,
		FreeShippingThreshold: req.FreeShippingThreshold,
		FreeShippingMinQty:    req.FreeShippingMinQty,
		IsActive:              req.IsActive,
	})
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("failed to update product", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update product")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeactivateProduct handles DELETE /api/v1/admin/products/{id}. Products
// are soft-deleted so historical orders keep valid references.
func (h *Handler) DeactivateProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	if err := h.productSvc.Deactivate(r.Context(), productID); err != nil {
		if errors.Is(err, product.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("failed to deactivate product", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to deactivate product")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
