package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velouria-skin/api/internal/middleware"
	"github.com/velouria-skin/api/internal/services/cart"
)

// CartHandler handles the authenticated customer's cart.
type CartHandler struct {
	cartSvc *cart.Service
	logger  *slog.Logger
}

// NewCartHandler creates a new cart handler.
func NewCartHandler(cartSvc *cart.Service, logger *slog.Logger) *CartHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CartHandler{
		cartSvc: cartSvc,
		logger:  logger,
	}
}

// RegisterRoutes registers the cart routes behind customer auth.
func (h *CartHandler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.Handle("GET /api/v1/cart", requireAuth(http.HandlerFunc(h.GetCart)))
	mux.Handle("POST /api/v1/cart/items", requireAuth(http.HandlerFunc(h.AddItem)))
	mux.Handle("PATCH /api/v1/cart/items/{id}", requireAuth(http.HandlerFunc(h.UpdateItem)))
	mux.Handle("DELETE /api/v1/cart/items/{id}", requireAuth(http.HandlerFunc(h.RemoveItem)))
	mux.Handle("POST /api/v1/cart/coupon", requireAuth(http.HandlerFunc(h.ApplyCoupon)))
	mux.Handle("DELETE /api/v1/cart/coupon", requireAuth(http.HandlerFunc(h.RemoveCoupon)))
}

type cartItemJSON struct {
	ID        uuid.UUID       `json:"id"`
	ProductID uuid.UUID       `json:"product_id"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	SalePrice decimal.Decimal `json:"sale_price"`
	Quantity  int32           `json:"quantity"`
	InStock   bool            `json:"in_stock"`
}

type cartJSON struct {
	Items      []cartItemJSON  `json:"items"`
	CouponCode *string         `json:"coupon_code"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// GetCart handles GET /api/v1/cart.
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	customerID, _ := middleware.CustomerFromContext(r.Context())

	c, err := h.cartSvc.GetOrCreate(r.Context(), customerID)
	if err != nil {
		h.logger.Error("failed to get cart", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get cart")
		return
	}

	items, err := h.cartSvc.ListItems(r.Context(), customerID)
	if err != nil {
		h.logger.Error("failed to list cart items", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get cart")
		return
	}

	out := cartJSON{Items: make([]cartItemJSON, 0, len(items)), CouponCode: c.CouponCode, Subtotal: decimal.Zero}
	for _, it := range items {
		out.Items = append(out.Items, cartItemJSON{
			ID:        it.ID,
			ProductID: it.ProductID,
			Title:     it.Title,
			UnitPrice: it.UnitPrice,
			SalePrice: it.SalePrice,
			Quantity:  it.Quantity,
			InStock:   it.Stock >= it.Quantity,
		})
		out.Subtotal = out.Subtotal.Add(it.SalePrice.Mul(decimal.NewFromInt32(it.Quantity)))
	}
	writeJSON(w, http.StatusOK, out)
}

type addItemRequest struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int32     `json:"quantity"`
}

// AddItem handles POST /api/v1/cart/items.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	customerID, _ := middleware.CustomerFromContext(r.Context())

	var req addItemRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.cartSvc.AddItem(r.Context(), customerID, req.ProductID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, cart.ErrInvalidQuantity):
			writeError(w, http.StatusBadRequest, "quantity must be at least 1")
		case errors.Is(err, cart.ErrProductUnavailable):
			writeError(w, http.StatusUnprocessableEntity, "product is unavailable")
		default:
			h.logger.Error("failed to add cart item", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to add item")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateItemRequest struct {
	Quantity int32 `json:"quantity"`
}

// UpdateItem handles PATCH /api/v1/cart/items/{id}.
func (h *CartHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	customerID, _ := middleware.CustomerFromContext(r.Context())

	itemID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var req updateItemRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = h.cartSvc.UpdateItemQuantity(r.Context(), customerID, itemID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, cart.ErrInvalidQuantity):
			writeError(w, http.StatusBadRequest, "quantity must be at least 1")
		case errors.Is(err, cart.ErrItemNotFound):
			writeError(w, http.StatusNotFound, "cart item not found")
		default:
			h.logger.Error("failed to update cart item", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update item")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveItem handles DELETE /api/v1/cart/items/{id}.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	customerID, _ := middleware.CustomerFromContext(r.Context())

	itemID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	if err := h.cartSvc.RemoveItem(r.Context(), customerID, itemID); err != nil {
		if errors.Is(err, cart.ErrItemNotFound) {
			writeError(w, http.StatusNotFound, "cart item not found")
			return
		}
		h.logger.Error("failed to remove cart item", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

// ApplyCoupon handles POST /api/v1/cart/coupon. The code is stored on the
// cart and only validated at checkout.
func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	customerID, _ := middleware.CustomerFromContext(r.Context())

	var req applyCouponRequest
	if err := decodeBody(w, r, &req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "coupon code is required")
		return
	}

	if err := h.cartSvc.ApplyCoupon(r.Context(), customerID, req.Code); err != nil {
		h.logger.Error("failed to apply coupon", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to apply coupon")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveCoupon handles DELETE /api/v1/cart/coupon.
func (h *CartHandler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	customerID, _ := middleware.CustomerFromContext(r.Context())

	if err := h.cartSvc.RemoveCoupon(r.Context(), customerID); err != nil {
		h.logger.Error("failed to remove coupon", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove coupon")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
