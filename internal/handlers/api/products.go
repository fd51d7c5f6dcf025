package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/velouria-skin/api/internal/services/product"
)

// ProductHandler serves the public catalog.
type ProductHandler struct {
	productSvc *product.Service
	logger     *slog.Logger
}

// NewProductHandler creates a new public catalog handler.
func NewProductHandler(productSvc *product.Service, logger *slog.Logger) *ProductHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductHandler{
		productSvc: productSvc,
		logger:     logger,
	}
}

// RegisterRoutes registers the public catalog routes.
func (h *ProductHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/products", h.ListProducts)
	mux.HandleFunc("GET /api/v1/products/{slug}", h.GetProduct)
}

// productJSON is the public-facing product representation.
type productJSON struct {
	ID             uuid.UUID       `json:"id"`
	Title          string          `json:"title"`
	Slug           string          `json:"slug"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	Price          decimal.Decimal `json:"price"`
	SalePrice      decimal.Decimal `json:"sale_price"`
	InStock        bool            `json:"in_stock"`
	CODEnabled     bool            `json:"cod_enabled"`
	ShippingCharge decimal.Decimal `json:"shipping_charge"`
	CreatedAt      time.Time       `json:"created_at"`
}

func toProductJSON(p product.Product) productJSON {
	return productJSON{
		ID:             p.ID,
		Title:          p.Title,
		Slug:           p.Slug,
		Description:    p.Description,
		Category:       p.Category,
		Price:          p.Price,
		SalePrice:      p.SalePrice(),
		InStock:        p.Stock > 0,
		CODEnabled:     p.CODEnabled,
		ShippingCharge: p.ShippingCharge,
		CreatedAt:      p.CreatedAt,
	}
}

// ListProducts handles GET /api/v1/products.
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	params := product.ListParams{
		Category: r.URL.Query().Get("category"),
	}
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

	products, err := h.productSvc.List(r.Context(), params)
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	out := make([]productJSON, 0, len(products))
	for _, p := range products {
		out = append(out, toProductJSON(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

// GetProduct handles GET /api/v1/products/{slug}.
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")

	p, err := h.productSvc.GetBySlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("failed to get product", "error", err, "slug", slug)
		writeError(w, http.StatusInternalServerError, "failed to get product")
		return
	}
	writeJSON(w, http.StatusOK, toProductJSON(p))
}
