package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/velouria-skin/api/internal/auth"
	"github.com/velouria-skin/api/internal/middleware"
	"github.com/velouria-skin/api/internal/services/customer"
)

// CustomerHandler handles registration, login, and the customer profile.
type CustomerHandler struct {
	customerSvc *customer.Service
	jwtMgr      *auth.JWTManager
	logger      *slog.Logger
}

// NewCustomerHandler creates a new customer handler.
func NewCustomerHandler(customerSvc *customer.Service, jwtMgr *auth.JWTManager, logger *slog.Logger) *CustomerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomerHandler{
		customerSvc: customerSvc,
		jwtMgr:      jwtMgr,
		logger:      logger,
	}
}

// RegisterRoutes registers the account routes. requireAuth guards /me.
func (h *CustomerHandler) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.HandleFunc("POST /api/v1/customers/register", h.Register)
	mux.HandleFunc("POST /api/v1/customers/login", h.Login)
	mux.Handle("GET /api/v1/customers/me", requireAuth(http.HandlerFunc(h.Me)))
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type authResponse struct {
	Token    string       `json:"token"`
	Customer customerJSON `json:"customer"`
}

type customerJSON struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

func toCustomerJSON(c customer.Customer) customerJSON {
	return customerJSON{ID: c.ID.String(), Email: c.Email, FullName: c.FullName}
}

// Register handles POST /api/v1/customers/register.
func (h *CustomerHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	c, err := h.customerSvc.Register(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		switch {
		case errors.Is(err, customer.ErrEmailTaken):
			writeError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, auth.ErrEmptyPassword):
			writeError(w, http.StatusBadRequest, "password cannot be empty")
		default:
			h.logger.Error("failed to register customer", "error", err)
			writeError(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	token, err := h.jwtMgr.GenerateToken(c.ID, c.Email, c.IsAdmin)
	if err != nil {
		h.logger.Error("failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, Customer: toCustomerJSON(c)})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /api/v1/customers/login.
func (h *CustomerHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.customerSvc.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrEmptyPassword) {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		h.logger.Error("failed to authenticate customer", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	token, err := h.jwtMgr.GenerateToken(c.ID, c.Email, c.IsAdmin)
	if err != nil {
		h.logger.Error("failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, Customer: toCustomerJSON(c)})
}

// Me handles GET /api/v1/customers/me.
func (h *CustomerHandler) Me(w http.ResponseWriter, r *http.Request) {
	customerID, ok := middleware.CustomerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	c, err := h.customerSvc.Get(r.Context(), customerID)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			writeError(w, http.StatusNotFound, "customer not found")
			return
		}
		h.logger.Error("failed to get customer", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get customer")
		return
	}
	writeJSON(w, http.StatusOK, toCustomerJSON(c))
}
