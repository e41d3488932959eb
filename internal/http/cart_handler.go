package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/discount"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	maxQuantity        = 99
)

// Sessions resolves a session ID to its cart. *session.Registry implements it.
type Sessions interface {
	Get(ctx context.Context, sessionID string) (*store.Store, error)
}

type CartHandler struct {
	sessions Sessions
	codes    store.CodeFinder
	metrics  *metrics.Metrics
	timeout  time.Duration
	now      func() time.Time
}

func NewCartHandler(sessions Sessions, codes store.CodeFinder, m *metrics.Metrics, timeout time.Duration) *CartHandler {
	return &CartHandler{
		sessions: sessions,
		codes:    codes,
		metrics:  m,
		timeout:  timeout,
		now:      time.Now,
	}
}

type AddItemRequestDTO struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	ImageURL  string          `json:"image_url"`
	Quantity  int             `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type ApplyDiscountRequestDTO struct {
	Code string `json:"code"`
}

type DiscountResponse struct {
	Cart    domain.CartState `json:"cart"`
	Applied bool             `json:"applied"`
}

type ProductStatusResponse struct {
	ProductID string `json:"product_id"`
	Count     int    `json:"count"`
	InCart    bool   `json:"in_cart"`
}

type DiscountLookupResponse struct {
	Code  string          `json:"code"`
	Valid bool            `json:"valid"`
	Kind  discount.Kind   `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, ok := h.cart(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, cart.Snapshot())
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	// Validate request
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	if req.Price.IsNegative() {
		respondError(w, http.StatusBadRequest, "invalid_price", "price must not be negative")
		return
	}
	if req.Quantity < 0 || req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	h.dispatch(w, r, http.StatusCreated, store.AddItemAction{
		Product: domain.Product{
			ID:        req.ID,
			ProductID: req.ProductID,
			Name:      req.Name,
			ImageURL:  req.ImageURL,
			Price:     req.Price,
			Quantity:  req.Quantity,
		},
		Role: getRole(r.Context()),
	})
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	lineID := chi.URLParam(r, "line_id")

	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	// zero removes the line
	if req.Quantity < 0 || req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 0 and 99")
		return
	}

	h.dispatch(w, r, http.StatusOK, store.UpdateQuantityAction{LineID: lineID, Quantity: req.Quantity})
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, http.StatusOK, store.RemoveItemAction{LineID: chi.URLParam(r, "line_id")})
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, http.StatusOK, store.ClearCartAction{})
}

func (h *CartHandler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	var req ApplyDiscountRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "invalid_code", "code is required")
		return
	}

	cart, ok := h.cart(w, r)
	if !ok {
		return
	}

	action := store.ApplyDiscountAction{Code: req.Code}
	state := cart.Dispatch(action)
	applied := state.HasDiscount()

	h.metrics.CartAction(action.Name())
	h.metrics.DiscountApplication(applied)

	respondJSON(w, http.StatusOK, DiscountResponse{Cart: state, Applied: applied})
}

func (h *CartHandler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, http.StatusOK, store.RemoveDiscountAction{})
}

func (h *CartHandler) ToggleCart(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, http.StatusOK, store.ToggleCartAction{})
}

func (h *CartHandler) OpenCart(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, http.StatusOK, store.OpenCartAction{})
}

func (h *CartHandler) CloseCart(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, http.StatusOK, store.CloseCartAction{})
}

func (h *CartHandler) ProductStatus(w http.ResponseWriter, r *http.Request) {
	cart, ok := h.cart(w, r)
	if !ok {
		return
	}

	productID := chi.URLParam(r, "product_id")
	count := cart.GetItemCount(productID)
	respondJSON(w, http.StatusOK, ProductStatusResponse{
		ProductID: productID,
		Count:     count,
		InCart:    count > 0,
	})
}

// LookupDiscount reports whether a code exists and could be applied now.
// It does not touch any cart.
func (h *CartHandler) LookupDiscount(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	c, ok := h.codes.FindCode(code)
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "discount code not found")
		return
	}

	respondJSON(w, http.StatusOK, DiscountLookupResponse{
		Code:  c.Code,
		Valid: discount.IsValid(c, h.now()),
		Kind:  c.Kind,
		Value: c.Value,
	})
}

func (h *CartHandler) dispatch(w http.ResponseWriter, r *http.Request, status int, action store.Action) {
	cart, ok := h.cart(w, r)
	if !ok {
		return
	}

	state := cart.Dispatch(action)
	h.metrics.CartAction(action.Name())

	respondJSON(w, status, state)
}

func (h *CartHandler) cart(w http.ResponseWriter, r *http.Request) (*store.Store, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := getSessionID(r.Context())
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session", "X-Session-ID header is required")
		return nil, false
	}

	cart, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		handleSessionError(w, r, err)
		return nil, false
	}
	return cart, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

func handleSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrRegistryClosed):
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "server is shutting down")
	case errors.Is(err, session.ErrEmptySession):
		respondError(w, http.StatusBadRequest, "missing_session", "X-Session-ID header is required")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		respondError(w, http.StatusGatewayTimeout, "timeout", "loading cart timed out")
	case errors.As(err, new(*session.LoadError)):
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("cart storage unavailable")
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "cart storage unavailable")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("session_id", getSessionID(r.Context())).Msg("cart lookup failed")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
