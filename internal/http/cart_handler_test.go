package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/discount"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/fjod/go_cart/storefront/internal/session"
	"github.com/fjod/go_cart/storefront/internal/storage"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/go-faster/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func setupRouter(t *testing.T, sessions Sessions, checks map[string]Check) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	codes := discount.NewRegistry(discount.DefaultCodes())

	if sessions == nil {
		registry := session.NewRegistry(storage.NewMemoryStore(), codes, zerolog.Nop(), session.WithMetrics(m))
		t.Cleanup(func() { _ = registry.Close() })
		sessions = registry
	}

	return NewRouter(RouterConfig{
		Cart:           NewCartHandler(sessions, codes, m, 5*time.Second),
		Health:         HealthHandler(checks),
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         zerolog.Nop(),
		RequestTimeout: 5 * time.Second,
	})
}

type request struct {
	method  string
	path    string
	body    string
	session string
	role    string
}

func do(t *testing.T, h http.Handler, req request) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if req.body != "" {
		r = httptest.NewRequest(req.method, req.path, strings.NewReader(req.body))
	} else {
		r = httptest.NewRequest(req.method, req.path, nil)
	}
	if req.session != "" {
		r.Header.Set(SessionHeader, req.session)
	}
	if req.role != "" {
		r.Header.Set(RoleHeader, req.role)
	}

	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, r)
	return recorder
}

func decodeCart(t *testing.T, rec *httptest.ResponseRecorder) domain.CartState {
	t.Helper()
	var cart domain.CartState
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cart))
	return cart
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func addWidget(t *testing.T, h http.Handler, session, role string) domain.CartState {
	t.Helper()
	rec := do(t, h, request{
		method:  http.MethodPost,
		path:    "/api/v1/cart/items",
		body:    `{"product_id":"p1","name":"Widget","price":"100","image_url":"/img/w.png"}`,
		session: session,
		role:    role,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeCart(t, rec)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestGetCart_Empty(t *testing.T) {
	h := setupRouter(t, nil, nil)

	rec := do(t, h, request{method: http.MethodGet, path: "/api/v1/cart", session: "s1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	cart := decodeCart(t, rec)
	assert.Empty(t, cart.Items)
	assert.Equal(t, 0, cart.TotalItems)
	assert.False(t, cart.IsOpen)
}

func TestGetCart_MissingSession(t *testing.T) {
	h := setupRouter(t, nil, nil)

	rec := do(t, h, request{method: http.MethodGet, path: "/api/v1/cart"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_session", decodeError(t, rec).Code)
}

func TestAddItem_RolePricing(t *testing.T) {
	tests := []struct {
		role  string
		price string
	}{
		{"admin", "90"},
		{"MANAGER", "100"},
		{"buyer", "120"},
		{"guest", "100"},
		{"", "100"},
	}

	for _, tt := range tests {
		t.Run("role "+tt.role, func(t *testing.T) {
			h := setupRouter(t, nil, nil)

			cart := addWidget(t, h, "s1", tt.role)

			require.Len(t, cart.Items, 1)
			assert.True(t, cart.Items[0].Price.Equal(dec(tt.price)), "got %s", cart.Items[0].Price)
			assert.True(t, cart.TotalPrice.Equal(dec(tt.price)))
			assert.Equal(t, "/img/w.png", cart.Items[0].ImageURL)
		})
	}
}

func TestAddItem_SameProductMerges(t *testing.T) {
	h := setupRouter(t, nil, nil)

	addWidget(t, h, "s1", "admin")
	cart := addWidget(t, h, "s1", "buyer")

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.True(t, cart.Items[0].Price.Equal(dec("90")), "price stays at first-add price")
	assert.True(t, cart.TotalPrice.Equal(dec("180")))
}

func TestAddItem_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", `{"product_id":`, "invalid_request"},
		{"missing product", `{"name":"x","price":"1"}`, "invalid_product_id"},
		{"negative price", `{"product_id":"p1","price":"-1"}`, "invalid_price"},
		{"quantity too large", `{"product_id":"p1","price":"1","quantity":150}`, "invalid_quantity"},
		{"negative quantity", `{"product_id":"p1","price":"1","quantity":-2}`, "invalid_quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupRouter(t, nil, nil)

			rec := do(t, h, request{method: http.MethodPost, path: "/api/v1/cart/items", body: tt.body, session: "s1"})

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestAddItem_ExplicitLineIDAndQuantity(t *testing.T) {
	h := setupRouter(t, nil, nil)

	rec := do(t, h, request{
		method:  http.MethodPost,
		path:    "/api/v1/cart/items",
		body:    `{"id":"line-7","product_id":"p7","name":"Gear","price":12.5,"quantity":4}`,
		session: "s1",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	cart := decodeCart(t, rec)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "line-7", cart.Items[0].ID)
	assert.Equal(t, 4, cart.TotalItems)
	assert.True(t, cart.TotalPrice.Equal(dec("50")))
}

func TestUpdateAndRemoveItem(t *testing.T) {
	h := setupRouter(t, nil, nil)
	lineID := addWidget(t, h, "s1", "manager").Items[0].ID

	rec := do(t, h, request{method: http.MethodPut, path: "/api/v1/cart/items/" + lineID, body: `{"quantity":3}`, session: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	cart := decodeCart(t, rec)
	assert.Equal(t, 3, cart.TotalItems)
	assert.True(t, cart.TotalPrice.Equal(dec("300")))

	rec = do(t, h, request{method: http.MethodDelete, path: "/api/v1/cart/items/" + lineID, session: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	cart = decodeCart(t, rec)
	assert.Empty(t, cart.Items)
	assert.True(t, cart.TotalPrice.IsZero())
}

func TestUpdateQuantity_ZeroRemoves(t *testing.T) {
	h := setupRouter(t, nil, nil)
	lineID := addWidget(t, h, "s1", "").Items[0].ID

	rec := do(t, h, request{method: http.MethodPut, path: "/api/v1/cart/items/" + lineID, body: `{"quantity":0}`, session: "s1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeCart(t, rec).Items)
}

func TestUpdateQuantity_Invalid(t *testing.T) {
	h := setupRouter(t, nil, nil)

	rec := do(t, h, request{method: http.MethodPut, path: "/api/v1/cart/items/x", body: `{"quantity":-1}`, session: "s1"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_quantity", decodeError(t, rec).Code)
}

func TestRemoveItem_UnknownLineIsNoop(t *testing.T) {
	h := setupRouter(t, nil, nil)
	addWidget(t, h, "s1", "")

	rec := do(t, h, request{method: http.MethodDelete, path: "/api/v1/cart/items/p1", session: "s1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeCart(t, rec).Items, 1, "line IDs, not product IDs, address lines")
}

func TestApplyDiscount(t *testing.T) {
	h := setupRouter(t, nil, nil)
	addWidget(t, h, "s1", "admin")

	rec := do(t, h, request{method: http.MethodPost, path: "/api/v1/cart/discount", body: `{"code":"save10"}`, session: "s1"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp DiscountResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Applied)
	assert.Equal(t, "save10", resp.Cart.DiscountCode)
	assert.True(t, resp.Cart.DiscountPercent.Equal(dec("10")))
	assert.True(t, resp.Cart.DiscountedTotal.Equal(dec("81")))
}

func TestApplyDiscount_RejectedClearsActive(t *testing.T) {
	h := setupRouter(t, nil, nil)
	addWidget(t, h, "s1", "")
	do(t, h, request{method: http.MethodPost, path: "/api/v1/cart/discount", body: `{"code":"SAVE20"}`, session: "s1"})

	rec := do(t, h, request{method: http.MethodPost, path: "/api/v1/cart/discount", body: `{"code":"NOPE"}`, session: "s1"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp DiscountResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Applied)
	assert.Empty(t, resp.Cart.DiscountCode)
	assert.True(t, resp.Cart.DiscountedTotal.IsZero())
	assert.True(t, resp.Cart.TotalPrice.Equal(dec("100")))
}

func TestApplyDiscount_EmptyCode(t *testing.T) {
	h := setupRouter(t, nil, nil)

	rec := do(t, h, request{method: http.MethodPost, path: "/api/v1/cart/discount", body: `{"code":""}`, session: "s1"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_code", decodeError(t, rec).Code)
}

func TestRemoveDiscountAndClear(t *testing.T) {
	h := setupRouter(t, nil, nil)
	addWidget(t, h, "s1", "")
	do(t, h, request{method: http.MethodPost, path: "/api/v1/cart/discount", body: `{"code":"WELCOME5"}`, session: "s1"})

	rec := do(t, h, request{method: http.MethodDelete, path: "/api/v1/cart/discount", session: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	cart := decodeCart(t, rec)
	assert.Empty(t, cart.DiscountCode)
	assert.Len(t, cart.Items, 1)

	rec = do(t, h, request{method: http.MethodDelete, path: "/api/v1/cart", session: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	cart = decodeCart(t, rec)
	assert.Empty(t, cart.Items)
	assert.Equal(t, 0, cart.TotalItems)
}

func TestVisibility(t *testing.T) {
	h := setupRouter(t, nil, nil)

	steps := []struct {
		path string
		open bool
	}{
		{"/api/v1/cart/toggle", true},
		{"/api/v1/cart/toggle", false},
		{"/api/v1/cart/open", true},
		{"/api/v1/cart/open", true},
		{"/api/v1/cart/close", false},
	}
	for _, step := range steps {
		rec := do(t, h, request{method: http.MethodPost, path: step.path, session: "s1"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, step.open, decodeCart(t, rec).IsOpen, step.path)
	}
}

func TestProductStatus(t *testing.T) {
	h := setupRouter(t, nil, nil)
	addWidget(t, h, "s1", "")
	addWidget(t, h, "s1", "")

	rec := do(t, h, request{method: http.MethodGet, path: "/api/v1/cart/products/p1", session: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ProductStatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, ProductStatusResponse{ProductID: "p1", Count: 2, InCart: true}, resp)

	rec = do(t, h, request{method: http.MethodGet, path: "/api/v1/cart/products/p2", session: "s1"})
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, ProductStatusResponse{ProductID: "p2"}, resp)
}

func TestSessionsAreIsolated(t *testing.T) {
	h := setupRouter(t, nil, nil)
	addWidget(t, h, "alice", "")

	rec := do(t, h, request{method: http.MethodGet, path: "/api/v1/cart", session: "bob"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeCart(t, rec).Items)
}

func TestLookupDiscount(t *testing.T) {
	h := setupRouter(t, nil, nil)

	rec := do(t, h, request{method: http.MethodGet, path: "/api/v1/discounts/welcome5"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp DiscountLookupResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "WELCOME5", resp.Code)
	assert.True(t, resp.Valid)
	assert.Equal(t, discount.KindFixed, resp.Kind)
	assert.True(t, resp.Value.Equal(dec("5")))

	rec = do(t, h, request{method: http.MethodGet, path: "/api/v1/discounts/BOGUS"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type sessionsStub struct {
	err error
}

func (s sessionsStub) Get(context.Context, string) (*store.Store, error) {
	return nil, s.err
}

func TestSessionErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"closed", session.ErrRegistryClosed, http.StatusServiceUnavailable, "service_unavailable"},
		{"timeout", errors.Wrap(context.DeadlineExceeded, "rehydrate"), http.StatusGatewayTimeout, "timeout"},
		{"storage down", &session.LoadError{SessionID: "s1", Err: errors.New("connection refused")}, http.StatusServiceUnavailable, "service_unavailable"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := setupRouter(t, sessionsStub{err: tt.err}, nil)

			rec := do(t, h, request{method: http.MethodGet, path: "/api/v1/cart", session: "s1"})

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

// outageStore fails reads while down is set.
type outageStore struct {
	storage.SnapshotStore
	down atomic.Bool
}

func (s *outageStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.down.Load() {
		return nil, errors.New("connection refused")
	}
	return s.SnapshotStore.Get(ctx, key)
}

func TestGetCart_StorageOutageKeepsSavedCart(t *testing.T) {
	codes := discount.NewRegistry(discount.DefaultCodes())
	kv := &outageStore{SnapshotStore: storage.NewMemoryStore()}

	first := session.NewRegistry(kv, codes, zerolog.Nop())
	addWidget(t, setupRouter(t, first, nil), "s1", "")
	require.NoError(t, first.Close())

	kv.down.Store(true)
	second := session.NewRegistry(kv, codes, zerolog.Nop())
	t.Cleanup(func() { _ = second.Close() })
	h := setupRouter(t, second, nil)

	rec := do(t, h, request{method: http.MethodGet, path: "/api/v1/cart", session: "s1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", decodeError(t, rec).Code)

	rec = do(t, h, request{method: http.MethodDelete, path: "/api/v1/cart", session: "s1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Zero(t, second.Len())

	kv.down.Store(false)
	rec = do(t, h, request{method: http.MethodGet, path: "/api/v1/cart", session: "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	cart := decodeCart(t, rec)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "p1", cart.Items[0].ProductID)
}

func TestRequestID(t *testing.T) {
	h := setupRouter(t, nil, nil)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set(RequestIDHeader, "req-abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, "req-abc", rec.Header().Get(RequestIDHeader))

	rec = do(t, h, request{method: http.MethodGet, path: "/health"})
	assert.True(t, strings.HasPrefix(rec.Header().Get(RequestIDHeader), "req-"))
}

func TestHealth(t *testing.T) {
	h := setupRouter(t, nil, map[string]Check{"storage": func() error { return nil }})

	rec := do(t, h, request{method: http.MethodGet, path: "/health"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, HealthResponse{Status: "ok", Checks: map[string]string{"storage": "ok"}}, resp)
}

func TestHealth_Degraded(t *testing.T) {
	h := setupRouter(t, nil, map[string]Check{
		"storage": func() error { return errors.New("redis breaker open") },
	})

	rec := do(t, h, request{method: http.MethodGet, path: "/health"})

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "redis breaker open", resp.Checks["storage"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := setupRouter(t, nil, nil)
	addWidget(t, h, "s1", "")
	do(t, h, request{method: http.MethodPost, path: "/api/v1/cart/discount", body: `{"code":"SAVE10"}`, session: "s1"})

	rec := do(t, h, request{method: http.MethodGet, path: "/metrics"})

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `storefront_cart_actions_total{action="add_item"} 1`)
	assert.Contains(t, body, `storefront_discount_applications_total{result="applied"} 1`)
	assert.Contains(t, body, "storefront_active_sessions 1")
}

func TestRateLimitMiddleware(t *testing.T) {
	limited := RateLimitMiddleware(rate.NewLimiter(rate.Limit(0.001), 1))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := do(t, limited, request{method: http.MethodGet, path: "/api/v1/cart"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, limited, request{method: http.MethodGet, path: "/api/v1/cart"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decodeError(t, rec).Code)
}
