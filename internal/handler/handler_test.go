package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/marketplace/internal/domain/auth"
	"github.com/xenking/marketplace/internal/domain/cart"
	"github.com/xenking/marketplace/internal/domain/order"
	"github.com/xenking/marketplace/internal/domain/product"
)

// --- Mock implementations ---

type mockProducts map[string]product.Product

func (m mockProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := m[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (m mockProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := m[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockOrders struct {
	mu     sync.Mutex
	orders []*order.Order
}

func (m *mockOrders) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.orders {
		if o.IdempotencyKey != "" && existing.BuyerID == o.BuyerID && existing.IdempotencyKey == o.IdempotencyKey {
			return order.ErrDuplicateKey
		}
	}
	o.ID = int64(len(m.orders) + 1)
	o.CreatedAt = time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	m.orders = append(m.orders, o)
	return nil
}

func (m *mockOrders) FindByIdempotencyKey(_ context.Context, buyerID int64, key string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.BuyerID == buyerID && o.IdempotencyKey == key {
			return o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *mockOrders) ListByBuyer(_ context.Context, buyerID int64) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for i := len(m.orders) - 1; i >= 0; i-- {
		if m.orders[i].BuyerID == buyerID {
			out = append(out, *m.orders[i])
		}
	}
	return out, nil
}

func (m *mockOrders) GetForBuyer(_ context.Context, buyerID, id int64) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == id && o.BuyerID == buyerID {
			return o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *mockOrders) AdvanceStatus(_ context.Context, id int64, status order.Status) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID == id {
			if !o.Status.CanAdvanceTo(status) {
				return nil, order.ErrStatusRegression
			}
			o.Status = status
			return o, nil
		}
	}
	return nil, order.ErrNotFound
}

type nopNotifier struct{}

func (nopNotifier) OrderPlaced(context.Context, *order.Order) {}

type mockAPIKeys map[string]*auth.APIKeyInfo

func (m mockAPIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	info, ok := m[hash]
	if !ok {
		return nil, auth.ErrAPIKeyNotFound
	}
	return info, nil
}

// --- Helpers ---

var (
	jwtSecret = []byte("test-secret")
	pepper    = []byte("test-pepper")
	alice     = auth.Buyer{ID: 7, Username: "alice"}
	bob       = auth.Buyer{ID: 8, Username: "bob"}
)

type testServer struct {
	handler http.Handler
	store   *cart.MemoryStore
	orders  *mockOrders
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	products := mockProducts{
		"42": {ID: "42", Title: "Mug", Price: decimal.RequireFromString("150.00")},
		"7":  {ID: "7", Title: "Tea", Price: decimal.RequireFromString("80.00")},
		"5":  {ID: "5", Title: "Notebook", Price: decimal.RequireFromString("99.99")},
	}
	store := cart.NewMemoryStore()
	orders := &mockOrders{}

	svc, err := order.NewService(products, store, orders, nopNotifier{})
	require.NoError(t, err)

	keys := mockAPIKeys{
		HashAPIKey(pepper, "ops-key"):    {ID: "ops", KeyHash: HashAPIKey(pepper, "ops-key"), Scopes: []string{auth.ScopeFulfillment}},
		HashAPIKey(pepper, "reader-key"): {ID: "reader", KeyHash: HashAPIKey(pepper, "reader-key")},
		// Rows whose stored hash disagrees with the lookup key.
		HashAPIKey(pepper, "rotated-key"): {ID: "rotated", KeyHash: HashAPIKey(pepper, "newer-key"), Scopes: []string{auth.ScopeFulfillment}},
		HashAPIKey(pepper, "corrupt-key"): {ID: "corrupt", KeyHash: "not-hex", Scopes: []string{auth.ScopeFulfillment}},
	}

	h := New(Config{JWTSecret: jwtSecret, APIKeyPepper: pepper}, cart.NewService(store, products), svc, keys)
	return &testServer{handler: h.Routes(), store: store, orders: orders}
}

type requestOption func(*http.Request)

func withSession(id string) requestOption {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "cart_session", Value: id})
	}
}

func withBuyer(t *testing.T, b auth.Buyer) requestOption {
	token, err := SignBuyerToken(jwtSecret, b, time.Hour, time.Now())
	require.NoError(t, err)
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func withHeader(k, v string) requestOption {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func (s *testServer) do(method, path, body string, opts ...requestOption) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for _, o := range opts {
		o(req)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

const session = "3f1c1d5e-8b7a-4c8e-9d2e-1a2b3c4d5e6f"

func codForm() string {
	return `{
		"full_name": "Alice Doe",
		"phone": "+380501234567",
		"address": "Khreshchatyk 1",
		"city": "Kyiv",
		"postal_code": "01001",
		"delivery_method": "nova_poshta",
		"department": "12",
		"comment": null,
		"payment_method": "cod",
		"extra": {"ignored": [1, 2]}
	}`
}

func cardForm(number, expiry, cvv string) string {
	return `{
		"full_name": "Alice Doe",
		"phone": "+380501234567",
		"address": "Khreshchatyk 1",
		"city": "Kyiv",
		"postal_code": "01001",
		"delivery_method": "courier",
		"payment_method": "card",
		"card_number": "` + number + `",
		"card_expiry": "` + expiry + `",
		"card_cvv": "` + cvv + `"
	}`
}

// --- Tests ---

func TestSession_IssuesCookie(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "cart_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Len(t, cookies[0].Value, 36)

	// A valid cookie is kept as is.
	w = s.do(http.MethodGet, "/api/cart", "", withSession(session))
	assert.Empty(t, w.Result().Cookies())

	// A malformed one is replaced.
	w = s.do(http.MethodGet, "/api/cart", "", withSession("not-a-uuid"))
	assert.Len(t, w.Result().Cookies(), 1)
}

func TestCart_AddViewRemove(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/cart/items/42", "", withSession(session))
	require.Equal(t, http.StatusOK, w.Code)
	s.do(http.MethodPost, "/api/cart/items/42", "", withSession(session))
	s.do(http.MethodPost, "/api/cart/items/7", "", withSession(session))

	w = s.do(http.MethodGet, "/api/cart", "", withSession(session))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"lines": [
			{"product_id": "42", "quantity": 2, "title": "Mug", "unit_price": "150.00", "subtotal": "300.00"},
			{"product_id": "7", "quantity": 1, "title": "Tea", "unit_price": "80.00", "subtotal": "80.00"}
		],
		"total": "380.00"
	}`, w.Body.String())

	w = s.do(http.MethodDelete, "/api/cart/items/42", "", withSession(session))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "80.00", decode(t, w)["total"])

	// Removing an absent product is a no-op.
	w = s.do(http.MethodDelete, "/api/cart/items/404", "", withSession(session))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCart_Clear(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/cart/items/42", "", withSession(session))
	s.do(http.MethodPost, "/api/cart/items/7", "", withSession(session))

	w := s.do(http.MethodDelete, "/api/cart", "", withSession(session))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"lines": [], "total": "0.00"}`, w.Body.String())
}

func TestCart_AddUnknownProduct(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/cart/items/999", "", withSession(session))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "product not found", decode(t, w)["message"])
}

func TestPlaceOrder_CashOnDelivery(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/cart/items/42", "", withSession(session))
	s.do(http.MethodPost, "/api/cart/items/42", "", withSession(session))
	s.do(http.MethodPost, "/api/cart/items/7", "", withSession(session))

	w := s.do(http.MethodPost, "/api/orders", codForm(), withSession(session), withBuyer(t, alice))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "/api/orders/1", w.Header().Get("Location"))

	body := decode(t, w)
	assert.Equal(t, "380.00", body["total"])
	assert.Equal(t, "new", body["status"])
	assert.Equal(t, "Cash on delivery", body["payment_label"])
	assert.Len(t, body["items"], 2)
	delivery := body["delivery"].(map[string]any)
	assert.Equal(t, "Nova Poshta", delivery["method_label"])
	assert.Equal(t, "", delivery["comment"])

	snap, err := s.store.Snapshot(context.Background(), session)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestPlaceOrder_Card(t *testing.T) {
	s := newTestServer(t)
	for range 3 {
		s.do(http.MethodPost, "/api/cart/items/5", "", withSession(session))
	}

	w := s.do(http.MethodPost, "/api/orders", cardForm("4111 1111 1111 1111", "12/99", "123"),
		withSession(session), withBuyer(t, alice))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode(t, w)
	assert.Equal(t, "299.97", body["total"])
	assert.Equal(t, "paid", body["status"])
	assert.NotContains(t, w.Body.String(), "4111")
}

func TestPlaceOrder_Validation(t *testing.T) {
	for _, tt := range []struct {
		name   string
		body   string
		fields []string
	}{
		{
			name:   "BadCard",
			body:   cardForm("123", "12/99", "12a"),
			fields: []string{"card_number", "card_cvv"},
		},
		{
			name:   "ExpiredCard",
			body:   cardForm("4111111111111111", "01/20", "123"),
			fields: []string{"card_expiry"},
		},
		{
			name:   "MissingDelivery",
			body:   `{"payment_method": "bank", "delivery_method": "drone"}`,
			fields: []string{"full_name", "phone", "address", "city", "postal_code", "delivery_method"},
		},
		{
			name:   "UnknownPayment",
			body:   strings.Replace(codForm(), `"cod"`, `"barter"`, 1),
			fields: []string{"payment_method"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.do(http.MethodPost, "/api/cart/items/42", "", withSession(session))

			w := s.do(http.MethodPost, "/api/orders", tt.body, withSession(session), withBuyer(t, alice))
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			body := decode(t, w)
			fields := body["fields"].(map[string]any)
			for _, f := range tt.fields {
				assert.Contains(t, fields, f)
			}
			assert.Len(t, fields, len(tt.fields))
			assert.Empty(t, s.orders.orders)

			snap, err := s.store.Snapshot(context.Background(), session)
			require.NoError(t, err)
			assert.Equal(t, 1, snap["42"])
		})
	}
}

func TestPlaceOrder_MalformedBody(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/api/orders", `{"full_name": 5}`, withSession(session), withBuyer(t, alice))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/orders", `not json`, withSession(session), withBuyer(t, alice))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlaceOrder_ProductGone(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.store.Add(context.Background(), session, "gone"))

	w := s.do(http.MethodPost, "/api/orders", codForm(), withSession(session), withBuyer(t, alice))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "product gone not found", decode(t, w)["message"])

	snap, err := s.store.Snapshot(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, cart.Snapshot{"gone": 1}, snap)
}

func TestPlaceOrder_IdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/cart/items/42", "", withSession(session))

	key := withHeader(HeaderIdempotencyKey, "checkout-1")
	first := s.do(http.MethodPost, "/api/orders", codForm(), withSession(session), withBuyer(t, alice), key)
	require.Equal(t, http.StatusCreated, first.Code)

	second := s.do(http.MethodPost, "/api/orders", codForm(), withSession(session), withBuyer(t, alice), key)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, decode(t, first)["id"], decode(t, second)["id"])
	assert.Len(t, s.orders.orders, 1)

	long := withHeader(HeaderIdempotencyKey, strings.Repeat("k", 256))
	w := s.do(http.MethodPost, "/api/orders", codForm(), withSession(session), withBuyer(t, alice), long)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBuyerAuth(t *testing.T) {
	s := newTestServer(t)

	expired, err := SignBuyerToken(jwtSecret, alice, time.Hour, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	forged, err := SignBuyerToken([]byte("other"), alice, time.Hour, time.Now())
	require.NoError(t, err)
	noSubject, err := SignBuyerToken(jwtSecret, auth.Buyer{Username: "x"}, time.Hour, time.Now())
	require.NoError(t, err)

	for _, tt := range []struct {
		name   string
		header string
	}{
		{name: "Missing"},
		{name: "NotBearer", header: "Basic abc"},
		{name: "Garbage", header: "Bearer abc.def.ghi"},
		{name: "Expired", header: "Bearer " + expired},
		{name: "WrongSecret", header: "Bearer " + forged},
		{name: "ZeroSubject", header: "Bearer " + noSubject},
	} {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(http.MethodGet, "/api/orders", "", withHeader("Authorization", tt.header))
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
		})
	}

	w := s.do(http.MethodPost, "/api/orders", codForm(), withSession(session))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOrderHistory(t *testing.T) {
	s := newTestServer(t)
	for _, b := range []auth.Buyer{alice, alice, bob} {
		s.do(http.MethodPost, "/api/cart/items/7", "", withSession(session))
		w := s.do(http.MethodPost, "/api/orders", codForm(), withSession(session), withBuyer(t, b))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := s.do(http.MethodGet, "/api/orders", "", withBuyer(t, alice))
	require.Equal(t, http.StatusOK, w.Code)
	orders := decode(t, w)["orders"].([]any)
	require.Len(t, orders, 2)
	assert.Equal(t, float64(2), orders[0].(map[string]any)["id"])
	assert.Equal(t, float64(1), orders[1].(map[string]any)["id"])

	w = s.do(http.MethodGet, "/api/orders/1", "", withBuyer(t, alice))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode(t, w)["buyer"].(map[string]any)["username"])

	// Bob's order is invisible to alice.
	w = s.do(http.MethodGet, "/api/orders/3", "", withBuyer(t, alice))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/orders/abc", "", withBuyer(t, alice))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdvanceStatus(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/cart/items/7", "", withSession(session))
	require.Equal(t, http.StatusCreated,
		s.do(http.MethodPost, "/api/orders", codForm(), withSession(session), withBuyer(t, alice)).Code)

	ops := withHeader(HeaderAPIKey, "ops-key")

	w := s.do(http.MethodPost, "/api/fulfillment/orders/1/status", `{"status":"shipped"}`, ops)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "shipped", decode(t, w)["status"])

	w = s.do(http.MethodPost, "/api/fulfillment/orders/1/status", `{"status":"paid"}`, ops)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/fulfillment/orders/1/status", `{"status":"lost"}`, ops)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/fulfillment/orders/99/status", `{"status":"delivered"}`, ops)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/fulfillment/orders/1/status", `{"status":"delivered"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/fulfillment/orders/1/status", `{"status":"delivered"}`,
		withHeader(HeaderAPIKey, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/api/fulfillment/orders/1/status", `{"status":"delivered"}`,
		withHeader(HeaderAPIKey, "reader-key"))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAPIKeyAuth_StoredHashMustMatch(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/cart/items/7", "", withSession(session))
	require.Equal(t, http.StatusCreated,
		s.do(http.MethodPost, "/api/orders", codForm(), withSession(session), withBuyer(t, alice)).Code)

	for _, tt := range []struct {
		key  string
		want int
	}{
		{key: "ops-key", want: http.StatusOK},
		{key: "rotated-key", want: http.StatusUnauthorized},
		{key: "corrupt-key", want: http.StatusUnauthorized},
	} {
		t.Run(tt.key, func(t *testing.T) {
			w := s.do(http.MethodPost, "/api/fulfillment/orders/1/status", `{"status":"shipped"}`,
				withHeader(HeaderAPIKey, tt.key))
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestHashAPIKey(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	assert.Equal(t,
		"f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		HashAPIKey([]byte("key"), "The quick brown fox jumps over the lazy dog"))
	assert.NotEqual(t, HashAPIKey(pepper, "ops-key"), HashAPIKey([]byte("other"), "ops-key"))
}

func TestRoutes_NotFound(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = s.do(http.MethodPut, "/api/cart", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
