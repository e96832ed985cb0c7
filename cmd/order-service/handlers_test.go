package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaraccioloSergio/directToVet/internal/audit"
	"github.com/CaraccioloSergio/directToVet/internal/cart"
	"github.com/CaraccioloSergio/directToVet/internal/mercadopago"
	"github.com/CaraccioloSergio/directToVet/internal/notify"
	"github.com/CaraccioloSergio/directToVet/internal/order/lifecycle"
	"github.com/CaraccioloSergio/directToVet/internal/order/store"
	"github.com/CaraccioloSergio/directToVet/internal/shipping"
	"github.com/CaraccioloSergio/directToVet/internal/tokenvault"
	"github.com/CaraccioloSergio/directToVet/internal/webhook"
	"github.com/CaraccioloSergio/directToVet/pkg/metrics"
)

// fakeMP serves the slice of the processor API the flow touches.
func fakeMP(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/oauth/token":
			_ = json.NewEncoder(w).Encode(mercadopago.Credentials{
				AccessToken: "merchant-token", RefreshToken: "merchant-refresh", ExpiresIn: 21600, UserID: 777,
			})
		case r.URL.Path == "/checkout/preferences" && r.Method == http.MethodPost:
			var req mercadopago.PreferenceRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(mercadopago.Preference{
				ID:                "pref-1",
				InitPoint:         "https://mp.example/checkout/pref-1",
				ExternalReference: req.ExternalReference,
			})
		case r.URL.Path == "/v1/payments/9001":
			_ = json.NewEncoder(w).Encode(mercadopago.Payment{
				ID: 9001, Status: "approved", ExternalReference: paymentReference,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

// paymentReference is set by the flow test once the payment link exists, so
// the fake payment lookup answers with the real reference.
var paymentReference string

// testMetrics is shared across tests: the collectors register once on the
// default prometheus registry.
var (
	testMetrics     *metrics.ServerMetrics
	testMetricsOnce sync.Once
)

func sharedMetrics() *metrics.ServerMetrics {
	testMetricsOnce.Do(func() {
		testMetrics = metrics.NewServerMetrics("order_service_test")
	})
	return testMetrics
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mpSrv := fakeMP(t)
	t.Cleanup(mpSrv.Close)

	mp := mercadopago.NewClient(mercadopago.Config{
		APIBaseURL:   mpSrv.URL,
		TokenURL:     mpSrv.URL + "/oauth/token",
		AuthURL:      mpSrv.URL + "/authorization",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.example.com/mp/oauth/callback",
	})

	tokens, err := tokenvault.NewFileStore(filepath.Join(t.TempDir(), "tokens.json"))
	require.NoError(t, err)
	vault := tokenvault.New(tokens, mp)

	orders := store.NewMemory()
	carts := cart.NewRegistry()
	rates := shipping.NewStaticRates(map[string]decimal.Decimal{"centro": decimal.NewFromInt(1500)})
	auditLog := audit.NewMemory()
	notifier := &notify.LogNotifier{Service: "order-service"}

	engine := lifecycle.NewEngine(orders, carts, rates, vault, mp, notifier, auditLog, "https://app.example.com")
	reconciler := webhook.NewReconciler(vault, mp, engine, notifier, auditLog, webhook.NewDedup(100))

	srv := &server{
		engine:     engine,
		carts:      carts,
		vault:      vault,
		mp:         mp,
		reconciler: reconciler,
		metrics:    sharedMetrics(),
	}
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

// TestCheckoutFlow walks the whole happy path over HTTP: merchant OAuth,
// cart, order, payment link, approved webhook.
func TestCheckoutFlow(t *testing.T) {
	ts := newTestServer(t)

	// Merchant connects their processor account.
	resp, body := getJSON(t, ts.URL+"/mp/oauth/callback?code=auth-code&state=vet-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "connected", body["status"])

	resp, body = getJSON(t, ts.URL+"/mp/connection?vet_id=vet-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "connected", body["connection"])
	assert.Equal(t, "777", body["mp_user_id"])

	// Customer fills the cart.
	resp, _ = postJSON(t, ts.URL+"/cart/s1/items", map[string]any{
		"sku": "DOG-15KG", "name": "Alimento perro 15kg", "quantity": 2, "unit_price": "45000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Order creation.
	resp, body = postJSON(t, ts.URL+"/orders", map[string]any{
		"session_id":        "s1",
		"vet_id":            "vet-1",
		"customer_name":     "Ana",
		"customer_lastname": "Gomez",
		"customer_email":    "ana@example.com",
		"customer_whatsapp": "+5491155550001",
		"delivery_mode":     "DELIVERY",
		"delivery_address":  "Av. Siempreviva 742",
		"delivery_zone":     "centro",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "created", body["status"])
	order := body["order"].(map[string]any)
	orderID := order["order_id"].(string)
	assert.Equal(t, "91500", order["total_amount"])

	// Payment link.
	resp, body = postJSON(t, ts.URL+"/orders/"+orderID+"/payment-link", map[string]any{"vet_id": "vet-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "success", body["status"])
	assert.Equal(t, "https://mp.example/checkout/pref-1", body["payment_url"])
	paymentReference = body["external_reference"].(string)
	assert.Equal(t, fmt.Sprintf("DTV|vet-1|%s", orderID), paymentReference)

	// Processor notifies; the order flips to approved.
	resp, body = postJSON(t, ts.URL+"/mp/webhook/v2?vet_id=vet-1", map[string]any{
		"type":   "payment",
		"action": "payment.updated",
		"data":   map[string]any{"id": 9001},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "processed", body["status"])

	resp, body = getJSON(t, ts.URL+"/orders/"+orderID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	order = body["order"].(map[string]any)
	assert.Equal(t, "PAYMENT_APPROVED", order["status"])
	assert.Equal(t, "9001", order["mp_payment_id"])

	// The duplicate delivery is acknowledged but not re-processed.
	resp, body = postJSON(t, ts.URL+"/mp/webhook/v2?vet_id=vet-1", map[string]any{
		"type":   "payment",
		"action": "payment.updated",
		"data":   map[string]any{"id": 9001},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "duplicate", body["status"])
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	ts := newTestServer(t)

	// Missing vet id.
	resp, body := postJSON(t, ts.URL+"/mp/webhook/v2", map[string]any{"type": "payment"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ignored", body["status"])

	// Vet without a stored token: still 200.
	resp, body = postJSON(t, ts.URL+"/mp/webhook/v2?vet_id=vet-unknown", map[string]any{
		"type": "payment", "action": "payment.updated", "data": map[string]any{"id": 42},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "error", body["status"])

	// Legacy endpoint acknowledges without touching anything.
	resp, body = postJSON(t, ts.URL+"/mp/webhook", map[string]any{"whatever": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "acknowledged", body["status"])
}

func TestOrderEndpointsErrors(t *testing.T) {
	ts := newTestServer(t)

	resp, body := getJSON(t, ts.URL+"/orders/ORD-MISSING")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["status"])

	resp, body = postJSON(t, ts.URL+"/orders", map[string]any{
		"session_id": "empty-session", "vet_id": "vet-1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "empty_cart", body["status"])

	resp, body = getJSON(t, ts.URL+"/shipping/centro")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "found", body["status"])

	resp, _ = getJSON(t, ts.URL+"/shipping/nowhere")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
