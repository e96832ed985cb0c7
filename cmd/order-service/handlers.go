package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CaraccioloSergio/directToVet/internal/cart"
	"github.com/CaraccioloSergio/directToVet/internal/mercadopago"
	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
	"github.com/CaraccioloSergio/directToVet/internal/order/lifecycle"
	"github.com/CaraccioloSergio/directToVet/internal/tokenvault"
	"github.com/CaraccioloSergio/directToVet/internal/webhook"
	"github.com/CaraccioloSergio/directToVet/pkg/metrics"
)

type server struct {
	engine     *lifecycle.Engine
	carts      *cart.Registry
	vault      *tokenvault.Vault
	mp         *mercadopago.Client
	reconciler *webhook.Reconciler
	metrics    *metrics.ServerMetrics
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /cart/{session}", s.instrument("cart_get", s.handleCartGet))
	mux.HandleFunc("POST /cart/{session}/items", s.instrument("cart_add", s.handleCartAdd))
	mux.HandleFunc("PUT /cart/{session}/items/{sku}", s.instrument("cart_set_quantity", s.handleCartSetQuantity))
	mux.HandleFunc("DELETE /cart/{session}/items/{sku}", s.instrument("cart_remove", s.handleCartRemove))

	mux.HandleFunc("POST /orders", s.instrument("order_create", s.handleOrderCreate))
	mux.HandleFunc("GET /orders/by-reference", s.instrument("order_get_by_reference", s.handleOrderGetByReference))
	mux.HandleFunc("GET /orders/{id}", s.instrument("order_get", s.handleOrderGet))
	mux.HandleFunc("POST /orders/{id}/payment-method", s.instrument("order_payment_method", s.handleSetPaymentMethod))
	mux.HandleFunc("POST /orders/{id}/payment-link", s.instrument("order_payment_link_create", s.handleCreatePaymentLink))
	mux.HandleFunc("GET /orders/{id}/payment-link", s.instrument("order_payment_link_get", s.handleGetPaymentLink))
	mux.HandleFunc("POST /orders/{id}/cancel", s.instrument("order_cancel", s.handleCancel))
	mux.HandleFunc("POST /orders/{id}/status", s.instrument("order_status", s.handleUpdateStatus))

	mux.HandleFunc("GET /vets/{vet}/orders", s.instrument("order_list", s.handleOrderList))

	mux.HandleFunc("GET /shipping/{zone}", s.instrument("shipping_quote", s.handleShippingQuote))

	mux.HandleFunc("GET /mp/oauth/connect", s.instrument("mp_connect", s.handleOAuthConnect))
	mux.HandleFunc("GET /mp/oauth/callback", s.instrument("mp_callback", s.handleOAuthCallback))
	mux.HandleFunc("GET /mp/connection", s.instrument("mp_connection", s.handleConnectionStatus))
	mux.HandleFunc("DELETE /mp/connection", s.instrument("mp_disconnect", s.handleDisconnect))

	mux.HandleFunc("POST /mp/webhook", s.instrument("mp_webhook_legacy", s.handleWebhookLegacy))
	mux.HandleFunc("POST /mp/webhook/v2", s.instrument("mp_webhook", s.handleWebhook))

	return mux
}

// instrument wraps a handler with the request counter and latency
// histogram.
func (s *server) instrument(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.Requests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		s.metrics.LatencyMS.WithLabelValues(name).Observe(float64(time.Since(start).Milliseconds()))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ---- cart ----

type cartAddRequest struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Currency  string          `json:"currency"`
}

func (s *server) handleCartGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.carts.Get(r.PathValue("session")))
}

func (s *server) handleCartAdd(w http.ResponseWriter, r *http.Request) {
	var req cartAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	summary, err := s.carts.Add(r.PathValue("session"), domain.Item{
		SKU:       req.SKU,
		Name:      req.Name,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		Currency:  req.Currency,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *server) handleCartSetQuantity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	summary, err := s.carts.SetQuantity(r.PathValue("session"), r.PathValue("sku"), req.Quantity)
	if err != nil {
		code := http.StatusBadRequest
		if err == cart.ErrItemNotFound {
			code = http.StatusNotFound
		}
		writeJSON(w, code, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *server) handleCartRemove(w http.ResponseWriter, r *http.Request) {
	summary, err := s.carts.Remove(r.PathValue("session"), r.PathValue("sku"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ---- orders ----

type orderCreateRequest struct {
	SessionID        string `json:"session_id"`
	VetID            string `json:"vet_id"`
	CustomerName     string `json:"customer_name"`
	CustomerLastname string `json:"customer_lastname"`
	CustomerEmail    string `json:"customer_email"`
	CustomerWhatsapp string `json:"customer_whatsapp"`
	DeliveryMode     string `json:"delivery_mode"`
	DeliveryAddress  string `json:"delivery_address"`
	DeliveryZone     string `json:"delivery_zone"`
}

func (s *server) handleOrderCreate(w http.ResponseWriter, r *http.Request) {
	var req orderCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.SessionID == "" || req.VetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "session_id and vet_id are required"})
		return
	}
	res := s.engine.CreateOrder(r.Context(), lifecycle.CreateOrderInput{
		SessionID:        req.SessionID,
		VetID:            domain.VetID(req.VetID),
		CustomerName:     req.CustomerName,
		CustomerLastname: req.CustomerLastname,
		CustomerEmail:    req.CustomerEmail,
		CustomerWhatsapp: req.CustomerWhatsapp,
		DeliveryMode:     req.DeliveryMode,
		DeliveryAddress:  req.DeliveryAddress,
		DeliveryZone:     req.DeliveryZone,
	})
	writeJSON(w, statusForOutcome(res.Outcome), res)
}

func (s *server) handleOrderGet(w http.ResponseWriter, r *http.Request) {
	res := s.engine.GetOrder(r.Context(), domain.OrderID(r.PathValue("id")))
	writeJSON(w, statusForOutcome(res.Outcome), res)
}

func (s *server) handleOrderGetByReference(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "ref is required"})
		return
	}
	res := s.engine.GetOrderByExternalReference(r.Context(), ref)
	writeJSON(w, statusForOutcome(res.Outcome), res)
}

func (s *server) handleSetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	res := s.engine.SetPaymentMethod(r.Context(), domain.OrderID(r.PathValue("id")), req.Method)
	writeJSON(w, statusForOutcome(res.Outcome), res)
}

func (s *server) handleCreatePaymentLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VetID string `json:"vet_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if req.VetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "vet_id is required"})
		return
	}
	res := s.engine.CreatePaymentLink(r.Context(), domain.VetID(req.VetID), domain.OrderID(r.PathValue("id")))
	writeJSON(w, statusForOutcome(res.Outcome), res)
}

func (s *server) handleGetPaymentLink(w http.ResponseWriter, r *http.Request) {
	res := s.engine.PaymentLink(r.Context(), domain.OrderID(r.PathValue("id")))
	writeJSON(w, statusForOutcome(res.Outcome), res)
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NotifyCustomer bool `json:"notify_customer"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
	}
	res := s.engine.Cancel(r.Context(), domain.OrderID(r.PathValue("id")), req.NotifyCustomer)
	writeJSON(w, statusForOutcome(res.Outcome), res)
}

func (s *server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status         string `json:"status"`
		NotifyCustomer bool   `json:"notify_customer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	res := s.engine.UpdateStatus(r.Context(), domain.OrderID(r.PathValue("id")), req.Status, req.NotifyCustomer)
	writeJSON(w, statusForOutcome(res.Outcome), res)
}

func (s *server) handleOrderList(w http.ResponseWriter, r *http.Request) {
	res := s.engine.ListOrders(r.Context(), domain.VetID(r.PathValue("vet")))
	writeJSON(w, statusForOutcome(res.Outcome), res)
}

func (s *server) handleShippingQuote(w http.ResponseWriter, r *http.Request) {
	res := s.engine.ShippingQuote(r.Context(), r.PathValue("zone"))
	writeJSON(w, statusForOutcome(res.Outcome), res)
}

// statusForOutcome maps the engine's outcome discriminator to an HTTP
// status. Conversational callers read the body; the code is for
// infrastructure.
func statusForOutcome(o lifecycle.Outcome) int {
	switch o {
	case lifecycle.OutcomeCreated, lifecycle.OutcomeFound, lifecycle.OutcomeUpdated,
		lifecycle.OutcomeSuccess, lifecycle.OutcomeCancelled:
		return http.StatusOK
	case lifecycle.OutcomeNotFound, lifecycle.OutcomeNoLink:
		return http.StatusNotFound
	case lifecycle.OutcomeEmptyCart, lifecycle.OutcomeValidationError, lifecycle.OutcomeInvalidMethod,
		lifecycle.OutcomeInvalidStatus, lifecycle.OutcomeAlreadyCancelled, lifecycle.OutcomeCannotCancel:
		return http.StatusBadRequest
	case lifecycle.OutcomeNotAllowed:
		return http.StatusForbidden
	case lifecycle.OutcomeNotConnected, lifecycle.OutcomeRefreshFailed:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// ---- merchant OAuth ----

func (s *server) handleOAuthConnect(w http.ResponseWriter, r *http.Request) {
	vetID := r.URL.Query().Get("vet_id")
	if vetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "vet_id is required"})
		return
	}
	if !s.mp.Configured() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "mercado pago app credentials not configured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authorization_url": s.mp.AuthorizationURL(vetID),
	})
}

func (s *server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "code and state are required"})
		return
	}
	tok, err := s.vault.Connect(r.Context(), domain.VetID(state), code)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "authorization exchange failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "connected",
		"vet_id":     tok.VetID,
		"mp_user_id": tok.MPUserID,
		"expires_at": tok.ExpiresAt,
	})
}

func (s *server) handleConnectionStatus(w http.ResponseWriter, r *http.Request) {
	vetID := r.URL.Query().Get("vet_id")
	if vetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "vet_id is required"})
		return
	}
	state, mpUserID, err := s.vault.Status(r.Context(), domain.VetID(vetID))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "connection check failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"vet_id":     vetID,
		"connection": state,
		"mp_user_id": mpUserID,
	})
}

func (s *server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	vetID := r.URL.Query().Get("vet_id")
	if vetID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "vet_id is required"})
		return
	}
	if err := s.vault.Disconnect(r.Context(), domain.VetID(vetID)); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "disconnect failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "disconnected", "vet_id": vetID})
}

// ---- webhooks ----

// handleWebhookLegacy acknowledges the generic (non vet-scoped) endpoint
// some processor applications still have configured. No state changes.
func (s *server) handleWebhookLegacy(w http.ResponseWriter, r *http.Request) {
	s.metrics.Webhooks.WithLabelValues("legacy_ack").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"status": "acknowledged"})
}

// handleWebhook always answers 200: the processor retries on anything
// else, and our failure handling is internal (logs, audit trail, metrics).
func (s *server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	vetID := r.URL.Query().Get("vet_id")
	if vetID == "" {
		s.metrics.Webhooks.WithLabelValues("missing_vet").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "detail": "missing vet_id"})
		return
	}

	var env webhook.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.metrics.Webhooks.WithLabelValues("bad_body").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored", "detail": "unparseable body"})
		return
	}

	res := s.reconciler.Process(r.Context(), domain.VetID(vetID), env)
	s.metrics.Webhooks.WithLabelValues(string(res.Outcome)).Inc()
	writeJSON(w, http.StatusOK, res)
}
