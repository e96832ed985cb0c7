// Package lifecycle owns every order status transition. Orders are created
// once, mutated only through the named operations below, and never
// deleted: cancellation is a terminal status.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/CaraccioloSergio/directToVet/internal/audit"
	"github.com/CaraccioloSergio/directToVet/internal/cart"
	"github.com/CaraccioloSergio/directToVet/internal/mercadopago"
	"github.com/CaraccioloSergio/directToVet/internal/notify"
	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
	"github.com/CaraccioloSergio/directToVet/internal/order/store"
	"github.com/CaraccioloSergio/directToVet/internal/shipping"
	"github.com/CaraccioloSergio/directToVet/internal/tokenvault"
	"github.com/CaraccioloSergio/directToVet/pkg/logging"
)

// TokenSource hands out currently-usable merchant access tokens.
type TokenSource interface {
	EnsureValid(ctx context.Context, vetID domain.VetID) (string, error)
}

// Gateway is the slice of the processor client the engine needs.
type Gateway interface {
	CreatePreference(ctx context.Context, accessToken string, pref mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
	GetPreference(ctx context.Context, accessToken, preferenceID string) (*mercadopago.Preference, error)
}

type Engine struct {
	orders   store.Store
	carts    *cart.Registry
	rates    shipping.Rates
	tokens   TokenSource
	gateway  Gateway
	notifier notify.Notifier
	auditLog audit.Log

	webhookBaseURL string
	service        string
	now            func() time.Time
}

func NewEngine(
	orders store.Store,
	carts *cart.Registry,
	rates shipping.Rates,
	tokens TokenSource,
	gateway Gateway,
	notifier notify.Notifier,
	auditLog audit.Log,
	webhookBaseURL string,
) *Engine {
	return &Engine{
		orders:         orders,
		carts:          carts,
		rates:          rates,
		tokens:         tokens,
		gateway:        gateway,
		notifier:       notifier,
		auditLog:       auditLog,
		webhookBaseURL: strings.TrimRight(webhookBaseURL, "/"),
		service:        "order-service",
		now:            func() time.Time { return time.Now().UTC() },
	}
}

type CreateOrderInput struct {
	SessionID        string
	VetID            domain.VetID
	CustomerName     string
	CustomerLastname string
	CustomerEmail    string
	CustomerWhatsapp string
	DeliveryMode     string
	DeliveryAddress  string
	DeliveryZone     string
}

// CreateOrder turns the session cart into a persisted order with status
// CREATED. Nothing is persisted when any validation fails; the cart is
// cleared only after the order is stored.
func (e *Engine) CreateOrder(ctx context.Context, in CreateOrderInput) CreateResult {
	items := e.carts.Items(in.SessionID)
	if len(items) == 0 {
		return CreateResult{
			Outcome: OutcomeEmptyCart,
			Message: "El carrito está vacío. Agregá productos antes de crear el pedido.",
		}
	}
	if err := domain.ValidateItems(items); err != nil {
		return CreateResult{Outcome: OutcomeValidationError, Message: err.Error()}
	}

	customer, err := domain.NewCustomerData(in.CustomerName, in.CustomerLastname, in.CustomerEmail, in.CustomerWhatsapp)
	if err != nil {
		return CreateResult{
			Outcome: OutcomeValidationError,
			Message: fmt.Sprintf("Error en los datos del cliente: %v", err),
		}
	}

	delivery, err := domain.NewDeliveryData(in.DeliveryMode, in.DeliveryAddress, in.DeliveryZone)
	if err != nil {
		return CreateResult{Outcome: OutcomeValidationError, Message: err.Error()}
	}

	shippingCost := decimal.Zero
	if delivery.Mode == domain.DeliveryModeDelivery {
		cost, ok, err := e.rates.Cost(ctx, delivery.Zone)
		if err != nil {
			e.logError("create_order", string(in.VetID), "", err)
			return CreateResult{
				Outcome: OutcomeError,
				Message: "Hubo un problema al calcular el costo de envío. Intentá de nuevo.",
			}
		}
		if !ok {
			return CreateResult{
				Outcome: OutcomeValidationError,
				Message: fmt.Sprintf("La localidad '%s' no está en nuestra zona de cobertura.", delivery.Zone),
			}
		}
		shippingCost = cost
	}

	subtotal := decimal.Zero
	currency := cart.DefaultCurrency
	for _, it := range items {
		subtotal = subtotal.Add(it.Subtotal())
		if it.Currency != "" {
			currency = it.Currency
		}
	}

	now := e.now()
	o := &domain.Order{
		ID:           domain.NewOrderID(),
		VetID:        in.VetID,
		Customer:     customer,
		Delivery:     delivery,
		Items:        items,
		Subtotal:     subtotal,
		ShippingCost: shippingCost,
		TotalAmount:  subtotal.Add(shippingCost),
		Currency:     currency,
		Status:       domain.OrderStatusCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.orders.Create(ctx, o); err != nil {
		e.logError("create_order", string(in.VetID), string(o.ID), err)
		return CreateResult{
			Outcome: OutcomeError,
			Message: "Hubo un problema al guardar el pedido. Intentá de nuevo.",
		}
	}

	e.record(ctx, audit.EventOrderCreated, o, map[string]any{
		"customer_email": o.Customer.Email,
		"total_amount":   o.TotalAmount.String(),
		"items_count":    len(o.Items),
	})
	e.notifier.OrderCreated(ctx, o)
	e.carts.Clear(in.SessionID)

	return CreateResult{
		Outcome: OutcomeCreated,
		Message: fmt.Sprintf("Pedido %s creado exitosamente.", o.ID),
		Order:   o,
	}
}

func (e *Engine) GetOrder(ctx context.Context, id domain.OrderID) GetResult {
	o, err := e.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return GetResult{Outcome: OutcomeNotFound, Message: fmt.Sprintf("No encontré el pedido %s.", id)}
		}
		e.logError("get_order", "", string(id), err)
		return GetResult{Outcome: OutcomeError, Message: "Hubo un problema al consultar el pedido."}
	}
	return GetResult{
		Outcome: OutcomeFound,
		Message: fmt.Sprintf("Estado del pedido %s: %s", o.ID, o.Status.Display()),
		Order:   o,
	}
}

func (e *Engine) GetOrderByExternalReference(ctx context.Context, ref string) GetResult {
	o, err := e.orders.GetByExternalReference(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return GetResult{Outcome: OutcomeNotFound, Message: "No encontré un pedido con esa referencia."}
		}
		e.logError("get_order_by_reference", "", "", err)
		return GetResult{Outcome: OutcomeError, Message: "Hubo un problema al consultar el pedido."}
	}
	return GetResult{Outcome: OutcomeFound, Order: o, Message: fmt.Sprintf("Estado del pedido %s: %s", o.ID, o.Status.Display())}
}

// ListOrders returns the vet's orders, newest first.
func (e *Engine) ListOrders(ctx context.Context, vetID domain.VetID) ListResult {
	orders, err := e.orders.ListByVet(ctx, vetID)
	if err != nil {
		e.logError("list_orders", string(vetID), "", err)
		return ListResult{Outcome: OutcomeError, Message: "Hubo un problema al listar los pedidos."}
	}
	return ListResult{
		Outcome: OutcomeFound,
		Message: fmt.Sprintf("%d pedidos.", len(orders)),
		Orders:  orders,
	}
}

// SetPaymentMethod records how the customer will pay. AT_VET is a valid
// terminal-pending state and moves the order immediately; MERCADOPAGO
// leaves the status untouched until the payment link is created.
func (e *Engine) SetPaymentMethod(ctx context.Context, id domain.OrderID, method string) SetPaymentMethodResult {
	m, ok := domain.ParsePaymentMethod(method)
	if !ok {
		return SetPaymentMethodResult{
			Outcome: OutcomeInvalidMethod,
			Message: fmt.Sprintf("Método de pago inválido: %s. Usá 'MERCADOPAGO' o 'AT_VET'.", method),
		}
	}

	o, err := e.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SetPaymentMethodResult{Outcome: OutcomeNotFound, Message: fmt.Sprintf("No encontré el pedido %s.", id)}
		}
		e.logError("set_payment_method", "", string(id), err)
		return SetPaymentMethodResult{Outcome: OutcomeError, Message: "Hubo un problema al configurar el método de pago."}
	}

	newStatus := o.Status
	message := fmt.Sprintf("Pedido %s configurado para pago con Mercado Pago. Ahora generá el link de pago.", id)
	if m == domain.PaymentMethodAtVet {
		newStatus = domain.OrderStatusPaymentAtVet
		message = fmt.Sprintf("Pedido %s configurado para pago en mostrador.", id)
	}

	if err := e.orders.SetPaymentMethod(ctx, id, m, newStatus); err != nil {
		e.logError("set_payment_method", string(o.VetID), string(id), err)
		return SetPaymentMethodResult{Outcome: OutcomeError, Message: "Hubo un problema al actualizar el método de pago. Intentá de nuevo."}
	}

	// Choosing MERCADOPAGO leaves the status at CREATED; only a real
	// transition belongs in the trail.
	if newStatus != o.Status {
		e.record(ctx, audit.EventOrderStatusChanged, o, map[string]any{
			"payment_method": string(m),
			"old_status":     string(o.Status),
			"new_status":     string(newStatus),
			"source":         "agent",
		})
	}

	return SetPaymentMethodResult{Outcome: OutcomeUpdated, Message: message, PaymentMethod: m, NewStatus: newStatus}
}

// CreatePaymentLink creates a hosted checkout for the order using the
// vet's delegated token and moves the order to PAYMENT_PENDING_MP. On any
// failure the order is left unchanged.
func (e *Engine) CreatePaymentLink(ctx context.Context, vetID domain.VetID, id domain.OrderID) PaymentLinkResult {
	accessToken, err := e.tokens.EnsureValid(ctx, vetID)
	if err != nil {
		switch {
		case errors.Is(err, tokenvault.ErrNotConnected):
			return PaymentLinkResult{
				Outcome: OutcomeNotConnected,
				Message: "Para crear links de pago, primero tenés que conectar tu cuenta de Mercado Pago.",
			}
		case errors.Is(err, tokenvault.ErrRefreshFailed):
			return PaymentLinkResult{
				Outcome: OutcomeRefreshFailed,
				Message: "No se pudo renovar la conexión con Mercado Pago. Volvé a conectar tu cuenta.",
			}
		}
		e.logError("create_payment_link", string(vetID), string(id), err)
		return PaymentLinkResult{Outcome: OutcomeError, Message: "Error con la conexión de Mercado Pago."}
	}

	o, err := e.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return PaymentLinkResult{Outcome: OutcomeNotFound, Message: fmt.Sprintf("No encontré el pedido %s.", id)}
		}
		e.logError("create_payment_link", string(vetID), string(id), err)
		return PaymentLinkResult{Outcome: OutcomeError, Message: "Hubo un problema al crear el link de pago."}
	}
	if o.VetID != vetID {
		return PaymentLinkResult{Outcome: OutcomeError, Message: "Este pedido no pertenece a tu veterinaria."}
	}

	ref := domain.ExternalReference(vetID, id)
	pref, err := e.gateway.CreatePreference(ctx, accessToken, e.buildPreference(o, ref))
	if err != nil {
		e.logError("create_payment_link", string(vetID), string(id), err)
		return PaymentLinkResult{Outcome: OutcomeError, Message: "No se pudo crear el link de pago. Intentá de nuevo."}
	}

	if o.PaymentMethod != domain.PaymentMethodMercadoPago {
		if err := e.orders.SetPaymentMethod(ctx, id, domain.PaymentMethodMercadoPago, o.Status); err != nil {
			e.logError("create_payment_link", string(vetID), string(id), err)
		}
	}
	if err := e.orders.SetPreference(ctx, id, pref.ID, ref, domain.OrderStatusPaymentPendingMP); err != nil {
		e.logError("create_payment_link", string(vetID), string(id), err)
		return PaymentLinkResult{Outcome: OutcomeError, Message: "Hubo un problema al guardar el link de pago. Intentá de nuevo."}
	}

	e.record(ctx, audit.EventPaymentLinkCreated, o, map[string]any{
		"preference_id":      pref.ID,
		"external_reference": ref,
	})

	return PaymentLinkResult{
		Outcome:           OutcomeSuccess,
		Message:           "Link de pago creado exitosamente.",
		PaymentURL:        pref.CheckoutURL(),
		PreferenceID:      pref.ID,
		ExternalReference: ref,
	}
}

// PaymentLink returns the checkout URL of an already-created preference,
// re-fetching it from the processor when a usable token is at hand.
func (e *Engine) PaymentLink(ctx context.Context, id domain.OrderID) PaymentLinkResult {
	o, err := e.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return PaymentLinkResult{Outcome: OutcomeNotFound, Message: fmt.Sprintf("No encontré el pedido %s.", id)}
		}
		e.logError("get_payment_link", "", string(id), err)
		return PaymentLinkResult{Outcome: OutcomeError, Message: "Hubo un problema al obtener el link de pago."}
	}
	if o.MPPreferenceID == "" {
		return PaymentLinkResult{
			Outcome: OutcomeNoLink,
			Message: "Este pedido aún no tiene un link de pago. Primero hay que crearlo.",
		}
	}

	accessToken, err := e.tokens.EnsureValid(ctx, o.VetID)
	if err != nil {
		// Cannot verify against the processor; return what is stored.
		return PaymentLinkResult{
			Outcome:           OutcomeSuccess,
			Message:           "Link de pago del pedido (sin verificar con Mercado Pago).",
			PreferenceID:      o.MPPreferenceID,
			ExternalReference: o.ExternalReference,
		}
	}

	pref, err := e.gateway.GetPreference(ctx, accessToken, o.MPPreferenceID)
	if err != nil {
		e.logError("get_payment_link", string(o.VetID), string(id), err)
		return PaymentLinkResult{Outcome: OutcomeError, Message: "No se pudo obtener el link de pago."}
	}
	return PaymentLinkResult{
		Outcome:           OutcomeSuccess,
		Message:           "Link de pago del pedido.",
		PaymentURL:        pref.CheckoutURL(),
		PreferenceID:      o.MPPreferenceID,
		ExternalReference: o.ExternalReference,
	}
}

// ApplyPaymentNotification maps a processor payment status onto the order.
// Re-applying the same processor status is a no-op in effect: the mapped
// status is stable, only updated_at moves.
func (e *Engine) ApplyPaymentNotification(ctx context.Context, id domain.OrderID, paymentID, processorStatus string) ApplyPaymentResult {
	o, err := e.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ApplyPaymentResult{Outcome: OutcomeNotFound, Message: fmt.Sprintf("No encontré el pedido %s.", id)}
		}
		e.logError("apply_payment", "", string(id), err)
		return ApplyPaymentResult{Outcome: OutcomeError, Message: "Hubo un problema al actualizar el pago."}
	}

	mapped := domain.StatusFromProcessor(processorStatus)
	changed := o.Status != mapped
	if err := e.orders.SetPaymentStatus(ctx, id, paymentID, processorStatus, mapped); err != nil {
		e.logError("apply_payment", string(o.VetID), string(id), err)
		return ApplyPaymentResult{Outcome: OutcomeError, Message: "Hubo un problema al actualizar el pago."}
	}

	e.record(ctx, audit.EventPaymentReceived, o, map[string]any{
		"payment_id": paymentID,
		"mp_status":  processorStatus,
		"new_status": string(mapped),
	})

	o.Status = mapped
	o.MPPaymentID = paymentID
	o.MPStatus = processorStatus
	return ApplyPaymentResult{
		Outcome:     OutcomeUpdated,
		Message:     fmt.Sprintf("Pedido %s actualizado a %s.", id, mapped),
		OrderStatus: mapped,
		Changed:     changed,
		Order:       o,
	}
}

// Cancel is the only status mutation a vet may trigger directly. Delivered
// and completed orders cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, id domain.OrderID, notifyCustomer bool) CancelResult {
	o, err := e.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return CancelResult{Outcome: OutcomeNotFound, Message: fmt.Sprintf("No encontré el pedido %s.", id)}
		}
		e.logError("cancel_order", "", string(id), err)
		return CancelResult{Outcome: OutcomeError, Message: "Hubo un problema al cancelar el pedido."}
	}

	if o.Status == domain.OrderStatusCancelled {
		return CancelResult{
			Outcome:   OutcomeAlreadyCancelled,
			Message:   fmt.Sprintf("El pedido %s ya está cancelado.", id),
			OldStatus: o.Status,
		}
	}
	if !o.Status.Cancellable() {
		return CancelResult{
			Outcome:   OutcomeCannotCancel,
			Message:   fmt.Sprintf("No se puede cancelar el pedido %s porque ya fue %s.", id, strings.ToLower(string(o.Status))),
			OldStatus: o.Status,
		}
	}

	if err := e.orders.SetStatus(ctx, id, domain.OrderStatusCancelled); err != nil {
		e.logError("cancel_order", string(o.VetID), string(id), err)
		return CancelResult{Outcome: OutcomeError, Message: "Hubo un problema al cancelar el pedido. Intentá de nuevo."}
	}

	e.record(ctx, audit.EventOrderCancelled, o, map[string]any{
		"old_status": string(o.Status),
		"source":     "agent",
	})

	notified := false
	if notifyCustomer {
		e.notifier.OrderCancelled(ctx, o)
		notified = true
	}

	return CancelResult{
		Outcome:   OutcomeCancelled,
		Message:   fmt.Sprintf("Pedido %s cancelado.", id),
		OldStatus: o.Status,
		Notified:  notified,
	}
}

// UpdateStatus rejects direct writes to processor-derived and
// fulfillment-derived statuses; a CANCELLED request is routed to Cancel.
func (e *Engine) UpdateStatus(ctx context.Context, id domain.OrderID, newStatus string, notifyCustomer bool) UpdateStatusResult {
	requested := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(newStatus)))

	if requested == domain.OrderStatusCancelled {
		res := e.Cancel(ctx, id, notifyCustomer)
		return UpdateStatusResult{Outcome: res.Outcome, Message: res.Message}
	}

	switch requested {
	case domain.OrderStatusPreparing, domain.OrderStatusReadyForPickup,
		domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered, domain.OrderStatusCompleted:
		return UpdateStatusResult{
			Outcome: OutcomeNotAllowed,
			Message: fmt.Sprintf("No podés cambiar el pedido a '%s'. Los estados de preparación y entrega son gestionados por la distribuidora.", newStatus),
		}
	case domain.OrderStatusCreated, domain.OrderStatusPaymentPendingMP, domain.OrderStatusPaymentAtVet,
		domain.OrderStatusPaymentApproved, domain.OrderStatusPaymentRejected:
		return UpdateStatusResult{
			Outcome: OutcomeNotAllowed,
			Message: fmt.Sprintf("No podés cambiar el pedido a '%s'. Los estados de pago se actualizan automáticamente desde Mercado Pago.", newStatus),
		}
	}

	return UpdateStatusResult{
		Outcome: OutcomeInvalidStatus,
		Message: fmt.Sprintf("Estado inválido o no permitido: %s.", newStatus),
	}
}

// ShippingQuote looks up the delivery cost of a zone before an order
// exists, for the checkout confirmation summary.
func (e *Engine) ShippingQuote(ctx context.Context, zone string) ShippingQuoteResult {
	cost, ok, err := e.rates.Cost(ctx, zone)
	if err != nil {
		e.logError("shipping_quote", "", "", err)
		return ShippingQuoteResult{
			Outcome: OutcomeError,
			Zone:    zone,
			Message: "Hubo un problema al calcular el costo de envío. Intentá de nuevo.",
		}
	}
	if !ok {
		return ShippingQuoteResult{
			Outcome: OutcomeNotFound,
			Zone:    zone,
			Message: fmt.Sprintf("La localidad '%s' no está en la zona de cobertura.", zone),
		}
	}
	return ShippingQuoteResult{
		Outcome: OutcomeFound,
		Zone:    zone,
		Cost:    cost,
		Message: fmt.Sprintf("Envío a %s: $%s", zone, cost.StringFixed(2)),
	}
}

func (e *Engine) buildPreference(o *domain.Order, externalReference string) mercadopago.PreferenceRequest {
	items := make([]mercadopago.PreferenceItem, 0, len(o.Items)+1)
	for _, it := range o.Items {
		items = append(items, mercadopago.PreferenceItem{
			ID:          it.SKU,
			Title:       it.Name,
			Description: fmt.Sprintf("Pedido %s", o.ID),
			Quantity:    it.Quantity,
			CurrencyID:  it.Currency,
			UnitPrice:   it.UnitPrice.InexactFloat64(),
		})
	}
	if o.ShippingCost.IsPositive() {
		zone := o.Delivery.Zone
		if zone == "" {
			zone = "domicilio"
		}
		items = append(items, mercadopago.PreferenceItem{
			ID:          "SHIPPING",
			Title:       fmt.Sprintf("Envío a %s", zone),
			Description: fmt.Sprintf("Costo de envío - %s", o.ID),
			Quantity:    1,
			CurrencyID:  o.Currency,
			UnitPrice:   o.ShippingCost.InexactFloat64(),
		})
	}

	descriptor := string(o.VetID)
	if len(descriptor) > 22 {
		descriptor = descriptor[:22]
	}

	return mercadopago.PreferenceRequest{
		Items: items,
		Payer: mercadopago.PreferencePayer{
			Name:    o.Customer.Name,
			Surname: o.Customer.Lastname,
			Email:   o.Customer.Email,
			Phone:   mercadopago.PreferencePayerPhone{Number: strings.TrimPrefix(o.Customer.WhatsappE164, "+")},
		},
		ExternalReference:   externalReference,
		StatementDescriptor: descriptor,
		NotificationURL:     fmt.Sprintf("%s/mp/webhook/v2?vet_id=%s", e.webhookBaseURL, o.VetID),
		BackURLs: mercadopago.BackURLs{
			Success: fmt.Sprintf("%s/payment/success?order_id=%s", e.webhookBaseURL, o.ID),
			Failure: fmt.Sprintf("%s/payment/failure?order_id=%s", e.webhookBaseURL, o.ID),
			Pending: fmt.Sprintf("%s/payment/pending?order_id=%s", e.webhookBaseURL, o.ID),
		},
		AutoReturn: "approved",
	}
}

func (e *Engine) record(ctx context.Context, t audit.EventType, o *domain.Order, payload map[string]any) {
	evt := audit.NewEvent(t, string(o.ID), string(o.VetID), payload)
	if err := e.auditLog.Record(ctx, evt); err != nil {
		e.logError("audit_record", string(o.VetID), string(o.ID), err)
	}
}

func (e *Engine) logError(step, vetID, orderID string, err error) {
	logging.Log(logging.Fields{
		Service: e.service,
		VetID:   vetID,
		OrderID: orderID,
		Step:    step,
		Status:  "error",
		Message: err.Error(),
	})
}
