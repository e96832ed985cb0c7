package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderID string
type VetID string

type OrderStatus string

const (
	OrderStatusCreated OrderStatus = "CREATED"

	// Payment statuses.
	OrderStatusPaymentPendingMP OrderStatus = "PAYMENT_PENDING_MP"
	OrderStatusPaymentAtVet     OrderStatus = "PAYMENT_AT_VET"
	OrderStatusPaymentApproved  OrderStatus = "PAYMENT_APPROVED"
	OrderStatusPaymentRejected  OrderStatus = "PAYMENT_REJECTED"

	// Logistics statuses, written only by the distributor's fulfillment
	// flow. The lifecycle engine never enters them.
	OrderStatusPreparing      OrderStatus = "PREPARING"
	OrderStatusReadyForPickup OrderStatus = "READY_FOR_PICKUP"
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered      OrderStatus = "DELIVERED"

	// Terminal statuses.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
)

type PaymentMethod string

const (
	PaymentMethodMercadoPago PaymentMethod = "MERCADOPAGO"
	PaymentMethodAtVet       PaymentMethod = "AT_VET"
)

func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch PaymentMethod(strings.ToUpper(strings.TrimSpace(s))) {
	case PaymentMethodMercadoPago:
		return PaymentMethodMercadoPago, true
	case PaymentMethodAtVet:
		return PaymentMethodAtVet, true
	}
	return "", false
}

type DeliveryMode string

const (
	DeliveryModePickup   DeliveryMode = "PICKUP"
	DeliveryModeDelivery DeliveryMode = "DELIVERY"
)

func ParseDeliveryMode(s string) (DeliveryMode, bool) {
	switch DeliveryMode(strings.ToUpper(strings.TrimSpace(s))) {
	case DeliveryModePickup:
		return DeliveryModePickup, true
	case DeliveryModeDelivery:
		return DeliveryModeDelivery, true
	}
	return "", false
}

type CustomerData struct {
	Name         string `json:"name"`
	Lastname     string `json:"lastname"`
	Email        string `json:"email"`
	WhatsappE164 string `json:"whatsapp_e164"`
}

func (c CustomerData) FullName() string {
	return c.Name + " " + c.Lastname
}

type DeliveryData struct {
	Mode    DeliveryMode `json:"mode"`
	Address string       `json:"address,omitempty"`
	Zone    string       `json:"zone,omitempty"`
}

type Item struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Currency  string          `json:"currency"`
}

func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is the central aggregate. It is created once with status CREATED
// and mutated only through the lifecycle engine's named transitions.
type Order struct {
	ID       OrderID      `json:"order_id"`
	VetID    VetID        `json:"vet_id"`
	Customer CustomerData `json:"customer"`
	Delivery DeliveryData `json:"delivery"`
	Items    []Item       `json:"items"`

	Subtotal     decimal.Decimal `json:"subtotal"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Currency     string          `json:"currency"`

	Status        OrderStatus   `json:"status"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`

	MPPreferenceID    string `json:"mp_preference_id,omitempty"`
	MPPaymentID       string `json:"mp_payment_id,omitempty"`
	MPStatus          string `json:"mp_status,omitempty"`
	ExternalReference string `json:"external_reference,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewOrderID allocates an opaque order id: "ORD-" plus the first eight hex
// digits of a v4 uuid, uppercased.
func NewOrderID() OrderID {
	return OrderID("ORD-" + strings.ToUpper(uuid.NewString()[:8]))
}

const externalReferenceTag = "DTV"

// ExternalReference builds the processor correlation key
// "DTV|<vet_id>|<order_id>". It is the sole linkage between asynchronous
// processor notifications and the local order.
func ExternalReference(vetID VetID, orderID OrderID) string {
	return fmt.Sprintf("%s|%s|%s", externalReferenceTag, vetID, orderID)
}

// ParseExternalReference decomposes a reference back into its vet and order
// ids, rejecting anything that is not exactly tag|vet|order.
func ParseExternalReference(ref string) (VetID, OrderID, error) {
	parts := strings.Split(ref, "|")
	if len(parts) != 3 || parts[0] != externalReferenceTag {
		return "", "", fmt.Errorf("malformed external reference %q", ref)
	}
	if parts[1] == "" || parts[2] == "" {
		return "", "", fmt.Errorf("malformed external reference %q", ref)
	}
	return VetID(parts[1]), OrderID(parts[2]), nil
}

// StatusFromProcessor maps a processor-side payment status to the local
// order status. Unrecognized statuses fall back to PAYMENT_PENDING_MP so an
// unknown intermediate state never flips an order to a terminal one.
func StatusFromProcessor(processorStatus string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(processorStatus)) {
	case "approved":
		return OrderStatusPaymentApproved
	case "pending", "in_process":
		return OrderStatusPaymentPendingMP
	case "rejected":
		return OrderStatusPaymentRejected
	case "cancelled", "refunded":
		return OrderStatusCancelled
	default:
		return OrderStatusPaymentPendingMP
	}
}

// Cancellable reports whether a merchant-triggered cancellation is allowed
// from this status. CANCELLED itself is handled separately as
// already-cancelled.
func (s OrderStatus) Cancellable() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCompleted, OrderStatusCancelled:
		return false
	}
	return true
}

// Display returns the human-readable label used by the order query surface.
func (s OrderStatus) Display() string {
	switch s {
	case OrderStatusCreated:
		return "Creado"
	case OrderStatusPaymentPendingMP:
		return "Esperando pago"
	case OrderStatusPaymentAtVet:
		return "Pago en mostrador"
	case OrderStatusPaymentApproved:
		return "Pago aprobado"
	case OrderStatusPaymentRejected:
		return "Pago rechazado"
	case OrderStatusPreparing:
		return "En preparación"
	case OrderStatusReadyForPickup:
		return "Listo para retirar"
	case OrderStatusOutForDelivery:
		return "En camino"
	case OrderStatusDelivered:
		return "Entregado"
	case OrderStatusCancelled:
		return "Cancelado"
	case OrderStatusCompleted:
		return "Completado"
	}
	return string(s)
}
