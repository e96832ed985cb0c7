// Package notify delivers status-change messages to the vet and the end
// customer. Delivery is fire-and-forget: failures are logged, never
// surfaced. The order state update is the transaction of record.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
	"github.com/CaraccioloSergio/directToVet/pkg/logging"
)

const (
	EventOrderCreated    = "order.created"
	EventOrderCancelled  = "order.cancelled"
	EventPaymentApproved = "payment.approved"
)

// Message is the envelope handed to the delivery channel (chat gateway,
// email worker) downstream.
type Message struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	OrderID   string         `json:"order_id"`
	VetID     string         `json:"vet_id"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload"`
}

type Notifier interface {
	OrderCreated(ctx context.Context, o *domain.Order)
	OrderCancelled(ctx context.Context, o *domain.Order)
	PaymentApproved(ctx context.Context, o *domain.Order, paymentID string)
}

func newMessage(eventType string, o *domain.Order, payload map[string]any) Message {
	return Message{
		EventID:   uuid.NewString(),
		Type:      eventType,
		OrderID:   string(o.ID),
		VetID:     string(o.VetID),
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
}

func orderCreatedPayload(o *domain.Order) map[string]any {
	return map[string]any{
		"customer_name":  o.Customer.FullName(),
		"customer_phone": o.Customer.WhatsappE164,
		"total_amount":   o.TotalAmount.String(),
		"currency":       o.Currency,
		"items_count":    len(o.Items),
	}
}

func orderCancelledPayload(o *domain.Order) map[string]any {
	return map[string]any{
		"customer_phone":   o.Customer.WhatsappE164,
		"customer_message": "Tu pedido fue cancelado. Si tenés dudas, contactanos.",
	}
}

// paymentApprovedPayload carries the full approved fan-out: the vet
// confirmation, the customer message (pickup vs delivery wording), and the
// operational record fields.
func paymentApprovedPayload(o *domain.Order, paymentID string) map[string]any {
	total := fmt.Sprintf("$%s %s", o.TotalAmount.StringFixed(2), o.Currency)
	var deliveryInfo string
	if o.Delivery.Mode == domain.DeliveryModeDelivery {
		deliveryInfo = fmt.Sprintf("Tu pedido será enviado a %s. Te avisamos cuando esté en camino!", o.Delivery.Address)
	} else {
		deliveryInfo = "Retirá tu pedido en la veterinaria. Te avisamos cuando esté listo!"
	}
	return map[string]any{
		"payment_id":     paymentID,
		"total_amount":   total,
		"customer_phone": o.Customer.WhatsappE164,
		"vet_message": fmt.Sprintf("Se confirmó el pago de %s por el pedido %s de %s.",
			total, o.ID, o.Customer.FullName()),
		"customer_message": fmt.Sprintf("Tu pago de %s por el pedido *%s* fue confirmado.\n\n%s",
			total, o.ID, deliveryInfo),
	}
}

// LogNotifier writes notifications to the structured log. Used when no
// delivery channel is configured, and in tests.
type LogNotifier struct {
	Service string
}

func (n *LogNotifier) OrderCreated(ctx context.Context, o *domain.Order) {
	n.log(newMessage(EventOrderCreated, o, orderCreatedPayload(o)))
}

func (n *LogNotifier) OrderCancelled(ctx context.Context, o *domain.Order) {
	n.log(newMessage(EventOrderCancelled, o, orderCancelledPayload(o)))
}

func (n *LogNotifier) PaymentApproved(ctx context.Context, o *domain.Order, paymentID string) {
	n.log(newMessage(EventPaymentApproved, o, paymentApprovedPayload(o, paymentID)))
}

func (n *LogNotifier) log(msg Message) {
	logging.Log(logging.Fields{
		Service: n.Service,
		VetID:   msg.VetID,
		OrderID: msg.OrderID,
		EventID: msg.EventID,
		Step:    msg.Type,
		Status:  "emitted",
	})
}
