package notify

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
)

func sampleOrder(mode domain.DeliveryMode) *domain.Order {
	return &domain.Order{
		ID:    "ORD-1",
		VetID: "vet-1",
		Customer: domain.CustomerData{
			Name: "Ana", Lastname: "Gomez", WhatsappE164: "+5491155550001",
		},
		Delivery:    domain.DeliveryData{Mode: mode, Address: "Av. Siempreviva 742"},
		TotalAmount: decimal.RequireFromString("121500"),
		Currency:    "ARS",
	}
}

func TestPaymentApprovedPayloadDeliveryWording(t *testing.T) {
	p := paymentApprovedPayload(sampleOrder(domain.DeliveryModeDelivery), "12345")
	assert.Equal(t, "12345", p["payment_id"])
	assert.Contains(t, p["customer_message"], "Av. Siempreviva 742")
	assert.Contains(t, p["vet_message"], "ORD-1")
	assert.Contains(t, p["vet_message"], "Ana Gomez")
	assert.Equal(t, "$121500.00 ARS", p["total_amount"])
}

func TestPaymentApprovedPayloadPickupWording(t *testing.T) {
	p := paymentApprovedPayload(sampleOrder(domain.DeliveryModePickup), "12345")
	assert.Contains(t, p["customer_message"], "Retirá tu pedido en la veterinaria")
	assert.NotContains(t, p["customer_message"], "Av. Siempreviva 742")
}

func TestNewMessageEnvelope(t *testing.T) {
	msg := newMessage(EventPaymentApproved, sampleOrder(domain.DeliveryModePickup), nil)
	assert.Equal(t, "payment.approved", msg.Type)
	assert.Equal(t, "ORD-1", msg.OrderID)
	assert.Equal(t, "vet-1", msg.VetID)
	assert.NotEmpty(t, msg.EventID)
	assert.False(t, msg.CreatedAt.IsZero())
}
