package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderID(t *testing.T) {
	seen := map[OrderID]bool{}
	for i := 0; i < 100; i++ {
		id := NewOrderID()
		require.True(t, strings.HasPrefix(string(id), "ORD-"))
		require.Len(t, string(id), 12)
		suffix := strings.TrimPrefix(string(id), "ORD-")
		assert.Equal(t, strings.ToUpper(suffix), suffix)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestExternalReferenceRoundTrip(t *testing.T) {
	ref := ExternalReference("vet-123", "ORD-AB12CD34")
	assert.Equal(t, "DTV|vet-123|ORD-AB12CD34", ref)

	vetID, orderID, err := ParseExternalReference(ref)
	require.NoError(t, err)
	assert.Equal(t, VetID("vet-123"), vetID)
	assert.Equal(t, OrderID("ORD-AB12CD34"), orderID)
}

func TestParseExternalReferenceRejectsMalformed(t *testing.T) {
	for _, ref := range []string{
		"",
		"DTV|vet-123",
		"DTV|vet-123|ORD-1|extra",
		"OTHER|vet-123|ORD-1",
		"DTV||ORD-1",
		"DTV|vet-123|",
		"some-merchant-reference",
	} {
		_, _, err := ParseExternalReference(ref)
		assert.Error(t, err, "ref %q", ref)
	}
}

func TestStatusFromProcessor(t *testing.T) {
	cases := map[string]OrderStatus{
		"approved":   OrderStatusPaymentApproved,
		"APPROVED":   OrderStatusPaymentApproved,
		"pending":    OrderStatusPaymentPendingMP,
		"in_process": OrderStatusPaymentPendingMP,
		"rejected":   OrderStatusPaymentRejected,
		"cancelled":  OrderStatusCancelled,
		"refunded":   OrderStatusCancelled,
		// Unknown intermediate statuses must stay pending, never terminal.
		"charged_back": OrderStatusPaymentPendingMP,
		"":             OrderStatusPaymentPendingMP,
	}
	for in, want := range cases {
		assert.Equal(t, want, StatusFromProcessor(in), "status %q", in)
	}
}

func TestCancellable(t *testing.T) {
	for _, s := range []OrderStatus{
		OrderStatusCreated, OrderStatusPaymentPendingMP, OrderStatusPaymentAtVet,
		OrderStatusPaymentApproved, OrderStatusPaymentRejected,
		OrderStatusPreparing, OrderStatusReadyForPickup, OrderStatusOutForDelivery,
	} {
		assert.True(t, s.Cancellable(), "status %s", s)
	}
	for _, s := range []OrderStatus{OrderStatusDelivered, OrderStatusCompleted, OrderStatusCancelled} {
		assert.False(t, s.Cancellable(), "status %s", s)
	}
}

func TestParsePaymentMethod(t *testing.T) {
	m, ok := ParsePaymentMethod(" mercadopago ")
	require.True(t, ok)
	assert.Equal(t, PaymentMethodMercadoPago, m)

	m, ok = ParsePaymentMethod("at_vet")
	require.True(t, ok)
	assert.Equal(t, PaymentMethodAtVet, m)

	_, ok = ParsePaymentMethod("cash")
	assert.False(t, ok)
}

func TestDisplayCoversAllStatuses(t *testing.T) {
	for _, s := range []OrderStatus{
		OrderStatusCreated, OrderStatusPaymentPendingMP, OrderStatusPaymentAtVet,
		OrderStatusPaymentApproved, OrderStatusPaymentRejected,
		OrderStatusPreparing, OrderStatusReadyForPickup, OrderStatusOutForDelivery,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusCompleted,
	} {
		assert.NotEqual(t, string(s), s.Display(), "status %s has no label", s)
	}
}
