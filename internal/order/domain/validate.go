package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// E.164: leading +, 7 to 15 digits, no leading zero.
var phoneE164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewCustomerData normalizes and validates end-customer data. All fields are
// required; the phone must already be in E.164 form.
func NewCustomerData(name, lastname, email, whatsapp string) (CustomerData, error) {
	c := CustomerData{
		Name:         strings.TrimSpace(name),
		Lastname:     strings.TrimSpace(lastname),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		WhatsappE164: strings.TrimSpace(whatsapp),
	}
	if len(c.Name) < 2 {
		return CustomerData{}, &ValidationError{Field: "name", Reason: "al menos 2 caracteres"}
	}
	if len(c.Lastname) < 2 {
		return CustomerData{}, &ValidationError{Field: "lastname", Reason: "al menos 2 caracteres"}
	}
	if !emailShape.MatchString(c.Email) {
		return CustomerData{}, &ValidationError{Field: "email", Reason: "email inválido"}
	}
	if !phoneE164.MatchString(c.WhatsappE164) {
		return CustomerData{}, &ValidationError{Field: "whatsapp_e164", Reason: "teléfono E.164 inválido"}
	}
	return c, nil
}

// NewDeliveryData validates delivery data against its mode: address and zone
// are required iff the mode is DELIVERY.
func NewDeliveryData(mode string, address, zone string) (DeliveryData, error) {
	m, ok := ParseDeliveryMode(mode)
	if !ok {
		return DeliveryData{}, &ValidationError{Field: "mode", Reason: fmt.Sprintf("modo de entrega inválido: %s", mode)}
	}
	d := DeliveryData{Mode: m, Address: strings.TrimSpace(address), Zone: strings.TrimSpace(zone)}
	if m == DeliveryModeDelivery {
		if d.Address == "" {
			return DeliveryData{}, &ValidationError{Field: "address", Reason: "requerido para envío a domicilio"}
		}
		if d.Zone == "" {
			return DeliveryData{}, &ValidationError{Field: "zone", Reason: "requerido para calcular el costo de envío"}
		}
	} else {
		d.Zone = ""
	}
	return d, nil
}

// ValidateItems checks order line items: at least one line, quantity >= 1,
// unit price >= 0.
func ValidateItems(items []Item) error {
	if len(items) == 0 {
		return &ValidationError{Field: "items", Reason: "el carrito está vacío"}
	}
	for _, it := range items {
		if strings.TrimSpace(it.SKU) == "" {
			return &ValidationError{Field: "items", Reason: "item sin SKU"}
		}
		if it.Quantity < 1 {
			return &ValidationError{Field: "items", Reason: fmt.Sprintf("cantidad inválida para %s", it.SKU)}
		}
		if it.UnitPrice.IsNegative() {
			return &ValidationError{Field: "items", Reason: fmt.Sprintf("precio inválido para %s", it.SKU)}
		}
	}
	return nil
}
