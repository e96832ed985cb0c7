package lifecycle

import (
	"github.com/shopspring/decimal"

	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
)

// Outcome is the status discriminator every engine operation returns. The
// calling layer renders Message to the user and switches on Outcome; it
// never sees internal errors.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeEmptyCart        Outcome = "empty_cart"
	OutcomeValidationError  Outcome = "validation_error"
	OutcomeError            Outcome = "error"
	OutcomeFound            Outcome = "found"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeUpdated          Outcome = "updated"
	OutcomeInvalidMethod    Outcome = "invalid_method"
	OutcomeSuccess          Outcome = "success"
	OutcomeNotConnected     Outcome = "mp_not_connected"
	OutcomeRefreshFailed    Outcome = "refresh_failed"
	OutcomeNoLink           Outcome = "no_link"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeAlreadyCancelled Outcome = "already_cancelled"
	OutcomeCannotCancel     Outcome = "cannot_cancel"
	OutcomeNotAllowed       Outcome = "not_allowed"
	OutcomeInvalidStatus    Outcome = "invalid_status"
)

type CreateResult struct {
	Outcome Outcome       `json:"status"`
	Message string        `json:"message"`
	Order   *domain.Order `json:"order,omitempty"`
}

type GetResult struct {
	Outcome Outcome       `json:"status"`
	Message string        `json:"message"`
	Order   *domain.Order `json:"order,omitempty"`
}

type ListResult struct {
	Outcome Outcome         `json:"status"`
	Message string          `json:"message"`
	Orders  []*domain.Order `json:"orders"`
}

type SetPaymentMethodResult struct {
	Outcome       Outcome              `json:"status"`
	Message       string               `json:"message"`
	PaymentMethod domain.PaymentMethod `json:"payment_method,omitempty"`
	NewStatus     domain.OrderStatus   `json:"new_status,omitempty"`
}

type PaymentLinkResult struct {
	Outcome           Outcome `json:"status"`
	Message           string  `json:"message"`
	PaymentURL        string  `json:"payment_url,omitempty"`
	PreferenceID      string  `json:"preference_id,omitempty"`
	ExternalReference string  `json:"external_reference,omitempty"`
}

type ApplyPaymentResult struct {
	Outcome     Outcome            `json:"status"`
	Message     string             `json:"message"`
	OrderStatus domain.OrderStatus `json:"order_status,omitempty"`
	Changed     bool               `json:"changed"`
	Order       *domain.Order      `json:"-"`
}

type CancelResult struct {
	Outcome   Outcome            `json:"status"`
	Message   string             `json:"message"`
	OldStatus domain.OrderStatus `json:"old_status,omitempty"`
	Notified  bool               `json:"notified"`
}

type UpdateStatusResult struct {
	Outcome Outcome `json:"status"`
	Message string  `json:"message"`
}

type ShippingQuoteResult struct {
	Outcome Outcome         `json:"status"`
	Message string          `json:"message"`
	Zone    string          `json:"zone"`
	Cost    decimal.Decimal `json:"shipping_cost"`
}
