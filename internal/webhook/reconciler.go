// Package webhook turns asynchronous processor notifications into order
// state updates. Notifications are untrusted hints: the reconciler always
// re-fetches the payment from the processor with the vet's own token before
// touching an order.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CaraccioloSergio/directToVet/internal/audit"
	"github.com/CaraccioloSergio/directToVet/internal/mercadopago"
	"github.com/CaraccioloSergio/directToVet/internal/notify"
	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
	"github.com/CaraccioloSergio/directToVet/internal/order/lifecycle"
	"github.com/CaraccioloSergio/directToVet/pkg/logging"
)

// FlexID tolerates the processor sending data.id as either a JSON string
// or a number.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = FlexID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

// Envelope is the notification body posted by the processor.
type Envelope struct {
	ID     FlexID `json:"id"`
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID FlexID `json:"id"`
	} `json:"data"`
	LiveMode bool `json:"live_mode"`
}

// PaymentID returns data.id, falling back to the top-level id some
// notification formats use.
func (e Envelope) PaymentID() string {
	if e.Data.ID != "" {
		return string(e.Data.ID)
	}
	return string(e.ID)
}

// IsPayment reports whether the notification concerns a payment. Other
// topics (merchant orders, plan updates) are acknowledged and dropped.
func (e Envelope) IsPayment() bool {
	return e.Type == "payment" || strings.HasPrefix(e.Action, "payment.")
}

type Outcome string

const (
	OutcomeProcessed   Outcome = "processed"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeIgnored     Outcome = "ignored"
	OutcomeVetMismatch Outcome = "vet_mismatch"
	OutcomeNotFound    Outcome = "order_not_found"
	OutcomeError       Outcome = "error"
)

type Result struct {
	Outcome     Outcome            `json:"status"`
	Detail      string             `json:"detail,omitempty"`
	OrderID     domain.OrderID     `json:"order_id,omitempty"`
	OrderStatus domain.OrderStatus `json:"order_status,omitempty"`
}

// TokenSource mirrors the vault surface the reconciler needs.
type TokenSource interface {
	EnsureValid(ctx context.Context, vetID domain.VetID) (string, error)
}

// PaymentFetcher is the slice of the processor client used to verify a
// notification.
type PaymentFetcher interface {
	GetPayment(ctx context.Context, accessToken, paymentID string) (*mercadopago.Payment, error)
}

// OrderUpdater applies a verified payment status to the referenced order.
type OrderUpdater interface {
	ApplyPaymentNotification(ctx context.Context, id domain.OrderID, paymentID, processorStatus string) lifecycle.ApplyPaymentResult
}

type Reconciler struct {
	tokens   TokenSource
	gateway  PaymentFetcher
	orders   OrderUpdater
	notifier notify.Notifier
	auditLog audit.Log
	dedup    *Dedup
	service  string
}

func NewReconciler(tokens TokenSource, gateway PaymentFetcher, orders OrderUpdater, notifier notify.Notifier, auditLog audit.Log, dedup *Dedup) *Reconciler {
	if dedup == nil {
		dedup = NewDedup(0)
	}
	return &Reconciler{
		tokens:   tokens,
		gateway:  gateway,
		orders:   orders,
		notifier: notifier,
		auditLog: auditLog,
		dedup:    dedup,
		service:  "order-service",
	}
}

// Process handles one notification for one vet. Whatever Result it returns,
// the HTTP layer acknowledges with 200 so the processor stops retrying;
// failures here are logged and visible in the audit trail, not replayed by
// erroring out.
func (r *Reconciler) Process(ctx context.Context, vetID domain.VetID, env Envelope) Result {
	paymentID := env.PaymentID()

	if !env.IsPayment() {
		r.log(vetID, "", paymentID, "webhook", "ignored", "non-payment notification: "+env.Type)
		return Result{Outcome: OutcomeIgnored, Detail: "non-payment notification"}
	}
	if paymentID == "" {
		r.log(vetID, "", "", "webhook", "ignored", "notification without payment id")
		return Result{Outcome: OutcomeIgnored, Detail: "missing payment id"}
	}

	key := fmt.Sprintf("%s|%s|%s", vetID, env.Action, paymentID)
	if !r.dedup.CheckAndInsert(key) {
		r.log(vetID, "", paymentID, "webhook", "duplicate", "already processed")
		return Result{Outcome: OutcomeDuplicate, Detail: "already processed"}
	}

	// Audited once per distinct notification: a replayed delivery is
	// dropped above and leaves no second trail entry.
	if r.auditLog != nil {
		evt := audit.NewEvent(audit.EventWebhookReceived, "", string(vetID), map[string]any{
			"type":       env.Type,
			"action":     env.Action,
			"payment_id": paymentID,
		})
		if err := r.auditLog.Record(ctx, evt); err != nil {
			r.log(vetID, "", paymentID, "audit_record", "error", err.Error())
		}
	}

	accessToken, err := r.tokens.EnsureValid(ctx, vetID)
	if err != nil {
		r.log(vetID, "", paymentID, "webhook", "error", "token: "+err.Error())
		return Result{Outcome: OutcomeError, Detail: "merchant token unavailable"}
	}

	payment, err := r.gateway.GetPayment(ctx, accessToken, paymentID)
	if err != nil {
		r.log(vetID, "", paymentID, "webhook", "error", "get_payment: "+err.Error())
		return Result{Outcome: OutcomeError, Detail: "payment lookup failed"}
	}

	refVet, orderID, err := domain.ParseExternalReference(payment.ExternalReference)
	if err != nil {
		// Payments created outside this system land here; drop them.
		r.log(vetID, "", paymentID, "webhook", "ignored", err.Error())
		return Result{Outcome: OutcomeIgnored, Detail: "foreign external reference"}
	}
	if refVet != vetID {
		r.log(vetID, string(orderID), paymentID, "webhook", "vet_mismatch",
			fmt.Sprintf("reference belongs to vet %s", refVet))
		return Result{Outcome: OutcomeVetMismatch, Detail: "external reference belongs to another vet"}
	}

	res := r.orders.ApplyPaymentNotification(ctx, orderID, paymentID, payment.Status)
	switch res.Outcome {
	case lifecycle.OutcomeNotFound:
		r.log(vetID, string(orderID), paymentID, "webhook", "order_not_found", res.Message)
		return Result{Outcome: OutcomeNotFound, OrderID: orderID}
	case lifecycle.OutcomeUpdated:
	default:
		r.log(vetID, string(orderID), paymentID, "webhook", "error", res.Message)
		return Result{Outcome: OutcomeError, OrderID: orderID, Detail: res.Message}
	}

	// Fan out the approval exactly once: only on the transition into
	// PAYMENT_APPROVED, never on replays of the same status.
	if res.OrderStatus == domain.OrderStatusPaymentApproved && res.Changed && res.Order != nil {
		r.notifier.PaymentApproved(ctx, res.Order, paymentID)
	}

	r.log(vetID, string(orderID), paymentID, "webhook", "processed", string(res.OrderStatus))
	return Result{Outcome: OutcomeProcessed, OrderID: orderID, OrderStatus: res.OrderStatus}
}

func (r *Reconciler) log(vetID domain.VetID, orderID, paymentID, step, status, message string) {
	logging.Log(logging.Fields{
		Service:   r.service,
		VetID:     string(vetID),
		OrderID:   orderID,
		PaymentID: paymentID,
		Step:      step,
		Status:    status,
		Message:   message,
	})
}
