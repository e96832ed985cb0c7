// Package store persists orders. All mutation goes through the narrow
// update methods below; callers never do read-modify-write across the
// store boundary.
package store

import (
	"context"
	"errors"

	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
)

var (
	ErrNotFound      = errors.New("order not found")
	ErrAlreadyExists = errors.New("order already exists")
)

type Store interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id domain.OrderID) (*domain.Order, error)
	GetByExternalReference(ctx context.Context, ref string) (*domain.Order, error)

	// ListByVet returns the vet's orders, newest first.
	ListByVet(ctx context.Context, vetID domain.VetID) ([]*domain.Order, error)

	// SetPaymentMethod records the chosen method together with the status it
	// implies (CREATED for MERCADOPAGO, PAYMENT_AT_VET for AT_VET).
	SetPaymentMethod(ctx context.Context, id domain.OrderID, method domain.PaymentMethod, status domain.OrderStatus) error

	// SetPreference stores the processor checkout correlation fields and
	// moves the order to PAYMENT_PENDING_MP in a single update.
	SetPreference(ctx context.Context, id domain.OrderID, preferenceID, externalReference string, status domain.OrderStatus) error

	// SetPaymentStatus records a processor payment outcome.
	SetPaymentStatus(ctx context.Context, id domain.OrderID, paymentID, mpStatus string, status domain.OrderStatus) error

	SetStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error
}
