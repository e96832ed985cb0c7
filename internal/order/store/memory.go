package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
)

// Memory is the in-process order store used for local development and
// tests. Single-record updates are serialized by the mutex, matching the
// per-record guarantee the Postgres store gets from the database.
type Memory struct {
	mu     sync.RWMutex
	orders map[domain.OrderID]*domain.Order
}

func NewMemory() *Memory {
	return &Memory{orders: make(map[domain.OrderID]*domain.Order)}
}

func (m *Memory) Create(ctx context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return ErrAlreadyExists
	}
	cp := clone(o)
	m.orders[o.ID] = cp
	return nil
}

func (m *Memory) GetByID(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(o), nil
}

func (m *Memory) GetByExternalReference(ctx context.Context, ref string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.ExternalReference == ref && ref != "" {
			return clone(o), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListByVet(ctx context.Context, vetID domain.VetID) ([]*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.VetID == vetID {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) SetPaymentMethod(ctx context.Context, id domain.OrderID, method domain.PaymentMethod, status domain.OrderStatus) error {
	return m.update(id, func(o *domain.Order) {
		o.PaymentMethod = method
		o.Status = status
	})
}

func (m *Memory) SetPreference(ctx context.Context, id domain.OrderID, preferenceID, externalReference string, status domain.OrderStatus) error {
	return m.update(id, func(o *domain.Order) {
		o.MPPreferenceID = preferenceID
		o.ExternalReference = externalReference
		o.Status = status
	})
}

func (m *Memory) SetPaymentStatus(ctx context.Context, id domain.OrderID, paymentID, mpStatus string, status domain.OrderStatus) error {
	return m.update(id, func(o *domain.Order) {
		o.MPPaymentID = paymentID
		o.MPStatus = mpStatus
		o.Status = status
	})
}

func (m *Memory) SetStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error {
	return m.update(id, func(o *domain.Order) {
		o.Status = status
	})
}

func (m *Memory) update(id domain.OrderID, fn func(*domain.Order)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	fn(o)
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func clone(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = append([]domain.Item(nil), o.Items...)
	return &cp
}
