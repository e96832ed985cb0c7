// Package cart keeps per-session shopping carts. Carts live in process
// memory only; a session is a single conversation, so access is not
// expected to be concurrent per session, but the registry itself is safe
// to share.
package cart

import (
	"errors"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
)

var ErrItemNotFound = errors.New("item not in cart")

const DefaultCurrency = "ARS"

type Summary struct {
	Items      []domain.Item   `json:"items"`
	TotalItems int             `json:"total_items"`
	Total      decimal.Decimal `json:"total"`
	Currency   string          `json:"currency"`
}

type Registry struct {
	mu    sync.Mutex
	carts map[string][]domain.Item
}

func NewRegistry() *Registry {
	return &Registry{carts: make(map[string][]domain.Item)}
}

// Add puts an item into the session cart, merging quantities when the SKU
// is already present.
func (r *Registry) Add(sessionID string, item domain.Item) (Summary, error) {
	if strings.TrimSpace(item.SKU) == "" {
		return Summary{}, &domain.ValidationError{Field: "sku", Reason: "requerido"}
	}
	if item.Quantity < 1 {
		return Summary{}, &domain.ValidationError{Field: "quantity", Reason: "debe ser mayor a 0"}
	}
	if item.UnitPrice.IsNegative() {
		return Summary{}, &domain.ValidationError{Field: "unit_price", Reason: "no puede ser negativo"}
	}
	if item.Currency == "" {
		item.Currency = DefaultCurrency
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.carts[sessionID]
	merged := false
	for i := range items {
		if items[i].SKU == item.SKU {
			items[i].Quantity += item.Quantity
			merged = true
			break
		}
	}
	if !merged {
		items = append(items, item)
	}
	r.carts[sessionID] = items
	return summarize(items), nil
}

// SetQuantity replaces the quantity of a line; zero removes it.
func (r *Registry) SetQuantity(sessionID, sku string, quantity int) (Summary, error) {
	if quantity < 0 {
		return Summary{}, &domain.ValidationError{Field: "quantity", Reason: "no puede ser negativa"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.carts[sessionID]
	for i := range items {
		if items[i].SKU != sku {
			continue
		}
		if quantity == 0 {
			items = append(items[:i], items[i+1:]...)
		} else {
			items[i].Quantity = quantity
		}
		r.carts[sessionID] = items
		return summarize(items), nil
	}
	return Summary{}, ErrItemNotFound
}

func (r *Registry) Remove(sessionID, sku string) (Summary, error) {
	return r.SetQuantity(sessionID, sku, 0)
}

// Get returns a snapshot of the session cart.
func (r *Registry) Get(sessionID string) Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return summarize(r.carts[sessionID])
}

// Items returns a copy of the cart lines for order creation.
func (r *Registry) Items(sessionID string) []domain.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Item(nil), r.carts[sessionID]...)
}

func (r *Registry) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, sessionID)
}

func summarize(items []domain.Item) Summary {
	s := Summary{
		Items:    append([]domain.Item(nil), items...),
		Total:    decimal.Zero,
		Currency: DefaultCurrency,
	}
	for _, it := range items {
		s.TotalItems += it.Quantity
		s.Total = s.Total.Add(it.Subtotal())
		if it.Currency != "" {
			s.Currency = it.Currency
		}
	}
	return s
}
