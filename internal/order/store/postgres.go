package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

const orderColumns = `id, vet_id, customer_name, customer_lastname, customer_email, customer_whatsapp,
	delivery_mode, delivery_address, delivery_zone,
	subtotal::text, shipping_cost::text, total_amount::text, currency,
	status, payment_method, mp_preference_id, mp_payment_id, mp_status, external_reference,
	created_at, updated_at`

func (p *Postgres) Create(ctx context.Context, o *domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO orders(id, vet_id, customer_name, customer_lastname, customer_email, customer_whatsapp,
			delivery_mode, delivery_address, delivery_zone,
			subtotal, shipping_cost, total_amount, currency, status, payment_method,
			mp_preference_id, mp_payment_id, mp_status, external_reference, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		string(o.ID), string(o.VetID),
		o.Customer.Name, o.Customer.Lastname, o.Customer.Email, o.Customer.WhatsappE164,
		string(o.Delivery.Mode), o.Delivery.Address, o.Delivery.Zone,
		o.Subtotal.String(), o.ShippingCost.String(), o.TotalAmount.String(), o.Currency,
		string(o.Status), string(o.PaymentMethod),
		o.MPPreferenceID, o.MPPaymentID, o.MPStatus, o.ExternalReference,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items(order_id, sku, name, quantity, unit_price, currency) VALUES($1,$2,$3,$4,$5,$6)`,
			string(o.ID), it.SKU, it.Name, it.Quantity, it.UnitPrice.String(), it.Currency,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (p *Postgres) GetByID(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	row := p.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, string(id))
	return p.scanOrder(ctx, row)
}

func (p *Postgres) GetByExternalReference(ctx context.Context, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	row := p.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_reference=$1`, ref)
	return p.scanOrder(ctx, row)
}

func (p *Postgres) ListByVet(ctx context.Context, vetID domain.VetID) ([]*domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := p.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE vet_id=$1 ORDER BY created_at DESC`,
		string(vetID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrderFields(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range out {
		if err := p.loadItems(ctx, o); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *Postgres) SetPaymentMethod(ctx context.Context, id domain.OrderID, method domain.PaymentMethod, status domain.OrderStatus) error {
	return p.exec(ctx,
		`UPDATE orders SET payment_method=$2, status=$3, updated_at=now() WHERE id=$1`,
		string(id), string(method), string(status))
}

func (p *Postgres) SetPreference(ctx context.Context, id domain.OrderID, preferenceID, externalReference string, status domain.OrderStatus) error {
	return p.exec(ctx,
		`UPDATE orders SET mp_preference_id=$2, external_reference=$3, status=$4, updated_at=now() WHERE id=$1`,
		string(id), preferenceID, externalReference, string(status))
}

func (p *Postgres) SetPaymentStatus(ctx context.Context, id domain.OrderID, paymentID, mpStatus string, status domain.OrderStatus) error {
	return p.exec(ctx,
		`UPDATE orders SET mp_payment_id=$2, mp_status=$3, status=$4, updated_at=now() WHERE id=$1`,
		string(id), paymentID, mpStatus, string(status))
}

func (p *Postgres) SetStatus(ctx context.Context, id domain.OrderID, status domain.OrderStatus) error {
	return p.exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, string(id), string(status))
}

func (p *Postgres) exec(ctx context.Context, sql string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) scanOrder(ctx context.Context, row pgx.Row) (*domain.Order, error) {
	o, err := scanOrderFields(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := p.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func scanOrderFields(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var id, vetID, mode, status, method string
	var subtotal, shipping, total string
	err := row.Scan(&id, &vetID,
		&o.Customer.Name, &o.Customer.Lastname, &o.Customer.Email, &o.Customer.WhatsappE164,
		&mode, &o.Delivery.Address, &o.Delivery.Zone,
		&subtotal, &shipping, &total, &o.Currency,
		&status, &method, &o.MPPreferenceID, &o.MPPaymentID, &o.MPStatus, &o.ExternalReference,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.ID = domain.OrderID(id)
	o.VetID = domain.VetID(vetID)
	o.Delivery.Mode = domain.DeliveryMode(mode)
	o.Status = domain.OrderStatus(status)
	o.PaymentMethod = domain.PaymentMethod(method)
	if o.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, err
	}
	if o.ShippingCost, err = decimal.NewFromString(shipping); err != nil {
		return nil, err
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, err
	}
	return &o, nil
}

func (p *Postgres) loadItems(ctx context.Context, o *domain.Order) error {
	rows, err := p.pool.Query(ctx,
		`SELECT sku, name, quantity, unit_price::text, currency FROM order_items WHERE order_id=$1 ORDER BY id`,
		string(o.ID))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.Item
		var price string
		if err := rows.Scan(&it.SKU, &it.Name, &it.Quantity, &price, &it.Currency); err != nil {
			return err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
