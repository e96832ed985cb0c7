package shipping

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresRates reads the shipping_rates table maintained by the
// distributor.
type PostgresRates struct {
	pool *pgxpool.Pool
}

func NewPostgresRates(pool *pgxpool.Pool) *PostgresRates {
	return &PostgresRates{pool: pool}
}

func (p *PostgresRates) Cost(ctx context.Context, zone string) (decimal.Decimal, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var cost string
	err := p.pool.QueryRow(ctx,
		`SELECT cost::text FROM shipping_rates WHERE lower(zone)=lower(btrim($1))`,
		zone).Scan(&cost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	c, err := decimal.NewFromString(cost)
	if err != nil {
		return decimal.Zero, false, err
	}
	return c, true, nil
}
