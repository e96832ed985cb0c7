package tokenvault

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, vetID domain.VetID) (*Token, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var tok Token
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT vet_id, access_token, refresh_token, expires_at, mp_user_id, updated_at
		FROM vet_tokens WHERE vet_id=$1`, string(vetID)).
		Scan(&id, &tok.AccessToken, &tok.RefreshToken, &tok.ExpiresAt, &tok.MPUserID, &tok.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	tok.VetID = domain.VetID(id)
	return &tok, nil
}

func (s *PostgresStore) Save(ctx context.Context, token Token) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Upsert keyed on vet_id: at most one live token per vet.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vet_tokens(vet_id, access_token, refresh_token, expires_at, mp_user_id, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (vet_id) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			mp_user_id=EXCLUDED.mp_user_id,
			updated_at=EXCLUDED.updated_at`,
		string(token.VetID), token.AccessToken, token.RefreshToken,
		token.ExpiresAt, token.MPUserID, token.UpdatedAt)
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, vetID domain.VetID) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `DELETE FROM vet_tokens WHERE vet_id=$1`, string(vetID))
	return err
}
