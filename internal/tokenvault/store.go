// Package tokenvault stores one OAuth credential pair per vet and hands
// out access tokens that are guaranteed usable, refreshing near expiry.
package tokenvault

import (
	"context"
	"errors"
	"time"

	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
)

// ErrTokenNotFound means the vet never connected (or was disconnected).
// It is a normal state, not a failure.
var ErrTokenNotFound = errors.New("token not found")

type Token struct {
	VetID        domain.VetID `json:"vet_id"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
	MPUserID     string       `json:"mp_user_id"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TokenStore is the storage backend. Save has upsert semantics; Delete of
// an absent token succeeds.
type TokenStore interface {
	Get(ctx context.Context, vetID domain.VetID) (*Token, error)
	Save(ctx context.Context, token Token) error
	Delete(ctx context.Context, vetID domain.VetID) error
}
