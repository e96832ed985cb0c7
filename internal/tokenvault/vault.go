package tokenvault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CaraccioloSergio/directToVet/internal/mercadopago"
	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
)

var (
	// ErrNotConnected: the vet has no stored credential. The caller should
	// ask the vet to authorize the app.
	ErrNotConnected = errors.New("mercado pago not connected")
	// ErrRefreshFailed: the refresh-token exchange was rejected; the vet
	// must re-authorize from scratch.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// refreshWindow: tokens expiring within this margin are refreshed before
// being handed out.
const refreshWindow = 5 * time.Minute

type OAuthClient interface {
	ExchangeCode(ctx context.Context, code string) (*mercadopago.Credentials, error)
	RefreshToken(ctx context.Context, refreshToken string) (*mercadopago.Credentials, error)
}

type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "connected"
	ConnectionExpired      ConnectionState = "expired"
	ConnectionNotConnected ConnectionState = "not_connected"
)

type Vault struct {
	store TokenStore
	oauth OAuthClient
	now   func() time.Time

	mu    sync.Mutex
	locks map[domain.VetID]*sync.Mutex
}

func New(store TokenStore, oauth OAuthClient) *Vault {
	return &Vault{
		store: store,
		oauth: oauth,
		now:   func() time.Time { return time.Now().UTC() },
		locks: make(map[domain.VetID]*sync.Mutex),
	}
}

// lockFor serializes all token work per vet, so two concurrent expiring
// requests cannot double-refresh or race-overwrite each other.
func (v *Vault) lockFor(vetID domain.VetID) *sync.Mutex {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.locks[vetID]
	if !ok {
		l = &sync.Mutex{}
		v.locks[vetID] = l
	}
	return l
}

// EnsureValid returns an access token currently usable for the vet,
// refreshing it first when it expires within the refresh window. A refresh
// response without a new refresh token keeps the stored one.
func (v *Vault) EnsureValid(ctx context.Context, vetID domain.VetID) (string, error) {
	l := v.lockFor(vetID)
	l.Lock()
	defer l.Unlock()

	tok, err := v.store.Get(ctx, vetID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return "", ErrNotConnected
		}
		return "", err
	}

	if tok.ExpiresAt.After(v.now().Add(refreshWindow)) {
		return tok.AccessToken, nil
	}

	creds, err := v.oauth.RefreshToken(ctx, tok.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}

	refresh := creds.RefreshToken
	if refresh == "" {
		refresh = tok.RefreshToken
	}
	updated := Token{
		VetID:        vetID,
		AccessToken:  creds.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    v.now().Add(time.Duration(creds.ExpiresIn) * time.Second),
		MPUserID:     tok.MPUserID,
		UpdatedAt:    v.now(),
	}
	if err := v.store.Save(ctx, updated); err != nil {
		return "", err
	}
	return updated.AccessToken, nil
}

// Connect exchanges an authorization code and stores the resulting
// credential pair, replacing any previous one for the vet.
func (v *Vault) Connect(ctx context.Context, vetID domain.VetID, code string) (*Token, error) {
	l := v.lockFor(vetID)
	l.Lock()
	defer l.Unlock()

	creds, err := v.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	tok := Token{
		VetID:        vetID,
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		ExpiresAt:    v.now().Add(time.Duration(creds.ExpiresIn) * time.Second),
		MPUserID:     fmt.Sprintf("%d", creds.UserID),
		UpdatedAt:    v.now(),
	}
	if err := v.store.Save(ctx, tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Status reports the connection state without triggering a refresh.
func (v *Vault) Status(ctx context.Context, vetID domain.VetID) (ConnectionState, string, error) {
	tok, err := v.store.Get(ctx, vetID)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return ConnectionNotConnected, "", nil
		}
		return "", "", err
	}
	if tok.ExpiresAt.Before(v.now()) {
		return ConnectionExpired, tok.MPUserID, nil
	}
	return ConnectionConnected, tok.MPUserID, nil
}

// Disconnect drops the vet's credential. Idempotent.
func (v *Vault) Disconnect(ctx context.Context, vetID domain.VetID) error {
	l := v.lockFor(vetID)
	l.Lock()
	defer l.Unlock()
	return v.store.Delete(ctx, vetID)
}
