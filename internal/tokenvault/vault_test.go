package tokenvault

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaraccioloSergio/directToVet/internal/mercadopago"
	"github.com/CaraccioloSergio/directToVet/internal/order/domain"
)

type memStore struct {
	mu     sync.Mutex
	tokens map[domain.VetID]Token
	saves  int
}

func newMemStore() *memStore {
	return &memStore{tokens: map[domain.VetID]Token{}}
}

func (s *memStore) Get(ctx context.Context, vetID domain.VetID) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[vetID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &tok, nil
}

func (s *memStore) Save(ctx context.Context, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.VetID] = token
	s.saves++
	return nil
}

func (s *memStore) Delete(ctx context.Context, vetID domain.VetID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, vetID)
	return nil
}

type fakeOAuth struct {
	mu        sync.Mutex
	refreshes int
	exchanges int
	creds     *mercadopago.Credentials
	err       error
}

func (f *fakeOAuth) ExchangeCode(ctx context.Context, code string) (*mercadopago.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges++
	return f.creds, f.err
}

func (f *fakeOAuth) RefreshToken(ctx context.Context, refreshToken string) (*mercadopago.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.creds, f.err
}

func newVault(store TokenStore, oauth OAuthClient, now time.Time) *Vault {
	v := New(store, oauth)
	v.now = func() time.Time { return now }
	return v
}

func TestEnsureValidNotConnected(t *testing.T) {
	v := newVault(newMemStore(), &fakeOAuth{}, time.Now())
	_, err := v.EnsureValid(context.Background(), "vet-1")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEnsureValidFreshTokenIsNotRefreshed(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	store.tokens["vet-1"] = Token{VetID: "vet-1", AccessToken: "tok-1", RefreshToken: "ref-1", ExpiresAt: now.Add(time.Hour)}
	oauth := &fakeOAuth{}
	v := newVault(store, oauth, now)

	tok, err := v.EnsureValid(context.Background(), "vet-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Zero(t, oauth.refreshes)
}

func TestEnsureValidRefreshesNearExpiry(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	store.tokens["vet-1"] = Token{VetID: "vet-1", AccessToken: "old", RefreshToken: "ref-old", MPUserID: "99", ExpiresAt: now.Add(2 * time.Minute)}
	oauth := &fakeOAuth{creds: &mercadopago.Credentials{AccessToken: "new", RefreshToken: "ref-new", ExpiresIn: 21600}}
	v := newVault(store, oauth, now)

	tok, err := v.EnsureValid(context.Background(), "vet-1")
	require.NoError(t, err)
	assert.Equal(t, "new", tok)
	assert.Equal(t, 1, oauth.refreshes)

	stored := store.tokens["vet-1"]
	assert.Equal(t, "ref-new", stored.RefreshToken)
	assert.Equal(t, "99", stored.MPUserID)
	assert.Equal(t, now.Add(21600*time.Second), stored.ExpiresAt)
}

func TestEnsureValidKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	store.tokens["vet-1"] = Token{VetID: "vet-1", AccessToken: "old", RefreshToken: "ref-old", ExpiresAt: now.Add(time.Minute)}
	oauth := &fakeOAuth{creds: &mercadopago.Credentials{AccessToken: "new", ExpiresIn: 3600}}
	v := newVault(store, oauth, now)

	_, err := v.EnsureValid(context.Background(), "vet-1")
	require.NoError(t, err)
	assert.Equal(t, "ref-old", store.tokens["vet-1"].RefreshToken)
}

func TestEnsureValidRefreshFailure(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	store.tokens["vet-1"] = Token{VetID: "vet-1", AccessToken: "old", RefreshToken: "ref-old", ExpiresAt: now.Add(time.Minute)}
	oauth := &fakeOAuth{err: errors.New("invalid_grant")}
	v := newVault(store, oauth, now)

	_, err := v.EnsureValid(context.Background(), "vet-1")
	assert.ErrorIs(t, err, ErrRefreshFailed)
	// The stored credential is untouched so a later retry is possible.
	assert.Equal(t, "old", store.tokens["vet-1"].AccessToken)
}

func TestEnsureValidConcurrentSingleRefresh(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	store.tokens["vet-1"] = Token{VetID: "vet-1", AccessToken: "old", RefreshToken: "ref-old", ExpiresAt: now.Add(time.Minute)}
	oauth := &fakeOAuth{creds: &mercadopago.Credentials{AccessToken: "new", RefreshToken: "ref-new", ExpiresIn: 21600}}
	v := newVault(store, oauth, now)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := v.EnsureValid(context.Background(), "vet-1")
			assert.NoError(t, err)
			assert.Equal(t, "new", tok)
		}()
	}
	wg.Wait()

	// The first caller refreshes; the rest see the updated expiry and reuse.
	assert.Equal(t, 1, oauth.refreshes)
	assert.Equal(t, 1, store.saves)
}

func TestConnectStoresCredentials(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	oauth := &fakeOAuth{creds: &mercadopago.Credentials{AccessToken: "tok", RefreshToken: "ref", ExpiresIn: 21600, UserID: 123456}}
	v := newVault(store, oauth, now)

	tok, err := v.Connect(context.Background(), "vet-1", "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.AccessToken)
	assert.Equal(t, "123456", tok.MPUserID)
	assert.Equal(t, now.Add(21600*time.Second), tok.ExpiresAt)
	assert.Equal(t, 1, oauth.exchanges)
}

func TestStatus(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	v := newVault(store, &fakeOAuth{}, now)

	state, _, err := v.Status(context.Background(), "vet-1")
	require.NoError(t, err)
	assert.Equal(t, ConnectionNotConnected, state)

	store.tokens["vet-1"] = Token{VetID: "vet-1", MPUserID: "99", ExpiresAt: now.Add(-time.Minute)}
	state, mpUser, err := v.Status(context.Background(), "vet-1")
	require.NoError(t, err)
	assert.Equal(t, ConnectionExpired, state)
	assert.Equal(t, "99", mpUser)

	store.tokens["vet-1"] = Token{VetID: "vet-1", MPUserID: "99", ExpiresAt: now.Add(time.Hour)}
	state, _, err = v.Status(context.Background(), "vet-1")
	require.NoError(t, err)
	assert.Equal(t, ConnectionConnected, state)
}

func TestDisconnect(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	store.tokens["vet-1"] = Token{VetID: "vet-1", ExpiresAt: now.Add(time.Hour)}
	v := newVault(store, &fakeOAuth{}, now)

	require.NoError(t, v.Disconnect(context.Background(), "vet-1"))
	_, err := v.EnsureValid(context.Background(), "vet-1")
	assert.ErrorIs(t, err, ErrNotConnected)

	// Disconnecting again is a no-op.
	require.NoError(t, v.Disconnect(context.Background(), "vet-1"))
}
