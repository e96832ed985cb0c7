package mercadopago

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(srv *httptest.Server) *Client {
	return NewClient(Config{
		APIBaseURL:   srv.URL,
		TokenURL:     srv.URL + "/oauth/token",
		AuthURL:      srv.URL + "/authorization",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://app.example.com/mp/oauth/callback",
	})
}

func TestAuthorizationURL(t *testing.T) {
	c := NewClient(Config{
		AuthURL:     "https://auth.mercadopago.com/authorization",
		ClientID:    "client-id",
		RedirectURI: "https://app.example.com/cb",
	})
	u := c.AuthorizationURL("vet-1")
	assert.Contains(t, u, "client_id=client-id")
	assert.Contains(t, u, "state=vet-1")
	assert.Contains(t, u, "response_type=code")
}

func TestExchangeCodeSendsForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))
		assert.Equal(t, "client-id", r.Form.Get("client_id"))
		assert.Equal(t, "client-secret", r.Form.Get("client_secret"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		_ = json.NewEncoder(w).Encode(Credentials{AccessToken: "tok", RefreshToken: "ref", ExpiresIn: 21600, UserID: 99})
	}))
	defer srv.Close()

	creds, err := testClient(srv).ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "tok", creds.AccessToken)
	assert.EqualValues(t, 99, creds.UserID)
}

func TestRefreshTokenGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "ref-old", r.Form.Get("refresh_token"))
		_ = json.NewEncoder(w).Encode(Credentials{AccessToken: "tok-new", ExpiresIn: 21600})
	}))
	defer srv.Close()

	creds, err := testClient(srv).RefreshToken(context.Background(), "ref-old")
	require.NoError(t, err)
	assert.Equal(t, "tok-new", creds.AccessToken)
	assert.Empty(t, creds.RefreshToken)
}

func TestCreatePreferenceAccepts201(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer merchant-token", r.Header.Get("Authorization"))

		var req PreferenceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "DTV|vet-1|ORD-1", req.ExternalReference)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Preference{ID: "pref-1", InitPoint: "https://mp.example/checkout/pref-1"})
	}))
	defer srv.Close()

	pref, err := testClient(srv).CreatePreference(context.Background(), "merchant-token", PreferenceRequest{
		ExternalReference: "DTV|vet-1|ORD-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pref-1", pref.ID)
	assert.Equal(t, "https://mp.example/checkout/pref-1", pref.CheckoutURL())
}

func TestGetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/12345", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Payment{ID: 12345, Status: "approved", ExternalReference: "DTV|vet-1|ORD-1"})
	}))
	defer srv.Close()

	p, err := testClient(srv).GetPayment(context.Background(), "merchant-token", "12345")
	require.NoError(t, err)
	assert.Equal(t, "approved", p.Status)
}

func TestNon2xxBecomesGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid token"}`))
	}))
	defer srv.Close()

	_, err := testClient(srv).GetPayment(context.Background(), "bad-token", "12345")
	require.Error(t, err)
	var gerr *GatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, http.StatusUnauthorized, gerr.StatusCode)
	assert.Equal(t, "get_payment", gerr.Op)
}

func TestCheckoutURLFallsBackToSandbox(t *testing.T) {
	p := &Preference{SandboxInitPoint: "https://sandbox.example/p"}
	assert.Equal(t, "https://sandbox.example/p", p.CheckoutURL())
}
