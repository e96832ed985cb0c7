// Package mercadopago is the HTTP client for the payment processor:
// delegated-merchant OAuth and Checkout Pro hosted payments.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GatewayError is any processor call failure: transport error, non-2xx
// status, or an unparseable response.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mercadopago %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("mercadopago %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error { return e.Err }

type Config struct {
	APIBaseURL   string
	TokenURL     string
	AuthURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Timeout      time.Duration
}

type Client struct {
	cfg   Config
	httpc *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	return &Client{cfg: cfg, httpc: &http.Client{Timeout: cfg.Timeout}}
}

func (c *Client) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// AuthorizationURL builds the merchant-facing OAuth consent URL. The state
// round-trips the vet identity through the redirect.
func (c *Client) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("platform_id", "mp")
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("state", state)
	return c.cfg.AuthURL + "?" + q.Encode()
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (*Credentials, error) {
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	return c.tokenRequest(ctx, "exchange_code", form)
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Credentials, error) {
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.tokenRequest(ctx, "refresh_token", form)
}

func (c *Client) tokenRequest(ctx context.Context, op string, form url.Values) (*Credentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var creds Credentials
	if err := c.do(req, op, http.StatusOK, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// CreatePreference creates a hosted checkout on behalf of the merchant that
// owns the access token.
func (c *Client) CreatePreference(ctx context.Context, accessToken string, pref PreferenceRequest) (*Preference, error) {
	body, err := json.Marshal(pref)
	if err != nil {
		return nil, &GatewayError{Op: "create_preference", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.APIBaseURL+"/checkout/preferences", bytes.NewReader(body))
	if err != nil {
		return nil, &GatewayError{Op: "create_preference", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var out Preference
	if err := c.do(req, "create_preference", 0, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPreference(ctx context.Context, accessToken, preferenceID string) (*Preference, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.APIBaseURL+"/checkout/preferences/"+url.PathEscape(preferenceID), nil)
	if err != nil {
		return nil, &GatewayError{Op: "get_preference", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var out Preference
	if err := c.do(req, "get_preference", http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetPayment(ctx context.Context, accessToken, paymentID string) (*Payment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.APIBaseURL+"/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, &GatewayError{Op: "get_payment", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var out Payment
	if err := c.do(req, "get_payment", http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do runs the request and decodes a JSON body. wantStatus 0 accepts any
// 2xx (preference creation answers 201).
func (c *Client) do(req *http.Request, op string, wantStatus int, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	okStatus := resp.StatusCode == wantStatus
	if wantStatus == 0 {
		okStatus = resp.StatusCode >= 200 && resp.StatusCode < 300
	}
	if !okStatus {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}
