package mercadopago

// Credentials is the token response of the OAuth endpoint, for both the
// authorization-code and refresh-token grants. RefreshToken may be empty on
// a refresh, meaning the previous one stays valid.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	UserID       int64  `json:"user_id"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
}

type PreferenceItem struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	CurrencyID  string  `json:"currency_id"`
	UnitPrice   float64 `json:"unit_price"`
}

type PreferencePayerPhone struct {
	Number string `json:"number"`
}

type PreferencePayer struct {
	Name    string               `json:"name"`
	Surname string               `json:"surname"`
	Email   string               `json:"email"`
	Phone   PreferencePayerPhone `json:"phone"`
}

type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type PreferenceRequest struct {
	Items               []PreferenceItem `json:"items"`
	Payer               PreferencePayer  `json:"payer"`
	ExternalReference   string           `json:"external_reference"`
	StatementDescriptor string           `json:"statement_descriptor,omitempty"`
	NotificationURL     string           `json:"notification_url"`
	BackURLs            BackURLs         `json:"back_urls"`
	AutoReturn          string           `json:"auto_return,omitempty"`
}

type Preference struct {
	ID                string `json:"id"`
	InitPoint         string `json:"init_point"`
	SandboxInitPoint  string `json:"sandbox_init_point"`
	ExternalReference string `json:"external_reference"`
}

// CheckoutURL prefers the production init point and falls back to sandbox.
func (p *Preference) CheckoutURL() string {
	if p.InitPoint != "" {
		return p.InitPoint
	}
	return p.SandboxInitPoint
}

type Payment struct {
	ID                int64  `json:"id"`
	Status            string `json:"status"`
	StatusDetail      string `json:"status_detail"`
	ExternalReference string `json:"external_reference"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string `json:"currency_id"`
}
