package payments

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MonnifyConfig configures the Monnify adapter.
type MonnifyConfig struct {
	APIKey       string
	SecretKey    string
	ContractCode string
	BaseURL      string
	HTTPClient   *http.Client
	Clock        func() time.Time
}

// Monnify implements Gateway against the Monnify merchant API. Calls use a bearer token obtained
// with the API key pair and cached until shortly before it expires.
type Monnify struct {
	apiKey   string
	secret   string
	contract string
	rest     restClient
	now      func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewMonnify constructs the Monnify adapter.
func NewMonnify(cfg MonnifyConfig) (*Monnify, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("monnify: api key and secret key are required")
	}
	if strings.TrimSpace(cfg.ContractCode) == "" {
		return nil, errors.New("monnify: contract code is required")
	}
	base := cfg.BaseURL
	if strings.TrimSpace(base) == "" {
		base = "https://api.monnify.com"
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Monnify{
		apiKey:   strings.TrimSpace(cfg.APIKey),
		secret:   strings.TrimSpace(cfg.SecretKey),
		contract: strings.TrimSpace(cfg.ContractCode),
		rest:     newRESTClient("monnify", base, cfg.HTTPClient),
		now:      clock,
	}, nil
}

// Name reports the gateway key.
func (m *Monnify) Name() string { return "monnify" }

type monnifyEnvelope[T any] struct {
	RequestSuccessful bool   `json:"requestSuccessful"`
	ResponseMessage   string `json:"responseMessage"`
	ResponseCode      string `json:"responseCode"`
	ResponseBody      T      `json:"responseBody"`
}

type monnifyTransaction struct {
	TransactionReference string  `json:"transactionReference"`
	PaymentReference     string  `json:"paymentReference"`
	AmountPaid           float64 `json:"amountPaid"`
	TotalPayable         float64 `json:"totalPayable"`
	PaymentStatus        string  `json:"paymentStatus"`
	CurrencyCode         string  `json:"currencyCode"`
	Currency             string  `json:"currency"`
}

// Initialize opens a transaction whose paymentReference is the order reference.
func (m *Monnify) Initialize(ctx context.Context, req InitializeRequest) (Session, error) {
	if req.OrderReference == "" || req.Amount <= 0 || req.Email == "" {
		return Session{}, fmt.Errorf("%w: reference, amount and email are required", ErrInvalidRequest)
	}
	token, err := m.accessToken(ctx)
	if err != nil {
		return Session{}, err
	}
	payload := map[string]any{
		"amount":             toMajor(req.Amount),
		"customerName":       req.CustomerName,
		"customerEmail":      req.Email,
		"paymentReference":   req.OrderReference,
		"paymentDescription": "Order " + req.OrderReference,
		"currencyCode":       strings.ToUpper(req.Currency),
		"contractCode":       m.contract,
		"redirectUrl":        req.CallbackURL,
		"paymentMethods":     []string{"CARD", "ACCOUNT_TRANSFER"},
	}
	var resp monnifyEnvelope[struct {
		TransactionReference string `json:"transactionReference"`
		PaymentReference     string `json:"paymentReference"`
		CheckoutURL          string `json:"checkoutUrl"`
	}]
	if err := m.rest.do(ctx, http.MethodPost, "/api/v1/merchant/transactions/init-transaction", bearer(token), payload, &resp); err != nil {
		return Session{}, err
	}
	if !resp.RequestSuccessful || resp.ResponseBody.CheckoutURL == "" {
		return Session{}, fmt.Errorf("%w: monnify: %s", ErrGatewayRejected, resp.ResponseMessage)
	}
	return Session{Reference: req.OrderReference, RedirectURL: resp.ResponseBody.CheckoutURL}, nil
}

// Verify queries the transaction by paymentReference.
func (m *Monnify) Verify(ctx context.Context, reference string) (Verification, error) {
	token, err := m.accessToken(ctx)
	if err != nil {
		return Verification{}, err
	}
	var resp monnifyEnvelope[monnifyTransaction]
	path := "/api/v2/merchant/transactions/query?paymentReference=" + url.QueryEscape(reference)
	if err := m.rest.do(ctx, http.MethodGet, path, bearer(token), nil, &resp); err != nil {
		return Verification{}, err
	}
	if !resp.RequestSuccessful {
		return Verification{}, fmt.Errorf("%w: monnify: %s", ErrReferenceNotFound, resp.ResponseMessage)
	}
	tx := resp.ResponseBody
	status := statusFromBool(tx.PaymentStatus == "PAID")
	if tx.PaymentStatus == "PENDING" {
		status = StatusPending
	}
	currency := tx.CurrencyCode
	if currency == "" {
		currency = tx.Currency
	}
	return Verification{
		Status:         status,
		Amount:         toMinor(tx.AmountPaid),
		Currency:       strings.ToUpper(currency),
		ExternalID:     tx.TransactionReference,
		OrderReference: tx.PaymentReference,
		Reference:      tx.PaymentReference,
	}, nil
}

// ParseWebhook reads SUCCESSFUL_TRANSACTION callbacks.
func (m *Monnify) ParseWebhook(_ context.Context, _ http.Header, body []byte) (WebhookEvent, error) {
	var event struct {
		EventType string `json:"eventType"`
		EventData struct {
			PaymentReference string `json:"paymentReference"`
		} `json:"eventData"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: monnify webhook: %v", ErrInvalidRequest, err)
	}
	return WebhookEvent{
		Type:      event.EventType,
		Reference: event.EventData.PaymentReference,
		Completed: event.EventType == "SUCCESSFUL_TRANSACTION" && event.EventData.PaymentReference != "",
	}, nil
}

func (m *Monnify) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" && m.now().Before(m.tokenExpiry) {
		return m.token, nil
	}

	credentials := base64.StdEncoding.EncodeToString([]byte(m.apiKey + ":" + m.secret))
	header := http.Header{"Authorization": []string{"Basic " + credentials}}
	var resp monnifyEnvelope[struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int64  `json:"expiresIn"`
	}]
	if err := m.rest.do(ctx, http.MethodPost, "/api/v1/auth/login", header, nil, &resp); err != nil {
		return "", err
	}
	if !resp.RequestSuccessful || resp.ResponseBody.AccessToken == "" {
		return "", fmt.Errorf("%w: monnify login: %s", ErrGatewayRejected, resp.ResponseMessage)
	}
	lifetime := time.Duration(resp.ResponseBody.ExpiresIn) * time.Second
	if lifetime > time.Minute {
		lifetime -= time.Minute
	}
	m.token = resp.ResponseBody.AccessToken
	m.tokenExpiry = m.now().Add(lifetime)
	return m.token, nil
}
