package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// FlutterwaveConfig configures the Flutterwave adapter.
type FlutterwaveConfig struct {
	SecretKey  string
	BaseURL    string
	HTTPClient *http.Client
}

// Flutterwave implements Gateway against the Flutterwave v3 API. Amounts travel as decimals.
type Flutterwave struct {
	secret string
	rest   restClient
}

// NewFlutterwave constructs the Flutterwave adapter.
func NewFlutterwave(cfg FlutterwaveConfig) (*Flutterwave, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errors.New("flutterwave: secret key is required")
	}
	base := cfg.BaseURL
	if strings.TrimSpace(base) == "" {
		base = "https://api.flutterwave.com"
	}
	return &Flutterwave{secret: secret, rest: newRESTClient("flutterwave", base, cfg.HTTPClient)}, nil
}

// Name reports the gateway key.
func (f *Flutterwave) Name() string { return "flutterwave" }

type flutterwaveEnvelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type flutterwaveTransaction struct {
	ID       int64   `json:"id"`
	TxRef    string  `json:"tx_ref"`
	Status   string  `json:"status"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Initialize creates a standard payment link with tx_ref set to the order reference.
func (f *Flutterwave) Initialize(ctx context.Context, req InitializeRequest) (Session, error) {
	if req.OrderReference == "" || req.Amount <= 0 || req.Email == "" {
		return Session{}, fmt.Errorf("%w: reference, amount and email are required", ErrInvalidRequest)
	}
	payload := map[string]any{
		"tx_ref":       req.OrderReference,
		"amount":       toMajor(req.Amount),
		"currency":     strings.ToUpper(req.Currency),
		"redirect_url": req.CallbackURL,
		"customer": map[string]string{
			"email": req.Email,
			"name":  req.CustomerName,
		},
		"meta": map[string]string{
			"order_id": req.OrderID,
		},
	}
	var resp flutterwaveEnvelope[struct {
		Link string `json:"link"`
	}]
	if err := f.rest.do(ctx, http.MethodPost, "/v3/payments", bearer(f.secret), payload, &resp); err != nil {
		return Session{}, err
	}
	if resp.Status != "success" || resp.Data.Link == "" {
		return Session{}, fmt.Errorf("%w: flutterwave: %s", ErrGatewayRejected, resp.Message)
	}
	return Session{Reference: req.OrderReference, RedirectURL: resp.Data.Link}, nil
}

// Verify looks the transaction up by tx_ref.
func (f *Flutterwave) Verify(ctx context.Context, reference string) (Verification, error) {
	var resp flutterwaveEnvelope[flutterwaveTransaction]
	path := "/v3/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(reference)
	if err := f.rest.do(ctx, http.MethodGet, path, bearer(f.secret), nil, &resp); err != nil {
		return Verification{}, err
	}
	if resp.Status != "success" {
		return Verification{}, fmt.Errorf("%w: flutterwave: %s", ErrReferenceNotFound, resp.Message)
	}
	tx := resp.Data
	status := statusFromBool(tx.Status == "successful")
	if tx.Status == "pending" {
		status = StatusPending
	}
	return Verification{
		Status:         status,
		Amount:         toMinor(tx.Amount),
		Currency:       strings.ToUpper(tx.Currency),
		ExternalID:     fmt.Sprintf("%d", tx.ID),
		OrderReference: tx.TxRef,
		Reference:      tx.TxRef,
	}, nil
}

// ParseWebhook reads charge.completed callbacks.
func (f *Flutterwave) ParseWebhook(_ context.Context, _ http.Header, body []byte) (WebhookEvent, error) {
	var event struct {
		Event string `json:"event"`
		Data  struct {
			TxRef  string `json:"tx_ref"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: flutterwave webhook: %v", ErrInvalidRequest, err)
	}
	return WebhookEvent{
		Type:      event.Event,
		Reference: event.Data.TxRef,
		Completed: event.Event == "charge.completed" && event.Data.TxRef != "",
	}, nil
}
