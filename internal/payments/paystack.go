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

// PaystackConfig configures the Paystack adapter.
type PaystackConfig struct {
	SecretKey  string
	BaseURL    string
	HTTPClient *http.Client
}

// Paystack implements Gateway against the Paystack transaction API. Amounts travel in kobo.
type Paystack struct {
	secret string
	rest   restClient
}

// NewPaystack constructs the Paystack adapter.
func NewPaystack(cfg PaystackConfig) (*Paystack, error) {
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errors.New("paystack: secret key is required")
	}
	base := cfg.BaseURL
	if strings.TrimSpace(base) == "" {
		base = "https://api.paystack.co"
	}
	return &Paystack{secret: secret, rest: newRESTClient("paystack", base, cfg.HTTPClient)}, nil
}

// Name reports the gateway key.
func (p *Paystack) Name() string { return "paystack" }

type paystackEnvelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type paystackInitData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackTransaction struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Metadata  struct {
		OrderReference string `json:"order_reference"`
	} `json:"metadata"`
}

// Initialize uses the order reference as the Paystack transaction reference.
func (p *Paystack) Initialize(ctx context.Context, req InitializeRequest) (Session, error) {
	if req.OrderReference == "" || req.Amount <= 0 || req.Email == "" {
		return Session{}, fmt.Errorf("%w: reference, amount and email are required", ErrInvalidRequest)
	}
	payload := map[string]any{
		"email":        req.Email,
		"amount":       req.Amount,
		"currency":     strings.ToUpper(req.Currency),
		"reference":    req.OrderReference,
		"callback_url": req.CallbackURL,
		"metadata": map[string]string{
			"order_id":        req.OrderID,
			"order_reference": req.OrderReference,
		},
	}
	var resp paystackEnvelope[paystackInitData]
	if err := p.rest.do(ctx, http.MethodPost, "/transaction/initialize", bearer(p.secret), payload, &resp); err != nil {
		return Session{}, err
	}
	if !resp.Status || resp.Data.AuthorizationURL == "" {
		return Session{}, fmt.Errorf("%w: paystack: %s", ErrGatewayRejected, resp.Message)
	}
	reference := resp.Data.Reference
	if reference == "" {
		reference = req.OrderReference
	}
	return Session{Reference: reference, RedirectURL: resp.Data.AuthorizationURL}, nil
}

// Verify calls GET /transaction/verify/{reference}.
func (p *Paystack) Verify(ctx context.Context, reference string) (Verification, error) {
	var resp paystackEnvelope[paystackTransaction]
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := p.rest.do(ctx, http.MethodGet, path, bearer(p.secret), nil, &resp); err != nil {
		return Verification{}, err
	}
	if !resp.Status {
		return Verification{}, fmt.Errorf("%w: paystack: %s", ErrReferenceNotFound, resp.Message)
	}
	tx := resp.Data
	orderRef := tx.Metadata.OrderReference
	if orderRef == "" {
		orderRef = tx.Reference
	}
	status := statusFromBool(tx.Status == "success")
	if tx.Status == "ongoing" || tx.Status == "pending" || tx.Status == "processing" {
		status = StatusPending
	}
	return Verification{
		Status:         status,
		Amount:         tx.Amount,
		Currency:       strings.ToUpper(tx.Currency),
		ExternalID:     fmt.Sprintf("%d", tx.ID),
		OrderReference: orderRef,
		Reference:      tx.Reference,
	}, nil
}

// ParseWebhook reads charge.success callbacks.
func (p *Paystack) ParseWebhook(_ context.Context, _ http.Header, body []byte) (WebhookEvent, error) {
	var event struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: paystack webhook: %v", ErrInvalidRequest, err)
	}
	return WebhookEvent{
		Type:      event.Event,
		Reference: event.Data.Reference,
		Completed: event.Event == "charge.success" && event.Data.Reference != "",
	}, nil
}
