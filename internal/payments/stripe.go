package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeLogger defines the logging contract for Stripe adapter operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeConfig configures the Stripe adapter.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
	AccountID     string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Sessions      stripeSessionAPI
}

// Stripe implements Gateway with Checkout Sessions. The gateway reference is the session id.
type Stripe struct {
	sessions      stripeSessionAPI
	webhookSecret string
	account       string
	clock         func() time.Time
	logger        StripeLogger
}

// NewStripe constructs the Stripe adapter.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Sessions == nil {
		return nil, errors.New("stripe: api key is required")
	}

	sessions := cfg.Sessions
	if sessions == nil {
		sessions = client.New(apiKey, cfg.Backends).CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Stripe{
		sessions:      sessions,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		account:       strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Name reports the gateway key.
func (p *Stripe) Name() string { return "stripe" }

// Initialize creates a Checkout Session itemised with the order lines.
func (p *Stripe) Initialize(ctx context.Context, req InitializeRequest) (Session, error) {
	if req.OrderReference == "" || req.Amount <= 0 {
		return Session{}, fmt.Errorf("%w: reference and amount are required", ErrInvalidRequest)
	}
	currency := strings.ToLower(req.Currency)
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = req.CallbackURL
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(withSessionPlaceholder(req.CallbackURL)),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(req.OrderReference),
		Metadata: map[string]string{
			"order_id":        req.OrderID,
			"order_reference": req.OrderReference,
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_reference": req.OrderReference},
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + req.OrderReference)
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		})
	}
	if len(lineItems) == 0 {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + req.OrderReference),
				},
			},
		})
	}
	params.LineItems = lineItems

	session, err := p.sessions.New(params)
	if err != nil {
		return Session{}, classifyStripeError("create checkout session", err)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"sessionId":      session.ID,
		"orderReference": req.OrderReference,
	})

	expiresAt := p.clock().Add(24 * time.Hour)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return Session{Reference: session.ID, RedirectURL: session.URL, ExpiresAt: expiresAt}, nil
}

// Verify retrieves the Checkout Session and reports it successful once payment_status is paid.
func (p *Stripe) Verify(ctx context.Context, reference string) (Verification, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	session, err := p.sessions.Get(reference, params)
	if err != nil {
		return Verification{}, classifyStripeError("retrieve checkout session", err)
	}

	status := StatusPending
	switch {
	case session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		status = StatusSuccess
	case session.Status == stripe.CheckoutSessionStatusExpired:
		status = StatusFailed
	}

	externalID := session.ID
	if session.PaymentIntent != nil && session.PaymentIntent.ID != "" {
		externalID = session.PaymentIntent.ID
	}
	orderRef := session.ClientReferenceID
	if orderRef == "" {
		orderRef = session.Metadata["order_reference"]
	}

	p.logger(ctx, "payments.stripe.session.verified", map[string]any{
		"sessionId": session.ID,
		"status":    string(status),
	})

	return Verification{
		Status:         status,
		Amount:         session.AmountTotal,
		Currency:       strings.ToUpper(string(session.Currency)),
		ExternalID:     externalID,
		OrderReference: orderRef,
		Reference:      session.ID,
	}, nil
}

// VerifyWebhook checks the Stripe-Signature header with the endpoint secret.
func (p *Stripe) VerifyWebhook(header http.Header, body []byte) error {
	if p.webhookSecret == "" {
		return errors.New("stripe: webhook secret not configured")
	}
	_, err := webhook.ConstructEventWithOptions(body, header.Get("Stripe-Signature"), p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("stripe: webhook signature: %w", err)
	}
	return nil
}

// ParseWebhook reads checkout.session.completed and async_payment_succeeded events.
func (p *Stripe) ParseWebhook(_ context.Context, _ http.Header, body []byte) (WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: stripe webhook: %v", ErrInvalidRequest, err)
	}
	out := WebhookEvent{Type: string(event.Type)}
	switch out.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
	default:
		return out, nil
	}
	if event.Data == nil {
		return out, nil
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: stripe webhook session: %v", ErrInvalidRequest, err)
	}
	out.Reference = session.ID
	out.Completed = session.ID != ""
	return out, nil
}

func withSessionPlaceholder(callback string) string {
	sep := "?"
	if strings.Contains(callback, "?") {
		sep = "&"
	}
	return callback + sep + "gateway=stripe&reference={CHECKOUT_SESSION_ID}"
}

func classifyStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("%w: stripe: %s", ErrReferenceNotFound, op)
		case stripeErr.HTTPStatusCode >= http.StatusInternalServerError || stripeErr.Type == stripe.ErrorTypeAPI:
			return fmt.Errorf("%w: stripe: %s: %v", ErrGatewayUnavailable, op, err)
		case stripeErr.HTTPStatusCode >= http.StatusBadRequest:
			return fmt.Errorf("%w: stripe: %s: %v", ErrGatewayRejected, op, err)
		}
	}
	return fmt.Errorf("%w: stripe: %s: %v", ErrGatewayUnavailable, op, err)
}
