package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/services"
)

const (
	maxCheckoutBodySize = 16 * 1024
	maxWebhookBodySize  = 512 * 1024
)

// PaymentHandlers exposes checkout, payment confirmation and gateway webhooks.
type PaymentHandlers struct {
	authn       *auth.Authenticator
	payments    services.PaymentService
	idempotency func(http.Handler) http.Handler
}

// PaymentHandlerOption customises PaymentHandlers.
type PaymentHandlerOption func(*PaymentHandlers)

// WithPaymentIdempotency wraps checkout and verification with the idempotency middleware.
func WithPaymentIdempotency(mw func(http.Handler) http.Handler) PaymentHandlerOption {
	return func(h *PaymentHandlers) {
		h.idempotency = mw
	}
}

// NewPaymentHandlers constructs payment handlers.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService, opts ...PaymentHandlerOption) *PaymentHandlers {
	h := &PaymentHandlers{authn: authn, payments: payments}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the buyer-facing /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	var mws chi.Middlewares
	if h.authn != nil {
		mws = append(mws, h.authn.RequireAuth())
	}
	if h.idempotency != nil {
		mws = append(mws, h.idempotency)
	}
	buyer := r.With(mws...)
	buyer.Post("/checkout", h.checkout)
	buyer.Post("/verify", h.verify)
}

// WebhookRoutes wires the unauthenticated gateway callbacks. Signatures are checked by the service.
func (h *PaymentHandlers) WebhookRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/{gateway}", h.webhook)
}

type shippingRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required,max=32"`
	Address  string `json:"address" validate:"required,max=500"`
	Country  string `json:"country" validate:"required,max=100"`
	State    string `json:"state" validate:"required,max=100"`
	Locality string `json:"locality" validate:"max=100"`
}

type checkoutRequest struct {
	Method   string          `json:"method" validate:"required"`
	Shipping shippingRequest `json:"shipping" validate:"required"`
	Currency string          `json:"currency" validate:"omitempty,len=3"`
}

type verifyPaymentRequest struct {
	Method    string `json:"method" validate:"required"`
	Reference string `json:"reference" validate:"required,max=200"`
}

type checkoutResponse struct {
	Order            orderPayload `json:"order"`
	RedirectURL      string       `json:"redirectUrl"`
	GatewayReference string       `json:"gatewayReference"`
}

type webhookResponse struct {
	Received  bool   `json:"received"`
	EventType string `json:"eventType,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

func (h *PaymentHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(w, r, "payment")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req checkoutRequest
	if herr, ok := decodeRequest(r, maxCheckoutBodySize, &req); !ok {
		httpx.WriteError(ctx, w, herr)
		return
	}

	result, err := h.payments.Checkout(ctx, services.CheckoutCommand{
		UserID: identity.AccountID,
		Method: req.Method,
		Shipping: services.ShippingDetails{
			Name:     req.Shipping.Name,
			Email:    req.Shipping.Email,
			Phone:    req.Shipping.Phone,
			Address:  req.Shipping.Address,
			Country:  req.Shipping.Country,
			State:    req.Shipping.State,
			Locality: req.Shipping.Locality,
		},
		Currency: req.Currency,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, checkoutResponse{
		Order:            buildOrderPayload(result.Order),
		RedirectURL:      result.RedirectURL,
		GatewayReference: result.GatewayReference,
	})
}

func (h *PaymentHandlers) verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(w, r, "payment")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req verifyPaymentRequest
	if herr, ok := decodeRequest(r, maxCheckoutBodySize, &req); !ok {
		httpx.WriteError(ctx, w, herr)
		return
	}

	order, err := h.payments.Complete(ctx, services.CompletePaymentCommand{
		Method:           req.Method,
		GatewayReference: req.Reference,
		UserID:           identity.AccountID,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *PaymentHandlers) webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(w, r, "payment")
		return
	}
	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			return
		}
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", err.Error()))
		return
	}

	result, err := h.payments.HandleWebhook(ctx, services.PaymentWebhookCommand{
		Method: chi.URLParam(r, "gateway"),
		Header: r.Header.Clone(),
		Body:   body,
	})
	if err != nil {
		if errors.Is(err, services.ErrPaymentSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
			return
		}
		writePaymentError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, webhookResponse{
		Received:  true,
		EventType: result.EventType,
		Outcome:   result.Outcome,
	})
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", err.Error()))
	case errors.Is(err, services.ErrPaymentUnsupported):
		httpx.WriteError(ctx, w, httpx.BadRequest("unsupported_gateway", "payment method is not available"))
	case errors.Is(err, services.ErrPaymentDeclined):
		httpx.WriteError(ctx, w, httpx.BadRequest("payment_declined", "payment was not successful"))
	case errors.Is(err, services.ErrPaymentMismatch):
		httpx.WriteError(ctx, w, httpx.BadRequest("payment_mismatch", "payment does not match the order"))
	case errors.Is(err, services.ErrPaymentDuplicate):
		httpx.WriteError(ctx, w, httpx.NewError("payment_duplicate", "payment has already been processed", http.StatusConflict))
	case errors.Is(err, services.ErrPaymentSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrPaymentGateway):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway request failed", http.StatusBadGateway))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.BadRequest("cart_empty", "cart is empty"))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.Forbidden("order belongs to another account"))
	case errors.Is(err, services.ErrOrderReferenceConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_reference_conflict", "order reference already exists", http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.Internal())
	}
}
