package payments

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Status enumerates the normalised payment states shared across gateways.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

var (
	// ErrUnsupportedGateway is returned when no adapter is registered under the requested name.
	ErrUnsupportedGateway = errors.New("payments: unsupported gateway")
	// ErrGatewayUnavailable wraps transport failures, timeouts and 5xx responses.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
	// ErrGatewayRejected wraps 4xx responses other than an unknown reference.
	ErrGatewayRejected = errors.New("payments: gateway rejected request")
	// ErrReferenceNotFound is returned when the gateway does not know the reference.
	ErrReferenceNotFound = errors.New("payments: reference not found")
	// ErrInvalidRequest is returned before any outbound call when the request is incomplete.
	ErrInvalidRequest = errors.New("payments: invalid request")
)

// LineItem is shown on hosted checkout pages that itemise the order.
type LineItem struct {
	Name     string
	Quantity int64
	Amount   int64
}

// InitializeRequest opens a hosted payment session for a pending order. Amounts are in minor units.
type InitializeRequest struct {
	OrderID        string
	OrderReference string
	Amount         int64
	Currency       string
	Email          string
	CustomerName   string
	CallbackURL    string
	CancelURL      string
	Items          []LineItem
}

// Session is the hosted checkout the buyer is redirected to. Reference is what Verify later accepts.
type Session struct {
	Gateway     string
	Reference   string
	RedirectURL string
	ExpiresAt   time.Time
}

// Verification is the gateway's server-to-server view of a payment.
type Verification struct {
	Gateway        string
	Success        bool
	Status         Status
	Amount         int64
	Currency       string
	ExternalID     string
	OrderReference string
	Reference      string
}

// Gateway is implemented by every payment provider adapter.
type Gateway interface {
	Name() string
	Initialize(ctx context.Context, req InitializeRequest) (Session, error)
	Verify(ctx context.Context, reference string) (Verification, error)
}

// WebhookEvent is the part of a gateway callback the order workflow needs.
// Completed is false for event types that carry no payment outcome.
type WebhookEvent struct {
	Type      string
	Reference string
	Completed bool
}

// WebhookParser extracts the gateway reference from a callback body.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, header http.Header, body []byte) (WebhookEvent, error)
}

// WebhookVerifier is implemented by gateways with their own signed-payload scheme.
// Gateways without it are checked with the shared HMAC validator.
type WebhookVerifier interface {
	VerifyWebhook(header http.Header, body []byte) error
}

func statusFromBool(ok bool) Status {
	if ok {
		return StatusSuccess
	}
	return StatusFailed
}
