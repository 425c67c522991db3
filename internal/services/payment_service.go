package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/notifications"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/repositories"
)

const (
	orderIDPrefix          = "ord_"
	defaultReferencePrefix = "ORD-"
	purgePageSize          = 100
)

// Webhook outcomes reported back to the handler.
const (
	WebhookOutcomeCompleted        = "completed"
	WebhookOutcomeDuplicate        = "duplicate"
	WebhookOutcomeDeclined         = "declined"
	WebhookOutcomeMismatch         = "mismatch"
	WebhookOutcomeUnknownReference = "unknown_reference"
	WebhookOutcomeIgnored          = "ignored"
)

// PaymentGateways is the subset of payments.Manager used by the payment service.
type PaymentGateways interface {
	Gateway(name string) (payments.Gateway, error)
	Initialize(ctx context.Context, gateway string, req payments.InitializeRequest) (payments.Session, error)
	Verify(ctx context.Context, gateway, reference string) (payments.Verification, error)
	ParseWebhook(ctx context.Context, gateway string, header http.Header, body []byte) (payments.WebhookEvent, error)
}

// WebhookSignatureVerifier checks the shared HMAC signature on gateway callbacks.
type WebhookSignatureVerifier interface {
	VerifyBody(ctx context.Context, scope string, header http.Header, body []byte) error
}

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders          repositories.OrderRepository
	Carts           repositories.CartRepository
	Products        ProductFinder
	Payments        PaymentGateways
	Webhooks        WebhookSignatureVerifier
	Events          OrderEventPublisher
	Currency        string
	ReferencePrefix string
	CallbackURL     string
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders          repositories.OrderRepository
	carts           repositories.CartRepository
	products        ProductFinder
	gateways        PaymentGateways
	webhooks        WebhookSignatureVerifier
	events          OrderEventPublisher
	currency        string
	referencePrefix string
	callbackURL     string
	validate        *validator.Validate
	clock           func() time.Time
	newID           func() string
	logger          func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("payment service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("payment service: product finder is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment gateways are required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "NGN"
	}
	prefix := strings.TrimSpace(deps.ReferencePrefix)
	if prefix == "" {
		prefix = defaultReferencePrefix
	}

	return &paymentService{
		orders:          deps.Orders,
		carts:           deps.Carts,
		products:        deps.Products,
		gateways:        deps.Payments,
		webhooks:        deps.Webhooks,
		events:          deps.Events,
		currency:        currency,
		referencePrefix: prefix,
		callbackURL:     strings.TrimSpace(deps.CallbackURL),
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *paymentService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutResult{}, fmt.Errorf("%w: user id is required", ErrPaymentInvalidInput)
	}
	method, err := s.resolveMethod(cmd.Method)
	if err != nil {
		return CheckoutResult{}, err
	}
	shipping := normaliseShipping(cmd.Shipping)
	if err := s.validate.Struct(shipping); err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: shipping details: %v", ErrPaymentInvalidInput, err)
	}
	currency := s.currency
	if requested := strings.ToUpper(strings.TrimSpace(cmd.Currency)); requested != "" {
		if len(requested) != 3 {
			return CheckoutResult{}, fmt.Errorf("%w: currency must be an ISO 4217 code", ErrPaymentInvalidInput)
		}
		currency = requested
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil && !isRepositoryNotFound(err) {
		return CheckoutResult{}, mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
	}
	if len(cart.Items) == 0 {
		return CheckoutResult{}, fmt.Errorf("%w: cart is empty", ErrPaymentInvalidInput)
	}

	items, err := s.snapshotItems(ctx, cart.Items)
	if err != nil {
		return CheckoutResult{}, err
	}

	now := s.clock()
	order := Order{
		ID:            orderIDPrefix + s.newID(),
		Reference:     s.referencePrefix + s.newID(),
		UserID:        userID,
		Shipping:      shipping,
		Items:         items,
		TotalAmount:   orderTotal(items),
		Currency:      currency,
		PaymentMethod: method,
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusPending,
		AcceptedOrder: domain.AcceptancePending,
		CancelOrder:   domain.CancellationPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	lines := make([]payments.LineItem, 0, len(items))
	for _, item := range items {
		lines = append(lines, payments.LineItem{Name: item.Name, Quantity: int64(item.Quantity), Amount: item.Price})
	}
	if err := domain.ValidateOrder(order); err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		if isRepositoryConflict(err) {
			return CheckoutResult{}, fmt.Errorf("%w: %s", ErrOrderReferenceConflict, order.Reference)
		}
		return CheckoutResult{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	session, err := s.gateways.Initialize(ctx, string(method), payments.InitializeRequest{
		OrderID:        order.ID,
		OrderReference: order.Reference,
		Amount:         order.TotalAmount,
		Currency:       order.Currency,
		Email:          shipping.Email,
		CustomerName:   shipping.Name,
		CallbackURL:    s.callbackURL,
		Items:          lines,
	})
	if err != nil {
		s.discardOrder(ctx, order.ID, err)
		if errors.Is(err, payments.ErrInvalidRequest) {
			return CheckoutResult{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
		}
		return CheckoutResult{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	updated, err := s.orders.Mutate(ctx, order.ID, func(o *domain.Order) error {
		o.GatewayReference = session.Reference
		o.UpdatedAt = s.clock()
		return nil
	})
	if err != nil {
		s.discardOrder(ctx, order.ID, err)
		return CheckoutResult{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	s.logger(ctx, "payment.checkout.started", map[string]any{
		"orderId":          updated.ID,
		"reference":        updated.Reference,
		"gateway":          string(method),
		"gatewayReference": session.Reference,
		"amount":           updated.TotalAmount,
	})
	return CheckoutResult{
		Order:            updated,
		RedirectURL:      session.RedirectURL,
		GatewayReference: session.Reference,
	}, nil
}

// snapshotItems prices each cart line from the current catalog entry. Quantities, colors and sizes
// come from the cart.
func (s *paymentService) snapshotItems(ctx context.Context, cartItems []CartItem) ([]OrderItem, error) {
	items := make([]OrderItem, 0, len(cartItems))
	for _, line := range cartItems {
		product, err := s.products.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, ErrCatalogNotFound) {
				return nil, fmt.Errorf("%w: product %s is no longer available", ErrPaymentInvalidInput, line.ProductID)
			}
			return nil, err
		}
		if err := checkStock(product, line.Quantity); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
		}
		image := firstImage(product.Images)
		if image == "" {
			image = line.Image
		}
		items = append(items, OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  line.Quantity,
			Color:     line.Color,
			Size:      line.Size,
			Image:     image,
		})
	}
	return items, nil
}

func orderTotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}

func (s *paymentService) Complete(ctx context.Context, cmd CompletePaymentCommand) (Order, error) {
	method, err := s.resolveMethod(cmd.Method)
	if err != nil {
		return Order{}, err
	}
	reference := strings.TrimSpace(cmd.GatewayReference)
	if reference == "" {
		return Order{}, fmt.Errorf("%w: gateway reference is required", ErrPaymentInvalidInput)
	}

	verification, err := s.gateways.Verify(ctx, string(method), reference)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrReferenceNotFound):
			return Order{}, fmt.Errorf("%w: %v", ErrPaymentDeclined, err)
		case errors.Is(err, payments.ErrInvalidRequest):
			return Order{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
		case errors.Is(err, payments.ErrUnsupportedGateway):
			return Order{}, fmt.Errorf("%w: %v", ErrPaymentUnsupported, err)
		}
		return Order{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	order, err := s.findPendingOrder(ctx, method, reference, verification)
	if err != nil {
		return Order{}, err
	}
	if cmd.UserID != "" && order.UserID != cmd.UserID {
		return Order{}, ErrOrderForbidden
	}

	if !verification.Success {
		if verification.Status == payments.StatusFailed {
			s.markFailed(ctx, order)
		}
		s.logger(ctx, "payment.declined", map[string]any{
			"orderId":          order.ID,
			"gateway":          string(method),
			"gatewayReference": reference,
			"status":           string(verification.Status),
		})
		return Order{}, fmt.Errorf("%w: gateway reported %s", ErrPaymentDeclined, verification.Status)
	}

	if err := matchVerification(order, verification); err != nil {
		s.logger(ctx, "payment.mismatch", map[string]any{
			"orderId":          order.ID,
			"gateway":          string(method),
			"gatewayReference": reference,
			"error":            err.Error(),
		})
		return Order{}, err
	}

	externalID := strings.TrimSpace(verification.ExternalID)
	if externalID == "" {
		externalID = reference
	}
	paymentKey := string(method) + ":" + externalID
	now := s.clock()
	confirmed, err := s.orders.ConfirmPayment(ctx, order.ID, paymentKey, func(o *domain.Order) error {
		if o.PaymentStatus == domain.PaymentStatusSuccess {
			return ErrPaymentDuplicate
		}
		paidAt := now
		o.PaymentStatus = domain.PaymentStatusSuccess
		o.OrderStatus = domain.OrderStatusPending
		o.TransactionID = externalID
		o.PaidAt = &paidAt
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentDuplicate) || isRepositoryConflict(err) {
			return Order{}, fmt.Errorf("%w: %s", ErrPaymentDuplicate, paymentKey)
		}
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	if err := s.carts.DeleteCart(ctx, confirmed.UserID); err != nil && !isRepositoryNotFound(err) {
		s.logger(ctx, "payment.cart.clear_failed", map[string]any{
			"orderId": confirmed.ID,
			"userId":  confirmed.UserID,
			"error":   err.Error(),
		})
	}

	s.logger(ctx, "payment.completed", map[string]any{
		"orderId":       confirmed.ID,
		"reference":     confirmed.Reference,
		"gateway":       string(method),
		"transactionId": externalID,
	})
	publishOrderEvent(ctx, s.events, s.logger, notifications.Event{
		ID:         eventIDPrefix + s.newID(),
		Type:       notifications.EventNewOrder,
		Message:    fmt.Sprintf("New order %s from %s", confirmed.Reference, confirmed.Shipping.Name),
		OrderID:    confirmed.ID,
		OccurredAt: now,
	})
	return confirmed, nil
}

func (s *paymentService) HandleWebhook(ctx context.Context, cmd PaymentWebhookCommand) (WebhookResult, error) {
	method, ok := domain.ParsePaymentMethod(cmd.Method)
	if !ok {
		return WebhookResult{}, fmt.Errorf("%w: %q", ErrPaymentUnsupported, cmd.Method)
	}
	gateway, err := s.gateways.Gateway(string(method))
	if err != nil {
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentUnsupported, err)
	}

	if verifier, ok := gateway.(payments.WebhookVerifier); ok {
		if err := verifier.VerifyWebhook(cmd.Header, cmd.Body); err != nil {
			return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentSignature, err)
		}
	} else {
		if s.webhooks == nil {
			return WebhookResult{}, fmt.Errorf("%w: no webhook verifier configured", ErrPaymentSignature)
		}
		if err := s.webhooks.VerifyBody(ctx, string(method), cmd.Header, cmd.Body); err != nil {
			return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentSignature, err)
		}
	}

	event, err := s.gateways.ParseWebhook(ctx, string(method), cmd.Header, cmd.Body)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}
	result := WebhookResult{EventType: event.Type, Reference: event.Reference}
	if !event.Completed || strings.TrimSpace(event.Reference) == "" {
		result.Outcome = WebhookOutcomeIgnored
		return result, nil
	}

	order, err := s.Complete(ctx, CompletePaymentCommand{Method: string(method), GatewayReference: event.Reference})
	switch {
	case err == nil:
		result.Outcome = WebhookOutcomeCompleted
		result.OrderID = order.ID
	case errors.Is(err, ErrPaymentDuplicate):
		result.Outcome = WebhookOutcomeDuplicate
	case errors.Is(err, ErrPaymentDeclined):
		result.Outcome = WebhookOutcomeDeclined
	case errors.Is(err, ErrPaymentMismatch):
		result.Outcome = WebhookOutcomeMismatch
	case errors.Is(err, ErrOrderNotFound):
		result.Outcome = WebhookOutcomeUnknownReference
	default:
		return WebhookResult{}, err
	}

	s.logger(ctx, "payment.webhook.handled", map[string]any{
		"gateway":   string(method),
		"eventType": event.Type,
		"reference": event.Reference,
		"outcome":   result.Outcome,
	})
	return result, nil
}

func (s *paymentService) PurgeAbandoned(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("%w: age must be positive", ErrPaymentInvalidInput)
	}
	cutoff := s.clock().Add(-olderThan)

	// Deletions shift the result set, so every pass restarts from the first page.
	purged := 0
	for {
		page, err := s.orders.List(ctx, repositories.OrderListFilter{
			PaymentStatus: []domain.PaymentStatus{domain.PaymentStatusPending},
			CreatedBefore: &cutoff,
			Pagination:    domain.Pagination{PageSize: purgePageSize},
		})
		if err != nil {
			return purged, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		deleted := 0
		for _, order := range page.Items {
			if order.PaymentStatus != domain.PaymentStatusPending {
				continue
			}
			if err := s.orders.Delete(ctx, order.ID); err != nil {
				if isRepositoryNotFound(err) {
					continue
				}
				return purged, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
			}
			deleted++
		}
		purged += deleted
		if page.NextPageToken == "" || deleted == 0 {
			break
		}
	}

	if purged > 0 {
		s.logger(ctx, "payment.abandoned.purged", map[string]any{
			"count":  purged,
			"cutoff": cutoff.Format(time.RFC3339),
		})
	}
	return purged, nil
}

func (s *paymentService) resolveMethod(raw string) (domain.PaymentMethod, error) {
	method, ok := domain.ParsePaymentMethod(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrPaymentUnsupported, raw)
	}
	if _, err := s.gateways.Gateway(string(method)); err != nil {
		return "", fmt.Errorf("%w: %s is not configured", ErrPaymentUnsupported, method)
	}
	return method, nil
}

// findPendingOrder locates the order by the stored gateway reference, falling back to the
// order reference the gateway echoed back.
func (s *paymentService) findPendingOrder(ctx context.Context, method domain.PaymentMethod, reference string, verification payments.Verification) (Order, error) {
	order, err := s.orders.FindByGatewayReference(ctx, method, reference)
	if err == nil {
		return order, nil
	}
	if !isRepositoryNotFound(err) {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	orderRef := strings.TrimSpace(verification.OrderReference)
	if orderRef == "" {
		return Order{}, fmt.Errorf("%w: no order for gateway reference %s", ErrOrderNotFound, reference)
	}
	order, err = s.orders.FindByReference(ctx, orderRef)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if order.PaymentMethod != method {
		return Order{}, fmt.Errorf("%w: order %s was not placed with %s", ErrPaymentMismatch, order.Reference, method)
	}
	return order, nil
}

func (s *paymentService) markFailed(ctx context.Context, order Order) {
	if order.PaymentStatus != domain.PaymentStatusPending {
		return
	}
	_, err := s.orders.Mutate(ctx, order.ID, func(o *domain.Order) error {
		if o.PaymentStatus == domain.PaymentStatusPending {
			o.PaymentStatus = domain.PaymentStatusFailed
			o.UpdatedAt = s.clock()
		}
		return nil
	})
	if err != nil {
		s.logger(ctx, "payment.mark_failed.error", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *paymentService) discardOrder(ctx context.Context, orderID string, cause error) {
	if err := s.orders.Delete(ctx, orderID); err != nil && !isRepositoryNotFound(err) {
		s.logger(ctx, "payment.checkout.discard_failed", map[string]any{
			"orderId": orderID,
			"cause":   cause.Error(),
			"error":   err.Error(),
		})
		return
	}
	s.logger(ctx, "payment.checkout.discarded", map[string]any{
		"orderId": orderID,
		"cause":   cause.Error(),
	})
}

func matchVerification(order Order, v payments.Verification) error {
	if v.Amount != order.TotalAmount {
		return fmt.Errorf("%w: amount %d, want %d", ErrPaymentMismatch, v.Amount, order.TotalAmount)
	}
	if !strings.EqualFold(v.Currency, order.Currency) {
		return fmt.Errorf("%w: currency %s, want %s", ErrPaymentMismatch, v.Currency, order.Currency)
	}
	if v.OrderReference != order.Reference {
		return fmt.Errorf("%w: reference %q, want %q", ErrPaymentMismatch, v.OrderReference, order.Reference)
	}
	return nil
}

func normaliseShipping(details ShippingDetails) ShippingDetails {
	return ShippingDetails{
		Name:     strings.TrimSpace(details.Name),
		Email:    normaliseEmail(details.Email),
		Phone:    strings.TrimSpace(details.Phone),
		Address:  strings.TrimSpace(details.Address),
		Country:  strings.TrimSpace(details.Country),
		State:    strings.TrimSpace(details.State),
		Locality: strings.TrimSpace(details.Locality),
	}
}
