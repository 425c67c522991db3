package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/notifications"
	"github.com/storefront/api/internal/repositories"
)

const eventIDPrefix = "evt_"

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders repositories.OrderRepository
	events OrderEventPublisher
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
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

	return &orderService{
		orders: deps.Orders,
		events: deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) GetOrder(ctx context.Context, cmd OrderLookup) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !cmd.IsAdmin && order.UserID != cmd.ActorID {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *orderService) GetOrderByReference(ctx context.Context, cmd OrderLookup) (Order, error) {
	reference := strings.TrimSpace(cmd.Reference)
	if reference == "" {
		return Order{}, fmt.Errorf("%w: reference is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByReference(ctx, reference)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !cmd.IsAdmin && order.UserID != cmd.ActorID {
		return Order{}, ErrOrderForbidden
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	repoFilter := repositories.OrderListFilter{Pagination: filter.Pagination}
	if !filter.IsAdmin {
		actor := strings.TrimSpace(filter.ActorID)
		if actor == "" {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
		}
		repoFilter.UserID = actor
	}
	for _, raw := range filter.OrderStatus {
		status, ok := domain.ParseOrderStatus(raw)
		if !ok {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown order status %q", ErrOrderInvalidInput, raw)
		}
		repoFilter.OrderStatus = append(repoFilter.OrderStatus, status)
	}
	for _, raw := range filter.PaymentStatus {
		status := domain.PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
		switch status {
		case domain.PaymentStatusPending, domain.PaymentStatusSuccess, domain.PaymentStatusFailed:
			repoFilter.PaymentStatus = append(repoFilter.PaymentStatus, status)
		default:
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, raw)
		}
	}

	page, err := s.orders.List(ctx, repoFilter)
	if errors.Is(err, repositories.ErrInvalidPageToken) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) UpdateShippingStatus(ctx context.Context, cmd UpdateShippingStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	status, ok := domain.ParseShippingStatus(cmd.Status)
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown shipping status %q", ErrOrderInvalidInput, cmd.Status)
	}

	now := s.clock()
	order, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		return order.ApplyShippingStatus(status, now)
	})
	if err != nil {
		return Order{}, s.mapMutationError(err)
	}

	s.logger(ctx, "order.shipping.updated", map[string]any{
		"orderId":        order.ID,
		"shippingStatus": string(order.ShippingStatus),
		"orderStatus":    string(order.OrderStatus),
		"actorId":        cmd.ActorID,
	})
	s.publishEvent(ctx, notifications.EventShippingUpdate, order,
		fmt.Sprintf("Order %s is now %s (shipping: %s)", order.Reference, order.OrderStatus, humanShippingStatus(order.ShippingStatus)))
	return order, nil
}

func (s *orderService) AcceptOrder(ctx context.Context, cmd BuyerOrderCommand) (Order, error) {
	if err := requireBuyerCommand(cmd, false); err != nil {
		return Order{}, err
	}
	now := s.clock()
	order, err := s.orders.Mutate(ctx, strings.TrimSpace(cmd.OrderID), func(order *domain.Order) error {
		if order.UserID != cmd.BuyerID {
			return ErrOrderForbidden
		}
		return order.Accept(now)
	})
	if err != nil {
		return Order{}, s.mapMutationError(err)
	}
	s.publishEvent(ctx, notifications.EventAcceptOrder, order,
		fmt.Sprintf("Order %s was accepted by %s", order.Reference, order.Shipping.Name))
	return order, nil
}

func (s *orderService) RejectOrder(ctx context.Context, cmd BuyerOrderCommand) (Order, error) {
	if err := requireBuyerCommand(cmd, true); err != nil {
		return Order{}, err
	}
	now := s.clock()
	order, err := s.orders.Mutate(ctx, strings.TrimSpace(cmd.OrderID), func(order *domain.Order) error {
		if order.UserID != cmd.BuyerID {
			return ErrOrderForbidden
		}
		return order.Reject(cmd.Reason, cmd.RefundContact, now)
	})
	if err != nil {
		return Order{}, s.mapMutationError(err)
	}
	s.publishEvent(ctx, notifications.EventRejectOrder, order,
		fmt.Sprintf("Order %s was rejected by %s: %s", order.Reference, order.Shipping.Name, order.RejectionReason))
	return order, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd BuyerOrderCommand) (Order, error) {
	if err := requireBuyerCommand(cmd, true); err != nil {
		return Order{}, err
	}
	now := s.clock()
	order, err := s.orders.Mutate(ctx, strings.TrimSpace(cmd.OrderID), func(order *domain.Order) error {
		if order.UserID != cmd.BuyerID {
			return ErrOrderForbidden
		}
		return order.Cancel(cmd.Reason, cmd.RefundContact, now)
	})
	if err != nil {
		return Order{}, s.mapMutationError(err)
	}
	s.publishEvent(ctx, notifications.EventCancelOrder, order,
		fmt.Sprintf("Order %s was canceled by %s: %s", order.Reference, order.Shipping.Name, order.CancellationReason))
	return order, nil
}

func (s *orderService) publishEvent(ctx context.Context, kind notifications.EventType, order Order, message string) {
	publishOrderEvent(ctx, s.events, s.logger, notifications.Event{
		ID:         eventIDPrefix + s.newID(),
		Type:       kind,
		Message:    message,
		OrderID:    order.ID,
		OccurredAt: s.clock(),
	})
}

func (s *orderService) mapMutationError(err error) error {
	switch {
	case errors.Is(err, ErrOrderForbidden):
		return ErrOrderForbidden
	case errors.Is(err, domain.ErrTransitionNotAllowed):
		return fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
	case errors.Is(err, domain.ErrUnknownShippingStatus), errors.Is(err, domain.ErrInvalidOrder):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) mapRepositoryError(err error) error {
	return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
}

// publishOrderEvent never fails the caller; relay outages are logged.
func publishOrderEvent(ctx context.Context, events OrderEventPublisher, logger func(context.Context, string, map[string]any), event notifications.Event) {
	if events == nil {
		return
	}
	if err := events.Publish(ctx, event); err != nil {
		logger(ctx, "order.event.publish_failed", map[string]any{
			"type":    string(event.Type),
			"orderId": event.OrderID,
			"error":   err.Error(),
		})
	}
}

func requireBuyerCommand(cmd BuyerOrderCommand, needsReason bool) error {
	if strings.TrimSpace(cmd.OrderID) == "" || strings.TrimSpace(cmd.BuyerID) == "" {
		return fmt.Errorf("%w: order id and buyer are required", ErrOrderInvalidInput)
	}
	if needsReason && (strings.TrimSpace(cmd.Reason) == "" || strings.TrimSpace(cmd.RefundContact) == "") {
		return fmt.Errorf("%w: reason and refund contact are required", ErrOrderInvalidInput)
	}
	return nil
}

func humanShippingStatus(status domain.ShippingStatus) string {
	return strings.ReplaceAll(string(status), "_", " ")
}
