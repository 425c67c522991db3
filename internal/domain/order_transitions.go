package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const day = 24 * time.Hour

var (
	// ErrUnknownShippingStatus is returned for values outside the shipping status set.
	ErrUnknownShippingStatus = errors.New("domain: unknown shipping status")
	// ErrTransitionNotAllowed is returned when the order's current state forbids the requested change.
	ErrTransitionNotAllowed = errors.New("domain: transition not allowed")
)

// ShippingTransition is the order-side effect of an admin shipping status update.
type ShippingTransition struct {
	OrderStatus OrderStatus
	// DeliveryIn is added to the update time to estimate delivery. Ignored when ClearDelivery is set.
	DeliveryIn    time.Duration
	ClearDelivery bool
}

// shippingTransitions must hold a row for every value in ShippingStatuses.
var shippingTransitions = map[ShippingStatus]ShippingTransition{
	ShippingStatusProcessing:     {OrderStatus: OrderStatusProcessed, DeliveryIn: 5 * day},
	ShippingStatusShipped:        {OrderStatus: OrderStatusPacking, DeliveryIn: 4 * day},
	ShippingStatusInTransit:      {OrderStatus: OrderStatusShipped, DeliveryIn: 3 * day},
	ShippingStatusOutForDelivery: {OrderStatus: OrderStatusProgress, DeliveryIn: 2 * day},
	ShippingStatusDelivered:      {OrderStatus: OrderStatusDelivered, DeliveryIn: 0},
	ShippingStatusFailed:         {OrderStatus: OrderStatusCanceled, ClearDelivery: true},
}

// terminalShippingStatuses are the only updates a canceled or rejected order may receive.
var terminalShippingStatuses = map[ShippingStatus]bool{
	ShippingStatusFailed: true,
}

func init() {
	if missing := MissingShippingTransitions(); len(missing) > 0 {
		panic(fmt.Sprintf("domain: shipping statuses without order transition: %v", missing))
	}
}

// MissingShippingTransitions reports shipping statuses that lack an order status mapping.
func MissingShippingTransitions() []ShippingStatus {
	var missing []ShippingStatus
	for _, status := range ShippingStatuses() {
		if _, ok := shippingTransitions[status]; !ok {
			missing = append(missing, status)
		}
	}
	return missing
}

// ShippingTransitionFor returns the table row for the shipping status.
func ShippingTransitionFor(status ShippingStatus) (ShippingTransition, bool) {
	transition, ok := shippingTransitions[status]
	return transition, ok
}

// ApplyShippingStatus moves the order to the shipping status and derives the order status and delivery estimate.
func (o *Order) ApplyShippingStatus(status ShippingStatus, now time.Time) error {
	transition, ok := ShippingTransitionFor(status)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownShippingStatus, status)
	}
	if o.Terminal() && !terminalShippingStatuses[status] {
		return fmt.Errorf("%w: order is canceled or rejected and only accepts %s", ErrTransitionNotAllowed, ShippingStatusFailed)
	}
	if o.PaymentStatus != PaymentStatusSuccess {
		return fmt.Errorf("%w: payment status is %s", ErrTransitionNotAllowed, o.PaymentStatus)
	}

	o.ShippingStatus = status
	o.OrderStatus = transition.OrderStatus
	if transition.ClearDelivery {
		o.DeliveryDate = nil
	} else {
		delivery := now.Add(transition.DeliveryIn)
		o.DeliveryDate = &delivery
	}
	o.UpdatedAt = now
	return nil
}

// Accept records the buyer's acceptance of a delivered order.
func (o *Order) Accept(now time.Time) error {
	if err := o.ensureAwaitingAcceptance(); err != nil {
		return err
	}
	o.AcceptedOrder = AcceptanceAccepted
	o.UpdatedAt = now
	return nil
}

// Reject records the buyer's rejection of a delivered order. Reason and refund contact are mandatory.
func (o *Order) Reject(reason, refundContact string, now time.Time) error {
	if err := o.ensureAwaitingAcceptance(); err != nil {
		return err
	}
	o.AcceptedOrder = AcceptanceRejected
	o.RejectionReason = strings.TrimSpace(reason)
	o.RejectionRefundContact = strings.TrimSpace(refundContact)
	o.UpdatedAt = now
	return nil
}

// Cancel records the buyer's cancellation. Orders already on the road or delivered cannot be canceled.
func (o *Order) Cancel(reason, refundContact string, now time.Time) error {
	if o.CancelOrder == CancellationCanceled {
		return fmt.Errorf("%w: order already canceled", ErrTransitionNotAllowed)
	}
	switch o.OrderStatus {
	case OrderStatusShipped, OrderStatusProgress, OrderStatusDelivered, OrderStatusCanceled:
		return fmt.Errorf("%w: order in status %s cannot be canceled", ErrTransitionNotAllowed, o.OrderStatus)
	}
	o.CancelOrder = CancellationCanceled
	o.CancellationReason = strings.TrimSpace(reason)
	o.CancellationRefundContact = strings.TrimSpace(refundContact)
	o.UpdatedAt = now
	return nil
}

func (o *Order) ensureAwaitingAcceptance() error {
	if o.OrderStatus != OrderStatusDelivered {
		return fmt.Errorf("%w: order status is %s, want %s", ErrTransitionNotAllowed, o.OrderStatus, OrderStatusDelivered)
	}
	if o.AcceptedOrder != AcceptancePending && o.AcceptedOrder != "" {
		return fmt.Errorf("%w: order already %s", ErrTransitionNotAllowed, strings.ToLower(string(o.AcceptedOrder)))
	}
	if o.CancelOrder == CancellationCanceled {
		return fmt.Errorf("%w: order was canceled", ErrTransitionNotAllowed)
	}
	return nil
}
