package domain

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func paidOrder() Order {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return Order{
		ID:        "01HX",
		Reference: "ORD-01HX",
		UserID:    "user-1",
		Shipping: ShippingDetails{
			Name:    "Ada Obi",
			Email:   "ada@example.com",
			Phone:   "+2348000000000",
			Address: "12 Marina",
			Country: "NG",
			State:   "Lagos",
		},
		Items:         []OrderItem{{ProductID: "p1", Name: "Sneaker", Price: 2500000, Quantity: 1}},
		TotalAmount:   2500000,
		Currency:      "NGN",
		PaymentMethod: PaymentMethodPaystack,
		PaymentStatus: PaymentStatusSuccess,
		OrderStatus:   OrderStatusPending,
		AcceptedOrder: AcceptancePending,
		CancelOrder:   CancellationPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestShippingTransitionTableCoversEveryStatus(t *testing.T) {
	if missing := MissingShippingTransitions(); len(missing) != 0 {
		t.Fatalf("expected every shipping status to be mapped, missing %v", missing)
	}
	if len(shippingTransitions) != len(ShippingStatuses()) {
		t.Fatalf("transition table has %d rows, want %d", len(shippingTransitions), len(ShippingStatuses()))
	}
}

func TestApplyShippingStatusMapping(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)
	cases := []struct {
		status      ShippingStatus
		orderStatus OrderStatus
		offset      time.Duration
		cleared     bool
	}{
		{ShippingStatusProcessing, OrderStatusProcessed, 5 * day, false},
		{ShippingStatusShipped, OrderStatusPacking, 4 * day, false},
		{ShippingStatusInTransit, OrderStatusShipped, 3 * day, false},
		{ShippingStatusOutForDelivery, OrderStatusProgress, 2 * day, false},
		{ShippingStatusDelivered, OrderStatusDelivered, 0, false},
		{ShippingStatusFailed, OrderStatusCanceled, 0, true},
	}

	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			order := paidOrder()
			previous := now.Add(-time.Hour)
			order.DeliveryDate = &previous

			if err := order.ApplyShippingStatus(tc.status, now); err != nil {
				t.Fatalf("ApplyShippingStatus: %v", err)
			}
			if order.ShippingStatus != tc.status {
				t.Fatalf("shipping status = %s, want %s", order.ShippingStatus, tc.status)
			}
			if order.OrderStatus != tc.orderStatus {
				t.Fatalf("order status = %s, want %s", order.OrderStatus, tc.orderStatus)
			}
			if tc.cleared {
				if order.DeliveryDate != nil {
					t.Fatalf("expected delivery date cleared, got %v", order.DeliveryDate)
				}
				return
			}
			if order.DeliveryDate == nil {
				t.Fatalf("expected delivery date to be set")
			}
			if want := now.Add(tc.offset); !order.DeliveryDate.Equal(want) {
				t.Fatalf("delivery date = %v, want %v", order.DeliveryDate, want)
			}
		})
	}
}

func TestApplyShippingStatusRejectsUnknownStatus(t *testing.T) {
	order := paidOrder()
	err := order.ApplyShippingStatus(ShippingStatus("Lost"), time.Now())
	if !errors.Is(err, ErrUnknownShippingStatus) {
		t.Fatalf("expected ErrUnknownShippingStatus, got %v", err)
	}
}

func TestApplyShippingStatusTerminalOrdersOnlyAcceptFailed(t *testing.T) {
	now := time.Now().UTC()

	canceled := paidOrder()
	canceled.CancelOrder = CancellationCanceled
	canceled.CancellationReason = "changed my mind"
	canceled.CancellationRefundContact = "ada@example.com"

	rejected := paidOrder()
	rejected.OrderStatus = OrderStatusDelivered
	rejected.AcceptedOrder = AcceptanceRejected
	rejected.RejectionReason = "damaged"
	rejected.RejectionRefundContact = "ada@example.com"

	for name, base := range map[string]Order{"canceled": canceled, "rejected": rejected} {
		for _, status := range ShippingStatuses() {
			order := base.Clone()
			err := order.ApplyShippingStatus(status, now)
			if status == ShippingStatusFailed {
				if err != nil {
					t.Fatalf("%s order: expected Failed to be accepted, got %v", name, err)
				}
				if order.OrderStatus != OrderStatusCanceled {
					t.Fatalf("%s order: expected Canceled status, got %s", name, order.OrderStatus)
				}
				continue
			}
			if !errors.Is(err, ErrTransitionNotAllowed) {
				t.Fatalf("%s order: expected %s to be refused, got %v", name, status, err)
			}
		}
	}
}

func TestApplyShippingStatusRequiresConfirmedPayment(t *testing.T) {
	order := paidOrder()
	order.PaymentStatus = PaymentStatusPending
	if err := order.ApplyShippingStatus(ShippingStatusProcessing, time.Now()); !errors.Is(err, ErrTransitionNotAllowed) {
		t.Fatalf("expected ErrTransitionNotAllowed, got %v", err)
	}
}

func TestOrderAcceptRequiresDelivered(t *testing.T) {
	now := time.Now().UTC()
	order := paidOrder()
	order.OrderStatus = OrderStatusProgress
	if err := order.Accept(now); !errors.Is(err, ErrTransitionNotAllowed) {
		t.Fatalf("expected ErrTransitionNotAllowed, got %v", err)
	}

	order.OrderStatus = OrderStatusDelivered
	if err := order.Accept(now); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if order.AcceptedOrder != AcceptanceAccepted {
		t.Fatalf("expected Accepted, got %s", order.AcceptedOrder)
	}
	if err := order.Accept(now); !errors.Is(err, ErrTransitionNotAllowed) {
		t.Fatalf("expected second accept to fail, got %v", err)
	}
}

func TestOrderCancelBlockedOnceShipped(t *testing.T) {
	for _, status := range []OrderStatus{OrderStatusShipped, OrderStatusProgress, OrderStatusDelivered} {
		order := paidOrder()
		order.OrderStatus = status
		if err := order.Cancel("late", "ada@example.com", time.Now()); !errors.Is(err, ErrTransitionNotAllowed) {
			t.Fatalf("status %s: expected ErrTransitionNotAllowed, got %v", status, err)
		}
	}

	order := paidOrder()
	order.OrderStatus = OrderStatusPacking
	if err := order.Cancel(" late ", "ada@example.com", time.Now()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if order.CancellationReason != "late" {
		t.Fatalf("expected trimmed reason, got %q", order.CancellationReason)
	}
}

func TestValidateOrderConditionalFields(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		if err := ValidateOrder(paidOrder()); err != nil {
			t.Fatalf("ValidateOrder: %v", err)
		}
	})

	t.Run("rejected without reason", func(t *testing.T) {
		order := paidOrder()
		order.AcceptedOrder = AcceptanceRejected
		order.RejectionRefundContact = "ada@example.com"
		err := ValidateOrder(order)
		if !errors.Is(err, ErrInvalidOrder) {
			t.Fatalf("expected ErrInvalidOrder, got %v", err)
		}
		var vErr *OrderValidationError
		if !errors.As(err, &vErr) || !slices.Contains(vErr.Fields, "RejectionReason") {
			t.Fatalf("expected RejectionReason to be reported, got %v", err)
		}
	})

	t.Run("canceled without reason", func(t *testing.T) {
		order := paidOrder()
		order.CancelOrder = CancellationCanceled
		err := ValidateOrder(order)
		var vErr *OrderValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected OrderValidationError, got %v", err)
		}
		if !slices.Contains(vErr.Fields, "CancellationReason") || !slices.Contains(vErr.Fields, "CancellationRefundContact") {
			t.Fatalf("expected cancellation fields to be reported, got %v", vErr.Fields)
		}
	})

	t.Run("pending flags need no reason", func(t *testing.T) {
		order := paidOrder()
		order.RejectionReason = ""
		order.CancellationReason = ""
		if err := ValidateOrder(order); err != nil {
			t.Fatalf("ValidateOrder: %v", err)
		}
	})

	t.Run("unknown payment method", func(t *testing.T) {
		order := paidOrder()
		order.PaymentMethod = PaymentMethod("paypal")
		if err := ValidateOrder(order); !errors.Is(err, ErrInvalidOrder) {
			t.Fatalf("expected ErrInvalidOrder, got %v", err)
		}
	})
}
