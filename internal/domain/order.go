package domain

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// PaymentMethod identifies the gateway that collects payment for an order.
type PaymentMethod string

const (
	PaymentMethodPaystack    PaymentMethod = "paystack"
	PaymentMethodFlutterwave PaymentMethod = "flutterwave"
	PaymentMethodMonnify     PaymentMethod = "monnify"
	PaymentMethodStripe      PaymentMethod = "stripe"
)

// PaymentMethods lists every supported gateway.
func PaymentMethods() []PaymentMethod {
	return []PaymentMethod{PaymentMethodPaystack, PaymentMethodFlutterwave, PaymentMethodMonnify, PaymentMethodStripe}
}

// ParsePaymentMethod normalises user input into a supported payment method.
func ParsePaymentMethod(value string) (PaymentMethod, bool) {
	candidate := PaymentMethod(strings.ToLower(strings.TrimSpace(value)))
	for _, method := range PaymentMethods() {
		if method == candidate {
			return method, true
		}
	}
	return "", false
}

// PaymentStatus tracks gateway confirmation of an order.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// ShippingStatus is the operational fulfilment state set by admins.
type ShippingStatus string

const (
	ShippingStatusProcessing     ShippingStatus = "Processing"
	ShippingStatusShipped        ShippingStatus = "Shipped"
	ShippingStatusInTransit      ShippingStatus = "In_Transit"
	ShippingStatusOutForDelivery ShippingStatus = "Out_For_Delivery"
	ShippingStatusDelivered      ShippingStatus = "Delivered"
	ShippingStatusFailed         ShippingStatus = "Failed"
)

// ShippingStatuses lists every shipping status in progression order.
func ShippingStatuses() []ShippingStatus {
	return []ShippingStatus{
		ShippingStatusProcessing,
		ShippingStatusShipped,
		ShippingStatusInTransit,
		ShippingStatusOutForDelivery,
		ShippingStatusDelivered,
		ShippingStatusFailed,
	}
}

// ParseShippingStatus accepts the canonical spelling case-insensitively.
func ParseShippingStatus(value string) (ShippingStatus, bool) {
	trimmed := strings.TrimSpace(value)
	for _, status := range ShippingStatuses() {
		if strings.EqualFold(string(status), trimmed) {
			return status, true
		}
	}
	return "", false
}

// OrderStatus is the customer-facing state derived from shipping progress.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusProcessed OrderStatus = "Processed"
	OrderStatusPacking   OrderStatus = "Packing"
	OrderStatusShipped   OrderStatus = "Shipped"
	OrderStatusProgress  OrderStatus = "Progress"
	OrderStatusDelivered OrderStatus = "Delivered"
	OrderStatusCanceled  OrderStatus = "Canceled"
)

// OrderStatuses lists every order status.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusProcessed,
		OrderStatusPacking,
		OrderStatusShipped,
		OrderStatusProgress,
		OrderStatusDelivered,
		OrderStatusCanceled,
	}
}

// ParseOrderStatus accepts the canonical spelling case-insensitively.
func ParseOrderStatus(value string) (OrderStatus, bool) {
	trimmed := strings.TrimSpace(value)
	for _, status := range OrderStatuses() {
		if strings.EqualFold(string(status), trimmed) {
			return status, true
		}
	}
	return "", false
}

// BuyerAcceptance records whether the buyer accepted a delivered order.
type BuyerAcceptance string

const (
	AcceptancePending  BuyerAcceptance = "Pending"
	AcceptanceAccepted BuyerAcceptance = "Accepted"
	AcceptanceRejected BuyerAcceptance = "Rejected"
)

// BuyerCancellation records whether the buyer canceled the order.
type BuyerCancellation string

const (
	CancellationPending  BuyerCancellation = "Pending"
	CancellationCanceled BuyerCancellation = "Canceled"
)

// ShippingDetails is the delivery contact captured at checkout.
type ShippingDetails struct {
	Name     string `validate:"required"`
	Email    string `validate:"required,email"`
	Phone    string `validate:"required"`
	Address  string `validate:"required"`
	Country  string `validate:"required"`
	State    string `validate:"required"`
	Locality string
}

// OrderItem is a line item snapshot taken when the order is created.
type OrderItem struct {
	ProductID string `validate:"required"`
	Name      string `validate:"required"`
	Price     int64  `validate:"gte=0"`
	Quantity  int    `validate:"gte=1"`
	Color     string
	Size      string
	Image     string
}

// Order is the persisted purchase record and its lifecycle flags.
type Order struct {
	ID                        string
	Reference                 string            `validate:"required"`
	UserID                    string            `validate:"required"`
	Shipping                  ShippingDetails   `validate:"required"`
	Items                     []OrderItem       `validate:"required,min=1,dive"`
	TotalAmount               int64             `validate:"gt=0"`
	Currency                  string            `validate:"required,len=3"`
	PaymentMethod             PaymentMethod     `validate:"required,oneof=paystack flutterwave monnify stripe"`
	PaymentStatus             PaymentStatus     `validate:"required,oneof=pending success failed"`
	ShippingStatus            ShippingStatus    `validate:"omitempty,oneof=Processing Shipped In_Transit Out_For_Delivery Delivered Failed"`
	OrderStatus               OrderStatus       `validate:"required,oneof=Pending Processed Packing Shipped Progress Delivered Canceled"`
	AcceptedOrder             BuyerAcceptance   `validate:"required,oneof=Pending Accepted Rejected"`
	RejectionReason           string            `validate:"required_if=AcceptedOrder Rejected"`
	RejectionRefundContact    string            `validate:"required_if=AcceptedOrder Rejected"`
	CancelOrder               BuyerCancellation `validate:"required,oneof=Pending Canceled"`
	CancellationReason        string            `validate:"required_if=CancelOrder Canceled"`
	CancellationRefundContact string            `validate:"required_if=CancelOrder Canceled"`
	DeliveryDate              *time.Time
	GatewayReference          string
	TransactionID             string
	PaidAt                    *time.Time
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// ErrInvalidOrder is wrapped by every OrderValidationError.
var ErrInvalidOrder = errors.New("domain: invalid order")

// OrderValidationError lists the fields that failed validation.
type OrderValidationError struct {
	Fields []string
}

func (e *OrderValidationError) Error() string {
	return fmt.Sprintf("%s: invalid fields [%s]", ErrInvalidOrder.Error(), strings.Join(e.Fields, ", "))
}

func (e *OrderValidationError) Unwrap() error { return ErrInvalidOrder }

var (
	orderValidatorOnce sync.Once
	orderValidator     *validator.Validate
)

func sharedValidator() *validator.Validate {
	orderValidatorOnce.Do(func() {
		orderValidator = validator.New(validator.WithRequiredStructEnabled())
	})
	return orderValidator
}

// ValidateOrder enforces field presence, enum membership and the conditional rejection and cancellation fields.
func ValidateOrder(order Order) error {
	err := sharedValidator().Struct(order)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, strings.TrimPrefix(fe.Namespace(), "Order."))
	}
	return &OrderValidationError{Fields: fields}
}

// Clone returns a deep copy of the order.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = append([]OrderItem(nil), o.Items...)
	}
	if o.DeliveryDate != nil {
		d := *o.DeliveryDate
		out.DeliveryDate = &d
	}
	if o.PaidAt != nil {
		p := *o.PaidAt
		out.PaidAt = &p
	}
	return out
}

// Terminal reports whether the buyer canceled or rejected the order.
func (o Order) Terminal() bool {
	return o.CancelOrder == CancellationCanceled || o.AcceptedOrder == AcceptanceRejected
}
