package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

const (
	orderCollection      = "orders"
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

// OrderRepository stores orders with reference and payment-key reservations kept in the same transactions.
type OrderRepository struct {
	base       *pfirestore.Collection[orderDocument]
	references *pfirestore.Collection[reservationDocument]
	payments   *pfirestore.Collection[reservationDocument]
	provider   *pfirestore.Provider
	clock      func() time.Time
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base:       pfirestore.NewCollection[orderDocument](provider, orderCollection),
		references: pfirestore.NewCollection[reservationDocument](provider, orderReferenceCollection),
		payments:   pfirestore.NewCollection[reservationDocument](provider, paymentReferenceCollection),
		provider:   provider,
		clock:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Insert writes the order and claims its reference.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" {
		return errors.New("order repository: order id is required")
	}
	if err := domain.ValidateOrder(order); err != nil {
		return err
	}

	orderRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return err
	}
	referenceRef, err := r.references.DocumentRef(ctx, reservationKey(order.Reference))
	if err != nil {
		return err
	}

	doc := fromDomainOrder(order)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := ensureUnclaimed(tx, referenceRef, "orders.insert"); err != nil {
			return err
		}
		if err := tx.Create(orderRef, doc); err != nil {
			return err
		}
		return tx.Create(referenceRef, reservationDocument{OwnerID: orderID, CreatedAt: r.clock()})
	}, pfirestore.WithTxOp("orders.insert"))
}

// Mutate applies fn to the stored order and writes the validated result.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	return r.mutate(ctx, orderID, "", fn)
}

// ConfirmPayment claims paymentKey and applies fn in one transaction.
func (r *OrderRepository) ConfirmPayment(ctx context.Context, orderID string, paymentKey string, fn repositories.OrderMutation) (domain.Order, error) {
	key := strings.TrimSpace(paymentKey)
	if key == "" {
		return domain.Order{}, errors.New("order repository: payment key is required")
	}
	return r.mutate(ctx, orderID, key, fn)
}

func (r *OrderRepository) mutate(ctx context.Context, orderID string, paymentKey string, fn repositories.OrderMutation) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if fn == nil {
		return domain.Order{}, errors.New("order repository: mutation is required")
	}
	orderID = strings.TrimSpace(orderID)
	orderRef, err := r.base.DocumentRef(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	var paymentRef *firestore.DocumentRef
	if paymentKey != "" {
		if paymentRef, err = r.payments.DocumentRef(ctx, reservationKey(paymentKey)); err != nil {
			return domain.Order{}, err
		}
	}

	var result domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		if paymentRef != nil {
			if err := ensureUnclaimed(tx, paymentRef, "orders.confirm_payment"); err != nil {
				return err
			}
		}
		current, err := r.base.Decode(snap)
		if err != nil {
			return err
		}
		order := current.Data.toDomain(current.ID)
		if err := fn(&order); err != nil {
			return err
		}
		order.ID = current.ID
		if err := domain.ValidateOrder(order); err != nil {
			return err
		}

		doc := fromDomainOrder(order)
		if paymentRef != nil {
			doc.PaymentKey = paymentKey
			if err := tx.Create(paymentRef, reservationDocument{OwnerID: order.ID, CreatedAt: r.clock()}); err != nil {
				return err
			}
		} else {
			doc.PaymentKey = current.Data.PaymentKey
		}
		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		result = order
		return nil
	}, pfirestore.WithTxOp("orders.mutate"))
	if err != nil {
		return domain.Order{}, err
	}
	return result, nil
}

// Delete removes the order and releases its reference. Claimed payment keys are kept.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.base == nil {
		return errors.New("order repository not initialised")
	}
	orderRef, err := r.base.DocumentRef(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return err
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if err := tx.Delete(orderRef); err != nil {
			return err
		}
		if strings.TrimSpace(doc.Reference) == "" {
			return nil
		}
		referenceRef, err := r.references.DocumentRef(ctx, reservationKey(doc.Reference))
		if err != nil {
			return err
		}
		return tx.Delete(referenceRef)
	}, pfirestore.WithTxOp("orders.delete"))
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByReference resolves the reference reservation and loads its order.
func (r *OrderRepository) FindByReference(ctx context.Context, reference string) (domain.Order, error) {
	if r == nil || r.references == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return domain.Order{}, pfirestore.NotFound("orders.find_by_reference", errors.New("reference is required"))
	}
	reservation, err := r.references.Get(ctx, reservationKey(reference))
	if err != nil {
		return domain.Order{}, err
	}
	if strings.TrimSpace(reservation.Data.OwnerID) == "" {
		return domain.Order{}, pfirestore.NotFound("orders.find_by_reference", errors.New("reservation has no owner"))
	}
	return r.FindByID(ctx, reservation.Data.OwnerID)
}

// FindByGatewayReference looks up the order a gateway session was opened for.
func (r *OrderRepository) FindByGatewayReference(ctx context.Context, method domain.PaymentMethod, gatewayReference string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	gatewayReference = strings.TrimSpace(gatewayReference)
	if gatewayReference == "" {
		return domain.Order{}, pfirestore.NotFound("orders.find_by_gateway_reference", errors.New("gateway reference is required"))
	}
	doc, ok, err := r.base.First(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("paymentMethod", "==", string(method)).
			Where("gatewayReference", "==", gatewayReference)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if !ok {
		return domain.Order{}, pfirestore.NotFound("orders.find_by_gateway_reference", fmt.Errorf("no %s order for %q", method, gatewayReference))
	}
	return doc.Data.toDomain(doc.ID), nil
}

// List returns orders newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	limit := clampPageSize(filter.Pagination.PageSize, defaultOrderPageSize, maxOrderPageSize)
	query := client.Collection(orderCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userId", "==", userID)
	}
	if len(filter.OrderStatus) > 0 {
		values := make([]string, 0, len(filter.OrderStatus))
		for _, status := range filter.OrderStatus {
			values = append(values, string(status))
		}
		query = query.Where("orderStatus", "in", values)
	}
	if len(filter.PaymentStatus) > 0 {
		values := make([]string, 0, len(filter.PaymentStatus))
		for _, status := range filter.PaymentStatus {
			values = append(values, string(status))
		}
		query = query.Where("paymentStatus", "in", values)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("createdAt", "<", filter.CreatedBefore.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: %w: %v", repositories.ErrInvalidPageToken, err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	query = query.Limit(limit + 1)

	iter := query.Documents(ctx)
	defer iter.Stop()

	orders := make([]domain.Order, 0, limit)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: decode %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	orders, next, err := pagination.Trim(orders, limit, func(o domain.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: next}, nil
}

type orderDocument struct {
	Reference                 string                  `firestore:"reference"`
	UserID                    string                  `firestore:"userId"`
	Shipping                  shippingDetailsDocument `firestore:"shipping"`
	Items                     []orderItemDocument     `firestore:"items"`
	TotalAmount               int64                   `firestore:"totalAmount"`
	Currency                  string                  `firestore:"currency"`
	PaymentMethod             string                  `firestore:"paymentMethod"`
	PaymentStatus             string                  `firestore:"paymentStatus"`
	ShippingStatus            string                  `firestore:"shippingStatus,omitempty"`
	OrderStatus               string                  `firestore:"orderStatus"`
	AcceptedOrder             string                  `firestore:"acceptedOrder"`
	RejectionReason           string                  `firestore:"rejectionReason,omitempty"`
	RejectionRefundContact    string                  `firestore:"rejectionRefundContact,omitempty"`
	CancelOrder               string                  `firestore:"cancelOrder"`
	CancellationReason        string                  `firestore:"cancellationReason,omitempty"`
	CancellationRefundContact string                  `firestore:"cancellationRefundContact,omitempty"`
	DeliveryDate              *time.Time              `firestore:"deliveryDate,omitempty"`
	GatewayReference          string                  `firestore:"gatewayReference,omitempty"`
	TransactionID             string                  `firestore:"transactionId,omitempty"`
	PaymentKey                string                  `firestore:"paymentKey,omitempty"`
	PaidAt                    *time.Time              `firestore:"paidAt,omitempty"`
	CreatedAt                 time.Time               `firestore:"createdAt"`
	UpdatedAt                 time.Time               `firestore:"updatedAt"`
}

type shippingDetailsDocument struct {
	Name     string `firestore:"name"`
	Email    string `firestore:"email"`
	Phone    string `firestore:"phone"`
	Address  string `firestore:"address"`
	Country  string `firestore:"country"`
	State    string `firestore:"state"`
	Locality string `firestore:"locality,omitempty"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	Price     int64  `firestore:"price"`
	Quantity  int    `firestore:"quantity"`
	Color     string `firestore:"color,omitempty"`
	Size      string `firestore:"size,omitempty"`
	Image     string `firestore:"image,omitempty"`
}

func fromDomainOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Color:     item.Color,
			Size:      item.Size,
			Image:     item.Image,
		})
	}
	return orderDocument{
		Reference: order.Reference,
		UserID:    order.UserID,
		Shipping: shippingDetailsDocument{
			Name:     order.Shipping.Name,
			Email:    order.Shipping.Email,
			Phone:    order.Shipping.Phone,
			Address:  order.Shipping.Address,
			Country:  order.Shipping.Country,
			State:    order.Shipping.State,
			Locality: order.Shipping.Locality,
		},
		Items:                     items,
		TotalAmount:               order.TotalAmount,
		Currency:                  strings.ToUpper(order.Currency),
		PaymentMethod:             string(order.PaymentMethod),
		PaymentStatus:             string(order.PaymentStatus),
		ShippingStatus:            string(order.ShippingStatus),
		OrderStatus:               string(order.OrderStatus),
		AcceptedOrder:             string(order.AcceptedOrder),
		RejectionReason:           order.RejectionReason,
		RejectionRefundContact:    order.RejectionRefundContact,
		CancelOrder:               string(order.CancelOrder),
		CancellationReason:        order.CancellationReason,
		CancellationRefundContact: order.CancellationRefundContact,
		DeliveryDate:              utcPtr(order.DeliveryDate),
		GatewayReference:          order.GatewayReference,
		TransactionID:             order.TransactionID,
		PaidAt:                    utcPtr(order.PaidAt),
		CreatedAt:                 order.CreatedAt.UTC(),
		UpdatedAt:                 order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Color:     item.Color,
			Size:      item.Size,
			Image:     item.Image,
		})
	}
	return domain.Order{
		ID:        id,
		Reference: d.Reference,
		UserID:    d.UserID,
		Shipping: domain.ShippingDetails{
			Name:     d.Shipping.Name,
			Email:    d.Shipping.Email,
			Phone:    d.Shipping.Phone,
			Address:  d.Shipping.Address,
			Country:  d.Shipping.Country,
			State:    d.Shipping.State,
			Locality: d.Shipping.Locality,
		},
		Items:                     items,
		TotalAmount:               d.TotalAmount,
		Currency:                  d.Currency,
		PaymentMethod:             domain.PaymentMethod(d.PaymentMethod),
		PaymentStatus:             domain.PaymentStatus(d.PaymentStatus),
		ShippingStatus:            domain.ShippingStatus(d.ShippingStatus),
		OrderStatus:               domain.OrderStatus(d.OrderStatus),
		AcceptedOrder:             domain.BuyerAcceptance(d.AcceptedOrder),
		RejectionReason:           d.RejectionReason,
		RejectionRefundContact:    d.RejectionRefundContact,
		CancelOrder:               domain.BuyerCancellation(d.CancelOrder),
		CancellationReason:        d.CancellationReason,
		CancellationRefundContact: d.CancellationRefundContact,
		DeliveryDate:              utcPtr(d.DeliveryDate),
		GatewayReference:          d.GatewayReference,
		TransactionID:             d.TransactionID,
		PaidAt:                    utcPtr(d.PaidAt),
		CreatedAt:                 d.CreatedAt.UTC(),
		UpdatedAt:                 d.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
