package services

import (
	"context"
	"sort"
	"sync"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/notifications"
	"github.com/storefront/api/internal/repositories"
)

type testRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *testRepoError) Error() string       { return e.msg }
func (e *testRepoError) IsNotFound() bool    { return e.notFound }
func (e *testRepoError) IsConflict() bool    { return e.conflict }
func (e *testRepoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(what string) error { return &testRepoError{msg: what + " not found", notFound: true} }
func conflictErr(what string) error { return &testRepoError{msg: what + " conflict", conflict: true} }

// memoryOrders mirrors the Firestore repository guarantees: unique references,
// validated writes and create-only payment key claims.
type memoryOrders struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	refs      map[string]string
	claims    map[string]string
	insertErr error
	deleted   []string
}

func newMemoryOrders(seed ...domain.Order) *memoryOrders {
	repo := &memoryOrders{
		orders: map[string]domain.Order{},
		refs:   map[string]string{},
		claims: map[string]string{},
	}
	for _, order := range seed {
		repo.orders[order.ID] = order.Clone()
		repo.refs[order.Reference] = order.ID
	}
	return repo
}

func (m *memoryOrders) Insert(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if err := domain.ValidateOrder(order); err != nil {
		return err
	}
	if _, ok := m.refs[order.Reference]; ok {
		return conflictErr("order reference")
	}
	if _, ok := m.orders[order.ID]; ok {
		return conflictErr("order")
	}
	m.orders[order.ID] = order.Clone()
	m.refs[order.Reference] = order.ID
	return nil
}

func (m *memoryOrders) Mutate(_ context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apply(orderID, fn)
}

func (m *memoryOrders) ConfirmPayment(_ context.Context, orderID, paymentKey string, fn repositories.OrderMutation) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.claims[paymentKey]; ok {
		return domain.Order{}, conflictErr("payment reference")
	}
	updated, err := m.apply(orderID, fn)
	if err != nil {
		return domain.Order{}, err
	}
	m.claims[paymentKey] = orderID
	return updated, nil
}

func (m *memoryOrders) apply(orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	current, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("order")
	}
	working := current.Clone()
	if err := fn(&working); err != nil {
		return domain.Order{}, err
	}
	if err := domain.ValidateOrder(working); err != nil {
		return domain.Order{}, err
	}
	m.orders[orderID] = working.Clone()
	return working, nil
}

func (m *memoryOrders) Delete(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return notFoundErr("order")
	}
	delete(m.orders, orderID)
	delete(m.refs, order.Reference)
	m.deleted = append(m.deleted, orderID)
	return nil
}

func (m *memoryOrders) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("order")
	}
	return order.Clone(), nil
}

func (m *memoryOrders) FindByReference(_ context.Context, reference string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.refs[reference]
	if !ok {
		return domain.Order{}, notFoundErr("order")
	}
	return m.orders[id].Clone(), nil
}

func (m *memoryOrders) FindByGatewayReference(_ context.Context, method domain.PaymentMethod, ref string) (domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.PaymentMethod == method && order.GatewayReference == ref {
			return order.Clone(), nil
		}
	}
	return domain.Order{}, notFoundErr("order")
}

func (m *memoryOrders) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, order := range m.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if len(filter.OrderStatus) > 0 && !containsStatus(filter.OrderStatus, order.OrderStatus) {
			continue
		}
		if len(filter.PaymentStatus) > 0 && !containsStatus(filter.PaymentStatus, order.PaymentStatus) {
			continue
		}
		if filter.CreatedBefore != nil && !order.CreatedAt.Before(*filter.CreatedBefore) {
			continue
		}
		out = append(out, order.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return domain.CursorPage[domain.Order]{Items: out}, nil
}

func (m *memoryOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memoryOrders) get(id string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id].Clone()
}

func containsStatus[T comparable](values []T, want T) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

type memoryCarts struct {
	mu      sync.Mutex
	carts   map[string]domain.Cart
	upserts int
	// conflicts makes the next N conditional writes fail as if another writer won.
	conflicts int
}

func newMemoryCarts(seed ...domain.Cart) *memoryCarts {
	repo := &memoryCarts{carts: map[string]domain.Cart{}}
	for _, cart := range seed {
		repo.carts[cart.UserID] = cart
	}
	return repo
}

func (m *memoryCarts) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[userID]
	if !ok {
		return domain.Cart{}, notFoundErr("cart")
	}
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	return cart, nil
}

func (m *memoryCarts) UpsertCart(_ context.Context, cart domain.Cart, expected *time.Time) (domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.conflicts > 0 {
		m.conflicts--
		return domain.Cart{}, conflictErr("cart")
	}
	current, exists := m.carts[cart.UserID]
	switch {
	case expected == nil && exists:
		return domain.Cart{}, conflictErr("cart")
	case expected != nil && (!exists || !current.UpdatedAt.Equal(*expected)):
		return domain.Cart{}, conflictErr("cart")
	}
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	m.carts[cart.UserID] = cart
	return cart, nil
}

func (m *memoryCarts) DeleteCart(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[userID]; !ok {
		return notFoundErr("cart")
	}
	delete(m.carts, userID)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notifications.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event notifications.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) ofType(kind notifications.EventType) []notifications.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []notifications.Event
	for _, event := range p.events {
		if event.Type == kind {
			out = append(out, event)
		}
	}
	return out
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return prefix + string(rune('A'+n-1))
	}
}

func testShipping() domain.ShippingDetails {
	return domain.ShippingDetails{
		Name:    "Ada Obi",
		Email:   "ada@example.com",
		Phone:   "+2348000000000",
		Address: "12 Marina Road",
		Country: "NG",
		State:   "Lagos",
	}
}

func paidOrder(id, userID string, status domain.OrderStatus, shipping domain.ShippingStatus, created time.Time) domain.Order {
	order := pendingOrder(id, userID, created)
	paidAt := created.Add(time.Minute)
	order.PaymentStatus = domain.PaymentStatusSuccess
	order.OrderStatus = status
	order.ShippingStatus = shipping
	order.TransactionID = "txn-" + id
	order.PaidAt = &paidAt
	return order
}

func pendingOrder(id, userID string, created time.Time) domain.Order {
	return domain.Order{
		ID:               id,
		Reference:        "ORD-" + id,
		UserID:           userID,
		Shipping:         testShipping(),
		Items:            []domain.OrderItem{{ProductID: "prd_1", Name: "Linen Shirt", Price: 1500000, Quantity: 2}},
		TotalAmount:      3000000,
		Currency:         "NGN",
		PaymentMethod:    domain.PaymentMethodPaystack,
		PaymentStatus:    domain.PaymentStatusPending,
		OrderStatus:      domain.OrderStatusPending,
		AcceptedOrder:    domain.AcceptancePending,
		CancelOrder:      domain.CancellationPending,
		GatewayReference: "ORD-" + id,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

var (
	_ repositories.RepositoryError = (*testRepoError)(nil)
	_ repositories.OrderRepository = (*memoryOrders)(nil)
	_ repositories.CartRepository  = (*memoryCarts)(nil)
	_ OrderEventPublisher          = (*recordingPublisher)(nil)
)
