package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	maxOrderActionBodySize = 4 * 1024
)

// OrderHandlers exposes order reads for buyers and admins, buyer lifecycle actions and admin
// shipping updates.
type OrderHandlers struct {
	authn         *auth.Authenticator
	orders        services.OrderService
	notifications http.Handler
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderNotifications mounts the admin event stream at /orders/notifications.
func WithOrderNotifications(handler http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.notifications = handler
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.listOrders)
	if h.notifications != nil {
		r.Get("/notifications", h.streamNotifications)
	}
	r.Get("/reference/{reference}", h.getOrderByReference)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}/shipping-status", h.updateShippingStatus)
	r.Post("/{orderID}/accept", h.acceptOrder)
	r.Post("/{orderID}/reject", h.rejectOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

type shippingStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type buyerActionRequest struct {
	Reason        string `json:"reason" validate:"omitempty,max=1000"`
	RefundContact string `json:"refundContact" validate:"omitempty,max=200"`
}

type shippingPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Country  string `json:"country"`
	State    string `json:"state"`
	Locality string `json:"locality,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"`
	Quantity  int    `json:"quantity"`
	Color     string `json:"color,omitempty"`
	Size      string `json:"size,omitempty"`
	Image     string `json:"image,omitempty"`
}

type orderPayload struct {
	ID                        string             `json:"id"`
	Reference                 string             `json:"reference"`
	UserID                    string             `json:"userId"`
	Shipping                  shippingPayload    `json:"shipping"`
	Items                     []orderItemPayload `json:"items"`
	TotalAmount               int64              `json:"totalAmount"`
	Currency                  string             `json:"currency"`
	PaymentMethod             string             `json:"paymentMethod"`
	PaymentStatus             string             `json:"paymentStatus"`
	ShippingStatus            string             `json:"shippingStatus,omitempty"`
	OrderStatus               string             `json:"orderStatus"`
	AcceptedOrder             string             `json:"acceptedOrder"`
	RejectionReason           string             `json:"rejectionReason,omitempty"`
	RejectionRefundContact    string             `json:"rejectionRefundContact,omitempty"`
	CancelOrder               string             `json:"cancelOrder"`
	CancellationReason        string             `json:"cancellationReason,omitempty"`
	CancellationRefundContact string             `json:"cancellationRefundContact,omitempty"`
	DeliveryDate              string             `json:"deliveryDate,omitempty"`
	GatewayReference          string             `json:"gatewayReference,omitempty"`
	TransactionID             string             `json:"transactionId,omitempty"`
	PaidAt                    string             `json:"paidAt,omitempty"`
	CreatedAt                 string             `json:"createdAt"`
	UpdatedAt                 string             `json:"updatedAt"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{DefaultPageSize: defaultOrderPageSize, MaxPageSize: maxOrderPageSize})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_pagination", err.Error()))
		return
	}
	query := r.URL.Query()
	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		ActorID:       identity.AccountID,
		IsAdmin:       identity.IsAdmin(),
		OrderStatus:   parseFilterValues(query["orderStatus"]),
		PaymentStatus: parseFilterValues(query["paymentStatus"]),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	resp := orderListResponse{
		Items:         make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		resp.Items = append(resp.Items, buildOrderPayload(order))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, services.OrderLookup{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: identity.AccountID,
		IsAdmin: identity.IsAdmin(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrderByReference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrderByReference(ctx, services.OrderLookup{
		Reference: chi.URLParam(r, "reference"),
		ActorID:   identity.AccountID,
		IsAdmin:   identity.IsAdmin(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) updateShippingStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	identity, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var req shippingStatusRequest
	if herr, ok := decodeRequest(r, maxOrderActionBodySize, &req); !ok {
		httpx.WriteError(ctx, w, herr)
		return
	}

	order, err := h.orders.UpdateShippingStatus(ctx, services.UpdateShippingStatusCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Status:  req.Status,
		ActorID: identity.AccountID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) acceptOrder(w http.ResponseWriter, r *http.Request) {
	h.buyerAction(w, r, false, func(svc services.OrderService) buyerActionFunc { return svc.AcceptOrder })
}

func (h *OrderHandlers) rejectOrder(w http.ResponseWriter, r *http.Request) {
	h.buyerAction(w, r, true, func(svc services.OrderService) buyerActionFunc { return svc.RejectOrder })
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.buyerAction(w, r, true, func(svc services.OrderService) buyerActionFunc { return svc.CancelOrder })
}

type buyerActionFunc func(context.Context, services.BuyerOrderCommand) (services.Order, error)

func (h *OrderHandlers) buyerAction(w http.ResponseWriter, r *http.Request, withBody bool, pick func(services.OrderService) buyerActionFunc) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(w, r, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	cmd := services.BuyerOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		BuyerID: identity.AccountID,
	}
	if withBody {
		var req buyerActionRequest
		if herr, ok := decodeRequest(r, maxOrderActionBodySize, &req); !ok {
			httpx.WriteError(ctx, w, herr)
			return
		}
		cmd.Reason = req.Reason
		cmd.RefundContact = req.RefundContact
	}

	order, err := pick(h.orders)(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) streamNotifications(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	h.notifications.ServeHTTP(w, r)
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:        order.ID,
		Reference: order.Reference,
		UserID:    order.UserID,
		Shipping: shippingPayload{
			Name:     order.Shipping.Name,
			Email:    order.Shipping.Email,
			Phone:    order.Shipping.Phone,
			Address:  order.Shipping.Address,
			Country:  order.Shipping.Country,
			State:    order.Shipping.State,
			Locality: order.Shipping.Locality,
		},
		Items:                     make([]orderItemPayload, 0, len(order.Items)),
		TotalAmount:               order.TotalAmount,
		Currency:                  order.Currency,
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
		DeliveryDate:              formatTimePtr(order.DeliveryDate),
		GatewayReference:          order.GatewayReference,
		TransactionID:             order.TransactionID,
		PaidAt:                    formatTimePtr(order.PaidAt),
		CreatedAt:                 formatTime(order.CreatedAt),
		UpdatedAt:                 formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Color:     item.Color,
			Size:      item.Size,
			Image:     item.Image,
		})
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", err.Error()))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.Forbidden("order belongs to another account"))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.Internal())
	}
}
