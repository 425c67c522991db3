package services

import (
	"context"
	"net/http"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/notifications"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/storage"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Account            = domain.Account
	AccountKind        = domain.AccountKind
	Product            = domain.Product
	Category           = domain.Category
	Subcategory        = domain.Subcategory
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	ShippingDetails    = domain.ShippingDetails
	PaymentMethod      = domain.PaymentMethod
	SystemHealthReport = domain.SystemHealthReport
	TokenPair          = auth.TokenPair
	UploadTicket       = storage.UploadTicket
)

// AuthService registers accounts and issues, refreshes and revokes token pairs.
type AuthService interface {
	Register(ctx context.Context, cmd RegisterCommand) (Account, error)
	Login(ctx context.Context, cmd LoginCommand) (TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
	Logout(ctx context.Context, kind AccountKind, accountID string) error
	RequestPasswordReset(ctx context.Context, kind AccountKind, email string) error
	ResetPassword(ctx context.Context, cmd ResetPasswordCommand) error
	Me(ctx context.Context, identity *auth.Identity) (Account, error)
}

// CatalogService manages products, categories and subcategories.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	ProductImageUploadURL(ctx context.Context, cmd ProductImageUploadCommand) (UploadTicket, error)

	ListCategories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, categoryID string) (Category, error)
	CreateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error)
	UpdateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error)
	DeleteCategory(ctx context.Context, categoryID string) error

	ListSubcategories(ctx context.Context, categoryID string) ([]Subcategory, error)
	GetSubcategory(ctx context.Context, subcategoryID string) (Subcategory, error)
	CreateSubcategory(ctx context.Context, cmd UpsertSubcategoryCommand) (Subcategory, error)
	UpdateSubcategory(ctx context.Context, cmd UpsertSubcategoryCommand) (Subcategory, error)
	DeleteSubcategory(ctx context.Context, subcategoryID string) error
}

// CartService manages the per-user cart.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, userID, itemID string) (Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// OrderService exposes order reads, admin shipping updates and buyer lifecycle actions.
type OrderService interface {
	GetOrder(ctx context.Context, cmd OrderLookup) (Order, error)
	GetOrderByReference(ctx context.Context, cmd OrderLookup) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateShippingStatus(ctx context.Context, cmd UpdateShippingStatusCommand) (Order, error)
	AcceptOrder(ctx context.Context, cmd BuyerOrderCommand) (Order, error)
	RejectOrder(ctx context.Context, cmd BuyerOrderCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd BuyerOrderCommand) (Order, error)
}

// PaymentService creates pending orders, opens gateway sessions and confirms payments.
type PaymentService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
	Complete(ctx context.Context, cmd CompletePaymentCommand) (Order, error)
	HandleWebhook(ctx context.Context, cmd PaymentWebhookCommand) (WebhookResult, error)
	PurgeAbandoned(ctx context.Context, olderThan time.Duration) (int, error)
}

// SystemService reports dependency health and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher broadcasts order lifecycle events to admin sessions.
type OrderEventPublisher interface {
	Publish(ctx context.Context, event notifications.Event) error
}

// Mailer hands outbound mail to a transport.
type Mailer interface {
	SendMail(ctx context.Context, message MailMessage) (string, error)
}

// ProductCache is a read-through cache for product documents.
type ProductCache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

// ImageUploader signs direct-to-bucket product image uploads.
type ImageUploader interface {
	ProductImageUpload(ctx context.Context, req storage.ProductImageRequest) (storage.UploadTicket, error)
}

// TokenIssuer issues and parses token pairs.
type TokenIssuer interface {
	Issue(subject auth.Subject) (auth.TokenPair, error)
	ParseRefresh(raw string) (*auth.Claims, error)
}

// MailTemplatePasswordReset is the template rendered by the mail worker for reset links.
const MailTemplatePasswordReset = "password_reset"

// MailMessage is the payload handed to the mail transport.
type MailMessage struct {
	Template  string            `json:"template"`
	To        string            `json:"to"`
	Subject   string            `json:"subject"`
	Variables map[string]string `json:"variables,omitempty"`
}

// RegisterCommand creates a storefront user.
type RegisterCommand struct {
	Name     string
	Email    string
	Phone    string
	Password string
}

// LoginCommand authenticates a user or admin.
type LoginCommand struct {
	Kind     AccountKind
	Email    string
	Password string
}

// ResetPasswordCommand redeems a password reset token.
type ResetPasswordCommand struct {
	Kind        AccountKind
	Token       string
	NewPassword string
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	CategoryID    string
	SubcategoryID string
	Pagination    Pagination
}

// UpsertProductCommand creates or replaces a product. ID is ignored on create.
type UpsertProductCommand struct {
	ID            string
	Name          string
	Description   string
	Price         int64
	Currency      string
	Stock         int
	Colors        []string
	Sizes         []string
	Images        []string
	CategoryID    string
	SubcategoryID string
}

// ProductImageUploadCommand requests a signed upload URL for a product image.
type ProductImageUploadCommand struct {
	ProductID   string
	FileName    string
	ContentType string
}

// UpsertCategoryCommand creates or renames a category.
type UpsertCategoryCommand struct {
	ID   string
	Name string
}

// UpsertSubcategoryCommand creates or updates a subcategory.
type UpsertSubcategoryCommand struct {
	ID         string
	CategoryID string
	Name       string
}

// AddCartItemCommand adds a product variant to the cart.
type AddCartItemCommand struct {
	UserID    string
	ProductID string
	Color     string
	Size      string
	Quantity  int
}

// UpdateCartItemCommand changes an item's quantity. Zero removes the item.
type UpdateCartItemCommand struct {
	UserID   string
	ItemID   string
	Quantity int
}

// OrderLookup identifies an order and the caller reading it.
type OrderLookup struct {
	OrderID   string
	Reference string
	ActorID   string
	IsAdmin   bool
}

// OrderListFilter narrows order listings. Non-admin callers only see their own orders.
type OrderListFilter struct {
	ActorID       string
	IsAdmin       bool
	OrderStatus   []string
	PaymentStatus []string
	Pagination    Pagination
}

// UpdateShippingStatusCommand is issued by admins as fulfilment progresses.
type UpdateShippingStatusCommand struct {
	OrderID string
	Status  string
	ActorID string
}

// BuyerOrderCommand carries the buyer's accept, reject or cancel request.
type BuyerOrderCommand struct {
	OrderID       string
	BuyerID       string
	Reason        string
	RefundContact string
}

// CheckoutCommand turns the buyer's cart into a pending order and a gateway session.
type CheckoutCommand struct {
	UserID   string
	Method   string
	Shipping ShippingDetails
	Currency string
}

// CheckoutResult is returned to the storefront, which redirects the buyer to RedirectURL.
type CheckoutResult struct {
	Order            Order
	RedirectURL      string
	GatewayReference string
}

// CompletePaymentCommand confirms a payment by gateway reference.
type CompletePaymentCommand struct {
	Method           string
	GatewayReference string
	// UserID is set when the buyer confirms from the browser. It must own the order.
	UserID string
}

// PaymentWebhookCommand carries a raw gateway callback.
type PaymentWebhookCommand struct {
	Method string
	Header http.Header
	Body   []byte
}

// WebhookResult reports how a callback was handled. Webhooks are acknowledged unless the signature
// or payload is invalid.
type WebhookResult struct {
	EventType string
	Reference string
	Outcome   string
	OrderID   string
}
