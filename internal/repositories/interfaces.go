package repositories

import (
	"context"
	"errors"
	"time"

	domain "github.com/storefront/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Accounts() AccountRepository
	Catalog() CatalogRepository
	Carts() CartRepository
	Orders() OrderRepository
	Health() HealthRepository
}

// ErrInvalidPageToken is returned by list operations when the page token cannot be decoded.
var ErrInvalidPageToken = errors.New("repositories: invalid page token")

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// AccountRepository persists users and admins. Email is unique per account kind.
type AccountRepository interface {
	Insert(ctx context.Context, account domain.Account) error
	Update(ctx context.Context, account domain.Account) error
	FindByID(ctx context.Context, kind domain.AccountKind, id string) (domain.Account, error)
	FindByEmail(ctx context.Context, kind domain.AccountKind, email string) (domain.Account, error)
	FindByResetTokenHash(ctx context.Context, kind domain.AccountKind, hash string) (domain.Account, error)
}

// ProductListFilter narrows product listings.
type ProductListFilter struct {
	CategoryID    string
	SubcategoryID string
	Pagination    domain.Pagination
}

// CatalogRepository persists products, categories and subcategories.
type CatalogRepository interface {
	InsertProduct(ctx context.Context, product domain.Product) error
	UpdateProduct(ctx context.Context, product domain.Product) error
	DeleteProduct(ctx context.Context, productID string) error
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)

	InsertCategory(ctx context.Context, category domain.Category) error
	UpdateCategory(ctx context.Context, category domain.Category) error
	DeleteCategory(ctx context.Context, categoryID string) error
	FindCategory(ctx context.Context, categoryID string) (domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)

	InsertSubcategory(ctx context.Context, subcategory domain.Subcategory) error
	UpdateSubcategory(ctx context.Context, subcategory domain.Subcategory) error
	DeleteSubcategory(ctx context.Context, subcategoryID string) error
	FindSubcategory(ctx context.Context, subcategoryID string) (domain.Subcategory, error)
	ListSubcategories(ctx context.Context, categoryID string) ([]domain.Subcategory, error)
}

// CartRepository persists the per-user cart document.
type CartRepository interface {
	// GetCart returns a not-found repository error when the user has no cart yet.
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	// UpsertCart writes the cart. A non-nil expectedUpdate makes the write conditional on the stored update time.
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error)
	DeleteCart(ctx context.Context, userID string) error
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID        string
	OrderStatus   []domain.OrderStatus
	PaymentStatus []domain.PaymentStatus
	CreatedBefore *time.Time
	Pagination    domain.Pagination
}

// OrderMutation mutates an order loaded inside a transaction. Returning an error aborts the write.
type OrderMutation func(order *domain.Order) error

// OrderRepository persists orders. Implementations guarantee reference uniqueness and run
// mutations atomically against the stored document.
type OrderRepository interface {
	// Insert stores a new order and reserves its reference. A reused reference yields a conflict error.
	Insert(ctx context.Context, order domain.Order) error
	// Mutate loads the order, applies fn and writes the result in one transaction.
	Mutate(ctx context.Context, orderID string, fn OrderMutation) (domain.Order, error)
	// ConfirmPayment claims the gateway payment key for the order and applies fn in one transaction.
	// A key already claimed by any order yields a conflict error.
	ConfirmPayment(ctx context.Context, orderID string, paymentKey string, fn OrderMutation) (domain.Order, error)
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByReference(ctx context.Context, reference string) (domain.Order, error)
	FindByGatewayReference(ctx context.Context, method domain.PaymentMethod, gatewayReference string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// HealthRepository collects dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
