package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// AccountKind separates storefront buyers from dashboard administrators.
type AccountKind string

const (
	AccountKindUser  AccountKind = "user"
	AccountKindAdmin AccountKind = "admin"
)

// Valid reports whether the kind is one of the supported account kinds.
func (k AccountKind) Valid() bool {
	return k == AccountKindUser || k == AccountKindAdmin
}

// Account captures credentials and profile data for users and admins.
type Account struct {
	ID                  string
	Kind                AccountKind
	Name                string
	Email               string
	Phone               string
	PasswordHash        string
	Roles               []string
	TokenVersion        int
	ResetTokenHash      string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Category groups products at the top level of the catalog.
type Category struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subcategory belongs to exactly one category.
type Subcategory struct {
	ID         string
	CategoryID string
	Name       string
	Slug       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Product is a sellable catalog entry with its selectable variant attributes.
type Product struct {
	ID            string
	Name          string
	Slug          string
	Description   string
	Price         int64
	Currency      string
	Stock         int
	Colors        []string
	Sizes         []string
	Images        []string
	CategoryID    string
	SubcategoryID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OffersColor reports whether the color is selectable for the product. Products without colors accept an empty selection.
func (p Product) OffersColor(color string) bool {
	return offers(p.Colors, color)
}

// OffersSize reports whether the size is selectable for the product.
func (p Product) OffersSize(size string) bool {
	return offers(p.Sizes, size)
}

func offers(options []string, value string) bool {
	if len(options) == 0 {
		return value == ""
	}
	for _, option := range options {
		if option == value {
			return true
		}
	}
	return false
}

// Cart holds the embedded line items for a single user.
type Cart struct {
	UserID    string
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem is a product selection with chosen variant attributes.
type CartItem struct {
	ID        string
	ProductID string
	Name      string
	Price     int64
	Quantity  int
	Color     string
	Size      string
	Image     string
	AddedAt   time.Time
}

// Subtotal sums price times quantity across all items.
func (c Cart) Subtotal() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Price * int64(item.Quantity)
	}
	return total
}
