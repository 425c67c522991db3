package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/storefront/api/internal/repositories"
)

const (
	cartItemIDPrefix    = "itm_"
	maxCartItemQuantity = 99
	maxCartLines        = 100
	cartWriteAttempts   = 3
)

// ProductFinder resolves products for cart snapshots. CatalogService satisfies it.
type ProductFinder interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// CartServiceDeps wires the repository and catalog dependencies for cart operations.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    ProductFinder
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type cartService struct {
	carts    repositories.CartRepository
	products ProductFinder
	now      func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product finder is required")
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
	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		now: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	cart, _, err := s.load(ctx, userID)
	return cart, err
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" || productID == "" {
		return Cart{}, fmt.Errorf("%w: user id and product id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 1 || cmd.Quantity > maxCartItemQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartItemQuantity)
	}

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, ErrCatalogNotFound) {
			return Cart{}, fmt.Errorf("%w: product %s", ErrCartNotFound, productID)
		}
		return Cart{}, err
	}
	color := strings.TrimSpace(cmd.Color)
	size := strings.TrimSpace(cmd.Size)
	if !product.OffersColor(color) {
		return Cart{}, fmt.Errorf("%w: color %q is not offered", ErrCartInvalidInput, color)
	}
	if !product.OffersSize(size) {
		return Cart{}, fmt.Errorf("%w: size %q is not offered", ErrCartInvalidInput, size)
	}

	return s.mutate(ctx, userID, func(cart *Cart, now time.Time) error {
		for i := range cart.Items {
			item := &cart.Items[i]
			if item.ProductID != product.ID || item.Color != color || item.Size != size {
				continue
			}
			quantity := item.Quantity + cmd.Quantity
			if quantity > maxCartItemQuantity {
				return fmt.Errorf("%w: quantity must not exceed %d", ErrCartInvalidInput, maxCartItemQuantity)
			}
			if err := checkStock(product, quantity); err != nil {
				return err
			}
			item.Quantity = quantity
			item.Price = product.Price
			item.Name = product.Name
			return nil
		}

		if len(cart.Items) >= maxCartLines {
			return fmt.Errorf("%w: cart cannot hold more than %d lines", ErrCartInvalidInput, maxCartLines)
		}
		if err := checkStock(product, cmd.Quantity); err != nil {
			return err
		}
		cart.Items = append(cart.Items, CartItem{
			ID:        cartItemIDPrefix + s.newID(),
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  cmd.Quantity,
			Color:     color,
			Size:      size,
			Image:     firstImage(product.Images),
			AddedAt:   now,
		})
		return nil
	})
}

func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error) {
	userID := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if userID == "" || itemID == "" {
		return Cart{}, fmt.Errorf("%w: user id and item id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity < 0 || cmd.Quantity > maxCartItemQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be between 0 and %d", ErrCartInvalidInput, maxCartItemQuantity)
	}
	if cmd.Quantity == 0 {
		return s.RemoveItem(ctx, userID, itemID)
	}

	return s.mutate(ctx, userID, func(cart *Cart, _ time.Time) error {
		for i := range cart.Items {
			item := &cart.Items[i]
			if item.ID != itemID {
				continue
			}
			product, err := s.products.GetProduct(ctx, item.ProductID)
			if err != nil {
				if errors.Is(err, ErrCatalogNotFound) {
					return fmt.Errorf("%w: product %s", ErrCartNotFound, item.ProductID)
				}
				return err
			}
			if err := checkStock(product, cmd.Quantity); err != nil {
				return err
			}
			item.Quantity = cmd.Quantity
			item.Price = product.Price
			item.Name = product.Name
			return nil
		}
		return fmt.Errorf("%w: item %s", ErrCartNotFound, itemID)
	})
}

func (s *cartService) RemoveItem(ctx context.Context, userID, itemID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	itemID = strings.TrimSpace(itemID)
	if userID == "" || itemID == "" {
		return Cart{}, fmt.Errorf("%w: user id and item id are required", ErrCartInvalidInput)
	}
	return s.mutate(ctx, userID, func(cart *Cart, _ time.Time) error {
		for i := range cart.Items {
			if cart.Items[i].ID == itemID {
				cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: item %s", ErrCartNotFound, itemID)
	})
}

func (s *cartService) ClearCart(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if err := s.carts.DeleteCart(ctx, userID); err != nil && !isRepositoryNotFound(err) {
		return mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
	}
	return nil
}

// load returns the stored cart and its update time, or an empty cart and nil for first-time users.
func (s *cartService) load(ctx context.Context, userID string) (Cart, *time.Time, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		if isRepositoryNotFound(err) {
			return Cart{UserID: userID, Items: []CartItem{}}, nil, nil
		}
		return Cart{}, nil, mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
	}
	updated := cart.UpdatedAt
	return cart, &updated, nil
}

// mutate applies fn to the latest cart and writes it conditionally, retrying when another writer won.
func (s *cartService) mutate(ctx context.Context, userID string, fn func(cart *Cart, now time.Time) error) (Cart, error) {
	var lastErr error
	for attempt := 0; attempt < cartWriteAttempts; attempt++ {
		cart, expected, err := s.load(ctx, userID)
		if err != nil {
			return Cart{}, err
		}
		now := s.now()
		if err := fn(&cart, now); err != nil {
			return Cart{}, err
		}
		if cart.CreatedAt.IsZero() {
			cart.CreatedAt = now
		}
		cart.UpdatedAt = now

		saved, err := s.carts.UpsertCart(ctx, cart, expected)
		if err == nil {
			return saved, nil
		}
		if !isRepositoryConflict(err) {
			return Cart{}, mapRepositoryError(err, ErrCartNotFound, ErrCartConflict)
		}
		lastErr = err
		s.logger(ctx, "cart.write.conflict", map[string]any{"userId": userID, "attempt": attempt + 1})
	}
	return Cart{}, fmt.Errorf("%w: %v", ErrCartConflict, lastErr)
}

func checkStock(product Product, quantity int) error {
	if product.Stock < quantity {
		return fmt.Errorf("%w: only %d of %s in stock", ErrCartInvalidInput, product.Stock, product.Name)
	}
	return nil
}

func firstImage(images []string) string {
	if len(images) == 0 {
		return ""
	}
	return images[0]
}
