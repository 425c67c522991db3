package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/storage"
	"github.com/storefront/api/internal/platform/textutil"
	"github.com/storefront/api/internal/repositories"
)

const (
	productIDPrefix     = "prd_"
	categoryIDPrefix    = "cat_"
	subcategoryIDPrefix = "sub_"
	productCachePrefix  = "product:"
	maxProductNameLen   = 200
	maxVariantOptions   = 50
)

// CatalogServiceDeps bundles collaborators required to construct the catalog service.
type CatalogServiceDeps struct {
	Catalog         repositories.CatalogRepository
	Cache           ProductCache
	Uploader        ImageUploader
	DefaultCurrency string
	Clock           func() time.Time
	IDGenerator     func() string
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type catalogService struct {
	catalog  repositories.CatalogRepository
	cache    ProductCache
	uploader ImageUploader
	currency string
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewCatalogService wires dependencies into a concrete CatalogService implementation.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, errors.New("catalog service: catalog repository is required")
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
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = "NGN"
	}

	return &catalogService{
		catalog:  deps.Catalog,
		cache:    deps.Cache,
		uploader: deps.Uploader,
		currency: currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error) {
	page, err := s.catalog.ListProducts(ctx, repositories.ProductListFilter{
		CategoryID:    strings.TrimSpace(filter.CategoryID),
		SubcategoryID: strings.TrimSpace(filter.SubcategoryID),
		Pagination:    filter.Pagination,
	})
	if errors.Is(err, repositories.ErrInvalidPageToken) {
		return domain.CursorPage[Product]{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	if s.cache != nil {
		var cached Product
		hit, err := s.cache.Get(ctx, productCachePrefix+productID, &cached)
		if err != nil {
			s.logger(ctx, "catalog.cache.get_failed", map[string]any{"productId": productID, "error": err.Error()})
		}
		if hit {
			return cached, nil
		}
	}

	product, err := s.catalog.FindProduct(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	s.cacheProduct(ctx, product)
	return product, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	product, err := s.buildProduct(ctx, cmd)
	if err != nil {
		return Product{}, err
	}

	now := s.clock()
	product.ID = productIDPrefix + s.newID()
	product.Slug = slugOrFallback(product.Name, product.ID)
	product.CreatedAt = now
	product.UpdatedAt = now

	err = s.catalog.InsertProduct(ctx, product)
	if isRepositoryConflict(err) {
		// Same name as an existing product: disambiguate with the id suffix.
		product.Slug = product.Slug + "-" + slugSuffix(product.ID)
		err = s.catalog.InsertProduct(ctx, product)
	}
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "catalog.product.created", map[string]any{"productId": product.ID})
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	existing, err := s.catalog.FindProduct(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	product, err := s.buildProduct(ctx, cmd)
	if err != nil {
		return Product{}, err
	}
	product.ID = existing.ID
	product.Slug = existing.Slug
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = s.clock()

	if err := s.catalog.UpdateProduct(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	s.invalidateProduct(ctx, product.ID)
	return product, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := s.catalog.DeleteProduct(ctx, productID); err != nil {
		return s.mapRepositoryError(err)
	}
	s.invalidateProduct(ctx, productID)
	return nil
}

func (s *catalogService) ProductImageUploadURL(ctx context.Context, cmd ProductImageUploadCommand) (UploadTicket, error) {
	if s.uploader == nil {
		return UploadTicket{}, ErrCatalogUploadUnavailable
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if _, err := s.catalog.FindProduct(ctx, productID); err != nil {
		return UploadTicket{}, s.mapRepositoryError(err)
	}

	ticket, err := s.uploader.ProductImageUpload(ctx, storage.ProductImageRequest{
		ProductID:   productID,
		FileName:    cmd.FileName,
		ContentType: cmd.ContentType,
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidUpload) || errors.Is(err, storage.ErrContentTypeDenied) {
			return UploadTicket{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
		}
		return UploadTicket{}, err
	}
	return ticket, nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]Category, error) {
	categories, err := s.catalog.ListCategories(ctx)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return categories, nil
}

func (s *catalogService) GetCategory(ctx context.Context, categoryID string) (Category, error) {
	category, err := s.catalog.FindCategory(ctx, strings.TrimSpace(categoryID))
	if err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return category, nil
}

func (s *catalogService) CreateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Category{}, fmt.Errorf("%w: category name is required", ErrCatalogInvalidInput)
	}
	now := s.clock()
	category := Category{
		ID:        categoryIDPrefix + s.newID(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	category.Slug = slugOrFallback(name, category.ID)
	if err := s.catalog.InsertCategory(ctx, category); err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return category, nil
}

func (s *catalogService) UpdateCategory(ctx context.Context, cmd UpsertCategoryCommand) (Category, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Category{}, fmt.Errorf("%w: category name is required", ErrCatalogInvalidInput)
	}
	category, err := s.catalog.FindCategory(ctx, strings.TrimSpace(cmd.ID))
	if err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	category.Name = name
	category.UpdatedAt = s.clock()
	if err := s.catalog.UpdateCategory(ctx, category); err != nil {
		return Category{}, s.mapRepositoryError(err)
	}
	return category, nil
}

func (s *catalogService) DeleteCategory(ctx context.Context, categoryID string) error {
	categoryID = strings.TrimSpace(categoryID)
	if _, err := s.catalog.FindCategory(ctx, categoryID); err != nil {
		return s.mapRepositoryError(err)
	}
	subcategories, err := s.catalog.ListSubcategories(ctx, categoryID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if len(subcategories) > 0 {
		return fmt.Errorf("%w: category still has %d subcategories", ErrCatalogConflict, len(subcategories))
	}
	if err := s.ensureNoProducts(ctx, repositories.ProductListFilter{CategoryID: categoryID}); err != nil {
		return err
	}
	if err := s.catalog.DeleteCategory(ctx, categoryID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *catalogService) ListSubcategories(ctx context.Context, categoryID string) ([]Subcategory, error) {
	subcategories, err := s.catalog.ListSubcategories(ctx, strings.TrimSpace(categoryID))
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return subcategories, nil
}

func (s *catalogService) GetSubcategory(ctx context.Context, subcategoryID string) (Subcategory, error) {
	subcategory, err := s.catalog.FindSubcategory(ctx, strings.TrimSpace(subcategoryID))
	if err != nil {
		return Subcategory{}, s.mapRepositoryError(err)
	}
	return subcategory, nil
}

func (s *catalogService) CreateSubcategory(ctx context.Context, cmd UpsertSubcategoryCommand) (Subcategory, error) {
	name := strings.TrimSpace(cmd.Name)
	categoryID := strings.TrimSpace(cmd.CategoryID)
	if name == "" || categoryID == "" {
		return Subcategory{}, fmt.Errorf("%w: subcategory name and category are required", ErrCatalogInvalidInput)
	}
	if err := s.ensureCategory(ctx, categoryID); err != nil {
		return Subcategory{}, err
	}

	now := s.clock()
	subcategory := Subcategory{
		ID:         subcategoryIDPrefix + s.newID(),
		CategoryID: categoryID,
		Name:       name,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	subcategory.Slug = slugOrFallback(name, subcategory.ID)
	if err := s.catalog.InsertSubcategory(ctx, subcategory); err != nil {
		return Subcategory{}, s.mapRepositoryError(err)
	}
	return subcategory, nil
}

func (s *catalogService) UpdateSubcategory(ctx context.Context, cmd UpsertSubcategoryCommand) (Subcategory, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Subcategory{}, fmt.Errorf("%w: subcategory name is required", ErrCatalogInvalidInput)
	}
	subcategory, err := s.catalog.FindSubcategory(ctx, strings.TrimSpace(cmd.ID))
	if err != nil {
		return Subcategory{}, s.mapRepositoryError(err)
	}
	if categoryID := strings.TrimSpace(cmd.CategoryID); categoryID != "" && categoryID != subcategory.CategoryID {
		if err := s.ensureCategory(ctx, categoryID); err != nil {
			return Subcategory{}, err
		}
		subcategory.CategoryID = categoryID
	}
	subcategory.Name = name
	subcategory.UpdatedAt = s.clock()
	if err := s.catalog.UpdateSubcategory(ctx, subcategory); err != nil {
		return Subcategory{}, s.mapRepositoryError(err)
	}
	return subcategory, nil
}

func (s *catalogService) DeleteSubcategory(ctx context.Context, subcategoryID string) error {
	subcategoryID = strings.TrimSpace(subcategoryID)
	if _, err := s.catalog.FindSubcategory(ctx, subcategoryID); err != nil {
		return s.mapRepositoryError(err)
	}
	if err := s.ensureNoProducts(ctx, repositories.ProductListFilter{SubcategoryID: subcategoryID}); err != nil {
		return err
	}
	if err := s.catalog.DeleteSubcategory(ctx, subcategoryID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *catalogService) buildProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	name := strings.TrimSpace(cmd.Name)
	switch {
	case name == "":
		return Product{}, fmt.Errorf("%w: product name is required", ErrCatalogInvalidInput)
	case len(name) > maxProductNameLen:
		return Product{}, fmt.Errorf("%w: product name exceeds %d characters", ErrCatalogInvalidInput, maxProductNameLen)
	case cmd.Price <= 0:
		return Product{}, fmt.Errorf("%w: price must be positive", ErrCatalogInvalidInput)
	case cmd.Stock < 0:
		return Product{}, fmt.Errorf("%w: stock cannot be negative", ErrCatalogInvalidInput)
	case len(cmd.Colors) > maxVariantOptions || len(cmd.Sizes) > maxVariantOptions:
		return Product{}, fmt.Errorf("%w: too many variant options", ErrCatalogInvalidInput)
	}

	categoryID := strings.TrimSpace(cmd.CategoryID)
	if categoryID == "" {
		return Product{}, fmt.Errorf("%w: category is required", ErrCatalogInvalidInput)
	}
	if err := s.ensureCategory(ctx, categoryID); err != nil {
		return Product{}, err
	}
	subcategoryID := strings.TrimSpace(cmd.SubcategoryID)
	if subcategoryID != "" {
		subcategory, err := s.catalog.FindSubcategory(ctx, subcategoryID)
		if err != nil {
			if isRepositoryNotFound(err) {
				return Product{}, fmt.Errorf("%w: subcategory %s does not exist", ErrCatalogInvalidInput, subcategoryID)
			}
			return Product{}, s.mapRepositoryError(err)
		}
		if subcategory.CategoryID != categoryID {
			return Product{}, fmt.Errorf("%w: subcategory %s does not belong to category %s", ErrCatalogInvalidInput, subcategoryID, categoryID)
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}
	if len(currency) != 3 {
		return Product{}, fmt.Errorf("%w: currency must be an ISO 4217 code", ErrCatalogInvalidInput)
	}

	return Product{
		Name:          name,
		Description:   textutil.SanitizeHTML(cmd.Description),
		Price:         cmd.Price,
		Currency:      currency,
		Stock:         cmd.Stock,
		Colors:        normaliseOptions(cmd.Colors),
		Sizes:         normaliseOptions(cmd.Sizes),
		Images:        normaliseOptions(cmd.Images),
		CategoryID:    categoryID,
		SubcategoryID: subcategoryID,
	}, nil
}

func (s *catalogService) ensureCategory(ctx context.Context, categoryID string) error {
	if _, err := s.catalog.FindCategory(ctx, categoryID); err != nil {
		if isRepositoryNotFound(err) {
			return fmt.Errorf("%w: category %s does not exist", ErrCatalogInvalidInput, categoryID)
		}
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *catalogService) ensureNoProducts(ctx context.Context, filter repositories.ProductListFilter) error {
	filter.Pagination = Pagination{PageSize: 1}
	page, err := s.catalog.ListProducts(ctx, filter)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if len(page.Items) > 0 {
		return fmt.Errorf("%w: products are still assigned", ErrCatalogConflict)
	}
	return nil
}

func (s *catalogService) cacheProduct(ctx context.Context, product Product) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, productCachePrefix+product.ID, product); err != nil {
		s.logger(ctx, "catalog.cache.set_failed", map[string]any{"productId": product.ID, "error": err.Error()})
	}
}

func (s *catalogService) invalidateProduct(ctx context.Context, productID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, productCachePrefix+productID); err != nil {
		s.logger(ctx, "catalog.cache.delete_failed", map[string]any{"productId": productID, "error": err.Error()})
	}
}

func (s *catalogService) mapRepositoryError(err error) error {
	return mapRepositoryError(err, ErrCatalogNotFound, ErrCatalogConflict)
}

func slugOrFallback(name, id string) string {
	if slug := textutil.Slugify(name); slug != "" {
		return slug
	}
	return strings.ToLower(id)
}

func slugSuffix(id string) string {
	id = strings.ToLower(strings.TrimPrefix(id, productIDPrefix))
	if len(id) > 6 {
		id = id[len(id)-6:]
	}
	return id
}

func normaliseOptions(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
