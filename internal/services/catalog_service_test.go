package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/cache"
	"github.com/storefront/api/internal/platform/storage"
	"github.com/storefront/api/internal/repositories"
)

type memoryCatalog struct {
	mu            sync.Mutex
	products      map[string]domain.Product
	categories    map[string]domain.Category
	subcategories map[string]domain.Subcategory
	productReads  int
}

func newMemoryCatalog() *memoryCatalog {
	return &memoryCatalog{
		products:      map[string]domain.Product{},
		categories:    map[string]domain.Category{},
		subcategories: map[string]domain.Subcategory{},
	}
}

func (m *memoryCatalog) InsertProduct(_ context.Context, product domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.products {
		if existing.Slug == product.Slug {
			return conflictErr("product slug")
		}
	}
	m.products[product.ID] = product
	return nil
}

func (m *memoryCatalog) UpdateProduct(_ context.Context, product domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[product.ID]; !ok {
		return notFoundErr("product")
	}
	m.products[product.ID] = product
	return nil
}

func (m *memoryCatalog) DeleteProduct(_ context.Context, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[productID]; !ok {
		return notFoundErr("product")
	}
	delete(m.products, productID)
	return nil
}

func (m *memoryCatalog) FindProduct(_ context.Context, productID string) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.productReads++
	product, ok := m.products[productID]
	if !ok {
		return domain.Product{}, notFoundErr("product")
	}
	return product, nil
}

func (m *memoryCatalog) ListProducts(_ context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Product
	for _, product := range m.products {
		if filter.CategoryID != "" && product.CategoryID != filter.CategoryID {
			continue
		}
		if filter.SubcategoryID != "" && product.SubcategoryID != filter.SubcategoryID {
			continue
		}
		out = append(out, product)
	}
	return domain.CursorPage[domain.Product]{Items: out}, nil
}

func (m *memoryCatalog) InsertCategory(_ context.Context, category domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.categories {
		if existing.Slug == category.Slug {
			return conflictErr("category slug")
		}
	}
	m.categories[category.ID] = category
	return nil
}

func (m *memoryCatalog) UpdateCategory(_ context.Context, category domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[category.ID] = category
	return nil
}

func (m *memoryCatalog) DeleteCategory(_ context.Context, categoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.categories, categoryID)
	return nil
}

func (m *memoryCatalog) FindCategory(_ context.Context, categoryID string) (domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	category, ok := m.categories[categoryID]
	if !ok {
		return domain.Category{}, notFoundErr("category")
	}
	return category, nil
}

func (m *memoryCatalog) ListCategories(context.Context) ([]domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Category, 0, len(m.categories))
	for _, category := range m.categories {
		out = append(out, category)
	}
	return out, nil
}

func (m *memoryCatalog) InsertSubcategory(_ context.Context, subcategory domain.Subcategory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subcategories[subcategory.ID] = subcategory
	return nil
}

func (m *memoryCatalog) UpdateSubcategory(_ context.Context, subcategory domain.Subcategory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subcategories[subcategory.ID] = subcategory
	return nil
}

func (m *memoryCatalog) DeleteSubcategory(_ context.Context, subcategoryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subcategories, subcategoryID)
	return nil
}

func (m *memoryCatalog) FindSubcategory(_ context.Context, subcategoryID string) (domain.Subcategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subcategory, ok := m.subcategories[subcategoryID]
	if !ok {
		return domain.Subcategory{}, notFoundErr("subcategory")
	}
	return subcategory, nil
}

func (m *memoryCatalog) ListSubcategories(_ context.Context, categoryID string) ([]domain.Subcategory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subcategory
	for _, subcategory := range m.subcategories {
		if categoryID == "" || subcategory.CategoryID == categoryID {
			out = append(out, subcategory)
		}
	}
	return out, nil
}

type stubUploader struct {
	ticket storage.UploadTicket
	err    error
	req    storage.ProductImageRequest
}

func (s *stubUploader) ProductImageUpload(_ context.Context, req storage.ProductImageRequest) (storage.UploadTicket, error) {
	s.req = req
	return s.ticket, s.err
}

func newTestCatalogService(t *testing.T, repo *memoryCatalog, productCache ProductCache, uploader ImageUploader) CatalogService {
	t.Helper()
	deps := CatalogServiceDeps{
		Catalog:         repo,
		DefaultCurrency: "ngn",
		Clock:           func() time.Time { return time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC) },
		IDGenerator:     sequentialIDs("01HQK"),
	}
	if productCache != nil {
		deps.Cache = productCache
	}
	if uploader != nil {
		deps.Uploader = uploader
	}
	svc, err := NewCatalogService(deps)
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return svc
}

func newMiniredisCache(t *testing.T) *cache.Redis {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedis(client, cache.WithNamespace("test"), cache.WithTTL(time.Minute))
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	return c
}

func seedCategory(repo *memoryCatalog, id string, subcategories ...string) {
	repo.categories[id] = domain.Category{ID: id, Name: strings.ToUpper(id), Slug: id}
	for _, sub := range subcategories {
		repo.subcategories[sub] = domain.Subcategory{ID: sub, CategoryID: id, Name: sub, Slug: sub}
	}
}

func TestCatalogServiceCreateProduct(t *testing.T) {
	repo := newMemoryCatalog()
	seedCategory(repo, "cat_men", "sub_shirts")
	seedCategory(repo, "cat_women", "sub_dresses")
	svc := newTestCatalogService(t, repo, nil, nil)
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, UpsertProductCommand{
		Name:          "Linen Shirt",
		Description:   `<p>Breathable</p><script>alert(1)</script>`,
		Price:         1500000,
		Stock:         10,
		Colors:        []string{"white", " white ", "navy", ""},
		CategoryID:    "cat_men",
		SubcategoryID: "sub_shirts",
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if !strings.HasPrefix(product.ID, "prd_") || product.Slug != "linen-shirt" {
		t.Fatalf("unexpected id/slug %s/%s", product.ID, product.Slug)
	}
	if product.Currency != "NGN" {
		t.Fatalf("expected default currency NGN, got %s", product.Currency)
	}
	if strings.Contains(product.Description, "script") {
		t.Fatalf("expected description sanitised, got %q", product.Description)
	}
	if len(product.Colors) != 2 {
		t.Fatalf("expected deduplicated colors, got %v", product.Colors)
	}

	second, err := svc.CreateProduct(ctx, UpsertProductCommand{Name: "Linen Shirt", Price: 1200000, CategoryID: "cat_men"})
	if err != nil {
		t.Fatalf("CreateProduct duplicate name: %v", err)
	}
	if second.Slug == product.Slug || !strings.HasPrefix(second.Slug, "linen-shirt-") {
		t.Fatalf("expected suffixed slug, got %s", second.Slug)
	}

	_, err = svc.CreateProduct(ctx, UpsertProductCommand{Name: "Gown", Price: 100, CategoryID: "cat_men", SubcategoryID: "sub_dresses"})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input for foreign subcategory, got %v", err)
	}
	_, err = svc.CreateProduct(ctx, UpsertProductCommand{Name: "Ghost", Price: 100, CategoryID: "cat_missing"})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input for missing category, got %v", err)
	}
	_, err = svc.CreateProduct(ctx, UpsertProductCommand{Name: "Free", Price: 0, CategoryID: "cat_men"})
	if !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input for zero price, got %v", err)
	}
}

func TestCatalogServiceGetProductUsesCache(t *testing.T) {
	repo := newMemoryCatalog()
	seedCategory(repo, "cat_men")
	repo.products["prd_1"] = domain.Product{ID: "prd_1", Name: "Linen Shirt", Slug: "linen-shirt", Price: 1500000, Currency: "NGN", CategoryID: "cat_men"}
	svc := newTestCatalogService(t, repo, newMiniredisCache(t), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		product, err := svc.GetProduct(ctx, "prd_1")
		if err != nil {
			t.Fatalf("GetProduct: %v", err)
		}
		if product.Name != "Linen Shirt" {
			t.Fatalf("unexpected product %+v", product)
		}
	}
	if repo.productReads != 1 {
		t.Fatalf("expected one repository read, got %d", repo.productReads)
	}

	if _, err := svc.UpdateProduct(ctx, UpsertProductCommand{ID: "prd_1", Name: "Linen Shirt II", Price: 1600000, CategoryID: "cat_men"}); err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	readsBefore := repo.productReads
	product, err := svc.GetProduct(ctx, "prd_1")
	if err != nil {
		t.Fatalf("GetProduct after update: %v", err)
	}
	if product.Name != "Linen Shirt II" || product.Slug != "linen-shirt" {
		t.Fatalf("expected fresh product with stable slug, got %+v", product)
	}
	if repo.productReads != readsBefore+1 {
		t.Fatalf("expected cache invalidated by update")
	}

	if err := svc.DeleteProduct(ctx, "prd_1"); err != nil {
		t.Fatalf("DeleteProduct: %v", err)
	}
	if _, err := svc.GetProduct(ctx, "prd_1"); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestCatalogServiceDeleteCategoryGuards(t *testing.T) {
	repo := newMemoryCatalog()
	seedCategory(repo, "cat_men", "sub_shirts")
	seedCategory(repo, "cat_kids")
	seedCategory(repo, "cat_empty")
	repo.products["prd_1"] = domain.Product{ID: "prd_1", Name: "Tee", Slug: "tee", CategoryID: "cat_kids"}
	svc := newTestCatalogService(t, repo, nil, nil)
	ctx := context.Background()

	if err := svc.DeleteCategory(ctx, "cat_men"); !errors.Is(err, ErrCatalogConflict) {
		t.Fatalf("expected conflict for category with subcategories, got %v", err)
	}
	if err := svc.DeleteCategory(ctx, "cat_kids"); !errors.Is(err, ErrCatalogConflict) {
		t.Fatalf("expected conflict for category with products, got %v", err)
	}
	if err := svc.DeleteCategory(ctx, "cat_empty"); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	if err := svc.DeleteCategory(ctx, "cat_empty"); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCatalogServiceSubcategoryLifecycle(t *testing.T) {
	repo := newMemoryCatalog()
	seedCategory(repo, "cat_men")
	seedCategory(repo, "cat_women")
	svc := newTestCatalogService(t, repo, nil, nil)
	ctx := context.Background()

	sub, err := svc.CreateSubcategory(ctx, UpsertSubcategoryCommand{CategoryID: "cat_men", Name: "Shirts & Tops"})
	if err != nil {
		t.Fatalf("CreateSubcategory: %v", err)
	}
	if sub.Slug != "shirts-tops" {
		t.Fatalf("expected slug shirts-tops, got %s", sub.Slug)
	}
	if _, err := svc.CreateSubcategory(ctx, UpsertSubcategoryCommand{CategoryID: "cat_missing", Name: "Hats"}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input for missing category, got %v", err)
	}

	moved, err := svc.UpdateSubcategory(ctx, UpsertSubcategoryCommand{ID: sub.ID, CategoryID: "cat_women", Name: "Tops"})
	if err != nil {
		t.Fatalf("UpdateSubcategory: %v", err)
	}
	if moved.CategoryID != "cat_women" || moved.Name != "Tops" {
		t.Fatalf("unexpected subcategory %+v", moved)
	}

	list, err := svc.ListSubcategories(ctx, "cat_women")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one subcategory under cat_women, got %d (%v)", len(list), err)
	}

	repo.products["prd_1"] = domain.Product{ID: "prd_1", Slug: "blouse", CategoryID: "cat_women", SubcategoryID: sub.ID}
	if err := svc.DeleteSubcategory(ctx, sub.ID); !errors.Is(err, ErrCatalogConflict) {
		t.Fatalf("expected conflict while products assigned, got %v", err)
	}
	delete(repo.products, "prd_1")
	if err := svc.DeleteSubcategory(ctx, sub.ID); err != nil {
		t.Fatalf("DeleteSubcategory: %v", err)
	}
}

func TestCatalogServiceCategorySlugConflict(t *testing.T) {
	repo := newMemoryCatalog()
	svc := newTestCatalogService(t, repo, nil, nil)
	ctx := context.Background()

	if _, err := svc.CreateCategory(ctx, UpsertCategoryCommand{Name: "Men"}); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	if _, err := svc.CreateCategory(ctx, UpsertCategoryCommand{Name: " men "}); !errors.Is(err, ErrCatalogConflict) {
		t.Fatalf("expected conflict for duplicate slug, got %v", err)
	}
	if _, err := svc.CreateCategory(ctx, UpsertCategoryCommand{Name: ""}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCatalogServiceProductImageUploadURL(t *testing.T) {
	repo := newMemoryCatalog()
	repo.products["prd_1"] = domain.Product{ID: "prd_1", Slug: "tee"}
	ctx := context.Background()

	if _, err := newTestCatalogService(t, repo, nil, nil).ProductImageUploadURL(ctx, ProductImageUploadCommand{ProductID: "prd_1"}); !errors.Is(err, ErrCatalogUploadUnavailable) {
		t.Fatalf("expected upload unavailable, got %v", err)
	}

	uploader := &stubUploader{ticket: storage.UploadTicket{URL: "https://storage.example/signed", ObjectPath: "products/prd_1/front.jpg"}}
	svc := newTestCatalogService(t, repo, nil, uploader)
	ticket, err := svc.ProductImageUploadURL(ctx, ProductImageUploadCommand{ProductID: "prd_1", FileName: "front.jpg", ContentType: "image/jpeg"})
	if err != nil {
		t.Fatalf("ProductImageUploadURL: %v", err)
	}
	if ticket.URL == "" || uploader.req.ProductID != "prd_1" || uploader.req.ContentType != "image/jpeg" {
		t.Fatalf("unexpected ticket %+v for request %+v", ticket, uploader.req)
	}

	uploader.err = fmt.Errorf("%w: image/gif", storage.ErrContentTypeDenied)
	if _, err := svc.ProductImageUploadURL(ctx, ProductImageUploadCommand{ProductID: "prd_1", FileName: "a.gif", ContentType: "image/gif"}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("expected invalid input for denied content type, got %v", err)
	}
	if _, err := svc.ProductImageUploadURL(ctx, ProductImageUploadCommand{ProductID: "prd_missing"}); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

var _ repositories.CatalogRepository = (*memoryCatalog)(nil)
