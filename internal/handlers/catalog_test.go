package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/services"
)

type stubCatalogService struct {
	listProductsFn   func(context.Context, services.ProductFilter) (domain.CursorPage[services.Product], error)
	getProductFn     func(context.Context, string) (services.Product, error)
	createProductFn  func(context.Context, services.UpsertProductCommand) (services.Product, error)
	updateProductFn  func(context.Context, services.UpsertProductCommand) (services.Product, error)
	deleteProductFn  func(context.Context, string) error
	uploadURLFn      func(context.Context, services.ProductImageUploadCommand) (services.UploadTicket, error)
	listCategoriesFn func(context.Context) ([]services.Category, error)
	createCategoryFn func(context.Context, services.UpsertCategoryCommand) (services.Category, error)
	deleteCategoryFn func(context.Context, string) error
	listSubsFn       func(context.Context, string) ([]services.Subcategory, error)
	createSubFn      func(context.Context, services.UpsertSubcategoryCommand) (services.Subcategory, error)
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.ProductFilter) (domain.CursorPage[services.Product], error) {
	if s.listProductsFn != nil {
		return s.listProductsFn(ctx, filter)
	}
	return domain.CursorPage[services.Product]{}, nil
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getProductFn != nil {
		return s.getProductFn(ctx, productID)
	}
	return services.Product{}, services.ErrCatalogNotFound
}

func (s *stubCatalogService) CreateProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.createProductFn != nil {
		return s.createProductFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) UpdateProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.updateProductFn != nil {
		return s.updateProductFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubCatalogService) DeleteProduct(ctx context.Context, productID string) error {
	if s.deleteProductFn != nil {
		return s.deleteProductFn(ctx, productID)
	}
	return nil
}

func (s *stubCatalogService) ProductImageUploadURL(ctx context.Context, cmd services.ProductImageUploadCommand) (services.UploadTicket, error) {
	if s.uploadURLFn != nil {
		return s.uploadURLFn(ctx, cmd)
	}
	return services.UploadTicket{}, services.ErrCatalogUploadUnavailable
}

func (s *stubCatalogService) ListCategories(ctx context.Context) ([]services.Category, error) {
	if s.listCategoriesFn != nil {
		return s.listCategoriesFn(ctx)
	}
	return nil, nil
}

func (s *stubCatalogService) GetCategory(context.Context, string) (services.Category, error) {
	return services.Category{}, services.ErrCatalogNotFound
}

func (s *stubCatalogService) CreateCategory(ctx context.Context, cmd services.UpsertCategoryCommand) (services.Category, error) {
	if s.createCategoryFn != nil {
		return s.createCategoryFn(ctx, cmd)
	}
	return services.Category{}, errors.New("not implemented")
}

func (s *stubCatalogService) UpdateCategory(context.Context, services.UpsertCategoryCommand) (services.Category, error) {
	return services.Category{}, errors.New("not implemented")
}

func (s *stubCatalogService) DeleteCategory(ctx context.Context, categoryID string) error {
	if s.deleteCategoryFn != nil {
		return s.deleteCategoryFn(ctx, categoryID)
	}
	return nil
}

func (s *stubCatalogService) ListSubcategories(ctx context.Context, categoryID string) ([]services.Subcategory, error) {
	if s.listSubsFn != nil {
		return s.listSubsFn(ctx, categoryID)
	}
	return nil, nil
}

func (s *stubCatalogService) GetSubcategory(context.Context, string) (services.Subcategory, error) {
	return services.Subcategory{}, services.ErrCatalogNotFound
}

func (s *stubCatalogService) CreateSubcategory(ctx context.Context, cmd services.UpsertSubcategoryCommand) (services.Subcategory, error) {
	if s.createSubFn != nil {
		return s.createSubFn(ctx, cmd)
	}
	return services.Subcategory{}, errors.New("not implemented")
}

func (s *stubCatalogService) UpdateSubcategory(context.Context, services.UpsertSubcategoryCommand) (services.Subcategory, error) {
	return services.Subcategory{}, errors.New("not implemented")
}

func (s *stubCatalogService) DeleteSubcategory(context.Context, string) error {
	return nil
}

func newCatalogRouter(svc services.CatalogService) chi.Router {
	handlers := NewCatalogHandlers(nil, svc)
	router := chi.NewRouter()
	router.Route("/products", handlers.ProductRoutes)
	router.Route("/categories", handlers.CategoryRoutes)
	router.Route("/subcategories", handlers.SubcategoryRoutes)
	return router
}

func TestCatalogHandlersListProducts(t *testing.T) {
	var captured services.ProductFilter
	svc := &stubCatalogService{
		listProductsFn: func(_ context.Context, filter services.ProductFilter) (domain.CursorPage[services.Product], error) {
			captured = filter
			return domain.CursorPage[services.Product]{
				Items:         []services.Product{{ID: "prd-1", Name: "Sneaker", Slug: "sneaker", Price: 2500000, Currency: "NGN", CategoryID: "cat-1"}},
				NextPageToken: "tok",
			}, nil
		},
	}

	rr := httptest.NewRecorder()
	newCatalogRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products?categoryId=cat-1&pageSize=500", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CategoryID != "cat-1" || captured.Pagination.PageSize != 100 {
		t.Fatalf("unexpected filter %+v", captured)
	}
	var resp productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.NextPageToken != "tok" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Items[0].Colors == nil || resp.Items[0].Images == nil {
		t.Fatalf("expected empty arrays instead of null, got %+v", resp.Items[0])
	}
}

func TestCatalogHandlersListProductsRejectsBadToken(t *testing.T) {
	rr := httptest.NewRecorder()
	newCatalogRouter(&stubCatalogService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products?pageToken=bad!token", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCatalogHandlersGetProductNotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	newCatalogRouter(&stubCatalogService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCatalogHandlersCreateProductRequiresAdmin(t *testing.T) {
	var captured services.UpsertProductCommand
	svc := &stubCatalogService{
		createProductFn: func(_ context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
			captured = cmd
			return services.Product{ID: "prd-9", Name: cmd.Name, Slug: "linen-shirt", CreatedAt: time.Now()}, nil
		},
	}
	body := `{"name":"Linen Shirt","price":1500000,"stock":3,"colors":["navy"],"sizes":["M"],"images":["https://cdn.example/a.jpg"],"categoryId":"cat-1"}`

	rr := httptest.NewRecorder()
	newCatalogRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(body)))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without identity, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	newCatalogRouter(svc).ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(body)), "user-1"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for buyer, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	newCatalogRouter(svc).ServeHTTP(rr, withAdmin(httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(body)), "admin-1"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Name != "Linen Shirt" || captured.Stock != 3 || captured.CategoryID != "cat-1" || len(captured.Images) != 1 {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestCatalogHandlersCreateProductValidation(t *testing.T) {
	body := `{"name":"","price":-1,"categoryId":"cat-1","images":["not a url"]}`
	rr := httptest.NewRecorder()
	newCatalogRouter(&stubCatalogService{}).ServeHTTP(rr, withAdmin(httptest.NewRequest(http.MethodPost, "/products", strings.NewReader(body)), "admin-1"))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var resp struct {
		Error  string   `json:"error"`
		Fields []string `json:"fields"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != "validation_failed" {
		t.Fatalf("expected validation_failed, got %s", resp.Error)
	}
	want := map[string]bool{"name": false, "price": false, "images[0]": false}
	for _, field := range resp.Fields {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Fatalf("expected field %s to be reported, got %v", field, resp.Fields)
		}
	}
}

func TestCatalogHandlersUpdateProductUsesPathID(t *testing.T) {
	var captured services.UpsertProductCommand
	svc := &stubCatalogService{
		updateProductFn: func(_ context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
			captured = cmd
			return services.Product{ID: cmd.ID, Name: cmd.Name}, nil
		},
	}
	body := `{"name":"Sneaker","price":10,"categoryId":"cat-1"}`
	rr := httptest.NewRecorder()
	newCatalogRouter(svc).ServeHTTP(rr, withAdmin(httptest.NewRequest(http.MethodPut, "/products/prd-3", strings.NewReader(body)), "admin-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.ID != "prd-3" {
		t.Fatalf("expected path id, got %q", captured.ID)
	}
}

func TestCatalogHandlersImageUploadURL(t *testing.T) {
	expires := time.Date(2025, 1, 1, 0, 15, 0, 0, time.UTC)
	svc := &stubCatalogService{
		uploadURLFn: func(_ context.Context, cmd services.ProductImageUploadCommand) (services.UploadTicket, error) {
			if cmd.ProductID != "prd-1" || cmd.ContentType != "image/png" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.UploadTicket{URL: "https://storage.example/signed", Method: http.MethodPut, ExpiresAt: expires}, nil
		},
	}
	body := `{"fileName":"front.png","contentType":"image/png"}`
	rr := httptest.NewRecorder()
	newCatalogRouter(svc).ServeHTTP(rr, withAdmin(httptest.NewRequest(http.MethodPost, "/products/prd-1/images/upload-url", strings.NewReader(body)), "admin-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var ticket services.UploadTicket
	if err := json.Unmarshal(rr.Body.Bytes(), &ticket); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ticket.URL != "https://storage.example/signed" || !ticket.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected ticket %+v", ticket)
	}

	svc.uploadURLFn = nil
	rr = httptest.NewRecorder()
	newCatalogRouter(svc).ServeHTTP(rr, withAdmin(httptest.NewRequest(http.MethodPost, "/products/prd-1/images/upload-url", strings.NewReader(body)), "admin-1"))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without uploader, got %d", rr.Code)
	}
}

func TestCatalogHandlersCategoryConflict(t *testing.T) {
	svc := &stubCatalogService{
		createCategoryFn: func(context.Context, services.UpsertCategoryCommand) (services.Category, error) {
			return services.Category{}, fmt.Errorf("%w: slug already used", services.ErrCatalogConflict)
		},
		deleteCategoryFn: func(context.Context, string) error {
			return fmt.Errorf("%w: category has subcategories", services.ErrCatalogConflict)
		},
	}
	router := newCatalogRouter(svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withAdmin(httptest.NewRequest(http.MethodPost, "/categories", strings.NewReader(`{"name":"Shoes"}`)), "admin-1"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409 on create, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withAdmin(httptest.NewRequest(http.MethodDelete, "/categories/cat-1", nil), "admin-1"))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409 on delete, got %d", rr.Code)
	}
}

func TestCatalogHandlersSubcategoryListings(t *testing.T) {
	var requested []string
	svc := &stubCatalogService{
		listSubsFn: func(_ context.Context, categoryID string) ([]services.Subcategory, error) {
			requested = append(requested, categoryID)
			return []services.Subcategory{{ID: "sub-1", CategoryID: categoryID, Name: "Sneakers", Slug: "sneakers"}}, nil
		},
		createSubFn: func(_ context.Context, cmd services.UpsertSubcategoryCommand) (services.Subcategory, error) {
			return services.Subcategory{ID: "sub-2", CategoryID: cmd.CategoryID, Name: cmd.Name}, nil
		},
	}
	router := newCatalogRouter(svc)

	for _, path := range []string{"/subcategories?categoryId=cat-1", "/categories/cat-2/subcategories"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, rr.Code)
		}
	}
	if len(requested) != 2 || requested[0] != "cat-1" || requested[1] != "cat-2" {
		t.Fatalf("unexpected category filters %v", requested)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, withAdmin(httptest.NewRequest(http.MethodPost, "/subcategories", strings.NewReader(`{"name":"Boots","categoryId":"cat-1"}`)), "admin-1"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
}

var _ services.CatalogService = (*stubCatalogService)(nil)
