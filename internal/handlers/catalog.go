package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/services"
)

const maxCatalogBodySize = 256 * 1024

// CatalogHandlers serves public catalog reads and admin catalog writes.
type CatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
}

// NewCatalogHandlers constructs catalog handlers.
func NewCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{authn: authn, catalog: catalog}
}

func (h *CatalogHandlers) adminOnly() chi.Middlewares {
	if h.authn == nil {
		return nil
	}
	return chi.Middlewares{h.authn.RequireAuth(auth.RoleAdmin)}
}

// ProductRoutes wires the /products endpoints.
func (h *CatalogHandlers) ProductRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listProducts)
	r.Get("/{productID}", h.getProduct)

	admin := r.With(h.adminOnly()...)
	admin.Post("/", h.createProduct)
	admin.Put("/{productID}", h.updateProduct)
	admin.Delete("/{productID}", h.deleteProduct)
	admin.Post("/{productID}/images/upload-url", h.productImageUploadURL)
}

// CategoryRoutes wires the /categories endpoints.
func (h *CatalogHandlers) CategoryRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listCategories)
	r.Get("/{categoryID}", h.getCategory)
	r.Get("/{categoryID}/subcategories", h.listCategorySubcategories)

	admin := r.With(h.adminOnly()...)
	admin.Post("/", h.createCategory)
	admin.Put("/{categoryID}", h.updateCategory)
	admin.Delete("/{categoryID}", h.deleteCategory)
}

// SubcategoryRoutes wires the /subcategories endpoints.
func (h *CatalogHandlers) SubcategoryRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listSubcategories)
	r.Get("/{subcategoryID}", h.getSubcategory)

	admin := r.With(h.adminOnly()...)
	admin.Post("/", h.createSubcategory)
	admin.Put("/{subcategoryID}", h.updateSubcategory)
	admin.Delete("/{subcategoryID}", h.deleteSubcategory)
}

type productRequest struct {
	Name          string   `json:"name" validate:"required,max=200"`
	Description   string   `json:"description" validate:"max=20000"`
	Price         int64    `json:"price" validate:"gte=0"`
	Currency      string   `json:"currency" validate:"omitempty,len=3"`
	Stock         int      `json:"stock" validate:"gte=0"`
	Colors        []string `json:"colors" validate:"max=50,dive,required"`
	Sizes         []string `json:"sizes" validate:"max=50,dive,required"`
	Images        []string `json:"images" validate:"max=20,dive,url"`
	CategoryID    string   `json:"categoryId" validate:"required"`
	SubcategoryID string   `json:"subcategoryId"`
}

type categoryRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

type subcategoryRequest struct {
	Name       string `json:"name" validate:"required,max=120"`
	CategoryID string `json:"categoryId" validate:"required"`
}

type imageUploadRequest struct {
	FileName    string `json:"fileName" validate:"required,max=200"`
	ContentType string `json:"contentType" validate:"required"`
}

type productPayload struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Slug          string   `json:"slug"`
	Description   string   `json:"description,omitempty"`
	Price         int64    `json:"price"`
	Currency      string   `json:"currency"`
	Stock         int      `json:"stock"`
	Colors        []string `json:"colors"`
	Sizes         []string `json:"sizes"`
	Images        []string `json:"images"`
	CategoryID    string   `json:"categoryId"`
	SubcategoryID string   `json:"subcategoryId,omitempty"`
	CreatedAt     string   `json:"createdAt,omitempty"`
	UpdatedAt     string   `json:"updatedAt,omitempty"`
}

type categoryPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type subcategoryPayload struct {
	ID         string `json:"id"`
	CategoryID string `json:"categoryId"`
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	CreatedAt  string `json:"createdAt,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"nextPageToken,omitempty"`
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_pagination", err.Error()))
		return
	}
	query := r.URL.Query()
	page, err := h.catalog.ListProducts(ctx, services.ProductFilter{
		CategoryID:    strings.TrimSpace(query.Get("categoryId")),
		SubcategoryID: strings.TrimSpace(query.Get("subcategoryId")),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	resp := productListResponse{
		Items:         make([]productPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, product := range page.Items {
		resp.Items = append(resp.Items, buildProductPayload(product))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	product, err := h.catalog.GetProduct(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"product": buildProductPayload(product)})
}

func (h *CatalogHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, "")
}

func (h *CatalogHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, chi.URLParam(r, "productID"))
}

func (h *CatalogHandlers) saveProduct(w http.ResponseWriter, r *http.Request, productID string) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	var req productRequest
	if herr, ok := decodeRequest(r, maxCatalogBodySize, &req); !ok {
		httpx.WriteError(ctx, w, herr)
		return
	}

	cmd := services.UpsertProductCommand{
		ID:            productID,
		Name:          req.Name,
		Description:   req.Description,
		Price:         req.Price,
		Currency:      req.Currency,
		Stock:         req.Stock,
		Colors:        req.Colors,
		Sizes:         req.Sizes,
		Images:        req.Images,
		CategoryID:    req.CategoryID,
		SubcategoryID: req.SubcategoryID,
	}

	var (
		product services.Product
		err     error
		status  = http.StatusOK
	)
	if productID == "" {
		product, err = h.catalog.CreateProduct(ctx, cmd)
		status = http.StatusCreated
	} else {
		product, err = h.catalog.UpdateProduct(ctx, cmd)
	}
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, status, map[string]any{"product": buildProductPayload(product)})
}

func (h *CatalogHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	if err := h.catalog.DeleteProduct(ctx, chi.URLParam(r, "productID")); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandlers) productImageUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	var req imageUploadRequest
	if herr, ok := decodeRequest(r, maxCatalogBodySize, &req); !ok {
		httpx.WriteError(ctx, w, herr)
		return
	}

	ticket, err := h.catalog.ProductImageUploadURL(ctx, services.ProductImageUploadCommand{
		ProductID:   chi.URLParam(r, "productID"),
		FileName:    req.FileName,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, ticket)
}

func (h *CatalogHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	categories, err := h.catalog.ListCategories(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	items := make([]categoryPayload, 0, len(categories))
	for _, category := range categories {
		items = append(items, buildCategoryPayload(category))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CatalogHandlers) getCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	category, err := h.catalog.GetCategory(ctx, chi.URLParam(r, "categoryID"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"category": buildCategoryPayload(category)})
}

func (h *CatalogHandlers) createCategory(w http.ResponseWriter, r *http.Request) {
	h.saveCategory(w, r, "")
}

func (h *CatalogHandlers) updateCategory(w http.ResponseWriter, r *http.Request) {
	h.saveCategory(w, r, chi.URLParam(r, "categoryID"))
}

func (h *CatalogHandlers) saveCategory(w http.ResponseWriter, r *http.Request, categoryID string) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	var req categoryRequest
	if herr, ok := decodeRequest(r, maxCatalogBodySize, &req); !ok {
		httpx.WriteError(ctx, w, herr)
		return
	}

	cmd := services.UpsertCategoryCommand{ID: categoryID, Name: req.Name}
	var (
		category services.Category
		err      error
		status   = http.StatusOK
	)
	if categoryID == "" {
		category, err = h.catalog.CreateCategory(ctx, cmd)
		status = http.StatusCreated
	} else {
		category, err = h.catalog.UpdateCategory(ctx, cmd)
	}
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, status, map[string]any{"category": buildCategoryPayload(category)})
}

func (h *CatalogHandlers) deleteCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	if err := h.catalog.DeleteCategory(ctx, chi.URLParam(r, "categoryID")); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandlers) listSubcategories(w http.ResponseWriter, r *http.Request) {
	h.writeSubcategories(w, r, r.URL.Query().Get("categoryId"))
}

func (h *CatalogHandlers) listCategorySubcategories(w http.ResponseWriter, r *http.Request) {
	h.writeSubcategories(w, r, chi.URLParam(r, "categoryID"))
}

func (h *CatalogHandlers) writeSubcategories(w http.ResponseWriter, r *http.Request, categoryID string) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	subcategories, err := h.catalog.ListSubcategories(ctx, categoryID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	items := make([]subcategoryPayload, 0, len(subcategories))
	for _, sub := range subcategories {
		items = append(items, buildSubcategoryPayload(sub))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CatalogHandlers) getSubcategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	sub, err := h.catalog.GetSubcategory(ctx, chi.URLParam(r, "subcategoryID"))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"subcategory": buildSubcategoryPayload(sub)})
}

func (h *CatalogHandlers) createSubcategory(w http.ResponseWriter, r *http.Request) {
	h.saveSubcategory(w, r, "")
}

func (h *CatalogHandlers) updateSubcategory(w http.ResponseWriter, r *http.Request) {
	h.saveSubcategory(w, r, chi.URLParam(r, "subcategoryID"))
}

func (h *CatalogHandlers) saveSubcategory(w http.ResponseWriter, r *http.Request, subcategoryID string) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	var req subcategoryRequest
	if herr, ok := decodeRequest(r, maxCatalogBodySize, &req); !ok {
		httpx.WriteError(ctx, w, herr)
		return
	}

	cmd := services.UpsertSubcategoryCommand{ID: subcategoryID, CategoryID: req.CategoryID, Name: req.Name}
	var (
		sub    services.Subcategory
		err    error
		status = http.StatusOK
	)
	if subcategoryID == "" {
		sub, err = h.catalog.CreateSubcategory(ctx, cmd)
		status = http.StatusCreated
	} else {
		sub, err = h.catalog.UpdateSubcategory(ctx, cmd)
	}
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, status, map[string]any{"subcategory": buildSubcategoryPayload(sub)})
}

func (h *CatalogHandlers) deleteSubcategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(w, r, "catalog")
		return
	}
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	if err := h.catalog.DeleteSubcategory(ctx, chi.URLParam(r, "subcategoryID")); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:            product.ID,
		Name:          product.Name,
		Slug:          product.Slug,
		Description:   product.Description,
		Price:         product.Price,
		Currency:      product.Currency,
		Stock:         product.Stock,
		Colors:        nonNilStrings(product.Colors),
		Sizes:         nonNilStrings(product.Sizes),
		Images:        nonNilStrings(product.Images),
		CategoryID:    product.CategoryID,
		SubcategoryID: product.SubcategoryID,
		CreatedAt:     formatTime(product.CreatedAt),
		UpdatedAt:     formatTime(product.UpdatedAt),
	}
}

func buildCategoryPayload(category services.Category) categoryPayload {
	return categoryPayload{
		ID:        category.ID,
		Name:      category.Name,
		Slug:      category.Slug,
		CreatedAt: formatTime(category.CreatedAt),
		UpdatedAt: formatTime(category.UpdatedAt),
	}
}

func buildSubcategoryPayload(sub services.Subcategory) subcategoryPayload {
	return subcategoryPayload{
		ID:         sub.ID,
		CategoryID: sub.CategoryID,
		Name:       sub.Name,
		Slug:       sub.Slug,
		CreatedAt:  formatTime(sub.CreatedAt),
		UpdatedAt:  formatTime(sub.UpdatedAt),
	}
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return append([]string(nil), values...)
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.BadRequest("invalid_request", err.Error()))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "catalog entry not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCatalogUploadUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("uploads_unavailable", "image uploads are not configured", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.Internal())
	}
}
