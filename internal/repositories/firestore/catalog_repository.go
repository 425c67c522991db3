package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

const (
	productCollection      = "products"
	categoryCollection     = "categories"
	subcategoryCollection  = "subcategories"
	defaultProductPageSize = 24
	maxProductPageSize     = 100
)

// CatalogRepository stores products, categories and subcategories. Product and category slugs
// are unique and claimed through reservation documents.
type CatalogRepository struct {
	products      *pfirestore.Collection[productDocument]
	categories    *pfirestore.Collection[categoryDocument]
	subcategories *pfirestore.Collection[subcategoryDocument]
	provider      *pfirestore.Provider
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products:      pfirestore.NewCollection[productDocument](provider, productCollection),
		categories:    pfirestore.NewCollection[categoryDocument](provider, categoryCollection),
		subcategories: pfirestore.NewCollection[subcategoryDocument](provider, subcategoryCollection),
		provider:      provider,
	}, nil
}

// sluggedWrite describes a document write that also owns a slug reservation.
type sluggedWrite struct {
	op        string
	docRef    *firestore.DocumentRef
	slugs     *firestore.CollectionRef
	slug      string
	payload   any
	createdAt time.Time
}

// insertWithSlug creates the document and claims its slug in one transaction.
func (r *CatalogRepository) insertWithSlug(ctx context.Context, w sluggedWrite) error {
	slugRef := w.slugs.Doc(reservationKey(w.slug))
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := ensureUnclaimed(tx, slugRef, w.op); err != nil {
			return err
		}
		if err := tx.Create(w.docRef, w.payload); err != nil {
			return err
		}
		return tx.Create(slugRef, reservationDocument{OwnerID: w.docRef.ID, CreatedAt: w.createdAt})
	}, pfirestore.WithTxOp(w.op))
}

// updateWithSlug overwrites an existing document, moving the slug reservation when the slug changed.
func (r *CatalogRepository) updateWithSlug(ctx context.Context, w sluggedWrite) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(w.docRef)
		if err != nil {
			return err
		}
		previous, err := snap.DataAt("slug")
		if err != nil {
			previous = ""
		}
		oldSlug, _ := previous.(string)
		if oldSlug == w.slug {
			return tx.Set(w.docRef, w.payload)
		}
		newRef := w.slugs.Doc(reservationKey(w.slug))
		if err := ensureUnclaimed(tx, newRef, w.op); err != nil {
			return err
		}
		if err := tx.Set(w.docRef, w.payload); err != nil {
			return err
		}
		if err := tx.Create(newRef, reservationDocument{OwnerID: w.docRef.ID, CreatedAt: w.createdAt}); err != nil {
			return err
		}
		if oldSlug == "" {
			return nil
		}
		return tx.Delete(w.slugs.Doc(reservationKey(oldSlug)))
	}, pfirestore.WithTxOp(w.op))
}

// deleteWithSlug removes the document and releases its slug. A missing document yields not-found.
func (r *CatalogRepository) deleteWithSlug(ctx context.Context, docRef *firestore.DocumentRef, slugs *firestore.CollectionRef) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			return err
		}
		slug, _ := snap.DataAt("slug")
		if err := tx.Delete(docRef); err != nil {
			return err
		}
		if s, ok := slug.(string); ok && s != "" {
			return tx.Delete(slugs.Doc(reservationKey(s)))
		}
		return nil
	}, pfirestore.WithTxOp("catalog.delete"))
}

func (r *CatalogRepository) slugCollection(ctx context.Context, name string) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(name), nil
}

// InsertProduct stores a new product and claims its slug.
func (r *CatalogRepository) InsertProduct(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("catalog repository not initialised")
	}
	docRef, err := r.products.DocumentRef(ctx, strings.TrimSpace(product.ID))
	if err != nil {
		return err
	}
	slugs, err := r.slugCollection(ctx, productSlugCollection)
	if err != nil {
		return err
	}
	doc := fromDomainProduct(product)
	return r.insertWithSlug(ctx, sluggedWrite{op: "products.insert", docRef: docRef, slugs: slugs, slug: doc.Slug, payload: doc, createdAt: doc.CreatedAt})
}

// UpdateProduct overwrites an existing product.
func (r *CatalogRepository) UpdateProduct(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("catalog repository not initialised")
	}
	docRef, err := r.products.DocumentRef(ctx, strings.TrimSpace(product.ID))
	if err != nil {
		return err
	}
	slugs, err := r.slugCollection(ctx, productSlugCollection)
	if err != nil {
		return err
	}
	doc := fromDomainProduct(product)
	return r.updateWithSlug(ctx, sluggedWrite{op: "products.update", docRef: docRef, slugs: slugs, slug: doc.Slug, payload: doc, createdAt: doc.UpdatedAt})
}

// DeleteProduct removes the product and releases its slug.
func (r *CatalogRepository) DeleteProduct(ctx context.Context, productID string) error {
	if r == nil || r.provider == nil {
		return errors.New("catalog repository not initialised")
	}
	docRef, err := r.products.DocumentRef(ctx, strings.TrimSpace(productID))
	if err != nil {
		return err
	}
	slugs, err := r.slugCollection(ctx, productSlugCollection)
	if err != nil {
		return err
	}
	return r.deleteWithSlug(ctx, docRef, slugs)
}

// FindProduct loads a single product.
func (r *CatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("catalog repository not initialised")
	}
	doc, err := r.products.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListProducts returns products newest first, optionally narrowed to a category or subcategory.
func (r *CatalogRepository) ListProducts(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("catalog repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	limit := clampPageSize(filter.Pagination.PageSize, defaultProductPageSize, maxProductPageSize)
	query := client.Collection(productCollection).Query
	if categoryID := strings.TrimSpace(filter.CategoryID); categoryID != "" {
		query = query.Where("categoryId", "==", categoryID)
	}
	if subcategoryID := strings.TrimSpace(filter.SubcategoryID); subcategoryID != "" {
		query = query.Where("subcategoryId", "==", subcategoryID)
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("products.list: %w: %v", repositories.ErrInvalidPageToken, err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}
	query = query.Limit(limit + 1)

	iter := query.Documents(ctx)
	defer iter.Stop()

	products := make([]domain.Product, 0, limit)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("products.list: decode %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	products, next, err := pagination.Trim(products, limit, func(p domain.Product) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	return domain.CursorPage[domain.Product]{Items: products, NextPageToken: next}, nil
}

// InsertCategory stores a new category and claims its slug.
func (r *CatalogRepository) InsertCategory(ctx context.Context, category domain.Category) error {
	if r == nil || r.provider == nil {
		return errors.New("catalog repository not initialised")
	}
	docRef, err := r.categories.DocumentRef(ctx, strings.TrimSpace(category.ID))
	if err != nil {
		return err
	}
	slugs, err := r.slugCollection(ctx, categorySlugCollection)
	if err != nil {
		return err
	}
	doc := fromDomainCategory(category)
	return r.insertWithSlug(ctx, sluggedWrite{op: "categories.insert", docRef: docRef, slugs: slugs, slug: doc.Slug, payload: doc, createdAt: doc.CreatedAt})
}

// UpdateCategory overwrites an existing category.
func (r *CatalogRepository) UpdateCategory(ctx context.Context, category domain.Category) error {
	if r == nil || r.provider == nil {
		return errors.New("catalog repository not initialised")
	}
	docRef, err := r.categories.DocumentRef(ctx, strings.TrimSpace(category.ID))
	if err != nil {
		return err
	}
	slugs, err := r.slugCollection(ctx, categorySlugCollection)
	if err != nil {
		return err
	}
	doc := fromDomainCategory(category)
	return r.updateWithSlug(ctx, sluggedWrite{op: "categories.update", docRef: docRef, slugs: slugs, slug: doc.Slug, payload: doc, createdAt: doc.UpdatedAt})
}

// DeleteCategory removes the category and releases its slug.
func (r *CatalogRepository) DeleteCategory(ctx context.Context, categoryID string) error {
	if r == nil || r.provider == nil {
		return errors.New("catalog repository not initialised")
	}
	docRef, err := r.categories.DocumentRef(ctx, strings.TrimSpace(categoryID))
	if err != nil {
		return err
	}
	slugs, err := r.slugCollection(ctx, categorySlugCollection)
	if err != nil {
		return err
	}
	return r.deleteWithSlug(ctx, docRef, slugs)
}

// FindCategory loads a single category.
func (r *CatalogRepository) FindCategory(ctx context.Context, categoryID string) (domain.Category, error) {
	if r == nil || r.categories == nil {
		return domain.Category{}, errors.New("catalog repository not initialised")
	}
	doc, err := r.categories.Get(ctx, strings.TrimSpace(categoryID))
	if err != nil {
		return domain.Category{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListCategories returns every category ordered by name.
func (r *CatalogRepository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	if r == nil || r.categories == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	docs, err := r.categories.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("name", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Category, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}

// InsertSubcategory stores a new subcategory.
func (r *CatalogRepository) InsertSubcategory(ctx context.Context, subcategory domain.Subcategory) error {
	if r == nil || r.subcategories == nil {
		return errors.New("catalog repository not initialised")
	}
	_, err := r.subcategories.Create(ctx, strings.TrimSpace(subcategory.ID), fromDomainSubcategory(subcategory))
	return err
}

// UpdateSubcategory overwrites an existing subcategory.
func (r *CatalogRepository) UpdateSubcategory(ctx context.Context, subcategory domain.Subcategory) error {
	if r == nil || r.subcategories == nil {
		return errors.New("catalog repository not initialised")
	}
	doc := fromDomainSubcategory(subcategory)
	_, err := r.subcategories.Update(ctx, strings.TrimSpace(subcategory.ID), []firestore.Update{
		{Path: "categoryId", Value: doc.CategoryID},
		{Path: "name", Value: doc.Name},
		{Path: "slug", Value: doc.Slug},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	})
	return err
}

// DeleteSubcategory removes the subcategory.
func (r *CatalogRepository) DeleteSubcategory(ctx context.Context, subcategoryID string) error {
	if r == nil || r.subcategories == nil {
		return errors.New("catalog repository not initialised")
	}
	return r.subcategories.Delete(ctx, strings.TrimSpace(subcategoryID), firestore.Exists)
}

// FindSubcategory loads a single subcategory.
func (r *CatalogRepository) FindSubcategory(ctx context.Context, subcategoryID string) (domain.Subcategory, error) {
	if r == nil || r.subcategories == nil {
		return domain.Subcategory{}, errors.New("catalog repository not initialised")
	}
	doc, err := r.subcategories.Get(ctx, strings.TrimSpace(subcategoryID))
	if err != nil {
		return domain.Subcategory{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListSubcategories returns subcategories ordered by name. An empty categoryID lists all of them.
func (r *CatalogRepository) ListSubcategories(ctx context.Context, categoryID string) ([]domain.Subcategory, error) {
	if r == nil || r.subcategories == nil {
		return nil, errors.New("catalog repository not initialised")
	}
	categoryID = strings.TrimSpace(categoryID)
	docs, err := r.subcategories.Query(ctx, func(q firestore.Query) firestore.Query {
		if categoryID != "" {
			q = q.Where("categoryId", "==", categoryID)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Subcategory, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type productDocument struct {
	Name          string    `firestore:"name"`
	Slug          string    `firestore:"slug"`
	Description   string    `firestore:"description,omitempty"`
	Price         int64     `firestore:"price"`
	Currency      string    `firestore:"currency"`
	Stock         int       `firestore:"stock"`
	Colors        []string  `firestore:"colors,omitempty"`
	Sizes         []string  `firestore:"sizes,omitempty"`
	Images        []string  `firestore:"images,omitempty"`
	CategoryID    string    `firestore:"categoryId"`
	SubcategoryID string    `firestore:"subcategoryId,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

type categoryDocument struct {
	Name      string    `firestore:"name"`
	Slug      string    `firestore:"slug"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type subcategoryDocument struct {
	CategoryID string    `firestore:"categoryId"`
	Name       string    `firestore:"name"`
	Slug       string    `firestore:"slug"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func fromDomainProduct(p domain.Product) productDocument {
	return productDocument{
		Name:          p.Name,
		Slug:          p.Slug,
		Description:   p.Description,
		Price:         p.Price,
		Currency:      strings.ToUpper(p.Currency),
		Stock:         p.Stock,
		Colors:        append([]string(nil), p.Colors...),
		Sizes:         append([]string(nil), p.Sizes...),
		Images:        append([]string(nil), p.Images...),
		CategoryID:    p.CategoryID,
		SubcategoryID: p.SubcategoryID,
		CreatedAt:     p.CreatedAt.UTC(),
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:            id,
		Name:          d.Name,
		Slug:          d.Slug,
		Description:   d.Description,
		Price:         d.Price,
		Currency:      d.Currency,
		Stock:         d.Stock,
		Colors:        append([]string(nil), d.Colors...),
		Sizes:         append([]string(nil), d.Sizes...),
		Images:        append([]string(nil), d.Images...),
		CategoryID:    d.CategoryID,
		SubcategoryID: d.SubcategoryID,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
}

func fromDomainCategory(c domain.Category) categoryDocument {
	return categoryDocument{Name: c.Name, Slug: c.Slug, CreatedAt: c.CreatedAt.UTC(), UpdatedAt: c.UpdatedAt.UTC()}
}

func (d categoryDocument) toDomain(id string) domain.Category {
	return domain.Category{ID: id, Name: d.Name, Slug: d.Slug, CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC()}
}

func fromDomainSubcategory(s domain.Subcategory) subcategoryDocument {
	return subcategoryDocument{
		CategoryID: s.CategoryID,
		Name:       s.Name,
		Slug:       s.Slug,
		CreatedAt:  s.CreatedAt.UTC(),
		UpdatedAt:  s.UpdatedAt.UTC(),
	}
}

func (d subcategoryDocument) toDomain(id string) domain.Subcategory {
	return domain.Subcategory{
		ID:         id,
		CategoryID: d.CategoryID,
		Name:       d.Name,
		Slug:       d.Slug,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
