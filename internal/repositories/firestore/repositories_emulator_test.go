package firestore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/storefront/api/internal/domain"
	pconfig "github.com/storefront/api/internal/platform/config"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

func emulatorRegistry(t *testing.T) *Registry {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "storefront-test", EmulatorHost: host})
	reg, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func emulatorOrder(id, userID string, created time.Time) domain.Order {
	return domain.Order{
		ID:        id,
		Reference: "ORD-" + id,
		UserID:    userID,
		Shipping: domain.ShippingDetails{
			Name: "Ada Obi", Email: "ada@example.com", Phone: "+2348000000000",
			Address: "1 Marina", Country: "NG", State: "Lagos",
		},
		Items:            []domain.OrderItem{{ProductID: "prd_1", Name: "Tote", Price: 150000, Quantity: 2}},
		TotalAmount:      300000,
		Currency:         "NGN",
		PaymentMethod:    domain.PaymentMethodPaystack,
		PaymentStatus:    domain.PaymentStatusPending,
		OrderStatus:      domain.OrderStatusPending,
		AcceptedOrder:    domain.AcceptancePending,
		CancelOrder:      domain.CancellationPending,
		GatewayReference: "ORD-" + id,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func TestOrderRepositoryEmulator(t *testing.T) {
	reg := emulatorRegistry(t)
	repo := reg.Orders()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user := "usr_" + ulid.Make().String()
	created := time.Now().UTC().Truncate(time.Millisecond)
	first := emulatorOrder("ord_"+ulid.Make().String(), user, created)
	if err := repo.Insert(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}

	clash := emulatorOrder("ord_"+ulid.Make().String(), user, created)
	clash.Reference = first.Reference
	if err := repo.Insert(ctx, clash); !isConflict(err) {
		t.Fatalf("expected reference conflict, got %v", err)
	}

	found, err := repo.FindByReference(ctx, first.Reference)
	if err != nil || found.ID != first.ID {
		t.Fatalf("find by reference: %v %+v", err, found)
	}
	found, err = repo.FindByGatewayReference(ctx, domain.PaymentMethodPaystack, first.GatewayReference)
	if err != nil || found.ID != first.ID {
		t.Fatalf("find by gateway reference: %v %+v", err, found)
	}

	paidAt := created.Add(time.Minute)
	confirm := func(order *domain.Order) error {
		order.PaymentStatus = domain.PaymentStatusSuccess
		order.TransactionID = "trx_1"
		order.PaidAt = &paidAt
		return nil
	}
	paid, err := repo.ConfirmPayment(ctx, first.ID, "paystack:trx_"+first.ID, confirm)
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if paid.PaymentStatus != domain.PaymentStatusSuccess {
		t.Fatalf("expected success, got %s", paid.PaymentStatus)
	}
	if _, err := repo.ConfirmPayment(ctx, first.ID, "paystack:trx_"+first.ID, confirm); !isConflict(err) {
		t.Fatalf("expected payment key conflict, got %v", err)
	}

	invalid := func(order *domain.Order) error {
		order.CancelOrder = domain.CancellationCanceled
		return nil
	}
	if _, err := repo.Mutate(ctx, first.ID, invalid); !errors.Is(err, domain.ErrInvalidOrder) {
		t.Fatalf("expected validation error, got %v", err)
	}

	second := emulatorOrder("ord_"+ulid.Make().String(), user, created.Add(time.Second))
	if err := repo.Insert(ctx, second); err != nil {
		t.Fatalf("insert second: %v", err)
	}
	page, err := repo.List(ctx, repositories.OrderListFilter{UserID: user, Pagination: domain.Pagination{PageSize: 1}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != second.ID || page.NextPageToken == "" {
		t.Fatalf("unexpected first page %+v", page)
	}
	page, err = repo.List(ctx, repositories.OrderListFilter{UserID: user, Pagination: domain.Pagination{PageSize: 1, PageToken: page.NextPageToken}})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != first.ID || page.NextPageToken != "" {
		t.Fatalf("unexpected second page %+v", page)
	}
	pending, err := repo.List(ctx, repositories.OrderListFilter{UserID: user, PaymentStatus: []domain.PaymentStatus{domain.PaymentStatusPending}})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending.Items) != 1 || pending.Items[0].ID != second.ID {
		t.Fatalf("expected only the unpaid order, got %+v", pending.Items)
	}
	if _, err := repo.List(ctx, repositories.OrderListFilter{Pagination: domain.Pagination{PageToken: "%%%"}}); !errors.Is(err, repositories.ErrInvalidPageToken) {
		t.Fatalf("expected invalid page token, got %v", err)
	}

	if err := repo.Delete(ctx, second.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.FindByReference(ctx, second.Reference); !isNotFound(err) {
		t.Fatalf("expected reference released, got %v", err)
	}
	reuse := emulatorOrder("ord_"+ulid.Make().String(), user, created)
	reuse.Reference = second.Reference
	if err := repo.Insert(ctx, reuse); err != nil {
		t.Fatalf("expected released reference to be reusable: %v", err)
	}
}

func TestAccountRepositoryEmulator(t *testing.T) {
	reg := emulatorRegistry(t)
	repo := reg.Accounts()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	email := ulid.Make().String() + "@example.com"
	now := time.Now().UTC().Truncate(time.Millisecond)
	account := domain.Account{ID: "usr_" + ulid.Make().String(), Kind: domain.AccountKindUser, Name: "Ada", Email: email, PasswordHash: "hash", CreatedAt: now, UpdatedAt: now}
	if err := repo.Insert(ctx, account); err != nil {
		t.Fatalf("insert: %v", err)
	}
	twin := account
	twin.ID = "usr_" + ulid.Make().String()
	if err := repo.Insert(ctx, twin); !isConflict(err) {
		t.Fatalf("expected email conflict, got %v", err)
	}
	admin := account
	admin.ID = "adm_" + ulid.Make().String()
	admin.Kind = domain.AccountKindAdmin
	if err := repo.Insert(ctx, admin); err != nil {
		t.Fatalf("same email as admin should be allowed: %v", err)
	}

	expires := now.Add(time.Hour)
	account.ResetTokenHash = "hash-" + account.ID
	account.ResetTokenExpiresAt = &expires
	if err := repo.Update(ctx, account); err != nil {
		t.Fatalf("update: %v", err)
	}
	found, err := repo.FindByResetTokenHash(ctx, domain.AccountKindUser, account.ResetTokenHash)
	if err != nil || found.ID != account.ID {
		t.Fatalf("find by reset token: %v %+v", err, found)
	}
	found, err = repo.FindByEmail(ctx, domain.AccountKindUser, "  "+email)
	if err != nil || found.ID != account.ID {
		t.Fatalf("find by email: %v %+v", err, found)
	}
	if _, err := repo.FindByID(ctx, domain.AccountKindAdmin, account.ID); !isNotFound(err) {
		t.Fatalf("expected kinds to be separated, got %v", err)
	}
}

func TestCartRepositoryEmulator(t *testing.T) {
	reg := emulatorRegistry(t)
	repo := reg.Carts()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user := "usr_" + ulid.Make().String()
	if _, err := repo.GetCart(ctx, user); !isNotFound(err) {
		t.Fatalf("expected missing cart, got %v", err)
	}
	cart := domain.Cart{UserID: user, Items: []domain.CartItem{{ID: "itm_1", ProductID: "prd_1", Name: "Tote", Price: 100, Quantity: 1}}}
	saved, err := repo.UpsertCart(ctx, cart, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.UpsertCart(ctx, cart, nil); !isConflict(err) {
		t.Fatalf("expected create-only conflict, got %v", err)
	}

	loaded, err := repo.GetCart(ctx, user)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stale := saved.UpdatedAt
	loaded.Items[0].Quantity = 3
	if _, err := repo.UpsertCart(ctx, loaded, &stale); err != nil {
		t.Fatalf("conditional update: %v", err)
	}
	if _, err := repo.UpsertCart(ctx, loaded, &stale); !isConflict(err) {
		t.Fatalf("expected stale write conflict, got %v", err)
	}

	if err := repo.DeleteCart(ctx, user); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.DeleteCart(ctx, user); !isNotFound(err) {
		t.Fatalf("expected not found deleting twice, got %v", err)
	}
}

func TestCatalogRepositoryEmulator(t *testing.T) {
	reg := emulatorRegistry(t)
	repo := reg.Catalog()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	suffix := ulid.Make().String()
	now := time.Now().UTC().Truncate(time.Millisecond)
	category := domain.Category{ID: "cat_" + suffix, Name: "Bags", Slug: "bags-" + suffix, CreatedAt: now, UpdatedAt: now}
	if err := repo.InsertCategory(ctx, category); err != nil {
		t.Fatalf("insert category: %v", err)
	}
	dup := category
	dup.ID = "cat_dup_" + suffix
	if err := repo.InsertCategory(ctx, dup); !isConflict(err) {
		t.Fatalf("expected slug conflict, got %v", err)
	}

	product := domain.Product{
		ID: "prd_" + suffix, Name: "Tote", Slug: "tote-" + suffix, Price: 450050, Currency: "ngn",
		Stock: 3, CategoryID: category.ID, CreatedAt: now, UpdatedAt: now,
	}
	if err := repo.InsertProduct(ctx, product); err != nil {
		t.Fatalf("insert product: %v", err)
	}
	page, err := repo.ListProducts(ctx, repositories.ProductListFilter{CategoryID: category.ID})
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Currency != "NGN" {
		t.Fatalf("unexpected products %+v", page.Items)
	}

	product.Slug = "tote-renamed-" + suffix
	if err := repo.UpdateProduct(ctx, product); err != nil {
		t.Fatalf("update product: %v", err)
	}
	reuse := product
	reuse.ID = "prd_reuse_" + suffix
	reuse.Slug = "tote-" + suffix
	if err := repo.InsertProduct(ctx, reuse); err != nil {
		t.Fatalf("expected old slug released: %v", err)
	}

	if err := repo.DeleteProduct(ctx, product.ID); err != nil {
		t.Fatalf("delete product: %v", err)
	}
	if _, err := repo.FindProduct(ctx, product.ID); !isNotFound(err) {
		t.Fatalf("expected product removed, got %v", err)
	}
	if err := repo.DeleteCategory(ctx, "cat_missing_"+suffix); !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
