package di

import (
	"context"
	"testing"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/services"
)

type stubAccounts struct{ repositories.AccountRepository }
type stubCatalog struct{ repositories.CatalogRepository }
type stubCarts struct{ repositories.CartRepository }
type stubOrders struct{ repositories.OrderRepository }
type stubTokens struct{ services.TokenIssuer }
type stubPasswords struct{ services.PasswordHasher }
type stubGateways struct{ services.PaymentGateways }

type stubHealth struct{}

func (stubHealth) Collect(context.Context) (domain.SystemHealthReport, error) {
	return domain.SystemHealthReport{Status: domain.HealthStatusOK}, nil
}

type stubRegistry struct {
	health repositories.HealthRepository
	closed bool
}

func (r *stubRegistry) Close(context.Context) error {
	r.closed = true
	return nil
}

func (r *stubRegistry) Accounts() repositories.AccountRepository { return stubAccounts{} }
func (r *stubRegistry) Catalog() repositories.CatalogRepository  { return stubCatalog{} }
func (r *stubRegistry) Carts() repositories.CartRepository       { return stubCarts{} }
func (r *stubRegistry) Orders() repositories.OrderRepository     { return stubOrders{} }
func (r *stubRegistry) Health() repositories.HealthRepository    { return r.health }

func baseInfra() Infrastructure {
	return Infrastructure{
		Tokens:    stubTokens{},
		Passwords: stubPasswords{},
	}
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), config.Config{}, nil, baseInfra()); err == nil {
		t.Fatalf("expected error when registry missing")
	}
}

func TestNewContainerRequiresTokenIssuer(t *testing.T) {
	infra := baseInfra()
	infra.Tokens = nil
	if _, err := NewContainer(context.Background(), config.Config{}, &stubRegistry{}, infra); err == nil {
		t.Fatalf("expected error when token issuer missing")
	}
}

func TestNewContainerSkipsPaymentsWithoutGateways(t *testing.T) {
	c, err := NewContainer(context.Background(), config.Config{}, &stubRegistry{health: stubHealth{}}, baseInfra())
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if c.Services.Auth == nil || c.Services.Catalog == nil || c.Services.Cart == nil || c.Services.Orders == nil {
		t.Fatalf("expected core services wired, got %+v", c.Services)
	}
	if c.Services.Payments != nil {
		t.Fatalf("expected payments disabled without gateways")
	}
	if c.Services.System == nil {
		t.Fatalf("expected system service when health repository present")
	}
}

func TestNewContainerWiresPayments(t *testing.T) {
	infra := baseInfra()
	infra.Gateways = stubGateways{}
	c, err := NewContainer(context.Background(), config.Config{}, &stubRegistry{}, infra)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if c.Services.Payments == nil {
		t.Fatalf("expected payment service")
	}
	if c.Services.System != nil {
		t.Fatalf("expected no system service without health repository")
	}
}

func TestContainerCloseDelegatesToRegistry(t *testing.T) {
	reg := &stubRegistry{}
	c, err := NewContainer(context.Background(), config.Config{}, reg, baseInfra())
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !reg.closed {
		t.Fatalf("expected registry closed")
	}
	var nilContainer *Container
	if err := nilContainer.Close(context.Background()); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}
