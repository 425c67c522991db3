package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	accounts *AccountRepository
	catalog  *CatalogRepository
	carts    *CartRepository
	orders   *OrderRepository
	health   repositories.HealthRepository
}

// NewRegistry builds every repository on the shared provider. Extra probes (cache, messaging)
// are reported next to the Firestore probe by the health repository.
func NewRegistry(provider *pfirestore.Provider, probes ...repositories.Probe) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}

	accounts, err := NewAccountRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}

	all := append([]repositories.Probe{{Name: "firestore", Check: provider.Ping}}, probes...)
	health, err := repositories.NewProbeHealthRepository(all)
	if err != nil {
		return nil, fmt.Errorf("firestore registry: %w", err)
	}

	return &Registry{
		provider: provider,
		accounts: accounts,
		catalog:  catalog,
		carts:    carts,
		orders:   orders,
		health:   health,
	}, nil
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Accounts() repositories.AccountRepository { return r.accounts }

func (r *Registry) Catalog() repositories.CatalogRepository { return r.catalog }

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

var _ repositories.Registry = (*Registry)(nil)
