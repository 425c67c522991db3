package firestore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"

	"github.com/storefront/api/internal/platform/config"
)

func TestProviderRequiresProjectID(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{})
	if _, err := p.Client(context.Background()); err == nil {
		t.Fatalf("expected error without project id")
	}
}

func TestProviderDefaultsDatabase(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{ProjectID: "shop"})
	if p.databaseID != firestore.DefaultDatabaseID {
		t.Fatalf("expected default database, got %q", p.databaseID)
	}
	p = NewProvider(config.FirestoreConfig{ProjectID: "shop", DatabaseID: " orders-eu "})
	if p.databaseID != "orders-eu" {
		t.Fatalf("expected trimmed database id, got %q", p.databaseID)
	}
}

func TestProviderSharesOneClient(t *testing.T) {
	var dials atomic.Int32
	shared := &firestore.Client{}
	p := NewProvider(config.FirestoreConfig{ProjectID: "shop", EmulatorHost: "localhost:8080"})
	p.dial = func(_ context.Context, projectID, databaseID string, opts ...option.ClientOption) (*firestore.Client, error) {
		dials.Add(1)
		if projectID != "shop" || databaseID != firestore.DefaultDatabaseID {
			t.Errorf("unexpected target %s/%s", projectID, databaseID)
		}
		if len(opts) != 3 {
			t.Errorf("expected emulator options, got %d", len(opts))
		}
		return shared, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client, err := p.Client(context.Background())
			if err != nil || client != shared {
				t.Errorf("Client() = %p, %v", client, err)
			}
		}()
	}
	wg.Wait()

	if _, err := p.Client(context.Background()); err != nil {
		t.Fatalf("Client: %v", err)
	}
	if n := dials.Load(); n < 1 || n > 8 {
		t.Fatalf("unexpected dial count %d", n)
	}
	before := dials.Load()
	_, _ = p.Client(context.Background())
	if dials.Load() != before {
		t.Fatalf("expected cached client after first dial")
	}
}

func TestProviderRetriesFailedDial(t *testing.T) {
	attempts := 0
	p := NewProvider(config.FirestoreConfig{ProjectID: "shop"})
	p.dial = func(context.Context, string, string, ...option.ClientOption) (*firestore.Client, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("connection refused")
		}
		return &firestore.Client{}, nil
	}

	if _, err := p.Client(context.Background()); err == nil {
		t.Fatalf("expected first dial to fail")
	}
	if _, err := p.Client(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 dial attempts, got %d", attempts)
	}
}

func TestProviderClosed(t *testing.T) {
	p := NewProvider(config.FirestoreConfig{ProjectID: "shop"})
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := p.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}
	if err := p.Ping(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected Ping to report closed provider, got %v", err)
	}

	var nilProvider *Provider
	if err := nilProvider.Close(context.Background()); err != nil {
		t.Fatalf("nil Close: %v", err)
	}
}
