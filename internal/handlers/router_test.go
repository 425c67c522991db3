package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/requestctx"
	"github.com/storefront/api/internal/services"
)

func serve(router http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON error body, got %q: %v", rr.Body.String(), err)
	}
	return body.Error
}

func tagHeader(name, value string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(name, value)
			next.ServeHTTP(w, r)
		})
	}
}

func TestRouterProbes(t *testing.T) {
	svc := &stubSystemService{report: services.SystemHealthReport{
		Status: domain.HealthStatusOK,
		Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
	}}
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(
		WithHealthSystemService(svc),
		WithHealthClock(func() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) }),
	)))

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := serve(router, http.MethodGet, path)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("%s: expected JSON response", path)
		}
	}
	if svc.calls != 1 {
		t.Fatalf("expected readyz to consult the system service once, got %d", svc.calls)
	}
	if rr := serve(router, http.MethodPost, "/healthz"); rr.Code != http.StatusMethodNotAllowed || errorCode(t, rr) != "method_not_allowed" {
		t.Fatalf("expected 405 method_not_allowed, got %d", rr.Code)
	}
}

func TestRouterUnregisteredGroupsAnswer501(t *testing.T) {
	router := NewRouter()
	paths := []string{
		"/api/auth/login",
		"/api/products",
		"/api/categories/cat_1",
		"/api/subcategories",
		"/api/cart",
		"/api/orders/ord_1/cancel",
		"/api/payments/checkout",
		"/api/payments/webhooks/paystack",
	}
	for _, path := range paths {
		rr := serve(router, http.MethodPost, path)
		if rr.Code != http.StatusNotImplemented || errorCode(t, rr) != "not_implemented" {
			t.Fatalf("%s: expected 501 not_implemented, got %d", path, rr.Code)
		}
	}
	if rr := serve(router, http.MethodGet, "/api/unknown"); rr.Code != http.StatusNotFound || errorCode(t, rr) != "route_not_found" {
		t.Fatalf("expected 404 route_not_found, got %d", rr.Code)
	}
}

func TestRouterMountsRegistrars(t *testing.T) {
	var seenKey string
	router := NewRouter(
		WithRoutes(GroupProducts, func(r chi.Router) {
			r.Get("/{productID}", func(w http.ResponseWriter, r *http.Request) {
				seenKey = requestctx.ClientKey(r.Context())
				w.Header().Set("X-Product", chi.URLParam(r, "productID"))
				w.WriteHeader(http.StatusOK)
			})
		}),
		WithRoutes(GroupCart, func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
		}),
	)

	rr := serve(router, http.MethodGet, "/api/products/prod_42")
	if rr.Code != http.StatusOK || rr.Header().Get("X-Product") != "prod_42" {
		t.Fatalf("unexpected product response %d %q", rr.Code, rr.Header().Get("X-Product"))
	}
	if seenKey != "192.0.2.1" {
		t.Fatalf("expected client key from remote address, got %q", seenKey)
	}
	if rr := serve(router, http.MethodGet, "/api/cart"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected cart 204, got %d", rr.Code)
	}
}

func TestRouterWebhooksNestUnderPayments(t *testing.T) {
	var checkouts, webhooks int
	router := NewRouter(
		WithRoutes(GroupPayments, func(r chi.Router) {
			r.Post("/checkout", func(w http.ResponseWriter, _ *http.Request) {
				checkouts++
				w.WriteHeader(http.StatusCreated)
			})
		}),
		WithRoutes(GroupWebhooks, func(r chi.Router) {
			r.Post("/{gateway}", func(w http.ResponseWriter, r *http.Request) {
				webhooks++
				if gw := chi.URLParam(r, "gateway"); gw != "flutterwave" {
					t.Errorf("unexpected gateway %q", gw)
				}
				w.WriteHeader(http.StatusOK)
			})
		}),
		WithGroupMiddlewares(GroupWebhooks, tagHeader("X-Webhook", "1")),
		WithGroupMiddlewares(GroupPayments, tagHeader("X-Payments", "1")),
	)

	rr := serve(router, http.MethodPost, "/api/payments/checkout")
	if rr.Code != http.StatusCreated || rr.Header().Get("X-Webhook") != "" || rr.Header().Get("X-Payments") != "1" {
		t.Fatalf("checkout: %d headers %v", rr.Code, rr.Header())
	}

	rr = serve(router, http.MethodPost, "/api/payments/webhooks/flutterwave")
	if rr.Code != http.StatusOK || rr.Header().Get("X-Webhook") != "1" || rr.Header().Get("X-Payments") != "1" {
		t.Fatalf("webhook: %d headers %v", rr.Code, rr.Header())
	}
	if checkouts != 1 || webhooks != 1 {
		t.Fatalf("expected one hit each, got checkout=%d webhook=%d", checkouts, webhooks)
	}
}

func TestRouterGroupMiddlewareWrapsFallback(t *testing.T) {
	router := NewRouter(WithGroupMiddlewares(GroupWebhooks, tagHeader("X-Webhook", "1")))

	rr := serve(router, http.MethodPost, "/api/payments/webhooks/stripe")
	if rr.Code != http.StatusNotImplemented || rr.Header().Get("X-Webhook") != "1" {
		t.Fatalf("expected 501 through webhook middleware, got %d headers %v", rr.Code, rr.Header())
	}
	if rr := serve(router, http.MethodGet, "/api/orders"); rr.Header().Get("X-Webhook") != "" {
		t.Fatalf("webhook middleware leaked into orders group")
	}
}

func TestRouterGlobalMiddlewareOrder(t *testing.T) {
	var order []string
	record := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	router := NewRouter(WithMiddlewares(record("cors"), nil, record("logger")))
	serve(router, http.MethodGet, "/healthz")

	if len(order) != 2 || order[0] != "cors" || order[1] != "logger" {
		t.Fatalf("unexpected middleware order %v", order)
	}
}

func TestTimeoutExceptUpgrades(t *testing.T) {
	var deadlines []bool
	handler := timeoutExceptUpgrades(time.Minute)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, ok := r.Context().Deadline()
		deadlines = append(deadlines, ok)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	upgrade := httptest.NewRequest(http.MethodGet, "/api/orders/notifications", nil)
	upgrade.Header.Set("Connection", "Upgrade")
	upgrade.Header.Set("Upgrade", "websocket")
	handler.ServeHTTP(httptest.NewRecorder(), upgrade)

	if len(deadlines) != 2 || !deadlines[0] || deadlines[1] {
		t.Fatalf("expected a deadline only on the plain request, got %v", deadlines)
	}
}
