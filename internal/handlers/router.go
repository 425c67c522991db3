package handlers

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/storefront/api/internal/platform/httpx"
	"github.com/storefront/api/internal/platform/requestctx"
)

// RouteRegistrar adds a handler set's routes to the group it is mounted on.
type RouteRegistrar func(r chi.Router)

// Group names a route group under /api. Groups without registered routes answer 501.
type Group string

const (
	GroupAuth          Group = "/auth"
	GroupProducts      Group = "/products"
	GroupCategories    Group = "/categories"
	GroupSubcategories Group = "/subcategories"
	GroupCart          Group = "/cart"
	GroupOrders        Group = "/orders"
	GroupPayments      Group = "/payments"
	// GroupWebhooks is nested in GroupPayments at /payments/webhooks.
	GroupWebhooks Group = "/webhooks"
)

var topLevelGroups = []Group{
	GroupAuth,
	GroupProducts,
	GroupCategories,
	GroupSubcategories,
	GroupCart,
	GroupOrders,
	GroupPayments,
}

const (
	apiPrefix      = "/api"
	requestTimeout = 60 * time.Second
)

type groupConfig struct {
	routes      RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[Group]*groupConfig
}

func (c *routerConfig) group(g Group) *groupConfig {
	if c.groups[g] == nil {
		c.groups[g] = &groupConfig{}
	}
	return c.groups[g]
}

// Option configures NewRouter.
type Option func(*routerConfig)

// WithMiddlewares appends middleware applied to every request after the built-in request ID,
// real IP, client key and timeout middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(c *routerConfig) { c.middlewares = append(c.middlewares, mw...) }
}

// WithHealthHandlers serves /healthz and /readyz from h.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(c *routerConfig) { c.health = h }
}

// WithRoutes mounts reg on group. A later call for the same group replaces the earlier one.
func WithRoutes(group Group, reg RouteRegistrar) Option {
	return func(c *routerConfig) { c.group(group).routes = reg }
}

// WithGroupMiddlewares applies mw to group only, including its 501 fallback.
func WithGroupMiddlewares(group Group, mw ...func(http.Handler) http.Handler) Option {
	return func(c *routerConfig) {
		g := c.group(group)
		g.middlewares = append(g.middlewares, mw...)
	}
}

// NewRouter assembles the API: probes at the root and every resource group under /api.
func NewRouter(opts ...Option) chi.Router {
	cfg := &routerConfig{groups: make(map[Group]*groupConfig)}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, clientKeyMiddleware, timeoutExceptUpgrades(requestTimeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed",
			"method "+req.Method+" not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		for _, g := range topLevelGroups {
			api.Route(string(g), cfg.mount(g))
		}
	})
	return r
}

func (c *routerConfig) mount(g Group) func(chi.Router) {
	gc := c.groups[g]
	if gc == nil {
		gc = &groupConfig{}
	}
	return func(sub chi.Router) {
		for _, mw := range gc.middlewares {
			if mw != nil {
				sub.Use(mw)
			}
		}
		if g == GroupPayments {
			sub.Route(string(GroupWebhooks), c.mount(GroupWebhooks))
		}
		if gc.routes != nil {
			gc.routes(sub)
			return
		}
		notImplemented(sub, strings.TrimPrefix(string(g), "/"))
	}
}

// timeoutExceptUpgrades applies middleware.Timeout to every request except websocket upgrades,
// whose connection outlives the request deadline once hijacked.
func timeoutExceptUpgrades(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		bounded := middleware.Timeout(timeout)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if websocket.IsWebSocketUpgrade(r) {
				next.ServeHTTP(w, r)
				return
			}
			bounded.ServeHTTP(w, r)
		})
	}
}

// clientKeyMiddleware records the caller's address for rate limiting. It runs after RealIP.
func clientKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.RemoteAddr)
		if host, _, err := net.SplitHostPort(key); err == nil {
			key = host
		}
		if key != "" {
			r = r.WithContext(requestctx.WithClientKey(r.Context(), key))
		}
		next.ServeHTTP(w, r)
	})
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes not implemented", http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
}
