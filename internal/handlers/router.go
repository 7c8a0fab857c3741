package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Babacarjopp/senmedicaltech/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type middlewareChain = []func(http.Handler) http.Handler

// routeGroup is one subtree under /api/v1. A group without a registrar answers 501.
type routeGroup struct {
	path        string
	registrar   RouteRegistrar
	middlewares middlewareChain
}

type routerConfig struct {
	middlewares middlewareChain
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// mountOrder fixes the order route groups are mounted in.
var mountOrder = []string{"/orders", "/admin", "/internal"}

// NewRouter builds the chi router: shared middleware, health endpoints and the order route
// groups under /api/v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: middlewareChain{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
		groups:      make(map[string]*routeGroup, len(mountOrder)),
	}
	for _, path := range mountOrder {
		cfg.groups[path] = &routeGroup{path: path}
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	r.Route(apiPrefix, func(api chi.Router) {
		for _, path := range mountOrder {
			cfg.groups[path].mount(api)
		}
	})
	return r
}

func (g *routeGroup) mount(api chi.Router) {
	api.Route(g.path, func(r chi.Router) {
		for _, mw := range g.middlewares {
			if mw != nil {
				r.Use(mw)
			}
		}
		if g.registrar != nil {
			g.registrar(r)
			return
		}
		notImplemented := func(w http.ResponseWriter, req *http.Request) {
			httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", g.path[1:]), http.StatusNotImplemented))
		}
		r.HandleFunc("/", notImplemented)
		r.HandleFunc("/*", notImplemented)
		r.NotFound(notImplemented)
		r.MethodNotAllowed(notImplemented)
	})
}

// WithMiddlewares appends global middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithOrderRoutes mounts shopper checkout and order history under /orders.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["/orders"].registrar = reg }
}

// WithAdminRoutes mounts the operator console under /admin.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["/admin"].registrar = reg }
}

// WithInternalRoutes mounts scheduler and service-to-service routes under /internal.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["/internal"].registrar = reg }
}

// WithInternalMiddlewares guards the /internal group, typically with OIDC verification.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		group := cfg.groups["/internal"]
		group.middlewares = append(group.middlewares, mw...)
	}
}
