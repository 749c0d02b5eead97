package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/navajothi-jewels/storefront-sync/internal/platform/httpx"
)

// RouteRegistrar adds a route group to r.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

// mount is a route group. Intent groups issue collection mutations and sit behind the intent
// middleware (idempotent retry replay).
type mount struct {
	register RouteRegistrar
	intent   bool
}

type routerConfig struct {
	basePath string
	global   []middlewareFunc
	intent   []middlewareFunc
	health   *HealthHandlers
	mounts   map[string]mount
}

// Option customises NewRouter.
type Option func(*routerConfig)

const requestTimeout = 30 * time.Second

// mountOrder fixes registration order so route conflicts surface deterministically.
var mountOrder = []string{"session", "rates", "collections", "checkout"}

// NewRouter builds the bridge router: request id, real ip and timeout middleware, then any
// WithMiddlewares, health probes at the root and the route groups under the base path.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		global: []middlewareFunc{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
		mounts: make(map[string]mount),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	use(r, cfg.global)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found",
			fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed",
			fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})
	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	groups := func(api chi.Router) {
		intents := api.With(cfg.intent...)
		for _, name := range mountOrder {
			m, ok := cfg.mounts[name]
			if !ok || m.register == nil {
				continue
			}
			if m.intent {
				m.register(intents)
			} else {
				m.register(api)
			}
		}
	}
	if cfg.basePath == "" {
		groups(r)
	} else {
		r.Route(cfg.basePath, groups)
	}
	return r
}

func use(r chi.Router, mws []middlewareFunc) {
	for _, mw := range mws {
		if mw != nil {
			r.Use(mw)
		}
	}
}

func withMount(name string, reg RouteRegistrar, intent bool) Option {
	return func(cfg *routerConfig) {
		cfg.mounts[name] = mount{register: reg, intent: intent}
	}
}

// WithBasePath mounts the route groups under prefix. Health probes stay at the root.
func WithBasePath(prefix string) Option {
	return func(cfg *routerConfig) {
		prefix = strings.Trim(strings.TrimSpace(prefix), "/")
		if prefix != "" {
			prefix = "/" + prefix
		}
		cfg.basePath = prefix
	}
}

// WithMiddlewares appends router-wide middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.global = append(cfg.global, mw...) }
}

// WithIntentMiddlewares wraps only the collection and checkout groups.
func WithIntentMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		for _, m := range mw {
			if m != nil {
				cfg.intent = append(cfg.intent, m)
			}
		}
	}
}

// WithHealthHandlers replaces the default /healthz and /readyz handlers.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

func WithSessionRoutes(reg RouteRegistrar) Option { return withMount("session", reg, false) }

func WithRateRoutes(reg RouteRegistrar) Option { return withMount("rates", reg, false) }

// WithCollectionRoutes mounts the cart and wishlist intent routes.
func WithCollectionRoutes(reg RouteRegistrar) Option { return withMount("collections", reg, true) }

// WithCheckoutRoutes mounts the checkout countdown routes.
func WithCheckoutRoutes(reg RouteRegistrar) Option { return withMount("checkout", reg, true) }
