package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ristoro.dev/internal/audit"
	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/menu"
	"ristoro.dev/internal/obs"
	"ristoro.dev/internal/orders"
	"ristoro.dev/internal/stream"
	"ristoro.dev/internal/users"
)

const serviceName = "ristoro-api"

// ReadyProbe reports whether dependencies are reachable.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

type readyFunc func(ctx context.Context) error

func (f readyFunc) Ping(ctx context.Context) error { return f(ctx) }

// AlwaysReady is the probe for the in-memory configuration.
var AlwaysReady ReadyProbe = readyFunc(func(context.Context) error { return nil })

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Verifier *auth.TokenVerifier
	Users    *users.Service
	Orders   *orders.Service
	Menu     *menu.Service
	Audit    *audit.Logger
	Events   *stream.Stream
	Ready    ReadyProbe

	// PaymentSecret, when set, is required to sign gateway callbacks.
	PaymentSecret string
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	deps    Deps
	version string

	rateBurst  int
	ratePerSec float64
	origins    []string
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-IP token bucket.
func WithRateLimit(burst int, perSec float64) Option {
	return func(a *API) {
		if burst > 0 && perSec > 0 {
			a.rateBurst = burst
			a.ratePerSec = perSec
		}
	}
}

// WithCORSOrigins sets the allowed browser origins.
func WithCORSOrigins(origins []string) Option {
	return func(a *API) { a.origins = origins }
}

func New(deps Deps, version string, opts ...Option) (*API, error) {
	if deps.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if deps.Users == nil || deps.Orders == nil || deps.Menu == nil {
		return nil, errors.New("users, orders and menu services are required")
	}
	if deps.Ready == nil {
		deps.Ready = AlwaysReady
	}
	a := &API{
		mux:        http.NewServeMux(),
		deps:       deps,
		version:    version,
		rateBurst:  200,
		ratePerSec: 100,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	// identity
	a.mux.HandleFunc("/v1/me", a.handleMe)
	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	// orders
	a.mux.HandleFunc("/v1/orders", a.handleOrdersCollection)
	a.mux.HandleFunc("/v1/orders/", a.handleOrderResource)
	a.mux.HandleFunc("/v1/orders/stream", a.Stream)
	a.mux.HandleFunc("/v1/analytics/orders", a.handleOrderStats)
	a.mux.HandleFunc("/v1/payments/callback", a.handlePaymentCallback)

	// menu
	a.mux.HandleFunc("/v1/menu/meals", a.handleMealsCollection)
	a.mux.HandleFunc("/v1/menu/meals/", a.handleMealResource)
	a.mux.HandleFunc("/v1/menu/categories", a.handleCategoriesCollection)
	a.mux.HandleFunc("/v1/menu/categories/", a.handleCategoryResource)

	// audit
	a.mux.HandleFunc("/v1/audit", a.handleAudit)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a, nil
}

// Handler returns the fully wrapped handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = obs.Instrument(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.origins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Ping(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        serviceName,
		"time":        time.Now().UTC().Format(time.RFC3339),
		"version":     a.version,
		"roles":       auth.Roles(),
		"permissions": auth.Vocabulary,
	})
}
