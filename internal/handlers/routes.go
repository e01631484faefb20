package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/silluthedon/delta/internal/metrics"
	"github.com/silluthedon/delta/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Workspaces Workspaces
	Catalog    CatalogView
	Health     StalenessReporter
	Refresher  CatalogRefresher
	Cache      CacheInvalidator
	Videos     VideoStore
	Profiles   ProfileStore
	Assets     AssetStorage

	AdminEmails    []string
	AllowedOrigins []string
	AuthLimiter    middleware.RateLimiter
	TrustProxy     bool
	Cookies        CookieOptions
	ResolveTimeout time.Duration
	MaxUploadBytes int64
	NowFunc        func() time.Time
}

// NewRouter builds the API router.
func NewRouter(deps Dependencies) http.Handler {
	binder := workspaceBinder{
		workspaces:     deps.Workspaces,
		cookies:        deps.Cookies,
		resolveTimeout: deps.ResolveTimeout,
		adminEmails:    deps.AdminEmails,
	}
	health := HealthHandler{Catalog: deps.Health}
	auth := AuthHandler{binder: binder, workspaces: deps.Workspaces, paymentURL: deps.Catalog.PaymentURL()}
	catalog := CatalogHandler{Catalog: deps.Catalog}
	admin := AdminHandler{
		Videos:     deps.Videos,
		Profiles:   deps.Profiles,
		Assets:     deps.Assets,
		Cache:      deps.Cache,
		Refresher:  deps.Refresher,
		Workspaces: deps.Workspaces,
		MaxUpload:  deps.MaxUploadBytes,
		NowFunc:    deps.NowFunc,
	}

	r := chi.NewRouter()
	if deps.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", health.Handle)
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(binder.attach)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(deps.AuthLimiter, "auth"))
			r.Post("/auth/signin", auth.SignIn)
			r.Post("/auth/signup", auth.SignUp)
		})
		r.Post("/auth/signout", auth.SignOut)
		r.Get("/session", auth.Session)

		r.Group(func(r chi.Router) {
			r.Use(binder.requireSession)

			r.Get("/catalog", catalog.Listing)
			r.Get("/catalog/search", catalog.Search)
			r.Post("/catalog/search/keys", catalog.SearchKey)
			r.Delete("/catalog/search", catalog.ClearSearch)
			r.Get("/videos/{id}", catalog.Detail)
			r.Get("/videos/{id}/playback", catalog.Playback)

			r.Group(func(r chi.Router) {
				r.Use(binder.requireAdmin)
				r.Post("/session/subscription", auth.UpdateSubscription)
				r.Post("/admin/videos", admin.UploadVideo)
				r.Delete("/admin/videos/{id}", admin.DeleteVideo)
				r.Put("/admin/profiles/{id}/subscription", admin.SetSubscription)
			})
		})
	})

	return r
}
