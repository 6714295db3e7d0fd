package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/aerarium-app/aerarium/internal/auth"
	"github.com/aerarium-app/aerarium/internal/authz"
	"github.com/aerarium-app/aerarium/internal/observability"
	"github.com/aerarium-app/aerarium/internal/roles"
	"github.com/aerarium-app/aerarium/internal/shared"
	"github.com/aerarium-app/aerarium/internal/users"
	"github.com/aerarium-app/aerarium/internal/view"
	"github.com/aerarium-app/aerarium/jobs"
	"github.com/aerarium-app/aerarium/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Templates       *view.Engine
	SessionManager  *shared.SessionManager
	CSRFManager     *shared.CSRFManager
	AuthHandler     *auth.Handler
	RolesHandler    *roles.Handler
	UsersHandler    *users.Handler
	JobHandler      *jobs.Handler
	AuthzMiddleware authz.Middleware
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router for the application.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == "" {
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
			return
		}

		csrfToken, _ := params.CSRFManager.EnsureToken(r.Context(), sess)
		flash := sess.PopFlash()
		var granted authz.Permission
		if userID, ok := shared.CurrentUserID(r.Context()); ok && params.AuthzMiddleware.Resolver != nil {
			granted, _ = params.AuthzMiddleware.Resolver.PermissionsForUser(r.Context(), userID)
		}
		data := view.TemplateData{
			Title:       "Aerarium",
			CSRFToken:   csrfToken,
			Flash:       flash,
			CurrentPath: r.URL.Path,
			Permissions: granted,
			Data: map[string]any{
				"AppEnv": params.Config.AppEnv,
			},
		}
		if err := params.Templates.Render(w, "pages/home.html", data); err != nil {
			params.Logger.Error("render home", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Route("/administration", func(r chi.Router) {
		r.Use(params.AuthzMiddleware.RequireLogin("/auth/login"))
		params.RolesHandler.MountRoutes(r)
		params.UsersHandler.MountAdminRoutes(r)
		if params.JobHandler != nil {
			params.JobHandler.MountStatusPage(r)
		}
	})

	r.Route("/profile", func(r chi.Router) {
		params.UsersHandler.MountTokenRoutes(r)
		r.Group(func(r chi.Router) {
			r.Use(params.AuthzMiddleware.RequireLogin("/auth/login"))
			params.UsersHandler.MountProfileRoutes(r)
		})
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountHealth)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers so
// browsers keep assets for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
