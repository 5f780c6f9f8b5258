package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/caseflow/caseflow/internal/auth"
	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/clients"
	"github.com/caseflow/caseflow/internal/dashboard"
	"github.com/caseflow/caseflow/internal/notes"
	"github.com/caseflow/caseflow/internal/observability"
	"github.com/caseflow/caseflow/internal/rbac"
	"github.com/caseflow/caseflow/internal/roles"
	"github.com/caseflow/caseflow/internal/shared"
	"github.com/caseflow/caseflow/internal/users"
	"github.com/caseflow/caseflow/jobs"
	"github.com/caseflow/caseflow/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	SessionManager     *shared.SessionManager
	CSRFManager        *shared.CSRFManager
	RBACMiddleware     rbac.Middleware
	AuthHandler        *auth.Handler
	DashboardHandler   *dashboard.Handler
	ClientsHandler     *clients.Handler
	NotesHandler       *notes.Handler
	UsersHandler       *users.Handler
	RolesHandler       *roles.Handler
	PermissionsHandler *rbac.PermissionsHandler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with caseflow defaults.
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
	r.Use(params.RBACMiddleware.LoadPrincipal)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := rbac.AccountFromContext(r.Context()); !ok {
			http.Redirect(w, r, rbac.LoginPath, http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	if params.DashboardHandler != nil {
		r.Route("/dashboard", params.DashboardHandler.MountRoutes)
	}
	if params.ClientsHandler != nil {
		r.Route("/clients", func(r chi.Router) {
			params.ClientsHandler.MountRoutes(r)
			if params.NotesHandler != nil {
				// Shares the {id} parameter of the client routes.
				r.Route("/{id}/notes", params.NotesHandler.MountClientRoutes)
			}
		})
	}
	if params.NotesHandler != nil {
		r.Route("/notes", params.NotesHandler.MountRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
	}
	if params.RolesHandler != nil {
		r.Route("/roles", params.RolesHandler.MountRoutes)
	}
	if params.PermissionsHandler != nil {
		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.RBACMiddleware.RequireRole(authz.RoleAdmin))
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := web.Assets()
	if err != nil {
		params.Logger.Error("open embedded assets", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// staticCacheHandler lets browsers cache embedded assets for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
