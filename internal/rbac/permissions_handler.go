package rbac

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/platform/httpx"
	"github.com/caseflow/caseflow/internal/shared"
	"github.com/caseflow/caseflow/internal/view"
)

// PermissionsHandler shows the effective policy matrix to administrators.
type PermissionsHandler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(authz.RoleAdmin))
		r.Get("/", h.showMatrix)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthenticated)
		r.Get("/{kind}/{id}", h.showGrant)
	})
}

func (h *PermissionsHandler) showGrant(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	kind := authz.ResourceKind(chi.URLParam(r, "kind"))
	grant, err := h.service.GrantFor(r.Context(), PrincipalFromContext(r.Context()), kind, id, r.URL.Query().Get("column"))
	if err != nil {
		if httpx.StatusOf(err) == http.StatusInternalServerError {
			h.logger.Error("resolve grant", slog.String("kind", string(kind)), slog.Int64("id", id), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grant)
}

func (h *PermissionsHandler) showMatrix(w http.ResponseWriter, r *http.Request) {
	matrix := h.service.PolicyMatrix()
	if shared.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, matrix)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	viewData := view.TemplateData{
		Title:       "Permissions",
		CSRFToken:   csrfToken,
		Flash:       sess.PopFlash(),
		CurrentPath: r.URL.Path,
		User:        ViewUser(r.Context()),
		Data:        map[string]any{"Matrix": matrix},
	}
	if err := h.templates.Respond(w, http.StatusOK, "pages/permissions.html", viewData); err != nil {
		h.logger.Error("render permissions", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
