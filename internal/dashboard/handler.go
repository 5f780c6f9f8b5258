package dashboard

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/caseflow/caseflow/internal/platform/httpx"
	"github.com/caseflow/caseflow/internal/rbac"
	"github.com/caseflow/caseflow/internal/shared"
	"github.com/caseflow/caseflow/internal/view"
)

// Handler serves the dashboard.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbac}
}

// MountRoutes registers dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthenticated)
		r.Get("/", h.showDashboard)
		r.Post("/panels/{panel}", h.togglePanel)
	})
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) showDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Load(r.Context(), rbac.PrincipalFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if shared.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, d)
		return
	}
	h.render(w, r, "pages/dashboard.html", map[string]any{"Dashboard": d}, http.StatusOK)
}

func (h *Handler) togglePanel(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if shared.WantsJSON(r) {
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		req.Enabled = r.PostFormValue("enabled") == "on" || r.PostFormValue("enabled") == "true"
	}
	p := rbac.PrincipalFromContext(r.Context())
	if err := h.service.TogglePanel(r.Context(), p, p.UserID, Panel(chi.URLParam(r, "panel")), req.Enabled); err != nil {
		h.fail(w, r, err)
		return
	}
	if shared.WantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpx.StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("dashboard request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	if shared.WantsJSON(r) {
		httpx.RespondError(w, err)
		return
	}
	h.render(w, r, "pages/error.html", map[string]any{"Status": status, "Message": shared.UserSafeMessage(err)}, status)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	viewData := view.TemplateData{
		Title:       "Dashboard",
		CSRFToken:   csrfToken,
		Flash:       sess.PopFlash(),
		CurrentPath: r.URL.Path,
		User:        rbac.ViewUser(r.Context()),
		Data:        data,
	}
	if err := h.templates.Respond(w, status, template, viewData); err != nil {
		h.logger.Error("render template", slog.String("template", template), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
