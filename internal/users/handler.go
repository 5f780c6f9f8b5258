package users

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/platform/httpx"
	"github.com/caseflow/caseflow/internal/rbac"
	"github.com/caseflow/caseflow/internal/shared"
	"github.com/caseflow/caseflow/internal/view"
)

// Handler manages user management endpoints.
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

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthenticated)
		r.Get("/", h.listUsers)
		r.Get("/new", h.showCreateUserForm)
		r.Post("/", h.createUser)
		r.Get("/{id}", h.showUser)
		r.Get("/{id}/edit", h.showEditUserForm)
		r.Post("/{id}/edit", h.updateUser)
		r.Patch("/{id}", h.updateUser)
		r.Post("/{id}/password", h.changePassword)
		r.Post("/{id}/delete", h.deleteUser)
		r.Delete("/{id}", h.deleteUser)
	})
}

type formErrors map[string]string

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ListUsersRequest{Search: q.Get("search"), Status: Status(q.Get("status")), Page: shared.ParsePageRequest(q)}
	rows, pagination, err := h.service.List(r.Context(), rbac.PrincipalFromContext(r.Context()), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if shared.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, map[string]any{"users": rows, "pagination": pagination})
		return
	}
	h.render(w, r, "pages/users_list.html", map[string]any{
		"Users":      rows,
		"Pagination": pagination,
		"Filters":    req,
		"Statuses":   Statuses,
	}, http.StatusOK)
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if shared.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, detail)
		return
	}
	h.render(w, r, "pages/user_detail.html", map[string]any{"Detail": detail, "Errors": formErrors{}}, http.StatusOK)
}

func (h *Handler) showCreateUserForm(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	h.render(w, r, "pages/user_form.html", map[string]any{
		"Errors":         formErrors{},
		"Roles":          h.service.roles.AssignableRoles(p),
		"Statuses":       Statuses,
		"IdempotencyKey": uuid.NewString(),
	}, http.StatusOK)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
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
		roleID, _ := strconv.ParseInt(r.PostFormValue("user_role_id"), 10, 64)
		req = CreateUserRequest{
			FirstName:      r.PostFormValue("first_name"),
			Surname:        r.PostFormValue("surname"),
			Email:          r.PostFormValue("email"),
			RoleID:         roleID,
			Status:         Status(r.PostFormValue("status")),
			Password:       r.PostFormValue("password"),
			Language:       r.PostFormValue("language"),
			IdempotencyKey: r.PostFormValue(shared.IdempotencyFormField),
		}
	}

	p := rbac.PrincipalFromContext(r.Context())
	user, err := h.service.Create(r.Context(), p, req)
	if err != nil {
		if shared.WantsJSON(r) {
			h.fail(w, r, err)
			return
		}
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			h.redirectWithFlash(w, r, "/users", "info", "This form was already submitted")
			return
		}
		status := httpx.StatusOf(err)
		if status != http.StatusBadRequest && status != http.StatusConflict {
			h.fail(w, r, err)
			return
		}
		errs := formErrors(shared.FieldErrors(err))
		errs["general"] = shared.UserSafeMessage(err)
		req.Password = ""
		h.render(w, r, "pages/user_form.html", map[string]any{
			"Errors":         errs,
			"Form":           req,
			"Roles":          h.service.roles.AssignableRoles(p),
			"Statuses":       Statuses,
			"IdempotencyKey": uuid.NewString(),
		}, status)
		return
	}
	if shared.WantsJSON(r) {
		httpx.JSON(w, http.StatusCreated, user)
		return
	}
	h.redirectWithFlash(w, r, "/users/"+strconv.FormatInt(user.ID, 10), "success", "User created")
}

func (h *Handler) showEditUserForm(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !detail.Privilege.Has(authz.ActionUpdate) && !detail.CanChangeRole && !detail.CanChangeStatus {
		h.fail(w, r, authz.ErrForbidden)
		return
	}
	h.render(w, r, "pages/user_form.html", map[string]any{
		"Errors":   formErrors{},
		"Detail":   detail,
		"Roles":    detail.AssignableRoles,
		"Statuses": Statuses,
	}, http.StatusOK)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req UpdateUserRequest
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
		req = updateFromForm(r)
	}

	p := rbac.PrincipalFromContext(r.Context())
	user, err := h.service.Update(r.Context(), p, id, req)
	if err != nil {
		if shared.WantsJSON(r) || httpx.StatusOf(err) != http.StatusBadRequest {
			h.fail(w, r, err)
			return
		}
		detail, getErr := h.service.Get(r.Context(), p, id)
		if getErr != nil {
			h.fail(w, r, getErr)
			return
		}
		errs := formErrors(shared.FieldErrors(err))
		errs["general"] = shared.UserSafeMessage(err)
		h.render(w, r, "pages/user_form.html", map[string]any{
			"Errors":   errs,
			"Detail":   detail,
			"Roles":    detail.AssignableRoles,
			"Statuses": Statuses,
		}, http.StatusBadRequest)
		return
	}
	if shared.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, user)
		return
	}
	h.redirectWithFlash(w, r, "/users/"+strconv.FormatInt(id, 10), "success", "User updated")
}

func updateFromForm(r *http.Request) UpdateUserRequest {
	var req UpdateUserRequest
	str := func(key string) *string {
		if _, ok := r.PostForm[key]; !ok {
			return nil
		}
		v := r.PostFormValue(key)
		return &v
	}
	req.FirstName = str("first_name")
	req.Surname = str("surname")
	req.Email = str("email")
	req.Theme = str("theme")
	req.Language = str("language")
	if v := str("user_role_id"); v != nil {
		if id, err := strconv.ParseInt(*v, 10, 64); err == nil {
			req.RoleID = &id
		}
	}
	if v := str("status"); v != nil && *v != "" {
		status := Status(*v)
		req.Status = &status
	}
	return req
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	var req ChangePasswordRequest
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
		req = ChangePasswordRequest{OldPassword: r.PostFormValue("old_password"), NewPassword: r.PostFormValue("new_password")}
	}
	err := h.service.ChangePassword(r.Context(), rbac.PrincipalFromContext(r.Context()), id, req)
	location := "/users/" + strconv.FormatInt(id, 10)
	switch {
	case err == nil && shared.WantsJSON(r):
		w.WriteHeader(http.StatusNoContent)
	case err == nil:
		h.redirectWithFlash(w, r, location, "success", "Password changed")
	case shared.WantsJSON(r):
		if errors.Is(err, shared.ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Password", "the current password is wrong")
			return
		}
		h.fail(w, r, err)
	case errors.Is(err, shared.ErrInvalidCredentials):
		h.redirectWithFlash(w, r, location, "danger", "The current password is wrong")
	case httpx.StatusOf(err) == http.StatusBadRequest:
		h.redirectWithFlash(w, r, location, "danger", "The new password must have at least 8 characters")
	default:
		h.fail(w, r, err)
	}
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	p := rbac.PrincipalFromContext(r.Context())
	if err := h.service.Delete(r.Context(), p, id); err != nil {
		h.fail(w, r, err)
		return
	}
	if shared.WantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if p.UserID == id {
		shared.SessionFromContext(r.Context()).ClearUser()
		http.Redirect(w, r, rbac.LoginPath, http.StatusSeeOther)
		return
	}
	h.redirectWithFlash(w, r, "/users", "success", "User deleted")
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(w, r, shared.ErrNotFound)
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpx.StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("users request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
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
		Title:       "Users",
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

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	shared.SessionFromContext(r.Context()).AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	http.Redirect(w, r, location, http.StatusSeeOther)
}
