package clients

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/notes"
	"github.com/caseflow/caseflow/internal/platform/httpx"
	"github.com/caseflow/caseflow/internal/rbac"
	"github.com/caseflow/caseflow/internal/shared"
	"github.com/caseflow/caseflow/internal/view"
)

// Handler manages client endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	notes     *notes.Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, noteService *notes.Service, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, notes: noteService, templates: templates, csrf: csrf, rbac: rbac}
}

// MountRoutes registers client routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthenticated)
		r.Get("/", h.listClients)
		r.Get("/new", h.showCreateClientForm)
		r.Post("/", h.createClient)
		r.Get("/{id}", h.showClient)
		r.Get("/{id}/edit", h.showEditClientForm)
		r.Post("/{id}/edit", h.updateClient)
		r.Patch("/{id}", h.updateClient)
		r.Post("/{id}/restore", h.restoreClient)
		r.Post("/{id}/delete", h.deleteClient)
		r.Delete("/{id}", h.deleteClient)
	})
}

type formErrors map[string]string

func parseFilters(q url.Values, p authz.Principal) ListClientsRequest {
	req := ListClientsRequest{
		Search:     q.Get("search"),
		Unassigned: flag(q.Get("unassigned")),
		Deleted:    flag(q.Get("deleted")),
		Page:       shared.ParsePageRequest(q),
	}
	switch v := q.Get("user"); v {
	case "":
	case "me":
		req.UserID = &p.UserID
	default:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			req.UserID = &id
		}
	}
	if id, err := strconv.ParseInt(q.Get("status"), 10, 64); err == nil && id > 0 {
		req.StatusID = &id
	}
	return req
}

func flag(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b || v == "on"
}

func (h *Handler) listClients(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	req := parseFilters(r.URL.Query(), p)
	rows, pagination, err := h.service.List(r.Context(), p, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if shared.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, map[string]any{"clients": rows, "pagination": pagination})
		return
	}
	statuses, err := h.service.Statuses(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/clients_list.html", map[string]any{
		"Clients":    rows,
		"Pagination": pagination,
		"Filters":    req,
		"Statuses":   statuses,
	}, http.StatusOK)
}

func (h *Handler) showClient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	p := rbac.PrincipalFromContext(r.Context())
	detail, err := h.service.Get(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var noteViews []notes.View
	if detail.Client.DeletedAt == nil && detail.Privileges.Notes.Has(authz.ActionRead) {
		if noteViews, err = h.notes.ListForClient(r.Context(), p, id); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if shared.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, map[string]any{"client": detail.Client, "privileges": detail.Privileges, "notes": noteViews})
		return
	}
	statuses, err := h.service.Statuses(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/client_detail.html", map[string]any{
		"Detail":   detail,
		"Notes":    noteViews,
		"Statuses": statuses,
	}, http.StatusOK)
}

func (h *Handler) showCreateClientForm(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.service.Statuses(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/client_form.html", map[string]any{
		"Errors":         formErrors{},
		"Statuses":       statuses,
		"IdempotencyKey": uuid.NewString(),
	}, http.StatusOK)
}

func optionalID(v string) *int64 {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

func (h *Handler) createClient(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	var req CreateClientRequest
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
		req = CreateClientRequest{
			FirstName:       r.PostFormValue("first_name"),
			LastName:        r.PostFormValue("last_name"),
			Birthdate:       r.PostFormValue("birthdate"),
			Location:        r.PostFormValue("location"),
			Phone:           r.PostFormValue("phone"),
			Email:           r.PostFormValue("email"),
			Sex:             r.PostFormValue("sex"),
			ClientMessage:   r.PostFormValue("client_message"),
			VulnerableSince: r.PostFormValue("vulnerable_since"),
			ClientStatusID:  optionalID(r.PostFormValue("client_status_id")),
			IdempotencyKey:  r.PostFormValue(shared.IdempotencyFormField),
		}
		if r.PostFormValue("user_id") == "me" {
			req.UserID = &p.UserID
		} else {
			req.UserID = optionalID(r.PostFormValue("user_id"))
		}
	}

	client, err := h.service.Create(r.Context(), p, req)
	if err != nil {
		if shared.WantsJSON(r) {
			h.fail(w, r, err)
			return
		}
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			h.redirectWithFlash(w, r, "/clients", "info", "This form was already submitted")
			return
		}
		status := httpx.StatusOf(err)
		if status != http.StatusBadRequest {
			h.fail(w, r, err)
			return
		}
		statuses, _ := h.service.Statuses(r.Context())
		errs := formErrors(shared.FieldErrors(err))
		errs["general"] = shared.UserSafeMessage(err)
		h.render(w, r, "pages/client_form.html", map[string]any{
			"Errors":         errs,
			"Form":           req,
			"Statuses":       statuses,
			"IdempotencyKey": uuid.NewString(),
		}, status)
		return
	}
	if shared.WantsJSON(r) {
		httpx.JSON(w, http.StatusCreated, client)
		return
	}
	h.redirectWithFlash(w, r, "/clients/"+strconv.FormatInt(client.ID, 10), "success", "Client created")
}

func (h *Handler) showEditClientForm(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pv := detail.Privileges
	if !pv.PersonalInfo.Has(authz.ActionUpdate) && !pv.Status.Has(authz.ActionUpdate) && !pv.Assignment.Has(authz.ActionUpdate) {
		h.fail(w, r, authz.ErrForbidden)
		return
	}
	statuses, err := h.service.Statuses(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/client_form.html", map[string]any{
		"Errors":   formErrors{},
		"Detail":   detail,
		"Statuses": statuses,
	}, http.StatusOK)
}

func (h *Handler) updateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	var req UpdateClientRequest
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
	h.applyUpdate(w, r, id, req, "Client updated")
}

func (h *Handler) restoreClient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	h.applyUpdate(w, r, id, UpdateClientRequest{Restore: true}, "Client restored")
}

func (h *Handler) applyUpdate(w http.ResponseWriter, r *http.Request, id int64, req UpdateClientRequest, message string) {
	p := rbac.PrincipalFromContext(r.Context())
	client, err := h.service.Update(r.Context(), p, id, req)
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
		statuses, _ := h.service.Statuses(r.Context())
		errs := formErrors(shared.FieldErrors(err))
		errs["general"] = shared.UserSafeMessage(err)
		h.render(w, r, "pages/client_form.html", map[string]any{
			"Errors":   errs,
			"Detail":   detail,
			"Statuses": statuses,
		}, http.StatusBadRequest)
		return
	}
	if shared.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, client)
		return
	}
	h.redirectWithFlash(w, r, "/clients/"+strconv.FormatInt(id, 10), "success", message)
}

// updateFromForm keeps only the submitted fields. An empty user_id unassigns the client.
func updateFromForm(r *http.Request) UpdateClientRequest {
	var req UpdateClientRequest
	str := func(key string) *string {
		if _, ok := r.PostForm[key]; !ok {
			return nil
		}
		v := r.PostFormValue(key)
		return &v
	}
	req.FirstName = str("first_name")
	req.LastName = str("last_name")
	req.Birthdate = str("birthdate")
	req.Location = str("location")
	req.Phone = str("phone")
	req.Email = str("email")
	req.Sex = str("sex")
	req.ClientMessage = str("client_message")
	req.VulnerableSince = str("vulnerable_since")
	if v := str("client_status_id"); v != nil {
		req.ClientStatusID = optionalID(*v)
	}
	if v := str("user_id"); v != nil {
		var owner int64
		if id := optionalID(*v); id != nil {
			owner = *id
		}
		req.UserID = &owner
	}
	return req
}

func (h *Handler) deleteClient(w http.ResponseWriter, r *http.Request) {
	id, ok := h.clientID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), rbac.PrincipalFromContext(r.Context()), id); err != nil {
		h.fail(w, r, err)
		return
	}
	if shared.WantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.redirectWithFlash(w, r, "/clients", "success", "Client deleted")
}

func (h *Handler) clientID(w http.ResponseWriter, r *http.Request) (int64, bool) {
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
		h.logger.Error("clients request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
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
		Title:       "Clients",
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
