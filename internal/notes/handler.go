package notes

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/caseflow/caseflow/internal/platform/httpx"
	"github.com/caseflow/caseflow/internal/rbac"
	"github.com/caseflow/caseflow/internal/shared"
)

// Handler serves the note endpoints. Browser forms are answered with a redirect to the
// client page.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountClientRoutes registers the routes below /clients/{id}/notes.
func (h *Handler) MountClientRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthenticated)
		r.Get("/", h.listNotes)
		r.Post("/", h.createNote)
		r.Post("/main", h.upsertMain)
		r.Put("/main", h.upsertMain)
	})
}

// MountRoutes registers the routes below /notes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthenticated)
		r.Patch("/{noteID}", h.updateNote)
		r.Post("/{noteID}/edit", h.updateNote)
		r.Delete("/{noteID}", h.deleteNote)
		r.Post("/{noteID}/delete", h.deleteNote)
	})
}

func clientLocation(clientID int64) string {
	return "/clients/" + strconv.FormatInt(clientID, 10) + "#notes"
}

func (h *Handler) listNotes(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.param(w, r, "id")
	if !ok {
		return
	}
	views, err := h.service.ListForClient(r.Context(), rbac.PrincipalFromContext(r.Context()), clientID)
	if err != nil {
		h.fail(w, r, err, clientID)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"notes": views})
}

func (h *Handler) createNote(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.param(w, r, "id")
	if !ok {
		return
	}
	var req CreateNoteRequest
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
		req = CreateNoteRequest{Message: r.PostFormValue("message"), Hidden: r.PostFormValue("hidden") == "on"}
	}
	note, err := h.service.Create(r.Context(), rbac.PrincipalFromContext(r.Context()), clientID, req)
	if err != nil {
		h.fail(w, r, err, clientID)
		return
	}
	if shared.WantsJSON(r) {
		httpx.JSON(w, http.StatusCreated, note)
		return
	}
	h.redirectWithFlash(w, r, clientLocation(clientID), "success", "Note added")
}

func (h *Handler) upsertMain(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.param(w, r, "id")
	if !ok {
		return
	}
	var req MainNoteRequest
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
		req = MainNoteRequest{Message: r.PostFormValue("message")}
	}
	note, err := h.service.UpsertMain(r.Context(), rbac.PrincipalFromContext(r.Context()), clientID, req)
	if err != nil {
		h.fail(w, r, err, clientID)
		return
	}
	if shared.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, note)
		return
	}
	h.redirectWithFlash(w, r, clientLocation(clientID), "success", "Main note saved")
}

func (h *Handler) updateNote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.param(w, r, "noteID")
	if !ok {
		return
	}
	var req UpdateNoteRequest
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
		if _, ok := r.PostForm["message"]; ok {
			msg := r.PostFormValue("message")
			req.Message = &msg
		}
		hidden := r.PostFormValue("hidden") == "on"
		req.Hidden = &hidden
	}
	note, err := h.service.Update(r.Context(), rbac.PrincipalFromContext(r.Context()), id, req)
	if err != nil {
		h.fail(w, r, err, h.backTo(r))
		return
	}
	if shared.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, note)
		return
	}
	h.redirectWithFlash(w, r, clientLocation(note.ClientID), "success", "Note updated")
}

func (h *Handler) deleteNote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.param(w, r, "noteID")
	if !ok {
		return
	}
	note, err := h.service.Delete(r.Context(), rbac.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, r, err, h.backTo(r))
		return
	}
	if shared.WantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.redirectWithFlash(w, r, clientLocation(note.ClientID), "success", "Note deleted")
}

// backTo reads the client id a form posts along, 0 when absent.
func (h *Handler) backTo(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.PostFormValue("client_id"), 10, 64)
	return id
}

func (h *Handler) param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		if shared.WantsJSON(r) {
			httpx.RespondError(w, shared.ErrNotFound)
		} else {
			http.NotFound(w, r)
		}
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, clientID int64) {
	status := httpx.StatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("notes request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	if shared.WantsJSON(r) {
		httpx.RespondError(w, err)
		return
	}
	location := "/clients"
	if clientID > 0 {
		location = clientLocation(clientID)
	}
	h.redirectWithFlash(w, r, location, "danger", shared.UserSafeMessage(err))
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	shared.SessionFromContext(r.Context()).AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	http.Redirect(w, r, location, http.StatusSeeOther)
}
