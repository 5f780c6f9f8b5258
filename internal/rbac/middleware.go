package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/platform/httpx"
	"github.com/caseflow/caseflow/internal/shared"
)

// LoginPath is where anonymous HTML requests are redirected.
const LoginPath = "/auth/login"

// Middleware wires principal loading and role guards for HTTP handlers.
type Middleware struct {
	Directory Directory
	Evaluator *authz.Evaluator
	Logger    *slog.Logger
}

// LoadPrincipal resolves the session user into an Account once per request. Sessions whose
// user vanished or was deactivated are signed out.
func (m Middleware) LoadPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		userID, ok := sess.UserID()
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		acc, err := m.Directory.Account(r.Context(), userID)
		if err != nil {
			if errors.Is(err, ErrAccountUnavailable) {
				m.Logger.Info("signing out unavailable account", slog.Int64("user_id", userID))
				sess.ClearUser()
				next.ServeHTTP(w, r)
				return
			}
			m.Logger.Error("load principal", slog.Int64("user_id", userID), slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithAccount(r.Context(), acc)))
	})
}

// RequireAuthenticated rejects anonymous requests: HTML clients are redirected to the login
// page, JSON clients receive 401.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := AccountFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		if shared.WantsJSON(r) {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		target := LoginPath
		if r.Method == http.MethodGet {
			target += "?next=" + url.QueryEscape(r.URL.RequestURI())
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	})
}

// RequireRole admits principals at least as privileged as role.
func (m Middleware) RequireRole(role authz.RoleName) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.RequireAuthenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.Evaluator.AtLeast(PrincipalFromContext(r.Context()), role) {
				next.ServeHTTP(w, r)
				return
			}
			m.Logger.Warn("role guard denied request", slog.String("path", r.URL.Path), slog.String("required", string(role)))
			if shared.WantsJSON(r) {
				httpx.RespondError(w, httpx.ErrForbidden)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		}))
	}
}
