package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/caseflow/caseflow/internal/platform/httpx"
	"github.com/caseflow/caseflow/internal/rbac"
	"github.com/caseflow/caseflow/internal/security"
	"github.com/caseflow/caseflow/internal/shared"
	"github.com/caseflow/caseflow/internal/view"
)

// captchaSessionKey marks sessions whose last attempt asked for a captcha.
const captchaSessionKey = "captcha_required"

const neutralResetMessage = "If an account exists for this address, a reset link is on its way."

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	captchaSiteKey string
	limit          func(http.Handler) http.Handler
}

// NewHandler constructs a Handler instance. limit guards the credential and email endpoints
// and may be nil.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, captchaSiteKey string, limit func(http.Handler) http.Handler) *Handler {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		captchaSiteKey: captchaSiteKey,
		limit:          limit,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Get("/password-forgotten", h.showForgotPassword)
	r.Get("/reset-password", h.showResetPassword)
	r.Post("/logout", h.handleLogout)
	r.Group(func(r chi.Router) {
		r.Use(h.limit)
		r.Post("/login", h.handleLogin)
		r.Post("/password-forgotten", h.handleForgotPassword)
		r.Post("/reset-password", h.handleResetPassword)
	})
}

type loginForm struct {
	Email string
	Next  string
}

// safeNext keeps redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/dashboard"
	}
	return next
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if _, ok := rbac.AccountFromContext(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	h.render(w, r, "pages/login.html", "Sign in", map[string]any{
		"Form":    loginForm{Next: r.URL.Query().Get("next")},
		"Errors":  map[string]string{},
		"Captcha": sess.Get(captchaSessionKey) != "",
	}, http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	form := loginForm{Email: r.PostFormValue("email"), Next: r.PostFormValue("next")}
	creds, err := h.service.Login(r.Context(), LoginRequest{
		Email:    form.Email,
		Password: r.PostFormValue("password"),
		Captcha:  r.PostFormValue(security.CaptchaFormField),
		IP:       shared.ClientIP(r),
	})
	if err != nil {
		errs := map[string]string{}
		status := httpx.StatusOf(err)
		captcha := false
		switch secErr, throttled := security.AsSecurityError(err); {
		case throttled:
			errs["general"] = secErr.UserMessage()
			if secErr.RemainingDelay.IsCaptcha() {
				captcha = true
				sess.Set(captchaSessionKey, "1")
			}
		case errors.Is(err, shared.ErrInvalidCredentials), status == http.StatusBadRequest:
			for field, msg := range shared.FieldErrors(err) {
				errs[field] = msg
			}
			errs["general"] = shared.UserSafeMessage(shared.ErrInvalidCredentials)
			if status != http.StatusBadRequest {
				status = http.StatusUnauthorized
			}
			captcha = sess.Get(captchaSessionKey) != ""
		default:
			h.logger.Error("login failed", slog.Any("error", err))
			errs["general"] = shared.UserSafeMessage(err)
		}
		h.render(w, r, "pages/login.html", "Sign in", map[string]any{"Form": form, "Errors": errs, "Captcha": captcha}, status)
		return
	}

	// A fresh id and token for the authenticated session.
	h.sessionManager.Renew(sess)
	h.csrfManager.Rotate(sess)
	sess.Delete(captchaSessionKey)
	sess.SetUser(creds.UserID)
	if err := h.service.RegisterSession(r.Context(), sess.ID, creds.UserID, time.Now().Add(h.sessionManager.TTL()), shared.ClientIP(r), r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back, " + creds.FirstName})
	http.Redirect(w, r, safeNext(form.Next), http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, rbac.LoginPath, http.StatusSeeOther)
}

func (h *Handler) showForgotPassword(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	h.render(w, r, "pages/password_forgotten.html", "Forgot password", map[string]any{
		"Errors":  map[string]string{},
		"Email":   "",
		"Captcha": sess.Get(captchaSessionKey) != "",
	}, http.StatusOK)
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	email := r.PostFormValue("email")
	err := h.service.ForgotPassword(r.Context(), ForgotPasswordRequest{
		Email:   email,
		Captcha: r.PostFormValue(security.CaptchaFormField),
		IP:      shared.ClientIP(r),
	})
	if err != nil {
		errs := map[string]string{}
		captcha := false
		if secErr, ok := security.AsSecurityError(err); ok {
			errs["general"] = secErr.UserMessage()
			if secErr.RemainingDelay.IsCaptcha() {
				captcha = true
				sess.Set(captchaSessionKey, "1")
			}
		} else {
			errs = shared.FieldErrors(err)
			errs["general"] = shared.UserSafeMessage(err)
		}
		h.render(w, r, "pages/password_forgotten.html", "Forgot password", map[string]any{
			"Errors":  errs,
			"Email":   email,
			"Captcha": captcha,
		}, httpx.StatusOf(err))
		return
	}
	sess.Delete(captchaSessionKey)
	sess.AddFlash(shared.FlashMessage{Kind: "info", Message: neutralResetMessage})
	http.Redirect(w, r, rbac.LoginPath, http.StatusSeeOther)
}

func (h *Handler) showResetPassword(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	valid, err := h.service.ResetTokenValid(r.Context(), token)
	if err != nil {
		h.logger.Error("check reset token", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if !valid {
		status = http.StatusGone
	}
	h.render(w, r, "pages/password_reset.html", "Choose a new password", map[string]any{
		"Token":   token,
		"Invalid": !valid,
		"Errors":  map[string]string{},
	}, status)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	req := ResetPasswordRequest{
		Token:           r.PostFormValue("token"),
		Password:        r.PostFormValue("password"),
		PasswordConfirm: r.PostFormValue("password_confirm"),
	}
	err := h.service.ResetPassword(r.Context(), req)
	switch {
	case err == nil:
		shared.SessionFromContext(r.Context()).AddFlash(shared.FlashMessage{Kind: "success", Message: "Your password was changed. Please sign in."})
		http.Redirect(w, r, rbac.LoginPath, http.StatusSeeOther)
	case errors.Is(err, ErrInvalidResetToken):
		h.render(w, r, "pages/password_reset.html", "Choose a new password", map[string]any{
			"Token":   req.Token,
			"Invalid": true,
			"Errors":  map[string]string{},
		}, http.StatusGone)
	case httpx.StatusOf(err) == http.StatusBadRequest:
		errs := shared.FieldErrors(err)
		errs["general"] = shared.UserSafeMessage(err)
		h.render(w, r, "pages/password_reset.html", "Choose a new password", map[string]any{
			"Token":  req.Token,
			"Errors": errs,
		}, http.StatusBadRequest)
	default:
		h.logger.Error("reset password", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template, title string, data map[string]any, status int) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	viewData := view.TemplateData{
		Title:          title,
		CSRFToken:      csrfToken,
		Flash:          sess.PopFlash(),
		CurrentPath:    r.URL.Path,
		User:           rbac.ViewUser(r.Context()),
		CaptchaSiteKey: h.captchaSiteKey,
		Data:           data,
	}
	if err := h.templates.Respond(w, status, template, viewData); err != nil {
		h.logger.Error("render template", slog.String("template", template), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
