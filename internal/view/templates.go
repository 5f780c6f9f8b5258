package view

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/shared"
	"github.com/caseflow/caseflow/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// CurrentUser is the signed-in account as shown in the layout.
type CurrentUser struct {
	ID       int64
	Name     string
	Role     authz.RoleName
	Theme    string
	Language string
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title          string
	CSRFToken      string
	Flash          *shared.FlashMessage
	CurrentPath    string
	User           *CurrentUser
	CaptchaSiteKey string
	Data           any
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	tpl, err := template.New("root").Funcs(funcMap()).ParseFS(web.Templates, web.TemplateGlobs...)
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"formatDay": func(t *time.Time) string {
			if t == nil || t.IsZero() {
				return ""
			}
			return t.Format("2006-01-02")
		},
		// hasPrivilege reports whether a verdict token includes an action verb.
		"hasPrivilege": func(p authz.Privilege, action string) bool {
			a, ok := authz.ParseAction(action)
			return ok && p.Has(a)
		},
		"roleName": func(role authz.RoleName) string {
			return role.DisplayName()
		},
		"add": func(a, b int) int { return a + b },
		// deref and derefID print optional columns without "<nil>".
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"derefID": func(id *int64) int64 {
			if id == nil {
				return 0
			}
			return *id
		},
		"isID": func(id *int64, want int64) bool {
			return id != nil && *id == want
		},
	}
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}

// Respond renders into a buffer first so template failures never leave a half written page.
func (e *Engine) Respond(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
