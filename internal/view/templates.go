package view

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/aerarium-app/aerarium/internal/authz"
	"github.com/aerarium-app/aerarium/internal/shared"
	"github.com/aerarium-app/aerarium/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
	printer   *message.Printer
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	Permissions authz.Permission
	Data        any
}

// NewEngine parses the embedded templates once at startup.
func NewEngine() (*Engine, error) {
	printer := message.NewPrinter(language.English)
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"hasPermission": func(granted authz.Permission, name string) bool {
			for _, def := range authz.Definitions() {
				if def.Name == name {
					return granted.Has(def.Permission)
				}
			}
			return false
		},
		"permissionChecked": func(granted, p authz.Permission) bool {
			return granted.Has(p)
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates,
		"templates/layouts/*.html",
		"templates/partials/*.html",
		"templates/pages/*.html",
		"templates/pages/*/*.html",
	)
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl, printer: printer}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}

// Printer returns the message printer used for localized presentation
// strings such as listing summaries.
func (e *Engine) Printer() *message.Printer {
	return e.printer
}
