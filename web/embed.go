// Package web carries the server-rendered pages and assets compiled into the binary.
package web

import (
	"embed"
	"io/fs"
)

// Templates holds layouts, partials and pages. Parse them with TemplateGlobs.
//
//go:embed templates/layouts/*.html templates/partials/*.html templates/pages/*.html
var Templates embed.FS

//go:embed static/css/*.css
var static embed.FS

// TemplateGlobs lists the template groups in parse order; pages may use every layout and partial.
var TemplateGlobs = []string{"templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html"}

// Assets returns the static files rooted so request paths below /static/ map onto them.
func Assets() (fs.FS, error) {
	return fs.Sub(static, "static")
}
