package layout

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"strings"

	"cvforge/internal/resume"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var funcs = template.FuncMap{
	"join": strings.Join,
	"until": func(e resume.Experience) string {
		if e.Current {
			return "Present"
		}
		return e.EndDate
	},
}

var markupTemplates = template.Must(
	template.New("layout").Funcs(funcs).ParseFS(templateFS, "templates/*.tmpl"),
)

// Render writes the document markup for r in the given layout.
// The output is an HTML fragment meant to be placed inside the preview shell.
func Render(w io.Writer, t Template, r resume.Resume) error {
	if !t.Supported() {
		return fmt.Errorf("%w: %q", ErrUnsupportedTemplate, string(t))
	}
	var buf bytes.Buffer
	if err := markupTemplates.ExecuteTemplate(&buf, string(t), r); err != nil {
		return fmt.Errorf("render %s markup: %w", t, err)
	}
	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("write %s markup: %w", t, err)
	}
	return nil
}
