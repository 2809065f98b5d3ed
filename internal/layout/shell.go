package layout

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
)

// MarkupPath is where the preview shell posts the injected data to obtain document markup.
const MarkupPath = "/preview/markup"

// ReadySelector is the element the shell appends once drawing has finished or failed.
const ReadySelector = "#pdf-ready"

// DataReadyEvent is the window event the shell listens for after data injection.
const DataReadyEvent = "cvDataReady"

//go:embed shell.html
var shellHTML string

var shellTemplate = template.Must(template.New("shell").Parse(shellHTML))

type shellData struct {
	Template  string
	MarkupURL string
}

// Shell writes the preview page for t. The page starts in a loading state and draws once
// data arrives through window.__cvData or the cvDataReady event, whichever is observed first.
func Shell(w io.Writer, t Template) error {
	if !t.Supported() {
		return fmt.Errorf("%w: %q", ErrUnsupportedTemplate, string(t))
	}
	return shellTemplate.Execute(w, shellData{Template: string(t), MarkupURL: MarkupPath})
}
