package layout

import (
	"errors"
	"fmt"
	"strings"
)

// Template identifies one of the visual résumé layouts.
type Template string

const (
	Classic Template = "classic"
	Modern  Template = "modern"
	Minimal Template = "minimal"
)

// Default is used when a request names no template.
const Default = Classic

// ErrUnsupportedTemplate is returned by Parse for unknown identifiers.
var ErrUnsupportedTemplate = errors.New("unsupported template")

// All lists the supported templates in display order.
func All() []Template {
	return []Template{Classic, Modern, Minimal}
}

// Supported reports whether t names a known layout.
func (t Template) Supported() bool {
	switch t {
	case Classic, Modern, Minimal:
		return true
	default:
		return false
	}
}

func (t Template) String() string {
	return string(t)
}

// Parse resolves a template identifier. An empty identifier selects Default.
func Parse(raw string) (Template, error) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if id == "" {
		return Default, nil
	}
	t := Template(id)
	if !t.Supported() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedTemplate, raw)
	}
	return t, nil
}
