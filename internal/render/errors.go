package render

import (
	"errors"
	"net/http"
	"strings"
)

// Kind classifies rendering failures.
type Kind string

const (
	KindPoolInit            Kind = "POOL_INITIALIZATION"
	KindNavigation          Kind = "NAVIGATION"
	KindTimeout             Kind = "RENDER_TIMEOUT"
	KindSnapshot            Kind = "SNAPSHOT"
	KindUnsupportedTemplate Kind = "UNSUPPORTED_TEMPLATE"
	KindCanceled            Kind = "CANCELED"
)

// Summary is the short, client-facing description of a kind.
func (k Kind) Summary() string {
	switch k {
	case KindPoolInit:
		return "Failed to start the rendering engine"
	case KindNavigation:
		return "Failed to load the preview page"
	case KindTimeout:
		return "Timed out waiting for the document to render"
	case KindSnapshot:
		return "Failed to generate PDF"
	case KindUnsupportedTemplate:
		return "Unsupported template"
	case KindCanceled:
		return "Request canceled"
	default:
		return "Failed to generate PDF"
	}
}

// HTTPStatus maps a kind onto a response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnsupportedTemplate:
		return http.StatusBadRequest
	case KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is returned by every rendering step.
type Error struct {
	Kind Kind
	// Op is the step that failed, e.g. "render.navigate".
	Op string
	// Message describes the failure in one line.
	Message string
	// Detail carries diagnostics that are logged but never sent to clients,
	// such as the page HTML captured on a readiness timeout.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// HTTPStatus returns the status for e's kind.
func (e *Error) HTTPStatus() int {
	return e.Kind.HTTPStatus()
}

// Reason returns the message with the underlying cause, suitable for the details field of a response.
func (e *Error) Reason() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind, true
	}
	return "", false
}

func newError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// PoolInitializationError wraps a failure to obtain an engine.
func PoolInitializationError(err error) *Error {
	return newError(KindPoolInit, "render.acquire", "browser engine unavailable", err)
}

// UnsupportedTemplateError rejects an unknown template identifier.
func UnsupportedTemplateError(id string, err error) *Error {
	return newError(KindUnsupportedTemplate, "render.validate", "template \""+id+"\" is not supported", err)
}
