package browser

import (
	"context"
	"errors"
)

// Engine is a running headless browser. A single engine serves many pages concurrently.
type Engine interface {
	// Connected probes the engine. A false result means the process is gone or unreachable.
	Connected(ctx context.Context) bool
	// NewPage opens a blank page inside a fresh isolated browsing context.
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launcher starts new engines. The pool passes a context that is never cancelled, since an
// engine serves many requests after the one that launched it.
type Launcher interface {
	Launch(ctx context.Context) (Engine, error)
}

// Page is one isolated browsing context holding a single page.
// Every method honours ctx; Close releases the page and its context and is safe to call more than once.
type Page interface {
	SetViewport(ctx context.Context, vp Viewport) error
	// Navigate loads url and returns once DOMContentLoaded has fired.
	Navigate(ctx context.Context, url string) error
	// Eval runs a JavaScript function expression with JSON-encodable arguments and
	// returns the result formatted as a string.
	Eval(ctx context.Context, js string, args ...any) (string, error)
	// WaitElement blocks until selector matches an element or ctx ends.
	WaitElement(ctx context.Context, selector string) error
	HTML(ctx context.Context) (string, error)
	PDF(ctx context.Context, opts PDFOptions) ([]byte, error)
	Close() error
}

// Viewport is the emulated screen in CSS pixels.
type Viewport struct {
	Width             int
	Height            int
	DeviceScaleFactor float64
}

// PDFOptions controls print-to-PDF. Sizes are in inches.
type PDFOptions struct {
	PaperWidth          float64
	PaperHeight         float64
	MarginTop           float64
	MarginBottom        float64
	MarginLeft          float64
	MarginRight         float64
	PrintBackground     bool
	PreferCSSPageSize   bool
	DisplayHeaderFooter bool
}

// A4 returns borderless A4 print options with backgrounds enabled.
func A4() PDFOptions {
	return PDFOptions{
		PaperWidth:      8.27,
		PaperHeight:     11.69,
		PrintBackground: true,
	}
}

var (
	// ErrClosed is returned by Acquire and Start after Shutdown.
	ErrClosed = errors.New("browser pool is shut down")
)

// LaunchError reports a failed engine launch. The pool stays usable and retries on the next call.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return "launch browser engine: " + e.Err.Error()
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
