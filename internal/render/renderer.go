package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"cvforge/internal/browser"
	"cvforge/internal/correlation"
	"cvforge/internal/layout"
	"cvforge/internal/resume"
)

const (
	// DiagnosticExcerptLen is how much page HTML a readiness timeout keeps for logs.
	DiagnosticExcerptLen = 1000

	diagnosticsTimeout = 5 * time.Second
)

// injectScript publishes the data on window and wakes up a shell that is already listening.
const injectScript = `(data) => {
  window.__cvData = data;
  window.dispatchEvent(new CustomEvent("cvDataReady", { detail: data }));
}`

// readyStateScript reports the marker's state as "ok" or "error:<message>".
const readyStateScript = `(selector) => {
  const el = document.querySelector(selector);
  if (!el) {
    return "missing";
  }
  if (el.getAttribute("data-state") === "error") {
    return "error:" + (el.getAttribute("data-error") || "");
  }
  return "ok";
}`

// Request is an immutable render job.
type Request struct {
	Data     resume.Resume
	Template layout.Template
}

// DiagnosticsSink keeps the full page HTML of sessions that never became ready.
type DiagnosticsSink interface {
	SaveTimeoutHTML(ctx context.Context, name string, html string) error
}

// Options configures a Renderer. Zero durations fall back to the defaults below.
type Options struct {
	PreviewBaseURL    string
	NavigationTimeout time.Duration
	RendezvousTimeout time.Duration
	SettleDelay       time.Duration
	Viewport          browser.Viewport
	PDF               browser.PDFOptions
	Diagnostics       DiagnosticsSink
	Logger            *slog.Logger
}

// DefaultOptions returns the production timings for a preview server at baseURL.
func DefaultOptions(baseURL string) Options {
	return Options{
		PreviewBaseURL:    baseURL,
		NavigationTimeout: 30 * time.Second,
		RendezvousTimeout: 10 * time.Second,
		SettleDelay:       200 * time.Millisecond,
		Viewport:          browser.Viewport{Width: 794, Height: 1123, DeviceScaleFactor: 3},
		PDF:               browser.A4(),
	}
}

// Renderer drives one page session per call on a leased engine.
type Renderer struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewRenderer validates opts and fills in missing values.
func NewRenderer(opts Options) (*Renderer, error) {
	defaults := DefaultOptions(opts.PreviewBaseURL)
	if strings.TrimSpace(opts.PreviewBaseURL) == "" {
		return nil, errors.New("render: preview base url is required")
	}
	if _, err := url.ParseRequestURI(opts.PreviewBaseURL); err != nil {
		return nil, fmt.Errorf("render: preview base url: %w", err)
	}
	opts.PreviewBaseURL = strings.TrimRight(opts.PreviewBaseURL, "/")
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = defaults.NavigationTimeout
	}
	if opts.RendezvousTimeout <= 0 {
		opts.RendezvousTimeout = defaults.RendezvousTimeout
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.Viewport.Width <= 0 || opts.Viewport.Height <= 0 {
		opts.Viewport = defaults.Viewport
	}
	if opts.PDF.PaperWidth <= 0 || opts.PDF.PaperHeight <= 0 {
		opts.PDF = defaults.PDF
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		opts:   opts,
		logger: logger.With(slog.String("component", "renderer")),
		now:    time.Now,
	}, nil
}

// PreviewURL is the page the session navigates to for template t.
func (r *Renderer) PreviewURL(t layout.Template) string {
	return r.opts.PreviewBaseURL + "/preview?template=" + url.QueryEscape(string(t))
}

// Render produces the PDF for req on engine. The browsing context it opens is closed
// before Render returns, whatever the outcome.
func (r *Renderer) Render(ctx context.Context, engine browser.Engine, req Request) (_ []byte, err error) {
	if !req.Template.Supported() {
		return nil, UnsupportedTemplateError(string(req.Template), layout.ErrUnsupportedTemplate)
	}

	logger := r.logger.With(
		slog.String("template", string(req.Template)),
		slog.String("correlation_id", correlation.From(ctx)),
	)
	start := r.now()

	page, err := engine.NewPage(ctx)
	if err != nil {
		return nil, r.fail(ctx, KindNavigation, "render.open", "open browsing context", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			logger.Warn("close render session failed", slog.Any("error", cerr))
		}
	}()

	if err := page.SetViewport(ctx, r.opts.Viewport); err != nil {
		return nil, r.fail(ctx, KindNavigation, "render.viewport", "set viewport", err)
	}

	target := r.PreviewURL(req.Template)
	logger.Debug("navigating to preview", slog.String("url", target))
	navCtx, cancelNav := context.WithTimeout(ctx, r.opts.NavigationTimeout)
	err = page.Navigate(navCtx, target)
	cancelNav()
	if err != nil {
		return nil, r.fail(ctx, KindNavigation, "render.navigate", fmt.Sprintf("load %s", target), err)
	}

	if _, err := page.Eval(ctx, injectScript, req.Data); err != nil {
		return nil, r.fail(ctx, KindNavigation, "render.inject", "inject cv data", err)
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, r.opts.RendezvousTimeout)
	err = page.WaitElement(waitCtx, layout.ReadySelector)
	cancelWait()
	if err != nil {
		if ctx.Err() != nil {
			return nil, r.fail(ctx, KindTimeout, "render.wait_ready", "wait for readiness marker", err)
		}
		return nil, r.timeout(ctx, logger, page, err)
	}

	state, err := page.Eval(ctx, readyStateScript, layout.ReadySelector)
	if err != nil {
		return nil, r.fail(ctx, KindSnapshot, "render.ready_state", "read readiness marker", err)
	}
	if reason, failed := strings.CutPrefix(state, "error:"); failed {
		if reason == "" {
			reason = "unknown error"
		}
		return nil, r.fail(ctx, KindSnapshot, "render.ready_state", "document reported a drawing failure", errors.New(reason))
	}

	if r.opts.SettleDelay > 0 {
		timer := time.NewTimer(r.opts.SettleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, r.fail(ctx, KindSnapshot, "render.settle", "settle", ctx.Err())
		}
	}

	pdf, err := page.PDF(ctx, r.opts.PDF)
	if err != nil {
		return nil, r.fail(ctx, KindSnapshot, "render.pdf", "print to pdf", err)
	}

	logger.Info("document rendered",
		slog.Int("bytes", len(pdf)),
		slog.Duration("elapsed", r.now().Sub(start)),
	)
	return pdf, nil
}

// timeout builds the readiness timeout error with an HTML excerpt and ships the full page to the sink.
func (r *Renderer) timeout(ctx context.Context, logger *slog.Logger, page browser.Page, cause error) error {
	rerr := newError(KindTimeout, "render.wait_ready",
		fmt.Sprintf("readiness marker %s not found within %s", layout.ReadySelector, r.opts.RendezvousTimeout), cause)

	diagCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), diagnosticsTimeout)
	defer cancel()

	html, err := page.HTML(diagCtx)
	if err != nil {
		logger.Warn("capture page html after readiness timeout failed", slog.Any("error", err))
		return rerr
	}
	rerr.Detail = Excerpt(html, DiagnosticExcerptLen)
	logger.Error("readiness marker never appeared", slog.String("html_excerpt", rerr.Detail))

	if r.opts.Diagnostics != nil {
		name := r.diagnosticName(ctx)
		if err := r.opts.Diagnostics.SaveTimeoutHTML(diagCtx, name, html); err != nil {
			logger.Warn("store render diagnostics failed", slog.String("object", name), slog.Any("error", err))
		}
	}
	return rerr
}

func (r *Renderer) diagnosticName(ctx context.Context) string {
	id := correlation.From(ctx)
	if id == "" {
		id = fmt.Sprintf("%d", r.now().UnixNano())
	}
	return r.now().UTC().Format("2006-01-02") + "/" + id + ".html"
}

// fail classifies err. Once the caller's context has ended the failure is reported as a cancellation.
func (r *Renderer) fail(ctx context.Context, kind Kind, op, message string, err error) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return newError(KindCanceled, op, message+" aborted", errors.Join(ctxErr, err))
	}
	return newError(kind, op, message, err)
}

// Excerpt returns at most n runes of s.
func Excerpt(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
