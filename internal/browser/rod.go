package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// closeTimeout bounds cleanup calls that must run even after the request context is gone.
const closeTimeout = 5 * time.Second

const connectTimeout = 30 * time.Second

// RodLauncher starts local headless Chromium processes through go-rod.
type RodLauncher struct {
	// Bin is an explicit Chromium binary. When empty the launcher looks one up on the host.
	Bin       string
	NoSandbox bool
	Logger    *slog.Logger
}

// Launch starts a browser and connects to it. The process outlives ctx; ctx only
// aborts the connection handshake.
func (l RodLauncher) Launch(ctx context.Context) (Engine, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	launch := launcher.New().
		Headless(true).
		NoSandbox(l.NoSandbox).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-first-run").
		Set("no-zygote").
		Set("disable-accelerated-2d-canvas")

	if bin := strings.TrimSpace(l.Bin); bin != "" {
		launch = launch.Bin(bin)
	} else if path, ok := launcher.LookPath(); ok {
		launch = launch.Bin(path)
	}

	controlURL, err := launch.Launch()
	if err != nil {
		launch.Cleanup()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	// rod binds the browser's event bus to the context given at Connect, so the engine
	// must never inherit a request's cancellation. The handshake is bounded separately.
	b := rod.New().ControlURL(controlURL).Context(context.WithoutCancel(ctx))
	connected := make(chan error, 1)
	go func() { connected <- b.Connect() }()

	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()
	select {
	case err = <-connected:
	case <-timer.C:
		err = errors.New("handshake timed out")
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		launch.Kill()
		launch.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	logger.Debug("chromium started", slog.Int("pid", launch.PID()))
	return &rodEngine{browser: b, launch: launch}, nil
}

type rodEngine struct {
	browser *rod.Browser
	launch  *launcher.Launcher

	closeOnce sync.Once
	closeErr  error
}

func (e *rodEngine) Connected(ctx context.Context) bool {
	_, err := e.browser.Context(ctx).Version()
	return err == nil
}

func (e *rodEngine) NewPage(ctx context.Context) (Page, error) {
	incognito, err := e.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("create browsing context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		return nil, errors.Join(fmt.Errorf("open page: %w", err), incognito.Context(closeCtx).Close())
	}
	return &rodPage{page: page, context: incognito}, nil
}

func (e *rodEngine) Close() error {
	e.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := e.browser.Context(closeCtx).Close(); err != nil {
			e.closeErr = fmt.Errorf("close browser: %w", err)
		}
		e.launch.Kill()
		e.launch.Cleanup()
	})
	return e.closeErr
}

type rodPage struct {
	page    *rod.Page
	context *rod.Browser

	closeOnce sync.Once
	closeErr  error
}

func (p *rodPage) SetViewport(ctx context.Context, vp Viewport) error {
	return p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: vp.DeviceScaleFactor,
	})
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	wait := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := page.Navigate(url); err != nil {
		return err
	}
	wait()
	return ctx.Err()
}

func (p *rodPage) Eval(ctx context.Context, js string, args ...any) (string, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return "", err
	}
	if res.Value.Nil() {
		return "", nil
	}
	return res.Value.Str(), nil
}

func (p *rodPage) WaitElement(ctx context.Context, selector string) error {
	_, err := p.page.Context(ctx).Element(selector)
	return err
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	return p.page.Context(ctx).HTML()
}

func (p *rodPage) PDF(ctx context.Context, opts PDFOptions) ([]byte, error) {
	reader, err := p.page.Context(ctx).PDF(&proto.PagePrintToPDF{
		PrintBackground:     opts.PrintBackground,
		PaperWidth:          float64Ptr(opts.PaperWidth),
		PaperHeight:         float64Ptr(opts.PaperHeight),
		MarginTop:           float64Ptr(opts.MarginTop),
		MarginBottom:        float64Ptr(opts.MarginBottom),
		MarginLeft:          float64Ptr(opts.MarginLeft),
		MarginRight:         float64Ptr(opts.MarginRight),
		PreferCSSPageSize:   opts.PreferCSSPageSize,
		DisplayHeaderFooter: opts.DisplayHeaderFooter,
	})
	if err != nil {
		return nil, fmt.Errorf("print to pdf: %w", err)
	}
	defer func() {
		_ = reader.Close()
	}()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read pdf bytes: %w", err)
	}
	return data, nil
}

// Close closes the page and disposes of its browsing context.
func (p *rodPage) Close() error {
	p.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		var errs []error
		if err := p.page.Context(closeCtx).Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		if err := p.context.Context(closeCtx).Close(); err != nil {
			errs = append(errs, fmt.Errorf("dispose browsing context: %w", err))
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

func float64Ptr(value float64) *float64 {
	return &value
}
