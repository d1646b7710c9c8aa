// Package browser launches Chrome through rod and exposes its pages as
// driver.Driver.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"orderbot/internal/driver"
)

// ErrAlreadyRunning means another Chrome holds the profile directory.
var ErrAlreadyRunning = errors.New("browser already running with this profile")

type Options struct {
	ProfilePath string
	// ChromePath overrides the system Chrome lookup.
	ChromePath string
	Headless   bool
	// Leakless kills Chrome when this process dies. It is forced off on
	// Windows, where it deadlocks (go-rod/rod#853).
	Leakless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	// KeepOpen leaves Chrome running on Close.
	KeepOpen bool
	Logger   *slog.Logger
}

type Browser struct {
	opts     Options
	log      *slog.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser

	mu    sync.Mutex
	pages []*rod.Page
}

// Launch starts Chrome, preferring the system install over a downloaded
// Chromium.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	b := &Browser{opts: opts, log: log}

	useLeakless := opts.Leakless && runtime.GOOS != "windows"
	b.launcher = launcher.New().
		Context(ctx).
		Leakless(useLeakless).
		Headless(opts.Headless)

	// Must be set before Bin.
	if opts.ProfilePath != "" {
		b.launcher = b.launcher.UserDataDir(opts.ProfilePath)
		log.Debug("browser profile", "path", opts.ProfilePath)
	}

	chromePath, chromeExists := opts.ChromePath, opts.ChromePath != ""
	if !chromeExists {
		chromePath, chromeExists = launcher.LookPath()
	}
	if chromeExists {
		b.launcher = b.launcher.Bin(chromePath)
		log.Info("using system chrome", "path", chromePath)
	} else {
		log.Info("system chrome not found, using downloaded chromium")
	}

	url, err := b.launcher.Launch()
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "Opening in existing browser session") ||
			strings.Contains(msg, "ProcessSingleton") ||
			strings.Contains(msg, "SingletonLock") {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, opts.ProfilePath)
		}
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b.browser = rod.New().ControlURL(url).Context(ctx)
	if err := b.browser.Connect(); err != nil {
		b.launcher.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	return b, nil
}

// NewPage opens a blank tab with the configured user agent and viewport.
// Tabs opened this way share the profile's cookies and storage.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	return b.openPage(ctx, b.browser)
}

func (b *Browser) openPage(ctx context.Context, in *rod.Browser) (*Page, error) {
	p, err := in.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if b.opts.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.opts.UserAgent}); err != nil {
			b.log.Warn("failed to set user agent", "err", err)
		}
	}
	if b.opts.ViewportWidth > 0 && b.opts.ViewportHeight > 0 {
		err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             b.opts.ViewportWidth,
			Height:            b.opts.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			b.log.Warn("failed to set viewport", "err", err)
		}
	}

	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return &Page{page: p}, nil
}

// NewDriver opens a tab in the shared browser context and returns a
// function that closes it. It satisfies scraper.PageFactory.
func (b *Browser) NewDriver(ctx context.Context) (driver.Driver, func(), error) {
	p, err := b.NewPage(ctx)
	if err != nil {
		return nil, nil, err
	}
	return p, func() { b.closePage(p.page) }, nil
}

// NewIsolatedDriver opens a tab in a fresh incognito browser context, so it
// shares no cookies, storage or cart with any other tab. The returned
// function closes the tab and disposes of the context.
func (b *Browser) NewIsolatedDriver(ctx context.Context) (driver.Driver, func(), error) {
	incognito, err := b.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	p, err := b.openPage(ctx, incognito)
	if err != nil {
		b.disposeContext(incognito.BrowserContextID)
		return nil, nil, err
	}
	return p, func() {
		b.closePage(p.page)
		b.disposeContext(incognito.BrowserContextID)
	}, nil
}

func (b *Browser) disposeContext(id proto.BrowserBrowserContextID) {
	err := proto.TargetDisposeBrowserContext{BrowserContextID: id}.Call(b.browser)
	if err != nil {
		b.log.Debug("browser context dispose failed", "err", err)
	}
}

func (b *Browser) closePage(p *rod.Page) {
	b.mu.Lock()
	for i, q := range b.pages {
		if q == p {
			b.pages = append(b.pages[:i], b.pages[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	if err := p.Close(); err != nil {
		b.log.Debug("page close failed", "err", err)
	}
}

// Alive reports whether the browser and its pages still answer.
func (b *Browser) Alive() bool {
	if b.browser == nil {
		return false
	}
	if _, err := b.browser.Version(); err != nil {
		b.log.Debug("browser version check failed", "err", err)
		return false
	}
	return true
}

// Watch returns a channel that is closed once the browser stops answering,
// for example because the user closed its window.
func (b *Browser) Watch(ctx context.Context, every time.Duration) <-chan struct{} {
	gone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !b.Alive() {
					close(gone)
					return
				}
			}
		}
	}()
	return gone
}

// Close closes every page and the browser unless KeepOpen is set.
func (b *Browser) Close() {
	b.mu.Lock()
	pages := b.pages
	b.pages = nil
	b.mu.Unlock()

	if b.opts.KeepOpen {
		return
	}
	for _, p := range pages {
		p.Close()
	}
	if b.browser != nil {
		b.browser.Close()
	}
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
}
