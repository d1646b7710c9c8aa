package browser

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"orderbot/internal/driver"
)

// domStable is how long the DOM must stay unchanged for WaitIdle.
const domStable = 300 * time.Millisecond

// Page is a rod page, or the document of a frame inside one.
type Page struct {
	page *rod.Page
}

var _ driver.Driver = (*Page)(nil)

func (p *Page) Query(ctx context.Context, selector string) (driver.Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	return first(els, err)
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]driver.Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	return wrapAll(els, err)
}

func (p *Page) QueryByText(ctx context.Context, selector string, pattern *regexp.Regexp) (driver.Element, error) {
	return driver.FindByText(ctx, p, selector, pattern)
}

// navigateAttempts bounds retries of transient network failures.
const navigateAttempts = 3

func (p *Page) Navigate(ctx context.Context, url string) error {
	var err error
	for attempt := 1; attempt <= navigateAttempts; attempt++ {
		err = p.page.Context(ctx).Navigate(url)
		if err == nil || !isNetworkError(err) || ctx.Err() != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return err
}

var networkErrors = []string{
	"net::ERR_",
	"connection reset",
	"connection refused",
	"broken pipe",
	"network is unreachable",
	"no route to host",
	"EOF",
}

// isNetworkError reports whether err looks like a transient network failure
// worth retrying. Deadlines are not retried.
func isNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	msg := err.Error()
	for _, s := range networkErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (p *Page) WaitIdle(ctx context.Context) error {
	page := p.page.Context(ctx)
	if err := page.WaitLoad(); err != nil {
		return err
	}
	return page.WaitDOMStable(domStable, 0)
}

func (p *Page) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *Page) WaitNavigation(ctx context.Context) func() error {
	wait := p.page.Context(ctx).WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	return func() error {
		wait()
		return ctx.Err()
	}
}

// Close closes the tab.
func (p *Page) Close() error {
	return p.page.Close()
}

type element struct {
	el *rod.Element
}

func first(els rod.Elements, err error) (driver.Element, error) {
	if err != nil {
		return nil, err
	}
	if els.Empty() {
		return nil, driver.ErrNotFound
	}
	return &element{el: els.First()}, nil
}

func wrapAll(els rod.Elements, err error) ([]driver.Element, error) {
	if err != nil {
		return nil, err
	}
	out := make([]driver.Element, len(els))
	for i, el := range els {
		out[i] = &element{el: el}
	}
	return out, nil
}

func (e *element) Query(ctx context.Context, selector string) (driver.Element, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	return first(els, err)
}

func (e *element) QueryAll(ctx context.Context, selector string) ([]driver.Element, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	return wrapAll(els, err)
}

func (e *element) QueryByText(ctx context.Context, selector string, pattern *regexp.Regexp) (driver.Element, error) {
	return driver.FindByText(ctx, e, selector, pattern)
}

// Click dispatches the click in page script, which works for covered or
// off-screen controls.
func (e *element) Click(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => this.click()`)
	return err
}

func (e *element) Type(ctx context.Context, text string) error {
	el := e.el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}

func (e *element) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil || v == nil {
		return "", false, err
	}
	return *v, true, nil
}

func (e *element) Enabled(ctx context.Context) (bool, error) {
	res, err := e.el.Context(ctx).Eval(`() => !this.disabled && this.getAttribute('aria-disabled') !== 'true'`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (e *element) Frame(ctx context.Context) (driver.Scope, error) {
	f, err := e.el.Context(ctx).Frame()
	if err != nil {
		return nil, err
	}
	return &Page{page: f}, nil
}
