// Package htmldriver implements driver.Driver over static HTML documents
// parsed with goquery. Clicks run registered handlers that may rewrite the
// document or load another page, so multi-step storefront flows can be
// replayed without a browser. Every interaction is appended to the site log.
package htmldriver

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"orderbot/internal/driver"
)

// Event kinds recorded in the site log.
const (
	EventNavigate = "navigate"
	EventClick    = "click"
	EventType     = "type"
	EventWait     = "wait"
)

type Event struct {
	Kind   string
	Target string
	Value  string
}

// ClickHandler runs when an element matching its selector is clicked.
type ClickHandler func(p *Page, el *goquery.Selection) error

type handler struct {
	selector string
	fn       ClickHandler
}

// Site is a set of documents addressed by URL plus click behavior. Pages
// opened from the same site share its log.
type Site struct {
	mu        sync.Mutex
	docs      map[string]string
	handlers  []handler
	redirects map[string][]string
	log       []Event
}

func NewSite() *Site {
	return &Site{docs: map[string]string{}, redirects: map[string][]string{}}
}

// RedirectOnce makes the next navigation to from land on to instead.
// Repeated calls queue further redirects.
func (s *Site) RedirectOnce(from, to string) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redirects[from] = append(s.redirects[from], to)
	return s
}

func (s *Site) redirect(url string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.redirects[url]
	if len(queue) == 0 {
		return url
	}
	s.redirects[url] = queue[1:]
	return queue[0]
}

// Add registers the document served at url.
func (s *Site) Add(url, body string) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[url] = body
	return s
}

// OnClick registers fn for clicks on elements matching selector.
func (s *Site) OnClick(selector string, fn ClickHandler) *Site {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler{selector: selector, fn: fn})
	return s
}

func (s *Site) record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, e)
}

// Log returns a copy of every recorded interaction.
func (s *Site) Log() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.log))
	copy(out, s.log)
	return out
}

// Count returns how many events of kind hit target.
func (s *Site) Count(kind, target string) int {
	n := 0
	for _, e := range s.Log() {
		if e.Kind == kind && e.Target == target {
			n++
		}
	}
	return n
}

// Interactions returns how many events of any kind were recorded.
func (s *Site) Interactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

func (s *Site) lookup(url string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if body, ok := s.docs[url]; ok {
		return body, true
	}
	body, ok := s.docs[strings.TrimSuffix(url, "/")]
	return body, ok
}

func (s *Site) handlersFor(sel *goquery.Selection) []ClickHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ClickHandler
	for _, h := range s.handlers {
		if sel.Is(h.selector) {
			out = append(out, h.fn)
		}
	}
	return out
}

// Open creates a new isolated page and navigates it to url.
func (s *Site) Open(ctx context.Context, url string) (*Page, error) {
	p := s.NewPage()
	if err := p.Navigate(ctx, url); err != nil {
		return nil, err
	}
	return p, nil
}

// NewPage creates a blank page on the site.
func (s *Site) NewPage() *Page {
	doc, _ := goquery.NewDocumentFromReader(strings.NewReader("<html><body></body></html>"))
	return &Page{site: s, url: "about:blank", doc: doc, frames: map[*html.Node]*Page{}}
}

// FromHTML parses a single document served at url.
func FromHTML(url, body string) (*Page, error) {
	site := NewSite().Add(url, body)
	return site.Open(context.Background(), url)
}

// Page is one document with a current URL.
type Page struct {
	site        *Site
	url         string
	doc         *goquery.Document
	navigations int
	frames      map[*html.Node]*Page
}

var _ driver.Driver = (*Page)(nil)

func (p *Page) Site() *Site { return p.site }

// Doc exposes the live document so click handlers can rewrite it.
func (p *Page) Doc() *goquery.Document { return p.doc }

// Load replaces the document with the one served at url. It counts as a
// navigation.
func (p *Page) Load(url string) error {
	body, ok := p.site.lookup(url)
	if !ok {
		return fmt.Errorf("htmldriver: no document for %s", url)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("htmldriver: parse %s: %w", url, err)
	}
	p.doc = doc
	p.url = url
	p.frames = map[*html.Node]*Page{}
	p.navigations++
	return nil
}

// SetURL changes the current URL without loading a document, the way client
// side routing does.
func (p *Page) SetURL(url string) { p.url = url }

// Value returns the value typed into the first element matching selector.
func (p *Page) Value(selector string) string {
	v, _ := p.doc.Find(selector).First().Attr("value")
	return v
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.site.record(Event{Kind: EventNavigate, Target: url})
	return p.Load(p.site.redirect(url))
}

func (p *Page) WaitIdle(ctx context.Context) error {
	p.site.record(Event{Kind: EventWait, Target: p.url})
	return ctx.Err()
}

func (p *Page) URL(ctx context.Context) (string, error) {
	return p.url, ctx.Err()
}

func (p *Page) WaitNavigation(ctx context.Context) func() error {
	armed := p.navigations
	return func() error {
		if p.navigations != armed {
			return nil
		}
		return fmt.Errorf("htmldriver: no navigation from %s: %w", p.url, context.DeadlineExceeded)
	}
}

func (p *Page) Query(ctx context.Context, selector string) (driver.Element, error) {
	return query(ctx, p, p.doc.Selection, selector)
}

func (p *Page) QueryAll(ctx context.Context, selector string) ([]driver.Element, error) {
	return queryAll(ctx, p, p.doc.Selection, selector)
}

func (p *Page) QueryByText(ctx context.Context, selector string, pattern *regexp.Regexp) (driver.Element, error) {
	return driver.FindByText(ctx, p, selector, pattern)
}

func query(ctx context.Context, p *Page, root *goquery.Selection, selector string) (driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found := root.Find(selector).First()
	if found.Length() == 0 {
		return nil, driver.ErrNotFound
	}
	return &element{page: p, sel: found}, nil
}

func queryAll(ctx context.Context, p *Page, root *goquery.Selection, selector string) ([]driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []driver.Element
	root.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, &element{page: p, sel: s})
	})
	return out, nil
}

type element struct {
	page *Page
	sel  *goquery.Selection
}

func (e *element) Query(ctx context.Context, selector string) (driver.Element, error) {
	return query(ctx, e.page, e.sel, selector)
}

func (e *element) QueryAll(ctx context.Context, selector string) ([]driver.Element, error) {
	return queryAll(ctx, e.page, e.sel, selector)
}

func (e *element) QueryByText(ctx context.Context, selector string, pattern *regexp.Regexp) (driver.Element, error) {
	return driver.FindByText(ctx, e, selector, pattern)
}

func (e *element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.page.site.record(Event{Kind: EventClick, Target: Describe(e.sel)})
	for _, fn := range e.page.site.handlersFor(e.sel) {
		if err := fn(e.page, e.sel); err != nil {
			return err
		}
	}
	return nil
}

func (e *element) Type(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.page.site.record(Event{Kind: EventType, Target: Describe(e.sel), Value: text})
	e.sel.SetAttr("value", text)
	return nil
}

func (e *element) Text(ctx context.Context) (string, error) {
	return e.sel.Text(), ctx.Err()
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, ctx.Err()
}

func (e *element) Enabled(ctx context.Context) (bool, error) {
	_, disabled := e.sel.Attr("disabled")
	return !disabled, ctx.Err()
}

func (e *element) Frame(ctx context.Context) (driver.Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	node := e.sel.Get(0)
	if frame, ok := e.page.frames[node]; ok {
		return frame, nil
	}
	srcdoc, ok := e.sel.Attr("srcdoc")
	if goquery.NodeName(e.sel) != "iframe" || !ok {
		return nil, fmt.Errorf("htmldriver: %s is not an iframe with srcdoc", Describe(e.sel))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(srcdoc))
	if err != nil {
		return nil, fmt.Errorf("htmldriver: parse frame: %w", err)
	}
	frame := &Page{site: e.page.site, url: e.page.url + "#frame", doc: doc, frames: map[*html.Node]*Page{}}
	e.page.frames[node] = frame
	return frame, nil
}

// Describe names an element for the log: "#id", then [data-testid="..."],
// then [aria-label="..."], then tag:"normalized text".
func Describe(sel *goquery.Selection) string {
	if id, ok := sel.Attr("id"); ok && id != "" {
		return "#" + id
	}
	if v, ok := sel.Attr("data-testid"); ok && v != "" {
		return fmt.Sprintf("[data-testid=%q]", v)
	}
	if v, ok := sel.Attr("aria-label"); ok && v != "" {
		return fmt.Sprintf("[aria-label=%q]", v)
	}
	return fmt.Sprintf("%s:%q", goquery.NodeName(sel), driver.NormalizeSpace(sel.Text()))
}
