// Package scraper walks a storefront's category, item and modifier DOM and
// produces a menu.Menu. A malformed item, group or option never aborts the
// scrape: it is logged, recorded as an Issue and left out.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"orderbot/internal/driver"
	"orderbot/internal/failure"
	"orderbot/internal/menu"
	"orderbot/internal/storefront"
)

var tracer = otel.Tracer("orderbot/internal/scraper")

// PageFactory opens an isolated page. release closes it.
type PageFactory func(ctx context.Context) (page driver.Driver, release func(), err error)

type Options struct {
	// Workers bounds concurrent detail scrapes. Only storefronts whose
	// detail views open on their own page use more than one, and only when
	// NewPage is set.
	Workers int
	NewPage PageFactory
	// SkipDetails reads the menu page only, without opening detail views.
	SkipDetails bool
	Logger      *slog.Logger
}

// Issue is an entity left out of the menu and why.
type Issue struct {
	Category string
	Item     string
	Group    string
	Option   string
	Err      error
}

func (i Issue) String() string {
	where := i.Item
	if i.Item == "" {
		where = "category " + i.Category
	}
	if i.Group != "" {
		where += " / " + i.Group
	}
	if i.Option != "" {
		where += " / " + i.Option
	}
	return fmt.Sprintf("%s: %v", where, i.Err)
}

type Result struct {
	Menu   *menu.Menu
	Issues []Issue
}

type Scraper struct {
	adapter storefront.Adapter
	opts    Options
	log     *slog.Logger

	mu     sync.Mutex
	issues []Issue
}

func New(a storefront.Adapter, opts Options) *Scraper {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scraper{adapter: a, opts: opts, log: log.With("storefront", a.Name())}
}

type pending struct {
	category int
	item     menu.Item
	dropped  bool
}

// Scrape reads the menu from d, which must already show the storefront's
// menu page. It returns an error only when the page as a whole cannot be
// read.
func (s *Scraper) Scrape(ctx context.Context, d driver.Driver) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "scraper.Scrape")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s.mu.Lock()
	s.issues = nil
	s.mu.Unlock()

	sel := s.adapter.Selectors().Menu
	if sel.Ready != "" {
		if _, err := storefront.WaitFor(ctx, s.adapter.Policy(), d, sel.Ready); err != nil {
			return nil, failure.Wrap(failure.Timeout, "wait for menu", err)
		}
	}

	categoryEls, err := d.QueryAll(ctx, sel.Category)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}

	m := &menu.Menu{Storefront: s.adapter.Name()}
	var items []*pending
	for _, catEl := range categoryEls {
		name, err := textOf(ctx, catEl, sel.CategoryName)
		if err != nil {
			return nil, err
		}
		if name == "" {
			s.log.Debug("skipping unnamed category block")
			continue
		}
		m.Categories = append(m.Categories, menu.Category{Name: name})
		ci := len(m.Categories) - 1

		cards, err := catEl.QueryAll(ctx, sel.Item)
		if err != nil {
			return nil, fmt.Errorf("list items of %s: %w", name, err)
		}
		for _, card := range cards {
			item, ok, err := s.readCard(ctx, card)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.issue(Issue{Category: name, Item: item.Name, Err: err})
				continue
			}
			if !ok {
				s.log.Debug("skipping out of stock item", "category", name, "item", item.Name)
				continue
			}
			items = append(items, &pending{category: ci, item: item})
		}
	}
	span.SetAttributes(attribute.Int("scraper.items", len(items)))

	if !s.opts.SkipDetails {
		if err := s.readDetails(ctx, d, items); err != nil {
			return nil, err
		}
	}

	for _, p := range items {
		if p.dropped {
			continue
		}
		cat := &m.Categories[p.category]
		cat.Items = append(cat.Items, p.item)
	}
	for i := range m.Categories {
		if m.Categories[i].Items == nil {
			m.Categories[i].Items = []menu.Item{}
		}
	}
	m.Reindex()

	s.mu.Lock()
	issues := append([]Issue(nil), s.issues...)
	s.mu.Unlock()
	s.log.Info("scraped menu", "categories", len(m.Categories), "items", m.ItemCount(), "issues", len(issues))
	return &Result{Menu: m, Issues: issues}, nil
}

func (s *Scraper) issue(i Issue) {
	s.log.Warn("left out of menu", "category", i.Category, "item", i.Item, "group", i.Group, "option", i.Option, "err", i.Err)
	s.mu.Lock()
	s.issues = append(s.issues, i)
	s.mu.Unlock()
}

// readCard returns ok=false for an out-of-stock item.
func (s *Scraper) readCard(ctx context.Context, card driver.Element) (menu.Item, bool, error) {
	sel := s.adapter.Selectors().Menu
	var item menu.Item

	name, err := textOf(ctx, card, sel.ItemName)
	if err != nil {
		return item, false, err
	}
	item.Name = name

	if sel.ItemOutOfStock != "" {
		out, err := driver.Has(ctx, card, sel.ItemOutOfStock)
		if err != nil {
			return item, false, err
		}
		if out {
			return item, false, nil
		}
	}
	if name == "" {
		return item, false, errors.New("item name missing")
	}

	if item.Description, err = textOf(ctx, card, sel.ItemDescription); err != nil {
		return item, false, err
	}
	priceText, err := textOf(ctx, card, sel.ItemPrice)
	if err != nil {
		return item, false, err
	}
	if priceText != "" {
		if item.Price, err = menu.ParseMoney(priceText); err != nil {
			return item, false, err
		}
	}
	if item.Handle, err = s.adapter.ItemHandle(ctx, card); err != nil {
		return item, false, err
	}
	if sel.ItemImage != "" {
		if item.Image, err = imageOf(ctx, card, sel.ItemImage); err != nil {
			return item, false, err
		}
	}
	item.ModifierGroups = []menu.ModifierGroup{}
	return item, true, nil
}

func (s *Scraper) readDetails(ctx context.Context, d driver.Driver, items []*pending) error {
	workers := s.opts.Workers
	if !s.adapter.IsolatedDetails() || s.opts.NewPage == nil || workers < 2 {
		for _, p := range items {
			if err := s.readDetail(ctx, d, p); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, p := range items {
		p := p
		g.Go(func() error {
			page, release, err := s.opts.NewPage(gctx)
			if err != nil {
				return fmt.Errorf("open isolated page: %w", err)
			}
			defer release()
			return s.readDetail(gctx, page, p)
		})
	}
	return g.Wait()
}

// readDetail fills in the item's modifier groups. Failures that concern
// only this item drop it and return nil.
func (s *Scraper) readDetail(ctx context.Context, d driver.Driver, p *pending) error {
	item := &p.item
	drop := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.dropped = true
		s.issue(Issue{Item: item.Name, Err: err})
		return nil
	}

	view, err := s.adapter.OpenDetail(ctx, d, item.Handle)
	if err != nil {
		return drop(failure.Wrap(failure.DetailViewMissing, "open detail", err).WithItem(item.Name))
	}

	sel := s.adapter.Selectors().Detail
	if item.Image == "" && sel.Image != "" {
		img, err := imageOf(ctx, view, sel.Image)
		if err != nil {
			s.log.Debug("no image", "item", item.Name, "err", err)
		}
		item.Image = img
	}

	closeAndDrop := func(err error) error {
		if cerr := s.adapter.CloseDetail(ctx, d); cerr != nil {
			s.log.Warn("close detail", "item", item.Name, "err", cerr)
		}
		return drop(err)
	}

	groups, err := view.QueryAll(ctx, sel.Group)
	if err != nil {
		return closeAndDrop(err)
	}
	for _, g := range groups {
		skip, err := storefront.SkipGroup(ctx, s.adapter, g)
		if err != nil {
			return closeAndDrop(err)
		}
		if skip {
			continue
		}
		group, err := s.readGroup(ctx, item.Name, g)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.issue(Issue{Item: item.Name, Group: group.Name, Err: err})
			continue
		}
		item.ModifierGroups = append(item.ModifierGroups, group)
	}

	if err := s.adapter.CloseDetail(ctx, d); err != nil {
		return failure.Wrap(failure.Timeout, "close detail", err).WithItem(item.Name)
	}
	return nil
}

func (s *Scraper) readGroup(ctx context.Context, itemName string, el driver.Element) (menu.ModifierGroup, error) {
	sel := s.adapter.Selectors().Detail
	var group menu.ModifierGroup

	name, err := storefront.GroupName(ctx, s.adapter, el)
	if err != nil {
		return group, err
	}
	if name == "" {
		return group, errors.New("group label missing")
	}
	group.Name = name

	if err := storefront.ExpandGroup(ctx, s.adapter, el); err != nil {
		return group, err
	}

	instruction, err := textOf(ctx, el, sel.GroupInstructions)
	if err != nil {
		return group, err
	}
	group.Instruction = instruction
	rule, err := menu.ParseInstruction(instruction)
	var unparsed *menu.UnparsedInstructionError
	switch {
	case errors.As(err, &unparsed):
		group.Unparsed = true
		s.issue(Issue{
			Item:  itemName,
			Group: name,
			Err:   failure.Wrap(failure.UnparsedInstruction, "parse instruction", err).WithItem(itemName).WithOption(name, ""),
		})
	case err != nil:
		return group, err
	default:
		rule.Apply(&group)
	}

	rows, err := el.QueryAll(ctx, sel.Option)
	if err != nil {
		return group, err
	}
	group.Options = []menu.Option{}
	for _, row := range rows {
		opt, ok, err := s.readOption(ctx, row)
		if err != nil {
			if ctx.Err() != nil {
				return group, ctx.Err()
			}
			s.issue(Issue{Item: itemName, Group: name, Option: opt.Name, Err: err})
			continue
		}
		if ok {
			group.Options = append(group.Options, opt)
		}
	}
	return group, nil
}

// readOption returns ok=false for an out-of-stock option.
func (s *Scraper) readOption(ctx context.Context, row driver.Element) (menu.Option, bool, error) {
	sel := s.adapter.Selectors().Detail
	var opt menu.Option

	name, err := textOf(ctx, row, sel.OptionName)
	if err != nil {
		return opt, false, err
	}
	opt.Name = name
	out, err := storefront.SoldOut(ctx, s.adapter, row)
	if err != nil || out {
		return opt, false, err
	}
	if name == "" {
		return opt, false, errors.New("option name missing")
	}

	priceText, err := textOf(ctx, row, sel.OptionPrice)
	if err != nil {
		return opt, false, err
	}
	if priceText != "" {
		price, err := menu.ParseMoney(priceText)
		if err != nil {
			return opt, false, err
		}
		opt.Price = &price
	}
	return opt, true, nil
}

func textOf(ctx context.Context, scope driver.Scope, selector string) (string, error) {
	if selector == "" {
		return "", nil
	}
	return driver.TextOf(ctx, scope, selector)
}

var cssURL = regexp.MustCompile(`url\(\s*["']?([^"')]+)["']?\s*\)`)

// imageOf reads an image URL from a src attribute or from a CSS
// background-image in the style attribute.
func imageOf(ctx context.Context, scope driver.Scope, selector string) (string, error) {
	el, err := scope.Query(ctx, selector)
	if errors.Is(err, driver.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if src, ok, err := el.Attribute(ctx, "src"); err != nil || ok {
		return src, err
	}
	style, ok, err := el.Attribute(ctx, "style")
	if err != nil || !ok {
		return "", err
	}
	if m := cssURL.FindStringSubmatch(style); m != nil {
		return m[1], nil
	}
	return "", nil
}
