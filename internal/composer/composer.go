// Package composer drives an item's detail view to put one order request
// into the cart.
package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"orderbot/internal/driver"
	"orderbot/internal/failure"
	"orderbot/internal/menu"
	"orderbot/internal/order"
	"orderbot/internal/storefront"
)

var tracer = otel.Tracer("orderbot/internal/composer")

type Composer struct {
	adapter storefront.Adapter
	log     *slog.Logger
}

func New(a storefront.Adapter, log *slog.Logger) *Composer {
	if log == nil {
		log = slog.Default()
	}
	return &Composer{adapter: a, log: log.With("storefront", a.Name())}
}

// AddToCart resolves the item, opens its detail view, applies every
// selection in order, sets the quantity, enters the note and commits.
//
// Steps stop at the first failure. Selections already clicked are not
// undone; the next request activates its own item, which discards an
// uncommitted detail view on every supported platform.
//
// The item and quantity are validated before the page is touched.
func (c *Composer) AddToCart(ctx context.Context, d driver.Driver, m *menu.Menu, req order.Request) (err error) {
	ctx, span := tracer.Start(ctx, "composer.AddToCart")
	span.SetAttributes(attribute.String("order.item", req.ItemName), attribute.Int("order.quantity", req.Quantity))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	item, ok := m.Lookup(req.ItemName)
	if !ok {
		return failure.New(failure.ItemNotFound, "resolve item").
			WithItem(req.ItemName).
			WithSuggestion(menu.Closest(req.ItemName, m.Names()))
	}
	if req.Quantity < 1 {
		return failure.New(failure.InvalidQuantity, "apply quantity").WithItem(item.Name)
	}

	view, err := c.adapter.OpenDetail(ctx, d, item.Handle)
	if err != nil {
		return failure.Wrap(failure.DetailViewMissing, "open detail", err).WithItem(item.Name)
	}

	for _, sel := range req.Selections {
		if err := c.selectOption(ctx, view, item, sel); err != nil {
			return err
		}
	}
	if err := c.applyQuantity(ctx, view, item.Name, req.Quantity); err != nil {
		return err
	}
	if err := c.enterNote(ctx, view, item.Name, req.Note); err != nil {
		return err
	}
	if err := c.commit(ctx, d, view, item.Name); err != nil {
		return err
	}
	c.log.Info("added to cart", "item", item.Name, "quantity", req.Quantity, "selections", len(req.Selections))
	return nil
}

func (c *Composer) selectOption(ctx context.Context, view driver.Element, item *menu.Item, sel order.Selection) error {
	fail := func(code failure.Code, err error) *failure.Error {
		return failure.Wrap(code, "select option", err).WithItem(item.Name).WithOption(sel.GroupName, sel.OptionName)
	}

	var scope driver.Scope = view
	group, err := c.findGroup(ctx, view, sel.GroupName)
	if err != nil {
		return fail(failure.OptionNotFound, err)
	}
	switch {
	case group != nil:
		if err := storefront.ExpandGroup(ctx, c.adapter, group); err != nil {
			return fail(failure.OptionNotFound, err)
		}
		scope = group
	case c.adapter.Selectors().Detail.Group != "" && sel.GroupName != "":
		err := fmt.Errorf("no modifier group %q on the detail view", sel.GroupName)
		return fail(failure.OptionNotFound, err).WithSuggestion(menu.Closest(sel.GroupName, groupNames(item)))
	default:
		c.log.Debug("no group selector, searching whole detail view", "item", item.Name, "group", sel.GroupName)
	}

	row, label, err := c.findOption(ctx, scope, sel.OptionName)
	if errors.Is(err, driver.ErrNotFound) {
		return fail(failure.OptionNotFound, nil).WithSuggestion(menu.Closest(sel.OptionName, knownOptions(item, sel.GroupName)))
	}
	if err != nil {
		return fail(failure.OptionNotFound, err)
	}

	target := label
	if step := c.adapter.Selectors().Detail.OptionIncrement; step != "" {
		inc, err := row.Query(ctx, step)
		switch {
		case err == nil:
			target = inc
		case !errors.Is(err, driver.ErrNotFound):
			return fail(failure.OptionNotFound, err)
		}
	}
	if err := target.Click(ctx); err != nil {
		return fail(failure.OptionNotFound, err)
	}
	c.log.Debug("selected option", "item", item.Name, "group", sel.GroupName, "option", sel.OptionName)
	return nil
}

// findGroup returns the group element whose label matches name, or nil.
func (c *Composer) findGroup(ctx context.Context, view driver.Element, name string) (driver.Element, error) {
	selector := c.adapter.Selectors().Detail.Group
	if selector == "" || name == "" {
		return nil, nil
	}
	groups, err := view.QueryAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	want := driver.NormalizeSpace(name)
	for _, g := range groups {
		label, err := storefront.GroupName(ctx, c.adapter, g)
		if err != nil {
			return nil, err
		}
		if label == want {
			return g, nil
		}
	}
	return nil, nil
}

// findOption returns the first in-stock option row in scope whose
// normalized name equals name, and the element carrying that name.
func (c *Composer) findOption(ctx context.Context, scope driver.Scope, name string) (row, label driver.Element, err error) {
	sel := c.adapter.Selectors().Detail
	rows, err := scope.QueryAll(ctx, sel.Option)
	if err != nil {
		return nil, nil, err
	}
	want := driver.NormalizeSpace(name)
	for _, r := range rows {
		nameEl := r
		if sel.OptionName != "" {
			nameEl, err = r.Query(ctx, sel.OptionName)
			if errors.Is(err, driver.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, nil, err
			}
		}
		text, err := nameEl.Text(ctx)
		if err != nil {
			return nil, nil, err
		}
		if driver.NormalizeSpace(text) != want {
			continue
		}
		out, err := storefront.SoldOut(ctx, c.adapter, r)
		if err != nil {
			return nil, nil, err
		}
		if out {
			continue
		}
		return r, nameEl, nil
	}
	return nil, nil, driver.ErrNotFound
}

func (c *Composer) applyQuantity(ctx context.Context, view driver.Element, item string, quantity int) error {
	selector := c.adapter.Selectors().Detail.Increment
	if selector == "" {
		return failure.New(failure.QuantityControlMissing, "apply quantity").WithItem(item)
	}
	inc, err := view.Query(ctx, selector)
	if errors.Is(err, driver.ErrNotFound) {
		return failure.New(failure.QuantityControlMissing, "apply quantity").WithItem(item)
	}
	if err != nil {
		return failure.Wrap(failure.QuantityControlMissing, "apply quantity", err).WithItem(item)
	}
	for i := 1; i < quantity; i++ {
		if err := inc.Click(ctx); err != nil {
			return failure.Wrap(failure.QuantityControlMissing, "apply quantity", err).WithItem(item)
		}
	}
	return nil
}

func (c *Composer) enterNote(ctx context.Context, view driver.Element, item, note string) error {
	if note == "" {
		return nil
	}
	missing := func(err error) error {
		if c.adapter.NoteRequired() {
			return failure.Wrap(failure.NoteFieldMissing, "enter note", err).WithItem(item)
		}
		c.log.Info("storefront has no note field, note dropped", "item", item, "note", note)
		return nil
	}

	selector := c.adapter.Selectors().Detail.Note
	if selector == "" {
		return missing(nil)
	}
	field, err := view.Query(ctx, selector)
	if errors.Is(err, driver.ErrNotFound) {
		return missing(nil)
	}
	if err != nil {
		return failure.Wrap(failure.NoteFieldMissing, "enter note", err).WithItem(item)
	}
	if err := field.Type(ctx, note); err != nil {
		return failure.Wrap(failure.NoteFieldMissing, "enter note", err).WithItem(item)
	}
	return nil
}

func (c *Composer) commit(ctx context.Context, d driver.Driver, view driver.Element, item string) error {
	selector := c.adapter.Selectors().Detail.Commit
	if selector == "" {
		return failure.New(failure.CommitFailed, "commit").WithItem(item)
	}
	btn, err := view.Query(ctx, selector)
	if errors.Is(err, driver.ErrNotFound) {
		return failure.New(failure.CommitFailed, "commit").WithItem(item)
	}
	if err == nil {
		err = btn.Click(ctx)
	}
	if err != nil {
		return failure.Wrap(failure.CommitFailed, "commit", err).WithItem(item)
	}
	if err := c.adapter.Policy().Wait(ctx, d); err != nil {
		return failure.Wrap(failure.CommitFailed, "wait after commit", err).WithItem(item)
	}
	return nil
}

func groupNames(item *menu.Item) []string {
	names := make([]string, 0, len(item.ModifierGroups))
	for _, g := range item.ModifierGroups {
		names = append(names, g.Name)
	}
	return names
}

func knownOptions(item *menu.Item, group string) []string {
	var names []string
	if g, ok := item.Group(group); ok {
		for _, o := range g.Options {
			names = append(names, o.Name)
		}
		return names
	}
	for _, g := range item.ModifierGroups {
		for _, o := range g.Options {
			names = append(names, o.Name)
		}
	}
	return names
}
