package storefront

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"orderbot/internal/driver"
)

// ExpandGroup opens a collapsed modifier group and clicks its "show more"
// control so that every option is rendered.
func ExpandGroup(ctx context.Context, a Adapter, group driver.Element) error {
	sel := a.Selectors().Detail
	if sel.GroupToggle != "" {
		toggle, err := group.Query(ctx, sel.GroupToggle)
		switch {
		case errors.Is(err, driver.ErrNotFound):
		case err != nil:
			return err
		default:
			expanded, ok, err := toggle.Attribute(ctx, "aria-expanded")
			if err != nil {
				return err
			}
			if ok && expanded == "false" {
				if err := toggle.Click(ctx); err != nil {
					return fmt.Errorf("expand group: %w", err)
				}
				if _, err := WaitFor(ctx, a.Policy(), group, sel.Option); err != nil {
					return fmt.Errorf("group did not expand: %w", err)
				}
			}
		}
	}

	if sel.ShowMore == "" || sel.ShowMoreText == "" {
		return nil
	}
	pattern, err := regexp.Compile(sel.ShowMoreText)
	if err != nil {
		return err
	}
	more, err := group.QueryByText(ctx, sel.ShowMore, pattern)
	if errors.Is(err, driver.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	before, err := group.QueryAll(ctx, sel.Option)
	if err != nil {
		return err
	}
	if err := more.Click(ctx); err != nil {
		return fmt.Errorf("show more: %w", err)
	}
	// Settled once extra rows render or the control goes away.
	err = a.Policy().Poll(ctx, func(ctx context.Context) (bool, error) {
		rows, err := group.QueryAll(ctx, sel.Option)
		if err != nil {
			return false, err
		}
		if len(rows) > len(before) {
			return true, nil
		}
		_, err = group.QueryByText(ctx, sel.ShowMore, pattern)
		if errors.Is(err, driver.ErrNotFound) {
			return true, nil
		}
		return false, err
	})
	if err != nil {
		return fmt.Errorf("show more did not render options: %w", err)
	}
	return nil
}

// GroupName reads the normalized label of a modifier group element.
func GroupName(ctx context.Context, a Adapter, group driver.Element) (string, error) {
	label := a.Selectors().Detail.GroupLabel
	if label == "" {
		return "", fmt.Errorf("no group label selector configured")
	}
	return driver.TextOf(ctx, group, label)
}

// SkipGroup reports whether a fieldset is not a modifier group, such as the
// one that wraps the special-instructions textarea.
func SkipGroup(ctx context.Context, a Adapter, group driver.Element) (bool, error) {
	skip := a.Selectors().Detail.GroupSkip
	if skip == "" {
		return false, nil
	}
	return driver.Has(ctx, group, skip)
}

// SoldOut reports whether an option row is marked out of stock.
func SoldOut(ctx context.Context, a Adapter, option driver.Element) (bool, error) {
	text := a.Selectors().Detail.OptionSoldOutText
	if text == "" {
		return false, nil
	}
	pattern, err := regexp.Compile(text)
	if err != nil {
		return false, err
	}
	_, err = option.QueryByText(ctx, "*", pattern)
	if errors.Is(err, driver.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}
