// Package driver is the narrow page-automation capability the ordering engine
// is built on. Implementations: internal/browser (live Chrome through rod) and
// internal/driver/htmldriver (static documents).
//
// A Driver is a single page with a single input cursor. None of its methods
// may be called concurrently on the same page.
package driver

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrNotFound is returned by Query and QueryByText when nothing matches.
var ErrNotFound = errors.New("driver: element not found")

// Scope can be searched for elements: a page, a frame or an element subtree.
type Scope interface {
	// Query returns the first element matching selector without waiting.
	Query(ctx context.Context, selector string) (Element, error)
	// QueryAll returns every element matching selector in document order.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	// QueryByText returns the first element matching selector whose
	// whitespace-normalized text matches pattern.
	QueryByText(ctx context.Context, selector string, pattern *regexp.Regexp) (Element, error)
}

// Element is a handle to one node.
type Element interface {
	Scope
	Click(ctx context.Context) error
	// Type enters text into an input-like element.
	Type(ctx context.Context, text string) error
	Text(ctx context.Context) (string, error)
	// Attribute returns the attribute value and whether it is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	Enabled(ctx context.Context) (bool, error)
	// Frame returns the document inside an iframe element.
	Frame(ctx context.Context) (Scope, error)
}

// Driver is a live page.
type Driver interface {
	Scope
	Navigate(ctx context.Context, url string) error
	// WaitIdle blocks until navigation and network activity have quiesced.
	WaitIdle(ctx context.Context) error
	URL(ctx context.Context) (string, error)
	// WaitNavigation must be called before the action that triggers a
	// navigation; the returned function blocks until that navigation settles.
	WaitNavigation(ctx context.Context) func() error
}

// Has reports whether selector matches anything in scope.
func Has(ctx context.Context, s Scope, selector string) (bool, error) {
	_, err := s.Query(ctx, selector)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// NormalizeSpace collapses runs of whitespace, including non-breaking spaces,
// into single spaces and trims the ends.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TextOf returns the normalized text of the first element matching selector,
// or "" when there is none.
func TextOf(ctx context.Context, s Scope, selector string) (string, error) {
	el, err := s.Query(ctx, selector)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	text, err := el.Text(ctx)
	if err != nil {
		return "", err
	}
	return NormalizeSpace(text), nil
}

// FindByText is the shared QueryByText implementation for drivers that can
// enumerate candidates.
func FindByText(ctx context.Context, s Scope, selector string, pattern *regexp.Regexp) (Element, error) {
	candidates, err := s.QueryAll(ctx, selector)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		text, err := c.Text(ctx)
		if err != nil {
			return nil, err
		}
		if pattern.MatchString(NormalizeSpace(text)) {
			return c, nil
		}
	}
	return nil, ErrNotFound
}
