// Package storefront describes a storefront platform to the engine: where
// things are in its DOM, how an item's detail view is opened and closed,
// whether a note field is mandatory, and how a lapsed login is recognized.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"orderbot/internal/driver"
	"orderbot/internal/failure"
	"orderbot/internal/menu"
	"orderbot/internal/settle"
)

// Adapter is the per-platform capability used by the scraper, the composer,
// the checkout flow and the session orchestrator.
type Adapter interface {
	Name() string
	Profile() *Profile
	Selectors() *Selectors
	Policy() settle.Policy

	// ItemHandle reads the activation handle from an item card.
	ItemHandle(ctx context.Context, card driver.Element) (menu.ActivationHandle, error)
	// OpenDetail activates an item and returns its detail view once ready.
	OpenDetail(ctx context.Context, d driver.Driver, h menu.ActivationHandle) (driver.Element, error)
	// CloseDetail closes the current detail view and waits until the page
	// confirms it is closed.
	CloseDetail(ctx context.Context, d driver.Driver) error
	// IsolatedDetails reports whether detail views can be opened on a fresh
	// page, independently of the menu page.
	IsolatedDetails() bool

	NoteRequired() bool
	NeedsLogin() bool
	// Authenticate signs in with the profile's account.
	Authenticate(ctx context.Context, d driver.Driver) error
	IsReauthURL(u string) bool
	IsFulfillmentURL(u string) bool
	RootURL() string
	CheckoutURL() string
}

// Account is a storefront login.
type Account struct {
	Email    string `yaml:"email"`
	Password string `yaml:"-"`
}

// Profile is the data half of an adapter: URLs, flags and selectors. Every
// field can be overridden per storefront in the configuration file.
type Profile struct {
	Name     string `yaml:"-"`
	Platform string `yaml:"platform"`
	URL      string `yaml:"url"`
	AuthURL  string `yaml:"auth_url,omitempty"`
	// ReauthPattern is a regular expression matched against the URL after
	// submitting an order.
	ReauthPattern string `yaml:"reauth_pattern,omitempty"`
	// FulfillmentURLSuffix marks the landing URL of the fulfillment-time
	// interstitial.
	FulfillmentURLSuffix string `yaml:"fulfillment_url_suffix,omitempty"`
	// DetailURLMarker is a URL substring present while a modal detail view is open.
	DetailURLMarker string `yaml:"detail_url_marker,omitempty"`
	NoteRequired    *bool  `yaml:"note_required,omitempty"`
	// WaitForGate polls for the fulfillment control before deciding that
	// there is no interstitial.
	WaitForGate *bool     `yaml:"wait_for_gate,omitempty"`
	Selectors   Selectors `yaml:"selectors,omitempty"`
	Account     Account   `yaml:"account,omitempty"`
}

// Selectors are CSS selectors unless the field name ends in Text, in which
// case the value is a regular expression matched against normalized text.
type Selectors struct {
	Menu     MenuSelectors     `yaml:"menu,omitempty"`
	Detail   DetailSelectors   `yaml:"detail,omitempty"`
	Gates    GateSelectors     `yaml:"gates,omitempty"`
	Checkout CheckoutSelectors `yaml:"checkout,omitempty"`
	Login    LoginSelectors    `yaml:"login,omitempty"`
}

type MenuSelectors struct {
	Ready           string `yaml:"ready,omitempty"`
	Category        string `yaml:"category,omitempty"`
	CategoryName    string `yaml:"category_name,omitempty"`
	Item            string `yaml:"item,omitempty"`
	ItemName        string `yaml:"item_name,omitempty"`
	ItemDescription string `yaml:"item_description,omitempty"`
	ItemPrice       string `yaml:"item_price,omitempty"`
	ItemImage       string `yaml:"item_image,omitempty"`
	ItemOutOfStock  string `yaml:"item_out_of_stock,omitempty"`
	ItemTrigger     string `yaml:"item_trigger,omitempty"`
}

type DetailSelectors struct {
	View              string `yaml:"view,omitempty"`
	Image             string `yaml:"image,omitempty"`
	Close             string `yaml:"close,omitempty"`
	Group             string `yaml:"group,omitempty"`
	GroupSkip         string `yaml:"group_skip,omitempty"`
	GroupLabel        string `yaml:"group_label,omitempty"`
	GroupInstructions string `yaml:"group_instructions,omitempty"`
	GroupToggle       string `yaml:"group_toggle,omitempty"`
	ShowMore          string `yaml:"show_more,omitempty"`
	ShowMoreText      string `yaml:"show_more_text,omitempty"`
	Option            string `yaml:"option,omitempty"`
	OptionName        string `yaml:"option_name,omitempty"`
	OptionPrice       string `yaml:"option_price,omitempty"`
	OptionIncrement   string `yaml:"option_increment,omitempty"`
	OptionSoldOutText string `yaml:"option_sold_out_text,omitempty"`
	Increment         string `yaml:"increment,omitempty"`
	Note              string `yaml:"note,omitempty"`
	Commit            string `yaml:"commit,omitempty"`
}

type GateSelectors struct {
	FulfillmentSubmit string `yaml:"fulfillment_submit,omitempty"`
	UnavailableBanner string `yaml:"unavailable_banner,omitempty"`
	UnavailableText   string `yaml:"unavailable_text,omitempty"`
}

type CheckoutSelectors struct {
	Path           string `yaml:"path,omitempty"`
	FirstName      string `yaml:"first_name,omitempty"`
	LastName       string `yaml:"last_name,omitempty"`
	Email          string `yaml:"email,omitempty"`
	Phone          string `yaml:"phone,omitempty"`
	PaymentFrame   string `yaml:"payment_frame,omitempty"`
	CardNumber     string `yaml:"card_number,omitempty"`
	CardExpiry     string `yaml:"card_expiry,omitempty"`
	CardCVC        string `yaml:"card_cvc,omitempty"`
	CardPostalCode string `yaml:"card_postal_code,omitempty"`
	Tip            string `yaml:"tip,omitempty"`
	Submit         string `yaml:"submit,omitempty"`
}

type LoginSelectors struct {
	Email    string `yaml:"email,omitempty"`
	Next     string `yaml:"next,omitempty"`
	Password string `yaml:"password,omitempty"`
	Submit   string `yaml:"submit,omitempty"`
}

// Base implements the profile-driven parts of Adapter. Platforms embed it and
// add activation and login behavior.
type Base struct {
	profile Profile
	policy  settle.Policy
	reauth  *regexp.Regexp
}

// NewBase validates the profile's patterns.
func NewBase(p Profile, policy settle.Policy) (Base, error) {
	b := Base{profile: p, policy: policy}
	if p.URL == "" {
		return b, fmt.Errorf("storefront %q: url is required", p.Name)
	}
	if p.ReauthPattern != "" {
		re, err := regexp.Compile(p.ReauthPattern)
		if err != nil {
			return b, fmt.Errorf("storefront %q: invalid reauth_pattern: %w", p.Name, err)
		}
		b.reauth = re
	}
	for field, pattern := range map[string]string{
		"show_more_text":       p.Selectors.Detail.ShowMoreText,
		"option_sold_out_text": p.Selectors.Detail.OptionSoldOutText,
		"unavailable_text":     p.Selectors.Gates.UnavailableText,
	} {
		if pattern == "" {
			continue
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return b, fmt.Errorf("storefront %q: invalid %s: %w", p.Name, field, err)
		}
	}
	return b, nil
}

func (b *Base) Name() string {
	if b.profile.Name != "" {
		return b.profile.Name
	}
	return b.profile.Platform
}

func (b *Base) Profile() *Profile     { return &b.profile }
func (b *Base) Selectors() *Selectors { return &b.profile.Selectors }
func (b *Base) Policy() settle.Policy { return b.policy }

func (b *Base) NoteRequired() bool {
	return b.profile.NoteRequired != nil && *b.profile.NoteRequired
}

func (b *Base) NeedsLogin() bool { return b.profile.AuthURL != "" }

func (b *Base) IsReauthURL(u string) bool {
	return b.reauth != nil && b.reauth.MatchString(u)
}

func (b *Base) IsFulfillmentURL(u string) bool {
	suffix := b.profile.FulfillmentURLSuffix
	return suffix != "" && strings.HasSuffix(u, suffix)
}

// RootURL is the storefront URL without a trailing slash.
func (b *Base) RootURL() string {
	return strings.TrimSuffix(b.profile.URL, "/")
}

// CheckoutURL is the checkout route appended to the storefront URL.
func (b *Base) CheckoutURL() string {
	path := b.profile.Selectors.Checkout.Path
	if path == "" {
		return ""
	}
	return b.RootURL() + "/" + strings.TrimPrefix(path, "/")
}

// Resolve makes an item link absolute against the storefront URL.
func (b *Base) Resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid link %q: %w", ref, err)
	}
	if u.IsAbs() {
		return ref, nil
	}
	base, err := url.Parse(b.profile.URL)
	if err != nil {
		return "", fmt.Errorf("invalid storefront url %q: %w", b.profile.URL, err)
	}
	return base.ResolveReference(u).String(), nil
}

// WaitFor polls scope until selector matches and returns the element.
func WaitFor(ctx context.Context, policy settle.Policy, scope driver.Scope, selector string) (driver.Element, error) {
	var found driver.Element
	err := policy.Poll(ctx, func(ctx context.Context) (bool, error) {
		el, err := scope.Query(ctx, selector)
		if errors.Is(err, driver.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		found = el
		return true, nil
	})
	return found, err
}

// WaitGone polls scope until selector no longer matches.
func WaitGone(ctx context.Context, policy settle.Policy, scope driver.Scope, selector string) error {
	return policy.Poll(ctx, func(ctx context.Context) (bool, error) {
		has, err := driver.Has(ctx, scope, selector)
		return !has, err
	})
}

// Settle waits for d to go idle under the adapter's settle policy. A page
// that does not settle in time is a Timeout failure for step.
func Settle(ctx context.Context, a Adapter, d driver.Driver, step string) error {
	err := a.Policy().Wait(ctx, d)
	if err != nil && ctx.Err() == nil && settle.IsDeadline(err) {
		return failure.Wrap(failure.Timeout, step, err)
	}
	return err
}

// PassGate dismisses the fulfillment-time interstitial if the page shows
// one. It reports whether the interstitial was dismissed; callers must
// navigate back to where they were going afterwards.
func PassGate(ctx context.Context, a Adapter, d driver.Driver) (bool, error) {
	selector := a.Selectors().Gates.FulfillmentSubmit
	if selector == "" {
		return false, nil
	}
	u, err := d.URL(ctx)
	if err != nil {
		return false, err
	}
	wait := a.IsFulfillmentURL(u)
	if p := a.Profile(); p.WaitForGate != nil && *p.WaitForGate {
		wait = true
	}

	var btn driver.Element
	if wait {
		btn, err = WaitFor(ctx, a.Policy(), d, selector)
		if errors.Is(err, settle.ErrDeadline) {
			return false, nil
		}
	} else {
		btn, err = d.Query(ctx, selector)
		if errors.Is(err, driver.ErrNotFound) {
			return false, nil
		}
	}
	if err != nil {
		return false, err
	}
	if err := btn.Click(ctx); err != nil {
		return false, fmt.Errorf("dismiss fulfillment gate: %w", err)
	}
	return true, Settle(ctx, a, d, "fulfillment gate")
}

// Unavailable returns the banner text when the storefront reports that it
// is not taking orders.
func Unavailable(ctx context.Context, a Adapter, d driver.Driver) (string, bool, error) {
	gates := a.Selectors().Gates
	if gates.UnavailableBanner == "" || gates.UnavailableText == "" {
		return "", false, nil
	}
	pattern, err := regexp.Compile(gates.UnavailableText)
	if err != nil {
		return "", false, err
	}
	el, err := d.QueryByText(ctx, gates.UnavailableBanner, pattern)
	if errors.Is(err, driver.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	text, err := el.Text(ctx)
	if err != nil {
		return "", false, err
	}
	return driver.NormalizeSpace(text), true, nil
}

// Fill types value into the element matching selector.
func Fill(ctx context.Context, scope driver.Scope, selector, value string) error {
	el, err := scope.Query(ctx, selector)
	if err != nil {
		return fmt.Errorf("field %s: %w", selector, err)
	}
	return el.Type(ctx, value)
}

// ClickSelector clicks the element matching selector.
func ClickSelector(ctx context.Context, scope driver.Scope, selector string) error {
	el, err := scope.Query(ctx, selector)
	if err != nil {
		return fmt.Errorf("control %s: %w", selector, err)
	}
	return el.Click(ctx)
}

func Bool(v bool) *bool { return &v }
