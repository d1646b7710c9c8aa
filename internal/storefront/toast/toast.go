// Package toast adapts storefronts whose menu items are links to a
// per-item detail route.
package toast

import (
	"context"
	"fmt"

	"orderbot/internal/driver"
	"orderbot/internal/menu"
	"orderbot/internal/settle"
	"orderbot/internal/storefront"
)

const Platform = "toast"

func init() {
	storefront.Register(Platform, Preset, func(p storefront.Profile, policy settle.Policy) (storefront.Adapter, error) {
		return New(p, policy)
	})
}

// Preset is the stock profile. The URL comes from configuration.
func Preset() storefront.Profile {
	return storefront.Profile{
		Platform:             Platform,
		FulfillmentURLSuffix: "/?mode=fulfillment",
		NoteRequired:         storefront.Bool(true),
		Selectors: storefront.Selectors{
			Menu: storefront.MenuSelectors{
				Category:        `li[data-testid="menu-groups"]`,
				CategoryName:    `h3[data-testid="menu-group-name"]`,
				Item:            `a[data-testid="menu-item-link"]`,
				ItemName:        `span[data-testid="menu-item-name"]`,
				ItemDescription: `p[data-testid="menu-item-description"]`,
				ItemPrice:       `span[data-testid="menu-item-price"] > span`,
				ItemOutOfStock:  `span[data-testid="menu-item-out-of-stock-label"]`,
			},
			Detail: storefront.DetailSelectors{
				View:              `div[id="modal-root"]`,
				Image:             `div[data-testid="modifier-image-url"]`,
				Group:             `fieldset[data-testid="fieldset-group"]`,
				GroupSkip:         `textarea[id="specialInstructions"]`,
				GroupLabel:        `div[data-testid="fieldset-label"]`,
				GroupInstructions: `span[data-testid="fieldset-instructions"]`,
				Option:            `div[role="group"]`,
				OptionName:        `div[data-testid="modifierDescription"] > div`,
				OptionPrice:       `span[data-testid="modifiers-price"] > span`,
				OptionSoldOutText: `^-Out of stock-$`,
				Increment:         `button[data-testid="increment"]`,
				Note:              `textarea[id="specialInstructions"]`,
				Commit:            `button[data-testid="add-to-cart-button"]`,
			},
			Gates: storefront.GateSelectors{
				FulfillmentSubmit: `button[data-testid="fulfillment-selector-submit"]`,
				UnavailableBanner: `span`,
				UnavailableText:   `^Online Ordering (Unavailable|Closed)$`,
			},
			Checkout: storefront.CheckoutSelectors{
				Path:           "checkout",
				FirstName:      `#customer_first_name`,
				LastName:       `#customer_last_name`,
				Email:          `#customer_email`,
				Phone:          `#customer_tel`,
				PaymentFrame:   `iframe[data-testid="credit-card-iframe"]`,
				CardNumber:     `#credit_card_number`,
				CardExpiry:     `#credit_card_exp`,
				CardCVC:        `#credit_card_cvv`,
				CardPostalCode: `#credit_card_zip`,
				Tip:            `#payment_tip`,
				Submit:         `#submit-button`,
			},
		},
	}
}

type Adapter struct {
	storefront.Base
}

var _ storefront.Adapter = (*Adapter)(nil)

func New(p storefront.Profile, policy settle.Policy) (*Adapter, error) {
	base, err := storefront.NewBase(p, policy)
	if err != nil {
		return nil, err
	}
	return &Adapter{Base: base}, nil
}

// ItemHandle reads the card's link target.
func (a *Adapter) ItemHandle(ctx context.Context, card driver.Element) (menu.ActivationHandle, error) {
	href, ok, err := card.Attribute(ctx, "href")
	if err != nil {
		return menu.ActivationHandle{}, err
	}
	if !ok || href == "" {
		return menu.ActivationHandle{}, fmt.Errorf("toast: item card has no href")
	}
	abs, err := a.Resolve(href)
	if err != nil {
		return menu.ActivationHandle{}, err
	}
	return menu.Link(abs), nil
}

// OpenDetail navigates to the item route. When the storefront bounces to
// the fulfillment-time interstitial it is dismissed and the route is
// visited again.
func (a *Adapter) OpenDetail(ctx context.Context, d driver.Driver, h menu.ActivationHandle) (driver.Element, error) {
	if h.Kind != menu.HandleLink {
		return nil, fmt.Errorf("toast: cannot activate %s", h)
	}
	if err := a.visit(ctx, d, h.Value); err != nil {
		return nil, err
	}
	passed, err := storefront.PassGate(ctx, a, d)
	if err != nil {
		return nil, err
	}
	if passed {
		if err := a.visit(ctx, d, h.Value); err != nil {
			return nil, err
		}
	}
	return storefront.WaitFor(ctx, a.Policy(), d, a.Selectors().Detail.View)
}

// CloseDetail is a no-op: the next activation navigates away.
func (a *Adapter) CloseDetail(context.Context, driver.Driver) error { return nil }

func (a *Adapter) IsolatedDetails() bool { return true }

func (a *Adapter) Authenticate(context.Context, driver.Driver) error {
	return fmt.Errorf("toast: storefront %s has no login flow", a.Name())
}

func (a *Adapter) visit(ctx context.Context, d driver.Driver, u string) error {
	if err := d.Navigate(ctx, u); err != nil {
		return fmt.Errorf("navigate %s: %w", u, err)
	}
	return storefront.Settle(ctx, a, d, "open "+u)
}
