// Package levelup adapts storefronts whose menu items open a modal detail
// view from an in-page button and that require a signed-in account.
package levelup

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"orderbot/internal/driver"
	"orderbot/internal/menu"
	"orderbot/internal/settle"
	"orderbot/internal/storefront"
)

const Platform = "levelup"

// ErrNoAccount is returned by Authenticate when no credentials are configured.
var ErrNoAccount = errors.New("levelup: account email and password are required")

func init() {
	storefront.Register(Platform, Preset, func(p storefront.Profile, policy settle.Policy) (storefront.Adapter, error) {
		return New(p, policy)
	})
}

// Preset is the stock profile. URL and AuthURL come from configuration.
func Preset() storefront.Profile {
	return storefront.Profile{
		Platform:        Platform,
		ReauthPattern:   `/auth/email`,
		DetailURLMarker: "item",
		NoteRequired:    storefront.Bool(false),
		WaitForGate:     storefront.Bool(true),
		Selectors: storefront.Selectors{
			Menu: storefront.MenuSelectors{
				Ready:           `div.MenuItemListStandard_menuItemList > div`,
				Category:        `div.MenuItemListStandard_local > div`,
				CategoryName:    `h3.MenuCategory_title`,
				Item:            `div.MenuItemListStandard_menuItemList > div`,
				ItemName:        `button > div > h4`,
				ItemDescription: `button > div > div > div.MenuItem_description`,
				ItemPrice:       `button > div > div > p.MenuItem_price`,
				ItemImage:       `img`,
				ItemTrigger:     `button`,
			},
			Detail: storefront.DetailSelectors{
				View:              `#menuItemDetailModal`,
				Close:             `#menuItemDetailCloseButton`,
				Group:             `div.lu-collapse-local > div`,
				GroupLabel:        `span.MenuItemDetail_optionsHeaderTitle`,
				GroupInstructions: `p.MenuItemDetail_optionsHeaderInfo`,
				GroupToggle:       `div.lu-collapse-header`,
				ShowMore:          `button`,
				ShowMoreText:      `Show more`,
				Option:            `div.MenuItemOptionGroup_optionItem`,
				OptionName:        `span`,
				OptionPrice:       `div.MenuItemOptionGroup_optionItemInfoPrice`,
				OptionIncrement:   `button[aria-label="Quantity Plus"]`,
				Increment:         `div[class="MenuItemDetail_info "] > div > div > button[aria-label="Quantity Plus"]`,
				Commit:            `#menuItemDetailAddItemButton`,
			},
			Gates: storefront.GateSelectors{
				FulfillmentSubmit: `div.lu-button-content`,
			},
			Checkout: storefront.CheckoutSelectors{
				Tip:    `input[aria-label="custom amount input"]`,
				Submit: `#orderButtonSubmit`,
			},
			Login: storefront.LoginSelectors{
				Email:    `#checkEmailEmailInput`,
				Next:     `#checkEmailSubmit`,
				Password: `#signInPasswordInput`,
				Submit:   `#signInLogInButton`,
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

// ItemHandle reads the id of the card's trigger button.
func (a *Adapter) ItemHandle(ctx context.Context, card driver.Element) (menu.ActivationHandle, error) {
	btn, err := card.Query(ctx, a.Selectors().Menu.ItemTrigger)
	if err != nil {
		return menu.ActivationHandle{}, fmt.Errorf("levelup: item trigger: %w", err)
	}
	id, ok, err := btn.Attribute(ctx, "id")
	if err != nil {
		return menu.ActivationHandle{}, err
	}
	if !ok || id == "" {
		return menu.ActivationHandle{}, fmt.Errorf("levelup: item trigger has no id")
	}
	return menu.Trigger(id), nil
}

// OpenDetail clicks the trigger on the current page and waits for the modal.
func (a *Adapter) OpenDetail(ctx context.Context, d driver.Driver, h menu.ActivationHandle) (driver.Element, error) {
	if h.Kind != menu.HandleTrigger {
		return nil, fmt.Errorf("levelup: cannot activate %s", h)
	}
	trigger, err := d.Query(ctx, TriggerSelector(h.Value))
	if err != nil {
		return nil, fmt.Errorf("levelup: trigger %s: %w", h.Value, err)
	}
	if err := trigger.Click(ctx); err != nil {
		return nil, err
	}
	return storefront.WaitFor(ctx, a.Policy(), d, a.Selectors().Detail.View)
}

// CloseDetail dismisses the modal and waits until the URL has left the item
// route and the modal is gone.
func (a *Adapter) CloseDetail(ctx context.Context, d driver.Driver) error {
	if err := storefront.ClickSelector(ctx, d, a.Selectors().Detail.Close); err != nil {
		return err
	}
	marker := a.Profile().DetailURLMarker
	view := a.Selectors().Detail.View
	return a.Policy().Poll(ctx, func(ctx context.Context) (bool, error) {
		u, err := d.URL(ctx)
		if err != nil {
			return false, err
		}
		if marker != "" && strings.Contains(u, marker) {
			return false, nil
		}
		open, err := driver.Has(ctx, d, view)
		return !open, err
	})
}

func (a *Adapter) IsolatedDetails() bool { return false }

// Authenticate runs the two-step email then password sign-in.
func (a *Adapter) Authenticate(ctx context.Context, d driver.Driver) error {
	acct := a.Profile().Account
	if acct.Email == "" || acct.Password == "" {
		return ErrNoAccount
	}
	login := a.Selectors().Login
	if err := d.Navigate(ctx, a.Profile().AuthURL); err != nil {
		return fmt.Errorf("levelup: open sign-in: %w", err)
	}
	if err := a.fillWhenReady(ctx, d, login.Email, acct.Email); err != nil {
		return err
	}
	if err := storefront.ClickSelector(ctx, d, login.Next); err != nil {
		return fmt.Errorf("levelup: %w", err)
	}
	if err := a.fillWhenReady(ctx, d, login.Password, acct.Password); err != nil {
		return err
	}
	if err := storefront.ClickSelector(ctx, d, login.Submit); err != nil {
		return fmt.Errorf("levelup: %w", err)
	}
	return storefront.Settle(ctx, a, d, "sign in")
}

func (a *Adapter) fillWhenReady(ctx context.Context, d driver.Driver, selector, value string) error {
	field, err := storefront.WaitFor(ctx, a.Policy(), d, selector)
	if err != nil {
		return fmt.Errorf("levelup: sign-in field %s: %w", selector, err)
	}
	return field.Type(ctx, value)
}

// TriggerSelector addresses an element by id without CSS identifier
// escaping concerns.
func TriggerSelector(id string) string {
	return fmt.Sprintf(`[id=%q]`, id)
}
