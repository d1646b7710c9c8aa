package composer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderbot/internal/driver/htmldriver"
	"orderbot/internal/failure"
	"orderbot/internal/menu"
	"orderbot/internal/order"
	"orderbot/internal/settle"
	"orderbot/internal/storefront/levelup"
	"orderbot/internal/storefront/toast"
)

const (
	root    = "https://shop.test/taqueria"
	burrito = root + "/item-burrito"

	chicken   = `div:"Chicken"`
	increment = `[data-testid="increment"]`
	addToCart = `[data-testid="add-to-cart-button"]`
	noteField = `textarea[id="specialInstructions"]`
)

func testPolicy() settle.Policy {
	clock := settle.NewFakeClock(time.Unix(0, 0))
	clock.AutoAdvance = true
	return settle.Policy{Timeout: time.Second, Clock: clock}
}

func intPtr(n int) *int { return &n }

func mainsMenu() *menu.Menu {
	m := &menu.Menu{Categories: []menu.Category{{
		Name: "Mains",
		Items: []menu.Item{{
			Name:   "Burrito",
			Handle: menu.Link(burrito),
			ModifierGroups: []menu.ModifierGroup{{
				Name: "Protein", MinSelections: 1, MaxSelections: intPtr(1),
				Options: []menu.Option{{Name: "Chicken"}, {Name: "Beef"}, {Name: "Steak Asada"}},
			}},
		}},
	}}}
	m.Reindex()
	return m
}

const burritoDetail = `<div id="modal-root">
  <fieldset data-testid="fieldset-group">
    <div data-testid="fieldset-label">Protein</div>
    <span data-testid="fieldset-instructions">Please choose 1</span>
    <div role="group"><div data-testid="modifierDescription"><div>Chicken</div></div></div>
    <div role="group"><div data-testid="modifierDescription"><div>Beef</div></div></div>
    <div role="group"><div data-testid="modifierDescription"><div> Steak
        Asada</div></div></div>
    <div role="group"><div data-testid="modifierDescription"><div>Chorizo</div></div><span>-Out of stock-</span></div>
  </fieldset>
  <fieldset data-testid="fieldset-group">
    <div data-testid="fieldset-label">Special Instructions</div>
    <textarea id="specialInstructions"></textarea>
  </fieldset>
  <button data-testid="increment">+</button>
  <button data-testid="add-to-cart-button">Add to cart</button>
</div>`

func toastComposer(t *testing.T) *Composer {
	t.Helper()
	p := toast.Preset()
	p.URL = root
	a, err := toast.New(p, testPolicy())
	require.NoError(t, err)
	return New(a, nil)
}

func toastPage(body string) (*htmldriver.Site, *htmldriver.Page) {
	site := htmldriver.NewSite().Add(burrito, body)
	return site, site.NewPage()
}

func TestAddToCartScenario(t *testing.T) {
	ctx := context.Background()
	site, page := toastPage(burritoDetail)

	err := toastComposer(t).AddToCart(ctx, page, mainsMenu(), order.Request{
		ItemName:   "Burrito",
		Selections: []order.Selection{{GroupName: "Protein", OptionName: "Chicken"}},
		Quantity:   3,
		Note:       "no onions",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, site.Count(htmldriver.EventNavigate, burrito))
	assert.Equal(t, 1, site.Count(htmldriver.EventClick, chicken))
	assert.Equal(t, 2, site.Count(htmldriver.EventClick, increment))
	assert.Equal(t, "no onions", page.Value(noteField))
	assert.Equal(t, 1, site.Count(htmldriver.EventClick, addToCart))
}

func TestAddToCartOptionNotFound(t *testing.T) {
	ctx := context.Background()
	site, page := toastPage(burritoDetail)

	err := toastComposer(t).AddToCart(ctx, page, mainsMenu(), order.Request{
		ItemName:   "Burrito",
		Selections: []order.Selection{{GroupName: "Protein", OptionName: "Pork"}},
		Quantity:   3,
	})
	require.Error(t, err)
	assert.Equal(t, failure.OptionNotFound, failure.CodeOf(err))
	assert.True(t, errors.Is(err, failure.ErrNotFound))

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "Burrito", fe.Item)
	assert.Equal(t, "Protein", fe.Group)
	assert.Equal(t, "Pork", fe.Option)

	assert.Zero(t, site.Count(htmldriver.EventClick, increment))
	assert.Zero(t, site.Count(htmldriver.EventClick, addToCart))
}

func TestAddToCartUnknownGroup(t *testing.T) {
	ctx := context.Background()
	site, page := toastPage(burritoDetail)

	err := toastComposer(t).AddToCart(ctx, page, mainsMenu(), order.Request{
		ItemName:   "Burrito",
		Selections: []order.Selection{{GroupName: "Protien", OptionName: "Chicken"}},
		Quantity:   1,
	})
	require.Error(t, err)
	assert.Equal(t, failure.OptionNotFound, failure.CodeOf(err))

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "Protien", fe.Group)
	assert.Equal(t, "Protein", fe.Suggestion)

	assert.Zero(t, site.Count(htmldriver.EventClick, chicken))
	assert.Zero(t, site.Count(htmldriver.EventClick, addToCart))
}

func TestAddToCartSoldOutOption(t *testing.T) {
	ctx := context.Background()
	_, page := toastPage(burritoDetail)

	err := toastComposer(t).AddToCart(ctx, page, mainsMenu(), order.Request{
		ItemName:   "Burrito",
		Selections: []order.Selection{{GroupName: "Protein", OptionName: "Chorizo"}},
		Quantity:   1,
	})
	assert.Equal(t, failure.OptionNotFound, failure.CodeOf(err))
}

func TestAddToCartNormalizesWhitespace(t *testing.T) {
	ctx := context.Background()
	site, page := toastPage(burritoDetail)

	err := toastComposer(t).AddToCart(ctx, page, mainsMenu(), order.Request{
		ItemName:   "  Burrito ",
		Selections: []order.Selection{{GroupName: " Protein", OptionName: "Steak   Asada"}},
		Quantity:   1,
		Note:       "extra hot",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, site.Count(htmldriver.EventClick, `div:"Steak Asada"`))
	assert.Zero(t, site.Count(htmldriver.EventClick, increment))
}

func TestAddToCartRejectsBeforeTouchingPage(t *testing.T) {
	tests := []struct {
		name string
		req  order.Request
		code failure.Code
		kind error
	}{
		{"zero quantity", order.Request{ItemName: "Burrito", Quantity: 0}, failure.InvalidQuantity, failure.ErrInvalidInput},
		{"negative quantity", order.Request{ItemName: "Burrito", Quantity: -2}, failure.InvalidQuantity, failure.ErrInvalidInput},
		{"unknown item", order.Request{ItemName: "Burito", Quantity: 1}, failure.ItemNotFound, failure.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site, page := toastPage(burritoDetail)
			err := toastComposer(t).AddToCart(context.Background(), page, mainsMenu(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, failure.CodeOf(err))
			assert.ErrorIs(t, err, tt.kind)
			assert.Zero(t, site.Interactions())
		})
	}
}

func TestAddToCartSuggestsItem(t *testing.T) {
	_, page := toastPage(burritoDetail)
	err := toastComposer(t).AddToCart(context.Background(), page, mainsMenu(), order.Request{ItemName: "Burito", Quantity: 1})
	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "Burrito", fe.Suggestion)
}

func TestAddToCartMissingControls(t *testing.T) {
	tests := []struct {
		name   string
		remove string
		note   string
		code   failure.Code
	}{
		{"no increment", increment, "", failure.QuantityControlMissing},
		{"no note field", "fieldset:last-of-type", "no onions", failure.NoteFieldMissing},
		{"no commit", addToCart, "", failure.CommitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(burritoDetail))
			require.NoError(t, err)
			doc.Find(tt.remove).Remove()
			body, err := doc.Html()
			require.NoError(t, err)

			site, page := toastPage(body)
			err = toastComposer(t).AddToCart(context.Background(), page, mainsMenu(), order.Request{
				ItemName: "Burrito", Quantity: 2, Note: tt.note,
			})
			assert.Equal(t, tt.code, failure.CodeOf(err))
			if tt.code != failure.CommitFailed {
				assert.Zero(t, site.Count(htmldriver.EventClick, addToCart))
			}
		})
	}
}

func TestAddToCartOptionalNoteAndSteppers(t *testing.T) {
	ctx := context.Background()
	const location = "https://lu.test/locations/1"
	site := htmldriver.NewSite().Add(location, `<div><button id="item-9"><div><h4>Latte</h4></div></button></div>`)
	site.OnClick("#item-9", func(p *htmldriver.Page, _ *goquery.Selection) error {
		p.Doc().Find("body").AppendHtml(`<div id="menuItemDetailModal">
		  <div class="lu-collapse-local"><div>
		    <div class="lu-collapse-header" aria-expanded="false"><span class="MenuItemDetail_optionsHeaderTitle">Milk</span></div>
		  </div></div>
		  <div class="MenuItemDetail_info "><div><div><button id="qty-plus" aria-label="Quantity Plus">+</button></div></div></div>
		  <button id="menuItemDetailAddItemButton">Add</button>
		</div>`)
		return nil
	})
	site.OnClick(`div.lu-collapse-header[aria-expanded="false"]`, func(_ *htmldriver.Page, el *goquery.Selection) error {
		el.SetAttr("aria-expanded", "true")
		el.Parent().AppendHtml(`<div class="MenuItemOptionGroup_optionItemWrapper">
		  <div class="MenuItemOptionGroup_optionItem"><span>Oat</span><div><button id="oat-plus" aria-label="Quantity Plus">+</button></div></div>
		</div>`)
		return nil
	})
	page, err := site.Open(ctx, location)
	require.NoError(t, err)

	p := levelup.Preset()
	p.URL = location
	a, err := levelup.New(p, testPolicy())
	require.NoError(t, err)

	m := &menu.Menu{Categories: []menu.Category{{Name: "Coffee", Items: []menu.Item{{
		Name:   "Latte",
		Handle: menu.Trigger("item-9"),
	}}}}}
	err = New(a, nil).AddToCart(ctx, page, m, order.Request{
		ItemName:   "Latte",
		Selections: []order.Selection{{GroupName: "Milk", OptionName: "Oat"}},
		Quantity:   2,
		Note:       "dropped silently",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, site.Count(htmldriver.EventClick, "#oat-plus"))
	assert.Equal(t, 1, site.Count(htmldriver.EventClick, "#qty-plus"))
	assert.Equal(t, 1, site.Count(htmldriver.EventClick, "#menuItemDetailAddItemButton"))
	assert.Zero(t, site.Count(htmldriver.EventClick, `span:"Oat"`))
}
